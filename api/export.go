/*
export.go - CSV exports for bookkeeping

PURPOSE:
  Streams users, purchases, and payments as CSV so the ledger can be
  pulled into a spreadsheet or handed to an accountant. Purchase and
  payment exports respect the same query filters as the JSON listings
  (user, from, to); the user export adds derived balance columns.

FORMAT:
  RFC 4180 via encoding/csv. Money columns carry decimal strings.

SEE ALSO:
  - handlers.go: JSON counterparts of these listings
*/
package api

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/warp/bartab/billing"
)

// ExportUsers streams all users with their derived balance and unbilled
// sums. The balance columns require one invoice-history read per user,
// acceptable at the member counts this serves.
// GET /api/admin/export/users
func (h *Handler) ExportUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := h.svc.Store()

	users, err := st.ListUsers(ctx, billing.UserFilter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}

	csvHeader(w, "users")
	cw := csv.NewWriter(w)
	cw.Write([]string{"id", "display_name", "email", "pays_themselves",
		"active", "balance", "unbilled_purchases", "unbilled_payments"})

	for i := range users {
		u := &users[i]

		invoices, err := st.InvoicesByRecipient(ctx, u.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load invoice history", err)
			return
		}
		unbilledPurchases, err := st.UnbilledPurchasesByUser(ctx, u.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load unbilled purchases", err)
			return
		}
		unbilledPayments, err := st.UnbilledPaymentsByUser(ctx, u.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load unbilled payments", err)
			return
		}

		cw.Write([]string{
			string(u.ID),
			u.DisplayName,
			u.Email,
			strconv.FormatBool(u.SelfPays()),
			strconv.FormatBool(u.IsActive),
			billing.AccountBalance(invoices).String(),
			billing.RoundMoney(billing.SumCost(unbilledPurchases)).String(),
			billing.RoundMoney(billing.SumAmount(unbilledPayments)).String(),
		})
	}
	cw.Flush()
}

// ExportPurchases streams purchases as CSV.
// GET /api/admin/export/purchases?user=&from=&to=
func (h *Handler) ExportPurchases(w http.ResponseWriter, r *http.Request) {
	filter := billing.PurchaseFilter{
		UserID: billing.UserID(r.URL.Query().Get("user")),
		From:   queryTime(r, "from"),
		To:     queryTime(r, "to"),
	}

	purchases, err := h.svc.Store().ListPurchases(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list purchases", err)
		return
	}

	csvHeader(w, "purchases")
	cw := csv.NewWriter(w)
	cw.Write([]string{"id", "user_id", "created_at", "category", "product",
		"amount", "quantity", "unit_price", "cost", "invoice_id", "comment"})

	for i := range purchases {
		p := &purchases[i]
		invoiceID := ""
		if p.InvoiceID != nil {
			invoiceID = string(*p.InvoiceID)
		}
		cw.Write([]string{
			string(p.ID),
			string(p.UserID),
			p.CreatedAt.UTC().Format(time.RFC3339),
			p.CategoryName,
			p.ProductName,
			p.ProductAmount,
			strconv.Itoa(p.Quantity),
			p.ProductPrice.String(),
			p.Cost().String(),
			invoiceID,
			p.Comment,
		})
	}
	cw.Flush()
}

// ExportPayments streams payments as CSV.
// GET /api/admin/export/payments?user=&from=&to=
func (h *Handler) ExportPayments(w http.ResponseWriter, r *http.Request) {
	filter := billing.PaymentFilter{
		UserID: billing.UserID(r.URL.Query().Get("user")),
		From:   queryTime(r, "from"),
		To:     queryTime(r, "to"),
	}

	payments, err := h.svc.Store().ListPayments(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}

	csvHeader(w, "payments")
	cw := csv.NewWriter(w)
	cw.Write([]string{"id", "user_id", "created_at", "value_date", "amount",
		"method", "invoice_id", "comment"})

	for i := range payments {
		p := &payments[i]
		invoiceID := ""
		if p.InvoiceID != nil {
			invoiceID = string(*p.InvoiceID)
		}
		cw.Write([]string{
			string(p.ID),
			string(p.UserID),
			p.CreatedAt.UTC().Format(time.RFC3339),
			p.ValueDate.UTC().Format(time.RFC3339),
			p.Amount.String(),
			string(p.Method),
			invoiceID,
			p.Comment,
		})
	}
	cw.Flush()
}

func csvHeader(w http.ResponseWriter, name string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.csv"`)
}
