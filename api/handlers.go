/*
handlers.go - HTTP API handlers for the bar billing system

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Users:
    GET    /api/users                   List users (filter: active, buyer, favorite)
    POST   /api/users                   Create user
    GET    /api/users/{id}              Get user details
    PUT    /api/users/{id}             Update user fields
    PUT    /api/users/{id}/payer        Set or clear payer
    GET    /api/users/{id}/balance      Derived account balance
    GET    /api/users/{id}/topay        Unbilled purchases the user will pay
    GET    /api/users/{id}/can-purchase Purchase gate check
    GET    /api/users/{id}/invoices     Invoice history
    GET    /api/users/{id}/purchases    Purchase history
    GET    /api/users/{id}/payments     Payment history

  Catalog:
    GET/POST /api/categories            List / create categories
    DELETE   /api/categories/{id}       Delete empty category
    GET/POST /api/products              List / save products
    POST     /api/products/batch        Batch price/flag update
    GET/POST /api/freeitems             List / create free items
    POST     /api/freeitems/{id}/purchase  Claim a free item
    POST     /api/giveaway              Buy a round for the house

  Ledger:
    POST   /api/purchases               Record purchase
    DELETE /api/purchases/{id}          Delete unbilled purchase
    POST   /api/payments                Record payment (admin)
    DELETE /api/payments/{id}           Delete unbilled payment
    POST   /api/invoices/run            Batch invoice generation
    GET    /api/invoices/{id}           Invoice with line items
    DELETE /api/invoices/{id}           Delete invoice, detach lines

  Admin:
    POST   /api/admin/reminders         Payment reminders for debtors
    POST   /api/admin/payments/backfill One-time payment invoice backfill
    GET    /api/admin/export/users      CSV export with balances
    GET    /api/admin/export/purchases  CSV export
    GET    /api/admin/export/payments   CSV export
    POST   /api/admin/seed              Load demo data (dev only)

  Stats:
    GET    /api/stats/top-users         By quantity or cost
    GET    /api/stats/top-products
    GET    /api/stats/top-categories

ERROR HANDLING:
  Domain errors map to HTTP status via their sentinel chains:
  - 400: validation, payer/state violations
  - 404: not found
  - 409: immutable record mutations
  - 500: persistence and unknown errors

SECURITY NOTE:
  No authentication middleware. Deploy behind a trusted network or add
  an auth layer in front.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/bartab/billing"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	svc      *billing.Service
	invoicer *billing.Invoicer
	log      *slog.Logger
	validate *validator.Validate
}

// NewHandler creates a handler around the billing service and invoicer.
func NewHandler(svc *billing.Service, invoicer *billing.Invoicer, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		svc:      svc,
		invoicer: invoicer,
		log:      log,
		validate: validator.New(),
	}
}

// decode parses and validates a JSON request body.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return h.validate.Struct(dst)
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns users, optionally filtered by active/buyer/favorite.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	filter := billing.UserFilter{
		IsActive:   queryBool(r, "active"),
		IsBuyer:    queryBool(r, "buyer"),
		IsFavorite: queryBool(r, "favorite"),
	}

	users, err := h.svc.Store().ListUsers(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i := range users {
		dtos[i] = toUserDTO(&users[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser creates a new user account.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	u := billing.User{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		IsActive:    true,
		IsBuyer:     true,
		IsFavorite:  req.IsFavorite,
		IsAdmin:     req.IsAdmin,
	}
	if req.IsActive != nil {
		u.IsActive = *req.IsActive
	}
	if req.IsBuyer != nil {
		u.IsBuyer = *req.IsBuyer
	}
	if req.PaidBy != nil {
		id := billing.UserID(*req.PaidBy)
		u.PaidBy = &id
	}

	created, err := h.svc.CreateUser(r.Context(), u)
	if err != nil {
		h.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(created))
}

// GetUser returns a single user.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := billing.UserID(chi.URLParam(r, "id"))

	u, err := h.svc.Store().GetUser(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get user", err)
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "User not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

// UpdateUser applies a partial update to user fields.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id := billing.UserID(chi.URLParam(r, "id"))

	var req UpdateUserRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	u, err := h.svc.Store().GetUser(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get user", err)
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "User not found", nil)
		return
	}

	if req.Email != nil {
		u.Email = *req.Email
	}
	if req.DisplayName != nil {
		u.DisplayName = *req.DisplayName
	}
	if req.IsActive != nil {
		u.IsActive = *req.IsActive
	}
	if req.IsBuyer != nil {
		u.IsBuyer = *req.IsBuyer
	}
	if req.IsFavorite != nil {
		u.IsFavorite = *req.IsFavorite
	}
	if req.IsAdmin != nil {
		u.IsAdmin = *req.IsAdmin
	}

	if err := h.svc.UpdateUser(r.Context(), *u); err != nil {
		h.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

// SetPayer switches a user between self-paying and dependent.
func (h *Handler) SetPayer(w http.ResponseWriter, r *http.Request) {
	id := billing.UserID(chi.URLParam(r, "id"))

	var req SetPayerRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var payer *billing.UserID
	if req.PayerID != nil {
		p := billing.UserID(*req.PayerID)
		payer = &p
	}

	if err := h.svc.SetPayer(r.Context(), id, payer); err != nil {
		h.domainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBalance returns the derived account balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := billing.UserID(chi.URLParam(r, "id"))

	balance, err := h.svc.AccountBalance(r.Context(), id)
	if err != nil {
		h.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{UserID: string(id), Balance: balance.String()})
}

// GetToPay returns the unbilled purchases the user will ultimately pay.
func (h *Handler) GetToPay(w http.ResponseWriter, r *http.Request) {
	id := billing.UserID(chi.URLParam(r, "id"))

	purchases, err := h.svc.ToPayBy(r.Context(), id)
	if err != nil {
		h.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseDTOs(purchases))
}

// CanPurchase reports whether purchasing is currently allowed for a user.
func (h *Handler) CanPurchase(w http.ResponseWriter, r *http.Request) {
	id := billing.UserID(chi.URLParam(r, "id"))

	type result struct {
		Allowed bool   `json:"allowed"`
		Reason  string `json:"reason,omitempty"`
	}

	if err := h.svc.CanPurchase(r.Context(), id); err != nil {
		if billing.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "User not found", nil)
			return
		}
		if billing.IsClientError(err) {
			writeJSON(w, http.StatusOK, result{Allowed: false, Reason: err.Error()})
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to check purchase gate", err)
		return
	}
	writeJSON(w, http.StatusOK, result{Allowed: true})
}

// ListUserInvoices returns a user's invoice history, newest last.
func (h *Handler) ListUserInvoices(w http.ResponseWriter, r *http.Request) {
	id := billing.UserID(chi.URLParam(r, "id"))

	invoices, err := h.svc.Store().InvoicesByRecipient(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list invoices", err)
		return
	}

	dtos := make([]InvoiceDTO, len(invoices))
	for i := range invoices {
		dtos[i] = toInvoiceDTO(&invoices[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListUserPurchases returns a user's purchases, optionally bounded by
// from/to timestamps.
func (h *Handler) ListUserPurchases(w http.ResponseWriter, r *http.Request) {
	filter := billing.PurchaseFilter{
		UserID: billing.UserID(chi.URLParam(r, "id")),
		From:   queryTime(r, "from"),
		To:     queryTime(r, "to"),
	}

	purchases, err := h.svc.Store().ListPurchases(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list purchases", err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseDTOs(purchases))
}

// ListUserPayments returns a user's payments.
func (h *Handler) ListUserPayments(w http.ResponseWriter, r *http.Request) {
	filter := billing.PaymentFilter{
		UserID: billing.UserID(chi.URLParam(r, "id")),
		From:   queryTime(r, "from"),
		To:     queryTime(r, "to"),
	}

	payments, err := h.svc.Store().ListPayments(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListCategories returns all categories.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.svc.Store().ListCategories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list categories", err)
		return
	}

	dtos := make([]CategoryDTO, len(categories))
	for i, c := range categories {
		dtos[i] = CategoryDTO{ID: string(c.ID), Name: c.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCategory creates a category.
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	c, err := h.svc.CreateCategory(r.Context(), req.Name)
	if err != nil {
		h.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CategoryDTO{ID: string(c.ID), Name: c.Name})
}

// DeleteCategory removes a category; fails while products still use it.
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id := billing.CategoryID(chi.URLParam(r, "id"))

	if err := h.svc.DeleteCategory(r.Context(), id); err != nil {
		h.domainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListProducts returns products, optionally filtered by category and
// active flag.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	filter := billing.ProductFilter{
		CategoryID: billing.CategoryID(r.URL.Query().Get("category")),
		ActiveOnly: r.URL.Query().Get("active") == "true",
	}

	products, err := h.svc.Store().ListProducts(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i := range products {
		dtos[i] = toProductDTO(&products[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveProduct creates or updates a product.
func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	var req SaveProductRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	price, err := billing.ParseMoney(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid price", err)
		return
	}

	p := billing.Product{
		ID:         billing.ProductID(req.ID),
		Name:       req.Name,
		Price:      price,
		Amount:     req.Amount,
		CategoryID: billing.CategoryID(req.CategoryID),
		IsActive:   true,
		IsBold:     req.IsBold,
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}

	saved, err := h.svc.SaveProduct(r.Context(), p)
	if err != nil {
		h.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(saved))
}

// BatchUpdateProducts applies one change set to many products atomically.
func (h *Handler) BatchUpdateProducts(w http.ResponseWriter, r *http.Request) {
	var req BatchUpdateProductsRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var change billing.ProductChange
	if req.Price != nil {
		price, err := billing.ParseMoney(*req.Price)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid price", err)
			return
		}
		change.Price = &price
	}
	change.IsActive = req.IsActive
	change.IsBold = req.IsBold

	ids := make([]billing.ProductID, len(req.ProductIDs))
	for i, id := range req.ProductIDs {
		ids[i] = billing.ProductID(id)
	}

	if err := h.svc.BatchUpdateProducts(r.Context(), ids, change); err != nil {
		h.domainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListFreeItems returns free items; ?purchasable=true narrows to claimable
// ones.
func (h *Handler) ListFreeItems(w http.ResponseWriter, r *http.Request) {
	purchasableOnly := r.URL.Query().Get("purchasable") == "true"

	items, err := h.svc.Store().ListFreeItems(r.Context(), purchasableOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list free items", err)
		return
	}

	dtos := make([]FreeItemDTO, len(items))
	for i := range items {
		dtos[i] = toFreeItemDTO(&items[i])
		if p, err := h.svc.Store().GetProduct(r.Context(), items[i].ProductID); err == nil && p != nil {
			dtos[i].ProductName = p.Name
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateFreeItem opens sponsored stock for claiming.
func (h *Handler) CreateFreeItem(w http.ResponseWriter, r *http.Request) {
	var req CreateFreeItemRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	fi, err := h.svc.CreateFreeItem(r.Context(),
		billing.ProductID(req.ProductID), req.Leftover, req.Purchasable, req.Comment)
	if err != nil {
		h.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFreeItemDTO(fi))
}

// PurchaseFreeItem claims quantity from a free item at zero cost.
func (h *Handler) PurchaseFreeItem(w http.ResponseWriter, r *http.Request) {
	id := billing.FreeItemID(chi.URLParam(r, "id"))

	var req FreeItemPurchaseRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.svc.RecordFreeItemPurchase(r.Context(),
		billing.UserID(req.UserID), id, req.Quantity, req.Comment)
	if err != nil {
		h.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseDTO(p))
}

// GiveAway records a paid purchase for the giver and opens the bought
// quantity as a claimable free item.
func (h *Handler) GiveAway(w http.ResponseWriter, r *http.Request) {
	var req GiveAwayRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	purchase, freeItem, err := h.svc.GiveAway(r.Context(),
		billing.UserID(req.GiverID), billing.ProductID(req.ProductID),
		req.Quantity, req.Comment)
	if err != nil {
		h.domainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Purchase PurchaseDTO `json:"purchase"`
		FreeItem FreeItemDTO `json:"free_item"`
	}{toPurchaseDTO(purchase), toFreeItemDTO(freeItem)})
}

// =============================================================================
// PURCHASE AND PAYMENT HANDLERS
// =============================================================================

// CreatePurchase records a purchase with snapshotted product fields.
func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req CreatePurchaseRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.svc.RecordPurchase(r.Context(),
		billing.UserID(req.UserID), billing.ProductID(req.ProductID),
		req.Quantity, req.Comment)
	if err != nil {
		h.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseDTO(p))
}

// UpdatePurchase edits the quantity and comment of an unbilled purchase.
func (h *Handler) UpdatePurchase(w http.ResponseWriter, r *http.Request) {
	id := billing.PurchaseID(chi.URLParam(r, "id"))

	var req UpdatePurchaseRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.svc.UpdatePurchase(r.Context(), id, req.Quantity, req.Comment)
	if err != nil {
		h.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseDTO(p))
}

// DeletePurchase removes an unbilled purchase.
func (h *Handler) DeletePurchase(w http.ResponseWriter, r *http.Request) {
	id := billing.PurchaseID(chi.URLParam(r, "id"))

	if err := h.svc.DeletePurchase(r.Context(), id); err != nil {
		h.domainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreatePayment records a payment against a self-paying user's account.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := billing.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	var valueDate time.Time
	if req.ValueDate != "" {
		valueDate, err = time.Parse(time.RFC3339, req.ValueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid value_date (use RFC3339)", err)
			return
		}
	}

	p, err := h.svc.RecordPayment(r.Context(),
		billing.UserID(req.UserID), amount,
		billing.PaymentMethod(req.Method), req.Comment, valueDate)
	if err != nil {
		h.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

// UpdatePayment edits an unbilled payment.
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	id := billing.PaymentID(chi.URLParam(r, "id"))

	var req UpdatePaymentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := billing.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	var valueDate time.Time
	if req.ValueDate != "" {
		valueDate, err = time.Parse(time.RFC3339, req.ValueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid value_date (use RFC3339)", err)
			return
		}
	}

	p, err := h.svc.UpdatePayment(r.Context(), id, amount,
		billing.PaymentMethod(req.Method), req.Comment, valueDate)
	if err != nil {
		h.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// DeletePayment removes an unbilled payment.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id := billing.PaymentID(chi.URLParam(r, "id"))

	if err := h.svc.DeletePayment(r.Context(), id); err != nil {
		h.domainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// RunBilling generates one invoice per requested user. Per-user failures
// are reported in the summary, not as a request failure.
func (h *Handler) RunBilling(w http.ResponseWriter, r *http.Request) {
	var req RunBillingRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ids := make([]billing.UserID, len(req.UserIDs))
	for i, id := range req.UserIDs {
		ids[i] = billing.UserID(id)
	}

	summary := h.invoicer.RunBilling(r.Context(), ids, req.Comment)
	writeJSON(w, http.StatusOK, toBillingSummaryDTO(summary))
}

// GetInvoice returns an invoice with its bundled purchases and payments.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))
	ctx := r.Context()

	inv, err := h.svc.Store().GetInvoice(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get invoice", err)
		return
	}
	if inv == nil {
		writeError(w, http.StatusNotFound, "Invoice not found", nil)
		return
	}

	purchases, err := h.svc.Store().PurchasesByInvoice(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load invoice purchases", err)
		return
	}
	payments, err := h.svc.Store().PaymentsByInvoice(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load invoice payments", err)
		return
	}

	writeJSON(w, http.StatusOK, InvoiceDetailDTO{
		InvoiceDTO: toInvoiceDTO(inv),
		Purchases:  toPurchaseDTOs(purchases),
		Payments:   toPaymentDTOs(payments),
	})
}

// DeleteInvoice removes an invoice and returns its line items to the
// unbilled pool.
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	if err := h.invoicer.DeleteInvoice(r.Context(), id); err != nil {
		h.domainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// SendReminders notifies active self-paying debtors.
func (h *Handler) SendReminders(w http.ResponseWriter, r *http.Request) {
	summary, err := h.invoicer.SendReminders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to send reminders", err)
		return
	}
	writeJSON(w, http.StatusOK, NotifySummaryDTO{
		Sent:             summary.Sent,
		Failed:           summary.Failed,
		FailedRecipients: summary.FailedRecipients,
	})
}

// BackfillPaymentInvoices bundles every unbilled payment into fresh
// payment-only invoices. One-time import helper.
func (h *Handler) BackfillPaymentInvoices(w http.ResponseWriter, r *http.Request) {
	created, err := h.invoicer.BackfillPaymentInvoices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to backfill payment invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		InvoicesCreated int `json:"invoices_created"`
	}{created})
}

// =============================================================================
// STATS HANDLERS
// =============================================================================

// TopUsers ranks users by purchase quantity (default) or cost
// (?metric=cost) over an optional time window.
func (h *Handler) TopUsers(w http.ResponseWriter, r *http.Request) {
	filter := statsFilter(r)
	limit := queryInt(r, "limit", 5)

	if r.URL.Query().Get("metric") == "cost" {
		stats, err := h.svc.StatsCostByUser(r.Context(), filter, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to compute stats", err)
			return
		}
		dtos := make([]UserCostStatDTO, len(stats))
		for i, s := range stats {
			dtos[i] = UserCostStatDTO{
				UserID:      string(s.UserID),
				DisplayName: s.DisplayName,
				TotalCost:   s.TotalCost.String(),
			}
		}
		writeJSON(w, http.StatusOK, dtos)
		return
	}

	stats, err := h.svc.StatsPurchasesByUser(r.Context(), filter, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute stats", err)
		return
	}
	dtos := make([]UserQuantityStatDTO, len(stats))
	for i, s := range stats {
		dtos[i] = UserQuantityStatDTO{
			UserID:        string(s.UserID),
			DisplayName:   s.DisplayName,
			TotalQuantity: s.TotalQuantity,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TopProducts ranks products by quantity sold.
func (h *Handler) TopProducts(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.StatsProducts(r.Context(), statsFilter(r), queryInt(r, "limit", 5))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute stats", err)
		return
	}
	dtos := make([]ProductStatDTO, len(stats))
	for i, s := range stats {
		dtos[i] = ProductStatDTO{
			ProductName:   s.ProductName,
			ProductAmount: s.ProductAmount,
			TotalQuantity: s.TotalQuantity,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TopCategories ranks categories by quantity sold.
func (h *Handler) TopCategories(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.StatsCategories(r.Context(), statsFilter(r), queryInt(r, "limit", 5))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute stats", err)
		return
	}
	dtos := make([]CategoryStatDTO, len(stats))
	for i, s := range stats {
		dtos[i] = CategoryStatDTO{
			CategoryName:  s.CategoryName,
			TotalQuantity: s.TotalQuantity,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func statsFilter(r *http.Request) billing.PurchaseFilter {
	return billing.PurchaseFilter{
		From:         queryTime(r, "from"),
		To:           queryTime(r, "to"),
		CategoryName: r.URL.Query().Get("category"),
		ProductName:  r.URL.Query().Get("product"),
	}
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// domainError maps billing errors onto HTTP statuses.
func (h *Handler) domainError(w http.ResponseWriter, err error) {
	switch {
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, billing.ErrImmutableRecord):
		writeError(w, http.StatusConflict, "Record is billed and immutable", err)
	case billing.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		h.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func queryBool(r *http.Request, name string) *bool {
	switch r.URL.Query().Get(name) {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	default:
		return nil
	}
}

func queryInt(r *http.Request, name string, def int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func queryTime(r *http.Request, name string) time.Time {
	if raw := r.URL.Query().Get(name); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
