package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bartab/api"
	"github.com/warp/bartab/billing"
	"github.com/warp/bartab/billing/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mem := store.NewMemory()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := billing.AutolockPolicy{
		LockBelow:   billing.MustMoney("-100"),
		UnlockAbove: billing.MustMoney("-50"),
	}
	svc := billing.NewService(mem, log)
	invoicer := billing.NewInvoicer(mem, nil, policy, log)
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(svc, invoicer, log)))
	t.Cleanup(srv.Close)
	return srv
}

// doJSON sends a request with a JSON body and decodes the JSON response
// into out (skipped when out is nil).
func doJSON(t *testing.T, srv *httptest.Server, method, path string, body, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// seedShop creates a category, a product, and a user; returns their IDs.
func seedShop(t *testing.T, srv *httptest.Server) (productID, userID string) {
	t.Helper()

	var cat api.CategoryDTO
	code := doJSON(t, srv, http.MethodPost, "/api/categories",
		map[string]string{"name": "Beer"}, &cat)
	require.Equal(t, http.StatusCreated, code)

	var prod api.ProductDTO
	code = doJSON(t, srv, http.MethodPost, "/api/products", map[string]any{
		"name":        "Lager",
		"price":       "1.05",
		"amount":      "0.5l",
		"category_id": cat.ID,
	}, &prod)
	require.Equal(t, http.StatusCreated, code)

	var user api.UserDTO
	code = doJSON(t, srv, http.MethodPost, "/api/users", map[string]any{
		"email":        "alice@example.com",
		"display_name": "Alice",
	}, &user)
	require.Equal(t, http.StatusCreated, code)

	return prod.ID, user.ID
}

// =============================================================================
// FULL CYCLE
// =============================================================================

func TestAPI_PurchaseToInvoiceCycle(t *testing.T) {
	// GIVEN: Alice and a catalog
	// WHEN: She buys two lagers, a billing run fires, and the invoice is
	//       fetched and finally deleted
	// THEN: Every intermediate balance and document matches

	srv := newTestServer(t)
	productID, userID := seedShop(t, srv)

	var p api.PurchaseDTO
	code := doJSON(t, srv, http.MethodPost, "/api/purchases", map[string]any{
		"user_id":    userID,
		"product_id": productID,
		"quantity":   2,
	}, &p)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "2.1", p.Cost)
	assert.Equal(t, "Lager", p.ProductName)
	assert.Empty(t, p.InvoiceID)

	// Unbilled rows do not move the balance.
	var bal api.BalanceDTO
	code = doJSON(t, srv, http.MethodGet, "/api/users/"+userID+"/balance", nil, &bal)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0", bal.Balance)

	var summary api.BillingSummaryDTO
	code = doJSON(t, srv, http.MethodPost, "/api/invoices/run", map[string]any{
		"user_ids": []string{userID},
		"comment":  "month end",
	}, &summary)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, summary.Invoiced)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, summary.Outcomes, 1)
	require.NotNil(t, summary.Outcomes[0].Invoice)
	invoiceID := summary.Outcomes[0].Invoice.ID
	assert.Equal(t, "2.1", summary.Outcomes[0].Invoice.Due)

	code = doJSON(t, srv, http.MethodGet, "/api/users/"+userID+"/balance", nil, &bal)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "-2.1", bal.Balance)

	var detail api.InvoiceDetailDTO
	code = doJSON(t, srv, http.MethodGet, "/api/invoices/"+invoiceID, nil, &detail)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "month end", detail.Comment)
	require.Len(t, detail.Purchases, 1)
	assert.Equal(t, invoiceID, detail.Purchases[0].InvoiceID)

	// Deleting the invoice returns the rows to unbilled and zeroes the
	// balance again.
	code = doJSON(t, srv, http.MethodDelete, "/api/invoices/"+invoiceID, nil, nil)
	require.Equal(t, http.StatusNoContent, code)

	code = doJSON(t, srv, http.MethodGet, "/api/users/"+userID+"/balance", nil, &bal)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0", bal.Balance)
}

func TestAPI_PaymentCycle(t *testing.T) {
	srv := newTestServer(t)
	_, userID := seedShop(t, srv)

	var pay api.PaymentDTO
	code := doJSON(t, srv, http.MethodPost, "/api/payments", map[string]any{
		"user_id": userID,
		"amount":  "20.00",
		"method":  "bank",
	}, &pay)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "20", pay.Amount)
	assert.Equal(t, "bank", pay.Method)
	assert.NotEmpty(t, pay.ValueDate)

	var summary api.BillingSummaryDTO
	code = doJSON(t, srv, http.MethodPost, "/api/invoices/run", map[string]any{
		"user_ids": []string{userID},
	}, &summary)
	require.Equal(t, http.StatusOK, code)

	// The payment puts Alice in credit.
	var bal api.BalanceDTO
	code = doJSON(t, srv, http.MethodGet, "/api/users/"+userID+"/balance", nil, &bal)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "20", bal.Balance)
}

// =============================================================================
// PAYER LINKS
// =============================================================================

func TestAPI_SetPayerAndDependentRejections(t *testing.T) {
	srv := newTestServer(t)
	productID, bobID := seedShop(t, srv)

	var carol api.UserDTO
	code := doJSON(t, srv, http.MethodPost, "/api/users", map[string]any{
		"email":        "carol@example.com",
		"display_name": "Carol",
	}, &carol)
	require.Equal(t, http.StatusCreated, code)

	code = doJSON(t, srv, http.MethodPut, "/api/users/"+carol.ID+"/payer",
		map[string]any{"payer_id": bobID}, nil)
	require.Equal(t, http.StatusNoContent, code)

	// Dependents cannot pay in.
	code = doJSON(t, srv, http.MethodPost, "/api/payments", map[string]any{
		"user_id": carol.ID, "amount": "5.00", "method": "cash",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	// Dependents cannot be invoiced, but the run reports instead of failing.
	var summary api.BillingSummaryDTO
	code = doJSON(t, srv, http.MethodPost, "/api/invoices/run", map[string]any{
		"user_ids": []string{carol.ID},
	}, &summary)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Outcomes, 1)
	assert.NotEmpty(t, summary.Outcomes[0].Error)

	// Carol's purchases land on Bob's invoice.
	code = doJSON(t, srv, http.MethodPost, "/api/purchases", map[string]any{
		"user_id": carol.ID, "product_id": productID, "quantity": 3,
	}, nil)
	require.Equal(t, http.StatusCreated, code)

	code = doJSON(t, srv, http.MethodPost, "/api/invoices/run", map[string]any{
		"user_ids": []string{bobID},
	}, &summary)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, summary.Outcomes, 1)
	require.NotNil(t, summary.Outcomes[0].Invoice)
	assert.Equal(t, "3.15", summary.Outcomes[0].Invoice.AmountPurchases)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_ErrorStatuses(t *testing.T) {
	srv := newTestServer(t)
	productID, userID := seedShop(t, srv)

	// Unknown user -> 404.
	code := doJSON(t, srv, http.MethodGet, "/api/users/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)

	// Validation failure -> 400.
	code = doJSON(t, srv, http.MethodPost, "/api/users",
		map[string]any{"email": "not-an-email", "display_name": "X"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	// Missing required quantity -> 400.
	code = doJSON(t, srv, http.MethodPost, "/api/purchases",
		map[string]any{"user_id": userID, "product_id": productID}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	// Deleting a billed purchase -> 409.
	var p api.PurchaseDTO
	code = doJSON(t, srv, http.MethodPost, "/api/purchases", map[string]any{
		"user_id": userID, "product_id": productID, "quantity": 1,
	}, &p)
	require.Equal(t, http.StatusCreated, code)
	code = doJSON(t, srv, http.MethodPost, "/api/invoices/run",
		map[string]any{"user_ids": []string{userID}}, nil)
	require.Equal(t, http.StatusOK, code)

	code = doJSON(t, srv, http.MethodDelete, "/api/purchases/"+p.ID, nil, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestAPI_UpdatePurchaseAndPayment(t *testing.T) {
	// GIVEN: An open purchase and an open payment
	// WHEN: Both are edited, then the purchase is billed and edited again
	// THEN: Open rows change, billed rows answer 409

	srv := newTestServer(t)
	productID, userID := seedShop(t, srv)

	var p api.PurchaseDTO
	code := doJSON(t, srv, http.MethodPost, "/api/purchases", map[string]any{
		"user_id": userID, "product_id": productID, "quantity": 1,
	}, &p)
	require.Equal(t, http.StatusCreated, code)

	code = doJSON(t, srv, http.MethodPut, "/api/purchases/"+p.ID,
		map[string]any{"quantity": 3, "comment": "miscounted"}, &p)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, p.Quantity)
	assert.Equal(t, "3.15", p.Cost)

	var pay api.PaymentDTO
	code = doJSON(t, srv, http.MethodPost, "/api/payments", map[string]any{
		"user_id": userID, "amount": "5", "method": "cash",
	}, &pay)
	require.Equal(t, http.StatusCreated, code)

	code = doJSON(t, srv, http.MethodPut, "/api/payments/"+pay.ID,
		map[string]any{"amount": "15", "method": "bank"}, &pay)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "15", pay.Amount)
	assert.Equal(t, "bank", pay.Method)

	code = doJSON(t, srv, http.MethodPost, "/api/invoices/run",
		map[string]any{"user_ids": []string{userID}}, nil)
	require.Equal(t, http.StatusOK, code)

	code = doJSON(t, srv, http.MethodPut, "/api/purchases/"+p.ID,
		map[string]any{"quantity": 1}, nil)
	assert.Equal(t, http.StatusConflict, code)

	code = doJSON(t, srv, http.MethodPut, "/api/payments/"+pay.ID,
		map[string]any{"amount": "20", "method": "bank"}, nil)
	assert.Equal(t, http.StatusConflict, code)
}

// =============================================================================
// FREE ITEMS AND GIVEAWAYS
// =============================================================================

func TestAPI_GiveAwayAndFreePurchase(t *testing.T) {
	srv := newTestServer(t)
	productID, aliceID := seedShop(t, srv)

	var bob api.UserDTO
	code := doJSON(t, srv, http.MethodPost, "/api/users", map[string]any{
		"email":        "bob@example.com",
		"display_name": "Bob",
	}, &bob)
	require.Equal(t, http.StatusCreated, code)

	var out struct {
		Purchase api.PurchaseDTO `json:"purchase"`
		FreeItem api.FreeItemDTO `json:"free_item"`
	}
	code = doJSON(t, srv, http.MethodPost, "/api/giveaway", map[string]any{
		"giver_id":   aliceID,
		"product_id": productID,
		"quantity":   4,
		"comment":    "birthday round",
	}, &out)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "4.2", out.Purchase.Cost)
	assert.Equal(t, 4, out.FreeItem.Leftover)

	var free api.PurchaseDTO
	code = doJSON(t, srv, http.MethodPost, "/api/freeitems/"+out.FreeItem.ID+"/purchase",
		map[string]any{"user_id": bob.ID, "quantity": 2}, &free)
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, free.IsFreeItemPurchase)
	assert.Equal(t, "0", free.Cost)

	// Asking for more than the leftover is refused.
	code = doJSON(t, srv, http.MethodPost, "/api/freeitems/"+out.FreeItem.ID+"/purchase",
		map[string]any{"user_id": bob.ID, "quantity": 3}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAPI_CreateFreeItem(t *testing.T) {
	// GIVEN: A catalog with one product
	// WHEN: A grant is opened for it, and for a product that does not exist
	// THEN: The real product gets its grant; the ghost answers 404

	srv := newTestServer(t)
	productID, _ := seedShop(t, srv)

	var fi api.FreeItemDTO
	code := doJSON(t, srv, http.MethodPost, "/api/freeitems", map[string]any{
		"product_id": productID, "leftover": 3, "purchasable": true,
	}, &fi)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 3, fi.Leftover)
	assert.Equal(t, productID, fi.ProductID)

	code = doJSON(t, srv, http.MethodPost, "/api/freeitems", map[string]any{
		"product_id": "ghost", "leftover": 3, "purchasable": true,
	}, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

// =============================================================================
// EXPORTS
// =============================================================================

func TestAPI_ExportUsersCSV(t *testing.T) {
	srv := newTestServer(t)
	productID, userID := seedShop(t, srv)

	code := doJSON(t, srv, http.MethodPost, "/api/purchases", map[string]any{
		"user_id": userID, "product_id": productID, "quantity": 2,
	}, nil)
	require.Equal(t, http.StatusCreated, code)

	resp, err := srv.Client().Get(srv.URL + "/api/admin/export/users")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, "display_name")
	assert.Contains(t, body, "Alice")
	assert.Contains(t, body, "2.1", "unbilled purchase sum appears")
}

// =============================================================================
// STATS
// =============================================================================

func TestAPI_TopUsersRanking(t *testing.T) {
	srv := newTestServer(t)
	productID, aliceID := seedShop(t, srv)

	var bob api.UserDTO
	code := doJSON(t, srv, http.MethodPost, "/api/users", map[string]any{
		"email": "bob@example.com", "display_name": "Bob",
	}, &bob)
	require.Equal(t, http.StatusCreated, code)

	for user, qty := range map[string]int{aliceID: 5, bob.ID: 2} {
		code = doJSON(t, srv, http.MethodPost, "/api/purchases", map[string]any{
			"user_id": user, "product_id": productID, "quantity": qty,
		}, nil)
		require.Equal(t, http.StatusCreated, code)
	}

	var ranking []api.UserQuantityStatDTO
	code = doJSON(t, srv, http.MethodGet, "/api/stats/top-users", nil, &ranking)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, ranking, 2)
	assert.Equal(t, "Alice", ranking[0].DisplayName)
	assert.Equal(t, 5, ranking[0].TotalQuantity)

	var costs []api.UserCostStatDTO
	code = doJSON(t, srv, http.MethodGet, "/api/stats/top-users?metric=cost", nil, &costs)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, costs, 2)
	assert.Equal(t, "5.25", costs[0].TotalCost)
}
