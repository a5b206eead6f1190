package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bartab/billing"
	"github.com/warp/bartab/billing/store"
)

func memUser(id, email, name string) billing.User {
	return billing.User{
		ID:          billing.UserID(id),
		Email:       email,
		DisplayName: name,
		IsActive:    true,
		IsBuyer:     true,
	}
}

// =============================================================================
// UNIQUENESS
// =============================================================================

func TestMemory_EmailUniquenessIsCaseInsensitive(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.SaveUser(ctx, memUser("u1", "alice@example.com", "Alice")))

	err := mem.SaveUser(ctx, memUser("u2", "Alice@Example.com", "Alice Two"))
	assert.ErrorIs(t, err, billing.ErrValidation)

	// Re-saving the same row is an update, not a collision.
	assert.NoError(t, mem.SaveUser(ctx, memUser("u1", "alice@example.com", "Alice")))
}

func TestMemory_ProductUniqueOnNameAndAmount(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	lager := billing.Product{ID: "p1", Name: "Lager", Amount: "0.5l", Price: billing.MustMoney("1.05")}
	require.NoError(t, mem.SaveProduct(ctx, lager))

	dup := billing.Product{ID: "p2", Name: "Lager", Amount: "0.5l", Price: billing.MustMoney("1.10")}
	assert.ErrorIs(t, mem.SaveProduct(ctx, dup), billing.ErrValidation)

	// A different bottle size is a different product.
	small := billing.Product{ID: "p3", Name: "Lager", Amount: "0.33l", Price: billing.MustMoney("0.90")}
	assert.NoError(t, mem.SaveProduct(ctx, small))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	// GIVEN: One user in the store
	// WHEN: A transaction writes a second user and a purchase, then fails
	// THEN: Neither write survives

	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.SaveUser(ctx, memUser("u1", "alice@example.com", "Alice")))

	boom := errors.New("boom")
	err := mem.WithTx(ctx, func(s billing.Store) error {
		if err := s.SaveUser(ctx, memUser("u2", "bob@example.com", "Bob")); err != nil {
			return err
		}
		if err := s.SavePurchase(ctx, billing.Purchase{ID: "pur-1", UserID: "u1", Quantity: 1, ProductPrice: billing.MustMoney("1.05"), CreatedAt: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	bob, err := mem.GetUser(ctx, "u2")
	require.NoError(t, err)
	assert.Nil(t, bob)

	p, err := mem.GetPurchase(ctx, "pur-1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestMemory_WithTxCommitsOnSuccess(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	err := mem.WithTx(ctx, func(s billing.Store) error {
		return s.SaveUser(ctx, memUser("u1", "alice@example.com", "Alice"))
	})
	require.NoError(t, err)

	u, err := mem.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "Alice", u.DisplayName)
}

// =============================================================================
// INVOICE DETACH
// =============================================================================

func TestMemory_DeleteInvoiceDetachesRows(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.SaveUser(ctx, memUser("u1", "alice@example.com", "Alice")))

	inv := billing.InvoiceID("inv-1")
	require.NoError(t, mem.SaveInvoice(ctx, billing.Invoice{ID: inv, RecipientID: "u1",
		AmountPurchases: billing.MustMoney("1.05"), AmountPayments: billing.MustMoney("0")}))
	require.NoError(t, mem.SavePurchase(ctx, billing.Purchase{ID: "pur-1", UserID: "u1", Quantity: 1,
		ProductPrice: billing.MustMoney("1.05"), InvoiceID: &inv, CreatedAt: time.Now()}))
	require.NoError(t, mem.SavePayment(ctx, billing.Payment{ID: "pay-1", UserID: "u1",
		Amount: billing.MustMoney("1.00"), Method: billing.MethodCash, InvoiceID: &inv, CreatedAt: time.Now()}))

	require.NoError(t, mem.DeleteInvoice(ctx, inv))

	p, err := mem.GetPurchase(ctx, "pur-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Nil(t, p.InvoiceID)

	pay, err := mem.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	require.NotNil(t, pay)
	assert.Nil(t, pay.InvoiceID)
}

// =============================================================================
// FILTERS
// =============================================================================

func TestMemory_ListPurchasesFiltersByNameAndWindow(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)

	rows := []billing.Purchase{
		{ID: "a", UserID: "u1", Quantity: 1, CategoryName: "Beer", ProductName: "Lager", ProductPrice: billing.MustMoney("1.05"), CreatedAt: base},
		{ID: "b", UserID: "u1", Quantity: 1, CategoryName: "Beer", ProductName: "Wheat Beer", ProductPrice: billing.MustMoney("1.20"), CreatedAt: base.Add(24 * time.Hour)},
		{ID: "c", UserID: "u2", Quantity: 1, CategoryName: "Snacks", ProductName: "Peanuts", ProductPrice: billing.MustMoney("1.50"), CreatedAt: base.Add(48 * time.Hour)},
	}
	for _, p := range rows {
		require.NoError(t, mem.SavePurchase(ctx, p))
	}

	got, err := mem.ListPurchases(ctx, billing.PurchaseFilter{CategoryName: "beer"})
	require.NoError(t, err)
	assert.Len(t, got, 2, "category match is case-insensitive")

	got, err = mem.ListPurchases(ctx, billing.PurchaseFilter{ProductName: "wheat"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, billing.PurchaseID("b"), got[0].ID)

	from := base.Add(12 * time.Hour)
	to := base.Add(36 * time.Hour)
	got, err = mem.ListPurchases(ctx, billing.PurchaseFilter{From: from, To: to})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, billing.PurchaseID("b"), got[0].ID)
}
