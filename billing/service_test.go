package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bartab/billing"
	"github.com/warp/bartab/billing/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newService(t *testing.T) (*store.Memory, *billing.Service) {
	t.Helper()
	mem := store.NewMemory()
	return mem, billing.NewService(mem, quietLog())
}

// seedCatalog creates one category with one active product and returns both.
func seedCatalog(t *testing.T, svc *billing.Service) (*billing.Category, *billing.Product) {
	t.Helper()
	ctx := context.Background()
	cat, err := svc.CreateCategory(ctx, "Beer")
	require.NoError(t, err)
	prod, err := svc.SaveProduct(ctx, billing.Product{
		Name:       "Lager",
		Amount:     "0.5l",
		Price:      money("1.05"),
		CategoryID: cat.ID,
		IsActive:   true,
	})
	require.NoError(t, err)
	return cat, prod
}

// =============================================================================
// USERS
// =============================================================================

func TestCreateUser_MintsIDAndDefaults(t *testing.T) {
	_, svc := newService(t)

	u, err := svc.CreateUser(context.Background(), billing.User{
		Email:       "alice@example.com",
		DisplayName: "Alice",
		IsActive:    true,
		IsBuyer:     true,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, u.ID)
	assert.False(t, u.CreatedAt.IsZero())
	assert.True(t, u.SelfPays())
}

func TestCreateUser_RequiresEmailAndName(t *testing.T) {
	_, svc := newService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, billing.User{DisplayName: "Alice"})
	assert.ErrorIs(t, err, billing.ErrValidation)

	_, err = svc.CreateUser(ctx, billing.User{Email: "alice@example.com"})
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestCreateUser_DuplicateEmailRejected(t *testing.T) {
	_, svc := newService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, billing.User{Email: "alice@example.com", DisplayName: "Alice", IsActive: true})
	require.NoError(t, err)

	// Case differences do not make a new identity.
	_, err = svc.CreateUser(ctx, billing.User{Email: "ALICE@example.com", DisplayName: "Alice Two", IsActive: true})
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestSetPayer_TransitionsBothWays(t *testing.T) {
	// GIVEN: Bob and Carol, both self-paying and settled
	// WHEN: Carol is put on Bob's tab, then taken off again
	// THEN: Both transitions succeed and the store reflects them

	mem, svc := newService(t)
	ctx := context.Background()
	seedUser(t, mem, selfPayer("bob", "Bob"))
	seedUser(t, mem, selfPayer("carol", "Carol"))

	bobID := billing.UserID("bob")
	require.NoError(t, svc.SetPayer(ctx, "carol", &bobID))

	carol, err := mem.GetUser(ctx, "carol")
	require.NoError(t, err)
	require.NotNil(t, carol.PaidBy)
	assert.Equal(t, bobID, *carol.PaidBy)
	assert.Equal(t, bobID, carol.PayerID())

	require.NoError(t, svc.SetPayer(ctx, "carol", nil))
	carol, err = mem.GetUser(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, carol.SelfPays())
}

func TestSetPayer_DebtorCannotBecomeDependent(t *testing.T) {
	// Carol owes money, so her account must be settled before Bob takes
	// over her tab.

	mem, svc := newService(t)
	ctx := context.Background()
	seedUser(t, mem, selfPayer("bob", "Bob"))
	seedUser(t, mem, selfPayer("carol", "Carol"))
	require.NoError(t, mem.SaveInvoice(ctx, billing.Invoice{
		ID:              "inv-1",
		RecipientID:     "carol",
		AmountPurchases: money("10.00"),
		AmountPayments:  money("0"),
	}))

	bobID := billing.UserID("bob")
	err := svc.SetPayer(ctx, "carol", &bobID)
	assert.ErrorIs(t, err, billing.ErrDependencyTransition)
}

func TestSetPayer_PayerOfInactiveDependentCannotBecomeDependent(t *testing.T) {
	// GIVEN: Bob is a deactivated dependent of Alice with an open purchase
	// WHEN: Alice is put on Carol's tab
	// THEN: Rejected. Bob's purchase lands on Alice's invoices, and a
	//       dependent never runs invoices of their own.

	mem, svc := newService(t)
	ctx := context.Background()
	seedUser(t, mem, selfPayer("alice", "Alice"))
	seedUser(t, mem, selfPayer("carol", "Carol"))
	bob := dependentOf("bob", "Bob", "alice")
	bob.IsActive = false
	bob.IsBuyer = false
	seedUser(t, mem, bob)
	seedPurchase(t, mem, purchase("bob", 1, "1.05"))

	carolID := billing.UserID("carol")
	err := svc.SetPayer(ctx, "alice", &carolID)
	assert.ErrorIs(t, err, billing.ErrInvalidPayer)

	alice, err := mem.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, alice.SelfPays())
}

// =============================================================================
// PURCHASES
// =============================================================================

func TestRecordPurchase_SnapshotsProduct(t *testing.T) {
	// GIVEN: Alice and a catalog with Lager at 1.05
	// WHEN: She buys three and the price later changes
	// THEN: Her purchase row keeps the old name and price

	mem, svc := newService(t)
	ctx := context.Background()
	seedUser(t, mem, selfPayer("alice", "Alice"))
	_, prod := seedCatalog(t, svc)

	p, err := svc.RecordPurchase(ctx, "alice", prod.ID, 3, "happy hour")
	require.NoError(t, err)

	assert.Equal(t, "Lager", p.ProductName)
	assert.Equal(t, "0.5l", p.ProductAmount)
	assert.Equal(t, "Beer", p.CategoryName)
	assert.Equal(t, "1.05", p.ProductPrice.String())
	assert.Equal(t, "3.15", p.Cost().String())
	assert.False(t, p.Billed())

	prod.Price = money("2.00")
	_, err = svc.SaveProduct(ctx, *prod)
	require.NoError(t, err)

	stored, err := mem.GetPurchase(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.05", stored.ProductPrice.String())
}

func TestRecordPurchase_RejectsInactiveProductAndNonBuyer(t *testing.T) {
	mem, svc := newService(t)
	ctx := context.Background()
	seedUser(t, mem, selfPayer("alice", "Alice"))
	watcher := selfPayer("dave", "Dave")
	watcher.IsBuyer = false
	seedUser(t, mem, watcher)
	_, prod := seedCatalog(t, svc)

	_, err := svc.RecordPurchase(ctx, "dave", prod.ID, 1, "")
	assert.ErrorIs(t, err, billing.ErrInvalidState)

	prod.IsActive = false
	_, err = svc.SaveProduct(ctx, *prod)
	require.NoError(t, err)

	_, err = svc.RecordPurchase(ctx, "alice", prod.ID, 1, "")
	assert.ErrorIs(t, err, billing.ErrValidation)

	_, err = svc.RecordPurchase(ctx, "alice", prod.ID, 0, "")
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestDeletePurchase_BilledRowRefused(t *testing.T) {
	mem, svc := newService(t)
	ctx := context.Background()
	seedUser(t, mem, selfPayer("alice", "Alice"))
	seedPurchase(t, mem, billedPurchase("alice", 1, "1.05", "inv-1"))
	open := purchase("alice", 1, "1.05")
	seedPurchase(t, mem, open)

	purchases, err := mem.ListPurchases(ctx, billing.PurchaseFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, purchases, 2)

	for _, p := range purchases {
		err := svc.DeletePurchase(ctx, p.ID)
		if p.Billed() {
			assert.ErrorIs(t, err, billing.ErrImmutableRecord)
		} else {
			assert.NoError(t, err)
		}
	}
}

func TestUpdatePurchase_EditsQuantityAndComment(t *testing.T) {
	// GIVEN: An open purchase of one lager
	// WHEN: The row is corrected to three with a note
	// THEN: The snapshot survives and the cost follows the new quantity

	mem, svc := newService(t)
	ctx := context.Background()
	seedUser(t, mem, selfPayer("alice", "Alice"))
	open := purchase("alice", 1, "1.05")
	seedPurchase(t, mem, open)

	updated, err := svc.UpdatePurchase(ctx, open.ID, 3, "miscounted")
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Quantity)
	assert.Equal(t, "miscounted", updated.Comment)
	assert.Equal(t, "3.15", updated.Cost().String())
	assert.Equal(t, "Lager", updated.ProductName)
	assert.False(t, updated.UpdatedAt.IsZero())
}

func TestUpdatePurchase_BilledRowFrozen(t *testing.T) {
	mem, svc := newService(t)
	ctx := context.Background()
	seedUser(t, mem, selfPayer("alice", "Alice"))
	billed := billedPurchase("alice", 1, "1.05", "inv-1")
	seedPurchase(t, mem, billed)

	_, err := svc.UpdatePurchase(ctx, billed.ID, 2, "")
	assert.ErrorIs(t, err, billing.ErrImmutableRecord)

	stored, err := mem.GetPurchase(ctx, billed.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Quantity)
}

func TestUpdatePurchase_UnknownRowNotFound(t *testing.T) {
	_, svc := newService(t)

	_, err := svc.UpdatePurchase(context.Background(), "missing", 1, "")
	assert.True(t, billing.IsNotFound(err))
}

// =============================================================================
// FREE ITEMS
// =============================================================================

func TestRecordFreeItemPurchase_DecrementsLeftover(t *testing.T) {
	// GIVEN: A grant of 3 free lagers
	// WHEN: Alice takes two, then one more
	// THEN: The rows cost zero and the exhausted grant stops being
	//       purchasable

	mem, svc := newService(t)
	ctx := context.Background()
	seedUser(t, mem, selfPayer("alice", "Alice"))
	_, prod := seedCatalog(t, svc)
	grant := billing.FreeItem{
		ID:          billing.FreeItemID(billing.NewID()),
		ProductID:   prod.ID,
		Leftover:    3,
		Purchasable: true,
		Comment:     "on the house",
		CreatedAt:   time.Now(),
	}
	require.NoError(t, mem.SaveFreeItem(ctx, grant))

	p, err := svc.RecordFreeItemPurchase(ctx, "alice", grant.ID, 2, "")
	require.NoError(t, err)
	assert.True(t, p.IsFreeItemPurchase)
	assert.True(t, p.Cost().IsZero())
	assert.Contains(t, p.FreeItemDescription, "Lager")
	assert.Contains(t, p.FreeItemDescription, "on the house")

	fi, err := mem.GetFreeItem(ctx, grant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fi.Leftover)
	assert.True(t, fi.Purchasable)

	_, err = svc.RecordFreeItemPurchase(ctx, "alice", grant.ID, 1, "")
	require.NoError(t, err)

	fi, err = mem.GetFreeItem(ctx, grant.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, fi.Leftover)
	assert.False(t, fi.Purchasable)

	// Empty grants refuse further purchases.
	_, err = svc.RecordFreeItemPurchase(ctx, "alice", grant.ID, 1, "")
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestGiveAway_ChargesGiverAndCreatesGrant(t *testing.T) {
	// GIVEN: Alice feels generous
	// WHEN: She gives away a round of five lagers
	// THEN: She pays for five and a purchasable grant of five appears

	mem, svc := newService(t)
	ctx := context.Background()
	seedUser(t, mem, selfPayer("alice", "Alice"))
	_, prod := seedCatalog(t, svc)

	p, grant, err := svc.GiveAway(ctx, "alice", prod.ID, 5, "birthday round")
	require.NoError(t, err)

	assert.Equal(t, "5.25", p.Cost().String())
	assert.False(t, p.IsFreeItemPurchase)

	assert.Equal(t, 5, grant.Leftover)
	assert.True(t, grant.Purchasable)
	require.NotNil(t, grant.GiverID)
	assert.Equal(t, billing.UserID("alice"), *grant.GiverID)

	stored, err := mem.GetFreeItem(ctx, grant.ID)
	require.NoError(t, err)
	assert.Equal(t, "birthday round", stored.Comment)
}

func TestGiveAway_UnknownProductChargesNothing(t *testing.T) {
	mem, svc := newService(t)
	ctx := context.Background()
	seedUser(t, mem, selfPayer("alice", "Alice"))

	_, _, err := svc.GiveAway(ctx, "alice", "missing", 2, "")
	assert.True(t, billing.IsNotFound(err))

	purchases, err := mem.ListPurchases(ctx, billing.PurchaseFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, purchases)
}

func TestCreateFreeItem_OpensGrantForExistingProduct(t *testing.T) {
	mem, svc := newService(t)
	ctx := context.Background()
	_, prod := seedCatalog(t, svc)

	fi, err := svc.CreateFreeItem(ctx, prod.ID, 4, true, "sponsored keg")
	require.NoError(t, err)
	assert.NotEmpty(t, fi.ID)
	assert.Equal(t, prod.ID, fi.ProductID)
	assert.Equal(t, 4, fi.Leftover)
	assert.True(t, fi.Purchasable)
	assert.False(t, fi.CreatedAt.IsZero())

	stored, err := mem.GetFreeItem(ctx, fi.ID)
	require.NoError(t, err)
	assert.Equal(t, "sponsored keg", stored.Comment)
}

func TestCreateFreeItem_UnknownProductRejected(t *testing.T) {
	// A grant must point at a real catalog row; nothing is persisted for
	// a missing product.

	mem, svc := newService(t)
	ctx := context.Background()

	_, err := svc.CreateFreeItem(ctx, "missing", 4, true, "")
	assert.True(t, billing.IsNotFound(err))

	items, err := mem.ListFreeItems(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCreateFreeItem_RequiresPositiveLeftover(t *testing.T) {
	_, svc := newService(t)
	_, prod := seedCatalog(t, svc)

	_, err := svc.CreateFreeItem(context.Background(), prod.ID, 0, true, "")
	assert.ErrorIs(t, err, billing.ErrValidation)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestRecordPayment_DefaultsValueDate(t *testing.T) {
	mem, svc := newService(t)
	ctx := context.Background()
	seedUser(t, mem, selfPayer("alice", "Alice"))

	p, err := svc.RecordPayment(ctx, "alice", money("20.00"), billing.MethodBank, "wire", time.Time{})
	require.NoError(t, err)

	assert.False(t, p.ValueDate.IsZero())
	assert.Equal(t, billing.MethodBank, p.Method)
}

func TestRecordPayment_DependentRejected(t *testing.T) {
	mem, svc := newService(t)
	ctx := context.Background()
	seedUser(t, mem, selfPayer("bob", "Bob"))
	seedUser(t, mem, dependentOf("carol", "Carol", "bob"))

	_, err := svc.RecordPayment(ctx, "carol", money("5.00"), billing.MethodCash, "", time.Time{})
	assert.ErrorIs(t, err, billing.ErrDependentPayment)
}

func TestDeletePayment_BilledRowRefused(t *testing.T) {
	mem, svc := newService(t)
	ctx := context.Background()
	seedUser(t, mem, selfPayer("alice", "Alice"))

	inv := billing.InvoiceID("inv-1")
	billed := billing.Payment{
		ID: "pay-1", UserID: "alice", Amount: money("5"),
		Method: billing.MethodCash, InvoiceID: &inv,
	}
	require.NoError(t, mem.SavePayment(ctx, billed))

	err := svc.DeletePayment(ctx, "pay-1")
	assert.ErrorIs(t, err, billing.ErrImmutableRecord)
}

func TestUpdatePayment_EditsUnbilledRow(t *testing.T) {
	// GIVEN: A cash deposit of 5 recorded with the wrong amount
	// WHEN: It is corrected to 15 by bank transfer
	// THEN: The row keeps its owner and creation time

	mem, svc := newService(t)
	ctx := context.Background()
	seedUser(t, mem, selfPayer("alice", "Alice"))
	open := seedPayment(t, mem, "alice", "5")

	updated, err := svc.UpdatePayment(ctx, open.ID, money("15"), billing.MethodBank, "typo", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "15", updated.Amount.String())
	assert.Equal(t, billing.MethodBank, updated.Method)
	assert.Equal(t, "typo", updated.Comment)
	assert.Equal(t, billing.UserID("alice"), updated.UserID)
	assert.True(t, updated.CreatedAt.Equal(open.CreatedAt))
}

func TestUpdatePayment_BilledRowFrozen(t *testing.T) {
	mem, svc := newService(t)
	ctx := context.Background()
	seedUser(t, mem, selfPayer("alice", "Alice"))

	inv := billing.InvoiceID("inv-1")
	billed := billing.Payment{
		ID: "pay-1", UserID: "alice", Amount: money("5"),
		Method: billing.MethodCash, InvoiceID: &inv,
	}
	require.NoError(t, mem.SavePayment(ctx, billed))

	_, err := svc.UpdatePayment(ctx, "pay-1", money("50"), billing.MethodCash, "", time.Time{})
	assert.ErrorIs(t, err, billing.ErrImmutableRecord)

	stored, err := mem.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "5", stored.Amount.String())
}

func TestUpdatePayment_RejectsUnknownMethod(t *testing.T) {
	mem, svc := newService(t)
	ctx := context.Background()
	seedUser(t, mem, selfPayer("alice", "Alice"))
	open := seedPayment(t, mem, "alice", "5")

	_, err := svc.UpdatePayment(ctx, open.ID, money("5"), "iou", "", time.Time{})
	assert.ErrorIs(t, err, billing.ErrValidation)
}

// =============================================================================
// CAN PURCHASE
// =============================================================================

func TestCanPurchase_CoversPayerAutolock(t *testing.T) {
	// GIVEN: Bob's account got autolocked; Carol drinks on his tab
	// WHEN: Either of them tries to buy
	// THEN: Both are barred until Bob's account recovers

	mem, svc := newService(t)
	ctx := context.Background()
	bob := selfPayer("bob", "Bob")
	bob.IsAutolocked = true
	seedUser(t, mem, bob)
	seedUser(t, mem, dependentOf("carol", "Carol", "bob"))
	seedUser(t, mem, selfPayer("alice", "Alice"))

	assert.ErrorIs(t, svc.CanPurchase(ctx, "bob"), billing.ErrInvalidState)
	assert.ErrorIs(t, svc.CanPurchase(ctx, "carol"), billing.ErrInvalidState)
	assert.NoError(t, svc.CanPurchase(ctx, "alice"))
}

// =============================================================================
// CATALOG
// =============================================================================

func TestDeleteCategory_RefusedWhileProductsRemain(t *testing.T) {
	_, svc := newService(t)
	ctx := context.Background()
	cat, prod := seedCatalog(t, svc)

	err := svc.DeleteCategory(ctx, cat.ID)
	assert.ErrorIs(t, err, billing.ErrInvalidState)

	// An inactive product still blocks deletion; only removal frees the
	// category. Products are soft-retired, not deleted, so in practice a
	// non-empty category stays.
	prod.IsActive = false
	_, err = svc.SaveProduct(ctx, *prod)
	require.NoError(t, err)
	err = svc.DeleteCategory(ctx, cat.ID)
	assert.ErrorIs(t, err, billing.ErrInvalidState)
}

func TestBatchUpdateProducts_AppliesSparseChange(t *testing.T) {
	// GIVEN: Two products at different prices
	// WHEN: A batch change sets a new price and bold flag
	// THEN: Both rows change, untouched fields survive

	_, svc := newService(t)
	ctx := context.Background()
	cat, first := seedCatalog(t, svc)
	second, err := svc.SaveProduct(ctx, billing.Product{
		Name:       "Wheat Beer",
		Amount:     "0.5l",
		Price:      money("1.20"),
		CategoryID: cat.ID,
		IsActive:   true,
	})
	require.NoError(t, err)

	newPrice := money("1.50")
	bold := true
	err = svc.BatchUpdateProducts(ctx,
		[]billing.ProductID{first.ID, second.ID},
		billing.ProductChange{Price: &newPrice, IsBold: &bold},
	)
	require.NoError(t, err)

	st := svc.Store()
	for _, id := range []billing.ProductID{first.ID, second.ID} {
		p, err := st.GetProduct(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "1.5", p.Price.String())
		assert.True(t, p.IsBold)
		assert.True(t, p.IsActive, "IsActive was not part of the change")
	}
}

func TestBatchUpdateProducts_BadPriceRollsBackAll(t *testing.T) {
	_, svc := newService(t)
	ctx := context.Background()
	_, first := seedCatalog(t, svc)

	tooCheap := money("0.001")
	err := svc.BatchUpdateProducts(ctx, []billing.ProductID{first.ID}, billing.ProductChange{Price: &tooCheap})
	assert.ErrorIs(t, err, billing.ErrValidation)

	p, err := svc.Store().GetProduct(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.05", p.Price.String())
}

// =============================================================================
// TO PAY BY
// =============================================================================

func TestToPayBy_IncludesDependents(t *testing.T) {
	mem, svc := newService(t)
	ctx := context.Background()
	seedUser(t, mem, selfPayer("bob", "Bob"))
	seedUser(t, mem, dependentOf("carol", "Carol", "bob"))
	seedPurchase(t, mem, purchase("bob", 1, "1.05"))
	seedPurchase(t, mem, purchase("carol", 2, "0.90"))

	owed, err := svc.ToPayBy(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, owed, 2)
	assert.Equal(t, "2.85", billing.SumCost(owed).String())

	// A dependent owes nothing directly; the payer settles their rows.
	owedByCarol, err := svc.ToPayBy(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, owedByCarol)
}
