package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/bartab/billing"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func selfPayer(id, name string) *billing.User {
	return &billing.User{
		ID:          billing.UserID(id),
		Email:       name + "@example.com",
		DisplayName: name,
		IsActive:    true,
		IsBuyer:     true,
	}
}

func dependentOf(id, name string, payer billing.UserID) *billing.User {
	u := selfPayer(id, name)
	u.PaidBy = &payer
	return u
}

// =============================================================================
// PAYER INVARIANTS
// =============================================================================

func TestValidateUserChange_SelfPayerRejected(t *testing.T) {
	// GIVEN: A user whose PaidBy points at themselves
	// WHEN: Validating the change
	// THEN: InvalidPayerError

	u := dependentOf("u1", "Alice", "u1")

	err := billing.ValidateUserChange(nil, u, billing.ChangeEnv{})
	assert.ErrorIs(t, err, billing.ErrInvalidPayer)
}

func TestValidateUserChange_PayerMustExist(t *testing.T) {
	u := dependentOf("u1", "Alice", "ghost")

	err := billing.ValidateUserChange(nil, u, billing.ChangeEnv{Payer: nil})
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestValidateUserChange_PayerChainsForbidden(t *testing.T) {
	// GIVEN: Bob already pays through Carol
	// WHEN: Alice tries to make Bob her payer
	// THEN: Rejected, payer relationships are depth 1

	bob := dependentOf("bob", "Bob", "carol")
	alice := dependentOf("alice", "Alice", "bob")

	err := billing.ValidateUserChange(nil, alice, billing.ChangeEnv{Payer: bob})
	assert.ErrorIs(t, err, billing.ErrInvalidPayer)
}

func TestValidateUserChange_PayerWithDependentsCannotBecomeDependent(t *testing.T) {
	old := selfPayer("bob", "Bob")
	updated := dependentOf("bob", "Bob", "alice")

	err := billing.ValidateUserChange(old, updated, billing.ChangeEnv{
		Payer:            selfPayer("alice", "Alice"),
		TotalDependents:  2,
		ActiveDependents: 2,
	})
	assert.ErrorIs(t, err, billing.ErrInvalidPayer)
}

func TestValidateUserChange_InactiveDependentStillPinsPayerRole(t *testing.T) {
	// GIVEN: Bob pays for one dependent who has since been deactivated
	// WHEN: Switching Bob onto Carol's tab
	// THEN: Rejected. The inactive dependent's unbilled purchases can only
	//       ever be claimed by Bob's invoices; a depth-2 chain would strand
	//       them.

	old := selfPayer("bob", "Bob")
	updated := dependentOf("bob", "Bob", "carol")

	err := billing.ValidateUserChange(old, updated, billing.ChangeEnv{
		Payer:            selfPayer("carol", "Carol"),
		TotalDependents:  1,
		ActiveDependents: 0,
	})
	assert.ErrorIs(t, err, billing.ErrInvalidPayer)
}

func TestValidateUserChange_DeactivatingPayerWithDependentsRejected(t *testing.T) {
	old := selfPayer("bob", "Bob")
	updated := selfPayer("bob", "Bob")
	updated.IsActive = false

	err := billing.ValidateUserChange(old, updated, billing.ChangeEnv{ActiveDependents: 1})
	assert.ErrorIs(t, err, billing.ErrInvalidState)
}

func TestValidateUserChange_BecomingDependentRequiresSettledAccount(t *testing.T) {
	// GIVEN: Alice self-pays with a negative balance
	// WHEN: Switching her to Bob's tab
	// THEN: DependencyTransitionError; her debt would become unbillable

	old := selfPayer("alice", "Alice")
	updated := dependentOf("alice", "Alice", "bob")
	env := billing.ChangeEnv{
		Payer:   selfPayer("bob", "Bob"),
		Balance: money("-5.00"),
	}

	err := billing.ValidateUserChange(old, updated, env)
	assert.ErrorIs(t, err, billing.ErrDependencyTransition)

	// Unbilled payments block the transition even with a zero balance.
	env.Balance = money("0")
	env.HasUnbilledPayments = true
	err = billing.ValidateUserChange(old, updated, env)
	assert.ErrorIs(t, err, billing.ErrDependencyTransition)
}

func TestValidateUserChange_SettledTransitionAllowed(t *testing.T) {
	old := selfPayer("alice", "Alice")
	updated := dependentOf("alice", "Alice", "bob")

	err := billing.ValidateUserChange(old, updated, billing.ChangeEnv{
		Payer:   selfPayer("bob", "Bob"),
		Balance: money("3.00"),
	})
	assert.NoError(t, err)
}

// =============================================================================
// IMMUTABILITY OF BILLED RECORDS
// =============================================================================

func TestValidatePurchaseMutation_BilledRowFrozen(t *testing.T) {
	old := billedPurchase("u1", 2, "1.05", "inv-1")

	changed := old
	changed.Quantity = 5

	err := billing.ValidatePurchaseMutation(&old, &changed)
	assert.ErrorIs(t, err, billing.ErrImmutableRecord)

	// The identical row passes; idempotent re-saves stay legal.
	same := old
	assert.NoError(t, billing.ValidatePurchaseMutation(&old, &same))
}

func TestValidatePurchaseMutation_UnbilledRowFree(t *testing.T) {
	old := purchase("u1", 2, "1.05")
	changed := old
	changed.Quantity = 5

	assert.NoError(t, billing.ValidatePurchaseMutation(&old, &changed))
}

func TestValidatePaymentMutation_BilledRowFrozen(t *testing.T) {
	inv := billing.InvoiceID("inv-1")
	old := billing.Payment{
		ID:        billing.PaymentID("pay-1"),
		UserID:    "u1",
		Amount:    money("4.20"),
		Method:    billing.MethodCash,
		InvoiceID: &inv,
	}

	changed := old
	changed.Amount = money("5.00")

	err := billing.ValidatePaymentMutation(&old, &changed)
	assert.ErrorIs(t, err, billing.ErrImmutableRecord)
}

// =============================================================================
// CREATION RULES
// =============================================================================

func TestValidatePaymentCreation_DependentRejected(t *testing.T) {
	// GIVEN: Carol drinks on Bob's tab
	// WHEN: Recording a payment on Carol's account
	// THEN: DependentPaymentError; her ledger lives on Bob's invoices

	carol := dependentOf("carol", "Carol", "bob")
	p := &billing.Payment{UserID: carol.ID, Amount: money("5.00"), Method: billing.MethodCash}

	err := billing.ValidatePaymentCreation(p, carol)
	assert.ErrorIs(t, err, billing.ErrDependentPayment)
}

func TestValidatePaymentCreation_UnknownMethodRejected(t *testing.T) {
	alice := selfPayer("alice", "Alice")
	p := &billing.Payment{UserID: alice.ID, Amount: money("5.00"), Method: "iou"}

	err := billing.ValidatePaymentCreation(p, alice)
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestValidateProduct_PriceFloor(t *testing.T) {
	p := &billing.Product{Name: "Lager", Amount: "0.5l", Price: money("0.001")}
	assert.ErrorIs(t, billing.ValidateProduct(p), billing.ErrValidation)

	p.Price = billing.MinimumPrice
	assert.NoError(t, billing.ValidateProduct(p))
}

func TestValidateFreeItemPurchase_LeftoverNeverNegative(t *testing.T) {
	fi := &billing.FreeItem{Leftover: 2, Purchasable: true}

	assert.NoError(t, billing.ValidateFreeItemPurchase(fi, 2))
	assert.ErrorIs(t, billing.ValidateFreeItemPurchase(fi, 3), billing.ErrValidation)
	assert.ErrorIs(t, billing.ValidateFreeItemPurchase(fi, 0), billing.ErrValidation)

	fi.Purchasable = false
	assert.ErrorIs(t, billing.ValidateFreeItemPurchase(fi, 1), billing.ErrValidation)
}

// =============================================================================
// AUTOLOCK HYSTERESIS
// =============================================================================

func TestAutolockPolicy_Apply(t *testing.T) {
	policy := billing.AutolockPolicy{
		LockBelow:   money("-10"),
		UnlockAbove: money("-5"),
	}

	cases := []struct {
		name           string
		locked         bool
		before, after  string
		expectedLocked bool
	}{
		{"stays below lock line both sides", false, "-12", "-15", true},
		{"invoice brought account back above", false, "-12", "-8", false},
		{"was fine, now below", false, "0", "-12", false},
		{"locked and recovering above unlock", true, "-12", "-4", false},
		{"locked, between thresholds", true, "-12", "-7", true},
		{"unlocked, between thresholds", false, "-7", "-6", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := policy.Apply(tc.locked, money(tc.before), money(tc.after))
			assert.Equal(t, tc.expectedLocked, got)
		})
	}
}
