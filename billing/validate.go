/*
validate.go - The invariant engine

PURPOSE:
  Pure predicate functions enforcing the consistency rules on User,
  Purchase, and Payment mutations. They take the old and new state plus a
  snapshot of the surrounding facts (ChangeEnv) and return nil or a
  structured error; they never touch storage themselves.

CONTRACT:
  Callers gather the ChangeEnv and invoke these inside the same store
  transaction that performs the write, aborting the write on any failure.
  Validation outside the transaction would race with concurrent admins.

THE PAYER RULES:
  - No self-reference: a user cannot be their own payer.
  - Depth 1: the designated payer must itself be self-paying.
  - No role mixing: a user with dependents cannot become a dependent.
  - No orphaning: a payer with active dependents cannot be deactivated.
  - Settled transition: self-paying -> dependent only with balance >= 0
    and no unbilled payments (those could never be billed afterwards).
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// ChangeEnv captures the facts around a user change that the pure
// predicates cannot look up themselves. Callers assemble it from store
// reads inside the enclosing transaction.
type ChangeEnv struct {
	// Payer is the resolved target of the new PaidBy reference,
	// nil when the user stays (or becomes) self-paying.
	Payer *User

	// TotalDependents counts every user whose PaidBy points at the changed
	// user, active or not. Any dependent at all pins the user to the payer
	// role; an inactive dependent still holds unbilled purchases that only
	// this user's invoices can claim.
	TotalDependents int

	// ActiveDependents counts only the active ones. Deactivation is blocked
	// while these exist; inactive dependents do not hold a payer active.
	ActiveDependents int

	// Balance is the user's current account balance.
	Balance decimal.Decimal

	// HasUnbilledPayments reports whether the user has payments not yet
	// attached to an invoice.
	HasUnbilledPayments bool
}

// =============================================================================
// USER INVARIANTS
// =============================================================================

// ValidateUserChange checks a user create or update against the payer and
// state invariants. old is nil on creation.
func ValidateUserChange(old, updated *User, env ChangeEnv) error {
	if updated.PaidBy != nil {
		if *updated.PaidBy == updated.ID {
			return &InvalidPayerError{UserID: updated.ID, PayerID: updated.ID, Reason: "a user cannot be their own payer"}
		}
		if env.Payer == nil {
			return &NotFoundError{Kind: "user", ID: string(*updated.PaidBy)}
		}
		if !env.Payer.SelfPays() {
			return &InvalidPayerError{
				UserID:  updated.ID,
				PayerID: env.Payer.ID,
				Reason:  "the designated payer is itself a dependent",
			}
		}
		if env.TotalDependents > 0 {
			return &InvalidPayerError{
				UserID:  updated.ID,
				PayerID: env.Payer.ID,
				Reason:  "a payer for others cannot become a dependent",
			}
		}
	}

	if !updated.IsActive && env.ActiveDependents > 0 {
		return &InvalidStateError{
			UserID: updated.ID,
			Reason: "cannot deactivate a user with active dependents",
		}
	}

	// Switching self-paying -> dependent requires a settled account.
	wasSelfPaying := old == nil || old.SelfPays()
	if wasSelfPaying && updated.PaidBy != nil {
		if env.Balance.IsNegative() || env.HasUnbilledPayments {
			return &DependencyTransitionError{
				UserID:              updated.ID,
				Balance:             env.Balance,
				HasUnbilledPayments: env.HasUnbilledPayments,
			}
		}
	}

	return nil
}

// =============================================================================
// IMMUTABILITY OF BILLED RECORDS
// =============================================================================

// ValidatePurchaseMutation rejects any change to a purchase that is
// already billed.
func ValidatePurchaseMutation(old, updated *Purchase) error {
	if old == nil || !old.Billed() {
		return nil
	}
	if !purchasesEqual(old, updated) {
		return &ImmutableRecordError{Kind: "purchase", ID: string(old.ID), InvoiceID: *old.InvoiceID}
	}
	return nil
}

// ValidatePaymentMutation rejects any change to a payment that is
// already billed.
func ValidatePaymentMutation(old, updated *Payment) error {
	if old == nil || !old.Billed() {
		return nil
	}
	if !paymentsEqual(old, updated) {
		return &ImmutableRecordError{Kind: "payment", ID: string(old.ID), InvoiceID: *old.InvoiceID}
	}
	return nil
}

func purchasesEqual(a, b *Purchase) bool {
	return a.ID == b.ID &&
		a.UserID == b.UserID &&
		a.Quantity == b.Quantity &&
		a.CategoryName == b.CategoryName &&
		a.ProductName == b.ProductName &&
		a.ProductAmount == b.ProductAmount &&
		a.ProductPrice.Equal(b.ProductPrice) &&
		a.Comment == b.Comment &&
		invoiceRefEqual(a.InvoiceID, b.InvoiceID) &&
		a.IsFreeItemPurchase == b.IsFreeItemPurchase &&
		a.FreeItemDescription == b.FreeItemDescription
}

func paymentsEqual(a, b *Payment) bool {
	return a.ID == b.ID &&
		a.UserID == b.UserID &&
		a.Amount.Equal(b.Amount) &&
		a.Comment == b.Comment &&
		a.Method == b.Method &&
		invoiceRefEqual(a.InvoiceID, b.InvoiceID) &&
		a.ValueDate.Equal(b.ValueDate)
}

func invoiceRefEqual(a, b *InvoiceID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// =============================================================================
// CREATION RULES
// =============================================================================

// ValidatePaymentCreation rejects payments for dependents: their balance
// lives on the payer's account and a dependent payment could never be
// billed.
func ValidatePaymentCreation(p *Payment, user *User) error {
	if user == nil {
		return &NotFoundError{Kind: "user", ID: string(p.UserID)}
	}
	if !user.SelfPays() {
		return &DependentPaymentError{UserID: user.ID, PayerID: *user.PaidBy}
	}
	if !ValidMethod(p.Method) {
		return &ValidationError{Field: "method", Message: "unknown payment method"}
	}
	return nil
}

// ValidateProduct checks catalog field rules.
func ValidateProduct(p *Product) error {
	if p.Name == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if p.Amount == "" {
		return &ValidationError{Field: "amount", Message: "must not be empty"}
	}
	if p.Price.LessThan(MinimumPrice) {
		return &ValidationError{Field: "price", Message: "below minimum price"}
	}
	return nil
}

// ValidateFreeItemPurchase checks that the allotment can cover the
// requested quantity. The leftover never goes negative.
func ValidateFreeItemPurchase(fi *FreeItem, quantity int) error {
	if quantity < 1 {
		return &ValidationError{Field: "quantity", Message: "must be at least 1"}
	}
	if !fi.Purchasable {
		return &ValidationError{Field: "free_item", Message: "not purchasable"}
	}
	if quantity > fi.Leftover {
		return &ValidationError{Field: "quantity", Message: "exceeds leftover quantity"}
	}
	return nil
}
