/*
Package billing provides the core billing and account-balance engine.

PURPOSE:
  This package contains the domain model and algorithms for a member tab
  system: members purchase products on credit, admins periodically bundle
  unbilled purchases and payments into invoices, and the engine maintains
  running account balances, dependent-payer relationships, free-item
  promotions, and automatic locking of overdrawn accounts.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money helpers: exact decimal arithmetic for prices and balances
  - Entity IDs: type-safe identifiers minted as UUIDs
  - PaymentMethod: how a payment entered the system (cash/bank/other)

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Immutability: Billed purchases and payments are never modified
  3. Type Safety: Strong typing for IDs prevents mixing entity kinds
  4. Atomicity: Every multi-row mutation runs inside one store transaction

SEE ALSO:
  - entities.go: User, Product, Purchase, Payment, Invoice definitions
  - invoice.go: The invoice generation transaction
  - validate.go: Invariant predicates enforced before every persist
*/
package billing

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type CategoryID string
type ProductID string
type FreeItemID string
type PurchaseID string
type PaymentID string
type InvoiceID string

// NewID mints a fresh UUID string. Used for every entity kind so that an
// identifier exists before the row is persisted; the invoice generation
// transaction relies on this to stamp child records inside one transaction.
func NewID() string {
	return uuid.NewString()
}

// =============================================================================
// MONEY - exact decimal arithmetic, 2-place rounding at aggregation boundaries
// =============================================================================

// MinimumPrice is the lowest allowed product price.
var MinimumPrice = decimal.NewFromFloat(0.01)

// ParseMoney parses a currency string ("47.25") into a decimal.
func ParseMoney(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// MustMoney parses a currency string or returns zero. For literals in
// configuration defaults and tests.
func MustMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RoundMoney rounds to 2 decimal places. Applied only when a sum crosses an
// aggregation boundary (invoice amounts, exports), never per row.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// =============================================================================
// PAYMENT METHOD
// =============================================================================

type PaymentMethod string

const (
	MethodCash  PaymentMethod = "cash"
	MethodBank  PaymentMethod = "bank"
	MethodOther PaymentMethod = "other"
)

// ValidMethod reports whether m is one of the known payment methods.
func ValidMethod(m PaymentMethod) bool {
	switch m {
	case MethodCash, MethodBank, MethodOther:
		return true
	}
	return false
}
