/*
entities.go - The billing entity model

PURPOSE:
  Defines the persistent entities and their derived accessors. The model is
  relational: Users buy Products (recorded as Purchases with a snapshot of
  the product at purchase time), deposit money (Payments), and are settled
  by Invoices that bundle unbilled purchases and payments.

PAYER RELATIONSHIP:
  A user either pays for themself (PaidBy == nil) or is a dependent of
  exactly one self-paying user (PaidBy set). The chain has depth 1: a payer
  can never itself be a dependent. See validate.go for enforcement.

SNAPSHOT FIELDS:
  Purchase copies the product's category name, product name, price, and
  amount descriptor at purchase time. Later edits to the catalog never
  change what was bought; the purchase row stands on its own.

SEE ALSO:
  - queries.go: aggregation helpers over these entities
  - validate.go: mutation invariants
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// USER
// =============================================================================

// User is a person who can buy and/or pay.
type User struct {
	ID          UserID
	Email       string // unique
	DisplayName string // unique

	IsActive     bool
	IsBuyer      bool
	IsFavorite   bool
	IsAdmin      bool
	IsAutolocked bool

	// PaidBy points at the user who settles this user's purchases.
	// nil means the user pays for themself.
	PaidBy *UserID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SelfPays reports whether the user settles their own balance.
func (u *User) SelfPays() bool {
	return u.PaidBy == nil
}

// PayerID returns the user who ultimately pays for u's purchases:
// u itself when self-paying, otherwise the designated payer.
func (u *User) PayerID() UserID {
	if u.PaidBy != nil {
		return *u.PaidBy
	}
	return u.ID
}

// =============================================================================
// CATALOG
// =============================================================================

// Category is a named grouping of products. Cannot be deleted while
// products reference it.
type Category struct {
	ID   CategoryID
	Name string // unique
}

// Product is a purchasable catalog item. Uniqueness is on (Name, Amount):
// the same drink can exist in several bottle sizes.
type Product struct {
	ID         ProductID
	Name       string
	Price      decimal.Decimal // >= MinimumPrice
	Amount     string          // size descriptor, e.g. "0.5 L"
	CategoryID CategoryID
	IsActive   bool
	IsBold     bool // promotional highlight
}

// FreeItem is a promotional allotment of one product, purchasable at zero
// cost until the leftover quantity is exhausted. The record remains once
// empty; it is simply no longer purchasable.
type FreeItem struct {
	ID          FreeItemID
	ProductID   ProductID
	Leftover    int // >= 0, decremented on free purchase, never negative
	Purchasable bool
	GiverID     *UserID
	Comment     string
	CreatedAt   time.Time
}

// =============================================================================
// PURCHASE
// =============================================================================

// Purchase records a buy event. Once InvoiceID is set the record is
// immutable: it has been billed and the invoice amounts depend on it.
type Purchase struct {
	ID       PurchaseID
	UserID   UserID
	Quantity int // >= 1

	// Snapshot of the product at purchase time.
	CategoryName  string
	ProductName   string
	ProductAmount string
	ProductPrice  decimal.Decimal

	Comment   string
	InvoiceID *InvoiceID

	IsFreeItemPurchase  bool
	FreeItemDescription string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Cost is quantity x price. Not rounded; rounding happens at aggregation
// boundaries only.
func (p *Purchase) Cost() decimal.Decimal {
	if p.IsFreeItemPurchase {
		return decimal.Zero
	}
	return p.ProductPrice.Mul(decimal.NewFromInt(int64(p.Quantity)))
}

// Billed reports whether the purchase is attached to an invoice.
func (p *Purchase) Billed() bool {
	return p.InvoiceID != nil
}

// =============================================================================
// PAYMENT
// =============================================================================

// Payment is a credit (positive) or payout (negative) adjustment to a
// user's balance. Only self-paying users can have payments. Once InvoiceID
// is set the record is immutable, same as Purchase.
type Payment struct {
	ID        PaymentID
	UserID    UserID
	Amount    decimal.Decimal
	Comment   string
	Method    PaymentMethod
	InvoiceID *InvoiceID
	CreatedAt time.Time
	ValueDate time.Time // effective date, display-only
}

// Billed reports whether the payment is attached to an invoice.
func (p *Payment) Billed() bool {
	return p.InvoiceID != nil
}

// =============================================================================
// INVOICE
// =============================================================================

// Invoice is the settlement record produced by the invoice generation
// transaction. AmountPurchases covers the recipient's own purchases plus
// all dependents'; AmountPayments covers the recipient's payments.
type Invoice struct {
	ID              InvoiceID
	RecipientID     UserID // must self-pay
	AmountPurchases decimal.Decimal // >= 0
	AmountPayments  decimal.Decimal
	Comment         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Due is what the recipient owes for this billing cycle.
func (i *Invoice) Due() decimal.Decimal {
	return i.AmountPurchases.Sub(i.AmountPayments)
}
