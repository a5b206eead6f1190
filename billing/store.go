/*
store.go - Persistence interface for the billing entities

PURPOSE:
  Defines the interface between the domain logic and the database. Every
  multi-row mutation (invoice generation, free-item purchase, give-away,
  invoice deletion) runs inside WithTx so partial application is never
  observable.

CONVENTIONS:
  - Get* methods return (nil, nil) when the entity does not exist; callers
    translate that into a NotFoundError where it matters.
  - Save* methods upsert. Uniqueness violations (user email/display name,
    category name, product name+amount) surface as *ValidationError.
  - DeleteInvoice detaches all linked purchases and payments (invoice
    reference back to null) before removing the invoice row. It never
    cascades into purchase or payment history.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite via database/sql
  - billing/store: in-memory, for tests and development
*/
package billing

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

// UserFilter narrows ListUsers. Nil fields match everything.
type UserFilter struct {
	IsActive   *bool
	IsBuyer    *bool
	IsFavorite *bool
}

// ProductFilter narrows ListProducts.
type ProductFilter struct {
	CategoryID CategoryID // empty matches all
	ActiveOnly bool
}

// PurchaseFilter narrows ListPurchases. Zero times match everything.
type PurchaseFilter struct {
	UserID       UserID
	From, To     time.Time
	CategoryName string
	ProductName  string
}

// PaymentFilter narrows ListPayments.
type PaymentFilter struct {
	UserID   UserID
	From, To time.Time
}

// =============================================================================
// STORE
// =============================================================================

// Store handles persistence of all billing entities.
type Store interface {
	// Users
	SaveUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id UserID) (*User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]User, error)
	// Dependents returns every user whose PaidBy points at payer,
	// ordered by display name for deterministic invoice runs.
	Dependents(ctx context.Context, payer UserID) ([]User, error)

	// Categories
	SaveCategory(ctx context.Context, c Category) error
	GetCategory(ctx context.Context, id CategoryID) (*Category, error)
	ListCategories(ctx context.Context) ([]Category, error)
	DeleteCategory(ctx context.Context, id CategoryID) error

	// Products
	SaveProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, id ProductID) (*Product, error)
	ListProducts(ctx context.Context, f ProductFilter) ([]Product, error)

	// Free items
	SaveFreeItem(ctx context.Context, fi FreeItem) error
	GetFreeItem(ctx context.Context, id FreeItemID) (*FreeItem, error)
	ListFreeItems(ctx context.Context, purchasableOnly bool) ([]FreeItem, error)

	// Purchases
	SavePurchase(ctx context.Context, p Purchase) error
	GetPurchase(ctx context.Context, id PurchaseID) (*Purchase, error)
	DeletePurchase(ctx context.Context, id PurchaseID) error
	// UnbilledPurchasesByUser returns the user's purchases with no invoice
	// reference, oldest first.
	UnbilledPurchasesByUser(ctx context.Context, user UserID) ([]Purchase, error)
	PurchasesByInvoice(ctx context.Context, invoice InvoiceID) ([]Purchase, error)
	ListPurchases(ctx context.Context, f PurchaseFilter) ([]Purchase, error)

	// Payments
	SavePayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	DeletePayment(ctx context.Context, id PaymentID) error
	UnbilledPaymentsByUser(ctx context.Context, user UserID) ([]Payment, error)
	PaymentsByInvoice(ctx context.Context, invoice InvoiceID) ([]Payment, error)
	ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error)

	// Invoices
	SaveInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error)
	InvoicesByRecipient(ctx context.Context, recipient UserID) ([]Invoice, error)
	// DeleteInvoice detaches linked purchases/payments (back to unbilled)
	// and removes the invoice row. Must run inside WithTx.
	DeleteInvoice(ctx context.Context, id InvoiceID) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support. Invoice generation and the
// other multi-row mutations require it: if fn returns an error, every write
// made through the passed Store is rolled back.
//
// Two concurrent transactions touching the same user's unbilled rows must
// not both claim them; implementations serialize conflicting writers.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
