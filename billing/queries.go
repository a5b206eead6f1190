/*
queries.go - Pure aggregation helpers over the entity model

PURPOSE:
  Read-only helpers shared by the invoice transaction, the API layer, and
  the statistics code. All sums are exact decimals and total: an empty set
  sums to zero, never to a null-ish value, so downstream arithmetic never
  branches.

SEE ALSO:
  - invoice.go: uses these inside the invoice transaction
  - stats.go: ranking aggregations built on the same primitives
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// UNBILLED / SUMS
// =============================================================================

// UnbilledPurchases returns the subset with no invoice reference.
func UnbilledPurchases(ps []Purchase) []Purchase {
	var out []Purchase
	for _, p := range ps {
		if !p.Billed() {
			out = append(out, p)
		}
	}
	return out
}

// UnbilledPayments returns the subset with no invoice reference.
func UnbilledPayments(ps []Payment) []Payment {
	var out []Payment
	for _, p := range ps {
		if !p.Billed() {
			out = append(out, p)
		}
	}
	return out
}

// SumCost returns the total cost of the purchases. Zero when empty.
func SumCost(ps []Purchase) decimal.Decimal {
	sum := decimal.Zero
	for i := range ps {
		sum = sum.Add(ps[i].Cost())
	}
	return sum
}

// SumAmount returns the total amount of the payments. Zero when empty.
func SumAmount(ps []Payment) decimal.Decimal {
	sum := decimal.Zero
	for i := range ps {
		sum = sum.Add(ps[i].Amount)
	}
	return sum
}

// =============================================================================
// INVOICE PARTITIONS
// =============================================================================

// PaidAsSelf returns the purchases of an invoice made by the payer themself.
func PaidAsSelf(purchases []Purchase, payer UserID) []Purchase {
	var out []Purchase
	for _, p := range purchases {
		if p.UserID == payer {
			out = append(out, p)
		}
	}
	return out
}

// PaidAsOther returns the purchases of an invoice made by the payer's
// dependents.
func PaidAsOther(purchases []Purchase, payer UserID) []Purchase {
	var out []Purchase
	for _, p := range purchases {
		if p.UserID != payer {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// ACCOUNT BALANCE (derived, never stored)
// =============================================================================

// AccountBalance derives a user's balance from their invoices:
// the negated sum of every invoice's due amount. Negative means the user
// owes money; positive means credit.
func AccountBalance(invoices []Invoice) decimal.Decimal {
	sum := decimal.Zero
	for i := range invoices {
		sum = sum.Add(invoices[i].Due())
	}
	return sum.Neg()
}

// =============================================================================
// SNAPSHOT COPY
// =============================================================================

// NewPurchaseFromProduct materializes a Purchase from a live product,
// copying the attributes that must survive later catalog edits. Pure
// construction; nothing is persisted here.
func NewPurchaseFromProduct(user UserID, product Product, categoryName string, quantity int, comment string, now time.Time) Purchase {
	return Purchase{
		ID:            PurchaseID(NewID()),
		UserID:        user,
		Quantity:      quantity,
		CategoryName:  categoryName,
		ProductName:   product.Name,
		ProductAmount: product.Amount,
		ProductPrice:  product.Price,
		Comment:       comment,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
