// Package store provides an in-memory billing.Store for tests and
// development. WithTx runs the callback against a deep copy of the state
// and adopts it only on success, so a failed transaction leaves nothing
// behind; the store-wide lock serializes concurrent transactions.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/bartab/billing"
)

type Memory struct {
	mu sync.RWMutex

	users      map[billing.UserID]billing.User
	categories map[billing.CategoryID]billing.Category
	products   map[billing.ProductID]billing.Product
	freeItems  map[billing.FreeItemID]billing.FreeItem
	purchases  map[billing.PurchaseID]billing.Purchase
	payments   map[billing.PaymentID]billing.Payment
	invoices   map[billing.InvoiceID]billing.Invoice
}

func NewMemory() *Memory {
	return &Memory{
		users:      make(map[billing.UserID]billing.User),
		categories: make(map[billing.CategoryID]billing.Category),
		products:   make(map[billing.ProductID]billing.Product),
		freeItems:  make(map[billing.FreeItemID]billing.FreeItem),
		purchases:  make(map[billing.PurchaseID]billing.Purchase),
		payments:   make(map[billing.PaymentID]billing.Payment),
		invoices:   make(map[billing.InvoiceID]billing.Invoice),
	}
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) SaveUser(_ context.Context, u billing.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, other := range m.users {
		if other.ID == u.ID {
			continue
		}
		if strings.EqualFold(other.Email, u.Email) {
			return &billing.ValidationError{Field: "email", Message: "already taken"}
		}
		if other.DisplayName == u.DisplayName {
			return &billing.ValidationError{Field: "display_name", Message: "already taken"}
		}
	}
	m.users[u.ID] = cloneUser(u)
	return nil
}

func (m *Memory) GetUser(_ context.Context, id billing.UserID) (*billing.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	c := cloneUser(u)
	return &c, nil
}

func (m *Memory) ListUsers(_ context.Context, f billing.UserFilter) ([]billing.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.User
	for _, u := range m.users {
		if f.IsActive != nil && u.IsActive != *f.IsActive {
			continue
		}
		if f.IsBuyer != nil && u.IsBuyer != *f.IsBuyer {
			continue
		}
		if f.IsFavorite != nil && u.IsFavorite != *f.IsFavorite {
			continue
		}
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

func (m *Memory) Dependents(_ context.Context, payer billing.UserID) ([]billing.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.User
	for _, u := range m.users {
		if u.PaidBy != nil && *u.PaidBy == payer {
			out = append(out, cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) SaveCategory(_ context.Context, c billing.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, other := range m.categories {
		if other.ID != c.ID && other.Name == c.Name {
			return &billing.ValidationError{Field: "name", Message: "already taken"}
		}
	}
	m.categories[c.ID] = c
	return nil
}

func (m *Memory) GetCategory(_ context.Context, id billing.CategoryID) (*billing.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.categories[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) ListCategories(_ context.Context) ([]billing.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]billing.Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) DeleteCategory(_ context.Context, id billing.CategoryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.categories, id)
	return nil
}

func (m *Memory) SaveProduct(_ context.Context, p billing.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, other := range m.products {
		if other.ID != p.ID && other.Name == p.Name && other.Amount == p.Amount {
			return &billing.ValidationError{Field: "name", Message: "product with this name and amount exists"}
		}
	}
	m.products[p.ID] = p
	return nil
}

func (m *Memory) GetProduct(_ context.Context, id billing.ProductID) (*billing.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListProducts(_ context.Context, f billing.ProductFilter) ([]billing.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.Product
	for _, p := range m.products {
		if f.CategoryID != "" && p.CategoryID != f.CategoryID {
			continue
		}
		if f.ActiveOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Amount < out[j].Amount
	})
	return out, nil
}

func (m *Memory) SaveFreeItem(_ context.Context, fi billing.FreeItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freeItems[fi.ID] = cloneFreeItem(fi)
	return nil
}

func (m *Memory) GetFreeItem(_ context.Context, id billing.FreeItemID) (*billing.FreeItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fi, ok := m.freeItems[id]
	if !ok {
		return nil, nil
	}
	c := cloneFreeItem(fi)
	return &c, nil
}

func (m *Memory) ListFreeItems(_ context.Context, purchasableOnly bool) ([]billing.FreeItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.FreeItem
	for _, fi := range m.freeItems {
		if purchasableOnly && (!fi.Purchasable || fi.Leftover <= 0) {
			continue
		}
		out = append(out, cloneFreeItem(fi))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// PURCHASES
// =============================================================================

func (m *Memory) SavePurchase(_ context.Context, p billing.Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchases[p.ID] = clonePurchase(p)
	return nil
}

func (m *Memory) GetPurchase(_ context.Context, id billing.PurchaseID) (*billing.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.purchases[id]
	if !ok {
		return nil, nil
	}
	c := clonePurchase(p)
	return &c, nil
}

func (m *Memory) DeletePurchase(_ context.Context, id billing.PurchaseID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.purchases, id)
	return nil
}

func (m *Memory) UnbilledPurchasesByUser(_ context.Context, user billing.UserID) ([]billing.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.Purchase
	for _, p := range m.purchases {
		if p.UserID == user && p.InvoiceID == nil {
			out = append(out, clonePurchase(p))
		}
	}
	sortPurchases(out)
	return out, nil
}

func (m *Memory) PurchasesByInvoice(_ context.Context, invoice billing.InvoiceID) ([]billing.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.Purchase
	for _, p := range m.purchases {
		if p.InvoiceID != nil && *p.InvoiceID == invoice {
			out = append(out, clonePurchase(p))
		}
	}
	sortPurchases(out)
	return out, nil
}

func (m *Memory) ListPurchases(_ context.Context, f billing.PurchaseFilter) ([]billing.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.Purchase
	for _, p := range m.purchases {
		if f.UserID != "" && p.UserID != f.UserID {
			continue
		}
		if !f.From.IsZero() && p.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && p.CreatedAt.After(f.To) {
			continue
		}
		if f.CategoryName != "" && !containsFold(p.CategoryName, f.CategoryName) {
			continue
		}
		if f.ProductName != "" && !containsFold(p.ProductName, f.ProductName) {
			continue
		}
		out = append(out, clonePurchase(p))
	}
	sortPurchases(out)
	return out, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) SavePayment(_ context.Context, p billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = clonePayment(p)
	return nil
}

func (m *Memory) GetPayment(_ context.Context, id billing.PaymentID) (*billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, nil
	}
	c := clonePayment(p)
	return &c, nil
}

func (m *Memory) DeletePayment(_ context.Context, id billing.PaymentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.payments, id)
	return nil
}

func (m *Memory) UnbilledPaymentsByUser(_ context.Context, user billing.UserID) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.Payment
	for _, p := range m.payments {
		if p.UserID == user && p.InvoiceID == nil {
			out = append(out, clonePayment(p))
		}
	}
	sortPayments(out)
	return out, nil
}

func (m *Memory) PaymentsByInvoice(_ context.Context, invoice billing.InvoiceID) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.Payment
	for _, p := range m.payments {
		if p.InvoiceID != nil && *p.InvoiceID == invoice {
			out = append(out, clonePayment(p))
		}
	}
	sortPayments(out)
	return out, nil
}

func (m *Memory) ListPayments(_ context.Context, f billing.PaymentFilter) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.Payment
	for _, p := range m.payments {
		if f.UserID != "" && p.UserID != f.UserID {
			continue
		}
		if !f.From.IsZero() && p.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && p.CreatedAt.After(f.To) {
			continue
		}
		out = append(out, clonePayment(p))
	}
	sortPayments(out)
	return out, nil
}

// =============================================================================
// INVOICES
// =============================================================================

func (m *Memory) SaveInvoice(_ context.Context, inv billing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.ID] = inv
	return nil
}

func (m *Memory) GetInvoice(_ context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.invoices[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (m *Memory) InvoicesByRecipient(_ context.Context, recipient billing.UserID) ([]billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.Invoice
	for _, inv := range m.invoices {
		if inv.RecipientID == recipient {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteInvoice detaches linked purchases and payments, then removes the
// invoice row. All under one lock: the nullify-then-delete is atomic.
func (m *Memory) DeleteInvoice(_ context.Context, id billing.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for pid, p := range m.purchases {
		if p.InvoiceID != nil && *p.InvoiceID == id {
			p.InvoiceID = nil
			m.purchases[pid] = p
		}
	}
	for pid, p := range m.payments {
		if p.InvoiceID != nil && *p.InvoiceID == id {
			p.InvoiceID = nil
			m.payments[pid] = p
		}
	}
	delete(m.invoices, id)
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn against a deep copy of the store. On success the copy
// replaces the live state; on error it is discarded, so no partial writes
// are ever visible. The store-wide lock serializes transactions, which
// also prevents two concurrent invoice runs from claiming the same
// unbilled rows.
func (m *Memory) WithTx(_ context.Context, fn func(billing.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := m.cloneLocked()
	if err := fn(clone); err != nil {
		return err
	}

	m.users = clone.users
	m.categories = clone.categories
	m.products = clone.products
	m.freeItems = clone.freeItems
	m.purchases = clone.purchases
	m.payments = clone.payments
	m.invoices = clone.invoices
	return nil
}

func (m *Memory) cloneLocked() *Memory {
	clone := NewMemory()
	for k, v := range m.users {
		clone.users[k] = cloneUser(v)
	}
	for k, v := range m.categories {
		clone.categories[k] = v
	}
	for k, v := range m.products {
		clone.products[k] = v
	}
	for k, v := range m.freeItems {
		clone.freeItems[k] = cloneFreeItem(v)
	}
	for k, v := range m.purchases {
		clone.purchases[k] = clonePurchase(v)
	}
	for k, v := range m.payments {
		clone.payments[k] = clonePayment(v)
	}
	for k, v := range m.invoices {
		clone.invoices[k] = v
	}
	return clone
}

// =============================================================================
// HELPERS
// =============================================================================

func cloneUser(u billing.User) billing.User {
	if u.PaidBy != nil {
		id := *u.PaidBy
		u.PaidBy = &id
	}
	return u
}

func cloneFreeItem(fi billing.FreeItem) billing.FreeItem {
	if fi.GiverID != nil {
		id := *fi.GiverID
		fi.GiverID = &id
	}
	return fi
}

func clonePurchase(p billing.Purchase) billing.Purchase {
	if p.InvoiceID != nil {
		id := *p.InvoiceID
		p.InvoiceID = &id
	}
	return p
}

func clonePayment(p billing.Payment) billing.Payment {
	if p.InvoiceID != nil {
		id := *p.InvoiceID
		p.InvoiceID = &id
	}
	return p
}

func sortPurchases(ps []billing.Purchase) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

func sortPayments(ps []billing.Payment) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
