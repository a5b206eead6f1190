/*
seed.go - Demo data loader

PURPOSE:
  Populates a fresh database with a small bar: categories, a priced
  catalog, a handful of users including a payer/dependent pair, and some
  open purchases and payments. Meant for development and demos, wired to
  POST /api/admin/seed.

IDEMPOTENCE:
  The seed is NOT idempotent. Running it against a populated database
  fails on the uniqueness constraints; use a fresh database file.

SEE ALSO:
  - handlers.go: Handler context
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/bartab/billing"
)

// SeedDemoData loads the demo dataset.
// POST /api/admin/seed
func (h *Handler) SeedDemoData(w http.ResponseWriter, r *http.Request) {
	if err := h.seed(r.Context()); err != nil {
		writeError(w, http.StatusConflict, "Failed to seed demo data", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{"seeded"})
}

func (h *Handler) seed(ctx context.Context) error {
	beer, err := h.svc.CreateCategory(ctx, "Beer")
	if err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}
	softDrinks, err := h.svc.CreateCategory(ctx, "Soft Drinks")
	if err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}
	snacks, err := h.svc.CreateCategory(ctx, "Snacks")
	if err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}

	products := []billing.Product{
		{Name: "Lager", Price: billing.MustMoney("1.05"), Amount: "0.5l", CategoryID: beer.ID, IsActive: true, IsBold: true},
		{Name: "Wheat Beer", Price: billing.MustMoney("1.20"), Amount: "0.5l", CategoryID: beer.ID, IsActive: true},
		{Name: "Cola", Price: billing.MustMoney("0.90"), Amount: "0.33l", CategoryID: softDrinks.ID, IsActive: true},
		{Name: "Sparkling Water", Price: billing.MustMoney("0.50"), Amount: "0.5l", CategoryID: softDrinks.ID, IsActive: true},
		{Name: "Peanuts", Price: billing.MustMoney("1.50"), Amount: "100g", CategoryID: snacks.ID, IsActive: true},
	}
	saved := make([]*billing.Product, len(products))
	for i, p := range products {
		sp, err := h.svc.SaveProduct(ctx, p)
		if err != nil {
			return fmt.Errorf("seed products: %w", err)
		}
		saved[i] = sp
	}

	alice, err := h.svc.CreateUser(ctx, billing.User{
		Email: "alice@example.com", DisplayName: "Alice",
		IsActive: true, IsBuyer: true, IsFavorite: true, IsAdmin: true,
	})
	if err != nil {
		return fmt.Errorf("seed users: %w", err)
	}
	bob, err := h.svc.CreateUser(ctx, billing.User{
		Email: "bob@example.com", DisplayName: "Bob",
		IsActive: true, IsBuyer: true,
	})
	if err != nil {
		return fmt.Errorf("seed users: %w", err)
	}
	// Carol drinks on Bob's tab.
	_, err = h.svc.CreateUser(ctx, billing.User{
		Email: "carol@example.com", DisplayName: "Carol",
		IsActive: true, IsBuyer: true, PaidBy: &bob.ID,
	})
	if err != nil {
		return fmt.Errorf("seed users: %w", err)
	}

	if _, err := h.svc.RecordPurchase(ctx, alice.ID, saved[0].ID, 2, ""); err != nil {
		return fmt.Errorf("seed purchases: %w", err)
	}
	if _, err := h.svc.RecordPurchase(ctx, bob.ID, saved[2].ID, 1, ""); err != nil {
		return fmt.Errorf("seed purchases: %w", err)
	}

	if _, err := h.svc.RecordPayment(ctx, alice.ID, billing.MustMoney("10.00"),
		billing.MethodCash, "opening deposit", time.Now()); err != nil {
		return fmt.Errorf("seed payments: %w", err)
	}

	h.log.Info("demo data seeded",
		"users", 3, "products", len(saved), "categories", 3)
	return nil
}
