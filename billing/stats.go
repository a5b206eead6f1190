/*
stats.go - Ranking aggregations over purchase history

PURPOSE:
  Read-only display statistics: who bought the most units, who spent the
  most, which products and categories move. Pure functions over purchase
  slices; the Service wrappers add the store reads. Sums always match the
  filtered record set, nothing more is guaranteed.
*/
package billing

import (
	"context"
	"math/rand"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TYPED RESULT RECORDS
// =============================================================================

type UserPurchaseRanking struct {
	UserID        UserID
	DisplayName   string
	TotalQuantity int
}

type UserCostRanking struct {
	UserID      UserID
	DisplayName string
	TotalCost   decimal.Decimal
}

type ProductRanking struct {
	ProductName   string
	ProductAmount string
	TotalQuantity int
}

type CategoryRanking struct {
	CategoryName  string
	TotalQuantity int
}

// =============================================================================
// PURE AGGREGATIONS
// =============================================================================

// TopUsersByQuantity ranks users by units bought. names maps user IDs to
// display names; unknown users keep their ID as the name.
func TopUsersByQuantity(purchases []Purchase, names map[UserID]string, limit int) []UserPurchaseRanking {
	totals := make(map[UserID]int)
	for i := range purchases {
		totals[purchases[i].UserID] += purchases[i].Quantity
	}

	out := make([]UserPurchaseRanking, 0, len(totals))
	for id, qty := range totals {
		out = append(out, UserPurchaseRanking{UserID: id, DisplayName: displayName(names, id), TotalQuantity: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalQuantity != out[j].TotalQuantity {
			return out[i].TotalQuantity > out[j].TotalQuantity
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return clip(out, limit)
}

// TopUsersByCost ranks users by money spent.
func TopUsersByCost(purchases []Purchase, names map[UserID]string, limit int) []UserCostRanking {
	totals := make(map[UserID]decimal.Decimal)
	for i := range purchases {
		totals[purchases[i].UserID] = totals[purchases[i].UserID].Add(purchases[i].Cost())
	}

	out := make([]UserCostRanking, 0, len(totals))
	for id, cost := range totals {
		out = append(out, UserCostRanking{UserID: id, DisplayName: displayName(names, id), TotalCost: RoundMoney(cost)})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TotalCost.Equal(out[j].TotalCost) {
			return out[i].TotalCost.GreaterThan(out[j].TotalCost)
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return clip(out, limit)
}

// TopProducts ranks (name, amount) pairs by units sold.
func TopProducts(purchases []Purchase, limit int) []ProductRanking {
	type key struct{ name, amount string }
	totals := make(map[key]int)
	for i := range purchases {
		totals[key{purchases[i].ProductName, purchases[i].ProductAmount}] += purchases[i].Quantity
	}

	out := make([]ProductRanking, 0, len(totals))
	for k, qty := range totals {
		out = append(out, ProductRanking{ProductName: k.name, ProductAmount: k.amount, TotalQuantity: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalQuantity != out[j].TotalQuantity {
			return out[i].TotalQuantity > out[j].TotalQuantity
		}
		return out[i].ProductName < out[j].ProductName
	})
	return clip(out, limit)
}

// TopCategories ranks category names by units sold.
func TopCategories(purchases []Purchase, limit int) []CategoryRanking {
	totals := make(map[string]int)
	for i := range purchases {
		totals[purchases[i].CategoryName] += purchases[i].Quantity
	}

	out := make([]CategoryRanking, 0, len(totals))
	for name, qty := range totals {
		out = append(out, CategoryRanking{CategoryName: name, TotalQuantity: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalQuantity != out[j].TotalQuantity {
			return out[i].TotalQuantity > out[j].TotalQuantity
		}
		return out[i].CategoryName < out[j].CategoryName
	})
	return clip(out, limit)
}

// Shuffle randomizes display order using the caller's random source, so
// rotating stats panels stay reproducible under a fixed seed.
func Shuffle[T any](r *rand.Rand, items []T) {
	r.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}

func displayName(names map[UserID]string, id UserID) string {
	if n, ok := names[id]; ok {
		return n
	}
	return string(id)
}

func clip[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// =============================================================================
// SERVICE WRAPPERS
// =============================================================================

// StatsPurchasesByUser ranks users by units bought within the filter.
func (s *Service) StatsPurchasesByUser(ctx context.Context, f PurchaseFilter, limit int) ([]UserPurchaseRanking, error) {
	purchases, names, err := s.filteredPurchases(ctx, f)
	if err != nil {
		return nil, err
	}
	return TopUsersByQuantity(purchases, names, limit), nil
}

// StatsCostByUser ranks users by money spent within the filter.
func (s *Service) StatsCostByUser(ctx context.Context, f PurchaseFilter, limit int) ([]UserCostRanking, error) {
	purchases, names, err := s.filteredPurchases(ctx, f)
	if err != nil {
		return nil, err
	}
	return TopUsersByCost(purchases, names, limit), nil
}

// StatsProducts ranks products by units sold within the filter.
func (s *Service) StatsProducts(ctx context.Context, f PurchaseFilter, limit int) ([]ProductRanking, error) {
	purchases, err := s.store.ListPurchases(ctx, f)
	if err != nil {
		return nil, &PersistenceError{Op: "list purchases", Err: err}
	}
	return TopProducts(purchases, limit), nil
}

// StatsCategories ranks categories by units sold within the filter.
func (s *Service) StatsCategories(ctx context.Context, f PurchaseFilter, limit int) ([]CategoryRanking, error) {
	purchases, err := s.store.ListPurchases(ctx, f)
	if err != nil {
		return nil, &PersistenceError{Op: "list purchases", Err: err}
	}
	return TopCategories(purchases, limit), nil
}

func (s *Service) filteredPurchases(ctx context.Context, f PurchaseFilter) ([]Purchase, map[UserID]string, error) {
	purchases, err := s.store.ListPurchases(ctx, f)
	if err != nil {
		return nil, nil, &PersistenceError{Op: "list purchases", Err: err}
	}
	users, err := s.store.ListUsers(ctx, UserFilter{})
	if err != nil {
		return nil, nil, &PersistenceError{Op: "list users", Err: err}
	}
	names := make(map[UserID]string, len(users))
	for i := range users {
		names[users[i].ID] = users[i].DisplayName
	}
	return purchases, names, nil
}
