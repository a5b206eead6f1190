/*
service.go - Inbound operations of the billing engine

PURPOSE:
  The Service is what callers (HTTP handlers, admin jobs) talk to. Every
  mutation gathers its validation facts and performs its writes inside one
  store transaction, so the invariant checks in validate.go cannot race
  with concurrent admin actions.

OPERATIONS:
  Users:     CreateUser, UpdateUser, SetPayer, AccountBalance, ToPayBy
  Purchases: RecordPurchase, RecordFreeItemPurchase, GiveAway, DeletePurchase
  Payments:  RecordPayment, DeletePayment
  Catalog:   CreateCategory, DeleteCategory, SaveProduct, BatchUpdateProducts

AUTOLOCK AND PURCHASING:
  A locked account is barred from buying by the presentation layer. The
  engine maintains the flag and exposes CanPurchase, which also covers the
  "payer is autolocked" case for dependents; RecordPurchase itself only
  enforces the hard data rules (active, buyer, quantity, catalog state).
*/
package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Service exposes the inbound operations over a transactional store.
type Service struct {
	store TxStore
	log   *slog.Logger

	now func() time.Time
}

func NewService(store TxStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log, now: time.Now}
}

// Store exposes the underlying store for read-only callers (exports,
// statistics, handlers listing entities).
func (s *Service) Store() TxStore { return s.store }

// =============================================================================
// USERS
// =============================================================================

// CreateUser persists a new user after validating the payer invariants.
func (s *Service) CreateUser(ctx context.Context, u User) (*User, error) {
	if u.ID == "" {
		u.ID = UserID(NewID())
	}
	if u.Email == "" {
		return nil, &ValidationError{Field: "email", Message: "must not be empty"}
	}
	if u.DisplayName == "" {
		return nil, &ValidationError{Field: "display_name", Message: "must not be empty"}
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now

	err := s.store.WithTx(ctx, func(st Store) error {
		env, err := s.changeEnv(ctx, st, nil, &u)
		if err != nil {
			return err
		}
		if err := ValidateUserChange(nil, &u, env); err != nil {
			return err
		}
		return st.SaveUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUser validates and persists a changed user.
func (s *Service) UpdateUser(ctx context.Context, u User) error {
	return s.store.WithTx(ctx, func(st Store) error {
		old, err := st.GetUser(ctx, u.ID)
		if err != nil {
			return &PersistenceError{Op: "load user", Err: err}
		}
		if old == nil {
			return &NotFoundError{Kind: "user", ID: string(u.ID)}
		}
		u.CreatedAt = old.CreatedAt
		u.UpdatedAt = s.now()

		env, err := s.changeEnv(ctx, st, old, &u)
		if err != nil {
			return err
		}
		if err := ValidateUserChange(old, &u, env); err != nil {
			return err
		}
		return st.SaveUser(ctx, u)
	})
}

// SetPayer switches a user between self-paying (payer == nil) and
// dependent of payer, subject to the transition invariants.
func (s *Service) SetPayer(ctx context.Context, userID UserID, payer *UserID) error {
	return s.store.WithTx(ctx, func(st Store) error {
		old, err := st.GetUser(ctx, userID)
		if err != nil {
			return &PersistenceError{Op: "load user", Err: err}
		}
		if old == nil {
			return &NotFoundError{Kind: "user", ID: string(userID)}
		}

		updated := *old
		updated.PaidBy = payer
		updated.UpdatedAt = s.now()

		env, err := s.changeEnv(ctx, st, old, &updated)
		if err != nil {
			return err
		}
		if err := ValidateUserChange(old, &updated, env); err != nil {
			return err
		}
		return st.SaveUser(ctx, updated)
	})
}

// changeEnv assembles the validation facts for a user change inside the
// enclosing transaction.
func (s *Service) changeEnv(ctx context.Context, st Store, old, updated *User) (ChangeEnv, error) {
	var env ChangeEnv

	if updated.PaidBy != nil && *updated.PaidBy != updated.ID {
		payer, err := st.GetUser(ctx, *updated.PaidBy)
		if err != nil {
			return env, &PersistenceError{Op: "load payer", Err: err}
		}
		env.Payer = payer
	}

	deps, err := st.Dependents(ctx, updated.ID)
	if err != nil {
		return env, &PersistenceError{Op: "load dependents", Err: err}
	}
	env.TotalDependents = len(deps)
	for i := range deps {
		if deps[i].IsActive {
			env.ActiveDependents++
		}
	}

	// Balance and unbilled payments only matter when switching toward a
	// dependent; cheap enough to always gather for an existing user.
	if old != nil {
		invoices, err := st.InvoicesByRecipient(ctx, updated.ID)
		if err != nil {
			return env, &PersistenceError{Op: "load invoice history", Err: err}
		}
		env.Balance = AccountBalance(invoices)

		unbilled, err := st.UnbilledPaymentsByUser(ctx, updated.ID)
		if err != nil {
			return env, &PersistenceError{Op: "load unbilled payments", Err: err}
		}
		env.HasUnbilledPayments = len(unbilled) > 0
	}

	return env, nil
}

// AccountBalance derives the user's current balance from their invoices.
// Users with no invoices have a zero balance.
func (s *Service) AccountBalance(ctx context.Context, userID UserID) (decimal.Decimal, error) {
	invoices, err := s.store.InvoicesByRecipient(ctx, userID)
	if err != nil {
		return decimal.Zero, &PersistenceError{Op: "load invoice history", Err: err}
	}
	return AccountBalance(invoices), nil
}

// ToPayBy returns the unbilled purchases a user must ultimately pay:
// their own when self-paying, plus every dependent's.
func (s *Service) ToPayBy(ctx context.Context, userID UserID) ([]Purchase, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, &PersistenceError{Op: "load user", Err: err}
	}
	if user == nil {
		return nil, &NotFoundError{Kind: "user", ID: string(userID)}
	}

	var out []Purchase
	if user.SelfPays() {
		own, err := s.store.UnbilledPurchasesByUser(ctx, userID)
		if err != nil {
			return nil, &PersistenceError{Op: "load unbilled purchases", Err: err}
		}
		out = append(out, own...)
	}

	deps, err := s.store.Dependents(ctx, userID)
	if err != nil {
		return nil, &PersistenceError{Op: "load dependents", Err: err}
	}
	for _, dep := range deps {
		ps, err := s.store.UnbilledPurchasesByUser(ctx, dep.ID)
		if err != nil {
			return nil, &PersistenceError{Op: "load dependent purchases", Err: err}
		}
		out = append(out, ps...)
	}
	return out, nil
}

// CanPurchase reports why a user is currently barred from buying, nil if
// they may buy. The presentation layer calls this before offering the
// purchase UI; it covers the payer-is-autolocked case for dependents.
func (s *Service) CanPurchase(ctx context.Context, userID UserID) error {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return &PersistenceError{Op: "load user", Err: err}
	}
	if user == nil {
		return &NotFoundError{Kind: "user", ID: string(userID)}
	}
	if !user.IsActive || !user.IsBuyer {
		return &InvalidStateError{UserID: userID, Reason: "user is not an active buyer"}
	}

	payer := user
	if !user.SelfPays() {
		payer, err = s.store.GetUser(ctx, *user.PaidBy)
		if err != nil {
			return &PersistenceError{Op: "load payer", Err: err}
		}
		if payer == nil {
			return &NotFoundError{Kind: "user", ID: string(*user.PaidBy)}
		}
	}
	if payer.IsAutolocked {
		return &InvalidStateError{UserID: payer.ID, Reason: "paying account is autolocked"}
	}
	return nil
}

// =============================================================================
// PURCHASES
// =============================================================================

// RecordPurchase snapshots the product and persists a purchase for the
// user. The snapshot shields the row from later catalog edits.
func (s *Service) RecordPurchase(ctx context.Context, userID UserID, productID ProductID, quantity int, comment string) (*Purchase, error) {
	if quantity < 1 {
		return nil, &ValidationError{Field: "quantity", Message: "must be at least 1"}
	}

	var created Purchase
	err := s.store.WithTx(ctx, func(st Store) error {
		user, err := s.requireBuyer(ctx, st, userID)
		if err != nil {
			return err
		}

		product, err := st.GetProduct(ctx, productID)
		if err != nil {
			return &PersistenceError{Op: "load product", Err: err}
		}
		if product == nil {
			return &NotFoundError{Kind: "product", ID: string(productID)}
		}
		if !product.IsActive {
			return &ValidationError{Field: "product", Message: "not active"}
		}

		category, err := st.GetCategory(ctx, product.CategoryID)
		if err != nil {
			return &PersistenceError{Op: "load category", Err: err}
		}
		categoryName := ""
		if category != nil {
			categoryName = category.Name
		}

		created = NewPurchaseFromProduct(user.ID, *product, categoryName, quantity, comment, s.now())
		return st.SavePurchase(ctx, created)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// RecordFreeItemPurchase debits a free-item allotment instead of the
// user's account: the purchase row costs zero and the leftover quantity
// drops by the purchased quantity, atomically. The leftover never goes
// negative.
func (s *Service) RecordFreeItemPurchase(ctx context.Context, userID UserID, freeItemID FreeItemID, quantity int, comment string) (*Purchase, error) {
	var created Purchase
	err := s.store.WithTx(ctx, func(st Store) error {
		user, err := s.requireBuyer(ctx, st, userID)
		if err != nil {
			return err
		}

		fi, err := st.GetFreeItem(ctx, freeItemID)
		if err != nil {
			return &PersistenceError{Op: "load free item", Err: err}
		}
		if fi == nil {
			return &NotFoundError{Kind: "free item", ID: string(freeItemID)}
		}
		if err := ValidateFreeItemPurchase(fi, quantity); err != nil {
			return err
		}

		product, err := st.GetProduct(ctx, fi.ProductID)
		if err != nil {
			return &PersistenceError{Op: "load product", Err: err}
		}
		if product == nil {
			return &NotFoundError{Kind: "product", ID: string(fi.ProductID)}
		}
		category, err := st.GetCategory(ctx, product.CategoryID)
		if err != nil {
			return &PersistenceError{Op: "load category", Err: err}
		}
		categoryName := ""
		if category != nil {
			categoryName = category.Name
		}

		now := s.now()
		created = NewPurchaseFromProduct(user.ID, *product, categoryName, quantity, comment, now)
		created.IsFreeItemPurchase = true
		created.FreeItemDescription = freeItemDescription(fi, product)
		if err := st.SavePurchase(ctx, created); err != nil {
			return err
		}

		fi.Leftover -= quantity
		if fi.Leftover == 0 {
			fi.Purchasable = false
		}
		return st.SaveFreeItem(ctx, *fi)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// CreateFreeItem opens a sponsored allotment of an existing product.
func (s *Service) CreateFreeItem(ctx context.Context, productID ProductID, leftover int, purchasable bool, comment string) (*FreeItem, error) {
	if leftover < 1 {
		return nil, &ValidationError{Field: "leftover", Message: "must be at least 1"}
	}

	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, &PersistenceError{Op: "load product", Err: err}
	}
	if product == nil {
		return nil, &NotFoundError{Kind: "product", ID: string(productID)}
	}

	fi := FreeItem{
		ID:          FreeItemID(NewID()),
		ProductID:   product.ID,
		Leftover:    leftover,
		Purchasable: purchasable,
		Comment:     comment,
		CreatedAt:   s.now(),
	}
	if err := s.store.SaveFreeItem(ctx, fi); err != nil {
		return nil, err
	}
	return &fi, nil
}

func freeItemDescription(fi *FreeItem, product *Product) string {
	desc := product.Name + " " + product.Amount
	if fi.Comment != "" {
		desc += " (" + fi.Comment + ")"
	}
	return desc
}

// GiveAway records a normal (paid) purchase by the giver and creates a
// free-item allotment of the same product for everyone else. Both legs
// run in one transaction: if the grant cannot be created, the giver is
// not charged.
func (s *Service) GiveAway(ctx context.Context, giverID UserID, productID ProductID, quantity int, comment string) (*Purchase, *FreeItem, error) {
	if quantity < 1 {
		return nil, nil, &ValidationError{Field: "quantity", Message: "must be at least 1"}
	}

	var (
		purchase Purchase
		grant    FreeItem
	)
	err := s.store.WithTx(ctx, func(st Store) error {
		giver, err := s.requireBuyer(ctx, st, giverID)
		if err != nil {
			return err
		}

		product, err := st.GetProduct(ctx, productID)
		if err != nil {
			return &PersistenceError{Op: "load product", Err: err}
		}
		if product == nil {
			return &NotFoundError{Kind: "product", ID: string(productID)}
		}
		if !product.IsActive {
			return &ValidationError{Field: "product", Message: "not active"}
		}
		category, err := st.GetCategory(ctx, product.CategoryID)
		if err != nil {
			return &PersistenceError{Op: "load category", Err: err}
		}
		categoryName := ""
		if category != nil {
			categoryName = category.Name
		}

		now := s.now()
		purchase = NewPurchaseFromProduct(giver.ID, *product, categoryName, quantity, comment, now)
		if err := st.SavePurchase(ctx, purchase); err != nil {
			return err
		}

		giver2 := giver.ID
		grant = FreeItem{
			ID:          FreeItemID(NewID()),
			ProductID:   product.ID,
			Leftover:    quantity,
			Purchasable: true,
			GiverID:     &giver2,
			Comment:     comment,
			CreatedAt:   now,
		}
		return st.SaveFreeItem(ctx, grant)
	})
	if err != nil {
		return nil, nil, err
	}
	return &purchase, &grant, nil
}

// UpdatePurchase edits the quantity and comment of an existing purchase.
// Ownership, the product snapshot and the invoice linkage always come
// from the stored row; billed rows are frozen.
func (s *Service) UpdatePurchase(ctx context.Context, id PurchaseID, quantity int, comment string) (*Purchase, error) {
	var saved Purchase
	err := s.store.WithTx(ctx, func(st Store) error {
		old, err := st.GetPurchase(ctx, id)
		if err != nil {
			return &PersistenceError{Op: "load purchase", Err: err}
		}
		if old == nil {
			return &NotFoundError{Kind: "purchase", ID: string(id)}
		}
		if quantity < 1 {
			return &ValidationError{Field: "quantity", Message: "must be at least 1"}
		}

		updated := *old
		updated.Quantity = quantity
		updated.Comment = comment
		updated.UpdatedAt = s.now()
		if err := ValidatePurchaseMutation(old, &updated); err != nil {
			return err
		}
		saved = updated
		return st.SavePurchase(ctx, saved)
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// DeletePurchase removes an unbilled purchase. Billed purchases are
// immutable; delete the invoice first.
func (s *Service) DeletePurchase(ctx context.Context, id PurchaseID) error {
	return s.store.WithTx(ctx, func(st Store) error {
		p, err := st.GetPurchase(ctx, id)
		if err != nil {
			return &PersistenceError{Op: "load purchase", Err: err}
		}
		if p == nil {
			return &NotFoundError{Kind: "purchase", ID: string(id)}
		}
		if p.Billed() {
			return &ImmutableRecordError{Kind: "purchase", ID: string(id), InvoiceID: *p.InvoiceID}
		}
		return st.DeletePurchase(ctx, id)
	})
}

func (s *Service) requireBuyer(ctx context.Context, st Store, userID UserID) (*User, error) {
	user, err := st.GetUser(ctx, userID)
	if err != nil {
		return nil, &PersistenceError{Op: "load user", Err: err}
	}
	if user == nil {
		return nil, &NotFoundError{Kind: "user", ID: string(userID)}
	}
	if !user.IsActive || !user.IsBuyer {
		return nil, &InvalidStateError{UserID: userID, Reason: "user is not an active buyer"}
	}
	return user, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RecordPayment persists a deposit (positive) or payout (negative) for a
// self-paying user.
func (s *Service) RecordPayment(ctx context.Context, userID UserID, amount decimal.Decimal, method PaymentMethod, comment string, valueDate time.Time) (*Payment, error) {
	var created Payment
	err := s.store.WithTx(ctx, func(st Store) error {
		user, err := st.GetUser(ctx, userID)
		if err != nil {
			return &PersistenceError{Op: "load user", Err: err}
		}

		now := s.now()
		if valueDate.IsZero() {
			valueDate = now
		}
		created = Payment{
			ID:        PaymentID(NewID()),
			UserID:    userID,
			Amount:    amount,
			Comment:   comment,
			Method:    method,
			CreatedAt: now,
			ValueDate: valueDate,
		}
		if err := ValidatePaymentCreation(&created, user); err != nil {
			return err
		}
		return st.SavePayment(ctx, created)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdatePayment edits the amount, method, comment and value date of an
// existing payment. Ownership and the invoice linkage always come from
// the stored row; billed rows are frozen.
func (s *Service) UpdatePayment(ctx context.Context, id PaymentID, amount decimal.Decimal, method PaymentMethod, comment string, valueDate time.Time) (*Payment, error) {
	var saved Payment
	err := s.store.WithTx(ctx, func(st Store) error {
		old, err := st.GetPayment(ctx, id)
		if err != nil {
			return &PersistenceError{Op: "load payment", Err: err}
		}
		if old == nil {
			return &NotFoundError{Kind: "payment", ID: string(id)}
		}
		if !ValidMethod(method) {
			return &ValidationError{Field: "method", Message: "unknown payment method"}
		}

		updated := *old
		updated.Amount = amount
		updated.Method = method
		updated.Comment = comment
		if !valueDate.IsZero() {
			updated.ValueDate = valueDate
		}
		if err := ValidatePaymentMutation(old, &updated); err != nil {
			return err
		}
		saved = updated
		return st.SavePayment(ctx, saved)
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// DeletePayment removes an unbilled payment. Billed payments are
// immutable; delete the invoice first.
func (s *Service) DeletePayment(ctx context.Context, id PaymentID) error {
	return s.store.WithTx(ctx, func(st Store) error {
		p, err := st.GetPayment(ctx, id)
		if err != nil {
			return &PersistenceError{Op: "load payment", Err: err}
		}
		if p == nil {
			return &NotFoundError{Kind: "payment", ID: string(id)}
		}
		if p.Billed() {
			return &ImmutableRecordError{Kind: "payment", ID: string(id), InvoiceID: *p.InvoiceID}
		}
		return st.DeletePayment(ctx, id)
	})
}

// =============================================================================
// CATALOG
// =============================================================================

// CreateCategory persists a new category.
func (s *Service) CreateCategory(ctx context.Context, name string) (*Category, error) {
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "must not be empty"}
	}
	c := Category{ID: CategoryID(NewID()), Name: name}
	if err := s.store.SaveCategory(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteCategory removes a category unless products still reference it.
func (s *Service) DeleteCategory(ctx context.Context, id CategoryID) error {
	return s.store.WithTx(ctx, func(st Store) error {
		c, err := st.GetCategory(ctx, id)
		if err != nil {
			return &PersistenceError{Op: "load category", Err: err}
		}
		if c == nil {
			return &NotFoundError{Kind: "category", ID: string(id)}
		}
		products, err := st.ListProducts(ctx, ProductFilter{CategoryID: id})
		if err != nil {
			return &PersistenceError{Op: "list products", Err: err}
		}
		if len(products) > 0 {
			return &InvalidStateError{Reason: "category still has products"}
		}
		return st.DeleteCategory(ctx, id)
	})
}

// SaveProduct validates and persists a product (create or update).
func (s *Service) SaveProduct(ctx context.Context, p Product) (*Product, error) {
	if p.ID == "" {
		p.ID = ProductID(NewID())
	}
	if err := ValidateProduct(&p); err != nil {
		return nil, err
	}
	if err := s.store.SaveProduct(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ProductChange is one batch-update step applied to a set of products.
// Nil fields are left untouched.
type ProductChange struct {
	Price    *decimal.Decimal
	IsActive *bool
	IsBold   *bool
}

// BatchUpdateProducts applies one change to many products atomically.
// This is the batch-update utility behind scheduled catalog changes; the
// scheduling itself lives outside the engine.
func (s *Service) BatchUpdateProducts(ctx context.Context, ids []ProductID, change ProductChange) error {
	return s.store.WithTx(ctx, func(st Store) error {
		for _, id := range ids {
			p, err := st.GetProduct(ctx, id)
			if err != nil {
				return &PersistenceError{Op: "load product", Err: err}
			}
			if p == nil {
				return &NotFoundError{Kind: "product", ID: string(id)}
			}
			if change.Price != nil {
				p.Price = *change.Price
			}
			if change.IsActive != nil {
				p.IsActive = *change.IsActive
			}
			if change.IsBold != nil {
				p.IsBold = *change.IsBold
			}
			if err := ValidateProduct(p); err != nil {
				return err
			}
			if err := st.SaveProduct(ctx, *p); err != nil {
				return err
			}
		}
		return nil
	})
}
