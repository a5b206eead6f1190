/*
invoice.go - Invoice generation, the central billing transaction

PURPOSE:
  CreateInvoiceForUser bundles every unbilled purchase and payment a
  self-paying user is responsible for (their own and all dependents') into
  one new Invoice and stamps the records as billed, atomically.

THE TRANSACTION:
  1. Load the recipient; reject dependents.
  2. Persist a fresh invoice row with zero amounts. The ID is a UUID minted
     up front, so the children can be stamped inside the same transaction.
  3. Sum the recipient's own unbilled purchases, THEN mark them billed.
     The sum must be computed before marking: marking removes the rows from
     the unbilled view.
  4. Same for each dependent's unbilled purchases, dependents ordered by
     display name for determinism.
  5. Sum and mark the recipient's own unbilled payments.
  6. Persist the final amounts and comment, apply the autolock hysteresis.

  All six steps run inside one WithTx. A storage failure anywhere rolls the
  whole run back: no invoice row, no billed records, no partial state.

IDEMPOTENCE:
  Running twice in a row yields a second invoice with zero amounts, since
  nothing remains unbilled. Harmless, and the admin UI shows it as such.

BATCH RUNS:
  RunBilling invokes the transaction once per user. One user's failure
  (say, a DependentInvoiceError) never blocks the rest; outcomes and
  notification results are aggregated into a summary for the caller.
*/
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Invoicer runs the billing transactions.
type Invoicer struct {
	store    TxStore
	notifier Notifier
	lock     AutolockPolicy
	log      *slog.Logger

	now func() time.Time
}

// NewInvoicer wires an Invoicer. A nil notifier falls back to LogNotifier.
func NewInvoicer(store TxStore, notifier Notifier, lock AutolockPolicy, log *slog.Logger) *Invoicer {
	if notifier == nil {
		notifier = &LogNotifier{Log: log}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Invoicer{
		store:    store,
		notifier: notifier,
		lock:     lock,
		log:      log,
		now:      time.Now,
	}
}

// =============================================================================
// CREATE
// =============================================================================

// CreateInvoiceForUser creates the next invoice for a self-paying user,
// claiming all unbilled purchases (own and dependents') and payments.
func (i *Invoicer) CreateInvoiceForUser(ctx context.Context, userID UserID, comment string) (*Invoice, error) {
	var created *Invoice

	err := i.store.WithTx(ctx, func(s Store) error {
		user, err := s.GetUser(ctx, userID)
		if err != nil {
			return &PersistenceError{Op: "load recipient", Err: err}
		}
		if user == nil {
			return &NotFoundError{Kind: "user", ID: string(userID)}
		}
		if !user.SelfPays() {
			return &DependentInvoiceError{UserID: user.ID, PayerID: *user.PaidBy}
		}

		history, err := s.InvoicesByRecipient(ctx, userID)
		if err != nil {
			return &PersistenceError{Op: "load invoice history", Err: err}
		}
		balanceBefore := AccountBalance(history)

		now := i.now()
		inv := Invoice{
			ID:              InvoiceID(NewID()),
			RecipientID:     userID,
			AmountPurchases: decimal.Zero,
			AmountPayments:  decimal.Zero,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.SaveInvoice(ctx, inv); err != nil {
			return &PersistenceError{Op: "create invoice", Err: err}
		}

		// Own purchases: sum first, then mark.
		amountPurchases := decimal.Zero
		own, err := s.UnbilledPurchasesByUser(ctx, userID)
		if err != nil {
			return &PersistenceError{Op: "load unbilled purchases", Err: err}
		}
		amountPurchases = amountPurchases.Add(SumCost(own))
		if err := markPurchases(ctx, s, own, inv.ID, now); err != nil {
			return err
		}

		// Dependents' purchases, ordered by dependent for determinism.
		dependents, err := s.Dependents(ctx, userID)
		if err != nil {
			return &PersistenceError{Op: "load dependents", Err: err}
		}
		for _, dep := range dependents {
			depPurchases, err := s.UnbilledPurchasesByUser(ctx, dep.ID)
			if err != nil {
				return &PersistenceError{Op: "load dependent purchases", Err: err}
			}
			amountPurchases = amountPurchases.Add(SumCost(depPurchases))
			if err := markPurchases(ctx, s, depPurchases, inv.ID, now); err != nil {
				return err
			}
		}

		// Own payments.
		payments, err := s.UnbilledPaymentsByUser(ctx, userID)
		if err != nil {
			return &PersistenceError{Op: "load unbilled payments", Err: err}
		}
		amountPayments := SumAmount(payments)
		for _, p := range payments {
			id := inv.ID
			p.InvoiceID = &id
			if err := s.SavePayment(ctx, p); err != nil {
				return &PersistenceError{Op: "mark payment billed", Err: err}
			}
		}

		inv.AmountPurchases = RoundMoney(amountPurchases)
		inv.AmountPayments = RoundMoney(amountPayments)
		inv.Comment = comment
		inv.UpdatedAt = now
		if err := s.SaveInvoice(ctx, inv); err != nil {
			return &PersistenceError{Op: "finalize invoice", Err: err}
		}

		// Autolock hysteresis on the post-invoice balance, same transaction.
		balanceAfter := balanceBefore.Sub(inv.Due())
		locked := i.lock.Apply(user.IsAutolocked, balanceBefore, balanceAfter)
		if locked != user.IsAutolocked {
			user.IsAutolocked = locked
			user.UpdatedAt = now
			if err := s.SaveUser(ctx, *user); err != nil {
				return &PersistenceError{Op: "update autolock", Err: err}
			}
			i.log.Info("autolock changed",
				"user", user.DisplayName, "locked", locked, "balance", balanceAfter.String())
		}

		created = &inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func markPurchases(ctx context.Context, s Store, purchases []Purchase, invoice InvoiceID, now time.Time) error {
	for _, p := range purchases {
		id := invoice
		p.InvoiceID = &id
		p.UpdatedAt = now
		if err := s.SavePurchase(ctx, p); err != nil {
			return &PersistenceError{Op: "mark purchase billed", Err: err}
		}
	}
	return nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteInvoice detaches all linked purchases and payments back to
// unbilled and removes the invoice. Purchase and payment history is never
// destroyed by this.
func (i *Invoicer) DeleteInvoice(ctx context.Context, id InvoiceID) error {
	return i.store.WithTx(ctx, func(s Store) error {
		inv, err := s.GetInvoice(ctx, id)
		if err != nil {
			return &PersistenceError{Op: "load invoice", Err: err}
		}
		if inv == nil {
			return &NotFoundError{Kind: "invoice", ID: string(id)}
		}
		if err := s.DeleteInvoice(ctx, id); err != nil {
			return &PersistenceError{Op: "delete invoice", Err: err}
		}
		return nil
	})
}

// =============================================================================
// BATCH RUN
// =============================================================================

// BillingOutcome is the result for one user of a batch billing run.
type BillingOutcome struct {
	UserID      UserID
	DisplayName string
	Invoice     *Invoice
	Err         error
}

// BillingSummary aggregates a batch run for the admin's summary message.
type BillingSummary struct {
	Invoiced      int
	Failed        int
	Outcomes      []BillingOutcome
	Notifications NotifySummary
}

// RunBilling creates an invoice per user, sequentially. Users are
// processed independently: one failure is recorded and the run continues.
// Notifications go out after each commit and never undo an invoice.
func (i *Invoicer) RunBilling(ctx context.Context, userIDs []UserID, comment string) BillingSummary {
	var summary BillingSummary

	for _, id := range userIDs {
		outcome := BillingOutcome{UserID: id}
		if u, err := i.store.GetUser(ctx, id); err == nil && u != nil {
			outcome.DisplayName = u.DisplayName
		}

		inv, err := i.CreateInvoiceForUser(ctx, id, comment)
		if err != nil {
			outcome.Err = err
			summary.Failed++
			summary.Outcomes = append(summary.Outcomes, outcome)
			i.log.Warn("invoice generation failed", "user", id, "error", err)
			continue
		}

		outcome.Invoice = inv
		summary.Invoiced++

		recipient, err := i.store.GetUser(ctx, id)
		if err != nil || recipient == nil {
			summary.Notifications.record(outcome.DisplayName, fmt.Errorf("recipient unavailable"))
		} else {
			summary.Notifications.record(recipient.DisplayName,
				i.notifier.NotifyInvoiceCreated(ctx, inv, recipient))
		}

		summary.Outcomes = append(summary.Outcomes, outcome)
	}

	return summary
}

// SendReminders notifies every active self-paying user with a negative
// balance. Failures are counted per recipient, never fatal.
func (i *Invoicer) SendReminders(ctx context.Context) (NotifySummary, error) {
	var summary NotifySummary

	active := true
	users, err := i.store.ListUsers(ctx, UserFilter{IsActive: &active})
	if err != nil {
		return summary, &PersistenceError{Op: "list users", Err: err}
	}

	for idx := range users {
		u := users[idx]
		if !u.SelfPays() {
			continue
		}
		invoices, err := i.store.InvoicesByRecipient(ctx, u.ID)
		if err != nil {
			return summary, &PersistenceError{Op: "load invoice history", Err: err}
		}
		if !AccountBalance(invoices).IsNegative() {
			continue
		}
		summary.record(u.DisplayName, i.notifier.NotifyPaymentReminder(ctx, &u))
	}

	return summary, nil
}

// =============================================================================
// ONE-TIME BACKFILL
// =============================================================================

// BackfillPaymentInvoices creates a fresh invoice per user covering all of
// their unbilled payments. One-time import helper for historical data; it
// deliberately skips purchases and the autolock step. Returns the number
// of invoices created.
func (i *Invoicer) BackfillPaymentInvoices(ctx context.Context) (int, error) {
	users, err := i.store.ListUsers(ctx, UserFilter{})
	if err != nil {
		return 0, &PersistenceError{Op: "list users", Err: err}
	}

	created := 0
	for _, u := range users {
		err := i.store.WithTx(ctx, func(s Store) error {
			payments, err := s.UnbilledPaymentsByUser(ctx, u.ID)
			if err != nil {
				return &PersistenceError{Op: "load unbilled payments", Err: err}
			}
			if len(payments) == 0 {
				return nil
			}

			now := i.now()
			inv := Invoice{
				ID:              InvoiceID(NewID()),
				RecipientID:     u.ID,
				AmountPurchases: decimal.Zero,
				AmountPayments:  RoundMoney(SumAmount(payments)),
				Comment:         "payment backfill",
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := s.SaveInvoice(ctx, inv); err != nil {
				return &PersistenceError{Op: "create backfill invoice", Err: err}
			}
			for _, p := range payments {
				id := inv.ID
				p.InvoiceID = &id
				if err := s.SavePayment(ctx, p); err != nil {
					return &PersistenceError{Op: "mark payment billed", Err: err}
				}
			}
			created++
			return nil
		})
		if err != nil {
			return created, err
		}
	}
	return created, nil
}
