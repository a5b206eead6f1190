/*
notify.go - Outbound notification capability

PURPOSE:
  The engine does not format or deliver mail. It calls an abstract
  Notifier per recipient and records success or failure; a failed
  notification never rolls back the already-committed invoice. Batch
  callers aggregate the per-recipient results into a NotifySummary.
*/
package billing

import (
	"context"
	"log/slog"
)

// Notifier is the outbound capability the billing runs depend on. The
// real implementation renders and sends mail; the engine only needs an
// error result per recipient.
type Notifier interface {
	NotifyInvoiceCreated(ctx context.Context, inv *Invoice, recipient *User) error
	NotifyPaymentReminder(ctx context.Context, recipient *User) error
}

// NotifySummary counts per-recipient notification outcomes of a batch run.
type NotifySummary struct {
	Sent             int
	Failed           int
	FailedRecipients []string // display names, for the admin summary message
}

func (s *NotifySummary) record(recipient string, err error) {
	if err != nil {
		s.Failed++
		s.FailedRecipients = append(s.FailedRecipients, recipient)
		return
	}
	s.Sent++
}

// LogNotifier is the default Notifier: it logs and always succeeds.
// Useful in development and as a stand-in while mail delivery lives in a
// separate service.
type LogNotifier struct {
	Log *slog.Logger
}

func (n *LogNotifier) NotifyInvoiceCreated(_ context.Context, inv *Invoice, recipient *User) error {
	n.logger().Info("invoice notification",
		"invoice", inv.ID,
		"recipient", recipient.DisplayName,
		"due", inv.Due().String(),
	)
	return nil
}

func (n *LogNotifier) NotifyPaymentReminder(_ context.Context, recipient *User) error {
	n.logger().Info("payment reminder", "recipient", recipient.DisplayName)
	return nil
}

func (n *LogNotifier) logger() *slog.Logger {
	if n.Log != nil {
		return n.Log
	}
	return slog.Default()
}
