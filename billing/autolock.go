/*
autolock.go - Balance-threshold hysteresis for purchasing rights

PURPOSE:
  After each user's invoice is generated in a billing run, the autolock
  step inspects the balance before and after invoicing and flips the
  user's IsAutolocked flag.

RULE (two-threshold hysteresis, unlock checked first):
  - balance after invoicing above UnlockAbove  -> unlocked
  - balance below LockBelow both before AND after invoicing -> locked
    (the invoice did not bring the account back above the line)
  - otherwise the flag keeps its previous value

Both thresholds come from configuration, not code. A locked user is barred
from new purchases and payments by the presentation layer; the engine only
maintains the flag and exposes the payer-is-autolocked check used by
purchase validation.
*/
package billing

import "github.com/shopspring/decimal"

// AutolockPolicy holds the two balance thresholds. UnlockAbove is usually
// the higher of the two so accounts do not flap around a single line.
type AutolockPolicy struct {
	LockBelow   decimal.Decimal
	UnlockAbove decimal.Decimal
}

// Apply returns the new locked state given the previous state and the
// balances before and after invoicing. Pure.
func (p AutolockPolicy) Apply(locked bool, before, after decimal.Decimal) bool {
	if after.GreaterThan(p.UnlockAbove) {
		return false
	}
	if before.LessThan(p.LockBelow) && after.LessThan(p.LockBelow) {
		return true
	}
	return locked
}
