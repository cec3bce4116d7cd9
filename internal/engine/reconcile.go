package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/keeperhq/keeper/internal/domain"
	"github.com/keeperhq/keeper/internal/money"
	"github.com/keeperhq/keeper/internal/remote"
	"github.com/keeperhq/keeper/internal/store"
)

// ComputeResult is the outcome of a canonical-amount computation. A failed
// computation carries the reason and never produces an amount, so callers
// cannot mistake a partial sum for a total.
type ComputeResult struct {
	Amount decimal.Decimal
	Failed bool
	Reason string
}

// Computed wraps a successful total.
func Computed(amount decimal.Decimal) ComputeResult {
	return ComputeResult{Amount: amount}
}

// ComputeFailed wraps a failure reason.
func ComputeFailed(reason string) ComputeResult {
	return ComputeResult{Failed: true, Reason: reason}
}

// ComputeCanonicalTotal derives the authoritative amount for a canonical
// transaction: the effective prices of its currently linked items plus the
// items that have moved out through real (non-correction) lineage edges,
// floored at zero and rounded to cents.
//
// If any contributing item is missing from the local store the computation
// fails rather than under-reporting the total. A lineage lookup failure is
// not fatal: it degrades to "no moved-out items" and still yields a number.
func (e *Engine) ComputeCanonicalTotal(ctx context.Context, tx *domain.Transaction) ComputeResult {
	ids := append([]string(nil), tx.ItemIDs...)

	movedOut, err := e.store.MovedOutItemIDs(ctx, tx.ID)
	if err != nil {
		e.logger.Warn("lineage lookup failed, ignoring moved-out items",
			"transaction", tx.ID, "error", err)
		movedOut = nil
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	for _, id := range movedOut {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	total := decimal.Zero
	for _, id := range ids {
		it, err := e.store.GetItem(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return ComputeFailed(fmt.Sprintf("item %s not in local store", id))
		}
		if err != nil {
			return ComputeFailed(fmt.Sprintf("item %s: %v", id, err))
		}
		total = total.Add(it.EffectivePrice())
	}
	return Computed(money.Canonical(total))
}

// ReconcileReport summarizes one reconciliation sweep.
type ReconcileReport struct {
	Checked  int
	Repaired int
	Skipped  int
	Errors   []string
}

// ReconcileAccount sweeps the account's canonical transactions and repairs
// any whose stored amount drifted from the derived total. projectID narrows
// the sweep to one project; empty means all. Transactions whose total cannot
// be computed are skipped and reported, never zeroed.
func (e *Engine) ReconcileAccount(ctx context.Context, accountID, projectID string) (*ReconcileReport, error) {
	txs, err := e.store.ListCanonicalTransactions(ctx, accountID, projectID)
	if err != nil {
		return nil, &domain.OfflineStorageError{Op: "list canonical transactions", Err: err}
	}

	report := &ReconcileReport{}
	for _, tx := range txs {
		if tx.ProjectID == "" {
			report.Skipped++
			continue
		}
		report.Checked++

		result := e.ComputeCanonicalTotal(ctx, tx)
		if result.Failed {
			report.Skipped++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", tx.ID, result.Reason))
			continue
		}
		if money.Equal(tx.Amount, result.Amount) {
			continue
		}

		if err := e.repairCanonicalAmount(ctx, tx, result.Amount); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", tx.ID, err))
			continue
		}
		report.Repaired++
		if e.metrics != nil {
			e.metrics.Reconciled.Inc()
		}
	}

	e.logger.Info("reconcile sweep finished",
		"account", accountID, "checked", report.Checked,
		"repaired", report.Repaired, "skipped", report.Skipped)
	return report, nil
}

// repairCanonicalAmount writes the derived amount through the normal write
// path so the correction is durable offline and replayed like any other
// update.
func (e *Engine) repairCanonicalAmount(ctx context.Context, tx *domain.Transaction, amount decimal.Decimal) error {
	prev := tx.Clone()
	e.logger.Warn("canonical amount drift repaired",
		"transaction", tx.ID, "stored", money.Format(tx.Amount), "derived", money.Format(amount))

	tx.Amount = amount
	tx.Version++
	tx.UpdatedAt = e.now()
	if err := e.store.PutTransaction(ctx, tx); err != nil {
		return &domain.OfflineStorageError{Op: "put transaction", Err: err}
	}

	patch := remote.Row{
		"amount":     tx.Amount.StringFixed(2),
		"version":    tx.Version,
		"updated_at": encRowTime(tx.UpdatedAt),
	}
	_, _, err := e.pushUpdate(ctx, domain.EntityTransaction, tx.ID, patch, func(c context.Context) error {
		return e.store.PutTransaction(c, prev)
	})
	return err
}
