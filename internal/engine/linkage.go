package engine

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/keeperhq/keeper/internal/domain"
	"github.com/keeperhq/keeper/internal/money"
	"github.com/keeperhq/keeper/internal/store"
)

// Item/transaction linkage. An item has at most one current transaction
// link; every linkage change appends a lineage edge, delta-adjusts the
// owning transaction's derived sum (and, for canonical transactions, the
// amount) and requests a coalesced review recompute.

// linkItem attaches an item to a transaction and maintains derived state.
// The item's outgoing state (ProjectID, Disposition, Previous* fields) must
// already be set by the caller.
func (e *Engine) linkItem(ctx context.Context, it *domain.Item, txID string, movement domain.MovementKind, source string) error {
	from := it.TransactionID
	it.TransactionID = txID
	it.UpdatedAt = e.now()
	if err := e.store.PutItem(ctx, it); err != nil {
		return &domain.OfflineStorageError{Op: "put item", Err: err}
	}
	if _, _, err := e.pushUpdate(ctx, domain.EntityItem, it.ID, itemRow(it), nil); err != nil {
		return err
	}

	tx, err := e.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if !tx.LinksItem(it.ID) {
		tx.ItemIDs = append(tx.ItemIDs, it.ID)
	}
	tx.SumItemPurchasePrices = tx.SumItemPurchasePrices.Add(it.PurchasePrice)
	if domain.IsCanonicalTransactionID(tx.ID) {
		tx.Amount = money.Canonical(tx.Amount.Add(it.EffectivePrice()))
	}
	tx.UpdatedAt = e.now()
	if err := e.store.PutTransaction(ctx, tx); err != nil {
		return &domain.OfflineStorageError{Op: "put transaction", Err: err}
	}
	if _, _, err := e.pushUpdate(ctx, domain.EntityTransaction, tx.ID, transactionRow(tx), nil); err != nil {
		return err
	}

	e.appendEdge(ctx, it.ID, from, txID, movement, source, "")
	e.review.Request(ctx, e.reviewKey(txID))
	return nil
}

// unlinkItem detaches an item from its current transaction.
//
// The canonical amount only shrinks for correction edges: an item that left
// through real movement still counts toward the canonical total via the
// moved-out set, so removing its price here would double-subtract once the
// reconciler ran.
func (e *Engine) unlinkItem(ctx context.Context, it *domain.Item, movement domain.MovementKind, source, notes string) error {
	from := it.TransactionID
	if from == "" {
		return nil
	}
	it.TransactionID = ""
	it.UpdatedAt = e.now()
	if err := e.store.PutItem(ctx, it); err != nil {
		return &domain.OfflineStorageError{Op: "put item", Err: err}
	}
	if _, _, err := e.pushUpdate(ctx, domain.EntityItem, it.ID, itemRow(it), nil); err != nil {
		return err
	}

	tx, err := e.store.GetTransaction(ctx, from)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if tx != nil {
		tx.ItemIDs = removeID(tx.ItemIDs, it.ID)
		tx.SumItemPurchasePrices = tx.SumItemPurchasePrices.Sub(it.PurchasePrice)
		if domain.IsCanonicalTransactionID(tx.ID) && movement == domain.MovementCorrection {
			tx.Amount = money.Canonical(tx.Amount.Sub(it.EffectivePrice()))
		}
		tx.UpdatedAt = e.now()
		if err := e.store.PutTransaction(ctx, tx); err != nil {
			return &domain.OfflineStorageError{Op: "put transaction", Err: err}
		}
		if _, _, err := e.pushUpdate(ctx, domain.EntityTransaction, tx.ID, transactionRow(tx), nil); err != nil {
			return err
		}
	}

	e.appendEdge(ctx, it.ID, from, "", movement, source, notes)
	e.review.Request(ctx, e.reviewKey(from))
	return nil
}

// adjustDerived applies a price-change delta to a transaction: amountDelta
// to the canonical amount (non-canonical amounts are user-authored and never
// touched), sumDelta to the derived purchase-price sum.
func (e *Engine) adjustDerived(ctx context.Context, txID string, amountDelta, sumDelta decimal.Decimal) error {
	tx, err := e.store.GetTransaction(ctx, txID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	tx.SumItemPurchasePrices = tx.SumItemPurchasePrices.Add(sumDelta)
	if domain.IsCanonicalTransactionID(tx.ID) {
		tx.Amount = money.Canonical(tx.Amount.Add(amountDelta))
	}
	tx.UpdatedAt = e.now()
	if err := e.store.PutTransaction(ctx, tx); err != nil {
		return &domain.OfflineStorageError{Op: "put transaction", Err: err}
	}
	_, _, err = e.pushUpdate(ctx, domain.EntityTransaction, tx.ID, transactionRow(tx), nil)
	return err
}

// ensureCanonicalTransaction returns the project's canonical transaction of
// the given kind, creating it (locally and through the write path) on first
// use.
func (e *Engine) ensureCanonicalTransaction(ctx context.Context, kind domain.CanonicalKind, projectID string) (*domain.Transaction, error) {
	id := domain.CanonicalTransactionID(kind, projectID)
	tx, err := e.store.GetTransaction(ctx, id)
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	tx = &domain.Transaction{
		ID:        id,
		AccountID: e.accountID,
		Amount:    money.Zero,
		ItemIDs:   []string{},
		ProjectID: projectID,
		Status:    domain.TransactionActive,
		Date:      e.now(),
	}
	if err := e.store.PutTransaction(ctx, tx); err != nil {
		return nil, &domain.OfflineStorageError{Op: "put transaction", Err: err}
	}
	_, _, err = e.pushCreate(ctx, domain.EntityTransaction, tx.ID, transactionRow(tx), func(rctx context.Context) error {
		return e.store.DeleteTransaction(rctx, tx.ID)
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// appendEdge writes one lineage edge. Ledger append failures are logged,
// not propagated: provenance is repairable after the fact, while failing
// the user's command mid-flight would leave real state half-applied.
func (e *Engine) appendEdge(ctx context.Context, itemID, from, to string, kind domain.MovementKind, source, notes string) {
	edge := &domain.LineageEdge{
		ItemID:            itemID,
		FromTransactionID: from,
		ToTransactionID:   to,
		Kind:              kind,
		Source:            source,
		Notes:             notes,
		CreatedAt:         e.now(),
	}
	if err := e.store.AppendLineageEdge(ctx, edge); err != nil {
		e.logger.Warn("lineage edge not recorded",
			"item", itemID, "from", from, "to", to, "kind", kind, "error", err)
	}
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
