package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/keeperhq/keeper/internal/domain"
	"github.com/keeperhq/keeper/internal/money"
	"github.com/keeperhq/keeper/internal/store"
)

// CommandResult reports the IDs a command produced. Entity IDs are
// optimistic when the command ran offline; reads through the store keep
// working after the executor remaps them.
type CommandResult struct {
	TransactionID string
	ItemIDs       []string
}

// Apply dispatches a command. The union is closed: an unhandled variant is a
// programming error and panics with the variant name.
func (e *Engine) Apply(ctx context.Context, cmd domain.Command) (*CommandResult, error) {
	e.logger.Debug("apply command", "command", cmd.CommandName())
	switch c := cmd.(type) {
	case *domain.CreateTransaction:
		return e.createTransaction(ctx, c)
	case *domain.UpdateTransaction:
		return e.updateTransaction(ctx, c)
	case *domain.DeleteTransaction:
		return e.deleteTransaction(ctx, c)
	case *domain.CreateItem:
		return e.createItem(ctx, c)
	case *domain.UpdateItem:
		return e.updateItem(ctx, c)
	case *domain.DeleteItem:
		return e.deleteItem(ctx, c)
	case *domain.AllocateItem:
		return e.moveToCanonical(ctx, c.ItemID, c.ProjectID, domain.CanonicalPurchase, domain.MovementAllocation, cmd.CommandName(), true)
	case *domain.SellItem:
		return e.moveToCanonical(ctx, c.ItemID, c.ProjectID, domain.CanonicalSale, domain.MovementSale, cmd.CommandName(), true)
	case *domain.ReturnItem:
		return e.returnItem(ctx, c)
	case *domain.MoveItem:
		return e.moveItem(ctx, c)
	default:
		panic(fmt.Sprintf("engine: unhandled command variant %T", cmd))
	}
}

// createTransaction creates a transaction with N child items: parent first,
// then each child. A failed child removes the parent's queue entry exactly
// once and propagates the failure.
func (e *Engine) createTransaction(ctx context.Context, cmd *domain.CreateTransaction) (*CommandResult, error) {
	tx := cmd.Transaction.Clone()
	if tx.ID == "" {
		tx.ID = e.ids.NewID(domain.PrefixTransaction)
	}
	if tx.AccountID == "" {
		tx.AccountID = e.accountID
	}
	if tx.Status == "" {
		tx.Status = domain.TransactionActive
	}
	if err := e.validateTransactionPrereqs(ctx, tx); err != nil {
		return nil, err
	}

	items := make([]*domain.Item, 0, len(cmd.Items))
	sum := money.Zero
	for _, src := range cmd.Items {
		it := src.Clone()
		if it.ID == "" {
			it.ID = e.ids.NewID(domain.PrefixItem)
		}
		if it.AccountID == "" {
			it.AccountID = e.accountID
		}
		if it.Disposition == "" {
			it.Disposition = domain.DispositionPurchased
		}
		it.Name = domain.NormalizeName(it.Name)
		it.TransactionID = tx.ID
		it.ProjectID = tx.ProjectID
		if err := e.validateItemPrereqs(ctx, it); err != nil {
			return nil, err
		}
		sum = sum.Add(it.PurchasePrice)
		items = append(items, it)
	}
	tx.ItemIDs = itemIDsOf(items)
	tx.SumItemPurchasePrices = sum

	e.review.BeginBatch(e.reviewKey(tx.ID))
	defer e.review.EndBatch(e.reviewKey(tx.ID))

	// Parent step: optimistic local write happens-before the queue entry.
	if err := e.store.PutTransaction(ctx, tx); err != nil {
		return nil, &domain.OfflineStorageError{Op: "put transaction", Err: err}
	}
	parentOpID, parentSynced, err := e.pushCreate(ctx, domain.EntityTransaction, tx.ID, transactionRow(tx), func(rctx context.Context) error {
		return e.store.DeleteTransaction(rctx, tx.ID)
	})
	if err != nil {
		return nil, err
	}

	// Child steps. Any failure rolls the parent back: its queue entry is
	// removed (not left half-applied) and locally created rows are deleted.
	for n, it := range items {
		if err := e.store.PutItem(ctx, it); err != nil {
			e.rollbackCreateTransaction(ctx, tx, items[:n], parentOpID, parentSynced)
			return nil, &domain.OfflineStorageError{Op: "put item", Err: err}
		}
		_, _, err := e.pushCreate(ctx, domain.EntityItem, it.ID, itemRow(it), func(rctx context.Context) error {
			return e.store.DeleteItem(rctx, it.ID)
		})
		if err != nil {
			_ = e.store.DeleteItem(ctx, it.ID)
			e.rollbackCreateTransaction(ctx, tx, items[:n], parentOpID, parentSynced)
			return nil, err
		}
		e.appendEdge(ctx, it.ID, "", tx.ID, domain.MovementAllocation, cmd.CommandName(), "")
	}

	e.review.Request(ctx, e.reviewKey(tx.ID))
	return &CommandResult{TransactionID: tx.ID, ItemIDs: itemIDsOf(items)}, nil
}

// rollbackCreateTransaction undoes the parent step and already-created
// children after a later child failed. The parent's queued operation is
// removed; a parent already confirmed online is left remote (the remaining
// children were never attempted, so nothing dangles there) but the local
// optimistic rows are dropped.
func (e *Engine) rollbackCreateTransaction(ctx context.Context, tx *domain.Transaction, created []*domain.Item, parentOpID string, parentSynced bool) {
	for _, it := range created {
		_ = e.store.DeleteItem(ctx, it.ID)
	}
	if parentOpID != "" {
		if err := e.store.RemoveOperation(ctx, parentOpID); err != nil {
			e.logger.Error("failed to cancel parent operation", "op", parentOpID, "error", err)
		}
	}
	if !parentSynced {
		_ = e.store.DeleteTransaction(ctx, tx.ID)
	}
}

func (e *Engine) updateTransaction(ctx context.Context, cmd *domain.UpdateTransaction) (*CommandResult, error) {
	tx, err := e.store.GetTransaction(ctx, cmd.TransactionID)
	if err != nil {
		return nil, err
	}
	prev := tx.Clone()

	p := cmd.Patch
	if p.Amount != nil {
		if domain.IsCanonicalTransactionID(tx.ID) {
			return nil, fmt.Errorf("transaction %s: canonical amounts are system-managed", tx.ID)
		}
		tx.Amount = *p.Amount
	}
	if p.Subtotal != nil {
		tx.Subtotal = p.Subtotal
	}
	if p.TaxRate != nil {
		tx.TaxRate = *p.TaxRate
	}
	if p.CategoryID != nil {
		tx.CategoryID = *p.CategoryID
	}
	if p.ProjectID != nil {
		tx.ProjectID = *p.ProjectID
	}
	if p.Status != nil {
		tx.Status = *p.Status
	}
	if err := e.validateTransactionPrereqs(ctx, tx); err != nil {
		return nil, err
	}
	tx.UpdatedAt = e.now()

	if err := e.store.PutTransaction(ctx, tx); err != nil {
		return nil, &domain.OfflineStorageError{Op: "put transaction", Err: err}
	}
	_, _, err = e.pushUpdate(ctx, domain.EntityTransaction, tx.ID, transactionRow(tx), func(rctx context.Context) error {
		return e.store.PutTransaction(rctx, prev)
	})
	if err != nil {
		return nil, err
	}

	e.review.Request(ctx, e.reviewKey(tx.ID))
	return &CommandResult{TransactionID: tx.ID}, nil
}

func (e *Engine) deleteTransaction(ctx context.Context, cmd *domain.DeleteTransaction) (*CommandResult, error) {
	tx, err := e.store.GetTransaction(ctx, cmd.TransactionID)
	if err != nil {
		return nil, err
	}

	// Unlink remaining items first; history survives in the ledger.
	items, err := e.store.ItemsByTransaction(ctx, tx.ID)
	if err != nil {
		return nil, &domain.OfflineStorageError{Op: "items by transaction", Err: err}
	}
	for _, it := range items {
		it.TransactionID = ""
		it.UpdatedAt = e.now()
		if err := e.store.PutItem(ctx, it); err != nil {
			return nil, &domain.OfflineStorageError{Op: "put item", Err: err}
		}
		if _, _, err := e.pushUpdate(ctx, domain.EntityItem, it.ID, itemRow(it), nil); err != nil {
			return nil, err
		}
		e.appendEdge(ctx, it.ID, tx.ID, "", domain.MovementCorrection, cmd.CommandName(), "transaction deleted")
	}

	if err := e.store.DeleteTransaction(ctx, tx.ID); err != nil {
		return nil, &domain.OfflineStorageError{Op: "delete transaction", Err: err}
	}
	_, _, err = e.pushDelete(ctx, domain.EntityTransaction, tx.ID, func(rctx context.Context) error {
		return e.store.PutTransaction(rctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return &CommandResult{TransactionID: tx.ID}, nil
}

func (e *Engine) createItem(ctx context.Context, cmd *domain.CreateItem) (*CommandResult, error) {
	it := cmd.Item.Clone()
	if it.ID == "" {
		it.ID = e.ids.NewID(domain.PrefixItem)
	}
	if it.AccountID == "" {
		it.AccountID = e.accountID
	}
	if it.Disposition == "" {
		it.Disposition = domain.DispositionPurchased
	}
	it.Name = domain.NormalizeName(it.Name)
	if err := e.validateItemPrereqs(ctx, it); err != nil {
		return nil, err
	}

	if err := e.store.PutItem(ctx, it); err != nil {
		return nil, &domain.OfflineStorageError{Op: "put item", Err: err}
	}
	_, _, err := e.pushCreate(ctx, domain.EntityItem, it.ID, itemRow(it), func(rctx context.Context) error {
		return e.store.DeleteItem(rctx, it.ID)
	})
	if err != nil {
		return nil, err
	}

	if it.TransactionID != "" {
		if err := e.linkItem(ctx, it, it.TransactionID, domain.MovementAllocation, cmd.CommandName()); err != nil {
			return nil, err
		}
	}
	return &CommandResult{ItemIDs: []string{it.ID}}, nil
}

func (e *Engine) updateItem(ctx context.Context, cmd *domain.UpdateItem) (*CommandResult, error) {
	it, err := e.store.GetItem(ctx, cmd.ItemID)
	if err != nil {
		return nil, err
	}
	prev := it.Clone()

	p := cmd.Patch
	if p.Name != nil {
		it.Name = domain.NormalizeName(*p.Name)
	}
	if p.PurchasePrice != nil {
		it.PurchasePrice = *p.PurchasePrice
	}
	if p.ProjectPrice != nil {
		it.ProjectPrice = *p.ProjectPrice
	}
	if p.MarketValue != nil {
		it.MarketValue = *p.MarketValue
	}
	if p.CategoryID != nil {
		it.CategoryID = *p.CategoryID
	}
	if p.Disposition != nil {
		it.Disposition = *p.Disposition
	}
	if err := e.validateItemPrereqs(ctx, it); err != nil {
		return nil, err
	}
	it.UpdatedAt = e.now()

	if err := e.store.PutItem(ctx, it); err != nil {
		return nil, &domain.OfflineStorageError{Op: "put item", Err: err}
	}
	_, _, err = e.pushUpdate(ctx, domain.EntityItem, it.ID, itemRow(it), func(rctx context.Context) error {
		return e.store.PutItem(rctx, prev)
	})
	if err != nil {
		return nil, err
	}

	priceChanged := !money.Equal(prev.EffectivePrice(), it.EffectivePrice()) ||
		!money.Equal(prev.PurchasePrice, it.PurchasePrice)
	if priceChanged && it.TransactionID != "" {
		// Price changes are bookkeeping, not movement: the ledger records
		// them as correction edges so audits see the repricing without it
		// counting as a moved-out item.
		e.appendEdge(ctx, it.ID, it.TransactionID, it.TransactionID, domain.MovementCorrection, cmd.CommandName(), "price changed")
		if err := e.adjustDerived(ctx, it.TransactionID,
			it.EffectivePrice().Sub(prev.EffectivePrice()),
			it.PurchasePrice.Sub(prev.PurchasePrice)); err != nil {
			return nil, err
		}
		e.review.Request(ctx, e.reviewKey(it.TransactionID))
	}
	return &CommandResult{ItemIDs: []string{it.ID}}, nil
}

func (e *Engine) deleteItem(ctx context.Context, cmd *domain.DeleteItem) (*CommandResult, error) {
	it, err := e.store.GetItem(ctx, cmd.ItemID)
	if err != nil {
		return nil, err
	}

	if it.TransactionID != "" {
		// Deletion is not business movement; unlink with a correction edge
		// so the item stops counting toward the canonical total.
		if err := e.unlinkItem(ctx, it, domain.MovementCorrection, cmd.CommandName(), "item deleted"); err != nil {
			return nil, err
		}
	}

	if err := e.store.DeleteItem(ctx, it.ID); err != nil {
		return nil, &domain.OfflineStorageError{Op: "delete item", Err: err}
	}
	_, _, err = e.pushDelete(ctx, domain.EntityItem, it.ID, func(rctx context.Context) error {
		return e.store.PutItem(rctx, it)
	})
	if err != nil {
		return nil, err
	}
	return &CommandResult{ItemIDs: []string{it.ID}}, nil
}

// moveToCanonical implements allocate and sell: move the item into the
// project's canonical transaction of the given kind.
func (e *Engine) moveToCanonical(ctx context.Context, itemID, projectID string, kind domain.CanonicalKind, movement domain.MovementKind, source string, recordPrev bool) (*CommandResult, error) {
	it, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	target, err := e.ensureCanonicalTransaction(ctx, kind, projectID)
	if err != nil {
		return nil, err
	}

	fromKey := e.reviewKey(it.TransactionID)
	toKey := e.reviewKey(target.ID)
	e.review.BeginBatch(fromKey)
	e.review.BeginBatch(toKey)
	defer e.review.EndBatch(fromKey)
	defer e.review.EndBatch(toKey)

	if recordPrev && movement == domain.MovementSale {
		it.PreviousProjectTransactionID = it.TransactionID
		it.PreviousProjectID = it.ProjectID
	}

	if it.TransactionID != "" {
		if err := e.unlinkItem(ctx, it, movement, source, ""); err != nil {
			return nil, err
		}
	}

	it.ProjectID = projectID
	switch movement {
	case domain.MovementSale:
		it.Disposition = domain.DispositionSold
	default:
		it.Disposition = domain.DispositionPurchased
	}
	if err := e.linkItem(ctx, it, target.ID, movement, source); err != nil {
		return nil, err
	}
	return &CommandResult{TransactionID: target.ID, ItemIDs: []string{it.ID}}, nil
}

// returnItem reverses a sale: restore the item to its previous purchase
// context.
func (e *Engine) returnItem(ctx context.Context, cmd *domain.ReturnItem) (*CommandResult, error) {
	it, err := e.store.GetItem(ctx, cmd.ItemID)
	if err != nil {
		return nil, err
	}
	prevTx := it.PreviousProjectTransactionID
	prevProject := it.PreviousProjectID

	if it.TransactionID != "" {
		if err := e.unlinkItem(ctx, it, domain.MovementReturn, cmd.CommandName(), ""); err != nil {
			return nil, err
		}
	}

	it.ProjectID = prevProject
	it.PreviousProjectTransactionID = ""
	it.PreviousProjectID = ""
	it.Disposition = domain.DispositionPurchased

	if prevTx == "" {
		// No prior purchase context recorded; the item lands in business
		// inventory.
		it.Disposition = domain.DispositionInventory
		it.UpdatedAt = e.now()
		if err := e.store.PutItem(ctx, it); err != nil {
			return nil, &domain.OfflineStorageError{Op: "put item", Err: err}
		}
		if _, _, err := e.pushUpdate(ctx, domain.EntityItem, it.ID, itemRow(it), nil); err != nil {
			return nil, err
		}
		return &CommandResult{ItemIDs: []string{it.ID}}, nil
	}

	if err := e.linkItem(ctx, it, prevTx, domain.MovementReturn, cmd.CommandName()); err != nil {
		return nil, err
	}
	return &CommandResult{TransactionID: prevTx, ItemIDs: []string{it.ID}}, nil
}

// moveItem transfers an item between a project and business inventory.
func (e *Engine) moveItem(ctx context.Context, cmd *domain.MoveItem) (*CommandResult, error) {
	it, err := e.store.GetItem(ctx, cmd.ItemID)
	if err != nil {
		return nil, err
	}
	sourceTx := it.TransactionID

	if cmd.ToProjectID == "" {
		// Project (or anywhere) -> business inventory: the item ends
		// unlinked.
		if sourceTx != "" {
			if err := e.unlinkItem(ctx, it, domain.MovementTransfer, cmd.CommandName(), ""); err != nil {
				return nil, err
			}
		}
		it.ProjectID = ""
		it.Disposition = domain.DispositionInventory
		it.UpdatedAt = e.now()
		if err := e.store.PutItem(ctx, it); err != nil {
			return nil, &domain.OfflineStorageError{Op: "put item", Err: err}
		}
		if _, _, err := e.pushUpdate(ctx, domain.EntityItem, it.ID, itemRow(it), nil); err != nil {
			return nil, err
		}
		if sourceTx != "" {
			e.review.Request(ctx, e.reviewKey(sourceTx))
		}
		if err := e.maybeDropEmptyCanonical(ctx, sourceTx, cmd.KeepEmptyCanonical); err != nil {
			return nil, err
		}
		return &CommandResult{ItemIDs: []string{it.ID}}, nil
	}

	res, err := e.moveToCanonical(ctx, cmd.ItemID, cmd.ToProjectID, domain.CanonicalTransfer, domain.MovementTransfer, cmd.CommandName(), false)
	if err != nil {
		return nil, err
	}
	if err := e.maybeDropEmptyCanonical(ctx, sourceTx, cmd.KeepEmptyCanonical); err != nil {
		return nil, err
	}
	return res, nil
}

// maybeDropEmptyCanonical deletes a canonical transaction that the caller
// emptied, unless it was asked to preserve the row for lineage history.
func (e *Engine) maybeDropEmptyCanonical(ctx context.Context, txID string, keep bool) error {
	if keep || txID == "" || !domain.IsCanonicalTransactionID(txID) {
		return nil
	}
	tx, err := e.store.GetTransaction(ctx, txID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(tx.ItemIDs) > 0 {
		return nil
	}
	if err := e.store.DeleteTransaction(ctx, tx.ID); err != nil {
		return &domain.OfflineStorageError{Op: "delete transaction", Err: err}
	}
	_, _, err = e.pushDelete(ctx, domain.EntityTransaction, tx.ID, func(rctx context.Context) error {
		return e.store.PutTransaction(rctx, tx)
	})
	return err
}

// validateTransactionPrereqs rejects commands whose referenced category or
// named tax preset is not cached offline. Nothing is written or queued for a
// rejected command.
func (e *Engine) validateTransactionPrereqs(ctx context.Context, tx *domain.Transaction) error {
	if tx.CategoryID != "" {
		if _, err := e.store.GetCategory(ctx, tx.CategoryID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &domain.MissingOfflinePrerequisiteError{EntityType: domain.EntityCategory, EntityID: tx.CategoryID}
			}
			return &domain.OfflineStorageError{Op: "get category", Err: err}
		}
	}
	if _, err := e.store.ResolveTaxRate(ctx, tx.TaxRate); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &domain.MissingOfflinePrerequisiteError{EntityType: domain.EntityTaxPreset, EntityID: tx.TaxRate}
		}
		return &domain.OfflineStorageError{Op: "resolve tax rate", Err: err}
	}
	return nil
}

func (e *Engine) validateItemPrereqs(ctx context.Context, it *domain.Item) error {
	if it.CategoryID == "" {
		return nil
	}
	if _, err := e.store.GetCategory(ctx, it.CategoryID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &domain.MissingOfflinePrerequisiteError{EntityType: domain.EntityCategory, EntityID: it.CategoryID}
		}
		return &domain.OfflineStorageError{Op: "get category", Err: err}
	}
	return nil
}

func (e *Engine) reviewKey(txID string) string {
	return e.accountID + ":" + txID
}

func itemIDsOf(items []*domain.Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
