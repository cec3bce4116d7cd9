package engine

import (
	"context"
	"encoding/json"

	"github.com/keeperhq/keeper/internal/domain"
	"github.com/keeperhq/keeper/internal/remote"
)

// Operation Queue semantics. The durable storage is the pending_operations
// table (internal/store); this file owns the contract around it:
//
//   - The optimistic local write happens BEFORE the queue entry is durable.
//   - If queueing itself fails, the optimistic write is rolled back and
//     OfflineQueueUnavailableError propagates.
//   - Payload marshal failures are swallowed with a warning: the caller
//     keeps the optimistic ID and the UI proceeds, but the write is not
//     durable. Known trade-off inherited from the original client.
//   - An accepted entry is removed only after the executor confirms success
//     or a multi-step rollback cancels it.

// enqueue makes op durable. rollback undoes the caller's optimistic local
// write and runs only when the queue storage itself rejected the entry.
// Returns the operation ID ("" when the entry was swallowed).
func (e *Engine) enqueue(ctx context.Context, op *domain.PendingOperation, rollback func(context.Context) error) (string, error) {
	if op.ID == "" {
		op.ID = e.opIDs.Generate()
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = e.now()
	}
	if op.AccountID == "" {
		op.AccountID = e.accountID
	}

	if err := e.store.EnqueueOperation(ctx, op); err != nil {
		if rollback != nil {
			if rbErr := rollback(ctx); rbErr != nil {
				e.logger.Error("rollback of optimistic write failed",
					"entity", op.TargetEntityID, "error", rbErr)
			}
		}
		return "", &domain.OfflineQueueUnavailableError{EntityID: op.TargetEntityID, Err: err}
	}
	e.logger.Debug("operation queued",
		"op", op.ID, "kind", op.Kind, "entity_type", op.EntityType, "entity", op.TargetEntityID)
	if e.metrics != nil {
		e.metrics.OpsEnqueued.Inc()
	}
	e.observeQueueDepth(ctx)
	return op.ID, nil
}

// observeQueueDepth refreshes the queue-depth gauge from the store.
func (e *Engine) observeQueueDepth(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	depth, err := e.store.QueueDepth(ctx)
	if err != nil {
		return
	}
	e.metrics.QueueDepth.Set(float64(depth))
}

// newOp builds a queue entry for an entity row or patch. A payload that
// cannot be marshalled produces an entry with an empty payload and a warning
// rather than failing the command.
func (e *Engine) newOp(kind domain.OpKind, entityType domain.EntityType, entityID string, payload remote.Row) *domain.PendingOperation {
	op := &domain.PendingOperation{
		Kind:           kind,
		EntityType:     entityType,
		TargetEntityID: entityID,
		AccountID:      e.accountID,
	}
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			e.logger.Warn("operation payload not durable",
				"entity", entityID, "kind", kind, "error", err)
		} else {
			op.Payload = buf
		}
	}
	return op
}

// ListPending returns entity IDs of the given type with unacknowledged
// writes.
func (e *Engine) ListPending(ctx context.Context, entityType domain.EntityType) (map[string]bool, error) {
	return e.store.PendingEntityIDs(ctx, entityType)
}

// ListPendingCreates returns entity IDs of the given type with a queued
// create.
func (e *Engine) ListPendingCreates(ctx context.Context, entityType domain.EntityType) (map[string]bool, error) {
	return e.store.PendingCreates(ctx, entityType)
}

// RemoveOperation cancels a queued operation, e.g. when a later step of a
// multi-step command failed.
func (e *Engine) RemoveOperation(ctx context.Context, opID string) error {
	if err := e.store.RemoveOperation(ctx, opID); err != nil {
		return err
	}
	e.observeQueueDepth(ctx)
	return nil
}

// Operations lists the queue in enqueue order, for the CLI.
func (e *Engine) Operations(ctx context.Context) ([]*domain.PendingOperation, error) {
	return e.store.ListOperations(ctx)
}
