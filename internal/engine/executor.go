package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/keeperhq/keeper/internal/domain"
	"github.com/keeperhq/keeper/internal/remote"
)

// Sync executor: drains the operation queue against the remote store when
// online. Replay is in enqueue order per entity; operations for different
// entities may interleave. An entity whose operation fails blocks its later
// operations until the next drain, preserving per-entity order.

// DrainReport summarizes one drain pass.
type DrainReport struct {
	Processed int
	Succeeded int
	Retried   int
	Repaired  int
	Dropped   int
}

// DrainOnce replays due operations. Offline it is a no-op. Returns an error
// only for local-store failures; individual operation failures are absorbed
// into retry bookkeeping.
func (e *Engine) DrainOnce(ctx context.Context) (DrainReport, error) {
	var report DrainReport
	if !e.monitor.Online() {
		return report, nil
	}

	ops, err := e.store.OperationsDue(ctx, e.now())
	if err != nil {
		return report, &domain.OfflineStorageError{Op: "list due operations", Err: err}
	}

	blocked := map[string]bool{} // entity IDs whose earlier op failed this pass
	for _, op := range ops {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if blocked[op.TargetEntityID] {
			continue
		}
		report.Processed++

		outcome, err := e.replayOne(ctx, op)
		if err != nil {
			return report, err
		}
		switch outcome {
		case replaySucceeded:
			report.Succeeded++
		case replayRepaired:
			report.Repaired++
			report.Succeeded++
		case replayRetryLater:
			report.Retried++
			blocked[op.TargetEntityID] = true
		case replayDropped:
			report.Dropped++
		}
	}

	e.observeQueueDepth(ctx)
	if report.Processed > 0 {
		e.logger.Info("queue drained",
			"processed", report.Processed, "succeeded", report.Succeeded,
			"retried", report.Retried, "repaired", report.Repaired, "dropped", report.Dropped)
	}
	return report, nil
}

type replayOutcome int

const (
	replaySucceeded replayOutcome = iota
	replayRepaired
	replayRetryLater
	replayDropped
)

// replayOne executes a single queued operation. Local-store failures abort
// the drain; remote failures become retry bookkeeping.
func (e *Engine) replayOne(ctx context.Context, op *domain.PendingOperation) (replayOutcome, error) {
	payload, err := op.PayloadMap()
	if err != nil {
		// Corrupt payloads cannot be replayed; drop with a warning rather
		// than wedging the queue forever.
		e.logger.Warn("dropping operation with unreadable payload", "op", op.ID, "error", err)
		return replayDropped, e.store.RemoveOperation(ctx, op.ID)
	}
	if err := e.remapPayloadIDs(ctx, payload); err != nil {
		return 0, err
	}
	targetID, err := e.store.ResolveID(ctx, op.TargetEntityID)
	if err != nil {
		return 0, err
	}

	accepted, callErr := e.sendOp(ctx, op, targetID, payload)

	if callErr == nil {
		return replaySucceeded, e.confirmOp(ctx, op, targetID, accepted, payload)
	}

	switch {
	case remote.CodeOf(callErr) == remote.CodeForeignKey:
		return e.repairAndRetry(ctx, op, targetID, payload, remote.FieldOf(callErr))
	case remote.CodeOf(callErr) == remote.CodeNotFound && op.Kind == domain.OpDelete:
		// Already gone remotely; the delete is effectively confirmed.
		return replaySucceeded, e.confirmOp(ctx, op, targetID, nil, payload)
	case remote.CodeOf(callErr) == remote.CodeNotFound:
		e.logger.Warn("dropping operation for remotely deleted row", "op", op.ID, "entity", targetID)
		return replayDropped, e.store.RemoveOperation(ctx, op.ID)
	case domain.IsNetworkTimeout(callErr) || remote.IsRetryable(callErr):
		return replayRetryLater, e.scheduleRetry(ctx, op, callErr)
	default:
		// Structured rejection with no recovery: keep it queued so nothing
		// is silently lost, but back off like a transient failure.
		e.logger.Warn("operation rejected by backend", "op", op.ID, "error", callErr)
		return replayRetryLater, e.scheduleRetry(ctx, op, callErr)
	}
}

func (e *Engine) sendOp(ctx context.Context, op *domain.PendingOperation, targetID string, payload remote.Row) (remote.Row, error) {
	table := tableFor(op.EntityType)
	var accepted remote.Row
	err := e.callRemote(ctx, func(c context.Context) error {
		var callErr error
		switch op.Kind {
		case domain.OpCreate:
			accepted, callErr = e.remote.Insert(c, table, payload)
		case domain.OpUpdate:
			accepted, callErr = e.remote.Update(c, table, remote.Filter{"id": targetID}, payload)
		case domain.OpDelete:
			callErr = e.remote.Delete(c, table, remote.Filter{"id": targetID})
		default:
			callErr = fmt.Errorf("unknown operation kind %q", op.Kind)
		}
		return callErr
	})
	return accepted, err
}

// confirmOp finalizes a successful replay: remove the queue entry, record
// any ID remap, and write the authoritative values into the local cache.
// The cache write is skipped when the entity still has later pending
// writes, which must not be clobbered by the snapshot.
func (e *Engine) confirmOp(ctx context.Context, op *domain.PendingOperation, targetID string, accepted, sent remote.Row) error {
	if err := e.store.RemoveOperation(ctx, op.ID); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.OpsSynced.Inc()
	}

	acceptedID := targetID
	if accepted != nil {
		if id := rowString(accepted, "id"); id != "" {
			acceptedID = id
		}
	}
	if op.Kind == domain.OpCreate && acceptedID != op.TargetEntityID {
		if err := e.store.PutIDRemap(ctx, op.TargetEntityID, acceptedID, op.EntityType); err != nil {
			return err
		}
	}

	pending, err := e.store.PendingEntityIDs(ctx, op.EntityType)
	if err != nil {
		return err
	}
	if pending[op.TargetEntityID] || pending[acceptedID] {
		return nil
	}

	// Stale conflict records are cleared before the pre-apply check so a
	// conflict it records survives the confirm.
	if err := e.store.ClearConflictsForEntity(ctx, op.EntityType, op.TargetEntityID); err != nil {
		return err
	}
	if accepted != nil {
		if err := e.conflictCheckBeforeApply(ctx, op.EntityType, acceptedID, accepted, sent); err != nil {
			return err
		}
		if err := e.applyAuthoritativeRow(ctx, op.EntityType, accepted); err != nil {
			e.logger.Warn("authoritative row not cached", "entity", acceptedID, "error", err)
		}
	}
	return nil
}

// repairAndRetry handles referential-integrity rejections: clear the
// offending field, retry once without it, and on a second failure leave the
// operation queued with a warning. This drift class never reaches the user.
func (e *Engine) repairAndRetry(ctx context.Context, op *domain.PendingOperation, targetID string, payload remote.Row, field string) (replayOutcome, error) {
	if field == "" {
		field = "category_id"
	}
	e.logger.Warn("repairing stale reference", "op", op.ID, "field", field)
	payload[field] = ""

	repaired, err := json.Marshal(payload)
	if err == nil {
		if err := e.store.ReplaceOperationPayload(ctx, op.ID, repaired); err != nil {
			return 0, err
		}
	}

	accepted, callErr := e.sendOp(ctx, op, targetID, payload)
	if callErr == nil {
		if e.metrics != nil {
			e.metrics.OpsRepaired.Inc()
		}
		return replayRepaired, e.confirmOp(ctx, op, targetID, accepted, payload)
	}

	e.logger.Warn("repair retry failed, leaving operation queued", "op", op.ID, "error", callErr)
	return replayRetryLater, e.scheduleRetry(ctx, op, callErr)
}

func (e *Engine) scheduleRetry(ctx context.Context, op *domain.PendingOperation, cause error) error {
	if e.metrics != nil {
		e.metrics.OpsRetried.Inc()
	}
	backoff := e.backoffMin << op.RetryCount
	if backoff > e.backoffMax || backoff <= 0 {
		backoff = e.backoffMax
	}
	return e.store.UpdateOperationRetry(ctx, op.ID, op.RetryCount+1, e.now().Add(backoff), cause.Error())
}

// remapPayloadIDs rewrites optimistic IDs inside a payload through the
// translation table: the row's own ID plus every field that references
// another entity.
func (e *Engine) remapPayloadIDs(ctx context.Context, payload remote.Row) error {
	for _, key := range []string{"id", "transaction_id", "project_id", "prev_project_transaction_id", "prev_project_id"} {
		v, ok := payload[key].(string)
		if !ok || v == "" {
			continue
		}
		mapped, err := e.store.ResolveID(ctx, v)
		if err != nil {
			return err
		}
		payload[key] = mapped
	}
	if raw, ok := payload["item_ids"].([]any); ok {
		for i, v := range raw {
			s, ok := v.(string)
			if !ok {
				continue
			}
			mapped, err := e.store.ResolveID(ctx, s)
			if err != nil {
				return err
			}
			raw[i] = mapped
		}
	}
	return nil
}

// Run drains the queue on an interval and whenever connectivity returns,
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	reconnects := e.monitor.Reconnects()
	ticker := time.NewTicker(e.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reconnects:
			e.logger.Info("connectivity restored, draining queue")
		case <-ticker.C:
		}
		if _, err := e.DrainOnce(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("drain failed", "error", err)
		}
	}
}
