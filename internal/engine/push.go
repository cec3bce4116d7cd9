package engine

import (
	"context"
	"fmt"

	"github.com/keeperhq/keeper/internal/domain"
	"github.com/keeperhq/keeper/internal/remote"
)

// Online write-through. When the device is online a command goes to the
// remote store first; a timeout or retryable backend failure falls back to
// the same queueing path the offline branch uses. Referential-integrity
// rejections are queued too: the executor owns repair-and-retry, and that
// class of drift is never raised to the user.

func tableFor(entityType domain.EntityType) string {
	switch entityType {
	case domain.EntityTransaction:
		return remote.TableTransactions
	case domain.EntityItem:
		return remote.TableItems
	case domain.EntityProject:
		return remote.TableProjects
	case domain.EntityCategory:
		return remote.TableCategories
	default:
		return string(entityType)
	}
}

// callRemote wraps one remote call in the fixed network timeout.
func (e *Engine) callRemote(ctx context.Context, fn func(context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, e.networkTimeout)
	defer cancel()
	return fn(tctx)
}

// queueFallback reports whether a failed online attempt should fall back to
// the operation queue instead of surfacing.
func queueFallback(err error) bool {
	if domain.IsNetworkTimeout(err) {
		return true
	}
	switch remote.CodeOf(err) {
	case remote.CodeForeignKey:
		return true // repaired during replay
	case remote.CodeUnavailable, remote.Code(""):
		return true
	default:
		return false
	}
}

// pushCreate sends a create through the write path. Returns the queue
// operation ID (when the create was queued), whether the remote confirmed
// synchronously, and an error only when the command must fail; in that case
// rollback has already undone the optimistic local write.
func (e *Engine) pushCreate(ctx context.Context, entityType domain.EntityType, entityID string, row remote.Row, rollback func(context.Context) error) (string, bool, error) {
	if e.monitor.Online() {
		var accepted remote.Row
		err := e.callRemote(ctx, func(c context.Context) error {
			var callErr error
			accepted, callErr = e.remote.Insert(c, tableFor(entityType), row)
			return callErr
		})
		if err == nil {
			if applyErr := e.applyAuthoritativeRow(ctx, entityType, accepted); applyErr != nil {
				e.logger.Warn("authoritative row not cached", "entity", entityID, "error", applyErr)
			}
			return "", true, nil
		}
		if !queueFallback(err) {
			if rollback != nil {
				if rbErr := rollback(ctx); rbErr != nil {
					e.logger.Error("rollback of optimistic write failed", "entity", entityID, "error", rbErr)
				}
			}
			return "", false, fmt.Errorf("create %s %s: %w", entityType, entityID, err)
		}
		e.logger.Debug("online create queued for retry", "entity", entityID, "error", err)
	}

	opID, err := e.enqueue(ctx, e.newOp(domain.OpCreate, entityType, entityID, row), rollback)
	return opID, false, err
}

// pushUpdate sends an update through the write path. rollback restores the
// pre-patch local snapshot when queueing fails; nil means the caller's
// surrounding flow owns recovery.
func (e *Engine) pushUpdate(ctx context.Context, entityType domain.EntityType, entityID string, row remote.Row, rollback func(context.Context) error) (string, bool, error) {
	if e.monitor.Online() {
		var accepted remote.Row
		err := e.callRemote(ctx, func(c context.Context) error {
			var callErr error
			accepted, callErr = e.remote.Update(c, tableFor(entityType), remote.Filter{"id": entityID}, row)
			return callErr
		})
		if err == nil {
			if applyErr := e.applyAuthoritativeRow(ctx, entityType, accepted); applyErr != nil {
				e.logger.Warn("authoritative row not cached", "entity", entityID, "error", applyErr)
			}
			return "", true, nil
		}
		if remote.CodeOf(err) == remote.CodeNotFound {
			// The row does not exist remotely yet (its create is still
			// queued); replay order will deliver this update after it.
			e.logger.Debug("update queued behind pending create", "entity", entityID)
		} else if !queueFallback(err) {
			if rollback != nil {
				if rbErr := rollback(ctx); rbErr != nil {
					e.logger.Error("rollback of optimistic write failed", "entity", entityID, "error", rbErr)
				}
			}
			return "", false, fmt.Errorf("update %s %s: %w", entityType, entityID, err)
		}
	}

	opID, err := e.enqueue(ctx, e.newOp(domain.OpUpdate, entityType, entityID, row), rollback)
	return opID, false, err
}

// pushDelete sends a delete through the write path.
func (e *Engine) pushDelete(ctx context.Context, entityType domain.EntityType, entityID string, rollback func(context.Context) error) (string, bool, error) {
	if e.monitor.Online() {
		err := e.callRemote(ctx, func(c context.Context) error {
			return e.remote.Delete(c, tableFor(entityType), remote.Filter{"id": entityID})
		})
		if err == nil || remote.CodeOf(err) == remote.CodeNotFound {
			return "", true, nil
		}
		if !queueFallback(err) {
			if rollback != nil {
				if rbErr := rollback(ctx); rbErr != nil {
					e.logger.Error("rollback of optimistic delete failed", "entity", entityID, "error", rbErr)
				}
			}
			return "", false, fmt.Errorf("delete %s %s: %w", entityType, entityID, err)
		}
	}

	opID, err := e.enqueue(ctx, e.newOp(domain.OpDelete, entityType, entityID, nil), rollback)
	return opID, false, err
}

// applyAuthoritativeRow writes a backend-accepted row into the local cache.
func (e *Engine) applyAuthoritativeRow(ctx context.Context, entityType domain.EntityType, row remote.Row) error {
	if row == nil {
		return nil
	}
	switch entityType {
	case domain.EntityTransaction:
		t, err := transactionFromRow(row)
		if err != nil {
			return err
		}
		return e.store.PutTransaction(ctx, t)
	case domain.EntityItem:
		i, err := itemFromRow(row)
		if err != nil {
			return err
		}
		return e.store.PutItem(ctx, i)
	default:
		return nil
	}
}
