package engine

import (
	"context"

	"github.com/keeperhq/keeper/internal/domain"
	"github.com/keeperhq/keeper/internal/remote"
)

// Snapshot is a batch of authoritative rows pushed by the backend, e.g. from
// a realtime subscription or a full refetch after reconnecting.
type Snapshot struct {
	Transactions []remote.Row
	Items        []remote.Row
}

// ApplyRemoteSnapshot merges authoritative rows into the local cache.
// Entities with queued local writes are skipped: the local state is ahead of
// the snapshot and will converge through replay instead. Returns the number
// of rows applied.
func (e *Engine) ApplyRemoteSnapshot(ctx context.Context, snap *Snapshot) (int, error) {
	applied := 0

	apply := func(entityType domain.EntityType, rows []remote.Row) error {
		if len(rows) == 0 {
			return nil
		}
		pending, err := e.store.PendingEntityIDs(ctx, entityType)
		if err != nil {
			return err
		}
		for _, row := range rows {
			id := rowString(row, "id")
			if id == "" {
				continue
			}
			localID, err := e.reverseResolve(ctx, id)
			if err != nil {
				return err
			}
			if pending[id] || pending[localID] {
				e.logger.Debug("snapshot row skipped, local writes pending", "entity", id)
				continue
			}
			if err := e.applyAuthoritativeRow(ctx, entityType, row); err != nil {
				e.logger.Warn("snapshot row not applied", "entity", id, "error", err)
				continue
			}
			applied++
		}
		return nil
	}

	if err := apply(domain.EntityTransaction, snap.Transactions); err != nil {
		return applied, err
	}
	if err := apply(domain.EntityItem, snap.Items); err != nil {
		return applied, err
	}

	if applied > 0 {
		e.logger.Info("remote snapshot applied", "rows", applied)
	}
	return applied, nil
}

// reverseResolve finds the optimistic ID that maps to a backend ID, so
// pending-write checks cover entities still keyed locally under their
// optimistic IDs.
func (e *Engine) reverseResolve(ctx context.Context, backendID string) (string, error) {
	return e.store.ReverseResolveID(ctx, backendID)
}
