package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/keeperhq/keeper/internal/domain"
	"github.com/keeperhq/keeper/internal/remote"
	"github.com/keeperhq/keeper/internal/store"
)

// Fields the engine itself derives. Divergence on these is expected while
// the queue is non-empty and is never a conflict.
var derivedFields = map[string]bool{
	"sum_item_purchase_prices": true,
	"needs_review":             true,
	"version":                  true,
	"updated_at":               true,
}

// divergentFields compares a local row against a remote row and returns the
// sorted non-derived field names whose values differ. Keys present on only
// one side count as divergent.
func divergentFields(local, rem remote.Row) []string {
	keys := map[string]bool{}
	for k := range local {
		keys[k] = true
	}
	for k := range rem {
		keys[k] = true
	}

	var out []string
	for k := range keys {
		if derivedFields[k] {
			continue
		}
		if !sameRowValue(local[k], rem[k]) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// sameRowValue compares two row values through JSON normalization, so a
// float64 from the wire and an int from local encoding compare equal.
func sameRowValue(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ja) == string(jb)
}

// DetectConflicts compares every locally dirty entity (one with pending
// queued writes) against the remote system of record and stores a conflict
// record for each divergence on non-derived fields. Offline it is a no-op.
func (e *Engine) DetectConflicts(ctx context.Context, accountID string) ([]*domain.ConflictRecord, error) {
	if !e.monitor.Online() {
		return nil, nil
	}

	var found []*domain.ConflictRecord
	for _, entityType := range []domain.EntityType{domain.EntityTransaction, domain.EntityItem} {
		pending, err := e.store.PendingEntityIDs(ctx, entityType)
		if err != nil {
			return nil, err
		}
		creates, err := e.store.PendingCreates(ctx, entityType)
		if err != nil {
			return nil, err
		}
		for id := range pending {
			if creates[id] {
				continue // nothing remote to diverge from yet
			}
			rec, err := e.detectEntityConflict(ctx, entityType, id)
			if err != nil {
				e.logger.Warn("conflict check failed", "entity", id, "error", err)
				continue
			}
			if rec != nil {
				found = append(found, rec)
			}
		}
	}

	if len(found) > 0 && e.metrics != nil {
		e.metrics.ConflictsDetected.Add(float64(len(found)))
	}
	return found, nil
}

func (e *Engine) detectEntityConflict(ctx context.Context, entityType domain.EntityType, entityID string) (*domain.ConflictRecord, error) {
	localRow, err := e.localRow(ctx, entityType, entityID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	remoteID, err := e.store.ResolveID(ctx, entityID)
	if err != nil {
		return nil, err
	}
	var rows []remote.Row
	err = e.callRemote(ctx, func(c context.Context) error {
		var callErr error
		rows, callErr = e.remote.Select(c, tableFor(entityType), remote.Filter{"id": remoteID})
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil // deleted remotely; the queued delete or create decides
	}

	fields := divergentFields(localRow, rows[0])
	if len(fields) == 0 {
		return nil, nil
	}

	rec, err := e.recordConflict(ctx, entityType, entityID, localRow, rows[0], fields)
	if err != nil {
		return nil, err
	}
	e.logger.Warn("conflict detected", "entity", entityID, "fields", fields)
	return rec, nil
}

// conflictCheckBeforeApply guards the executor's cache write: if the
// authoritative row diverges from local state beyond the fields the replayed
// operation carried, a conflict record is stored before the overwrite so the
// local values are not silently lost. sent is the operation's own payload;
// the server echoes the full merged row, so membership in the accepted row
// says nothing about who wrote a field.
func (e *Engine) conflictCheckBeforeApply(ctx context.Context, entityType domain.EntityType, entityID string, accepted, sent remote.Row) error {
	localRow, err := e.localRow(ctx, entityType, entityID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	fields := divergentFields(localRow, accepted)
	// An update's own fields always "diverge" from the pre-write local
	// snapshot; only fields the operation never sent are suspect.
	var foreign []string
	for _, f := range fields {
		if _, sentByUs := sent[f]; !sentByUs {
			foreign = append(foreign, f)
		}
	}
	if len(foreign) == 0 {
		return nil
	}
	_, err = e.recordConflict(ctx, entityType, entityID, localRow, accepted, foreign)
	return err
}

func (e *Engine) recordConflict(ctx context.Context, entityType domain.EntityType, entityID string, localRow, remoteRow remote.Row, fields []string) (*domain.ConflictRecord, error) {
	localJSON, err := json.Marshal(localRow)
	if err != nil {
		return nil, err
	}
	remoteJSON, err := json.Marshal(remoteRow)
	if err != nil {
		return nil, err
	}
	rec := &domain.ConflictRecord{
		ID:              e.opIDs.Generate(),
		EntityType:      entityType,
		EntityID:        entityID,
		LocalSnapshot:   localJSON,
		RemoteSnapshot:  remoteJSON,
		DivergentFields: fields,
		DetectedAt:      e.now(),
	}
	if err := e.store.PutConflict(ctx, rec); err != nil {
		return nil, &domain.OfflineStorageError{Op: "put conflict", Err: err}
	}
	return rec, nil
}

// Resolution picks a side when resolving a conflict.
type Resolution string

const (
	KeepLocal  Resolution = "local"
	KeepRemote Resolution = "remote"
)

// ResolveConflict applies one side of a recorded conflict and clears the
// record. KeepLocal re-enqueues the local snapshot as an update so the
// remote converges; KeepRemote overwrites the local cache with the remote
// snapshot and drops the entity's queued writes.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, res Resolution) error {
	rec, err := e.store.GetConflict(ctx, conflictID)
	if err != nil {
		return err
	}

	switch res {
	case KeepLocal:
		var row remote.Row
		if err := json.Unmarshal(rec.LocalSnapshot, &row); err != nil {
			return fmt.Errorf("decode local snapshot: %w", err)
		}
		op := e.newOp(domain.OpUpdate, rec.EntityType, rec.EntityID, row)
		if _, err := e.enqueue(ctx, op, nil); err != nil {
			return err
		}
	case KeepRemote:
		var row remote.Row
		if err := json.Unmarshal(rec.RemoteSnapshot, &row); err != nil {
			return fmt.Errorf("decode remote snapshot: %w", err)
		}
		ops, err := e.store.ListOperations(ctx)
		if err != nil {
			return err
		}
		for _, op := range ops {
			if op.TargetEntityID == rec.EntityID {
				if err := e.store.RemoveOperation(ctx, op.ID); err != nil {
					return err
				}
			}
		}
		if err := e.applyAuthoritativeRow(ctx, rec.EntityType, row); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown resolution %q", res)
	}

	return e.store.ClearConflictsForEntity(ctx, rec.EntityType, rec.EntityID)
}

// localRow renders an entity's local state in wire-row form for comparison.
func (e *Engine) localRow(ctx context.Context, entityType domain.EntityType, entityID string) (remote.Row, error) {
	switch entityType {
	case domain.EntityTransaction:
		tx, err := e.store.GetTransaction(ctx, entityID)
		if err != nil {
			return nil, err
		}
		return transactionRow(tx), nil
	case domain.EntityItem:
		it, err := e.store.GetItem(ctx, entityID)
		if err != nil {
			return nil, err
		}
		return itemRow(it), nil
	default:
		return nil, fmt.Errorf("no row form for entity type %q", entityType)
	}
}
