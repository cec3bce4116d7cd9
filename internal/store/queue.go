package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/keeperhq/keeper/internal/domain"
)

// Durable operation queue. Enqueue order is the replay order per entity;
// entries survive process restarts and are removed only after confirmed
// success or explicit rollback.

// EnqueueOperation appends an operation and assigns its Seq.
func (s *Store) EnqueueOperation(ctx context.Context, op *domain.PendingOperation) error {
	payload := string(op.Payload)
	if payload == "" {
		payload = "{}"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_operations
		(id, kind, entity_type, target_entity_id, account_id, payload,
		 enqueued_at, retry_count, next_attempt_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		op.ID, string(op.Kind), string(op.EntityType), op.TargetEntityID,
		op.AccountID, payload, encTime(op.EnqueuedAt), op.RetryCount,
		encTime(op.NextAttemptAt), op.LastError,
	)
	if err != nil {
		return fmt.Errorf("enqueue operation %s: %w", op.ID, err)
	}
	op.Seq, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("enqueue operation %s: %w", op.ID, err)
	}
	return nil
}

// RemoveOperation deletes a queue entry by operation ID. Removing an entry
// that no longer exists is not an error (success confirmation and explicit
// rollback can race).
func (s *Store) RemoveOperation(ctx context.Context, opID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, opID); err != nil {
		return fmt.Errorf("remove operation %s: %w", opID, err)
	}
	return nil
}

const operationColumns = `seq, id, kind, entity_type, target_entity_id,
	account_id, payload, enqueued_at, retry_count, next_attempt_at, last_error`

// ListOperations returns all queued operations in enqueue order.
func (s *Store) ListOperations(ctx context.Context) ([]*domain.PendingOperation, error) {
	return s.queryOperations(ctx, ``)
}

// OperationsDue returns queued operations whose next attempt is not in the
// future, in enqueue order.
func (s *Store) OperationsDue(ctx context.Context, now time.Time) ([]*domain.PendingOperation, error) {
	return s.queryOperations(ctx, `WHERE next_attempt_at = '' OR next_attempt_at <= ?`, encTime(now))
}

// GetOperation returns one queue entry by operation ID.
func (s *Store) GetOperation(ctx context.Context, opID string) (*domain.PendingOperation, error) {
	ops, err := s.queryOperations(ctx, `WHERE id = ?`, opID)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("operation %s: %w", opID, ErrNotFound)
	}
	return ops[0], nil
}

// PendingEntityIDs returns the set of entity IDs of the given type with
// unacknowledged writes. Cache-write paths consult this before applying
// remote snapshots so a stale snapshot never clobbers a pending local write.
func (s *Store) PendingEntityIDs(ctx context.Context, entityType domain.EntityType) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT target_entity_id FROM pending_operations WHERE entity_type = ?
	`, string(entityType))
	if err != nil {
		return nil, fmt.Errorf("pending entity ids: %w", err)
	}
	defer rows.Close()

	ids := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// PendingCreates returns entity IDs with a queued create of the given type.
func (s *Store) PendingCreates(ctx context.Context, entityType domain.EntityType) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT target_entity_id FROM pending_operations
		WHERE entity_type = ? AND kind = ?
	`, string(entityType), string(domain.OpCreate))
	if err != nil {
		return nil, fmt.Errorf("pending creates: %w", err)
	}
	defer rows.Close()

	ids := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// UpdateOperationRetry records a failed attempt: bumps the retry count and
// schedules the next one. The payload itself stays immutable.
func (s *Store) UpdateOperationRetry(ctx context.Context, opID string, retryCount int, nextAttempt time.Time, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_operations
		SET retry_count = ?, next_attempt_at = ?, last_error = ?
		WHERE id = ?
	`, retryCount, encTime(nextAttempt), lastError, opID)
	if err != nil {
		return fmt.Errorf("update operation retry %s: %w", opID, err)
	}
	return nil
}

// ReplaceOperationPayload swaps the payload of a queued operation. Only the
// executor's repair-and-retry path uses this, after clearing a field the
// backend rejected.
func (s *Store) ReplaceOperationPayload(ctx context.Context, opID string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_operations SET payload = ? WHERE id = ?
	`, string(payload), opID)
	if err != nil {
		return fmt.Errorf("replace operation payload %s: %w", opID, err)
	}
	return nil
}

// QueueDepth returns the number of queued operations.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations`).Scan(&n)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

func (s *Store) queryOperations(ctx context.Context, where string, args ...any) ([]*domain.PendingOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+operationColumns+` FROM pending_operations `+where+` ORDER BY seq ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var out []*domain.PendingOperation
	for rows.Next() {
		var (
			op                 domain.PendingOperation
			kind, etype        string
			payload            string
			enqS, nextS        string
		)
		err := rows.Scan(&op.Seq, &op.ID, &kind, &etype, &op.TargetEntityID,
			&op.AccountID, &payload, &enqS, &op.RetryCount, &nextS, &op.LastError)
		if err != nil {
			return nil, err
		}
		op.Kind = domain.OpKind(kind)
		op.EntityType = domain.EntityType(etype)
		op.Payload = []byte(payload)
		if op.EnqueuedAt, err = decTime(enqS); err != nil {
			return nil, err
		}
		if op.NextAttemptAt, err = decTime(nextS); err != nil {
			return nil, err
		}
		out = append(out, &op)
	}
	return out, rows.Err()
}
