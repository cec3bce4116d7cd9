package store

import (
	"context"
	"fmt"

	"github.com/keeperhq/keeper/internal/domain"
)

// Conflict records persist so detected divergence survives restarts until
// the entity syncs or the user resolves it.

// PutConflict inserts or replaces a conflict record.
func (s *Store) PutConflict(ctx context.Context, c *domain.ConflictRecord) error {
	fields, err := encStrings(c.DivergentFields)
	if err != nil {
		return fmt.Errorf("put conflict %s: %w", c.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO conflict_records
		(id, entity_type, entity_id, local_snapshot, remote_snapshot,
		 divergent_fields, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, string(c.EntityType), c.EntityID, string(c.LocalSnapshot),
		string(c.RemoteSnapshot), fields, encTime(c.DetectedAt))
	if err != nil {
		return fmt.Errorf("put conflict %s: %w", c.ID, err)
	}
	return nil
}

// ListConflicts returns all open conflict records.
func (s *Store) ListConflicts(ctx context.Context) ([]*domain.ConflictRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, local_snapshot, remote_snapshot,
		       divergent_fields, detected_at
		FROM conflict_records ORDER BY detected_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var out []*domain.ConflictRecord
	for rows.Next() {
		var (
			c              domain.ConflictRecord
			etype          string
			local, rem     string
			fields, detS   string
		)
		if err := rows.Scan(&c.ID, &etype, &c.EntityID, &local, &rem, &fields, &detS); err != nil {
			return nil, err
		}
		c.EntityType = domain.EntityType(etype)
		c.LocalSnapshot = []byte(local)
		c.RemoteSnapshot = []byte(rem)
		if c.DivergentFields, err = decStrings(fields); err != nil {
			return nil, err
		}
		if c.DetectedAt, err = decTime(detS); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// GetConflict returns one conflict record by ID.
func (s *Store) GetConflict(ctx context.Context, id string) (*domain.ConflictRecord, error) {
	all, err := s.ListConflicts(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range all {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("conflict %s: %w", id, ErrNotFound)
}

// ClearConflictsForEntity removes conflict records once the entity has
// successfully synced.
func (s *Store) ClearConflictsForEntity(ctx context.Context, entityType domain.EntityType, entityID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM conflict_records WHERE entity_type = ? AND entity_id = ?
	`, string(entityType), entityID)
	if err != nil {
		return fmt.Errorf("clear conflicts for %s %s: %w", entityType, entityID, err)
	}
	return nil
}
