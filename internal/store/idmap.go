package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/keeperhq/keeper/internal/domain"
)

// ID translation table: localID -> backend-confirmed ID, maintained by the
// sync executor when a queued create is acknowledged under a different ID.
// Identifiers are never mutated in place; every read path resolves through
// this table instead.

// PutIDRemap records a local-to-canonical mapping.
func (s *Store) PutIDRemap(ctx context.Context, localID, canonicalID string, entityType domain.EntityType) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO id_remap (local_id, canonical_id, entity_type, mapped_at)
		VALUES (?, ?, ?, ?)
	`, localID, canonicalID, string(entityType), encTime(time.Now()))
	if err != nil {
		return fmt.Errorf("put id remap %s -> %s: %w", localID, canonicalID, err)
	}
	return nil
}

// ResolveID follows the remap chain for id. IDs with no mapping resolve to
// themselves. Chains are followed to a fixpoint so a remap recorded on top
// of another remap still resolves.
func (s *Store) ResolveID(ctx context.Context, id string) (string, error) {
	// Chains are one hop in practice; the walk is bounded regardless.
	for hop := 0; hop < 8; hop++ {
		var mapped string
		err := s.db.QueryRowContext(ctx, `
			SELECT canonical_id FROM id_remap WHERE local_id = ?
		`, id).Scan(&mapped)
		if errors.Is(err, sql.ErrNoRows) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("resolve id %s: %w", id, err)
		}
		if mapped == id {
			return id, nil
		}
		id = mapped
	}
	return id, nil
}

// ReverseResolveID returns the local ID that maps to canonicalID, or
// canonicalID itself when no mapping exists.
func (s *Store) ReverseResolveID(ctx context.Context, canonicalID string) (string, error) {
	var local string
	err := s.db.QueryRowContext(ctx, `
		SELECT local_id FROM id_remap WHERE canonical_id = ?
	`, canonicalID).Scan(&local)
	if errors.Is(err, sql.ErrNoRows) {
		return canonicalID, nil
	}
	if err != nil {
		return "", fmt.Errorf("reverse resolve id %s: %w", canonicalID, err)
	}
	return local, nil
}
