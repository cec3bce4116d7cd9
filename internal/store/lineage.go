package store

import (
	"context"
	"fmt"

	"github.com/keeperhq/keeper/internal/domain"
)

// Lineage ledger persistence. The edge log is append-only; all derived views
// (moved-out sets, per-item traces) are plain queries over it, so the index
// is always rebuildable and never drifts from the log.

// AppendLineageEdge appends one edge and assigns its ID.
func (s *Store) AppendLineageEdge(ctx context.Context, e *domain.LineageEdge) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO lineage_edges
		(item_id, from_transaction_id, to_transaction_id, kind, source, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ItemID, e.FromTransactionID, e.ToTransactionID, string(e.Kind),
		e.Source, e.Notes, encTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("append lineage edge for %s: %w", e.ItemID, err)
	}
	e.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append lineage edge for %s: %w", e.ItemID, err)
	}
	return nil
}

// LineageEdgesForItem returns an item's full provenance in append order.
func (s *Store) LineageEdgesForItem(ctx context.Context, itemID string) ([]domain.LineageEdge, error) {
	return s.queryEdges(ctx, `WHERE item_id = ?`, itemID)
}

// LineageEdgesFrom returns edges leaving a transaction, in append order.
func (s *Store) LineageEdgesFrom(ctx context.Context, transactionID string) ([]domain.LineageEdge, error) {
	return s.queryEdges(ctx, `WHERE from_transaction_id = ?`, transactionID)
}

// MovedOutItemIDs returns the IDs of items that left the transaction via a
// real movement. Correction edges are bookkeeping fixes and excluded.
func (s *Store) MovedOutItemIDs(ctx context.Context, transactionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT item_id FROM lineage_edges
		WHERE from_transaction_id = ? AND kind != ?
		ORDER BY item_id
	`, transactionID, string(domain.MovementCorrection))
	if err != nil {
		return nil, fmt.Errorf("moved-out items for %s: %w", transactionID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) queryEdges(ctx context.Context, where string, args ...any) ([]domain.LineageEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, from_transaction_id, to_transaction_id, kind,
		       source, notes, created_at
		FROM lineage_edges `+where+` ORDER BY id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query lineage edges: %w", err)
	}
	defer rows.Close()

	var out []domain.LineageEdge
	for rows.Next() {
		var (
			e     domain.LineageEdge
			kind  string
			ctime string
		)
		err := rows.Scan(&e.ID, &e.ItemID, &e.FromTransactionID,
			&e.ToTransactionID, &kind, &e.Source, &e.Notes, &ctime)
		if err != nil {
			return nil, err
		}
		e.Kind = domain.MovementKind(kind)
		if e.CreatedAt, err = decTime(ctime); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
