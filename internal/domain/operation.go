package domain

import (
	"encoding/json"
	"time"
)

// OpKind is what a pending operation does to its target entity remotely.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// PendingOperation is one durable queue entry. Immutable once enqueued
// except for retry bookkeeping; removed only after confirmed success or
// explicit rollback of a failed multi-step command.
type PendingOperation struct {
	// ID is a UUIDv7 so queue entries sort by creation time.
	ID string

	Kind       OpKind
	EntityType EntityType

	// TargetEntityID may be an optimistic ID; the executor remaps it via the
	// ID translation table before replay.
	TargetEntityID string

	AccountID string

	// Payload is the remote row (create) or patch (update) as JSON.
	Payload json.RawMessage

	// Seq orders replay per entity. Assigned by the durable queue.
	Seq int64

	EnqueuedAt time.Time

	// Retry bookkeeping, the only mutable part.
	RetryCount    int
	NextAttemptAt time.Time
	LastError     string
}

// PayloadMap decodes the payload row. Returns an empty map for an empty
// payload (deletes carry none).
func (op *PendingOperation) PayloadMap() (map[string]any, error) {
	m := map[string]any{}
	if len(op.Payload) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(op.Payload, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ConflictRecord reports a local/remote divergence on non-derived fields.
// Produced by the conflict detector, consumed by the presentation layer or
// an explicit resolution command; cleared after the entity syncs.
type ConflictRecord struct {
	ID              string
	EntityType      EntityType
	EntityID        string
	LocalSnapshot   json.RawMessage
	RemoteSnapshot  json.RawMessage
	DivergentFields []string
	DetectedAt      time.Time
}

// MovementKind classifies a lineage edge.
type MovementKind string

const (
	MovementAllocation MovementKind = "allocation"
	MovementSale       MovementKind = "sale"
	MovementReturn     MovementKind = "return"
	MovementTransfer   MovementKind = "transfer"
	// MovementCorrection marks a bookkeeping fix. Correction edges are
	// excluded from completeness and moved-out calculations: they are not
	// real business movement.
	MovementCorrection MovementKind = "correction"
)

// LineageEdge is one append-only provenance record: item moved from one
// transaction context to another. A nil-equivalent (empty) transaction ID
// means "no transaction" (business inventory).
//
// Edges are never mutated or deleted under normal operation; consumers must
// treat the edge set as a historical log, not a current-state index.
type LineageEdge struct {
	ID                int64
	ItemID            string
	FromTransactionID string
	ToTransactionID   string
	Kind              MovementKind
	Source            string // which command/component appended the edge
	Notes             string
	CreatedAt         time.Time
}

// RealMovement reports whether the edge counts for completeness and
// moved-out calculations.
func (e LineageEdge) RealMovement() bool {
	return e.Kind != MovementCorrection
}
