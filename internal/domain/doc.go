// Package domain defines the entity model shared by the local store, the
// sync engine and the CLI: transactions, items, projects, the pending
// operation and lineage records, the closed Command union, identifier
// helpers and the typed error surface.
//
// Entities here are plain values. Behavior (queueing, replay, reconciliation)
// lives in internal/engine; persistence lives in internal/store.
package domain
