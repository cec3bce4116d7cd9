// Package store implements the local durable store on SQLite: the entity
// cache every component reads and writes through, the durable operation
// queue, the append-only lineage ledger, the optimistic-ID remap table and
// persisted conflict records.
//
// The store is deliberately dumb: it does not know about replay, conflict
// detection or reconciliation. internal/engine owns those semantics.
package store
