// Package engine implements the offline-first mutation and reconciliation
// engine: command application with optimistic local writes, the durable
// operation queue and its replay protocol, conflict detection against the
// remote system of record, canonical-amount reconciliation, the debounced
// review-flag coalescer and the lineage ledger.
//
// # Write path
//
// A user action produces a Command. Offline, the command is applied
// optimistically to the local store and pushed onto the operation queue;
// online, it is sent to the remote store first and falls back to the same
// queueing path on timeout. The local write always happens before the queue
// entry becomes durable, and a failed enqueue rolls the optimistic write
// back.
//
// # Replay
//
// The executor drains the queue when online, in enqueue order per entity.
// Success updates the local cache with authoritative values and records
// optimistic-ID remaps; timeouts leave the operation queued with backoff;
// referential-integrity rejections are repaired (offending field cleared)
// and retried once before being left queued with a warning.
//
// # Derived state
//
// Every command that changes an item's price or transaction linkage appends
// a lineage edge, delta-adjusts the owning transaction's derived sum, and
// requests a coalesced recompute of the review flag.
package engine
