// Package harness runs YAML-defined end-to-end scenarios against a full
// engine: a real SQLite store, the in-memory fake backend, and pinned
// clocks and ID generators so every run is byte-for-byte deterministic.
//
// A scenario is a sequence of steps (commands, connectivity flips, queue
// drains) followed by assertions on the resulting local and remote state.
// Scenarios can additionally snapshot the final state against a golden
// file; regenerate goldens with:
//
//	go test ./internal/harness -update
package harness
