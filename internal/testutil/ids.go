package testutil

import (
	"fmt"
	"sync"
)

// SeqIDGenerator produces deterministic entity IDs in the optimistic
// format: "<prefix>-<millis>-<seq>". The millis component is fixed so IDs
// compare stable in golden output.
type SeqIDGenerator struct {
	mu     sync.Mutex
	millis int64
	seq    int
}

// NewSeqIDGenerator creates a generator with a fixed millis component.
func NewSeqIDGenerator(millis int64) *SeqIDGenerator {
	return &SeqIDGenerator{millis: millis}
}

// NewID implements domain.IDGenerator.
func (g *SeqIDGenerator) NewID(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%d-%04d", prefix, g.millis, g.seq)
}

// FixedOpIDs produces deterministic operation-queue IDs: op-0001, op-0002.
type FixedOpIDs struct {
	mu  sync.Mutex
	seq int
}

// Generate implements engine.OpIDGenerator.
func (g *FixedOpIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("op-%04d", g.seq)
}
