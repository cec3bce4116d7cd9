package domain

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Optimistic identifiers are prefix-tagged strings embedding a millisecond
// timestamp and a 4-character random suffix: "T-1724990000000-k3f9". The
// backend accepts and stores the client-chosen ID, so entities created
// offline are immediately usable and visually distinguishable from
// backend-assigned IDs.

// Optimistic ID prefixes by entity kind.
const (
	PrefixTransaction = "T"
	PrefixItem        = "I"
	PrefixProject     = "P"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// IDGenerator produces optimistic entity identifiers.
// Implemented by Clock-backed production generator and FixedIDGenerator
// (internal/testutil) for deterministic tests.
type IDGenerator interface {
	NewID(prefix string) string
}

// TimeIDGenerator is the production generator: wall-clock millis plus a
// random base36 suffix.
//
// Thread-safety: guarded by a mutex; rand.Rand is not safe for concurrent
// use.
type TimeIDGenerator struct {
	mu  sync.Mutex
	now func() time.Time
	rnd *rand.Rand
}

// NewTimeIDGenerator creates a generator seeded from the current time.
func NewTimeIDGenerator() *TimeIDGenerator {
	return &TimeIDGenerator{
		now: time.Now,
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewID returns "<prefix>-<millis>-<rand4>".
func (g *TimeIDGenerator) NewID(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var suffix [4]byte
	for i := range suffix {
		suffix[i] = idAlphabet[g.rnd.Intn(len(idAlphabet))]
	}
	return fmt.Sprintf("%s-%d-%s", prefix, g.now().UnixMilli(), suffix[:])
}

// IsOptimisticID reports whether id is a client-generated optimistic ID for
// the given prefix ("" matches any known prefix).
func IsOptimisticID(id, prefix string) bool {
	if prefix != "" {
		return strings.HasPrefix(id, prefix+"-")
	}
	return strings.HasPrefix(id, PrefixTransaction+"-") ||
		strings.HasPrefix(id, PrefixItem+"-") ||
		strings.HasPrefix(id, PrefixProject+"-")
}

// CanonicalKind distinguishes the three system-generated transaction kinds.
type CanonicalKind string

const (
	CanonicalPurchase CanonicalKind = "INV_PURCHASE"
	CanonicalSale     CanonicalKind = "INV_SALE"
	CanonicalTransfer CanonicalKind = "INV_TRANSFER"
)

// CanonicalTransactionID returns the deterministic business key for a
// system-generated transaction, e.g. "INV_PURCHASE_P1".
func CanonicalTransactionID(kind CanonicalKind, projectID string) string {
	return fmt.Sprintf("%s_%s", kind, projectID)
}

// IsCanonicalTransactionID reports whether id is a canonical business key.
// Canonical transactions are never manually audited: the review flag is
// always false for them.
func IsCanonicalTransactionID(id string) bool {
	return strings.HasPrefix(id, string(CanonicalPurchase)+"_") ||
		strings.HasPrefix(id, string(CanonicalSale)+"_") ||
		strings.HasPrefix(id, string(CanonicalTransfer)+"_")
}

// CanonicalProjectID extracts the project component of a canonical ID.
// Returns "" when id is not canonical.
func CanonicalProjectID(id string) string {
	for _, kind := range []CanonicalKind{CanonicalPurchase, CanonicalSale, CanonicalTransfer} {
		if p, ok := strings.CutPrefix(id, string(kind)+"_"); ok {
			return p
		}
	}
	return ""
}
