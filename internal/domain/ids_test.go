package domain

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeIDGeneratorFormat(t *testing.T) {
	g := NewTimeIDGenerator()
	pattern := regexp.MustCompile(`^T-\d{13}-[0-9a-z]{4}$`)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := g.NewID(PrefixTransaction)
		require.Regexp(t, pattern, id)
		seen[id] = true
	}
	// The random suffix keeps same-millisecond IDs apart.
	assert.Len(t, seen, 50)
}

func TestIsOptimisticID(t *testing.T) {
	tests := []struct {
		id     string
		prefix string
		want   bool
	}{
		{"T-1724990000000-k3f9", PrefixTransaction, true},
		{"T-1724990000000-k3f9", PrefixItem, false},
		{"I-1724990000000-a0b1", "", true},
		{"P-1724990000000-zzzz", "", true},
		{"INV_PURCHASE_P1", "", false},
		{"srv-12", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsOptimisticID(tt.id, tt.prefix), "id=%s prefix=%s", tt.id, tt.prefix)
	}
}

func TestCanonicalTransactionID(t *testing.T) {
	assert.Equal(t, "INV_PURCHASE_P1", CanonicalTransactionID(CanonicalPurchase, "P1"))
	assert.Equal(t, "INV_SALE_P1", CanonicalTransactionID(CanonicalSale, "P1"))
	assert.Equal(t, "INV_TRANSFER_P1", CanonicalTransactionID(CanonicalTransfer, "P1"))
}

func TestIsCanonicalTransactionID(t *testing.T) {
	assert.True(t, IsCanonicalTransactionID("INV_PURCHASE_P1"))
	assert.True(t, IsCanonicalTransactionID("INV_SALE_proj-abc"))
	assert.True(t, IsCanonicalTransactionID("INV_TRANSFER_P1"))
	assert.False(t, IsCanonicalTransactionID("T-1724990000000-k3f9"))
	assert.False(t, IsCanonicalTransactionID("INV_PURCHASE")) // no separator
	assert.False(t, IsCanonicalTransactionID(""))
}

func TestCanonicalProjectID(t *testing.T) {
	assert.Equal(t, "P1", CanonicalProjectID("INV_PURCHASE_P1"))
	assert.Equal(t, "proj-with_underscore", CanonicalProjectID("INV_SALE_proj-with_underscore"))
	assert.Empty(t, CanonicalProjectID("T-1724990000000-k3f9"))
}
