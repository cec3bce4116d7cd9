package cli

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
)

func traceFixture() *TraceResult {
	return &TraceResult{
		ItemID:   "I-1716900000-a1b2",
		ItemName: "Vintage Door",
		Edges: []TraceEdge{
			{Seq: 1, Kind: "allocation", From: "", To: "T-1716900000-x9k2", CreatedAt: "2025-06-01T12:00:00Z"},
			{Seq: 2, Kind: "allocation", From: "T-1716900000-x9k2", To: "INV_PURCHASE_proj-7", CreatedAt: "2025-06-01T12:01:00Z"},
			{Seq: 3, Kind: "sale", From: "INV_PURCHASE_proj-7", To: "INV_SALE_proj-7", CreatedAt: "2025-06-01T12:02:00Z"},
			{Seq: 4, Kind: "correction", From: "INV_SALE_proj-7", To: "INV_SALE_proj-7", Notes: "price changed", CreatedAt: "2025-06-01T12:03:00Z"},
		},
	}
}

func TestFormatTraceTextGolden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "trace-item", []byte(FormatTraceText(traceFixture())))
}

func TestFormatTraceTextEmpty(t *testing.T) {
	out := FormatTraceText(&TraceResult{ItemID: "I-unknown"})
	assert.Equal(t, "Item I-unknown\nNo recorded movements.\n", out)
}
