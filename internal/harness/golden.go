package harness

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/keeperhq/keeper/internal/money"
	"github.com/keeperhq/keeper/internal/testutil"
)

// StateSnapshot is the deterministic final-state dump compared against
// golden files. All monetary values are fixed two-digit strings; all lists
// are sorted by ID so map iteration order never leaks into the output.
type StateSnapshot struct {
	Transactions []TxSnapshot    `json:"transactions"`
	Items        []ItemSnapshot  `json:"items"`
	Queue        []QueueSnapshot `json:"queue"`
}

type TxSnapshot struct {
	ID          string   `json:"id"`
	Amount      string   `json:"amount"`
	Subtotal    string   `json:"subtotal,omitempty"`
	ItemIDs     []string `json:"item_ids,omitempty"`
	NeedsReview bool     `json:"needs_review"`
	ProjectID   string   `json:"project_id,omitempty"`
}

type ItemSnapshot struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Disposition   string `json:"disposition"`
	TransactionID string `json:"transaction_id,omitempty"`
	Effective     string `json:"effective_price"`
}

type QueueSnapshot struct {
	Seq        int64  `json:"seq"`
	Kind       string `json:"kind"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// Snapshot captures the runner's final state.
func (r *Runner) Snapshot(t *testing.T) *StateSnapshot {
	t.Helper()
	ctx := context.Background()
	st := r.F.Store

	snap := &StateSnapshot{}

	txs, err := st.ListTransactions(ctx, testutil.AccountID)
	require.NoError(t, err)
	for _, tx := range txs {
		ts := TxSnapshot{
			ID:          tx.ID,
			Amount:      money.Format(tx.Amount),
			ItemIDs:     append([]string(nil), tx.ItemIDs...),
			NeedsReview: tx.NeedsReview,
			ProjectID:   tx.ProjectID,
		}
		if tx.Subtotal != nil {
			ts.Subtotal = money.Format(*tx.Subtotal)
		}
		sort.Strings(ts.ItemIDs)
		snap.Transactions = append(snap.Transactions, ts)
	}
	sort.Slice(snap.Transactions, func(i, j int) bool {
		return snap.Transactions[i].ID < snap.Transactions[j].ID
	})

	items, err := st.ListItems(ctx, testutil.AccountID)
	require.NoError(t, err)
	for _, it := range items {
		snap.Items = append(snap.Items, ItemSnapshot{
			ID:            it.ID,
			Name:          it.Name,
			Disposition:   string(it.Disposition),
			TransactionID: it.TransactionID,
			Effective:     money.Format(it.EffectivePrice()),
		})
	}
	sort.Slice(snap.Items, func(i, j int) bool {
		return snap.Items[i].ID < snap.Items[j].ID
	})

	ops, err := st.ListOperations(ctx)
	require.NoError(t, err)
	for _, op := range ops {
		snap.Queue = append(snap.Queue, QueueSnapshot{
			Seq:        op.Seq,
			Kind:       string(op.Kind),
			EntityType: string(op.EntityType),
			EntityID:   op.TargetEntityID,
		})
	}
	return snap
}

// CompareGolden snapshots the final state and compares it against
// testdata/golden/{name}.golden.
func (r *Runner) CompareGolden(t *testing.T, name string) {
	t.Helper()

	snap := r.Snapshot(t)
	data, err := json.MarshalIndent(snap, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, append(data, '\n'))
}
