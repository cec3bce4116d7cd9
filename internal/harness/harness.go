package harness

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/keeperhq/keeper/internal/domain"
	"github.com/keeperhq/keeper/internal/money"
	"github.com/keeperhq/keeper/internal/remote"
	"github.com/keeperhq/keeper/internal/testutil"
)

// Runner binds a scenario execution to a fixture. Kept after Run so tests
// can make additional assertions beyond the YAML.
type Runner struct {
	F    *testutil.Fixture
	refs map[string]string // "as" name -> entity ID
}

// Run executes a scenario to completion, failing t on any step or
// assertion mismatch.
func Run(t *testing.T, s *Scenario) *Runner {
	t.Helper()
	ctx := context.Background()

	r := &Runner{
		F:    testutil.NewFixture(t),
		refs: map[string]string{},
	}
	r.F.Monitor.SetOnline(s.Online)

	for _, seed := range s.Seed {
		r.applySeed(t, ctx, seed)
	}
	for i, step := range s.Steps {
		r.runStep(t, ctx, step, fmt.Sprintf("step %d (%s)", i, step.Action))
	}
	for i, a := range s.Assertions {
		r.check(t, ctx, a, fmt.Sprintf("assertion %d (%s)", i, a.Kind))
	}
	if s.Golden {
		r.CompareGolden(t, s.Name)
	}
	return r
}

// Resolve maps an "as" name to the entity ID it captured. Unknown names
// pass through as literal IDs so canonical INV_* IDs can be written
// directly in YAML.
func (r *Runner) Resolve(name string) string {
	if id, ok := r.refs[name]; ok {
		return id
	}
	return name
}

func (r *Runner) applySeed(t *testing.T, ctx context.Context, seed SeedEntry) {
	t.Helper()
	st := r.F.Store
	switch seed.Kind {
	case "project":
		require.NoError(t, st.PutProject(ctx, &domain.Project{
			ID: seed.ID, AccountID: testutil.AccountID, Name: seed.Name, Status: "active",
		}))
	case "category":
		require.NoError(t, st.PutCategory(ctx, &domain.Category{
			ID: seed.ID, AccountID: testutil.AccountID, Name: seed.Name,
			ItemizationDisabled: seed.ItemizationDisabled,
		}))
	case "tax_preset":
		require.NoError(t, st.PutTaxPreset(ctx, &domain.TaxPreset{
			Name: seed.Name, RatePercent: mustDec(t, seed.Rate),
		}))
	default:
		t.Fatalf("unknown seed kind %q", seed.Kind)
	}
}

func (r *Runner) runStep(t *testing.T, ctx context.Context, step Step, where string) {
	t.Helper()
	eng := r.F.Engine

	switch step.Action {
	case "create_transaction":
		tx := &domain.Transaction{
			Amount:     mustDec(t, step.Amount),
			TaxRate:    step.TaxRate,
			ProjectID:  step.Project,
			CategoryID: step.Category,
		}
		if step.Subtotal != "" {
			sub := mustDec(t, step.Subtotal)
			tx.Subtotal = &sub
		}
		items := make([]*domain.Item, 0, len(step.Items))
		for _, si := range step.Items {
			items = append(items, &domain.Item{
				Name:          si.Name,
				PurchasePrice: optDec(t, si.PurchasePrice),
				ProjectPrice:  optDec(t, si.ProjectPrice),
				MarketValue:   optDec(t, si.MarketValue),
				CategoryID:    si.Category,
			})
		}
		res, err := eng.Apply(ctx, &domain.CreateTransaction{Transaction: tx, Items: items})
		if r.checkStepErr(t, step, err, where) {
			return
		}
		r.capture(step.As, res.TransactionID)
		for i, si := range step.Items {
			r.capture(si.As, res.ItemIDs[i])
		}

	case "update_transaction":
		patch := domain.TransactionPatch{}
		if step.Amount != "" {
			a := mustDec(t, step.Amount)
			patch.Amount = &a
		}
		if step.Subtotal != "" {
			s := mustDec(t, step.Subtotal)
			patch.Subtotal = &s
		}
		if step.TaxRate != "" {
			patch.TaxRate = &step.TaxRate
		}
		if step.Category != "" {
			patch.CategoryID = &step.Category
		}
		_, err := eng.Apply(ctx, &domain.UpdateTransaction{
			TransactionID: r.Resolve(step.Transaction), Patch: patch,
		})
		r.checkStepErr(t, step, err, where)

	case "delete_transaction":
		_, err := eng.Apply(ctx, &domain.DeleteTransaction{TransactionID: r.Resolve(step.Transaction)})
		r.checkStepErr(t, step, err, where)

	case "create_item":
		it := &domain.Item{
			Name:          step.Name,
			PurchasePrice: optDec(t, step.PurchasePrice),
			ProjectPrice:  optDec(t, step.ProjectPrice),
			MarketValue:   optDec(t, step.MarketValue),
			CategoryID:    step.Category,
			TransactionID: r.Resolve(step.Transaction),
		}
		res, err := eng.Apply(ctx, &domain.CreateItem{Item: it})
		if r.checkStepErr(t, step, err, where) {
			return
		}
		r.capture(step.As, res.ItemIDs[0])

	case "update_item":
		patch := domain.ItemPatch{}
		if step.Name != "" {
			patch.Name = &step.Name
		}
		if step.PurchasePrice != "" {
			p := mustDec(t, step.PurchasePrice)
			patch.PurchasePrice = &p
		}
		if step.ProjectPrice != "" {
			p := mustDec(t, step.ProjectPrice)
			patch.ProjectPrice = &p
		}
		if step.MarketValue != "" {
			p := mustDec(t, step.MarketValue)
			patch.MarketValue = &p
		}
		if step.Category != "" {
			patch.CategoryID = &step.Category
		}
		_, err := eng.Apply(ctx, &domain.UpdateItem{ItemID: r.Resolve(step.Item), Patch: patch})
		r.checkStepErr(t, step, err, where)

	case "delete_item":
		_, err := eng.Apply(ctx, &domain.DeleteItem{ItemID: r.Resolve(step.Item)})
		r.checkStepErr(t, step, err, where)

	case "allocate":
		_, err := eng.Apply(ctx, &domain.AllocateItem{ItemID: r.Resolve(step.Item), ProjectID: step.Project})
		r.checkStepErr(t, step, err, where)

	case "sell":
		_, err := eng.Apply(ctx, &domain.SellItem{ItemID: r.Resolve(step.Item), ProjectID: step.Project})
		r.checkStepErr(t, step, err, where)

	case "return":
		_, err := eng.Apply(ctx, &domain.ReturnItem{ItemID: r.Resolve(step.Item)})
		r.checkStepErr(t, step, err, where)

	case "move":
		_, err := eng.Apply(ctx, &domain.MoveItem{
			ItemID: r.Resolve(step.Item), ToProjectID: step.Project, KeepEmptyCanonical: step.KeepEmpty,
		})
		r.checkStepErr(t, step, err, where)

	case "set_online":
		r.F.Monitor.SetOnline(step.OnlineState)

	case "drain":
		_, err := eng.DrainOnce(ctx)
		require.NoError(t, err, where)

	case "flush_review":
		r.F.FlushReview()

	case "fail_next":
		r.F.Server.FailNext(step.Method, step.Table, remote.Error{
			Code: remote.Code(step.Code), Message: "injected failure", Field: step.Field,
		})

	default:
		t.Fatalf("%s: unknown action %q", where, step.Action)
	}
}

// checkStepErr reconciles a command result with the step's expectation.
// Returns true when the step expected (and got) an error, so the caller
// skips result capture.
func (r *Runner) checkStepErr(t *testing.T, step Step, err error, where string) bool {
	t.Helper()
	if step.ExpectError {
		require.Error(t, err, where)
		return true
	}
	require.NoError(t, err, where)
	return false
}

func (r *Runner) capture(name, id string) {
	if name != "" {
		r.refs[name] = id
	}
}

func (r *Runner) check(t *testing.T, ctx context.Context, a Assertion, where string) {
	t.Helper()
	st := r.F.Store

	switch a.Kind {
	case "queue_depth":
		depth, err := st.QueueDepth(ctx)
		require.NoError(t, err, where)
		require.Equal(t, a.Equals, strconv.Itoa(depth), where)

	case "tx_amount":
		tx, err := st.GetTransaction(ctx, r.Resolve(a.Transaction))
		require.NoError(t, err, where)
		require.Equal(t, a.Equals, money.Format(tx.Amount), where)

	case "tx_exists":
		_, err := st.GetTransaction(ctx, r.Resolve(a.Transaction))
		exists := err == nil
		require.Equal(t, a.Equals, strconv.FormatBool(exists), where)

	case "needs_review":
		tx, err := st.GetTransaction(ctx, r.Resolve(a.Transaction))
		require.NoError(t, err, where)
		require.Equal(t, a.Equals, strconv.FormatBool(tx.NeedsReview), where)

	case "disposition":
		it, err := st.GetItem(ctx, r.Resolve(a.Item))
		require.NoError(t, err, where)
		require.Equal(t, a.Equals, string(it.Disposition), where)

	case "edge_count":
		edges, err := st.LineageEdgesForItem(ctx, r.Resolve(a.Item))
		require.NoError(t, err, where)
		require.Equal(t, a.Equals, strconv.Itoa(len(edges)), where)

	case "remote_count":
		require.Equal(t, a.Equals, strconv.Itoa(r.F.Server.Count(a.Table)), where)

	case "remote_field":
		ref := a.Transaction
		if ref == "" {
			ref = a.Item
		}
		row := r.F.Server.Get(a.Table, r.Resolve(ref))
		require.NotNil(t, row, where)
		require.Equal(t, a.Equals, fmt.Sprintf("%v", row[a.Field]), where)

	default:
		t.Fatalf("%s: unknown assertion kind %q", where, a.Kind)
	}
}

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	if s == "" {
		return decimal.Zero
	}
	d, err := money.Parse(s)
	require.NoError(t, err)
	return d
}

func optDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	return mustDec(t, s)
}
