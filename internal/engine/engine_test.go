package engine_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keeperhq/keeper/internal/domain"
	"github.com/keeperhq/keeper/internal/engine"
	"github.com/keeperhq/keeper/internal/money"
	"github.com/keeperhq/keeper/internal/remote"
	"github.com/keeperhq/keeper/internal/store"
	"github.com/keeperhq/keeper/internal/testutil"
)

func dec(s string) decimal.Decimal { return money.MustParse(s) }

func decPtr(s string) *decimal.Decimal {
	d := money.MustParse(s)
	return &d
}

// createPurchase applies a CreateTransaction with one item per price given.
func createPurchase(t *testing.T, f *testutil.Fixture, amount, subtotal string, itemPrices ...string) *engine.CommandResult {
	t.Helper()
	tx := &domain.Transaction{Amount: dec(amount)}
	if subtotal != "" {
		tx.Subtotal = decPtr(subtotal)
	}
	items := make([]*domain.Item, 0, len(itemPrices))
	for _, p := range itemPrices {
		items = append(items, &domain.Item{Name: "Widget", PurchasePrice: dec(p)})
	}
	res, err := f.Engine.Apply(context.Background(), &domain.CreateTransaction{Transaction: tx, Items: items})
	require.NoError(t, err)
	return res
}

func TestCreateTransactionOfflineQueuesLocally(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	res := createPurchase(t, f, "60.00", "", "25.00", "35.00")

	tx, err := f.Store.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "60.00", money.Format(tx.Amount))
	assert.Len(t, tx.ItemIDs, 2)
	assert.Equal(t, "60.00", money.Format(tx.SumItemPurchasePrices))

	depth, err := f.Store.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	// Nothing reached the backend.
	assert.Zero(t, f.Server.Count(remote.TableTransactions))
	assert.Zero(t, f.Server.Count(remote.TableItems))
}

func TestCreateTransactionOnlineWritesThrough(t *testing.T) {
	f := testutil.NewFixture(t)
	ctx := context.Background()

	res := createPurchase(t, f, "60.00", "", "25.00", "35.00")

	assert.Equal(t, 1, f.Server.Count(remote.TableTransactions))
	assert.Equal(t, 2, f.Server.Count(remote.TableItems))

	depth, err := f.Store.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	// The backend's accepted version is reflected locally.
	tx, err := f.Store.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tx.Version)
}

func TestCreateTransactionChildFailureRollsBack(t *testing.T) {
	f := testutil.NewFixture(t)
	ctx := context.Background()

	f.Server.FailNext("insert", remote.TableItems, remote.Error{
		Code: remote.CodeInvalid, Message: "bad item",
	})

	tx := &domain.Transaction{Amount: dec("10.00")}
	_, err := f.Engine.Apply(ctx, &domain.CreateTransaction{
		Transaction: tx,
		Items:       []*domain.Item{{Name: "Widget", PurchasePrice: dec("10.00")}},
	})
	require.Error(t, err)

	// The optimistic item row is gone and nothing is queued. The parent was
	// already confirmed remotely before the child failed, so it survives on
	// both sides.
	items, err := f.Store.ListItems(ctx, testutil.AccountID)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, f.Server.Count(remote.TableItems))

	depth, err := f.Store.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
	assert.Equal(t, 1, f.Server.Count(remote.TableTransactions))
}

func TestCreateTransactionOfflineChildFailureRollsBack(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	// The second item fails prerequisite validation before any write, so the
	// command is rejected whole: no rows, no queue entries.
	_, err := f.Engine.Apply(ctx, &domain.CreateTransaction{
		Transaction: &domain.Transaction{Amount: dec("10.00")},
		Items: []*domain.Item{
			{Name: "Widget", PurchasePrice: dec("5.00")},
			{Name: "Gadget", PurchasePrice: dec("5.00"), CategoryID: "cat-unknown"},
		},
	})
	require.Error(t, err)
	assert.True(t, domain.IsMissingPrerequisite(err))

	txs, err := f.Store.ListTransactions(ctx, testutil.AccountID)
	require.NoError(t, err)
	assert.Empty(t, txs)
	depth, err := f.Store.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestUpdateCanonicalAmountRejected(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	res := createPurchase(t, f, "50.00", "", "50.00")
	itemID := res.ItemIDs[0]
	_, err := f.Engine.Apply(ctx, &domain.AllocateItem{ItemID: itemID, ProjectID: "proj-1"})
	require.NoError(t, err)

	canonical := domain.CanonicalTransactionID(domain.CanonicalPurchase, "proj-1")
	_, err = f.Engine.Apply(ctx, &domain.UpdateTransaction{
		TransactionID: canonical,
		Patch:         domain.TransactionPatch{Amount: decPtr("999.00")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system-managed")

	// Other fields remain editable.
	status := domain.TransactionVoid
	_, err = f.Engine.Apply(ctx, &domain.UpdateTransaction{
		TransactionID: canonical,
		Patch:         domain.TransactionPatch{Status: &status},
	})
	require.NoError(t, err)
}

func TestMissingCategoryRejectedOffline(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	_, err := f.Engine.Apply(ctx, &domain.CreateTransaction{
		Transaction: &domain.Transaction{Amount: dec("10.00"), CategoryID: "cat-unknown"},
	})
	require.Error(t, err)
	assert.True(t, domain.IsMissingPrerequisite(err))

	depth, err := f.Store.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestSellThenReturnRestoresPurchaseContext(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	res := createPurchase(t, f, "90.00", "", "90.00")
	buyID := res.TransactionID
	itemID := res.ItemIDs[0]

	_, err := f.Engine.Apply(ctx, &domain.SellItem{ItemID: itemID, ProjectID: "proj-1"})
	require.NoError(t, err)

	it, err := f.Store.GetItem(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, domain.DispositionSold, it.Disposition)
	assert.Equal(t, buyID, it.PreviousProjectTransactionID)

	_, err = f.Engine.Apply(ctx, &domain.ReturnItem{ItemID: itemID})
	require.NoError(t, err)

	it, err = f.Store.GetItem(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, domain.DispositionPurchased, it.Disposition)
	assert.Equal(t, buyID, it.TransactionID)
	assert.Empty(t, it.PreviousProjectTransactionID)

	buy, err := f.Store.GetTransaction(ctx, buyID)
	require.NoError(t, err)
	assert.True(t, buy.LinksItem(itemID))
}

func TestMoveToInventoryEmptiesCanonical(t *testing.T) {
	tests := []struct {
		name       string
		keep       bool
		wantExists bool
	}{
		{"dropped_by_default", false, false},
		{"kept_on_request", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testutil.NewFixture(t)
			f.Monitor.SetOnline(false)
			ctx := context.Background()

			res := createPurchase(t, f, "40.00", "", "40.00")
			itemID := res.ItemIDs[0]
			_, err := f.Engine.Apply(ctx, &domain.AllocateItem{ItemID: itemID, ProjectID: "proj-1"})
			require.NoError(t, err)

			canonical := domain.CanonicalTransactionID(domain.CanonicalPurchase, "proj-1")
			_, err = f.Engine.Apply(ctx, &domain.MoveItem{
				ItemID: itemID, ToProjectID: "", KeepEmptyCanonical: tt.keep,
			})
			require.NoError(t, err)

			_, err = f.Store.GetTransaction(ctx, canonical)
			if tt.wantExists {
				require.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, store.ErrNotFound)
			}

			it, err := f.Store.GetItem(ctx, itemID)
			require.NoError(t, err)
			assert.Equal(t, domain.DispositionInventory, it.Disposition)
			assert.Empty(t, it.TransactionID)
		})
	}
}

func TestMovedOutItemsStillCountTowardCanonicalTotal(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	res := createPurchase(t, f, "40.00", "", "40.00")
	itemID := res.ItemIDs[0]
	_, err := f.Engine.Apply(ctx, &domain.AllocateItem{ItemID: itemID, ProjectID: "proj-1"})
	require.NoError(t, err)

	canonical := domain.CanonicalTransactionID(domain.CanonicalPurchase, "proj-1")
	_, err = f.Engine.Apply(ctx, &domain.MoveItem{
		ItemID: itemID, ToProjectID: "", KeepEmptyCanonical: true,
	})
	require.NoError(t, err)

	// The item left through a real (transfer) edge: the stored amount keeps
	// its contribution, and the derived total agrees.
	tx, err := f.Store.GetTransaction(ctx, canonical)
	require.NoError(t, err)
	assert.Equal(t, "40.00", money.Format(tx.Amount))
	assert.Empty(t, tx.ItemIDs)

	result := f.Engine.ComputeCanonicalTotal(ctx, tx)
	require.False(t, result.Failed, result.Reason)
	assert.Equal(t, "40.00", money.Format(result.Amount))
}

func TestDeletedItemStopsCountingTowardCanonicalTotal(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	res := createPurchase(t, f, "40.00", "", "40.00")
	itemID := res.ItemIDs[0]
	_, err := f.Engine.Apply(ctx, &domain.AllocateItem{ItemID: itemID, ProjectID: "proj-1"})
	require.NoError(t, err)

	// Deletion unlinks through a correction edge, which does subtract.
	_, err = f.Engine.Apply(ctx, &domain.DeleteItem{ItemID: itemID})
	require.NoError(t, err)

	canonical := domain.CanonicalTransactionID(domain.CanonicalPurchase, "proj-1")
	tx, err := f.Store.GetTransaction(ctx, canonical)
	require.NoError(t, err)
	assert.Equal(t, "0.00", money.Format(tx.Amount))
}

func TestReviewDebounceCoalescesBurst(t *testing.T) {
	calls := 0
	counting := func(tx *domain.Transaction, itemTotal engine.ItemTotalFn) (engine.CompletenessStatus, error) {
		calls++
		total, err := itemTotal()
		if err != nil {
			return engine.CompletenessIncomplete, err
		}
		if tx.Subtotal != nil && total.LessThan(*tx.Subtotal) {
			return engine.CompletenessIncomplete, nil
		}
		return engine.CompletenessComplete, nil
	}

	f := testutil.NewFixture(t, engine.WithCompleteness(counting))
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	res := createPurchase(t, f, "100.00", "100.00", "30.00")
	itemID := res.ItemIDs[0]
	f.FlushReview()
	require.Equal(t, 1, calls)

	// A burst of price edits schedules exactly one pending recompute.
	for _, p := range []string{"31.00", "32.00", "33.00"} {
		price := dec(p)
		_, err := f.Engine.Apply(ctx, &domain.UpdateItem{
			ItemID: itemID, Patch: domain.ItemPatch{PurchasePrice: &price},
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.Timer.Pending())

	f.FlushReview()
	assert.Equal(t, 2, calls)

	tx, err := f.Store.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.True(t, tx.NeedsReview)
}

func TestItemizationDisabledSkipsCompleteness(t *testing.T) {
	calls := 0
	counting := func(*domain.Transaction, engine.ItemTotalFn) (engine.CompletenessStatus, error) {
		calls++
		return engine.CompletenessIncomplete, nil
	}

	f := testutil.NewFixture(t, engine.WithCompleteness(counting))
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	require.NoError(t, f.Store.PutCategory(ctx, &domain.Category{
		ID: "cat-meals", AccountID: testutil.AccountID, Name: "Meals", ItemizationDisabled: true,
	}))

	tx := &domain.Transaction{Amount: dec("25.00"), Subtotal: decPtr("25.00"), CategoryID: "cat-meals"}
	res, err := f.Engine.Apply(ctx, &domain.CreateTransaction{Transaction: tx})
	require.NoError(t, err)
	f.FlushReview()

	assert.Zero(t, calls)
	got, err := f.Store.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.False(t, got.NeedsReview)
}

func TestCanonicalTransactionsNeverFlagged(t *testing.T) {
	always := func(*domain.Transaction, engine.ItemTotalFn) (engine.CompletenessStatus, error) {
		return engine.CompletenessIncomplete, nil
	}

	f := testutil.NewFixture(t, engine.WithCompleteness(always))
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	res := createPurchase(t, f, "40.00", "", "40.00")
	_, err := f.Engine.Apply(ctx, &domain.AllocateItem{ItemID: res.ItemIDs[0], ProjectID: "proj-1"})
	require.NoError(t, err)
	f.FlushReview()

	canonical := domain.CanonicalTransactionID(domain.CanonicalPurchase, "proj-1")
	tx, err := f.Store.GetTransaction(ctx, canonical)
	require.NoError(t, err)
	assert.False(t, tx.NeedsReview)
}

func TestDrainRetriesWithBackoff(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	_, err := f.Engine.Apply(ctx, &domain.CreateItem{Item: &domain.Item{Name: "Widget"}})
	require.NoError(t, err)

	f.Monitor.SetOnline(true)
	f.Server.FailNext("insert", remote.TableItems, remote.Error{
		Code: remote.CodeUnavailable, Message: "maintenance",
	})

	report, err := f.Engine.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)

	ops, err := f.Store.ListOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, 1, ops[0].RetryCount)
	assert.Contains(t, ops[0].LastError, "maintenance")
	assert.True(t, ops[0].NextAttemptAt.After(f.Clock.Now()))

	// Not due yet: the next sweep leaves it alone.
	report, err = f.Engine.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Processed)

	// Due after the backoff window: replay succeeds.
	f.Clock.Advance(2 * time.Second)
	report, err = f.Engine.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, f.Server.Count(remote.TableItems))
}

func TestNetworkTimeoutFallsBackToQueue(t *testing.T) {
	f := testutil.NewFixture(t, engine.WithNetworkTimeout(time.Nanosecond))
	ctx := context.Background()

	res, err := f.Engine.Apply(ctx, &domain.CreateItem{Item: &domain.Item{Name: "Widget"}})
	require.NoError(t, err)

	// The write survived locally and is queued; the backend saw nothing.
	_, err = f.Store.GetItem(ctx, res.ItemIDs[0])
	require.NoError(t, err)
	depth, err := f.Store.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	assert.Zero(t, f.Server.Count(remote.TableItems))
}

func TestConflictDetectionExcludesDerivedFields(t *testing.T) {
	f := testutil.NewFixture(t)
	ctx := context.Background()

	res, err := f.Engine.Apply(ctx, &domain.CreateItem{Item: &domain.Item{Name: "Widget", PurchasePrice: dec("10.00")}})
	require.NoError(t, err)
	itemID := res.ItemIDs[0]

	// A locally queued edit plus remote changes to bookkeeping fields only:
	// not a conflict.
	f.Monitor.SetOnline(false)
	name := "Widget Mk2"
	_, err = f.Engine.Apply(ctx, &domain.UpdateItem{ItemID: itemID, Patch: domain.ItemPatch{Name: &name}})
	require.NoError(t, err)
	f.Monitor.SetOnline(true)

	row := f.Server.Get(remote.TableItems, itemID)
	require.NotNil(t, row)
	row["version"] = float64(7)
	row["name"] = "Widget Mk2"
	f.Server.Seed(remote.TableItems, row)

	found, err := f.Engine.DetectConflicts(ctx, testutil.AccountID)
	require.NoError(t, err)
	assert.Empty(t, found)

	// A remote edit to a real field while a local edit is queued: conflict,
	// with the divergent field named.
	row["market_value"] = "99.00"
	f.Server.Seed(remote.TableItems, row)

	found, err = f.Engine.DetectConflicts(ctx, testutil.AccountID)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, itemID, found[0].EntityID)
	assert.Contains(t, found[0].DivergentFields, "market_value")
}

func TestResolveConflictKeepRemote(t *testing.T) {
	f := testutil.NewFixture(t)
	ctx := context.Background()

	res, err := f.Engine.Apply(ctx, &domain.CreateItem{Item: &domain.Item{Name: "Widget"}})
	require.NoError(t, err)
	itemID := res.ItemIDs[0]

	f.Monitor.SetOnline(false)
	name := "Local Name"
	_, err = f.Engine.Apply(ctx, &domain.UpdateItem{ItemID: itemID, Patch: domain.ItemPatch{Name: &name}})
	require.NoError(t, err)
	f.Monitor.SetOnline(true)

	row := f.Server.Get(remote.TableItems, itemID)
	require.NotNil(t, row)
	row["name"] = "Remote Name"
	f.Server.Seed(remote.TableItems, row)

	found, err := f.Engine.DetectConflicts(ctx, testutil.AccountID)
	require.NoError(t, err)
	require.Len(t, found, 1)

	require.NoError(t, f.Engine.ResolveConflict(ctx, found[0].ID, engine.KeepRemote))

	it, err := f.Store.GetItem(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, "Remote Name", it.Name)

	// The entity's queued writes were dropped with the local side.
	depth, err := f.Store.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	recs, err := f.Store.ListConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestApplyRemoteSnapshotSkipsPendingEntities(t *testing.T) {
	f := testutil.NewFixture(t)
	ctx := context.Background()

	res, err := f.Engine.Apply(ctx, &domain.CreateItem{Item: &domain.Item{Name: "Widget"}})
	require.NoError(t, err)
	itemID := res.ItemIDs[0]

	f.Monitor.SetOnline(false)
	name := "Edited Offline"
	_, err = f.Engine.Apply(ctx, &domain.UpdateItem{ItemID: itemID, Patch: domain.ItemPatch{Name: &name}})
	require.NoError(t, err)

	stale := f.Server.Get(remote.TableItems, itemID)
	require.NotNil(t, stale)
	fresh := remote.Row{"id": "I-remote-1", "account_id": testutil.AccountID, "name": "New Arrival"}

	applied, err := f.Engine.ApplyRemoteSnapshot(ctx, &engine.Snapshot{Items: []remote.Row{stale, fresh}})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	// The dirty entity kept its local edit; the clean row landed.
	it, err := f.Store.GetItem(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, "Edited Offline", it.Name)
	_, err = f.Store.GetItem(ctx, "I-remote-1")
	require.NoError(t, err)
}

func TestReconcileRepairsDrift(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	res := createPurchase(t, f, "40.00", "", "40.00")
	_, err := f.Engine.Apply(ctx, &domain.AllocateItem{ItemID: res.ItemIDs[0], ProjectID: "proj-1"})
	require.NoError(t, err)

	canonical := domain.CanonicalTransactionID(domain.CanonicalPurchase, "proj-1")
	tx, err := f.Store.GetTransaction(ctx, canonical)
	require.NoError(t, err)
	tx.Amount = dec("999.00")
	require.NoError(t, f.Store.PutTransaction(ctx, tx))

	report, err := f.Engine.ReconcileAccount(ctx, testutil.AccountID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Repaired)

	tx, err = f.Store.GetTransaction(ctx, canonical)
	require.NoError(t, err)
	assert.Equal(t, "40.00", money.Format(tx.Amount))

	// A second sweep finds nothing to do.
	report, err = f.Engine.ReconcileAccount(ctx, testutil.AccountID, "")
	require.NoError(t, err)
	assert.Zero(t, report.Repaired)
}

func TestReconcileSkipsUncomputableTotals(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	res := createPurchase(t, f, "40.00", "", "40.00")
	_, err := f.Engine.Apply(ctx, &domain.AllocateItem{ItemID: res.ItemIDs[0], ProjectID: "proj-1"})
	require.NoError(t, err)

	// Remove the item behind the engine's back so the total is uncomputable.
	require.NoError(t, f.Store.DeleteItem(ctx, res.ItemIDs[0]))

	canonical := domain.CanonicalTransactionID(domain.CanonicalPurchase, "proj-1")
	before, err := f.Store.GetTransaction(ctx, canonical)
	require.NoError(t, err)

	report, err := f.Engine.ReconcileAccount(ctx, testutil.AccountID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], canonical)

	// The stored amount was not zeroed.
	after, err := f.Store.GetTransaction(ctx, canonical)
	require.NoError(t, err)
	assert.True(t, money.Equal(before.Amount, after.Amount))
}

func TestDrainConfirmsInOrderAndClearsQueue(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	createPurchase(t, f, "60.00", "", "25.00", "35.00")
	f.Monitor.SetOnline(true)

	report, err := f.Engine.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 3, report.Succeeded)

	depth, err := f.Store.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
	assert.Equal(t, 1, f.Server.Count(remote.TableTransactions))
	assert.Equal(t, 2, f.Server.Count(remote.TableItems))
}

func TestFailedEntityBlocksItsLaterOperations(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	res, err := f.Engine.Apply(ctx, &domain.CreateItem{Item: &domain.Item{Name: "Widget"}})
	require.NoError(t, err)
	name := "Renamed"
	_, err = f.Engine.Apply(ctx, &domain.UpdateItem{ItemID: res.ItemIDs[0], Patch: domain.ItemPatch{Name: &name}})
	require.NoError(t, err)

	f.Monitor.SetOnline(true)
	f.Server.FailNext("insert", remote.TableItems, remote.Error{
		Code: remote.CodeUnavailable, Message: "maintenance",
	})

	// The create fails; the dependent update must not run out of order.
	report, err := f.Engine.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Retried)

	ops, err := f.Store.ListOperations(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 2)
	assert.Zero(t, f.Server.Count(remote.TableItems))
}

func TestOfflineErrorTypes(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	_, err := f.Engine.Apply(ctx, &domain.UpdateItem{ItemID: "I-nope", Patch: domain.ItemPatch{}})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestQueueFailureRollsBackLocalWrite(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	db, err := sql.Open("sqlite3", f.DBPath)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.ExecContext(ctx, `DROP TABLE pending_operations`)
	require.NoError(t, err)

	_, err = f.Engine.Apply(ctx, &domain.CreateTransaction{
		Transaction: &domain.Transaction{Amount: dec("25.00")},
	})
	require.Error(t, err)

	var queueErr *domain.OfflineQueueUnavailableError
	assert.True(t, errors.As(err, &queueErr))

	// The optimistic local write must not survive a dead queue.
	txs, err := f.Store.ListTransactions(ctx, testutil.AccountID)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestReplayFlagsRemoteEditOutsidePatch(t *testing.T) {
	f := testutil.NewFixture(t)
	ctx := context.Background()

	// Everything below runs online so the backend holds the rows and the
	// queue is empty before the interesting part.
	res := createPurchase(t, f, "40.00", "", "40.00")
	sellRes, err := f.Engine.Apply(ctx, &domain.SellItem{ItemID: res.ItemIDs[0], ProjectID: "proj-1"})
	require.NoError(t, err)
	saleID := sellRes.TransactionID
	f.FlushReview()
	depth, err := f.Store.QueueDepth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)

	// A third party edits a field no queued operation will ever carry.
	row := f.Server.Get(remote.TableTransactions, saleID)
	require.NotNil(t, row)
	row["tax_rate"] = "9.99"
	f.Server.Seed(remote.TableTransactions, row)

	// Drift the stored amount behind the engine's back, then repair while
	// offline so the queued fix is a partial patch.
	f.Monitor.SetOnline(false)
	sale, err := f.Store.GetTransaction(ctx, saleID)
	require.NoError(t, err)
	sale.Amount = dec("999.00")
	require.NoError(t, f.Store.PutTransaction(ctx, sale))
	rep, err := f.Engine.ReconcileAccount(ctx, testutil.AccountID, "")
	require.NoError(t, err)
	require.Equal(t, 1, rep.Repaired)

	f.Monitor.SetOnline(true)
	_, err = f.Engine.DrainOnce(ctx)
	require.NoError(t, err)

	// The replayed patch carried only amount/version/updated_at; the
	// foreign tax_rate change must surface as a conflict, not vanish.
	recs, err := f.Store.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, saleID, recs[0].EntityID)
	assert.Equal(t, []string{"tax_rate"}, recs[0].DivergentFields)

	// The authoritative row still lands in the cache; the record preserves
	// the overwritten local values.
	sale, err = f.Store.GetTransaction(ctx, saleID)
	require.NoError(t, err)
	assert.Equal(t, "9.99", sale.TaxRate)
}

func TestQueueDepthGaugeTracksQueue(t *testing.T) {
	m := engine.NewMetrics(prometheus.NewRegistry())
	f := testutil.NewFixture(t, engine.WithMetrics(m))
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	createPurchase(t, f, "60.00", "", "25.00", "35.00")
	assert.Equal(t, 3.0, promtestutil.ToFloat64(m.QueueDepth))

	f.Monitor.SetOnline(true)
	_, err := f.Engine.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, promtestutil.ToFloat64(m.QueueDepth))
}

func TestComputeCanonicalTotalEmptySet(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	res := createPurchase(t, f, "40.00", "", "40.00")
	_, err := f.Engine.Apply(ctx, &domain.AllocateItem{ItemID: res.ItemIDs[0], ProjectID: "proj-1"})
	require.NoError(t, err)
	_, err = f.Engine.Apply(ctx, &domain.DeleteItem{ItemID: res.ItemIDs[0]})
	require.NoError(t, err)

	canonical := domain.CanonicalTransactionID(domain.CanonicalPurchase, "proj-1")
	tx, err := f.Store.GetTransaction(ctx, canonical)
	require.NoError(t, err)
	require.Empty(t, tx.ItemIDs)

	// No linked items, no non-correction moved-out items: a valid zero
	// total, not a failure.
	result := f.Engine.ComputeCanonicalTotal(ctx, tx)
	require.False(t, result.Failed)
	assert.Equal(t, "0.00", money.Format(result.Amount))
}

func TestRequestDuringRecomputeSchedulesOneTrailingRun(t *testing.T) {
	var f *testutil.Fixture
	var itemID string
	calls := 0
	nested := false
	completeness := func(tx *domain.Transaction, itemTotal engine.ItemTotalFn) (engine.CompletenessStatus, error) {
		calls++
		if !nested && itemID != "" {
			// Mutate an item mid-recompute so a new request lands while
			// this run is in flight.
			nested = true
			price := dec("45.00")
			if _, err := f.Engine.Apply(context.Background(), &domain.UpdateItem{
				ItemID: itemID, Patch: domain.ItemPatch{PurchasePrice: &price},
			}); err != nil {
				return engine.CompletenessIncomplete, err
			}
		}
		total, err := itemTotal()
		if err != nil {
			return engine.CompletenessIncomplete, err
		}
		if tx.Subtotal != nil && total.LessThan(*tx.Subtotal) {
			return engine.CompletenessIncomplete, nil
		}
		return engine.CompletenessComplete, nil
	}

	f = testutil.NewFixture(t, engine.WithCompleteness(completeness))
	f.Monitor.SetOnline(false)

	res := createPurchase(t, f, "100.00", "100.00", "30.00")
	itemID = res.ItemIDs[0]

	// The first fire runs once and leaves exactly one trailing run
	// scheduled for the mid-flight request.
	require.Equal(t, 1, f.Timer.Fire())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, f.Timer.Pending())

	f.Timer.Fire()
	assert.Equal(t, 2, calls)
	assert.Zero(t, f.Timer.Pending())
}

func TestReconcileSweepCountsAcrossCanonicals(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	buy := createPurchase(t, f, "70.00", "", "30.00", "40.00")
	_, err := f.Engine.Apply(ctx, &domain.AllocateItem{ItemID: buy.ItemIDs[0], ProjectID: "proj-1"})
	require.NoError(t, err)
	_, err = f.Engine.Apply(ctx, &domain.SellItem{ItemID: buy.ItemIDs[1], ProjectID: "proj-2"})
	require.NoError(t, err)

	drifted := domain.CanonicalTransactionID(domain.CanonicalPurchase, "proj-1")
	tx, err := f.Store.GetTransaction(ctx, drifted)
	require.NoError(t, err)
	tx.Amount = dec("1.00")
	require.NoError(t, f.Store.PutTransaction(ctx, tx))

	report, err := f.Engine.ReconcileAccount(ctx, testutil.AccountID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Repaired)
	assert.Zero(t, report.Skipped)
	assert.Empty(t, report.Errors)

	tx, err = f.Store.GetTransaction(ctx, drifted)
	require.NoError(t, err)
	assert.Equal(t, "30.00", money.Format(tx.Amount))
}

func TestFlushDuringRecomputeFoldsIntoTrailingRun(t *testing.T) {
	var f *testutil.Fixture
	calls := 0
	completeness := func(tx *domain.Transaction, itemTotal engine.ItemTotalFn) (engine.CompletenessStatus, error) {
		calls++
		if calls == 1 {
			// A flush landing mid-run must not recompute re-entrantly; it
			// folds into this run's trailing pass.
			key := testutil.AccountID + ":" + tx.ID
			require.NoError(t, f.Engine.Review().Flush(context.Background(), key))
			require.Equal(t, 1, calls)
		}
		total, err := itemTotal()
		if err != nil {
			return engine.CompletenessIncomplete, err
		}
		if tx.Subtotal != nil && total.LessThan(*tx.Subtotal) {
			return engine.CompletenessIncomplete, nil
		}
		return engine.CompletenessComplete, nil
	}

	f = testutil.NewFixture(t, engine.WithCompleteness(completeness))
	f.Monitor.SetOnline(false)

	createPurchase(t, f, "100.00", "100.00", "30.00")

	require.Equal(t, 1, f.Timer.Fire())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, f.Timer.Pending())

	f.Timer.Fire()
	assert.Equal(t, 2, calls)
	assert.Zero(t, f.Timer.Pending())
}

func TestFlushRunsScheduledRecomputeNow(t *testing.T) {
	calls := 0
	counting := func(tx *domain.Transaction, itemTotal engine.ItemTotalFn) (engine.CompletenessStatus, error) {
		calls++
		total, err := itemTotal()
		if err != nil {
			return engine.CompletenessIncomplete, err
		}
		if tx.Subtotal != nil && total.LessThan(*tx.Subtotal) {
			return engine.CompletenessIncomplete, nil
		}
		return engine.CompletenessComplete, nil
	}

	f := testutil.NewFixture(t, engine.WithCompleteness(counting))
	f.Monitor.SetOnline(false)
	ctx := context.Background()

	res := createPurchase(t, f, "100.00", "100.00", "30.00")
	require.Equal(t, 1, f.Timer.Pending())

	key := testutil.AccountID + ":" + res.TransactionID
	require.NoError(t, f.Engine.Review().Flush(ctx, key))
	assert.Equal(t, 1, calls)

	// The debounce timer was cancelled along the way; nothing fires twice.
	assert.Zero(t, f.Timer.Pending())

	tx, err := f.Store.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.True(t, tx.NeedsReview)
}
