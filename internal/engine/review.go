package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/keeperhq/keeper/internal/domain"
	"github.com/keeperhq/keeper/internal/money"
	"github.com/keeperhq/keeper/internal/remote"
	"github.com/keeperhq/keeper/internal/store"
)

// ItemTotalFn lazily computes the purchase-price total of a transaction's
// linked items. The completeness read-model calls it at most once; the
// itemization-disabled shortcut never calls it.
type ItemTotalFn func() (decimal.Decimal, error)

// CompletenessFn judges whether a transaction's recorded subtotal is
// accounted for by its linked items.
type CompletenessFn func(tx *domain.Transaction, itemTotal ItemTotalFn) (CompletenessStatus, error)

// defaultCompleteness marks a transaction complete when it has no recorded
// subtotal, or when the linked-item total covers it.
func defaultCompleteness(tx *domain.Transaction, itemTotal ItemTotalFn) (CompletenessStatus, error) {
	if tx.Subtotal == nil {
		return CompletenessComplete, nil
	}
	total, err := itemTotal()
	if err != nil {
		return CompletenessIncomplete, err
	}
	if money.Round2(total).GreaterThanOrEqual(money.Round2(*tx.Subtotal)) {
		return CompletenessComplete, nil
	}
	return CompletenessIncomplete, nil
}

type reviewState int

const (
	reviewIdle reviewState = iota
	reviewScheduled
	reviewRunning
)

type reviewEntry struct {
	state   reviewState
	dirty   bool // a request arrived while running
	batch   int  // BeginBatch nesting depth
	pending bool // a request arrived while batched
	cancel  func() bool
}

// ReviewCoalescer debounces review-flag recomputation per transaction.
// Bursts of item mutations collapse into a single recompute after the
// debounce window; a request that lands mid-recompute triggers exactly one
// trailing run. Keys are account-scoped so recomputes for the same
// transaction in different accounts never merge.
type ReviewCoalescer struct {
	engine *Engine
	delay  time.Duration
	timer  Timer

	mu      sync.Mutex
	entries map[string]*reviewEntry
}

func newReviewCoalescer(e *Engine, delay time.Duration) *ReviewCoalescer {
	return &ReviewCoalescer{
		engine:  e,
		delay:   delay,
		timer:   WallTimer{},
		entries: map[string]*reviewEntry{},
	}
}

func (r *ReviewCoalescer) entry(key string) *reviewEntry {
	en, ok := r.entries[key]
	if !ok {
		en = &reviewEntry{}
		r.entries[key] = en
	}
	return en
}

// Request asks for the key's review flag to be recomputed after the debounce
// window. Repeated requests within the window coalesce into one run.
func (r *ReviewCoalescer) Request(ctx context.Context, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	en := r.entry(key)
	if en.batch > 0 {
		en.pending = true
		return
	}
	r.scheduleLocked(key, en, r.delay)
}

// BeginBatch suppresses scheduling for the key until the matching EndBatch.
// Calls nest; multi-transaction commands batch every key they touch so a
// single command yields at most one recompute per transaction.
func (r *ReviewCoalescer) BeginBatch(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entry(key).batch++
}

// EndBatch closes one nesting level. The outermost EndBatch schedules the
// recompute if any request arrived during the batch.
func (r *ReviewCoalescer) EndBatch(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	en := r.entry(key)
	if en.batch > 0 {
		en.batch--
	}
	if en.batch == 0 && en.pending {
		en.pending = false
		r.scheduleLocked(key, en, r.delay)
	}
}

// Flush runs any scheduled or batch-pending recompute for the key now,
// synchronously. Used by the CLI before printing state and by tests. Flush
// takes the same running/dirty path as a timer fire, so a concurrent run is
// never duplicated; a flush that lands mid-run folds into that run's
// trailing pass.
func (r *ReviewCoalescer) Flush(ctx context.Context, key string) error {
	r.mu.Lock()
	en := r.entry(key)
	if en.state == reviewRunning {
		en.dirty = true
		r.mu.Unlock()
		return nil
	}
	wanted := en.pending || en.state == reviewScheduled
	en.pending = false
	if en.cancel != nil {
		en.cancel()
		en.cancel = nil
	}
	if !wanted {
		r.mu.Unlock()
		return nil
	}
	en.state = reviewRunning
	r.mu.Unlock()

	err := r.engine.recomputeReview(ctx, key)

	r.mu.Lock()
	en.state = reviewIdle
	if en.dirty {
		en.dirty = false
		r.scheduleLocked(key, en, r.delay)
	}
	r.mu.Unlock()
	return err
}

// scheduleLocked moves the key toward a single pending run. Caller holds mu.
func (r *ReviewCoalescer) scheduleLocked(key string, en *reviewEntry, delay time.Duration) {
	switch en.state {
	case reviewRunning:
		en.dirty = true
	case reviewScheduled:
		// Trailing debounce: restart the window.
		if en.cancel != nil {
			en.cancel()
		}
		en.cancel = r.timer.AfterFunc(delay, func() { r.fire(key) })
	case reviewIdle:
		en.state = reviewScheduled
		en.cancel = r.timer.AfterFunc(delay, func() { r.fire(key) })
	}
}

// fire runs the recompute when the debounce timer expires, then replays a
// trailing run if a request landed mid-recompute.
func (r *ReviewCoalescer) fire(key string) {
	r.mu.Lock()
	en := r.entry(key)
	if en.state != reviewScheduled {
		r.mu.Unlock()
		return
	}
	en.state = reviewRunning
	en.cancel = nil
	r.mu.Unlock()

	err := r.engine.recomputeReview(context.Background(), key)
	if err != nil {
		r.engine.logger.Warn("review recompute failed", "key", key, "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	en.state = reviewIdle
	if en.dirty {
		en.dirty = false
		r.scheduleLocked(key, en, r.delay)
	}
}

// recomputeReview evaluates the review flag for the transaction named by
// key and writes it through when it changed.
//
// Rules, in order: canonical containers are never flagged; a transaction in
// an itemization-disabled category is never flagged and the completeness
// model is not consulted; otherwise the flag is set exactly when the
// completeness model reports incomplete.
func (e *Engine) recomputeReview(ctx context.Context, key string) error {
	_, txID, ok := strings.Cut(key, ":")
	if !ok {
		txID = key
	}

	tx, err := e.store.GetTransaction(ctx, txID)
	if errors.Is(err, store.ErrNotFound) {
		return nil // deleted between request and fire
	}
	if err != nil {
		return err
	}

	want := false
	switch {
	case domain.IsCanonicalTransactionID(tx.ID):
		want = false
	case tx.CategoryID != "" && e.categoryItemizationDisabled(ctx, tx.CategoryID):
		want = false
	default:
		status, err := e.completeness(tx, func() (decimal.Decimal, error) {
			items, err := e.store.ItemsByTransaction(ctx, tx.ID)
			if err != nil {
				return decimal.Zero, err
			}
			total := decimal.Zero
			for _, it := range items {
				total = total.Add(it.PurchasePrice)
			}
			return total, nil
		})
		if err != nil {
			return err
		}
		want = status != CompletenessComplete
	}

	if e.metrics != nil {
		e.metrics.ReviewRecomputes.Inc()
	}
	if tx.NeedsReview == want {
		return nil
	}

	prev := tx.Clone()
	tx.NeedsReview = want
	tx.Version++
	tx.UpdatedAt = e.now()
	if err := e.store.PutTransaction(ctx, tx); err != nil {
		return &domain.OfflineStorageError{Op: "put transaction", Err: err}
	}

	patch := remote.Row{
		"needs_review": want,
		"version":      tx.Version,
		"updated_at":   encRowTime(tx.UpdatedAt),
	}
	_, _, err = e.pushUpdate(ctx, domain.EntityTransaction, tx.ID, patch, func(c context.Context) error {
		return e.store.PutTransaction(c, prev)
	})
	if err != nil {
		return err
	}
	e.logger.Debug("review flag updated", "transaction", tx.ID, "needs_review", want)
	return nil
}

func (e *Engine) categoryItemizationDisabled(ctx context.Context, categoryID string) bool {
	cat, err := e.store.GetCategory(ctx, categoryID)
	if err != nil {
		return false
	}
	return cat.ItemizationDisabled
}
