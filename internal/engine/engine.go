package engine

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/keeperhq/keeper/internal/domain"
	"github.com/keeperhq/keeper/internal/remote"
	"github.com/keeperhq/keeper/internal/store"
)

// Default tuning. Values mirror the behavior of the original client: a fixed
// network timeout on every remote call, a short review debounce, and bounded
// exponential retry backoff.
const (
	DefaultNetworkTimeout = 10 * time.Second
	DefaultReviewDebounce = 150 * time.Millisecond
	DefaultBackoffMin     = 1 * time.Second
	DefaultBackoffMax     = 5 * time.Minute
	DefaultDrainInterval  = 30 * time.Second
)

// OpIDGenerator produces operation-queue entry IDs.
// Implemented by UUIDv7Generator (production) and testutil.FixedOpIDs.
type OpIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 operation IDs, so queue
// entry IDs sort by creation time in logs and listings.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// CompletenessStatus is the external completeness read-model's verdict on a
// transaction: does its linked-item total account for its recorded subtotal.
type CompletenessStatus string

const (
	CompletenessComplete   CompletenessStatus = "complete"
	CompletenessIncomplete CompletenessStatus = "incomplete"
)

// Engine owns the offline-first mutation semantics. Construct with New and
// share one instance; all methods are safe for concurrent use.
type Engine struct {
	store   *store.Store
	remote  remote.Store
	monitor *Monitor

	ids   domain.IDGenerator
	opIDs OpIDGenerator

	review *ReviewCoalescer

	accountID string
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time

	networkTimeout time.Duration
	backoffMin     time.Duration
	backoffMax     time.Duration
	drainInterval  time.Duration

	// completeness is the injected read-model consulted by review-flag
	// recomputes. Defaults to the subtotal-vs-item-total comparison.
	completeness CompletenessFn
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithIDGenerator overrides the optimistic entity ID generator.
func WithIDGenerator(g domain.IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithOpIDGenerator overrides the operation ID generator.
func WithOpIDGenerator(g OpIDGenerator) Option {
	return func(e *Engine) { e.opIDs = g }
}

// WithNetworkTimeout sets the fixed timeout wrapping every remote call.
func WithNetworkTimeout(d time.Duration) Option {
	return func(e *Engine) { e.networkTimeout = d }
}

// WithReviewDebounce sets the review-flag debounce delay.
func WithReviewDebounce(d time.Duration) Option {
	return func(e *Engine) { e.review.delay = d }
}

// WithReviewTimer overrides the debounce timer implementation (tests fire
// timers manually).
func WithReviewTimer(t Timer) Option {
	return func(e *Engine) { e.review.timer = t }
}

// WithBackoff bounds the executor's exponential retry backoff.
func WithBackoff(min, max time.Duration) Option {
	return func(e *Engine) { e.backoffMin, e.backoffMax = min, max }
}

// WithDrainInterval sets how often Run sweeps the queue.
func WithDrainInterval(d time.Duration) Option {
	return func(e *Engine) { e.drainInterval = d }
}

// WithMetrics attaches prometheus metrics registered on reg.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the wall clock. Tests pin it for stable timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCompleteness overrides the completeness read-model.
func WithCompleteness(fn CompletenessFn) Option {
	return func(e *Engine) { e.completeness = fn }
}

// New creates an engine over the local store, the remote system of record
// and a connectivity monitor.
func New(st *store.Store, rs remote.Store, mon *Monitor, accountID string, opts ...Option) *Engine {
	e := &Engine{
		store:          st,
		remote:         rs,
		monitor:        mon,
		ids:            domain.NewTimeIDGenerator(),
		opIDs:          UUIDv7Generator{},
		accountID:      accountID,
		logger:         slog.Default(),
		now:            time.Now,
		networkTimeout: DefaultNetworkTimeout,
		backoffMin:     DefaultBackoffMin,
		backoffMax:     DefaultBackoffMax,
		drainInterval:  DefaultDrainInterval,
	}
	e.review = newReviewCoalescer(e, DefaultReviewDebounce)
	e.completeness = defaultCompleteness

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the local durable store for read paths (CLI listings).
func (e *Engine) Store() *store.Store { return e.store }

// Monitor exposes the connectivity monitor.
func (e *Engine) Monitor() *Monitor { return e.monitor }

// Review exposes the review-flag coalescer.
func (e *Engine) Review() *ReviewCoalescer { return e.review }
