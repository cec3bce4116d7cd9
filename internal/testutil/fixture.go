package testutil

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keeperhq/keeper/internal/engine"
	"github.com/keeperhq/keeper/internal/remote"
	"github.com/keeperhq/keeper/internal/remote/remotetest"
	"github.com/keeperhq/keeper/internal/store"
)

// Fixture wires a full engine against a temp SQLite store and an in-memory
// fake backend, with every source of nondeterminism pinned.
type Fixture struct {
	Store   *store.Store
	Server  *remotetest.Server
	Monitor *engine.Monitor
	Engine  *engine.Engine
	Clock   *Clock
	Timer   *ManualTimer
	IDs     *SeqIDGenerator
	OpIDs   *FixedOpIDs

	// DBPath is the store's SQLite file. Fault-injection tests open a
	// second connection to it and break things underneath the engine.
	DBPath string
}

// AccountID is the fixture's account scope.
const AccountID = "acct-test"

// Epoch is the fixture clock's start time.
var Epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// NewFixture builds the fixture. The store and the fake backend HTTP server
// are torn down with the test. Engines start online; flip f.Monitor for
// offline scenarios.
func NewFixture(t *testing.T, opts ...engine.Option) *Fixture {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "keeper.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv := remotetest.NewServer()
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	f := &Fixture{
		DBPath:  dbPath,
		Store:   st,
		Server:  srv,
		Monitor: engine.NewMonitor(true),
		Clock:   NewClock(Epoch),
		Timer:   NewManualTimer(),
		IDs:     NewSeqIDGenerator(Epoch.UnixMilli()),
		OpIDs:   &FixedOpIDs{},
	}

	base := []engine.Option{
		engine.WithClock(f.Clock.Now),
		engine.WithIDGenerator(f.IDs),
		engine.WithOpIDGenerator(f.OpIDs),
		engine.WithReviewTimer(f.Timer),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	client := remote.NewHTTPClient(httpSrv.URL, httpSrv.Client())
	f.Engine = engine.New(st, client, f.Monitor, AccountID, append(base, opts...)...)
	return f
}

// FlushReview fires the pending debounce timers until the coalescer settles,
// including trailing runs requested mid-recompute.
func (f *Fixture) FlushReview() {
	for i := 0; i < 8; i++ {
		if f.Timer.Fire() == 0 {
			return
		}
	}
}
