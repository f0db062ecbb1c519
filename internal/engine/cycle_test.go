package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stratexec/internal/broker"
	"github.com/alanyoungcy/stratexec/internal/config"
	"github.com/alanyoungcy/stratexec/internal/domain"
	"github.com/alanyoungcy/stratexec/internal/executor"
	"github.com/alanyoungcy/stratexec/internal/ledger"
	"github.com/alanyoungcy/stratexec/internal/risk"
	"github.com/alanyoungcy/stratexec/internal/tracker"
)

// --- stub gateway ---

// stubGateway gives full control over account and position snapshots while
// recording every submission.
type stubGateway struct {
	mu        sync.Mutex
	account   domain.Account
	positions map[string]domain.Position
	submitted []broker.OrderSpec
	seq       int
	posCalls  int
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		account:   domain.Account{Equity: 100_000, Cash: 100_000, BuyingPower: 100_000},
		positions: make(map[string]domain.Position),
	}
}

func (g *stubGateway) SubmitOrder(_ context.Context, spec broker.OrderSpec) (broker.Ack, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.submitted = append(g.submitted, spec)
	return broker.Ack{
		OrderID:       fmt.Sprintf("ord-%d", g.seq),
		ClientOrderID: spec.ClientOrderID,
		Status:        domain.OrderStatusSubmitted,
		AcceptedAt:    time.Now().UTC(),
	}, nil
}

func (g *stubGateway) CancelOrder(_ context.Context, _ string) error { return nil }

func (g *stubGateway) ListOrders(_ context.Context, _ broker.ListOrdersFilter) ([]broker.StatusRecord, error) {
	return nil, nil
}

func (g *stubGateway) GetPositions(_ context.Context) (map[string]domain.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.posCalls++
	out := make(map[string]domain.Position, len(g.positions))
	for k, v := range g.positions {
		out[k] = v
	}
	return out, nil
}

func (g *stubGateway) positionCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.posCalls
}

func (g *stubGateway) GetAccount(_ context.Context) (domain.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.account, nil
}

func (g *stubGateway) submissions() []broker.OrderSpec {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]broker.OrderSpec(nil), g.submitted...)
}

var _ broker.Gateway = (*stubGateway)(nil)

// --- fakes shared with the orchestrator and tracker wiring ---

type memQueue struct {
	mu      sync.Mutex
	pending map[string][]domain.Signal
}

func newMemQueue() *memQueue {
	return &memQueue{pending: make(map[string][]domain.Signal)}
}

func (q *memQueue) Push(_ context.Context, sig domain.Signal) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[sig.StrategyID] = append(q.pending[sig.StrategyID], sig)
	return nil
}

func (q *memQueue) PopAll(_ context.Context, strategyID string) ([]domain.Signal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending[strategyID]
	delete(q.pending, strategyID)
	return out, nil
}

type memOrderStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: make(map[string]domain.Order)}
}

func (s *memOrderStore) Create(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ClientOrderID] = o
	return nil
}

func (s *memOrderStore) Update(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ClientOrderID] = o
	return nil
}

func (s *memOrderStore) GetByClientID(_ context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *memOrderStore) ListActive(_ context.Context) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.Active() {
			out = append(out, o)
		}
	}
	return out, nil
}

type memSignalStore struct {
	mu   sync.Mutex
	recs map[string]domain.ProcessedSignalRecord
}

func newMemSignalStore() *memSignalStore {
	return &memSignalStore{recs: make(map[string]domain.ProcessedSignalRecord)}
}

func (s *memSignalStore) Has(_ context.Context, fp string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.recs[fp]
	return ok, nil
}

func (s *memSignalStore) Record(_ context.Context, rec domain.ProcessedSignalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.Fingerprint] = rec
	return nil
}

func (s *memSignalStore) ListSince(_ context.Context, _ time.Time) ([]domain.ProcessedSignalRecord, error) {
	return nil, nil
}

func (s *memSignalStore) ListBefore(_ context.Context, _ time.Time) ([]domain.ProcessedSignalRecord, error) {
	return nil, nil
}

func (s *memSignalStore) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type memTradeStore struct {
	mu     sync.Mutex
	trades []domain.CompletedTrade
}

func (s *memTradeStore) Insert(_ context.Context, t domain.CompletedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return nil
}

func (s *memTradeStore) ListRecent(_ context.Context, _ int) ([]domain.CompletedTrade, error) {
	return nil, nil
}

func (s *memTradeStore) ListBefore(_ context.Context, _ time.Time) ([]domain.CompletedTrade, error) {
	return nil, nil
}

func (s *memTradeStore) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type openLocks struct{}

func (openLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	return func() {}, nil
}

type openLimiter struct{}

func (openLimiter) Allow(_ context.Context, _ string, _ int, _ time.Duration) (bool, error) {
	return true, nil
}

type memCache struct{}

func (memCache) Set(_ context.Context, _ map[string]domain.Position) error { return nil }
func (memCache) Get(_ context.Context) (map[string]domain.Position, time.Time, error) {
	return nil, time.Time{}, domain.ErrNotFound
}
func (memCache) Invalidate(_ context.Context) error { return nil }

// recordingCache is a working position cache with hit accounting.
type recordingCache struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	at        time.Time
	hits      int
}

func (c *recordingCache) Set(_ context.Context, positions map[string]domain.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions = positions
	c.at = time.Now().UTC()
	return nil
}

func (c *recordingCache) Get(_ context.Context) (map[string]domain.Position, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.positions == nil {
		return nil, time.Time{}, domain.ErrNotFound
	}
	c.hits++
	return c.positions, c.at, nil
}

func (c *recordingCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions = nil
	return nil
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

type memNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *memNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// --- fixture ---

type cycleFixture struct {
	cycle    *Cycle
	gateway  *stubGateway
	queue    *memQueue
	orders   *memOrderStore
	audit    *memAudit
	notifier *memNotifier
	store    *memSignalStore
}

func strategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		ID:                  "momentum",
		Interval:            config.Defaults().Strategies[0].Interval,
		BarMinutes:          5,
		SessionOpen:         "09:30",
		Timezone:            "America/New_York",
		PriceBucket:         0.10,
		ScaleInTolerancePct: 0.0002,
		RequireAutoApprove:  true,
	}
}

func riskConfig() config.RiskConfig {
	return config.RiskConfig{
		Defaults: config.RiskLimitsConfig{
			StrategyAllocationPct: config.LimitConfig{Value: 0.30, Enabled: true},
			PositionSizePct:       config.LimitConfig{Value: 0.10, Enabled: true},
			DailyLossLimit:        config.LimitConfig{Value: 1000, Enabled: true},
			MaxPositions:          config.LimitConfig{Value: 5, Enabled: true},
			MaxSignalAge:          config.Duration{Duration: 10 * time.Minute},
		},
	}
}

func newCycleFixture(t *testing.T) *cycleFixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	f := &cycleFixture{
		gateway:  newStubGateway(),
		queue:    newMemQueue(),
		orders:   newMemOrderStore(),
		audit:    &memAudit{},
		notifier: &memNotifier{},
		store:    newMemSignalStore(),
	}

	led := ledger.New(f.store, logger)
	trades := &memTradeStore{}
	resolver := risk.NewResolver(riskConfig(), logger)
	orch := executor.New(f.gateway, f.orders, openLocks{}, openLimiter{}, memCache{},
		f.audit, f.notifier, executor.Config{}, logger)
	trk := tracker.New(f.gateway, f.orders, trades, led, memCache{}, f.notifier, 24*time.Hour, logger)

	f.cycle = NewCycle(strategyConfig(), resolver, f.gateway, f.queue, f.orders,
		led, orch, trk, memCache{}, f.audit, f.notifier, 1, logger)
	return f
}

func signal(id string) domain.Signal {
	return domain.Signal{
		ID:          id,
		StrategyID:  "momentum",
		Symbol:      "AAPL",
		Direction:   domain.DirectionLong,
		Price:       50,
		AutoApprove: true,
		CreatedAt:   time.Now().UTC(),
	}
}

// --- tests ---

func TestTickSubmitsAndSizes(t *testing.T) {
	ctx := context.Background()
	f := newCycleFixture(t)
	require.NoError(t, f.queue.Push(ctx, signal("sig-1")))

	f.cycle.Tick(ctx)

	subs := f.gateway.submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, "AAPL", subs[0].Symbol)
	assert.Equal(t, int64(60), subs[0].Qty, "100k * 30% * 10% at $50")
	assert.Equal(t, domain.OrderSideBuy, subs[0].Side)
}

func TestTickDeduplicatesAcrossTicks(t *testing.T) {
	ctx := context.Background()
	f := newCycleFixture(t)

	// The same opportunity re-signalled within one bar: identical timestamps
	// keep both signals in the same bar regardless of when the test runs.
	first := signal("sig-1")
	require.NoError(t, f.queue.Push(ctx, first))
	f.cycle.Tick(ctx)

	dup := first
	dup.ID = "sig-2"
	require.NoError(t, f.queue.Push(ctx, dup))
	f.cycle.Tick(ctx)

	assert.Len(t, f.gateway.submissions(), 1, "the second signal hits the ledger and is dropped")
}

func TestTickDeduplicatesAcrossRestart(t *testing.T) {
	ctx := context.Background()
	f := newCycleFixture(t)
	first := signal("sig-1")
	require.NoError(t, f.queue.Push(ctx, first))
	f.cycle.Tick(ctx)
	require.Len(t, f.gateway.submissions(), 1)

	// Same durable store, fresh everything else: a restarted process.
	logger := slog.New(slog.DiscardHandler)
	led := ledger.New(f.store, logger)
	resolver := risk.NewResolver(riskConfig(), logger)
	orch := executor.New(f.gateway, f.orders, openLocks{}, openLimiter{}, memCache{},
		f.audit, f.notifier, executor.Config{}, logger)
	trk := tracker.New(f.gateway, f.orders, &memTradeStore{}, led, memCache{}, f.notifier, 24*time.Hour, logger)
	restarted := NewCycle(strategyConfig(), resolver, f.gateway, f.queue, f.orders,
		led, orch, trk, memCache{}, f.audit, f.notifier, 1, logger)

	replay := first
	replay.ID = "sig-3"
	require.NoError(t, f.queue.Push(ctx, replay))
	restarted.Tick(ctx)

	assert.Len(t, f.gateway.submissions(), 1, "a restart must not resubmit the same bar")
}

func TestTickKillSwitch(t *testing.T) {
	ctx := context.Background()
	f := newCycleFixture(t)
	f.gateway.account.DayPnL = -1500 // beyond the $1000 limit

	require.NoError(t, f.queue.Push(ctx, signal("sig-1")))
	f.cycle.Tick(ctx)

	assert.Empty(t, f.gateway.submissions(), "a halted strategy submits nothing")
	assert.Contains(t, f.notifier.events, "daily_loss_halt")
	assert.Contains(t, f.audit.events, "daily_loss_halt")

	// Still halted on later ticks, without re-alerting every time.
	alerts := len(f.notifier.events)
	require.NoError(t, f.queue.Push(ctx, signal("sig-2")))
	f.cycle.Tick(ctx)
	assert.Empty(t, f.gateway.submissions())
	assert.Len(t, f.notifier.events, alerts)

	// A reset (next session) reopens the gate.
	f.cycle.ResetHalt()
	f.gateway.account.DayPnL = 0
	require.NoError(t, f.queue.Push(ctx, signal("sig-3")))
	f.cycle.Tick(ctx)
	assert.Len(t, f.gateway.submissions(), 1)
}

func TestTickManualApprovalGate(t *testing.T) {
	ctx := context.Background()
	f := newCycleFixture(t)

	sig := signal("sig-1")
	sig.AutoApprove = false
	require.NoError(t, f.queue.Push(ctx, sig))
	f.cycle.Tick(ctx)

	assert.Empty(t, f.gateway.submissions())
	assert.Contains(t, f.audit.events, "manual_approval_required")
}

func TestTickStaleSignalDropped(t *testing.T) {
	ctx := context.Background()
	f := newCycleFixture(t)

	sig := signal("sig-1")
	sig.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.queue.Push(ctx, sig))
	f.cycle.Tick(ctx)

	assert.Empty(t, f.gateway.submissions())
}

func TestTickIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	f := newCycleFixture(t)

	bad := signal("sig-bad")
	bad.Direction = "sideways" // structurally invalid
	good := signal("sig-good")
	good.Symbol = "MSFT"
	good.Price = 100

	require.NoError(t, f.queue.Push(ctx, bad))
	require.NoError(t, f.queue.Push(ctx, good))
	f.cycle.Tick(ctx)

	subs := f.gateway.submissions()
	require.Len(t, subs, 1, "one bad signal never blocks the rest of the batch")
	assert.Equal(t, "MSFT", subs[0].Symbol)
}

func TestTickBoxedPositionRefused(t *testing.T) {
	ctx := context.Background()
	f := newCycleFixture(t)
	f.gateway.positions["AAPL"] = domain.Position{Symbol: "AAPL", Qty: -100, AvgPrice: 50}

	sig := signal("sig-1")
	sig.Direction = domain.DirectionLong
	require.NoError(t, f.queue.Push(ctx, sig))
	f.cycle.Tick(ctx)

	assert.Empty(t, f.gateway.submissions())

	// Refusal is not consumption: the bar is not marked processed, so a
	// later snapshot without the clash may still trade it.
	has, err := f.store.Has(ctx, "any")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestTickServesPositionsFromCache(t *testing.T) {
	ctx := context.Background()
	f := newCycleFixture(t)
	cache := &recordingCache{}
	f.cycle.cache = cache

	// Gated before submission: only the cycle's own snapshot reads positions,
	// never the orchestrator's under-lock refetch.
	gated := func(id string) domain.Signal {
		sig := signal(id)
		sig.AutoApprove = false
		return sig
	}

	require.NoError(t, f.queue.Push(ctx, gated("sig-1")))
	f.cycle.Tick(ctx)
	assert.Equal(t, 1, f.gateway.positionCalls(), "cold cache goes to the venue")

	require.NoError(t, f.queue.Push(ctx, gated("sig-2")))
	f.cycle.Tick(ctx)
	assert.Equal(t, 1, f.gateway.positionCalls(), "a fresh entry is served from the cache")
	assert.Equal(t, 1, cache.hits)

	require.NoError(t, cache.Invalidate(ctx))
	require.NoError(t, f.queue.Push(ctx, gated("sig-3")))
	f.cycle.Tick(ctx)
	assert.Equal(t, 2, f.gateway.positionCalls(), "invalidation forces a venue refetch")
}

func TestSafeTickRecoversPanic(t *testing.T) {
	f := newCycleFixture(t)
	// A nil queue makes Tick panic; safeTick must swallow it.
	f.cycle.queue = nil

	assert.NotPanics(t, func() {
		f.cycle.safeTick(context.Background())
	})
}
