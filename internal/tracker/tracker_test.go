package tracker

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stratexec/internal/broker"
	"github.com/alanyoungcy/stratexec/internal/broker/paper"
	"github.com/alanyoungcy/stratexec/internal/domain"
	"github.com/alanyoungcy/stratexec/internal/executor"
	"github.com/alanyoungcy/stratexec/internal/ledger"
)

// --- fakes ---

type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[string]domain.Order)}
}

func (s *fakeOrderStore) Create(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ClientOrderID]; ok {
		return domain.ErrAlreadyExists
	}
	s.orders[o.ClientOrderID] = o
	return nil
}

func (s *fakeOrderStore) Update(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ClientOrderID] = o
	return nil
}

func (s *fakeOrderStore) GetByClientID(_ context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *fakeOrderStore) ListActive(_ context.Context) ([]domain.Order, error) {
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


var _ domain.OrderStore = (*fakeOrderStore)(nil)

type fakeTradeStore struct {
	mu     sync.Mutex
	trades []domain.CompletedTrade
}

func (s *fakeTradeStore) Insert(_ context.Context, t domain.CompletedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.trades {
		if existing.ClientOrderID == t.ClientOrderID {
			return nil // idempotent
		}
	}
	s.trades = append(s.trades, t)
	return nil
}

func (s *fakeTradeStore) ListRecent(_ context.Context, limit int) ([]domain.CompletedTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.trades) {
		limit = len(s.trades)
	}
	return append([]domain.CompletedTrade(nil), s.trades[:limit]...), nil
}

func (s *fakeTradeStore) ListBefore(_ context.Context, before time.Time) ([]domain.CompletedTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CompletedTrade
	for _, t := range s.trades {
		if t.ClosedAt.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeTradeStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.CompletedTrade
	var n int64
	for _, t := range s.trades {
		if t.ClosedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, t)
	}
	s.trades = kept
	return n, nil
}

var _ domain.CompletedTradeStore = (*fakeTradeStore)(nil)

type fakeSignalStore struct {
	mu   sync.Mutex
	recs map[string]domain.ProcessedSignalRecord
}

func newFakeSignalStore() *fakeSignalStore {
	return &fakeSignalStore{recs: make(map[string]domain.ProcessedSignalRecord)}
}

func (s *fakeSignalStore) Has(_ context.Context, fp string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.recs[fp]
	return ok, nil
}

func (s *fakeSignalStore) Record(_ context.Context, rec domain.ProcessedSignalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.Fingerprint] = rec
	return nil
}

func (s *fakeSignalStore) ListSince(_ context.Context, _ time.Time) ([]domain.ProcessedSignalRecord, error) {
	return nil, nil
}

func (s *fakeSignalStore) ListBefore(_ context.Context, _ time.Time) ([]domain.ProcessedSignalRecord, error) {
	return nil, nil
}

func (s *fakeSignalStore) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

var _ domain.ProcessedSignalStore = (*fakeSignalStore)(nil)

type fakeCache struct {
	mu          sync.Mutex
	invalidated int
}

func (c *fakeCache) Set(_ context.Context, _ map[string]domain.Position) error { return nil }

func (c *fakeCache) Get(_ context.Context) (map[string]domain.Position, time.Time, error) {
	return nil, time.Time{}, domain.ErrNotFound
}

func (c *fakeCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated++
	return nil
}

var _ domain.PositionCache = (*fakeCache)(nil)

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// --- fixture ---

type fixture struct {
	tracker  *Tracker
	gateway  *paper.Gateway
	now      *time.Time
	orders   *fakeOrderStore
	trades   *fakeTradeStore
	ledger   *ledger.Ledger
	cache    *fakeCache
	notifier *fakeNotifier
}

func newFixture() *fixture {
	logger := slog.New(slog.DiscardHandler)
	gw := paper.New(1_000_000, time.Second, logger)
	// The tracker anchors its lookback window on wall-clock time, so the
	// simulated clock starts at now rather than a fixed date.
	now := time.Now().UTC()
	gw.SetClock(func() time.Time { return now })

	f := &fixture{
		gateway:  gw,
		now:      &now,
		orders:   newFakeOrderStore(),
		trades:   &fakeTradeStore{},
		ledger:   ledger.New(newFakeSignalStore(), logger),
		cache:    &fakeCache{},
		notifier: &fakeNotifier{},
	}
	f.tracker = New(gw, f.orders, f.trades, f.ledger, f.cache, f.notifier, 24*time.Hour, logger)
	return f
}

// submit places an order at the paper venue and mirrors it in the order store,
// the way the orchestrator does.
func (f *fixture) submit(t *testing.T, clientID, symbol string, qty int64, limit float64) broker.Ack {
	t.Helper()
	ctx := context.Background()

	ack, err := f.gateway.SubmitOrder(ctx, broker.OrderSpec{
		ClientOrderID: clientID,
		Symbol:        symbol,
		Side:          domain.OrderSideBuy,
		Qty:           qty,
		Type:          broker.OrderTypeLimit,
		LimitPrice:    limit,
	})
	require.NoError(t, err)

	parsed, err := executor.ParseClientOrderID(clientID)
	require.NoError(t, err)
	require.NoError(t, f.orders.Create(ctx, domain.Order{
		ClientOrderID: clientID,
		BrokerOrderID: ack.OrderID,
		StrategyID:    parsed.StrategyID,
		Symbol:        symbol,
		Side:          domain.OrderSideBuy,
		Qty:           qty,
		LimitPrice:    limit,
		Topology:      domain.TopologyPlain,
		Role:          domain.RoleEntry,
		Status:        domain.OrderStatusSubmitted,
		Fingerprint:   parsed.Fingerprint,
		CreatedAt:     *f.now,
	}))
	return ack
}

// --- tests ---

func TestPollMovesFilledOrderToTrades(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.submit(t, "momentum.fp1.n1", "AAPL", 60, 50)

	*f.now = f.now.Add(2 * time.Second) // past the fill delay
	require.NoError(t, f.tracker.Poll(ctx))

	ord, err := f.orders.GetByClientID(ctx, "momentum.fp1.n1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, ord.Status)
	assert.Equal(t, int64(60), ord.FilledQty)
	assert.NotNil(t, ord.FilledAt)
	assert.NotNil(t, ord.ClosedAt)

	trades, err := f.trades.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "momentum.fp1.n1", trades[0].ClientOrderID)
	assert.Equal(t, domain.OrderStatusFilled, trades[0].Status)

	assert.Equal(t, 1, f.cache.invalidated, "a fill must invalidate the position snapshot")
}

func TestPollLeavesAbsentOrdersUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	// An order the venue listing will not contain: present locally only.
	require.NoError(t, f.orders.Create(ctx, domain.Order{
		ClientOrderID: "momentum.fpX.n1",
		Symbol:        "AAPL",
		Qty:           10,
		Status:        domain.OrderStatusSubmitted,
		CreatedAt:     *f.now,
	}))

	require.NoError(t, f.tracker.Poll(ctx))

	ord, err := f.orders.GetByClientID(ctx, "momentum.fpX.n1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSubmitted, ord.Status,
		"absence from the listing must never be read as terminal")
}

func TestPollCancelledOrderIsRoutine(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ack := f.submit(t, "momentum.fp1.n1", "AAPL", 60, 50)

	// Cancel at the venue so the poll observes a terminal non-fill.
	require.NoError(t, f.gateway.CancelOrder(ctx, ack.OrderID))
	require.NoError(t, f.tracker.Poll(ctx))

	ord, err := f.orders.GetByClientID(ctx, "momentum.fp1.n1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, ord.Status)
	assert.Empty(t, f.notifier.events, "cancellation is routine, not an alert")
	assert.Zero(t, f.cache.invalidated, "no fill, no snapshot change")
}

func TestPollIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.submit(t, "momentum.fp1.n1", "AAPL", 60, 50)

	*f.now = f.now.Add(2 * time.Second)
	require.NoError(t, f.tracker.Poll(ctx))
	require.NoError(t, f.tracker.Poll(ctx))

	trades, err := f.trades.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, trades, 1, "a terminal order is processed exactly once")
}

func TestReconcileBackfillsLedgerAndOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	// Venue knows two of our orders and one foreign order; local state is
	// empty, as after a crash that lost everything but the database-backed
	// venue.
	for _, spec := range []broker.OrderSpec{
		{ClientOrderID: "momentum.fp1.n1", Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 60, Type: broker.OrderTypeLimit, LimitPrice: 50},
		{ClientOrderID: "meanrev.fp2.n1", Symbol: "MSFT", Side: domain.OrderSideBuy, Qty: 10, Type: broker.OrderTypeLimit, LimitPrice: 300},
		{ClientOrderID: "manual-entry", Symbol: "TSLA", Side: domain.OrderSideBuy, Qty: 5, Type: broker.OrderTypeLimit, LimitPrice: 200},
	} {
		_, err := f.gateway.SubmitOrder(ctx, spec)
		require.NoError(t, err)
	}

	require.NoError(t, f.tracker.Reconcile(ctx))

	for _, fp := range []string{"fp1", "fp2"} {
		has, err := f.ledger.HasProcessed(ctx, fp)
		require.NoError(t, err)
		assert.True(t, has, "fingerprint %s must be backfilled", fp)
	}

	ord, err := f.orders.GetByClientID(ctx, "momentum.fp1.n1")
	require.NoError(t, err)
	assert.Equal(t, "momentum", ord.StrategyID)
	assert.Equal(t, "fp1", ord.Fingerprint)

	_, err = f.orders.GetByClientID(ctx, "manual-entry")
	assert.ErrorIs(t, err, domain.ErrNotFound, "foreign orders are not adopted")
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.submit(t, "momentum.fp1.n1", "AAPL", 60, 50)

	require.NoError(t, f.tracker.Reconcile(ctx))
	require.NoError(t, f.tracker.Reconcile(ctx))

	ord, err := f.orders.GetByClientID(ctx, "momentum.fp1.n1")
	require.NoError(t, err)
	assert.Equal(t, int64(60), ord.Qty, "the locally created row is kept, not overwritten")
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.OrderStatus
		want     bool
	}{
		{domain.OrderStatusPending, domain.OrderStatusSubmitted, true},
		{domain.OrderStatusPending, domain.OrderStatusFilled, true},
		{domain.OrderStatusSubmitted, domain.OrderStatusFilled, true},
		{domain.OrderStatusSubmitted, domain.OrderStatusCancelled, true},
		{domain.OrderStatusSubmitted, domain.OrderStatusRejected, true},
		{domain.OrderStatusSubmitted, domain.OrderStatusPending, false},
		{domain.OrderStatusFilled, domain.OrderStatusCancelled, false},
		{domain.OrderStatusCancelled, domain.OrderStatusSubmitted, false},
		{domain.OrderStatusRejected, domain.OrderStatusFilled, false},
		{domain.OrderStatusSubmitted, domain.OrderStatusSubmitted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, canTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
