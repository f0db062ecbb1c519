package paper

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stratexec/internal/broker"
	"github.com/alanyoungcy/stratexec/internal/domain"
)

func testGateway() (*Gateway, *time.Time) {
	g := New(100_000, time.Second, slog.New(slog.DiscardHandler))
	now := time.Date(2026, 8, 21, 14, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })
	return g, &now
}

func TestSubmitAndFill(t *testing.T) {
	ctx := context.Background()
	g, now := testGateway()

	ack, err := g.SubmitOrder(ctx, broker.OrderSpec{
		ClientOrderID: "momentum.fp1.n1",
		Symbol:        "AAPL",
		Side:          domain.OrderSideBuy,
		Qty:           60,
		Type:          broker.OrderTypeLimit,
		LimitPrice:    50,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSubmitted, ack.Status)
	assert.NotEmpty(t, ack.OrderID)

	// Before the fill delay elapses the order is still live.
	recs, err := g.ListOrders(ctx, broker.ListOrdersFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.OrderStatusSubmitted, recs[0].Status)

	*now = now.Add(2 * time.Second)
	recs, err = g.ListOrders(ctx, broker.ListOrdersFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.OrderStatusFilled, recs[0].Status)
	assert.Equal(t, int64(60), recs[0].FilledQty)
	assert.InDelta(t, 50.0, recs[0].FilledAvgPrice, 1e-9)

	positions, err := g.GetPositions(ctx)
	require.NoError(t, err)
	require.Contains(t, positions, "AAPL")
	assert.Equal(t, int64(60), positions["AAPL"].Qty)
	assert.InDelta(t, 50.0, positions["AAPL"].AvgPrice, 1e-9)

	acct, err := g.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 100_000-60*50, acct.Cash, 1e-9)
}

func TestDuplicateClientOrderIDRejected(t *testing.T) {
	ctx := context.Background()
	g, _ := testGateway()

	spec := broker.OrderSpec{
		ClientOrderID: "momentum.fp1.n1",
		Symbol:        "AAPL",
		Side:          domain.OrderSideBuy,
		Qty:           10,
		Type:          broker.OrderTypeLimit,
		LimitPrice:    50,
	}
	_, err := g.SubmitOrder(ctx, spec)
	require.NoError(t, err)

	_, err = g.SubmitOrder(ctx, spec)
	require.Error(t, err)
	assert.False(t, broker.IsTransient(err), "a duplicate id must not be retried")
}

func TestCancelLifecycle(t *testing.T) {
	ctx := context.Background()
	g, now := testGateway()

	ack, err := g.SubmitOrder(ctx, broker.OrderSpec{
		ClientOrderID: "momentum.fp1.n1",
		Symbol:        "AAPL",
		Side:          domain.OrderSideBuy,
		Qty:           10,
		Type:          broker.OrderTypeLimit,
		LimitPrice:    50,
	})
	require.NoError(t, err)

	require.NoError(t, g.CancelOrder(ctx, ack.OrderID))

	recs, err := g.ListOrders(ctx, broker.ListOrdersFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.OrderStatusCancelled, recs[0].Status)

	// Cancelling a terminal order fails, but in the success-equivalent way.
	err = g.CancelOrder(ctx, ack.OrderID)
	require.Error(t, err)
	assert.True(t, broker.IsBenignCancel(err))

	// A cancelled order never fills.
	*now = now.Add(time.Hour)
	positions, err := g.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestCancelUnknownOrder(t *testing.T) {
	ctx := context.Background()
	g, _ := testGateway()

	err := g.CancelOrder(ctx, "no-such-order")
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrOrderNotFound)
	assert.True(t, broker.IsBenignCancel(err))
}

func TestBracketChildrenHeldUntilEntryFill(t *testing.T) {
	ctx := context.Background()
	g, now := testGateway()

	_, err := g.SubmitOrder(ctx, broker.OrderSpec{
		ClientOrderID: "momentum.fp1.n1",
		Symbol:        "AAPL",
		Side:          domain.OrderSideBuy,
		Qty:           60,
		Type:          broker.OrderTypeLimit,
		LimitPrice:    50,
		Bracket:       &broker.BracketSpec{TakeProfitPrice: 55, StopLossPrice: 48},
	})
	require.NoError(t, err)

	recs, err := g.ListOrders(ctx, broker.ListOrdersFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, 3, "entry plus two exit children")

	*now = now.Add(2 * time.Second)
	recs, err = g.ListOrders(ctx, broker.ListOrdersFilter{})
	require.NoError(t, err)

	var filled, live int
	for _, rec := range recs {
		switch rec.Status {
		case domain.OrderStatusFilled:
			filled++
		case domain.OrderStatusSubmitted:
			live++
			// Children report the exit side and price so callers can act on
			// them without a local record.
			assert.Equal(t, domain.OrderSideSell, rec.Side)
			assert.Greater(t, rec.LimitPrice, 0.0)
		}
	}
	assert.Equal(t, 1, filled, "only the entry fills")
	assert.Equal(t, 2, live, "the exits are released, not filled")

	positions, err := g.GetPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(60), positions["AAPL"].Qty)
}

func TestRealizedPnLOnReduce(t *testing.T) {
	ctx := context.Background()
	g, now := testGateway()

	buy := broker.OrderSpec{
		ClientOrderID: "momentum.fp1.n1",
		Symbol:        "AAPL",
		Side:          domain.OrderSideBuy,
		Qty:           100,
		Type:          broker.OrderTypeLimit,
		LimitPrice:    50,
	}
	_, err := g.SubmitOrder(ctx, buy)
	require.NoError(t, err)
	*now = now.Add(2 * time.Second)

	sell := broker.OrderSpec{
		ClientOrderID: "momentum.fp2.n1",
		Symbol:        "AAPL",
		Side:          domain.OrderSideSell,
		Qty:           100,
		Type:          broker.OrderTypeLimit,
		LimitPrice:    52,
	}
	_, err = g.SubmitOrder(ctx, sell)
	require.NoError(t, err)
	*now = now.Add(2 * time.Second)

	acct, err := g.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, acct.DayPnL, 1e-9, "100 shares * $2")
	assert.InDelta(t, 100_200.0, acct.Equity, 1e-9)

	positions, err := g.GetPositions(ctx)
	require.NoError(t, err)
	assert.NotContains(t, positions, "AAPL", "flat positions are omitted")
}

func TestScaleInBlendsAverage(t *testing.T) {
	ctx := context.Background()
	g, now := testGateway()

	for i, spec := range []broker.OrderSpec{
		{ClientOrderID: "m.fp1.n1", Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 100, Type: broker.OrderTypeLimit, LimitPrice: 50},
		{ClientOrderID: "m.fp2.n1", Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 100, Type: broker.OrderTypeLimit, LimitPrice: 48},
	} {
		_, err := g.SubmitOrder(ctx, spec)
		require.NoError(t, err, "order %d", i)
		*now = now.Add(2 * time.Second)
	}

	positions, err := g.GetPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(200), positions["AAPL"].Qty)
	assert.InDelta(t, 49.0, positions["AAPL"].AvgPrice, 1e-9)
}

func TestMarketOrderFillsAtMark(t *testing.T) {
	ctx := context.Background()
	g, now := testGateway()
	g.SetMark("AAPL", 51.5)

	_, err := g.SubmitOrder(ctx, broker.OrderSpec{
		ClientOrderID: "m.fp1.n1",
		Symbol:        "AAPL",
		Side:          domain.OrderSideBuy,
		Qty:           10,
		Type:          broker.OrderTypeMarket,
	})
	require.NoError(t, err)
	*now = now.Add(2 * time.Second)

	positions, err := g.GetPositions(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 51.5, positions["AAPL"].AvgPrice, 1e-9)
}

func TestListOrdersFilters(t *testing.T) {
	ctx := context.Background()
	g, now := testGateway()

	_, err := g.SubmitOrder(ctx, broker.OrderSpec{
		ClientOrderID: "m.fp1.n1", Symbol: "AAPL", Side: domain.OrderSideBuy,
		Qty: 10, Type: broker.OrderTypeLimit, LimitPrice: 50,
	})
	require.NoError(t, err)
	*now = now.Add(2 * time.Second)
	_, err = g.SubmitOrder(ctx, broker.OrderSpec{
		ClientOrderID: "m.fp2.n1", Symbol: "MSFT", Side: domain.OrderSideBuy,
		Qty: 10, Type: broker.OrderTypeLimit, LimitPrice: 300,
	})
	require.NoError(t, err)

	recs, err := g.ListOrders(ctx, broker.ListOrdersFilter{Symbols: []string{"MSFT"}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "MSFT", recs[0].Symbol)

	recs, err = g.ListOrders(ctx, broker.ListOrdersFilter{OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, recs, 1, "the filled AAPL order is excluded")
	assert.Equal(t, "m.fp2.n1", recs[0].ClientOrderID)
}
