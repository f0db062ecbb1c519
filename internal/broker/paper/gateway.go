// Package paper implements an in-memory broker gateway simulation for paper
// mode and tests. Fills are simulated: a submitted order fills after a
// configurable delay at its limit price, or at the symbol's mark price for
// market orders. No market microstructure is modelled.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/alanyoungcy/stratexec/internal/broker"
	"github.com/alanyoungcy/stratexec/internal/domain"
)

// Compile-time interface check.
var _ broker.Gateway = (*Gateway)(nil)

type simOrder struct {
	spec        broker.OrderSpec
	id          string
	status      domain.OrderStatus
	raw         string
	filledQty   int64
	filledPrice float64
	createdAt   time.Time
	fillAt      time.Time
	filledAt    *time.Time
	reason      string
	// bracket children held until the entry fills
	children []*simOrder
	held     bool
}

// Gateway is the paper simulation. Safe for concurrent use.
type Gateway struct {
	mu        sync.Mutex
	orders    map[string]*simOrder // by broker order id
	byClient  map[string]*simOrder
	positions map[string]*domain.Position
	equity    float64
	cash      float64
	dayPnL    float64
	marks     map[string]float64
	fillDelay time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a paper gateway seeded with starting cash. Orders fill
// fillDelay after submission, observed on the next poll.
func New(startingCash float64, fillDelay time.Duration, logger *slog.Logger) *Gateway {
	return &Gateway{
		orders:    make(map[string]*simOrder),
		byClient:  make(map[string]*simOrder),
		positions: make(map[string]*domain.Position),
		equity:    startingCash,
		cash:      startingCash,
		marks:     make(map[string]float64),
		fillDelay: fillDelay,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "paper")),
	}
}

// SetClock overrides the time source. Test hook.
func (g *Gateway) SetClock(now func() time.Time) {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
}

// SetMark sets the simulated market price used to fill market orders.
func (g *Gateway) SetMark(symbol string, price float64) {
	g.mu.Lock()
	g.marks[symbol] = price
	g.mu.Unlock()
}

// SubmitOrder accepts an order into the simulation. Client order IDs must be
// unique, matching real venue behaviour.
func (g *Gateway) SubmitOrder(ctx context.Context, spec broker.OrderSpec) (broker.Ack, error) {
	if err := ctx.Err(); err != nil {
		return broker.Ack{}, broker.NewTransient("submit", "context done", err)
	}
	if spec.Qty <= 0 && len(spec.Legs) == 0 {
		return broker.Ack{}, broker.NewPermanent("submit", "invalid_qty",
			fmt.Sprintf("non-positive qty %d", spec.Qty), nil)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, dup := g.byClient[spec.ClientOrderID]; dup {
		return broker.Ack{}, broker.NewPermanent("submit", "duplicate_client_order_id",
			"client order id already in use: "+spec.ClientOrderID, nil)
	}

	now := g.now()
	o := &simOrder{
		spec:      spec,
		id:        ulid.Make().String(),
		status:    domain.OrderStatusSubmitted,
		raw:       "new",
		createdAt: now,
		fillAt:    now.Add(g.fillDelay),
	}
	g.orders[o.id] = o
	g.byClient[spec.ClientOrderID] = o

	if spec.Bracket != nil {
		o.children = []*simOrder{
			g.childOrder(o, domain.RoleTakeProfit, spec.Bracket.TakeProfitPrice, now),
			g.childOrder(o, domain.RoleStopLoss, spec.Bracket.StopLossPrice, now),
		}
		for _, c := range o.children {
			g.orders[c.id] = c
			g.byClient[c.spec.ClientOrderID] = c
		}
	}

	return broker.Ack{
		OrderID:       o.id,
		ClientOrderID: spec.ClientOrderID,
		Status:        domain.OrderStatusSubmitted,
		AcceptedAt:    now,
	}, nil
}

func (g *Gateway) childOrder(parent *simOrder, role domain.OrderRole, price float64, now time.Time) *simOrder {
	spec := broker.OrderSpec{
		ClientOrderID: parent.spec.ClientOrderID + "-" + string(role),
		Symbol:        parent.spec.Symbol,
		Side:          parent.spec.Side.Opposite(),
		Qty:           parent.spec.Qty,
		Type:          broker.OrderTypeLimit,
		LimitPrice:    price,
		TimeInForce:   parent.spec.TimeInForce,
	}
	return &simOrder{
		spec:      spec,
		id:        ulid.Make().String(),
		status:    domain.OrderStatusSubmitted,
		raw:       "held",
		createdAt: now,
		held:      true, // released when the entry fills; never auto-filled
	}
}

// CancelOrder cancels a live order. Cancelling an already-terminal order is a
// distinct error so callers can treat it as success-equivalent.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return broker.NewTransient("cancel", "context done", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.advanceLocked()

	o, ok := g.orders[orderID]
	if !ok {
		return fmt.Errorf("broker: cancel: %w", broker.ErrOrderNotFound)
	}
	if o.status.Terminal() {
		return broker.NewPermanent("cancel", "not_cancelable",
			"order already "+string(o.status)+", is not cancelable", nil)
	}
	o.status = domain.OrderStatusCancelled
	o.raw = "canceled"
	for _, c := range o.children {
		if !c.status.Terminal() {
			c.status = domain.OrderStatusCancelled
			c.raw = "canceled"
		}
	}
	return nil
}

// ListOrders returns status records, advancing simulated fills first.
func (g *Gateway) ListOrders(ctx context.Context, filter broker.ListOrdersFilter) ([]broker.StatusRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, broker.NewTransient("list_orders", "context done", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.advanceLocked()

	symbolSet := map[string]bool{}
	for _, s := range filter.Symbols {
		symbolSet[s] = true
	}

	var recs []broker.StatusRecord
	for _, o := range g.orders {
		if filter.OpenOnly && o.status.Terminal() {
			continue
		}
		if !filter.Since.IsZero() && o.createdAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && o.createdAt.After(filter.Until) {
			continue
		}
		if len(symbolSet) > 0 && !symbolSet[o.spec.Symbol] {
			continue
		}
		recs = append(recs, broker.StatusRecord{
			OrderID:        o.id,
			ClientOrderID:  o.spec.ClientOrderID,
			Symbol:         o.spec.Symbol,
			Side:           o.spec.Side,
			Status:         o.status,
			RawStatus:      o.raw,
			FilledQty:      o.filledQty,
			FilledAvgPrice: o.filledPrice,
			LimitPrice:     o.spec.LimitPrice,
			Reason:         o.reason,
			CreatedAt:      o.createdAt,
			FilledAt:       o.filledAt,
		})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}

// GetPositions returns the simulated holdings.
func (g *Gateway) GetPositions(ctx context.Context) (map[string]domain.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, broker.NewTransient("get_positions", "context done", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.advanceLocked()

	out := make(map[string]domain.Position, len(g.positions))
	for sym, p := range g.positions {
		if p.Qty == 0 {
			continue
		}
		out[sym] = *p
	}
	return out, nil
}

// GetAccount returns the simulated account snapshot.
func (g *Gateway) GetAccount(ctx context.Context) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, broker.NewTransient("get_account", "context done", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.advanceLocked()

	return domain.Account{
		Equity:      g.equity,
		Cash:        g.cash,
		BuyingPower: g.cash,
		DayPnL:      g.dayPnL,
	}, nil
}

// advanceLocked fills due orders. Caller holds g.mu.
func (g *Gateway) advanceLocked() {
	now := g.now()
	for _, o := range g.orders {
		if o.status.Terminal() || o.held || now.Before(o.fillAt) {
			continue
		}
		g.fillLocked(o, now)
	}
}

func (g *Gateway) fillLocked(o *simOrder, now time.Time) {
	price := o.spec.LimitPrice
	if price <= 0 {
		price = g.marks[o.spec.Symbol]
	}
	if price <= 0 {
		price = o.spec.StopPrice
	}
	if price <= 0 {
		// No price reference: leave the order live until a mark is set.
		return
	}

	if len(o.spec.Legs) > 0 {
		for _, leg := range o.spec.Legs {
			legPrice := leg.Price
			if legPrice <= 0 {
				legPrice = g.marks[leg.Symbol]
			}
			g.applyFillLocked(leg.Symbol, leg.Side, leg.Ratio*o.spec.Qty, legPrice)
		}
	} else {
		g.applyFillLocked(o.spec.Symbol, o.spec.Side, o.spec.Qty, price)
	}

	o.status = domain.OrderStatusFilled
	o.raw = "filled"
	o.filledQty = o.spec.Qty
	o.filledPrice = price
	ts := now
	o.filledAt = &ts

	// Entry fill releases the bracket exits into the live book.
	for _, c := range o.children {
		c.held = false
		c.raw = "new"
		c.fillAt = now.Add(24 * time.Hour) // exits sit until cancelled or marked
	}
}

// applyFillLocked mutates position and cash state for one fill.
func (g *Gateway) applyFillLocked(symbol string, side domain.OrderSide, qty int64, price float64) {
	p, ok := g.positions[symbol]
	if !ok {
		p = &domain.Position{Symbol: symbol}
		g.positions[symbol] = p
	}

	delta := qty
	if side == domain.OrderSideSell {
		delta = -qty
	}

	switch {
	case p.Qty == 0 || (p.Qty > 0) == (delta > 0):
		// Opening or adding: blend the average.
		total := p.AbsQty() + abs(delta)
		p.AvgPrice = (float64(p.AbsQty())*p.AvgPrice + float64(abs(delta))*price) / float64(total)
	default:
		// Reducing or flipping: realize PnL on the closed portion.
		closed := min64(p.AbsQty(), abs(delta))
		pnl := float64(closed) * (price - p.AvgPrice)
		if p.Qty < 0 {
			pnl = -pnl
		}
		g.dayPnL += pnl
		g.equity += pnl
		if abs(delta) > p.AbsQty() {
			p.AvgPrice = price
		}
	}

	p.Qty += delta
	p.MarketValue = float64(p.Qty) * price
	p.UpdatedAt = g.now()
	g.cash -= float64(delta) * price
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
