// Package alpaca implements the broker gateway against the Alpaca trading
// API.
package alpaca

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stratexec/internal/broker"
	"github.com/alanyoungcy/stratexec/internal/domain"
)

// Compile-time interface check.
var _ broker.Gateway = (*Gateway)(nil)

// defaultCallTimeout bounds broker calls when no timeout is configured.
const defaultCallTimeout = 30 * time.Second

// Gateway talks to the Alpaca trading API. Every call runs on an HTTP client
// with a hard timeout so a hung request cannot wedge a cycle; context is
// checked before each call since the SDK methods do not accept one.
type Gateway struct {
	client *alpaca.Client
	logger *slog.Logger
}

// New creates a Gateway with the given credentials. baseURL selects the paper
// or live trading endpoint; callTimeout caps every HTTP round trip.
func New(apiKey, apiSecret, baseURL string, callTimeout time.Duration, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:     apiKey,
			APISecret:  apiSecret,
			BaseURL:    baseURL,
			HTTPClient: newHTTPClient(callTimeout),
		}),
		logger: logger.With(slog.String("component", "alpaca")),
	}
}

// newHTTPClient builds the transport with the configured hard timeout,
// falling back to the default when unset.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &http.Client{Timeout: timeout}
}

// SubmitOrder places an order. Bracket specs become an OCO bracket order
// class; legs become an atomic multi-leg order.
func (g *Gateway) SubmitOrder(ctx context.Context, spec broker.OrderSpec) (broker.Ack, error) {
	if err := ctx.Err(); err != nil {
		return broker.Ack{}, broker.NewTransient("submit", "context done", err)
	}

	req, err := buildRequest(spec)
	if err != nil {
		return broker.Ack{}, err
	}

	order, err := g.client.PlaceOrder(req)
	if err != nil {
		return broker.Ack{}, classify("submit", err)
	}

	g.logger.Debug("order placed",
		slog.String("client_order_id", spec.ClientOrderID),
		slog.String("order_id", order.ID),
		slog.String("status", string(order.Status)),
	)
	return broker.Ack{
		OrderID:       order.ID,
		ClientOrderID: order.ClientOrderID,
		Status:        CoalesceStatus(string(order.Status)),
		AcceptedAt:    order.SubmittedAt,
	}, nil
}

// CancelOrder requests cancellation of an open order.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return broker.NewTransient("cancel", "context done", err)
	}
	if err := g.client.CancelOrder(orderID); err != nil {
		return classify("cancel", err)
	}
	return nil
}

// ListOrders fetches order statuses in bulk for lifecycle tracking. Nested is
// set so bracket legs come back with their parent.
func (g *Gateway) ListOrders(ctx context.Context, filter broker.ListOrdersFilter) ([]broker.StatusRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, broker.NewTransient("list_orders", "context done", err)
	}

	status := "all"
	if filter.OpenOnly {
		status = "open"
	}
	orders, err := g.client.GetOrders(alpaca.GetOrdersRequest{
		Status:  status,
		After:   filter.Since,
		Until:   filter.Until,
		Limit:   500,
		Nested:  true,
		Symbols: filter.Symbols,
	})
	if err != nil {
		return nil, classify("list_orders", err)
	}

	var recs []broker.StatusRecord
	for _, o := range orders {
		recs = append(recs, toRecord(o))
		for _, leg := range o.Legs {
			recs = append(recs, toRecord(leg))
		}
	}
	return recs, nil
}

// GetPositions returns current holdings keyed by symbol. Quantities are
// signed: short positions come back negative.
func (g *Gateway) GetPositions(ctx context.Context) (map[string]domain.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, broker.NewTransient("get_positions", "context done", err)
	}

	positions, err := g.client.GetPositions()
	if err != nil {
		return nil, classify("get_positions", err)
	}

	out := make(map[string]domain.Position, len(positions))
	now := time.Now().UTC()
	for _, p := range positions {
		pos := domain.Position{
			Symbol:    p.Symbol,
			Qty:       p.Qty.IntPart(),
			AvgPrice:  p.AvgEntryPrice.InexactFloat64(),
			UpdatedAt: now,
		}
		if p.MarketValue != nil {
			pos.MarketValue = p.MarketValue.InexactFloat64()
		}
		if p.UnrealizedPL != nil {
			pos.UnrealizedPnL = p.UnrealizedPL.InexactFloat64()
		}
		out[p.Symbol] = pos
	}
	return out, nil
}

// GetAccount returns the account snapshot. Day PnL is equity versus the
// previous close's equity, so it includes unrealized moves; the daily-loss
// halt keys off it deliberately conservatively.
func (g *Gateway) GetAccount(ctx context.Context) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, broker.NewTransient("get_account", "context done", err)
	}

	acct, err := g.client.GetAccount()
	if err != nil {
		return domain.Account{}, classify("get_account", err)
	}

	equity := acct.Equity.InexactFloat64()
	return domain.Account{
		Equity:      equity,
		Cash:        acct.Cash.InexactFloat64(),
		BuyingPower: acct.BuyingPower.InexactFloat64(),
		DayPnL:      equity - acct.LastEquity.InexactFloat64(),
	}, nil
}

// buildRequest translates the venue-agnostic spec into an Alpaca order
// request.
func buildRequest(spec broker.OrderSpec) (alpaca.PlaceOrderRequest, error) {
	req := alpaca.PlaceOrderRequest{
		Symbol:        spec.Symbol,
		Side:          toSide(spec.Side),
		TimeInForce:   toTIF(spec.TimeInForce),
		ClientOrderID: spec.ClientOrderID,
	}

	switch spec.Type {
	case broker.OrderTypeLimit:
		req.Type = alpaca.Limit
		req.LimitPrice = dec(spec.LimitPrice)
	case broker.OrderTypeStop:
		req.Type = alpaca.Stop
		req.StopPrice = dec(spec.StopPrice)
	default:
		req.Type = alpaca.Market
	}

	if len(spec.Legs) > 0 {
		req.OrderClass = alpaca.MLeg
		qty := decimal.NewFromInt(spec.Qty)
		req.Qty = &qty
		for _, leg := range spec.Legs {
			intent := alpaca.BuyToOpen
			if leg.Side == domain.OrderSideSell {
				intent = alpaca.SellToOpen
			}
			req.Legs = append(req.Legs, alpaca.Leg{
				Symbol:         leg.Symbol,
				Side:           toSide(leg.Side),
				RatioQty:       decimal.NewFromInt(leg.Ratio),
				PositionIntent: intent,
			})
		}
		return req, nil
	}

	if spec.Qty <= 0 {
		return req, broker.NewPermanent("submit", "invalid_qty",
			fmt.Sprintf("non-positive qty %d", spec.Qty), nil)
	}
	qty := decimal.NewFromInt(spec.Qty)
	req.Qty = &qty

	if spec.Bracket != nil {
		req.OrderClass = alpaca.Bracket
		req.TakeProfit = &alpaca.TakeProfit{LimitPrice: dec(spec.Bracket.TakeProfitPrice)}
		req.StopLoss = &alpaca.StopLoss{StopPrice: dec(spec.Bracket.StopLossPrice)}
	}
	return req, nil
}

func toRecord(o alpaca.Order) broker.StatusRecord {
	rec := broker.StatusRecord{
		OrderID:       o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          fromSide(o.Side),
		Status:        CoalesceStatus(string(o.Status)),
		RawStatus:     string(o.Status),
		FilledQty:     o.FilledQty.IntPart(),
		CreatedAt:     o.CreatedAt,
		FilledAt:      o.FilledAt,
	}
	if o.FilledAvgPrice != nil {
		rec.FilledAvgPrice = o.FilledAvgPrice.InexactFloat64()
	}
	if o.LimitPrice != nil {
		rec.LimitPrice = o.LimitPrice.InexactFloat64()
	}
	return rec
}

func toSide(s domain.OrderSide) alpaca.Side {
	if s == domain.OrderSideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func fromSide(s alpaca.Side) domain.OrderSide {
	if s == alpaca.Sell {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

func toTIF(tif string) alpaca.TimeInForce {
	if tif == "gtc" {
		return alpaca.GTC
	}
	return alpaca.Day
}

func dec(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

// CoalesceStatus maps Alpaca's native order statuses onto the engine's
// lifecycle. Every "still live at the venue" status collapses to submitted;
// unknown statuses also map to submitted so the order keeps being tracked
// rather than silently going terminal.
func CoalesceStatus(raw string) domain.OrderStatus {
	switch raw {
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "expired", "done_for_day", "replaced":
		return domain.OrderStatusCancelled
	case "rejected":
		return domain.OrderStatusRejected
	case "new", "accepted", "pending_new", "accepted_for_bidding", "held",
		"partially_filled", "pending_cancel", "pending_replace", "calculated",
		"stopped", "suspended":
		return domain.OrderStatusSubmitted
	default:
		return domain.OrderStatusSubmitted
	}
}

// classify wraps an SDK error into the broker error taxonomy.
func classify(op string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 404 {
			return fmt.Errorf("broker: %s: %w", op, broker.ErrOrderNotFound)
		}
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return broker.NewTransient(op, apiErr.Message, err)
		}
		return broker.NewPermanent(op, fmt.Sprintf("%d", apiErr.Code), apiErr.Message, err)
	}
	// Network-level failures have no status code; assume retryable.
	return broker.NewTransient(op, err.Error(), err)
}
