// Package tracker follows submitted orders through their lifecycle with bulk
// status polling, moves terminal orders into the completed-trades log, and
// reconciles broker state against the local ledger after a restart.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/stratexec/internal/broker"
	"github.com/alanyoungcy/stratexec/internal/domain"
	"github.com/alanyoungcy/stratexec/internal/executor"
	"github.com/alanyoungcy/stratexec/internal/ledger"
)

// Notifier delivers operator alerts. Implemented by notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Tracker polls order statuses in bulk and applies lifecycle transitions.
type Tracker struct {
	gateway  broker.Gateway
	orders   domain.OrderStore
	trades   domain.CompletedTradeStore
	ledger   *ledger.Ledger
	cache    domain.PositionCache
	notifier Notifier
	window   time.Duration
	logger   *slog.Logger
}

// New creates a Tracker. window bounds the bulk status query: orders older
// than the window are assumed resolved by a previous poll.
func New(
	gateway broker.Gateway,
	orders domain.OrderStore,
	trades domain.CompletedTradeStore,
	led *ledger.Ledger,
	cache domain.PositionCache,
	notifier Notifier,
	window time.Duration,
	logger *slog.Logger,
) *Tracker {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Tracker{
		gateway:  gateway,
		orders:   orders,
		trades:   trades,
		ledger:   led,
		cache:    cache,
		notifier: notifier,
		window:   window,
		logger:   logger.With(slog.String("component", "tracker")),
	}
}

// Poll fetches the status of every active order with one bulk listing and
// applies transitions. An order absent from the listing is left unchanged:
// absence means the query window or a venue hiccup, never a terminal state.
func (t *Tracker) Poll(ctx context.Context) error {
	active, err := t.orders.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("tracker: list active: %w", err)
	}
	if len(active) == 0 {
		return nil
	}

	recs, err := t.gateway.ListOrders(ctx, broker.ListOrdersFilter{
		Since: time.Now().UTC().Add(-t.window),
	})
	if err != nil {
		return fmt.Errorf("tracker: bulk status: %w", err)
	}

	byClient := make(map[string]broker.StatusRecord, len(recs))
	for _, rec := range recs {
		byClient[rec.ClientOrderID] = rec
	}

	var transitioned int
	for _, ord := range active {
		rec, ok := byClient[ord.ClientOrderID]
		if !ok {
			continue
		}
		changed, err := t.apply(ctx, ord, rec)
		if err != nil {
			t.logger.Error("transition failed",
				slog.String("client_order_id", ord.ClientOrderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if changed {
			transitioned++
		}
	}

	if transitioned > 0 {
		t.logger.Info("lifecycle poll",
			slog.Int("active", len(active)),
			slog.Int("transitioned", transitioned),
		)
	}
	return nil
}

// apply merges one venue status record into the stored order, enforcing the
// one-way lifecycle. Reports whether the stored order changed.
func (t *Tracker) apply(ctx context.Context, ord domain.Order, rec broker.StatusRecord) (bool, error) {
	if !canTransition(ord.Status, rec.Status) && rec.FilledQty == ord.FilledQty {
		return false, nil
	}

	if ord.BrokerOrderID == "" {
		ord.BrokerOrderID = rec.OrderID
	}
	ord.FilledQty = rec.FilledQty
	if rec.FilledAvgPrice > 0 {
		ord.FilledPrice = rec.FilledAvgPrice
	}
	if rec.Reason != "" {
		ord.Reason = rec.Reason
	}

	if canTransition(ord.Status, rec.Status) {
		ord.Status = rec.Status
		if rec.Status == domain.OrderStatusFilled {
			ts := time.Now().UTC()
			if rec.FilledAt != nil {
				ts = *rec.FilledAt
			}
			ord.FilledAt = &ts
		}
		if rec.Status.Terminal() {
			now := time.Now().UTC()
			ord.ClosedAt = &now
		}
	}

	if err := t.orders.Update(ctx, ord); err != nil {
		return false, fmt.Errorf("update order: %w", err)
	}

	if ord.Status.Terminal() {
		t.complete(ctx, ord)
	}
	return true, nil
}

// complete moves a terminal order into the trades log and handles the side
// effects of each terminal state.
func (t *Tracker) complete(ctx context.Context, ord domain.Order) {
	closedAt := time.Now().UTC()
	if ord.ClosedAt != nil {
		closedAt = *ord.ClosedAt
	}
	trade := domain.CompletedTrade{
		ClientOrderID: ord.ClientOrderID,
		BrokerOrderID: ord.BrokerOrderID,
		StrategyID:    ord.StrategyID,
		Symbol:        ord.Symbol,
		Side:          ord.Side,
		Qty:           ord.Qty,
		FilledQty:     ord.FilledQty,
		FilledPrice:   ord.FilledPrice,
		Status:        ord.Status,
		Topology:      ord.Topology,
		Role:          ord.Role,
		Reason:        ord.Reason,
		CreatedAt:     ord.CreatedAt,
		ClosedAt:      closedAt,
	}
	if err := t.trades.Insert(ctx, trade); err != nil {
		t.logger.Error("completed trade insert failed",
			slog.String("client_order_id", ord.ClientOrderID),
			slog.String("error", err.Error()),
		)
	}

	switch ord.Status {
	case domain.OrderStatusFilled:
		// The position changed; force the next read to hit the broker.
		if err := t.cache.Invalidate(ctx); err != nil {
			t.logger.Warn("position cache invalidate failed", slog.String("error", err.Error()))
		}
	case domain.OrderStatusRejected, domain.OrderStatusFailed:
		msg := fmt.Sprintf("%s %s %s %d: %s (%s)",
			ord.StrategyID, ord.Side, ord.Symbol, ord.Qty, ord.Status, ord.Reason)
		if err := t.notifier.Notify(ctx, "order_rejected", "Order rejected", msg); err != nil {
			t.logger.Error("reject notify failed", slog.String("error", err.Error()))
		}
	}
}

// Reconcile rebuilds local state from the venue after a restart. Every order
// in the lookback window whose client ID parses as one of ours gets its
// fingerprint re-recorded in the idempotency ledger and, if the order store
// lost it, its order row recreated. A restarted process therefore never
// resubmits a signal whose order already exists at the venue.
func (t *Tracker) Reconcile(ctx context.Context) error {
	recs, err := t.gateway.ListOrders(ctx, broker.ListOrdersFilter{
		Since: time.Now().UTC().Add(-t.window),
	})
	if err != nil {
		return fmt.Errorf("tracker: reconcile listing: %w", err)
	}

	var recovered, backfilled int
	for _, rec := range recs {
		parsed, err := executor.ParseClientOrderID(rec.ClientOrderID)
		if err != nil {
			continue // not ours
		}

		has, err := t.ledger.HasProcessed(ctx, parsed.Fingerprint)
		if err != nil {
			return fmt.Errorf("tracker: reconcile ledger check: %w", err)
		}
		if !has {
			record := domain.ProcessedSignalRecord{
				Fingerprint: parsed.Fingerprint,
				StrategyID:  parsed.StrategyID,
				Symbol:      rec.Symbol,
				ProcessedAt: rec.CreatedAt,
			}
			if err := t.ledger.Record(ctx, record); err != nil {
				return fmt.Errorf("tracker: reconcile ledger record: %w", err)
			}
			backfilled++
		}

		if _, err := t.orders.GetByClientID(ctx, rec.ClientOrderID); err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("tracker: reconcile order lookup: %w", err)
			}
			ord := domain.Order{
				ClientOrderID: rec.ClientOrderID,
				BrokerOrderID: rec.OrderID,
				StrategyID:    parsed.StrategyID,
				Symbol:        rec.Symbol,
				Qty:           rec.FilledQty,
				Topology:      domain.TopologyPlain,
				Role:          domain.RoleEntry,
				Status:        rec.Status,
				Fingerprint:   parsed.Fingerprint,
				FilledQty:     rec.FilledQty,
				FilledPrice:   rec.FilledAvgPrice,
				CreatedAt:     rec.CreatedAt,
				FilledAt:      rec.FilledAt,
			}
			if err := t.orders.Create(ctx, ord); err != nil {
				return fmt.Errorf("tracker: reconcile order create: %w", err)
			}
			recovered++
		}
	}

	t.logger.Info("reconciled against venue",
		slog.Int("orders_seen", len(recs)),
		slog.Int("ledger_backfilled", backfilled),
		slog.Int("orders_recovered", recovered),
	)
	return nil
}

// canTransition enforces the one-way lifecycle: pending may move anywhere,
// submitted may only finish, terminal states are immutable.
func canTransition(from, to domain.OrderStatus) bool {
	if from == to {
		return false
	}
	switch from {
	case domain.OrderStatusPending:
		return true
	case domain.OrderStatusSubmitted:
		return to.Terminal()
	default:
		return false
	}
}
