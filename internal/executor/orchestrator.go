// Package executor turns sized signals into broker orders. It selects the
// order topology, serializes submission per symbol, enforces the boxed
// position rule against a fresh snapshot, and escalates partial failures so a
// live position is never silently left without its protective exit.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/stratexec/internal/broker"
	"github.com/alanyoungcy/stratexec/internal/domain"
)

// Notifier delivers operator alerts. Implemented by notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the orchestrator's operational parameters.
type Config struct {
	LockTTL         time.Duration
	OrdersPerSecond int
	TimeInForce     string
}

// SubmitRequest is one sized, deduplicated signal ready for submission.
type SubmitRequest struct {
	Signal      domain.Signal
	Qty         int64 // sized entry quantity (spread: units of the leg ratio)
	Fingerprint string
}

// Orchestrator coordinates multi-order submissions against the broker
// gateway. Safe for concurrent use; per-symbol serialization happens through
// the distributed lock manager so concurrent strategies cannot interleave
// orders for one symbol.
type Orchestrator struct {
	gateway  broker.Gateway
	orders   domain.OrderStore
	locks    domain.LockManager
	limiter  domain.RateLimiter
	cache    domain.PositionCache
	audit    domain.AuditStore
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
}

// New creates an Orchestrator with all required dependencies.
func New(
	gateway broker.Gateway,
	orders domain.OrderStore,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	cache domain.PositionCache,
	audit domain.AuditStore,
	notifier Notifier,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Second
	}
	if cfg.OrdersPerSecond <= 0 {
		cfg.OrdersPerSecond = 10
	}
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = "day"
	}
	return &Orchestrator{
		gateway:  gateway,
		orders:   orders,
		locks:    locks,
		limiter:  limiter,
		cache:    cache,
		audit:    audit,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "orchestrator")),
	}
}

// Submit executes one submission end to end: lock the symbol, re-check the
// boxed-position rule against a fresh broker snapshot, pick the topology, and
// place the order sequence. The returned result lists every order placed and
// any warnings raised; critical warnings have already been escalated.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (domain.OrderSubmissionResult, error) {
	sig := req.Signal
	log := o.logger.With(
		slog.String("strategy", sig.StrategyID),
		slog.String("symbol", sig.Symbol),
		slog.String("fingerprint", req.Fingerprint),
	)

	release, err := o.locks.Acquire(ctx, "submit:"+sig.Symbol, o.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.OrderSubmissionResult{}, fmt.Errorf("executor: symbol %s busy: %w", sig.Symbol, err)
		}
		return domain.OrderSubmissionResult{}, fmt.Errorf("executor: acquire lock: %w", err)
	}
	defer release()

	// Positions are always re-fetched under the lock. A cached snapshot could
	// predate another strategy's fill and let a boxed position through.
	positions, err := o.gateway.GetPositions(ctx)
	if err != nil {
		return domain.OrderSubmissionResult{}, fmt.Errorf("executor: fresh positions: %w", err)
	}
	if cacheErr := o.cache.Set(ctx, positions); cacheErr != nil {
		log.Warn("position cache update failed", slog.String("error", cacheErr.Error()))
	}
	pos := positions[sig.Symbol]

	if len(sig.Legs) == 0 && WouldBox(sig, pos) {
		return domain.OrderSubmissionResult{}, fmt.Errorf(
			"executor: %s %s against existing %+d position: %w",
			sig.Direction, sig.Symbol, pos.Qty, domain.ErrBoxedPosition)
	}

	topology := SelectTopology(sig, pos)
	log.Info("submitting", slog.String("topology", string(topology)), slog.Int64("qty", req.Qty))

	var result domain.OrderSubmissionResult
	switch topology {
	case domain.TopologySpread:
		result, err = o.submitSpread(ctx, req)
	case domain.TopologyScaleIn:
		result, err = o.submitScaleIn(ctx, req, pos)
	case domain.TopologyBracket:
		result, err = o.submitBracket(ctx, req)
	default:
		result, err = o.submitPlain(ctx, req)
	}
	if err != nil {
		// A failed sequence can still have raised criticals, e.g. exits
		// cancelled before the replacement entry was refused.
		o.escalate(ctx, log, req, result)
		return result, err
	}

	o.persist(ctx, log, result.Orders)
	o.escalate(ctx, log, req, result)
	return result, nil
}

// CancelOrder cancels a live order, treating already-terminal orders as
// success. Cancelling an order that filled in the meantime achieved the
// caller's goal: that order is no longer live.
func (o *Orchestrator) CancelOrder(ctx context.Context, ord domain.Order) error {
	if err := o.allow(ctx); err != nil {
		return err
	}
	err := o.gateway.CancelOrder(ctx, ord.BrokerOrderID)
	if broker.IsBenignCancel(err) {
		return nil
	}
	return err
}

// submitPlain places a single order with no attached exits.
func (o *Orchestrator) submitPlain(ctx context.Context, req SubmitRequest) (domain.OrderSubmissionResult, error) {
	ord, err := o.place(ctx, req, domain.TopologyPlain, domain.RoleEntry, nil, nil)
	if err != nil {
		return domain.OrderSubmissionResult{}, err
	}
	return domain.OrderSubmissionResult{
		Topology: domain.TopologyPlain,
		Orders:   []domain.Order{ord},
	}, nil
}

// submitBracket places an entry with venue-managed OCO exits. The exits live
// at the venue as children of the entry; only the entry is tracked locally,
// and fills on either exit surface through the bulk status listing.
func (o *Orchestrator) submitBracket(ctx context.Context, req SubmitRequest) (domain.OrderSubmissionResult, error) {
	bracket := &broker.BracketSpec{
		TakeProfitPrice: req.Signal.TargetPrice,
		StopLossPrice:   req.Signal.StopPrice,
	}
	ord, err := o.place(ctx, req, domain.TopologyBracket, domain.RoleEntry, bracket, nil)
	if err != nil {
		return domain.OrderSubmissionResult{}, err
	}
	return domain.OrderSubmissionResult{
		Topology: domain.TopologyBracket,
		Orders:   []domain.Order{ord},
	}, nil
}

// submitSpread places all legs as one atomic venue order.
func (o *Orchestrator) submitSpread(ctx context.Context, req SubmitRequest) (domain.OrderSubmissionResult, error) {
	legs := make([]broker.LegSpec, 0, len(req.Signal.Legs))
	for _, l := range req.Signal.Legs {
		legs = append(legs, broker.LegSpec{
			Symbol: l.Symbol,
			Side:   l.Side,
			Ratio:  l.Ratio,
			Price:  l.Price,
		})
	}
	ord, err := o.place(ctx, req, domain.TopologySpread, domain.RoleSpreadUnit, nil, legs)
	if err != nil {
		return domain.OrderSubmissionResult{}, err
	}
	return domain.OrderSubmissionResult{
		Topology: domain.TopologySpread,
		Orders:   []domain.Order{ord},
	}, nil
}

// submitScaleIn runs the three-step averaging sequence: cancel the exit
// orders live at the venue, place the additional entry, then place one exit
// resized for the combined position. A failure after a step has taken effect
// leaves the position under-protected, which is raised as a critical warning
// rather than rolled back: the cancels and the entry are already live.
func (o *Orchestrator) submitScaleIn(ctx context.Context, req SubmitRequest, pos domain.Position) (domain.OrderSubmissionResult, error) {
	result := domain.OrderSubmissionResult{Topology: domain.TopologyScaleIn}
	sig := req.Signal
	exitSide := sig.Side().Opposite()

	// Step 1: clear existing exits. The venue listing is authoritative here:
	// bracket children carry broker-generated client IDs and never had a
	// local record, so a local-store scan would miss them and leave the old
	// pair live next to the resized exit. An exit that filled between the
	// listing and the cancel is success-equivalent.
	open, err := o.gateway.ListOrders(ctx, broker.ListOrdersFilter{
		OpenOnly: true,
		Symbols:  []string{sig.Symbol},
	})
	if err != nil {
		return result, fmt.Errorf("executor: list open exits: %w", err)
	}

	exitPrice := sig.TargetPrice
	cancelled := 0
	for _, rec := range open {
		if rec.Side != exitSide || rec.Status.Terminal() {
			continue
		}
		if sig.TargetPrice <= 0 && rec.LimitPrice > 0 && betterExitPrice(exitSide, exitPrice, rec.LimitPrice) {
			exitPrice = rec.LimitPrice
		}
		ex := domain.Order{ClientOrderID: rec.ClientOrderID, BrokerOrderID: rec.OrderID}
		if cancelErr := o.CancelOrder(ctx, ex); cancelErr != nil {
			result.Warnings = append(result.Warnings, domain.Warning{
				Severity: domain.SeverityWarn,
				Code:     "exit_cancel_failed",
				Message:  fmt.Sprintf("cancel %s: %v", rec.ClientOrderID, cancelErr),
			})
			continue
		}
		cancelled++
	}

	// Step 2: the additional entry. Failing here after cancels went through
	// means the position has lost its exits and gained nothing, so escalate
	// before bailing out.
	entry, err := o.place(ctx, req, domain.TopologyScaleIn, domain.RoleEntry, nil, nil)
	if err != nil {
		if cancelled > 0 {
			result.Warnings = append(result.Warnings, domain.Warning{
				Severity: domain.SeverityCritical,
				Code:     "position_unprotected",
				Message: fmt.Sprintf("%d exit orders cancelled but scale-in entry failed: %v",
					cancelled, err),
			})
		}
		return result, err
	}
	result.Orders = append(result.Orders, entry)

	// Step 3: one exit covering the combined position.
	if exitPrice > 0 {
		exitReq := req
		exitReq.Qty = pos.AbsQty() + req.Qty
		exit, exitErr := o.placeExit(ctx, exitReq, exitPrice)
		if exitErr != nil {
			result.Warnings = append(result.Warnings, domain.Warning{
				Severity: domain.SeverityCritical,
				Code:     "exit_resize_failed",
				Message: fmt.Sprintf("entry %s live but combined exit failed: %v",
					entry.ClientOrderID, exitErr),
			})
		} else {
			result.Orders = append(result.Orders, exit)
		}
	}

	return result, nil
}

// betterExitPrice reports whether cand is the preferable fallback exit price
// when the signal carries no target: the take-profit half of an old bracket
// pair, which for a sell exit is the higher limit and for a buy exit the
// lower.
func betterExitPrice(side domain.OrderSide, cur, cand float64) bool {
	if cur <= 0 {
		return true
	}
	if side == domain.OrderSideSell {
		return cand > cur
	}
	return cand < cur
}

// place submits one order through the gateway and returns its local record.
func (o *Orchestrator) place(
	ctx context.Context,
	req SubmitRequest,
	topology domain.OrderTopology,
	role domain.OrderRole,
	bracket *broker.BracketSpec,
	legs []broker.LegSpec,
) (domain.Order, error) {
	if err := o.allow(ctx); err != nil {
		return domain.Order{}, err
	}

	sig := req.Signal
	spec := broker.OrderSpec{
		ClientOrderID: NewClientOrderID(sig.StrategyID, req.Fingerprint),
		Symbol:        sig.Symbol,
		Side:          sig.Side(),
		Qty:           req.Qty,
		Type:          broker.OrderTypeMarket,
		TimeInForce:   o.cfg.TimeInForce,
		Bracket:       bracket,
		Legs:          legs,
	}
	if sig.Price > 0 && len(legs) == 0 {
		spec.Type = broker.OrderTypeLimit
		spec.LimitPrice = sig.Price
	}

	ack, err := o.gateway.SubmitOrder(ctx, spec)
	if err != nil {
		return domain.Order{}, fmt.Errorf("executor: submit %s: %w", spec.ClientOrderID, err)
	}

	now := time.Now().UTC()
	return domain.Order{
		ClientOrderID: spec.ClientOrderID,
		BrokerOrderID: ack.OrderID,
		StrategyID:    sig.StrategyID,
		Symbol:        sig.Symbol,
		Side:          spec.Side,
		Qty:           req.Qty,
		LimitPrice:    spec.LimitPrice,
		StopPrice:     spec.StopPrice,
		Topology:      topology,
		Role:          role,
		Status:        ack.Status,
		Fingerprint:   req.Fingerprint,
		CreatedAt:     now,
		SubmittedAt:   &now,
	}, nil
}

// placeExit submits the resized exit limit order on the opposite side.
func (o *Orchestrator) placeExit(ctx context.Context, req SubmitRequest, price float64) (domain.Order, error) {
	if err := o.allow(ctx); err != nil {
		return domain.Order{}, err
	}

	sig := req.Signal
	spec := broker.OrderSpec{
		ClientOrderID: NewClientOrderID(sig.StrategyID, req.Fingerprint),
		Symbol:        sig.Symbol,
		Side:          sig.Side().Opposite(),
		Qty:           req.Qty,
		Type:          broker.OrderTypeLimit,
		LimitPrice:    price,
		TimeInForce:   "gtc", // exits outlive the session
	}

	ack, err := o.gateway.SubmitOrder(ctx, spec)
	if err != nil {
		return domain.Order{}, fmt.Errorf("executor: submit exit %s: %w", spec.ClientOrderID, err)
	}

	now := time.Now().UTC()
	return domain.Order{
		ClientOrderID: spec.ClientOrderID,
		BrokerOrderID: ack.OrderID,
		StrategyID:    sig.StrategyID,
		Symbol:        sig.Symbol,
		Side:          spec.Side,
		Qty:           req.Qty,
		LimitPrice:    price,
		Topology:      domain.TopologyScaleIn,
		Role:          domain.RoleTakeProfit,
		Status:        ack.Status,
		Fingerprint:   req.Fingerprint,
		CreatedAt:     now,
		SubmittedAt:   &now,
	}, nil
}

// allow consumes one slot of the broker order budget.
func (o *Orchestrator) allow(ctx context.Context) error {
	ok, err := o.limiter.Allow(ctx, "broker:orders", o.cfg.OrdersPerSecond, time.Second)
	if err != nil {
		// A broken limiter must not block trading; the venue enforces its own
		// limits as the backstop.
		o.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return fmt.Errorf("executor: broker order budget exhausted: %w", domain.ErrRateLimited)
	}
	return nil
}

// persist writes the placed orders. A store failure is logged, not returned:
// the order is already live at the venue and the tracker's bulk listing will
// pick it up by client ID.
func (o *Orchestrator) persist(ctx context.Context, log *slog.Logger, orders []domain.Order) {
	for _, ord := range orders {
		if err := o.orders.Create(ctx, ord); err != nil {
			log.Error("order persist failed",
				slog.String("client_order_id", ord.ClientOrderID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// escalate pushes critical warnings to the operator channels and the audit
// log. Critical means a live position may be missing its protective exit.
func (o *Orchestrator) escalate(ctx context.Context, log *slog.Logger, req SubmitRequest, result domain.OrderSubmissionResult) {
	for _, w := range result.Warnings {
		log.Warn("submission warning",
			slog.String("severity", string(w.Severity)),
			slog.String("code", w.Code),
			slog.String("message", w.Message),
		)
	}

	critical := result.Critical()
	if len(critical) == 0 {
		return
	}

	for _, w := range critical {
		msg := fmt.Sprintf("%s %s: %s", req.Signal.StrategyID, req.Signal.Symbol, w.Message)
		if err := o.notifier.Notify(ctx, "partial_failure", "Partial submission failure", msg); err != nil {
			log.Error("escalation notify failed", slog.String("error", err.Error()))
		}
		if err := o.audit.Log(ctx, "partial_failure", map[string]any{
			"strategy":    req.Signal.StrategyID,
			"symbol":      req.Signal.Symbol,
			"fingerprint": req.Fingerprint,
			"code":        w.Code,
			"message":     w.Message,
		}); err != nil {
			log.Error("escalation audit failed", slog.String("error", err.Error()))
		}
	}
}
