// Package reconcile forces the local trading state to agree with the
// broker's live position and trigger-order books. Broker truth wins.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"positionguard/src/connectors"
	"positionguard/src/journal"
	"positionguard/src/metrics"
	"positionguard/src/model"
)

type Broker interface {
	ListPositions(ctx context.Context) ([]model.BrokerPosition, error)
	ListTriggerOrders(ctx context.Context) ([]model.BrokerTriggerOrder, error)
	CancelTriggerOrder(ctx context.Context, triggerID string) error
}

type Store interface {
	GetAllPositions() map[string]model.Position
	ReplacePosition(ctx context.Context, p model.Position) error
	RemovePosition(ctx context.Context, ticker string, exit *model.ExitDetails) (bool, error)
	UpdatePositionQuantity(ctx context.Context, ticker string, qty int64) (bool, error)
	AddTrigger(ctx context.Context, ticker string, binding model.TriggerBinding) (bool, error)
	RemoveTrigger(ctx context.Context, ticker string) (bool, error)
	DailyDirection(ticker string) (model.Direction, bool)
	AddDailyTicker(ctx context.Context, ticker string, dir model.Direction) (bool, error)
	RemoveDailyTicker(ctx context.Context, ticker string, dir model.Direction) (bool, error)
}

// Report lists what one reconciliation pass changed.
type Report struct {
	Deleted             []string `json:"deleted,omitempty"`
	DirectionFixed      []string `json:"direction_fixed,omitempty"`
	QuantitySynced      []string `json:"quantity_synced,omitempty"`
	Adopted             []string `json:"adopted,omitempty"`
	TriggersAdopted     []string `json:"triggers_adopted,omitempty"`
	TriggersRebound     []string `json:"triggers_rebound,omitempty"`
	DuplicatesCancelled []string `json:"duplicates_cancelled,omitempty"`
	StaleCancelled      []string `json:"stale_cancelled,omitempty"`
	OrphansCancelled    []string `json:"orphans_cancelled,omitempty"`
	BindingsDropped     []string `json:"bindings_dropped,omitempty"`
	Failures            []string `json:"failures,omitempty"`
}

func (r Report) Changes() int {
	return len(r.Deleted) + len(r.DirectionFixed) + len(r.QuantitySynced) + len(r.Adopted) +
		len(r.TriggersAdopted) + len(r.TriggersRebound) + len(r.DuplicatesCancelled) +
		len(r.StaleCancelled) + len(r.OrphansCancelled) + len(r.BindingsDropped)
}

type Reconciler struct {
	log     *logrus.Entry
	store   Store
	broker  Broker
	journal *journal.Recorder
	classes map[model.SettlementClass]bool
	now     func() time.Time
}

func NewReconciler(log *logrus.Entry, store Store, broker Broker, rec *journal.Recorder, cfg Config) *Reconciler {
	classes := map[model.SettlementClass]bool{}
	for _, c := range cfg.SettlementClasses {
		classes[model.ParseSettlementClass(c)] = true
	}
	if len(classes) == 0 {
		classes[model.SettlementIntraday] = true
		classes[model.SettlementDelivery] = true
	}
	return &Reconciler{
		log:     log.WithField("component", "reconcile"),
		store:   store,
		broker:  broker,
		journal: rec,
		classes: classes,
		now:     time.Now,
	}
}

func (r *Reconciler) covers(class model.SettlementClass) bool {
	if class == model.SettlementUnknown || class == "" {
		class = model.SettlementIntraday
	}
	return r.classes[class]
}

// Reconcile runs the position pass and then the trigger pass. Triggers of
// positions whose direction or size the first pass corrected are cancelled
// when they no longer match, so the engine re-places them. Individual
// failures are collected in the report and joined into the returned error;
// a failure to read either broker book aborts the pass.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	var rep Report
	var errs []error
	resized := map[string]bool{}

	if err := r.reconcilePositions(ctx, &rep, &errs, resized); err != nil {
		return rep, fmt.Errorf("reconcile positions: %w", err)
	}
	if err := r.reconcileTriggers(ctx, &rep, &errs, resized); err != nil {
		return rep, fmt.Errorf("reconcile triggers: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"action":   "reconcile",
		"changes":  rep.Changes(),
		"failures": len(rep.Failures),
	}).Info("Reconciliation finished")
	return rep, errors.Join(errs...)
}

func (r *Reconciler) fail(rep *Report, errs *[]error, ticker string, err error) {
	rep.Failures = append(rep.Failures, fmt.Sprintf("%s: %v", ticker, err))
	*errs = append(*errs, fmt.Errorf("%s: %w", ticker, err))
	r.log.WithError(err).WithField("ticker", ticker).Error("Reconciliation step failed")
}

func record(action string) {
	metrics.ReconcileActions.WithLabelValues(action).Inc()
}

func (r *Reconciler) reconcilePositions(ctx context.Context, rep *Report, errs *[]error, resized map[string]bool) error {
	brokerPositions, err := r.broker.ListPositions(ctx)
	if err != nil {
		return err
	}

	live := map[string]model.BrokerPosition{}
	for _, bp := range brokerPositions {
		if r.covers(bp.Settlement) {
			live[model.NormalizeTicker(bp.Ticker)] = bp
		}
	}

	local := r.store.GetAllPositions()
	for _, ticker := range sortedKeys(local) {
		lp := local[ticker]
		if !lp.IsOpen() || !r.covers(lp.Settlement) {
			continue
		}
		log := r.log.WithField("ticker", ticker)

		bp, ok := live[ticker]
		switch {
		case !ok:
			if _, err := r.store.RemovePosition(ctx, ticker, nil); err != nil {
				r.fail(rep, errs, ticker, err)
				continue
			}
			log.WithField("action", "delete_missing").Warn("Position not held at broker, deleted")
			rep.Deleted = append(rep.Deleted, ticker)
			record("delete_missing")

		case bp.Direction != lp.Direction:
			if err := r.store.ReplacePosition(ctx, r.fromBroker(bp, &lp)); err != nil {
				r.fail(rep, errs, ticker, err)
				continue
			}
			r.syncDailyLog(ctx, rep, errs, ticker, bp.Direction)
			resized[ticker] = true
			log.WithFields(logrus.Fields{
				"action": "fix_direction",
				"local":  lp.Direction,
				"broker": bp.Direction,
			}).Warn("Direction conflict, broker wins")
			rep.DirectionFixed = append(rep.DirectionFixed, ticker)
			record("fix_direction")

		case bp.Quantity != lp.Quantity:
			if _, err := r.store.UpdatePositionQuantity(ctx, ticker, bp.Quantity); err != nil {
				r.fail(rep, errs, ticker, err)
				continue
			}
			resized[ticker] = true
			log.WithFields(logrus.Fields{
				"action": "sync_quantity",
				"local":  lp.Quantity,
				"broker": bp.Quantity,
			}).Warn("Quantity drift, broker wins")
			rep.QuantitySynced = append(rep.QuantitySynced, ticker)
			record("sync_quantity")
		}
	}

	for _, ticker := range sortedKeys(live) {
		if lp, ok := local[ticker]; ok && lp.IsOpen() {
			continue
		}
		bp := live[ticker]
		if err := r.store.ReplacePosition(ctx, r.fromBroker(bp, nil)); err != nil {
			r.fail(rep, errs, ticker, err)
			continue
		}
		r.syncDailyLog(ctx, rep, errs, ticker, bp.Direction)
		r.log.WithFields(logrus.Fields{
			"ticker":    ticker,
			"action":    "adopt",
			"direction": bp.Direction,
			"qty":       bp.Quantity,
		}).Warn("Broker position unknown locally, adopted")
		rep.Adopted = append(rep.Adopted, ticker)
		record("adopt")
	}
	return nil
}

// syncDailyLog makes the daily log name only the broker's direction, so
// the trigger pass cross-checks against the corrected side.
func (r *Reconciler) syncDailyLog(ctx context.Context, rep *Report, errs *[]error, ticker string, dir model.Direction) {
	if _, err := r.store.RemoveDailyTicker(ctx, ticker, dir.Opposite()); err != nil {
		r.fail(rep, errs, ticker, err)
		return
	}
	if _, err := r.store.AddDailyTicker(ctx, ticker, dir); err != nil {
		r.fail(rep, errs, ticker, err)
	}
}

// fromBroker builds the local record for a broker position, keeping what
// the broker does not report from prev.
func (r *Reconciler) fromBroker(bp model.BrokerPosition, prev *model.Position) model.Position {
	p := model.Position{
		Ticker:     model.NormalizeTicker(bp.Ticker),
		Direction:  bp.Direction,
		Quantity:   bp.Quantity,
		EntryPrice: bp.AvgPrice,
		Settlement: bp.Settlement,
		BestPrice:  bp.AvgPrice,
		EnteredAt:  r.now().UTC(),
		Status:     model.PositionStatusOpen,
	}
	if prev != nil {
		if !p.EntryPrice.IsPositive() {
			p.EntryPrice = prev.EntryPrice
			p.BestPrice = prev.EntryPrice
		}
		if p.Settlement == model.SettlementUnknown || p.Settlement == "" {
			p.Settlement = prev.Settlement
		}
	}
	return p
}

func (r *Reconciler) reconcileTriggers(ctx context.Context, rep *Report, errs *[]error, resized map[string]bool) error {
	orders, err := r.broker.ListTriggerOrders(ctx)
	if err != nil {
		return err
	}

	byTicker := map[string][]model.BrokerTriggerOrder{}
	liveIDs := map[string]bool{}
	for _, o := range orders {
		t := model.NormalizeTicker(o.Ticker)
		o.Ticker = t
		byTicker[t] = append(byTicker[t], o)
		liveIDs[o.TriggerID] = true
	}

	positions := r.store.GetAllPositions()
	for _, ticker := range sortedKeys(byTicker) {
		list := byTicker[ticker]
		sort.Slice(list, func(i, j int) bool { return list[i].TriggerID < list[j].TriggerID })

		pos, ok := positions[ticker]
		if !ok || !pos.IsOpen() {
			for _, o := range list {
				if err := r.cancel(ctx, o, "orphan"); err != nil {
					r.fail(rep, errs, ticker, err)
					continue
				}
				delete(liveIDs, o.TriggerID)
				r.log.WithFields(logrus.Fields{"ticker": ticker, "action": "cancel_orphan", "trigger_id": o.TriggerID}).
					Warn("Trigger without open position cancelled")
				rep.OrphansCancelled = append(rep.OrphansCancelled, o.TriggerID)
				record("cancel_orphan")
			}
			if ok && pos.Trigger != nil {
				if _, err := r.store.RemoveTrigger(ctx, ticker); err != nil {
					r.fail(rep, errs, ticker, err)
				}
			}
			continue
		}

		if resized[ticker] {
			list = r.cancelMismatched(ctx, rep, errs, pos, list, liveIDs)
			if len(list) == 0 {
				continue
			}
		}

		keep := pickTrigger(pos, list)
		r.bindTrigger(ctx, rep, errs, pos, keep)

		for _, o := range list {
			if o.TriggerID == keep.TriggerID {
				continue
			}
			if err := r.cancel(ctx, o, "duplicate"); err != nil {
				r.fail(rep, errs, ticker, err)
				continue
			}
			delete(liveIDs, o.TriggerID)
			r.log.WithFields(logrus.Fields{"ticker": ticker, "action": "cancel_duplicate", "trigger_id": o.TriggerID}).
				Warn("Duplicate trigger cancelled")
			rep.DuplicatesCancelled = append(rep.DuplicatesCancelled, o.TriggerID)
			record("cancel_duplicate")
		}
	}

	// bindings whose broker order has filled, expired or been cancelled
	positions = r.store.GetAllPositions()
	for _, ticker := range sortedKeys(positions) {
		p := positions[ticker]
		if p.Trigger == nil || liveIDs[p.Trigger.TriggerID] {
			continue
		}
		if _, err := r.store.RemoveTrigger(ctx, ticker); err != nil {
			r.fail(rep, errs, ticker, err)
			continue
		}
		r.log.WithFields(logrus.Fields{"ticker": ticker, "action": "drop_binding", "trigger_id": p.Trigger.TriggerID}).
			Warn("Bound trigger no longer live, binding dropped")
		rep.BindingsDropped = append(rep.BindingsDropped, ticker)
		record("drop_binding")
	}
	return nil
}

// cancelMismatched cancels the orders of a corrected position that protect
// the wrong side or cover a different quantity, and returns the rest.
// Mismatched orders are never bound, even when the cancel fails.
func (r *Reconciler) cancelMismatched(ctx context.Context, rep *Report, errs *[]error, pos model.Position, list []model.BrokerTriggerOrder, liveIDs map[string]bool) []model.BrokerTriggerOrder {
	var kept []model.BrokerTriggerOrder
	for _, o := range list {
		sized := o.Quantity <= 0 || o.Quantity == pos.Quantity
		if o.Side.ProtectedDirection() == pos.Direction && sized {
			kept = append(kept, o)
			continue
		}
		if err := r.cancel(ctx, o, "stale"); err != nil {
			r.fail(rep, errs, pos.Ticker, err)
			continue
		}
		delete(liveIDs, o.TriggerID)
		r.log.WithFields(logrus.Fields{
			"ticker":     pos.Ticker,
			"action":     "cancel_stale",
			"trigger_id": o.TriggerID,
			"side":       o.Side,
			"qty":        o.Quantity,
		}).Warn("Trigger no longer matches corrected position, cancelled")
		rep.StaleCancelled = append(rep.StaleCancelled, o.TriggerID)
		record("cancel_stale")
	}
	return kept
}

// pickTrigger keeps the bound order when it is live, otherwise the first
// order on the side that protects the position, otherwise the first order.
func pickTrigger(pos model.Position, list []model.BrokerTriggerOrder) model.BrokerTriggerOrder {
	if pos.Trigger != nil {
		for _, o := range list {
			if o.TriggerID == pos.Trigger.TriggerID {
				return o
			}
		}
	}
	for _, o := range list {
		if o.Side.ProtectedDirection() == pos.Direction {
			return o
		}
	}
	return list[0]
}

func (r *Reconciler) bindTrigger(ctx context.Context, rep *Report, errs *[]error, pos model.Position, o model.BrokerTriggerOrder) {
	log := r.log.WithFields(logrus.Fields{"ticker": pos.Ticker, "trigger_id": o.TriggerID})

	protected := o.Side.ProtectedDirection()
	if daily, ok := r.store.DailyDirection(pos.Ticker); ok && daily != protected {
		log.WithFields(logrus.Fields{
			"trigger_side": o.Side,
			"daily":        daily,
		}).Warn("Trigger side disagrees with daily log, using daily log")
		protected = daily
	}

	binding := model.TriggerBinding{
		TriggerID:          o.TriggerID,
		TriggerPrice:       o.TriggerPrice,
		ProtectedDirection: protected,
	}

	action := "adopt_trigger"
	if b := pos.Trigger; b != nil && b.TriggerID == o.TriggerID {
		if b.ProtectedDirection == protected && b.TriggerPrice.Equal(o.TriggerPrice) {
			return
		}
		binding.CreatedAt = b.CreatedAt
		action = "rebind_trigger"
	}

	if _, err := r.store.AddTrigger(ctx, pos.Ticker, binding); err != nil {
		r.fail(rep, errs, pos.Ticker, err)
		return
	}
	log.WithFields(logrus.Fields{"action": action, "price": o.TriggerPrice.String()}).Warn("Trigger binding corrected")
	if action == "adopt_trigger" {
		rep.TriggersAdopted = append(rep.TriggersAdopted, pos.Ticker)
	} else {
		rep.TriggersRebound = append(rep.TriggersRebound, pos.Ticker)
	}
	record(action)
}

func (r *Reconciler) cancel(ctx context.Context, o model.BrokerTriggerOrder, reason string) error {
	px := o.TriggerPrice
	j := r.journal.Begin(ctx, model.Order{
		BrokerOrderID: o.TriggerID,
		Ticker:        o.Ticker,
		Side:          string(o.Side),
		Kind:          model.OrderKindCancel,
		Quantity:      o.Quantity,
		Price:         &px,
		Reason:        reason,
	})

	err := r.broker.CancelTriggerOrder(ctx, o.TriggerID)
	if err != nil && !errors.Is(err, connectors.ErrOrderNotFound) {
		j.Finish(ctx, model.OrderStatusError, o.TriggerID, err)
		return err
	}
	j.Finish(ctx, model.OrderStatusCanceled, o.TriggerID, nil)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
