// Package monitor runs the detection cycle: discover candidate actors from
// marketplace listings, fetch their profiles and inventories, diff against
// stored snapshots, fold sales into the target ledger, apply the rule set,
// and deliver alerts for eligible targets.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torn-tools/bazaarwatch/internal/alert"
	"github.com/torn-tools/bazaarwatch/internal/config"
	"github.com/torn-tools/bazaarwatch/internal/detector"
	"github.com/torn-tools/bazaarwatch/internal/ledger"
	"github.com/torn-tools/bazaarwatch/internal/model"
	"github.com/torn-tools/bazaarwatch/internal/rules"
	"github.com/torn-tools/bazaarwatch/internal/store"
	"github.com/torn-tools/bazaarwatch/pkg/marketview"
	"github.com/torn-tools/bazaarwatch/pkg/tornapi"
)

// Orchestrator drives the cycle loop. All snapshot and ledger mutation
// happens on the loop goroutine; only upstream fetches fan out.
type Orchestrator struct {
	cfg      config.MonitorConfig
	alertCfg config.AlertsConfig

	store    store.Store
	ledger   *ledger.Ledger
	detector *detector.Detector
	engine   *rules.Engine
	alerter  *alert.Alerter
	torn     tornapi.Client
	market   marketview.Client

	topListings int
	vip         map[int64]struct{}
	stats       *Stats
	log         *zap.Logger

	nowFunc func() time.Time
}

// New wires an orchestrator from its dependencies.
func New(
	cfg config.MonitorConfig,
	alertCfg config.AlertsConfig,
	st store.Store,
	torn tornapi.Client,
	market marketview.Client,
	topListings int,
) *Orchestrator {
	vip := make(map[int64]struct{}, len(cfg.VIPActors))
	for _, id := range cfg.VIPActors {
		vip[id] = struct{}{}
	}
	return &Orchestrator{
		cfg:         cfg,
		alertCfg:    alertCfg,
		store:       st,
		ledger:      ledger.New(st),
		detector:    detector.New(st),
		engine:      rules.NewEngine(),
		alerter:     alert.New(alertCfg),
		torn:        torn,
		market:      market,
		topListings: topListings,
		vip:         vip,
		stats:       NewStats(),
		log:         zap.L().With(zap.String("component", "monitor")),
		nowFunc:     time.Now,
	}
}

// Stats exposes the cycle counters for the status API.
func (o *Orchestrator) Stats() *Stats { return o.stats }

// Run executes cycles until the context is canceled. A failed or panicking
// cycle is logged and the loop continues on the next tick.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("monitor started",
		zap.Duration("interval", o.cfg.CheckInterval()),
		zap.Int("concurrency", o.cfg.FetchConcurrency),
		zap.Int("vip_actors", len(o.vip)),
	)

	ticker := time.NewTicker(o.cfg.CheckInterval())
	defer ticker.Stop()

	for {
		o.safeCycle(ctx)

		select {
		case <-ctx.Done():
			o.log.Info("monitor stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("cycle panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	start := o.nowFunc().UTC()
	o.stats.cycleStarted(start)

	sales, saleValue, alerts, err := o.runCycle(ctx)
	dur := o.nowFunc().UTC().Sub(start)
	o.stats.cycleFinished(dur, sales, saleValue, alerts, err)

	if err != nil && !eris.Is(err, context.Canceled) {
		o.log.Error("cycle failed", zap.Error(err))
		return
	}
	o.log.Info("cycle complete",
		zap.Duration("duration", dur),
		zap.Int("sales", sales),
		zap.Int64("sale_value", saleValue),
		zap.Int("alerts", alerts),
	)
}

// candidate is an actor slated for a fetch this cycle.
type candidate struct {
	actorID   int64
	actorName string
}

func (o *Orchestrator) runCycle(ctx context.Context) (sales int, saleValue int64, alerts int, err error) {
	candidates, err := o.discover(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	results := o.fetchAll(ctx, candidates)

	sales, saleValue, profiles, err := o.detectAndAccumulate(ctx, results)
	if err != nil {
		return sales, saleValue, 0, err
	}

	if err := o.ledger.ApplyProfileUpdates(ctx, profiles); err != nil {
		return sales, saleValue, 0, err
	}
	if err := o.applyRules(ctx); err != nil {
		return sales, saleValue, 0, err
	}

	alerts, err = o.deliverAlerts(ctx)
	if err != nil {
		return sales, saleValue, alerts, err
	}

	if err := o.finalize(ctx); err != nil {
		return sales, saleValue, alerts, err
	}
	return sales, saleValue, alerts, nil
}

// discover builds the cycle's actor set: sellers behind the cheapest open
// listings of every enabled item, every actor already tracked, and the VIP
// set. A failed listings fetch for one item degrades discovery, never the
// cycle.
func (o *Orchestrator) discover(ctx context.Context) ([]candidate, error) {
	items, err := o.store.EnabledItems(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitor: load enabled items")
	}

	perItem := make([][]model.Listing, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.cfg.FetchConcurrency, 1))
	for i, item := range items {
		g.Go(func() error {
			listings, err := o.market.FetchTopListings(gctx, item.ItemID, o.topListings)
			if err != nil {
				o.log.Warn("listings fetch failed",
					zap.Int64("item_id", item.ItemID),
					zap.String("item_name", item.ItemName),
					zap.Error(err),
				)
				return nil
			}
			perItem[i] = listings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "monitor: discover")
	}

	seen := make(map[int64]string)
	for _, listings := range perItem {
		for _, l := range listings {
			if _, ok := seen[l.ActorID]; !ok {
				seen[l.ActorID] = l.ActorName
			}
		}
	}

	targets, err := o.ledger.All(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitor: list targets")
	}
	for _, t := range targets {
		if _, ok := seen[t.ActorID]; !ok {
			seen[t.ActorID] = t.ActorName
		}
	}
	for id := range o.vip {
		if _, ok := seen[id]; !ok {
			seen[id] = ""
		}
	}

	candidates := make([]candidate, 0, len(seen))
	for id, name := range seen {
		candidates = append(candidates, candidate{actorID: id, actorName: name})
	}
	return candidates, nil
}

// fetchResult pairs a candidate with its fetch outcome. res is nil when the
// fetch failed; that actor is skipped for the rest of the cycle.
type fetchResult struct {
	cand candidate
	res  *tornapi.Result
}

func (o *Orchestrator) fetchAll(ctx context.Context, candidates []candidate) []fetchResult {
	results := make([]fetchResult, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.cfg.FetchConcurrency, 1))
	for i, c := range candidates {
		g.Go(func() error {
			res, err := o.torn.FetchInventoryAndProfile(gctx, c.actorID)
			if err != nil {
				o.log.Warn("actor fetch failed",
					zap.Int64("actor_id", c.actorID),
					zap.Error(err),
				)
				results[i] = fetchResult{cand: c}
				return nil
			}
			results[i] = fetchResult{cand: c, res: res}
			return nil
		})
	}
	// Workers never return errors; Wait only surfaces context cancellation.
	_ = g.Wait()

	return results
}

// detectAndAccumulate diffs inventories and folds sales into the ledger,
// single-threaded. Closed listings end tracking: the actor is dropped (VIPs
// zeroed) and the snapshot reset so a re-opened listing starts a fresh
// baseline.
func (o *Orchestrator) detectAndAccumulate(ctx context.Context, results []fetchResult) (int, int64, []model.ProfileSnapshot, error) {
	var (
		sales     int
		saleValue int64
		profiles  = make([]model.ProfileSnapshot, 0, len(results))
	)

	for _, fr := range results {
		if fr.res == nil {
			continue
		}
		profiles = append(profiles, fr.res.Profile)

		name := fr.res.Profile.Name
		if name == "" {
			name = fr.cand.actorName
		}

		if !fr.res.Profile.ListingOpen {
			if err := o.closeListing(ctx, fr.cand.actorID); err != nil {
				return sales, saleValue, profiles, err
			}
			continue
		}

		events, err := o.detector.Detect(ctx, fr.cand.actorID, name, fr.res.Inventory)
		if err != nil {
			return sales, saleValue, profiles, err
		}
		for _, ev := range events {
			if _, err := o.ledger.Accumulate(ctx, ev); err != nil {
				return sales, saleValue, profiles, err
			}
			sales++
			saleValue += ev.TotalValue
		}
	}
	return sales, saleValue, profiles, nil
}

func (o *Orchestrator) closeListing(ctx context.Context, actorID int64) error {
	if err := o.store.PutSnapshot(ctx, actorID, model.InventorySnapshot{}); err != nil {
		return eris.Wrapf(err, "monitor: reset snapshot %d", actorID)
	}
	if _, vip := o.vip[actorID]; vip {
		return o.ledger.SetAccumulated(ctx, actorID, 0)
	}
	return o.ledger.Drop(ctx, actorID)
}

// applyRules evaluates the rule set over every live target and applies the
// fired decisions through the ledger.
func (o *Orchestrator) applyRules(ctx context.Context) error {
	targets, err := o.ledger.All(ctx)
	if err != nil {
		return eris.Wrap(err, "monitor: list targets")
	}

	env := rules.Env{
		Now:            o.nowFunc().UTC(),
		StaleAfter:     o.cfg.StaleAfter(),
		TransitPenalty: o.cfg.TransitPenalty,
		VIP:            o.vip,
	}

	for i := range targets {
		rec := &targets[i]
		for _, d := range o.engine.Evaluate(rec, env) {
			if err := o.applyDecision(ctx, rec, d); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) applyDecision(ctx context.Context, rec *model.TargetRecord, d rules.Decision) error {
	o.log.Info("rule fired",
		zap.String("rule", d.Rule),
		zap.String("action", d.Kind.String()),
		zap.Int64("actor_id", rec.ActorID),
		zap.String("actor_name", rec.ActorName),
		zap.String("reason", d.Reason),
	)

	switch d.Kind {
	case rules.ActionReset:
		return o.ledger.SetAccumulated(ctx, rec.ActorID, 0)
	case rules.ActionDeduct:
		// The balance may go negative; the actor stays tracked until later
		// sales bring it back above the alert threshold.
		remaining := rec.AccumulatedValue - d.Amount
		rec.AccumulatedValue = remaining
		rec.TransitDeductionApplied = true
		return o.ledger.SetAccumulatedWithDeduction(ctx, rec.ActorID, remaining, true)
	case rules.ActionDrop:
		return o.ledger.Drop(ctx, rec.ActorID)
	case rules.ActionClearDeduction:
		rec.TransitDeductionApplied = false
		return o.ledger.ClearTransitDeduction(ctx, rec.ActorID)
	default:
		return nil
	}
}

// deliverAlerts sends notifications for eligible targets. A target is marked
// alerted only after the webhook accepted the notification, so a failed
// delivery retries next cycle.
func (o *Orchestrator) deliverAlerts(ctx context.Context) (int, error) {
	eligible, err := o.ledger.SelectEligible(ctx, o.alertCfg.MinAccumulated, o.alertCfg.MinInactivityMinutes)
	if err != nil {
		return 0, eris.Wrap(err, "monitor: select eligible")
	}
	if len(eligible) == 0 {
		return 0, nil
	}

	itemNames, err := o.store.ItemNames(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "monitor: load item names")
	}

	sent := 0
	for _, rec := range eligible {
		n := o.alerter.Build(rec, itemNames)

		if o.alerter.Enabled() {
			if err := o.alerter.Deliver(ctx, n); err != nil {
				o.log.Error("alert delivery failed",
					zap.Int64("actor_id", rec.ActorID),
					zap.Error(err),
				)
				continue
			}
		} else {
			o.log.Info("eligible target", zap.String("message", n.Message))
		}

		if err := o.ledger.MarkAlerted(ctx, rec.ActorID, rec.AccumulatedValue); err != nil {
			return sent, err
		}
		if err := o.store.LogAlert(ctx, model.AlertEntry{
			ID:               n.ID,
			ActorID:          rec.ActorID,
			ActorName:        rec.ActorName,
			AccumulatedValue: rec.AccumulatedValue,
			SalesBreakdown:   rec.SalesBreakdown,
			SentAt:           n.Timestamp,
		}); err != nil {
			return sent, eris.Wrap(err, "monitor: log alert")
		}
		sent++
	}
	return sent, nil
}

func (o *Orchestrator) finalize(ctx context.Context) error {
	if o.cfg.RetentionHours <= 0 {
		return nil
	}
	cutoff := o.nowFunc().UTC().Add(-time.Duration(o.cfg.RetentionHours) * time.Hour)
	pruned, err := o.store.PruneTransactions(ctx, cutoff)
	if err != nil {
		return eris.Wrap(err, "monitor: prune transactions")
	}
	if pruned > 0 {
		o.log.Debug("pruned transactions", zap.Int64("rows", pruned))
	}
	return nil
}

// RunOnce executes a single cycle, used by the CLI for a dry run.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	sales, saleValue, alerts, err := o.runCycle(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("cycle complete: %d sales ($%d), %d alerts\n", sales, saleValue, alerts)
	return nil
}
