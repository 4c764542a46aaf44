// Package poller runs the periodic fetch of portal data and keeps the latest
// entities in memory.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raterudder/energycommunity/pkg/cost"
	"github.com/raterudder/energycommunity/pkg/log"
	"github.com/raterudder/energycommunity/pkg/metrics"
	"github.com/raterudder/energycommunity/pkg/publish"
	"github.com/raterudder/energycommunity/pkg/sensor"
	"github.com/raterudder/energycommunity/pkg/types"
)

// DefaultInterval matches how often the portal refreshes its data.
const DefaultInterval = 5 * time.Minute

// Fetcher is the portal API the poller needs.
type Fetcher interface {
	GetCommunities(ctx context.Context) ([]types.Community, error)
	GetCommunityEnergyData(ctx context.Context, id int64, view, month string) (types.EnergyData, error)
	GetCounterPoints(ctx context.Context) ([]types.CounterPoint, error)
	GetCounterPointEnergyData(ctx context.Context, id int64, view, month string) (types.EnergyData, error)
	Close() error
}

// Snapshot is the state after the most recent cycle. Data from the last
// successful cycle is kept when a later cycle fails.
type Snapshot struct {
	Communities   []types.CommunityData    `json:"communities"`
	CounterPoints []types.CounterPointData `json:"counter_points"`
	Entities      []sensor.Entity          `json:"entities"`
	Pricing       types.Pricing            `json:"pricing"`

	CycleID     string    `json:"cycle_id,omitempty"`
	LastAttempt time.Time `json:"last_attempt"`
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
	Cycles      int       `json:"cycles"`
	Failures    int       `json:"failures"`
}

// Poller fetches portal data, derives costs and entities and hands them to
// the sinks.
type Poller struct {
	fetcher  Fetcher
	sink     publish.Sink
	interval time.Duration
	view     string
	now      func() time.Time

	// cycleMu serializes cycles and pricing changes
	cycleMu sync.Mutex

	mu   sync.RWMutex
	snap Snapshot
}

// New returns a poller using pricing until SetPricing is called. sink may be
// nil.
func New(fetcher Fetcher, sink publish.Sink, pricing types.Pricing, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		fetcher:  fetcher,
		sink:     sink,
		interval: interval,
		now:      time.Now,
		snap:     Snapshot{Pricing: pricing},
	}
}

// Snapshot returns the current state. The returned slices must not be
// modified.
func (p *Poller) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

// Pricing returns the pricing currently applied.
func (p *Poller) Pricing() types.Pricing {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap.Pricing
}

// Run performs a cycle immediately and then every interval until ctx is
// done. Failed cycles are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.Ctx(ctx).WarnContext(ctx, "poll cycle failed, retrying next interval", slog.Duration("interval", p.interval))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type fetched struct {
	communities   []types.CommunityData
	counterPoints []types.CounterPointData
}

// Refresh runs a single cycle. On failure the previous data stays in place
// and the error is recorded on the snapshot.
func (p *Poller) Refresh(ctx context.Context) error {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	cycleID := uuid.NewString()
	ctx = log.WithAttrs(ctx, slog.String("cycleID", cycleID))
	start := p.now()

	data, err := p.fetch(ctx)
	if err != nil {
		metrics.ObserveCycle(err, time.Since(start), 0)
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch portal data", slog.Any("error", err))

		p.mu.Lock()
		p.snap.CycleID = cycleID
		p.snap.LastAttempt = start
		p.snap.LastError = err.Error()
		p.snap.Cycles++
		p.snap.Failures++
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	counterPoints, entities := derive(data.communities, data.counterPoints, p.snap.Pricing)
	p.snap.Communities = data.communities
	p.snap.CounterPoints = counterPoints
	p.snap.Entities = entities
	p.snap.CycleID = cycleID
	p.snap.LastAttempt = start
	p.snap.LastSuccess = start
	p.snap.LastError = ""
	p.snap.Cycles++
	p.mu.Unlock()

	metrics.ObserveCycle(nil, time.Since(start), len(entities))
	log.Ctx(ctx).InfoContext(ctx, "poll cycle finished",
		slog.Int("communities", len(data.communities)),
		slog.Int("counterPoints", len(counterPoints)),
		slog.Int("entities", len(entities)),
	)

	p.publish(ctx, entities)
	return nil
}

func (p *Poller) fetch(ctx context.Context) (fetched, error) {
	var out fetched

	communities, err := p.fetcher.GetCommunities(ctx)
	if err != nil {
		return fetched{}, fmt.Errorf("failed to get communities: %w", err)
	}
	for _, c := range communities {
		data, err := p.fetcher.GetCommunityEnergyData(ctx, c.ID, p.view, "")
		if err != nil {
			return fetched{}, fmt.Errorf("failed to get energy data for community %d: %w", c.ID, err)
		}
		out.communities = append(out.communities, types.CommunityData{Info: c, Energy: data})
	}

	points, err := p.fetcher.GetCounterPoints(ctx)
	if err != nil {
		return fetched{}, fmt.Errorf("failed to get counter points: %w", err)
	}
	for _, cp := range points {
		data, err := p.fetcher.GetCounterPointEnergyData(ctx, cp.ID, p.view, "")
		if err != nil {
			return fetched{}, fmt.Errorf("failed to get energy data for counter point %d: %w", cp.ID, err)
		}
		out.counterPoints = append(out.counterPoints, types.CounterPointData{Info: cp, Energy: data})
	}
	return out, nil
}

// derive recomputes every cost and entity from raw data. It never modifies
// its arguments.
func derive(communities []types.CommunityData, counterPoints []types.CounterPointData, pricing types.Pricing) ([]types.CounterPointData, []sensor.Entity) {
	priced := make([]types.CounterPointData, len(counterPoints))
	for i, cp := range counterPoints {
		cp.Costs = cost.Compute(cp.Energy.FirstReadings(), pricing)
		priced[i] = cp
	}
	entities := sensor.Build(sensor.Input{
		Communities:   communities,
		CounterPoints: priced,
		Pricing:       pricing,
	})
	return priced, entities
}

// SetPricing replaces the pricing and recomputes every cost from the data of
// the last successful cycle without fetching again.
func (p *Poller) SetPricing(ctx context.Context, pricing types.Pricing) error {
	_, err := p.UpdatePricing(ctx, func(types.Pricing) (types.Pricing, error) {
		return pricing, nil
	})
	return err
}

// UpdatePricing hands the current pricing to update and applies the result
// like SetPricing. No cycle or other pricing change runs in between, so
// concurrent partial updates are never lost.
func (p *Poller) UpdatePricing(ctx context.Context, update func(current types.Pricing) (types.Pricing, error)) (types.Pricing, error) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	pricing, err := update(p.Pricing())
	if err != nil {
		return types.Pricing{}, err
	}
	if err := pricing.Validate(); err != nil {
		return types.Pricing{}, err
	}

	p.mu.Lock()
	counterPoints, entities := derive(p.snap.Communities, p.snap.CounterPoints, pricing)
	p.snap.Pricing = pricing
	p.snap.CounterPoints = counterPoints
	p.snap.Entities = entities
	hasData := !p.snap.LastSuccess.IsZero()
	p.mu.Unlock()

	log.Ctx(ctx).InfoContext(ctx, "pricing updated",
		slog.Float64("gridConsumption", pricing.GridConsumption),
		slog.Float64("communityConsumption", pricing.CommunityConsumption),
		slog.Float64("gridFeedIn", pricing.GridFeedIn),
		slog.Float64("communityFeedIn", pricing.CommunityFeedIn),
	)
	if hasData {
		p.publish(ctx, entities)
	}
	return pricing, nil
}

func (p *Poller) publish(ctx context.Context, entities []sensor.Entity) {
	if p.sink == nil {
		return
	}
	if err := p.sink.Publish(ctx, entities); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to publish entities", slog.String("sink", p.sink.Name()), slog.Any("error", err))
	}
}

// Close closes the sink and the portal client.
func (p *Poller) Close() error {
	var errs []error
	if p.sink != nil {
		if err := p.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close sink: %w", err))
		}
	}
	if err := p.fetcher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close portal client: %w", err))
	}
	return errors.Join(errs...)
}
