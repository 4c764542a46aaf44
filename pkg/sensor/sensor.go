// Package sensor turns fetched portal data into the flat entities that are
// published and served over the API.
package sensor

import (
	"fmt"

	"github.com/raterudder/energycommunity/pkg/energy"
	"github.com/raterudder/energycommunity/pkg/types"
)

// Domain prefixes every entity unique id.
const Domain = "fronius_energiegemeinschaft"

const (
	UnitEnergy   = "kWh"
	UnitCurrency = "€"

	DeviceClassEnergy   = "energy"
	DeviceClassMonetary = "monetary"

	StateClassTotal           = "total"
	StateClassTotalIncreasing = "total_increasing"

	historyDays = 30
)

// Kind identifies which strategy built an entity.
type Kind string

const (
	KindCommunityMetric    Kind = "community_metric"
	KindCounterPointEnergy Kind = "counter_point_energy"
	KindDailyCost          Kind = "daily_cost"
	KindMonthlyCost        Kind = "monthly_cost"
	KindYearlyCost         Kind = "yearly_cost"
)

// Entity is a single read-only state with its attributes. State is nil when
// the value is unknown.
type Entity struct {
	UniqueID    string         `json:"unique_id"`
	Kind        Kind           `json:"kind"`
	Name        string         `json:"name"`
	State       *float64       `json:"state"`
	Unit        string         `json:"unit_of_measurement"`
	DeviceClass string         `json:"device_class"`
	StateClass  string         `json:"state_class,omitempty"`
	Attributes  map[string]any `json:"attributes"`
}

// Input is everything one cycle fetched plus the pricing its costs used.
type Input struct {
	Communities   []types.CommunityData
	CounterPoints []types.CounterPointData
	Pricing       types.Pricing
}

// Build returns the entities for in, communities first, each counter point
// followed by its cost entities.
func Build(in Input) []Entity {
	var entities []Entity
	for _, c := range in.Communities {
		for _, m := range types.Metrics {
			entities = append(entities, communityMetric(c, m))
		}
	}
	for _, cp := range in.CounterPoints {
		entities = append(entities, counterPointEnergy(cp))
		for _, s := range costStrategies {
			entities = append(entities, s.build(cp, in.Pricing))
		}
	}
	return entities
}

// Find returns the entity with the given unique id.
func Find(entities []Entity, id string) (Entity, bool) {
	for _, e := range entities {
		if e.UniqueID == id {
			return e, true
		}
	}
	return Entity{}, false
}

var metricLabels = map[types.Metric]string{
	types.MetricCommunityReceived: "Community Received",
	types.MetricGridConsumed:      "Grid Consumption",
	types.MetricTotalConsumed:     "Total Consumption",
	types.MetricCommunityFedIn:    "Community Feed-in",
	types.MetricGridFedIn:         "Grid Feed-in",
	types.MetricTotalFedIn:        "Total Feed-in",
}

// metricState is 0 when the metric is missing and unknown when it is present
// but not a number.
func metricState(metrics map[types.Metric]types.MetricValue, m types.Metric) *float64 {
	v, ok := metrics[m]
	if !ok {
		return ptr(0)
	}
	if !v.Numeric {
		return nil
	}
	return ptr(v.Value)
}

func ptr(v float64) *float64 {
	return &v
}

func communityID(id int64, m types.Metric) string {
	return fmt.Sprintf("%s_community_%d_%s", Domain, id, m)
}

func counterPointID(id int64) string {
	return fmt.Sprintf("%s_counter_point_%d", Domain, id)
}

func communityMetric(c types.CommunityData, m types.Metric) Entity {
	rc := string(c.Info.RCNumber)
	totals, _ := c.Energy.Total(rc)
	daily, last := dailyValues(c.Energy.Readings(rc), m)

	var valueType, nullValues any
	if v, ok := totals[m]; ok {
		if v.ValueType != "" {
			valueType = v.ValueType
		}
		nullValues = v.NullValues
	}

	return Entity{
		UniqueID:    communityID(c.Info.ID, m),
		Kind:        KindCommunityMetric,
		Name:        c.Info.Name + " " + metricLabels[m],
		State:       metricState(totals, m),
		Unit:        UnitEnergy,
		DeviceClass: DeviceClassEnergy,
		StateClass:  StateClassTotalIncreasing,
		Attributes: map[string]any{
			"community_id":   c.Info.ID,
			"community_name": c.Info.Name,
			"rc_number":      rc,
			"metric":         string(m),
			"value_type":     valueType,
			"null_values":    nullValues,
			"unit":           unit(c.Energy),
			"daily_data":     daily,
			"last_30_days":   last,
		},
	}
}

func counterPointEnergy(cp types.CounterPointData) Entity {
	direction := cp.Info.Direction()
	totals, _ := cp.Energy.Total(energy.CounterPointTotalKey)
	readings := cp.Energy.FirstReadings()

	state := types.MetricTotalConsumed
	if direction == types.EnergyDirectionProducer {
		state = types.MetricTotalFedIn
	}

	attrs := map[string]any{
		"counter_point_id":     cp.Info.ID,
		"counter_number":       cp.Info.Number(),
		"counter_point_number": string(cp.Info.CounterPointNumber),
		"energy_direction":     string(direction),
		"unit":                 unit(cp.Energy),
	}
	for _, m := range types.Metrics {
		if v, ok := totals[m]; ok && v.Numeric {
			attrs[string(m)] = v.Value
		} else {
			attrs[string(m)] = nil
		}
		daily, last := dailyValues(readings, m)
		attrs["daily_data_"+string(m)] = daily
		attrs["last_30_days_"+string(m)] = last
	}

	return Entity{
		UniqueID:    counterPointID(cp.Info.ID),
		Kind:        KindCounterPointEnergy,
		Name:        fmt.Sprintf("Counter Point %s (%s)", cp.Info.Number(), direction),
		State:       metricState(totals, state),
		Unit:        UnitEnergy,
		DeviceClass: DeviceClassEnergy,
		StateClass:  StateClassTotalIncreasing,
		Attributes:  attrs,
	}
}

// costStrategy describes one of the cost entities built per counter point.
type costStrategy struct {
	kind       Kind
	label      string
	stateClass string
	// attribute names for the per bucket costs and their breakdowns
	costsAttr     string
	breakdownAttr string
	withDays      bool
	withHistory   bool
	buckets       func(types.CostSeries) []types.CostBucket
}

var costStrategies = []costStrategy{
	{
		kind:          KindDailyCost,
		label:         "Daily",
		costsAttr:     "daily_costs",
		breakdownAttr: "daily_costs_breakdown",
		withHistory:   true,
		buckets:       func(s types.CostSeries) []types.CostBucket { return s.Daily },
	},
	{
		kind:          KindMonthlyCost,
		label:         "Monthly",
		stateClass:    StateClassTotal,
		costsAttr:     "monthly_costs",
		breakdownAttr: "monthly_costs_breakdown",
		withDays:      true,
		buckets:       func(s types.CostSeries) []types.CostBucket { return s.Monthly },
	},
	{
		kind:          KindYearlyCost,
		label:         "Yearly",
		stateClass:    StateClassTotal,
		costsAttr:     "yearly_costs",
		breakdownAttr: "yearly_cost_breakdown",
		buckets:       func(s types.CostSeries) []types.CostBucket { return s.Yearly },
	},
}

func (s costStrategy) build(cp types.CounterPointData, pricing types.Pricing) Entity {
	buckets := s.buckets(cp.Costs)

	costs := make(map[string]float64, len(buckets))
	breakdown := make(map[string]map[string]any, len(buckets))
	for _, b := range buckets {
		costs[b.Key] = b.NetCost
		breakdown[b.Key] = breakdownAttrs(b, s.withDays)
	}

	attrs := map[string]any{
		"counter_point_id": cp.Info.ID,
		"counter_number":   cp.Info.Number(),
		"energy_direction": string(cp.Info.Direction()),
		"pricing":          pricing,
		s.costsAttr:        costs,
		s.breakdownAttr:    breakdown,
	}
	if s.withHistory {
		attrs["last_30_days_costs"] = lastNetCosts(buckets, historyDays)
	}

	var state *float64
	if last, ok := types.LastBucket(buckets); ok {
		state = ptr(last.NetCost)
	}

	return Entity{
		UniqueID:    counterPointID(cp.Info.ID) + "_" + string(s.kind),
		Kind:        s.kind,
		Name:        fmt.Sprintf("Counter Point %s %s Cost", cp.Info.Number(), s.label),
		State:       state,
		Unit:        UnitCurrency,
		DeviceClass: DeviceClassMonetary,
		StateClass:  s.stateClass,
		Attributes:  attrs,
	}
}

func breakdownAttrs(b types.CostBucket, withDays bool) map[string]any {
	m := map[string]any{
		"grid_consumption_cost":      b.Breakdown.GridConsumptionCost,
		"community_consumption_cost": b.Breakdown.CommunityConsumptionCost,
		"grid_feed_in_revenue":       b.Breakdown.GridFeedInRevenue,
		"community_feed_in_revenue":  b.Breakdown.CommunityFeedInRevenue,
	}
	if withDays {
		m["days_count"] = b.DaysCount
	}
	return m
}

// dailyValues returns the numeric values of m per date and the most recent
// values in date order. Dates without a numeric value are skipped.
func dailyValues(readings []types.EnergyReading, m types.Metric) (map[string]float64, []float64) {
	daily := make(map[string]float64)
	var order []string
	for _, r := range readings {
		v, ok := r.Metrics[m]
		if !ok || !v.Numeric {
			continue
		}
		if _, seen := daily[r.Date]; !seen {
			order = append(order, r.Date)
		}
		daily[r.Date] = v.Value
	}
	if len(order) > historyDays {
		order = order[len(order)-historyDays:]
	}
	last := make([]float64, 0, len(order))
	for _, d := range order {
		last = append(last, daily[d])
	}
	return daily, last
}

func lastNetCosts(buckets []types.CostBucket, n int) []float64 {
	if len(buckets) > n {
		buckets = buckets[len(buckets)-n:]
	}
	out := make([]float64, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, b.NetCost)
	}
	return out
}

func unit(d types.EnergyData) string {
	if d.Unit == "" {
		return energy.DefaultUnit
	}
	return d.Unit
}
