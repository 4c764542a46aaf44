// Package cost turns daily energy readings into cost series.
package cost

import (
	"github.com/shopspring/decimal"

	"github.com/raterudder/energycommunity/pkg/types"
)

const (
	monthKeyLen = len("2006-01")
	yearKeyLen  = len("2006")
)

// Breakdown prices a single reading. Missing or non-numeric metrics count as 0.
func Breakdown(r types.EnergyReading, p types.Pricing) types.CostBreakdown {
	return types.CostBreakdown{
		GridConsumptionCost:      r.Value(types.MetricGridConsumed) * p.GridConsumption,
		CommunityConsumptionCost: r.Value(types.MetricCommunityReceived) * p.CommunityConsumption,
		GridFeedInRevenue:        r.Value(types.MetricGridFedIn) * p.GridFeedIn,
		CommunityFeedInRevenue:   r.Value(types.MetricCommunityFedIn) * p.CommunityFeedIn,
	}
}

// NetCost is what was paid for consumption minus what was earned by feeding in.
func NetCost(b types.CostBreakdown) float64 {
	return b.ConsumptionCost() - b.FeedInRevenue()
}

// Compute builds the daily, monthly and yearly cost series for readings,
// which are expected in ascending date order and are not re-sorted. Month and
// year totals are summed from the unrounded daily values and only the final
// buckets are rounded to cents.
//
// A date that appears more than once keeps its first position and its last
// reading.
func Compute(readings []types.EnergyReading, p types.Pricing) types.CostSeries {
	days := newAccumulator()
	for _, r := range readings {
		days.set(r.Date, Breakdown(r, p))
	}

	months := newAccumulator()
	years := newAccumulator()
	for _, b := range days.buckets {
		months.add(prefix(b.Key, monthKeyLen), b.Breakdown)
		years.add(prefix(b.Key, yearKeyLen), b.Breakdown)
	}

	return types.CostSeries{
		Daily:   days.rounded(),
		Monthly: months.rounded(),
		Yearly:  years.rounded(),
	}
}

// Round rounds v to cents.
func Round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// RoundBreakdown rounds every component of b to cents.
func RoundBreakdown(b types.CostBreakdown) types.CostBreakdown {
	return types.CostBreakdown{
		GridConsumptionCost:      Round(b.GridConsumptionCost),
		CommunityConsumptionCost: Round(b.CommunityConsumptionCost),
		GridFeedInRevenue:        Round(b.GridFeedInRevenue),
		CommunityFeedInRevenue:   Round(b.CommunityFeedInRevenue),
	}
}

func prefix(key string, n int) string {
	if len(key) < n {
		return key
	}
	return key[:n]
}

type accumulator struct {
	index   map[string]int
	buckets []types.CostBucket
}

func newAccumulator() *accumulator {
	return &accumulator{index: make(map[string]int)}
}

func (a *accumulator) bucket(key string) *types.CostBucket {
	i, ok := a.index[key]
	if !ok {
		i = len(a.buckets)
		a.index[key] = i
		a.buckets = append(a.buckets, types.CostBucket{Key: key})
	}
	return &a.buckets[i]
}

func (a *accumulator) set(key string, b types.CostBreakdown) {
	bucket := a.bucket(key)
	bucket.Breakdown = b
	bucket.DaysCount = 1
}

func (a *accumulator) add(key string, b types.CostBreakdown) {
	bucket := a.bucket(key)
	bucket.Breakdown = bucket.Breakdown.Add(b)
	bucket.DaysCount++
}

func (a *accumulator) rounded() []types.CostBucket {
	out := make([]types.CostBucket, 0, len(a.buckets))
	for _, b := range a.buckets {
		out = append(out, types.CostBucket{
			Key:       b.Key,
			NetCost:   Round(NetCost(b.Breakdown)),
			Breakdown: RoundBreakdown(b.Breakdown),
			DaysCount: b.DaysCount,
		})
	}
	return out
}
