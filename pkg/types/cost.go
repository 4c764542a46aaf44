package types

// CostBreakdown splits a cost into its four components. Revenues are positive
// numbers that are subtracted from the consumption costs.
type CostBreakdown struct {
	GridConsumptionCost      float64 `json:"grid_consumption_cost"`
	CommunityConsumptionCost float64 `json:"community_consumption_cost"`
	GridFeedInRevenue        float64 `json:"grid_feed_in_revenue"`
	CommunityFeedInRevenue   float64 `json:"community_feed_in_revenue"`
}

// ConsumptionCost is the cost of energy drawn from the grid and the community.
func (b CostBreakdown) ConsumptionCost() float64 {
	return b.GridConsumptionCost + b.CommunityConsumptionCost
}

// FeedInRevenue is the revenue of energy fed into the grid and the community.
func (b CostBreakdown) FeedInRevenue() float64 {
	return b.GridFeedInRevenue + b.CommunityFeedInRevenue
}

// Add returns the component-wise sum of b and o.
func (b CostBreakdown) Add(o CostBreakdown) CostBreakdown {
	return CostBreakdown{
		GridConsumptionCost:      b.GridConsumptionCost + o.GridConsumptionCost,
		CommunityConsumptionCost: b.CommunityConsumptionCost + o.CommunityConsumptionCost,
		GridFeedInRevenue:        b.GridFeedInRevenue + o.GridFeedInRevenue,
		CommunityFeedInRevenue:   b.CommunityFeedInRevenue + o.CommunityFeedInRevenue,
	}
}

// CostBucket is the cost for one day, month (YYYY-MM) or year (YYYY).
type CostBucket struct {
	Key       string        `json:"key"`
	NetCost   float64       `json:"net_cost"`
	Breakdown CostBreakdown `json:"breakdown"`
	DaysCount int           `json:"days_count"`
}

// CostSeries holds the chronologically ordered buckets per granularity.
type CostSeries struct {
	Daily   []CostBucket `json:"daily"`
	Monthly []CostBucket `json:"monthly"`
	Yearly  []CostBucket `json:"yearly"`
}

// LastBucket returns the most recent bucket of a series.
func LastBucket(buckets []CostBucket) (CostBucket, bool) {
	if len(buckets) == 0 {
		return CostBucket{}, false
	}
	return buckets[len(buckets)-1], true
}
