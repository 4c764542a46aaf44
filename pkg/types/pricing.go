package types

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Pricing holds the unit prices (currency per kWh) used to turn energy
// readings into costs. A Pricing value is never patched in place, a new one
// replaces it and every derived cost is recomputed.
type Pricing struct {
	GridConsumption      float64 `json:"grid_consumption" yaml:"grid_consumption"`
	CommunityConsumption float64 `json:"community_consumption" yaml:"community_consumption"`
	GridFeedIn           float64 `json:"grid_feed_in" yaml:"grid_feed_in"`
	CommunityFeedIn      float64 `json:"community_feed_in" yaml:"community_feed_in"`
}

// DefaultPricing is used when no pricing was configured.
func DefaultPricing() Pricing {
	return Pricing{
		GridConsumption:      0.35,
		CommunityConsumption: 0.25,
		GridFeedIn:           0.12,
		CommunityFeedIn:      0.18,
	}
}

// ErrInvalidPricing is wrapped by every error Validate returns.
var ErrInvalidPricing = errors.New("invalid pricing")

// Validate returns an error if any price is negative or not a finite number.
func (p Pricing) Validate() error {
	var errs []error
	check := func(name string, v float64) {
		switch {
		case math.IsNaN(v) || math.IsInf(v, 0):
			errs = append(errs, fmt.Errorf("%s price must be a finite number, got: %g", name, v))
		case v < 0:
			errs = append(errs, fmt.Errorf("%s price cannot be negative, got: %g", name, v))
		}
	}
	check("grid_consumption", p.GridConsumption)
	check("community_consumption", p.CommunityConsumption)
	check("grid_feed_in", p.GridFeedIn)
	check("community_feed_in", p.CommunityFeedIn)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidPricing, errors.Join(errs...))
}

// LoadPricingFile reads a YAML pricing file. Keys missing from the file keep
// the values from base.
func LoadPricingFile(path string, base Pricing) (Pricing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pricing{}, fmt.Errorf("failed to read pricing file: %w", err)
	}
	p := base
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Pricing{}, fmt.Errorf("failed to parse pricing file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Pricing{}, err
	}
	return p, nil
}
