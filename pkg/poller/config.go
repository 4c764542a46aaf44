package poller

import (
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/energycommunity/pkg/portal"
	"github.com/raterudder/energycommunity/pkg/publish"
	"github.com/raterudder/energycommunity/pkg/types"
)

// Configured registers the polling and pricing flags. Invalid pricing panics
// once flags are parsed.
func Configured(fetcher Fetcher, sink publish.Sink) *Poller {
	p := New(fetcher, sink, types.DefaultPricing(), DefaultInterval)

	interval := lflag.Duration("update-interval", DefaultInterval, "How often to fetch data from the portal")
	view := lflag.String("energy-view", portal.DefaultView, "Granularity of the energy data requested from the portal")
	pricing := types.DefaultPricing()
	lflag.JSON(&pricing, "pricing", pricing, "JSON object with grid_consumption, community_consumption, grid_feed_in and community_feed_in prices per kWh")
	pricingFile := lflag.String("pricing-file", "", "YAML file with the prices per kWh, overrides --pricing")

	lflag.Do(func() {
		if *interval <= 0 {
			panic(fmt.Sprintf("update-interval must be positive, got: %s", *interval))
		}
		p.interval = *interval
		p.view = *view

		resolved := pricing
		if *pricingFile != "" {
			var err error
			resolved, err = types.LoadPricingFile(*pricingFile, pricing)
			if err != nil {
				panic(fmt.Sprintf("failed to load pricing-file: %v", err))
			}
		}
		if err := resolved.Validate(); err != nil {
			panic(fmt.Sprintf("invalid pricing flag: %v", err))
		}
		p.snap.Pricing = resolved
	})

	return p
}

// Interval returns how often Run polls.
func (p *Poller) Interval() time.Duration {
	return p.interval
}
