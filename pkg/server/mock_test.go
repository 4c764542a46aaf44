package server

import (
	"context"
	"sync"

	"github.com/raterudder/energycommunity/pkg/poller"
	"github.com/raterudder/energycommunity/pkg/types"
	"github.com/stretchr/testify/mock"
)

type mockPoller struct {
	mock.Mock

	mu      sync.Mutex
	applied []types.Pricing
}

func (m *mockPoller) Snapshot() poller.Snapshot {
	args := m.Called()
	return args.Get(0).(poller.Snapshot)
}

func (m *mockPoller) Pricing() types.Pricing {
	args := m.Called()
	return args.Get(0).(types.Pricing)
}

func (m *mockPoller) Refresh(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// UpdatePricing runs update against the configured current pricing and
// records the result unless an error is configured.
func (m *mockPoller) UpdatePricing(ctx context.Context, update func(types.Pricing) (types.Pricing, error)) (types.Pricing, error) {
	args := m.Called(ctx)
	next, err := update(args.Get(0).(types.Pricing))
	if err != nil {
		return types.Pricing{}, err
	}
	if err := args.Error(1); err != nil {
		return types.Pricing{}, err
	}
	m.mu.Lock()
	m.applied = append(m.applied, next)
	m.mu.Unlock()
	return next, nil
}

func (m *mockPoller) appliedPricing() []types.Pricing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Pricing(nil), m.applied...)
}
