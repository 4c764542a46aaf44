package poller

import (
	"context"
	"sync"

	"github.com/raterudder/energycommunity/pkg/sensor"
	"github.com/raterudder/energycommunity/pkg/types"
	"github.com/stretchr/testify/mock"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) GetCommunities(ctx context.Context) ([]types.Community, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]types.Community), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockFetcher) GetCommunityEnergyData(ctx context.Context, id int64, view, month string) (types.EnergyData, error) {
	args := m.Called(ctx, id, view, month)
	return args.Get(0).(types.EnergyData), args.Error(1)
}

func (m *mockFetcher) GetCounterPoints(ctx context.Context) ([]types.CounterPoint, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]types.CounterPoint), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockFetcher) GetCounterPointEnergyData(ctx context.Context, id int64, view, month string) (types.EnergyData, error) {
	args := m.Called(ctx, id, view, month)
	return args.Get(0).(types.EnergyData), args.Error(1)
}

func (m *mockFetcher) Close() error {
	args := m.Called()
	return args.Error(0)
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]sensor.Entity
	closed  bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(ctx context.Context, entities []sensor.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, entities)
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}
