package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/raterudder/energycommunity/pkg/log"
	"github.com/raterudder/energycommunity/pkg/poller"
	"github.com/raterudder/energycommunity/pkg/portal"
	"github.com/raterudder/energycommunity/pkg/sensor"
	"github.com/raterudder/energycommunity/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

func testSnapshot() poller.Snapshot {
	state := 4.33
	return poller.Snapshot{
		Entities: []sensor.Entity{
			{UniqueID: "fronius_energiegemeinschaft_community_3_crec", Kind: sensor.KindCommunityMetric, Name: "Community Received"},
			{UniqueID: "fronius_energiegemeinschaft_counter_point_7_daily_cost", Kind: sensor.KindDailyCost, State: &state},
		},
		Communities:   []types.CommunityData{{Info: types.Community{ID: 3}}},
		CounterPoints: []types.CounterPointData{{Info: types.CounterPoint{ID: 7}}},
		CycleID:       "cycle-1",
		LastSuccess:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Cycles:        3,
		Failures:      1,
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestEntities(t *testing.T) {
	mp := &mockPoller{}
	mp.On("Snapshot").Return(testSnapshot())
	srv := &Server{poller: mp, serverName: "test"}
	h := srv.setupHandler()

	t.Run("List", func(t *testing.T) {
		w := do(t, h, "GET", "/api/entities", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "test", w.Header().Get("Server"))
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

		var entities []sensor.Entity
		require.NoError(t, json.NewDecoder(w.Body).Decode(&entities))
		assert.Len(t, entities, 2)
	})

	t.Run("Filter By Kind", func(t *testing.T) {
		w := do(t, h, "GET", "/api/entities?kind=daily_cost", "")
		require.Equal(t, http.StatusOK, w.Code)
		var entities []sensor.Entity
		require.NoError(t, json.NewDecoder(w.Body).Decode(&entities))
		require.Len(t, entities, 1)
		assert.Equal(t, sensor.KindDailyCost, entities[0].Kind)
	})

	t.Run("Get", func(t *testing.T) {
		w := do(t, h, "GET", "/api/entities/fronius_energiegemeinschaft_counter_point_7_daily_cost", "")
		require.Equal(t, http.StatusOK, w.Code)
		var e sensor.Entity
		require.NoError(t, json.NewDecoder(w.Body).Decode(&e))
		require.NotNil(t, e.State)
		assert.Equal(t, 4.33, *e.State)
	})

	t.Run("Not Found", func(t *testing.T) {
		w := do(t, h, "GET", "/api/entities/nope", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "entity not found")
	})

	t.Run("Data", func(t *testing.T) {
		w := do(t, h, "GET", "/api/data", "")
		require.Equal(t, http.StatusOK, w.Code)
		var data struct {
			Communities   []types.CommunityData    `json:"communities"`
			CounterPoints []types.CounterPointData `json:"counter_points"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&data))
		assert.Len(t, data.Communities, 1)
		assert.Len(t, data.CounterPoints, 1)
	})

	t.Run("Gzip", func(t *testing.T) {
		// gzip only kicks in above its minimum size
		big := testSnapshot()
		for i := 0; i < 100; i++ {
			big.Entities = append(big.Entities, sensor.Entity{UniqueID: fmt.Sprintf("entity_%d", i), Name: strings.Repeat("x", 20)})
		}
		mp := &mockPoller{}
		mp.On("Snapshot").Return(big)
		h := (&Server{poller: mp}).setupHandler()
		w := do(t, h, "GET", "/api/entities", "", "Accept-Encoding", "gzip")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	})
}

func TestStatus(t *testing.T) {
	mp := &mockPoller{}
	mp.On("Snapshot").Return(testSnapshot())
	h := (&Server{poller: mp}).setupHandler()

	w := do(t, h, "GET", "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "cycle-1", status.CycleID)
	assert.Equal(t, 3, status.Cycles)
	assert.Equal(t, 1, status.Failures)
	assert.Equal(t, 2, status.Entities)
	assert.NotEmpty(t, status.Version)
}

func TestRefresh(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mp := &mockPoller{}
		mp.On("Refresh", mock.Anything).Return(nil)
		mp.On("Snapshot").Return(testSnapshot())
		h := (&Server{poller: mp}).setupHandler()

		w := do(t, h, "POST", "/api/refresh", "")
		assert.Equal(t, http.StatusOK, w.Code)
		mp.AssertExpectations(t)
	})

	t.Run("Failure", func(t *testing.T) {
		mp := &mockPoller{}
		mp.On("Refresh", mock.Anything).Return(errors.New("portal down"))
		h := (&Server{poller: mp}).setupHandler()

		w := do(t, h, "POST", "/api/refresh", "")
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Contains(t, w.Body.String(), "portal down")
	})

	t.Run("Auth Failure", func(t *testing.T) {
		mp := &mockPoller{}
		mp.On("Refresh", mock.Anything).Return(&portal.RequestError{Path: "/vis/community", Err: &portal.AuthError{Reason: "login rejected", StatusCode: 401}})
		h := (&Server{poller: mp}).setupHandler()

		w := do(t, h, "POST", "/api/refresh", "")
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Contains(t, w.Body.String(), "rejected the credentials")
	})

	t.Run("Wrong Method", func(t *testing.T) {
		mp := &mockPoller{}
		h := (&Server{poller: mp}).setupHandler()
		w := do(t, h, "GET", "/api/refresh", "")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		mp.AssertNotCalled(t, "Refresh", mock.Anything)
	})
}

func TestPricing(t *testing.T) {
	t.Run("Get", func(t *testing.T) {
		mp := &mockPoller{}
		mp.On("Pricing").Return(types.DefaultPricing())
		h := (&Server{poller: mp}).setupHandler()

		w := do(t, h, "GET", "/api/pricing", "")
		require.Equal(t, http.StatusOK, w.Code)
		var p types.Pricing
		require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
		assert.Equal(t, types.DefaultPricing(), p)
	})

	t.Run("Partial Update", func(t *testing.T) {
		mp := &mockPoller{}
		mp.On("UpdatePricing", mock.Anything).Return(types.DefaultPricing(), nil)
		expected := types.DefaultPricing()
		expected.GridConsumption = 0.4
		h := (&Server{poller: mp}).setupHandler()

		w := do(t, h, "POST", "/api/pricing", `{"grid_consumption": 0.4}`)
		require.Equal(t, http.StatusOK, w.Code)
		var p types.Pricing
		require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
		assert.Equal(t, expected, p)
		assert.Equal(t, []types.Pricing{expected}, mp.appliedPricing())
		mp.AssertExpectations(t)
	})

	t.Run("Merges Over Latest Pricing", func(t *testing.T) {
		// the body is applied to whatever pricing is current when the
		// update runs, not to a copy read earlier
		current := types.DefaultPricing()
		current.GridFeedIn = 0.01
		mp := &mockPoller{}
		mp.On("UpdatePricing", mock.Anything).Return(current, nil)
		h := (&Server{poller: mp}).setupHandler()

		w := do(t, h, "POST", "/api/pricing", `{"community_feed_in": 0.2}`)
		require.Equal(t, http.StatusOK, w.Code)
		expected := current
		expected.CommunityFeedIn = 0.2
		assert.Equal(t, []types.Pricing{expected}, mp.appliedPricing())
		mp.AssertNotCalled(t, "Pricing")
	})

	t.Run("Negative", func(t *testing.T) {
		mp := &mockPoller{}
		mp.On("UpdatePricing", mock.Anything).Return(types.DefaultPricing(), nil)
		h := (&Server{poller: mp}).setupHandler()

		w := do(t, h, "POST", "/api/pricing", `{"grid_feed_in": -1}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "grid_feed_in")
		assert.Empty(t, mp.appliedPricing())
	})

	t.Run("Unknown Field", func(t *testing.T) {
		mp := &mockPoller{}
		mp.On("UpdatePricing", mock.Anything).Return(types.DefaultPricing(), nil)
		h := (&Server{poller: mp}).setupHandler()

		w := do(t, h, "POST", "/api/pricing", `{"grid": 1}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, mp.appliedPricing())
	})

	t.Run("Apply Fails", func(t *testing.T) {
		mp := &mockPoller{}
		mp.On("UpdatePricing", mock.Anything).Return(types.DefaultPricing(), errors.New("boom"))
		h := (&Server{poller: mp}).setupHandler()

		w := do(t, h, "POST", "/api/pricing", `{"grid_feed_in": 0.1}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "boom")
	})

	t.Run("Admin Token", func(t *testing.T) {
		mp := &mockPoller{}
		mp.On("Pricing").Return(types.DefaultPricing())
		mp.On("UpdatePricing", mock.Anything).Return(types.DefaultPricing(), nil)
		h := (&Server{poller: mp, adminToken: "secret"}).setupHandler()

		w := do(t, h, "POST", "/api/pricing", `{}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = do(t, h, "POST", "/api/pricing", `{}`, "Authorization", "Bearer wrong")
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = do(t, h, "POST", "/api/pricing", `{}`, "Authorization", "Bearer secret")
		assert.Equal(t, http.StatusOK, w.Code)

		// reads stay open
		w = do(t, h, "GET", "/api/pricing", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHealthzAndMetrics(t *testing.T) {
	h := (&Server{poller: &mockPoller{}}).setupHandler()

	w := do(t, h, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = do(t, h, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRun(t *testing.T) {
	srv := &Server{poller: &mockPoller{}, listenAddr: "127.0.0.1:0"}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
