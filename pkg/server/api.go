package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/energycommunity/pkg/common"
	"github.com/raterudder/energycommunity/pkg/log"
	"github.com/raterudder/energycommunity/pkg/portal"
	"github.com/raterudder/energycommunity/pkg/sensor"
	"github.com/raterudder/energycommunity/pkg/types"
)

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	entities := s.poller.Snapshot().Entities
	kind := sensor.Kind(r.URL.Query().Get("kind"))

	out := make([]sensor.Entity, 0, len(entities))
	for _, e := range entities {
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e)
	}
	writeJSON(w, out)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	e, ok := sensor.Find(s.poller.Snapshot().Entities, r.PathValue("id"))
	if !ok {
		writeJSONError(w, "entity not found", http.StatusNotFound)
		return
	}
	writeJSON(w, e)
}

func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	snap := s.poller.Snapshot()
	writeJSON(w, struct {
		Communities   any `json:"communities"`
		CounterPoints any `json:"counter_points"`
	}{
		Communities:   snap.Communities,
		CounterPoints: snap.CounterPoints,
	})
}

type statusResponse struct {
	Version       string    `json:"version"`
	CycleID       string    `json:"cycle_id,omitempty"`
	LastAttempt   time.Time `json:"last_attempt"`
	LastSuccess   time.Time `json:"last_success"`
	LastError     string    `json:"last_error,omitempty"`
	Cycles        int       `json:"cycles"`
	Failures      int       `json:"failures"`
	Communities   int       `json:"communities"`
	CounterPoints int       `json:"counter_points"`
	Entities      int       `json:"entities"`
}

func (s *Server) status() statusResponse {
	snap := s.poller.Snapshot()
	return statusResponse{
		Version:       common.Version(),
		CycleID:       snap.CycleID,
		LastAttempt:   snap.LastAttempt,
		LastSuccess:   snap.LastSuccess,
		LastError:     snap.LastError,
		Cycles:        snap.Cycles,
		Failures:      snap.Failures,
		Communities:   len(snap.Communities),
		CounterPoints: len(snap.CounterPoints),
		Entities:      len(snap.Entities),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.poller.Refresh(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "refresh failed", slog.Any("error", err))
		var authErr *portal.AuthError
		if errors.As(err, &authErr) {
			writeJSONError(w, "portal rejected the credentials", http.StatusBadGateway)
			return
		}
		writeJSONError(w, fmt.Sprintf("refresh failed: %v", err), http.StatusBadGateway)
		return
	}
	writeJSON(w, s.status())
}

func (s *Server) handleGetPricing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.poller.Pricing())
}

// badPricingError marks a request body that could not be applied to the
// current pricing.
type badPricingError struct {
	err error
}

func (e badPricingError) Error() string {
	return fmt.Sprintf("invalid pricing: %v", e.err)
}

func (e badPricingError) Unwrap() error {
	return e.err
}

func (s *Server) handleUpdatePricing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		writeJSONError(w, fmt.Sprintf("failed to read body: %v", err), http.StatusBadRequest)
		return
	}

	// keys missing from the body keep their current price
	pricing, err := s.poller.UpdatePricing(ctx, func(current types.Pricing) (types.Pricing, error) {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&current); err != nil {
			return types.Pricing{}, badPricingError{err: err}
		}
		if err := current.Validate(); err != nil {
			return types.Pricing{}, err
		}
		return current, nil
	})
	if err != nil {
		var badErr badPricingError
		switch {
		case errors.As(err, &badErr):
			writeJSONError(w, badErr.Error(), http.StatusBadRequest)
		case errors.Is(err, types.ErrInvalidPricing):
			writeJSONError(w, err.Error(), http.StatusBadRequest)
		default:
			log.Ctx(ctx).ErrorContext(ctx, "failed to update pricing", slog.Any("error", err))
			writeJSONError(w, "failed to update pricing", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, pricing)
}
