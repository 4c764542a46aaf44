package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/raterudder/energycommunity/pkg/energy"
	"github.com/raterudder/energycommunity/pkg/log"
	"github.com/raterudder/energycommunity/pkg/types"
)

const (
	communitiesPath   = "/vis/community"
	counterPointsPath = "/vis/counter_point"

	// DefaultView is the energy_data granularity the portal is asked for.
	DefaultView = "month"
)

// GetCommunities lists the communities the account belongs to.
func (c *Client) GetCommunities(ctx context.Context) ([]types.Community, error) {
	body, err := c.Request(ctx, http.MethodGet, communitiesPath, nil)
	if err != nil {
		return nil, err
	}
	var communities []types.Community
	if err := json.Unmarshal(body, &communities); err != nil {
		return nil, fmt.Errorf("failed to decode communities: %w", err)
	}
	return communities, nil
}

// GetCounterPoints lists the metering points of the account.
func (c *Client) GetCounterPoints(ctx context.Context) ([]types.CounterPoint, error) {
	body, err := c.Request(ctx, http.MethodGet, counterPointsPath, nil)
	if err != nil {
		return nil, err
	}
	var points []types.CounterPoint
	if err := json.Unmarshal(body, &points); err != nil {
		return nil, fmt.Errorf("failed to decode counter points: %w", err)
	}
	return points, nil
}

// GetCommunityEnergyData fetches the energy data of a community. An empty
// view means DefaultView and an empty month means the current month.
func (c *Client) GetCommunityEnergyData(ctx context.Context, id int64, view, month string) (types.EnergyData, error) {
	return c.getEnergyData(ctx, communitiesPath, id, view, month)
}

// GetCounterPointEnergyData fetches the energy data of a counter point. An
// empty view means DefaultView and an empty month means the current month.
func (c *Client) GetCounterPointEnergyData(ctx context.Context, id int64, view, month string) (types.EnergyData, error) {
	return c.getEnergyData(ctx, counterPointsPath, id, view, month)
}

func (c *Client) getEnergyData(ctx context.Context, base string, id int64, view, month string) (types.EnergyData, error) {
	if view == "" {
		view = DefaultView
	}
	if month == "" {
		month = c.now().Format("2006-01")
	}
	path, err := url.JoinPath(base, strconv.FormatInt(id, 10), "energy_data")
	if err != nil {
		return types.EnergyData{}, err
	}
	params := url.Values{}
	params.Set("view", view)
	params.Set("time", month)

	body, err := c.Request(ctx, http.MethodGet, path, params)
	if err != nil {
		return types.EnergyData{}, err
	}
	data, err := energy.Parse(body)
	if err != nil {
		// an unusable payload shows up as no data rather than failing the cycle
		log.Ctx(ctx).WarnContext(ctx, "failed to parse energy data", slog.String("path", path), slog.Any("error", err))
		return energy.Empty(), nil
	}
	return data, nil
}

// ValidateCredentials logs in and checks that the account belongs to at least
// one community.
func (c *Client) ValidateCredentials(ctx context.Context) ([]types.Community, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	communities, err := c.GetCommunities(ctx)
	if err != nil {
		return nil, err
	}
	if len(communities) == 0 {
		return nil, &AuthError{Reason: "account has no communities"}
	}
	return communities, nil
}
