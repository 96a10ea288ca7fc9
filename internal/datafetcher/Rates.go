/*

This file fetches current and historical base/rewards APY figures from the
rates API. A feed outage degrades the displayed yield to its remaining
components; it never blocks the transaction flow.

*/

package datafetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/superlend/superfund-core/internal/logger"
	"github.com/superlend/superfund-core/internal/types"
)

var ratesLogger = logger.GetForComponent("rates_retriever")

var (
	ErrRatesUnavailable = errors.New("rates feed unavailable")
	ErrInvalidRatesData = errors.New("invalid rates data received")
)

const (
	MAX_RETRIES     = 3
	TIMEOUT_SECONDS = 15
)

// RatesResponse is the wire shape of the current-rates endpoint.
type RatesResponse struct {
	BaseApy    float64 `json:"base_apy"`
	RewardsApy float64 `json:"rewards_apy"`
}

// HistoryResponse is the wire shape of the historical-series endpoint.
type HistoryResponse struct {
	Points []struct {
		Timestamp  int64   `json:"timestamp"`
		SpotApy    float64 `json:"spot_apy"`
		BaseApy    float64 `json:"base_apy"`
		RewardsApy float64 `json:"rewards_apy"`
	} `json:"points"`
}

// RatesClient reads the rates API.
type RatesClient struct {
	baseURL string
	client  *http.Client
}

// NewRatesClient creates a client for the given rates API base URL.
func NewRatesClient(baseURL string) *RatesClient {
	return &RatesClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: TIMEOUT_SECONDS * time.Second},
	}
}

// CurrentRates returns the current base and rewards APY. Values are
// validated for finiteness; negative or non-finite figures are rejected at
// the boundary so the aggregator only ever sees usable numbers.
func (rc *RatesClient) CurrentRates(ctx context.Context) (baseApy, rewardsApy float64, err error) {
	body, err := getWithRetries(ctx, rc.client, rc.baseURL+"/v1/rates/current", ratesLogger)
	if err != nil {
		return 0, 0, errors.Join(ErrRatesUnavailable, err)
	}

	var resp RatesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, 0, errors.Join(ErrInvalidRatesData, fmt.Errorf("failed to parse rates response: %w", err))
	}

	for _, v := range []struct {
		name  string
		value float64
	}{
		{"base_apy", resp.BaseApy},
		{"rewards_apy", resp.RewardsApy},
	} {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			return 0, 0, fmt.Errorf("%w: %s is not finite", ErrInvalidRatesData, v.name)
		}
		if v.value < 0 {
			return 0, 0, fmt.Errorf("%w: %s is negative: %f", ErrInvalidRatesData, v.name, v.value)
		}
	}

	ratesLogger.Debug().
		Float64("baseApy", resp.BaseApy).
		Float64("rewardsApy", resp.RewardsApy).
		Msg("Current rates fetched")

	return resp.BaseApy, resp.RewardsApy, nil
}

// History returns the time-bucketed APY series for the trailing-average
// computations, oldest first. Points with invalid timestamps are rejected;
// non-finite APY values are carried as zero per the degradation policy.
func (rc *RatesClient) History(ctx context.Context, days int) ([]types.ApyPoint, error) {
	url := fmt.Sprintf("%s/v1/rates/history?days=%d", rc.baseURL, days)
	body, err := getWithRetries(ctx, rc.client, url, ratesLogger)
	if err != nil {
		return nil, errors.Join(ErrRatesUnavailable, err)
	}

	var resp HistoryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Join(ErrInvalidRatesData, fmt.Errorf("failed to parse history response: %w", err))
	}

	points := make([]types.ApyPoint, 0, len(resp.Points))
	for i, p := range resp.Points {
		if p.Timestamp <= 0 {
			return nil, fmt.Errorf("%w: point %d has invalid timestamp %d", ErrInvalidRatesData, i, p.Timestamp)
		}
		points = append(points, types.ApyPoint{
			Timestamp:  time.Unix(p.Timestamp, 0),
			SpotApy:    sanitize(p.SpotApy),
			BaseApy:    sanitize(p.BaseApy),
			RewardsApy: sanitize(p.RewardsApy),
		})
	}

	// Chronological order is required downstream.
	for i := 1; i < len(points); i++ {
		if points[i].Timestamp.Before(points[i-1].Timestamp) {
			return nil, fmt.Errorf("%w: points not in chronological order at index %d", ErrInvalidRatesData, i)
		}
	}

	ratesLogger.Info().
		Int("points", len(points)).
		Int("days", days).
		Msg("APY history fetched")

	return points, nil
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
