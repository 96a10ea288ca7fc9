/*

This file fetches per-user boost entries from the rewards API. Entries carry
an explicit scope tag; entries from the legacy feed shape that only carry a
free-text description are mapped onto a tag at this boundary and nowhere
else.

*/

package datafetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/superlend/superfund-core/internal/logger"
	"github.com/superlend/superfund-core/internal/types"
)

var boostsLogger = logger.GetForComponent("boosts_retriever")

var (
	ErrBoostsUnavailable = errors.New("boosts feed unavailable")
	ErrInvalidBoostsData = errors.New("invalid boosts data received")
)

// Legacy description phrases the feed used before it grew a scope field.
const (
	legacyGlobalPhrase   = "all holders"
	legacyPersonalPhrase = "your account"
)

// BoostsResponse is the wire shape of the rewards endpoint.
type BoostsResponse struct {
	Boosts []struct {
		Description string  `json:"description"`
		Scope       string  `json:"scope,omitempty"`
		Apy         float64 `json:"apy"`
	} `json:"boosts"`
}

// BoostsClient reads the rewards API.
type BoostsClient struct {
	baseURL string
	client  *http.Client
}

// NewBoostsClient creates a client for the given rewards API base URL.
func NewBoostsClient(baseURL string) *BoostsClient {
	return &BoostsClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: TIMEOUT_SECONDS * time.Second},
	}
}

// UserBoosts returns the boost entries applicable to the given account.
func (bc *BoostsClient) UserBoosts(ctx context.Context, account common.Address) ([]types.BoostEntry, error) {
	url := fmt.Sprintf("%s/v1/rewards/%s", bc.baseURL, strings.ToLower(account.Hex()))
	body, err := getWithRetries(ctx, bc.client, url, boostsLogger)
	if err != nil {
		return nil, errors.Join(ErrBoostsUnavailable, err)
	}

	var resp BoostsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Join(ErrInvalidBoostsData, fmt.Errorf("failed to parse boosts response: %w", err))
	}

	entries := make([]types.BoostEntry, 0, len(resp.Boosts))
	for _, b := range resp.Boosts {
		entry := types.BoostEntry{
			Description: b.Description,
			Scope:       normalizeScope(b.Scope, b.Description),
			Apy:         sanitize(b.Apy),
		}
		if entry.Scope == "" {
			boostsLogger.Warn().
				Str("description", b.Description).
				Msg("Boost entry has no resolvable scope, dropping")
			continue
		}
		entries = append(entries, entry)
	}

	boostsLogger.Debug().
		Str("account", account.Hex()).
		Int("entries", len(entries)).
		Msg("User boosts fetched")

	return entries, nil
}

// normalizeScope resolves the explicit tag when present and falls back to
// the legacy description phrasing otherwise.
func normalizeScope(scope, description string) types.BoostScope {
	switch strings.ToLower(strings.TrimSpace(scope)) {
	case string(types.BoostScopeGlobal):
		return types.BoostScopeGlobal
	case string(types.BoostScopePersonal):
		return types.BoostScopePersonal
	}

	lower := strings.ToLower(description)
	if strings.Contains(lower, legacyGlobalPhrase) {
		return types.BoostScopeGlobal
	}
	if strings.Contains(lower, legacyPersonalPhrase) {
		return types.BoostScopePersonal
	}
	return ""
}
