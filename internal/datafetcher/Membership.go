/*

This file fetches the promotional program's allowlist. Membership is a
set-membership check, case-insensitive on the address, performed against
the most recent successful fetch.

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
)

var membershipLogger = logger.GetForComponent("membership_retriever")

var (
	ErrAllowlistUnavailable = errors.New("allowlist feed unavailable")
	ErrInvalidAllowlistData = errors.New("invalid allowlist data received")
)

// AllowlistResponse is the wire shape of the allowlist endpoint.
type AllowlistResponse struct {
	TargetApy float64  `json:"target_apy"`
	Addresses []string `json:"addresses"`
}

// Program holds the promotional program's membership set and target APY.
type Program struct {
	TargetApy float64
	members   map[string]struct{}
}

// IsMember reports whether the account is enrolled, case-insensitively.
func (p *Program) IsMember(account common.Address) bool {
	if p == nil {
		return false
	}
	_, ok := p.members[strings.ToLower(account.Hex())]
	return ok
}

// Size returns the number of enrolled addresses.
func (p *Program) Size() int {
	if p == nil {
		return 0
	}
	return len(p.members)
}

// MembershipClient reads the allowlist API.
type MembershipClient struct {
	baseURL           string
	client            *http.Client
	fallbackTargetApy float64
}

// NewMembershipClient creates a client for the given allowlist API base
// URL. The fallback target APY applies when the feed omits its own.
func NewMembershipClient(baseURL string, fallbackTargetApy float64) *MembershipClient {
	return &MembershipClient{
		baseURL:           baseURL,
		client:            &http.Client{Timeout: TIMEOUT_SECONDS * time.Second},
		fallbackTargetApy: fallbackTargetApy,
	}
}

// FetchProgram returns the current membership set. Malformed addresses are
// dropped with a warning rather than failing the whole set.
func (mc *MembershipClient) FetchProgram(ctx context.Context) (*Program, error) {
	body, err := getWithRetries(ctx, mc.client, mc.baseURL+"/v1/program/allowlist", membershipLogger)
	if err != nil {
		return nil, errors.Join(ErrAllowlistUnavailable, err)
	}

	var resp AllowlistResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Join(ErrInvalidAllowlistData, fmt.Errorf("failed to parse allowlist response: %w", err))
	}

	targetApy := sanitize(resp.TargetApy)
	if targetApy == 0 {
		targetApy = sanitize(mc.fallbackTargetApy)
	}

	members := make(map[string]struct{}, len(resp.Addresses))
	for _, raw := range resp.Addresses {
		if !common.IsHexAddress(raw) {
			membershipLogger.Warn().
				Str("address", raw).
				Msg("Allowlist entry is not a valid address, dropping")
			continue
		}
		members[strings.ToLower(common.HexToAddress(raw).Hex())] = struct{}{}
	}

	membershipLogger.Info().
		Int("members", len(members)).
		Float64("targetApy", targetApy).
		Msg("Program allowlist fetched")

	return &Program{TargetApy: targetApy, members: members}, nil
}
