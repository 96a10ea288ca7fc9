/*

This file contains the yield component refresh loop. Every cycle pulls the
rates, boosts, and allowlist feeds, rebuilds the component set wholesale,
and hands it to the aggregator. Confirmed vault actions invalidate the
current snapshot and trigger an immediate out-of-band refresh.

*/

package refresher

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/superlend/superfund-core/internal/datafetcher"
	"github.com/superlend/superfund-core/internal/logger"
	"github.com/superlend/superfund-core/internal/state"
	"github.com/superlend/superfund-core/internal/types"
	"github.com/superlend/superfund-core/internal/yield"
)

// Config holds the refresher's dependencies.
type Config struct {
	Rates      *datafetcher.RatesClient
	Boosts     *datafetcher.BoostsClient
	Membership *datafetcher.MembershipClient
	Aggregator *yield.Aggregator
	Account    common.Address
	// Persist controls whether each refresh writes an APY snapshot row.
	Persist bool
}

// Refresher drives the periodic component refresh.
type Refresher struct {
	logger     zerolog.Logger
	rates      *datafetcher.RatesClient
	boosts     *datafetcher.BoostsClient
	membership *datafetcher.MembershipClient
	agg        *yield.Aggregator
	account    common.Address
	persist    bool
	trigger    chan struct{}
}

// New creates a refresher with dependency injection.
func New(cfg Config) (*Refresher, error) {
	if cfg.Rates == nil {
		return nil, fmt.Errorf("rates client cannot be nil")
	}
	if cfg.Boosts == nil {
		return nil, fmt.Errorf("boosts client cannot be nil")
	}
	if cfg.Membership == nil {
		return nil, fmt.Errorf("membership client cannot be nil")
	}
	if cfg.Aggregator == nil {
		return nil, fmt.Errorf("aggregator cannot be nil")
	}

	return &Refresher{
		logger:     logger.GetForComponent("yield_refresher"),
		rates:      cfg.Rates,
		boosts:     cfg.Boosts,
		membership: cfg.Membership,
		agg:        cfg.Aggregator,
		account:    cfg.Account,
		persist:    cfg.Persist,
		trigger:    make(chan struct{}, 1),
	}, nil
}

// RunLoop refreshes on the given interval until the context is cancelled.
// The first cycle runs immediately; an Invalidate call forces a cycle
// out-of-band.
func (r *Refresher) RunLoop(ctx context.Context, interval time.Duration) {
	r.logger.Info().Dur("interval", interval).Msg("Starting yield refresh loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.RefreshOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Yield refresh loop stopped due to context cancellation")
			return
		case <-ticker.C:
			r.RefreshOnce(ctx)
		case <-r.trigger:
			r.RefreshOnce(ctx)
		}
	}
}

// Invalidate withdraws the current snapshot's freshness claim and requests
// an immediate refresh. Until it completes, readers see the last-known
// value flagged as stale rather than a stale-but-confident number.
func (r *Refresher) Invalidate() {
	r.agg.MarkStale()
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// RefreshOnce rebuilds the component set from the feeds. Each feed failure
// degrades its components to zero; a refresh never fails outright.
func (r *Refresher) RefreshOnce(ctx context.Context) {
	baseApy, rewardsApy, err := r.rates.CurrentRates(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Rates feed failed, base and rewards APY degrade to zero")
		baseApy, rewardsApy = 0, 0
	}

	boosts, err := r.boosts.UserBoosts(ctx, r.account)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Boosts feed failed, boost components degrade to zero")
		boosts = nil
	}

	var isMember bool
	var targetApy float64
	program, err := r.membership.FetchProgram(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Allowlist feed failed, program boost degrades to zero")
	} else {
		isMember = program.IsMember(r.account)
		targetApy = program.TargetApy
	}

	components := yield.BuildComponents(baseApy, rewardsApy, boosts, isMember, targetApy)
	r.agg.Update(components)

	if r.persist {
		snapshot := types.ApySnapshot{
			Components:   components,
			EffectiveApy: yield.ComputeEffectiveApy(components),
			Timestamp:    components.FetchedAt,
		}
		if _, err := state.SaveApySnapshot(snapshot); err != nil {
			r.logger.Error().Err(err).Msg("Failed to persist APY snapshot")
		}
	}
}
