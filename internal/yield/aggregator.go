/*

This file contains the effective-APY aggregation logic. The displayed yield
is the sum of independently sourced components, with the promotional program
boost topping the total up to a target rather than stacking on top of it.

All combination logic lives here; no other package derives an effective APY
on its own.

*/

package yield

import (
	"sync"
	"time"

	"github.com/superlend/superfund-core/internal/logger"
	"github.com/superlend/superfund-core/internal/types"
	"github.com/superlend/superfund-core/internal/utils"
)

var yieldLogger = logger.GetForComponent("yield_aggregator")

// ComputeEffectiveApy returns the single authoritative effective APY for a
// component set. Missing or invalid components have already been reduced to
// zero, so the result is a plain sum and never negative or NaN.
func ComputeEffectiveApy(c types.YieldComponents) float64 {
	return utils.SanitizeApy(c.BaseApy) +
		utils.SanitizeApy(c.RewardsApy) +
		utils.SanitizeApy(c.GlobalBoostApy) +
		utils.SanitizeApy(c.PersonalBoostApy) +
		utils.SanitizeApy(c.ProgramBoostApy)
}

// ProgramBoost computes the promotional program top-up: the increment that
// lifts the sum of all other components to the program's target APY. It is
// clamped at zero, never negative, so members already above the target get
// no reduction.
func ProgramBoost(targetApy float64, others ...float64) float64 {
	target := utils.SanitizeApy(targetApy)

	var sum float64
	for _, v := range others {
		sum += utils.SanitizeApy(v)
	}

	if sum >= target {
		return 0
	}
	return target - sum
}

// ClassifyBoosts splits boost entries into the additive global and personal
// APY components by their scope tag. Entries without a recognized scope are
// ignored rather than guessed at.
func ClassifyBoosts(entries []types.BoostEntry) (globalApy, personalApy float64) {
	for _, entry := range entries {
		switch entry.Scope {
		case types.BoostScopeGlobal:
			globalApy += utils.SanitizeApy(entry.Apy)
		case types.BoostScopePersonal:
			personalApy += utils.SanitizeApy(entry.Apy)
		default:
			yieldLogger.Warn().
				Str("description", entry.Description).
				Str("scope", string(entry.Scope)).
				Msg("Boost entry has unrecognized scope, skipping")
		}
	}
	return globalApy, personalApy
}

// BuildComponents assembles a fresh component set from raw feed values. The
// program boost applies only to verified members of the promotional
// program; for everyone else it is zero.
func BuildComponents(baseApy, rewardsApy float64, boosts []types.BoostEntry, isProgramMember bool, programTargetApy float64) types.YieldComponents {
	globalBoost, personalBoost := ClassifyBoosts(boosts)

	components := types.YieldComponents{
		BaseApy:          utils.SanitizeApy(baseApy),
		RewardsApy:       utils.SanitizeApy(rewardsApy),
		GlobalBoostApy:   globalBoost,
		PersonalBoostApy: personalBoost,
		FetchedAt:        time.Now(),
	}

	if isProgramMember {
		components.ProgramBoostApy = ProgramBoost(
			programTargetApy,
			components.BaseApy,
			components.RewardsApy,
			components.GlobalBoostApy,
			components.PersonalBoostApy,
		)
	}

	return components
}

// Aggregator holds the latest component snapshot. Snapshots are replaced
// wholesale on every refresh; a reader never sees a partially updated set.
// The freshness flag lets the UI show the last-known value with a loading
// indicator while a post-transaction refresh is in flight.
type Aggregator struct {
	mu      sync.RWMutex
	current types.YieldComponents
	fresh   bool
}

// NewAggregator returns an aggregator with zeroed components and no
// freshness claim.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Update replaces the current component set and marks it fresh.
func (a *Aggregator) Update(components types.YieldComponents) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = components
	a.fresh = true

	yieldLogger.Debug().
		Float64("baseApy", components.BaseApy).
		Float64("rewardsApy", components.RewardsApy).
		Float64("globalBoostApy", components.GlobalBoostApy).
		Float64("personalBoostApy", components.PersonalBoostApy).
		Float64("programBoostApy", components.ProgramBoostApy).
		Float64("effectiveApy", ComputeEffectiveApy(components)).
		Msg("Yield components replaced")
}

// MarkStale flags the current snapshot as awaiting a refresh. The values
// stay readable; only the freshness claim is withdrawn.
func (a *Aggregator) MarkStale() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fresh = false
}

// Snapshot returns the last-known component set, its effective APY, and
// whether the snapshot is fresh.
func (a *Aggregator) Snapshot() (types.YieldComponents, float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current, ComputeEffectiveApy(a.current), a.fresh
}
