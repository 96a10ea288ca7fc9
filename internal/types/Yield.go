/*

This file contains the types for yield components and historical APY data
used by the aggregator.

*/

package types

import "time"

// BoostScope tags a boost record as applying to all holders or only to the
// connected account. The feed used to signal this with free-text
// descriptions; the tag is the authoritative discriminator here.
type BoostScope string

const (
	BoostScopeGlobal   BoostScope = "global"
	BoostScopePersonal BoostScope = "personal"
)

// BoostEntry is one additive yield increment granted by a promotional or
// loyalty program.
type BoostEntry struct {
	Description string     `json:"description"`
	Scope       BoostScope `json:"scope"`
	Apy         float64    `json:"apy"`
}

// YieldComponents is the full set of independently sourced APY components.
// Instances are rebuilt wholesale on every fetch cycle and never mutated in
// place, so a reader can never observe a partially updated set.
type YieldComponents struct {
	BaseApy          float64   `json:"base_apy"`
	RewardsApy       float64   `json:"rewards_apy"`
	GlobalBoostApy   float64   `json:"global_boost_apy"`
	PersonalBoostApy float64   `json:"personal_boost_apy"`
	ProgramBoostApy  float64   `json:"program_boost_apy"`
	FetchedAt        time.Time `json:"fetched_at"`
}

// ApyPoint is one time-bucketed point of a historical APY series.
type ApyPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	SpotApy    float64   `json:"spot_apy"`
	BaseApy    float64   `json:"base_apy"`
	RewardsApy float64   `json:"rewards_apy"`
}

// ApySnapshot is the persisted form of an effective-APY computation.
type ApySnapshot struct {
	SnapshotID   int64           `json:"snapshot_id,omitempty"`
	Components   YieldComponents `json:"components"`
	EffectiveApy float64         `json:"effective_apy"`
	Timestamp    time.Time       `json:"timestamp"`
}
