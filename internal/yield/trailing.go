package yield

import (
	"time"

	"github.com/superlend/superfund-core/internal/types"
	"github.com/superlend/superfund-core/internal/utils"
)

// SeriesField selects which component of a historical series a trailing
// average is computed over.
type SeriesField string

const (
	FieldSpotApy    SeriesField = "spot"
	FieldBaseApy    SeriesField = "base"
	FieldRewardsApy SeriesField = "rewards"
)

// TrailingAverage returns the arithmetic mean of one series field over the
// most recent windowDays of points. A series shorter than the window is
// averaged over whatever is available; an empty series yields zero.
func TrailingAverage(series []types.ApyPoint, windowDays int, field SeriesField) float64 {
	if len(series) == 0 || windowDays <= 0 {
		return 0
	}

	// The window anchors on the newest point rather than wall-clock time so
	// a lagging feed still produces a full window.
	latest := series[0].Timestamp
	for _, p := range series {
		if p.Timestamp.After(latest) {
			latest = p.Timestamp
		}
	}
	cutoff := latest.Add(-time.Duration(windowDays) * 24 * time.Hour)

	var sum float64
	var count int
	for _, p := range series {
		if p.Timestamp.Before(cutoff) {
			continue
		}
		sum += utils.SanitizeApy(fieldValue(p, field))
		count++
	}

	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func fieldValue(p types.ApyPoint, field SeriesField) float64 {
	switch field {
	case FieldBaseApy:
		return p.BaseApy
	case FieldRewardsApy:
		return p.RewardsApy
	default:
		return p.SpotApy
	}
}
