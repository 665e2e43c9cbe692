package scorer

import (
	"math"

	"pinscout/internal/models"
)

const (
	TopN                  = 20
	SavesCeiling          = 500.0
	VolumeCeiling         = 1000.0
	VolumeWeight          = 0.6
	PopularityWeight      = 0.4
	LowCompetitionMaximum = 35
)

// Score rates keyword difficulty from 0 to 100. Volume of loaded pins weighs
// more than the average saves of the top TopN records.
func Score(records []models.Record, loadedCount int) int {
	top := records
	if len(top) > TopN {
		top = top[:TopN]
	}

	var avg float64
	if len(top) > 0 {
		total := 0
		for _, r := range top {
			total += r.Saves
		}
		avg = float64(total) / float64(len(top))
	}

	popularity := clamp01(avg / SavesCeiling)
	volume := clamp01(float64(loadedCount) / VolumeCeiling)

	score := int(math.Round(100 * (VolumeWeight*volume + PopularityWeight*popularity)))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func IsLowCompetition(score int) bool {
	return score <= LowCompetitionMaximum
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
