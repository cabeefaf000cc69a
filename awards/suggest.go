package awards

import (
	"fmt"
	"log"
)

// strongGridCount is the per-band grid count that earns a mention.
const strongGridCount = 50

// Suggest turns a summary into readable award hints: achieved or close (within
// 10%) for DXCC and VUCC, plus bands with a strong grid count in band order.
// It never panics; an internal failure yields an empty list.
func Suggest(summary Summary, thresholds Thresholds) (out []string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("awards: suggestion failed: %v", r)
			out = []string{}
		}
	}()

	out = []string{}
	out = appendProgress(out, AwardDXCC, summary.UniqueCountries, thresholds.Goal(AwardDXCC), "unique countries", "countries")
	out = appendProgress(out, AwardVUCC, summary.UniqueGrids, thresholds.Goal(AwardVUCC), "unique grids", "grids")

	for _, band := range summary.Bands() {
		count := summary.GridsPerBand[band]
		if count < strongGridCount {
			continue
		}
		label := band
		if label == "" {
			label = "unknown"
		}
		out = append(out, fmt.Sprintf("Strong grid count on %s: %d", label, count))
	}
	return out
}

func appendProgress(out []string, award string, count, goal int, achievedUnit, closeUnit string) []string {
	switch {
	case count >= goal:
		return append(out, fmt.Sprintf("%s achieved: %d %s", award, count, achievedUnit))
	case count >= closeThreshold(goal):
		return append(out, fmt.Sprintf("%s close: %d %s (need %d more)", award, count, closeUnit, goal-count))
	default:
		return out
	}
}

// closeThreshold is floor(9*goal/10) without overflowing for very large goals.
func closeThreshold(goal int) int {
	return goal/10*9 + goal%10*9/10
}
