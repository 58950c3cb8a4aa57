package actionable

import (
	"fmt"

	"transcript-classifier-go/internal/aggregator"
)

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

const flagThreshold = 0.35

func Generate(ins aggregator.Insight) ActionCard {
	worst := ""
	highest := 0.0
	for id, v := range ins.FlagRate {
		if v > highest || (v == highest && v > 0 && id < worst) {
			highest = v
			worst = id
		}
	}
	if highest >= flagThreshold && worst != "" {
		return ActionCard{
			Insight: fmt.Sprintf("High share of flagged segments in video %s (%.0f%%)", worst, highest*100),
			Action:  fmt.Sprintf("Send the %d flagged segments of %s for legal review", ins.ByEntity[worst].Flagged, worst),
			Impact:  "Prioritise the video most likely to need a takedown or response",
		}
	}
	if ins.ErrorRows > 0 {
		return ActionCard{
			Insight: fmt.Sprintf("%d segments could not be classified", ins.ErrorRows),
			Action:  "Rerun the analysis with retry_errors enabled",
			Impact:  "Complete coverage before drawing conclusions",
		}
	}
	if ins.Flagged > 0 {
		return ActionCard{
			Insight: fmt.Sprintf("%d isolated flagged segments", ins.Flagged),
			Action:  "Spot-check flagged segments",
			Impact:  "Low immediate intervention",
		}
	}
	return ActionCard{
		Insight: "No harmful pattern detected",
		Action:  "Monitor new videos",
		Impact:  "Low immediate intervention",
	}
}
