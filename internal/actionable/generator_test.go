package actionable

import (
	"strings"
	"testing"

	"transcript-classifier-go/internal/aggregator"
)

func TestGenerate(t *testing.T) {
	cases := []struct {
		name string
		ins  aggregator.Insight
		want string
	}{
		{
			name: "hot video",
			ins: aggregator.Insight{
				Flagged:  4,
				FlagRate: map[string]float64{"v1": 0.8, "v2": 0.1},
				ByEntity: map[string]aggregator.EntityCounts{"v1": {Segments: 5, Flagged: 4}},
			},
			want: "video v1 (80%)",
		},
		{
			name: "errors only",
			ins:  aggregator.Insight{ErrorRows: 3, FlagRate: map[string]float64{"v1": 0}},
			want: "3 segments could not be classified",
		},
		{
			name: "quiet",
			ins:  aggregator.Insight{FlagRate: map[string]float64{}},
			want: "No harmful pattern",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			card := Generate(tc.ins)
			if !strings.Contains(card.Insight, tc.want) {
				t.Fatalf("insight = %q, want %q", card.Insight, tc.want)
			}
		})
	}
}
