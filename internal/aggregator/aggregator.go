package aggregator

import "transcript-classifier-go/internal/types"

type EntityCounts struct {
	Segments int            `json:"segments"`
	Flagged  int            `json:"flagged"`
	Errors   int            `json:"errors"`
	Yes      map[string]int `json:"yes"`
}

type Insight struct {
	Total       int                     `json:"total"`
	Flagged     int                     `json:"flagged"`
	ErrorRows   int                     `json:"error_rows"`
	Pending     int                     `json:"pending"`
	LabelCounts map[string]int          `json:"label_counts"`
	FlagRate    map[string]float64      `json:"flag_rate_by_entity"`
	ByEntity    map[string]EntityCounts `json:"by_entity"`
}

// Aggregate counts label outcomes per entity. A segment is flagged when any
// label is yes.
func Aggregate(rows []types.Row, fields []types.LabelField) Insight {
	ins := Insight{
		LabelCounts: map[string]int{},
		FlagRate:    map[string]float64{},
		ByEntity:    map[string]EntityCounts{},
	}
	for _, r := range rows {
		ins.Total++
		ec := ins.ByEntity[r.EntityID]
		if ec.Yes == nil {
			ec.Yes = map[string]int{}
		}
		ec.Segments++
		flagged, failed, pending := false, false, false
		for _, f := range fields {
			switch types.ParseLabel(r.Cells[f.Column]) {
			case types.LabelYes:
				flagged = true
				ins.LabelCounts[f.Key]++
				ec.Yes[f.Key]++
			case types.LabelError:
				failed = true
			case types.LabelPending:
				pending = true
			}
		}
		if flagged {
			ins.Flagged++
			ec.Flagged++
		}
		if failed {
			ins.ErrorRows++
			ec.Errors++
		}
		if pending {
			ins.Pending++
		}
		ins.ByEntity[r.EntityID] = ec
	}
	for id, ec := range ins.ByEntity {
		if ec.Segments > 0 {
			ins.FlagRate[id] = float64(ec.Flagged) / float64(ec.Segments)
		} else {
			ins.FlagRate[id] = 0
		}
	}
	return ins
}
