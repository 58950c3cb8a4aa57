package dataset

import (
	"sort"

	"transcript-classifier-go/internal/types"
)

type Stats struct {
	Total      int            `json:"total"`
	Classified int            `json:"classified"`
	Pending    int            `json:"pending"`
	Errors     int            `json:"errors"`
	Yes        map[string]int `json:"yes"`
	Entities   []string       `json:"entities"`
}

// Stats counts rows by state. A row with any unset label is pending; a
// fully labelled row with any error label counts as an error row.
func (d *Dataset) Stats() Stats {
	s := Stats{Total: len(d.Rows), Yes: make(map[string]int, len(d.fields))}
	entities := map[string]struct{}{}
	for i, r := range d.Rows {
		if r.EntityID != "" {
			entities[r.EntityID] = struct{}{}
		}
		pending, failed := false, false
		for _, f := range d.fields {
			switch d.Label(i, f) {
			case types.LabelPending:
				pending = true
			case types.LabelError:
				failed = true
			case types.LabelYes:
				s.Yes[f.Key]++
			}
		}
		switch {
		case pending:
			s.Pending++
		case failed:
			s.Errors++
		default:
			s.Classified++
		}
	}
	for e := range entities {
		s.Entities = append(s.Entities, e)
	}
	sort.Strings(s.Entities)
	return s
}
