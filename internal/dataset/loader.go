// Package dataset reads and checkpoints the spreadsheet of segments being
// classified. Every column of the source sheet is carried through; only the
// label columns are written by this system.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"transcript-classifier-go/internal/types"
)

var (
	ErrCheckpointWrite = errors.New("checkpoint write failed")
	ErrMissingColumn   = errors.New("missing column")
)

type Dataset struct {
	Sheet        string
	Header       []string
	Rows         []types.Row
	TextColumn   string
	EntityColumn string

	fields      []types.LabelField
	explanation bool
}

// Load reads the sheet (first sheet when empty or absent). The header row
// defines the schema; duplicate header names get a ".N" suffix. Blank rows
// between data rows are kept in place with empty text; only trailing blank
// rows are dropped.
func Load(path, sheet, textCol, entityCol string) (*Dataset, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	if idx, err := f.GetSheetIndex(sheet); sheet == "" || err != nil || idx < 0 {
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no header row")
	}

	d := &Dataset{Sheet: sheet, Header: dedupe(rows[0]), TextColumn: textCol, EntityColumn: entityCol}
	if !d.HasColumn(textCol) {
		return nil, fmt.Errorf("%w %q in %s", ErrMissingColumn, textCol, filepath.Base(path))
	}

	body := rows[1:]
	for len(body) > 0 && blank(body[len(body)-1]) {
		body = body[:len(body)-1]
	}
	for _, r := range body {
		cells := make(map[string]string, len(d.Header))
		for i, h := range d.Header {
			if i < len(r) {
				cells[h] = r[i]
			} else {
				cells[h] = ""
			}
		}
		d.Rows = append(d.Rows, types.Row{
			Index:    len(d.Rows),
			EntityID: strings.TrimSpace(cells[entityCol]),
			Text:     cells[textCol],
			Cells:    cells,
		})
	}
	return d, nil
}

func (d *Dataset) HasColumn(name string) bool {
	for _, h := range d.Header {
		if h == name {
			return true
		}
	}
	return false
}

// EnsureLabels appends any missing label columns (and the explanation column
// when enabled) as unset cells and fixes the label schema for the run.
func (d *Dataset) EnsureLabels(fields []types.LabelField, withExplanation bool) {
	d.fields = fields
	d.explanation = withExplanation
	cols := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		cols = append(cols, f.Column)
	}
	if withExplanation {
		cols = append(cols, types.ExplanationColumn)
	}
	for _, c := range cols {
		if d.HasColumn(c) {
			continue
		}
		d.Header = append(d.Header, c)
		for i := range d.Rows {
			d.Rows[i].Cells[c] = ""
		}
	}
}

func (d *Dataset) Fields() []types.LabelField { return d.fields }

// Label reads one label cell of row i.
func (d *Dataset) Label(i int, f types.LabelField) types.Label {
	return types.ParseLabel(d.Rows[i].Cells[f.Column])
}

// Pending returns, in dataset order, the rows with at least one unset label.
// Rows marked error are not pending.
func (d *Dataset) Pending() []int {
	var out []int
	for i := range d.Rows {
		for _, f := range d.fields {
			if d.Label(i, f).Pending() {
				out = append(out, i)
				break
			}
		}
	}
	return out
}

// ResetErrors turns every error label back into unset and returns the number
// of rows touched.
func (d *Dataset) ResetErrors() int {
	n := 0
	for i := range d.Rows {
		touched := false
		for _, f := range d.fields {
			if d.Label(i, f) == types.LabelError {
				d.Rows[i].Cells[f.Column] = string(types.LabelPending)
				touched = true
			}
		}
		if touched {
			n++
		}
	}
	return n
}

// Apply writes a classification into row i. Fields absent from c stay as
// they are.
func (d *Dataset) Apply(i int, c types.Classification) {
	cells := d.Rows[i].Cells
	for _, f := range d.fields {
		if l, ok := c.Labels[f.Key]; ok {
			cells[f.Column] = string(l)
		}
	}
	if d.explanation {
		cells[types.ExplanationColumn] = c.Explanation
	}
}

// Save writes the whole dataset to path through a temp file in the same
// directory and a rename, so a crash mid-write never leaves a torn file.
func (d *Dataset) Save(path string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := d.Sheet
	if sheet == "" {
		sheet = "Sheet1"
	}
	if def := f.GetSheetName(0); def != sheet {
		if err := f.SetSheetName(def, sheet); err != nil {
			return fmt.Errorf("%w: %w", ErrCheckpointWrite, err)
		}
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpointWrite, err)
	}
	header := make([]interface{}, len(d.Header))
	for i, h := range d.Header {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpointWrite, err)
	}
	for r, row := range d.Rows {
		vals := make([]interface{}, len(d.Header))
		for i, h := range d.Header {
			vals[i] = row.Cells[h]
		}
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := sw.SetRow(cell, vals); err != nil {
			return fmt.Errorf("%w: %w", ErrCheckpointWrite, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpointWrite, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpointWrite, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpointWrite, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := f.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", ErrCheckpointWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", ErrCheckpointWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpointWrite, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpointWrite, err)
	}
	return nil
}

func dedupe(header []string) []string {
	out := make([]string, len(header))
	seen := map[string]int{}
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "Unnamed: " + strconv.Itoa(i)
		}
		if n, ok := seen[h]; ok {
			seen[h] = n + 1
			out[i] = h + "." + strconv.Itoa(n+1)
			continue
		}
		seen[h] = 0
		out[i] = h
	}
	return out
}

func blank(r []string) bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
