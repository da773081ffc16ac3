// Package dataset is a small tabular layer over CSV payloads: header-aware
// access, typed column reads, and filtering. The built-in steps all speak
// CSV through it.
package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Table is an in-memory CSV dataset with a header row.
type Table struct {
	Header []string
	Rows   [][]string

	cols map[string]int
}

// New builds a table from a header and rows.
func New(header []string, rows [][]string) *Table {
	t := &Table{Header: header, Rows: rows}
	t.reindex()
	return t
}

// Read parses a CSV payload. The first record is the header.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("CSV payload has no header row")
	}
	header := records[0]
	rows := records[1:]
	for i, row := range rows {
		if len(row) != len(header) {
			return nil, fmt.Errorf("CSV row %d has %d fields, header has %d", i+1, len(row), len(header))
		}
	}
	return New(header, rows), nil
}

// ReadBytes parses a CSV payload held in memory.
func ReadBytes(data []byte) (*Table, error) {
	return Read(bytes.NewReader(data))
}

// Write renders the table back to CSV.
func (t *Table) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// Bytes renders the table to a CSV payload.
func (t *Table) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// Column returns the index of a named column.
func (t *Table) Column(name string) (int, error) {
	idx, ok := t.cols[name]
	if !ok {
		return 0, fmt.Errorf("dataset has no column %q", name)
	}
	return idx, nil
}

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.cols[name]
	return ok
}

// Value returns the raw cell at (row, named column).
func (t *Table) Value(row int, name string) (string, error) {
	idx, err := t.Column(name)
	if err != nil {
		return "", err
	}
	return t.Rows[row][idx], nil
}

// Float parses the cell at (row, named column) as a float. Empty cells are
// reported distinctly so callers can decide how to treat missing data.
func (t *Table) Float(row int, name string) (float64, error) {
	raw, err := t.Value(row, name)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, ErrMissing
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("row %d, column %q: %w", row, name, err)
	}
	return f, nil
}

// ErrMissing marks an empty cell in a typed read.
var ErrMissing = fmt.Errorf("missing value")

// Filter returns a new table keeping only rows the predicate accepts.
func (t *Table) Filter(keep func(row []string) bool) *Table {
	var rows [][]string
	for _, row := range t.Rows {
		if keep(row) {
			rows = append(rows, row)
		}
	}
	return New(t.Header, rows)
}

// Subset returns a new table over the given row indices.
func (t *Table) Subset(indices []int) *Table {
	rows := make([][]string, 0, len(indices))
	for _, i := range indices {
		rows = append(rows, t.Rows[i])
	}
	return New(t.Header, rows)
}

// Floats extracts a whole column as floats, skipping rows where the cell is
// empty. The returned indices identify the surviving rows.
func (t *Table) Floats(name string) (values []float64, indices []int, err error) {
	idx, err := t.Column(name)
	if err != nil {
		return nil, nil, err
	}
	for i, row := range t.Rows {
		raw := row[idx]
		if raw == "" {
			continue
		}
		f, perr := strconv.ParseFloat(raw, 64)
		if perr != nil {
			return nil, nil, fmt.Errorf("row %d, column %q: %w", i, name, perr)
		}
		values = append(values, f)
		indices = append(indices, i)
	}
	return values, indices, nil
}

func (t *Table) reindex() {
	t.cols = make(map[string]int, len(t.Header))
	for i, name := range t.Header {
		t.cols[name] = i
	}
}
