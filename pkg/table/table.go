// Package table holds the tabular simulator outputs (persons, trips) that
// filters and the share analysis work on.
package table

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

var (
	// ErrMissingColumn is returned when a required column is absent
	ErrMissingColumn = errors.New("missing column")

	// ErrNotNumeric is returned when a cell is not a finite number
	ErrNotNumeric = errors.New("not numeric")
)

// Table is an in-memory table of string cells. Rows share the column layout
// of Columns. Tables are treated as immutable; operations return new tables.
type Table struct {
	Columns []string
	Rows    [][]string

	index map[string]int
}

// New creates a table. rows are used as given, not copied.
func New(columns []string, rows [][]string) *Table {
	t := &Table{
		Columns: columns,
		Rows:    rows,
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if _, dup := t.index[c]; !dup {
			t.index[c] = i
		}
	}
	return t
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.Rows)
}

// Has reports whether the table has the named column
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Col returns the position of the named column
func (t *Table) Col(name string) (int, error) {
	i, ok := t.index[name]
	if !ok {
		return -1, fmt.Errorf("%w %q (have %s)", ErrMissingColumn, name, strings.Join(t.Columns, ", "))
	}
	return i, nil
}

// Float parses the cell at row, col as a float
func (t *Table) Float(row, col int) (float64, error) {
	cell := strings.TrimSpace(t.Rows[row][col])
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("row %d column %q: %w: %q", row+1, t.Columns[col], ErrNotNumeric, cell)
	}
	return v, nil
}

// Column returns all values of the named column
func (t *Table) Column(name string) ([]string, error) {
	c, err := t.Col(name)
	if err != nil {
		return nil, err
	}
	return lo.Map(t.Rows, func(r []string, _ int) string { return r[c] }), nil
}

// Where returns a table with the rows for which keep returns true
func (t *Table) Where(keep func(row []string) bool) *Table {
	rows := lo.Filter(t.Rows, func(r []string, _ int) bool { return keep(r) })
	return New(t.Columns, rows)
}
