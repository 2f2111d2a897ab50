package document

import (
	"errors"
	"fmt"
	"maps"
)

const (
	// Rows is the number of rows in every grid.
	Rows = 10
	// Cols is the number of columns in every grid, labeled 'A' onward.
	Cols = 10
)

var (
	ErrRowOutOfRange = errors.New("row index out of range")
	ErrUnknownColumn = errors.New("unknown column")
)

// Columns lists the column labels in order: "A".."J".
var Columns = func() []string {
	cols := make([]string, Cols)
	for i := range cols {
		cols[i] = string(rune('A' + i))
	}
	return cols
}()

// Row maps a column label to the cell's text.
type Row map[string]string

// Grid is a fixed-shape table of text cells.
type Grid []Row

// NewGrid returns a Rows x Cols grid of empty cells.
func NewGrid() Grid {
	g := make(Grid, Rows)
	for i := range g {
		row := make(Row, Cols)
		for _, col := range Columns {
			row[col] = ""
		}
		g[i] = row
	}
	return g
}

// ValidColumn reports whether col is one of the grid's column labels.
func ValidColumn(col string) bool {
	return len(col) == 1 && col[0] >= 'A' && col[0] < 'A'+Cols
}

// Set overwrites the cell at (row, col).
func (g Grid) Set(row int, col, value string) error {
	if row < 0 || row >= len(g) {
		return fmt.Errorf("%w: %d", ErrRowOutOfRange, row)
	}
	if !ValidColumn(col) {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, col)
	}
	g[row][col] = value
	return nil
}

// Get returns the cell at (row, col), or "" when out of bounds.
func (g Grid) Get(row int, col string) string {
	if row < 0 || row >= len(g) {
		return ""
	}
	return g[row][col]
}

// Snapshot returns a deep copy of g.
func (g Grid) Snapshot() Grid {
	out := make(Grid, len(g))
	for i, row := range g {
		out[i] = maps.Clone(row)
	}
	return out
}
