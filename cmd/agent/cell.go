package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"collabgrid/internal/document"
)

var errBadAssignment = errors.New("assignment must look like B3=42")

// assignment is one --set flag: a cell and the value to write into it.
type assignment struct {
	CellID string
	Row    int
	Field  string
	Value  string
}

// parseAssignment parses "B3=42" into column B, row index 2. Rows are
// numbered from 1 on the command line, as a spreadsheet shows them.
func parseAssignment(s string) (assignment, error) {
	cell, value, ok := strings.Cut(s, "=")
	if !ok {
		return assignment{}, fmt.Errorf("%q: %w", s, errBadAssignment)
	}
	cell = strings.ToUpper(strings.TrimSpace(cell))
	if len(cell) < 2 {
		return assignment{}, fmt.Errorf("%q: %w", s, errBadAssignment)
	}

	field := cell[:1]
	if !document.ValidColumn(field) {
		return assignment{}, fmt.Errorf("%q: %w", s, document.ErrUnknownColumn)
	}
	n, err := strconv.Atoi(cell[1:])
	if err != nil {
		return assignment{}, fmt.Errorf("%q: %w", s, errBadAssignment)
	}
	if n < 1 || n > document.Rows {
		return assignment{}, fmt.Errorf("%q: %w", s, document.ErrRowOutOfRange)
	}
	return assignment{CellID: cell, Row: n - 1, Field: field, Value: value}, nil
}
