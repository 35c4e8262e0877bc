// Package topiccache implements a read-through cache for historical
// telemetry and event topics. Each topic keeps a window of archive rows
// around the current playback position; the window grows forward or
// backward in bounded chunks as the position moves.
package topiccache

import (
	"fmt"
	"sort"
	"time"
)

// Row is a single archived sample: a primary timestamp plus field values
// keyed by field name. Scalar values are float64, int64, string or bool;
// array fields (actuator banks and similar) are []float64.
type Row struct {
	Timestamp time.Time
	Values    map[string]any
}

// Table is an ordered sequence of rows for one topic. Timestamps are
// strictly increasing; Append enforces the invariant.
type Table struct {
	rows []Row
}

// NewTable creates a table from rows that are already strictly increasing
// by timestamp. It panics when they are not, as the upstream data contract
// guarantees ordering.
func NewTable(rows ...Row) *Table {
	t := &Table{}
	for _, r := range rows {
		t.Append(r)
	}

	return t
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}

	return len(t.rows)
}

// Empty reports whether the table holds no rows.
func (t *Table) Empty() bool {
	return t.Len() == 0
}

// At returns the row at index i.
func (t *Table) At(i int) Row {
	return t.rows[i]
}

// First returns the earliest row. The table must not be empty.
func (t *Table) First() Row {
	return t.rows[0]
}

// Last returns the latest row. The table must not be empty.
func (t *Table) Last() Row {
	return t.rows[len(t.rows)-1]
}

// Append adds a row at the end. Panics when the row's timestamp is not
// strictly after the current last row.
func (t *Table) Append(row Row) {
	if len(t.rows) > 0 && !t.rows[len(t.rows)-1].Timestamp.Before(row.Timestamp) {
		panic(fmt.Sprintf(
			"topiccache: non-increasing timestamp %s after %s",
			row.Timestamp.Format(time.RFC3339Nano),
			t.rows[len(t.rows)-1].Timestamp.Format(time.RFC3339Nano),
		))
	}

	t.rows = append(t.rows, row)
}

// SearchAt returns the last row with a timestamp at or before timepoint.
// ok is false when every row is later than timepoint.
func (t *Table) SearchAt(timepoint time.Time) (row Row, ok bool) {
	if t.Empty() {
		return Row{}, false
	}

	// Index of the first row strictly after timepoint.
	i := sort.Search(len(t.rows), func(i int) bool {
		return t.rows[i].Timestamp.After(timepoint)
	})
	if i == 0 {
		return Row{}, false
	}

	return t.rows[i-1], true
}

// dropFirst returns the table without its first row.
func (t *Table) dropFirst() *Table {
	return &Table{rows: t.rows[1:]}
}

// dropLast returns the table without its last row.
func (t *Table) dropLast() *Table {
	return &Table{rows: t.rows[:len(t.rows)-1]}
}
