package model

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// ErrMalformedSeat is returned by ParseSeatID for labels that are not
// a row code followed by a column number.
var ErrMalformedSeat = errors.New("malformed seat id")

// SeatID identifies a seat inside a show's seat layout.  Row is a
// letter code ("A", "B", ..., "AA") and Column is 1-based.  SeatIDs
// are derived from their label and never stored on their own.
type SeatID struct {
	Row    string
	Column int
}

// ParseSeatID parses a label such as "A1" or "aa12".  Letters are
// upper-cased; surrounding whitespace is ignored.
func ParseSeatID(label string) (SeatID, error) {
	s := strings.ToUpper(strings.TrimSpace(label))
	i := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		i++
	}
	if i == 0 || i == len(s) {
		return SeatID{}, ErrMalformedSeat
	}
	col, err := strconv.Atoi(s[i:])
	if err != nil || col < 1 || s[i] == '0' {
		return SeatID{}, ErrMalformedSeat
	}
	return SeatID{Row: s[:i], Column: col}, nil
}

// String returns the canonical label, e.g. "A1".
func (id SeatID) String() string {
	return id.Row + strconv.Itoa(id.Column)
}

// SortSeatLabels orders labels by row then numeric column so "A2"
// precedes "A10" and "Z9" precedes "AA1".  Malformed labels sort last in
// lexical order.
func SortSeatLabels(labels []string) {
	sort.SliceStable(labels, func(i, j int) bool {
		a, errA := ParseSeatID(labels[i])
		b, errB := ParseSeatID(labels[j])
		switch {
		case errA != nil && errB != nil:
			return labels[i] < labels[j]
		case errA != nil:
			return false
		case errB != nil:
			return true
		}
		if len(a.Row) != len(b.Row) {
			return len(a.Row) < len(b.Row)
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Column < b.Column
	})
}
