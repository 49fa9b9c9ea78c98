// Package form holds the production entry form: its field state, the shift
// derived from the time field, and the submit and export operations.
package form

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"prodcount/internal/backend"
	"prodcount/internal/shift"
)

// Field names a form input. The values double as HTML input names.
type Field string

const (
	FieldDate     Field = "date"
	FieldTime     Field = "time"
	FieldShift    Field = "shift"
	FieldLine     Field = "line"
	FieldProduct  Field = "product"
	FieldOperator Field = "operator"
	FieldCount    Field = "count"
	FieldDefects  Field = "defects"
	FieldNotes    Field = "notes"
)

// EditableFields lists every field a user may set. Shift is not among them.
var EditableFields = []Field{
	FieldDate, FieldTime, FieldLine, FieldProduct, FieldOperator,
	FieldCount, FieldDefects, FieldNotes,
}

// Layouts of the date and time inputs.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// State mirrors the form inputs. Every value is kept as the raw text the
// input holds; numbers are only interpreted when a payload is built.
type State struct {
	Date     string
	Time     string
	Shift    string
	Line     string
	Product  string
	Operator string
	Count    string
	Defects  string
	Notes    string
}

// NewState returns the state of a freshly loaded form at now.
func NewState(now time.Time) State {
	hm := now.Format(TimeLayout)
	return State{
		Date:    now.Format(DateLayout),
		Time:    hm,
		Shift:   shift.Resolve(hm),
		Defects: "0",
	}
}

// Get returns the value of f.
func (s *State) Get(f Field) (string, error) {
	if f == FieldShift {
		return s.Shift, nil
	}
	p, err := s.field(f)
	if err != nil {
		return "", err
	}
	return *p, nil
}

// set assigns an editable field and re-derives Shift when Time changes.
func (s *State) set(f Field, v string) error {
	p, err := s.field(f)
	if err != nil {
		return err
	}
	*p = v
	if f == FieldTime {
		s.Shift = shift.Resolve(v)
	}
	return nil
}

func (s *State) field(f Field) (*string, error) {
	switch f {
	case FieldDate:
		return &s.Date, nil
	case FieldTime:
		return &s.Time, nil
	case FieldLine:
		return &s.Line, nil
	case FieldProduct:
		return &s.Product, nil
	case FieldOperator:
		return &s.Operator, nil
	case FieldCount:
		return &s.Count, nil
	case FieldDefects:
		return &s.Defects, nil
	case FieldNotes:
		return &s.Notes, nil
	case FieldShift:
		return nil, ErrReadOnlyField
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownField, string(f))
}

// clearCounts empties the per-entry fields after a save so the next entry for
// the same shift, line and operator only needs new numbers.
func (s *State) clearCounts() {
	s.Count = ""
	s.Defects = "0"
	s.Notes = ""
}

// Entry builds the create-record payload. It enforces the same constraints
// the form inputs declare: date, time and count are required, count and
// defects are non-negative whole numbers. An empty defects counts as 0.
func (s *State) Entry() (backend.Entry, error) {
	for _, req := range []struct {
		f Field
		v string
	}{{FieldDate, s.Date}, {FieldTime, s.Time}, {FieldCount, s.Count}} {
		if strings.TrimSpace(req.v) == "" {
			return backend.Entry{}, &ValidationError{Field: req.f, Reason: "is required"}
		}
	}
	count, err := parseCount(FieldCount, s.Count)
	if err != nil {
		return backend.Entry{}, err
	}
	defects, err := parseCount(FieldDefects, s.Defects)
	if err != nil {
		return backend.Entry{}, err
	}
	return backend.Entry{
		Date:     s.Date,
		Time:     s.Time,
		Shift:    s.Shift,
		Line:     s.Line,
		Product:  s.Product,
		Operator: s.Operator,
		Count:    count,
		Defects:  defects,
		Notes:    s.Notes,
	}, nil
}

func parseCount(f Field, v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ValidationError{Field: f, Reason: "must be a whole number"}
	}
	if n < 0 {
		return 0, &ValidationError{Field: f, Reason: "must be 0 or more"}
	}
	return n, nil
}

// FileName is the name an export for date and shift is saved under.
func FileName(date, shiftLabel string) string {
	return fmt.Sprintf("production_%s_shift_%s.xlsx", date, shiftLabel)
}
