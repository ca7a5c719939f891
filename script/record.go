// Package script models engine event scripts as flat lists of opcode records
// and walks them in two passes: Extract collects translatable units from a
// page without touching it, Reinsert builds a new page from the original
// records and the translations, in the same order the units were extracted.
package script

import (
	"errors"
	"fmt"
)

// Deleted marks a record that was merged into an earlier one. Sweep removes it.
const Deleted = -1

// ErrStructure reports a record whose parameters do not have the shape its
// code requires.
var ErrStructure = errors.New("unexpected record structure")

// Record is one opcode of an event script.
type Record struct {
	Code   int
	Indent int
	Params []any
}

// Param returns parameter i, or nil when out of range.
func (r Record) Param(i int) any {
	if i < 0 || i >= len(r.Params) {
		return nil
	}
	return r.Params[i]
}

// String returns parameter i as a string.
func (r Record) String(i int) (string, bool) {
	s, ok := r.Param(i).(string)
	return s, ok
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	if r.Params != nil {
		out.Params = cloneValue(r.Params).([]any)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Sweep returns the records that are not marked Deleted, in order.
func Sweep(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Code != Deleted {
			out = append(out, r)
		}
	}
	return out
}

func structureError(index int, code int, format string, args ...any) error {
	return fmt.Errorf("record %d (code %d): %s: %w", index, code, fmt.Sprintf(format, args...), ErrStructure)
}
