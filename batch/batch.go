// Package batch groups translation units into fixed-size batches and
// serializes them into the tagged line format exchanged with the model:
//
//	<Line0>`first unit`</Line0>
//	<Line1>`second unit`</Line1>
//
// Indexes are local to a batch. Parse extracts the units back and reports a
// mismatch when the model merged, split or dropped lines.
package batch

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// EmptyText stands in for an empty unit so the model still returns a line for it.
const EmptyText = "Placeholder Text"

// ErrMismatch is matched by errors.Is for every *MismatchError.
var ErrMismatch = errors.New("batch mismatch")

// MismatchError reports a parsed line count different from the sent count.
type MismatchError struct {
	Expected int
	Got      int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("batch mismatch: sent %d lines, got %d", e.Expected, e.Got)
}

// Is reports whether target is ErrMismatch.
func (e *MismatchError) Is(target error) bool {
	return target == ErrMismatch
}

// Make splits items into consecutive batches of at most size items.
// A non-positive size yields a single batch.
func Make[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]T{items}
	}
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

// Serialize renders units as tagged lines joined by newlines. Newlines inside
// a unit are flattened to spaces so every unit stays on one line.
func Serialize(units []string) string {
	var sb strings.Builder
	for i, u := range units {
		if i > 0 {
			sb.WriteByte('\n')
		}
		u = strings.ReplaceAll(u, "\r\n", " ")
		u = strings.ReplaceAll(u, "\n", " ")
		if u == "" {
			u = EmptyText
		}
		n := strconv.Itoa(i)
		sb.WriteString("<Line" + n + ">`" + u + "`</Line" + n + ">")
	}
	return sb.String()
}

var linePattern = regexp.MustCompile("<Line(\\d+)>\\\\*`?(.*?)\\\\*?`?</Line\\d+>")

// Parse extracts units from a model reply. Lines without a well-formed tag are
// ignored. When the number of units differs from expected, the parsed units
// are returned together with a *MismatchError.
func Parse(reply string, expected int) ([]string, error) {
	var out []string
	for _, line := range strings.Split(reply, "\n") {
		m := linePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		text := strings.TrimSpace(strings.ReplaceAll(m[2], EmptyText, ""))
		out = append(out, text)
	}
	if len(out) != expected {
		return out, &MismatchError{Expected: expected, Got: len(out)}
	}
	return out, nil
}
