// Package wrap reflows translated text to a fixed column width. Widths are
// measured in terminal cells, so full-width characters count double.
package wrap

import (
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

// Lines splits text into words and packs them greedily into lines no wider
// than width cells. Words wider than width are broken. A non-positive width
// disables wrapping and only collapses whitespace.
func Lines(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if width <= 0 {
		return []string{strings.Join(words, " ")}
	}

	var lines []string
	var cur strings.Builder
	curWidth := 0
	flush := func() {
		if curWidth > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
			curWidth = 0
		}
	}

	for _, w := range words {
		ww := runewidth.StringWidth(w)
		for ww > width {
			flush()
			head := runewidth.Truncate(w, width, "")
			if head == "" {
				_, size := utf8.DecodeRuneInString(w)
				head = w[:size]
			}
			lines = append(lines, head)
			w = w[len(head):]
			ww = runewidth.StringWidth(w)
		}
		if ww == 0 {
			continue
		}
		switch {
		case curWidth == 0:
			cur.WriteString(w)
			curWidth = ww
		case curWidth+1+ww <= width:
			cur.WriteByte(' ')
			cur.WriteString(w)
			curWidth += 1 + ww
		default:
			flush()
			cur.WriteString(w)
			curWidth = ww
		}
	}
	flush()
	return lines
}

// Fill is Lines joined with newlines.
func Fill(text string, width int) string {
	return strings.Join(Lines(text, width), "\n")
}
