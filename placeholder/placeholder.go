// Package placeholder hides engine control codes (icons, colours, name and
// variable references, generic formatting escapes) behind neutral tokens so
// that a translation backend cannot mangle them, and restores them afterwards.
//
// Substitution runs category by category in a fixed order. Within a category
// every distinct match gets a token of the form {Category_N}, numbered in
// first-seen order, and all occurrences of that match share the token.
package placeholder

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Category identifies one class of control code.
type Category int

const (
	// Nested matches a code whose argument is itself a code, e.g. \n[\v[3]].
	Nested Category = iota
	// Icon matches icon, wait and similar numeric codes, e.g. \I[64].
	Icon
	// Color matches colour changes, e.g. \C[2].
	Color
	// Name matches actor/party name references, e.g. \N[1].
	Name
	// Var matches variable references, e.g. \V[12].
	Var
	// Format matches any remaining backslash code with a bracketed argument.
	Format

	numCategories
)

var categoryNames = [numCategories]string{"Nested", "Ascii", "Color", "Noun", "Var", "FCode"}

// String returns the token prefix used for the category.
func (c Category) String() string {
	if c < 0 || c >= numCategories {
		return "Category(" + strconv.Itoa(int(c)) + ")"
	}
	return categoryNames[c]
}

// Categories returns all categories in substitution order.
func Categories() []Category {
	out := make([]Category, numCategories)
	for i := range out {
		out[i] = Category(i)
	}
	return out
}

var patterns = [numCategories]*regexp.Regexp{
	Nested: regexp.MustCompile(`\\+\w+\[\\+\w+\[[0-9]+\]\]`),
	Icon:   regexp.MustCompile(`\\+[iIkKwWaA]+\[[0-9]+\]`),
	Color:  regexp.MustCompile(`\\+[cC]\[[0-9]+\]`),
	Name:   regexp.MustCompile(`\\+[nN]\[.+?\]+`),
	Var:    regexp.MustCompile(`\\+[vV]\[[0-9]+\]`),
	Format: regexp.MustCompile(`\\+\w+\[.+?\]`),
}

var (
	tokenPattern = regexp.MustCompile(`\{(Nested|Ascii|Color|Noun|Var|FCode)_([0-9]+)\}`)
	looseToken   = regexp.MustCompile(`\{\s*(Nested|Ascii|Color|Noun|Var|FCode)\s*_\s*([0-9]+)\s*\}`)
	looseCodeArg = regexp.MustCompile(`(\\+[A-Za-z]+)\[\s*([0-9]+)\s*\]`)
)

// ErrGap is matched by errors.Is for every *GapError.
var ErrGap = errors.New("placeholder gap")

// GapError reports tokens that could not be restored, or a difference between
// the number of tokens emitted by Hide and the number consumed by Restore.
type GapError struct {
	Missing  []string
	Emitted  int
	Consumed int
}

func (e *GapError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("placeholder gap: unknown tokens %s (emitted %d, restored %d)",
			strings.Join(e.Missing, ", "), e.Emitted, e.Consumed)
	}
	return fmt.Sprintf("placeholder gap: emitted %d, restored %d", e.Emitted, e.Consumed)
}

// Is reports whether target is ErrGap.
func (e *GapError) Is(target error) bool {
	return target == ErrGap
}

// Map holds the originals for every token emitted by Hide.
type Map struct {
	originals [numCategories][]string
	emitted   int
}

// Len returns the number of distinct control codes recorded.
func (m Map) Len() int {
	n := 0
	for _, o := range m.originals {
		n += len(o)
	}
	return n
}

// Emitted returns how many token occurrences Hide wrote into its output.
func (m Map) Emitted() int {
	return m.emitted
}

// Originals returns the recorded codes of one category in token order.
func (m Map) Originals(c Category) []string {
	if c < 0 || c >= numCategories {
		return nil
	}
	return append([]string(nil), m.originals[c]...)
}

// Token formats the placeholder for index i of category c.
func Token(c Category, i int) string {
	return "{" + c.String() + "_" + strconv.Itoa(i) + "}"
}

// Hide replaces control codes in text with neutral tokens.
func Hide(text string) (string, Map) {
	var m Map
	for c := Nested; c < numCategories; c++ {
		seen := make(map[string]int)
		text = patterns[c].ReplaceAllStringFunc(text, func(match string) string {
			i, ok := seen[match]
			if !ok {
				i = len(m.originals[c])
				seen[match] = i
				// A later category can enclose an earlier token; keep the raw code.
				m.originals[c] = append(m.originals[c], m.expand(match))
			}
			return Token(c, i)
		})
	}
	// Tokens swallowed by a later, enclosing match are no longer present.
	m.emitted = len(tokenPattern.FindAllStringIndex(text, -1))
	return text, m
}

func (m *Map) expand(s string) string {
	if !strings.Contains(s, "{") {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		if orig, ok := m.lookup(tok); ok {
			return orig
		}
		return tok
	})
}

func (m *Map) lookup(tok string) (string, bool) {
	sub := tokenPattern.FindStringSubmatch(tok)
	if sub == nil {
		return "", false
	}
	c := categoryByName(sub[1])
	i, err := strconv.Atoi(sub[2])
	if c < 0 || err != nil || i >= len(m.originals[c]) {
		return "", false
	}
	return m.originals[c][i], true
}

func categoryByName(name string) Category {
	for i, n := range categoryNames {
		if n == name {
			return Category(i)
		}
	}
	return -1
}

// Normalize repairs whitespace a translation backend tends to add inside
// tokens and control-code arguments, e.g. "{ Color_0 }" or `\C[ 3 ]`.
// Bracketed numbers that follow no control code are left alone.
func Normalize(text string) string {
	text = looseToken.ReplaceAllString(text, "{${1}_${2}}")
	return looseCodeArg.ReplaceAllString(text, "${1}[${2}]")
}

// Restore puts the recorded control codes back in place of their tokens,
// category by category in substitution order. Tokens with no recorded
// original are left verbatim. The returned text is always the best-effort
// restoration; the error, when non-nil, is a *GapError.
func Restore(text string, m Map) (string, error) {
	out, consumed, missing := m.restore(text)
	if len(missing) > 0 || consumed != m.emitted {
		return out, &GapError{Missing: missing, Emitted: m.emitted, Consumed: consumed}
	}
	return out, nil
}

// RestoreAll restores a set of strings that were hidden together as one
// text, e.g. the lines of a batch payload. Emitted and consumed counts are
// compared across the whole set.
func RestoreAll(texts []string, m Map) ([]string, error) {
	out := make([]string, len(texts))
	consumed := 0
	var missing []string
	for i, t := range texts {
		r, n, miss := m.restore(t)
		out[i] = r
		consumed += n
		missing = append(missing, miss...)
	}
	if len(missing) > 0 || consumed != m.emitted {
		return out, &GapError{Missing: missing, Emitted: m.emitted, Consumed: consumed}
	}
	return out, nil
}

func (m *Map) restore(text string) (string, int, []string) {
	text = Normalize(text)

	consumed := 0
	var missing []string
	for c := Nested; c < numCategories; c++ {
		prefix := "{" + c.String() + "_"
		if !strings.Contains(text, prefix) {
			continue
		}
		text = tokenPattern.ReplaceAllStringFunc(text, func(tok string) string {
			if !strings.HasPrefix(tok, prefix) {
				return tok
			}
			if orig, ok := m.lookup(tok); ok {
				consumed++
				return orig
			}
			missing = append(missing, tok)
			return tok
		})
	}
	return text, consumed, missing
}
