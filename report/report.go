// Package report collects run-wide statistics from concurrent workers and
// renders the per-file and aggregate result lines and the run summary.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/minios-linux/gametl/translate"
)

// ---------------------------------------------------------------------------
// Accumulator
// ---------------------------------------------------------------------------

// Mismatch identifies a page left untranslated because a batch came back
// with the wrong number of lines.
type Mismatch struct {
	File   string `yaml:"file"`
	Page   string `yaml:"page"`
	Reason string `yaml:"reason,omitempty"`
}

// Name is a speaker or NPC name discovered during the run.
type Name struct {
	Source      string `yaml:"source"`
	Translation string `yaml:"translation"`
}

// FileResult is the outcome of one input file.
type FileResult struct {
	File       string
	Tokens     translate.Tokens
	Elapsed    time.Duration
	Err        error
	Unchanged  bool
	Mismatches int
}

// Accumulator is shared by every file and page worker of a run.
type Accumulator struct {
	mu         sync.Mutex
	tokens     translate.Tokens
	names      map[string]string
	nameOrder  []string
	mismatches []Mismatch
	results    []FileResult
	gaps       int
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{names: make(map[string]string)}
}

// AddTokens adds to the run total.
func (a *Accumulator) AddTokens(t translate.Tokens) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens = a.tokens.Add(t)
}

// Tokens returns the run total.
func (a *Accumulator) Tokens() translate.Tokens {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tokens
}

// AddName records a discovered name. The first translation seen wins.
func (a *Accumulator) AddName(source, translation string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.names[source]; ok {
		return
	}
	a.names[source] = translation
	a.nameOrder = append(a.nameOrder, source)
}

// Name returns the recorded translation of a name.
func (a *Accumulator) Name(source string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.names[source]
	return t, ok
}

// Names returns discovered names in discovery order.
func (a *Accumulator) Names() []Name {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Name, 0, len(a.nameOrder))
	for _, s := range a.nameOrder {
		out = append(out, Name{Source: s, Translation: a.names[s]})
	}
	return out
}

// AddMismatch records a page skipped because of a batch mismatch.
func (a *Accumulator) AddMismatch(file, page, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mismatches = append(a.mismatches, Mismatch{File: file, Page: page, Reason: reason})
}

// Mismatches returns recorded mismatches sorted by file and page.
func (a *Accumulator) Mismatches() []Mismatch {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := append([]Mismatch(nil), a.mismatches...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Page < out[j].Page
	})
	return out
}

// AddGap counts a placeholder restoration gap.
func (a *Accumulator) AddGap() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gaps++
}

// Gaps returns the number of placeholder gaps seen.
func (a *Accumulator) Gaps() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gaps
}

// AddResult records the outcome of a file.
func (a *Accumulator) AddResult(r FileResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, r)
}

// Results returns file outcomes sorted by file name.
func (a *Accumulator) Results() []FileResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := append([]FileResult(nil), a.results...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out
}

// Failed returns how many files failed.
func (a *Accumulator) Failed() int {
	n := 0
	for _, r := range a.Results() {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Pricing
// ---------------------------------------------------------------------------

// Pricing is the price in USD per 1000 tokens.
type Pricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

var modelPricing = []struct {
	prefix  string
	pricing Pricing
}{
	{"gpt-3.5", Pricing{Input: 0.002, Output: 0.002}},
	{"gpt-4o-mini", Pricing{Input: 0.00015, Output: 0.0006}},
	{"gpt-4o", Pricing{Input: 0.0025, Output: 0.01}},
	{"gpt-4", Pricing{Input: 0.01, Output: 0.03}},
}

// PricingFor returns the known price of a model, or the gpt-4 price when the
// model is unknown.
func PricingFor(model string) Pricing {
	for _, p := range modelPricing {
		if strings.HasPrefix(model, p.prefix) {
			return p.pricing
		}
	}
	return Pricing{Input: 0.01, Output: 0.03}
}

// Cost returns the price of t.
func (p Pricing) Cost(t translate.Tokens) float64 {
	return float64(t.Input)/1000*p.Input + float64(t.Output)/1000*p.Output
}

// ---------------------------------------------------------------------------
// Result lines
// ---------------------------------------------------------------------------

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

func stats(t translate.Tokens, p Pricing, elapsed time.Duration) string {
	return fmt.Sprintf("[Input: %d][Output: %d][Cost: $%.4f][%.1fs]",
		t.Input, t.Output, p.Cost(t), elapsed.Seconds())
}

// FileLine renders the outcome of one file.
func FileLine(r FileResult, p Pricing) string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("%s: %s %s %v", r.File, stats(r.Tokens, p, r.Elapsed), red("✗"), r.Err)
	case r.Unchanged:
		return fmt.Sprintf("%s: %s", r.File, cyan("unchanged, skipped"))
	case r.Mismatches > 0:
		return fmt.Sprintf("%s: %s %s %d page(s) mismatched", r.File, stats(r.Tokens, p, r.Elapsed), yellow("!"), r.Mismatches)
	}
	return fmt.Sprintf("%s: %s %s", r.File, stats(r.Tokens, p, r.Elapsed), green("✓"))
}

// TotalLine renders the aggregate line of a run.
func TotalLine(t translate.Tokens, p Pricing, elapsed time.Duration) string {
	return "TOTAL: " + stats(t, p, elapsed)
}

// ---------------------------------------------------------------------------
// Run summary
// ---------------------------------------------------------------------------

// FileSummary is the YAML form of a FileResult.
type FileSummary struct {
	File       string           `yaml:"file"`
	Tokens     translate.Tokens `yaml:"tokens"`
	Cost       float64          `yaml:"cost"`
	Seconds    float64          `yaml:"seconds"`
	Status     string           `yaml:"status"`
	Error      string           `yaml:"error,omitempty"`
	Mismatches int              `yaml:"mismatches,omitempty"`
}

// Summary is written at the end of a run.
type Summary struct {
	RunID      string           `yaml:"run_id"`
	Started    time.Time        `yaml:"started"`
	Seconds    float64          `yaml:"seconds"`
	Model      string           `yaml:"model"`
	Language   string           `yaml:"language"`
	Estimate   bool             `yaml:"estimate,omitempty"`
	Tokens     translate.Tokens `yaml:"tokens"`
	Cost       float64          `yaml:"cost"`
	Gaps       int              `yaml:"placeholder_gaps,omitempty"`
	Files      []FileSummary    `yaml:"files"`
	Mismatches []Mismatch       `yaml:"mismatches,omitempty"`
	Names      []Name           `yaml:"names,omitempty"`
}

// NewRunID returns a unique identifier for a run.
func NewRunID() string {
	return uuid.NewString()
}

// Summary builds the run summary from everything accumulated so far.
func (a *Accumulator) Summary(runID string, started time.Time, model, language string, estimate bool, p Pricing) Summary {
	s := Summary{
		RunID:      runID,
		Started:    started,
		Seconds:    time.Since(started).Seconds(),
		Model:      model,
		Language:   language,
		Estimate:   estimate,
		Tokens:     a.Tokens(),
		Gaps:       a.Gaps(),
		Mismatches: a.Mismatches(),
		Names:      a.Names(),
	}
	s.Cost = p.Cost(s.Tokens)
	for _, r := range a.Results() {
		fs := FileSummary{
			File:       r.File,
			Tokens:     r.Tokens,
			Cost:       p.Cost(r.Tokens),
			Seconds:    r.Elapsed.Seconds(),
			Status:     "ok",
			Mismatches: r.Mismatches,
		}
		switch {
		case r.Err != nil:
			fs.Status, fs.Error = "failed", r.Err.Error()
		case r.Unchanged:
			fs.Status = "unchanged"
		case r.Mismatches > 0:
			fs.Status = "partial"
		}
		s.Files = append(s.Files, fs)
	}
	return s
}

// Write saves the summary as YAML.
func (s Summary) Write(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
