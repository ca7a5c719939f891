// Package pipeline drives a translation run: a bounded pool of file workers,
// each running a bounded pool of page workers. A page is extracted, its
// speaker names and text units are translated, and the result is reinserted
// into a fresh record list. Run-wide statistics go to a shared
// report.Accumulator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/minios-linux/gametl/batch"
	"github.com/minios-linux/gametl/lockfile"
	"github.com/minios-linux/gametl/report"
	"github.com/minios-linux/gametl/script"
	"github.com/minios-linux/gametl/translate"
	"github.com/minios-linux/gametl/wrap"
)

// Defaults for Options fields left at zero.
const (
	DefaultFileThreads     = 1
	DefaultPageThreads     = 1
	DefaultBatchSize       = 10
	DefaultMismatchRetries = 2
)

// Parser turns the contents of a game file into a document.
type Parser func(name string, data []byte) (script.Document, error)

// Options controls a run.
type Options struct {
	// FileThreads bounds concurrently processed files.
	FileThreads int
	// PageThreads bounds concurrently processed pages within one file.
	PageThreads int
	// BatchSize is the number of dialogue units sent per request.
	BatchSize int
	// MismatchRetries is how many times a batch is resent after a line
	// count mismatch before its page is given up. Negative disables retries.
	MismatchRetries int
	// MaxHistory bounds the per-page context history.
	MaxHistory int
	// Names overrides the translation of speaker and NPC names.
	Names map[string]string
	// Estimate counts tokens and leaves every document untouched.
	Estimate bool

	// InputDir and OutputDir root the relative file names given to Run.
	InputDir  string
	OutputDir string
	// Parse decodes a file into a document.
	Parse Parser
	// Lock, if set, skips files already translated from identical content.
	Lock *lockfile.LockFile
	// Language is the lock file target.
	Language string
	// LockSettings are folded into the lock checksum.
	LockSettings []string
	// Force retranslates files the lock file reports as unchanged.
	Force bool

	// Logger receives diagnostic output.
	Logger logrus.FieldLogger
	// OnProgress is called after each page or field of a file.
	OnProgress func(file string, done, total int)
	// OnFile is called once a file is finished.
	OnFile func(report.FileResult)
}

func (o *Options) logger() logrus.FieldLogger {
	if o.Logger != nil {
		return o.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func positive(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func (o *Options) mismatchRetries() int {
	switch {
	case o.MismatchRetries < 0:
		return 0
	case o.MismatchRetries == 0:
		return DefaultMismatchRetries
	}
	return o.MismatchRetries
}

// Runner executes translation runs. It is safe for concurrent use.
type Runner struct {
	gw     *translate.Gateway
	walker *script.Walker
	acc    *report.Accumulator
	opts   Options
	log    logrus.FieldLogger

	// estimated remembers names already counted in estimate mode.
	estimated sync.Map
}

// New builds a Runner. acc receives tokens, names, mismatches and results.
func New(gw *translate.Gateway, walker *script.Walker, acc *report.Accumulator, opts Options) *Runner {
	return &Runner{gw: gw, walker: walker, acc: acc, opts: opts, log: opts.logger()}
}

// ---------------------------------------------------------------------------
// Pages
// ---------------------------------------------------------------------------

// PageResult describes the outcome of one page.
type PageResult struct {
	Tokens translate.Tokens
	// Mismatch is set when the page was left untranslated.
	Mismatch bool
	Gaps     int
}

// TranslatePage translates one page and returns its new record list. The
// input records are never modified. In estimate mode and on a mismatch the
// input records are returned as they are.
func (r *Runner) TranslatePage(ctx context.Context, file string, page script.Page) ([]script.Record, PageResult, error) {
	var res PageResult
	log := r.log.WithFields(logrus.Fields{"file": file, "page": page.Name})

	plan, err := r.walker.Extract(page.Records)
	if err != nil {
		return nil, res, err
	}
	if plan.Empty() {
		return page.Records, res, nil
	}

	names := make(map[string]string, len(plan.Names))
	for _, name := range plan.Names {
		t, tok, err := r.translateName(ctx, name)
		res.Tokens = res.Tokens.Add(tok)
		if err != nil {
			r.acc.AddTokens(res.Tokens)
			return nil, res, fmt.Errorf("name %q: %w", name, err)
		}
		names[name] = t
	}

	units := make([]string, len(plan.Units))
	var dialogue []int
	for i, u := range plan.Units {
		if u.Kind == script.Dialogue {
			dialogue = append(dialogue, i)
		}
	}

	history := translate.NewHistory(positive(r.opts.MaxHistory, translate.DefaultMaxHistory))
	for bi, idx := range batch.Make(dialogue, positive(r.opts.BatchSize, DefaultBatchSize)) {
		lines := make([]string, len(idx))
		for j, ui := range idx {
			lines[j] = dialogueLine(plan.Units[ui], names)
		}

		out, tok, gaps, err := r.translateBatch(ctx, log.WithField("batch", bi), lines, history)
		res.Tokens = res.Tokens.Add(tok)
		res.Gaps += gaps
		if errors.Is(err, batch.ErrMismatch) {
			r.acc.AddTokens(res.Tokens)
			r.acc.AddMismatch(file, page.Name, err.Error())
			log.Warnf("page left untranslated: %v", err)
			res.Mismatch = true
			return page.Records, res, nil
		}
		if err != nil {
			r.acc.AddTokens(res.Tokens)
			return nil, res, err
		}
		for j, ui := range idx {
			units[ui] = out[j]
		}
	}

	last := history.Last()
	for i, u := range plan.Units {
		if u.Kind == script.Dialogue {
			last = units[i]
			continue
		}
		call := translate.Call{Text: u.Text, Instruction: u.Instruction, FullPrompt: u.FullPrompt}
		if u.Kind == script.Choice && last != "" {
			call.Instruction = u.Instruction + "\n\nPrevious text for context: " + last
		}
		tr, err := r.gw.Translate(ctx, call)
		res.Tokens = res.Tokens.Add(tr.Tokens)
		if err != nil {
			r.acc.AddTokens(res.Tokens)
			return nil, res, fmt.Errorf("%s unit %q: %w", u.Kind, u.Text, err)
		}
		if tr.Gap != nil {
			res.Gaps++
		}
		units[i] = tr.Text
	}

	r.acc.AddTokens(res.Tokens)
	for i := 0; i < res.Gaps; i++ {
		r.acc.AddGap()
	}
	if r.opts.Estimate {
		return page.Records, res, nil
	}

	out, err := r.walker.Reinsert(page.Records, plan, script.Translations{Units: units, Names: names})
	if err != nil {
		return nil, res, err
	}
	return out, res, nil
}

// dialogueLine prefixes a unit with its translated speaker so the model
// keeps the voice; the prefix is stripped again on reinsertion.
func dialogueLine(u script.Unit, names map[string]string) string {
	if u.Speaker == "" {
		return u.Text
	}
	name := names[u.Speaker]
	if name == "" {
		name = u.Speaker
	}
	return name + ": " + u.Text
}

// translateBatch sends one batch, resending it up to the mismatch ceiling.
func (r *Runner) translateBatch(ctx context.Context, log logrus.FieldLogger, lines []string, history *translate.History) ([]string, translate.Tokens, int, error) {
	var total translate.Tokens
	retries := r.opts.mismatchRetries()
	for attempt := 0; ; attempt++ {
		res, err := r.gw.TranslateLines(ctx, lines, history)
		total = total.Add(res.Tokens)
		if err == nil {
			gaps := 0
			if res.Gap != nil {
				gaps = 1
			}
			return res.Lines, total, gaps, nil
		}
		if !errors.Is(err, batch.ErrMismatch) || attempt >= retries {
			return nil, total, 0, err
		}
		log.WithField("attempt", attempt+1).Warnf("resending batch: %v", err)
	}
}

// translateName resolves a speaker or NPC name through the override table,
// then the names already translated in this run, then the gateway.
func (r *Runner) translateName(ctx context.Context, name string) (string, translate.Tokens, error) {
	if t, ok := r.opts.Names[name]; ok {
		r.acc.AddName(name, t)
		return t, translate.Tokens{}, nil
	}
	if t, ok := r.acc.Name(name); ok {
		return t, translate.Tokens{}, nil
	}
	if r.opts.Estimate {
		if _, seen := r.estimated.LoadOrStore(name, true); seen {
			return name, translate.Tokens{}, nil
		}
	}

	res, err := r.gw.Translate(ctx, translate.Call{Text: name, Instruction: script.NameInstruction})
	if err != nil {
		return "", res.Tokens, err
	}
	t := strings.TrimSpace(strings.Trim(res.Text, `."'`))
	if !r.opts.Estimate && !res.Skipped && t != "" {
		r.acc.AddName(name, t)
	}
	if t == "" {
		t = name
	}
	return t, res.Tokens, nil
}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

// DocumentResult describes the outcome of one document.
type DocumentResult struct {
	Tokens     translate.Tokens
	Mismatches int
}

// TranslateDocument translates every page and field of doc in place,
// running pages on the page pool. A page error fails the document: pages not
// yet started are skipped and running ones see a cancelled context.
func (r *Runner) TranslateDocument(ctx context.Context, file string, doc script.Document) (DocumentResult, error) {
	var (
		res   DocumentResult
		mu    sync.Mutex
		done  int64
		pages = doc.Pages()
	)
	fields := doc.Fields()
	total := len(pages) + len(fields)

	tick := func() {
		n := atomic.AddInt64(&done, 1)
		if r.opts.OnProgress != nil {
			r.opts.OnProgress(file, int(n), total)
		}
	}

	indexes := make([]int, len(pages))
	for i := range indexes {
		indexes[i] = i
	}
	err := runParallel(ctx, indexes, positive(r.opts.PageThreads, DefaultPageThreads), 0, func(ctx context.Context, i int) error {
		out, pr, err := r.TranslatePage(ctx, file, pages[i])

		mu.Lock()
		res.Tokens = res.Tokens.Add(pr.Tokens)
		if pr.Mismatch {
			res.Mismatches++
		}
		if err == nil && !pr.Mismatch && !r.opts.Estimate {
			doc.SetPage(i, out)
		}
		mu.Unlock()

		tick()
		if err != nil {
			return fmt.Errorf("%s: %w", pages[i].Name, err)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	for i, f := range fields {
		tr, err := r.gw.Translate(ctx, translate.Call{Text: f.Text, Instruction: f.Instruction})
		res.Tokens = res.Tokens.Add(tr.Tokens)
		r.acc.AddTokens(tr.Tokens)
		if err != nil {
			return res, fmt.Errorf("%s: %w", f.Name, err)
		}
		if tr.Gap != nil {
			r.acc.AddGap()
		}
		if !r.opts.Estimate && !tr.Skipped {
			text := strings.TrimSpace(tr.Text)
			if f.Width > 0 {
				text = wrap.Fill(text, f.Width)
			}
			doc.SetField(i, text)
		}
		tick()
	}
	return res, nil
}
