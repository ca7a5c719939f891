// Package translate sends game text to an AI provider and returns the
// translation. It hides control codes before sending, keeps a short history
// of prior translations for context, accounts tokens, and retries failed
// calls. OpenAI, Groq, Ollama and custom endpoints go through go-openai;
// Google AI (Gemini) and Anthropic use their native REST APIs.
package translate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/minios-linux/gametl/batch"
	"github.com/minios-linux/gametl/placeholder"
)

// ---------------------------------------------------------------------------
// Prompts
// ---------------------------------------------------------------------------

// DefaultSystemPrompt is used for batched dialogue when no prompt file is configured.
const DefaultSystemPrompt = `You are an expert Eroge Game translator who translates Japanese text to {LANG}.
You are going to be translating text from a videogame.
I will give you lines of text, and you must translate each line to the best of your ability.

Follow these rules:
- Output each line in the same format you received it: <LineN>` + "`text`" + `</LineN>.
- Translate every line. Never merge lines, split lines or skip lines.
- Keep placeholders such as {Color_0}, {Noun_1} or {FCode_2} exactly as written.
- When a line starts with "Name: ", translate the name and keep the "Name: " prefix.
- Translate onomatopoeia and sound effects literally.
- Keep honorifics such as -san, -chan and -sama.
- Output only the translated lines.`

// shortPrompt is used for single strings: names, choices and scripted text.
const shortPrompt = "Output ONLY the {LANG} translation in the following format: `Translation: <{LANG_UPPER}_TRANSLATION>`"

// ---------------------------------------------------------------------------
// Tokens and history
// ---------------------------------------------------------------------------

// Tokens counts prompt (input) and completion (output) tokens.
type Tokens struct {
	Input  int `yaml:"input" json:"input"`
	Output int `yaml:"output" json:"output"`
}

// Add returns the sum of t and o.
func (t Tokens) Add(o Tokens) Tokens {
	return Tokens{Input: t.Input + o.Input, Output: t.Output + o.Output}
}

// Total returns input plus output.
func (t Tokens) Total() int {
	return t.Input + t.Output
}

// BytesPerToken is the estimation ratio used when no tokenizer is available.
const BytesPerToken = 4

// EstimateTokens approximates the token count of s as ceil(bytes / BytesPerToken).
func EstimateTokens(s string) int {
	return (len(s) + BytesPerToken - 1) / BytesPerToken
}

// History is a bounded FIFO of recent translations, oldest first.
type History struct {
	mu    sync.Mutex
	max   int
	items []string
}

// NewHistory returns a history holding at most limit items.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultMaxHistory
	}
	return &History{max: limit}
}

// Push appends items, evicting the oldest beyond capacity.
func (h *History) Push(items ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, items...)
	if over := len(h.items) - h.max; over > 0 {
		h.items = append([]string(nil), h.items[over:]...)
	}
}

// Items returns a copy of the history.
func (h *History) Items() []string {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.items...)
}

// Last returns the most recent item, or "".
func (h *History) Last() string {
	if h == nil {
		return ""
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) == 0 {
		return ""
	}
	return h.items[len(h.items)-1]
}

// Len returns the number of items held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

// ---------------------------------------------------------------------------
// Translation options
// ---------------------------------------------------------------------------

const (
	DefaultMaxRetries = 4
	DefaultRetryDelay = 5 * time.Second
	DefaultMaxHistory = 10
)

// Memory caches finished translations across runs.
type Memory interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, text string) error
}

// Options controls the translation behavior.
type Options struct {
	// Provider is the AI provider configuration.
	Provider Provider
	// LanguageName is the human-readable target language (e.g. "English").
	LanguageName string
	// SystemPrompt overrides DefaultSystemPrompt for batched dialogue.
	SystemPrompt string
	// Glossary is sent with every request (character names, terms).
	Glossary string
	// Timeout is the per-request timeout (overrides provider timeout if set).
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
	// Estimate counts tokens without calling the provider.
	Estimate bool
	// Memory, if set, is consulted before and filled after every call.
	Memory Memory
	// Logger receives diagnostic output.
	Logger logrus.FieldLogger
}

func (o *Options) logger() logrus.FieldLogger {
	if o.Logger != nil {
		return o.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func (o *Options) effectiveTimeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	if o.Provider.Timeout > 0 {
		return o.Provider.Timeout
	}
	return 120 * time.Second
}

func (o *Options) effectiveMaxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return DefaultMaxRetries
}

func (o *Options) effectiveRetryDelay() time.Duration {
	if o.RetryDelay > 0 {
		return o.RetryDelay
	}
	return DefaultRetryDelay
}

func (o *Options) languageName() string {
	if o.LanguageName != "" {
		return o.LanguageName
	}
	return "English"
}

// resolve substitutes the target language into a prompt or instruction.
func (o *Options) resolve(s string) string {
	lang := o.languageName()
	return strings.NewReplacer("{LANG_UPPER}", strings.ToUpper(lang), "{LANG}", lang).Replace(s)
}

// ---------------------------------------------------------------------------
// Gateway
// ---------------------------------------------------------------------------

// ErrNoAPIKey is returned when a provider that requires a key has none.
var ErrNoAPIKey = errors.New("no API key configured")

// Gateway is the single entry point for translation calls. It is safe for
// concurrent use.
type Gateway struct {
	backend Completer
	opts    Options
	log     logrus.FieldLogger
}

// New builds a Gateway for opts.Provider.
func New(opts Options) (*Gateway, error) {
	if !opts.Estimate && opts.Provider.NeedsAPIKey() && opts.Provider.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", opts.Provider.Name, ErrNoAPIKey)
	}
	if opts.Provider.Timeout == 0 {
		opts.Provider.Timeout = opts.effectiveTimeout()
	}
	return NewWithBackend(NewCompleter(opts.Provider, &RateLimit{}), opts), nil
}

// NewWithBackend builds a Gateway over an existing backend.
func NewWithBackend(backend Completer, opts Options) *Gateway {
	return &Gateway{backend: backend, opts: opts, log: opts.logger()}
}

// Call is a single-string translation request.
type Call struct {
	Text        string
	History     []string
	Instruction string
	FullPrompt  bool
}

// Result is the outcome of a translation.
type Result struct {
	// Text is the translation, or the input when Skipped or estimating.
	Text string
	// Lines holds the per-unit translations of TranslateLines.
	Lines  []string
	Tokens Tokens
	// Skipped is set when the input had no source-language text.
	Skipped bool
	// Cached is set when the translation came from memory.
	Cached bool
	// Gap is set when placeholders could not be fully restored.
	Gap error
}

var sourceScript = regexp.MustCompile(`[一-龠ぁ-ゔァ-ヴーａ-ｚＡ-Ｚ０-９]`)

// HasSourceText reports whether s contains Japanese script or full-width
// alphanumerics.
func HasSourceText(s string) bool {
	return sourceScript.MatchString(s)
}

// Translate translates one string.
func (g *Gateway) Translate(ctx context.Context, c Call) (Result, error) {
	hidden, m := placeholder.Hide(c.Text)
	if !HasSourceText(hidden) {
		return Result{Text: c.Text, Skipped: true}, nil
	}

	req := Request{
		System:   g.opts.resolve(shortPrompt),
		Glossary: g.opts.Glossary,
		History:  c.History,
		User:     hidden,
	}
	if c.FullPrompt {
		req.System = g.systemPrompt()
	}
	if c.Instruction != "" {
		req.Instruction = g.opts.resolve(c.Instruction)
	}

	if g.opts.Estimate {
		return Result{Text: c.Text, Tokens: g.estimate(req)}, nil
	}

	// Memory holds replies in placeholder form; restoring with this call's
	// map keeps its own control codes.
	key := g.memoryKey(req)
	res := Result{}
	text, cached := g.recall(ctx, key)
	if !cached {
		resp, err := g.complete(ctx, req)
		if err != nil {
			return Result{}, err
		}
		text = g.clean(resp.Text)
		if lines, err := batch.Parse(text, 1); err == nil {
			text = lines[0]
		}
		text = strings.TrimSpace(strings.Trim(strings.TrimSpace(text), "`"))
		res.Tokens = resp.Tokens
	}

	restored, gap := placeholder.Restore(text, m)
	if gap != nil {
		g.log.WithField("text", truncate(c.Text, 80)).Warnf("placeholder restore: %v", gap)
	} else if !cached {
		g.remember(ctx, key, text)
	}
	res.Text, res.Cached, res.Gap = restored, cached, gap
	return res, nil
}

// TranslateLines translates a batch of units in one call. On success the
// translations are pushed onto history. A reply with the wrong number of
// lines returns a *batch.MismatchError along with the tokens spent.
func (g *Gateway) TranslateLines(ctx context.Context, lines []string, history *History) (Result, error) {
	payload := batch.Serialize(lines)
	hidden, m := placeholder.Hide(payload)
	if !HasSourceText(hidden) {
		return Result{Lines: append([]string(nil), lines...), Skipped: true}, nil
	}

	req := Request{
		System:   g.systemPrompt(),
		Glossary: g.opts.Glossary,
		History:  history.Items(),
		User:     hidden,
	}

	if g.opts.Estimate {
		return Result{Lines: append([]string(nil), lines...), Tokens: g.estimate(req)}, nil
	}

	key := g.memoryKey(req)
	var (
		units  []string
		tokens Tokens
		cached bool
	)
	if text, ok := g.recall(ctx, key); ok {
		if parsed, err := batch.Parse(text, len(lines)); err == nil {
			units, cached = parsed, true
		}
	}
	if !cached {
		resp, err := g.complete(ctx, req)
		if err != nil {
			return Result{}, err
		}
		tokens = resp.Tokens
		units, err = batch.Parse(g.clean(resp.Text), len(lines))
		if err != nil {
			return Result{Tokens: tokens}, err
		}
	}

	out, gap := placeholder.RestoreAll(units, m)
	if gap != nil {
		g.log.WithField("lines", len(lines)).Warnf("placeholder restore: %v", gap)
	} else if !cached {
		g.remember(ctx, key, batch.Serialize(units))
	}
	if history != nil {
		history.Push(out...)
	}
	return Result{Lines: out, Tokens: tokens, Cached: cached, Gap: gap}, nil
}

func (g *Gateway) systemPrompt() string {
	if g.opts.SystemPrompt != "" {
		return g.opts.resolve(g.opts.SystemPrompt)
	}
	return g.opts.resolve(DefaultSystemPrompt)
}

// estimate counts request tokens; the reply is assumed to be shorter than
// the source text by a factor of 1.5.
func (g *Gateway) estimate(req Request) Tokens {
	in := EstimateTokens(req.System) + EstimateTokens(req.Glossary) +
		EstimateTokens(req.Instruction) + EstimateTokens(req.User)
	for _, h := range req.History {
		in += EstimateTokens(h)
	}
	return Tokens{Input: in, Output: int(math.Round(float64(EstimateTokens(req.User)) / 1.5))}
}

// complete sends req with a fixed delay between attempts. Client errors that
// cannot succeed on retry stop immediately.
func (g *Gateway) complete(ctx context.Context, req Request) (Response, error) {
	attempt := 0
	op := func() (Response, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, g.opts.effectiveTimeout())
		defer cancel()

		resp, err := g.backend.Complete(callCtx, req)
		if err == nil {
			if resp.Tokens.Total() == 0 {
				resp.Tokens = g.estimate(req)
				resp.Tokens.Output = EstimateTokens(resp.Text)
			}
			return resp, nil
		}
		var se *StatusError
		if errors.As(err, &se) && se.Permanent() {
			return Response{}, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return Response{}, backoff.Permanent(ctx.Err())
		}
		return Response{}, err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.opts.effectiveRetryDelay()), uint64(g.opts.effectiveMaxRetries())),
		ctx,
	)
	resp, err := backoff.RetryNotifyWithData(op, b, func(err error, wait time.Duration) {
		g.log.WithFields(logrus.Fields{"attempt": attempt, "wait": wait}).Warnf("translation call failed: %v", err)
	})
	if err != nil {
		return Response{}, fmt.Errorf("translation failed after %d attempts: %w", attempt, err)
	}
	return resp, nil
}

// clean strips answer prefixes and a few characters the model tends to leave
// untranslated.
func (g *Gateway) clean(text string) string {
	lang := g.opts.languageName()
	return strings.NewReplacer(
		lang+" Translation: ", "",
		"Translation: ", "",
		"っ", "",
		"〜", "~",
		"ー", "-",
		"ッ", "",
		"。", ".",
	).Replace(text)
}

func (g *Gateway) memoryKey(req Request) string {
	return strings.Join([]string{
		g.opts.Provider.ID, g.opts.Provider.Model, g.opts.languageName(),
		req.System, req.Glossary, req.Instruction, req.User,
	}, "\x00")
}

func (g *Gateway) recall(ctx context.Context, key string) (string, bool) {
	if g.opts.Memory == nil {
		return "", false
	}
	text, ok, err := g.opts.Memory.Get(ctx, key)
	if err != nil {
		g.log.Warnf("translation memory lookup: %v", err)
		return "", false
	}
	return text, ok
}

func (g *Gateway) remember(ctx context.Context, key, text string) {
	if g.opts.Memory == nil {
		return
	}
	if err := g.opts.Memory.Put(ctx, key, text); err != nil {
		g.log.Warnf("translation memory store: %v", err)
	}
}
