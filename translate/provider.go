package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ---------------------------------------------------------------------------
// Provider IDs
// ---------------------------------------------------------------------------

const (
	ProviderOpenAI       = "openai"
	ProviderGoogle       = "google"
	ProviderGroq         = "groq"
	ProviderAnthropic    = "anthropic"
	ProviderCustomOpenAI = "custom-openai"
	ProviderOllama       = "ollama"
)

// ---------------------------------------------------------------------------
// Provider configuration
// ---------------------------------------------------------------------------

// Provider holds the configuration for an AI translation service.
type Provider struct {
	// ID is the provider identifier (openai, google, groq, etc.).
	ID string
	// Name is the display name.
	Name string
	// BaseURL is the API base URL.
	BaseURL string
	// APIKey is the authentication key (empty for local services).
	APIKey string
	// Model is the model identifier.
	Model string
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string
	// Timeout is the request timeout.
	Timeout time.Duration
}

// DefaultProviders returns the pre-configured provider definitions.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		ProviderOpenAI: {
			ID:      ProviderOpenAI,
			Name:    "OpenAI",
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o",
			Timeout: 120 * time.Second,
		},
		ProviderGoogle: {
			ID:      ProviderGoogle,
			Name:    "Google AI (Gemini)",
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   "gemini-2.0-flash",
			Timeout: 120 * time.Second,
		},
		ProviderGroq: {
			ID:      ProviderGroq,
			Name:    "Groq",
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "llama-3.3-70b-versatile",
			Timeout: 60 * time.Second,
		},
		ProviderAnthropic: {
			ID:      ProviderAnthropic,
			Name:    "Anthropic",
			BaseURL: "https://api.anthropic.com/v1",
			Model:   "claude-3-5-sonnet-latest",
			Timeout: 120 * time.Second,
		},
		ProviderCustomOpenAI: {
			ID:      ProviderCustomOpenAI,
			Name:    "Custom OpenAI",
			Timeout: 60 * time.Second,
		},
		ProviderOllama: {
			ID:      ProviderOllama,
			Name:    "Ollama",
			BaseURL: "http://localhost:11434/v1",
			Timeout: 120 * time.Second,
		},
	}
}

// NeedsAPIKey reports whether the provider refuses requests without a key.
func (p Provider) NeedsAPIKey() bool {
	return p.ID != ProviderOllama && p.ID != ProviderCustomOpenAI
}

// ---------------------------------------------------------------------------
// Backend interface
// ---------------------------------------------------------------------------

// Request is one chat exchange: instructions, the glossary, prior
// translations for context and the text to translate.
type Request struct {
	System      string
	Glossary    string
	Instruction string
	History     []string
	User        string
}

// Response is the raw model reply with the usage reported by the provider.
type Response struct {
	Text   string
	Tokens Tokens
}

// Completer sends one request to a model. Implementations make a single
// attempt; retries are handled by the Gateway.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// StatusError is an HTTP-level failure returned by a provider.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.Status, truncate(e.Body, 500))
}

// Permanent reports whether retrying the same request cannot succeed.
func (e *StatusError) Permanent() bool {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// NewCompleter builds the backend for a provider.
func NewCompleter(prov Provider, rl *RateLimit) Completer {
	switch prov.ID {
	case ProviderGoogle:
		return &httpBackend{prov: prov, format: formatGeminiNative, rl: rl, client: makeHTTPClient(prov.Proxy, prov.Timeout)}
	case ProviderAnthropic:
		return &httpBackend{prov: prov, format: formatAnthropic, rl: rl, client: makeHTTPClient(prov.Proxy, prov.Timeout)}
	default:
		return newOpenAIBackend(prov, rl)
	}
}

// ---------------------------------------------------------------------------
// Rate limit state (global pause for parallel workers)
// ---------------------------------------------------------------------------

// RateLimit pauses every worker sharing it after a 429 response.
type RateLimit struct {
	mu       sync.Mutex
	paused   int32 // atomic: 1 = paused
	pauseEnd time.Time
}

func (r *RateLimit) isPaused() bool {
	return atomic.LoadInt32(&r.paused) == 1
}

func (r *RateLimit) pause(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	end := time.Now().Add(duration)
	if end.After(r.pauseEnd) {
		r.pauseEnd = end
	}
	atomic.StoreInt32(&r.paused, 1)
}

func (r *RateLimit) unpause() {
	atomic.StoreInt32(&r.paused, 0)
}

// wait blocks until the rate limit pause is over.
func (r *RateLimit) wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	for r.isPaused() {
		r.mu.Lock()
		remaining := time.Until(r.pauseEnd)
		r.mu.Unlock()
		if remaining <= 0 {
			r.unpause()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(remaining, 100*time.Millisecond)):
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// HTTP client with real proxy support
// ---------------------------------------------------------------------------

func makeHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// ---------------------------------------------------------------------------
// OpenAI-compatible backend (OpenAI, Groq, Ollama, custom endpoints)
// ---------------------------------------------------------------------------

type openAIBackend struct {
	prov   Provider
	client *openai.Client
	rl     *RateLimit
}

func newOpenAIBackend(prov Provider, rl *RateLimit) *openAIBackend {
	cfg := openai.DefaultConfig(prov.APIKey)
	if prov.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(strings.TrimRight(prov.BaseURL, "/"), "/chat/completions")
	}
	cfg.HTTPClient = makeHTTPClient(prov.Proxy, prov.Timeout)
	return &openAIBackend{prov: prov, client: openai.NewClientWithConfig(cfg), rl: rl}
}

func chatMessages(req Request) []openai.ChatCompletionMessage {
	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: req.System}}
	if req.Glossary != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.Glossary})
	}
	if req.Instruction != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.Instruction})
	}
	for _, h := range req.History {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: h})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})
}

func (b *openAIBackend) Complete(ctx context.Context, req Request) (Response, error) {
	if err := b.rl.wait(ctx); err != nil {
		return Response{}, err
	}
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:            b.prov.Model,
		Messages:         chatMessages(req),
		Temperature:      0.1,
		FrequencyPenalty: 0.1,
	})
	if err != nil {
		var apiErr *openai.APIError
		var reqErr *openai.RequestError
		switch {
		case errors.As(err, &apiErr):
			if apiErr.HTTPStatusCode == http.StatusTooManyRequests && b.rl != nil {
				b.rl.pause(65 * time.Second)
			}
			return Response{}, &StatusError{Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
		case errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0:
			return Response{}, &StatusError{Status: reqErr.HTTPStatusCode, Body: reqErr.Error()}
		}
		return Response{}, fmt.Errorf("API request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("API returned no choices")
	}
	return Response{
		Text:   resp.Choices[0].Message.Content,
		Tokens: Tokens{Input: resp.Usage.PromptTokens, Output: resp.Usage.CompletionTokens},
	}, nil
}

// ---------------------------------------------------------------------------
// Native REST backends (Google Gemini, Anthropic)
// ---------------------------------------------------------------------------

type apiFormat int

const (
	formatGeminiNative apiFormat = iota // Google Gemini generateContent
	formatAnthropic                     // Anthropic messages
)

type httpBackend struct {
	prov   Provider
	format apiFormat
	rl     *RateLimit
	client *http.Client
}

// systemText folds the glossary and instruction into one system prompt.
func systemText(req Request) string {
	parts := []string{req.System}
	if req.Glossary != "" {
		parts = append(parts, req.Glossary)
	}
	if req.Instruction != "" {
		parts = append(parts, req.Instruction)
	}
	return strings.Join(parts, "\n\n")
}

func buildGeminiRequest(req Request, temperature float64) ([]byte, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}
	type genConfig struct {
		Temperature float64 `json:"temperature"`
	}
	contents := make([]content, 0, len(req.History)+1)
	for _, h := range req.History {
		contents = append(contents, content{Role: "model", Parts: []part{{Text: h}}})
	}
	contents = append(contents, content{Role: "user", Parts: []part{{Text: req.User}}})

	body := struct {
		Contents          []content `json:"contents"`
		GenerationConfig  genConfig `json:"generationConfig"`
		SystemInstruction *content  `json:"systemInstruction,omitempty"`
	}{
		Contents:         contents,
		GenerationConfig: genConfig{Temperature: temperature},
	}
	if sys := systemText(req); sys != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: sys}}}
	}
	return json.Marshal(body)
}

// buildAnthropicRequest puts history in the system prompt: the messages API
// requires the conversation to start with a user turn.
func buildAnthropicRequest(model string, req Request, temperature float64) ([]byte, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	sys := systemText(req)
	if len(req.History) > 0 {
		sys += "\n\nPrevious translations for context:\n" + strings.Join(req.History, "\n")
	}
	body := struct {
		Model       string  `json:"model"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float64 `json:"temperature"`
		System      string  `json:"system,omitempty"`
		Messages    []msg   `json:"messages"`
	}{
		Model:       model,
		MaxTokens:   8192,
		Temperature: temperature,
		System:      sys,
		Messages:    []msg{{Role: "user", Content: req.User}},
	}
	return json.Marshal(body)
}

// buildHTTPRequest constructs the endpoint, headers, and body for a native provider.
func (b *httpBackend) buildHTTPRequest(req Request) (string, map[string]string, []byte, error) {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	base := strings.TrimRight(b.prov.BaseURL, "/")

	var endpoint string
	var body []byte
	var err error
	switch b.format {
	case formatGeminiNative:
		endpoint = fmt.Sprintf("%s/v1beta/models/%s:generateContent", base, b.prov.Model)
		if b.prov.APIKey != "" {
			headers["x-goog-api-key"] = b.prov.APIKey
		}
		body, err = buildGeminiRequest(req, 0.1)
	case formatAnthropic:
		endpoint = base + "/messages"
		if b.prov.APIKey != "" {
			headers["x-api-key"] = b.prov.APIKey
		}
		headers["anthropic-version"] = "2023-06-01"
		body, err = buildAnthropicRequest(b.prov.Model, req, 0.1)
	default:
		return "", nil, nil, fmt.Errorf("unknown API format %d", b.format)
	}
	if err != nil {
		return "", nil, nil, err
	}
	return endpoint, headers, body, nil
}

func (b *httpBackend) Complete(ctx context.Context, req Request) (Response, error) {
	endpoint, headers, body, err := b.buildHTTPRequest(req)
	if err != nil {
		return Response{}, fmt.Errorf("building request: %w", err)
	}
	if err := b.rl.wait(ctx); err != nil {
		return Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("API request failed: %w", err)
	}
	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests && b.rl != nil {
		b.rl.pause(parseRetryDelay(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, &StatusError{Status: resp.StatusCode, Body: string(respBody)}
	}

	text, err := extractResponseText(respBody)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: text, Tokens: extractUsage(respBody)}, nil
}

// ---------------------------------------------------------------------------
// Response parsers (multi-format)
// ---------------------------------------------------------------------------

// extractResponseText tries all known response formats and returns the text.
func extractResponseText(body []byte) (string, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}

	if errObj, ok := raw["error"]; ok {
		if errMap, ok := errObj.(map[string]any); ok {
			if msg, ok := errMap["message"].(string); ok {
				return "", fmt.Errorf("API error: %s", msg)
			}
		}
		return "", fmt.Errorf("API error: %v", errObj)
	}

	// OpenAI chat format: choices[0].message.content
	if choices, ok := raw["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if message, ok := choice["message"].(map[string]any); ok {
				if content, ok := message["content"].(string); ok {
					return content, nil
				}
			}
		}
	}

	// Gemini format: candidates[0].content.parts[].text
	if candidates, ok := raw["candidates"].([]any); ok && len(candidates) > 0 {
		if candidate, ok := candidates[0].(map[string]any); ok {
			if content, ok := candidate["content"].(map[string]any); ok {
				if parts, ok := content["parts"].([]any); ok && len(parts) > 0 {
					var sb strings.Builder
					for _, p := range parts {
						if part, ok := p.(map[string]any); ok {
							if text, ok := part["text"].(string); ok {
								sb.WriteString(text)
							}
						}
					}
					if sb.Len() > 0 {
						return sb.String(), nil
					}
				}
			}
		}
	}

	// Anthropic format: content[].type=="text" -> .text
	if contentArr, ok := raw["content"].([]any); ok {
		for _, c := range contentArr {
			if block, ok := c.(map[string]any); ok {
				if block["type"] == "text" {
					if text, ok := block["text"].(string); ok {
						return text, nil
					}
				}
			}
		}
	}

	return "", fmt.Errorf("could not extract text from response: %s", truncate(string(body), 500))
}

// extractUsage reads token usage from OpenAI, Gemini or Anthropic replies.
func extractUsage(body []byte) Tokens {
	var u struct {
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			InputTokens      int `json:"input_tokens"`
			OutputTokens     int `json:"output_tokens"`
		} `json:"usage"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(body, &u); err != nil {
		return Tokens{}
	}
	return Tokens{
		Input:  u.Usage.PromptTokens + u.Usage.InputTokens + u.UsageMetadata.PromptTokenCount,
		Output: u.Usage.CompletionTokens + u.Usage.OutputTokens + u.UsageMetadata.CandidatesTokenCount,
	}
}

// ---------------------------------------------------------------------------
// Rate limit: parse 429 response for retry delay
// ---------------------------------------------------------------------------

// parseRetryDelay extracts the retry delay from a 429 response body.
// Looks for Google's RetryInfo detail with retryDelay field.
// Returns the delay to wait, defaulting to 60s + 5s buffer.
func parseRetryDelay(body []byte) time.Duration {
	const defaultDelay = 65 * time.Second

	var errResp struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		return defaultDelay
	}

	for _, detail := range errResp.Error.Details {
		if strings.Contains(detail.Type, "RetryInfo") && detail.RetryDelay != "" {
			d := strings.TrimSuffix(detail.RetryDelay, "s")
			if secs, err := strconv.ParseFloat(d, 64); err == nil {
				return time.Duration(secs*1000)*time.Millisecond + 5*time.Second
			}
		}
	}

	return defaultDelay
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
