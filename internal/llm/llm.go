// Package llm adapts Genkit text generation to the narrow contracts the
// rest of the application consumes: the session engine's Summarizer and
// the chat API's Responder.
//
// The client never retries. Completions are not idempotent, and both
// callers already have a cheaper path when generation fails: the context
// builder falls back to its heuristic summary, and the chat handler
// surfaces the error to the client.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"google.golang.org/genai"

	"github.com/parleyhq/parley/internal/log"
)

// DefaultModel is used when the configuration names no model.
const DefaultModel = "googleai/gemini-2.5-flash"

// DefaultTimeout bounds a single completion. Summaries run inline on the
// context read path, so the budget errs on the short side.
const DefaultTimeout = 10 * time.Second

// summaryInputMaxRunes limits the transcript length sent to the model,
// reducing latency and cost. Runes, not bytes, so UTF-8 text is cut
// cleanly.
const summaryInputMaxRunes = 6000

// ErrEmptyCompletion reports that the model returned no usable text.
// Callers treat it like any other generation failure.
var ErrEmptyCompletion = errors.New("model returned empty completion")

// summaryPrompt asks for a compact digest of the turns that scrolled out
// of the conversation window.
const summaryPrompt = `Summarize this conversation segment in two or three sentences.
Capture the user's goals, any facts they stated about themselves, and the
assistant's key answers. Write in the third person, no preamble.

Conversation:
%s

Summary:`

// baseSystem frames the assistant for the chat endpoint when the session
// has produced no context yet.
const baseSystem = `You are a helpful, concise assistant.`

// contextSystem is baseSystem plus the session's prompt-ready context
// block. The model sees facts, the rolling summary, and recent turns as
// plain text; we keep no model-side conversation state.
const contextSystem = `You are a helpful, concise assistant.
Use the conversation context below when it is relevant. Do not mention
that you were given it.

%s`

// Config tunes the generation client. Zero values fall back to defaults.
type Config struct {
	// Model is the fully qualified Genkit model name, including the
	// provider prefix, e.g. "googleai/gemini-2.5-flash".
	Model string

	// Timeout bounds each Generate call.
	Timeout time.Duration

	// Temperature overrides the model default when non-zero. Summaries
	// want low variance.
	Temperature float32

	// MaxTokens caps completion length when non-zero.
	MaxTokens int
}

// Client generates text through a configured Genkit instance. It
// satisfies session.Summarizer and the API layer's Responder contract.
type Client struct {
	g       *genkit.Genkit
	model   string
	timeout time.Duration
	genCfg  *genai.GenerateContentConfig
	logger  log.Logger
}

// New builds a Client. The Genkit instance is required; everything else
// falls back to defaults.
func New(g *genkit.Genkit, cfg Config, logger log.Logger) (*Client, error) {
	if g == nil {
		return nil, errors.New("genkit instance is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		g:       g,
		model:   model,
		timeout: timeout,
		genCfg:  generationConfig(cfg),
		logger:  logger,
	}, nil
}

// generationConfig translates the tuning knobs into the provider config,
// or nil when everything is at the model default.
func generationConfig(cfg Config) *genai.GenerateContentConfig {
	if cfg.Temperature == 0 && cfg.MaxTokens == 0 {
		return nil
	}
	gc := &genai.GenerateContentConfig{}
	if cfg.Temperature != 0 {
		gc.Temperature = genai.Ptr(cfg.Temperature)
	}
	if cfg.MaxTokens != 0 {
		gc.MaxOutputTokens = int32(cfg.MaxTokens)
	}
	return gc
}

// Summarize produces a digest of a conversation transcript. On error the
// caller falls back to its heuristic summary, so failures here are wrapped
// and returned rather than logged loudly.
func (c *Client) Summarize(ctx context.Context, transcript string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	transcript = clipRunes(transcript, summaryInputMaxRunes)

	opts := []ai.GenerateOption{
		ai.WithModelName(c.model),
		ai.WithPrompt(summaryPrompt, transcript),
	}
	if c.genCfg != nil {
		opts = append(opts, ai.WithConfig(c.genCfg))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return "", fmt.Errorf("generating summary: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// Respond answers one chat message. sessionContext is the prompt-ready
// block from the session engine; empty means a fresh session.
func (c *Client) Respond(ctx context.Context, sessionContext, message string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := []ai.GenerateOption{
		ai.WithModelName(c.model),
		ai.WithSystem(systemFor(sessionContext)),
		ai.WithPrompt(message),
	}
	if c.genCfg != nil {
		opts = append(opts, ai.WithConfig(c.genCfg))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return "", fmt.Errorf("generating reply: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// systemFor builds the system prompt for a chat turn.
func systemFor(sessionContext string) string {
	if sessionContext == "" {
		return baseSystem
	}
	return fmt.Sprintf(contextSystem, sessionContext)
}

// clipRunes truncates s to at most max runes, appending "..." when it cut
// anything.
func clipRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
