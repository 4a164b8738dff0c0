// Package evaluator classifies login prompts with an LLM.
//
// It is the fallback behind the deterministic matchers in internal/prompt:
// Go code builds the request and parses the answer, the model decides what
// an unfamiliar prompt is asking for. The result is an ordinary
// prompt.Result, so callers combine it with prompt.Fallback.
package evaluator

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"

	sqotel "github.com/timvw/sisqo/internal/otel"
	"github.com/timvw/sisqo/internal/prompt"
)

// Evaluator is a prompt.Classifier backed by an LLM provider.
type Evaluator interface {
	prompt.Classifier

	// Provider returns the provider name (e.g., "anthropic", "openai").
	Provider() string

	// Model returns the model name used for classification.
	Model() string
}

var evalTracer = otel.Tracer("sisqo/evaluator")

const defaultMaxTokens = 1024

// screenTail is how many trailing lines of login output are sent.
const screenTail = 20

// Config configures either provider.
type Config struct {
	// BaseURL is the API endpoint.
	BaseURL string
	// APIKey is the API key.
	APIKey string
	// Model is the model name.
	Model string
	// MaxTokens is the maximum number of output tokens.
	MaxTokens int64
	// ExtraHeaders are additional HTTP headers (e.g., "api-key" for Azure).
	ExtraHeaders map[string]string
	// Metrics records token usage and classifications. May be nil.
	Metrics *sqotel.Metrics
}

func (c Config) maxTokens() int64 {
	if c.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return c.MaxTokens
}

// New returns the evaluator for provider, "anthropic" or "openai".
func New(provider string, cfg Config) (Evaluator, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicEvaluator(cfg), nil
	case "openai":
		return NewOpenAIEvaluator(cfg), nil
	}
	return nil, fmt.Errorf("unknown classifier provider %q", provider)
}

// userMessage builds the user turn from the bottom of the login output.
func userMessage(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) > screenTail {
		lines = lines[len(lines)-screenTail:]
	}
	return UserPromptTemplate + strings.Join(lines, "\n")
}

// verdict is the JSON object the model answers with.
type verdict struct {
	Kind   string `json:"kind"`
	Key    string `json:"key"`
	Line   string `json:"line"`
	Reason string `json:"reason"`
}

func parseVerdict(raw, source string) (*prompt.Result, error) {
	text := stripMarkdownFences(raw)
	var v verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("failed to parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	res := &prompt.Result{
		Kind:   prompt.ParseKind(v.Kind),
		Key:    v.Key,
		Line:   v.Line,
		Source: source,
		Reason: v.Reason,
	}
	if res.Kind == prompt.KindPassphrase && res.Key == "" {
		res.Key = "???"
	}
	return res, nil
}
