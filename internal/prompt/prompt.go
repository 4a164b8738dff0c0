// Package prompt classifies the prompts a device or SSH client prints while
// a session logs in: password and key passphrase requests, username
// requests, host key confirmations and rejection messages.
//
// The Registry tries deterministic matchers in order against the bottom of
// the screen. Anything it cannot place can be handed to a secondary
// Classifier (an LLM, see internal/evaluator) through Fallback.
package prompt

import (
	"context"
	"strings"
)

// Kind is what a prompt asks for.
type Kind string

const (
	KindUnknown    Kind = "unknown"
	KindPassword   Kind = "password"
	KindPassphrase Kind = "passphrase"
	KindUsername   Kind = "username"
	KindHostKey    Kind = "host_key"
	KindRejected   Kind = "rejected"
)

// ParseKind maps a kind name to a Kind. Unknown names map to KindUnknown.
func ParseKind(s string) Kind {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindPassword, KindPassphrase, KindUsername, KindHostKey, KindRejected:
		return k
	default:
		return KindUnknown
	}
}

// Result is a classified prompt.
type Result struct {
	Kind   Kind
	Key    string // key file named by a passphrase prompt
	Line   string // the line that matched
	Source string // matcher name, or the LLM provider
	Reason string
}

// Classifier turns login output into a Result. A nil Result with a nil
// error means the text was not recognised.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Result, error)
}

// Matcher recognises one kind of prompt in the bottom lines of a screen.
type Matcher interface {
	// Name identifies the matcher in Result.Source.
	Name() string

	// Match returns nil when lines do not end in this matcher's prompt.
	Match(lines []string) *Result
}

// bottomLines is how many non-empty lines from the bottom a matcher sees.
// Rejection messages are printed one or two lines above the re-prompt.
const bottomLines = 4

// bottomNonEmpty returns the last n non-empty lines, in order.
func bottomNonEmpty(lines []string, n int) []string {
	out := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			out = append(out, lines[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func splitLines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

// lastLine returns the bottom non-empty line, trimmed.
func lastLine(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

// Fallback classifies with Primary and consults Secondary only when
// Primary does not recognise the text. Secondary may be nil.
type Fallback struct {
	Primary   Classifier
	Secondary Classifier
}

func (f Fallback) Classify(ctx context.Context, text string) (*Result, error) {
	if f.Primary != nil {
		r, err := f.Primary.Classify(ctx, text)
		if err != nil {
			return nil, err
		}
		if r != nil && r.Kind != KindUnknown {
			return r, nil
		}
	}
	if f.Secondary == nil {
		return nil, nil
	}
	return f.Secondary.Classify(ctx, text)
}
