package evaluator

import (
	_ "embed"
	"strings"
)

// SystemPrompt is the system-level instruction for the classifier.
// Loaded from prompts/system.md at compile time.
//
//go:embed prompts/system.md
var SystemPrompt string

// UserPromptTemplate is the user-level prompt template.
// The tail of the login output is appended after this template at runtime.
//
//go:embed prompts/user.md
var UserPromptTemplate string

// stripMarkdownFences removes a ```json ... ``` wrapper that models add
// despite being asked for bare JSON.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
