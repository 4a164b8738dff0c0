package session

import (
	"context"
	"strings"

	"github.com/timvw/sisqo/internal/prompt"
)

// AuthState is shared by every AnswerPrompt call of one Authenticate call.
type AuthState struct {
	// Attempts is the number of answers sent so far.
	Attempts int
	// Tries counts answers per purpose, e.g. "password" or "key:/path".
	Tries map[string]int
}

// PromptAnswerer supplies answers to login prompts. Returning ok=false
// aborts authentication.
type PromptAnswerer interface {
	AnswerPrompt(ctx context.Context, text string, state *AuthState) (answer string, ok bool)
}

// AnswerFunc adapts a function to PromptAnswerer.
type AnswerFunc func(ctx context.Context, text string, state *AuthState) (string, bool)

func (f AnswerFunc) AnswerPrompt(ctx context.Context, text string, state *AuthState) (string, bool) {
	return f(ctx, text, state)
}

// maxTries is how often the same password or key passphrase is offered.
const maxTries = 3

const (
	triesPassword = "password"
	triesUsername = "username"
	triesKey      = "key:"
)

var defaultClassifier = prompt.NewRegistry()

// Credentials answers the usual SSH and device login prompts.
//
// The password is offered up to three times, each key passphrase up to
// three times per key. Answering one kind resets the counter of the other,
// since an OpenSSH client alternates between keys and passwords. Unknown
// host keys are accepted.
type Credentials struct {
	Username   string
	Password   string
	Passphrase string

	// Classifier recognises prompts. Nil uses the built-in registry.
	Classifier prompt.Classifier
}

func (c *Credentials) AnswerPrompt(ctx context.Context, text string, state *AuthState) (string, bool) {
	if state.Tries == nil {
		state.Tries = make(map[string]int)
	}
	classifier := c.Classifier
	if classifier == nil {
		classifier = defaultClassifier
	}
	res, err := classifier.Classify(ctx, text)
	if err != nil || res == nil {
		return "", false
	}

	switch res.Kind {
	case prompt.KindPassword:
		if c.Password == "" || state.Tries[triesPassword] >= maxTries {
			return "", false
		}
		state.Tries[triesPassword]++
		for k := range state.Tries {
			if strings.HasPrefix(k, triesKey) {
				delete(state.Tries, k)
			}
		}
		return c.Password, true

	case prompt.KindPassphrase:
		k := triesKey + res.Key
		if c.Passphrase == "" || state.Tries[k] >= maxTries {
			return "", false
		}
		state.Tries[k]++
		state.Tries[triesPassword] = 0
		return c.Passphrase, true

	case prompt.KindUsername:
		if c.Username == "" || state.Tries[triesUsername] >= maxTries {
			return "", false
		}
		state.Tries[triesUsername]++
		return c.Username, true

	case prompt.KindHostKey:
		return "yes", true
	}
	return "", false
}
