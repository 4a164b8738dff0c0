package prompt

import (
	"context"
	"regexp"
	"strings"
)

// Registry holds an ordered list of matchers and tries each one.
type Registry struct {
	matchers []Matcher
}

// NewRegistry returns a registry with the default matchers. Rejections are
// checked first so a "% Authentication failed" above a fresh password
// prompt stops the login instead of retrying.
func NewRegistry() *Registry {
	return &Registry{
		matchers: []Matcher{
			&RejectionMatcher{},
			&HostKeyMatcher{},
			&PassphraseMatcher{},
			&PasswordMatcher{},
			&UsernameMatcher{},
		},
	}
}

// Add appends a matcher after the defaults.
func (r *Registry) Add(m Matcher) {
	r.matchers = append(r.matchers, m)
}

// Match returns the first matcher result for text, or nil.
func (r *Registry) Match(text string) *Result {
	lines := bottomNonEmpty(splitLines(text), bottomLines)
	if len(lines) == 0 {
		return nil
	}
	for _, m := range r.matchers {
		if res := m.Match(lines); res != nil {
			if res.Source == "" {
				res.Source = m.Name()
			}
			return res
		}
	}
	return nil
}

// Classify implements Classifier. It never fails.
func (r *Registry) Classify(_ context.Context, text string) (*Result, error) {
	return r.Match(text), nil
}

var rejectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)%\s*authentication failed`),
	regexp.MustCompile(`(?i)permission denied`),
	regexp.MustCompile(`(?i)access denied`),
	regexp.MustCompile(`(?i)%\s*bad passwords?`),
	regexp.MustCompile(`(?i)%\s*bad secrets?`),
	regexp.MustCompile(`(?i)login invalid`),
}

// IsRejection reports whether text contains a login or enable rejection.
func IsRejection(text string) bool {
	for _, re := range rejectionPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Rejected reports whether the bottom of text is a rejection that is not
// followed by a fresh login prompt.
func Rejected(text string) bool {
	lines := bottomNonEmpty(splitLines(text), bottomLines)
	return (&RejectionMatcher{}).Match(lines) != nil
}

// RejectionMatcher recognises "% Authentication failed" and friends. It
// only fires when no username prompt follows, since many devices print the
// rejection and then start a fresh login.
type RejectionMatcher struct{}

func (m *RejectionMatcher) Name() string { return "rejection" }

func (m *RejectionMatcher) Match(lines []string) *Result {
	if usernamePrompt.MatchString(lastLine(lines)) {
		return nil
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if IsRejection(lines[i]) {
			return &Result{Kind: KindRejected, Line: strings.TrimSpace(lines[i]), Reason: "device rejected the credentials"}
		}
	}
	return nil
}

var hostKeyPrompt = regexp.MustCompile(`(?i)\(yes/no(/\[fingerprint\])?\)\??\s*$`)

// HostKeyMatcher recognises the OpenSSH unknown host key confirmation.
type HostKeyMatcher struct{}

func (m *HostKeyMatcher) Name() string { return "host_key" }

func (m *HostKeyMatcher) Match(lines []string) *Result {
	last := lastLine(lines)
	if !hostKeyPrompt.MatchString(last) {
		return nil
	}
	return &Result{Kind: KindHostKey, Line: last, Reason: "host key confirmation"}
}

var (
	passphrasePrompt = regexp.MustCompile(`(?i)enter passphrase for key`)
	passphraseKey    = regexp.MustCompile(`(?i)key '(.+)':\s*$`)
)

// PassphraseMatcher recognises "Enter passphrase for key '/path':".
type PassphraseMatcher struct{}

func (m *PassphraseMatcher) Name() string { return "passphrase" }

func (m *PassphraseMatcher) Match(lines []string) *Result {
	last := lastLine(lines)
	if !passphrasePrompt.MatchString(last) {
		return nil
	}
	key := "???"
	if sm := passphraseKey.FindStringSubmatch(last); sm != nil {
		key = sm[1]
	}
	return &Result{Kind: KindPassphrase, Key: key, Line: last, Reason: "private key passphrase"}
}

var passwordPrompt = regexp.MustCompile(`(?i)pass(word|code)\s*:\s*$`)

// PasswordMatcher recognises "Password:" as printed by IOS, NX-OS and the
// OpenSSH client ("user@host's password:").
type PasswordMatcher struct{}

func (m *PasswordMatcher) Name() string { return "password" }

func (m *PasswordMatcher) Match(lines []string) *Result {
	last := lastLine(lines)
	if !passwordPrompt.MatchString(last) {
		return nil
	}
	return &Result{Kind: KindPassword, Line: last, Reason: "password prompt"}
}

var usernamePrompt = regexp.MustCompile(`(?i)(user\s*name|login|user)\s*:\s*$`)

// UsernameMatcher recognises "Username:" and "login:".
type UsernameMatcher struct{}

func (m *UsernameMatcher) Name() string { return "username" }

func (m *UsernameMatcher) Match(lines []string) *Result {
	last := lastLine(lines)
	if !usernamePrompt.MatchString(last) {
		return nil
	}
	return &Result{Kind: KindUsername, Line: last, Reason: "username prompt"}
}
