package session

import (
	"regexp"
	"time"

	"github.com/charmbracelet/log"

	"github.com/timvw/sisqo/internal/events"
	sqotel "github.com/timvw/sisqo/internal/otel"
)

const (
	DefaultPromptPattern   = `^[^\s]+[>#]\s?$`
	DefaultMorePattern     = `^.*-+\s*more\s*-+.*$`
	DefaultTimeout         = 10 * time.Second
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultRows            = 256
	DefaultCols            = 512
	DefaultScrollback      = 100000
	DefaultMaxAuthAttempts = 10
)

// Options configures a Session. Zero values select the defaults above.
type Options struct {
	Host string

	// PromptPattern matches the device prompt on the cursor line.
	PromptPattern string
	// MorePattern matches a pagination marker on the cursor line.
	MorePattern string

	Timeout      time.Duration
	PollInterval time.Duration

	Rows, Cols int
	// Scrollback is the number of rows kept above the screen. Negative
	// disables it.
	Scrollback int

	MaxAuthAttempts int

	Logger        *log.Logger
	Metrics       *sqotel.Metrics
	OnStateChange func(events.Event)
}

func (o Options) withDefaults() Options {
	if o.PromptPattern == "" {
		o.PromptPattern = DefaultPromptPattern
	}
	if o.MorePattern == "" {
		o.MorePattern = DefaultMorePattern
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Rows <= 0 {
		o.Rows = DefaultRows
	}
	if o.Cols <= 0 {
		o.Cols = DefaultCols
	}
	switch {
	case o.Scrollback == 0:
		o.Scrollback = DefaultScrollback
	case o.Scrollback < 0:
		o.Scrollback = 0
	}
	if o.MaxAuthAttempts <= 0 {
		o.MaxAuthAttempts = DefaultMaxAuthAttempts
	}
	return o
}

// CompilePattern compiles a prompt or pagination pattern the way sessions
// use it: case-insensitive and multi-line.
func CompilePattern(expr string) (*regexp.Regexp, error) {
	return regexp.Compile("(?im)" + expr)
}

// WriteOptions tunes a single Write.
type WriteOptions struct {
	// SkipEcho sends without waiting for the device to echo the command.
	SkipEcho bool
	// Timeout bounds echo consumption; 0 uses the session timeout.
	Timeout time.Duration
	// Mask hides the command in logs and sends it verbatim.
	Mask bool
}

// ReadOptions tunes a single Read.
type ReadOptions struct {
	// Timeout bounds the read; 0 uses the session timeout.
	Timeout time.Duration
	// Prompt and More override the session patterns.
	Prompt *regexp.Regexp
	More   *regexp.Regexp
	// KeepPrompt leaves the prompt line in the output.
	KeepPrompt bool
}

// State is the session lifecycle state.
type State int

const (
	Unauthenticated State = iota
	Authenticated
	Enabled
	Closed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return events.StateUnauthenticated
	case Authenticated:
		return events.StateAuthenticated
	case Enabled:
		return events.StateEnabled
	case Closed:
		return events.StateClosed
	default:
		return "unknown"
	}
}
