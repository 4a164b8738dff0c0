package fleet

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/timvw/sisqo/internal/config"
	"github.com/timvw/sisqo/internal/events"
	sqotel "github.com/timvw/sisqo/internal/otel"
	"github.com/timvw/sisqo/internal/prompt"
	"github.com/timvw/sisqo/internal/session"
	"github.com/timvw/sisqo/internal/transport"
)

// Session is the part of a CLI session the runner uses.
type Session interface {
	ID() string
	State() session.State
	Exec(ctx context.Context, command string) (string, error)
	Prompt(ctx context.Context) (string, error)
	TimedOut() bool
	Close() error
}

// OpenFunc opens the byte stream to a device.
type OpenFunc func(ctx context.Context, o transport.Options) (session.Transport, error)

// Connector opens logged-in sessions to configured devices.
type Connector struct {
	Config     *config.Config
	Classifier prompt.Classifier // nil uses the built-in matchers
	Logger     *log.Logger
	Metrics    *sqotel.Metrics
	Events     *events.Store // state changes are recorded here; may be nil

	// Open defaults to transport.Open.
	Open OpenFunc
}

func openTransport(ctx context.Context, o transport.Options) (session.Transport, error) {
	s, err := transport.Open(ctx, o)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// TransportOptions maps a resolved device to transport options.
func (c *Connector) TransportOptions(d config.Device) transport.Options {
	return transport.Options{
		Kind:                  d.Transport,
		User:                  d.Username,
		Host:                  d.Host,
		Port:                  d.Port,
		Password:              d.Password,
		KeyFile:               d.KeyFile,
		Passphrase:            d.Passphrase,
		KnownHostsFile:        c.Config.KnownHosts,
		InsecureIgnoreHostKey: c.Config.InsecureIgnoreHostKey,
		SSHConfig:             c.Config.SSHConfig,
		ConnectTimeout:        d.TimeoutDuration,
		Rows:                  c.Config.Rows,
		Cols:                  c.Config.Cols,
	}
}

// SessionOptions maps a resolved device to session options.
func (c *Connector) SessionOptions(d config.Device) session.Options {
	return session.Options{
		Host:          d.Name,
		PromptPattern: d.PromptPattern,
		MorePattern:   d.MorePattern,
		Timeout:       d.TimeoutDuration,
		Rows:          c.Config.Rows,
		Cols:          c.Config.Cols,
		Scrollback:    c.Config.Scrollback,
		Logger:        c.Logger,
		Metrics:       c.Metrics,
		OnStateChange: c.record,
	}
}

func (c *Connector) record(e events.Event) {
	if c.Events == nil {
		return
	}
	if err := e.Validate(); err != nil {
		if c.Logger != nil {
			c.Logger.Warn("dropping session event", "device", e.Device, "err", err)
		}
		return
	}
	c.Events.Upsert(e)
}

// Connect opens a session to d without logging in.
func (c *Connector) Connect(ctx context.Context, d config.Device) (*session.Session, error) {
	open := c.Open
	if open == nil {
		open = openTransport
	}
	t, err := open(ctx, c.TransportOptions(d))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", d.Name, err)
	}
	s, err := session.New(t, c.SessionOptions(d))
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("%s: %w", d.Name, err)
	}
	return s, nil
}

// Login authenticates s and, if d asks for it, enters privileged mode.
func (c *Connector) Login(ctx context.Context, s *session.Session, d config.Device) error {
	creds := &session.Credentials{
		Username:   d.Username,
		Password:   d.Password,
		Passphrase: d.Passphrase,
		Classifier: c.Classifier,
	}
	if err := s.Authenticate(ctx, creds); err != nil {
		return fmt.Errorf("logging in to %s: %w", d.Name, err)
	}
	if d.Enable {
		if err := s.Enable(ctx, d.EnablePassword); err != nil {
			return fmt.Errorf("enabling on %s: %w", d.Name, err)
		}
	}
	return nil
}

// Dial connects to d and logs in. On failure the session is closed.
func (c *Connector) Dial(ctx context.Context, d config.Device) (Session, error) {
	s, err := c.Connect(ctx, d)
	if err != nil {
		return nil, err
	}
	if err := c.Login(ctx, s, d); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
