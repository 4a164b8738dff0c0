package transport

import (
	"context"
	"fmt"
	"time"
)

// Transport kinds.
const (
	// KindExec runs the system ssh client on a pseudo terminal.
	KindExec = "exec"
	// KindSSH uses the built-in SSH client.
	KindSSH = "ssh"
)

// Options selects and configures a transport for one device.
type Options struct {
	Kind string

	User string
	Host string
	Port int

	// Used by KindSSH only. With KindExec the device asks for these
	// in-band and the session answers.
	Password              string
	KeyFile               string
	Passphrase            string
	KnownHostsFile        string
	InsecureIgnoreHostKey bool

	// Used by KindExec only.
	SSHBinary string
	SSHConfig string

	ConnectTimeout time.Duration

	Rows, Cols int
}

// Open connects to the device described by o.
func Open(ctx context.Context, o Options) (*Stream, error) {
	switch o.Kind {
	case KindExec, "":
		argv := SSHArgs(SSHTarget{
			Binary:     o.SSHBinary,
			User:       o.User,
			Host:       o.Host,
			Port:       o.Port,
			ConfigFile: o.SSHConfig,
		})
		return StartCommand(ctx, argv, o.Rows, o.Cols)
	case KindSSH:
		return DialSSH(ctx, SSHConfig{
			User:                  o.User,
			Host:                  o.Host,
			Port:                  o.Port,
			Password:              o.Password,
			KeyFile:               o.KeyFile,
			Passphrase:            o.Passphrase,
			KnownHostsFile:        o.KnownHostsFile,
			InsecureIgnoreHostKey: o.InsecureIgnoreHostKey,
			ConnectTimeout:        o.ConnectTimeout,
			Rows:                  o.Rows,
			Cols:                  o.Cols,
		})
	}
	return nil, fmt.Errorf("unknown transport %q (want %s or %s)", o.Kind, KindExec, KindSSH)
}
