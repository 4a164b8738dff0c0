package transport

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/creack/pty"
)

// Terminal type announced to the device.
const Term = "vt100"

// SSHTarget describes how to reach a device with the system ssh client.
type SSHTarget struct {
	// Binary is the ssh executable, "ssh" if empty.
	Binary string
	User   string
	Host   string
	Port   int
	// ConfigFile is passed with -F. When set, host key and connect timeout
	// policy is left to that file.
	ConfigFile string
}

// SSHArgs returns the argv that logs into t with the system ssh client.
func SSHArgs(t SSHTarget) []string {
	bin := t.Binary
	if bin == "" {
		bin = "ssh"
	}
	args := []string{bin}
	if t.ConfigFile != "" {
		args = append(args, "-F", t.ConfigFile)
	}
	if t.Port != 0 && t.Port != 22 {
		args = append(args, "-p", strconv.Itoa(t.Port))
	}
	if t.ConfigFile == "" {
		args = append(args, "-oStrictHostKeyChecking=no", "-oConnectTimeout=10")
	}
	host := t.Host
	if t.User != "" {
		host = t.User + "@" + host
	}
	return append(args, host)
}

// StartCommand runs argv on a pseudo terminal of rows x cols and returns a
// stream over the terminal. The login conversation (passwords, host keys)
// then happens in-band, the way a user would see it. The process is
// killed when ctx is done.
func StartCommand(ctx context.Context, argv []string, rows, cols int) (*Stream, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("start command: empty argv")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), "TERM="+Term)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}

	closeFn := func() error {
		err := ptmx.Close()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		// The exit status of a killed ssh is not interesting.
		_ = cmd.Wait()
		return err
	}
	return NewStream(ptmx, ptmx, closeFn), nil
}
