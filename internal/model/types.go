package model

import (
	"fmt"
	"strings"
	"time"
)

// CommandResult is the output of one command on one device.
type CommandResult struct {
	Command string `json:"command"`
	// Output is the rendered output, without echo, prompt or pagination
	// markers.
	Output string `json:"output"`
	// TimedOut is set when the prompt did not come back in time; Output is
	// then whatever had arrived.
	TimedOut bool `json:"timed_out,omitempty"`
	// Changed reports whether Output differs from the previous run of the
	// same command on the same device. Always true on a first run.
	Changed bool `json:"changed"`
}

// DeviceResult is the outcome of one run on one device.
type DeviceResult struct {
	// Device is the inventory name.
	Device string `json:"device"`
	// Host is the address that was connected to.
	Host string `json:"host"`
	// RunID identifies the fleet run this result belongs to.
	RunID string `json:"run_id"`
	// SessionID identifies the CLI session used.
	SessionID string `json:"session_id,omitempty"`
	// State is the session state at the end of the run
	// ("authenticated", "enabled", "closed", "error").
	State string `json:"state"`

	Commands []CommandResult `json:"commands"`

	// Error is set when connecting, logging in or a command failed.
	// Commands then holds the results that completed.
	Error string `json:"error,omitempty"`

	StartedAt time.Time `json:"started_at"`
	// DurationMs is the wall-clock time in milliseconds for the whole run.
	DurationMs int64 `json:"duration_ms"`
}

// Failed reports whether the run did not complete.
func (r DeviceResult) Failed() bool {
	return r.Error != ""
}

// Changed reports whether any command output changed.
func (r DeviceResult) Changed() bool {
	for _, c := range r.Commands {
		if c.Changed {
			return true
		}
	}
	return false
}

// CheckResult is the outcome of a connectivity check.
type CheckResult struct {
	Device string `json:"device"`
	Host   string `json:"host"`
	OK     bool   `json:"ok"`
	State  string `json:"state"`
	// Prompt is the device prompt as seen after login.
	Prompt     string `json:"prompt,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// FormatText renders r the way an operator reads it on a terminal.
func FormatText(r DeviceResult) string {
	var b strings.Builder
	for _, c := range r.Commands {
		fmt.Fprintf(&b, "%s# %s\n", r.Device, c.Command)
		if c.Output != "" {
			b.WriteString(c.Output)
			b.WriteString("\n")
		}
		if c.TimedOut {
			b.WriteString("(timed out waiting for the prompt)\n")
		}
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "%s: error: %s\n", r.Device, r.Error)
	}
	return b.String()
}
