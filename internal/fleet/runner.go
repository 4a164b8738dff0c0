// Package fleet runs commands on many devices at once.
package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/timvw/sisqo/internal/config"
	"github.com/timvw/sisqo/internal/events"
	"github.com/timvw/sisqo/internal/logging"
	"github.com/timvw/sisqo/internal/model"
)

var tracer = otel.Tracer("sisqo/fleet")

// DialFunc connects to a device and logs in.
type DialFunc func(ctx context.Context, d config.Device) (Session, error)

// Runner runs the same commands on a set of devices, at most Parallel at
// a time. Each device gets its own session.
type Runner struct {
	Dial     DialFunc
	Parallel int
	Cache    *OutputCache // nil marks every output as changed
	Logger   *log.Logger
	Events   *events.Store // failures are recorded here; may be nil
}

func (r *Runner) logger() *log.Logger {
	if r.Logger == nil {
		return logging.Discard()
	}
	return r.Logger
}

func (r *Runner) parallel(n int) int {
	p := r.Parallel
	if p < 1 {
		p = 1
	}
	if p > n {
		p = n
	}
	return p
}

// Run executes commands on every device. Results are in device order. A
// device that fails does not stop the others; its result carries the
// error.
func (r *Runner) Run(ctx context.Context, devices []config.Device, commands []string) []model.DeviceResult {
	runID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "fleet.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("devices.total", len(devices)),
			attribute.StringSlice("commands", commands),
		))
	defer span.End()

	results := make([]model.DeviceResult, len(devices))
	if len(devices) == 0 {
		return results
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, r.parallel(len(devices)))

	for i, d := range devices {
		wg.Add(1)
		go func(idx int, d config.Device) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = r.RunDevice(ctx, runID, d, commands)
		}(i, d)
	}
	wg.Wait()

	failed, changed := 0, 0
	for _, res := range results {
		if res.Failed() {
			failed++
		}
		if res.Changed() {
			changed++
		}
	}
	span.SetAttributes(
		attribute.Int("devices.failed", failed),
		attribute.Int("devices.changed", changed),
	)
	return results
}

// RunDevice executes commands on one device.
func (r *Runner) RunDevice(ctx context.Context, runID string, d config.Device, commands []string) model.DeviceResult {
	ctx, span := tracer.Start(ctx, "fleet.device",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("device", d.Name),
			attribute.String("device.host", d.Host),
			attribute.String("transport", d.Transport),
		))
	defer span.End()

	start := time.Now()
	res := model.DeviceResult{
		Device:    d.Name,
		Host:      d.Host,
		RunID:     runID,
		StartedAt: start.UTC(),
		Commands:  []model.CommandResult{},
	}
	finish := func() model.DeviceResult {
		res.DurationMs = time.Since(start).Milliseconds()
		span.SetAttributes(
			attribute.String("session.state", res.State),
			attribute.Int("commands.completed", len(res.Commands)),
		)
		if res.Failed() {
			span.SetAttributes(attribute.String("error.message", res.Error))
			r.logger().Warn("device failed", "device", d.Name, "err", res.Error)
			r.recordFailure(d.Name, res.SessionID, res.Error)
			// The next good run reports every output as changed.
			r.Cache.Invalidate(d.Name)
		}
		return res
	}

	s, err := r.Dial(ctx, d)
	if err != nil {
		res.State = events.StateError
		res.Error = err.Error()
		return finish()
	}
	defer s.Close()
	res.SessionID = s.ID()

	for _, cmd := range commands {
		out, err := s.Exec(ctx, cmd)
		if err != nil {
			res.Error = err.Error()
			break
		}
		cr := model.CommandResult{
			Command:  cmd,
			Output:   out,
			TimedOut: s.TimedOut(),
			Changed:  true,
		}
		if r.Cache.Unchanged(ctx, d.Name, cmd, out) {
			cr.Changed = false
		}
		r.Cache.Store(d.Name, cmd, out)
		res.Commands = append(res.Commands, cr)
	}
	res.State = s.State().String()
	if res.Failed() {
		res.State = events.StateError
	}
	return finish()
}

// Check connects to every device, logs in and reads the prompt.
func (r *Runner) Check(ctx context.Context, devices []config.Device) []model.CheckResult {
	ctx, span := tracer.Start(ctx, "fleet.check",
		trace.WithAttributes(attribute.Int("devices.total", len(devices))))
	defer span.End()

	results := make([]model.CheckResult, len(devices))
	if len(devices) == 0 {
		return results
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, r.parallel(len(devices)))
	for i, d := range devices {
		wg.Add(1)
		go func(idx int, d config.Device) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = r.checkDevice(ctx, d)
		}(i, d)
	}
	wg.Wait()
	return results
}

// checkDevice returns a named result so the deferred duration lands in it.
func (r *Runner) checkDevice(ctx context.Context, d config.Device) (res model.CheckResult) {
	start := time.Now()
	res = model.CheckResult{Device: d.Name, Host: d.Host, State: events.StateError}
	defer func() { res.DurationMs = time.Since(start).Milliseconds() }()

	s, err := r.Dial(ctx, d)
	if err != nil {
		res.Error = err.Error()
		r.recordFailure(d.Name, "", res.Error)
		return res
	}
	defer s.Close()

	p, err := s.Prompt(ctx)
	if err != nil {
		res.Error = err.Error()
		r.recordFailure(d.Name, s.ID(), res.Error)
		return res
	}
	res.State = s.State().String()
	res.OK = events.IsReadyState(res.State)
	res.Prompt = p
	if !res.OK {
		res.Error = fmt.Sprintf("session is %s after login", res.State)
		r.recordFailure(d.Name, s.ID(), res.Error)
	}
	return res
}

func (r *Runner) recordFailure(device, sessionID, msg string) {
	if r.Events == nil {
		return
	}
	r.Events.Upsert(events.Event{
		Device:    device,
		SessionID: sessionID,
		State:     events.StateError,
		TS:        time.Now().UTC(),
		Message:   msg,
	})
}
