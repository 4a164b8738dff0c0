package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/timvw/sisqo/internal/config"
	"github.com/timvw/sisqo/internal/fleet"
	"github.com/timvw/sisqo/internal/model"
)

var (
	flagRunDevices  []string
	flagRunCommands []string
	flagRunParallel int
	flagRunInterval time.Duration
	flagChangedOnly bool
	flagRunText     bool
)

var runCmd = &cobra.Command{
	Use:   "run -c <command>... [--device pattern]...",
	Short: "Run commands across the device inventory",
	Long: `Run the same commands on many devices concurrently and print a JSON
array with one result per device.

--device selects inventory entries by name or tag (glob patterns); without
it every configured device is used. A --device value that is not in the
inventory but looks like an address is run as an ad-hoc device.

With --interval the run repeats until interrupted. Each command result
carries "changed": false when its output is the same as last time, and
--changed-only drops devices where nothing changed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(flagRunCommands) == 0 {
			return fmt.Errorf("no commands given (use -c)")
		}
		ctx := cmd.Context()
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		devices, err := selectDevices(a.cfg, flagRunDevices)
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Fprintln(os.Stderr, "no devices selected")
			fmt.Println("[]")
			return nil
		}

		parallel := a.cfg.Parallel
		if cmd.Flags().Changed("parallel") {
			parallel = flagRunParallel
		}
		interval := a.cfg.IntervalDuration
		if cmd.Flags().Changed("interval") {
			interval = flagRunInterval
		}

		cache := fleet.NewOutputCache(a.cfg.CacheTTLDuration, a.metrics)
		runner := &fleet.Runner{
			Dial:     a.connector.Dial,
			Parallel: parallel,
			Cache:    cache,
			Logger:   a.logger,
			Events:   a.events,
		}
		return runRepeated(ctx, interval, func() error {
			results := runner.Run(ctx, devices, flagRunCommands)
			st := cache.Stats()
			a.logger.Info("run finished", "devices", len(results), "failed", countFailed(results))
			a.logger.Debug("output cache", "entries", st.Entries, "hits", st.Hits, "misses", st.Misses)
			for _, e := range a.events.SnapshotFailures(time.Now()) {
				a.logger.Debug("last failure", "device", e.Device, "at", e.TS, "msg", e.Message)
			}
			return writeResults(results)
		})
	},
}

func init() {
	runCmd.Flags().StringArrayVarP(&flagRunDevices, "device", "d", nil, "device name or tag pattern (repeatable)")
	runCmd.Flags().StringArrayVarP(&flagRunCommands, "command", "c", nil, "command to run (repeatable)")
	runCmd.Flags().IntVarP(&flagRunParallel, "parallel", "p", 10, "number of devices to run concurrently")
	runCmd.Flags().DurationVar(&flagRunInterval, "interval", 0, "repeat the run at this interval (0 runs once)")
	runCmd.Flags().BoolVar(&flagChangedOnly, "changed-only", false, "only print devices whose output changed or that failed")
	runCmd.Flags().BoolVar(&flagRunText, "text", false, "print plain text instead of JSON")
	rootCmd.AddCommand(runCmd)
}

// selectDevices resolves --device patterns against the inventory. Patterns
// that select nothing are tried as ad-hoc device addresses.
func selectDevices(cfg *config.Config, patterns []string) ([]config.Device, error) {
	devices, err := cfg.Select(patterns)
	if err != nil {
		return nil, err
	}
	for _, p := range patterns {
		matched := false
		for _, d := range devices {
			if config.MatchesAny(d.Name, []string{p}) || config.MatchesAny(p, d.Tags) {
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		d, err := cfg.Device(p)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// runRepeated calls fn once, or every interval until ctx is done.
func runRepeated(ctx context.Context, interval time.Duration, fn func() error) error {
	if err := fn(); err != nil || interval <= 0 {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				return nil
			}
			if err := fn(); err != nil {
				return err
			}
		}
	}
}

func writeResults(results []model.DeviceResult) error {
	if flagChangedOnly {
		kept := results[:0:0]
		for _, r := range results {
			if r.Changed() || r.Failed() {
				kept = append(kept, r)
			}
		}
		results = kept
	}

	if flagRunText {
		for _, r := range results {
			fmt.Print(model.FormatText(r))
		}
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func countFailed(results []model.DeviceResult) int {
	n := 0
	for _, r := range results {
		if r.Failed() {
			n++
		}
	}
	return n
}
