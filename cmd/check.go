package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/timvw/sisqo/internal/fleet"
)

var checkCmd = &cobra.Command{
	Use:   "check [device]...",
	Short: "Check that devices can be logged in to",
	Long: `Connect to each device, log in (entering privileged mode where
configured) and read the prompt. Prints a JSON array of results and exits
non-zero if any device failed.

Devices are inventory names, tag patterns or addresses; without arguments
every configured device is checked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		devices, err := selectDevices(a.cfg, args)
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			return fmt.Errorf("no devices to check")
		}

		runner := &fleet.Runner{
			Dial:     a.connector.Dial,
			Parallel: a.cfg.Parallel,
			Logger:   a.logger,
			Events:   a.events,
		}
		results := runner.Check(ctx, devices)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}

		failed := 0
		for _, r := range results {
			if r.OK {
				continue
			}
			failed++
			if e, ok := a.events.Get(r.Device); ok {
				a.logger.Debug("last session event", "device", r.Device, "state", e.State, "msg", e.Message)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d devices failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
