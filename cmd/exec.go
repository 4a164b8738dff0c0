package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/timvw/sisqo/internal/fleet"
	"github.com/timvw/sisqo/internal/model"
)

var flagJSON bool

var execCmd = &cobra.Command{
	Use:   "exec <device> -- <command>...",
	Short: "Run commands on one device",
	Long: `Log in to a device and run each command in turn, printing the output
without the command echo, the prompt or pagination markers. Each argument
is one command, so quote commands that contain spaces:

  sisqo exec r1 -- "show version" "show ip interface brief"

The device is a name from the inventory or an address such as
admin@10.0.0.1 or r1.example.net:2222.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		d, err := a.cfg.Device(args[0])
		if err != nil {
			return err
		}
		if flagEnable {
			d.Enable = true
		}

		runner := &fleet.Runner{
			Dial:   a.connector.Dial,
			Logger: a.logger,
			Events: a.events,
		}
		res := runner.RunDevice(ctx, uuid.NewString(), d, args[1:])
		for _, e := range a.events.Snapshot(time.Now()) {
			a.logger.Debug("session", "device", e.Device, "id", e.SessionID, "state", e.State)
		}

		if flagJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
		} else {
			printCommands(res)
		}
		if res.Failed() {
			return fmt.Errorf("%s: %s", res.Device, res.Error)
		}
		return nil
	},
}

// printCommands prints only the command outputs, one after the other.
func printCommands(res model.DeviceResult) {
	for _, c := range res.Commands {
		if c.Output != "" {
			fmt.Println(c.Output)
		}
		if c.TimedOut {
			fmt.Fprintf(os.Stderr, "%s: %q timed out waiting for the prompt\n", res.Device, c.Command)
		}
	}
}

func init() {
	execCmd.Flags().BoolVar(&flagEnable, "enable", false, "enter privileged mode first")
	execCmd.Flags().BoolVar(&flagJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(execCmd)
}
