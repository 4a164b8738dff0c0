package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/timvw/sisqo/internal/conftree"
)

var flagEnable bool

var showCmd = &cobra.Command{
	Use:   "show <device> [running|startup]",
	Short: "Fetch and search a device configuration",
	Long: `Log in to a device, fetch its running (default) or startup
configuration and print it, or the blocks selected by --find.

--find works as for "sisqo parse".`,
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"running", "startup"},
	RunE: func(cmd *cobra.Command, args []string) error {
		which := "running"
		if len(args) == 2 {
			which = args[1]
		}
		if which != "running" && which != "startup" {
			return fmt.Errorf("unknown configuration %q (supported: running, startup)", which)
		}
		patterns, err := compileFinds(flagFind)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		s, _, err := a.login(ctx, args[0], flagEnable)
		if err != nil {
			return err
		}
		defer s.Close()

		var t *conftree.Tree
		if which == "startup" {
			t, err = s.ShowStartupConfig(ctx)
		} else {
			t, err = s.ShowRunningConfig(ctx)
		}
		if err != nil {
			return err
		}
		if s.TimedOut() {
			a.logger.Warn("configuration may be incomplete: timed out waiting for the prompt")
		}

		printLines(cmd.OutOrStdout(), selectLines(t, patterns, flagRecursive), flagLineNumbers)
		return nil
	},
}

func init() {
	showCmd.Flags().StringArrayVarP(&flagFind, "find", "f", nil, "regex selecting lines, one level per flag")
	showCmd.Flags().BoolVarP(&flagRecursive, "recursive", "r", false, "match the last --find at any depth")
	showCmd.Flags().BoolVarP(&flagLineNumbers, "line-numbers", "n", false, "prefix each block with its line number")
	showCmd.Flags().BoolVar(&flagEnable, "enable", false, "enter privileged mode first")
	rootCmd.AddCommand(showCmd)
}
