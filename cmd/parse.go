package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/timvw/sisqo/internal/conftree"
	"github.com/timvw/sisqo/internal/logging"
)

var (
	flagFind        []string
	flagRecursive   bool
	flagLineNumbers bool
	flagWatch       bool
)

var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Parse and search a saved configuration",
	Long: `Parse a configuration file into a tree by indentation and print it, or
the blocks selected by --find.

Each --find pattern selects among the children of the previous matches, so
--find '^interface' --find '^ip address' prints the address lines of every
interface. With --recursive the last pattern matches at any depth.
Patterns are case-insensitive regular expressions.

With --watch the file is parsed again whenever it changes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		patterns, err := compileFinds(flagFind)
		if err != nil {
			return err
		}

		show := func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			t := conftree.Parse(conftree.TrimPreamble(string(data)))
			printLines(cmd.OutOrStdout(), selectLines(t, patterns, flagRecursive), flagLineNumbers)
			return nil
		}
		if err := show(); err != nil {
			return err
		}
		if !flagWatch {
			return nil
		}

		logger, err := offlineLogger()
		if err != nil {
			return err
		}
		changes, err := watchFile(cmd.Context(), path, logger)
		if err != nil {
			return err
		}
		for range changes {
			fmt.Fprintf(cmd.OutOrStdout(), "--- %s changed\n", path)
			if err := show(); err != nil {
				logger.Warn("re-parse failed", "file", path, "err", err)
			}
		}
		return nil
	},
}

func init() {
	parseCmd.Flags().StringArrayVarP(&flagFind, "find", "f", nil, "regex selecting lines, one level per flag")
	parseCmd.Flags().BoolVarP(&flagRecursive, "recursive", "r", false, "match the last --find at any depth")
	parseCmd.Flags().BoolVarP(&flagLineNumbers, "line-numbers", "n", false, "prefix each block with its source line number")
	parseCmd.Flags().BoolVarP(&flagWatch, "watch", "w", false, "parse again when the file changes")
	rootCmd.AddCommand(parseCmd)
}

// offlineLogger builds a logger for commands that do not load the config
// file.
func offlineLogger() (*log.Logger, error) {
	level := flagLogLevel
	if level == "" {
		level = os.Getenv("SISQO_LOG_LEVEL")
	}
	return logging.New(os.Stderr, level)
}
