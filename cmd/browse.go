package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/timvw/sisqo/internal/browse"
	"github.com/timvw/sisqo/internal/config"
	"github.com/timvw/sisqo/internal/conftree"
)

var (
	flagTheme   string
	flagStartup bool
)

var browseCmd = &cobra.Command{
	Use:   "browse <file|device>",
	Short: "Browse a configuration interactively",
	Long: `Open a configuration as a foldable tree. The argument is a saved
configuration file or a device, whose running configuration (or startup
configuration with --startup) is fetched first.

Keys: arrows or j/k move, Enter folds, e/c expand or collapse everything,
/ filters by regex, Esc clears the filter, q quits. A file is re-read when
it changes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		target := args[0]

		if st, err := os.Stat(target); err == nil && !st.IsDir() {
			return browseFile(cmd, target)
		}

		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		s, d, err := a.login(ctx, target, flagEnable)
		if err != nil {
			return err
		}
		var t *conftree.Tree
		if flagStartup {
			t, err = s.ShowStartupConfig(ctx)
		} else {
			t, err = s.ShowRunningConfig(ctx)
		}
		s.Close()
		if err != nil {
			return err
		}

		theme := a.cfg.Theme
		if cmd.Flags().Changed("theme") {
			theme = flagTheme
		}
		b := &browse.Browser{Title: d.Name, Tree: t, Theme: browse.ThemeByName(theme)}
		return b.Run(ctx)
	},
}

func init() {
	browseCmd.Flags().StringVar(&flagTheme, "theme", "dark", "color theme: dark, light")
	browseCmd.Flags().BoolVar(&flagStartup, "startup", false, "browse the startup configuration of a device")
	browseCmd.Flags().BoolVar(&flagEnable, "enable", false, "enter privileged mode first")
	rootCmd.AddCommand(browseCmd)
}

func browseFile(cmd *cobra.Command, path string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel() // stops the watcher when the browser exits
	load := func() (*conftree.Tree, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return conftree.Parse(conftree.TrimPreamble(string(data))), nil
	}
	t, err := load()
	if err != nil {
		return err
	}

	theme := flagTheme
	if !cmd.Flags().Changed("theme") {
		if cfg, err := config.Load(flagConfig); err == nil {
			theme = cfg.Theme
		}
	}

	logger, err := offlineLogger()
	if err != nil {
		return err
	}
	changes, err := watchFile(ctx, path, logger)
	if err != nil {
		return err
	}
	updates := make(chan *conftree.Tree)
	go func() {
		defer close(updates)
		for range changes {
			t, err := load()
			if err != nil {
				logger.Warn("re-parse failed", "file", path, "err", err)
				continue
			}
			select {
			case updates <- t:
			case <-ctx.Done():
				return
			}
		}
	}()

	b := &browse.Browser{Title: path, Tree: t, Theme: browse.ThemeByName(theme), Updates: updates}
	return b.Run(ctx)
}
