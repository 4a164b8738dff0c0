package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/timvw/sisqo/internal/config"
)

var devicesCmd = &cobra.Command{
	Use:     "devices [pattern]...",
	Aliases: []string{"list"},
	Short:   "List configured devices",
	Long: `List the device inventory with defaults applied. Patterns select by
name or tag, as for "sisqo run --device".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		applyFlags(cmd, cfg)

		devices, err := cfg.Select(args)
		if err != nil {
			return err
		}

		if flagJSON {
			if devices == nil {
				devices = []config.Device{}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(devices)
		}
		if len(devices) == 0 {
			fmt.Fprintln(os.Stderr, "no devices configured")
			return nil
		}
		fmt.Println(devicesTable(devices))
		return nil
	},
}

func init() {
	devicesCmd.Flags().BoolVar(&flagJSON, "json", false, "print the devices as JSON")
	rootCmd.AddCommand(devicesCmd)
}

func devicesTable(devices []config.Device) string {
	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		port := ""
		if d.Port != 0 {
			port = strconv.Itoa(d.Port)
		}
		enable := ""
		if d.Enable {
			enable = "yes"
		}
		rows = append(rows, []string{
			d.Name, d.Host, port, d.Username, d.Transport, enable, strings.Join(d.Tags, ","),
		})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NAME", "HOST", "PORT", "USER", "TRANSPORT", "ENABLE", "TAGS").
		Rows(rows...).
		String()
}
