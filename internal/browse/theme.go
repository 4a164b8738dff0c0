package browse

import "github.com/charmbracelet/lipgloss"

// Theme defines the colors used by the config browser.
type Theme struct {
	Primary   lipgloss.Color // title, cursor
	Secondary lipgloss.Color // selected line text
	Match     lipgloss.Color // lines matching the filter
	Error     lipgloss.Color
	Text      lipgloss.Color
	TextMuted lipgloss.Color // hints, context lines around matches
	Selection lipgloss.Color // selected line background
	Border    lipgloss.Color
}

// DarkTheme is the default.
func DarkTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("#fab283"),
		Secondary: lipgloss.Color("#5c9cf5"),
		Match:     lipgloss.Color("#f5a742"),
		Error:     lipgloss.Color("#e06c75"),
		Text:      lipgloss.Color("#eeeeee"),
		TextMuted: lipgloss.Color("#808080"),
		Selection: lipgloss.Color("#1e1e1e"),
		Border:    lipgloss.Color("#484848"),
	}
}

// LightTheme is for bright terminal backgrounds.
func LightTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("#b35c00"),
		Secondary: lipgloss.Color("#0550ae"),
		Match:     lipgloss.Color("#bf8700"),
		Error:     lipgloss.Color("#cf222e"),
		Text:      lipgloss.Color("#1f2328"),
		TextMuted: lipgloss.Color("#656d76"),
		Selection: lipgloss.Color("#f6f8fa"),
		Border:    lipgloss.Color("#d0d7de"),
	}
}

// ThemeByName returns a theme by name. Defaults to dark.
func ThemeByName(name string) Theme {
	switch name {
	case "light":
		return LightTheme()
	default:
		return DarkTheme()
	}
}

type styles struct {
	title    lipgloss.Style
	selected lipgloss.Style
	match    lipgloss.Style
	err      lipgloss.Style
	dim      lipgloss.Style
	text     lipgloss.Style
	marker   lipgloss.Style
	status   lipgloss.Style
}

func newStyles(t Theme) styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		selected: lipgloss.NewStyle().Bold(true).Foreground(t.Secondary).Background(t.Selection),
		match:    lipgloss.NewStyle().Foreground(t.Match),
		err:      lipgloss.NewStyle().Foreground(t.Error),
		dim:      lipgloss.NewStyle().Foreground(t.TextMuted),
		text:     lipgloss.NewStyle().Foreground(t.Text),
		marker:   lipgloss.NewStyle().Foreground(t.Border),
		status:   lipgloss.NewStyle().Foreground(t.TextMuted),
	}
}
