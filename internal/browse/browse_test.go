package browse

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/timvw/sisqo/internal/conftree"
)

const sampleConfig = `hostname R1
interface GigabitEthernet0/0
 description uplink
 ip address 10.0.0.1 255.255.255.0
 no shutdown
interface GigabitEthernet0/1
 shutdown
router ospf 1
 network 10.0.0.0 0.0.0.255 area 0
`

// newTestModel creates a model over sampleConfig with a usable window.
func newTestModel() *browseModel {
	m := newModel("R1", conftree.Parse(sampleConfig), DarkTheme(), nil)
	m.width = 100
	m.height = 30
	return m
}

func values(m *browseModel) []string {
	out := make([]string, len(m.rows))
	for i, r := range m.rows {
		out[i] = r.line.Value()
	}
	return out
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(m *browseModel, keys ...string) {
	for _, k := range keys {
		m.Update(key(k))
	}
}

func equalStrings(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCollapsedByDefault(t *testing.T) {
	m := newTestModel()
	equalStrings(t, values(m), []string{
		"hostname R1",
		"interface GigabitEthernet0/0",
		"interface GigabitEthernet0/1",
		"router ospf 1",
	})
}

func TestEnterTogglesBlock(t *testing.T) {
	m := newTestModel()
	press(m, "down", "enter")

	equalStrings(t, values(m), []string{
		"hostname R1",
		"interface GigabitEthernet0/0",
		"description uplink",
		"ip address 10.0.0.1 255.255.255.0",
		"no shutdown",
		"interface GigabitEthernet0/1",
		"router ospf 1",
	})
	if got := m.selected().Value(); got != "interface GigabitEthernet0/0" {
		t.Errorf("selected: got %q, want %q", got, "interface GigabitEthernet0/0")
	}

	press(m, "enter")
	if len(m.rows) != 4 {
		t.Errorf("after second enter: got %d rows, want 4", len(m.rows))
	}
}

func TestEnterOnLeafDoesNothing(t *testing.T) {
	m := newTestModel()
	press(m, "enter")
	if len(m.rows) != 4 {
		t.Errorf("got %d rows, want 4", len(m.rows))
	}
}

func TestLeftJumpsToParentThenCollapses(t *testing.T) {
	m := newTestModel()
	press(m, "down", "enter", "down", "down")
	if got := m.selected().Value(); got != "ip address 10.0.0.1 255.255.255.0" {
		t.Fatalf("selected: got %q", got)
	}

	press(m, "left")
	if got := m.selected().Value(); got != "interface GigabitEthernet0/0" {
		t.Errorf("after left: got %q, want parent", got)
	}
	press(m, "left")
	if len(m.rows) != 4 {
		t.Errorf("after second left: got %d rows, want 4", len(m.rows))
	}
}

func TestExpandAndCollapseAll(t *testing.T) {
	m := newTestModel()
	press(m, "e")
	if got := len(m.rows); got != 9 {
		t.Errorf("expand all: got %d rows, want 9", got)
	}
	press(m, "c")
	if got := len(m.rows); got != 4 {
		t.Errorf("collapse all: got %d rows, want 4", got)
	}
}

func TestFilterShowsMatchesWithParents(t *testing.T) {
	m := newTestModel()
	press(m, "/", "s", "h", "u", "t")
	press(m, "enter")

	if m.mode != modeTree {
		t.Fatalf("mode: got %v, want tree", m.mode)
	}
	equalStrings(t, values(m), []string{
		"interface GigabitEthernet0/0",
		"no shutdown",
		"interface GigabitEthernet0/1",
		"shutdown",
	})
	if len(m.matches) != 2 {
		t.Errorf("matches: got %d, want 2", len(m.matches))
	}
	if !strings.Contains(m.message, "2 matching") {
		t.Errorf("message: got %q", m.message)
	}

	press(m, "esc")
	if m.filterRe != nil {
		t.Error("esc did not clear the filter")
	}
	if len(m.rows) != 4 {
		t.Errorf("after clearing: got %d rows, want 4", len(m.rows))
	}
}

func TestFilterInvalidRegex(t *testing.T) {
	m := newTestModel()
	press(m, "/", "(")
	press(m, "enter")

	if m.mode != modeFilter {
		t.Errorf("mode: got %v, want filter after invalid regex", m.mode)
	}
	if !strings.HasPrefix(m.message, "invalid filter") {
		t.Errorf("message: got %q", m.message)
	}
}

func TestFilterNoMatches(t *testing.T) {
	m := newTestModel()
	if err := m.applyFilter("^vlan"); err != nil {
		t.Fatalf("applyFilter: %v", err)
	}
	if len(m.rows) != 0 {
		t.Errorf("got %d rows, want 0", len(m.rows))
	}
	if v := m.View(); !strings.Contains(v, "No matching lines.") {
		t.Errorf("View missing empty-filter notice:\n%s", v)
	}
}

func TestReloadKeepsFoldState(t *testing.T) {
	m := newTestModel()
	press(m, "down", "enter")

	updated := strings.Replace(sampleConfig, "description uplink", "description core uplink", 1)
	m.Update(treeMsg{tree: conftree.Parse(updated)})

	if m.reloads != 1 {
		t.Errorf("reloads: got %d, want 1", m.reloads)
	}
	if got := len(m.rows); got != 7 {
		t.Fatalf("got %d rows, want 7", got)
	}
	if got := m.rows[2].line.Value(); got != "description core uplink" {
		t.Errorf("row 2: got %q, want %q", got, "description core uplink")
	}
	if got := m.selected().Value(); got != "interface GigabitEthernet0/0" {
		t.Errorf("selected: got %q", got)
	}
}

func TestView(t *testing.T) {
	m := newModel("R1", conftree.Parse(sampleConfig), DarkTheme(), nil)
	if got := m.View(); got != "Loading..." {
		t.Errorf("before size: got %q, want %q", got, "Loading...")
	}

	m.Update(tea.WindowSizeMsg{Width: 80, Height: 20})
	v := m.View()
	for _, want := range []string{"Config R1", "hostname R1", "router ospf 1", "1/4", "9 lines"} {
		if !strings.Contains(v, want) {
			t.Errorf("View missing %q in:\n%s", want, v)
		}
	}
}

func TestScrollKeepsCursorVisible(t *testing.T) {
	m := newTestModel()
	m.height = 5 // two rows on screen
	press(m, "e")
	for i := 0; i < 6; i++ {
		press(m, "down")
	}
	if m.cursor != 6 {
		t.Fatalf("cursor: got %d, want 6", m.cursor)
	}
	if m.cursor < m.offset || m.cursor >= m.offset+m.pageSize() {
		t.Errorf("cursor %d outside window [%d,%d)", m.cursor, m.offset, m.offset+m.pageSize())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"hostname R1", 20, "hostname R1"},
		{"hostname R1", 8, "hostn..."},
		{"hostname R1", 2, "ho"},
		{"hostname R1", 0, ""},
		{"描述描述", 5, "描..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.width); got != tt.want {
			t.Errorf("truncate(%q, %d): got %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestThemeByName(t *testing.T) {
	if ThemeByName("light") != LightTheme() {
		t.Error("light: got a different theme")
	}
	if ThemeByName("solarized") != DarkTheme() {
		t.Error("unknown name should fall back to dark")
	}
}
