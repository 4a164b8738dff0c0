// Package browse is an interactive viewer for parsed device configuration.
// Blocks fold and unfold, and a regex filter narrows the view to matching
// lines and the blocks they sit in.
package browse

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/timvw/sisqo/internal/conftree"
)

type viewMode int

const (
	modeTree viewMode = iota
	modeFilter
)

// row is one visible line of the tree.
type row struct {
	line *conftree.Line
	key  string
}

// treeMsg carries a re-parsed configuration.
type treeMsg struct {
	tree *conftree.Tree
}

// Browser runs the interactive config viewer.
type Browser struct {
	Title string
	Tree  *conftree.Tree
	Theme Theme
	// Updates replaces the displayed tree whenever a new one arrives. Fold
	// state and filter survive the swap. May be nil.
	Updates <-chan *conftree.Tree
}

type browseModel struct {
	title   string
	tree    *conftree.Tree
	st      styles
	updates <-chan *conftree.Tree

	// expanded is keyed by the path of values from the top level, so fold
	// state survives a reload.
	expanded map[string]bool
	rows     []row
	cursor   int
	offset   int

	mode     viewMode
	filter   textinput.Model
	filterRe *regexp.Regexp
	matches  map[*conftree.Line]bool

	message string
	reloads int

	width  int
	height int
}

// Run shows the browser until the user quits or ctx is done.
func (b *Browser) Run(ctx context.Context) error {
	m := newModel(b.Title, b.Tree, b.Theme, b.Updates)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func newModel(title string, tree *conftree.Tree, theme Theme, updates <-chan *conftree.Tree) *browseModel {
	ti := textinput.New()
	ti.Prompt = "/"
	ti.Placeholder = "regex, e.g. ^interface|shutdown"
	ti.CharLimit = 256
	ti.Width = 60

	if tree == nil {
		tree = conftree.Parse("")
	}
	m := &browseModel{
		title:    title,
		tree:     tree,
		st:       newStyles(theme),
		updates:  updates,
		expanded: make(map[string]bool),
		filter:   ti,
	}
	m.rebuild()
	return m
}

func (m *browseModel) Init() tea.Cmd {
	return m.waitForTree()
}

func (m *browseModel) waitForTree() tea.Cmd {
	ch := m.updates
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		t, ok := <-ch
		if !ok {
			return nil
		}
		return treeMsg{tree: t}
	}
}

// pathKey identifies l by the values on the way down to it.
func pathKey(l *conftree.Line) string {
	var parts []string
	for p := l; p != nil && !p.IsRoot(); p = p.Parent() {
		parts = append(parts, p.Value())
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "\x00")
}

func hasChildren(l *conftree.Line) bool {
	return len(l.Children()) > 0
}

// rebuild recomputes the visible rows. With a filter, every match is shown
// together with its enclosing lines, regardless of fold state.
func (m *browseModel) rebuild() {
	var selected string
	if m.cursor >= 0 && m.cursor < len(m.rows) {
		selected = m.rows[m.cursor].key
	}

	m.rows = m.rows[:0]
	if m.filterRe != nil {
		m.matches = make(map[*conftree.Line]bool)
		show := make(map[*conftree.Line]bool)
		for _, l := range m.tree.FindDescendants(m.filterRe) {
			m.matches[l] = true
			for p := l; p != nil && !p.IsRoot(); p = p.Parent() {
				show[p] = true
			}
		}
		m.tree.Walk(func(l *conftree.Line) bool {
			if !show[l] {
				return false
			}
			m.rows = append(m.rows, row{line: l, key: pathKey(l)})
			return true
		})
	} else {
		m.matches = nil
		m.tree.Walk(func(l *conftree.Line) bool {
			key := pathKey(l)
			m.rows = append(m.rows, row{line: l, key: key})
			return m.expanded[key]
		})
	}

	m.cursor = 0
	for i, r := range m.rows {
		if r.key == selected {
			m.cursor = i
			break
		}
	}
	m.ensureVisible()
}

func (m *browseModel) pageSize() int {
	// header, status and filter lines
	n := m.height - 3
	if n < 1 {
		n = 1
	}
	return n
}

func (m *browseModel) ensureVisible() {
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if page := m.pageSize(); m.cursor >= m.offset+page {
		m.offset = m.cursor - page + 1
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

func (m *browseModel) selected() *conftree.Line {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return nil
	}
	return m.rows[m.cursor].line
}

func (m *browseModel) moveCursor(delta int) {
	if len(m.rows) == 0 {
		return
	}
	m.cursor += delta
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
	}
	m.ensureVisible()
}

func (m *browseModel) setExpanded(l *conftree.Line, open bool) {
	if l == nil || !hasChildren(l) {
		return
	}
	m.expanded[pathKey(l)] = open
	m.rebuild()
}

func (m *browseModel) setAll(open bool) {
	m.expanded = make(map[string]bool)
	if open {
		m.tree.Walk(func(l *conftree.Line) bool {
			if hasChildren(l) {
				m.expanded[pathKey(l)] = true
			}
			return true
		})
	}
	m.rebuild()
}

// applyFilter compiles expr and narrows the view. An empty expr clears the
// filter.
func (m *browseModel) applyFilter(expr string) error {
	if expr == "" {
		m.filterRe = nil
		m.rebuild()
		return nil
	}
	re, err := conftree.Compile(expr)
	if err != nil {
		return err
	}
	m.filterRe = re
	m.rebuild()
	return nil
}

func (m *browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.mode == modeFilter {
			return m.handleFilterKey(msg)
		}
		return m.handleTreeKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ensureVisible()
		return m, nil

	case treeMsg:
		m.tree = msg.tree
		m.reloads++
		m.message = fmt.Sprintf("reloaded (%d lines)", m.tree.Len())
		m.rebuild()
		return m, m.waitForTree()
	}
	return m, nil
}

func (m *browseModel) handleTreeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.message = ""
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "up", "k":
		m.moveCursor(-1)
	case "down", "j":
		m.moveCursor(1)
	case "pgup":
		m.moveCursor(-m.pageSize())
	case "pgdown":
		m.moveCursor(m.pageSize())
	case "home", "g":
		m.moveCursor(-len(m.rows))
	case "end", "G":
		m.moveCursor(len(m.rows))

	case "enter", " ":
		if l := m.selected(); l != nil && m.filterRe == nil {
			m.setExpanded(l, !m.expanded[pathKey(l)])
		}

	case "right", "l":
		if l := m.selected(); l != nil && m.filterRe == nil {
			m.setExpanded(l, true)
		}

	case "left", "h":
		l := m.selected()
		if l == nil {
			break
		}
		if m.filterRe == nil && m.expanded[pathKey(l)] {
			m.setExpanded(l, false)
			break
		}
		// Jump to the enclosing line.
		if p := l.Parent(); p != nil && !p.IsRoot() {
			key := pathKey(p)
			for i, r := range m.rows {
				if r.key == key {
					m.cursor = i
					m.ensureVisible()
					break
				}
			}
		}

	case "e":
		m.setAll(true)
	case "c":
		m.setAll(false)

	case "/":
		m.mode = modeFilter
		m.filter.Focus()
		return m, textinput.Blink

	case "esc", "escape":
		if m.filterRe != nil {
			m.filter.SetValue("")
			_ = m.applyFilter("")
		}
	}
	return m, nil
}

func (m *browseModel) handleFilterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "escape":
		m.mode = modeTree
		m.filter.Blur()
		m.filter.SetValue("")
		_ = m.applyFilter("")
		return m, nil

	case "enter":
		if err := m.applyFilter(m.filter.Value()); err != nil {
			m.message = fmt.Sprintf("invalid filter: %v", err)
			return m, nil
		}
		m.mode = modeTree
		m.filter.Blur()
		if m.filterRe != nil {
			m.message = fmt.Sprintf("%d matching lines", len(m.matches))
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	// Narrow as the user types; keep the last valid filter otherwise.
	_ = m.applyFilter(m.filter.Value())
	return m, cmd
}

func (m *browseModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.st.title.Render("Config " + m.title))
	b.WriteString("  ")
	b.WriteString(m.st.dim.Render("↑↓=move  Enter=fold  e/c=expand/collapse all  /=filter  Esc=clear  q=quit"))
	b.WriteString("\n")

	if len(m.rows) == 0 {
		if m.filterRe != nil {
			b.WriteString("  No matching lines.\n")
		} else {
			b.WriteString("  Empty configuration.\n")
		}
	}

	end := m.offset + m.pageSize()
	if end > len(m.rows) {
		end = len(m.rows)
	}
	for i := m.offset; i < end; i++ {
		b.WriteString(m.renderRow(i))
		b.WriteString("\n")
	}

	if m.mode == modeFilter || m.filterRe != nil {
		b.WriteString(m.filter.View())
		b.WriteString("\n")
	}

	status := fmt.Sprintf("%d/%d", m.cursor+1, len(m.rows))
	if len(m.rows) == 0 {
		status = "0/0"
	}
	if l := m.selected(); l != nil {
		status += fmt.Sprintf("  line %d", l.LineNumber())
	}
	status += fmt.Sprintf("  %d lines", m.tree.Len())
	if m.message != "" {
		if strings.HasPrefix(m.message, "invalid") {
			status += "  " + m.st.err.Render(m.message)
		} else {
			status += "  " + m.message
		}
	}
	b.WriteString(m.st.status.Render(status))
	return b.String()
}

func (m *browseModel) renderRow(i int) string {
	r := m.rows[i]
	l := r.line

	marker := "  "
	if hasChildren(l) {
		if m.filterRe != nil || m.expanded[r.key] {
			marker = "▾ "
		} else {
			marker = "▸ "
		}
	}
	prefix := strings.Repeat("  ", l.Depth())
	text := truncate(l.Value(), m.width-runewidth.StringWidth(prefix+marker)-1)

	style := m.st.text
	switch {
	case i == m.cursor:
		style = m.st.selected
	case m.matches[l]:
		style = m.st.match
	case m.filterRe != nil:
		style = m.st.dim
	}
	return prefix + m.st.marker.Render(marker) + style.Render(text)
}

// truncate cuts s to at most width terminal cells.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}
