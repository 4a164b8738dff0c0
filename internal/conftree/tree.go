// Package conftree parses indentation-structured device configuration
// (Cisco IOS style) into a tree of lines and searches it with regular
// expressions.
//
// Structure is derived from indentation alone: a line is a child of the
// nearest preceding line with strictly smaller indentation. Nothing is
// rejected. Blank lines and "!" separators become nodes like any other.
package conftree

import (
	"regexp"
	"strings"
)

// TabWidth is the indentation width of a tab character.
const TabWidth = 8

var (
	lineSplit   = regexp.MustCompile(`\r?\n`)
	preambleEnd = regexp.MustCompile(`(?m)^!`)
)

// Line is one configuration line.
type Line struct {
	lineNumber int
	indent     int
	value      string
	parent     *Line
	children   []*Line
}

// LineNumber returns the 1-based position of the line in the source text.
// The synthetic root returns 0.
func (l *Line) LineNumber() int { return l.lineNumber }

// Indent returns the leading whitespace width. The root returns -1.
func (l *Line) Indent() int { return l.indent }

// Value returns the line text without indentation or trailing whitespace.
func (l *Line) Value() string { return l.value }

// Parent returns the enclosing line. Top-level lines return the tree root;
// the root returns nil.
func (l *Line) Parent() *Line { return l.parent }

// Children returns a copy of the direct children in document order.
func (l *Line) Children() []*Line {
	out := make([]*Line, len(l.children))
	copy(out, l.children)
	return out
}

// IsRoot reports whether l is the synthetic root of a tree.
func (l *Line) IsRoot() bool { return l.parent == nil }

// Depth returns the nesting level: 0 for top-level lines, -1 for the root.
func (l *Line) Depth() int {
	d := -1
	for p := l.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

func (l *Line) String() string { return l.value }

// Block renders l and everything below it, indented two spaces per level
// relative to l.
func (l *Line) Block() string {
	var b strings.Builder
	base := l.Depth()
	b.WriteString(l.value)
	walk(l.children, func(c *Line) bool {
		b.WriteByte('\n')
		b.WriteString(strings.Repeat("  ", c.Depth()-base))
		b.WriteString(c.value)
		return true
	})
	return b.String()
}

// Tree is a parsed configuration. It is immutable and safe for concurrent
// reads.
type Tree struct {
	root *Line
	n    int
}

// Parse builds a tree from configuration text. A single trailing newline
// does not produce an empty final line.
func Parse(text string) *Tree {
	t := &Tree{root: &Line{indent: -1}}
	if text == "" {
		return t
	}

	raw := lineSplit.Split(text, -1)
	if raw[len(raw)-1] == "" {
		raw = raw[:len(raw)-1]
	}

	stack := []*Line{t.root}
	for i, s := range raw {
		line := &Line{
			lineNumber: i + 1,
			indent:     indentWidth(s),
			value:      strings.TrimSpace(s),
		}
		for len(stack) > 1 && stack[len(stack)-1].indent >= line.indent {
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1]
		line.parent = parent
		parent.children = append(parent.children, line)
		stack = append(stack, line)
	}
	t.n = len(raw)
	return t
}

func indentWidth(s string) int {
	w := 0
	for _, r := range s {
		switch r {
		case ' ':
			w++
		case '\t':
			w += TabWidth
		default:
			return w
		}
	}
	return w
}

// Root returns the synthetic root line.
func (t *Tree) Root() *Line { return t.root }

// Children returns the top-level lines.
func (t *Tree) Children() []*Line { return t.root.Children() }

// Len returns the number of lines, excluding the root.
func (t *Tree) Len() int { return t.n }

// Walk visits every line depth-first in document order. Returning false
// from fn skips the line's children.
func (t *Tree) Walk(fn func(*Line) bool) {
	walk(t.root.children, fn)
}

func walk(lines []*Line, fn func(*Line) bool) {
	for _, l := range lines {
		if fn(l) {
			walk(l.children, fn)
		}
	}
}

// Lines returns every line in document order.
func (t *Tree) Lines() []*Line {
	out := make([]*Line, 0, t.n)
	t.Walk(func(l *Line) bool {
		out = append(out, l)
		return true
	})
	return out
}

// String renders the tree with two spaces of indentation per depth level.
// Parsing the result yields a tree of the same shape.
func (t *Tree) String() string {
	var b strings.Builder
	first := true
	t.Walk(func(l *Line) bool {
		if !first {
			b.WriteByte('\n')
		}
		first = false
		b.WriteString(strings.Repeat("  ", l.Depth()))
		b.WriteString(l.value)
		return true
	})
	return b.String()
}

// TrimPreamble drops everything before the first line starting with "!",
// such as the "Building configuration..." banner printed ahead of a running
// configuration. Text without such a line is returned unchanged.
func TrimPreamble(text string) string {
	loc := preambleEnd.FindStringIndex(text)
	if loc == nil {
		return text
	}
	return text[loc[0]:]
}
