package conftree

import "regexp"

// Compile compiles a search pattern. Matching is case-insensitive, the way
// device CLIs filter output.
func Compile(expr string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + expr)
}

// MustCompile is like Compile but panics on an invalid pattern.
func MustCompile(expr string) *regexp.Regexp {
	return regexp.MustCompile("(?i)" + expr)
}

// FindChild returns the first direct child whose value matches re, or nil.
// The pattern may match anywhere in the value; anchor it to match the whole
// line.
func (l *Line) FindChild(re *regexp.Regexp) *Line {
	for _, c := range l.children {
		if re.MatchString(c.value) {
			return c
		}
	}
	return nil
}

// FindChildren returns every direct child whose value matches re, in
// document order.
func (l *Line) FindChildren(re *regexp.Regexp) []*Line {
	var out []*Line
	for _, c := range l.children {
		if re.MatchString(c.value) {
			out = append(out, c)
		}
	}
	return out
}

// FindDescendants returns every line below l whose value matches re, in
// document order.
func (l *Line) FindDescendants(re *regexp.Regexp) []*Line {
	var out []*Line
	walk(l.children, func(c *Line) bool {
		if re.MatchString(c.value) {
			out = append(out, c)
		}
		return true
	})
	return out
}

// Path follows patterns level by level: the first pattern selects among
// l's children, the next among the children of those matches, and so on.
// It returns the matches of the last pattern.
func (l *Line) Path(patterns ...*regexp.Regexp) []*Line {
	level := []*Line{l}
	for _, re := range patterns {
		var next []*Line
		for _, p := range level {
			next = append(next, p.FindChildren(re)...)
		}
		if len(next) == 0 {
			return nil
		}
		level = next
	}
	return level
}

// FindChild searches the top-level lines.
func (t *Tree) FindChild(re *regexp.Regexp) *Line { return t.root.FindChild(re) }

// FindChildren searches the top-level lines.
func (t *Tree) FindChildren(re *regexp.Regexp) []*Line { return t.root.FindChildren(re) }

// FindDescendants searches the whole tree.
func (t *Tree) FindDescendants(re *regexp.Regexp) []*Line { return t.root.FindDescendants(re) }

// Path follows patterns from the top level down.
func (t *Tree) Path(patterns ...*regexp.Regexp) []*Line {
	if len(patterns) == 0 {
		return nil
	}
	return t.root.Path(patterns...)
}
