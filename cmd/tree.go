package cmd

import (
	"fmt"
	"io"
	"regexp"

	"github.com/timvw/sisqo/internal/conftree"
)

// compileFinds compiles --find patterns.
func compileFinds(exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		re, err := conftree.Compile(e)
		if err != nil {
			return nil, fmt.Errorf("invalid --find pattern %q: %w", e, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// selectLines walks the pattern path through t. With recursive set the
// last pattern matches at any depth below the lines selected by the ones
// before it. No patterns selects the top-level lines.
func selectLines(t *conftree.Tree, patterns []*regexp.Regexp, recursive bool) []*conftree.Line {
	if len(patterns) == 0 {
		return t.Children()
	}
	if !recursive {
		return t.Path(patterns...)
	}

	parents := []*conftree.Line{t.Root()}
	if len(patterns) > 1 {
		parents = t.Path(patterns[:len(patterns)-1]...)
	}
	last := patterns[len(patterns)-1]
	var out []*conftree.Line
	for _, p := range parents {
		out = append(out, p.FindDescendants(last)...)
	}
	return out
}

// printLines writes each selected line with its block. Line numbers refer
// to the source text.
func printLines(w io.Writer, lines []*conftree.Line, numbers bool) {
	for _, l := range lines {
		if numbers {
			fmt.Fprintf(w, "%d: ", l.LineNumber())
		}
		fmt.Fprintln(w, l.Block())
	}
}
