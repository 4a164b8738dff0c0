package vt

import "strings"

// History is the scrollback: rows evicted off the top of the screen,
// oldest first. Once the limit is reached the oldest row is dropped.
type History struct {
	rows  [][]Cell
	start int
	n     int
	limit int
}

// NewHistory creates a scrollback holding at most limit rows.
// A limit of 0 or less disables scrollback.
func NewHistory(limit int) *History {
	if limit < 0 {
		limit = 0
	}
	return &History{limit: limit}
}

// Push appends a copy of row with trailing default blanks dropped, so a
// short line costs only the cells it uses.
func (h *History) Push(row []Cell) {
	if h.limit == 0 {
		return
	}
	row = append([]Cell(nil), trimBlank(row)...)
	if len(h.rows) < h.limit {
		h.rows = append(h.rows, row)
		h.n++
		return
	}
	// Full: overwrite the oldest slot.
	h.rows[h.start] = row
	h.start = (h.start + 1) % h.limit
}

// Len returns the number of rows held.
func (h *History) Len() int {
	return h.n
}

// Limit returns the configured maximum number of rows.
func (h *History) Limit() int {
	return h.limit
}

// Row returns row i, where 0 is the oldest.
func (h *History) Row(i int) []Cell {
	if i < 0 || i >= h.n {
		return nil
	}
	return h.rows[(h.start+i)%len(h.rows)]
}

// Text returns row i rendered as text with trailing spaces trimmed.
func (h *History) Text(i int) string {
	return renderRow(h.Row(i))
}

// Clear drops every row.
func (h *History) Clear() {
	h.rows = nil
	h.start = 0
	h.n = 0
}

// trimBlank returns row without its trailing default-coloured blanks.
// Blanks with a background colour or attributes are kept.
func trimBlank(row []Cell) []Cell {
	blank := blankCell(DefaultColor)
	n := len(row)
	for n > 0 && row[n-1] == blank {
		n--
	}
	return row[:n]
}

// renderRow turns cells into text. Continuation cells are skipped so a
// wide rune contributes exactly one rune.
func renderRow(row []Cell) string {
	var b strings.Builder
	b.Grow(len(row))
	for _, c := range row {
		if c.IsContinuation() {
			continue
		}
		if c.Rune == 0 {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(c.Rune)
	}
	return strings.TrimRight(b.String(), " ")
}
