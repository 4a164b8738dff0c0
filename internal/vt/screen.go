// Package vt implements a headless VT100-class terminal: a screen grid with
// scrollback and an emulator that interprets the escape sequences network
// devices emit.
//
// The emulator is fed raw bytes and keeps the screen in the state a real
// terminal would show, so callers can inspect rendered lines instead of
// the raw, cursor-movement-laden stream.
package vt

// savedCursor is the state stored by DECSC / CSI s.
type savedCursor struct {
	row, col    int
	pen         Pen
	pendingWrap bool
	originMode  bool
}

// Screen is a fixed-size grid of cells with a cursor.
//
// The cursor is always inside [0,rows) x [0,cols). A Screen is not safe
// for concurrent use.
type Screen struct {
	rows, cols int
	grid       [][]Cell

	cursorRow, cursorCol int
	pendingWrap          bool

	// Scroll region, inclusive row indexes.
	top, bottom int

	pen        Pen
	saved      savedCursor
	autoWrap   bool
	originMode bool
	cursorShow bool

	// Main grid stashed while the alternate screen is active.
	altGrid [][]Cell
	altSave savedCursor

	history *History
}

// NewScreen creates a screen of the given size with a scrollback of at
// most scrollback rows.
func NewScreen(rows, cols, scrollback int) *Screen {
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	s := &Screen{
		rows:    rows,
		cols:    cols,
		history: NewHistory(scrollback),
	}
	s.reset()
	return s
}

func (s *Screen) reset() {
	s.grid = make([][]Cell, s.rows)
	for i := range s.grid {
		s.grid[i] = blankRow(s.cols, DefaultColor)
	}
	s.cursorRow, s.cursorCol = 0, 0
	s.pendingWrap = false
	s.top, s.bottom = 0, s.rows-1
	s.pen = DefaultPen
	s.saved = savedCursor{pen: DefaultPen}
	s.autoWrap = true
	s.originMode = false
	s.cursorShow = true
	s.altGrid = nil
}

// Size returns the screen dimensions.
func (s *Screen) Size() (rows, cols int) {
	return s.rows, s.cols
}

// Cursor returns the cursor position (0-based).
func (s *Screen) Cursor() (row, col int) {
	return s.cursorRow, s.cursorCol
}

// CursorVisible reports whether the cursor is shown (DECTCEM).
func (s *Screen) CursorVisible() bool {
	return s.cursorShow
}

// Pen returns the current drawing attributes.
func (s *Screen) Pen() Pen {
	return s.pen
}

// ScrollRegion returns the inclusive scroll region rows.
func (s *Screen) ScrollRegion() (top, bottom int) {
	return s.top, s.bottom
}

// History returns the scrollback.
func (s *Screen) History() *History {
	return s.history
}

// Cell returns the cell at row, col. Out-of-range positions yield a blank.
func (s *Screen) Cell(row, col int) Cell {
	if row < 0 || row >= s.rows || col < 0 || col >= s.cols {
		return blankCell(DefaultColor)
	}
	return s.grid[row][col]
}

// Row returns visible row i rendered as text, trailing spaces trimmed.
func (s *Screen) Row(i int) string {
	if i < 0 || i >= s.rows {
		return ""
	}
	return renderRow(s.grid[i])
}

// Lines returns every visible row as text.
func (s *Screen) Lines() []string {
	out := make([]string, s.rows)
	for i := range s.grid {
		out[i] = renderRow(s.grid[i])
	}
	return out
}

// Resize changes the screen dimensions. The top-left region is kept;
// rows and columns beyond the new size are truncated and new space is
// blank. If the cursor row would fall off the bottom, rows are pushed into
// scrollback from the top so the cursor row survives.
func (s *Screen) Resize(rows, cols int) {
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	if rows == s.rows && cols == s.cols {
		return
	}

	shift := 0
	if s.cursorRow >= rows {
		shift = s.cursorRow - rows + 1
		if s.altGrid == nil {
			for i := 0; i < shift; i++ {
				s.history.Push(s.grid[i])
			}
		}
	}

	grid := make([][]Cell, rows)
	for i := range grid {
		src := i + shift
		if src >= s.rows {
			grid[i] = blankRow(cols, DefaultColor)
			continue
		}
		grid[i] = fitRow(s.grid[src], cols)
	}
	if s.altGrid != nil {
		alt := make([][]Cell, rows)
		for i := range alt {
			if i < len(s.altGrid) {
				alt[i] = fitRow(s.altGrid[i], cols)
			} else {
				alt[i] = blankRow(cols, DefaultColor)
			}
		}
		s.altGrid = alt
	}

	s.grid = grid
	s.rows, s.cols = rows, cols
	s.cursorRow -= shift
	s.top, s.bottom = 0, rows-1
	s.pendingWrap = false
	s.clampCursor()
	s.saved.row = clamp(s.saved.row, 0, rows-1)
	s.saved.col = clamp(s.saved.col, 0, cols-1)
}

// fitRow copies row into a new slice of width cols.
func fitRow(row []Cell, cols int) []Cell {
	out := blankRow(cols, DefaultColor)
	copy(out, row)
	// A wide rune cut in half at the right edge becomes a blank.
	if cols < len(row) && out[cols-1].Width == 2 {
		out[cols-1] = blankCell(DefaultColor)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (s *Screen) clampCursor() {
	s.cursorRow = clamp(s.cursorRow, 0, s.rows-1)
	s.cursorCol = clamp(s.cursorCol, 0, s.cols-1)
}

// put writes r at the cursor with the current pen and advances the cursor.
func (s *Screen) put(r rune) {
	w := runeWidth(r)
	if w == 0 {
		// Combining marks and other zero-width runes are dropped.
		return
	}
	if w > s.cols {
		w = 1
	}

	if s.pendingWrap {
		s.pendingWrap = false
		if s.autoWrap {
			s.cursorCol = 0
			s.lineFeed()
		}
	}

	if w == 2 && s.cursorCol == s.cols-1 {
		if !s.autoWrap {
			return
		}
		s.clearWide(s.cursorRow, s.cursorCol)
		s.grid[s.cursorRow][s.cursorCol] = blankCell(s.pen.Bg)
		s.cursorCol = 0
		s.lineFeed()
	}

	row := s.grid[s.cursorRow]
	s.clearWide(s.cursorRow, s.cursorCol)
	if w == 2 {
		s.clearWide(s.cursorRow, s.cursorCol+1)
	}
	row[s.cursorCol] = Cell{Rune: r, Width: uint8(w), Fg: s.pen.Fg, Bg: s.pen.Bg, Attrs: s.pen.Attrs}
	if w == 2 {
		row[s.cursorCol+1] = Cell{Rune: 0, Width: 0, Fg: s.pen.Fg, Bg: s.pen.Bg, Attrs: s.pen.Attrs}
	}

	next := s.cursorCol + w
	if next >= s.cols {
		s.cursorCol = s.cols - 1
		if s.autoWrap {
			s.pendingWrap = true
		}
		return
	}
	s.cursorCol = next
}

// clearWide blanks the other half of a wide rune that is about to be
// partially overwritten at row, col.
func (s *Screen) clearWide(row, col int) {
	if col < 0 || col >= s.cols {
		return
	}
	c := s.grid[row][col]
	switch {
	case c.IsContinuation() && col > 0:
		s.grid[row][col-1] = blankCell(c.Bg)
	case c.Width == 2 && col+1 < s.cols:
		s.grid[row][col+1] = blankCell(c.Bg)
	}
}

func (s *Screen) carriageReturn() {
	s.pendingWrap = false
	s.cursorCol = 0
}

// lineFeed moves the cursor down one row, scrolling the region when the
// cursor sits on its bottom margin.
func (s *Screen) lineFeed() {
	s.pendingWrap = false
	if s.cursorRow == s.bottom {
		s.scrollUp(1)
		return
	}
	if s.cursorRow < s.rows-1 {
		s.cursorRow++
	}
}

// reverseIndex moves the cursor up one row, scrolling the region down when
// the cursor sits on its top margin.
func (s *Screen) reverseIndex() {
	s.pendingWrap = false
	if s.cursorRow == s.top {
		s.scrollDown(1)
		return
	}
	if s.cursorRow > 0 {
		s.cursorRow--
	}
}

func (s *Screen) backspace() {
	s.pendingWrap = false
	if s.cursorCol > 0 {
		s.cursorCol--
	}
}

// tab advances to the next multiple-of-eight column.
func (s *Screen) tab() {
	s.pendingWrap = false
	next := (s.cursorCol/8 + 1) * 8
	s.cursorCol = min(next, s.cols-1)
}

// scrollUp shifts the scroll region up n rows. Rows leaving a region that
// starts at the top of the main screen go to scrollback.
func (s *Screen) scrollUp(n int) {
	n = clamp(n, 0, s.bottom-s.top+1)
	for i := 0; i < n; i++ {
		if s.top == 0 && s.altGrid == nil {
			s.history.Push(s.grid[s.top])
		}
		copy(s.grid[s.top:s.bottom], s.grid[s.top+1:s.bottom+1])
		s.grid[s.bottom] = blankRow(s.cols, s.pen.Bg)
	}
}

// scrollDown shifts the scroll region down n rows.
func (s *Screen) scrollDown(n int) {
	n = clamp(n, 0, s.bottom-s.top+1)
	for i := 0; i < n; i++ {
		copy(s.grid[s.top+1:s.bottom+1], s.grid[s.top:s.bottom])
		s.grid[s.top] = blankRow(s.cols, s.pen.Bg)
	}
}

// moveTo places the cursor at an absolute position. In origin mode rows
// are relative to, and confined by, the scroll region.
func (s *Screen) moveTo(row, col int) {
	s.pendingWrap = false
	if s.originMode {
		row = clamp(row+s.top, s.top, s.bottom)
	}
	s.cursorRow = row
	s.cursorCol = col
	s.clampCursor()
}

func (s *Screen) moveUp(n int) {
	s.pendingWrap = false
	limit := 0
	if s.cursorRow >= s.top {
		limit = s.top
	}
	s.cursorRow = max(s.cursorRow-n, limit)
}

func (s *Screen) moveDown(n int) {
	s.pendingWrap = false
	limit := s.rows - 1
	if s.cursorRow <= s.bottom {
		limit = s.bottom
	}
	s.cursorRow = min(s.cursorRow+n, limit)
}

func (s *Screen) moveForward(n int) {
	s.pendingWrap = false
	s.cursorCol = min(s.cursorCol+n, s.cols-1)
}

func (s *Screen) moveBack(n int) {
	s.pendingWrap = false
	s.cursorCol = max(s.cursorCol-n, 0)
}

func (s *Screen) setColumn(col int) {
	s.pendingWrap = false
	s.cursorCol = clamp(col, 0, s.cols-1)
}

func (s *Screen) setRow(row int) {
	s.moveTo(row, s.cursorCol)
}

// eraseInLine implements EL: 0 cursor to end, 1 start to cursor, 2 whole line.
func (s *Screen) eraseInLine(mode int) {
	row := s.grid[s.cursorRow]
	switch mode {
	case 0:
		s.clearWide(s.cursorRow, s.cursorCol)
		s.blank(row, s.cursorCol, s.cols)
	case 1:
		s.clearWide(s.cursorRow, s.cursorCol)
		s.blank(row, 0, s.cursorCol+1)
	case 2:
		s.blank(row, 0, s.cols)
	}
}

// eraseInDisplay implements ED: 0 cursor to end, 1 start to cursor,
// 2 whole screen, 3 whole screen and scrollback.
func (s *Screen) eraseInDisplay(mode int) {
	switch mode {
	case 0:
		s.eraseInLine(0)
		for r := s.cursorRow + 1; r < s.rows; r++ {
			s.blank(s.grid[r], 0, s.cols)
		}
	case 1:
		for r := 0; r < s.cursorRow; r++ {
			s.blank(s.grid[r], 0, s.cols)
		}
		s.eraseInLine(1)
	case 2:
		for r := range s.grid {
			s.blank(s.grid[r], 0, s.cols)
		}
	case 3:
		for r := range s.grid {
			s.blank(s.grid[r], 0, s.cols)
		}
		s.history.Clear()
	}
}

func (s *Screen) blank(row []Cell, from, to int) {
	for i := max(from, 0); i < to && i < len(row); i++ {
		row[i] = blankCell(s.pen.Bg)
	}
}

// eraseChars implements ECH: blank n cells from the cursor without moving.
func (s *Screen) eraseChars(n int) {
	s.clearWide(s.cursorRow, s.cursorCol)
	end := min(s.cursorCol+n, s.cols)
	s.clearWide(s.cursorRow, end-1)
	s.blank(s.grid[s.cursorRow], s.cursorCol, end)
}

// insertChars implements ICH: shift the rest of the line right by n.
func (s *Screen) insertChars(n int) {
	s.pendingWrap = false
	row := s.grid[s.cursorRow]
	n = min(n, s.cols-s.cursorCol)
	copy(row[s.cursorCol+n:], row[s.cursorCol:s.cols-n])
	s.blank(row, s.cursorCol, s.cursorCol+n)
}

// deleteChars implements DCH: shift the rest of the line left by n.
func (s *Screen) deleteChars(n int) {
	s.pendingWrap = false
	row := s.grid[s.cursorRow]
	n = min(n, s.cols-s.cursorCol)
	copy(row[s.cursorCol:], row[s.cursorCol+n:])
	s.blank(row, s.cols-n, s.cols)
}

// insertLines implements IL inside the scroll region.
func (s *Screen) insertLines(n int) {
	if s.cursorRow < s.top || s.cursorRow > s.bottom {
		return
	}
	top := s.top
	s.top = s.cursorRow
	s.scrollDown(n)
	s.top = top
	s.cursorCol = 0
	s.pendingWrap = false
}

// deleteLines implements DL inside the scroll region. Deleted lines never
// reach scrollback.
func (s *Screen) deleteLines(n int) {
	if s.cursorRow < s.top || s.cursorRow > s.bottom {
		return
	}
	n = clamp(n, 0, s.bottom-s.cursorRow+1)
	for i := 0; i < n; i++ {
		copy(s.grid[s.cursorRow:s.bottom], s.grid[s.cursorRow+1:s.bottom+1])
		s.grid[s.bottom] = blankRow(s.cols, s.pen.Bg)
	}
	s.cursorCol = 0
	s.pendingWrap = false
}

// setScrollRegion implements DECSTBM with 1-based rows; 0 selects the
// default. Invalid regions are ignored. The cursor homes afterwards.
func (s *Screen) setScrollRegion(top, bottom int) {
	if top <= 0 {
		top = 1
	}
	if bottom <= 0 || bottom > s.rows {
		bottom = s.rows
	}
	if top >= bottom {
		return
	}
	s.top, s.bottom = top-1, bottom-1
	s.moveTo(0, 0)
}

func (s *Screen) saveCursor() {
	s.saved = savedCursor{
		row:         s.cursorRow,
		col:         s.cursorCol,
		pen:         s.pen,
		pendingWrap: s.pendingWrap,
		originMode:  s.originMode,
	}
}

func (s *Screen) restoreCursor() {
	s.cursorRow = s.saved.row
	s.cursorCol = s.saved.col
	s.pen = s.saved.pen
	s.pendingWrap = s.saved.pendingWrap
	s.originMode = s.saved.originMode
	s.clampCursor()
}

// enterAltScreen switches to a cleared alternate grid. Scrolling on the
// alternate screen never feeds scrollback.
func (s *Screen) enterAltScreen() {
	if s.altGrid != nil {
		return
	}
	s.altSave = savedCursor{row: s.cursorRow, col: s.cursorCol, pen: s.pen}
	s.altGrid = s.grid
	s.grid = make([][]Cell, s.rows)
	for i := range s.grid {
		s.grid[i] = blankRow(s.cols, DefaultColor)
	}
	s.moveTo(0, 0)
}

func (s *Screen) exitAltScreen() {
	if s.altGrid == nil {
		return
	}
	s.grid = s.altGrid
	s.altGrid = nil
	s.cursorRow, s.cursorCol = s.altSave.row, s.altSave.col
	s.pen = s.altSave.pen
	s.pendingWrap = false
	s.clampCursor()
}

// eraseCursorRow blanks the row under the cursor and returns the cursor
// to column 0.
func (s *Screen) eraseCursorRow() {
	s.blank(s.grid[s.cursorRow], 0, s.cols)
	s.carriageReturn()
}

// lastUsedRow returns the index of the last row holding non-blank text,
// or -1 if the screen is empty.
func (s *Screen) lastUsedRow() int {
	for r := s.rows - 1; r >= 0; r-- {
		if renderRow(s.grid[r]) != "" {
			return r
		}
	}
	return -1
}
