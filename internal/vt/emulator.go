package vt

import (
	"strings"
	"unicode/utf8"
)

type parserState uint8

const (
	stateGround parserState = iota
	stateEscape
	stateEscapeIntermediate
	stateCSI
	stateOSC
	stateOSCEscape
	stateDCS
	stateDCSEscape
)

const (
	maxParams     = 16
	maxParamValue = 9999
	// paramDefault marks a parameter that was omitted, e.g. the first one
	// in "ESC [ ; 5 H".
	paramDefault = -1

	// Upper bounds for a resize requested by the byte stream.
	maxWindowRows = 1024
	maxWindowCols = 1024
)

// Emulator interprets a VT100/xterm byte stream and applies it to a Screen.
//
// Bytes are processed one at a time, so escape sequences and UTF-8 runes
// may be split across any number of Feed calls. Unrecognised sequences
// are consumed and ignored. An Emulator is not safe for concurrent use.
type Emulator struct {
	screen *Screen
	state  parserState

	params  []int
	cur     int
	hasCur  bool
	private byte
	inter   []byte

	utf8Buf  [utf8.UTFMax]byte
	utf8Len  int
	utf8Need int
}

// NewEmulator creates an emulator over a rows x cols screen keeping at
// most scrollback rows of history.
func NewEmulator(rows, cols, scrollback int) *Emulator {
	return &Emulator{
		screen: NewScreen(rows, cols, scrollback),
		params: make([]int, 0, maxParams),
	}
}

// Screen returns the underlying screen.
func (e *Emulator) Screen() *Screen {
	return e.screen
}

// Write feeds p to the emulator. It never fails.
func (e *Emulator) Write(p []byte) (int, error) {
	e.Feed(p)
	return len(p), nil
}

// Feed processes raw terminal output.
func (e *Emulator) Feed(p []byte) {
	for _, b := range p {
		e.step(b)
	}
}

// Reset clears the screen, the scrollback and the parser state.
func (e *Emulator) Reset() {
	e.screen.reset()
	e.screen.history.Clear()
	e.state = stateGround
	e.clearSequence()
	e.utf8Len, e.utf8Need = 0, 0
}

// CursorPosition returns the 0-based cursor row and column.
func (e *Emulator) CursorPosition() (row, col int) {
	return e.screen.Cursor()
}

// CursorLine returns the rendered row under the cursor.
func (e *Emulator) CursorLine() string {
	return e.screen.Row(e.screen.cursorRow)
}

// EraseCursorLine blanks the row under the cursor and moves the cursor to
// its first column.
func (e *Emulator) EraseCursorLine() {
	e.screen.eraseCursorRow()
}

// RenderedLines returns the scrollback, oldest first, followed by the
// visible rows down to the last row that holds text or the cursor,
// whichever is lower. Trailing spaces are trimmed from every line.
func (e *Emulator) RenderedLines() []string {
	last := max(e.screen.lastUsedRow(), e.screen.cursorRow)
	return e.lines(last)
}

// LinesThroughCursor is like RenderedLines but stops at the cursor row.
func (e *Emulator) LinesThroughCursor() []string {
	return e.lines(e.screen.cursorRow)
}

// Text returns RenderedLines joined by newlines.
func (e *Emulator) Text() string {
	return strings.Join(e.RenderedLines(), "\n")
}

func (e *Emulator) lines(last int) []string {
	h := e.screen.history
	out := make([]string, 0, h.Len()+last+1)
	for i := 0; i < h.Len(); i++ {
		out = append(out, h.Text(i))
	}
	for r := 0; r <= last; r++ {
		out = append(out, e.screen.Row(r))
	}
	return out
}

func (e *Emulator) step(b byte) {
	// CAN and SUB abort any sequence; ESC always starts a new one, except
	// inside strings where it may begin the String Terminator.
	switch b {
	case 0x18, 0x1a:
		e.flushUTF8()
		e.state = stateGround
		return
	case 0x1b:
		switch e.state {
		case stateOSC:
			e.state = stateOSCEscape
		case stateDCS:
			e.state = stateDCSEscape
		default:
			e.flushUTF8()
			e.clearSequence()
			e.state = stateEscape
		}
		return
	}

	switch e.state {
	case stateGround:
		e.ground(b)
	case stateEscape:
		e.escape(b)
	case stateEscapeIntermediate:
		if b < 0x20 {
			e.control(b)
			return
		}
		// Final byte of a charset designation or similar: ignored.
		if b >= 0x30 {
			e.state = stateGround
		}
	case stateCSI:
		e.csi(b)
	case stateOSC:
		if b == 0x07 {
			e.state = stateGround
		}
	case stateOSCEscape:
		// ESC \ terminates; anything else also ends the string.
		e.state = stateGround
		if b != '\\' {
			e.step(b)
		}
	case stateDCS:
	case stateDCSEscape:
		if b == '\\' {
			e.state = stateGround
		} else {
			e.state = stateDCS
		}
	}
}

func (e *Emulator) ground(b byte) {
	if e.utf8Need > 0 {
		if b&0xc0 == 0x80 {
			e.utf8Buf[e.utf8Len] = b
			e.utf8Len++
			if e.utf8Len == e.utf8Need {
				r, _ := utf8.DecodeRune(e.utf8Buf[:e.utf8Len])
				e.utf8Len, e.utf8Need = 0, 0
				e.screen.put(r)
			}
			return
		}
		// Truncated sequence: emit a replacement and reprocess b.
		e.flushUTF8()
	}

	switch {
	case b < 0x20:
		e.control(b)
	case b == 0x7f:
		// DEL is ignored.
	case b < 0x80:
		e.screen.put(rune(b))
	case b >= 0xc2 && b <= 0xdf:
		e.startUTF8(b, 2)
	case b >= 0xe0 && b <= 0xef:
		e.startUTF8(b, 3)
	case b >= 0xf0 && b <= 0xf4:
		e.startUTF8(b, 4)
	default:
		e.screen.put(utf8.RuneError)
	}
}

func (e *Emulator) startUTF8(b byte, need int) {
	e.utf8Buf[0] = b
	e.utf8Len = 1
	e.utf8Need = need
}

func (e *Emulator) flushUTF8() {
	if e.utf8Need == 0 {
		return
	}
	e.utf8Len, e.utf8Need = 0, 0
	e.screen.put(utf8.RuneError)
}

// control executes a C0 control byte.
func (e *Emulator) control(b byte) {
	s := e.screen
	switch b {
	case '\r':
		s.carriageReturn()
	case '\n', 0x0b, 0x0c:
		s.lineFeed()
	case '\b':
		s.backspace()
	case '\t':
		s.tab()
	}
	// BEL, NUL, SO, SI and the rest have no screen effect.
}

func (e *Emulator) escape(b byte) {
	s := e.screen
	e.state = stateGround
	switch {
	case b < 0x20:
		e.control(b)
		e.state = stateEscape
	case b == '[':
		e.state = stateCSI
	case b == ']':
		e.state = stateOSC
	case b == 'P':
		e.state = stateDCS
	case b == '7':
		s.saveCursor()
	case b == '8':
		s.restoreCursor()
	case b == 'D':
		s.lineFeed()
	case b == 'M':
		s.reverseIndex()
	case b == 'E':
		s.carriageReturn()
		s.lineFeed()
	case b == 'c':
		e.Reset()
	case b >= 0x20 && b <= 0x2f:
		e.state = stateEscapeIntermediate
	}
	// '=', '>', 'H' (tab set) and unknown finals are ignored.
}

func (e *Emulator) clearSequence() {
	e.params = e.params[:0]
	e.cur = 0
	e.hasCur = false
	e.private = 0
	e.inter = e.inter[:0]
}

func (e *Emulator) pushParam() {
	if len(e.params) >= maxParams {
		e.cur, e.hasCur = 0, false
		return
	}
	if e.hasCur {
		e.params = append(e.params, e.cur)
	} else {
		e.params = append(e.params, paramDefault)
	}
	e.cur, e.hasCur = 0, false
}

func (e *Emulator) csi(b byte) {
	switch {
	case b < 0x20:
		// C0 controls execute in the middle of a sequence.
		e.control(b)
	case b >= '0' && b <= '9':
		e.cur = min(e.cur*10+int(b-'0'), maxParamValue)
		e.hasCur = true
	case b == ';' || b == ':':
		e.pushParam()
	case b >= '<' && b <= '?':
		if len(e.params) == 0 && !e.hasCur && e.private == 0 {
			e.private = b
		}
	case b >= 0x20 && b <= 0x2f:
		if len(e.inter) < 2 {
			e.inter = append(e.inter, b)
		}
	case b >= 0x40 && b <= 0x7e:
		if e.hasCur || len(e.params) > 0 {
			e.pushParam()
		}
		e.dispatch(b)
		e.clearSequence()
		e.state = stateGround
	}
	// DEL inside a sequence is ignored.
}

// count returns parameter i as a repeat count: omitted or zero means 1.
func (e *Emulator) count(i int) int {
	if i >= len(e.params) || e.params[i] <= 0 {
		return 1
	}
	return e.params[i]
}

// param returns parameter i, or def when omitted.
func (e *Emulator) param(i, def int) int {
	if i >= len(e.params) || e.params[i] == paramDefault {
		return def
	}
	return e.params[i]
}

func (e *Emulator) dispatch(final byte) {
	s := e.screen

	if len(e.inter) > 0 {
		if len(e.inter) == 1 && e.inter[0] == '!' && final == 'p' {
			e.softReset()
		}
		return
	}
	if e.private == '?' {
		if final == 'h' || final == 'l' {
			e.setPrivateModes(final == 'h')
		}
		return
	}
	if e.private != 0 {
		return
	}

	switch final {
	case 'A':
		s.moveUp(e.count(0))
	case 'B', 'e':
		s.moveDown(e.count(0))
	case 'C', 'a':
		s.moveForward(e.count(0))
	case 'D':
		s.moveBack(e.count(0))
	case 'E':
		s.moveDown(e.count(0))
		s.carriageReturn()
	case 'F':
		s.moveUp(e.count(0))
		s.carriageReturn()
	case 'G', '`':
		s.setColumn(e.count(0) - 1)
	case 'H', 'f':
		s.moveTo(e.count(0)-1, e.count(1)-1)
	case 'd':
		s.setRow(e.count(0) - 1)
	case 'J':
		s.eraseInDisplay(e.param(0, 0))
	case 'K':
		s.eraseInLine(e.param(0, 0))
	case 'L':
		s.insertLines(e.count(0))
	case 'M':
		s.deleteLines(e.count(0))
	case 'P':
		s.deleteChars(e.count(0))
	case '@':
		s.insertChars(e.count(0))
	case 'X':
		s.eraseChars(e.count(0))
	case 'S':
		s.scrollUp(e.count(0))
	case 'T':
		s.scrollDown(e.count(0))
	case 'm':
		e.sgr()
	case 'r':
		s.setScrollRegion(e.param(0, 0), e.param(1, 0))
	case 's':
		s.saveCursor()
	case 'u':
		s.restoreCursor()
	case 't':
		// xterm window ops: only "8;rows;cols" (resize text area) applies.
		// Omitted or zero sizes keep the current dimension.
		if e.param(0, 0) == 8 {
			rows, cols := s.Size()
			if r := e.param(1, 0); r > 0 {
				rows = min(r, maxWindowRows)
			}
			if c := e.param(2, 0); c > 0 {
				cols = min(c, maxWindowCols)
			}
			s.Resize(rows, cols)
		}
	}
	// h/l without '?' (ANSI modes), c (device attributes), n (status
	// report) and unknown finals have no screen effect.
}

func (e *Emulator) setPrivateModes(on bool) {
	s := e.screen
	for _, mode := range e.params {
		switch mode {
		case 6:
			s.originMode = on
			s.moveTo(0, 0)
		case 7:
			s.autoWrap = on
			if !on {
				s.pendingWrap = false
			}
		case 25:
			s.cursorShow = on
		case 47, 1047, 1049:
			if on {
				if mode == 1049 {
					s.saveCursor()
				}
				s.enterAltScreen()
			} else {
				s.exitAltScreen()
				if mode == 1049 {
					s.restoreCursor()
				}
			}
		}
	}
}

// softReset implements DECSTR.
func (e *Emulator) softReset() {
	s := e.screen
	s.pen = DefaultPen
	s.top, s.bottom = 0, s.rows-1
	s.originMode = false
	s.autoWrap = true
	s.cursorShow = true
	s.pendingWrap = false
	s.saved = savedCursor{pen: DefaultPen}
}

// sgr applies Select Graphic Rendition parameters to the pen.
func (e *Emulator) sgr() {
	s := e.screen
	if len(e.params) == 0 {
		s.pen = DefaultPen
		return
	}
	for i := 0; i < len(e.params); i++ {
		p := e.params[i]
		if p == paramDefault {
			p = 0
		}
		switch {
		case p == 0:
			s.pen = DefaultPen
		case p == 1:
			s.pen.Attrs |= AttrBold
		case p == 2:
			s.pen.Attrs |= AttrDim
		case p == 3:
			s.pen.Attrs |= AttrItalic
		case p == 4:
			s.pen.Attrs |= AttrUnderline
		case p == 5 || p == 6:
			s.pen.Attrs |= AttrBlink
		case p == 7:
			s.pen.Attrs |= AttrReverse
		case p == 8:
			s.pen.Attrs |= AttrHidden
		case p == 9:
			s.pen.Attrs |= AttrStrike
		case p == 21 || p == 22:
			s.pen.Attrs &^= AttrBold | AttrDim
		case p == 23:
			s.pen.Attrs &^= AttrItalic
		case p == 24:
			s.pen.Attrs &^= AttrUnderline
		case p == 25:
			s.pen.Attrs &^= AttrBlink
		case p == 27:
			s.pen.Attrs &^= AttrReverse
		case p == 28:
			s.pen.Attrs &^= AttrHidden
		case p == 29:
			s.pen.Attrs &^= AttrStrike
		case p >= 30 && p <= 37:
			s.pen.Fg = IndexedColor(p - 30)
		case p == 38:
			c, n := e.extendedColor(i + 1)
			s.pen.Fg = c
			i += n
		case p == 39:
			s.pen.Fg = DefaultColor
		case p >= 40 && p <= 47:
			s.pen.Bg = IndexedColor(p - 40)
		case p == 48:
			c, n := e.extendedColor(i + 1)
			s.pen.Bg = c
			i += n
		case p == 49:
			s.pen.Bg = DefaultColor
		case p >= 90 && p <= 97:
			s.pen.Fg = IndexedColor(p - 90 + 8)
		case p >= 100 && p <= 107:
			s.pen.Bg = IndexedColor(p - 100 + 8)
		}
	}
}

// extendedColor parses the tail of a 38/48 parameter starting at i and
// returns the colour and how many parameters it consumed.
func (e *Emulator) extendedColor(i int) (Color, int) {
	switch e.param(i, -1) {
	case 5:
		return IndexedColor(e.param(i+1, 0)), 2
	case 2:
		r := clamp(e.param(i+1, 0), 0, 255)
		g := clamp(e.param(i+2, 0), 0, 255)
		b := clamp(e.param(i+3, 0), 0, 255)
		return RGBColor(uint8(r), uint8(g), uint8(b)), 4
	}
	return DefaultColor, 0
}
