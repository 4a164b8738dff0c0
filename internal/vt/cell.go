package vt

import "github.com/mattn/go-runewidth"

// Color is a cell colour. DefaultColor selects the terminal default,
// 0-255 are palette indexes and values built with RGBColor carry a
// 24-bit colour.
type Color int32

// DefaultColor is the terminal's default foreground or background.
const DefaultColor Color = -1

const rgbFlag Color = 1 << 24

// IndexedColor returns the palette colour n (0-255).
func IndexedColor(n int) Color {
	if n < 0 || n > 255 {
		return DefaultColor
	}
	return Color(n)
}

// RGBColor returns a 24-bit colour.
func RGBColor(r, g, b uint8) Color {
	return rgbFlag | Color(r)<<16 | Color(g)<<8 | Color(b)
}

// IsRGB reports whether c carries a 24-bit colour.
func (c Color) IsRGB() bool {
	return c >= rgbFlag
}

// Attr is a set of cell rendering attributes.
type Attr uint16

const (
	AttrBold Attr = 1 << iota
	AttrDim
	AttrItalic
	AttrUnderline
	AttrBlink
	AttrReverse
	AttrHidden
	AttrStrike
)

// Pen is the colour and attribute state applied to newly written cells.
type Pen struct {
	Fg    Color
	Bg    Color
	Attrs Attr
}

// DefaultPen is the pen after a reset.
var DefaultPen = Pen{Fg: DefaultColor, Bg: DefaultColor}

// Cell is one character position on the screen.
//
// A wide rune occupies two cells: the first holds the rune with Width 2,
// the second is a continuation cell with Width 0.
type Cell struct {
	Rune  rune
	Width uint8
	Fg    Color
	Bg    Color
	Attrs Attr
}

// IsContinuation reports whether c is the trailing half of a wide rune.
func (c Cell) IsContinuation() bool {
	return c.Width == 0
}

// blankCell returns an empty cell. Erased cells keep the background of
// the current pen.
func blankCell(bg Color) Cell {
	return Cell{Rune: ' ', Width: 1, Fg: DefaultColor, Bg: bg}
}

func blankRow(cols int, bg Color) []Cell {
	row := make([]Cell, cols)
	for i := range row {
		row[i] = blankCell(bg)
	}
	return row
}

// runeWidth returns the number of cells r occupies: 0, 1 or 2.
func runeWidth(r rune) int {
	return runewidth.RuneWidth(r)
}
