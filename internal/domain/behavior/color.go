package behavior

import "fmt"

// Color is the classroom traffic-light state shown on the board.
type Color string

const (
	ColorBlue   Color = "BLUE"
	ColorGreen  Color = "GREEN"
	ColorYellow Color = "YELLOW"
	ColorRed    Color = "RED"
)

// FallbackColor is used when no threshold band matches a student's XP.
// The board always has to render something, so an unmatched XP value
// degrades to the neutral color instead of failing.
const FallbackColor = ColorGreen

// Valid reports whether the color is one of the four known values.
func (c Color) Valid() bool {
	switch c {
	case ColorBlue, ColorGreen, ColorYellow, ColorRed:
		return true
	}
	return false
}

// String returns the color's wire representation.
func (c Color) String() string {
	return string(c)
}

// ParseColor parses a wire value into a Color.
func ParseColor(s string) (Color, error) {
	c := Color(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown color %q", s)
	}
	return c, nil
}
