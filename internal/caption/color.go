package caption

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidColor is returned when a color string is not #RRGGBB.
var ErrInvalidColor = errors.New("caption: invalid color")

// Color is an opaque RGB color.
type Color struct {
	R, G, B uint8
}

// Common colors.
var (
	White  = Color{R: 0xFF, G: 0xFF, B: 0xFF}
	Black  = Color{}
	Yellow = Color{R: 0xFF, G: 0xFF}
)

// ParseColor parses "#RRGGBB" (the leading # is optional).
func ParseColor(s string) (Color, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return Color{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// String returns the color as #RRGGBB.
func (c Color) String() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// ASS returns the color in the subtitle renderer's &HAABBGGRR notation with
// a fully opaque alpha.
func (c Color) ASS() string {
	return fmt.Sprintf("&H00%02X%02X%02X", c.B, c.G, c.R)
}

// inline returns the color in override-tag form, e.g. &H00FFFF&.
func (c Color) inline() string {
	return fmt.Sprintf("&H%02X%02X%02X&", c.B, c.G, c.R)
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML and JSON.
func (c *Color) UnmarshalText(text []byte) error {
	parsed, err := ParseColor(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
