package caption

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ErrUnknownPreset is returned when a named style preset does not exist.
var ErrUnknownPreset = errors.New("caption: unknown style preset")

// Style describes how captions are drawn.
type Style struct {
	FontName       string
	FontSize       int
	PrimaryColor   Color
	HighlightColor Color
	OutlineColor   Color
	Outline        float64
	Shadow         float64
	// MarginV is the distance from the bottom edge in pixels.
	MarginV int
	// Alignment uses numpad layout: 2 is bottom center, 5 is middle center.
	Alignment int
	Uppercase bool
}

// DefaultStyle returns the house caption style.
func DefaultStyle() Style {
	return Style{
		FontName:       "Arial",
		FontSize:       72,
		PrimaryColor:   White,
		HighlightColor: Yellow,
		OutlineColor:   Black,
		Outline:        4,
		Shadow:         2,
		MarginV:        240,
		Alignment:      2,
	}
}

// Patch overrides selected Style fields. Nil fields are left untouched.
type Patch struct {
	FontName       *string  `toml:"font_name" json:"font_name,omitempty"`
	FontSize       *int     `toml:"font_size" json:"font_size,omitempty"`
	PrimaryColor   *Color   `toml:"primary_color" json:"primary_color,omitempty"`
	HighlightColor *Color   `toml:"highlight_color" json:"highlight_color,omitempty"`
	OutlineColor   *Color   `toml:"outline_color" json:"outline_color,omitempty"`
	Outline        *float64 `toml:"outline" json:"outline,omitempty"`
	Shadow         *float64 `toml:"shadow" json:"shadow,omitempty"`
	MarginV        *int     `toml:"margin_v" json:"margin_v,omitempty"`
	Alignment      *int     `toml:"alignment" json:"alignment,omitempty"`
	Uppercase      *bool    `toml:"uppercase" json:"uppercase,omitempty"`
}

// Apply returns a copy of s with the patch applied.
func (s Style) Apply(p Patch) Style {
	if p.FontName != nil && *p.FontName != "" {
		s.FontName = *p.FontName
	}
	if p.FontSize != nil && *p.FontSize > 0 {
		s.FontSize = *p.FontSize
	}
	if p.PrimaryColor != nil {
		s.PrimaryColor = *p.PrimaryColor
	}
	if p.HighlightColor != nil {
		s.HighlightColor = *p.HighlightColor
	}
	if p.OutlineColor != nil {
		s.OutlineColor = *p.OutlineColor
	}
	if p.Outline != nil && *p.Outline >= 0 {
		s.Outline = *p.Outline
	}
	if p.Shadow != nil && *p.Shadow >= 0 {
		s.Shadow = *p.Shadow
	}
	if p.MarginV != nil && *p.MarginV >= 0 {
		s.MarginV = *p.MarginV
	}
	if p.Alignment != nil && *p.Alignment >= 1 && *p.Alignment <= 9 {
		s.Alignment = *p.Alignment
	}
	if p.Uppercase != nil {
		s.Uppercase = *p.Uppercase
	}
	return s
}

// Presets maps preset names to style patches.
type Presets map[string]Patch

type presetFile struct {
	Presets Presets `toml:"presets"`
}

// LoadPresets decodes a TOML document of the form
//
//	[presets.bold]
//	font_size = 96
//	highlight_color = "#00FF88"
func LoadPresets(r io.Reader) (Presets, error) {
	var f presetFile
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&f); err != nil {
		return nil, fmt.Errorf("caption: decode presets: %w", err)
	}
	if f.Presets == nil {
		return Presets{}, nil
	}
	return f.Presets, nil
}

// LoadPresetsFile reads presets from path. An empty path yields no presets.
func LoadPresetsFile(path string) (Presets, error) {
	if path == "" {
		return Presets{}, nil
	}
	f, err := os.Open(path) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("caption: open presets: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadPresets(f)
}

// Resolve builds a style from the defaults, the named preset (if any) and
// the caller's overrides, in that order.
func (p Presets) Resolve(name string, override Patch) (Style, error) {
	style := DefaultStyle()
	if name != "" {
		preset, ok := p[name]
		if !ok {
			return Style{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
		}
		style = style.Apply(preset)
	}
	return style.Apply(override), nil
}
