package caption

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    Color
		wantASS string
		wantErr bool
	}{
		{in: "#FFFFFF", want: White, wantASS: "&H00FFFFFF"},
		{in: "#FF0000", want: Color{R: 0xFF}, wantASS: "&H000000FF"},
		{in: "0000ff", want: Color{B: 0xFF}, wantASS: "&H00FF0000"},
		{in: "#12AB9c", want: Color{R: 0x12, G: 0xAB, B: 0x9C}, wantASS: "&H009CAB12"},
		{in: "#FFF", wantErr: true},
		{in: "#GGGGGG", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseColor(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidColor)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantASS, got.ASS())
		})
	}
}

const presetsTOML = `
[presets.bold]
font_name = "Impact"
font_size = 96
highlight_color = "#00FF88"
uppercase = true

[presets.subtle]
outline = 1.5
margin_v = 120
`

func TestLoadPresets(t *testing.T) {
	presets, err := LoadPresets(strings.NewReader(presetsTOML))
	require.NoError(t, err)
	require.Len(t, presets, 2)

	style, err := presets.Resolve("bold", Patch{})
	require.NoError(t, err)
	assert.Equal(t, "Impact", style.FontName)
	assert.Equal(t, 96, style.FontSize)
	assert.Equal(t, Color{G: 0xFF, B: 0x88}, style.HighlightColor)
	assert.True(t, style.Uppercase)
	assert.Equal(t, White, style.PrimaryColor, "unset fields keep defaults")

	subtle, err := presets.Resolve("subtle", Patch{})
	require.NoError(t, err)
	assert.Equal(t, 1.5, subtle.Outline)
	assert.Equal(t, 120, subtle.MarginV)
}

func TestLoadPresets_Errors(t *testing.T) {
	_, err := LoadPresets(strings.NewReader("[presets.x]\nfont_colour = 1\n"))
	assert.Error(t, err)

	_, err = LoadPresets(strings.NewReader("[presets.x]\nprimary_color = \"red\"\n"))
	assert.Error(t, err)
}

func TestPresets_ResolveOverride(t *testing.T) {
	presets, err := LoadPresets(strings.NewReader(presetsTOML))
	require.NoError(t, err)

	size := 50
	style, err := presets.Resolve("bold", Patch{FontSize: &size})
	require.NoError(t, err)
	assert.Equal(t, 50, style.FontSize)
	assert.Equal(t, "Impact", style.FontName)

	_, err = presets.Resolve("missing", Patch{})
	assert.ErrorIs(t, err, ErrUnknownPreset)

	style, err = presets.Resolve("", Patch{})
	require.NoError(t, err)
	assert.Equal(t, DefaultStyle(), style)
}

func TestStyle_ApplyIgnoresInvalid(t *testing.T) {
	zero, neg, badAlign := 0, -5, 12
	got := DefaultStyle().Apply(Patch{FontSize: &zero, MarginV: &neg, Alignment: &badAlign})
	assert.Equal(t, DefaultStyle(), got)
}

func TestLoadPresetsFile(t *testing.T) {
	presets, err := LoadPresetsFile("")
	require.NoError(t, err)
	assert.Empty(t, presets)

	path := filepath.Join(t.TempDir(), "presets.toml")
	require.NoError(t, os.WriteFile(path, []byte(presetsTOML), 0o600))
	presets, err = LoadPresetsFile(path)
	require.NoError(t, err)
	assert.Contains(t, presets, "bold")

	_, err = LoadPresetsFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
