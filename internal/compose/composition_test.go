package compose

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseComposition() CompositionSpec {
	return CompositionSpec{
		Background:     "/work/bg.mp4",
		BackgroundSize: Size{1920, 1080},
		Narration:      "/work/voice.mp3",
		Duration:       12.5,
		Target:         Size{1080, 1920},
		Output:         "/work/out.mp4",
	}
}

func TestBuildComposition_Minimal(t *testing.T) {
	cmd, err := BuildComposition(baseComposition())
	require.NoError(t, err)

	assert.Equal(t,
		"[0:v]scale=3413:1920[v1];[v1]crop=1080:1920:1166:0[v2];[v2]trim=duration=12.5[v3];[v3]setpts=PTS-STARTPTS[v4]",
		cmd.Filter)
	assert.Equal(t, []string{"[v4]", "1:a"}, cmd.Maps)

	args := cmd.Args()
	assert.Equal(t, []string{"-y", "-hide_banner", "-nostdin",
		"-stream_loop", "-1", "-i", "/work/bg.mp4",
		"-i", "/work/voice.mp3",
		"-filter_complex", cmd.Filter,
		"-map", "[v4]", "-map", "1:a",
		"-c:v", "libx264", "-crf", "23", "-preset", "veryfast",
		"-r", "30", "-s", "1080x1920", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "192k", "-t", "12.5", "-movflags", "+faststart",
		"/work/out.mp4",
	}, args)
}

func TestBuildComposition_StageOrder(t *testing.T) {
	spec := baseComposition()
	spec.Subtitles = "/work/captions.ass"
	spec.Watermark = TextWatermark{Text: "@reelsmith", Position: TopCenter, Box: true}

	cmd, err := BuildComposition(spec)
	require.NoError(t, err)

	crop := strings.Index(cmd.Filter, "crop=")
	subs := strings.Index(cmd.Filter, "subtitles=")
	text := strings.Index(cmd.Filter, "drawtext=")
	require.Positive(t, crop)
	require.Positive(t, subs)
	require.Positive(t, text)
	assert.Less(t, crop, subs)
	assert.Less(t, subs, text, "watermark renders above captions")

	assert.Contains(t, cmd.Filter, "[v4]subtitles=filename=/work/captions.ass[v5]")
	assert.Contains(t, cmd.Filter, "x=(w-tw)/2:y=40[v6]")
	assert.Contains(t, cmd.Filter, "box=1:boxcolor=black@0.4")
	assert.Equal(t, "[v6]", cmd.Maps[0])
}

func TestBuildComposition_NoCaptionsWatermarkIsFinal(t *testing.T) {
	spec := baseComposition()
	spec.Watermark = TextWatermark{Text: "hi"}

	cmd, err := BuildComposition(spec)
	require.NoError(t, err)

	assert.NotContains(t, cmd.Filter, "subtitles")
	assert.Contains(t, cmd.Filter, "[v4]drawtext=")
	assert.Contains(t, cmd.Filter, "x=w-tw-40:y=h-th-40[v5]")
}

func TestBuildComposition_ImageWatermark(t *testing.T) {
	spec := baseComposition()
	spec.Watermark = ImageWatermark{Path: "/work/logo.png", Position: TopLeft, Scale: 0.25, Opacity: 0.5, Padding: 20}

	cmd, err := BuildComposition(spec)
	require.NoError(t, err)

	require.Len(t, cmd.Inputs, 3)
	assert.Equal(t, Input{Path: "/work/logo.png"}, cmd.Inputs[2])
	assert.Contains(t, cmd.Filter, "[2:v]scale=270:-1[v5]")
	assert.Contains(t, cmd.Filter, "[v6]colorchannelmixer=aa=0.5[v7]")
	assert.Contains(t, cmd.Filter, "[v4][v7]overlay=x=20:y=20[v8]")
	assert.Equal(t, "[v8]", cmd.Maps[0])
}

func TestBuildComposition_MusicMix(t *testing.T) {
	spec := baseComposition()
	spec.Music = "/work/music.mp3"

	cmd, err := BuildComposition(spec)
	require.NoError(t, err)

	require.Len(t, cmd.Inputs, 3)
	assert.True(t, cmd.Inputs[2].Loop)
	assert.Contains(t, cmd.Filter, "[2:a]volume=0.4[a1];[1:a][a1]amix=inputs=2:duration=first:normalize=0[a2]")
	assert.Equal(t, []string{"[v4]", "[a2]"}, cmd.Maps)
}

func TestBuildComposition_MusicAndImageInputsOrdered(t *testing.T) {
	spec := baseComposition()
	spec.Music = "/work/music.mp3"
	spec.MusicVolume = 0.25
	spec.Watermark = ImageWatermark{Path: "/work/logo.png"}

	cmd, err := BuildComposition(spec)
	require.NoError(t, err)

	require.Len(t, cmd.Inputs, 4)
	assert.Equal(t, "/work/music.mp3", cmd.Inputs[2].Path)
	assert.Equal(t, "/work/logo.png", cmd.Inputs[3].Path)
	assert.Contains(t, cmd.Filter, "[3:v]scale=")
	assert.Contains(t, cmd.Filter, "[2:a]volume=0.25")
}

func TestBuildComposition_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CompositionSpec)
		want   error
	}{
		{"missing background", func(s *CompositionSpec) { s.Background = "" }, ErrMissingInput},
		{"missing narration", func(s *CompositionSpec) { s.Narration = "" }, ErrMissingInput},
		{"missing output", func(s *CompositionSpec) { s.Output = "" }, ErrMissingInput},
		{"odd target", func(s *CompositionSpec) { s.Target = Size{1081, 1920} }, ErrInvalidSize},
		{"unprobed background", func(s *CompositionSpec) { s.BackgroundSize = Size{} }, ErrInvalidSize},
		{"zero duration", func(s *CompositionSpec) { s.Duration = 0 }, ErrInvalidDuration},
		{"empty text watermark", func(s *CompositionSpec) { s.Watermark = TextWatermark{} }, ErrInvalidWatermark},
		{"missing watermark image", func(s *CompositionSpec) { s.Watermark = ImageWatermark{} }, ErrMissingInput},
		{"watermark opacity", func(s *CompositionSpec) {
			s.Watermark = ImageWatermark{Path: "/x.png", Opacity: 2}
		}, ErrInvalidWatermark},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := baseComposition()
			tt.mutate(&spec)
			_, err := BuildComposition(spec)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPosition_Expressions(t *testing.T) {
	tests := []struct {
		pos  Position
		x, y string
	}{
		{TopLeft, "10", "10"},
		{TopCenter, "(w-tw)/2", "10"},
		{TopRight, "w-tw-10", "10"},
		{CenterLeft, "10", "(h-th)/2"},
		{Center, "(w-tw)/2", "(h-th)/2"},
		{CenterRight, "w-tw-10", "(h-th)/2"},
		{BottomLeft, "10", "h-th-10"},
		{BottomCenter, "(w-tw)/2", "h-th-10"},
		{BottomRight, "w-tw-10", "h-th-10"},
	}

	for _, tt := range tests {
		t.Run(string(tt.pos), func(t *testing.T) {
			x, y := tt.pos.expressions("w", "h", "tw", "th", 10)
			assert.Equal(t, tt.x, x)
			assert.Equal(t, tt.y, y)
		})
	}
}

func TestParsePosition(t *testing.T) {
	p, err := ParsePosition("")
	require.NoError(t, err)
	assert.Equal(t, BottomRight, p)

	p, err = ParsePosition("Top-Center")
	require.NoError(t, err)
	assert.Equal(t, TopCenter, p)

	_, err = ParsePosition("middle")
	assert.ErrorIs(t, err, ErrInvalidWatermark)
}
