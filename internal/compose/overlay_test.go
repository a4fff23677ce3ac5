package compose

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleOverlay(t *testing.T) {
	got, err := ScaleOverlay(Size{1280, 720}, Size{500, 200}, 0.22)
	require.NoError(t, err)
	assert.Equal(t, Size{282, 113}, got)
}

func TestScaleOverlay_Property(t *testing.T) {
	r := rand.New(rand.NewPCG(13, 17))
	for i := 0; i < 1000; i++ {
		bg := Size{16 + r.IntN(4000), 16 + r.IntN(4000)}
		ov := Size{1 + r.IntN(2000), 1 + r.IntN(2000)}
		scale := 0.05 + r.Float64()*0.95

		got, err := ScaleOverlay(bg, ov, scale)
		if err != nil {
			assert.ErrorIs(t, err, ErrInvalidSize)
			continue
		}
		wantW := int(math.Round(float64(bg.Width) * scale))
		assert.Equal(t, wantW, got.Width)
		assert.Equal(t, int(math.Round(float64(wantW)*float64(ov.Height)/float64(ov.Width))), got.Height)
	}
}

func TestScaleOverlay_Errors(t *testing.T) {
	_, err := ScaleOverlay(Size{1280, 720}, Size{500, 200}, 0)
	assert.ErrorIs(t, err, ErrInvalidOverlay)

	_, err = ScaleOverlay(Size{1280, 720}, Size{500, 200}, 1.5)
	assert.ErrorIs(t, err, ErrInvalidOverlay)

	_, err = ScaleOverlay(Size{}, Size{500, 200}, 0.2)
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = ScaleOverlay(Size{1280, 720}, Size{4000, 1}, 0.01)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestResolveMargin(t *testing.T) {
	assert.Equal(t, 38, ResolveMargin(0.03, 1280))
	assert.Equal(t, 24, ResolveMargin(24, 1280))
	assert.Equal(t, 1, ResolveMargin(1, 1280))
	assert.Equal(t, 0, ResolveMargin(0, 1280))
	assert.Equal(t, 0, ResolveMargin(-5, 1280))
}

func TestOverlayPosition(t *testing.T) {
	bg := Size{1280, 720}
	ov := Size{282, 113}

	tests := []struct {
		corner Corner
		x, y   int
	}{
		{CornerTopLeft, 10, 20},
		{CornerTopRight, 1280 - 282 - 10, 20},
		{CornerBottomLeft, 10, 720 - 113 - 20},
		{CornerBottomRight, 1280 - 282 - 10, 720 - 113 - 20},
	}
	for _, tt := range tests {
		t.Run(string(tt.corner), func(t *testing.T) {
			x, y := OverlayPosition(bg, ov, tt.corner, 10, 20)
			assert.Equal(t, tt.x, x)
			assert.Equal(t, tt.y, y)
		})
	}
}

func TestBuildOverlay(t *testing.T) {
	plan, err := BuildOverlay(OverlaySpec{
		Video:     "/work/in.mp4",
		VideoSize: Size{1280, 720},
		HasAudio:  true,
		Image:     "/work/logo.png",
		ImageSize: Size{500, 200},
		Scale:     0.22,
		Corner:    CornerBottomRight,
		MarginX:   0.03,
		MarginY:   16,
		Output:    "/work/out.mp4",
	})
	require.NoError(t, err)

	assert.Equal(t, Size{282, 113}, plan.Size)
	assert.Equal(t, 1280-282-38, plan.X)
	assert.Equal(t, 720-113-16, plan.Y)
	assert.Equal(t,
		"[1:v]scale=282:113[v1];[v1]format=rgba[v2];[0:v][v2]overlay=x=960:y=591:shortest=1[v3]",
		plan.Command.Filter)
	assert.Equal(t, []string{"[v3]", "0:a"}, plan.Command.Maps)
	assert.Equal(t, Input{Path: "/work/logo.png", Still: true}, plan.Command.Inputs[1])

	args := plan.Command.Args()
	assert.Contains(t, args, "copy")
	assert.NotContains(t, args, "-s")
}

func TestBuildOverlay_SilentVideo(t *testing.T) {
	plan, err := BuildOverlay(OverlaySpec{
		Video:     "/work/in.mp4",
		VideoSize: Size{1080, 1920},
		Image:     "/work/logo.png",
		ImageSize: Size{100, 100},
		Output:    "/work/out.mp4",
	})
	require.NoError(t, err)

	assert.Equal(t, Size{238, 238}, plan.Size)
	assert.Equal(t, []string{"[v3]"}, plan.Command.Maps)
	assert.NotContains(t, plan.Command.OutputArgs, "-c:a")
}

func TestBuildOverlay_MissingInputs(t *testing.T) {
	_, err := BuildOverlay(OverlaySpec{VideoSize: Size{2, 2}, ImageSize: Size{2, 2}, Output: "o"})
	assert.ErrorIs(t, err, ErrMissingInput)

	_, err = BuildOverlay(OverlaySpec{Video: "v", Image: "i", Output: "o"})
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestParseCorner(t *testing.T) {
	c, err := ParseCorner("")
	require.NoError(t, err)
	assert.Equal(t, CornerBottomRight, c)

	c, err = ParseCorner("TOP-LEFT")
	require.NoError(t, err)
	assert.Equal(t, CornerTopLeft, c)

	_, err = ParseCorner("center")
	assert.ErrorIs(t, err, ErrInvalidOverlay)
}
