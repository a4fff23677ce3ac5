package compose

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/maauso/reelsmith/internal/filtergraph"
)

// ErrInvalidOverlay is returned for out-of-range overlay settings.
var ErrInvalidOverlay = errors.New("compose: invalid overlay")

// Default overlay settings.
const (
	DefaultOverlayScale  = 0.22
	DefaultOverlayMargin = 0.03
)

// Corner anchors an overlay image.
type Corner string

const (
	CornerTopLeft     Corner = "top-left"
	CornerTopRight    Corner = "top-right"
	CornerBottomLeft  Corner = "bottom-left"
	CornerBottomRight Corner = "bottom-right"
)

// ParseCorner parses a corner name. An empty string yields CornerBottomRight.
func ParseCorner(s string) (Corner, error) {
	switch c := Corner(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CornerBottomRight, nil
	case CornerTopLeft, CornerTopRight, CornerBottomLeft, CornerBottomRight:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unknown corner %q", ErrInvalidOverlay, s)
	}
}

// ScaleOverlay returns the overlay size for a background: the width is
// round(bg.Width*scale) and the height keeps the overlay's own aspect ratio.
func ScaleOverlay(bg, overlay Size, scale float64) (Size, error) {
	if !bg.Valid() || !overlay.Valid() {
		return Size{}, fmt.Errorf("%w: background %s, overlay %s", ErrInvalidSize, bg, overlay)
	}
	if scale <= 0 || scale > 1 {
		return Size{}, fmt.Errorf("%w: scale %.3f must be within (0,1]", ErrInvalidOverlay, scale)
	}
	w := int(math.Round(float64(bg.Width) * scale))
	h := int(math.Round(float64(w) * float64(overlay.Height) / float64(overlay.Width)))
	if w < 1 || h < 1 {
		return Size{}, fmt.Errorf("%w: overlay would be %dx%d", ErrInvalidSize, w, h)
	}
	return Size{Width: w, Height: h}, nil
}

// ResolveMargin converts a margin to pixels. Values below 1 are fractions of
// side; anything else is already a pixel count.
func ResolveMargin(margin float64, side int) int {
	if margin < 0 {
		return 0
	}
	if margin < 1 {
		return int(math.Round(margin * float64(side)))
	}
	return int(math.Round(margin))
}

// OverlayPosition returns the top-left pixel of an overlay of size ov
// anchored at corner inside bg.
func OverlayPosition(bg, ov Size, corner Corner, marginX, marginY int) (x, y int) {
	x, y = marginX, marginY
	if corner == CornerTopRight || corner == CornerBottomRight {
		x = bg.Width - ov.Width - marginX
	}
	if corner == CornerBottomLeft || corner == CornerBottomRight {
		y = bg.Height - ov.Height - marginY
	}
	return x, y
}

// OverlaySpec is the resolved input for BuildOverlay.
type OverlaySpec struct {
	Video     string
	VideoSize Size
	HasAudio  bool
	Image     string
	ImageSize Size
	Scale     float64
	Corner    Corner
	// MarginX and MarginY are pixels, or fractions of the video size when
	// below 1.
	MarginX float64
	MarginY float64
	Encode  EncodeOptions
	Output  string
}

// OverlayPlan is a planned overlay.
type OverlayPlan struct {
	Command *Command
	Size    Size
	X, Y    int
}

// BuildOverlay plans compositing a still image onto a clip at an exact pixel
// size and position. The source audio is copied untouched.
func BuildOverlay(spec OverlaySpec) (*OverlayPlan, error) {
	for _, in := range [][2]string{
		{"video", spec.Video},
		{"overlay image", spec.Image},
		{"output", spec.Output},
	} {
		if err := requirePath(in[0], in[1]); err != nil {
			return nil, err
		}
	}
	scale := spec.Scale
	if scale == 0 {
		scale = DefaultOverlayScale
	}
	size, err := ScaleOverlay(spec.VideoSize, spec.ImageSize, scale)
	if err != nil {
		return nil, err
	}
	corner := spec.Corner
	if corner == "" {
		corner = CornerBottomRight
	}
	x, y := OverlayPosition(spec.VideoSize, size, corner,
		ResolveMargin(spec.MarginX, spec.VideoSize.Width),
		ResolveMargin(spec.MarginY, spec.VideoSize.Height))
	encode := spec.Encode.withDefaults()

	g := filtergraph.New()
	img := g.Add(filtergraph.Video, "scale", []string{filtergraph.Stream(1, filtergraph.Video)},
		filtergraph.Arg(size.Width), filtergraph.Arg(size.Height))
	img = g.Add(filtergraph.Video, "format", []string{img}, filtergraph.Arg("rgba"))
	video := g.Add(filtergraph.Video, "overlay", []string{filtergraph.Stream(0, filtergraph.Video), img},
		filtergraph.P("x", x), filtergraph.P("y", y), filtergraph.P("shortest", 1))

	filter, err := g.String()
	if err != nil {
		return nil, fmt.Errorf("compose: overlay graph: %w", err)
	}

	maps := []string{mapLabel(video)}
	out := encode.videoArgs(nil)
	if spec.HasAudio {
		maps = append(maps, filtergraph.Stream(0, filtergraph.Audio))
		out = append(out, "-c:a", "copy")
	}
	out = append(out, "-movflags", "+faststart")

	return &OverlayPlan{
		Command: &Command{
			Inputs: []Input{
				{Path: spec.Video},
				{Path: spec.Image, Still: true},
			},
			Filter:     filter,
			Maps:       maps,
			OutputArgs: out,
			OutputPath: spec.Output,
		},
		Size: size,
		X:    x,
		Y:    y,
	}, nil
}
