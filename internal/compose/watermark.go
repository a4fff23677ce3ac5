package compose

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/maauso/reelsmith/internal/filtergraph"
)

// ErrInvalidWatermark is returned for out-of-range watermark settings.
var ErrInvalidWatermark = errors.New("compose: invalid watermark")

// Default watermark settings.
const (
	DefaultWatermarkPadding  = 40
	DefaultWatermarkFontSize = 48
	DefaultWatermarkOpacity  = 0.8
	DefaultWatermarkScale    = 0.2
	DefaultBoxOpacity        = 0.4
)

// Position anchors a watermark on the frame.
type Position string

const (
	TopLeft      Position = "top-left"
	TopCenter    Position = "top-center"
	TopRight     Position = "top-right"
	CenterLeft   Position = "center-left"
	Center       Position = "center"
	CenterRight  Position = "center-right"
	BottomLeft   Position = "bottom-left"
	BottomCenter Position = "bottom-center"
	BottomRight  Position = "bottom-right"
)

// Positions lists every anchor position.
var Positions = []Position{
	TopLeft, TopCenter, TopRight,
	CenterLeft, Center, CenterRight,
	BottomLeft, BottomCenter, BottomRight,
}

// ParsePosition parses a position name. An empty string yields BottomRight.
func ParsePosition(s string) (Position, error) {
	if s == "" {
		return BottomRight, nil
	}
	p := Position(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Positions {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: unknown position %q", ErrInvalidWatermark, s)
}

type anchor struct{ horizontal, vertical int }

// -1 is left or top, 0 is centered, 1 is right or bottom.
var anchors = map[Position]anchor{
	TopLeft:      {-1, -1},
	TopCenter:    {0, -1},
	TopRight:     {1, -1},
	CenterLeft:   {-1, 0},
	Center:       {0, 0},
	CenterRight:  {1, 0},
	BottomLeft:   {-1, 1},
	BottomCenter: {0, 1},
	BottomRight:  {1, 1},
}

// expressions resolves the anchor against frame and item size variables.
func (p Position) expressions(frameW, frameH, itemW, itemH string, pad int) (x, y string) {
	a := anchors[p]
	return axis(a.horizontal, frameW, itemW, pad), axis(a.vertical, frameH, itemH, pad)
}

func axis(side int, frame, item string, pad int) string {
	switch side {
	case -1:
		return strconv.Itoa(pad)
	case 1:
		return frame + "-" + item + "-" + strconv.Itoa(pad)
	default:
		return "(" + frame + "-" + item + ")/2"
	}
}

// Watermark is either a TextWatermark or an ImageWatermark. A nil Watermark
// means none.
type Watermark interface {
	apply(g *filtergraph.Graph, video string, target Size, imageInput int) string
	validate() error
}

// TextWatermark renders literal text with an outline, a drop shadow and an
// optional background plate.
type TextWatermark struct {
	Text      string
	Position  Position
	Padding   int
	FontSize  int
	FontColor string
	FontFile  string
	Opacity   float64
	// Box draws a translucent plate behind the text.
	Box        bool
	BoxOpacity float64
}

func (w TextWatermark) validate() error {
	if strings.TrimSpace(w.Text) == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidWatermark)
	}
	if w.Opacity < 0 || w.Opacity > 1 || w.BoxOpacity < 0 || w.BoxOpacity > 1 {
		return fmt.Errorf("%w: opacity must be within [0,1]", ErrInvalidWatermark)
	}
	return nil
}

func (w TextWatermark) withDefaults() TextWatermark {
	if w.Position == "" {
		w.Position = BottomRight
	}
	if w.Padding <= 0 {
		w.Padding = DefaultWatermarkPadding
	}
	if w.FontSize <= 0 {
		w.FontSize = DefaultWatermarkFontSize
	}
	if w.FontColor == "" {
		w.FontColor = "white"
	}
	if w.Opacity == 0 {
		w.Opacity = DefaultWatermarkOpacity
	}
	if w.BoxOpacity == 0 {
		w.BoxOpacity = DefaultBoxOpacity
	}
	return w
}

func (w TextWatermark) apply(g *filtergraph.Graph, video string, _ Size, _ int) string {
	w = w.withDefaults()
	x, y := w.Position.expressions("w", "h", "tw", "th", w.Padding)
	opacity := strconv.FormatFloat(w.Opacity, 'f', -1, 64)

	params := []filtergraph.Param{
		filtergraph.P("text", filtergraph.Text(w.Text)),
	}
	if w.FontFile != "" {
		params = append(params, filtergraph.P("fontfile", filtergraph.Escape(w.FontFile)))
	}
	params = append(params,
		filtergraph.P("fontsize", w.FontSize),
		filtergraph.P("fontcolor", w.FontColor+"@"+opacity),
		filtergraph.P("borderw", 2),
		filtergraph.P("bordercolor", "black@"+opacity),
		filtergraph.P("shadowx", 2),
		filtergraph.P("shadowy", 2),
		filtergraph.P("shadowcolor", "black@0.5"),
	)
	if w.Box {
		params = append(params,
			filtergraph.P("box", 1),
			filtergraph.P("boxcolor", "black@"+strconv.FormatFloat(w.BoxOpacity, 'f', -1, 64)),
			filtergraph.P("boxborderw", 12),
		)
	}
	params = append(params, filtergraph.P("x", x), filtergraph.P("y", y))

	return g.Add(filtergraph.Video, "drawtext", []string{video}, params...)
}

// ImageWatermark composites an image scaled to a fraction of the output
// width with an alpha multiplier.
type ImageWatermark struct {
	Path     string
	Position Position
	Padding  int
	// Scale is the watermark width as a fraction of the output width.
	Scale   float64
	Opacity float64
}

func (w ImageWatermark) validate() error {
	if w.Path == "" {
		return fmt.Errorf("%w: watermark image", ErrMissingInput)
	}
	if w.Scale < 0 || w.Scale > 1 {
		return fmt.Errorf("%w: scale must be within (0,1]", ErrInvalidWatermark)
	}
	if w.Opacity < 0 || w.Opacity > 1 {
		return fmt.Errorf("%w: opacity must be within [0,1]", ErrInvalidWatermark)
	}
	return nil
}

func (w ImageWatermark) withDefaults() ImageWatermark {
	if w.Position == "" {
		w.Position = BottomRight
	}
	if w.Padding <= 0 {
		w.Padding = DefaultWatermarkPadding
	}
	if w.Scale == 0 {
		w.Scale = DefaultWatermarkScale
	}
	if w.Opacity == 0 {
		w.Opacity = DefaultWatermarkOpacity
	}
	return w
}

func (w ImageWatermark) apply(g *filtergraph.Graph, video string, target Size, imageInput int) string {
	w = w.withDefaults()
	width := max(int(math.Round(float64(target.Width)*w.Scale)), 2)

	scaled := g.Add(filtergraph.Video, "scale", []string{filtergraph.Stream(imageInput, filtergraph.Video)},
		filtergraph.Arg(width), filtergraph.Arg(-1))
	rgba := g.Add(filtergraph.Video, "format", []string{scaled}, filtergraph.Arg("rgba"))
	faded := g.Add(filtergraph.Video, "colorchannelmixer", []string{rgba}, filtergraph.P("aa", w.Opacity))

	x, y := w.Position.expressions("main_w", "main_h", "overlay_w", "overlay_h", w.Padding)
	return g.Add(filtergraph.Video, "overlay", []string{video, faded},
		filtergraph.P("x", x), filtergraph.P("y", y))
}
