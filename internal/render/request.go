package render

import (
	"strings"

	"github.com/maauso/reelsmith/internal/caption"
	"github.com/maauso/reelsmith/internal/compose"
)

// DefaultResolution is the vertical short-form canvas.
const DefaultResolution = "1080x1920"

// MaxClips bounds a single merge.
const MaxClips = 50

// Result is the outcome of a finished render job.
type Result struct {
	URL      string  `json:"url"`
	Duration float64 `json:"duration,omitempty"`
}

// ComposeRequest describes a captioned composition over a background clip.
type ComposeRequest struct {
	BackgroundURL string         `json:"background_url"`
	BackgroundID  string         `json:"background_id,omitempty"`
	NarrationURL  string         `json:"narration_url"`
	MusicURL      string         `json:"music_url,omitempty"`
	MusicVolume   float64        `json:"music_volume,omitempty"`
	Words         []caption.Word `json:"words,omitempty"`
	Duration      float64        `json:"duration"`
	Resolution    string         `json:"resolution,omitempty"`
	Watermark     *Watermark     `json:"watermark,omitempty"`
	Captions      CaptionOptions `json:"captions"`
	OutputPrefix  string         `json:"output_prefix,omitempty"`
}

// CaptionOptions selects the caption style and segmentation.
type CaptionOptions struct {
	Preset         string        `json:"preset,omitempty"`
	Style          caption.Patch `json:"style"`
	MaxWords       int           `json:"max_words,omitempty"`
	PauseThreshold float64       `json:"pause_threshold,omitempty"`
}

// Watermark carries either literal text or an image URL. Text wins when
// both are set.
type Watermark struct {
	Text     string  `json:"text,omitempty"`
	ImageURL string  `json:"image_url,omitempty"`
	Position string  `json:"position,omitempty"`
	Padding  int     `json:"padding,omitempty"`
	Opacity  float64 `json:"opacity,omitempty"`
	// Scale is the image width as a fraction of the output width.
	Scale     float64 `json:"scale,omitempty"`
	FontSize  int     `json:"font_size,omitempty"`
	FontColor string  `json:"font_color,omitempty"`
	Box       bool    `json:"box,omitempty"`
}

// IsText reports whether the text variant is active.
func (w *Watermark) IsText() bool {
	return strings.TrimSpace(w.Text) != ""
}

// Variant resolves the watermark into its compose form. imagePath is the
// downloaded image and is ignored for the text variant.
func (w *Watermark) Variant(imagePath string) (compose.Watermark, error) {
	pos, err := compose.ParsePosition(w.Position)
	if err != nil {
		return nil, err
	}
	if w.IsText() {
		return compose.TextWatermark{
			Text:      w.Text,
			Position:  pos,
			Padding:   w.Padding,
			FontSize:  w.FontSize,
			FontColor: w.FontColor,
			Opacity:   w.Opacity,
			Box:       w.Box,
		}, nil
	}
	return compose.ImageWatermark{
		Path:     imagePath,
		Position: pos,
		Padding:  w.Padding,
		Scale:    w.Scale,
		Opacity:  w.Opacity,
	}, nil
}

func (w *Watermark) validate() error {
	if !w.IsText() && strings.TrimSpace(w.ImageURL) == "" {
		return invalid("watermark", "one of text or image_url is required")
	}
	if _, err := compose.ParsePosition(w.Position); err != nil {
		return invalid("watermark.position", "%q is not a known position", w.Position)
	}
	if w.Opacity < 0 || w.Opacity > 1 {
		return invalid("watermark.opacity", "%.3f must be within [0,1]", w.Opacity)
	}
	if w.Scale < 0 || w.Scale > 1 {
		return invalid("watermark.scale", "%.3f must be within (0,1]", w.Scale)
	}
	if w.Padding < 0 || w.FontSize < 0 {
		return invalid("watermark", "padding and font_size must not be negative")
	}
	return nil
}

func (r ComposeRequest) resolution() string {
	return orDefault(r.Resolution, DefaultResolution)
}

// Target returns the parsed output resolution.
func (r ComposeRequest) Target() (compose.Size, error) {
	return compose.ParseResolution(r.resolution())
}

// Validate checks the request without touching the network.
func (r ComposeRequest) Validate() error {
	if strings.TrimSpace(r.BackgroundURL) == "" {
		return invalid("background_url", "is required")
	}
	if strings.TrimSpace(r.NarrationURL) == "" {
		return invalid("narration_url", "is required")
	}
	if r.Duration <= 0 {
		return invalid("duration", "%.3f must be positive", r.Duration)
	}
	if r.MusicVolume < 0 || r.MusicVolume > 1 {
		return invalid("music_volume", "%.3f must be within [0,1]", r.MusicVolume)
	}
	if _, err := r.Target(); err != nil {
		return invalid("resolution", "%v", err)
	}
	if _, err := caption.Normalize(r.Words); err != nil {
		return invalid("words", "%v", err)
	}
	if r.Captions.MaxWords < 0 || r.Captions.PauseThreshold < 0 {
		return invalid("captions", "max_words and pause_threshold must not be negative")
	}
	if r.Watermark != nil {
		if err := r.Watermark.validate(); err != nil {
			return err
		}
	}
	return validatePrefix(r.OutputPrefix)
}

// OverlayRequest describes compositing an image onto a clip corner.
type OverlayRequest struct {
	VideoURL string `json:"video_url"`
	// Asset names a bundled image. Exactly one of Asset and ImageURL is set.
	Asset        string  `json:"asset,omitempty"`
	ImageURL     string  `json:"image_url,omitempty"`
	Corner       string  `json:"corner,omitempty"`
	Scale        float64 `json:"scale,omitempty"`
	MarginX      float64 `json:"margin_x,omitempty"`
	MarginY      float64 `json:"margin_y,omitempty"`
	OutputPrefix string  `json:"output_prefix,omitempty"`
}

// Validate checks the request without touching the network.
func (r OverlayRequest) Validate() error {
	if strings.TrimSpace(r.VideoURL) == "" {
		return invalid("video_url", "is required")
	}
	hasAsset := strings.TrimSpace(r.Asset) != ""
	hasURL := strings.TrimSpace(r.ImageURL) != ""
	if hasAsset == hasURL {
		return invalid("overlay", "exactly one of asset or image_url is required")
	}
	if _, err := compose.ParseCorner(r.Corner); err != nil {
		return invalid("corner", "%q is not a known corner", r.Corner)
	}
	if r.Scale < 0 || r.Scale > 1 {
		return invalid("scale", "%.3f must be within (0,1]", r.Scale)
	}
	if r.MarginX < 0 || r.MarginY < 0 {
		return invalid("margin", "margins must not be negative")
	}
	return validatePrefix(r.OutputPrefix)
}

// ClipSource is one merge input.
type ClipSource struct {
	URL  string    `json:"url"`
	Trim *TrimSpec `json:"trim,omitempty"`
}

// TrimSpec bounds a clip in seconds.
type TrimSpec struct {
	Start *float64 `json:"start,omitempty"`
	End   *float64 `json:"end,omitempty"`
}

// MergeRequest describes joining clips with hard cuts or crossfades.
type MergeRequest struct {
	Clips              []ClipSource `json:"clips"`
	Transition         string       `json:"transition,omitempty"`
	TransitionDuration float64      `json:"transition_duration,omitempty"`
	Resolution         string       `json:"resolution,omitempty"`
	OutputPrefix       string       `json:"output_prefix,omitempty"`
}

// Target returns the parsed output resolution.
func (r MergeRequest) Target() (compose.Size, error) {
	return compose.ParseResolution(orDefault(r.Resolution, DefaultResolution))
}

// Validate checks the request without touching the network. Trims past
// the end of a clip are only detected once the clip has been probed.
func (r MergeRequest) Validate() error {
	if len(r.Clips) == 0 {
		return invalid("clips", "at least one clip is required")
	}
	if len(r.Clips) > MaxClips {
		return invalid("clips", "%d clips exceed the limit of %d", len(r.Clips), MaxClips)
	}
	for i, c := range r.Clips {
		if strings.TrimSpace(c.URL) == "" {
			return invalid("clips", "clip %d: url is required", i)
		}
		if c.Trim == nil {
			continue
		}
		if c.Trim.Start != nil && *c.Trim.Start < 0 {
			return invalid("clips", "clip %d: trim start must not be negative", i)
		}
		if c.Trim.End != nil && *c.Trim.End <= 0 {
			return invalid("clips", "clip %d: trim end must be positive", i)
		}
		if c.Trim.Start != nil && c.Trim.End != nil && *c.Trim.End <= *c.Trim.Start {
			return invalid("clips", "clip %d: trim end must be after start", i)
		}
	}
	mode, err := compose.ParseTransitionMode(r.Transition)
	if err != nil {
		return invalid("transition", "%q is not a known mode", r.Transition)
	}
	if r.TransitionDuration < 0 {
		return invalid("transition_duration", "must not be negative")
	}
	if mode == compose.ModeCrossfade && len(r.Clips) > 1 && r.TransitionDuration == 0 {
		return invalid("transition_duration", "is required for crossfade")
	}
	if _, err := r.Target(); err != nil {
		return invalid("resolution", "%v", err)
	}
	return validatePrefix(r.OutputPrefix)
}

func validatePrefix(prefix string) error {
	for _, part := range strings.Split(prefix, "/") {
		if part == ".." {
			return invalid("output_prefix", "must not contain ..")
		}
	}
	return nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
