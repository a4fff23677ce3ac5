// Package server provides the HTTP API for reelsmith. It includes handlers,
// middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/reelsmith/internal/caption"
	"github.com/maauso/reelsmith/internal/render"
)

// WordDTO is one timed word of the narration.
type WordDTO struct {
	Word  string  `json:"word" validate:"required"`
	Start float64 `json:"start" validate:"gte=0"`
	End   float64 `json:"end" validate:"gtefield=Start"`
}

// WatermarkDTO selects the text or the image watermark.
type WatermarkDTO struct {
	// Text is literal watermark text. It wins over ImageURL.
	Text string `json:"text" validate:"required_without=ImageURL,max=200"`
	// ImageURL is a PNG or WebP to composite.
	ImageURL  string  `json:"image_url" validate:"omitempty,source_url"`
	Position  string  `json:"position" validate:"omitempty,oneof=top-left top-center top-right center-left center center-right bottom-left bottom-center bottom-right"`
	Padding   int     `json:"padding" validate:"gte=0,lte=1000"`
	Opacity   float64 `json:"opacity" validate:"gte=0,lte=1"`
	Scale     float64 `json:"scale" validate:"gte=0,lte=1"`
	FontSize  int     `json:"font_size" validate:"gte=0,lte=400"`
	FontColor string  `json:"font_color" validate:"omitempty,max=32"`
	Box       bool    `json:"box"`
}

// CaptionsDTO selects the caption style and segmentation.
type CaptionsDTO struct {
	// Preset names a configured style preset.
	Preset string `json:"preset"`
	// Style overrides individual style fields.
	Style          caption.Patch `json:"style"`
	MaxWords       int           `json:"max_words" validate:"gte=0,lte=20"`
	PauseThreshold float64       `json:"pause_threshold" validate:"gte=0,lte=10"`
}

// ComposeRequest is the HTTP request body for POST /v1/compose.
type ComposeRequest struct {
	BackgroundURL string `json:"background_url" validate:"required,source_url"`
	// BackgroundID keys the shared background cache. Defaults to "default".
	BackgroundID string        `json:"background_id" validate:"omitempty,max=128"`
	NarrationURL string        `json:"narration_url" validate:"required,source_url"`
	MusicURL     string        `json:"music_url" validate:"omitempty,source_url"`
	MusicVolume  float64       `json:"music_volume" validate:"gte=0,lte=1"`
	Words        []WordDTO     `json:"words" validate:"dive"`
	Duration     float64       `json:"duration" validate:"required,gt=0"`
	Resolution   string        `json:"resolution" validate:"omitempty,resolution"`
	Watermark    *WatermarkDTO `json:"watermark" validate:"omitempty"`
	Captions     CaptionsDTO   `json:"captions"`
	OutputPrefix string        `json:"output_prefix" validate:"omitempty,max=256"`
}

// OverlayRequest is the HTTP request body for POST /v1/overlay.
type OverlayRequest struct {
	VideoURL string `json:"video_url" validate:"required,source_url"`
	// Asset names a bundled image. Exactly one of Asset and ImageURL is required.
	Asset    string `json:"asset" validate:"required_without=ImageURL,excluded_with=ImageURL"`
	ImageURL string `json:"image_url" validate:"omitempty,source_url"`
	Corner   string `json:"corner" validate:"omitempty,oneof=top-left top-right bottom-left bottom-right"`
	// Scale is the overlay width as a fraction of the video width.
	Scale float64 `json:"scale" validate:"gte=0,lte=1"`
	// MarginX and MarginY are pixels, or fractions of the video size below 1.
	MarginX      float64 `json:"margin_x" validate:"gte=0"`
	MarginY      float64 `json:"margin_y" validate:"gte=0"`
	OutputPrefix string  `json:"output_prefix" validate:"omitempty,max=256"`
}

// TrimDTO bounds a clip in seconds.
type TrimDTO struct {
	Start *float64 `json:"start" validate:"omitempty,gte=0"`
	End   *float64 `json:"end" validate:"omitempty,gt=0"`
}

// ClipDTO is one merge input.
type ClipDTO struct {
	URL  string   `json:"url" validate:"required,source_url"`
	Trim *TrimDTO `json:"trim" validate:"omitempty"`
}

// MergeRequest is the HTTP request body for POST /v1/merge.
type MergeRequest struct {
	Clips              []ClipDTO `json:"clips" validate:"required,min=1,max=50,dive"`
	Transition         string    `json:"transition" validate:"omitempty,oneof=none crossfade"`
	TransitionDuration float64   `json:"transition_duration" validate:"gte=0,lte=10"`
	Resolution         string    `json:"resolution" validate:"omitempty,resolution"`
	OutputPrefix       string    `json:"output_prefix" validate:"omitempty,max=256"`
}

// JobAcceptedResponse is returned for asynchronous submissions.
type JobAcceptedResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the job status at submission.
	Status string `json:"status"`
}

// ResultResponse is returned when a synchronous render completes.
type ResultResponse struct {
	ID       string  `json:"id"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration,omitempty"`
}

// JobResponse is the HTTP response for GET /v1/jobs/{id}.
type JobResponse struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	URL         string     `json:"url,omitempty"`
	Duration    float64    `json:"duration,omitempty"`
	Error       string     `json:"error,omitempty"`
	Code        string     `json:"code,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// QueueDepth is the number of jobs waiting for a worker.
	QueueDepth int `json:"queue_depth"`
}

// AssetsResponse lists the bundled overlay images.
type AssetsResponse struct {
	Assets []string `json:"assets"`
}

func (r ComposeRequest) toDomain() render.ComposeRequest {
	out := render.ComposeRequest{
		BackgroundURL: r.BackgroundURL,
		BackgroundID:  r.BackgroundID,
		NarrationURL:  r.NarrationURL,
		MusicURL:      r.MusicURL,
		MusicVolume:   r.MusicVolume,
		Duration:      r.Duration,
		Resolution:    r.Resolution,
		Captions: render.CaptionOptions{
			Preset:         r.Captions.Preset,
			Style:          r.Captions.Style,
			MaxWords:       r.Captions.MaxWords,
			PauseThreshold: r.Captions.PauseThreshold,
		},
		OutputPrefix: r.OutputPrefix,
	}
	if len(r.Words) > 0 {
		out.Words = make([]caption.Word, len(r.Words))
		for i, w := range r.Words {
			out.Words[i] = caption.Word{Text: w.Word, Start: w.Start, End: w.End}
		}
	}
	if w := r.Watermark; w != nil {
		out.Watermark = &render.Watermark{
			Text:      w.Text,
			ImageURL:  w.ImageURL,
			Position:  w.Position,
			Padding:   w.Padding,
			Opacity:   w.Opacity,
			Scale:     w.Scale,
			FontSize:  w.FontSize,
			FontColor: w.FontColor,
			Box:       w.Box,
		}
	}
	return out
}

func (r OverlayRequest) toDomain() render.OverlayRequest {
	return render.OverlayRequest{
		VideoURL:     r.VideoURL,
		Asset:        r.Asset,
		ImageURL:     r.ImageURL,
		Corner:       r.Corner,
		Scale:        r.Scale,
		MarginX:      r.MarginX,
		MarginY:      r.MarginY,
		OutputPrefix: r.OutputPrefix,
	}
}

func (r MergeRequest) toDomain() render.MergeRequest {
	out := render.MergeRequest{
		Clips:              make([]render.ClipSource, len(r.Clips)),
		Transition:         r.Transition,
		TransitionDuration: r.TransitionDuration,
		Resolution:         r.Resolution,
		OutputPrefix:       r.OutputPrefix,
	}
	for i, c := range r.Clips {
		out.Clips[i] = render.ClipSource{URL: c.URL}
		if c.Trim != nil {
			out.Clips[i].Trim = &render.TrimSpec{Start: c.Trim.Start, End: c.Trim.End}
		}
	}
	return out
}
