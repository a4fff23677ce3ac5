package render

import (
	"github.com/maauso/reelsmith/internal/compose"
	"github.com/maauso/reelsmith/internal/media"
)

// ComposeInputs are the local files and probed facts a composition is
// planned from.
type ComposeInputs struct {
	Background     string
	BackgroundSize compose.Size
	Narration      string
	Music          string
	WatermarkImage string
	// Subtitles is the compiled caption file; empty when there are no words.
	Subtitles string
	Output    string
}

// Plan builds the engine command for the request. It performs no I/O.
func (r ComposeRequest) Plan(in ComposeInputs, enc compose.EncodeOptions) (*compose.Command, error) {
	target, err := r.Target()
	if err != nil {
		return nil, err
	}
	var watermark compose.Watermark
	if r.Watermark != nil {
		if watermark, err = r.Watermark.Variant(in.WatermarkImage); err != nil {
			return nil, err
		}
	}
	return compose.BuildComposition(compose.CompositionSpec{
		Background:     in.Background,
		BackgroundSize: in.BackgroundSize,
		Narration:      in.Narration,
		Music:          in.Music,
		MusicVolume:    r.MusicVolume,
		Subtitles:      in.Subtitles,
		Watermark:      watermark,
		Duration:       r.Duration,
		Target:         target,
		Encode:         enc,
		Output:         in.Output,
	})
}

// OverlayInputs are the local files and probed facts an overlay is planned
// from.
type OverlayInputs struct {
	Video     string
	VideoInfo media.ProbeResult
	Image     string
	ImageSize compose.Size
	Output    string
}

// Plan builds the overlay command for the request. It performs no I/O.
func (r OverlayRequest) Plan(in OverlayInputs, enc compose.EncodeOptions) (*compose.OverlayPlan, error) {
	corner, err := compose.ParseCorner(r.Corner)
	if err != nil {
		return nil, err
	}
	return compose.BuildOverlay(compose.OverlaySpec{
		Video:     in.Video,
		VideoSize: compose.Size{Width: in.VideoInfo.Width, Height: in.VideoInfo.Height},
		HasAudio:  in.VideoInfo.HasAudio,
		Image:     in.Image,
		ImageSize: in.ImageSize,
		Scale:     r.Scale,
		Corner:    corner,
		MarginX:   r.MarginX,
		MarginY:   r.MarginY,
		Encode:    enc,
		Output:    in.Output,
	})
}

// ClipInput is one downloaded and probed merge clip.
type ClipInput struct {
	Path     string
	Duration float64
	HasAudio bool
}

// Plan builds the merge command for the request. clips must line up with
// r.Clips. It performs no I/O.
func (r MergeRequest) Plan(clips []ClipInput, output string, enc compose.EncodeOptions) (*compose.MergePlan, error) {
	target, err := r.Target()
	if err != nil {
		return nil, err
	}
	mode, err := compose.ParseTransitionMode(r.Transition)
	if err != nil {
		return nil, err
	}
	if len(clips) != len(r.Clips) {
		return nil, invalid("clips", "expected %d probed clips, got %d", len(r.Clips), len(clips))
	}

	specs := make([]compose.Clip, len(clips))
	for i, c := range clips {
		specs[i] = compose.Clip{Path: c.Path, Duration: c.Duration, HasAudio: c.HasAudio}
		if t := r.Clips[i].Trim; t != nil {
			specs[i].Trim = compose.Trim{Start: t.Start, End: t.End}
		}
	}
	return compose.BuildMerge(compose.MergeSpec{
		Clips:      specs,
		Mode:       mode,
		Transition: r.TransitionDuration,
		Target:     target,
		Encode:     enc,
		Output:     output,
	})
}
