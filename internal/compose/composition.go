package compose

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/maauso/reelsmith/internal/filtergraph"
)

// ErrInvalidDuration is returned when a composition has no positive duration.
var ErrInvalidDuration = errors.New("compose: invalid duration")

// DefaultMusicVolume is the music gain relative to narration.
const DefaultMusicVolume = 0.4

// CompositionSpec is the resolved input for BuildComposition.
type CompositionSpec struct {
	// Background is the local background clip, looped to cover Duration.
	Background     string
	BackgroundSize Size
	Narration      string
	// Music is optional.
	Music       string
	MusicVolume float64
	// Subtitles is an optional ASS document path.
	Subtitles string
	Watermark Watermark
	Duration  float64
	Target    Size
	Encode    EncodeOptions
	Output    string
}

// BuildComposition plans the background fit, caption burn, watermark and
// audio mix for one composition. The video stages always run in the order
// fit, captions, watermark.
func BuildComposition(spec CompositionSpec) (*Command, error) {
	if err := validateComposition(spec); err != nil {
		return nil, err
	}
	fit, err := CoverFit(spec.BackgroundSize, spec.Target)
	if err != nil {
		return nil, err
	}
	encode := spec.Encode.withDefaults()

	inputs := []Input{
		{Path: spec.Background, Loop: true},
		{Path: spec.Narration},
	}
	musicInput := -1
	if spec.Music != "" {
		musicInput = len(inputs)
		inputs = append(inputs, Input{Path: spec.Music, Loop: true})
	}
	watermarkInput := -1
	if img, ok := spec.Watermark.(ImageWatermark); ok {
		watermarkInput = len(inputs)
		inputs = append(inputs, Input{Path: img.Path})
	}

	g := filtergraph.New()
	duration := formatSeconds(spec.Duration)

	video := g.Add(filtergraph.Video, "scale", []string{filtergraph.Stream(0, filtergraph.Video)},
		filtergraph.Arg(fit.Scaled.Width), filtergraph.Arg(fit.Scaled.Height))
	video = g.Add(filtergraph.Video, "crop", []string{video},
		filtergraph.Arg(fit.Crop.Width), filtergraph.Arg(fit.Crop.Height),
		filtergraph.Arg(fit.X), filtergraph.Arg(fit.Y))
	video = g.Add(filtergraph.Video, "trim", []string{video}, filtergraph.P("duration", duration))
	video = g.Add(filtergraph.Video, "setpts", []string{video}, filtergraph.Arg("PTS-STARTPTS"))

	if spec.Subtitles != "" {
		video = g.Add(filtergraph.Video, "subtitles", []string{video},
			filtergraph.P("filename", filtergraph.Escape(spec.Subtitles)))
	}
	if spec.Watermark != nil {
		video = spec.Watermark.apply(g, video, spec.Target, watermarkInput)
	}

	maps := []string{mapLabel(video)}
	if musicInput >= 0 {
		volume := spec.MusicVolume
		if volume <= 0 {
			volume = DefaultMusicVolume
		}
		music := g.Add(filtergraph.Audio, "volume", []string{filtergraph.Stream(musicInput, filtergraph.Audio)},
			filtergraph.Arg(volume))
		mixed := g.Add(filtergraph.Audio, "amix", []string{filtergraph.Stream(1, filtergraph.Audio), music},
			filtergraph.P("inputs", 2), filtergraph.P("duration", "first"), filtergraph.P("normalize", 0))
		maps = append(maps, mapLabel(mixed))
	} else {
		maps = append(maps, filtergraph.Stream(1, filtergraph.Audio))
	}

	filter, err := g.String()
	if err != nil {
		return nil, fmt.Errorf("compose: composition graph: %w", err)
	}

	out := encode.videoArgs(&spec.Target)
	out = append(out,
		"-c:a", "aac", "-b:a", "192k",
		"-t", duration,
		"-movflags", "+faststart",
	)

	return &Command{
		Inputs:     inputs,
		Filter:     filter,
		Maps:       maps,
		OutputArgs: out,
		OutputPath: spec.Output,
	}, nil
}

func validateComposition(spec CompositionSpec) error {
	for _, in := range [][2]string{
		{"background", spec.Background},
		{"narration", spec.Narration},
		{"output", spec.Output},
	} {
		if err := requirePath(in[0], in[1]); err != nil {
			return err
		}
	}
	if err := validateTarget(spec.Target); err != nil {
		return err
	}
	if !spec.BackgroundSize.Valid() {
		return fmt.Errorf("%w: background %s", ErrInvalidSize, spec.BackgroundSize)
	}
	if spec.Duration <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDuration, strconv.FormatFloat(spec.Duration, 'f', -1, 64))
	}
	if spec.Watermark != nil {
		if err := spec.Watermark.validate(); err != nil {
			return err
		}
	}
	return nil
}
