package compose

import (
	"errors"
	"fmt"
	"strings"

	"github.com/maauso/reelsmith/internal/filtergraph"
)

var (
	// ErrNoClips is returned when a merge has no clips.
	ErrNoClips = errors.New("compose: no clips to merge")
	// ErrInvalidTrim is returned when trim bounds leave nothing to play.
	ErrInvalidTrim = errors.New("compose: invalid trim")
	// ErrInvalidTransition is returned for an unusable transition duration
	// or an unknown mode.
	ErrInvalidTransition = errors.New("compose: invalid transition")
)

// TransitionMode selects how merged clips are joined.
type TransitionMode string

const (
	ModeNone      TransitionMode = "none"
	ModeCrossfade TransitionMode = "crossfade"
)

// ParseTransitionMode parses a mode name. An empty string yields ModeNone.
func ParseTransitionMode(s string) (TransitionMode, error) {
	switch TransitionMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeNone:
		return ModeNone, nil
	case ModeCrossfade:
		return ModeCrossfade, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidTransition, s)
	}
}

// Trim bounds a clip in seconds. Nil bounds mean the natural start or end.
type Trim struct {
	Start *float64
	End   *float64
}

func (t Trim) set() bool {
	return t.Start != nil || t.End != nil
}

// Clip is one merge input with its probed facts.
type Clip struct {
	Path     string
	Trim     Trim
	Duration float64
	HasAudio bool
}

// bounds returns the trimmed [start, end) window of the clip.
func (c Clip) bounds() (start, end float64, err error) {
	end = c.Duration
	if c.Trim.Start != nil {
		start = *c.Trim.Start
	}
	if c.Trim.End != nil && *c.Trim.End < end {
		end = *c.Trim.End
	}
	if start < 0 || end-start <= 0 {
		return 0, 0, fmt.Errorf("%w: %s keeps [%.3f, %.3f) of %.3fs",
			ErrInvalidTrim, c.Path, start, end, c.Duration)
	}
	return start, end, nil
}

// EffectiveDuration is the clip's playable length after trimming.
func (c Clip) EffectiveDuration() (float64, error) {
	start, end, err := c.bounds()
	if err != nil {
		return 0, err
	}
	return end - start, nil
}

// MergeSpec is the resolved input for BuildMerge.
type MergeSpec struct {
	Clips      []Clip
	Mode       TransitionMode
	Transition float64
	Target     Size
	Encode     EncodeOptions
	Output     string
}

// MergePlan is a planned merge.
type MergePlan struct {
	Command *Command
	// Duration is the expected output length in seconds.
	Duration float64
	// Offsets holds the xfade offset for each clip after the first.
	Offsets  []float64
	HasAudio bool
}

// BuildMerge plans a hard-cut or crossfade merge of spec.Clips.
//
// Hard cuts letterbox every clip into the target and concatenate them.
// Crossfades first normalize every clip to a constant frame rate and the
// AVTB timebase, then chain xfade with offsets accumulated as the sum of
// (effective duration - transition) over the preceding clips. Audio is only
// carried when every clip has an audio stream.
func BuildMerge(spec MergeSpec) (*MergePlan, error) {
	if len(spec.Clips) == 0 {
		return nil, ErrNoClips
	}
	if err := requirePath("output", spec.Output); err != nil {
		return nil, err
	}
	if err := validateTarget(spec.Target); err != nil {
		return nil, err
	}
	mode := spec.Mode
	if mode == "" {
		mode = ModeNone
	}
	if mode != ModeNone && mode != ModeCrossfade {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidTransition, mode)
	}
	encode := spec.Encode.withDefaults()

	type window struct{ start, end float64 }
	windows := make([]window, len(spec.Clips))
	durations := make([]float64, len(spec.Clips))
	inputs := make([]Input, len(spec.Clips))
	withAudio := true
	for i, c := range spec.Clips {
		if err := requirePath(fmt.Sprintf("clip %d", i), c.Path); err != nil {
			return nil, err
		}
		start, end, err := c.bounds()
		if err != nil {
			return nil, err
		}
		windows[i] = window{start, end}
		durations[i] = end - start
		inputs[i] = Input{Path: c.Path}
		withAudio = withAudio && c.HasAudio
	}

	crossfade := mode == ModeCrossfade && len(spec.Clips) > 1
	if crossfade {
		t := spec.Transition
		if t <= 0 {
			return nil, fmt.Errorf("%w: duration %.3f must be positive", ErrInvalidTransition, t)
		}
		for i, d := range durations {
			if t >= d {
				return nil, fmt.Errorf("%w: duration %.3f is not shorter than clip %d (%.3fs)",
					ErrInvalidTransition, t, i, d)
			}
		}
	}

	g := filtergraph.New()
	videos := make([]string, len(spec.Clips))
	audios := make([]string, len(spec.Clips))
	for i, c := range spec.Clips {
		w := windows[i]
		v := filtergraph.Stream(i, filtergraph.Video)
		if c.Trim.set() {
			v = g.Add(filtergraph.Video, "trim", []string{v},
				filtergraph.P("start", roundMillis(w.start)), filtergraph.P("end", roundMillis(w.end)))
			v = g.Add(filtergraph.Video, "setpts", []string{v}, filtergraph.Arg("PTS-STARTPTS"))
		}
		if mode == ModeCrossfade {
			v = g.Add(filtergraph.Video, "fps", []string{v}, filtergraph.Arg(encode.FPS))
			v = g.Add(filtergraph.Video, "settb", []string{v}, filtergraph.Arg("AVTB"))
		}
		v = letterbox(g, v, spec.Target)
		if mode == ModeCrossfade {
			v = g.Add(filtergraph.Video, "format", []string{v}, filtergraph.Arg("yuv420p"))
		}
		videos[i] = v

		if !withAudio {
			continue
		}
		a := filtergraph.Stream(i, filtergraph.Audio)
		if c.Trim.set() {
			a = g.Add(filtergraph.Audio, "atrim", []string{a},
				filtergraph.P("start", roundMillis(w.start)), filtergraph.P("end", roundMillis(w.end)))
			a = g.Add(filtergraph.Audio, "asetpts", []string{a}, filtergraph.Arg("PTS-STARTPTS"))
		}
		a = g.Add(filtergraph.Audio, "aformat", []string{a},
			filtergraph.P("sample_rates", 48000), filtergraph.P("channel_layouts", "stereo"))
		audios[i] = a
	}

	plan := &MergePlan{HasAudio: withAudio}
	var video, audio string
	if crossfade {
		video, audio, plan.Offsets = chainCrossfades(g, videos, audios, durations, spec.Transition, withAudio)
	} else {
		video, audio = concat(g, videos, audios, withAudio)
	}

	var total float64
	for _, d := range durations {
		total += d
	}
	if crossfade {
		total -= float64(len(durations)-1) * spec.Transition
	}
	plan.Duration = roundMillis(total)

	filter, err := g.String()
	if err != nil {
		return nil, fmt.Errorf("compose: merge graph: %w", err)
	}

	maps := []string{mapLabel(video)}
	out := encode.videoArgs(&spec.Target)
	if withAudio {
		maps = append(maps, mapLabel(audio))
		out = append(out, "-c:a", "aac", "-b:a", "192k")
	} else {
		out = append(out, "-an")
	}
	out = append(out, "-movflags", "+faststart")

	plan.Command = &Command{
		Inputs:     inputs,
		Filter:     filter,
		Maps:       maps,
		OutputArgs: out,
		OutputPath: spec.Output,
	}
	return plan, nil
}

// letterbox scales v to fit inside target without cropping and pads the rest.
func letterbox(g *filtergraph.Graph, v string, target Size) string {
	v = g.Add(filtergraph.Video, "scale", []string{v},
		filtergraph.Arg(target.Width), filtergraph.Arg(target.Height),
		filtergraph.P("force_original_aspect_ratio", "decrease"))
	v = g.Add(filtergraph.Video, "pad", []string{v},
		filtergraph.Arg(target.Width), filtergraph.Arg(target.Height),
		filtergraph.Arg("(ow-iw)/2"), filtergraph.Arg("(oh-ih)/2"))
	return g.Add(filtergraph.Video, "setsar", []string{v}, filtergraph.Arg(1))
}

func concat(g *filtergraph.Graph, videos, audios []string, withAudio bool) (video, audio string) {
	inputs := make([]string, 0, len(videos)*2)
	for i := range videos {
		inputs = append(inputs, videos[i])
		if withAudio {
			inputs = append(inputs, audios[i])
		}
	}
	kinds := []filtergraph.Kind{filtergraph.Video}
	a := 0
	if withAudio {
		kinds = append(kinds, filtergraph.Audio)
		a = 1
	}
	outs := g.AddMulti("concat", inputs, kinds,
		filtergraph.P("n", len(videos)), filtergraph.P("v", 1), filtergraph.P("a", a))
	if withAudio {
		return outs[0], outs[1]
	}
	return outs[0], ""
}

func chainCrossfades(g *filtergraph.Graph, videos, audios []string, durations []float64, t float64, withAudio bool) (video, audio string, offsets []float64) {
	video = videos[0]
	audio = audios[0]
	offsets = make([]float64, 0, len(videos)-1)
	var offset float64
	for i := 1; i < len(videos); i++ {
		offset += durations[i-1] - t
		rounded := roundMillis(offset)
		offsets = append(offsets, rounded)

		video = g.Add(filtergraph.Video, "xfade", []string{video, videos[i]},
			filtergraph.P("transition", "fade"),
			filtergraph.P("duration", roundMillis(t)),
			filtergraph.P("offset", rounded))
		if withAudio {
			audio = g.Add(filtergraph.Audio, "acrossfade", []string{audio, audios[i]},
				filtergraph.P("d", roundMillis(t)))
		}
	}
	return video, audio, offsets
}
