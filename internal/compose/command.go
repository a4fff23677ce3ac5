// Package compose plans ffmpeg invocations for compositions, clip merges and
// image overlays. Every builder is pure: it takes resolved local paths and
// probed media facts and returns the argument list for the engine.
package compose

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrMissingInput is returned when a required input path is empty.
	ErrMissingInput = errors.New("compose: missing input")
	// ErrInvalidSize is returned for non-positive or odd dimensions.
	ErrInvalidSize = errors.New("compose: invalid size")
)

// Default encode settings.
const (
	DefaultCRF    = 23
	DefaultPreset = "veryfast"
	DefaultFPS    = 30
)

// Input is one engine input file.
type Input struct {
	Path string
	// Loop repeats the input indefinitely (-stream_loop -1).
	Loop bool
	// Still feeds a single image as a continuous video stream (-loop 1).
	Still bool
}

func (in Input) args() []string {
	var args []string
	if in.Loop {
		args = append(args, "-stream_loop", "-1")
	}
	if in.Still {
		args = append(args, "-loop", "1")
	}
	return append(args, "-i", in.Path)
}

// Command is a fully planned engine invocation.
type Command struct {
	Inputs     []Input
	Filter     string
	Maps       []string
	OutputArgs []string
	OutputPath string
}

// Args returns the argument list, excluding the ffmpeg binary itself.
func (c *Command) Args() []string {
	args := []string{"-y", "-hide_banner", "-nostdin"}
	for _, in := range c.Inputs {
		args = append(args, in.args()...)
	}
	if c.Filter != "" {
		args = append(args, "-filter_complex", c.Filter)
	}
	for _, m := range c.Maps {
		args = append(args, "-map", m)
	}
	args = append(args, c.OutputArgs...)
	return append(args, c.OutputPath)
}

// EncodeOptions controls the video encoder.
type EncodeOptions struct {
	CRF    int
	Preset string
	FPS    int
}

func (o EncodeOptions) withDefaults() EncodeOptions {
	if o.CRF <= 0 {
		o.CRF = DefaultCRF
	}
	if o.Preset == "" {
		o.Preset = DefaultPreset
	}
	if o.FPS <= 0 {
		o.FPS = DefaultFPS
	}
	return o
}

// videoArgs returns the libx264 arguments. A nil size keeps the source
// resolution and frame rate.
func (o EncodeOptions) videoArgs(size *Size) []string {
	args := []string{
		"-c:v", "libx264",
		"-crf", strconv.Itoa(o.CRF),
		"-preset", o.Preset,
	}
	if size != nil {
		args = append(args, "-r", strconv.Itoa(o.FPS), "-s", size.String())
	}
	return append(args, "-pix_fmt", "yuv420p")
}

func mapLabel(label string) string {
	return "[" + label + "]"
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(roundMillis(v), 'f', -1, 64)
}

func requirePath(name, path string) error {
	if path == "" {
		return fmt.Errorf("%w: %s", ErrMissingInput, name)
	}
	return nil
}
