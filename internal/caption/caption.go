// Package caption compiles word-level timestamps into time-disjoint caption
// segments and renders them as an ASS subtitle document with per-word
// highlight animation.
package caption

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Default segmentation parameters.
const (
	DefaultMaxWords       = 3
	DefaultPauseThreshold = 0.3 // seconds
)

// ErrInvalidTimestamps is returned when word timings cannot be compiled.
var ErrInvalidTimestamps = errors.New("caption: invalid word timestamps")

// Word is a single spoken word with its start and end time in seconds.
type Word struct {
	Text  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is a contiguous phrase rendered as one subtitle entry.
type Segment struct {
	Start float64
	End   float64
	Words []Word
}

// Options controls segmentation.
type Options struct {
	// MaxWords is the maximum number of words per segment.
	MaxWords int
	// PauseThreshold closes a segment when the gap to the next word
	// exceeds it, in seconds.
	PauseThreshold float64
}

// DefaultOptions returns the standard segmentation options.
func DefaultOptions() Options {
	return Options{
		MaxWords:       DefaultMaxWords,
		PauseThreshold: DefaultPauseThreshold,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxWords <= 0 {
		o.MaxWords = DefaultMaxWords
	}
	if o.PauseThreshold <= 0 {
		o.PauseThreshold = DefaultPauseThreshold
	}
	return o
}

// Normalize validates word timings and returns a cleaned copy.
//
// Words with empty text, a negative start, an end before their start, or a
// start earlier than the previous word's start are rejected. A word that
// starts before the previous one ends trims the previous word's end, so the
// segments built from the result never overlap.
func Normalize(words []Word) ([]Word, error) {
	out := make([]Word, 0, len(words))
	for i, w := range words {
		w.Text = strings.TrimSpace(w.Text)
		switch {
		case w.Text == "":
			return nil, fmt.Errorf("%w: word %d is empty", ErrInvalidTimestamps, i)
		case w.Start < 0:
			return nil, fmt.Errorf("%w: word %d (%q) starts before zero", ErrInvalidTimestamps, i, w.Text)
		case w.End < w.Start:
			return nil, fmt.Errorf("%w: word %d (%q) ends at %.3f before it starts at %.3f",
				ErrInvalidTimestamps, i, w.Text, w.End, w.Start)
		}
		if n := len(out); n > 0 {
			prev := &out[n-1]
			if w.Start < prev.Start {
				return nil, fmt.Errorf("%w: word %d (%q) starts at %.3f before previous word at %.3f",
					ErrInvalidTimestamps, i, w.Text, w.Start, prev.Start)
			}
			if w.Start < prev.End {
				prev.End = w.Start
			}
		}
		out = append(out, w)
	}
	return out, nil
}

// Split groups words into segments. A segment is closed when it holds
// MaxWords words, when the gap to the next word exceeds PauseThreshold, or
// at the last word. Input is expected to be normalized.
func Split(words []Word, opts Options) []Segment {
	opts = opts.withDefaults()
	if len(words) == 0 {
		return nil
	}

	segments := make([]Segment, 0, len(words)/opts.MaxWords+1)
	current := make([]Word, 0, opts.MaxWords)
	for i, w := range words {
		current = append(current, w)

		last := i == len(words)-1
		full := len(current) >= opts.MaxWords
		pause := !last && millis(words[i+1].Start-w.End) > millis(opts.PauseThreshold)
		if !last && !full && !pause {
			continue
		}

		segments = append(segments, Segment{
			Start: current[0].Start,
			End:   current[len(current)-1].End,
			Words: current,
		})
		current = make([]Word, 0, opts.MaxWords)
	}
	return segments
}

// millis converts seconds to whole milliseconds, absorbing float noise such
// as 0.5-0.2 evaluating slightly above 0.3.
func millis(seconds float64) int64 {
	return int64(math.Round(seconds * 1000))
}
