package compose

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxDimension bounds either side of a requested resolution.
const MaxDimension = 8192

// Size is a pixel size.
type Size struct {
	Width  int
	Height int
}

// String formats the size as WIDTHxHEIGHT.
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Valid reports whether both sides are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// ParseResolution parses "WIDTHxHEIGHT". Both sides must be positive, even
// and at most MaxDimension.
func ParseResolution(s string) (Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Size{}, fmt.Errorf("%w: %q is not WIDTHxHEIGHT", ErrInvalidSize, s)
	}
	width, errW := strconv.Atoi(w)
	height, errH := strconv.Atoi(h)
	if errW != nil || errH != nil {
		return Size{}, fmt.Errorf("%w: %q is not WIDTHxHEIGHT", ErrInvalidSize, s)
	}
	size := Size{Width: width, Height: height}
	if err := validateTarget(size); err != nil {
		return Size{}, err
	}
	return size, nil
}

func validateTarget(s Size) error {
	switch {
	case !s.Valid():
		return fmt.Errorf("%w: %s must be positive", ErrInvalidSize, s)
	case s.Width%2 != 0 || s.Height%2 != 0:
		return fmt.Errorf("%w: %s must have even sides", ErrInvalidSize, s)
	case s.Width > MaxDimension || s.Height > MaxDimension:
		return fmt.Errorf("%w: %s exceeds %d", ErrInvalidSize, s, MaxDimension)
	}
	return nil
}

// Fit is a scale-then-crop plan.
type Fit struct {
	Scaled Size
	Crop   Size
	X, Y   int
}

// CoverFit scales src by the larger of the two axis factors so it covers
// target, then centers a target-sized crop inside it. The scaled size is
// never smaller than target on either axis.
func CoverFit(src, target Size) (Fit, error) {
	if !src.Valid() {
		return Fit{}, fmt.Errorf("%w: source %s", ErrInvalidSize, src)
	}
	if !target.Valid() {
		return Fit{}, fmt.Errorf("%w: target %s", ErrInvalidSize, target)
	}

	factor := math.Max(
		float64(target.Width)/float64(src.Width),
		float64(target.Height)/float64(src.Height),
	)
	scaled := Size{
		Width:  max(int(math.Round(float64(src.Width)*factor)), target.Width),
		Height: max(int(math.Round(float64(src.Height)*factor)), target.Height),
	}
	return Fit{
		Scaled: scaled,
		Crop:   target,
		X:      (scaled.Width - target.Width) / 2,
		Y:      (scaled.Height - target.Height) / 2,
	}, nil
}

func roundMillis(v float64) float64 {
	return math.Round(v*1000) / 1000
}
