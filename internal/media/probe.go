package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

var (
	// ErrProbeFailed is returned when ffprobe cannot read a file.
	ErrProbeFailed = errors.New("media: ffprobe failed")
	// ErrNoVideoStream is returned when a file has no usable video stream.
	ErrNoVideoStream = errors.New("media: no usable video stream")
)

// ProbeResult holds the facts the planners need about one media file.
// Width and Height describe the first non-attached-picture video stream as
// displayed: ffmpeg autorotates on decode, so a stream rotated by 90 or 270
// degrees has its coded sides swapped. Rotation is normalized to [0, 360).
type ProbeResult struct {
	Width      int
	Height     int
	Rotation   int
	Duration   float64
	HasAudio   bool
	VideoCodec string
	FrameRate  string
}

// Prober reads media facts with a single ffprobe JSON call.
type Prober struct {
	ffprobePath string
}

// NewProber creates a Prober. An empty path defaults to "ffprobe".
func NewProber(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{ffprobePath: ffprobePath}
}

// Probe runs ffprobe against path.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %q: %w, stderr: %s", ErrProbeFailed, path, err, strings.TrimSpace(stderr.String()))
	}

	return ParseJSON(out)
}

// ParseJSON converts raw ffprobe JSON output into a ProbeResult.
func ParseJSON(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse ffprobe JSON: %w", ErrProbeFailed, err)
	}

	res := &ProbeResult{Duration: parseFloat(raw.Format.Duration)}
	var found bool
	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			if found || s.Disposition["attached_pic"] == 1 || s.Width <= 0 || s.Height <= 0 {
				continue
			}
			found = true
			res.Width, res.Height = s.Width, s.Height
			res.Rotation = s.rotation()
			if res.Rotation == 90 || res.Rotation == 270 {
				res.Width, res.Height = res.Height, res.Width
			}
			res.VideoCodec = s.CodecName
			res.FrameRate = s.AvgFrameRate
			if res.Duration <= 0 {
				res.Duration = parseFloat(s.Duration)
			}
		case "audio":
			res.HasAudio = true
		}
	}
	if !found {
		return nil, ErrNoVideoStream
	}
	return res, nil
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type ffprobeStream struct {
	Index        int            `json:"index"`
	CodecName    string         `json:"codec_name"`
	CodecType    string         `json:"codec_type"`
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	AvgFrameRate string         `json:"avg_frame_rate"`
	Duration     string         `json:"duration"`
	Disposition  map[string]int `json:"disposition"`
	Tags         struct {
		Rotate string `json:"rotate"`
	} `json:"tags"`
	SideData []struct {
		Type     string  `json:"side_data_type"`
		Rotation float64 `json:"rotation"`
	} `json:"side_data_list"`
}

// rotation reads the display matrix side data, falling back to the legacy
// rotate tag.
func (s *ffprobeStream) rotation() int {
	deg := 0.0
	for _, sd := range s.SideData {
		if sd.Type == "Display Matrix" {
			deg = sd.Rotation
			break
		}
	}
	if deg == 0 {
		deg = parseFloat(s.Tags.Rotate)
	}
	r := int(math.Round(deg)) % 360
	if r < 0 {
		r += 360
	}
	return r
}

// ffprobe reports numbers as strings, and "N/A" when unknown.
func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
