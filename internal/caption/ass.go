package caption

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Default canvas for the subtitle renderer.
const (
	DefaultWidth  = 1080
	DefaultHeight = 1920
)

const styleName = "Default"

// Canvas is the subtitle coordinate space, normally the output resolution.
type Canvas struct {
	Width  int
	Height int
}

// Transition switches a word's fill color at an offset relative to the
// start of its segment.
type Transition struct {
	OffsetMS int64
	Color    Color
}

// Highlight is the animation plan for one word in a segment.
type Highlight struct {
	Text string
	// Initial is the fill color the word is drawn with when the segment
	// appears.
	Initial     Color
	Transitions []Transition
}

// Document is a compiled subtitle track.
type Document struct {
	Canvas   Canvas
	Style    Style
	Segments []Segment
}

// Compile validates the words, groups them into segments and returns the
// resulting document. An empty word list yields a document with no events.
func Compile(words []Word, style Style, canvas Canvas, opts Options) (*Document, error) {
	normalized, err := Normalize(words)
	if err != nil {
		return nil, err
	}
	if canvas.Width <= 0 || canvas.Height <= 0 {
		canvas = Canvas{Width: DefaultWidth, Height: DefaultHeight}
	}
	return &Document{
		Canvas:   canvas,
		Style:    style,
		Segments: Split(normalized, opts),
	}, nil
}

// minOffsetMS is the earliest transition offset. A \t whose times are both
// zero spans the whole event instead of switching instantly.
const minOffsetMS = 1

// Highlights returns the per-word animation for seg. Offsets are relative to
// the event start as written to the document, and never below minOffsetMS.
// The first word starts highlighted and only transitions back. Every other
// word starts in the primary color and is highlighted between its relative
// start and end.
func Highlights(seg Segment, style Style) []Highlight {
	out := make([]Highlight, 0, len(seg.Words))
	base := eventMillis(seg.Start)
	for i, w := range seg.Words {
		start := max(millis(w.Start)-base, minOffsetMS)
		end := max(millis(w.End)-base, start)

		if i == 0 {
			out = append(out, Highlight{
				Text:    w.Text,
				Initial: style.HighlightColor,
				Transitions: []Transition{
					{OffsetMS: end, Color: style.PrimaryColor},
				},
			})
			continue
		}

		out = append(out, Highlight{
			Text:    w.Text,
			Initial: style.PrimaryColor,
			Transitions: []Transition{
				{OffsetMS: start, Color: style.HighlightColor},
				{OffsetMS: end, Color: style.PrimaryColor},
			},
		})
	}
	return out
}

// String renders the document in ASS format.
func (d *Document) String() string {
	var buf bytes.Buffer
	_, _ = d.WriteTo(&buf)
	return buf.String()
}

// WriteTo writes the ASS document to w.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	s := d.Style

	b.WriteString("[Script Info]\n")
	b.WriteString("ScriptType: v4.00+\n")
	fmt.Fprintf(&b, "PlayResX: %d\n", d.Canvas.Width)
	fmt.Fprintf(&b, "PlayResY: %d\n", d.Canvas.Height)
	b.WriteString("WrapStyle: 2\n")
	b.WriteString("ScaledBorderAndShadow: yes\n\n")

	b.WriteString("[V4+ Styles]\n")
	b.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, " +
		"Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, " +
		"Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(&b, "Style: %s,%s,%d,%s,%s,%s,&H80000000,-1,0,0,0,100,100,0,0,1,%s,%s,%d,40,40,%d,1\n\n",
		styleName, sanitize(s.FontName), s.FontSize,
		s.PrimaryColor.ASS(), s.HighlightColor.ASS(), s.OutlineColor.ASS(),
		formatFloat(s.Outline), formatFloat(s.Shadow), s.Alignment, s.MarginV)

	b.WriteString("[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")

	upper := cases.Upper(language.Und)
	for _, seg := range d.Segments {
		words := Highlights(seg, s)
		parts := make([]string, 0, len(words))
		for _, h := range words {
			text := sanitize(h.Text)
			if s.Uppercase {
				text = upper.String(text)
			}
			parts = append(parts, directive(h)+text)
		}
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,%s,,0,0,0,,%s\n",
			formatTime(seg.Start), formatTime(seg.End), styleName, strings.Join(parts, " "))
	}

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// WriteFile writes the document to path.
func (d *Document) WriteFile(path string) error {
	f, err := os.Create(path) // #nosec G304 - path is inside the job workspace
	if err != nil {
		return fmt.Errorf("caption: create %s: %w", path, err)
	}
	if _, err := d.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("caption: write %s: %w", path, err)
	}
	return f.Close()
}

func directive(h Highlight) string {
	var b strings.Builder
	b.WriteString(`{\1c`)
	b.WriteString(h.Initial.inline())
	for _, t := range h.Transitions {
		fmt.Fprintf(&b, `\t(%d,%d,\1c%s)`, t.OffsetMS, t.OffsetMS, t.Color.inline())
	}
	b.WriteString("}")
	return b.String()
}

// centis rounds seconds to whole centiseconds, the resolution of ASS times.
func centis(seconds float64) int64 {
	return max(int64(math.Round(seconds*100)), 0)
}

// eventMillis is the event time formatTime writes for seconds, in ms.
func eventMillis(seconds float64) int64 {
	return centis(seconds) * 10
}

// formatTime renders seconds as H:MM:SS.cc.
func formatTime(seconds float64) string {
	cs := centis(seconds)
	h := cs / 360000
	m := (cs / 6000) % 60
	sec := (cs / 100) % 60
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, sec, cs%100)
}

func formatFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}

var textReplacer = strings.NewReplacer(
	"{", "",
	"}", "",
	`\`, "",
	"\r\n", " ",
	"\n", " ",
	"\r", " ",
)

func sanitize(s string) string {
	return textReplacer.Replace(s)
}
