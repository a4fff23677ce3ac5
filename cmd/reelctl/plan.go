package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maauso/reelsmith/internal/compose"
	"github.com/maauso/reelsmith/internal/media"
	"github.com/maauso/reelsmith/internal/render"
)

// Placeholder paths stand in for the files a worker would download.
const (
	planOutput     = "output.mp4"
	planBackground = "background.mp4"
	planNarration  = "narration.mp3"
	planMusic      = "music.mp3"
	planWatermark  = "watermark.png"
	planCaptions   = "captions.ass"
	planVideo      = "video.mp4"
	planImage      = "overlay.png"
)

type planOptions struct {
	request string
	asJSON  bool
}

func newPlanCommand(ctx *commandContext) *cobra.Command {
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the engine arguments for a render request without running it",
	}

	planCmd.AddCommand(newPlanComposeCommand(ctx))
	planCmd.AddCommand(newPlanOverlayCommand(ctx))
	planCmd.AddCommand(newPlanMergeCommand(ctx))

	return planCmd
}

func (o *planOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.request, "request", "f", "-", "Request JSON file, - for stdin")
	cmd.Flags().BoolVar(&o.asJSON, "json", false, "Print the arguments as a JSON array")
}

func newPlanComposeCommand(ctx *commandContext) *cobra.Command {
	var opts planOptions
	var backgroundSize string

	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Plan a captioned composition",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req render.ComposeRequest
			if err := readRequest(cmd, opts.request, &req); err != nil {
				return err
			}
			if err := req.Validate(); err != nil {
				return err
			}
			size, err := parseSize(backgroundSize)
			if err != nil {
				return fmt.Errorf("--background-size: %w", err)
			}

			in := render.ComposeInputs{
				Background:     planBackground,
				BackgroundSize: size,
				Narration:      planNarration,
				Output:         planOutput,
			}
			if req.MusicURL != "" {
				in.Music = planMusic
			}
			if req.Watermark != nil && !req.Watermark.IsText() {
				in.WatermarkImage = planWatermark
			}
			if len(req.Words) > 0 {
				in.Subtitles = planCaptions
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			command, err := req.Plan(in, cfg.EncodeOptions())
			if err != nil {
				return err
			}
			return printArgs(cmd.OutOrStdout(), cfg.FFmpegPath, command.Args(), opts.asJSON)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&backgroundSize, "background-size", "1920x1080", "Probed background size as WIDTHxHEIGHT")
	return cmd
}

func newPlanOverlayCommand(ctx *commandContext) *cobra.Command {
	var opts planOptions
	var videoSize, imageSize string
	var silent bool

	cmd := &cobra.Command{
		Use:   "overlay",
		Short: "Plan an image overlay",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req render.OverlayRequest
			if err := readRequest(cmd, opts.request, &req); err != nil {
				return err
			}
			if err := req.Validate(); err != nil {
				return err
			}
			video, err := parseSize(videoSize)
			if err != nil {
				return fmt.Errorf("--video-size: %w", err)
			}
			image, err := parseSize(imageSize)
			if err != nil {
				return fmt.Errorf("--image-size: %w", err)
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			plan, err := req.Plan(render.OverlayInputs{
				Video:     planVideo,
				VideoInfo: media.ProbeResult{Width: video.Width, Height: video.Height, HasAudio: !silent},
				Image:     planImage,
				ImageSize: image,
				Output:    planOutput,
			}, cfg.EncodeOptions())
			if err != nil {
				return err
			}
			if !opts.asJSON {
				fmt.Fprintf(cmd.ErrOrStderr(), "overlay %s at x=%d y=%d\n", plan.Size, plan.X, plan.Y)
			}
			return printArgs(cmd.OutOrStdout(), cfg.FFmpegPath, plan.Command.Args(), opts.asJSON)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&videoSize, "video-size", "1080x1920", "Probed video size as WIDTHxHEIGHT")
	cmd.Flags().StringVar(&imageSize, "image-size", "512x512", "Probed overlay image size as WIDTHxHEIGHT")
	cmd.Flags().BoolVar(&silent, "silent", false, "Treat the video as having no audio stream")
	return cmd
}

func newPlanMergeCommand(ctx *commandContext) *cobra.Command {
	var opts planOptions
	var durations []float64
	var silent []int

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Plan a clip merge",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req render.MergeRequest
			if err := readRequest(cmd, opts.request, &req); err != nil {
				return err
			}
			if err := req.Validate(); err != nil {
				return err
			}
			if len(durations) != len(req.Clips) {
				return fmt.Errorf("--durations: need %d values, got %d", len(req.Clips), len(durations))
			}

			clips := make([]render.ClipInput, len(req.Clips))
			for i := range req.Clips {
				clips[i] = render.ClipInput{
					Path:     fmt.Sprintf("clip-%03d.mp4", i),
					Duration: durations[i],
					HasAudio: true,
				}
			}
			for _, i := range silent {
				if i < 0 || i >= len(clips) {
					return fmt.Errorf("--silent: clip index %d out of range", i)
				}
				clips[i].HasAudio = false
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			plan, err := req.Plan(clips, planOutput, cfg.EncodeOptions())
			if err != nil {
				return err
			}
			if !opts.asJSON {
				fmt.Fprintf(cmd.ErrOrStderr(), "duration %.3fs audio=%t\n", plan.Duration, plan.HasAudio)
			}
			return printArgs(cmd.OutOrStdout(), cfg.FFmpegPath, plan.Command.Args(), opts.asJSON)
		},
	}

	opts.bind(cmd)
	cmd.Flags().Float64SliceVar(&durations, "durations", nil, "Probed clip durations in seconds, one per clip")
	cmd.Flags().IntSliceVar(&silent, "silent", nil, "Indexes of clips without an audio stream")
	return cmd
}

func readRequest(cmd *cobra.Command, path string, dst any) error {
	var r io.Reader
	if path == "" || path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path) // #nosec G304 - operator-supplied request file
		if err != nil {
			return fmt.Errorf("open request: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// parseSize accepts any positive WIDTHxHEIGHT; still images may be odd-sized.
func parseSize(s string) (compose.Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return compose.Size{}, fmt.Errorf("%w: %q", compose.ErrInvalidSize, s)
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return compose.Size{}, fmt.Errorf("%w: %q", compose.ErrInvalidSize, s)
	}
	return compose.Size{Width: width, Height: height}, nil
}

func printArgs(out io.Writer, binary string, args []string, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(append([]string{binary}, args...))
	}
	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, shellQuote(binary))
	for _, a := range args {
		quoted = append(quoted, shellQuote(a))
	}
	_, err := fmt.Fprintln(out, strings.Join(quoted, " "))
	return err
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`;&|<>()[]{}*?!#~=,:") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
