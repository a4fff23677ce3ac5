package render

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/reelsmith/internal/asset"
	"github.com/maauso/reelsmith/internal/caption"
	"github.com/maauso/reelsmith/internal/compose"
	"github.com/maauso/reelsmith/internal/media"
	"github.com/maauso/reelsmith/internal/storage"
)

const (
	outputName   = "output.mp4"
	captionsName = "captions.ass"
	outputType   = "video/mp4"
	maxDownloads = 4
)

// workspace opens a job workspace. The returned release func removes it
// and must be deferred on every path.
func (s *Service) workspace(ctx context.Context, jobID string, logger *slog.Logger) (*storage.Workspace, func(), error) {
	ws, err := s.storage.NewWorkspace(ctx, jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("render: create workspace: %w", err)
	}
	release := func() {
		if err := ws.Cleanup(); err != nil {
			logger.Warn("failed to remove workspace",
				slog.String("dir", ws.Dir),
				slog.String("error", err.Error()),
			)
		}
	}
	return ws, release, nil
}

// fetchInto downloads rawURL into the workspace under name, keeping the
// URL's media extension.
func (s *Service) fetchInto(ctx context.Context, ws *storage.Workspace, name, rawURL, fallbackExt string) (string, error) {
	dest := ws.Path(name + asset.Extension(rawURL, fallbackExt))
	if err := s.fetcher.Fetch(ctx, rawURL, dest); err != nil {
		return "", fmt.Errorf("fetch %s: %w", name, err)
	}
	return dest, nil
}

func (s *Service) probe(ctx context.Context, name, p string) (*media.ProbeResult, error) {
	res, err := s.prober.Probe(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", name, err)
	}
	return res, nil
}

// encode runs the planned command and publishes its output.
func (s *Service) encodeAndPublish(ctx context.Context, cmd *compose.Command, key string, logger *slog.Logger) (string, error) {
	start := time.Now()
	if err := s.engine.Run(ctx, cmd.Args(), cmd.OutputPath); err != nil {
		return "", err
	}
	logger.Info("render encoded", slog.Duration("duration", time.Since(start)))

	url, err := s.storage.Publish(ctx, cmd.OutputPath, outputType, key)
	if err != nil {
		return "", err
	}
	logger.Info("render published", slog.String("key", key))
	return url, nil
}

func (s *Service) runCompose(ctx context.Context, jobID string, req ComposeRequest, logger *slog.Logger) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	target, err := req.Target()
	if err != nil {
		return nil, err
	}
	style, err := s.presets.Resolve(req.Captions.Preset, req.Captions.Style)
	if err != nil {
		return nil, err
	}

	ws, release, err := s.workspace(ctx, jobID, logger)
	if err != nil {
		return nil, err
	}
	defer release()

	var background, narration, music, watermarkImage string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if s.backgrounds != nil {
			background, err = s.backgrounds.Get(gctx, req.BackgroundID, req.BackgroundURL)
			return err
		}
		background, err = s.fetchInto(gctx, ws, "background", req.BackgroundURL, ".mp4")
		return err
	})
	g.Go(func() error {
		var err error
		narration, err = s.fetchInto(gctx, ws, "narration", req.NarrationURL, ".mp3")
		return err
	})
	if req.MusicURL != "" {
		g.Go(func() error {
			var err error
			music, err = s.fetchInto(gctx, ws, "music", req.MusicURL, ".mp3")
			return err
		})
	}
	if req.Watermark != nil && !req.Watermark.IsText() {
		g.Go(func() error {
			var err error
			watermarkImage, err = s.fetchInto(gctx, ws, "watermark", req.Watermark.ImageURL, ".png")
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bg, err := s.probe(ctx, "background", background)
	if err != nil {
		return nil, err
	}

	var subtitles string
	if len(req.Words) > 0 {
		doc, err := caption.Compile(req.Words, style,
			caption.Canvas{Width: target.Width, Height: target.Height},
			caption.Options{MaxWords: req.Captions.MaxWords, PauseThreshold: req.Captions.PauseThreshold})
		if err != nil {
			return nil, err
		}
		subtitles = ws.Path(captionsName)
		if err := doc.WriteFile(subtitles); err != nil {
			return nil, fmt.Errorf("render: write captions: %w", err)
		}
		logger.Debug("captions compiled", slog.Int("segments", len(doc.Segments)))
	}

	cmd, err := req.Plan(ComposeInputs{
		Background:     background,
		BackgroundSize: compose.Size{Width: bg.Width, Height: bg.Height},
		Narration:      narration,
		Music:          music,
		WatermarkImage: watermarkImage,
		Subtitles:      subtitles,
		Output:         ws.Path(outputName),
	}, s.encode)
	if err != nil {
		return nil, err
	}

	url, err := s.encodeAndPublish(ctx, cmd, outputKey(req.OutputPrefix, jobID), logger)
	if err != nil {
		return nil, err
	}
	return &Result{URL: url, Duration: req.Duration}, nil
}

func (s *Service) runOverlay(ctx context.Context, jobID string, req OverlayRequest, logger *slog.Logger) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := compose.ParseCorner(req.Corner); err != nil {
		return nil, err
	}

	ws, release, err := s.workspace(ctx, jobID, logger)
	if err != nil {
		return nil, err
	}
	defer release()

	var video, image string
	if req.Asset != "" {
		if image, err = s.bundle.Resolve(req.Asset); err != nil {
			return nil, err
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		video, err = s.fetchInto(gctx, ws, "video", req.VideoURL, ".mp4")
		return err
	})
	if image == "" {
		g.Go(func() error {
			var err error
			image, err = s.fetchInto(gctx, ws, "overlay", req.ImageURL, ".png")
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	videoInfo, err := s.probe(ctx, "video", video)
	if err != nil {
		return nil, err
	}
	imageInfo, err := s.probe(ctx, "overlay image", image)
	if err != nil {
		return nil, err
	}

	plan, err := req.Plan(OverlayInputs{
		Video:     video,
		VideoInfo: *videoInfo,
		Image:     image,
		ImageSize: compose.Size{Width: imageInfo.Width, Height: imageInfo.Height},
		Output:    ws.Path(outputName),
	}, s.encode)
	if err != nil {
		return nil, err
	}
	logger.Debug("overlay planned",
		slog.String("size", plan.Size.String()),
		slog.Int("x", plan.X),
		slog.Int("y", plan.Y),
	)

	url, err := s.encodeAndPublish(ctx, plan.Command, outputKey(req.OutputPrefix, jobID), logger)
	if err != nil {
		return nil, err
	}
	return &Result{URL: url, Duration: videoInfo.Duration}, nil
}

func (s *Service) runMerge(ctx context.Context, jobID string, req MergeRequest, logger *slog.Logger) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := req.Target(); err != nil {
		return nil, err
	}
	if _, err := compose.ParseTransitionMode(req.Transition); err != nil {
		return nil, err
	}

	ws, release, err := s.workspace(ctx, jobID, logger)
	if err != nil {
		return nil, err
	}
	defer release()

	clips := make([]ClipInput, len(req.Clips))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxDownloads)
	for i, src := range req.Clips {
		g.Go(func() error {
			p, err := s.fetchInto(gctx, ws, fmt.Sprintf("clip-%03d", i), src.URL, ".mp4")
			if err != nil {
				return err
			}
			info, err := s.probe(gctx, fmt.Sprintf("clip %d", i), p)
			if err != nil {
				return err
			}
			clips[i] = ClipInput{Path: p, Duration: info.Duration, HasAudio: info.HasAudio}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	plan, err := req.Plan(clips, ws.Path(outputName), s.encode)
	if err != nil {
		return nil, err
	}
	logger.Debug("merge planned",
		slog.Int("clips", len(clips)),
		slog.Float64("duration", plan.Duration),
		slog.Bool("audio", plan.HasAudio),
	)

	url, err := s.encodeAndPublish(ctx, plan.Command, outputKey(req.OutputPrefix, jobID), logger)
	if err != nil {
		return nil, err
	}
	return &Result{URL: url, Duration: plan.Duration}, nil
}
