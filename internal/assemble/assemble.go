package assemble

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"playrunaddict/internal/config"
	"playrunaddict/internal/logging"
	"playrunaddict/internal/media/ffprobe"
	"playrunaddict/internal/playlist"
	"playrunaddict/internal/services"
)

// Artifact is the rendered episode file ready for publishing.
type Artifact struct {
	LocalPath               string
	MeasuredDurationSeconds float64
	SizeBytes               int64
}

// Assembler fetches segments and renders the episode audio.
type Assembler struct {
	cfg    *config.Config
	client *http.Client
	logger *slog.Logger
}

// NewAssembler constructs an assembler. A nil client gets a default with a
// generous per-request timeout; segment fetches are additionally bounded by
// the caller's context.
func NewAssembler(cfg *config.Config, client *http.Client, logger *slog.Logger) *Assembler {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Assembler{
		cfg:    cfg,
		client: client,
		logger: logging.NewComponentLogger(logger, "assembler"),
	}
}

// Assemble downloads every segment into the run-scoped staging directory
// and renders them into a single episode file at the configured speed. A
// fetch failure removes everything already downloaded before returning so
// a failed run leaves no residue behind.
func (a *Assembler) Assemble(ctx context.Context, runDir string, segments []playlist.SegmentRef) (Artifact, error) {
	if len(segments) == 0 {
		return Artifact{}, services.Wrap(services.ErrEmptyPlaylist, "assembling", "fetch", "no segments to assemble", nil)
	}

	segmentDir := filepath.Join(runDir, "segments")
	if err := os.MkdirAll(segmentDir, 0o755); err != nil {
		return Artifact{}, services.Wrap(services.ErrSegmentFetch, "assembling", "staging", "create segment directory", err)
	}

	paths, err := a.fetchSegments(ctx, segmentDir, segments)
	if err != nil {
		// Partial downloads must not survive a failed run.
		_ = os.RemoveAll(segmentDir)
		return Artifact{}, err
	}

	outputPath := filepath.Join(runDir, "episode.mp3")
	if err := a.render(ctx, runDir, paths, outputPath); err != nil {
		_ = os.Remove(outputPath)
		return Artifact{}, err
	}

	probe, err := ffprobe.Inspect(ctx, a.cfg.Audio.FFprobe, outputPath)
	if err != nil {
		return Artifact{}, services.Wrap(services.ErrEncode, "assembling", "measure", "probe output", err)
	}
	measured := probe.DurationSeconds()
	if measured <= 0 {
		return Artifact{}, services.Wrap(services.ErrEncode, "assembling", "measure", "output has no measurable duration", nil)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return Artifact{}, services.Wrap(services.ErrEncode, "assembling", "measure", "stat output", err)
	}

	a.logger.InfoContext(ctx, "episode assembled",
		logging.Int("segments", len(segments)),
		logging.Float64("measured_seconds", measured),
		logging.Int64("size_bytes", info.Size()))
	return Artifact{
		LocalPath:               outputPath,
		MeasuredDurationSeconds: measured,
		SizeBytes:               info.Size(),
	}, nil
}

func (a *Assembler) fetchSegments(ctx context.Context, segmentDir string, segments []playlist.SegmentRef) ([]string, error) {
	paths := make([]string, len(segments))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.cfg.Audio.FetchConcurrency)
	for _, segment := range segments {
		paths[segment.Order] = filepath.Join(segmentDir, fmt.Sprintf("%04d.mp3", segment.Order))
		group.Go(func() error {
			if err := a.fetchOne(groupCtx, segment, paths[segment.Order]); err != nil {
				return services.Wrap(services.ErrSegmentFetch, "assembling", "fetch",
					fmt.Sprintf("segment %d (%s)", segment.Order, segment.Title), err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

func (a *Assembler) fetchOne(ctx context.Context, segment playlist.SegmentRef, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, segment.URI, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	written, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return closeErr
	}
	if written == 0 {
		return fmt.Errorf("empty response body")
	}

	a.logger.DebugContext(ctx, "segment fetched",
		logging.Int("order", segment.Order),
		logging.String("title", segment.Title),
		logging.Int64("size_bytes", written))
	return nil
}

// render performs the single serialized ffmpeg invocation: concat demuxer
// over the downloaded segments, speed adjusted with the atempo filter.
func (a *Assembler) render(ctx context.Context, runDir string, segmentPaths []string, outputPath string) error {
	listPath := filepath.Join(runDir, "concat.txt")
	if err := os.WriteFile(listPath, []byte(concatList(segmentPaths)), 0o644); err != nil {
		return services.Wrap(services.ErrEncode, "assembling", "render", "write concat list", err)
	}

	binary := strings.TrimSpace(a.cfg.Audio.FFmpeg)
	if binary == "" {
		binary = "ffmpeg"
	}
	args := []string{
		"-v", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-filter:a", fmt.Sprintf("atempo=%g", a.cfg.Audio.Speed),
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return services.Wrap(services.ErrEncode, "assembling", "render",
			strings.TrimSpace(string(output)), err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return services.Wrap(services.ErrEncode, "assembling", "render", "output missing", err)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrEncode, "assembling", "render", "output is empty", nil)
	}
	return nil
}

func concatList(paths []string) string {
	var b strings.Builder
	for _, path := range paths {
		// The concat demuxer expects single quotes escaped as '\''.
		escaped := strings.ReplaceAll(path, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	return b.String()
}
