package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultFPS = 30.0

// Runner executes an external program and returns its stdout and stderr.
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// ExecRunner runs commands with os/exec; the child is killed when ctx ends.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Error carries the diagnostic output of a failed ffmpeg run.
type Error struct {
	Step   string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("ffmpeg %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("ffmpeg %s: %v: %s", e.Step, e.Err, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures a Transcoder.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	Ladder      []Rendition
	Settings    Settings
	// PosterWidth > 0 also writes poster.jpg scaled to that width.
	PosterWidth int
	Runner      Runner
}

// Transcoder turns one source video into an HLS ladder with ffmpeg.
type Transcoder struct {
	opts   Options
	logger *zap.Logger
}

// New fills unset options with defaults.
func New(opts Options, logger *zap.Logger) *Transcoder {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	if len(opts.Ladder) == 0 {
		opts.Ladder = DefaultLadder
	}
	if opts.Settings == (Settings{}) {
		opts.Settings = DefaultSettings()
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transcoder{opts: opts, logger: logger}
}

// CheckTools verifies ffmpeg can be executed.
func (t *Transcoder) CheckTools(ctx context.Context) error {
	if _, stderr, err := t.opts.Runner(ctx, t.opts.FFmpegPath, "-version"); err != nil {
		return &Error{Step: "version check", Stderr: string(stderr), Err: err}
	}
	return nil
}

// Transcode writes every rendition playlist, its segments and MASTER.m3u8 into
// outputDir. Each rendition is a separate blocking ffmpeg run.
func (t *Transcoder) Transcode(ctx context.Context, inputPath, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	fps := t.probeFramerate(ctx, inputPath)
	gop := int(fps * float64(t.opts.Settings.GOPSeconds))
	t.logger.Info("Starting transcode",
		zap.String("input", inputPath),
		zap.Float64("fps", fps),
		zap.Int("gop_frames", gop),
		zap.Int("renditions", len(t.opts.Ladder)))

	start := time.Now()
	for i, r := range t.opts.Ladder {
		renditionStart := time.Now()
		args := t.RenditionArgs(r, inputPath, outputDir, gop)
		if _, stderr, err := t.opts.Runner(ctx, t.opts.FFmpegPath, args...); err != nil {
			return &Error{Step: "rendition " + r.Name, Stderr: string(stderr), Err: err}
		}
		t.logger.Info("Rendition done",
			zap.String("rendition", r.Name),
			zap.Int("index", i+1),
			zap.Int("total", len(t.opts.Ladder)),
			zap.Duration("took", time.Since(renditionStart)))
	}

	for _, r := range t.opts.Ladder {
		p := filepath.Join(outputDir, r.PlaylistName())
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("missing output playlist %s: %w", r.PlaylistName(), err)
		}
	}

	master := MasterPlaylist(t.opts.Ladder, t.opts.Settings, fps)
	if err := os.WriteFile(filepath.Join(outputDir, MasterPlaylistName), []byte(master), 0o644); err != nil {
		return fmt.Errorf("write master playlist: %w", err)
	}

	if t.opts.PosterWidth > 0 {
		if err := t.Poster(ctx, inputPath, filepath.Join(outputDir, PosterName)); err != nil {
			t.logger.Warn("Poster generation failed", zap.String("input", inputPath), zap.Error(err))
		}
	}

	t.logger.Info("Transcode complete",
		zap.Int("renditions", len(t.opts.Ladder)),
		zap.Duration("took", time.Since(start)))
	return nil
}

// RenditionArgs builds the ffmpeg arguments for one rendition.
func (t *Transcoder) RenditionArgs(r Rendition, inputPath, outputDir string, gop int) []string {
	s := t.opts.Settings
	return []string{
		"-y", "-i", inputPath,
		"-vf", fmt.Sprintf("scale='trunc(oh*a/2)*2:%d',format=yuv420p", r.Height),
		"-c:v", "libx264",
		"-profile:v", "main",
		"-preset", "fast",
		"-b:v", strconv.Itoa(r.Bitrate),
		"-maxrate", strconv.Itoa(int(float64(r.Bitrate) * 1.2)),
		"-bufsize", strconv.Itoa(r.Bitrate * 2),
		"-g", strconv.Itoa(gop),
		"-keyint_min", strconv.Itoa(gop),
		"-sc_threshold", "0",
		"-c:a", "aac",
		"-b:a", strconv.Itoa(s.AudioBitrate),
		"-ar", strconv.Itoa(s.AudioSampleRate),
		"-ac", "2",
		"-f", "hls",
		"-hls_time", strconv.Itoa(s.SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outputDir, r.SegmentPattern()),
		"-loglevel", "error",
		filepath.Join(outputDir, r.PlaylistName()),
	}
}

// probeFramerate asks ffprobe for the first video stream's frame rate and
// falls back to 30 fps when it cannot be determined.
func (t *Transcoder) probeFramerate(ctx context.Context, inputPath string) float64 {
	stdout, _, err := t.opts.Runner(ctx, t.opts.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate",
		"-of", "csv=p=0",
		inputPath)
	if err != nil {
		t.logger.Debug("ffprobe failed, assuming default frame rate", zap.Error(err))
		return defaultFPS
	}
	fps, err := ParseFrameRate(string(stdout))
	if err != nil {
		t.logger.Debug("Unparseable frame rate, assuming default", zap.Error(err))
		return defaultFPS
	}
	return fps
}

// ParseFrameRate parses ffprobe's r_frame_rate, either "30000/1001" or "25".
func ParseFrameRate(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty frame rate")
	}
	var fps float64
	if num, den, ok := strings.Cut(raw, "/"); ok {
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("parse frame rate %q: %w", raw, err)
		}
		d, err := strconv.ParseFloat(den, 64)
		if err != nil {
			return 0, fmt.Errorf("parse frame rate %q: %w", raw, err)
		}
		if d == 0 {
			return 0, fmt.Errorf("parse frame rate %q: zero denominator", raw)
		}
		fps = n / d
	} else {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("parse frame rate %q: %w", raw, err)
		}
		fps = f
	}
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return 0, fmt.Errorf("parse frame rate %q: out of range", raw)
	}
	return fps, nil
}
