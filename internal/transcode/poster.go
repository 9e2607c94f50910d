package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// PosterName is the still image uploaded next to the playlists.
const PosterName = "poster.jpg"

// Poster grabs one frame from the source and writes it to outputPath scaled
// to the configured width.
func (t *Transcoder) Poster(ctx context.Context, inputPath, outputPath string) error {
	tmp, err := os.MkdirTemp("", "poster_")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	frame := filepath.Join(tmp, "frame.png")
	args := []string{"-y", "-ss", "00:00:01", "-i", inputPath, "-frames:v", "1", "-loglevel", "error", frame}
	if _, stderr, err := t.opts.Runner(ctx, t.opts.FFmpegPath, args...); err != nil {
		return &Error{Step: "poster frame", Stderr: string(stderr), Err: err}
	}
	return ResizePoster(frame, outputPath, t.opts.PosterWidth)
}

// ResizePoster scales the image at src to width, keeping the aspect ratio,
// and saves it as JPEG.
func ResizePoster(src, dst string, width int) error {
	img, err := imaging.Open(src)
	if err != nil {
		return fmt.Errorf("open frame: %w", err)
	}
	img = imaging.Resize(img, width, 0, imaging.Lanczos)
	if err := imaging.Save(img, dst, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("save poster: %w", err)
	}
	return nil
}
