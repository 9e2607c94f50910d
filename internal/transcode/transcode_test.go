package transcode

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTools stands in for ffmpeg/ffprobe: it records calls and writes the
// playlist (last argument) for every rendition run.
type fakeTools struct {
	mu       sync.Mutex
	calls    [][]string
	fps      string
	failOn   string
	noOutput bool
}

func (f *fakeTools) run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if name == "ffprobe" {
		return []byte(f.fps + "\n"), nil, nil
	}
	out := args[len(args)-1]
	if f.failOn != "" && strings.Contains(out, f.failOn) {
		return nil, []byte("Conversion failed!"), errors.New("exit status 1")
	}
	if strings.HasSuffix(out, ".png") {
		return nil, nil, writePNG(out, 320, 180)
	}
	if !f.noOutput {
		if err := os.WriteFile(out, []byte("#EXTM3U\n"), 0o644); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, nil
}

func writePNG(path string, w, h int) error {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func TestTranscodeWritesLadderAndMaster(t *testing.T) {
	tools := &fakeTools{fps: "30000/1001"}
	tr := New(Options{Runner: tools.run}, nil)
	out := filepath.Join(t.TempDir(), "output")

	require.NoError(t, tr.Transcode(context.Background(), "/tmp/input.mp4", out))

	// one probe plus one run per rendition
	require.Len(t, tools.calls, 1+len(DefaultLadder))
	assert.Equal(t, "ffprobe", tools.calls[0][0])

	first := tools.calls[1]
	assert.Contains(t, strings.Join(first, " "), "-g 119 -keyint_min 119")
	assert.Equal(t, filepath.Join(out, "MASTER240p.m3u8"), first[len(first)-1])

	master, err := os.ReadFile(filepath.Join(out, MasterPlaylistName))
	require.NoError(t, err)
	text := string(master)
	assert.True(t, strings.HasPrefix(text, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-INDEPENDENT-SEGMENTS\n"))
	assert.Contains(t, text, `#EXT-X-STREAM-INF:BANDWIDTH=264000,AVERAGE-BANDWIDTH=130000,CODECS="avc1.4d401f,mp4a.40.2",RESOLUTION=426x240,FRAME-RATE=29.970`)
	assert.Contains(t, text, "MASTER1080p.m3u8\n")
	assert.Equal(t, len(DefaultLadder), strings.Count(text, "#EXT-X-STREAM-INF"))

	_, err = os.Stat(filepath.Join(out, PosterName))
	assert.True(t, os.IsNotExist(err), "poster disabled by default")
}

func TestTranscodeReportsFfmpegFailure(t *testing.T) {
	tools := &fakeTools{fps: "25", failOn: "720p"}
	tr := New(Options{Runner: tools.run}, nil)

	err := tr.Transcode(context.Background(), "in.mp4", t.TempDir())
	var ffErr *Error
	require.ErrorAs(t, err, &ffErr)
	assert.Equal(t, "rendition 720p", ffErr.Step)
	assert.Contains(t, err.Error(), "Conversion failed!")
}

func TestTranscodeDetectsMissingPlaylist(t *testing.T) {
	tools := &fakeTools{fps: "25", noOutput: true}
	tr := New(Options{Runner: tools.run}, nil)

	err := tr.Transcode(context.Background(), "in.mp4", t.TempDir())
	assert.ErrorContains(t, err, "missing output playlist")
}

func TestTranscodeWithPoster(t *testing.T) {
	tools := &fakeTools{fps: "24"}
	tr := New(Options{Runner: tools.run, PosterWidth: 160}, nil)
	out := t.TempDir()

	require.NoError(t, tr.Transcode(context.Background(), "in.mp4", out))

	img, err := imaging.Open(filepath.Join(out, PosterName))
	require.NoError(t, err)
	assert.Equal(t, 160, img.Bounds().Dx())
	assert.Equal(t, 90, img.Bounds().Dy())
}

func TestProbeFallsBackToDefault(t *testing.T) {
	tools := &fakeTools{fps: "N/A"}
	tr := New(Options{Runner: tools.run}, nil)
	assert.Equal(t, defaultFPS, tr.probeFramerate(context.Background(), "in.mp4"))
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"30/1", 30, false},
		{"25", 25, false},
		{" 60000/1001\n", 60000.0 / 1001.0, false},
		{"0/0", 0, true},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFrameRate(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.InDelta(t, tt.want, got, 1e-9)
	}
}

func TestCheckTools(t *testing.T) {
	ok := New(Options{Runner: func(context.Context, string, ...string) ([]byte, []byte, error) {
		return []byte("ffmpeg version 6"), nil, nil
	}}, nil)
	assert.NoError(t, ok.CheckTools(context.Background()))

	missing := New(Options{Runner: func(context.Context, string, ...string) ([]byte, []byte, error) {
		return nil, nil, errors.New("executable file not found in $PATH")
	}}, nil)
	assert.Error(t, missing.CheckTools(context.Background()))
}
