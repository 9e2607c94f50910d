package transcode

import (
	"fmt"
	"strings"
)

// Rendition is one output quality of the HLS ladder.
type Rendition struct {
	Name    string
	Width   int
	Height  int
	Bitrate int // video bits per second
}

// DefaultLadder mirrors the MediaConvert job template the CDN players expect.
var DefaultLadder = []Rendition{
	{Name: "240p", Width: 426, Height: 240, Bitrate: 200_000},
	{Name: "360p", Width: 640, Height: 360, Bitrate: 500_000},
	{Name: "480p", Width: 854, Height: 480, Bitrate: 800_000},
	{Name: "720p", Width: 1280, Height: 720, Bitrate: 1_500_000},
	{Name: "1080p", Width: 1920, Height: 1080, Bitrate: 2_000_000},
}

// Settings holds the encoder parameters shared by every rendition.
type Settings struct {
	SegmentSeconds  int
	GOPSeconds      int
	AudioBitrate    int
	AudioSampleRate int
}

func DefaultSettings() Settings {
	return Settings{
		SegmentSeconds:  4,
		GOPSeconds:      4,
		AudioBitrate:    64_000,
		AudioSampleRate: 48_000,
	}
}

// MasterPlaylistName is the top-level manifest written next to the renditions.
const MasterPlaylistName = "MASTER.m3u8"

// PlaylistName is the per-rendition media playlist file name.
func (r Rendition) PlaylistName() string { return "MASTER" + r.Name + ".m3u8" }

// SegmentPattern is the ffmpeg segment file template for the rendition.
func (r Rendition) SegmentPattern() string { return "MASTER" + r.Name + "_%05d.ts" }

// MasterPlaylist renders the multivariant playlist referencing each rendition.
func MasterPlaylist(ladder []Rendition, s Settings, fps float64) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-INDEPENDENT-SEGMENTS\n")
	for _, r := range ladder {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,AVERAGE-BANDWIDTH=%d,CODECS=\"avc1.4d401f,mp4a.40.2\",RESOLUTION=%dx%d,FRAME-RATE=%.3f\n",
			r.Bitrate+s.AudioBitrate,
			int(float64(r.Bitrate)*0.65),
			r.Width, r.Height, fps)
		b.WriteString(r.PlaylistName())
		b.WriteByte('\n')
	}
	return b.String()
}
