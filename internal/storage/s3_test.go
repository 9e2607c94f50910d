package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putCall struct {
	key         string
	contentType string
	body        string
}

type fakeS3 struct {
	mu      sync.Mutex
	pages   [][]string
	objects map[string][]byte
	puts    []putCall
	putErr  error
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	idx := 0
	if in.ContinuationToken != nil {
		idx = int((*in.ContinuationToken)[0] - '0')
	}
	out := &s3.ListObjectsV2Output{}
	for _, k := range f.pages[idx] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if idx+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(string(rune('0' + idx + 1)))
	}
	return out, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("not found")
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("not found")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, putCall{key: aws.ToString(in.Key), contentType: aws.ToString(in.ContentType), body: string(body)})
	return &s3.PutObjectOutput{}, nil
}

func TestListVideosFiltersAndPaginates(t *testing.T) {
	fake := &fakeS3{pages: [][]string{
		{"course/intro.MP4", "course/notes.pdf"},
		{"course/m1/lesson one.mov", "course/m1/", "course/m1/thumb.png", "course/m2/clip.webm"},
	}}
	store := NewObjectStore(fake, 2, nil)

	keys, err := store.ListVideos(context.Background(), "bucket", "course/")
	require.NoError(t, err)
	assert.Equal(t, []string{"course/intro.MP4", "course/m1/lesson one.mov", "course/m2/clip.webm"}, keys)
}

func TestDownload(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{"a/video.mp4": []byte("payload")}}
	store := NewObjectStore(fake, 1, nil)

	dst := filepath.Join(t.TempDir(), "job", "input.mp4")
	require.NoError(t, store.Download(context.Background(), "bucket", "a/video.mp4", dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	err = store.Download(context.Background(), "bucket", "missing.mp4", dst)
	assert.Error(t, err)
}

func TestUploadDirSetsKeysAndContentTypes(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"MASTER.m3u8":                   "#EXTM3U",
		"MASTER240p.m3u8":               "#EXTM3U",
		"MASTER240p_00000.ts":           "ts",
		"poster.jpg":                    "jpg",
		filepath.Join("x", "notes.txt"): "txt",
	}
	for name, body := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}

	fake := &fakeS3{}
	n, err := NewObjectStore(fake, 3, nil).UploadDir(context.Background(), "out", "streams/course/intro/", dir)
	require.NoError(t, err)
	assert.Equal(t, len(files), n)

	sort.Slice(fake.puts, func(i, j int) bool { return fake.puts[i].key < fake.puts[j].key })
	got := map[string]string{}
	for _, p := range fake.puts {
		got[p.key] = p.contentType
	}
	assert.Equal(t, map[string]string{
		"streams/course/intro/MASTER.m3u8":         "application/vnd.apple.mpegurl",
		"streams/course/intro/MASTER240p.m3u8":     "application/vnd.apple.mpegurl",
		"streams/course/intro/MASTER240p_00000.ts": "video/mp2t",
		"streams/course/intro/poster.jpg":          "image/jpeg",
		"streams/course/intro/x/notes.txt":         "",
	}, got)
}

func TestUploadDirPropagatesErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "MASTER.m3u8"), []byte("x"), 0o644))

	fake := &fakeS3{putErr: errors.New("access denied")}
	_, err := NewObjectStore(fake, 2, nil).UploadDir(context.Background(), "out", "p/", dir)
	assert.ErrorContains(t, err, "access denied")

	_, err = NewObjectStore(fake, 2, nil).UploadDir(context.Background(), "out", "p/", t.TempDir())
	assert.Error(t, err)
}

func TestOutputPrefix(t *testing.T) {
	tests := []struct {
		name, key, in, out, want string
	}{
		{"top level", "course/intro video.mp4", "course/", "streams/course/", "streams/course/intro_video/"},
		{"nested", "course/m1/lesson 1.mov", "course/", "streams/course/", "streams/course/m1/lesson_1/"},
		{"output without slash", "course/m1/a.mp4", "course/", "streams", "streams/m1/a/"},
		{"key outside prefix", "other/a.mp4", "course/", "streams/", "streams/a/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutputPrefix(tt.key, tt.in, tt.out))
		})
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/vnd.apple.mpegurl", ContentType("a/MASTER.M3U8"))
	assert.Equal(t, "video/mp2t", ContentType("seg_00001.ts"))
	assert.Equal(t, "", ContentType("readme"))
}
