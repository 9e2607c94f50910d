package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// VideoExtensions are the source formats picked up when listing a prefix.
var VideoExtensions = []string{".mp4", ".mov", ".avi", ".mkv", ".webm", ".flv", ".wmv"}

// API is the subset of the S3 client used here.
type API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ClientOptions selects the S3 endpoint.
type ClientOptions struct {
	Region    string
	Endpoint  string
	PathStyle bool
}

// NewClient loads AWS credentials from the environment and builds an S3 client.
func NewClient(ctx context.Context, opts ClientOptions) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	}), nil
}

// ObjectStore moves source videos and HLS output between S3 and local disk.
type ObjectStore struct {
	client      API
	concurrency int
	logger      *zap.Logger
}

// NewObjectStore wraps client. concurrency bounds parallel uploads.
func NewObjectStore(client API, concurrency int, logger *zap.Logger) *ObjectStore {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObjectStore{client: client, concurrency: concurrency, logger: logger}
}

// ListVideos returns every video key under prefix, in listing order.
func (o *ObjectStore) ListVideos(ctx context.Context, bucket, prefix string) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(o.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if IsVideo(key) {
				keys = append(keys, key)
			}
		}
	}
	return keys, nil
}

// IsVideo reports whether key has one of VideoExtensions, ignoring case.
func IsVideo(key string) bool {
	ext := strings.ToLower(path.Ext(key))
	for _, v := range VideoExtensions {
		if ext == v {
			return true
		}
	}
	return false
}

// Download copies s3://bucket/key to localPath.
func (o *ObjectStore) Download(ctx context.Context, bucket, key, localPath string) error {
	head, err := o.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}
	o.logger.Info("Downloading source",
		zap.String("job", key),
		zap.Float64("size_mb", float64(aws.ToInt64(head.ContentLength))/(1024*1024)))

	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", localPath, err)
	}
	return f.Close()
}

// UploadDir uploads every file below dir to bucket under prefix, keeping the
// relative layout and setting the content type from the extension. It returns
// the number of files uploaded.
func (o *ObjectStore) UploadDir(ctx context.Context, bucket, prefix, dir string) (int, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", dir, err)
	}
	if len(files) == 0 {
		return 0, errors.New("nothing to upload")
	}

	var uploaded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, local := range files {
		local := local
		rel, err := filepath.Rel(dir, local)
		if err != nil {
			return 0, err
		}
		key := joinKey(prefix, filepath.ToSlash(rel))
		g.Go(func() error {
			if err := o.putFile(gctx, bucket, key, local); err != nil {
				return err
			}
			if n := uploaded.Add(1); n%10 == 0 {
				o.logger.Debug("Upload progress", zap.Int64("files", n), zap.Int("total", len(files)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(uploaded.Load()), err
	}
	return int(uploaded.Load()), nil
}

func (o *ObjectStore) putFile(ctx context.Context, bucket, key, local string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", local, err)
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	}
	if ct := ContentType(key); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if _, err := o.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// ContentType maps HLS and poster extensions to their MIME types.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return ""
	}
}

func joinKey(prefix, rel string) string {
	if prefix == "" {
		return rel
	}
	return strings.TrimSuffix(prefix, "/") + "/" + rel
}
