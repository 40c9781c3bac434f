package s3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

const Scheme = "s3"

var ErrInvalidURI = errors.New("invalid s3 uri")

// ItfS3 fetches model files kept in a bucket.
type ItfS3 interface {
	Download(ctx context.Context, uri string, destDir string) (string, error)
}

type s3Client struct {
	session *session.Session
}

func New() (ItfS3, error) {
	sess, err := newSession()
	if err != nil {
		return nil, err
	}

	return &s3Client{session: sess}, nil
}

// Download copies the object behind uri into destDir and returns the local
// path. An already cached non-empty copy is reused.
func (s *s3Client) Download(ctx context.Context, uri string, destDir string) (string, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}

	localPath := LocalPath(destDir, bucket, key)
	if info, err := os.Stat(localPath); err == nil && info.Size() > 0 {
		return localPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", fmt.Errorf("create model cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".download-*")
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}
	tmpName := tmp.Name()

	downloader := s3manager.NewDownloader(s.session)
	_, err = downloader.DownloadWithContext(ctx, tmp, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("download %s: %w", uri, err)
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return "", closeErr
	}

	if err := os.Rename(tmpName, localPath); err != nil {
		os.Remove(tmpName)
		return "", err
	}

	return localPath, nil
}

// ParseURI splits s3://bucket/some/key into its bucket and key.
func ParseURI(uri string) (bucket string, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if u.Scheme != Scheme || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}

	key = strings.TrimPrefix(u.Path, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%w: %q has no object key", ErrInvalidURI, uri)
	}

	return u.Host, key, nil
}

func LocalPath(destDir, bucket, key string) string {
	return filepath.Join(destDir, bucket, filepath.FromSlash(key))
}

func IsURI(ref string) bool {
	return strings.HasPrefix(ref, Scheme+"://")
}

func newSession() (*session.Session, error) {
	cfg := &aws.Config{
		Region: aws.String(os.Getenv("AWS_REGION")),
	}

	if id := os.Getenv("AWS_ACCESS_KEY_ID"); id != "" {
		cfg.Credentials = credentials.NewStaticCredentials(
			id,
			os.Getenv("AWS_SECRET_ACCESS_KEY"),
			"",
		)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, err
	}

	return sess, nil
}
