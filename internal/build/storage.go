package build

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Storage is the object store the pipeline publishes to.
type Storage interface {
	// Upload writes a single object at key.
	Upload(ctx context.Context, key string, r io.Reader) error

	// UploadDir publishes every file under dir beneath prefix,
	// preserving relative paths.
	UploadDir(ctx context.Context, prefix string, dir string) error
}

var _ Storage = (*S3Storage)(nil)

type S3Storage struct {
	Client *s3.Client // required
	Bucket string     // required
}

func NewS3Storage(client *s3.Client, bucket string) *S3Storage {
	return &S3Storage{Client: client, Bucket: bucket}
}

// uploadPartSize should be greater than or equal 5MB.
// See github.com/aws/aws-sdk-go-v2/feature/s3/manager.
const uploadPartSize = 10 * 1024 * 1024 // 10MB

func (s *S3Storage) Upload(ctx context.Context, key string, r io.Reader) error {
	uploader := manager.NewUploader(s.Client, func(u *manager.Uploader) {
		u.PartSize = uploadPartSize
	})

	contentType := mime.TypeByExtension(path.Ext(key))
	input := &s3.PutObjectInput{
		Bucket: &s.Bucket,
		Key:    &key,
		Body:   r,
	}
	if contentType != "" {
		input.ContentType = &contentType
	}

	_, err := uploader.Upload(ctx, input)
	if err != nil {
		return fmt.Errorf("build.S3Storage: %w", err)
	}

	return nil
}

func (s *S3Storage) UploadDir(ctx context.Context, prefix string, dir string) error {
	err := filepath.WalkDir(dir, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, name)
		if err != nil {
			return err
		}

		openFile, err := os.Open(name)
		if err != nil {
			return err
		}
		defer openFile.Close()

		key := path.Join(prefix, filepath.ToSlash(rel))
		return s.Upload(ctx, key, openFile)
	})
	if err != nil {
		return fmt.Errorf("build.S3Storage: %w", err)
	}

	return nil
}
