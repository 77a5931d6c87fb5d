// Package upload publishes saved dataset arrays to S3-compatible object storage.
package upload

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const npyContentType = "application/octet-stream"

// Config locates the bucket objects are written to.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// Uploader writes files under bucket/prefix/<run-id>/.
type Uploader struct {
	client *miniogo.Client
	bucket string
	prefix string
}

// New creates a client; it does not contact the server.
func New(cfg Config) (*Uploader, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Uploader{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// EnsureBucket creates the bucket if it is missing.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", u.bucket, err)
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, u.bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", u.bucket, err)
		}
	}
	return nil
}

// Key returns the object key a file of runID is stored under.
func (u *Uploader) Key(runID, file string) string {
	return path.Join(u.prefix, runID, filepath.Base(file))
}

// UploadFile stores the local file and returns its object key.
func (u *Uploader) UploadFile(ctx context.Context, runID, file string) (string, error) {
	key := u.Key(runID, file)
	if _, err := u.client.FPutObject(ctx, u.bucket, key, file, miniogo.PutObjectOptions{
		ContentType: npyContentType,
	}); err != nil {
		return "", fmt.Errorf("upload %s: %w", file, err)
	}
	return key, nil
}
