package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type ObjectConfig struct {
	Endpoint  string
	Access    string
	Secret    string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

// ObjectDisk is an S3-compatible bucket, used for Qiniu Kodo and for
// mirroring rendered variants.
type ObjectDisk struct {
	minio     *minio.Client
	bucket    string
	publicURL string
}

func NewObjectDisk(cfg ObjectConfig) (*ObjectDisk, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	public := cfg.PublicURL
	if public == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		public = scheme + "://" + cfg.Endpoint + "/" + cfg.Bucket
	}

	return &ObjectDisk{
		minio:     mc,
		bucket:    cfg.Bucket,
		publicURL: public,
	}, nil
}

func (d *ObjectDisk) Bucket() string {
	return d.bucket
}

func (d *ObjectDisk) EnsureBucket(ctx context.Context) error {
	exists, err := d.minio.BucketExists(ctx, d.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := d.minio.MakeBucket(ctx, d.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := d.minio.BucketExists(ctx, d.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", d.bucket, err)
	}
	return nil
}

func (d *ObjectDisk) Exists(ctx context.Context, key string) (bool, error) {
	_, err := d.minio.StatObject(ctx, d.bucket, strings.TrimLeft(key, "/"), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}

	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject", "NotFound":
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", key, err)
}

func (d *ObjectDisk) URL(key string) string {
	return publicURL(d.publicURL, key)
}

func (d *ObjectDisk) WriteObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := d.minio.PutObject(
		ctx,
		d.bucket,
		strings.TrimLeft(key, "/"),
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}
