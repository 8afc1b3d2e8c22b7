package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

type OSSConfig struct {
	Endpoint  string
	Key       string
	Secret    string
	Bucket    string
	PublicURL string
}

// OSSDisk locates objects in an Aliyun OSS bucket.
type OSSDisk struct {
	bucket    *oss.Bucket
	publicURL string
}

func NewOSSDisk(cfg OSSConfig) (*OSSDisk, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("oss endpoint and bucket are required")
	}

	client, err := oss.New(cfg.Endpoint, cfg.Key, cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("create oss client: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("open oss bucket %s: %w", cfg.Bucket, err)
	}

	public := cfg.PublicURL
	if public == "" {
		host := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
		public = "https://" + cfg.Bucket + "." + host
	}

	return &OSSDisk{bucket: bucket, publicURL: public}, nil
}

func (d *OSSDisk) Exists(_ context.Context, key string) (bool, error) {
	ok, err := d.bucket.IsObjectExist(strings.TrimLeft(key, "/"))
	if err != nil {
		return false, fmt.Errorf("check oss object %s: %w", key, err)
	}
	return ok, nil
}

func (d *OSSDisk) URL(key string) string {
	return publicURL(d.publicURL, key)
}
