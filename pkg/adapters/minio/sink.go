// Package minio stores failure artifacts in an S3-compatible bucket.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aretw0/canopy/pkg/ports"
)

// Config locates the bucket.
type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Validate reports the first missing setting.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Endpoint) == "":
		return errors.New("artifact bucket endpoint is required")
	case strings.TrimSpace(c.Bucket) == "":
		return errors.New("artifact bucket name is required")
	case c.AccessKey == "" || c.SecretKey == "":
		return errors.New("artifact bucket credentials are required")
	}
	return nil
}

// objectPutter is the slice of *minio.Client the sink needs.
type objectPutter interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Sink implements ports.ArtifactSink on a bucket.
type Sink struct {
	client objectPutter
	bucket string
	prefix string
}

var _ ports.ArtifactSink = (*Sink)(nil)

// New connects to the endpoint and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, fmt.Errorf("ensure artifact bucket: %w", err)
	}
	return NewFromClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client objectPutter, bucket, prefix string) *Sink {
	return &Sink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Put uploads the artifact and returns an s3:// reference.
func (s *Sink) Put(ctx context.Context, a ports.Artifact) (string, error) {
	object := a.Name()
	if s.prefix != "" {
		object = path.Join(s.prefix, object)
	}
	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, object, bytes.NewReader(a.Data), int64(len(a.Data)), minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"run-id":  a.RunID,
			"suite":   a.SuiteID,
			"attempt": fmt.Sprintf("%d", a.Attempt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", object, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, object), nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
