package minio

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/ports"
)

type fakePutter struct {
	bucket, object string
	body           []byte
	opts           minio.PutObjectOptions
	err            error
}

func (f *fakePutter) PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	f.bucket, f.object, f.opts = bucket, object, opts
	b, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.body = b
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func TestSink_Put(t *testing.T) {
	fake := &fakePutter{}
	sink := NewFromClient(fake, "e2e-artifacts", "/canopy/")

	ref, err := sink.Put(context.Background(), ports.Artifact{
		RunID: "run-1", SuiteID: "vault/policies", Attempt: 3,
		Kind: ports.ArtifactTrace, Ext: ".json", ContentType: "application/x-ndjson",
		Data: []byte("{}\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, "s3://e2e-artifacts/canopy/run-1/vault/policies/attempt-3-trace.json", ref)
	assert.Equal(t, "e2e-artifacts", fake.bucket)
	assert.Equal(t, "{}\n", string(fake.body))
	assert.Equal(t, "application/x-ndjson", fake.opts.ContentType)
	assert.Equal(t, "3", fake.opts.UserMetadata["attempt"])
}

func TestSink_PutError(t *testing.T) {
	sink := NewFromClient(&fakePutter{err: errors.New("denied")}, "b", "")
	_, err := sink.Put(context.Background(), ports.Artifact{RunID: "r", SuiteID: "s", Kind: ports.ArtifactVideo})
	assert.ErrorContains(t, err, "denied")
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Endpoint: "minio:9000"}.Validate())
	assert.Error(t, Config{Endpoint: "minio:9000", Bucket: "b"}.Validate())
	assert.NoError(t, Config{Endpoint: "minio:9000", Bucket: "b", AccessKey: "a", SecretKey: "s"}.Validate())
}
