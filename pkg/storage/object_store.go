package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// URIScheme prefixes product files that live in object storage.
const URIScheme = "s3://"

// ErrNotObjectURI is returned by ParseKey for plain file paths.
var ErrNotObjectURI = errors.New("not an object storage uri")

// ObjectSource reads product files from object storage.
type ObjectSource interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// MinioStore implements ObjectSource for MinIO/S3 compatible storage.
type MinioStore struct {
	client   *minio.Client
	bucket   string
	maxBytes int64
}

// DefaultMaxObjectBytes caps a single product file read from the bucket.
const DefaultMaxObjectBytes int64 = 32 << 20

// NewMinioStore connects to MinIO and checks that the bucket exists. Upload
// sources are read-only, so a missing bucket is an error rather than created.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist", bucket)
	}
	return &MinioStore{client: client, bucket: bucket, maxBytes: DefaultMaxObjectBytes}, nil
}

// Get downloads an object into memory.
func (m *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()
	info, err := obj.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	if info.Size > m.maxBytes {
		return nil, fmt.Errorf("object %s is %d bytes, limit is %d", key, info.Size, m.maxBytes)
	}
	data, err := io.ReadAll(io.LimitReader(obj, m.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// ParseKey extracts the object key from an s3://key reference.
func ParseKey(ref string) (string, error) {
	if !strings.HasPrefix(ref, URIScheme) {
		return "", ErrNotObjectURI
	}
	key := strings.TrimLeft(strings.TrimPrefix(ref, URIScheme), "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", fmt.Errorf("object uri %q has no key", ref)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return "", fmt.Errorf("object uri %q has an invalid key", ref)
	}
	return cleaned, nil
}
