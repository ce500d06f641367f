// Package s3 implements storage.Backend on the MinIO client, which speaks to
// any S3-compatible service.
package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rendis/mediamcp/internal/storage"
	"github.com/rendis/mediamcp/pkg/schema"
)

// Store is a storage.Backend bound to one tenant.
type Store struct {
	client *minio.Client
	cfg    schema.TenantConfig
	opts   storage.Options
}

// New creates a backend for cfg using its static credentials.
func New(cfg schema.TenantConfig, opts storage.Options) (*Store, error) {
	ep, err := storage.ParseEndpoint(cfg.EndpointURL, opts.Insecure)
	if err != nil {
		return nil, fmt.Errorf("s3: %w", err)
	}
	options := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: ep.Secure,
		Region: cfg.Region,
	}
	if opts.PathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(ep.Host, options)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	return &Store{client: client, cfg: cfg, opts: opts}, nil
}

// Opener returns a storage.Opener producing minio-backed stores.
func Opener(opts storage.Options) storage.Opener {
	return func(cfg schema.TenantConfig) (storage.Backend, error) {
		return New(cfg, opts)
	}
}

// ListContainers lists remote buckets and keeps the configured ones.
func (s *Store) ListContainers(ctx context.Context) ([]string, error) {
	buckets, err := s.client.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3: list buckets: %w", err)
	}
	names := make([]string, 0, len(buckets))
	for _, b := range buckets {
		names = append(names, b.Name)
	}
	return storage.FilterContainers(names, s.cfg), nil
}

// ListItems lists at most maxItems objects of container.
func (s *Store) ListItems(ctx context.Context, container string, maxItems int) ([]storage.Object, error) {
	if !s.cfg.HasContainer(container) || maxItems <= 0 {
		return []storage.Object{}, nil
	}

	// The listing channel pages on its own; cancel once enough items arrived.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := minio.ListObjectsOptions{Recursive: true, MaxKeys: min(maxItems, storage.MaxListPage)}
	out := make([]storage.Object, 0, opts.MaxKeys)
	for obj := range s.client.ListObjects(ctx, container, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("s3: list %s: %w", container, obj.Err)
		}
		out = append(out, storage.Object{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
		if len(out) >= maxItems {
			break
		}
	}
	return out, nil
}

// ResolvePublicURL presigns a GET URL with the default expiry.
func (s *Store) ResolvePublicURL(ctx context.Context, container, key string) (string, error) {
	return s.SignURL(ctx, container, key, s.opts.Expiry())
}

// SignURL presigns a GET URL valid for expiry.
func (s *Store) SignURL(ctx context.Context, container, key string, expiry time.Duration) (string, error) {
	if !s.cfg.HasContainer(container) {
		return "", schema.NotFound("container", container)
	}
	u, err := s.client.PresignedGetObject(ctx, container, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("s3: presign %s/%s: %w", container, key, err)
	}
	return u.String(), nil
}

// GetObject reads at most maxBytes of container/key.
func (s *Store) GetObject(ctx context.Context, container, key string, maxBytes int64) (*storage.ObjectData, error) {
	if !s.cfg.HasContainer(container) {
		return nil, schema.NotFound("container", container)
	}
	obj, err := s.client.GetObject(ctx, container, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapError(err, container, key)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, s.wrapError(err, container, key)
	}
	data, truncated, err := storage.ReadLimited(obj, maxBytes)
	if err != nil {
		return nil, s.wrapError(err, container, key)
	}

	contentType := info.ContentType
	if contentType == "" || contentType == "application/octet-stream" || contentType == "binary/octet-stream" {
		contentType = schema.MediaType(key)
	}
	return &storage.ObjectData{
		Container:   container,
		Key:         key,
		Size:        info.Size,
		ContentType: contentType,
		Data:        data,
		Truncated:   truncated,
	}, nil
}

func (s *Store) wrapError(err error, container, key string) error {
	if isNotFound(err) {
		return schema.NotFound("object", container+"/"+key).WithCause(err)
	}
	return fmt.Errorf("s3: get %s/%s: %w", container, key, err)
}

func isNotFound(err error) bool {
	errResp := minio.ErrorResponse{}
	if errors.As(err, &errResp) {
		return errResp.StatusCode == http.StatusNotFound
	}
	return false
}

var _ storage.Backend = (*Store)(nil)
