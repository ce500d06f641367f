// Package aws implements storage.Backend on the AWS SDK v2 S3 client.
package aws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"

	"github.com/rendis/mediamcp/internal/storage"
	"github.com/rendis/mediamcp/pkg/schema"
)

// Store is a storage.Backend bound to one tenant.
type Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	cfg     schema.TenantConfig
	opts    storage.Options
}

// New creates a backend for cfg using its static credentials.
func New(cfg schema.TenantConfig, opts storage.Options) (*Store, error) {
	ep, err := storage.ParseEndpoint(cfg.EndpointURL, opts.Insecure)
	if err != nil {
		return nil, fmt.Errorf("aws: %w", err)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws: region is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("aws: load config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(ep.URL())
		o.UsePathStyle = opts.PathStyle
	})
	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		cfg:     cfg,
		opts:    opts,
	}, nil
}

// Opener returns a storage.Opener producing SDK-backed stores.
func Opener(opts storage.Options) storage.Opener {
	return func(cfg schema.TenantConfig) (storage.Backend, error) {
		return New(cfg, opts)
	}
}

// ListContainers lists remote buckets and keeps the configured ones.
func (s *Store) ListContainers(ctx context.Context) ([]string, error) {
	resp, err := s.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("aws: list buckets: %w", err)
	}
	names := make([]string, 0, len(resp.Buckets))
	for _, b := range resp.Buckets {
		names = append(names, aws.ToString(b.Name))
	}
	return storage.FilterContainers(names, s.cfg), nil
}

// ListItems lists at most maxItems objects of container.
func (s *Store) ListItems(ctx context.Context, container string, maxItems int) ([]storage.Object, error) {
	if !s.cfg.HasContainer(container) || maxItems <= 0 {
		return []storage.Object{}, nil
	}

	out := make([]storage.Object, 0, min(maxItems, storage.MaxListPage))
	input := &s3.ListObjectsV2Input{Bucket: aws.String(container)}
	for len(out) < maxItems {
		input.MaxKeys = aws.Int32(int32(min(maxItems-len(out), storage.MaxListPage)))
		resp, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("aws: list %s: %w", container, err)
		}
		for _, obj := range resp.Contents {
			out = append(out, storage.Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		if !aws.ToBool(resp.IsTruncated) || resp.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = resp.NextContinuationToken
	}
	if len(out) > maxItems {
		out = out[:maxItems]
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
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("aws: presign %s/%s: %w", container, key, err)
	}
	return req.URL, nil
}

// GetObject reads at most maxBytes of container/key with a ranged GET.
func (s *Store) GetObject(ctx context.Context, container, key string, maxBytes int64) (*storage.ObjectData, error) {
	if !s.cfg.HasContainer(container) {
		return nil, schema.NotFound("container", container)
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("aws: max bytes must be positive, got %d", maxBytes)
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.wrapError(err, container, key)
	}
	size := aws.ToInt64(head.ContentLength)

	input := &s3.GetObjectInput{Bucket: aws.String(container), Key: aws.String(key)}
	if size > maxBytes {
		input.Range = aws.String(fmt.Sprintf("bytes=0-%d", maxBytes-1))
	}
	resp, err := s.client.GetObject(ctx, input)
	if err != nil {
		return nil, s.wrapError(err, container, key)
	}
	defer resp.Body.Close()

	data, _, err := storage.ReadLimited(resp.Body, maxBytes)
	if err != nil {
		return nil, s.wrapError(err, container, key)
	}

	contentType := aws.ToString(head.ContentType)
	if contentType == "" || contentType == "application/octet-stream" || contentType == "binary/octet-stream" {
		contentType = schema.MediaType(key)
	}
	return &storage.ObjectData{
		Container:   container,
		Key:         key,
		Size:        size,
		ContentType: contentType,
		Data:        data,
		Truncated:   size > int64(len(data)),
	}, nil
}

func (s *Store) wrapError(err error, container, key string) error {
	if isNotFound(err) {
		return schema.NotFound("object", container+"/"+key).WithCause(err)
	}
	return fmt.Errorf("aws: get %s/%s: %w", container, key, err)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

var _ storage.Backend = (*Store)(nil)
