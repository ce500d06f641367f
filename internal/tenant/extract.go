// Package tenant turns connection metadata into a validated tenant config.
package tenant

import (
	"errors"
	"strings"

	"github.com/rendis/mediamcp/pkg/schema"
)

// Metadata keys, matched case-insensitively.
const (
	KeyAccessKey  = "x-ak"
	KeySecretKey  = "x-sk"
	KeyRegion     = "x-region-name"
	KeyContainers = "x-buckets"
	KeyEndpoint   = "x-endpoint-url"
)

// DefaultEndpointTemplate derives an endpoint from the region name.
const DefaultEndpointTemplate = "https://s3.{region}.qiniucs.com"

// Sentinel causes attached to CONFIG_ERROR results.
var (
	ErrMissingAuth       = errors.New("missing access key or secret key")
	ErrMissingRegion     = errors.New("missing region name")
	ErrInvalidContainers = errors.New("missing or empty container list")
)

// Options controls endpoint derivation.
type Options struct {
	// EndpointTemplate is used when no explicit endpoint is supplied.
	// "{region}" is replaced by the region name.
	EndpointTemplate string
}

// Extract validates metadata and builds a TenantConfig. Keys are matched
// case-insensitively. An explicit endpoint wins over the derived one.
func Extract(metadata map[string]string, opts Options) (schema.TenantConfig, error) {
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	accessKey, secretKey := md[KeyAccessKey], md[KeySecretKey]
	if accessKey == "" || secretKey == "" {
		return schema.TenantConfig{}, configError("auth",
			"missing required authentication headers (X-AK, X-SK)", ErrMissingAuth)
	}

	region := md[KeyRegion]
	if region == "" {
		return schema.TenantConfig{}, configError("region",
			"missing required region header (X-REGION-NAME)", ErrMissingRegion)
	}

	raw, ok := md[KeyContainers]
	if !ok || raw == "" {
		return schema.TenantConfig{}, configError("containers",
			"missing required buckets header (X-BUCKETS)", ErrInvalidContainers)
	}
	containers := SplitContainers(raw)
	if len(containers) == 0 {
		return schema.TenantConfig{}, configError("containers",
			"X-BUCKETS header is empty or invalid", ErrInvalidContainers)
	}

	endpoint := md[KeyEndpoint]
	if endpoint == "" {
		endpoint = DeriveEndpoint(opts.EndpointTemplate, region)
	}

	return schema.NewTenantConfig(accessKey, secretKey, endpoint, region, containers), nil
}

// SplitContainers parses a comma-separated list, trimming entries and
// dropping empty ones.
func SplitContainers(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DeriveEndpoint expands the endpoint template for region.
func DeriveEndpoint(template, region string) string {
	if template == "" {
		template = DefaultEndpointTemplate
	}
	return strings.ReplaceAll(template, "{region}", region)
}

// FromStatic builds a TenantConfig from static configuration values using the
// same rules as Extract.
func FromStatic(accessKey, secretKey, region, endpoint string, containers []string, opts Options) (schema.TenantConfig, error) {
	return Extract(map[string]string{
		KeyAccessKey:  accessKey,
		KeySecretKey:  secretKey,
		KeyRegion:     region,
		KeyEndpoint:   endpoint,
		KeyContainers: strings.Join(containers, ","),
	}, opts)
}

func configError(field, msg string, cause error) *schema.Error {
	return schema.NewError(schema.ErrCodeConfig, msg).
		WithCause(cause).
		WithDetails(map[string]any{"field": field})
}
