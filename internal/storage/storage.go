// Package storage defines the object-store collaborator used to index and
// serve media. Concrete backends live in the s3 and aws subpackages.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rendis/mediamcp/pkg/schema"
)

// Object is one entry of a container listing.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectData is a bounded read of an object.
type ObjectData struct {
	Container   string
	Key         string
	Size        int64
	ContentType string
	Data        []byte
	Truncated   bool
}

// MaxListPage is the most keys S3 returns per listing request.
const MaxListPage = 1000

// Backend talks to one tenant's object store.
type Backend interface {
	// ListContainers returns the tenant's configured containers that exist
	// remotely, in remote order.
	ListContainers(ctx context.Context) ([]string, error)
	// ListItems lists at most maxItems objects. Listings larger than
	// MaxListPage take several requests and are not a point-in-time view.
	// Containers outside the tenant's list yield an empty result.
	ListItems(ctx context.Context, container string, maxItems int) ([]Object, error)
	// ResolvePublicURL returns a GET URL signed with the backend's default expiry.
	ResolvePublicURL(ctx context.Context, container, key string) (string, error)
	// SignURL returns a GET URL valid for expiry.
	SignURL(ctx context.Context, container, key string, expiry time.Duration) (string, error)
	// GetObject reads at most maxBytes of an object.
	GetObject(ctx context.Context, container, key string, maxBytes int64) (*ObjectData, error)
}

// Opener builds a backend for a tenant.
type Opener func(cfg schema.TenantConfig) (Backend, error)

// Options are shared by the concrete backends.
type Options struct {
	// URLExpiry is the lifetime of URLs from ResolvePublicURL.
	URLExpiry time.Duration
	// Insecure disables TLS when the endpoint has no scheme.
	Insecure bool
	// PathStyle forces path-style bucket addressing.
	PathStyle bool
}

// DefaultURLExpiry is used when Options.URLExpiry is unset.
const DefaultURLExpiry = time.Hour

// Expiry returns the configured URL expiry or the default.
func (o Options) Expiry() time.Duration {
	if o.URLExpiry <= 0 {
		return DefaultURLExpiry
	}
	return o.URLExpiry
}

// FilterContainers keeps the remote names present in allowed, preserving
// remote order.
func FilterContainers(remote []string, cfg schema.TenantConfig) []string {
	out := make([]string, 0, len(remote))
	for _, name := range remote {
		if cfg.HasContainer(name) {
			out = append(out, name)
		}
	}
	return out
}

// ReadLimited reads up to maxBytes from r and reports whether more data
// remained.
func ReadLimited(r io.Reader, maxBytes int64) ([]byte, bool, error) {
	if maxBytes <= 0 {
		return nil, false, fmt.Errorf("max bytes must be positive, got %d", maxBytes)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > maxBytes {
		return data[:maxBytes], true, nil
	}
	return data, false, nil
}
