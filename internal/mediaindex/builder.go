// Package mediaindex builds and caches the per-session media index.
package mediaindex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/rendis/mediamcp/internal/storage"
	"github.com/rendis/mediamcp/internal/workerpool"
	"github.com/rendis/mediamcp/pkg/schema"
)

// Builder defaults.
const (
	DefaultMaxConcurrentContainers = 3
	DefaultMaxItemsPerContainer    = 3000
)

// BuilderConfig bounds a single build.
type BuilderConfig struct {
	MaxConcurrentContainers int
	MaxItemsPerContainer    int
}

func (c BuilderConfig) withDefaults() BuilderConfig {
	if c.MaxConcurrentContainers <= 0 {
		c.MaxConcurrentContainers = DefaultMaxConcurrentContainers
	}
	if c.MaxItemsPerContainer <= 0 {
		c.MaxItemsPerContainer = DefaultMaxItemsPerContainer
	}
	return c
}

// Builder scans a tenant's containers and stores the resulting index.
type Builder struct {
	open   storage.Opener
	store  *Store
	cfg    BuilderConfig
	logger *slog.Logger
}

// NewBuilder creates a builder that opens backends with open and writes
// finished indexes into store.
func NewBuilder(open storage.Opener, store *Store, cfg BuilderConfig, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		open:   open,
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

type scanResult struct {
	items []schema.MediaItem
	err   error
}

// Build indexes every configured container of cfg and stores the result
// under sessionID. It returns the number of indexed items. When listing
// containers fails the index is stored empty; when only some containers
// fail the partial index is stored and a BUILD_PARTIAL_FAILURE error names
// the failed containers.
func (b *Builder) Build(ctx context.Context, sessionID string, cfg schema.TenantConfig) (int, error) {
	backend, err := b.open(cfg)
	if err != nil {
		b.store.Put(sessionID, []schema.MediaItem{})
		return 0, schema.NewError(schema.ErrCodeStore, "open storage backend").WithCause(err)
	}

	containers, err := backend.ListContainers(ctx)
	if err != nil {
		b.store.Put(sessionID, []schema.MediaItem{})
		return 0, schema.NewError(schema.ErrCodeStore, "list containers").WithCause(err)
	}
	if len(containers) == 0 {
		b.logger.WarnContext(ctx, "no accessible containers",
			slog.Any("configured", cfg.Containers()))
		b.store.Put(sessionID, []schema.MediaItem{})
		return 0, nil
	}

	results := make([]scanResult, len(containers))
	pool := workerpool.New(b.cfg.MaxConcurrentContainers)
	for i, name := range containers {
		err := pool.Submit(ctx, func(ctx context.Context) error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = scanResult{err: fmt.Errorf("panic scanning container: %v", r)}
				}
			}()
			items, err := b.scan(ctx, backend, name)
			results[i] = scanResult{items: items, err: err}
			return err
		})
		if err != nil {
			results[i] = scanResult{err: err}
		}
	}
	pool.Shutdown()

	var (
		index  []schema.MediaItem
		failed []string
		bytes  int64
	)
	for i, res := range results {
		if res.err != nil {
			failed = append(failed, containers[i])
			b.logger.WarnContext(ctx, "container scan failed",
				slog.String("container", containers[i]),
				slog.String("error", res.err.Error()))
			continue
		}
		for _, it := range res.items {
			bytes += it.Size
		}
		index = append(index, res.items...)
	}
	if index == nil {
		index = []schema.MediaItem{}
	}

	if !b.store.Put(sessionID, index) {
		b.logger.DebugContext(ctx, "session gone before index was stored")
	}
	b.logger.InfoContext(ctx, "media index built",
		slog.Int("items", len(index)),
		slog.Int("containers", len(containers)-len(failed)),
		slog.String("total_size", humanize.Bytes(uint64(bytes))))

	if len(failed) > 0 {
		return len(index), schema.NewErrorf(schema.ErrCodePartialBuild,
			"failed to index %d of %d containers: %s", len(failed), len(containers), strings.Join(failed, ", ")).
			WithDetails(map[string]any{"failed_containers": failed})
	}
	return len(index), nil
}

func (b *Builder) scan(ctx context.Context, backend storage.Backend, container string) ([]schema.MediaItem, error) {
	objects, err := backend.ListItems(ctx, container, b.cfg.MaxItemsPerContainer)
	if err != nil {
		return nil, err
	}

	items := make([]schema.MediaItem, 0, len(objects))
	for _, obj := range objects {
		if !Indexable(obj) {
			continue
		}
		url, err := backend.ResolvePublicURL(ctx, container, obj.Key)
		if err != nil {
			b.logger.WarnContext(ctx, "could not resolve public URL",
				slog.String("container", container),
				slog.String("key", obj.Key),
				slog.String("error", err.Error()))
			url = ""
		}
		items = append(items, schema.MediaItem{
			Container:    container,
			Key:          obj.Key,
			Size:         obj.Size,
			ContentType:  schema.MediaType(obj.Key),
			PublicURL:    url,
			LastModified: obj.LastModified,
		})
	}
	return items, nil
}

// Indexable reports whether a listed object belongs in the media index:
// not a directory marker, not empty, and with a known media extension.
func Indexable(obj storage.Object) bool {
	if strings.HasSuffix(obj.Key, "/") || obj.Size <= 0 {
		return false
	}
	return schema.IsMediaKey(obj.Key)
}
