package mcp

import (
	"cmp"
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rendis/mediamcp/internal/logging"
	"github.com/rendis/mediamcp/internal/tools"
	"github.com/rendis/mediamcp/pkg/schema"
)

// Tool limits.
const (
	DefaultMaxKeys    = 100
	MaxAllowedKeys    = 500
	DefaultURLExpires = 3600
	MaxURLExpires     = 7 * 24 * 3600
	DefaultReadBytes  = 1 << 20
	MaxReadBytes      = 16 << 20
)

// Messages returned as plain text instead of a JSON result.
const (
	msgNoMedia       = "no media files"
	msgIndexBuilding = "media index is still building, retry shortly"
)

type mediaListArgs struct {
	Container  string `json:"container,omitempty" jsonschema_description:"Only list media from this container."`
	Prefix     string `json:"prefix,omitempty" jsonschema_description:"Only list media whose key starts with this prefix."`
	StartAfter string `json:"start_after,omitempty" jsonschema_description:"Pagination cursor: list keys that sort after this key. Results are ordered by key, then container."`
	MaxKeys    int    `json:"max_keys,omitempty" jsonschema_description:"Maximum number of items to return (default 100, at most 500)."`
	Where      string `json:"where,omitempty" jsonschema_description:"Filter expression over container, key, size, content_type, url and last_modified, e.g. size > 1000000 && content_type == \"audio/flac\"."`
	JQ         string `json:"jq,omitempty" jsonschema_description:"jq program applied to the JSON result."`
}

type mediaURLArgs struct {
	Key     string `json:"key" jsonschema:"minLength=1" jsonschema_description:"Media key as returned by get_media_list."`
	Expires int    `json:"expires,omitempty" jsonschema:"minimum=1,maximum=604800" jsonschema_description:"URL lifetime in seconds (default 3600)."`
}

type browseArgs struct {
	Offset int `json:"offset,omitempty" jsonschema:"minimum=0" jsonschema_description:"Index of the first item."`
	Limit  int `json:"limit,omitempty" jsonschema:"minimum=0" jsonschema_description:"Page size (default 300, at most 1000)."`
}

type readObjectArgs struct {
	URI      string `json:"uri" jsonschema:"minLength=1" jsonschema_description:"Media URI of the form s3://container/key."`
	MaxBytes int    `json:"max_bytes,omitempty" jsonschema:"minimum=1,maximum=16777216" jsonschema_description:"Maximum number of bytes to read (default 1 MiB)."`
}

// mediaEntry is the JSON shape of an indexed item in tool results.
type mediaEntry struct {
	URI          string    `json:"uri"`
	Container    string    `json:"container"`
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ContentType  string    `json:"content_type"`
	LastModified time.Time `json:"last_modified,omitzero"`
}

func newMediaEntry(it schema.MediaItem) mediaEntry {
	return mediaEntry{
		URI:          it.URI(),
		Container:    it.Container,
		Key:          it.Key,
		Size:         it.Size,
		SizeHuman:    humanize.Bytes(uint64(max(it.Size, 0))),
		ContentType:  it.ContentType,
		LastModified: it.LastModified,
	}
}

type mediaListResult struct {
	Items     []mediaEntry `json:"items"`
	Count     int          `json:"count"`
	Truncated bool         `json:"truncated"`
	// NextStartAfter is the cursor for the next page when Truncated.
	NextStartAfter string `json:"next_start_after,omitempty"`
}

type mediaURL struct {
	Container string    `json:"container"`
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mime_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

type browseResult struct {
	SessionID string       `json:"session_id"`
	Ready     bool         `json:"ready"`
	Total     int          `json:"total"`
	Offset    int          `json:"offset"`
	Items     []mediaEntry `json:"items"`
}

type objectResult struct {
	URI         string `json:"uri"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	SizeHuman   string `json:"size_human"`
	Read        int    `json:"read"`
	Truncated   bool   `json:"truncated"`
	Data        string `json:"data_base64"`
}

type sessionInfo struct {
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	Region     string    `json:"region"`
	Endpoint   string    `json:"endpoint"`
	Containers []string  `json:"containers"`
	Items      int       `json:"items"`
	Ready      bool      `json:"ready"`
}

// descriptors returns the media tools in registration order.
func (s *MediaServer) descriptors() []tools.Descriptor {
	return []tools.Descriptor{
		{
			Name:          "get_media_list",
			Description:   "List the media files of the current tenant. Filter by container, key prefix or a where expression; page with start_after. Returned keys can be passed to get_media_url.",
			Schema:        tools.SchemaFor[mediaListArgs](),
			Handler:       s.handleMediaList,
			Blocking:      true,
			SessionScoped: true,
		},
		{
			Name:          "get_media_url",
			Description:   "Get playable URLs for a media key obtained from get_media_list. Keys present in several containers yield one URL per container.",
			Schema:        tools.SchemaFor[mediaURLArgs](),
			Handler:       s.handleMediaURL,
			Blocking:      true,
			SessionScoped: true,
		},
		{
			Name:          "browse_media",
			Description:   "Page through the raw media index of the current session by offset and limit.",
			Schema:        tools.SchemaFor[browseArgs](),
			Handler:       s.handleBrowse,
			SessionScoped: true,
		},
		{
			Name:          "read_media_object",
			Description:   "Read the leading bytes of a media object identified by an s3://container/key URI. Data is returned base64 encoded.",
			Schema:        tools.SchemaFor[readObjectArgs](),
			Handler:       s.handleReadObject,
			Blocking:      true,
			SessionScoped: true,
		},
		{
			Name:          "session_info",
			Description:   "Describe the current session: tenant region, endpoint, containers and index state.",
			Handler:       s.handleSessionInfo,
			SessionScoped: true,
		},
		{
			Name:        "version",
			Description: "mediamcp server version info.",
			Handler:     s.handleVersion,
			Blocking:    true,
		},
	}
}

// waitIndex waits up to indexWait for the session's index. It reports false
// when the build is still running after the wait.
func (s *MediaServer) waitIndex(ctx context.Context, sessionID string) (bool, error) {
	wctx, cancel := context.WithTimeout(ctx, s.indexWait)
	defer cancel()
	err := s.index.Wait(wctx, sessionID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return false, nil
	default:
		return false, err
	}
}

func (s *MediaServer) handleMediaList(ctx context.Context, call tools.Call) (any, error) {
	var args mediaListArgs
	if err := call.Decode(&args); err != nil {
		return nil, err
	}

	ready, err := s.waitIndex(ctx, call.SessionID)
	if err != nil {
		return nil, err
	}
	if !ready {
		return msgIndexBuilding, nil
	}
	items, err := s.index.All(call.SessionID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return msgNoMedia, nil
	}

	slices.SortStableFunc(items, compareMedia)
	filtered := items[:0]
	for _, it := range items {
		if args.Container != "" && it.Container != args.Container {
			continue
		}
		if args.Prefix != "" && !strings.HasPrefix(it.Key, args.Prefix) {
			continue
		}
		if args.StartAfter != "" && it.Key <= args.StartAfter {
			continue
		}
		filtered = append(filtered, it)
	}
	if args.Where != "" {
		if filtered, err = s.filter.Filter(ctx, args.Where, filtered); err != nil {
			return nil, err
		}
	}

	var res mediaListResult
	if end := pageEnd(filtered, clampMaxKeys(args.MaxKeys)); end < len(filtered) {
		filtered = filtered[:end]
		res.Truncated = true
		res.NextStartAfter = filtered[end-1].Key
	}
	res.Items = make([]mediaEntry, 0, len(filtered))
	for _, it := range filtered {
		res.Items = append(res.Items, newMediaEntry(it))
	}
	res.Count = len(res.Items)

	if args.JQ != "" {
		return s.projector.Transform(ctx, args.JQ, res)
	}
	return res, nil
}

// compareMedia orders items by key, then container, so that start_after
// cursors walk the whole index regardless of container order.
func compareMedia(a, b schema.MediaItem) int {
	return cmp.Or(cmp.Compare(a.Key, b.Key), cmp.Compare(a.Container, b.Container))
}

// pageEnd returns the length of the first page of sorted items. Items
// sharing a key are never split across pages since the cursor is a bare
// key: the page ends before such a run, or takes the whole run when it
// starts the page.
func pageEnd(items []schema.MediaItem, maxKeys int) int {
	if len(items) <= maxKeys {
		return len(items)
	}
	end := maxKeys
	key := items[end-1].Key
	if items[end].Key != key {
		return end
	}
	start := end - 1
	for start > 0 && items[start-1].Key == key {
		start--
	}
	if start > 0 {
		return start
	}
	for end < len(items) && items[end].Key == key {
		end++
	}
	return end
}

// clampMaxKeys applies the max_keys policy: above the ceiling is capped,
// below one falls back to the default.
func clampMaxKeys(n int) int {
	switch {
	case n > MaxAllowedKeys:
		return MaxAllowedKeys
	case n < 1:
		return DefaultMaxKeys
	default:
		return n
	}
}

func (s *MediaServer) handleMediaURL(ctx context.Context, call tools.Call) (any, error) {
	var args mediaURLArgs
	if err := call.Decode(&args); err != nil {
		return nil, err
	}
	expires := args.Expires
	if expires <= 0 {
		expires = DefaultURLExpires
	}
	expiry := time.Duration(min(expires, MaxURLExpires)) * time.Second

	sess, err := s.sessions.Get(call.SessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.waitIndex(ctx, call.SessionID); err != nil {
		return nil, err
	}
	matches, err := s.index.FindByKey(call.SessionID, args.Key)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return "media file not found: " + args.Key, nil
	}

	backend, err := s.open(sess.Config)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "failed to open storage backend").WithCause(err)
	}

	logger := logging.LogWith(ctx, s.logger)
	urls := make([]mediaURL, 0, len(matches))
	for _, it := range matches {
		u, err := backend.SignURL(ctx, it.Container, it.Key, expiry)
		if err != nil {
			logger.Warn("failed to sign media url",
				slog.String("container", it.Container),
				slog.String("key", it.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		urls = append(urls, mediaURL{
			Container: it.Container,
			Key:       it.Key,
			URL:       u,
			Size:      it.Size,
			MimeType:  schema.MediaType(it.Key),
			ExpiresAt: time.Now().UTC().Add(expiry),
		})
	}
	if len(urls) == 0 {
		return "unable to generate a playable URL for " + args.Key, nil
	}
	return urls, nil
}

func (s *MediaServer) handleBrowse(_ context.Context, call tools.Call) (any, error) {
	var args browseArgs
	if err := call.Decode(&args); err != nil {
		return nil, err
	}
	total, err := s.index.Count(call.SessionID)
	if err != nil {
		return nil, err
	}
	ready, err := s.index.Ready(call.SessionID)
	if err != nil {
		return nil, err
	}
	page, err := s.index.Page(call.SessionID, args.Offset, args.Limit)
	if err != nil {
		return nil, err
	}

	res := browseResult{
		SessionID: call.SessionID,
		Ready:     ready,
		Total:     total,
		Offset:    max(args.Offset, 0),
		Items:     make([]mediaEntry, 0, len(page)),
	}
	for _, it := range page {
		res.Items = append(res.Items, newMediaEntry(it))
	}
	return res, nil
}

func (s *MediaServer) handleReadObject(ctx context.Context, call tools.Call) (any, error) {
	var args readObjectArgs
	if err := call.Decode(&args); err != nil {
		return nil, err
	}
	container, key, err := schema.ParseURI(args.URI)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Get(call.SessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Config.HasContainer(container) {
		return nil, schema.NotFound("container", container)
	}
	maxBytes := args.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultReadBytes
	}

	backend, err := s.open(sess.Config)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "failed to open storage backend").WithCause(err)
	}
	obj, err := backend.GetObject(ctx, container, key, int64(min(maxBytes, MaxReadBytes)))
	if err != nil {
		return nil, err
	}
	return objectResult{
		URI:         args.URI,
		ContentType: obj.ContentType,
		Size:        obj.Size,
		SizeHuman:   humanize.Bytes(uint64(max(obj.Size, 0))),
		Read:        len(obj.Data),
		Truncated:   obj.Truncated,
		Data:        base64.StdEncoding.EncodeToString(obj.Data),
	}, nil
}

func (s *MediaServer) handleSessionInfo(_ context.Context, call tools.Call) (any, error) {
	sess, err := s.sessions.Get(call.SessionID)
	if err != nil {
		return nil, err
	}
	count, err := s.index.Count(call.SessionID)
	if err != nil {
		return nil, err
	}
	ready, err := s.index.Ready(call.SessionID)
	if err != nil {
		return nil, err
	}
	return sessionInfo{
		SessionID:  sess.ID,
		CreatedAt:  sess.CreatedAt,
		Region:     sess.Config.Region,
		Endpoint:   sess.Config.EndpointURL,
		Containers: sess.Config.Containers(),
		Items:      count,
		Ready:      ready,
	}, nil
}

func (s *MediaServer) handleVersion(context.Context, tools.Call) (any, error) {
	return s.version, nil
}
