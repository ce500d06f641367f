package schema

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// MediaItem is one indexed storage object recognized as media.
type MediaItem struct {
	Container    string    `json:"container"`
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	PublicURL    string    `json:"public_url,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// URI renders the item as an s3://container/key resource URI.
func (m MediaItem) URI() string {
	return "s3://" + m.Container + "/" + m.Key
}

// DefaultMediaType is reported for keys whose extension is unknown.
const DefaultMediaType = "audio/mpeg"

// mediaTypes maps lower-case extensions (without dot) to MIME types.
var mediaTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"flac": "audio/flac",
	"aac":  "audio/aac",
	"ogg":  "audio/ogg",
	"wma":  "audio/x-ms-wma",
	"m4a":  "audio/mp4",
	"opus": "audio/opus",
	"ape":  "audio/x-ape",
	"dsd":  "audio/dsd",
	"dsf":  "audio/dsf",
	"dff":  "audio/dff",
}

func extension(key string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(key)), ".")
}

// IsMediaKey reports whether key ends in a known media extension.
func IsMediaKey(key string) bool {
	if key == "" {
		return false
	}
	_, ok := mediaTypes[extension(key)]
	return ok
}

// MediaType returns the MIME type for key, defaulting to DefaultMediaType.
func MediaType(key string) string {
	if t, ok := mediaTypes[extension(key)]; ok {
		return t
	}
	return DefaultMediaType
}

// ParseURI splits an s3://container/key URI.
func ParseURI(uri string) (container, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", NewErrorf(ErrCodeInvalidArgs, "invalid media URI %q: expected s3:// scheme", uri)
	}
	container, key, ok = strings.Cut(rest, "/")
	if !ok || container == "" || key == "" {
		return "", "", NewErrorf(ErrCodeInvalidArgs, "invalid media URI %q: expected s3://container/key", uri)
	}
	if unescaped, uerr := url.PathUnescape(key); uerr == nil {
		key = unescaped
	}
	return container, key, nil
}
