// Package expressions evaluates the user-supplied expressions of the media
// server: expr filters over index items, jq projections of tool results and
// CEL admission rules over tenant configuration.
package expressions

import "github.com/rendis/mediamcp/pkg/schema"

// ItemEnv exposes a media item to filter expressions.
func ItemEnv(it schema.MediaItem) map[string]any {
	return map[string]any{
		"container":     it.Container,
		"key":           it.Key,
		"size":          it.Size,
		"content_type":  it.ContentType,
		"url":           it.PublicURL,
		"last_modified": it.LastModified,
	}
}

// TenantEnv exposes a tenant config to admission rules. The secret key is
// never included.
func TenantEnv(cfg schema.TenantConfig) map[string]any {
	return map[string]any{
		"tenant": map[string]any{
			"access_key": cfg.AccessKey,
			"region":     cfg.Region,
			"endpoint":   cfg.EndpointURL,
			"containers": cfg.Containers(),
		},
	}
}
