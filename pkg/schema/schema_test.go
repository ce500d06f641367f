package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	err := NewError(ErrCodeNotFound, "session gone")
	assert.Equal(t, "[NOT_FOUND] session gone", err.Error())

	err = NewErrorf(ErrCodeExecution, "boom %d", 7).WithTool("get_media_url")
	assert.Equal(t, "[EXECUTION_ERROR] tool get_media_url: boom 7", err.Error())
}

func TestError_UnwrapAndCode(t *testing.T) {
	root := errors.New("socket closed")
	err := NewError(ErrCodeExecution, "failed").WithCause(root)
	wrapped := fmt.Errorf("dispatch: %w", err)

	assert.ErrorIs(t, wrapped, root)
	assert.Equal(t, ErrCodeExecution, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, ErrCodeExecution))
	assert.Equal(t, "", CodeOf(root))
}

func TestNotFound(t *testing.T) {
	err := NotFound("session", "abc")
	assert.Equal(t, ErrCodeNotFound, err.Code)
	assert.Equal(t, "abc", err.Details["id"])
}

func TestTenantConfig_Immutable(t *testing.T) {
	src := []string{"a", "b"}
	cfg := NewTenantConfig("ak", "sk", "https://s3.r.example.com", "r", src)
	src[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, cfg.Containers())

	got := cfg.Containers()
	got[1] = "mutated"
	assert.Equal(t, []string{"a", "b"}, cfg.Containers())
	assert.True(t, cfg.HasContainer("b"))
	assert.False(t, cfg.HasContainer("c"))
	assert.NotContains(t, cfg.Redacted(), "secret_key")
}

func TestMediaType(t *testing.T) {
	tests := []struct {
		key   string
		media bool
		mime  string
	}{
		{"song.mp3", true, "audio/mpeg"},
		{"dir/Track.FLAC", true, "audio/flac"},
		{"a.m4a", true, "audio/mp4"},
		{"cover.jpg", false, DefaultMediaType},
		{"noext", false, DefaultMediaType},
		{"", false, DefaultMediaType},
	}
	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			assert.Equal(t, tc.media, IsMediaKey(tc.key))
			assert.Equal(t, tc.mime, MediaType(tc.key))
		})
	}
}

func TestParseURI(t *testing.T) {
	c, k, err := ParseURI("s3://music/albums/one%20two.mp3")
	require.NoError(t, err)
	assert.Equal(t, "music", c)
	assert.Equal(t, "albums/one two.mp3", k)

	item := MediaItem{Container: "music", Key: "a.mp3"}
	assert.Equal(t, "s3://music/a.mp3", item.URI())

	for _, bad := range []string{"http://x/y", "s3://", "s3://bucket", "s3://bucket/"} {
		_, _, err := ParseURI(bad)
		require.Error(t, err, bad)
		assert.Equal(t, ErrCodeInvalidArgs, CodeOf(err))
	}
}
