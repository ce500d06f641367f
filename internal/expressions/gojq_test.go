package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mediamcp/pkg/schema"
)

func TestGoJQ_Transform(t *testing.T) {
	e := NewGoJQEngine()

	input := map[string]any{"items": sampleItems(), "count": 3}

	out, err := e.Transform(context.Background(), `[.items[].key]`, input)
	require.NoError(t, err)
	assert.Equal(t, []any{"a.mp3", "b.flac", "c.mp3"}, out)

	out, err = e.Transform(context.Background(), `.count`, input)
	require.NoError(t, err)
	assert.Equal(t, float64(3), out)

	out, err = e.Transform(context.Background(), `.items[] | select(.size > 1000000) | .key`, input)
	require.NoError(t, err)
	assert.Equal(t, []any{"b.flac", "c.mp3"}, out)

	out, err = e.Transform(context.Background(), `empty`, input)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_Errors(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Transform(context.Background(), "", nil)
	assert.Equal(t, schema.ErrCodeInvalidArgs, schema.CodeOf(err))

	_, err = e.Transform(context.Background(), ".[", map[string]any{})
	assert.Equal(t, schema.ErrCodeInvalidArgs, schema.CodeOf(err))

	_, err = e.Transform(context.Background(), `error("boom")`, map[string]any{})
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
}

func TestGoJQ_NoEnvironment(t *testing.T) {
	t.Setenv("MEDIAMCP_SECRET_PROBE", "leak")
	e := NewGoJQEngine()
	out, err := e.Transform(context.Background(), `$ENV.MEDIAMCP_SECRET_PROBE`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}
