package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mediamcp/internal/session"
	"github.com/rendis/mediamcp/internal/workerpool"
	"github.com/rendis/mediamcp/pkg/schema"
)

type echoArgs struct {
	Text  string `json:"text" jsonschema_description:"Text to echo"`
	Times int    `json:"times,omitempty" jsonschema:"minimum=1"`
}

func echoHandler(_ context.Context, call Call) (any, error) {
	var args echoArgs
	if err := call.Decode(&args); err != nil {
		return nil, err
	}
	if args.Times == 0 {
		args.Times = 1
	}
	return strings.Repeat(args.Text, args.Times), nil
}

type recorder struct {
	mu   sync.Mutex
	recs []CallRecord
}

func (r *recorder) ToolCalled(_ context.Context, rec CallRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func newTestRegistry(t *testing.T, obs ...Observer) *Registry {
	t.Helper()
	r := NewRegistry(Options{Pool: workerpool.New(2), Observers: obs})
	t.Cleanup(r.Close)
	return r
}

func TestSchemaFor(t *testing.T) {
	var doc map[string]any
	require.NoError(t, json.Unmarshal(SchemaFor[echoArgs](), &doc))
	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, []any{"text"}, doc["required"])
	assert.Equal(t, false, doc["additionalProperties"])

	props := doc["properties"].(map[string]any)
	assert.Contains(t, props, "text")
	assert.Contains(t, props, "times")
}

func TestRegister_Errors(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(Descriptor{Name: "echo", Schema: SchemaFor[echoArgs](), Handler: echoHandler}))

	err := r.Register(Descriptor{Name: "echo", Handler: echoHandler})
	assert.Equal(t, schema.ErrCodeConfig, schema.CodeOf(err))

	err = r.Register(Descriptor{Name: "nohandler"})
	assert.Equal(t, schema.ErrCodeConfig, schema.CodeOf(err))

	err = r.Register(Descriptor{Name: "badschema", Schema: json.RawMessage(`{"type": 12}`), Handler: echoHandler})
	assert.Equal(t, schema.ErrCodeConfig, schema.CodeOf(err))

	assert.Panics(t, func() {
		r.MustRegister(Descriptor{Name: "echo", Handler: echoHandler})
	})
}

func TestList_OrderAndSessionProperty(t *testing.T) {
	r := newTestRegistry(t)
	r.MustRegister(
		Descriptor{Name: "b", Handler: echoHandler},
		Descriptor{Name: "a", Schema: SchemaFor[echoArgs](), Handler: echoHandler, SessionScoped: true},
	)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].Name)
	assert.Equal(t, "a", list[1].Name)
	assert.True(t, list[1].SessionScoped)
	assert.Contains(t, string(list[1].Schema), `"session_id"`)
	assert.NotContains(t, string(list[0].Schema), `"session_id"`)
}

func TestDispatch_NotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Dispatch(context.Background(), "ghost", nil)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestDispatch_InvalidArguments(t *testing.T) {
	r := newTestRegistry(t)
	r.MustRegister(Descriptor{Name: "echo", Schema: SchemaFor[echoArgs](), Handler: echoHandler})

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing required", map[string]any{}},
		{"wrong type", map[string]any{"text": 5}},
		{"below minimum", map[string]any{"text": "x", "times": 0}},
		{"unknown property", map[string]any{"text": "x", "extra": true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Dispatch(context.Background(), "echo", tc.args)
			var serr *schema.Error
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, schema.ErrCodeInvalidArgs, serr.Code)
			assert.Equal(t, "echo", serr.Tool)
			assert.NotEmpty(t, serr.Details["violations"])
		})
	}
}

func TestDispatch_NilArgumentsAreDropped(t *testing.T) {
	r := newTestRegistry(t)
	r.MustRegister(Descriptor{Name: "echo", Schema: SchemaFor[echoArgs](), Handler: echoHandler})

	out, err := r.Dispatch(context.Background(), "echo", map[string]any{"text": "ab", "times": nil})
	require.NoError(t, err)
	assert.Equal(t, "ab", out)

	out, err = r.Dispatch(context.Background(), "echo", map[string]any{"text": "ab", "times": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, "abab", out)
}

func TestDispatch_ExecutionErrors(t *testing.T) {
	cause := errors.New("storage unreachable")
	r := newTestRegistry(t)
	r.MustRegister(
		Descriptor{Name: "fails", Handler: func(context.Context, Call) (any, error) { return nil, cause }},
		Descriptor{Name: "panics", Handler: func(context.Context, Call) (any, error) { panic("bad state") }},
		Descriptor{Name: "panics_blocking", Blocking: true, Handler: func(context.Context, Call) (any, error) { panic("pool state") }},
		Descriptor{Name: "not_found_inside", Handler: func(context.Context, Call) (any, error) {
			return nil, schema.NotFound("object", "a.mp3")
		}},
	)

	_, err := r.Dispatch(context.Background(), "fails", nil)
	var serr *schema.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, schema.ErrCodeExecution, serr.Code)
	assert.Equal(t, "fails", serr.Tool)
	assert.Equal(t, "storage unreachable", serr.Message)
	assert.ErrorIs(t, err, cause)

	for _, name := range []string{"panics", "panics_blocking"} {
		_, err = r.Dispatch(context.Background(), name, nil)
		require.Error(t, err, name)
		assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err), name)
		var perr *workerpool.PanicError
		assert.ErrorAs(t, err, &perr, name)
	}

	_, err = r.Dispatch(context.Background(), "not_found_inside", nil)
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, schema.ErrCodeExecution, serr.Code)
	assert.Equal(t, schema.ErrCodeNotFound, serr.Details["cause_code"])
}

func TestDispatch_SessionResolution(t *testing.T) {
	var got Call
	var ctxID string
	h := func(ctx context.Context, call Call) (any, error) {
		got = call
		ctxID = session.IDFromContext(ctx)
		return "ok", nil
	}
	r := newTestRegistry(t)
	r.MustRegister(Descriptor{Name: "scoped", Handler: h, SessionScoped: true})

	_, err := r.Dispatch(context.Background(), "scoped", nil)
	assert.Equal(t, schema.ErrCodeMissingSession, schema.CodeOf(err))

	ctx := session.WithID(context.Background(), "from-ctx")
	_, err = r.Dispatch(ctx, "scoped", nil)
	require.NoError(t, err)
	assert.Equal(t, "from-ctx", got.SessionID)
	assert.Equal(t, "from-ctx", ctxID)

	_, err = r.Dispatch(context.Background(), "scoped", map[string]any{"session_id": "explicit"})
	require.NoError(t, err)
	assert.Equal(t, "explicit", got.SessionID)
	assert.Equal(t, "explicit", ctxID)
	assert.NotContains(t, got.Args, "session_id")

	_, err = r.Dispatch(ctx, "scoped", map[string]any{"session_id": "from-ctx"})
	require.NoError(t, err)
	assert.Equal(t, "from-ctx", got.SessionID)
}

func TestDispatch_ExplicitSessionCannotCrossBinding(t *testing.T) {
	calls := 0
	r := newTestRegistry(t)
	r.MustRegister(Descriptor{Name: "scoped", SessionScoped: true, Handler: func(context.Context, Call) (any, error) {
		calls++
		return "ok", nil
	}})

	ctx := session.WithID(context.Background(), "tenant-a")
	_, err := r.Dispatch(ctx, "scoped", map[string]any{"session_id": "tenant-b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrSessionConflict)

	var serr *schema.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, schema.ErrCodeInvalidArgs, serr.Code)
	assert.Equal(t, SessionIDProperty, serr.Details["field"])
	assert.Zero(t, calls)
}

func TestDispatch_BlockingUsesPool(t *testing.T) {
	pool := workerpool.New(1)
	r := NewRegistry(Options{Pool: pool})
	defer r.Close()
	r.MustRegister(Descriptor{Name: "slow", Blocking: true, Handler: func(context.Context, Call) (any, error) {
		return 1, nil
	}})

	out, err := r.Dispatch(context.Background(), "slow", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out)
	pool.Wait()
	assert.Equal(t, int64(1), pool.Metrics().Completed)
}

func TestDispatch_BlockingRespectsContext(t *testing.T) {
	r := newTestRegistry(t)
	r.MustRegister(Descriptor{Name: "stuck", Blocking: true, Handler: func(ctx context.Context, _ Call) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Dispatch(ctx, "stuck", nil)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatch_Observers(t *testing.T) {
	rec := &recorder{}
	r := newTestRegistry(t, rec)
	r.MustRegister(Descriptor{Name: "echo", Schema: SchemaFor[echoArgs](), Handler: echoHandler})

	_, _ = r.Dispatch(context.Background(), "echo", map[string]any{"text": "x"})
	_, _ = r.Dispatch(context.Background(), "echo", map[string]any{})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.recs, 2)
	assert.Equal(t, "", rec.recs[0].Code)
	assert.Equal(t, schema.ErrCodeInvalidArgs, rec.recs[1].Code)
	assert.Equal(t, "echo", rec.recs[1].Tool)
}
