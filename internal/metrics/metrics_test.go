package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mediamcp/internal/session"
	"github.com/rendis/mediamcp/internal/tools"
	"github.com/rendis/mediamcp/internal/workerpool"
	"github.com/rendis/mediamcp/pkg/schema"
)

func TestSessionObserver(t *testing.T) {
	m := New()
	ctx := context.Background()
	s := session.Session{ID: "s1"}

	m.SessionCreated(ctx, s)
	m.SessionCreated(ctx, session.Session{ID: "s2"})
	m.SessionRemoved(ctx, s, session.ReasonExpired)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsRemoved.WithLabelValues(session.ReasonExpired)))
}

func TestIndexBuilt(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.IndexBuilt(ctx, "s1", 10, time.Second, nil)
	m.IndexBuilt(ctx, "s2", 5, time.Second, schema.NewError(schema.ErrCodePartialBuild, "one failed"))
	m.IndexBuilt(ctx, "s3", 0, time.Second, errors.New("list failed"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexBuildsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexBuildsTotal.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexBuildsTotal.WithLabelValues("error")))
}

func TestToolCalled(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.ToolCalled(ctx, tools.CallRecord{Tool: "version", Duration: time.Millisecond})
	m.ToolCalled(ctx, tools.CallRecord{Tool: "version", Code: schema.ErrCodeInvalidArgs})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("version", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("version", schema.ErrCodeInvalidArgs)))
}

func TestHandler(t *testing.T) {
	m := New()
	m.WatchPool("dispatch", workerpool.New(2))
	m.Rejected(schema.ErrCodeConfig)
	m.SessionCreated(context.Background(), session.Session{ID: "s"})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "mediamcp_sessions_active 1")
	assert.Contains(t, string(body), `mediamcp_pool_active_tasks{pool="dispatch"} 0`)
	assert.Contains(t, string(body), `mediamcp_admission_rejected_total{code="CONFIG_ERROR"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
