package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mediamcp/internal/audit"
	"github.com/rendis/mediamcp/internal/storage/storagetest"
	"github.com/rendis/mediamcp/pkg/schema"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestServe_StdioRequiresTenant(t *testing.T) {
	cfg, err := loadConfig(newViper())
	require.NoError(t, err)

	err = runServe(context.Background(), cfg, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	assert.Equal(t, schema.ErrCodeConfig, schema.CodeOf(err))
}

func TestServe_SSEShutsDownOnCancel(t *testing.T) {
	v := newViper()
	v.Set(keyTransport, transportSSE)
	v.Set(keyListenAddr, "127.0.0.1:0")
	v.Set(keyAuditDBPath, filepath.Join(t.TempDir(), "audit.db"))
	v.Set(keySessionMaxAge, time.Hour)
	cfg, err := loadConfig(v)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var logs bytes.Buffer
	go func() { done <- runServe(ctx, cfg, strings.NewReader(""), &bytes.Buffer{}, &logs) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServe_StdioRecordsAudit(t *testing.T) {
	fake := storagetest.NewServer(t, "music")
	fake.Put(t, "music", "a.mp3", []byte("aaaa"))
	dbPath := filepath.Join(t.TempDir(), "audit.db")

	v := newViper()
	v.Set(keyAccessKey, storagetest.AccessKey)
	v.Set(keySecretKey, storagetest.SecretKey)
	v.Set(keyRegion, storagetest.Region)
	v.Set(keyEndpoint, fake.URL)
	v.Set(keyContainers, "music")
	v.Set(keyPathStyle, true)
	v.Set(keyAuditDBPath, dbPath)
	cfg, err := loadConfig(v)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = runServe(ctx, cfg, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})

	store, err := audit.Open(context.Background(), dbPath)
	require.NoError(t, err)
	defer store.Close()

	recs, err := store.ListSessions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"music"}, recs[0].Containers)
	assert.Equal(t, storagetest.AccessKey, recs[0].AccessKey)
	assert.NotNil(t, recs[0].RemovedAt)
}
