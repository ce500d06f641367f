package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mediamcp/pkg/schema"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(newViper())
	require.NoError(t, err)

	assert.Equal(t, transportStdio, cfg.Transport)
	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.Equal(t, "http://localhost:8000", cfg.BaseURL)
	assert.Equal(t, 3, cfg.MaxConcurrentContainers)
	assert.Equal(t, 3000, cfg.MaxItemsPerContainer)
	assert.Equal(t, 30*time.Second, cfg.IndexWait)
	assert.Equal(t, 300, cfg.DefaultPageSize)
	assert.Equal(t, 1000, cfg.MaxPageSize)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, driverMinio, cfg.StorageDriver)
	assert.Equal(t, time.Hour, cfg.URLExpiry)
	assert.Equal(t, "@every 1m", cfg.ReapSchedule)
	assert.Zero(t, cfg.SessionMaxAge)
	assert.Empty(t, cfg.AuditDBPath)
	assert.Empty(t, cfg.Containers)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("MEDIAMCP_TRANSPORT", "sse")
	t.Setenv("MEDIAMCP_LOG_LEVEL", "debug")
	t.Setenv("MEDIAMCP_DISPATCH_POOL_SIZE", "4")
	t.Setenv("MEDIAMCP_STORAGE_URL_EXPIRY", "15m")
	t.Setenv("MEDIAMCP_TENANT_CONTAINERS", "music, talks")

	cfg, err := loadConfig(newViper())
	require.NoError(t, err)
	assert.Equal(t, transportSSE, cfg.Transport)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 4, cfg.PoolSize)
	assert.Equal(t, 15*time.Minute, cfg.URLExpiry)
	assert.Equal(t, []string{"music", "talks"}, cfg.Containers)
}

func TestLoadConfig_FileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediamcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
transport: sse
listen_addr: ":9100"
log:
  format: json
storage:
  driver: aws
  path_style: true
tenant:
  access_key: ak
  secret_key: sk
  region: us-east-1
  containers: [music, " talks "]
sessions:
  max_age: 2h
`), 0o600))

	v := newViper()
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	require.NoError(t, bindFlags(v, flags))
	require.NoError(t, readConfigFile(v, path))
	require.NoError(t, flags.Parse([]string{"--listen", ":9200"}))

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, transportSSE, cfg.Transport)
	assert.Equal(t, ":9200", cfg.ListenAddr, "flags beat the config file")
	assert.Equal(t, "http://localhost:9200", cfg.BaseURL)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, driverAWS, cfg.StorageDriver)
	assert.True(t, cfg.PathStyle)
	assert.Equal(t, 2*time.Hour, cfg.SessionMaxAge)
	assert.Equal(t, []string{"music", "talks"}, cfg.Containers)

	tc, err := cfg.StaticTenant()
	require.NoError(t, err)
	assert.Equal(t, "https://s3.us-east-1.qiniucs.com", tc.EndpointURL)
}

func TestReadConfigFile_Missing(t *testing.T) {
	assert.NoError(t, readConfigFile(newViper(), ""))
	assert.Error(t, readConfigFile(newViper(), filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		key   string
		value any
		field string
	}{
		{keyTransport, "grpc", "transport"},
		{keyStorageDriver, "gcs", "storage.driver"},
		{keyLogLevel, "loud", "log.level"},
		{keyPoolSize, 0, "dispatch.pool_size"},
		{keySessionMaxAge, -time.Second, "sessions.max_age"},
	}
	for _, tc := range tests {
		t.Run(tc.field, func(t *testing.T) {
			v := newViper()
			v.Set(tc.key, tc.value)
			_, err := loadConfig(v)
			require.Error(t, err)
			var serr *schema.Error
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, schema.ErrCodeConfig, serr.Code)
			assert.Equal(t, tc.field, serr.Details["field"])
		})
	}
}

func TestContainerList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, containerList("a,,b"))
	assert.Equal(t, []string{"a", "b"}, containerList([]string{" a", "b "}))
	assert.Equal(t, []string{"a", "1"}, containerList([]any{"a", 1}))
	assert.Nil(t, containerList(nil))
}
