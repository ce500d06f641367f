package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rendis/mediamcp/internal/logging"
	"github.com/rendis/mediamcp/internal/tenant"
	"github.com/rendis/mediamcp/pkg/schema"
)

// Config holds all mediamcp server configuration.
// Priority: flags > MEDIAMCP_* env vars > config file > defaults.
type Config struct {
	Transport  string
	ListenAddr string
	BaseURL    string

	LogLevel  string
	LogFormat string

	MaxConcurrentContainers int
	MaxItemsPerContainer    int
	IndexWait               time.Duration

	DefaultPageSize int
	MaxPageSize     int

	PoolSize int

	StorageDriver    string
	EndpointTemplate string
	URLExpiry        time.Duration
	Insecure         bool
	PathStyle        bool

	// Static tenant used by the stdio transport.
	AccessKey  string
	SecretKey  string
	Region     string
	Endpoint   string
	Containers []string

	AdmissionRule string

	SessionMaxAge time.Duration
	ReapSchedule  string

	AuditDBPath    string
	AuditRetention time.Duration
}

// Config keys.
const (
	keyTransport        = "transport"
	keyListenAddr       = "listen_addr"
	keyBaseURL          = "base_url"
	keyLogLevel         = "log.level"
	keyLogFormat        = "log.format"
	keyMaxConcurrent    = "index.max_concurrent_containers"
	keyMaxItems         = "index.max_items_per_container"
	keyIndexWait        = "index.wait_timeout"
	keyDefaultPageSize  = "cache.default_page_size"
	keyMaxPageSize      = "cache.max_page_size"
	keyPoolSize         = "dispatch.pool_size"
	keyStorageDriver    = "storage.driver"
	keyEndpointTemplate = "storage.endpoint_template"
	keyURLExpiry        = "storage.url_expiry"
	keyInsecure         = "storage.insecure"
	keyPathStyle        = "storage.path_style"
	keyAccessKey        = "tenant.access_key"
	keySecretKey        = "tenant.secret_key"
	keyRegion           = "tenant.region"
	keyEndpoint         = "tenant.endpoint"
	keyContainers       = "tenant.containers"
	keyAdmissionRule    = "admission.rule"
	keySessionMaxAge    = "sessions.max_age"
	keyReapSchedule     = "sessions.reap_schedule"
	keyAuditDBPath      = "audit.db_path"
	keyAuditRetention   = "audit.retention"
)

// Transports and storage drivers.
const (
	transportStdio = "stdio"
	transportSSE   = "sse"
	driverMinio    = "minio"
	driverAWS      = "aws"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyTransport, transportStdio)
	v.SetDefault(keyListenAddr, ":8000")
	v.SetDefault(keyBaseURL, "")
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFormat, "text")
	v.SetDefault(keyMaxConcurrent, 3)
	v.SetDefault(keyMaxItems, 3000)
	v.SetDefault(keyIndexWait, 30*time.Second)
	v.SetDefault(keyDefaultPageSize, 300)
	v.SetDefault(keyMaxPageSize, 1000)
	v.SetDefault(keyPoolSize, 10)
	v.SetDefault(keyStorageDriver, driverMinio)
	v.SetDefault(keyEndpointTemplate, tenant.DefaultEndpointTemplate)
	v.SetDefault(keyURLExpiry, time.Hour)
	v.SetDefault(keyInsecure, false)
	v.SetDefault(keyPathStyle, false)
	v.SetDefault(keyAccessKey, "")
	v.SetDefault(keySecretKey, "")
	v.SetDefault(keyRegion, "")
	v.SetDefault(keyEndpoint, "")
	v.SetDefault(keyContainers, []string{})
	v.SetDefault(keyAdmissionRule, "")
	v.SetDefault(keySessionMaxAge, time.Duration(0))
	v.SetDefault(keyReapSchedule, "@every 1m")
	v.SetDefault(keyAuditDBPath, "")
	v.SetDefault(keyAuditRetention, time.Duration(0))
}

// newViper returns a viper instance with defaults and MEDIAMCP_* env
// binding. "log.level" is read from MEDIAMCP_LOG_LEVEL.
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MEDIAMCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// bindFlags registers the command-line flags that override config keys.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	flags.String("transport", transportStdio, "transport: stdio or sse")
	flags.String("listen", ":8000", "listen address for the sse transport")
	flags.String("base-url", "", "externally reachable base URL advertised to sse clients")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("storage-driver", driverMinio, "storage driver: minio or aws")
	flags.String("audit-db", "", "path of the libSQL audit database (disabled when empty)")

	for key, name := range map[string]string{
		keyTransport:     "transport",
		keyListenAddr:    "listen",
		keyBaseURL:       "base-url",
		keyLogLevel:      "log-level",
		keyLogFormat:     "log-format",
		keyStorageDriver: "storage-driver",
		keyAuditDBPath:   "audit-db",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// readConfigFile loads path into v. An empty path is a no-op.
func readConfigFile(v *viper.Viper, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	v.SetConfigFile(expanded)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", expanded, err)
	}
	return nil
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

// loadConfig reads every key from v and validates the result.
func loadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		Transport:               strings.ToLower(strings.TrimSpace(v.GetString(keyTransport))),
		ListenAddr:              strings.TrimSpace(v.GetString(keyListenAddr)),
		BaseURL:                 strings.TrimSpace(v.GetString(keyBaseURL)),
		LogLevel:                v.GetString(keyLogLevel),
		LogFormat:               v.GetString(keyLogFormat),
		MaxConcurrentContainers: v.GetInt(keyMaxConcurrent),
		MaxItemsPerContainer:    v.GetInt(keyMaxItems),
		IndexWait:               v.GetDuration(keyIndexWait),
		DefaultPageSize:         v.GetInt(keyDefaultPageSize),
		MaxPageSize:             v.GetInt(keyMaxPageSize),
		PoolSize:                v.GetInt(keyPoolSize),
		StorageDriver:           strings.ToLower(strings.TrimSpace(v.GetString(keyStorageDriver))),
		EndpointTemplate:        strings.TrimSpace(v.GetString(keyEndpointTemplate)),
		URLExpiry:               v.GetDuration(keyURLExpiry),
		Insecure:                v.GetBool(keyInsecure),
		PathStyle:               v.GetBool(keyPathStyle),
		AccessKey:               v.GetString(keyAccessKey),
		SecretKey:               v.GetString(keySecretKey),
		Region:                  v.GetString(keyRegion),
		Endpoint:                v.GetString(keyEndpoint),
		Containers:              containerList(v.Get(keyContainers)),
		AdmissionRule:           strings.TrimSpace(v.GetString(keyAdmissionRule)),
		SessionMaxAge:           v.GetDuration(keySessionMaxAge),
		ReapSchedule:            strings.TrimSpace(v.GetString(keyReapSchedule)),
		AuditDBPath:             strings.TrimSpace(v.GetString(keyAuditDBPath)),
		AuditRetention:          v.GetDuration(keyAuditRetention),
	}

	// Derive base_url from listen_addr if empty.
	if cfg.BaseURL == "" && strings.HasPrefix(cfg.ListenAddr, ":") {
		cfg.BaseURL = "http://localhost" + cfg.ListenAddr
	}
	if cfg.AuditDBPath != "" {
		p, err := expandPath(cfg.AuditDBPath)
		if err != nil {
			return Config{}, err
		}
		cfg.AuditDBPath = p
	}
	return cfg, cfg.validate()
}

// containerList accepts a YAML/JSON list or a comma-separated string, which
// is how the list arrives from MEDIAMCP_TENANT_CONTAINERS.
func containerList(raw any) []string {
	switch v := raw.(type) {
	case string:
		return tenant.SplitContainers(v)
	case []string:
		return tenant.SplitContainers(strings.Join(v, ","))
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			parts = append(parts, fmt.Sprint(p))
		}
		return tenant.SplitContainers(strings.Join(parts, ","))
	default:
		return nil
	}
}

func (c Config) validate() error {
	switch c.Transport {
	case transportStdio, transportSSE:
	default:
		return configErrorf("transport", "unknown transport %q (want stdio or sse)", c.Transport)
	}
	switch c.StorageDriver {
	case driverMinio, driverAWS:
	default:
		return configErrorf("storage.driver", "unknown storage driver %q (want minio or aws)", c.StorageDriver)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return configErrorf("log.level", "%s", err.Error())
	}
	if c.Transport == transportSSE && c.ListenAddr == "" {
		return configErrorf("listen_addr", "listen address is required for the sse transport")
	}
	if c.PoolSize < 1 {
		return configErrorf("dispatch.pool_size", "pool size must be positive, got %d", c.PoolSize)
	}
	if c.SessionMaxAge < 0 {
		return configErrorf("sessions.max_age", "max age must not be negative")
	}
	return nil
}

// StaticTenant builds the stdio tenant from the tenant.* keys.
func (c Config) StaticTenant() (schema.TenantConfig, error) {
	return tenant.FromStatic(c.AccessKey, c.SecretKey, c.Region, c.Endpoint, c.Containers,
		tenant.Options{EndpointTemplate: c.EndpointTemplate})
}

func configErrorf(field, format string, args ...any) error {
	return schema.NewErrorf(schema.ErrCodeConfig, format, args...).
		WithDetails(map[string]any{"field": field})
}
