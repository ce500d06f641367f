package schema

import "slices"

// TenantConfig holds the storage credentials and container list of one
// tenant. Values are immutable once built; use NewTenantConfig.
type TenantConfig struct {
	AccessKey   string
	SecretKey   string
	EndpointURL string
	Region      string
	containers  []string
}

// NewTenantConfig builds a TenantConfig that owns a private copy of containers.
func NewTenantConfig(accessKey, secretKey, endpointURL, region string, containers []string) TenantConfig {
	return TenantConfig{
		AccessKey:   accessKey,
		SecretKey:   secretKey,
		EndpointURL: endpointURL,
		Region:      region,
		containers:  slices.Clone(containers),
	}
}

// Containers returns a copy of the configured container names, in order.
func (c TenantConfig) Containers() []string {
	return slices.Clone(c.containers)
}

// HasContainer reports whether name is one of the tenant's containers.
func (c TenantConfig) HasContainer(name string) bool {
	return slices.Contains(c.containers, name)
}

// Redacted returns a log-safe view of the config. The secret key never
// leaves this package in logs.
func (c TenantConfig) Redacted() map[string]any {
	return map[string]any{
		"access_key": c.AccessKey,
		"endpoint":   c.EndpointURL,
		"region":     c.Region,
		"containers": c.Containers(),
	}
}
