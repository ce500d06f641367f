package storage

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoint is a parsed object-store endpoint.
type Endpoint struct {
	// Host is host[:port] without scheme.
	Host string
	// Secure is true for https endpoints.
	Secure bool
}

// URL renders the endpoint with its scheme.
func (e Endpoint) URL() string {
	if e.Secure {
		return "https://" + e.Host
	}
	return "http://" + e.Host
}

// ParseEndpoint accepts "https://host", "http://host:port" or a bare host.
// Bare hosts are secure unless insecure is set.
func ParseEndpoint(raw string, insecure bool) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, fmt.Errorf("endpoint is empty")
	}
	if !strings.Contains(raw, "://") {
		return Endpoint{Host: strings.TrimSuffix(raw, "/"), Secure: !insecure}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", raw, err)
	}
	switch u.Scheme {
	case "https":
		return Endpoint{Host: u.Host, Secure: true}, nil
	case "http":
		return Endpoint{Host: u.Host, Secure: false}, nil
	}
	return Endpoint{}, fmt.Errorf("endpoint %q: unsupported scheme %q", raw, u.Scheme)
}
