package tenant

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mediamcp/pkg/schema"
)

func validMetadata() map[string]string {
	return map[string]string{
		"X-AK":          "ak-1",
		"X-SK":          "sk-1",
		"X-REGION-NAME": "cn-east-1",
		"X-BUCKETS":     "music, podcasts",
	}
}

func TestExtract_CaseInsensitive(t *testing.T) {
	for _, casing := range []func(string) string{
		func(s string) string { return s },
		strings.ToLower,
		func(s string) string { return mixed(s) },
	} {
		md := make(map[string]string)
		for k, v := range validMetadata() {
			md[casing(k)] = v
		}
		cfg, err := Extract(md, Options{})
		require.NoError(t, err)
		assert.Equal(t, "ak-1", cfg.AccessKey)
		assert.Equal(t, "sk-1", cfg.SecretKey)
		assert.Equal(t, "cn-east-1", cfg.Region)
		assert.Equal(t, []string{"music", "podcasts"}, cfg.Containers())
		assert.Equal(t, "https://s3.cn-east-1.qiniucs.com", cfg.EndpointURL)
	}
}

func TestExtract_ExplicitEndpointWins(t *testing.T) {
	md := validMetadata()
	md["x-endpoint-url"] = "http://localhost:9000"
	cfg, err := Extract(md, Options{EndpointTemplate: "https://{region}.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", cfg.EndpointURL)

	cfg, err = Extract(validMetadata(), Options{EndpointTemplate: "https://{region}.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "https://cn-east-1.example.com", cfg.EndpointURL)
}

func TestExtract_MissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]string)
		field  string
		cause  error
	}{
		{"no access key", func(m map[string]string) { delete(m, "X-AK") }, "auth", ErrMissingAuth},
		{"no secret key", func(m map[string]string) { m["X-SK"] = "" }, "auth", ErrMissingAuth},
		{"no region", func(m map[string]string) { delete(m, "X-REGION-NAME") }, "region", ErrMissingRegion},
		{"no buckets", func(m map[string]string) { delete(m, "X-BUCKETS") }, "containers", ErrInvalidContainers},
		{"only separators", func(m map[string]string) { m["X-BUCKETS"] = " , ,, " }, "containers", ErrInvalidContainers},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			md := validMetadata()
			tc.mutate(md)
			_, err := Extract(md, Options{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.cause)

			var serr *schema.Error
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, schema.ErrCodeConfig, serr.Code)
			assert.Equal(t, tc.field, serr.Details["field"])
		})
	}
}

func TestExtract_EmptyMetadata(t *testing.T) {
	_, err := Extract(nil, Options{})
	assert.ErrorIs(t, err, ErrMissingAuth)
}

func TestSplitContainers(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitContainers(" a,,b , c ,"))
	assert.Empty(t, SplitContainers(""))
}

func TestFromStatic(t *testing.T) {
	cfg, err := FromStatic("ak", "sk", "r1", "", []string{" x ", ""}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, cfg.Containers())
	assert.Equal(t, "https://s3.r1.qiniucs.com", cfg.EndpointURL)

	_, err = FromStatic("ak", "sk", "r1", "", nil, Options{})
	assert.ErrorIs(t, err, ErrInvalidContainers)
}

func mixed(s string) string {
	out := []rune(strings.ToLower(s))
	for i := 0; i < len(out); i += 2 {
		if out[i] >= 'a' && out[i] <= 'z' {
			out[i] -= 'a' - 'A'
		}
	}
	return string(out)
}
