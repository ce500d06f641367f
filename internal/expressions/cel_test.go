package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mediamcp/pkg/schema"
)

func TestCEL_Admit(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	cfg := schema.NewTenantConfig("ak-1", "secret", "https://s3.cn-east-1.qiniucs.com", "cn-east-1", []string{"music", "talks"})

	tests := []struct {
		rule string
		want bool
	}{
		{`tenant.region == "cn-east-1"`, true},
		{`tenant.region.startsWith("us-")`, false},
		{`"music" in tenant.containers`, true},
		{`size(tenant.containers) <= 1`, false},
		{`tenant.endpoint.endsWith("qiniucs.com") && tenant.access_key != ""`, true},
	}
	for _, tc := range tests {
		t.Run(tc.rule, func(t *testing.T) {
			ok, err := e.Admit(context.Background(), tc.rule, cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestCEL_Errors(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	assert.Error(t, e.Compile(""))
	assert.Equal(t, schema.ErrCodeConfig, schema.CodeOf(e.Compile("tenant.region ==")))
	assert.NoError(t, e.Compile(`tenant.region == "x"`))

	cfg := schema.NewTenantConfig("ak", "sk", "e", "r", []string{"c"})
	_, err = e.Admit(context.Background(), `tenant.region`, cfg)
	assert.Equal(t, schema.ErrCodeConfig, schema.CodeOf(err))

	_, err = e.Evaluate(context.Background(), `tenant.missing == 1`, map[string]any{})
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
}

func TestTenantEnv_OmitsSecret(t *testing.T) {
	env := TenantEnv(schema.NewTenantConfig("ak", "sk", "e", "r", []string{"c"}))
	tenant := env["tenant"].(map[string]any)
	assert.NotContains(t, tenant, "secret_key")
	for _, v := range tenant {
		assert.NotEqual(t, "sk", v)
	}
}
