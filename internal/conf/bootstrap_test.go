package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/stencil?parseTime=True")
	t.Setenv("JWT_SECRET", "test-jwt-secret")
	t.Setenv("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")
}

func TestNewBootstrap_DefaultsApplied(t *testing.T) {
	setRequiredEnv(t)

	bc, err := NewBootstrap("")
	require.NoError(t, err)

	assert.Equal(t, "dev", bc.App.Env)
	assert.Equal(t, "X-Correlation-ID", bc.App.CorrelationHeader)
	assert.Equal(t, ":8080", bc.Server.Http.Addr)
	assert.Equal(t, "mysql", bc.Data.Database.Driver)
	assert.Equal(t, "api_request_logs", bc.Data.LogStore.RequestTable)
	assert.Equal(t, "vendor_call_logs", bc.Data.LogStore.VendorCallTable)
	assert.Equal(t, "configs/redis", bc.Data.ConfigStore.Dir)
	assert.Equal(t, "https://api.razorpay.com/v1", bc.Vendors.Razorpay.BaseUrl)
	assert.Equal(t, int32(5), bc.Vendors.Weather.BreakerThreshold)
}

func TestNewBootstrap_MissingRequiredFields(t *testing.T) {
	t.Setenv("MYSQL_DSN", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("ENCRYPTION_KEY", "")

	_, err := NewBootstrap("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data.database.source")
	assert.Contains(t, err.Error(), "auth.jwt.secret")
	assert.Contains(t, err.Error(), "auth.encryption.key")
}

func TestNewBootstrap_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STENCIL_ENV", "uat")
	t.Setenv("STENCIL_SERVER_HTTP_ADDR", ":9090")
	t.Setenv("STENCIL_DATA_LOG_STORE_REQUEST_TABLE", "custom_request_logs")

	bc, err := NewBootstrap("")
	require.NoError(t, err)

	assert.Equal(t, "uat", bc.App.Env)
	assert.Equal(t, ":9090", bc.Server.Http.Addr)
	assert.Equal(t, "custom_request_logs", bc.Data.LogStore.RequestTable)
}

func TestNewBootstrap_InvalidEnvRejected(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STENCIL_ENV", "staging")

	_, err := NewBootstrap("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid app.env")
}

func TestNewBootstrap_ConfigFile(t *testing.T) {
	setRequiredEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
app:
  env: preprod
server:
  http:
    addr: 0.0.0.0:8888
data:
  log_store:
    vendor_call_table: partner_calls
vendors:
  weather:
    fallback_url: https://fallback.example.com/data/2.5
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	bc, err := NewBootstrap(path)
	require.NoError(t, err)

	assert.Equal(t, "preprod", bc.App.Env)
	assert.Equal(t, "0.0.0.0:8888", bc.Server.Http.Addr)
	assert.Equal(t, "partner_calls", bc.Data.LogStore.VendorCallTable)
	assert.Equal(t, "https://fallback.example.com/data/2.5", bc.Vendors.Weather.FallbackUrl)
}

func TestNewBootstrap_MissingFileErrors(t *testing.T) {
	setRequiredEnv(t)

	_, err := NewBootstrap("/nonexistent/config.yaml")
	assert.Error(t, err)
}
