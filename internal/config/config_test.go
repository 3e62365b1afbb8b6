package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "ideacapture.db", cfg.DBPath)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "*", cfg.CORSAllowOrigin)
	assert.Equal(t, 10*time.Second, cfg.Stripe.APITimeout)
	assert.False(t, cfg.Stripe.Enabled())
}

func TestLoadValues(t *testing.T) {
	cfg, err := LoadFrom(envMap(map[string]string{
		"PORT":                    "9000",
		"AUTH_JWT_SECRET":         "0123456789abcdef0123",
		"STRIPE_SECRET_KEY":       "sk_test_123",
		"STRIPE_WEBHOOK_SECRET":   "whsec_123",
		"STRIPE_PRICE_ID_MONTHLY": "price_m",
		"STRIPE_API_TIMEOUT":      "3s",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000", cfg.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Stripe.APITimeout)
	assert.True(t, cfg.Stripe.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoadBadTimeout(t *testing.T) {
	_, err := LoadFrom(envMap(map[string]string{"STRIPE_API_TIMEOUT": "soon"}))
	assert.Error(t, err)
}

func TestValidateMissingSecret(t *testing.T) {
	cfg, err := LoadFrom(envMap(nil))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWTSecret")
}

func TestValidateWebhookSecretRequiredWithStripe(t *testing.T) {
	cfg, err := LoadFrom(envMap(map[string]string{
		"AUTH_JWT_SECRET":         "0123456789abcdef0123",
		"STRIPE_SECRET_KEY":       "sk_test_123",
		"STRIPE_PRICE_ID_MONTHLY": "price_m",
	}))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WebhookSecret")
}

func TestValidateLogFormat(t *testing.T) {
	cfg, err := LoadFrom(envMap(map[string]string{
		"AUTH_JWT_SECRET": "0123456789abcdef0123",
		"LOG_FORMAT":      "xml",
	}))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("IDEACAPTURE_TEST_VALUE=from-file\n"), 0o600))
	t.Setenv("IDEACAPTURE_TEST_VALUE", "")
	os.Unsetenv("IDEACAPTURE_TEST_VALUE")

	require.NoError(t, LoadEnvFiles(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("IDEACAPTURE_TEST_VALUE"))
}

func TestLoadEnvFilesKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("IDEACAPTURE_TEST_KEEP=from-file\n"), 0o600))
	t.Setenv("IDEACAPTURE_TEST_KEEP", "from-env")

	require.NoError(t, LoadEnvFiles(path))
	assert.True(t, strings.EqualFold(os.Getenv("IDEACAPTURE_TEST_KEEP"), "from-env"))
}
