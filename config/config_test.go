package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "momo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
subscription_key: sub-key
api_user: api-user
api_key: api-key
base_url: https://momodeveloper.mtn.com
callback_host: pay.example.com
token_margin: 90s
poll_interval: 2s
poll_timeout: 5m
max_poll_failures: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "sub-key", cfg.SubscriptionKey)
	require.Equal(t, "https://momodeveloper.mtn.com", cfg.BaseURL)
	require.Equal(t, "pay.example.com", cfg.CallbackHost)
	require.Equal(t, 90*time.Second, cfg.TokenMargin.Std())
	require.Equal(t, 2*time.Second, cfg.PollInterval.Std())
	require.Equal(t, 5*time.Minute, cfg.PollTimeout.Std())
	require.Equal(t, 5, cfg.MaxPollFailures)

	creds := cfg.Credentials()
	require.Equal(t, "api-user", creds.APIUser)
	require.Equal(t, "api-key", creds.APIKey)
	require.Equal(t, "sub-key", creds.SubscriptionKey)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
subscription_key: sub-key
api_user: api-user
api_key: api-key
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "https://sandbox.momodeveloper.mtn.com", cfg.BaseURL)
	require.Equal(t, FallbackCallbackHost, cfg.CallbackHost)
	require.Equal(t, time.Minute, cfg.TokenMargin.Std())
	require.Equal(t, 5*time.Second, cfg.PollInterval.Std())
	require.Equal(t, 10*time.Minute, cfg.PollTimeout.Std())
	require.Equal(t, 3, cfg.MaxPollFailures)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
subscription_key: from-file
api_user: api-user
api_key: api-key
`)

	t.Setenv("MOMO_SUBSCRIPTION_KEY", "from-env")
	t.Setenv("MOMO_BASE_URL", "http://127.0.0.1:9999")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "from-env", cfg.SubscriptionKey)
	require.Equal(t, "http://127.0.0.1:9999", cfg.BaseURL)
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	path := writeConfig(t, `
api_user: api-user
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "subscription_key")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
subscription_key: sub-key
api_user: api-user
api_key: api-key
token_margin: not-a-duration
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
