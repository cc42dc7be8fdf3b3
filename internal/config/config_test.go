package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/longanisha/Mahidol-Forum-sub000/internal/config"
	"github.com/stretchr/testify/require"
)

func TestAcquisitionDefaults(t *testing.T) {
	c := config.New()
	require.Equal(t, 1*time.Second, c.GetPullTimeout())
	require.Equal(t, 5*time.Second, c.GetReloadPullTimeout())
	require.Equal(t, 10*time.Second, c.GetAttemptTimeout())
}

func TestBackendProfilePath(t *testing.T) {
	c := config.New()
	require.Equal(t, "/points/profile", c.GetBackendProfilePath())

	t.Setenv("FORUM_API_PROFILE_PATH", "/v2/profile")
	require.Equal(t, "/v2/profile", config.New().GetBackendProfilePath())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SESSION_PULL_TIMEOUT", "250ms")
	t.Setenv("SESSION_RETRY_DELAY", "not-a-duration")
	t.Setenv("PORT", "9000")
	t.Setenv("AUTH_SCOPES", "openid, email ,,")
	t.Setenv("CORS_ALLOW_ORIGINS", "http://a.test, http://b.test")

	c := config.New()
	require.Equal(t, 250*time.Millisecond, c.GetPullTimeout())
	require.Equal(t, 1*time.Second, c.GetRetryDelay())
	require.Equal(t, ":9000", c.GetPort())
	require.Equal(t, []string{"openid", "email"}, c.GetScopes())
	require.True(t, c.GetAllowedOrigins().IsAllowedOrigin("http://b.test"))
	require.False(t, c.GetAllowedOrigins().IsAllowedOrigin("http://c.test"))
}

func TestLoad(t *testing.T) {
	t.Run("missing file is not an error", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "nope.env"))
		require.NoError(t, err)
	})

	t.Run("file values fill the environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.env")
		require.NoError(t, os.WriteFile(path, []byte("FORUM_API_URL=http://api.test\n"), 0o600))
		t.Setenv("FORUM_API_URL", "")
		os.Unsetenv("FORUM_API_URL")

		c, err := config.Load(path)
		require.NoError(t, err)
		require.Equal(t, "http://api.test", c.GetBackendURL())
	})
}
