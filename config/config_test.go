package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/mediagate/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, 5, cfg.Guest.PlaygroundLimit)
	assert.Equal(t, 2*time.Minute, cfg.Guest.PlaygroundWindow)
	assert.Equal(t, 5*time.Minute, cfg.Guest.LegacyWindow)
	assert.Equal(t, 30*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, int64(10<<20), cfg.Upstream.MaxBody)
	assert.Equal(t, 3, cfg.Cookies.ErrorThreshold)
	assert.True(t, cfg.Auth.Enabled)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MEDIAGATE_PORT", "9090")
	t.Setenv("MEDIAGATE_API_KEYS", "a, b,,c")
	t.Setenv("MEDIAGATE_PLAYGROUND_WINDOW", "90s")
	t.Setenv("MEDIAGATE_MAINTENANCE", "true")
	t.Setenv("MEDIAGATE_RATE_RPS", "2.5")
	t.Setenv("MEDIAGATE_UPSTREAM_RETRIES", "not-a-number")

	cfg := Load()
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Auth.APIKeys)
	assert.Equal(t, 90*time.Second, cfg.Guest.PlaygroundWindow)
	assert.True(t, cfg.Extract.Maintenance)
	assert.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 2, cfg.Upstream.Retries, "invalid values fall back to the default")
}

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSeed(t *testing.T) {
	t.Setenv("IG_SESSION", "sessionid=abc")
	path := writeSeed(t, `
profiles:
  - id: chrome-win
    user_agent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/131.0.0.0 Safari/537.36"
    chromium: true
    priority: 3
  - id: safari-mac
    platform_scope: twitter
    user_agent: "Mozilla/5.0 (Macintosh) Version/17.0 Safari/605.1.15"
    priority: 0
cookies:
  - id: ig-1
    platform: instagram
    tier: private
    value: "${IG_SESSION}"
    max_uses_per_hour: 20
`)
	seed, err := LoadSeed(path)
	require.NoError(t, err)

	profiles := seed.BrowserProfiles()
	require.Len(t, profiles, 2)
	assert.Equal(t, models.ScopeAll, profiles[0].PlatformScope)
	assert.True(t, profiles[0].IsChromium)
	assert.Equal(t, 3, profiles[0].Priority)
	assert.Equal(t, 0, profiles[1].Priority)
	assert.True(t, profiles[1].Enabled)

	require.Len(t, seed.Cookies, 1)
	assert.Equal(t, "sessionid=abc", seed.Cookies[0].Value)
	assert.Equal(t, 20, seed.Cookies[0].MaxUsesPerHour)
}

func TestLoadSeedRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"missing ua":   "profiles:\n  - id: a\n",
		"dup profile":  "profiles:\n  - {id: a, user_agent: x}\n  - {id: a, user_agent: y}\n",
		"bad scope":    "profiles:\n  - {id: a, user_agent: x, platform_scope: myspace}\n",
		"negative":     "profiles:\n  - {id: a, user_agent: x, priority: -1}\n",
		"bad platform": "cookies:\n  - {id: c, platform: myspace, tier: public, value: v}\n",
		"bad tier":     "cookies:\n  - {id: c, platform: weibo, tier: gold, value: v}\n",
		"not yaml":     "profiles: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadSeed(writeSeed(t, body))
			assert.Error(t, err)
		})
	}

	_, err := LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
