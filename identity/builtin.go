package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/use-agent/mediagate/models"
)

// BuiltinProfiles is the static pool used when no profile store is
// configured or the store is unavailable.
func BuiltinProfiles() []models.BrowserProfile {
	return []models.BrowserProfile{
		{
			ID:                  "builtin-chrome-win",
			PlatformScope:       models.ScopeAll,
			UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			ClientHintsPlatform: `"Windows"`,
			AcceptLanguage:      "en-US,en;q=0.9",
			IsChromium:          true,
			Priority:            10,
			Enabled:             true,
		},
		{
			ID:                  "builtin-chrome-mac",
			PlatformScope:       models.ScopeAll,
			UserAgent:           "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			ClientHintsPlatform: `"macOS"`,
			AcceptLanguage:      "en-US,en;q=0.9",
			IsChromium:          true,
			Priority:            8,
			Enabled:             true,
		},
		{
			ID:                  "builtin-edge-win",
			PlatformScope:       models.ScopeAll,
			UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36 Edg/130.0.0.0",
			ClientHintsPlatform: `"Windows"`,
			AcceptLanguage:      "en-US,en;q=0.8",
			IsChromium:          true,
			Priority:            5,
			Enabled:             true,
		},
		{
			ID:             "builtin-firefox-linux",
			PlatformScope:  models.ScopeAll,
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0",
			AcceptLanguage: "en-US,en;q=0.5",
			Priority:       4,
			Enabled:        true,
		},
		{
			ID:             "builtin-safari-mac",
			PlatformScope:  models.ScopeAll,
			UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Safari/605.1.15",
			AcceptLanguage: "en-US,en;q=0.9",
			Priority:       3,
			Enabled:        true,
		},
	}
}

// StaticSource is an in-memory Source, seeded from configuration.
type StaticSource struct {
	mu       sync.RWMutex
	profiles []models.BrowserProfile
}

// NewStaticSource copies profiles into a new StaticSource.
func NewStaticSource(profiles []models.BrowserProfile) *StaticSource {
	cp := make([]models.BrowserProfile, len(profiles))
	copy(cp, profiles)
	return &StaticSource{profiles: cp}
}

// Profiles returns a snapshot of the profiles.
func (s *StaticSource) Profiles(ctx context.Context) ([]models.BrowserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]models.BrowserProfile, len(s.profiles))
	copy(cp, s.profiles)
	return cp, nil
}

// RecordUse increments the usage counter of profile id.
func (s *StaticSource) RecordUse(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.profiles {
		if s.profiles[i].ID == id {
			s.profiles[i].UseCount++
			s.profiles[i].LastUsedAt = at
			return nil
		}
	}
	return fmt.Errorf("identity: unknown profile %q", id)
}
