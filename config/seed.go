package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/use-agent/mediagate/models"
)

// Seed is the content of the startup seed file.
type Seed struct {
	Profiles []SeedProfile `yaml:"profiles"`
	Cookies  []SeedCookie  `yaml:"cookies"`
}

// SeedProfile is one browser profile in the seed file.
type SeedProfile struct {
	ID                  string `yaml:"id"`
	PlatformScope       string `yaml:"platform_scope"`
	UserAgent           string `yaml:"user_agent"`
	ClientHints         string `yaml:"client_hints"`
	ClientHintsMobile   string `yaml:"client_hints_mobile"`
	ClientHintsPlatform string `yaml:"client_hints_platform"`
	AcceptLanguage      string `yaml:"accept_language"`
	Chromium            bool   `yaml:"chromium"`
	Priority            *int   `yaml:"priority"`
	Disabled            bool   `yaml:"disabled"`
}

// SeedCookie is one cookie record in the seed file. Value may reference an
// environment variable as "${NAME}".
type SeedCookie struct {
	ID             string `yaml:"id"`
	Platform       string `yaml:"platform"`
	Tier           string `yaml:"tier"`
	Value          string `yaml:"value"`
	Label          string `yaml:"label"`
	MaxUsesPerHour int    `yaml:"max_uses_per_hour"`
}

// LoadSeed reads and validates the seed file at path.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("config: parse seed file: %w", err)
	}
	if err := seed.validate(); err != nil {
		return nil, err
	}
	for i := range seed.Cookies {
		seed.Cookies[i].Value = os.ExpandEnv(seed.Cookies[i].Value)
	}
	return &seed, nil
}

func (s *Seed) validate() error {
	ids := make(map[string]bool)
	for i, p := range s.Profiles {
		switch {
		case p.ID == "":
			return fmt.Errorf("config: profile %d: id is required", i)
		case ids[p.ID]:
			return fmt.Errorf("config: profile %q: duplicate id", p.ID)
		case p.UserAgent == "":
			return fmt.Errorf("config: profile %q: user_agent is required", p.ID)
		case p.Priority != nil && *p.Priority < 0:
			return fmt.Errorf("config: profile %q: priority must be >= 0", p.ID)
		case p.PlatformScope != "" && p.PlatformScope != models.ScopeAll && !models.Platform(p.PlatformScope).Valid():
			return fmt.Errorf("config: profile %q: unknown platform_scope %q", p.ID, p.PlatformScope)
		}
		ids[p.ID] = true
	}
	clear(ids)
	for i, c := range s.Cookies {
		switch {
		case c.ID == "":
			return fmt.Errorf("config: cookie %d: id is required", i)
		case ids[c.ID]:
			return fmt.Errorf("config: cookie %q: duplicate id", c.ID)
		case !models.Platform(c.Platform).Valid():
			return fmt.Errorf("config: cookie %q: unknown platform %q", c.ID, c.Platform)
		case !models.CookieTier(c.Tier).Valid():
			return fmt.Errorf("config: cookie %q: tier must be public or private", c.ID)
		}
		ids[c.ID] = true
	}
	return nil
}

// BrowserProfiles converts the seed profiles. Priority defaults to 1.
func (s *Seed) BrowserProfiles() []models.BrowserProfile {
	out := make([]models.BrowserProfile, 0, len(s.Profiles))
	for _, p := range s.Profiles {
		scope := p.PlatformScope
		if scope == "" {
			scope = models.ScopeAll
		}
		priority := 1
		if p.Priority != nil {
			priority = *p.Priority
		}
		out = append(out, models.BrowserProfile{
			ID:                  p.ID,
			PlatformScope:       scope,
			UserAgent:           p.UserAgent,
			ClientHints:         p.ClientHints,
			ClientHintsMobile:   p.ClientHintsMobile,
			ClientHintsPlatform: p.ClientHintsPlatform,
			AcceptLanguage:      p.AcceptLanguage,
			IsChromium:          p.Chromium,
			Priority:            priority,
			Enabled:             !p.Disabled,
		})
	}
	return out
}
