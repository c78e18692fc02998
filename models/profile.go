package models

import "time"

// BrowserProfile is one browser identity used for outbound requests.
type BrowserProfile struct {
	ID string `json:"id"`

	// PlatformScope is "all" or a specific platform name. Profiles scoped to
	// a platform are preferred over "all" profiles for that platform.
	PlatformScope string `json:"platform_scope"`

	UserAgent string `json:"user_agent"`

	// ClientHints is the Sec-Ch-Ua header value. When empty and the profile
	// is Chromium-based it is derived from the user agent.
	ClientHints         string `json:"client_hints,omitempty"`
	ClientHintsMobile   string `json:"client_hints_mobile,omitempty"`
	ClientHintsPlatform string `json:"client_hints_platform,omitempty"`

	AcceptLanguage string `json:"accept_language,omitempty"`
	IsChromium     bool   `json:"is_chromium"`

	// Priority is the selection weight. Must be >= 0; zero-weight profiles
	// are only picked when every candidate has zero weight.
	Priority int `json:"priority"`

	UseCount   int64     `json:"use_count"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`

	// Enabled profiles take part in selection. Profiles are disabled, never
	// deleted.
	Enabled bool `json:"enabled"`
}

// AppliesTo reports whether the profile is scoped to exactly p.
func (b *BrowserProfile) AppliesTo(p Platform) bool {
	return b.PlatformScope == string(p)
}
