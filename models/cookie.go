package models

import "time"

// CookieTier is the rationing class of an authenticated cookie.
type CookieTier string

const (
	TierPublic  CookieTier = "public"
	TierPrivate CookieTier = "private"
)

// Valid reports whether t is a known tier.
func (t CookieTier) Valid() bool {
	return t == TierPublic || t == TierPrivate
}

// CookieStatus is the health state of a CookieRecord.
type CookieStatus string

const (
	CookieHealthy  CookieStatus = "healthy"
	CookieCooldown CookieStatus = "cooldown"
	CookieExpired  CookieStatus = "expired"
	CookieDisabled CookieStatus = "disabled"
)

// CookieRecord is one authenticated session cookie in the pool.
//
// Value is opaque and secret: it is excluded from JSON and must never be
// logged. Records are never deleted; disabling is terminal.
type CookieRecord struct {
	ID       string       `json:"id"`
	Platform Platform     `json:"platform"`
	Tier     CookieTier   `json:"tier"`
	Value    string       `json:"-"`
	Label    string       `json:"label,omitempty"`
	Status   CookieStatus `json:"status"`

	UseCount     int64  `json:"use_count"`
	SuccessCount int64  `json:"success_count"`
	ErrorCount   int    `json:"error_count"`
	LastError    string `json:"last_error,omitempty"`

	CooldownUntil time.Time `json:"cooldown_until,omitempty"`

	// MaxUsesPerHour caps selections within one clock hour. Zero disables
	// the cap.
	MaxUsesPerHour int       `json:"max_uses_per_hour"`
	HourlyUses     int       `json:"hourly_uses"`
	HourStartedAt  time.Time `json:"hour_started_at,omitempty"`

	Enabled    bool      `json:"enabled"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	// Version grows with every change to the record. Stores drop a Save
	// carrying an older version than the one they hold.
	Version int64 `json:"version"`
}

// PlatformCookieHealth is the public aggregate for one platform.
type PlatformCookieHealth struct {
	Available    bool `json:"available"`
	HealthyCount int  `json:"healthyCount"`
}
