package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/use-agent/mediagate/models"
)

// ProfileStore is an identity.Source backed by PostgreSQL.
type ProfileStore struct {
	db *pgxpool.Pool
}

// NewProfileStore creates a ProfileStore on db.
func NewProfileStore(db *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{db: db}
}

// Profiles returns the enabled profiles.
func (s *ProfileStore) Profiles(ctx context.Context) ([]models.BrowserProfile, error) {
	query := `
		SELECT id, platform_scope, user_agent, client_hints, client_hints_mobile,
			client_hints_platform, accept_language, is_chromium, priority,
			use_count, last_used_at, enabled
		FROM browser_profiles
		WHERE enabled
		ORDER BY id`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list profiles: %w", err)
	}
	defer rows.Close()

	var out []models.BrowserProfile
	for rows.Next() {
		var (
			bp       models.BrowserProfile
			lastUsed *time.Time
		)
		if err := rows.Scan(
			&bp.ID,
			&bp.PlatformScope,
			&bp.UserAgent,
			&bp.ClientHints,
			&bp.ClientHintsMobile,
			&bp.ClientHintsPlatform,
			&bp.AcceptLanguage,
			&bp.IsChromium,
			&bp.Priority,
			&bp.UseCount,
			&lastUsed,
			&bp.Enabled,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan profile: %w", err)
		}
		bp.LastUsedAt = fromNull(lastUsed)
		out = append(out, bp)
	}
	return out, rows.Err()
}

// RecordUse increments the use count of profile id.
func (s *ProfileStore) RecordUse(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE browser_profiles SET use_count = use_count + 1, last_used_at = $2 WHERE id = $1`,
		id, at)
	if err != nil {
		return fmt.Errorf("postgres: record profile use %s: %w", id, err)
	}
	return nil
}

// Upsert creates or replaces the configuration of bp, keeping its usage
// counters.
func (s *ProfileStore) Upsert(ctx context.Context, bp models.BrowserProfile) error {
	scope := bp.PlatformScope
	if scope == "" {
		scope = models.ScopeAll
	}
	query := `
		INSERT INTO browser_profiles (id, platform_scope, user_agent, client_hints,
			client_hints_mobile, client_hints_platform, accept_language, is_chromium,
			priority, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			platform_scope = EXCLUDED.platform_scope,
			user_agent = EXCLUDED.user_agent,
			client_hints = EXCLUDED.client_hints,
			client_hints_mobile = EXCLUDED.client_hints_mobile,
			client_hints_platform = EXCLUDED.client_hints_platform,
			accept_language = EXCLUDED.accept_language,
			is_chromium = EXCLUDED.is_chromium,
			priority = EXCLUDED.priority,
			enabled = EXCLUDED.enabled`
	_, err := s.db.Exec(ctx, query,
		bp.ID,
		scope,
		bp.UserAgent,
		bp.ClientHints,
		bp.ClientHintsMobile,
		bp.ClientHintsPlatform,
		bp.AcceptLanguage,
		bp.IsChromium,
		bp.Priority,
		bp.Enabled,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert profile %s: %w", bp.ID, err)
	}
	return nil
}
