package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/use-agent/mediagate/cookiepool"
	"github.com/use-agent/mediagate/models"
)

const cookieColumns = `id, platform, tier, value, label, status, use_count, success_count,
	error_count, last_error, cooldown_until, max_uses_per_hour, hourly_uses,
	hour_started_at, enabled, last_used_at, created_at, version`

// CookieStore is a cookiepool.Store backed by PostgreSQL.
type CookieStore struct {
	db *pgxpool.Pool
}

// NewCookieStore creates a CookieStore on db.
func NewCookieStore(db *pgxpool.Pool) *CookieStore {
	return &CookieStore{db: db}
}

// List returns the records of platform, oldest first.
func (s *CookieStore) List(ctx context.Context, platform models.Platform) ([]models.CookieRecord, error) {
	query := `SELECT ` + cookieColumns + ` FROM cookie_records WHERE platform = $1 ORDER BY created_at, id`
	rows, err := s.db.Query(ctx, query, string(platform))
	if err != nil {
		return nil, fmt.Errorf("postgres: list cookies: %w", err)
	}
	defer rows.Close()

	var out []models.CookieRecord
	for rows.Next() {
		rec, err := scanCookie(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan cookie: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *CookieStore) Get(ctx context.Context, id string) (models.CookieRecord, error) {
	query := `SELECT ` + cookieColumns + ` FROM cookie_records WHERE id = $1`
	rec, err := scanCookie(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CookieRecord{}, cookiepool.ErrNotFound
	}
	if err != nil {
		return models.CookieRecord{}, fmt.Errorf("postgres: get cookie %s: %w", id, err)
	}
	return rec, nil
}

func (s *CookieStore) Create(ctx context.Context, rec models.CookieRecord) error {
	query := `INSERT INTO cookie_records (` + cookieColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err := s.db.Exec(ctx, query, cookieArgs(rec)...)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("postgres: create cookie %s: %w", rec.ID, cookiepool.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("postgres: create cookie: %w", err)
	}
	return nil
}

// Save overwrites the mutable fields of an existing record. A record already
// at a newer version is left alone.
func (s *CookieStore) Save(ctx context.Context, rec models.CookieRecord) error {
	query := `
		UPDATE cookie_records SET
			label = $2, status = $3, use_count = $4, success_count = $5,
			error_count = $6, last_error = $7, cooldown_until = $8,
			max_uses_per_hour = $9, hourly_uses = $10, hour_started_at = $11,
			enabled = $12, last_used_at = $13, version = $14
		WHERE id = $1 AND version <= $14`
	tag, err := s.db.Exec(ctx, query,
		rec.ID,
		rec.Label,
		string(rec.Status),
		rec.UseCount,
		rec.SuccessCount,
		rec.ErrorCount,
		rec.LastError,
		nullTime(rec.CooldownUntil),
		rec.MaxUsesPerHour,
		rec.HourlyUses,
		nullTime(rec.HourStartedAt),
		rec.Enabled,
		nullTime(rec.LastUsedAt),
		rec.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: save cookie %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cookie_records WHERE id = $1)`, rec.ID).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: save cookie %s: %w", rec.ID, err)
	}
	if !exists {
		return cookiepool.ErrNotFound
	}
	return nil
}

func cookieArgs(rec models.CookieRecord) []any {
	return []any{
		rec.ID,
		string(rec.Platform),
		string(rec.Tier),
		rec.Value,
		rec.Label,
		string(rec.Status),
		rec.UseCount,
		rec.SuccessCount,
		rec.ErrorCount,
		rec.LastError,
		nullTime(rec.CooldownUntil),
		rec.MaxUsesPerHour,
		rec.HourlyUses,
		nullTime(rec.HourStartedAt),
		rec.Enabled,
		nullTime(rec.LastUsedAt),
		rec.CreatedAt,
		rec.Version,
	}
}

func scanCookie(row pgx.Row) (models.CookieRecord, error) {
	var (
		rec                                    models.CookieRecord
		platform, tier, status                 string
		cooldownUntil, hourStarted, lastUsedAt *time.Time
	)
	err := row.Scan(
		&rec.ID,
		&platform,
		&tier,
		&rec.Value,
		&rec.Label,
		&status,
		&rec.UseCount,
		&rec.SuccessCount,
		&rec.ErrorCount,
		&rec.LastError,
		&cooldownUntil,
		&rec.MaxUsesPerHour,
		&rec.HourlyUses,
		&hourStarted,
		&rec.Enabled,
		&lastUsedAt,
		&rec.CreatedAt,
		&rec.Version,
	)
	if err != nil {
		return models.CookieRecord{}, err
	}
	rec.Platform = models.Platform(platform)
	rec.Tier = models.CookieTier(tier)
	rec.Status = models.CookieStatus(status)
	rec.CooldownUntil = fromNull(cooldownUntil)
	rec.HourStartedAt = fromNull(hourStarted)
	rec.LastUsedAt = fromNull(lastUsedAt)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}
