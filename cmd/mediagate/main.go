package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/use-agent/mediagate/api"
	"github.com/use-agent/mediagate/apiclient"
	"github.com/use-agent/mediagate/bookkeep"
	"github.com/use-agent/mediagate/cache"
	"github.com/use-agent/mediagate/config"
	"github.com/use-agent/mediagate/cookiepool"
	"github.com/use-agent/mediagate/extract"
	"github.com/use-agent/mediagate/guest"
	"github.com/use-agent/mediagate/identity"
	"github.com/use-agent/mediagate/models"
	"github.com/use-agent/mediagate/pacing"
	"github.com/use-agent/mediagate/relay"
	"github.com/use-agent/mediagate/storage/postgres"
	"github.com/use-agent/mediagate/webhook"
)

var version = "dev"

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("mediagate starting",
		"version", version,
		"addr", cfg.Addr(),
		"mode", cfg.Server.Mode,
		"database", cfg.Storage.DatabaseURL != "",
		"redis", cfg.Storage.RedisURL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var seed *config.Seed
	if cfg.SeedFile != "" {
		var err error
		if seed, err = config.LoadSeed(cfg.SeedFile); err != nil {
			fatal("failed to load seed file", err)
		}
	}

	// ── 3. Bookkeeping queue ────────────────────────────────────────
	queue := bookkeep.NewQueue(cfg.Bookkeep.Workers, cfg.Bookkeep.Capacity, cfg.Bookkeep.TaskTimeout)

	// ── 4. Stores ───────────────────────────────────────────────────
	var (
		profiles    identity.Source
		cookieStore cookiepool.Store
	)
	if cfg.Storage.DatabaseURL != "" {
		db, err := postgres.Connect(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			fatal("failed to connect to postgres", err)
		}
		defer db.Close()
		if err := seedProfiles(ctx, db, seed); err != nil {
			fatal("failed to seed browser profiles", err)
		}
		profiles = postgres.NewProfileStore(db)
		cookieStore = postgres.NewCookieStore(db)
	} else {
		if seed != nil && len(seed.Profiles) > 0 {
			profiles = identity.NewStaticSource(seed.BrowserProfiles())
		}
		cookieStore = cookiepool.NewMemoryStore()
	}

	// ── 5. Identity, pacing and cookies ─────────────────────────────
	identities := identity.NewPool(profiles, queue)
	tracker := pacing.NewTracker(pacing.Config{
		Window:         cfg.Pacing.Window,
		BurstThreshold: cfg.Pacing.BurstThreshold,
		BurstCooldown:  cfg.Pacing.BurstCooldown,
		BaseBackoff:    cfg.Pacing.BaseBackoff,
		MaxBackoff:     cfg.Pacing.MaxBackoff,
	}, nil)

	cookieOpts := []cookiepool.Option{cookiepool.WithConfig(cookiepool.Config{
		ErrorThreshold:    cfg.Cookies.ErrorThreshold,
		ErrorCooldown:     cfg.Cookies.ErrorCooldown,
		RateLimitCooldown: cfg.Cookies.RateLimitCooldown,
	})}
	var notifier *webhook.Notifier
	if cfg.Webhook.URL != "" {
		notifier = webhook.New(cfg.Webhook.URL, cfg.Webhook.Secret)
		cookieOpts = append(cookieOpts, cookiepool.WithNotifier(notifier))
		slog.Info("cookie status webhook enabled")
	}
	cookies := cookiepool.NewManager(cookieStore, queue, cookieOpts...)
	if seed != nil {
		seedCookies(ctx, cookies, seed)
	}

	// ── 6. Upstream client, extraction and relay ────────────────────
	client, err := apiclient.New(apiclient.Config{
		Timeout:     cfg.Upstream.Timeout,
		Retries:     cfg.Upstream.Retries,
		BaseBackoff: cfg.Upstream.BaseBackoff,
		MaxBackoff:  cfg.Upstream.MaxBackoff,
		OfflineTTL:  cfg.Upstream.OfflineTTL,
		MaxBody:     cfg.Upstream.MaxBody,
		ProxyURL:    cfg.Upstream.ProxyURL,
	})
	if err != nil {
		fatal("failed to initialise upstream client", err)
	}

	results := cache.New(cfg.Cache.MaxEntries, time.Minute)
	defer results.Close()

	disabled := make([]models.Platform, 0, len(cfg.Extract.DisabledPlatforms))
	for _, name := range cfg.Extract.DisabledPlatforms {
		p := models.Platform(name)
		if !p.Valid() {
			slog.Warn("ignoring unknown disabled platform", "platform", name)
			continue
		}
		disabled = append(disabled, p)
	}
	svc := extract.NewService(extract.Deps{
		Fetcher:    client,
		Identities: identities,
		Tracker:    tracker,
		Cookies:    cookies,
		Cache:      results,
	}, extract.Config{
		Disabled:            disabled,
		CacheTTL:            cfg.Cache.TTL,
		Timeout:             cfg.Extract.Timeout,
		FirstAttemptTimeout: cfg.Upstream.FirstAttemptTimeout,
	})
	svc.SetMaintenance(cfg.Extract.Maintenance)

	rl := relay.New(relay.NewValidator(), client, identities, cookies, relay.Config{
		Timeout: cfg.Proxy.Timeout,
		Retries: cfg.Proxy.Retries,
	})

	// ── 7. Guest quotas ─────────────────────────────────────────────
	guestStore, closeGuest, err := openGuestStore(ctx, cfg)
	if err != nil {
		fatal("failed to initialise guest quota store", err)
	}
	defer closeGuest()

	// ── 8. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(ctx, api.Deps{
		Service:    svc,
		Relay:      rl,
		Playground: guest.NewLimiter("playground", guestStore, cfg.Guest.PlaygroundLimit, cfg.Guest.PlaygroundWindow),
		Legacy:     guest.NewLimiter("legacy", guestStore, cfg.Guest.LegacyLimit, cfg.Guest.LegacyWindow),
		Cookies:    cookies,
		Tracker:    tracker,
		Version:    version,
	}, cfg, time.Now())

	// ── 9. Start HTTP server ────────────────────────────────────────
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("HTTP server error", err)
		}
	}()

	// ── 10. Graceful shutdown ───────────────────────────────────────
	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	queue.Close(cfg.Server.ShutdownTimeout)
	if notifier != nil {
		notifier.Wait(cfg.Server.ShutdownTimeout)
	}
	slog.Info("mediagate stopped")
}

// seedProfiles upserts the seed profiles into the database.
func seedProfiles(ctx context.Context, db *pgxpool.Pool, seed *config.Seed) error {
	if seed == nil {
		return nil
	}
	store := postgres.NewProfileStore(db)
	for _, bp := range seed.BrowserProfiles() {
		if err := store.Upsert(ctx, bp); err != nil {
			return err
		}
	}
	slog.Info("browser profiles seeded", "count", len(seed.Profiles))
	return nil
}

// seedCookies adds the seed cookies. Records that already exist are left
// untouched so restarts keep their health state.
func seedCookies(ctx context.Context, cookies *cookiepool.Manager, seed *config.Seed) {
	added := 0
	for _, sc := range seed.Cookies {
		_, err := cookies.Add(ctx, cookiepool.NewCookie{
			ID:             sc.ID,
			Platform:       models.Platform(sc.Platform),
			Tier:           models.CookieTier(sc.Tier),
			Value:          sc.Value,
			Label:          sc.Label,
			MaxUsesPerHour: sc.MaxUsesPerHour,
		})
		switch {
		case err == nil:
			added++
		case errors.Is(err, cookiepool.ErrDuplicate):
			slog.Debug("seed cookie already present", "id", sc.ID)
		default:
			slog.Warn("failed to seed cookie", "id", sc.ID, "platform", sc.Platform, "error", err)
		}
	}
	slog.Info("cookies seeded", "added", added, "total", len(seed.Cookies))
}

// openGuestStore returns the shared Redis store when configured, else a
// process-local one.
func openGuestStore(ctx context.Context, cfg *config.Config) (guest.Store, func(), error) {
	if cfg.Storage.RedisURL == "" {
		return guest.NewMemoryStore(cfg.Guest.CleanupThreshold), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.Storage.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return guest.NewRedisStore(client), func() { _ = client.Close() }, nil
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
