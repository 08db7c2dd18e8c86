package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"sonicvision/internal/auth"
	"sonicvision/internal/catalog"
	"sonicvision/internal/collection"
	"sonicvision/internal/config"
	"sonicvision/internal/media"
	"sonicvision/internal/realtime"
)

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	checks := map[string]collection.HealthCheck{}

	// Store
	var store collection.Store
	switch cfg.Store.Driver {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("pg: %w", err)
		}
		defer pool.Close()
		if err := collection.AutoMigrate(ctx, pool); err != nil {
			return err
		}
		store = collection.NewPostgresStore(pool)
		checks["postgres"] = pool.Ping
	default:
		log.Warn("using in-memory store, data is lost on restart")
		store = collection.NewMemoryStore()
	}

	// Redis backs the shared room registry and the catalog cache.
	var rdb *redis.Client
	if cfg.Realtime.Registry == config.RegistryRedis || len(cfg.Catalog.Providers) > 0 {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	// Rooms
	local := realtime.NewLocalRegistry(cfg.Realtime.MaxRoomMembers, log.Named("rooms"))
	var reg realtime.Registry = local
	if cfg.Realtime.Registry == config.RegistryRedis {
		rr := realtime.NewRedisRegistry(rdb, cfg.Realtime.ChannelPrefix, local, log.Named("rooms"))
		go func() {
			if err := rr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("room subscription stopped", zap.Error(err))
			}
		}()
		reg = rr
	}
	bc := realtime.NewBroadcaster(reg, log.Named("broadcast"))

	// Covers
	covers, err := media.NewLocalStore(cfg.Media.Dir, cfg.Media.BaseURL, log.Named("media"))
	if err != nil {
		return err
	}

	svc := collection.NewService(store, bc, covers, log.Named("collections"), collection.Options{
		MaxItems:         cfg.Store.MaxItems,
		MaxCollaborators: cfg.Store.MaxCollaborators,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(auth.Middleware(auth.NewResolver([]byte(cfg.JWTSecret), cfg.TrustGatewayHeaders)))

	// Websocket handlers hijack the connection, so they stay outside Timeout.
	realtime.NewServer(ctx, reg, bc, svc, log.Named("ws"), realtime.Options{
		AllowedOrigin: cfg.Realtime.AllowedOrigin,
	}).Mount(r)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		collection.NewServer(svc, log.Named("http"), checks).Mount(r)
		if cats := newCatalogs(cfg.Catalog, rdb, log.Named("catalog")); len(cats) > 0 {
			lookups := make(map[string]catalog.Lookup, len(cats))
			for name, c := range cats {
				lookups[name] = c
			}
			catalog.NewServer(lookups, log.Named("catalog")).Mount(r)
		}
		if strings.HasPrefix(cfg.Media.BaseURL, "/") {
			prefix := strings.TrimRight(cfg.Media.BaseURL, "/")
			r.Handle(prefix+"/*", http.StripPrefix(prefix, http.FileServer(http.Dir(covers.Dir()))))
		}
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", httpSrv.Addr), zap.String("store", cfg.Store.Driver), zap.String("registry", cfg.Realtime.Registry))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// newCatalogs builds one client per configured provider, keyed by name.
func newCatalogs(cfg config.CatalogConfig, rdb *redis.Client, log *zap.Logger) map[string]*catalog.Client {
	opts := catalog.Options{
		Cooldown:    cfg.Cooldown.Duration,
		RetryDelay:  cfg.RetryDelay.Duration,
		MaxAttempts: cfg.MaxAttempts,
	}
	if rdb != nil && cfg.CacheTTL.Duration > 0 {
		opts.Cache = catalog.NewCache(rdb, cfg.CacheTTL.Duration, log)
	}

	out := make(map[string]*catalog.Client, len(cfg.Providers))
	for _, name := range cfg.Providers {
		var p catalog.Provider
		switch name {
		case config.ProviderSpotify:
			p = catalog.NewSpotifyProvider(catalog.SpotifyConfig{
				ClientID:          cfg.SpotifyClientID,
				ClientSecret:      cfg.SpotifyClientSecret,
				RequestsPerSecond: cfg.RequestsPerSecond,
			})
		case config.ProviderYouTube:
			p = catalog.NewYouTubeProvider(catalog.YouTubeConfig{
				APIKey:            cfg.YouTubeAPIKey,
				SearchURL:         cfg.YouTubeSearchURL,
				RequestsPerSecond: cfg.RequestsPerSecond,
				Log:               log,
			})
		case config.ProviderTMDB:
			p = catalog.NewTMDBProvider(catalog.TMDBConfig{
				APIKey:            cfg.TMDBAPIKey,
				Language:          cfg.TMDBLanguage,
				RequestsPerSecond: cfg.RequestsPerSecond,
				Log:               log,
			})
		default:
			log.Warn("skipping unknown catalog provider", zap.String("provider", name))
			continue
		}
		out[name] = catalog.NewClient(p, log, opts)
	}
	return out
}

func migrate(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.Store.Driver != config.StorePostgres {
		return fmt.Errorf("migrate: store driver is %q, nothing to migrate", cfg.Store.Driver)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("pg: %w", err)
	}
	defer pool.Close()

	if err := collection.AutoMigrate(ctx, pool); err != nil {
		return err
	}
	log.Info("schema up to date")
	return nil
}
