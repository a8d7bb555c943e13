package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"composer/api/internal/app"
	"composer/api/internal/cache"
	"composer/api/internal/contentsvc"
	"composer/api/internal/gitrepo"
	"composer/api/internal/page"
	"composer/api/internal/preview"
	"composer/api/internal/search"
	"composer/api/internal/store"
)

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(cfg.ContentServiceURL) == "" {
		return errors.New("CONTENT_SERVICE_URL is not set")
	}

	deps := app.Deps{Logger: log}

	content := contentsvc.New(cfg.ContentServiceURL, cfg.ContentServiceTimeout)
	deps.Content = content

	var templateCache page.TemplateCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := cache.NewTemplateCache(cfg.RedisURL, cfg.TemplateCacheTTL)
		if err != nil {
			log.Warn().Err(err).Msg("template cache disabled")
		} else {
			defer redisCache.Close()
			templateCache = redisCache
			deps.Cache = redisCache
		}
	}
	loader := page.NewCachedTemplateLoader(content, templateCache, log)
	deps.Templates = loader
	deps.TemplateCache = loader

	var ledger *store.PostgresStore
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		if names, err := store.ApplyMigrations(ctx, db, migrationsFS()); err != nil {
			return err
		} else if len(names) > 0 {
			log.Info().Strs("migrations", names).Msg("migrations applied")
		}
		ledger = store.NewPostgresStore(db)
		deps.Ledger = ledger
	} else {
		log.Warn().Msg("DATABASE_URL not set; save ledger disabled")
	}

	if err := os.MkdirAll(cfg.RevisionsDir, 0o755); err != nil {
		return err
	}
	deps.Revisions = gitrepo.New(cfg.RevisionsDir)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}
	var searchLedger search.Ledger
	if ledger != nil {
		searchLedger = ledger
	}
	searchService := search.NewService(meiliClient, searchLedger, log)
	deps.Search = searchService
	if meiliClient != nil && ledger != nil {
		go searchService.ReindexFromLedger(context.Background())
	}

	var publisher *preview.Publisher
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		var err error
		publisher, err = preview.NewMinioPublisher(ctx, preview.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
			Bucket:    cfg.PreviewBucket,
		})
		if err != nil {
			log.Warn().Err(err).Msg("preview publishing disabled")
			publisher = nil
		}
	}
	deps.Preview = preview.NewService(publisher, log)

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("composer API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	return nil
}
