package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"integrations-gateway/config"
	"integrations-gateway/internal/metrics"
	repoInterface "integrations-gateway/internal/repository/interface"
	"integrations-gateway/internal/repository/memory"
	"integrations-gateway/internal/repository/postgres"
	"integrations-gateway/internal/service/connect"
	"integrations-gateway/internal/service/credentials"
	"integrations-gateway/internal/service/encryption"
	"integrations-gateway/internal/service/oauth2client"
	"integrations-gateway/internal/service/oauthstate"
	"integrations-gateway/internal/service/organization"
	"integrations-gateway/internal/service/webhook"
	"integrations-gateway/internal/transport/api"
	"integrations-gateway/internal/transport/middleware"
)

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	// Хранилище и членство в организациях
	repo, resolver, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ledger, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	// Инициализируем сервисы
	encryptor := encryption.NewEncryptor(cfg.EncryptionKey)
	store := credentials.NewStore(repo, encryptor)
	m := metrics.New()

	deps := connect.Deps{
		Codec:   oauthstate.NewCodec(cfg.StateSecret, cfg.StateTTL),
		Ledger:  ledger,
		Cipher:  encryptor,
		Store:   store,
		Metrics: m,
		BaseURL: cfg.BaseURL,
	}
	registry := buildRegistry(deps, cfg)
	log.Info().Interface("providers", registry.Providers()).Msg("oauth providers configured")

	verifier := webhook.NewVerifier(repo, encryptor, cfg.WebhookSignatureTolerance)
	webhookHandler := webhook.NewHandler(repo, verifier, m, webhook.Config{
		Timeout:      cfg.WebhookTimeout,
		MaxBodyBytes: cfg.WebhookMaxBodyBytes,
	})

	// Создаем Echo сервер
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery())
	e.Use(middleware.RequestLogger())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     []string{cfg.AppURL},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.OrganizationHeader},
		AllowCredentials: true,
	}))

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret, resolver)
	api.SetupRoutes(
		e,
		api.NewIntegrationAPI(repo, store, registry, cfg.AppURL, cfg.IntegrationsPage),
		api.NewWebhookAPI(webhookHandler),
		authMiddleware,
		m,
	)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("server started")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-quit:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("shutting down")
	return e.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config) (repoInterface.IntegrationRepository, organization.Resolver, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return memory.NewIntegrationRepository(), devResolver(cfg.DevMemberships), func() {}, nil
	case "postgres":
		db, err := sqlx.Connect("postgres", cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := postgres.RunMigrations(ctx, db.DB); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return postgres.NewIntegrationRepository(db), organization.NewPostgresResolver(db), func() { db.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// devResolver разбирает "user:org[:role],...". Без роли пользователь - owner.
func devResolver(memberships string) *organization.StaticResolver {
	resolver := organization.NewStaticResolver()
	for _, entry := range strings.Split(memberships, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		role := organization.RoleOwner
		if len(parts) > 2 && parts[2] != "" {
			role = parts[2]
		}
		resolver.Add(parts[0], parts[1], role)
	}
	return resolver
}

func openLedger(ctx context.Context, cfg *config.Config) (oauthstate.Ledger, func(), error) {
	switch cfg.NonceLedger {
	case "off":
		return oauthstate.NopLedger{}, func() {}, nil
	case "redis":
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisAddr}})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return oauthstate.NewRedisLedger(client), func() { client.Close() }, nil
	case "memory", "":
		return oauthstate.NewMemoryLedger(cfg.StateTTL), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown NONCE_LEDGER %q", cfg.NonceLedger)
	}
}

// buildRegistry регистрирует только провайдеров с заданными ключами
func buildRegistry(deps connect.Deps, cfg *config.Config) *connect.Registry {
	client := oauth2client.New(cfg.ProviderHTTPTimeout)

	var connectors []connect.Connector
	if creds := oauthCredentials(cfg.Slack); creds.Configured() {
		connectors = append(connectors, connect.NewSlack(deps, client, creds))
	}
	if creds := oauthCredentials(cfg.GitHub); creds.Configured() {
		connectors = append(connectors, connect.NewGitHub(deps, client, creds))
	}
	if creds := oauthCredentials(cfg.Zoom.OAuthApp); creds.Configured() {
		connectors = append(connectors, connect.NewZoom(deps, client, creds, cfg.Zoom.AccountID))
	}
	trello := connect.TrelloConfig{
		APIKey:    cfg.Trello.APIKey,
		APISecret: cfg.Trello.APISecret,
		AppName:   cfg.Trello.AppName,
	}
	if trello.Configured() {
		connectors = append(connectors, connect.NewTrello(deps, client.HTTPClient(), trello))
	}

	return connect.NewRegistry(connectors...)
}

func oauthCredentials(app config.OAuthApp) connect.ClientCredentials {
	return connect.ClientCredentials{ClientID: app.ClientID, ClientSecret: app.ClientSecret}
}
