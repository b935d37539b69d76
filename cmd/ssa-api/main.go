package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ssaucsd/ssaucsd-org/internal/analytics"
	"github.com/ssaucsd/ssaucsd-org/internal/auth"
	"github.com/ssaucsd/ssaucsd-org/internal/config"
	"github.com/ssaucsd/ssaucsd-org/internal/database"
	"github.com/ssaucsd/ssaucsd-org/internal/events"
	"github.com/ssaucsd/ssaucsd-org/internal/logging"
	"github.com/ssaucsd/ssaucsd-org/internal/migrations"
	"github.com/ssaucsd/ssaucsd-org/internal/models"
	"github.com/ssaucsd/ssaucsd-org/internal/resources"
	"github.com/ssaucsd/ssaucsd-org/internal/rsvps"
	"github.com/ssaucsd/ssaucsd-org/internal/server"
	"github.com/ssaucsd/ssaucsd-org/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ssa-api",
		Short: "Student organization membership and attendance backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newBackfillCommand(), newImportSnapshotCommand(), newMigrateLegacyCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, mysql)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "MySQL DSN")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Int("session-ttl-minutes", defaults.GetInt("session.ttl_minutes"), "Session TTL in minutes")
	cmd.PersistentFlags().String("identity-jwks-url", "", "Identity provider JWKS URL")
	cmd.PersistentFlags().String("migration-secret", "", "Shared secret for maintenance operations")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "session.ttl_minutes", "session-ttl-minutes")
	bindFlag(cmd, "identity.jwks_url", "identity-jwks-url")
	bindFlag(cmd, "migration.secret", "migration-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("ssa-api")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func openDatabase(appConfig config.AppConfig, logger *zap.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = sqlDB.Close() }, nil
}

func newAnalyticsSink(appConfig config.AppConfig, logger *zap.Logger) (analytics.Sink, func(), error) {
	if appConfig.AnalyticsRedisAddress == "" {
		return analytics.NopSink{}, func() {}, nil
	}
	client := analytics.NewRedisClient(appConfig.AnalyticsRedisAddress)
	sink, err := analytics.NewRedisSink(analytics.RedisSinkConfig{
		Client: client,
		Stream: appConfig.AnalyticsStream,
		Logger: logger,
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return sink, func() {
		sink.Flush()
		_ = client.Close()
	}, nil
}

func newIdentityVerifier(appConfig config.AppConfig, logger *zap.Logger) (server.IdentityVerifier, error) {
	if appConfig.IdentityJWKSURL == "" {
		logger.Info("identity verifier disabled; session exchange not routed")
		return nil, nil
	}
	verifier, err := auth.NewIdentityVerifier(auth.IdentityVerifierConfig{
		Audience:       appConfig.IdentityAudience,
		JWKSURL:        appConfig.IdentityJWKSURL,
		AllowedIssuers: appConfig.IdentityIssuers,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	return verifier, nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, closeDB, err := openDatabase(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	sink, closeSink, err := newAnalyticsSink(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	verifier, err := newIdentityVerifier(appConfig, logger)
	if err != nil {
		return err
	}
	sessionIssuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		TTL:           appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	ids := models.NewUUIDProvider()
	dispatcher := server.NewRealtimeDispatcher()

	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: ids,
		Logger:     logger,
		Analytics:  sink,
		Notifier:   dispatcher,
	})
	if err != nil {
		return err
	}
	eventsService, err := events.NewService(events.ServiceConfig{Database: db, Clock: time.Now, IDProvider: ids, Logger: logger})
	if err != nil {
		return err
	}
	rsvpsService, err := rsvps.NewService(rsvps.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: ids,
		Logger:     logger,
		Analytics:  sink,
		Notifier:   dispatcher,
	})
	if err != nil {
		return err
	}
	resourcesService, err := resources.NewService(resources.ServiceConfig{Database: db, Clock: time.Now, IDProvider: ids, Logger: logger})
	if err != nil {
		return err
	}
	migrationsService, err := migrations.NewService(migrations.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: ids,
		Logger:     logger,
		Secret:     appConfig.MigrationSecret,
		Notifier:   dispatcher,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		IdentityVerifier: verifier,
		SessionIssuer:    sessionIssuer,
		SessionValidator: sessionValidator,
		Users:            usersService,
		Events:           eventsService,
		Rsvps:            rsvpsService,
		Resources:        resourcesService,
		Migrations:       migrationsService,
		Realtime:         dispatcher,
		AllowedOrigins:   appConfig.AllowedOrigins,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(dispatcher.Close)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
