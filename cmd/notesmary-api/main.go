package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/auth"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/cache"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/config"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/database"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/ids"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/logging"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/notes"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/realtime"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/rooms"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/server"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/users"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "notesmary-api",
		Short: "Notesmary study rooms and notes backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("allowed-origins", nil, "Browser origins trusted with credentialed requests")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Bool("redis-enabled", defaults.GetBool("redis.enabled"), "Fan change events out through redis")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address")
	cmd.PersistentFlags().String("cache-backend", defaults.GetString("cache.backend"), "Notes cache backend (database, redis)")
	cmd.PersistentFlags().String("connectivity-mode", defaults.GetString("connectivity.mode"), "Connectivity mode (online, static, probe)")
	cmd.PersistentFlags().String("connectivity-probe-url", "", "URL probed in probe connectivity mode")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "redis.enabled", "redis-enabled")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "cache.backend", "cache-backend")
	bindFlag(cmd, "connectivity.mode", "connectivity-mode")
	bindFlag(cmd, "connectivity.probe_url", "connectivity-probe-url")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
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

	db, err := database.Open(database.Config{
		Driver:   appConfig.DatabaseDriver,
		DSN:      appConfig.DatabaseDSN,
		Path:     appConfig.DatabasePath,
		LogLevel: appConfig.LogLevel,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub(realtime.HubConfig{Logger: logger})
	defer hub.Close()

	var redisClient *redis.Client
	if appConfig.RedisEnabled || appConfig.CacheBackend == config.CacheBackendRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
		})
		defer redisClient.Close()
	}

	if appConfig.RedisEnabled {
		bridge, err := realtime.NewRedisBridge(realtime.RedisBridgeConfig{
			Client:   redisClient,
			Hub:      hub,
			Channel:  appConfig.RedisChannel,
			NodeName: appConfig.RedisNodeName,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		if err := bridge.Start(signalCtx); err != nil {
			return err
		}
		defer bridge.Close()
	}

	var notesCache cache.Store
	switch appConfig.CacheBackend {
	case config.CacheBackendRedis:
		notesCache, err = cache.NewRedisStore(cache.RedisStoreConfig{Client: redisClient})
	default:
		notesCache, err = cache.NewGormStore(cache.GormStoreConfig{Database: db, Logger: logger})
	}
	if err != nil {
		return err
	}

	network, err := newNetworkStatus(appConfig)
	if err != nil {
		return err
	}

	profiles, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now})
	if err != nil {
		return err
	}

	roomStore, err := rooms.NewStore(rooms.StoreConfig{
		Database:   db,
		Publisher:  hub,
		Clock:      time.Now,
		IDProvider: ids.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	repository, err := notes.NewRepository(notes.RepositoryConfig{
		Database:   db,
		Publisher:  hub,
		Clock:      time.Now,
		IDProvider: ids.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	notesService, err := notes.NewService(notes.ServiceConfig{
		Backend:  repository,
		Cache:    notesCache,
		Network:  network,
		Notifier: notes.NewLogNotifier(logger),
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
		CookieName:    appConfig.AuthCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Profiles:         profiles,
		Rooms:            roomStore,
		NotesService:     notesService,
		Transport:        hub,
		AllowedOrigins:   appConfig.AllowedOrigins,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newTokenCommand mints a session token signed with the configured secret for local development.
func newTokenCommand() *cobra.Command {
	var (
		identity auth.SessionIdentity
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development session token",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
				SigningSecret: []byte(appConfig.AuthSigningSecret),
				Issuer:        appConfig.AuthIssuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(identity)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&identity.UserID, "user-id", "", "User id carried in the token")
	cmd.Flags().StringVar(&identity.Email, "email", "", "User email carried in the token")
	cmd.Flags().StringVar(&identity.DisplayName, "name", "", "Display name carried in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

// newNetworkStatus returns nil in online mode; the notes service then treats the backend as reachable.
func newNetworkStatus(appConfig config.AppConfig) (notes.NetworkStatus, error) {
	switch appConfig.ConnectivityMode {
	case config.ConnectivityStatic:
		return notes.NewStaticStatus(true), nil
	case config.ConnectivityProbe:
		probe, err := notes.NewHTTPProbe(notes.HTTPProbeConfig{
			URL:     appConfig.ConnectivityProbe,
			Timeout: appConfig.ConnectivityTimeout,
		})
		if err != nil {
			return nil, err
		}
		return probe, nil
	default:
		return nil, nil
	}
}
