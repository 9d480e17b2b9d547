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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hyzoon/authbridge/internal/authkit"
	"github.com/hyzoon/authbridge/internal/identitypg"
	"github.com/hyzoon/authbridge/internal/web"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "authbridge",
		Short:   "Auth service bridging provider logins to signed session tokens via one-time exchange codes",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("jwt_signing_secret", "", "HS512 signing secret for access and refresh tokens")
	rootCmd.Flags().Duration("access_token_ttl", 30*time.Minute, "Access token TTL")
	rootCmd.Flags().Duration("refresh_token_ttl", 7*24*time.Hour, "Refresh token TTL")
	rootCmd.Flags().Duration("auth_code_ttl", 3*time.Minute, "One-time exchange code TTL")
	rootCmd.Flags().Duration("login_state_ttl", 5*time.Minute, "OAuth2 login state TTL")
	rootCmd.Flags().String("refresh_cookie_name", "refresh_token", "Name of the HttpOnly refresh cookie")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().String("redis_addr", "", "Redis address for the exchange store; leave empty for in-memory")
	rootCmd.Flags().String("redis_password", "", "Redis password")
	rootCmd.Flags().Int("redis_db", 0, "Redis database index")
	rootCmd.Flags().String("redis_key_prefix", "authbridge", "Redis key prefix")
	rootCmd.Flags().String("database_url", "", "Identity database URL (postgres:// or sqlite://; leave empty for in-memory store)")
	rootCmd.Flags().String("frontend_redirect_url", "http://localhost:3000/oauth/redirect", "Frontend URL receiving the exchange code")
	rootCmd.Flags().String("frontend_error_url", "http://localhost:3000/login/error", "Frontend URL receiving login failures")
	rootCmd.Flags().String("callback_base_url", "http://localhost:8080", "Externally reachable base URL for provider callbacks")
	rootCmd.Flags().String("github_client_id", "", "GitHub OAuth client ID")
	rootCmd.Flags().String("github_client_secret", "", "GitHub OAuth client secret")
	rootCmd.Flags().String("google_client_id", "", "Google OAuth client ID")
	rootCmd.Flags().String("google_client_secret", "", "Google OAuth client secret")
	rootCmd.Flags().String("google_web_client_id", "", "Google Web client ID for ID-token sign-in; empty disables the endpoint")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP cookies for local dev")

	for _, name := range []string{
		"listen_addr", "jwt_signing_secret", "access_token_ttl", "refresh_token_ttl",
		"auth_code_ttl", "login_state_ttl", "refresh_cookie_name", "cookie_domain",
		"redis_addr", "redis_password", "redis_db", "redis_key_prefix", "database_url",
		"frontend_redirect_url", "frontend_error_url", "callback_base_url",
		"github_client_id", "github_client_secret", "google_client_id",
		"google_client_secret", "google_web_client_id", "enable_cors",
		"cors_allowed_origins", "dev_insecure_http",
	} {
		_ = viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeMissingSigningSecret    = "config.missing_jwt_signing_secret"
	configCodeInvalidAccessTTL        = "config.invalid_access_token_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_token_ttl"
	configCodeInvalidAuthCodeTTL      = "config.invalid_auth_code_ttl"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig assembles and validates the token configuration from viper.
func LoadServerConfig() (authkit.ServerConfig, error) {
	signingSecret := viper.GetString("jwt_signing_secret")
	if signingSecret == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingSigningSecret, "jwt_signing_secret must be provided")
	}

	accessTTL := viper.GetDuration("access_token_ttl")
	if accessTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidAccessTTL, "access_token_ttl must be greater than zero")
	}
	refreshTTL := viper.GetDuration("refresh_token_ttl")
	if refreshTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_token_ttl must be greater than zero")
	}
	authCodeTTL := viper.GetDuration("auth_code_ttl")
	if authCodeTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidAuthCodeTTL, "auth_code_ttl must be greater than zero")
	}
	loginStateTTL := 5 * time.Minute
	if configuredStateTTL := viper.GetDuration("login_state_ttl"); configuredStateTTL > 0 {
		loginStateTTL = configuredStateTTL
	}

	return authkit.ServerConfig{
		JWTSigningSecret:    []byte(signingSecret),
		AccessTokenTTL:      accessTTL,
		RefreshTTL:          refreshTTL,
		AuthCodeTTL:         authCodeTTL,
		LoginStateTTL:       loginStateTTL,
		RefreshCookieName:   viper.GetString("refresh_cookie_name"),
		CookieDomain:        viper.GetString("cookie_domain"),
		FrontendRedirectURL: viper.GetString("frontend_redirect_url"),
		FrontendErrorURL:    viper.GetString("frontend_error_url"),
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(authkit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	serverConfig.AllowInsecureHTTP = viper.GetBool("dev_insecure_http")
	serverConfig.SameSiteMode = http.SameSiteStrictMode
	enableCORS := viper.GetBool("enable_cors")
	if enableCORS {
		serverConfig.SameSiteMode = http.SameSiteNoneMode
	}

	codec, codecErr := authkit.NewTokenCodec(serverConfig.JWTSigningSecret, serverConfig.AccessTokenTTL, serverConfig.RefreshTTL)
	if codecErr != nil {
		return codecErr
	}

	exchangeStore, storeErr := buildExchangeStore(command.Context(), logger)
	if storeErr != nil {
		return storeErr
	}

	identityStore, identityErr := buildIdentityStore(command.Context(), logger)
	if identityErr != nil {
		return identityErr
	}

	metricsRecorder := authkit.NewCounterMetrics()
	lifecycle, lifecycleErr := authkit.NewTokenLifecycle(codec, exchangeStore, identityStore,
		serverConfig.AuthCodeTTL, serverConfig.RefreshTTL, logger, metricsRecorder)
	if lifecycleErr != nil {
		return lifecycleErr
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, viper.GetStringSlice("cors_allowed_origins"))
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	extractors := authkit.NewExtractorRegistry()
	stateStore := authkit.NewMemoryLoginStateStore(serverConfig.LoginStateTTL)

	providers := configuredProviders()
	if len(providers) > 0 {
		loginFlow, flowErr := web.NewLoginFlow(web.LoginFlowConfig{
			Providers:       providers,
			CallbackBaseURL: viper.GetString("callback_base_url"),
		}, serverConfig, stateStore, extractors, identityStore, lifecycle, logger)
		if flowErr != nil {
			return flowErr
		}
		loginFlow.MountLoginRoutes(router)
	} else {
		logger.Warn("no OAuth2 providers configured; redirect login disabled")
	}

	if googleWebClientID := viper.GetString("google_web_client_id"); googleWebClientID != "" {
		googleLogin := web.NewGoogleLogin(web.NewGoogleTokenValidator(), googleWebClientID,
			serverConfig, extractors, identityStore, lifecycle, logger)
		googleLogin.MountGoogleLogin(router)
	}

	authkit.MountAuthRoutes(router, serverConfig, lifecycle, logger)

	protected := router.Group("/")
	protected.Use(authkit.RequireSession(codec))
	protected.GET("/api/v1/user/me", web.HandleWhoAmI(identityStore, logger))

	listenAddr := viper.GetString("listen_addr")
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func buildExchangeStore(ctx context.Context, logger *zap.Logger) (authkit.ExchangeStore, error) {
	redisAddr := viper.GetString("redis_addr")
	if redisAddr == "" {
		logger.Info("using in-memory exchange store")
		return authkit.NewMemoryExchangeStore(), nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := authkit.NewRedisExchangeStore(ctx, authkit.RedisConfig{
		Addr:      redisAddr,
		Password:  viper.GetString("redis_password"),
		DB:        viper.GetInt("redis_db"),
		KeyPrefix: viper.GetString("redis_key_prefix"),
	})
	if err != nil {
		return nil, err
	}
	logger.Info("using redis exchange store", zap.String("addr", redisAddr))
	return store, nil
}

func buildIdentityStore(ctx context.Context, logger *zap.Logger) (authkit.IdentityStore, error) {
	databaseURL := viper.GetString("database_url")
	if databaseURL == "" {
		logger.Info("using in-memory identity store")
		return web.NewMemoryIdentityStore(), nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		pool, poolErr := identitypg.BuildPool(ctx, databaseURL)
		if poolErr != nil {
			return nil, poolErr
		}
		if schemaErr := identitypg.EnsureSchema(ctx, pool); schemaErr != nil {
			return nil, schemaErr
		}
		logger.Info("using postgres identity store")
		return identitypg.NewPostgresIdentityStore(pool), nil
	}
	store, storeErr := authkit.NewDatabaseIdentityStore(ctx, databaseURL)
	if storeErr != nil {
		return nil, storeErr
	}
	logger.Info("using database identity store", zap.String("driver", store.Driver()))
	return store, nil
}

func configuredProviders() map[string]web.ProviderCredentials {
	providers := make(map[string]web.ProviderCredentials)
	if id := viper.GetString("github_client_id"); id != "" {
		providers["github"] = web.ProviderCredentials{
			ClientID:     id,
			ClientSecret: viper.GetString("github_client_secret"),
		}
	}
	if id := viper.GetString("google_client_id"); id != "" {
		providers["google"] = web.ProviderCredentials{
			ClientID:     id,
			ClientSecret: viper.GetString("google_client_secret"),
		}
	}
	return providers
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
