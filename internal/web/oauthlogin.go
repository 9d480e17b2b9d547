package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/hyzoon/authbridge/internal/authkit"
)

// ProviderCredentials holds one provider's OAuth2 client registration.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
}

// LoginFlowConfig configures the browser-redirect login flow.
type LoginFlowConfig struct {
	// Providers maps lower-case provider names to their client registrations.
	// Only providers with a registered attribute extractor can be configured.
	Providers map[string]ProviderCredentials
	// CallbackBaseURL is the externally reachable base of this service, used
	// to build the per-provider callback URL.
	CallbackBaseURL string
}

type providerEndpoints struct {
	endpoint    oauth2.Endpoint
	scopes      []string
	userInfoURL string
}

var knownProviders = map[string]providerEndpoints{
	"github": {
		endpoint:    github.Endpoint,
		scopes:      []string{"read:user", "user:email"},
		userInfoURL: "https://api.github.com/user",
	},
	"google": {
		endpoint:    google.Endpoint,
		scopes:      []string{"openid", "email", "profile"},
		userInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
	},
}

// LoginFlow bridges the provider OAuth2 handshake to the token lifecycle:
// authorize redirects out with a one-time state, the callback exchanges the
// provider code, normalizes attributes, upserts the identity, and redirects
// the browser back to the frontend carrying only the exchange code.
type LoginFlow struct {
	oauthConfigs map[string]*oauth2.Config
	userInfoURLs map[string]string
	states       authkit.LoginStateStore
	extractors   *authkit.ExtractorRegistry
	identities   authkit.IdentityStore
	lifecycle    *authkit.TokenLifecycle
	serverConfig authkit.ServerConfig
	logger       *zap.Logger
	httpClient   *http.Client
}

// NewLoginFlow wires the redirect flow for every configured provider.
func NewLoginFlow(configuration LoginFlowConfig, serverConfig authkit.ServerConfig, states authkit.LoginStateStore, extractors *authkit.ExtractorRegistry, identities authkit.IdentityStore, lifecycle *authkit.TokenLifecycle, logger *zap.Logger) (*LoginFlow, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(configuration.Providers) == 0 {
		return nil, errors.New("login_flow: at least one provider must be configured")
	}
	base := strings.TrimRight(configuration.CallbackBaseURL, "/")
	if base == "" {
		return nil, errors.New("login_flow: callback base URL must be provided")
	}

	oauthConfigs := make(map[string]*oauth2.Config, len(configuration.Providers))
	userInfoURLs := make(map[string]string, len(configuration.Providers))
	for name, credentials := range configuration.Providers {
		lowered := strings.ToLower(name)
		settings, known := knownProviders[lowered]
		if !known {
			return nil, fmt.Errorf("login_flow: %w: %s", authkit.ErrUnsupportedProvider, name)
		}
		oauthConfigs[lowered] = &oauth2.Config{
			ClientID:     credentials.ClientID,
			ClientSecret: credentials.ClientSecret,
			Endpoint:     settings.endpoint,
			RedirectURL:  fmt.Sprintf("%s/oauth2/callback/%s", base, lowered),
			Scopes:       settings.scopes,
		}
		userInfoURLs[lowered] = settings.userInfoURL
	}

	return &LoginFlow{
		oauthConfigs: oauthConfigs,
		userInfoURLs: userInfoURLs,
		states:       states,
		extractors:   extractors,
		identities:   identities,
		lifecycle:    lifecycle,
		serverConfig: serverConfig,
		logger:       logger,
		httpClient:   http.DefaultClient,
	}, nil
}

// MountLoginRoutes registers /oauth2/authorize/:provider and
// /oauth2/callback/:provider.
func (flow *LoginFlow) MountLoginRoutes(router gin.IRouter) {
	router.GET("/oauth2/authorize/:provider", flow.handleAuthorize)
	router.GET("/oauth2/callback/:provider", flow.handleCallback)
}

func (flow *LoginFlow) handleAuthorize(contextGin *gin.Context) {
	providerName := strings.ToLower(contextGin.Param("provider"))
	oauthConfig, ok := flow.oauthConfigs[providerName]
	if !ok {
		flow.redirectError(contextGin, "unsupported_provider")
		return
	}

	state, stateErr := flow.states.Issue(contextGin.Request.Context(), providerName)
	if stateErr != nil {
		flow.logger.Error("login state issue failed", zap.Error(stateErr))
		flow.redirectError(contextGin, "login_failed")
		return
	}

	contextGin.Redirect(http.StatusFound, oauthConfig.AuthCodeURL(state))
}

func (flow *LoginFlow) handleCallback(contextGin *gin.Context) {
	providerName := strings.ToLower(contextGin.Param("provider"))
	oauthConfig, ok := flow.oauthConfigs[providerName]
	if !ok {
		flow.redirectError(contextGin, "unsupported_provider")
		return
	}

	state := contextGin.Query("state")
	providerCode := contextGin.Query("code")
	if state == "" || providerCode == "" {
		flow.redirectError(contextGin, "login_failed")
		return
	}

	issuedFor, stateErr := flow.states.Consume(contextGin.Request.Context(), state)
	if stateErr != nil || issuedFor != providerName {
		flow.logger.Warn("login state rejected",
			zap.String("provider", providerName),
			zap.Error(stateErr))
		flow.redirectError(contextGin, "login_failed")
		return
	}

	exchangeCtx := context.WithValue(contextGin.Request.Context(), oauth2.HTTPClient, flow.httpClient)
	providerToken, exchangeErr := oauthConfig.Exchange(exchangeCtx, providerCode)
	if exchangeErr != nil {
		flow.logger.Warn("provider code exchange failed",
			zap.String("provider", providerName),
			zap.Error(exchangeErr))
		flow.redirectError(contextGin, "login_failed")
		return
	}

	attributes, attributesErr := flow.fetchUserAttributes(exchangeCtx, oauthConfig, providerName, providerToken)
	if attributesErr != nil {
		flow.logger.Warn("provider userinfo fetch failed",
			zap.String("provider", providerName),
			zap.Error(attributesErr))
		flow.redirectError(contextGin, "login_failed")
		return
	}

	flow.finishLogin(contextGin, providerName, attributes)
}

// finishLogin runs the shared tail of every login: normalize attributes,
// require an email, upsert the identity, and hand back the exchange code.
func (flow *LoginFlow) finishLogin(contextGin *gin.Context, providerName string, attributes map[string]any) {
	profile, extractErr := flow.extractors.Extract(providerName, attributes)
	if extractErr != nil {
		flow.logger.Error("attribute extraction failed",
			zap.String("provider", providerName),
			zap.Error(extractErr))
		flow.redirectError(contextGin, "unsupported_provider")
		return
	}
	if strings.TrimSpace(profile.Email) == "" {
		flow.logger.Warn("provider payload without email",
			zap.String("provider", providerName))
		flow.redirectError(contextGin, "email_missing")
		return
	}

	identity, upsertErr := flow.identities.Upsert(contextGin.Request.Context(), authkit.Identity{
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL,
		Role:        authkit.RoleGuest,
	})
	if upsertErr != nil {
		flow.logger.Error("identity upsert failed", zap.Error(upsertErr))
		flow.redirectError(contextGin, "login_failed")
		return
	}

	exchangeCode, loginErr := flow.lifecycle.CompleteLogin(contextGin.Request.Context(), identity)
	if loginErr != nil {
		flow.logger.Error("login completion failed", zap.Error(loginErr))
		flow.redirectError(contextGin, "login_failed")
		return
	}

	contextGin.Redirect(http.StatusFound, appendQuery(flow.serverConfig.FrontendRedirectURL, "code", exchangeCode))
}

func (flow *LoginFlow) fetchUserAttributes(ctx context.Context, oauthConfig *oauth2.Config, providerName string, token *oauth2.Token) (map[string]any, error) {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, flow.userInfoURLs[providerName], nil)
	if requestErr != nil {
		return nil, requestErr
	}
	request.Header.Set("Accept", "application/json")

	response, doErr := oauthConfig.Client(ctx, token).Do(request)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned %d", response.StatusCode)
	}

	var attributes map[string]any
	if decodeErr := json.NewDecoder(response.Body).Decode(&attributes); decodeErr != nil {
		return nil, decodeErr
	}
	return attributes, nil
}

func (flow *LoginFlow) redirectError(contextGin *gin.Context, code string) {
	contextGin.Redirect(http.StatusFound, appendQuery(flow.serverConfig.FrontendErrorURL, "error", code))
}

func appendQuery(target string, key string, value string) string {
	parsed, err := url.Parse(target)
	if err != nil {
		return target
	}
	query := parsed.Query()
	query.Set(key, value)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
