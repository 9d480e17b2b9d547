package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/api/idtoken"

	"github.com/hyzoon/authbridge/internal/authkit"
)

// GoogleTokenValidator verifies a Google ID token and returns its claims.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, token string, audience string) (map[string]any, error)
}

type googleAPIValidator struct{}

// NewGoogleTokenValidator returns a validator backed by Google's certificates.
func NewGoogleTokenValidator() GoogleTokenValidator {
	return googleAPIValidator{}
}

func (googleAPIValidator) Validate(ctx context.Context, token string, audience string) (map[string]any, error) {
	validator, validatorErr := idtoken.NewValidator(ctx)
	if validatorErr != nil {
		return nil, validatorErr
	}
	payload, validateErr := validator.Validate(ctx, token, audience)
	if validateErr != nil {
		return nil, validateErr
	}
	return payload.Claims, nil
}

// GoogleLogin handles the ID-token sign-in path: no browser redirect is
// involved, so the token pair is returned directly instead of an exchange
// code round-trip.
type GoogleLogin struct {
	validator    GoogleTokenValidator
	webClientID  string
	extractors   *authkit.ExtractorRegistry
	identities   authkit.IdentityStore
	lifecycle    *authkit.TokenLifecycle
	serverConfig authkit.ServerConfig
	logger       *zap.Logger
}

// NewGoogleLogin wires the direct Google Sign-In endpoint.
func NewGoogleLogin(validator GoogleTokenValidator, webClientID string, serverConfig authkit.ServerConfig, extractors *authkit.ExtractorRegistry, identities authkit.IdentityStore, lifecycle *authkit.TokenLifecycle, logger *zap.Logger) *GoogleLogin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoogleLogin{
		validator:    validator,
		webClientID:  webClientID,
		extractors:   extractors,
		identities:   identities,
		lifecycle:    lifecycle,
		serverConfig: serverConfig,
		logger:       logger,
	}
}

// MountGoogleLogin registers POST /api/v1/auth/google.
func (login *GoogleLogin) MountGoogleLogin(router gin.IRouter) {
	router.POST("/api/v1/auth/google", login.handleGoogleLogin)
}

func (login *GoogleLogin) handleGoogleLogin(contextGin *gin.Context) {
	var inbound struct {
		GoogleIDToken string `json:"google_id_token"`
	}
	if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.GoogleIDToken) == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}

	claims, validateErr := login.validator.Validate(contextGin.Request.Context(), inbound.GoogleIDToken, login.webClientID)
	if validateErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_google_token"})
		return
	}
	issuer, _ := claims["iss"].(string)
	if issuer != "https://accounts.google.com" && issuer != "accounts.google.com" {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_issuer"})
		return
	}
	if verified, _ := claims["email_verified"].(bool); !verified {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unverified_identity"})
		return
	}

	profile, extractErr := login.extractors.Extract("google", claims)
	if extractErr != nil {
		login.logger.Error("google attribute extraction failed", zap.Error(extractErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if strings.TrimSpace(profile.Email) == "" {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": authkit.ErrEmailMissing.Error()})
		return
	}

	identity, upsertErr := login.identities.Upsert(contextGin.Request.Context(), authkit.Identity{
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL,
		Role:        authkit.RoleGuest,
	})
	if upsertErr != nil {
		login.logger.Error("identity upsert failed", zap.Error(upsertErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	exchangeCode, loginErr := login.lifecycle.CompleteLogin(contextGin.Request.Context(), identity)
	if loginErr != nil {
		login.logger.Error("login completion failed", zap.Error(loginErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	pair, redeemErr := login.lifecycle.RedeemCode(contextGin.Request.Context(), exchangeCode)
	if redeemErr != nil {
		login.logger.Error("immediate code redemption failed", zap.Error(redeemErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	authkit.WriteRefreshCookie(contextGin, login.serverConfig, pair.RefreshToken)
	contextGin.JSON(http.StatusOK, pair)
}
