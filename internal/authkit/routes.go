package authkit

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MountAuthRoutes registers the token endpoints: code exchange, refresh, and
// logout. The browser-facing login redirects live at the web boundary; these
// routes speak JSON to the API client.
func MountAuthRoutes(router gin.IRouter, configuration ServerConfig, lifecycle *TokenLifecycle, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	router.POST("/api/v1/auth/token", func(contextGin *gin.Context) {
		var inbound struct {
			Code string `json:"code"`
		}
		if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.Code) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}

		pair, redeemErr := lifecycle.RedeemCode(contextGin.Request.Context(), inbound.Code)
		if errors.Is(redeemErr, ErrInvalidExchangeCode) {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidExchangeCode.Error()})
			return
		}
		if redeemErr != nil {
			logger.Error("exchange code redemption failed", zap.Error(redeemErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		WriteRefreshCookie(contextGin, configuration, pair.RefreshToken)
		contextGin.JSON(http.StatusOK, pair)
	})

	router.POST("/api/v1/auth/refresh", func(contextGin *gin.Context) {
		refreshCookie, cookieErr := contextGin.Request.Cookie(configuration.RefreshCookieName)
		if cookieErr != nil || refreshCookie == nil || strings.TrimSpace(refreshCookie.Value) == "" {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		pair, refreshErr := lifecycle.Refresh(contextGin.Request.Context(), refreshCookie.Value)
		if errors.Is(refreshErr, ErrInvalidRefreshToken) || errors.Is(refreshErr, ErrIdentityNotFound) {
			ClearRefreshCookie(contextGin, configuration)
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidRefreshToken.Error()})
			return
		}
		if refreshErr != nil {
			logger.Error("refresh rotation failed", zap.Error(refreshErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		WriteRefreshCookie(contextGin, configuration, pair.RefreshToken)
		contextGin.JSON(http.StatusOK, pair)
	})

	router.POST("/api/v1/auth/logout", func(contextGin *gin.Context) {
		refreshCookie, cookieErr := contextGin.Request.Cookie(configuration.RefreshCookieName)
		if cookieErr == nil && refreshCookie != nil && strings.TrimSpace(refreshCookie.Value) != "" {
			lifecycle.Logout(contextGin.Request.Context(), refreshCookie.Value)
		}
		ClearRefreshCookie(contextGin, configuration)
		contextGin.JSON(http.StatusOK, gin.H{"message": "logout successful"})
	})
}
