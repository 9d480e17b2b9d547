package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hyzoon/authbridge/internal/authkit"
)

// HandleWhoAmI resolves the authenticated subject's profile payload. It runs
// behind RequireSession, which derives the subject from the access token once
// at the boundary.
func HandleWhoAmI(identities authkit.IdentityStore, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if identities == nil {
		panic("identity store is required")
	}

	return func(contextGin *gin.Context) {
		subject := contextGin.GetString(authkit.ContextKeySubject)
		if subject == "" {
			logger.Warn("missing auth subject on context",
				zap.String("code", "api.me.missing_subject"))
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		authorities, _ := contextGin.Get(authkit.ContextKeyAuthorities)

		identity, findErr := identities.FindByEmail(contextGin.Request.Context(), subject)
		if findErr != nil {
			if errors.Is(findErr, authkit.ErrIdentityNotFound) {
				logger.Warn("identity missing for authenticated subject",
					zap.String("code", "api.me.identity_missing"),
					zap.String("email", subject))
				contextGin.AbortWithStatus(http.StatusUnauthorized)
				return
			}
			logger.Error("identity lookup error",
				zap.String("code", "api.me.lookup_error"),
				zap.String("email", subject),
				zap.Error(findErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		contextGin.JSON(http.StatusOK, gin.H{
			"email":       identity.Email,
			"display":     identity.DisplayName,
			"avatar_url":  identity.AvatarURL,
			"role":        identity.Role,
			"authorities": authorities,
		})
	}
}
