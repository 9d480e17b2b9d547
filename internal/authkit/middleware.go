package authkit

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys under which RequireSession stores the authenticated subject
// and its authority codes. Handlers read these instead of re-parsing tokens.
const (
	ContextKeySubject     = "auth_subject"
	ContextKeyAuthorities = "auth_authorities"
)

// RequireSession validates the Bearer access token and injects the subject
// and authorities into the request context. Expired and malformed tokens are
// rejected identically.
func RequireSession(codec *TokenCodec) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		token := bearerToken(contextGin.GetHeader("Authorization"))
		if token == "" {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		verification := codec.Verify(token)
		if !verification.Valid {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		contextGin.Set(ContextKeySubject, verification.Subject)
		contextGin.Set(ContextKeyAuthorities, splitAuthorities(verification.Authorities))
		contextGin.Next()
	}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func splitAuthorities(joined string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	authorities := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			authorities = append(authorities, trimmed)
		}
	}
	return authorities
}
