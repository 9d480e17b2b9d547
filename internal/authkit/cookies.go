package authkit

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// WriteRefreshCookie sets the refresh token as an HttpOnly cookie on path /,
// bounded by the refresh TTL. JS clients never see the token itself.
func WriteRefreshCookie(contextGin *gin.Context, configuration ServerConfig, refreshToken string) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     configuration.RefreshCookieName,
		Value:    refreshToken,
		Path:     "/",
		Domain:   configuration.CookieDomain,
		MaxAge:   int(configuration.RefreshTTL.Seconds()),
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}

// ClearRefreshCookie expires the refresh cookie on the client.
func ClearRefreshCookie(contextGin *gin.Context, configuration ServerConfig) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     configuration.RefreshCookieName,
		Value:    "",
		Path:     "/",
		Domain:   configuration.CookieDomain,
		MaxAge:   -1,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}
