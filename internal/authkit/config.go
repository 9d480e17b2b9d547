package authkit

import (
	"net/http"
	"time"
)

// ServerConfig configures signing, TTLs, cookies, and redirect targets.
type ServerConfig struct {
	JWTSigningSecret []byte

	AccessTokenTTL time.Duration
	RefreshTTL     time.Duration
	AuthCodeTTL    time.Duration
	LoginStateTTL  time.Duration

	RefreshCookieName string
	CookieDomain      string
	SameSiteMode      http.SameSite
	AllowInsecureHTTP bool

	// FrontendRedirectURL receives the one-time exchange code as ?code=.
	FrontendRedirectURL string
	// FrontendErrorURL receives login failures as ?error=.
	FrontendErrorURL string
}
