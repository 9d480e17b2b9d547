package main

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// applyBaseConfig seeds viper with a complete valid configuration. The tests
// below share viper's global state, so they must not run in parallel.
func applyBaseConfig() {
	viper.Set("jwt_signing_secret", "test-signing-secret")
	viper.Set("access_token_ttl", 30*time.Minute)
	viper.Set("refresh_token_ttl", 7*24*time.Hour)
	viper.Set("auth_code_ttl", 3*time.Minute)
	viper.Set("login_state_ttl", 5*time.Minute)
	viper.Set("refresh_cookie_name", "refresh_token")
	viper.Set("cookie_domain", "")
	viper.Set("frontend_redirect_url", "http://localhost:3000/oauth/redirect")
	viper.Set("frontend_error_url", "http://localhost:3000/login/error")
}

func TestLoadServerConfigAcceptsCompleteConfiguration(t *testing.T) {
	applyBaseConfig()

	serverConfig, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if string(serverConfig.JWTSigningSecret) != "test-signing-secret" {
		t.Fatalf("unexpected signing secret")
	}
	if serverConfig.AccessTokenTTL != 30*time.Minute || serverConfig.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected TTLs: %+v", serverConfig)
	}
	if serverConfig.AuthCodeTTL != 3*time.Minute || serverConfig.LoginStateTTL != 5*time.Minute {
		t.Fatalf("unexpected code TTLs: %+v", serverConfig)
	}
	if serverConfig.RefreshCookieName != "refresh_token" {
		t.Fatalf("unexpected cookie name %q", serverConfig.RefreshCookieName)
	}
}

func TestLoadServerConfigRequiresSigningSecret(t *testing.T) {
	applyBaseConfig()
	viper.Set("jwt_signing_secret", "")

	_, err := LoadServerConfig()
	if err == nil || !strings.Contains(err.Error(), configCodeMissingSigningSecret) {
		t.Fatalf("expected %s, got %v", configCodeMissingSigningSecret, err)
	}
}

func TestLoadServerConfigRejectsNonPositiveTTLs(t *testing.T) {
	cases := []struct {
		key  string
		code string
	}{
		{key: "access_token_ttl", code: configCodeInvalidAccessTTL},
		{key: "refresh_token_ttl", code: configCodeInvalidRefreshTTL},
		{key: "auth_code_ttl", code: configCodeInvalidAuthCodeTTL},
	}
	for _, testCase := range cases {
		applyBaseConfig()
		viper.Set(testCase.key, time.Duration(0))

		if _, err := LoadServerConfig(); err == nil || !strings.Contains(err.Error(), testCase.code) {
			t.Fatalf("%s: expected %s, got %v", testCase.key, testCase.code, err)
		}
	}
}

func TestLoadServerConfigDefaultsLoginStateTTL(t *testing.T) {
	applyBaseConfig()
	viper.Set("login_state_ttl", time.Duration(0))

	serverConfig, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if serverConfig.LoginStateTTL != 5*time.Minute {
		t.Fatalf("expected fallback login state TTL, got %s", serverConfig.LoginStateTTL)
	}
}
