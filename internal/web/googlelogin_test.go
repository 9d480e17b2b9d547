package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/hyzoon/authbridge/internal/authkit"
)

// recordedValidator returns canned claims and captures the audience it was
// asked to validate against.
type recordedValidator struct {
	claims       map[string]any
	err          error
	seenAudience string
}

func (validator *recordedValidator) Validate(ctx context.Context, token string, audience string) (map[string]any, error) {
	validator.seenAudience = audience
	if validator.err != nil {
		return nil, validator.err
	}
	return validator.claims, nil
}

func googleClaims() map[string]any {
	return map[string]any{
		"iss":            "https://accounts.google.com",
		"sub":            "1098230498234",
		"email":          "a@x.com",
		"email_verified": true,
		"name":           "Person A",
		"picture":        "https://lh3.googleusercontent.com/a/photo",
	}
}

func newGoogleLoginRouter(t *testing.T, fixture *webFixture, validator GoogleTokenValidator) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	login := NewGoogleLogin(validator, "web-client-id", fixture.config,
		authkit.NewExtractorRegistry(), fixture.identities, fixture.lifecycle, zaptest.NewLogger(t))
	router := gin.New()
	login.MountGoogleLogin(router)
	return router
}

func postGoogleLogin(router *gin.Engine, body any) *httptest.ResponseRecorder {
	var buffer bytes.Buffer
	_ = json.NewEncoder(&buffer).Encode(body)
	request := httptest.NewRequest(http.MethodPost, "/api/v1/auth/google", &buffer)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestGoogleLoginReturnsTokenPair(t *testing.T) {
	t.Parallel()

	fixture := newWebFixture(t)
	validator := &recordedValidator{claims: googleClaims()}
	router := newGoogleLoginRouter(t, fixture, validator)

	recorder := postGoogleLogin(router, gin.H{"google_id_token": "signed-google-token"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if validator.seenAudience != "web-client-id" {
		t.Fatalf("expected validation against the web client id, got %q", validator.seenAudience)
	}

	var pair authkit.TokenPair
	if err := json.Unmarshal(recorder.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode pair: %v", err)
	}
	verification := fixture.codec.Verify(pair.AccessToken)
	if !verification.Valid || verification.Subject != "a@x.com" {
		t.Fatalf("unexpected verification: %+v", verification)
	}

	cookieFound := false
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == "refresh_token" && cookie.Value == pair.RefreshToken {
			cookieFound = true
		}
	}
	if !cookieFound {
		t.Fatalf("expected refresh cookie alongside the JSON pair")
	}

	identity, findErr := fixture.identities.FindByEmail(context.Background(), "a@x.com")
	if findErr != nil || identity.DisplayName != "Person A" || identity.Role != authkit.RoleGuest {
		t.Fatalf("expected identity upserted as guest, got %+v / %v", identity, findErr)
	}
}

func TestGoogleLoginRejectsInvalidTokens(t *testing.T) {
	t.Parallel()

	fixture := newWebFixture(t)
	validator := &recordedValidator{err: errors.New("signature mismatch")}
	router := newGoogleLoginRouter(t, fixture, validator)

	recorder := postGoogleLogin(router, gin.H{"google_id_token": "bad-token"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestGoogleLoginRejectsForeignIssuer(t *testing.T) {
	t.Parallel()

	fixture := newWebFixture(t)
	claims := googleClaims()
	claims["iss"] = "https://evil.example.com"
	router := newGoogleLoginRouter(t, fixture, &recordedValidator{claims: claims})

	recorder := postGoogleLogin(router, gin.H{"google_id_token": "signed-google-token"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign issuer, got %d", recorder.Code)
	}
}

func TestGoogleLoginRequiresVerifiedEmail(t *testing.T) {
	t.Parallel()

	fixture := newWebFixture(t)
	claims := googleClaims()
	claims["email_verified"] = false
	router := newGoogleLoginRouter(t, fixture, &recordedValidator{claims: claims})

	recorder := postGoogleLogin(router, gin.H{"google_id_token": "signed-google-token"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unverified email, got %d", recorder.Code)
	}
}

func TestGoogleLoginRequiresEmailClaim(t *testing.T) {
	t.Parallel()

	fixture := newWebFixture(t)
	claims := googleClaims()
	delete(claims, "email")
	router := newGoogleLoginRouter(t, fixture, &recordedValidator{claims: claims})

	recorder := postGoogleLogin(router, gin.H{"google_id_token": "signed-google-token"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing email claim, got %d", recorder.Code)
	}
}

func TestGoogleLoginRejectsEmptyPayload(t *testing.T) {
	t.Parallel()

	fixture := newWebFixture(t)
	router := newGoogleLoginRouter(t, fixture, &recordedValidator{claims: googleClaims()})

	recorder := postGoogleLogin(router, gin.H{"google_id_token": ""})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank token, got %d", recorder.Code)
	}
}
