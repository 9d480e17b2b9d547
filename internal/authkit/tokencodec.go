package authkit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTypeBearer = "Bearer"

var (
	errEmptySigningKey  = errors.New("token_codec.empty_signing_key")
	errInvalidTokenTTL  = errors.New("token_codec.invalid_ttl")
	errEmptyTokenString = errors.New("token_codec.empty_token")
)

// TokenPair carries one access/refresh token pairing. Immutable once created;
// rotation supersedes a pair rather than mutating it.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// tokenClaims are embedded in both tokens; Authorities is only set on access tokens.
type tokenClaims struct {
	Authorities string `json:"auth,omitempty"`
	jwt.RegisteredClaims
}

// Verification is the soft result of checking a token. Malformed, mis-signed,
// and expired tokens all report Valid=false; callers must not distinguish them
// for authorization decisions.
type Verification struct {
	Subject     string
	Authorities string
	Valid       bool
}

// TokenCodec mints and verifies HS512-signed, time-bounded token pairs.
type TokenCodec struct {
	signingKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenCodec constructs a codec over a shared signing secret.
func NewTokenCodec(signingKey []byte, accessTTL time.Duration, refreshTTL time.Duration) (*TokenCodec, error) {
	if len(signingKey) == 0 {
		return nil, errEmptySigningKey
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errInvalidTokenTTL
	}
	return &TokenCodec{
		signingKey: signingKey,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// Mint builds a signed access token carrying the subject and comma-joined
// authority codes, and a refresh token carrying the subject only.
func (codec *TokenCodec) Mint(subject string, authorities string) (TokenPair, error) {
	if strings.TrimSpace(subject) == "" {
		return TokenPair{}, fmt.Errorf("token_codec.mint: subject must be non-empty")
	}
	issuedAt := codec.now().UTC()

	accessToken, accessErr := codec.sign(tokenClaims{
		Authorities: authorities,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(codec.accessTTL)),
		},
	})
	if accessErr != nil {
		return TokenPair{}, fmt.Errorf("token_codec.mint.access: %w", accessErr)
	}

	refreshToken, refreshErr := codec.sign(tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(codec.refreshTTL)),
		},
	})
	if refreshErr != nil {
		return TokenPair{}, fmt.Errorf("token_codec.mint.refresh: %w", refreshErr)
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    tokenTypeBearer,
	}, nil
}

// Verify checks signature and expiry. The zero Verification is returned for
// structurally malformed or mis-signed tokens; expired tokens keep their
// claims readable but report Valid=false.
func (codec *TokenCodec) Verify(token string) Verification {
	subject, authorities, expiresAt, err := codec.ClaimsOf(token)
	if err != nil {
		return Verification{}
	}
	return Verification{
		Subject:     subject,
		Authorities: authorities,
		Valid:       expiresAt.After(codec.now()),
	}
}

// SubjectOf extracts the subject from a fully valid token. Unlike Verify it is
// strict: malformed, mis-signed, and expired tokens all fail with ErrInvalidToken.
func (codec *TokenCodec) SubjectOf(token string) (string, error) {
	subject, _, expiresAt, err := codec.ClaimsOf(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !expiresAt.After(codec.now()) {
		return "", fmt.Errorf("%w: token expired", ErrInvalidToken)
	}
	return subject, nil
}

// ClaimsOf reads the claims of a token whose signature checks out, ignoring
// expiry. This is the expired-claims path: policy decisions still belong to
// Verify and SubjectOf.
func (codec *TokenCodec) ClaimsOf(token string) (subject string, authorities string, expiresAt time.Time, err error) {
	if strings.TrimSpace(token) == "" {
		return "", "", time.Time{}, errEmptyTokenString
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &tokenClaims{}
	if _, parseErr := parser.ParseWithClaims(token, claims, func(parsed *jwt.Token) (interface{}, error) {
		return codec.signingKey, nil
	}); parseErr != nil {
		return "", "", time.Time{}, parseErr
	}
	if claims.ExpiresAt == nil {
		return "", "", time.Time{}, fmt.Errorf("token_codec.parse: missing expiry claim")
	}
	return claims.Subject, claims.Authorities, claims.ExpiresAt.Time, nil
}

func (codec *TokenCodec) sign(claims tokenClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(codec.signingKey)
}
