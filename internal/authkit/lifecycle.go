package authkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// exchangeKeyPrefix namespaces one-time code entries; refresh entries are
// keyed by the bare email so the two spaces never collide.
const exchangeKeyPrefix = "auth_code:"

// TokenLifecycle orchestrates issuance after login, one-time code redemption,
// refresh rotation, and logout. It is stateless business logic over the
// exchange store; no locks are held across store calls, and rotation is
// last-writer-wins on the per-identity key.
type TokenLifecycle struct {
	codec       *TokenCodec
	store       ExchangeStore
	identities  IdentityStore
	authCodeTTL time.Duration
	refreshTTL  time.Duration
	logger      *zap.Logger
	metrics     MetricsRecorder
}

// NewTokenLifecycle wires the manager. Logger and metrics may be nil.
func NewTokenLifecycle(codec *TokenCodec, store ExchangeStore, identities IdentityStore, authCodeTTL time.Duration, refreshTTL time.Duration, logger *zap.Logger, metrics MetricsRecorder) (*TokenLifecycle, error) {
	if codec == nil || store == nil || identities == nil {
		return nil, fmt.Errorf("token_lifecycle.new: codec, store, and identity store are required")
	}
	if authCodeTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("token_lifecycle.new: TTLs must be greater than zero")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &TokenLifecycle{
		codec:       codec,
		store:       store,
		identities:  identities,
		authCodeTTL: authCodeTTL,
		refreshTTL:  refreshTTL,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// CompleteLogin mints a token pair for the identity, parks it under a fresh
// one-time exchange code, and records the refresh token as the single active
// one for the identity. Storing the refresh token replaces any prior entry,
// so an earlier session for the same email is silently invalidated. The
// returned code is what the redirect hands to the browser.
func (lifecycle *TokenLifecycle) CompleteLogin(ctx context.Context, identity Identity) (string, error) {
	pair, mintErr := lifecycle.codec.Mint(identity.Email, identity.Role.AuthorityCode())
	if mintErr != nil {
		return "", fmt.Errorf("token_lifecycle.login.mint: %w", mintErr)
	}

	payload, marshalErr := json.Marshal(pair)
	if marshalErr != nil {
		return "", fmt.Errorf("token_lifecycle.login.encode: %w", marshalErr)
	}

	code := uuid.NewString()
	if putErr := lifecycle.store.Put(ctx, exchangeKeyPrefix+code, string(payload), lifecycle.authCodeTTL); putErr != nil {
		return "", fmt.Errorf("token_lifecycle.login.store_code: %w", putErr)
	}
	if putErr := lifecycle.store.Put(ctx, identity.Email, pair.RefreshToken, lifecycle.refreshTTL); putErr != nil {
		return "", fmt.Errorf("token_lifecycle.login.store_refresh: %w", putErr)
	}

	lifecycle.metrics.Increment(MetricLoginCompleted)
	lifecycle.logger.Info("login completed, exchange code issued",
		zap.String("email", identity.Email),
		zap.Duration("code_ttl", lifecycle.authCodeTTL))
	return code, nil
}

// RedeemCode trades a one-time exchange code for its parked token pair. The
// code entry is removed before the pair is returned, so a second redemption
// with the same code fails with ErrInvalidExchangeCode. Absent, expired, and
// already-used codes are indistinguishable.
func (lifecycle *TokenLifecycle) RedeemCode(ctx context.Context, code string) (TokenPair, error) {
	key := exchangeKeyPrefix + code

	payload, fetchErr := lifecycle.fetchAndDelete(ctx, key)
	if errors.Is(fetchErr, ErrExchangeKeyNotFound) {
		lifecycle.metrics.Increment(MetricCodeRejected)
		return TokenPair{}, ErrInvalidExchangeCode
	}
	if fetchErr != nil {
		return TokenPair{}, fmt.Errorf("token_lifecycle.redeem: %w", fetchErr)
	}

	var pair TokenPair
	if unmarshalErr := json.Unmarshal([]byte(payload), &pair); unmarshalErr != nil {
		return TokenPair{}, fmt.Errorf("token_lifecycle.redeem.decode: %w", unmarshalErr)
	}

	lifecycle.metrics.Increment(MetricCodeRedeemed)
	lifecycle.logger.Info("exchange code redeemed")
	return pair, nil
}

// Refresh rotates a refresh token: the presented token must verify, must
// textually match the stored entry for its subject, and the identity must
// still exist so the current role is re-read fresh. The stored entry is then
// overwritten with the new refresh token, making the old one permanently
// unusable even though it has not cryptographically expired.
func (lifecycle *TokenLifecycle) Refresh(ctx context.Context, presented string) (TokenPair, error) {
	// Strict extraction: an expired refresh token can never be refreshed,
	// forcing a full re-login.
	subject, subjectErr := lifecycle.codec.SubjectOf(presented)
	if subjectErr != nil {
		lifecycle.metrics.Increment(MetricRefreshRejected)
		return TokenPair{}, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, subjectErr)
	}

	stored, getErr := lifecycle.store.Get(ctx, subject)
	if errors.Is(getErr, ErrExchangeKeyNotFound) {
		lifecycle.metrics.Increment(MetricRefreshRejected)
		return TokenPair{}, fmt.Errorf("%w: no active session", ErrInvalidRefreshToken)
	}
	if getErr != nil {
		return TokenPair{}, fmt.Errorf("token_lifecycle.refresh.lookup: %w", getErr)
	}
	// The store entry, not the signature, is authoritative for refresh
	// validity: a rotated or logged-out token still verifies but must fail.
	if stored != presented {
		lifecycle.metrics.Increment(MetricRefreshRejected)
		return TokenPair{}, fmt.Errorf("%w: token superseded", ErrInvalidRefreshToken)
	}

	identity, findErr := lifecycle.identities.FindByEmail(ctx, subject)
	if errors.Is(findErr, ErrIdentityNotFound) {
		lifecycle.metrics.Increment(MetricRefreshRejected)
		return TokenPair{}, ErrIdentityNotFound
	}
	if findErr != nil {
		return TokenPair{}, fmt.Errorf("token_lifecycle.refresh.identity: %w", findErr)
	}

	pair, mintErr := lifecycle.codec.Mint(identity.Email, identity.Role.AuthorityCode())
	if mintErr != nil {
		return TokenPair{}, fmt.Errorf("token_lifecycle.refresh.mint: %w", mintErr)
	}
	if putErr := lifecycle.store.Put(ctx, subject, pair.RefreshToken, lifecycle.refreshTTL); putErr != nil {
		return TokenPair{}, fmt.Errorf("token_lifecycle.refresh.store: %w", putErr)
	}

	lifecycle.metrics.Increment(MetricRefreshRotated)
	lifecycle.logger.Info("refresh token rotated", zap.String("email", subject))
	return pair, nil
}

// Logout deletes the stored refresh entry for the token's subject. It never
// surfaces an error to the caller: garbage tokens and already-absent entries
// are logged and treated as a successful idempotent no-op.
func (lifecycle *TokenLifecycle) Logout(ctx context.Context, presented string) {
	verification := lifecycle.codec.Verify(presented)
	if !verification.Valid {
		lifecycle.logger.Warn("logout attempted with an invalid refresh token")
		return
	}

	subject := verification.Subject
	if _, getErr := lifecycle.store.Get(ctx, subject); getErr != nil {
		if errors.Is(getErr, ErrExchangeKeyNotFound) {
			lifecycle.logger.Warn("logout for a session with no stored refresh token",
				zap.String("email", subject))
		} else {
			lifecycle.logger.Error("logout lookup failed", zap.String("email", subject), zap.Error(getErr))
		}
		return
	}
	if deleteErr := lifecycle.store.Delete(ctx, subject); deleteErr != nil {
		lifecycle.logger.Error("logout delete failed", zap.String("email", subject), zap.Error(deleteErr))
		return
	}

	lifecycle.metrics.Increment(MetricLogout)
	lifecycle.logger.Info("logout successful, refresh token deleted", zap.String("email", subject))
}

// fetchAndDelete prefers the store's atomic capability; otherwise it falls
// back to get-then-delete, accepting the narrow window in which two
// concurrent redemptions can both observe the value.
func (lifecycle *TokenLifecycle) fetchAndDelete(ctx context.Context, key string) (string, error) {
	if atomic, ok := lifecycle.store.(AtomicExchangeStore); ok {
		return atomic.GetDelete(ctx, key)
	}
	value, getErr := lifecycle.store.Get(ctx, key)
	if getErr != nil {
		return "", getErr
	}
	if deleteErr := lifecycle.store.Delete(ctx, key); deleteErr != nil {
		return "", deleteErr
	}
	return value, nil
}
