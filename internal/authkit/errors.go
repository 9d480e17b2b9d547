package authkit

import "errors"

var (
	// ErrInvalidExchangeCode indicates the one-time exchange code is absent,
	// already redeemed, or expired; the three cases are indistinguishable.
	ErrInvalidExchangeCode = errors.New("auth.invalid_exchange_code")
	// ErrInvalidRefreshToken indicates the refresh token failed signature or
	// expiry checks, or no longer matches the stored entry for its subject.
	ErrInvalidRefreshToken = errors.New("auth.invalid_refresh_token")
	// ErrInvalidToken indicates a token that is malformed, mis-signed, or expired.
	ErrInvalidToken = errors.New("token.invalid")
	// ErrUnsupportedProvider indicates a provider name with no registered extractor.
	ErrUnsupportedProvider = errors.New("oauth.unsupported_provider")
	// ErrEmailMissing indicates a provider payload without an email address;
	// login cannot proceed without an email-keyed identity.
	ErrEmailMissing = errors.New("oauth.email_missing")
	// ErrIdentityNotFound indicates no identity record exists for the email.
	ErrIdentityNotFound = errors.New("identity.not_found")
	// ErrExchangeKeyNotFound indicates the exchange store holds no value for the key.
	ErrExchangeKeyNotFound = errors.New("exchange_store.not_found")
)
