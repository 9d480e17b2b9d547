package authkit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// fakeIdentityStore is a minimal in-package IdentityStore for lifecycle tests.
type fakeIdentityStore struct {
	mutex      sync.Mutex
	identities map[string]Identity
}

func newFakeIdentityStore() *fakeIdentityStore {
	return &fakeIdentityStore{identities: make(map[string]Identity)}
}

func (store *fakeIdentityStore) FindByEmail(ctx context.Context, email string) (Identity, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	identity, ok := store.identities[email]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return identity, nil
}

func (store *fakeIdentityStore) Upsert(ctx context.Context, identity Identity) (Identity, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	existing, ok := store.identities[identity.Email]
	if ok {
		existing.DisplayName = identity.DisplayName
		existing.AvatarURL = identity.AvatarURL
		store.identities[identity.Email] = existing
		return existing, nil
	}
	store.identities[identity.Email] = identity
	return identity, nil
}

func (store *fakeIdentityStore) setRole(email string, role Role) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	identity := store.identities[email]
	identity.Role = role
	store.identities[email] = identity
}

func (store *fakeIdentityStore) remove(email string) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.identities, email)
}

// nonAtomicStore hides MemoryExchangeStore's GetDelete so the lifecycle falls
// back to get-then-delete.
type nonAtomicStore struct {
	inner *MemoryExchangeStore
}

func (store *nonAtomicStore) Put(ctx context.Context, key string, value string, ttl time.Duration) error {
	return store.inner.Put(ctx, key, value, ttl)
}

func (store *nonAtomicStore) Get(ctx context.Context, key string) (string, error) {
	return store.inner.Get(ctx, key)
}

func (store *nonAtomicStore) Delete(ctx context.Context, key string) error {
	return store.inner.Delete(ctx, key)
}

type lifecycleFixture struct {
	lifecycle  *TokenLifecycle
	codec      *TokenCodec
	store      *MemoryExchangeStore
	identities *fakeIdentityStore
	metrics    *CounterMetrics
	clock      *fixedClock
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	clock := &fixedClock{timestamp: time.Unix(1700000000, 0).UTC()}
	codec := newTestCodec(t, clock, time.Minute, time.Hour)
	store := NewMemoryExchangeStore()
	store.now = clock.Now
	identities := newFakeIdentityStore()
	metrics := NewCounterMetrics()
	lifecycle, err := NewTokenLifecycle(codec, store, identities, time.Minute, time.Hour, zaptest.NewLogger(t), metrics)
	if err != nil {
		t.Fatalf("new lifecycle: %v", err)
	}
	return &lifecycleFixture{
		lifecycle:  lifecycle,
		codec:      codec,
		store:      store,
		identities: identities,
		metrics:    metrics,
		clock:      clock,
	}
}

func (fixture *lifecycleFixture) mustLogin(t *testing.T, identity Identity) string {
	t.Helper()
	if _, err := fixture.identities.Upsert(context.Background(), identity); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	code, err := fixture.lifecycle.CompleteLogin(context.Background(), identity)
	if err != nil {
		t.Fatalf("complete login: %v", err)
	}
	return code
}

func TestNewTokenLifecycleValidatesDependencies(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{timestamp: time.Unix(1700000000, 0).UTC()}
	codec := newTestCodec(t, clock, time.Minute, time.Hour)
	store := NewMemoryExchangeStore()
	identities := newFakeIdentityStore()

	if _, err := NewTokenLifecycle(nil, store, identities, time.Minute, time.Hour, nil, nil); err == nil {
		t.Fatalf("expected error for nil codec")
	}
	if _, err := NewTokenLifecycle(codec, nil, identities, time.Minute, time.Hour, nil, nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
	if _, err := NewTokenLifecycle(codec, store, nil, time.Minute, time.Hour, nil, nil); err == nil {
		t.Fatalf("expected error for nil identity store")
	}
	if _, err := NewTokenLifecycle(codec, store, identities, 0, time.Hour, nil, nil); err == nil {
		t.Fatalf("expected error for zero code TTL")
	}
	if _, err := NewTokenLifecycle(codec, store, identities, time.Minute, 0, nil, nil); err == nil {
		t.Fatalf("expected error for zero refresh TTL")
	}
}

func TestExchangeCodeRedeemsExactlyOnce(t *testing.T) {
	t.Parallel()

	fixture := newLifecycleFixture(t)
	ctx := context.Background()
	code := fixture.mustLogin(t, Identity{Email: "a@x.com", DisplayName: "A", Role: RoleUser})

	pair, redeemErr := fixture.lifecycle.RedeemCode(ctx, code)
	if redeemErr != nil {
		t.Fatalf("first redemption: %v", redeemErr)
	}
	verification := fixture.codec.Verify(pair.AccessToken)
	if !verification.Valid || verification.Subject != "a@x.com" {
		t.Fatalf("expected valid access token for a@x.com, got %+v", verification)
	}
	if verification.Authorities != "ROLE_USER" {
		t.Fatalf("expected ROLE_USER authorities, got %q", verification.Authorities)
	}

	if _, secondErr := fixture.lifecycle.RedeemCode(ctx, code); !errors.Is(secondErr, ErrInvalidExchangeCode) {
		t.Fatalf("expected ErrInvalidExchangeCode on replay, got %v", secondErr)
	}
	if _, garbageErr := fixture.lifecycle.RedeemCode(ctx, "no-such-code"); !errors.Is(garbageErr, ErrInvalidExchangeCode) {
		t.Fatalf("expected ErrInvalidExchangeCode for unknown code, got %v", garbageErr)
	}

	if fixture.metrics.Count(MetricCodeRedeemed) != 1 || fixture.metrics.Count(MetricCodeRejected) != 2 {
		t.Fatalf("unexpected metric counts: %+v", fixture.metrics.Snapshot())
	}
}

func TestExchangeCodeExpires(t *testing.T) {
	t.Parallel()

	fixture := newLifecycleFixture(t)
	code := fixture.mustLogin(t, Identity{Email: "a@x.com", Role: RoleGuest})

	fixture.clock.Advance(2 * time.Minute)
	if _, err := fixture.lifecycle.RedeemCode(context.Background(), code); !errors.Is(err, ErrInvalidExchangeCode) {
		t.Fatalf("expected expired code to be rejected, got %v", err)
	}
}

func TestRefreshRotatesAndRetiresThePresentedToken(t *testing.T) {
	t.Parallel()

	fixture := newLifecycleFixture(t)
	ctx := context.Background()
	code := fixture.mustLogin(t, Identity{Email: "a@x.com", Role: RoleUser})

	firstPair, redeemErr := fixture.lifecycle.RedeemCode(ctx, code)
	if redeemErr != nil {
		t.Fatalf("redeem: %v", redeemErr)
	}

	fixture.clock.Advance(time.Second)
	secondPair, refreshErr := fixture.lifecycle.Refresh(ctx, firstPair.RefreshToken)
	if refreshErr != nil {
		t.Fatalf("refresh: %v", refreshErr)
	}
	if secondPair.RefreshToken == firstPair.RefreshToken {
		t.Fatalf("expected rotation to mint a distinct refresh token")
	}

	// The superseded token still verifies but must no longer refresh.
	if !fixture.codec.Verify(firstPair.RefreshToken).Valid {
		t.Fatalf("expected superseded token to still verify cryptographically")
	}
	if _, replayErr := fixture.lifecycle.Refresh(ctx, firstPair.RefreshToken); !errors.Is(replayErr, ErrInvalidRefreshToken) {
		t.Fatalf("expected superseded token to be rejected, got %v", replayErr)
	}

	fixture.clock.Advance(time.Second)
	if _, thirdErr := fixture.lifecycle.Refresh(ctx, secondPair.RefreshToken); thirdErr != nil {
		t.Fatalf("expected current token to refresh, got %v", thirdErr)
	}

	if fixture.metrics.Count(MetricRefreshRotated) != 2 || fixture.metrics.Count(MetricRefreshRejected) != 1 {
		t.Fatalf("unexpected metric counts: %+v", fixture.metrics.Snapshot())
	}
}

func TestRefreshReReadsTheCurrentRole(t *testing.T) {
	t.Parallel()

	fixture := newLifecycleFixture(t)
	ctx := context.Background()
	code := fixture.mustLogin(t, Identity{Email: "a@x.com", Role: RoleGuest})

	pair, redeemErr := fixture.lifecycle.RedeemCode(ctx, code)
	if redeemErr != nil {
		t.Fatalf("redeem: %v", redeemErr)
	}
	if authorities := fixture.codec.Verify(pair.AccessToken).Authorities; authorities != "ROLE_GUEST" {
		t.Fatalf("expected ROLE_GUEST before promotion, got %q", authorities)
	}

	fixture.identities.setRole("a@x.com", RoleUser)

	rotated, refreshErr := fixture.lifecycle.Refresh(ctx, pair.RefreshToken)
	if refreshErr != nil {
		t.Fatalf("refresh: %v", refreshErr)
	}
	if authorities := fixture.codec.Verify(rotated.AccessToken).Authorities; authorities != "ROLE_USER" {
		t.Fatalf("expected promoted role in rotated access token, got %q", authorities)
	}
}

func TestRefreshFailsWhenIdentityDisappears(t *testing.T) {
	t.Parallel()

	fixture := newLifecycleFixture(t)
	ctx := context.Background()
	code := fixture.mustLogin(t, Identity{Email: "a@x.com", Role: RoleUser})

	pair, redeemErr := fixture.lifecycle.RedeemCode(ctx, code)
	if redeemErr != nil {
		t.Fatalf("redeem: %v", redeemErr)
	}

	fixture.identities.remove("a@x.com")
	if _, err := fixture.lifecycle.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestRefreshRejectsGarbageAndExpiredTokens(t *testing.T) {
	t.Parallel()

	fixture := newLifecycleFixture(t)
	ctx := context.Background()
	code := fixture.mustLogin(t, Identity{Email: "a@x.com", Role: RoleUser})
	pair, redeemErr := fixture.lifecycle.RedeemCode(ctx, code)
	if redeemErr != nil {
		t.Fatalf("redeem: %v", redeemErr)
	}

	if _, err := fixture.lifecycle.Refresh(ctx, "garbage"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected garbage token rejection, got %v", err)
	}

	fixture.clock.Advance(2 * time.Hour)
	if _, err := fixture.lifecycle.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected expired refresh token rejection, got %v", err)
	}
}

func TestNewLoginInvalidatesThePreviousSession(t *testing.T) {
	t.Parallel()

	fixture := newLifecycleFixture(t)
	ctx := context.Background()

	firstCode := fixture.mustLogin(t, Identity{Email: "a@x.com", Role: RoleUser})
	firstPair, firstErr := fixture.lifecycle.RedeemCode(ctx, firstCode)
	if firstErr != nil {
		t.Fatalf("redeem first: %v", firstErr)
	}

	fixture.clock.Advance(time.Second)
	secondCode := fixture.mustLogin(t, Identity{Email: "a@x.com", Role: RoleUser})
	secondPair, secondErr := fixture.lifecycle.RedeemCode(ctx, secondCode)
	if secondErr != nil {
		t.Fatalf("redeem second: %v", secondErr)
	}

	if _, err := fixture.lifecycle.Refresh(ctx, firstPair.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected first session to be invalidated, got %v", err)
	}
	if _, err := fixture.lifecycle.Refresh(ctx, secondPair.RefreshToken); err != nil {
		t.Fatalf("expected second session to refresh, got %v", err)
	}
}

func TestLogoutIsIdempotentAndSilent(t *testing.T) {
	t.Parallel()

	fixture := newLifecycleFixture(t)
	ctx := context.Background()
	code := fixture.mustLogin(t, Identity{Email: "a@x.com", Role: RoleUser})
	pair, redeemErr := fixture.lifecycle.RedeemCode(ctx, code)
	if redeemErr != nil {
		t.Fatalf("redeem: %v", redeemErr)
	}

	fixture.lifecycle.Logout(ctx, pair.RefreshToken)
	if _, err := fixture.lifecycle.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected refresh to fail after logout, got %v", err)
	}

	// Repeated and garbage logouts are silent no-ops.
	fixture.lifecycle.Logout(ctx, pair.RefreshToken)
	fixture.lifecycle.Logout(ctx, "garbage")

	if fixture.metrics.Count(MetricLogout) != 1 {
		t.Fatalf("expected exactly one effective logout, got %d", fixture.metrics.Count(MetricLogout))
	}
}

func TestRedeemFallsBackWithoutAtomicCapability(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{timestamp: time.Unix(1700000000, 0).UTC()}
	codec := newTestCodec(t, clock, time.Minute, time.Hour)
	inner := NewMemoryExchangeStore()
	inner.now = clock.Now
	identities := newFakeIdentityStore()
	lifecycle, err := NewTokenLifecycle(codec, &nonAtomicStore{inner: inner}, identities, time.Minute, time.Hour, nil, nil)
	if err != nil {
		t.Fatalf("new lifecycle: %v", err)
	}

	ctx := context.Background()
	if _, upsertErr := identities.Upsert(ctx, Identity{Email: "a@x.com", Role: RoleGuest}); upsertErr != nil {
		t.Fatalf("upsert: %v", upsertErr)
	}
	code, loginErr := lifecycle.CompleteLogin(ctx, Identity{Email: "a@x.com", Role: RoleGuest})
	if loginErr != nil {
		t.Fatalf("login: %v", loginErr)
	}

	if _, redeemErr := lifecycle.RedeemCode(ctx, code); redeemErr != nil {
		t.Fatalf("redeem: %v", redeemErr)
	}
	if _, replayErr := lifecycle.RedeemCode(ctx, code); !errors.Is(replayErr, ErrInvalidExchangeCode) {
		t.Fatalf("expected replay to fail, got %v", replayErr)
	}
}

func TestConcurrentRedemptionsSucceedAtMostOnce(t *testing.T) {
	t.Parallel()

	fixture := newLifecycleFixture(t)
	ctx := context.Background()
	code := fixture.mustLogin(t, Identity{Email: "a@x.com", Role: RoleUser})

	const attempts = 16
	var waitGroup sync.WaitGroup
	results := make(chan error, attempts)
	for index := 0; index < attempts; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := fixture.lifecycle.RedeemCode(ctx, code)
			results <- err
		}()
	}
	waitGroup.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else if !errors.Is(err, ErrInvalidExchangeCode) {
			t.Fatalf("unexpected redemption error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful redemption, got %d", successes)
	}
}
