package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-storefront/internal/event"
	"go-storefront/internal/metrics"
	"go-storefront/internal/model"
	"go-storefront/internal/repository"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sessionFixture struct {
	store    *repository.MemoryStore
	stores   Stores
	clock    *testClock
	issuer   *TokenIssuer
	bus      *event.InMemoryBus
	sessions *SessionService
	accounts *AccountService
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	store := repository.NewMemoryStore()
	stores := NewMemoryStores(store)
	clock := newTestClock()
	issuer := newTestIssuer(t, clock)
	bus := event.NewBus()

	sessions := NewSessionService(stores, issuer, bus, nil)
	sessions.now = clock.Now
	accounts := NewAccountService(stores, AccountConfig{BcryptCost: bcrypt.MinCost, DefaultRole: model.RoleBuyer}, bus, nil)
	accounts.now = clock.Now

	return &sessionFixture{
		store:    store,
		stores:   stores,
		clock:    clock,
		issuer:   issuer,
		bus:      bus,
		sessions: sessions,
		accounts: accounts,
	}
}

func (f *sessionFixture) register(t *testing.T, username string, password string, email string, roles ...string) model.AuthUser {
	t.Helper()

	user, err := f.accounts.Register(context.Background(), model.RegisterRequest{
		Username: username,
		Password: password,
		Email:    email,
		Roles:    roles,
	})
	require.NoError(t, err)
	return user
}

func (f *sessionFixture) tokens(t *testing.T, userID string) []model.RefreshToken {
	t.Helper()

	tokens, err := f.stores.Tokens.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	return tokens
}

func (f *sessionFixture) activeTokens(t *testing.T, userID string) []model.RefreshToken {
	t.Helper()

	var active []model.RefreshToken
	for _, token := range f.tokens(t, userID) {
		if token.IsActive(f.clock.Now()) {
			active = append(active, token)
		}
	}
	return active
}

func (f *sessionFixture) audits(t *testing.T, userID string) []model.SessionAudit {
	t.Helper()

	audits, err := f.stores.Audits.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	return audits
}

func (f *sessionFixture) openAudits(t *testing.T, userID string) int {
	t.Helper()

	open := 0
	for _, audit := range f.audits(t, userID) {
		if audit.IsOpen() {
			open++
		}
	}
	return open
}

func TestLoginLeavesExactlyOneActiveRefreshToken(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "pw1", "a@x.com")

	for i := 1; i <= 3; i++ {
		result, err := f.sessions.Login(ctx, "alice", "pw1")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, result.UserID)
		assert.NotEmpty(t, result.JWTToken)

		active := f.activeTokens(t, alice.ID)
		require.Len(t, active, 1)
		assert.Equal(t, result.RefreshToken, active[0].Token)
		assert.Len(t, f.tokens(t, alice.ID), i)

		assert.Equal(t, 1, f.openAudits(t, alice.ID))
		assert.Len(t, f.audits(t, alice.ID), i)

		f.clock.Advance(time.Minute)
	}
}

func TestLoginTokenCarriesRoles(t *testing.T) {
	f := newSessionFixture(t)
	alice := f.register(t, "alice", "pw1", "a@x.com", "seller", "buyer")

	result, err := f.sessions.Login(context.Background(), "alice", "pw1")
	require.NoError(t, err)

	claims, err := f.issuer.ParseAccessToken(result.JWTToken)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, claims.UserID)
	assert.ElementsMatch(t, []string{"buyer", "seller"}, claims.Roles)
}

func TestLoginWithWrongPasswordChangesNothing(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "pw1", "a@x.com")

	_, err := f.sessions.Login(ctx, "alice", "pw1")
	require.NoError(t, err)
	tokensBefore := f.tokens(t, alice.ID)
	auditsBefore := f.audits(t, alice.ID)

	f.clock.Advance(time.Minute)
	_, err = f.sessions.Login(ctx, "alice", "wrong")
	require.ErrorIs(t, err, model.ErrInvalidCredentials)
	assert.Equal(t, model.KindAuthentication, model.KindOf(err))

	assert.Equal(t, tokensBefore, f.tokens(t, alice.ID))
	assert.Equal(t, auditsBefore, f.audits(t, alice.ID))

	_, err = f.sessions.Login(ctx, "mallory", "pw1")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)

	_, err = f.sessions.Login(ctx, "Alice", "pw1")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials, "username match is exact")

	_, err = f.sessions.Login(ctx, "alice", "")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestUserWithoutRolesCannotObtainTokens(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "pw1", "a@x.com")

	first, err := f.sessions.Login(ctx, "alice", "pw1")
	require.NoError(t, err)

	f.store.Roles().Revoke(alice.ID)
	tokensBefore := f.tokens(t, alice.ID)

	_, err = f.sessions.Login(ctx, "alice", "pw1")
	require.ErrorIs(t, err, model.ErrNoRolesAssigned)
	assert.Equal(t, model.KindAuthentication, model.KindOf(err))

	_, err = f.sessions.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, model.ErrNoRolesAssigned)

	assert.Equal(t, tokensBefore, f.tokens(t, alice.ID))
	assert.Len(t, f.activeTokens(t, alice.ID), 1)
}

func TestRefreshRotatesToken(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "pw1", "a@x.com")

	login, err := f.sessions.Login(ctx, "alice", "pw1")
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	refreshed, err := f.sessions.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	assert.NotEmpty(t, refreshed.JWTToken)

	old, err := f.stores.Tokens.FindByToken(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.False(t, old.IsActive(f.clock.Now()))
	require.NotNil(t, old.RevokedAt)
	assert.Equal(t, f.clock.Now(), *old.RevokedAt)

	active := f.activeTokens(t, alice.ID)
	require.Len(t, active, 1)
	assert.Equal(t, refreshed.RefreshToken, active[0].Token)
	assert.Equal(t, f.clock.Now().Add(model.RefreshTokenLifetime), active[0].ExpiresAt)

	assert.Equal(t, 1, f.openAudits(t, alice.ID), "refresh does not touch the audit trail")
}

func TestRefreshExpiredTokenIsRejected(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "pw1", "a@x.com")

	login, err := f.sessions.Login(ctx, "alice", "pw1")
	require.NoError(t, err)
	before := f.tokens(t, alice.ID)

	f.clock.Advance(model.RefreshTokenLifetime)
	_, err = f.sessions.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, model.ErrTokenExpired)
	assert.NotErrorIs(t, err, model.ErrTokenRevoked)

	assert.Equal(t, before, f.tokens(t, alice.ID))
}

func TestRefreshRevokedTokenIsRejected(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "pw1", "a@x.com")

	login, err := f.sessions.Login(ctx, "alice", "pw1")
	require.NoError(t, err)
	_, err = f.sessions.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	before := f.tokens(t, alice.ID)

	_, err = f.sessions.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, model.ErrTokenRevoked)
	assert.Equal(t, before, f.tokens(t, alice.ID))

	f.clock.Advance(2 * model.RefreshTokenLifetime)
	_, err = f.sessions.Refresh(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, model.ErrTokenExpired, "expiry is reported before revocation")
	assert.NotErrorIs(t, err, model.ErrTokenRevoked)
}

func TestRefreshTokenRevokedByLaterLoginThenExpired(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "pw1", "a@x.com")

	first, err := f.sessions.Login(ctx, "alice", "pw1")
	require.NoError(t, err)
	_, err = f.sessions.Login(ctx, "alice", "pw1")
	require.NoError(t, err)

	_, err = f.sessions.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, model.ErrTokenRevoked)

	f.clock.Advance(8 * 24 * time.Hour)
	_, err = f.sessions.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, model.ErrTokenExpired)
}

func TestRefreshUnknownToken(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.sessions.Refresh(ctx, "bm90LWEtcmVhbC10b2tlbg==")
	assert.ErrorIs(t, err, model.ErrInvalidRefreshToken)

	_, err = f.sessions.Refresh(ctx, "  ")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestLogout(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "pw1", "a@x.com")

	_, err := f.sessions.Logout(ctx, alice.ID)
	require.ErrorIs(t, err, model.ErrNoActiveSession)
	assert.Equal(t, model.KindState, model.KindOf(err))

	_, err = f.sessions.Login(ctx, "alice", "pw1")
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	entry, err := f.sessions.Logout(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, entry.UserID)
	require.NotNil(t, entry.LogoutTime)
	assert.Equal(t, f.clock.Now(), *entry.LogoutTime)
	assert.Equal(t, f.clock.Now().Add(-10*time.Minute), entry.LoginTime)

	assert.Zero(t, f.openAudits(t, alice.ID))
	assert.Len(t, f.activeTokens(t, alice.ID), 1, "logout leaves refresh tokens alone")

	_, err = f.sessions.Logout(ctx, alice.ID)
	assert.ErrorIs(t, err, model.ErrNoActiveSession)

	_, err = f.sessions.Logout(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestLoginRollsBackOnStoreFailure(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "pw1", "a@x.com")

	first, err := f.sessions.Login(ctx, "alice", "pw1")
	require.NoError(t, err)
	tokensBefore := f.tokens(t, alice.ID)
	auditsBefore := f.audits(t, alice.ID)

	boom := errors.New("disk full")
	for _, op := range []string{"Audits.CloseAllOpen", "Tokens.RevokeAllActive", "Tokens.Store", "Audits.Open"} {
		t.Run(op, func(t *testing.T) {
			f.store.FailOn(op, boom)
			f.clock.Advance(time.Minute)

			_, err := f.sessions.Login(ctx, "alice", "pw1")
			require.ErrorIs(t, err, model.ErrLoginFailed)
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, model.KindPersistence, model.KindOf(err))

			assert.Equal(t, tokensBefore, f.tokens(t, alice.ID))
			assert.Equal(t, auditsBefore, f.audits(t, alice.ID))
		})
	}

	active := f.activeTokens(t, alice.ID)
	require.Len(t, active, 1)
	assert.Equal(t, first.RefreshToken, active[0].Token)
}

func TestRefreshRollsBackOnStoreFailure(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "pw1", "a@x.com")

	login, err := f.sessions.Login(ctx, "alice", "pw1")
	require.NoError(t, err)
	before := f.tokens(t, alice.ID)

	boom := errors.New("connection reset")
	f.store.FailOn("Tokens.Store", boom)

	_, err = f.sessions.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, model.ErrRefreshFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, before, f.tokens(t, alice.ID))

	_, err = f.sessions.Refresh(ctx, login.RefreshToken)
	assert.NoError(t, err, "the presented token survived the rollback")
}

func TestConcurrentLoginsKeepOneSession(t *testing.T) {
	f := newSessionFixture(t)
	alice := f.register(t, "alice", "pw1", "a@x.com")

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.sessions.Login(context.Background(), "alice", "pw1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, f.activeTokens(t, alice.ID), 1)
	assert.Equal(t, 1, f.openAudits(t, alice.ID))
	assert.Len(t, f.tokens(t, alice.ID), 10)
}

func TestSessionEventsArePublishedAfterCommit(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "pw1", "a@x.com")

	events, unsubscribe := f.bus.Subscribe()
	defer unsubscribe()

	login, err := f.sessions.Login(ctx, "alice", "pw1")
	require.NoError(t, err)
	_, err = f.sessions.Login(ctx, "alice", "wrong")
	require.Error(t, err)
	_, err = f.sessions.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	_, err = f.sessions.Logout(ctx, alice.ID)
	require.NoError(t, err)

	var types []event.Type
	for len(events) > 0 {
		e := <-events
		types = append(types, e.Type)
		assert.Equal(t, alice.ID, e.ActorID)
		payload, ok := e.Payload.(event.SessionPayload)
		require.True(t, ok)
		assert.Equal(t, alice.ID, payload.UserID)
	}
	assert.Equal(t, []event.Type{event.TypeSessionLogin, event.TypeSessionRefresh, event.TypeSessionLogout}, types)
}

func TestSessionOutcomesAreRecorded(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "pw1", "a@x.com")

	recorder := new(metrics.MockRecorder)
	recorder.On("RecordLatency", "login", mock.AnythingOfType("time.Duration")).Return()
	recorder.On("RecordSession", "login", metrics.OutcomeSuccess, "").Return().Once()
	recorder.On("RecordSession", "login", metrics.OutcomeFailure, "invalid_credentials").Return().Once()
	f.sessions.metrics = recorder

	_, err := f.sessions.Login(ctx, "alice", "pw1")
	require.NoError(t, err)
	_, err = f.sessions.Login(ctx, "alice", "nope")
	require.Error(t, err)

	recorder.AssertExpectations(t)
	recorder.AssertNumberOfCalls(t, "RecordLatency", 2)
}
