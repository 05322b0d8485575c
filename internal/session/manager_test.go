package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/api"
	"github.com/stemsi/exstem-portal/internal/broadcast"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/notify"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/storage"
	"github.com/stemsi/exstem-portal/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testToken(t *testing.T, username string, expiresAt time.Time) string {
	t.Helper()

	claims := token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			IssuedAt:  jwt.NewNumericDate(expiresAt.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:   1,
		Username: username,
		Role:     model.RoleStudent,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func testConfig(baseURL, clientID string) *config.Config {
	return &config.Config{
		APIBaseURL:          baseURL,
		ClientID:            clientID,
		ExpiryCheckInterval: time.Minute,
		HTTPTimeout:         2 * time.Second,
		RetryMaxAttempts:    1,
		RetryInitialDelay:   time.Millisecond,
	}
}

func newTestManager(t *testing.T, st storage.Store, bus broadcast.Bus, baseURL, clientID string) *Manager {
	t.Helper()

	cfg := testConfig(baseURL, clientID)
	client := api.NewClient(cfg, zerolog.Nop())
	return NewManager(cfg, st, bus, client, nil, zerolog.Nop())
}

func envelopeJSON(data interface{}) []byte {
	raw, _ := json.Marshal(map[string]interface{}{"data": data})
	return raw
}

func seedSession(t *testing.T, st storage.Store, tok string, user model.User) {
	t.Helper()
	ctx := context.Background()

	userJSON, err := json.Marshal(user)
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, config.StorageKey.TokenKey(), tok))
	require.NoError(t, st.Set(ctx, config.StorageKey.UserKey(), string(userJSON)))
}

func TestInitWithoutPersistedSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := newTestManager(t, storage.NewMemoryStore(), broadcast.NewMemoryBus(), "http://unused", "tab-a")
	require.NoError(t, m.Init(ctx))

	snap := m.Current()
	assert.Equal(t, StateUnauthenticated, snap.State)
	assert.False(t, snap.IsAuthenticated())
	assert.False(t, m.IsSessionValid())
}

func TestInitRestoresAndVerifiesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/me", r.URL.Path)
		w.Write(envelopeJSON(model.User{ID: 1, Username: "alice", Email: "a@x.com", Role: model.RoleStudent}))
	}))
	defer srv.Close()

	st := storage.NewMemoryStore()
	seedSession(t, st, testToken(t, "alice", time.Now().Add(time.Hour)), model.User{ID: 1, Username: "alice", Role: model.RoleStudent})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := newTestManager(t, st, broadcast.NewMemoryBus(), srv.URL, "tab-a")
	require.NoError(t, m.Init(ctx))

	// Credentials are published immediately, before verification lands.
	assert.True(t, m.Current().IsAuthenticated())

	require.Eventually(t, func() bool {
		return m.Current().State == StateAuthenticated
	}, 2*time.Second, 10*time.Millisecond)

	snap := m.Current()
	require.NotNil(t, snap.User)
	assert.Equal(t, "a@x.com", snap.User.Email, "verification refreshes the snapshot from the server")
}

func TestInitDiscardsExpiredToken(t *testing.T) {
	st := storage.NewMemoryStore()
	seedSession(t, st, testToken(t, "alice", time.Now().Add(-time.Minute)), model.User{ID: 1, Username: "alice"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := newTestManager(t, st, broadcast.NewMemoryBus(), "http://unused", "tab-a")
	require.NoError(t, m.Init(ctx))

	assert.Equal(t, StateUnauthenticated, m.Current().State)
	_, err := st.Get(ctx, config.StorageKey.TokenKey())
	assert.ErrorIs(t, err, storage.ErrNotFound, "stale persisted data is discarded")
}

func TestSaveSessionRejectsMalformedToken(t *testing.T) {
	m := newTestManager(t, storage.NewMemoryStore(), broadcast.NewMemoryBus(), "http://unused", "tab-a")

	err := m.SaveSession(context.Background(), "not-a-token", &model.User{ID: 1})
	require.Error(t, err)
	assert.Equal(t, StateUnauthenticated, m.Current().State)
}

func TestIsSessionValidFailClosed(t *testing.T) {
	m := newTestManager(t, storage.NewMemoryStore(), broadcast.NewMemoryBus(), "http://unused", "tab-a")

	assert.True(t, m.IsTokenExpired(""))
	assert.True(t, m.IsTokenExpired("garbage"))
	assert.False(t, m.IsSessionValid())

	_, ok := m.TimeUntilExpiry()
	assert.False(t, ok)
}

func TestClearSessionIdempotent(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	m := newTestManager(t, st, broadcast.NewMemoryBus(), "http://unused", "tab-a")

	require.NoError(t, m.SaveSession(ctx, testToken(t, "alice", time.Now().Add(time.Hour)), &model.User{ID: 1, Username: "alice"}))
	require.Equal(t, 3, st.Len())

	require.NoError(t, m.ClearSession(ctx))
	require.NoError(t, m.ClearSession(ctx))

	assert.Equal(t, 0, st.Len())
	assert.Equal(t, StateUnauthenticated, m.Current().State)
}

func TestCrossTabLoginAndLogoutPropagation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := storage.NewMemoryStore()
	bus := broadcast.NewMemoryBus()

	tabA := newTestManager(t, st, bus, "http://unused", "tab-a")
	tabB := newTestManager(t, st, bus, "http://unused", "tab-b")
	require.NoError(t, tabA.Init(ctx))
	require.NoError(t, tabB.Init(ctx))

	// Tab A logs in; tab B adopts the session from shared storage.
	tok := testToken(t, "alice", time.Now().Add(time.Hour))
	require.NoError(t, tabA.SaveSession(ctx, tok, &model.User{ID: 1, Username: "alice", Role: model.RoleStudent}))

	snapB := tabB.Current()
	require.True(t, snapB.IsAuthenticated(), "tab B picks up the login broadcast")
	assert.Equal(t, tok, snapB.Token)
	require.NotNil(t, snapB.User)
	assert.Equal(t, "alice", snapB.User.Username)

	// Tab A logs out; tab B transitions to unauthenticated with no reload.
	require.NoError(t, tabA.ClearSession(ctx))

	snapB = tabB.Current()
	assert.Equal(t, StateUnauthenticated, snapB.State)
	assert.Empty(t, snapB.Token)
	assert.Nil(t, snapB.User)
}

func TestProfileUpdateRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/auth/profile", r.URL.Path)

		var req model.UpdateProfileRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Write(envelopeJSON(model.User{ID: 1, Username: "alice", Email: req.Email, Role: model.RoleStudent}))
	}))
	defer srv.Close()

	ctx := context.Background()
	m := newTestManager(t, storage.NewMemoryStore(), broadcast.NewMemoryBus(), srv.URL, "tab-a")

	tok := testToken(t, "alice", time.Now().Add(time.Hour))
	require.NoError(t, m.SaveSession(ctx, tok, &model.User{ID: 1, Username: "alice", Email: "a@x.com", Role: model.RoleStudent}))

	_, err := m.UpdateProfile(ctx, model.UpdateProfileRequest{Email: "b@x.com"})
	require.NoError(t, err)

	snap := m.Current()
	require.NotNil(t, snap.User)
	assert.Equal(t, "b@x.com", snap.User.Email)
	assert.Equal(t, tok, snap.Token, "profile update leaves the token unchanged")
	assert.Equal(t, StateAuthenticated, snap.State)
}

// recordingNotifier captures notifications for assertions.
type recordingNotifier struct {
	notifications []notify.Notification
}

func (n *recordingNotifier) Notify(notif notify.Notification) {
	n.notifications = append(n.notifications, notif)
}

func TestFailedLoginDoesNotForceLogout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		require.Empty(t, r.Header.Get("Authorization"))

		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": response.ErrorBody{
				Code:    response.ErrInvalidCredentials,
				Message: response.GetMessage(response.ErrInvalidCredentials),
			},
		})
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, "tab-a")
	client := api.NewClient(cfg, zerolog.Nop())
	notifier := &recordingNotifier{}
	m := NewManager(cfg, storage.NewMemoryStore(), broadcast.NewMemoryBus(), client, notifier, zerolog.Nop())

	redirects := 0
	m.SetRedirect(func(view string) { redirects++ })

	_, err := m.Login(context.Background(), "alice", "wrong-password")
	require.Error(t, err)
	assert.True(t, api.IsUnauthorized(err))

	// Wrong credentials are not a session invalidation: no session existed,
	// so there is nothing to expire, no warning to show, nowhere to redirect.
	assert.Equal(t, StateUnauthenticated, m.Current().State)
	assert.Empty(t, notifier.notifications)
	assert.Equal(t, 0, redirects)
}

func TestUnauthorizedForcesLogoutWithoutRedirectOnLoginView(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": response.ErrorBody{Code: response.ErrTokenExpired, Message: "expired"},
		})
	}))
	defer srv.Close()

	ctx := context.Background()
	st := storage.NewMemoryStore()
	m := newTestManager(t, st, broadcast.NewMemoryBus(), srv.URL, "tab-a")

	require.NoError(t, m.SaveSession(ctx, testToken(t, "alice", time.Now().Add(time.Hour)), &model.User{ID: 1, Username: "alice"}))

	redirects := 0
	m.SetRedirect(func(view string) { redirects++ })
	m.SetView(LoginView)

	_, err := m.client.Me(ctx)
	require.Error(t, err)

	assert.Equal(t, StateUnauthenticated, m.Current().State, "401 clears the session")
	assert.Equal(t, 0, st.Len(), "401 clears persisted data")
	assert.Equal(t, 0, redirects, "no redirect when already on the login view")
}

func TestUnauthorizedRedirectsFromOtherViews(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": response.ErrorBody{Code: response.ErrTokenExpired, Message: "expired"},
		})
	}))
	defer srv.Close()

	ctx := context.Background()
	m := newTestManager(t, storage.NewMemoryStore(), broadcast.NewMemoryBus(), srv.URL, "tab-a")
	require.NoError(t, m.SaveSession(ctx, testToken(t, "alice", time.Now().Add(time.Hour)), &model.User{ID: 1, Username: "alice"}))

	var redirectedTo string
	m.SetRedirect(func(view string) { redirectedTo = view })
	m.SetView("/dashboard")

	_, err := m.client.Me(ctx)
	require.Error(t, err)

	assert.Equal(t, LoginView, redirectedTo)
}

func TestPeriodicExpiryCheckForcesLogout(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	m := newTestManager(t, st, broadcast.NewMemoryBus(), "http://unused", "tab-a")

	exp := time.Now().Add(time.Hour)
	require.NoError(t, m.SaveSession(ctx, testToken(t, "alice", exp), &model.User{ID: 1, Username: "alice"}))

	var redirectedTo string
	m.SetRedirect(func(view string) { redirectedTo = view })
	m.SetView("/courses")

	// Advance the clock past the deadline and run one check tick.
	m.now = func() time.Time { return exp.Add(time.Second) }
	m.checkExpiry(ctx)

	assert.Equal(t, StateUnauthenticated, m.Current().State)
	assert.Equal(t, 0, st.Len())
	assert.Equal(t, LoginView, redirectedTo)
}

func TestExpiryCheckReadsCachedDeadline(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	m := newTestManager(t, st, broadcast.NewMemoryBus(), "http://unused", "tab-a")

	require.NoError(t, m.SaveSession(ctx, testToken(t, "alice", time.Now().Add(time.Hour)), &model.User{ID: 1, Username: "alice"}))

	// The cached deadline is consulted without decoding the token: moving
	// it into the past is enough to end the session on the next tick.
	past := time.Now().Add(-time.Minute).Unix()
	require.NoError(t, st.Set(ctx, config.StorageKey.TokenExpiryKey(), strconv.FormatInt(past, 10)))

	m.checkExpiry(ctx)
	assert.Equal(t, StateUnauthenticated, m.Current().State)
}

func TestExpiryCheckFallsBackToDecoding(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	m := newTestManager(t, st, broadcast.NewMemoryBus(), "http://unused", "tab-a")

	require.NoError(t, m.SaveSession(ctx, testToken(t, "alice", time.Now().Add(time.Hour)), &model.User{ID: 1, Username: "alice"}))

	// With the cache gone the token's own expiry still rules.
	require.NoError(t, st.Delete(ctx, config.StorageKey.TokenExpiryKey()))

	m.checkExpiry(ctx)
	assert.Equal(t, StateAuthenticated, m.Current().State)
}

func TestSubscribersSeeStateChanges(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, storage.NewMemoryStore(), broadcast.NewMemoryBus(), "http://unused", "tab-a")

	var states []State
	m.Subscribe(func(snap Snapshot) { states = append(states, snap.State) })

	require.NoError(t, m.SaveSession(ctx, testToken(t, "alice", time.Now().Add(time.Hour)), &model.User{ID: 1}))
	require.NoError(t, m.ClearSession(ctx))

	require.Len(t, states, 2)
	assert.Equal(t, StateAuthenticated, states[0])
	assert.Equal(t, StateUnauthenticated, states[1])
}
