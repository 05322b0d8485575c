// Package session owns the authenticated identity of one portal tab: the
// bearer token, the profile snapshot, and their lifecycle. The manager is
// the single writer; everything else (navigation, views, the state
// container) reads through Subscribe or Current and never mutates.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/api"
	"github.com/stemsi/exstem-portal/internal/broadcast"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/notify"
	"github.com/stemsi/exstem-portal/internal/storage"
	"github.com/stemsi/exstem-portal/internal/token"
)

// State is the per-tab authentication state.
type State string

const (
	StateUnauthenticated State = "UNAUTHENTICATED"
	// StateVerifying holds while a persisted token has been adopted locally
	// but the server-side "who am I" confirmation is still in flight.
	StateVerifying     State = "VERIFYING"
	StateAuthenticated State = "AUTHENTICATED"
)

// LoginView is the route of the login entry point. Forced logouts never
// redirect when the tab is already here.
const LoginView = "/login"

// Snapshot is a read-only view of the session published to subscribers.
type Snapshot struct {
	State State
	Token string
	User  *model.User
}

// IsAuthenticated reports whether a non-expired token is held. A session
// still being verified counts: its credentials are already published.
func (s Snapshot) IsAuthenticated() bool {
	return s.State == StateAuthenticated || s.State == StateVerifying
}

// Manager is the single source of truth for "who is logged in, with what
// token, until when" for one tab, kept consistent with other tabs through
// shared storage and the broadcast bus.
type Manager struct {
	cfg      *config.Config
	store    storage.Store
	bus      broadcast.Bus
	client   *api.Client
	notifier notify.Notifier
	log      zerolog.Logger
	now      func() time.Time

	mu          sync.Mutex
	state       State
	token       string
	user        *model.User
	currentView string
	redirect    func(view string)
	listeners   []func(Snapshot)
}

// NewManager wires a session manager to its collaborators and installs the
// token supplier and 401 hook on the API client.
func NewManager(
	cfg *config.Config,
	store storage.Store,
	bus broadcast.Bus,
	client *api.Client,
	notifier notify.Notifier,
	log zerolog.Logger,
) *Manager {
	m := &Manager{
		cfg:      cfg,
		store:    store,
		bus:      bus,
		client:   client,
		notifier: notifier,
		log:      log.With().Str("component", "session").Logger(),
		now:      time.Now,
		state:    StateUnauthenticated,
	}

	client.SetTokenFunc(m.Token)
	client.SetOnUnauthorized(m.handleUnauthorized)

	return m
}

// Init restores a persisted session if one exists and is not expired,
// kicks off the async server-side confirmation, and starts the periodic
// expiry check and the cross-tab subscription. Call once at startup.
func (m *Manager) Init(ctx context.Context) error {
	tok, err := m.store.Get(ctx, config.StorageKey.TokenKey())
	switch {
	case err != nil:
		if !errors.Is(err, storage.ErrNotFound) {
			// Storage trouble degrades to unauthenticated, never crashes.
			m.log.Warn().Err(err).Msg("Could not read persisted token")
		}
		m.discardPersisted(ctx)

	case token.IsExpired(tok, m.now()):
		m.log.Info().Msg("Persisted token expired, discarding")
		m.discardPersisted(ctx)

	default:
		user := m.loadPersistedUser(ctx)
		if user == nil {
			m.discardPersisted(ctx)
			break
		}

		m.mu.Lock()
		m.token = tok
		m.user = user
		m.state = StateVerifying
		m.mu.Unlock()
		m.notifyListeners()

		m.log.Info().Str("username", user.Username).Msg("Session restored, verifying with server")
		go m.verify(ctx)
	}

	if err := m.bus.Subscribe(ctx, m.handleBroadcast); err != nil {
		return fmt.Errorf("subscribe broadcast: %w", err)
	}

	go m.expiryLoop(ctx)
	return nil
}

// Login authenticates against the backend and persists the session.
func (m *Manager) Login(ctx context.Context, username, password string) (*model.User, error) {
	resp, err := m.client.Login(ctx, model.LoginRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}

	if err := m.SaveSession(ctx, resp.AccessToken, &resp.User); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// Logout clears the session locally and in shared storage.
func (m *Manager) Logout(ctx context.Context) error {
	m.log.Info().Msg("Logging out")
	return m.ClearSession(ctx)
}

// SaveSession persists token and user to shared storage, caches the decoded
// expiry for fast checks, adopts them in-memory, and announces the login to
// other tabs. A token that cannot be decoded is rejected.
func (m *Manager) SaveSession(ctx context.Context, tok string, user *model.User) error {
	claims, err := token.Decode(tok)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	if err := m.store.Set(ctx, config.StorageKey.TokenKey(), tok); err != nil {
		return err
	}
	if err := m.store.Set(ctx, config.StorageKey.UserKey(), string(userJSON)); err != nil {
		return err
	}
	expiry := strconv.FormatInt(claims.ExpiresAt.Unix(), 10)
	if err := m.store.Set(ctx, config.StorageKey.TokenExpiryKey(), expiry); err != nil {
		return err
	}

	userCopy := *user
	m.mu.Lock()
	m.token = tok
	m.user = &userCopy
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.publish(ctx, broadcast.ActionLogin)
	m.notifyListeners()
	return nil
}

// ClearSession removes the session from shared storage and memory, and
// announces the logout to other tabs. Safe to call repeatedly.
func (m *Manager) ClearSession(ctx context.Context) error {
	if err := m.store.Delete(ctx,
		config.StorageKey.TokenKey(),
		config.StorageKey.UserKey(),
		config.StorageKey.TokenExpiryKey(),
	); err != nil {
		// Degrade rather than fail: in-memory state still clears.
		m.log.Warn().Err(err).Msg("Could not clear persisted session")
	}

	m.mu.Lock()
	hadToken := m.token != ""
	m.token = ""
	m.user = nil
	m.state = StateUnauthenticated
	m.mu.Unlock()

	if hadToken {
		m.publish(ctx, broadcast.ActionLogout)
	}
	m.notifyListeners()
	return nil
}

// UpdateProfile updates profile fields server-side and refreshes the local
// snapshot. The bearer token is untouched.
func (m *Manager) UpdateProfile(ctx context.Context, req model.UpdateProfileRequest) (*model.User, error) {
	user, err := m.client.UpdateProfile(ctx, req)
	if err != nil {
		return nil, err
	}

	m.adoptUser(ctx, user)
	return user, nil
}

// ChangePassword changes the account password. The current token stays
// valid; the backend does not rotate it on password change.
func (m *Manager) ChangePassword(ctx context.Context, req model.ChangePasswordRequest) error {
	return m.client.ChangePassword(ctx, req)
}

// Token returns the currently held bearer token, or "".
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Current returns a snapshot of the session.
func (m *Manager) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// IsTokenExpired reports whether tok's decoded expiry has passed.
// Undecodable tokens count as expired.
func (m *Manager) IsTokenExpired(tok string) bool {
	return token.IsExpired(tok, m.now())
}

// IsSessionValid reports whether a token is held and not expired.
func (m *Manager) IsSessionValid() bool {
	tok := m.Token()
	return tok != "" && !token.IsExpired(tok, m.now())
}

// TimeUntilExpiry returns the remaining lifetime of the held token, floored
// at zero. The second return is false when no token is held.
func (m *Manager) TimeUntilExpiry() (time.Duration, bool) {
	return token.TimeUntilExpiry(m.Token(), m.now())
}

// Subscribe registers a listener for session snapshots. The global state
// container reads the session through this, never by mutating it.
func (m *Manager) Subscribe(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// SetView records the tab's current view for redirect de-duplication.
func (m *Manager) SetView(view string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentView = view
}

// SetRedirect installs the navigation callback used on forced logout.
func (m *Manager) SetRedirect(fn func(view string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redirect = fn
}

// ─── Internal ───────────────────────────────────────────────────────────

// discardPersisted drops any stale persisted session without touching other
// tabs: no broadcast, because nothing valid was ever adopted.
func (m *Manager) discardPersisted(ctx context.Context) {
	if err := m.store.Delete(ctx,
		config.StorageKey.TokenKey(),
		config.StorageKey.UserKey(),
		config.StorageKey.TokenExpiryKey(),
	); err != nil {
		m.log.Warn().Err(err).Msg("Could not discard stale session data")
	}
}

// verify confirms a restored token with GET /auth/me. A 401 is handled by
// the client's unauthorized hook; any other failure keeps the local session
// (the periodic expiry check still applies).
func (m *Manager) verify(ctx context.Context) {
	user, err := m.client.Me(ctx)
	if err != nil {
		if api.IsUnauthorized(err) {
			return // Hook already forced logout.
		}
		m.log.Warn().Err(err).Msg("Server verification failed, keeping local session")

		m.mu.Lock()
		if m.state == StateVerifying {
			m.state = StateAuthenticated
		}
		m.mu.Unlock()
		m.notifyListeners()
		return
	}

	m.mu.Lock()
	if m.state != StateVerifying {
		// Session changed under us (logout raced the verification).
		m.mu.Unlock()
		return
	}
	m.user = user
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.persistUser(ctx, user)
	m.notifyListeners()
}

// expiryLoop re-evaluates token expiry on a fixed interval.
func (m *Manager) expiryLoop(ctx context.Context) {
	interval := m.cfg.ExpiryCheckInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkExpiry(ctx)
		}
	}
}

// checkExpiry forces a logout if the held token's deadline has passed.
func (m *Manager) checkExpiry(ctx context.Context) {
	tok := m.Token()
	if tok == "" {
		return
	}
	if m.sessionExpired(ctx, tok) {
		m.forceLogout(ctx, "token expired")
	}
}

// sessionExpired prefers the cached token_expiry value written alongside the
// token, so the periodic check and the cross-tab handler compare one integer
// instead of decoding the JWT each time. A missing or unreadable cache falls
// back to decoding.
func (m *Manager) sessionExpired(ctx context.Context, tok string) bool {
	if raw, err := m.store.Get(ctx, config.StorageKey.TokenExpiryKey()); err == nil {
		if unix, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			return !time.Unix(unix, 0).After(m.now())
		}
	}
	return token.IsExpired(tok, m.now())
}

// handleUnauthorized runs on any 401 from an authenticated request.
func (m *Manager) handleUnauthorized() {
	m.forceLogout(context.Background(), "server returned 401")
}

// forceLogout is the single convergence point for expiry, 401, and any
// other invalidation: clear everything, warn the user, and return to the
// login view unless already there.
func (m *Manager) forceLogout(ctx context.Context, reason string) {
	m.log.Warn().Str("reason", reason).Msg("Forcing logout")

	_ = m.ClearSession(ctx)

	if m.notifier != nil {
		m.notifier.Notify(notify.Notification{
			Level:   notify.LevelWarning,
			Message: notify.ForStatus(401),
		})
	}

	m.redirectToLogin()
}

// redirectToLogin navigates to the login view, suppressed when the tab is
// already there (avoids redirect loops).
func (m *Manager) redirectToLogin() {
	m.mu.Lock()
	view := m.currentView
	redirect := m.redirect
	if view != LoginView {
		m.currentView = LoginView
	}
	m.mu.Unlock()

	if view == LoginView || redirect == nil {
		return
	}
	redirect(LoginView)
}

// handleBroadcast reacts to another tab's login/logout. The event is only a
// cue: state is re-derived from shared storage, never taken from the
// payload.
func (m *Manager) handleBroadcast(ev broadcast.Event) {
	if ev.ClientID == m.cfg.ClientID {
		return
	}

	m.log.Debug().
		Str("action", string(ev.Action)).
		Str("from", ev.ClientID).
		Msg("Cross-tab notification")

	ctx := context.Background()
	tok, err := m.store.Get(ctx, config.StorageKey.TokenKey())
	if err != nil || m.sessionExpired(ctx, tok) {
		// Storage holds no usable session anymore: this tab logs out too.
		// Storage was already cleared by the publishing tab, so only the
		// in-memory state needs resetting.
		m.mu.Lock()
		changed := m.token != "" || m.state != StateUnauthenticated
		m.token = ""
		m.user = nil
		m.state = StateUnauthenticated
		m.mu.Unlock()

		if changed {
			m.notifyListeners()
		}
		return
	}

	// Storage holds a live session (this tab's own or a fresh login from
	// another tab): adopt it.
	user := m.loadPersistedUser(ctx)
	if user == nil {
		return
	}

	m.mu.Lock()
	changed := m.token != tok
	m.token = tok
	m.user = user
	m.state = StateAuthenticated
	m.mu.Unlock()

	if changed {
		m.notifyListeners()
	}
}

func (m *Manager) publish(ctx context.Context, action broadcast.Action) {
	ev := broadcast.Event{
		Action:    action,
		ClientID:  m.cfg.ClientID,
		Timestamp: m.now(),
	}
	if err := m.bus.Publish(ctx, ev); err != nil {
		m.log.Warn().Err(err).Str("action", string(action)).Msg("Broadcast publish failed")
	}
}

func (m *Manager) loadPersistedUser(ctx context.Context) *model.User {
	raw, err := m.store.Get(ctx, config.StorageKey.UserKey())
	if err != nil {
		return nil
	}

	user := &model.User{}
	if err := json.Unmarshal([]byte(raw), user); err != nil {
		m.log.Warn().Err(err).Msg("Persisted user snapshot unreadable, discarding")
		return nil
	}
	return user
}

func (m *Manager) persistUser(ctx context.Context, user *model.User) {
	raw, err := json.Marshal(user)
	if err != nil {
		return
	}
	if err := m.store.Set(ctx, config.StorageKey.UserKey(), string(raw)); err != nil {
		m.log.Warn().Err(err).Msg("Could not persist user snapshot")
	}
}

func (m *Manager) adoptUser(ctx context.Context, user *model.User) {
	userCopy := *user

	m.mu.Lock()
	m.user = &userCopy
	m.mu.Unlock()

	m.persistUser(ctx, user)
	m.notifyListeners()
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{State: m.state, Token: m.token}
	if m.user != nil {
		userCopy := *m.user
		snap.User = &userCopy
	}
	return snap
}

func (m *Manager) notifyListeners() {
	m.mu.Lock()
	snap := m.snapshotLocked()
	listeners := make([]func(Snapshot), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
