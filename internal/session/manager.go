// Package session owns the authenticated connection to the vendor cloud:
// the login state machine, token refresh, the device snapshot and the
// periodic poll that keeps it current.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/micro-ha/hive-bridge/internal/catalog"
	"github.com/micro-ha/hive-bridge/internal/hiveapi"
	"github.com/micro-ha/hive-bridge/internal/model"
	"golang.org/x/sync/singleflight"
)

// ResendCode asks for a new SMS code instead of answering the challenge.
const ResendCode = "0000"

const (
	defaultRefreshSkew = time.Minute
	defaultPollTimeout = 30 * time.Second
	pollKey            = "poll"
	refreshKey         = "refresh"
)

// Authenticator is the identity provider client.
type Authenticator interface {
	Login(ctx context.Context, username, password string, device *model.DeviceMetadata) (model.TokenSet, error)
	SubmitChallenge(ctx context.Context, code string, pending model.TokenSet) (model.TokenSet, error)
	RegisterDevice(ctx context.Context, deviceName string, tokens model.TokenSet) (model.DeviceMetadata, error)
	Refresh(ctx context.Context, tokens model.TokenSet, device *model.DeviceMetadata) (model.TokenSet, error)
}

// DeviceAPI is the vendor device API.
type DeviceAPI interface {
	FetchDevices(ctx context.Context, accessToken string) (hiveapi.Payload, error)
	Mutate(ctx context.Context, accessToken string, m hiveapi.Mutation) error
}

// Store persists what must survive a restart.
type Store interface {
	SaveCredentials(ctx context.Context, creds model.Credentials) error
	SaveDevice(ctx context.Context, device model.DeviceMetadata) error
	SaveTokens(ctx context.Context, tokens model.TokenSet) error
	ClearTokens(ctx context.Context) error
	SaveOptions(ctx context.Context, opts model.IntegrationOptions) error
}

// Options tune the manager. Zero values select defaults.
type Options struct {
	Interval        time.Duration
	MinInterval     time.Duration
	FreshnessWindow time.Duration
	RefreshSkew     time.Duration
	PollTimeout     time.Duration
}

// SetupResult reports the outcome of a setup step.
type SetupResult struct {
	State             State            `json:"state"`
	ChallengeRequired bool             `json:"challenge_required"`
	Catalog           *catalog.Catalog `json:"-"`
}

type Manager struct {
	auth   Authenticator
	api    DeviceAPI
	store  Store
	logger *slog.Logger
	opts   Options
	nowFn  func() time.Time

	mu          sync.Mutex
	state       State
	creds       model.Credentials
	tokens      model.TokenSet
	pending     model.TokenSet
	closed      bool
	observers   map[int]func()
	nextID      int
	reauthHooks []func(error)

	snapshot atomic.Pointer[catalog.Catalog]
	interval atomic.Int64
	flight   singleflight.Group
	wake     chan struct{}

	runCtx context.Context
	cancel context.CancelFunc
}

func New(auth Authenticator, api DeviceAPI, store Store, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = model.MinScanInterval
	}
	if opts.Interval <= 0 {
		opts.Interval = model.DefaultScanInterval
	}
	if opts.RefreshSkew <= 0 {
		opts.RefreshSkew = defaultRefreshSkew
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		auth:      auth,
		api:       api,
		store:     store,
		logger:    logger,
		opts:      opts,
		nowFn:     time.Now,
		state:     StateUnauthenticated,
		observers: map[int]func(){},
		wake:      make(chan struct{}, 1),
		runCtx:    runCtx,
		cancel:    cancel,
	}
	m.snapshot.Store(catalog.Empty())
	m.interval.Store(int64(model.ClampInterval(opts.Interval, opts.MinInterval)))
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Catalog returns the latest successfully ingested snapshot.
func (m *Manager) Catalog() *catalog.Catalog {
	return m.snapshot.Load()
}

// Interval returns the effective poll period.
func (m *Manager) Interval() time.Duration {
	return time.Duration(m.interval.Load())
}

// Info summarizes the session.
func (m *Manager) Info() model.SessionInfo {
	m.mu.Lock()
	info := model.SessionInfo{State: string(m.state), Username: m.creds.Username}
	m.mu.Unlock()

	cat := m.Catalog()
	if refreshed := cat.LastRefreshed(); !refreshed.IsZero() {
		info.LastRefreshed = &refreshed
	}
	info.Devices = cat.Len()
	info.ScanInterval = int(m.Interval() / time.Second)
	return info
}

// Start authenticates with creds. Existing tokens are refreshed when they
// lapsed less than the freshness window ago; otherwise a full login runs.
// When the provider asks for an SMS code Start returns at once with
// ChallengeRequired set. On success the first poll runs synchronously.
func (m *Manager) Start(ctx context.Context, creds model.Credentials, existing *model.TokenSet) (SetupResult, error) {
	if err := m.beginSetup(nil); err != nil {
		return SetupResult{State: m.State()}, err
	}
	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()

	tokens, err := m.authenticate(ctx, creds, existing)
	if err != nil {
		m.setState(StateUnauthenticated)
		m.logger.Warn("authentication failed", "username", creds.Username, "err", err)
		return SetupResult{State: StateUnauthenticated}, err
	}
	return m.afterLogin(ctx, tokens)
}

// SubmitChallenge answers a pending SMS challenge. A wrong code keeps the
// challenge pending so the user can retry. ResendCode requests a new SMS.
func (m *Manager) SubmitChallenge(ctx context.Context, code string) (SetupResult, error) {
	var pending model.TokenSet
	var creds model.Credentials
	allowed := StateChallengePending
	if err := m.beginSetup(&allowed); err != nil {
		return SetupResult{State: m.State()}, err
	}
	m.mu.Lock()
	pending, creds = m.pending, m.creds
	m.mu.Unlock()

	if strings.TrimSpace(code) == ResendCode {
		m.logger.Info("requesting new verification code", "username", creds.Username)
		tokens, err := m.auth.Login(ctx, creds.Username, creds.Password, creds.Device)
		if err != nil {
			m.setState(StateChallengePending)
			return SetupResult{State: StateChallengePending, ChallengeRequired: true}, err
		}
		return m.afterLogin(ctx, tokens)
	}

	tokens, err := m.auth.SubmitChallenge(ctx, code, pending)
	if err != nil {
		next := StateUnauthenticated
		if errors.Is(err, model.ErrInvalidChallengeCode) || errors.Is(err, model.ErrAPIUnavailable) {
			next = StateChallengePending
		}
		m.setState(next)
		return SetupResult{State: next, ChallengeRequired: next == StateChallengePending}, err
	}
	return m.afterLogin(ctx, tokens)
}

// RegisterDevice remembers this install at the identity provider so later
// logins skip the SMS challenge.
func (m *Manager) RegisterDevice(ctx context.Context, deviceName string) (model.DeviceMetadata, error) {
	m.mu.Lock()
	state, tokens := m.state, m.tokens
	m.mu.Unlock()
	if !state.Active() {
		return model.DeviceMetadata{}, ErrNotAuthenticated
	}

	device, err := m.auth.RegisterDevice(ctx, deviceName, tokens)
	if err != nil {
		return model.DeviceMetadata{}, err
	}
	if err := m.store.SaveDevice(ctx, device); err != nil {
		return model.DeviceMetadata{}, fmt.Errorf("persist device: %w", err)
	}
	m.mu.Lock()
	m.creds.Device = &device
	m.mu.Unlock()
	m.logger.Info("device remembered", "device_name", deviceName)
	return device, nil
}

// Poll fetches and ingests a fresh snapshot. At most one fetch is in flight;
// concurrent callers share its result. A failed poll leaves the previous
// snapshot in place.
func (m *Manager) Poll(ctx context.Context) (*catalog.Catalog, error) {
	if m.runCtx.Err() != nil {
		return nil, ErrClosed
	}
	ch := m.flight.DoChan(pollKey, func() (any, error) {
		return m.poll()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*catalog.Catalog), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RefreshAndNotify polls now and notifies observers on success.
func (m *Manager) RefreshAndNotify(ctx context.Context) error {
	_, err := m.Poll(ctx)
	return err
}

// SetInterval changes the poll period, clamped to the configured floor,
// persists it and re-arms the timer. It returns the effective period.
func (m *Manager) SetInterval(ctx context.Context, interval time.Duration) (time.Duration, error) {
	effective := model.ClampInterval(interval, m.opts.MinInterval)
	m.interval.Store(int64(effective))
	m.kick()
	if effective != interval {
		m.logger.Info("scan interval clamped", "requested", interval.String(), "effective", effective.String())
	}
	if err := m.store.SaveOptions(ctx, model.IntegrationOptions{ScanIntervalSec: int(effective / time.Second)}); err != nil {
		return effective, fmt.Errorf("persist scan interval: %w", err)
	}
	return effective, nil
}

// Mutate sends a state change with the current access token.
func (m *Manager) Mutate(ctx context.Context, mutation hiveapi.Mutation) error {
	state := m.State()
	if state == StateReauthRequired {
		return model.ErrReauthRequired
	}
	if !state.Active() {
		return ErrNotAuthenticated
	}
	token, err := m.accessToken(ctx)
	if err == nil {
		err = m.api.Mutate(ctx, token, mutation)
		if errors.Is(err, hiveapi.ErrUnauthorized) {
			// The rejected request was not applied, so it is safe to send once more.
			if token, err = m.forceRefresh(ctx); err == nil {
				err = m.api.Mutate(ctx, token, mutation)
			}
		}
	}
	if err != nil {
		return m.classify(err)
	}
	return nil
}

// Subscribe registers fn to run after every successful poll.
func (m *Manager) Subscribe(fn func()) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

// OnReauthRequired registers fn to run when credentials stop working.
func (m *Manager) OnReauthRequired(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reauthHooks = append(m.reauthHooks, fn)
}

// Close stops the timer loop and abandons any in-flight poll.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.observers = map[int]func(){}
	m.reauthHooks = nil
	m.mu.Unlock()
	m.cancel()
}

func (m *Manager) beginSetup(allowed *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if allowed != nil && m.state != *allowed {
		return ErrNoChallengePending
	}
	if m.state == StateAuthenticating {
		return ErrSetupInProgress
	}
	m.state = StateAuthenticating
	return nil
}

func (m *Manager) authenticate(ctx context.Context, creds model.Credentials, existing *model.TokenSet) (model.TokenSet, error) {
	if existing != nil && existing.RefreshToken != "" && m.nowFn().Before(existing.Expiry.Add(m.opts.FreshnessWindow)) {
		tokens, err := m.auth.Refresh(ctx, *existing, creds.Device)
		if err == nil {
			m.logger.Info("session resumed from stored tokens", "username", creds.Username)
			return tokens, nil
		}
		if !errors.Is(err, model.ErrReauthRequired) || creds.Password == "" {
			return model.TokenSet{}, err
		}
		m.logger.Info("stored tokens rejected; logging in again", "username", creds.Username)
	}
	return m.auth.Login(ctx, creds.Username, creds.Password, creds.Device)
}

func (m *Manager) afterLogin(ctx context.Context, tokens model.TokenSet) (SetupResult, error) {
	if tokens.Challenge == model.ChallengeSMSMFA {
		m.mu.Lock()
		m.pending = tokens
		m.state = StateChallengePending
		m.mu.Unlock()
		return SetupResult{State: StateChallengePending, ChallengeRequired: true}, nil
	}
	if !tokens.Authenticated() {
		m.setState(StateUnauthenticated)
		return SetupResult{State: StateUnauthenticated}, fmt.Errorf("%w: incomplete token set", model.ErrAPIUnavailable)
	}

	m.mu.Lock()
	creds := m.creds
	m.tokens = tokens
	m.pending = model.TokenSet{}
	m.state = StateAuthenticated
	m.mu.Unlock()

	if err := m.store.SaveTokens(ctx, tokens); err != nil {
		m.logger.Error("failed to persist tokens", "err", err)
	}
	if creds.Password != "" {
		if err := m.store.SaveCredentials(ctx, creds); err != nil {
			m.logger.Error("failed to persist credentials", "err", err)
		}
	}
	m.logger.Info("session authenticated", "username", creds.Username)
	m.kick()

	cat, err := m.Poll(ctx)
	if err != nil {
		return SetupResult{State: m.State(), Catalog: m.Catalog()}, fmt.Errorf("initial poll: %w", err)
	}
	return SetupResult{State: m.State(), Catalog: cat}, nil
}

func (m *Manager) poll() (*catalog.Catalog, error) {
	ctx, cancel := context.WithTimeout(m.runCtx, m.opts.PollTimeout)
	defer cancel()

	m.mu.Lock()
	if !m.state.Active() {
		state := m.state
		m.mu.Unlock()
		if state == StateReauthRequired {
			return nil, model.ErrReauthRequired
		}
		return nil, fmt.Errorf("%w (state %s)", ErrNotAuthenticated, state)
	}
	m.state = StatePolling
	m.mu.Unlock()
	defer m.finishPoll()

	token, err := m.accessToken(ctx)
	if err != nil {
		return nil, m.classify(err)
	}
	payload, err := m.api.FetchDevices(ctx, token)
	if errors.Is(err, hiveapi.ErrUnauthorized) {
		if token, err = m.forceRefresh(ctx); err == nil {
			payload, err = m.api.FetchDevices(ctx, token)
		}
	}
	if err != nil {
		return nil, m.classify(err)
	}

	cat := catalog.Ingest(payload, m.nowFn(), m.logger)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.snapshot.Store(cat)
	observers := make([]func(), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	m.logger.Debug("poll complete", "devices", cat.Len())
	for _, fn := range observers {
		m.safeCall(fn)
	}
	return cat, nil
}

func (m *Manager) finishPoll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StatePolling {
		m.state = StateAuthenticated
	}
}

// accessToken returns a token valid for at least the refresh skew.
func (m *Manager) accessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	tokens := m.tokens
	m.mu.Unlock()
	if !tokens.ExpiresWithin(m.nowFn(), m.opts.RefreshSkew) {
		return tokens.AccessToken, nil
	}
	return m.forceRefresh(ctx)
}

func (m *Manager) forceRefresh(ctx context.Context) (string, error) {
	res, err, _ := m.flight.Do(refreshKey, func() (any, error) {
		m.mu.Lock()
		tokens, device := m.tokens, m.creds.Device
		m.mu.Unlock()

		refreshed, err := m.auth.Refresh(ctx, tokens, device)
		if err != nil {
			return "", err
		}
		// Refresh results never offer a device; keep the one from login
		// so RegisterDevice still works after a refresh.
		if refreshed.NewDevice == nil {
			refreshed.NewDevice = tokens.NewDevice
		}
		m.mu.Lock()
		m.tokens = refreshed
		m.mu.Unlock()
		if err := m.store.SaveTokens(ctx, refreshed); err != nil {
			m.logger.Error("failed to persist refreshed tokens", "err", err)
		}
		m.logger.Debug("access token refreshed", "expires_at", refreshed.Expiry)
		return refreshed.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// classify maps a failure onto the error taxonomy and handles reauth.
func (m *Manager) classify(err error) error {
	switch {
	case errors.Is(err, model.ErrReauthRequired):
		m.requireReauth(err)
		return err
	case m.runCtx.Err() != nil:
		return ErrClosed
	case errors.Is(err, model.ErrAPIUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", model.ErrAPIUnavailable, err)
	}
}

func (m *Manager) requireReauth(cause error) {
	m.mu.Lock()
	if m.state == StateReauthRequired || m.closed {
		m.mu.Unlock()
		return
	}
	m.state = StateReauthRequired
	m.tokens = model.TokenSet{}
	hooks := append([]func(error){}, m.reauthHooks...)
	m.mu.Unlock()

	m.logger.Warn("reauthentication required; polling stopped", "err", cause)
	if err := m.store.ClearTokens(context.Background()); err != nil {
		m.logger.Error("failed to clear tokens", "err", err)
	}
	m.kick()
	for _, hook := range hooks {
		hook := hook
		m.safeCall(func() { hook(cause) })
	}
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

func (m *Manager) safeCall(fn func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			m.logger.Error("observer panicked", "panic", fmt.Sprint(recovered))
		}
	}()
	fn()
}
