package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/micro-ha/hive-bridge/internal/catalog"
	"github.com/micro-ha/hive-bridge/internal/hiveapi"
	"github.com/micro-ha/hive-bridge/internal/model"
)

var aliceCreds = model.Credentials{Username: "alice", Password: "Sup3rSecret!"}

func newTestManager(t *testing.T, auth Authenticator, opts Options) (*Manager, *fakeAPI, *fakeStore) {
	t.Helper()
	api := &fakeAPI{}
	store := &fakeStore{}
	if opts.MinInterval == 0 {
		opts.MinInterval = 15 * time.Second
	}
	m := New(auth, api, store, opts, nil)
	t.Cleanup(m.Close)
	return m, api, store
}

func mustStart(t *testing.T, m *Manager, creds model.Credentials, existing *model.TokenSet) SetupResult {
	t.Helper()
	res, err := m.Start(context.Background(), creds, existing)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return res
}

func TestStartWithoutChallenge(t *testing.T) {
	m, api, store := newTestManager(t, &fakeAuth{}, Options{})

	res := mustStart(t, m, aliceCreds, nil)
	if res.State != StateAuthenticated || res.ChallengeRequired {
		t.Fatalf("unexpected result: %+v", res)
	}
	want := catalog.Ingest(samplePayload(), time.Now(), nil).Len()
	if res.Catalog == nil || res.Catalog.Len() != want {
		t.Fatalf("expected catalog with %d records, got %+v", want, res.Catalog)
	}
	if res.Catalog != m.Catalog() {
		t.Fatal("returned catalog is not the current snapshot")
	}
	if got := api.calls.Load(); got != 1 {
		t.Fatalf("expected one fetch, got %d", got)
	}
	if store.savedTokens() == nil {
		t.Fatal("tokens were not persisted")
	}
	if store.creds == nil || store.creds.Username != "alice" {
		t.Fatalf("credentials were not persisted: %+v", store.creds)
	}
}

func TestStartInvalidCredentials(t *testing.T) {
	m, api, store := newTestManager(t, &fakeAuth{}, Options{})
	ctx := context.Background()

	cases := []struct {
		creds model.Credentials
		want  error
	}{
		{model.Credentials{Username: "bob", Password: "x"}, model.ErrInvalidUsername},
		{model.Credentials{Username: "alice", Password: "x"}, model.ErrInvalidPassword},
	}
	for _, tc := range cases {
		if _, err := m.Start(ctx, tc.creds, nil); !errors.Is(err, tc.want) {
			t.Fatalf("start %q: expected %v, got %v", tc.creds.Username, tc.want, err)
		}
		if m.State() != StateUnauthenticated {
			t.Fatalf("expected UNAUTHENTICATED, got %s", m.State())
		}
	}
	if api.calls.Load() != 0 {
		t.Fatal("device api must not be called without a session")
	}
	if store.savedTokens() != nil {
		t.Fatal("no tokens may be stored after a failed login")
	}
}

func TestChallengeFlow(t *testing.T) {
	auth := &fakeAuth{mfa: true, code: "424242"}
	m, api, store := newTestManager(t, auth, Options{})
	ctx := context.Background()

	res := mustStart(t, m, aliceCreds, nil)
	if res.State != StateChallengePending || !res.ChallengeRequired {
		t.Fatalf("expected pending challenge, got %+v", res)
	}
	if api.calls.Load() != 0 || store.savedTokens() != nil {
		t.Fatal("nothing may be fetched or stored while the challenge is pending")
	}
	if _, err := m.Poll(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	res, err := m.SubmitChallenge(ctx, "111111")
	if !errors.Is(err, model.ErrInvalidChallengeCode) {
		t.Fatalf("expected ErrInvalidChallengeCode, got %v", err)
	}
	if res.State != StateChallengePending || m.State() != StateChallengePending {
		t.Fatalf("wrong code must keep the challenge pending, got %s", m.State())
	}

	res, err = m.SubmitChallenge(ctx, "424242")
	if err != nil {
		t.Fatalf("submit challenge: %v", err)
	}
	if res.State != StateAuthenticated || res.Catalog.Len() != catalog.Ingest(samplePayload(), time.Now(), nil).Len() {
		t.Fatalf("unexpected result: %+v", res)
	}

	if _, err := m.SubmitChallenge(ctx, "424242"); !errors.Is(err, ErrNoChallengePending) {
		t.Fatalf("expected ErrNoChallengePending, got %v", err)
	}
}

func TestResendCodeLogsInAgain(t *testing.T) {
	auth := &fakeAuth{mfa: true, code: "424242"}
	m, _, _ := newTestManager(t, auth, Options{})

	mustStart(t, m, aliceCreds, nil)
	res, err := m.SubmitChallenge(context.Background(), ResendCode)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if res.State != StateChallengePending {
		t.Fatalf("expected CHALLENGE_PENDING, got %s", res.State)
	}
	logins, _, submits := auth.counts()
	if logins != 2 || submits != 0 {
		t.Fatalf("expected 2 logins and no submits, got %d/%d", logins, submits)
	}
}

func TestStartTokenReuse(t *testing.T) {
	cases := []struct {
		name          string
		expiryOffset  time.Duration
		refreshFn     func(model.TokenSet) (model.TokenSet, error)
		wantLogins    int
		wantRefreshes int
	}{
		{name: "fresh tokens are refreshed", expiryOffset: -10 * time.Minute, wantLogins: 0, wantRefreshes: 1},
		{name: "old tokens force a login", expiryOffset: -2 * time.Hour, wantLogins: 1, wantRefreshes: 0},
		{
			name:         "rejected refresh falls back to login",
			expiryOffset: time.Minute,
			refreshFn: func(model.TokenSet) (model.TokenSet, error) {
				return model.TokenSet{}, model.ErrReauthRequired
			},
			wantLogins:    1,
			wantRefreshes: 1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			auth := &fakeAuth{refreshFn: tc.refreshFn}
			m, _, _ := newTestManager(t, auth, Options{FreshnessWindow: time.Hour})

			existing := &model.TokenSet{AccessToken: "old", RefreshToken: "refresh", Expiry: time.Now().Add(tc.expiryOffset)}
			res := mustStart(t, m, aliceCreds, existing)
			if res.State != StateAuthenticated {
				t.Fatalf("expected AUTHENTICATED, got %s", res.State)
			}
			logins, refreshes, _ := auth.counts()
			if logins != tc.wantLogins || refreshes != tc.wantRefreshes {
				t.Fatalf("expected %d logins/%d refreshes, got %d/%d", tc.wantLogins, tc.wantRefreshes, logins, refreshes)
			}
		})
	}
}

func TestConcurrentPollsShareOneFetch(t *testing.T) {
	m, api, _ := newTestManager(t, &fakeAuth{}, Options{})
	ctx := context.Background()
	mustStart(t, m, aliceCreds, nil)

	var notified atomic.Int32
	m.Subscribe(func() { notified.Add(1) })

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	api.setFetch(func(context.Context, string) (hiveapi.Payload, error) {
		once.Do(func() { close(entered) })
		<-release
		return samplePayload(), nil
	})
	api.calls.Store(0)

	results := make([]*catalog.Catalog, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = m.Poll(ctx)
	}()
	<-entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = m.Poll(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := api.calls.Load(); got != 1 {
		t.Fatalf("expected one fetch, got %d", got)
	}
	if results[0] == nil || results[0] != results[1] {
		t.Fatalf("callers must share one snapshot: %p %p", results[0], results[1])
	}
	if got := notified.Load(); got != 1 {
		t.Fatalf("expected one notification, got %d", got)
	}
	if m.State() != StateAuthenticated {
		t.Fatalf("expected AUTHENTICATED after poll, got %s", m.State())
	}
}

func TestFailedPollKeepsSnapshot(t *testing.T) {
	m, api, _ := newTestManager(t, &fakeAuth{}, Options{})
	res := mustStart(t, m, aliceCreds, nil)

	var notified atomic.Int32
	m.Subscribe(func() { notified.Add(1) })

	api.setFetch(func(context.Context, string) (hiveapi.Payload, error) {
		return hiveapi.Payload{}, errors.New("dial tcp: connection refused")
	})
	if _, err := m.Poll(context.Background()); !errors.Is(err, model.ErrAPIUnavailable) {
		t.Fatalf("expected ErrAPIUnavailable, got %v", err)
	}
	if m.Catalog() != res.Catalog {
		t.Fatal("failed poll replaced the snapshot")
	}
	if notified.Load() != 0 {
		t.Fatal("failed poll notified observers")
	}
	if m.State() != StateAuthenticated {
		t.Fatalf("expected AUTHENTICATED, got %s", m.State())
	}
}

func TestUnauthorizedFetchRefreshesOnce(t *testing.T) {
	auth := &fakeAuth{}
	m, api, _ := newTestManager(t, auth, Options{})
	mustStart(t, m, aliceCreds, nil)

	var rejected atomic.Bool
	api.setFetch(func(_ context.Context, token string) (hiveapi.Payload, error) {
		if !rejected.Swap(true) {
			return hiveapi.Payload{}, &hiveapi.StatusError{Status: 401}
		}
		return samplePayload(), nil
	})

	if _, err := m.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if _, refreshes, _ := auth.counts(); refreshes != 1 {
		t.Fatalf("expected one refresh, got %d", refreshes)
	}
}

func TestReauthRequiredStopsPolling(t *testing.T) {
	auth := &fakeAuth{}
	m, api, store := newTestManager(t, auth, Options{})
	ctx := context.Background()
	mustStart(t, m, aliceCreds, nil)

	var hookErr atomic.Value
	m.OnReauthRequired(func(err error) { hookErr.Store(err) })

	auth.mu.Lock()
	auth.refreshFn = func(model.TokenSet) (model.TokenSet, error) {
		return model.TokenSet{}, model.ErrReauthRequired
	}
	auth.mu.Unlock()
	m.nowFn = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, err := m.Poll(ctx); !errors.Is(err, model.ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
	if m.State() != StateReauthRequired {
		t.Fatalf("expected REAUTH_REQUIRED, got %s", m.State())
	}
	if hookErr.Load() == nil {
		t.Fatal("reauth hook did not fire")
	}
	if store.savedTokens() != nil {
		t.Fatal("tokens must be cleared on reauth")
	}

	calls := api.calls.Load()
	if _, err := m.Poll(ctx); !errors.Is(err, model.ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
	if api.calls.Load() != calls {
		t.Fatal("poll reached the api after reauth")
	}
	if err := m.Mutate(ctx, hiveapi.ActionUpdate("a", true)); !errors.Is(err, model.ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired from mutate, got %v", err)
	}
}

func TestSetIntervalClampsToFloor(t *testing.T) {
	m, _, store := newTestManager(t, &fakeAuth{}, Options{MinInterval: 15 * time.Second})
	ctx := context.Background()

	got, err := m.SetInterval(ctx, 5*time.Second)
	if err != nil {
		t.Fatalf("set interval: %v", err)
	}
	if got != 15*time.Second || m.Interval() != 15*time.Second {
		t.Fatalf("expected clamp to 15s, got %s/%s", got, m.Interval())
	}
	if store.options.ScanIntervalSec != 15 {
		t.Fatalf("expected persisted 15, got %d", store.options.ScanIntervalSec)
	}

	got, err = m.SetInterval(ctx, time.Hour)
	if err != nil {
		t.Fatalf("set interval: %v", err)
	}
	if got != time.Hour || m.Info().ScanInterval != 3600 {
		t.Fatalf("expected 1h, got %s (%d)", got, m.Info().ScanInterval)
	}
}

func TestCloseAbandonsInFlightPoll(t *testing.T) {
	m, api, _ := newTestManager(t, &fakeAuth{}, Options{})
	ctx := context.Background()
	res := mustStart(t, m, aliceCreds, nil)

	var notified atomic.Int32
	m.Subscribe(func() { notified.Add(1) })

	entered := make(chan struct{})
	api.setFetch(func(ctx context.Context, _ string) (hiveapi.Payload, error) {
		close(entered)
		<-ctx.Done()
		return samplePayload(), nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := m.Poll(ctx)
		done <- err
	}()
	<-entered
	m.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not return after close")
	}
	if m.Catalog() != res.Catalog {
		t.Fatal("abandoned poll replaced the snapshot")
	}
	if notified.Load() != 0 {
		t.Fatal("abandoned poll notified observers")
	}
	if _, err := m.Poll(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestRegisterDevicePersistsMetadata(t *testing.T) {
	m, _, store := newTestManager(t, &fakeAuth{}, Options{})
	ctx := context.Background()

	if _, err := m.RegisterDevice(ctx, "Home Assistant"); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	mustStart(t, m, aliceCreds, nil)
	device, err := m.RegisterDevice(ctx, "Home Assistant")
	if err != nil {
		t.Fatalf("register device: %v", err)
	}
	if device.Password != "device-pw" {
		t.Fatalf("unexpected device: %+v", device)
	}
	if store.device == nil || *store.device != device {
		t.Fatalf("device not persisted: %+v", store.device)
	}
}

func TestRegisterDeviceAfterTokenRefresh(t *testing.T) {
	auth := &fakeAuth{}
	m, api, _ := newTestManager(t, auth, Options{})
	mustStart(t, m, aliceCreds, nil)

	var rejected atomic.Bool
	api.setFetch(func(context.Context, string) (hiveapi.Payload, error) {
		if !rejected.Swap(true) {
			return hiveapi.Payload{}, &hiveapi.StatusError{Status: 401}
		}
		return samplePayload(), nil
	})
	if _, err := m.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if _, refreshes, _ := auth.counts(); refreshes != 1 {
		t.Fatalf("expected a refresh before registration, got %d", refreshes)
	}

	device, err := m.RegisterDevice(context.Background(), "Home Assistant")
	if err != nil {
		t.Fatalf("register device after refresh: %v", err)
	}
	if device.Key != "k" || device.GroupKey != "g" {
		t.Fatalf("device metadata from login was lost: %+v", device)
	}
}

func TestMutateUsesCurrentToken(t *testing.T) {
	m, api, _ := newTestManager(t, &fakeAuth{}, Options{})
	ctx := context.Background()

	if err := m.Mutate(ctx, hiveapi.ActionUpdate("a", true)); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	mustStart(t, m, aliceCreds, nil)
	if err := m.Mutate(ctx, hiveapi.ActionUpdate("a", true)); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if len(api.mutations) != 1 {
		t.Fatalf("expected one mutation, got %d", len(api.mutations))
	}

	api.mutateErr = &hiveapi.StatusError{Status: 500}
	if err := m.Mutate(ctx, hiveapi.ActionUpdate("a", false)); !errors.Is(err, model.ErrAPIUnavailable) {
		t.Fatalf("expected ErrAPIUnavailable, got %v", err)
	}
}

func TestRunPollsOnTimer(t *testing.T) {
	m, api, _ := newTestManager(t, &fakeAuth{}, Options{Interval: 10 * time.Millisecond, MinInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	if api.calls.Load() != 0 {
		t.Fatal("timer must stay disarmed before login")
	}

	mustStart(t, m, aliceCreds, nil)
	deadline := time.Now().Add(2 * time.Second)
	for api.calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected timer polls, got %d fetches", api.calls.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run loop did not stop")
	}
}
