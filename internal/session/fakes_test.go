package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/micro-ha/hive-bridge/internal/hiveapi"
	"github.com/micro-ha/hive-bridge/internal/model"
)

type fakeAuth struct {
	mu        sync.Mutex
	mfa       bool
	code      string
	loginErr  error
	refreshFn func(tokens model.TokenSet) (model.TokenSet, error)
	logins    int
	refreshes int
	submits   int
	serial    int
}

func (f *fakeAuth) issue() model.TokenSet {
	f.serial++
	return model.TokenSet{
		AccessToken:  fmt.Sprintf("access-%d", f.serial),
		RefreshToken: "refresh",
		IDToken:      "id",
		Expiry:       time.Now().Add(time.Hour),
		NewDevice:    &model.DeviceMetadata{GroupKey: "g", Key: "k"},
	}
}

func (f *fakeAuth) Login(_ context.Context, username, password string, _ *model.DeviceMetadata) (model.TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if f.loginErr != nil {
		return model.TokenSet{}, f.loginErr
	}
	if username != "alice" {
		return model.TokenSet{}, model.ErrInvalidUsername
	}
	if password != "Sup3rSecret!" {
		return model.TokenSet{}, model.ErrInvalidPassword
	}
	if f.mfa {
		return model.TokenSet{Challenge: model.ChallengeSMSMFA, ChallengeSession: "session-blob", ChallengeUser: username}, nil
	}
	return f.issue(), nil
}

func (f *fakeAuth) SubmitChallenge(_ context.Context, code string, pending model.TokenSet) (model.TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if pending.ChallengeSession != "session-blob" {
		return model.TokenSet{}, model.ErrAPIUnavailable
	}
	if code != f.code {
		return model.TokenSet{}, model.ErrInvalidChallengeCode
	}
	return f.issue(), nil
}

func (f *fakeAuth) RegisterDevice(_ context.Context, name string, tokens model.TokenSet) (model.DeviceMetadata, error) {
	return model.DeviceMetadata{GroupKey: tokens.NewDevice.GroupKey, Key: tokens.NewDevice.Key, Password: "device-pw", Name: name}, nil
}

func (f *fakeAuth) Refresh(_ context.Context, tokens model.TokenSet, _ *model.DeviceMetadata) (model.TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshFn != nil {
		return f.refreshFn(tokens)
	}
	next := f.issue()
	next.RefreshToken = tokens.RefreshToken
	next.NewDevice = nil
	return next, nil
}

func (f *fakeAuth) counts() (logins, refreshes, submits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins, f.refreshes, f.submits
}

type fakeAPI struct {
	mu        sync.Mutex
	calls     atomic.Int32
	mutations []hiveapi.Mutation
	fetchFn   func(ctx context.Context, token string) (hiveapi.Payload, error)
	mutateErr error
}

func (f *fakeAPI) FetchDevices(ctx context.Context, token string) (hiveapi.Payload, error) {
	f.calls.Add(1)
	f.mu.Lock()
	fn := f.fetchFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, token)
	}
	return samplePayload(), nil
}

func (f *fakeAPI) Mutate(_ context.Context, _ string, m hiveapi.Mutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations = append(f.mutations, m)
	return f.mutateErr
}

func (f *fakeAPI) setFetch(fn func(ctx context.Context, token string) (hiveapi.Payload, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchFn = fn
}

type fakeStore struct {
	mu      sync.Mutex
	creds   *model.Credentials
	device  *model.DeviceMetadata
	tokens  *model.TokenSet
	options model.IntegrationOptions
	cleared int
}

func (f *fakeStore) SaveCredentials(_ context.Context, creds model.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds = &creds
	return nil
}

func (f *fakeStore) SaveDevice(_ context.Context, device model.DeviceMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.device = &device
	return nil
}

func (f *fakeStore) SaveTokens(_ context.Context, tokens model.TokenSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !tokens.Authenticated() {
		return errNotAuthenticatedTokens
	}
	f.tokens = &tokens
	return nil
}

func (f *fakeStore) ClearTokens(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = nil
	f.cleared++
	return nil
}

func (f *fakeStore) SaveOptions(_ context.Context, opts model.IntegrationOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.options = opts
	return nil
}

func (f *fakeStore) savedTokens() *model.TokenSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens
}

var errNotAuthenticatedTokens = errors.New("token set is not authenticated")

func samplePayload() hiveapi.Payload {
	return hiveapi.Payload{
		Products: []hiveapi.Node{
			{
				ID: "heat-1", Type: "heating",
				Props: map[string]any{"online": true, "temperature": 19.5},
				State: map[string]any{"name": "Living Room", "mode": "SCHEDULE", "target": 20.0},
			},
			{
				ID: "plug-1", Type: "activeplug",
				Props: map[string]any{"online": true},
				State: map[string]any{"name": "Kettle", "status": "OFF"},
			},
		},
		Devices: []hiveapi.Node{{ID: "hub-1", Type: "hub", Props: map[string]any{"online": true}}},
	}
}
