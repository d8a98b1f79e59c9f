// Package mock provides an in-process identity provider speaking the
// user pool JSON protocol, including SRP verification, for tests.
package mock

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/micro-ha/hive-bridge/internal/cognito"
)

// PoolID is the user pool served by every mock instance.
const PoolID = "eu-west-1_MockPool"

// ClientID is the app client accepted by every mock instance.
const ClientID = "mock-client-id"

// DefaultMFACode is the SMS code accepted unless SetMFACode changes it.
const DefaultMFACode = "123456"

const targetPrefix = "AWSCognitoIdentityProviderService."

type user struct {
	username string
	sub      string
	salt     string
	verifier *big.Int
	mfa      bool
}

type device struct {
	groupKey   string
	key        string
	username   string
	name       string
	salt       string
	verifier   *big.Int
	remembered bool
}

type session struct {
	username    string
	stage       string
	deviceKey   string
	a           *big.Int
	b           *big.Int
	B           *big.Int
	secretBlock []byte
}

// Server represents a mock instance.
type Server struct {
	httpListener net.Listener
	endpoint     string
	logger       *slog.Logger
	stoppedWG    sync.WaitGroup
	httpServer   *http.Server

	mu             sync.Mutex
	users          map[string]*user
	devices        map[string]*device
	sessions       map[string]*session
	accessTokens   map[string]string
	refreshTokens  map[string]string
	calls          map[string]int
	mfaCode        string
	deviceTracking bool
	unavailable    bool
	accessTTL      time.Duration
}

// Start starts and returns a new mock instance.
//
// Start panics in case of an error. The returned server
// is listening on localhost using a dynamic port.
func Start() *Server {
	httpListener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		log.Fatal(err)
	}
	address := httpListener.Addr().String()
	server := &Server{
		httpListener:   httpListener,
		endpoint:       "http://" + address + "/",
		logger:         slog.Default().With(slog.String("server", address)),
		users:          map[string]*user{},
		devices:        map[string]*device{},
		sessions:       map[string]*session{},
		accessTokens:   map[string]string{},
		refreshTokens:  map[string]string{},
		calls:          map[string]int{},
		mfaCode:        DefaultMFACode,
		deviceTracking: true,
		accessTTL:      time.Hour,
	}
	server.httpServer = &http.Server{Handler: http.HandlerFunc(server.handle)}
	server.stoppedWG.Add(1)
	go func() {
		defer server.stoppedWG.Done()
		server.listenAndServe()
	}()
	return server
}

// Endpoint gets the identity endpoint URL for this mock instance.
func (s *Server) Endpoint() string {
	return s.endpoint
}

// Config returns a client configuration pointing at this instance.
func (s *Server) Config() cognito.Config {
	return cognito.Config{Endpoint: s.endpoint, UserPoolID: PoolID, ClientID: ClientID, Timeout: 5 * time.Second}
}

// Stop stops this mock instance.
func (s *Server) Stop(ctx context.Context) {
	_ = s.httpServer.Shutdown(ctx)
	s.stoppedWG.Wait()
}

// AddUser registers an account. With mfa set every password login ends in an SMS challenge.
func (s *Server) AddUser(username, password string, mfa bool) {
	sub := uuid.NewString()
	salt := randomHex(16)
	poolName := PoolID[strings.Index(PoolID, "_")+1:]
	x := cognito.PrivateValue(salt, poolName+sub, password)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &user{username: username, sub: sub, salt: salt, verifier: cognito.Verifier(x), mfa: mfa}
}

// SetMFACode changes the accepted SMS code.
func (s *Server) SetMFACode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mfaCode = code
}

// SetDeviceTracking controls whether successful logins offer a device to remember.
func (s *Server) SetDeviceTracking(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceTracking = enabled
}

// SetUnavailable makes every call fail with a 503.
func (s *Server) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

// SetAccessTTL changes the lifetime reported for new access tokens.
func (s *Server) SetAccessTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTTL = ttl
}

// RevokeRefreshTokens invalidates every issued refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = map[string]string{}
}

// Calls returns how often operation was invoked.
func (s *Server) Calls(operation string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[operation]
}

// ValidAccessToken reports whether token was issued by this instance.
func (s *Server) ValidAccessToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.accessTokens[token]
	return ok
}

// RememberedDevices returns the keys of confirmed and remembered devices.
func (s *Server) RememberedDevices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.devices))
	for key, d := range s.devices {
		if d.remembered && d.verifier != nil {
			keys = append(keys, key)
		}
	}
	return keys
}

func (s *Server) listenAndServe() {
	s.logger.Info("http server starting...")
	err := s.httpServer.Serve(s.httpListener)
	if !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("http server failure", slog.Any("err", err))
		return
	}
	s.logger.Info("http server stopped")
}

type request struct {
	AuthFlow           string            `json:"AuthFlow"`
	ClientID           string            `json:"ClientId"`
	AuthParameters     map[string]string `json:"AuthParameters"`
	ChallengeName      string            `json:"ChallengeName"`
	ChallengeResponses map[string]string `json:"ChallengeResponses"`
	Session            string            `json:"Session"`

	AccessToken                string `json:"AccessToken"`
	DeviceKey                  string `json:"DeviceKey"`
	DeviceName                 string `json:"DeviceName"`
	DeviceRememberedStatus     string `json:"DeviceRememberedStatus"`
	DeviceSecretVerifierConfig struct {
		PasswordVerifier string `json:"PasswordVerifier"`
		Salt             string `json:"Salt"`
	} `json:"DeviceSecretVerifierConfig"`
}

type serviceError struct {
	status  int
	kind    string
	message string
}

func (e *serviceError) Error() string {
	return e.kind + ": " + e.message
}

func notAuthorized(message string) *serviceError {
	return &serviceError{status: http.StatusBadRequest, kind: "NotAuthorizedException", message: message}
}

func invalidParameter(message string) *serviceError {
	return &serviceError{status: http.StatusBadRequest, kind: "InvalidParameterException", message: message}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	operation := strings.TrimPrefix(r.Header.Get("X-Amz-Target"), targetPrefix)
	s.logger.Info("mock call", slog.String("operation", operation))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[operation]++

	if s.unavailable {
		writeError(w, &serviceError{status: http.StatusServiceUnavailable, kind: "InternalErrorException", message: "service unavailable"})
		return
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, invalidParameter("malformed request"))
		return
	}
	if req.ClientID != "" && req.ClientID != ClientID {
		writeError(w, &serviceError{status: http.StatusBadRequest, kind: "ResourceNotFoundException", message: "unknown client"})
		return
	}

	var (
		resp any
		err  error
	)
	switch operation {
	case "InitiateAuth":
		resp, err = s.initiateAuth(req)
	case "RespondToAuthChallenge":
		resp, err = s.respondToChallenge(req)
	case "ConfirmDevice":
		resp, err = s.confirmDevice(req)
	case "UpdateDeviceStatus":
		resp, err = s.updateDeviceStatus(req)
	default:
		err = &serviceError{status: http.StatusBadRequest, kind: "UnknownOperationException", message: operation}
	}
	if err != nil {
		var svcErr *serviceError
		if !errors.As(err, &svcErr) {
			svcErr = &serviceError{status: http.StatusInternalServerError, kind: "InternalErrorException", message: err.Error()}
		}
		writeError(w, svcErr)
		return
	}
	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) initiateAuth(req request) (any, error) {
	switch req.AuthFlow {
	case "USER_SRP_AUTH":
		u, ok := s.users[req.AuthParameters["USERNAME"]]
		if !ok {
			return nil, &serviceError{status: http.StatusBadRequest, kind: "UserNotFoundException", message: "User does not exist."}
		}
		A, err := parsePublic(req.AuthParameters["SRP_A"])
		if err != nil {
			return nil, err
		}
		b := randomInt()
		B := cognito.ServerPublic(u.verifier, b)
		sess := &session{username: u.username, stage: "PASSWORD_VERIFIER", deviceKey: req.AuthParameters["DEVICE_KEY"], a: A, b: b, B: B, secretBlock: randomBytes(64)}
		id := s.newSession(sess)
		return map[string]any{
			"ChallengeName": "PASSWORD_VERIFIER",
			"Session":       id,
			"ChallengeParameters": map[string]string{
				"SALT":            u.salt,
				"SRP_B":           B.Text(16),
				"SECRET_BLOCK":    base64.StdEncoding.EncodeToString(sess.secretBlock),
				"USER_ID_FOR_SRP": u.sub,
				"USERNAME":        u.sub,
			},
		}, nil
	case "REFRESH_TOKEN_AUTH":
		username, ok := s.refreshTokens[req.AuthParameters["REFRESH_TOKEN"]]
		if !ok {
			return nil, notAuthorized("Refresh Token has been revoked")
		}
		return map[string]any{"AuthenticationResult": s.issue(username, false, false)}, nil
	default:
		return nil, invalidParameter("unsupported auth flow " + req.AuthFlow)
	}
}

func (s *Server) respondToChallenge(req request) (any, error) {
	sess, ok := s.sessions[req.Session]
	if !ok || sess.stage != req.ChallengeName {
		return nil, notAuthorized("Invalid session for the user.")
	}
	u := s.users[sess.username]
	poolName := PoolID[strings.Index(PoolID, "_")+1:]

	switch req.ChallengeName {
	case "PASSWORD_VERIFIER":
		if !verifyClaim(sess, u.verifier, poolName, u.sub, req.ChallengeResponses) {
			delete(s.sessions, req.Session)
			return nil, notAuthorized("Incorrect username or password.")
		}
		delete(s.sessions, req.Session)
		if d, ok := s.devices[sess.deviceKey]; ok && d.remembered && d.username == u.username {
			id := s.newSession(&session{username: u.username, stage: "DEVICE_SRP_AUTH", deviceKey: d.key})
			return map[string]any{"ChallengeName": "DEVICE_SRP_AUTH", "Session": id, "ChallengeParameters": map[string]string{}}, nil
		}
		if u.mfa {
			id := s.newSession(&session{username: u.username, stage: "SMS_MFA"})
			return map[string]any{
				"ChallengeName": "SMS_MFA",
				"Session":       id,
				"ChallengeParameters": map[string]string{
					"CODE_DELIVERY_DELIVERY_MEDIUM": "SMS",
					"CODE_DELIVERY_DESTINATION":     "+*******0042",
				},
			}, nil
		}
		return map[string]any{"AuthenticationResult": s.issue(u.username, true, s.deviceTracking)}, nil
	case "SMS_MFA":
		if req.ChallengeResponses["SMS_MFA_CODE"] != s.mfaCode {
			return nil, &serviceError{status: http.StatusBadRequest, kind: "CodeMismatchException", message: "Invalid code received for user"}
		}
		delete(s.sessions, req.Session)
		return map[string]any{"AuthenticationResult": s.issue(u.username, true, s.deviceTracking)}, nil
	case "DEVICE_SRP_AUTH":
		d, ok := s.devices[req.ChallengeResponses["DEVICE_KEY"]]
		if !ok || d.key != sess.deviceKey {
			return nil, &serviceError{status: http.StatusBadRequest, kind: "ResourceNotFoundException", message: "Device does not exist."}
		}
		A, err := parsePublic(req.ChallengeResponses["SRP_A"])
		if err != nil {
			return nil, err
		}
		delete(s.sessions, req.Session)
		b := randomInt()
		next := &session{username: u.username, stage: "DEVICE_PASSWORD_VERIFIER", deviceKey: d.key, a: A, b: b, B: cognito.ServerPublic(d.verifier, b), secretBlock: randomBytes(64)}
		id := s.newSession(next)
		return map[string]any{
			"ChallengeName": "DEVICE_PASSWORD_VERIFIER",
			"Session":       id,
			"ChallengeParameters": map[string]string{
				"SALT":         d.salt,
				"SRP_B":        next.B.Text(16),
				"SECRET_BLOCK": base64.StdEncoding.EncodeToString(next.secretBlock),
				"USERNAME":     u.sub,
				"DEVICE_KEY":   d.key,
			},
		}, nil
	case "DEVICE_PASSWORD_VERIFIER":
		d := s.devices[sess.deviceKey]
		delete(s.sessions, req.Session)
		if d == nil || !verifyClaim(sess, d.verifier, d.groupKey, d.key, req.ChallengeResponses) {
			return nil, notAuthorized("Incorrect username or password.")
		}
		return map[string]any{"AuthenticationResult": s.issue(u.username, true, false)}, nil
	default:
		return nil, invalidParameter("unsupported challenge " + req.ChallengeName)
	}
}

func (s *Server) confirmDevice(req request) (any, error) {
	username, ok := s.accessTokens[req.AccessToken]
	if !ok {
		return nil, notAuthorized("Access Token has been revoked")
	}
	d, ok := s.devices[req.DeviceKey]
	if !ok || d.username != username {
		return nil, &serviceError{status: http.StatusBadRequest, kind: "ResourceNotFoundException", message: "Device does not exist."}
	}
	verifier, err := base64.StdEncoding.DecodeString(req.DeviceSecretVerifierConfig.PasswordVerifier)
	if err != nil {
		return nil, invalidParameter("invalid verifier")
	}
	salt, err := base64.StdEncoding.DecodeString(req.DeviceSecretVerifierConfig.Salt)
	if err != nil {
		return nil, invalidParameter("invalid salt")
	}
	d.verifier = new(big.Int).SetBytes(verifier)
	d.salt = hex.EncodeToString(salt)
	d.name = req.DeviceName
	return map[string]any{"UserConfirmationNecessary": false}, nil
}

func (s *Server) updateDeviceStatus(req request) (any, error) {
	username, ok := s.accessTokens[req.AccessToken]
	if !ok {
		return nil, notAuthorized("Access Token has been revoked")
	}
	d, ok := s.devices[req.DeviceKey]
	if !ok || d.username != username || d.verifier == nil {
		return nil, &serviceError{status: http.StatusBadRequest, kind: "ResourceNotFoundException", message: "Device does not exist."}
	}
	d.remembered = req.DeviceRememberedStatus == "remembered"
	return map[string]any{}, nil
}

func (s *Server) issue(username string, withRefresh, offerDevice bool) map[string]any {
	access := "access-" + uuid.NewString()
	s.accessTokens[access] = username
	result := map[string]any{
		"AccessToken": access,
		"IdToken":     "id-" + uuid.NewString(),
		"ExpiresIn":   int(s.accessTTL.Seconds()),
		"TokenType":   "Bearer",
	}
	if withRefresh {
		refresh := "refresh-" + uuid.NewString()
		s.refreshTokens[refresh] = username
		result["RefreshToken"] = refresh
	}
	if offerDevice {
		d := &device{groupKey: "-group" + randomHex(4), key: "eu-west-1_" + uuid.NewString(), username: username}
		s.devices[d.key] = d
		result["NewDeviceMetadata"] = map[string]string{"DeviceGroupKey": d.groupKey, "DeviceKey": d.key}
	}
	return result
}

func (s *Server) newSession(sess *session) string {
	id := base64.StdEncoding.EncodeToString([]byte(uuid.NewString()))
	s.sessions[id] = sess
	return id
}

func verifyClaim(sess *session, verifier *big.Int, prefix, identity string, responses map[string]string) bool {
	if sess.a == nil || verifier == nil {
		return false
	}
	if responses["PASSWORD_CLAIM_SECRET_BLOCK"] != base64.StdEncoding.EncodeToString(sess.secretBlock) {
		return false
	}
	timestamp := responses["TIMESTAMP"]
	if _, err := time.Parse(cognito.TimestampLayout, timestamp); err != nil {
		return false
	}
	u := cognito.Scrambler(sess.a, sess.B)
	key, err := cognito.DeriveKey(cognito.ServerSecret(sess.a, verifier, u, sess.b), u)
	if err != nil {
		return false
	}
	want := cognito.Signature(key, []byte(prefix), []byte(identity), sess.secretBlock, []byte(timestamp))
	return want == responses["PASSWORD_CLAIM_SIGNATURE"]
}

func parsePublic(value string) (*big.Int, error) {
	A, ok := new(big.Int).SetString(value, 16)
	if !ok || A.Sign() <= 0 {
		return nil, invalidParameter("invalid SRP_A")
	}
	return A, nil
}

func writeError(w http.ResponseWriter, err *serviceError) {
	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	w.Header().Set("X-Amzn-ErrorType", err.kind)
	w.WriteHeader(err.status)
	_, _ = fmt.Fprintf(w, `{"__type":%q,"message":%q}`, err.kind, err.message)
}

func randomBytes(n int) []byte {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return buf
}

func randomHex(n int) string {
	return cognito.PadHex(new(big.Int).SetBytes(randomBytes(n)))
}

func randomInt() *big.Int {
	return new(big.Int).SetBytes(randomBytes(64))
}
