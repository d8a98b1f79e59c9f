package cognito

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/micro-ha/hive-bridge/internal/logging"
	"github.com/micro-ha/hive-bridge/internal/model"
)

const defaultTimeout = 10 * time.Second

// Config locates the user pool.
type Config struct {
	Endpoint   string
	UserPoolID string
	ClientID   string
	Timeout    time.Duration
}

// Client talks to the identity provider. It holds no session state;
// every call takes the TokenSet it operates on.
type Client struct {
	httpClient *http.Client
	endpoint   string
	poolName   string
	clientID   string
	logger     *slog.Logger

	nowFn  func() time.Time
	random io.Reader
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	return NewClientWithHTTPClient(cfg, &http.Client{Timeout: cfg.Timeout}, logger)
}

func NewClientWithHTTPClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	poolName := cfg.UserPoolID
	if idx := strings.Index(poolName, "_"); idx >= 0 {
		poolName = poolName[idx+1:]
	}
	return &Client{
		httpClient: httpClient,
		endpoint:   cfg.Endpoint,
		poolName:   poolName,
		clientID:   cfg.ClientID,
		logger:     logger,
		nowFn:      time.Now,
		random:     rand.Reader,
	}
}

// Login runs the SRP password flow. The result is either authenticated or
// carries a pending SMS_MFA challenge. A remembered device is answered
// automatically when the provider asks for it.
func (c *Client) Login(ctx context.Context, username, password string, device *model.DeviceMetadata) (model.TokenSet, error) {
	srp, err := newSRPSession(c.random)
	if err != nil {
		return model.TokenSet{}, err
	}
	params := map[string]string{"USERNAME": username, "SRP_A": srp.publicHex()}
	if device.Valid() {
		params["DEVICE_KEY"] = device.Key
	}

	var initResp authResponse
	if err := c.call(ctx, "InitiateAuth", initiateAuthRequest{
		AuthFlow:       flowUserSRP,
		ClientID:       c.clientID,
		AuthParameters: params,
	}, &initResp); err != nil {
		return model.TokenSet{}, fmt.Errorf("initiate auth: %w", err)
	}
	if initResp.ChallengeName != challengePasswordVerifier {
		return model.TokenSet{}, fmt.Errorf("%w: unexpected challenge %q", model.ErrAPIUnavailable, initResp.ChallengeName)
	}

	userID := initResp.ChallengeParameters["USER_ID_FOR_SRP"]
	if userID == "" {
		userID = username
	}
	responses, err := srp.claim(initResp.ChallengeParameters, c.poolName, userID, userID, password, c.nowFn())
	if err != nil {
		return model.TokenSet{}, fmt.Errorf("%w: %v", model.ErrAPIUnavailable, err)
	}
	if device.Valid() {
		responses["DEVICE_KEY"] = device.Key
	}

	var resp authResponse
	if err := c.call(ctx, "RespondToAuthChallenge", respondRequest{
		ChallengeName:      challengePasswordVerifier,
		ClientID:           c.clientID,
		ChallengeResponses: responses,
		Session:            initResp.Session,
	}, &resp); err != nil {
		return model.TokenSet{}, fmt.Errorf("password verifier: %w", err)
	}
	return c.continueAuth(ctx, userID, device, resp)
}

// SubmitChallenge answers a pending SMS_MFA challenge.
func (c *Client) SubmitChallenge(ctx context.Context, code string, pending model.TokenSet) (model.TokenSet, error) {
	if pending.Challenge != model.ChallengeSMSMFA || pending.ChallengeSession == "" {
		return model.TokenSet{}, errors.New("no sms challenge pending")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return model.TokenSet{}, fmt.Errorf("%w: empty code", model.ErrInvalidChallengeCode)
	}

	var resp authResponse
	if err := c.call(ctx, "RespondToAuthChallenge", respondRequest{
		ChallengeName: challengeSMSMFA,
		ClientID:      c.clientID,
		ChallengeResponses: map[string]string{
			"USERNAME":     pending.ChallengeUser,
			"SMS_MFA_CODE": code,
		},
		Session: pending.ChallengeSession,
	}, &resp); err != nil {
		return model.TokenSet{}, fmt.Errorf("sms challenge: %w", err)
	}
	if resp.ChallengeName != "" {
		return model.TokenSet{}, fmt.Errorf("%w: unexpected challenge %q after sms", model.ErrAPIUnavailable, resp.ChallengeName)
	}
	return c.tokens(resp.AuthenticationResult, "")
}

// RegisterDevice remembers this install so later logins skip the SMS step.
// Confirming the same device key again replaces its verifier.
func (c *Client) RegisterDevice(ctx context.Context, deviceName string, tokens model.TokenSet) (model.DeviceMetadata, error) {
	if !tokens.Authenticated() {
		return model.DeviceMetadata{}, errors.New("register device requires authenticated tokens")
	}
	if tokens.NewDevice == nil || tokens.NewDevice.Key == "" || tokens.NewDevice.GroupKey == "" {
		return model.DeviceMetadata{}, ErrDeviceTrackingUnavailable
	}
	groupKey, deviceKey := tokens.NewDevice.GroupKey, tokens.NewDevice.Key

	password, verifier, salt, err := deviceVerifier(c.random, groupKey, deviceKey)
	if err != nil {
		return model.DeviceMetadata{}, fmt.Errorf("generate device verifier: %w", err)
	}

	var confirm confirmDeviceResponse
	if err := c.call(ctx, "ConfirmDevice", confirmDeviceRequest{
		AccessToken: tokens.AccessToken,
		DeviceKey:   deviceKey,
		DeviceName:  deviceName,
		DeviceSecretVerifierConfig: deviceSecretVerifierConfig{
			PasswordVerifier: verifier,
			Salt:             salt,
		},
	}, &confirm); err != nil {
		return model.DeviceMetadata{}, fmt.Errorf("confirm device: %w", err)
	}
	if err := c.call(ctx, "UpdateDeviceStatus", updateDeviceStatusRequest{
		AccessToken:            tokens.AccessToken,
		DeviceKey:              deviceKey,
		DeviceRememberedStatus: "remembered",
	}, nil); err != nil {
		return model.DeviceMetadata{}, fmt.Errorf("remember device: %w", err)
	}

	c.logger.Info("device registered", "device_name", deviceName, "confirmation_needed", confirm.UserConfirmationNecessary)
	return model.DeviceMetadata{GroupKey: groupKey, Key: deviceKey, Password: password, Name: deviceName}, nil
}

// Refresh trades the refresh token for a new access token. A rejected
// refresh token surfaces as model.ErrReauthRequired.
func (c *Client) Refresh(ctx context.Context, tokens model.TokenSet, device *model.DeviceMetadata) (model.TokenSet, error) {
	if tokens.RefreshToken == "" {
		return model.TokenSet{}, fmt.Errorf("missing refresh token: %w", model.ErrReauthRequired)
	}
	params := map[string]string{"REFRESH_TOKEN": tokens.RefreshToken}
	if device.Valid() {
		params["DEVICE_KEY"] = device.Key
	}

	var resp authResponse
	err := c.call(ctx, "InitiateAuth", initiateAuthRequest{
		AuthFlow:       flowRefreshToken,
		ClientID:       c.clientID,
		AuthParameters: params,
	}, &resp)
	if err != nil {
		if errors.Is(err, model.ErrInvalidPassword) || errors.Is(err, model.ErrInvalidUsername) {
			c.logger.Warn("refresh token rejected", "err", err)
			return model.TokenSet{}, fmt.Errorf("refresh rejected: %w", model.ErrReauthRequired)
		}
		return model.TokenSet{}, fmt.Errorf("refresh: %w", err)
	}
	return c.tokens(resp.AuthenticationResult, tokens.RefreshToken)
}

func (c *Client) continueAuth(ctx context.Context, userID string, device *model.DeviceMetadata, resp authResponse) (model.TokenSet, error) {
	switch resp.ChallengeName {
	case "":
		return c.tokens(resp.AuthenticationResult, "")
	case challengeSMSMFA:
		c.logger.Info("sms verification required", "destination", resp.ChallengeParameters["CODE_DELIVERY_DESTINATION"])
		return model.TokenSet{
			Challenge:        model.ChallengeSMSMFA,
			ChallengeSession: resp.Session,
			ChallengeUser:    userID,
		}, nil
	case challengeDeviceSRP:
		if !device.Valid() {
			return model.TokenSet{}, fmt.Errorf("%w: device challenge without remembered device", model.ErrAPIUnavailable)
		}
		return c.deviceAuth(ctx, userID, device, resp.Session)
	default:
		return model.TokenSet{}, fmt.Errorf("%w: unsupported challenge %q", model.ErrAPIUnavailable, resp.ChallengeName)
	}
}

func (c *Client) deviceAuth(ctx context.Context, userID string, device *model.DeviceMetadata, session string) (model.TokenSet, error) {
	srp, err := newSRPSession(c.random)
	if err != nil {
		return model.TokenSet{}, err
	}

	var challenge authResponse
	if err := c.call(ctx, "RespondToAuthChallenge", respondRequest{
		ChallengeName: challengeDeviceSRP,
		ClientID:      c.clientID,
		ChallengeResponses: map[string]string{
			"USERNAME":   userID,
			"DEVICE_KEY": device.Key,
			"SRP_A":      srp.publicHex(),
		},
		Session: session,
	}, &challenge); err != nil {
		return model.TokenSet{}, fmt.Errorf("device srp: %w", err)
	}
	if challenge.ChallengeName != challengeDevicePasswordVerifier {
		return model.TokenSet{}, fmt.Errorf("%w: unexpected challenge %q", model.ErrAPIUnavailable, challenge.ChallengeName)
	}

	responses, err := srp.claim(challenge.ChallengeParameters, device.GroupKey, device.Key, userID, device.Password, c.nowFn())
	if err != nil {
		return model.TokenSet{}, fmt.Errorf("%w: %v", model.ErrAPIUnavailable, err)
	}
	responses["DEVICE_KEY"] = device.Key

	var resp authResponse
	if err := c.call(ctx, "RespondToAuthChallenge", respondRequest{
		ChallengeName:      challengeDevicePasswordVerifier,
		ClientID:           c.clientID,
		ChallengeResponses: responses,
		Session:            challenge.Session,
	}, &resp); err != nil {
		return model.TokenSet{}, fmt.Errorf("device password verifier: %w", err)
	}
	if resp.ChallengeName != "" {
		return model.TokenSet{}, fmt.Errorf("%w: unexpected challenge %q after device auth", model.ErrAPIUnavailable, resp.ChallengeName)
	}
	return c.tokens(resp.AuthenticationResult, "")
}

func (c *Client) tokens(result *authResult, refreshFallback string) (model.TokenSet, error) {
	if result == nil || result.AccessToken == "" {
		return model.TokenSet{}, fmt.Errorf("%w: authentication result missing", model.ErrAPIUnavailable)
	}
	set := model.TokenSet{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		IDToken:      result.IDToken,
		Expiry:       c.nowFn().UTC().Add(time.Duration(result.ExpiresIn) * time.Second),
	}
	if set.RefreshToken == "" {
		set.RefreshToken = refreshFallback
	}
	if meta := result.NewDeviceMetadata; meta != nil {
		set.NewDevice = &model.DeviceMetadata{GroupKey: meta.DeviceGroupKey, Key: meta.DeviceKey}
	}
	return set, nil
}

func (c *Client) call(ctx context.Context, operation string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.debugPayload(ctx, "identity request", operation, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	req.Header.Set("X-Amz-Target", targetPrefix+operation)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrAPIUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", model.ErrAPIUnavailable, err)
	}
	c.debugPayload(ctx, "identity response", operation, raw)

	if resp.StatusCode >= 400 {
		var doc errorDocument
		_ = json.Unmarshal(raw, &doc)
		if doc.Type == "" {
			doc.Type = resp.Header.Get("X-Amzn-ErrorType")
		}
		svcErr := &ServiceError{Status: resp.StatusCode, Type: exceptionType(doc.Type), Message: doc.Message}
		if resp.StatusCode >= 500 && svcErr.Type == "" {
			svcErr.Type = "InternalErrorException"
		}
		return svcErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", model.ErrAPIUnavailable, operation, err)
	}
	return nil
}

func (c *Client) debugPayload(ctx context.Context, msg, operation string, raw []byte) {
	if !c.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		c.logger.Debug(msg, "op", operation, "bytes", len(raw))
		return
	}
	c.logger.Debug(msg, "op", operation, "payload", logging.Sanitize(doc))
}
