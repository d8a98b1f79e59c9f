package hiveapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/micro-ha/hive-bridge/internal/model"
)

const (
	defaultTimeout   = 10 * time.Second
	maxRetryAttempts = 3
	devicesPath      = "/nodes/all?products=true&devices=true&actions=true"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	sleepFn    func(ctx context.Context, wait time.Duration) error
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return NewClientWithHTTPClient(baseURL, &http.Client{Timeout: timeout}, logger)
}

func NewClientWithHTTPClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		logger:     logger,
		sleepFn:    sleepContext,
	}
}

// FetchDevices lists products, devices and actions. Transient failures are
// retried a bounded number of times; a rejected token is returned at once.
func (c *Client) FetchDevices(ctx context.Context, accessToken string) (Payload, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
		payload, err := c.fetchDevices(ctx, accessToken)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if !isRetryableError(err) || attempt == maxRetryAttempts {
			break
		}
		c.logger.Debug("device fetch failed; retrying", "attempt", attempt, "err", err)
		if err := c.sleepFn(ctx, time.Duration(attempt)*400*time.Millisecond); err != nil {
			return Payload{}, fmt.Errorf("%w: %v", model.ErrAPIUnavailable, err)
		}
	}
	return Payload{}, wrapUnavailable(fmt.Errorf("fetch devices: %w", lastErr))
}

// Mutate applies one state change. Mutations are never retried.
func (c *Client) Mutate(ctx context.Context, accessToken string, m Mutation) error {
	body, err := json.Marshal(m.Body)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, m.Method, m.Path, accessToken, bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", model.ErrAPIUnavailable, m, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("%s: %w", m, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	c.logger.Debug("mutation applied", "mutation", m.String())
	return nil
}

func (c *Client) fetchDevices(ctx context.Context, accessToken string) (Payload, error) {
	req, err := c.newRequest(ctx, http.MethodGet, devicesPath, accessToken, nil)
	if err != nil {
		return Payload{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Payload{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return Payload{}, err
	}

	var payload Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Payload{}, fmt.Errorf("%w: decode devices: %v", model.ErrAPIUnavailable, err)
	}
	if payload.Products == nil && payload.Devices == nil && payload.Actions == nil {
		return Payload{}, fmt.Errorf("%w: empty response", model.ErrAPIUnavailable)
	}
	return payload, nil
}

func (c *Client) newRequest(ctx context.Context, method, path, accessToken string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", accessToken)
	return req, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// wrapUnavailable tags transport failures so callers can match on the taxonomy.
func wrapUnavailable(err error) error {
	if errors.Is(err, model.ErrAPIUnavailable) || errors.Is(err, ErrUnauthorized) {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrAPIUnavailable, err)
}

func sleepContext(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
