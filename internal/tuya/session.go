package tuya

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/pkozlovsky/station-monitor/internal/httpx"
)

// tokenMargin is how long before nominal expiry a token is treated as stale.
const tokenMargin = 60 * time.Second

// Credentials identify the cloud project and the station device.
type Credentials struct {
	ClientID string
	Secret   string
	DeviceID string
	// Endpoint is the regional API host, e.g. https://openapi.tuyaeu.com.
	Endpoint string
}

// envelope is the uniform vendor response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Result  json.RawMessage `json:"result"`
	T       int64           `json:"t"`
}

type tokenResult struct {
	AccessToken string `json:"access_token"`
	ExpireTime  int64  `json:"expire_time"`
}

// Session owns the single mutable token slot and performs authenticated
// requests against the vendor API. Safe for use from the foreground API
// handlers and the background collection job at once.
type Session struct {
	creds   Credentials
	signer  Signer
	httpCfg httpx.ClientConfig
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger

	mu       sync.Mutex
	token    string
	expiry   time.Time
	lastErr  string
	lastAuth time.Time
}

// NewSession creates a session. client may share its transport with other
// outbound callers; the retry budget and circuit breaker are session-local.
func NewSession(client *http.Client, creds Credentials, log *zap.Logger) *Session {
	return &Session{
		creds:   creds,
		signer:  Signer{ClientID: creds.ClientID, Secret: creds.Secret},
		httpCfg: httpx.ClientConfig{Client: client, Backoff: httpx.DefaultBackoff()},
		breaker: httpx.NewBreaker("tuya"),
		log:     log,
	}
}

// EnsureToken returns the cached token when it is still inside its validity
// window, refreshing it with a signed token request otherwise. The whole
// read-check-refresh sequence holds the session lock so near-simultaneous
// callers after expiry trigger exactly one refresh.
func (s *Session) EnsureToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expiry) {
		return s.token, nil
	}

	const path = "/v1.0/token?grant_type=1"
	env, err := s.execute(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		s.token = ""
		s.lastErr = err.Error()
		s.lastAuth = time.Now()
		return "", err
	}

	var tok tokenResult
	if err := json.Unmarshal(env.Result, &tok); err != nil {
		s.token = ""
		s.lastErr = err.Error()
		return "", fmt.Errorf("decode token response: %w", err)
	}

	ttl := tok.ExpireTime
	if ttl <= 0 {
		ttl = 7200
	}

	s.token = tok.AccessToken
	s.expiry = time.Now().Add(time.Duration(ttl)*time.Second - tokenMargin)
	s.lastErr = ""
	s.lastAuth = time.Now()
	s.log.Info("obtained access token", zap.Int64("ttl_seconds", ttl))
	return s.token, nil
}

// Get performs an authenticated GET for the given path (path plus query,
// relative to the regional endpoint) and returns the result payload.
func (s *Session) Get(ctx context.Context, pathWithQuery string) (json.RawMessage, error) {
	return s.request(ctx, http.MethodGet, pathWithQuery, nil)
}

// Post performs an authenticated POST with a compact-JSON body.
func (s *Session) Post(ctx context.Context, pathWithQuery string, body any) (json.RawMessage, error) {
	var raw []byte
	if body != nil {
		var err error
		// Compact encoding: the signed content hash must match the wire
		// bytes exactly.
		raw, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	return s.request(ctx, http.MethodPost, pathWithQuery, raw)
}

func (s *Session) request(ctx context.Context, method, pathWithQuery string, body []byte) (json.RawMessage, error) {
	token, err := s.EnsureToken(ctx)
	if err != nil {
		return nil, err
	}

	env, err := s.execute(ctx, method, pathWithQuery, body, token)
	if err != nil {
		if apiErr, ok := AsAPIError(err); ok && apiErr.IsAuth() {
			// Drop the cached token; the next call re-authenticates.
			s.mu.Lock()
			s.token = ""
			s.lastErr = apiErr.Error()
			s.mu.Unlock()
		}
		return nil, err
	}
	return env.Result, nil
}

// execute signs and performs one vendor call. Transport failures on GETs are
// retried by the resilience layer; a vendor rejection arrives in a well-formed 200
// body and is returned as *APIError without any retry, since re-sending the
// same signature cannot succeed.
func (s *Session) execute(ctx context.Context, method, pathWithQuery string, body []byte, token string) (*envelope, error) {
	buildRequest := func() (*http.Request, error) {
		ts := time.Now().UnixMilli()
		sign := s.signer.Sign(method, pathWithQuery, body, ts, token)

		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		} else {
			reader = bytes.NewReader(nil)
		}

		req, err := http.NewRequest(method, s.creds.Endpoint+pathWithQuery, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("client_id", s.creds.ClientID)
		req.Header.Set("sign_method", "HMAC-SHA256")
		req.Header.Set("t", strconv.FormatInt(ts, 10))
		req.Header.Set("sign", sign)
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("access_token", token)
		}
		return req, nil
	}

	cfg := s.httpCfg
	if method != http.MethodGet {
		// Only GETs are safe to replay; a re-sent command can double-apply
		// on the vendor side even though the signature is fresh.
		cfg.Backoff.MaxRetries = 0
	}

	resp, err := httpx.DoWithResilience(ctx, cfg, s.breaker, buildRequest)
	if err != nil {
		return nil, fmt.Errorf("tuya %s %s: %w", method, pathWithQuery, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("tuya %s %s: decode response: %w", method, pathWithQuery, err)
	}

	if !env.Success {
		apiErr := &APIError{Code: env.Code, Msg: env.Msg}
		s.log.Warn("vendor rejected request",
			zap.String("path", pathWithQuery),
			zap.Int("code", env.Code),
			zap.String("msg", env.Msg),
			zap.Bool("auth", apiErr.IsAuth()),
			zap.Bool("provisioning", apiErr.IsProvisioning()),
		)
		return nil, apiErr
	}
	return &env, nil
}

// Status describes the session for the dashboard status pane.
type Status struct {
	Authenticated bool      `json:"authenticated"`
	TokenExpiry   time.Time `json:"tokenExpiry,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
	LastAttempt   time.Time `json:"lastAttempt,omitempty"`
}

// Status returns a snapshot of the session state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Authenticated: s.token != "" && time.Now().Before(s.expiry),
		TokenExpiry:   s.expiry,
		LastError:     s.lastErr,
		LastAttempt:   s.lastAuth,
	}
}
