package tuya

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testCreds(endpoint string) Credentials {
	return Credentials{
		ClientID: "vaqfxw4cpkx5gwxg4jtu",
		Secret:   "f59f1d4cf2d94a2d9ddba1c1e05dd7a3",
		DeviceID: "bf0000000000000000rxqw",
		Endpoint: endpoint,
	}
}

func tokenResponse(token string, ttlSeconds int64) string {
	return fmt.Sprintf(`{"success":true,"result":{"access_token":%q,"expire_time":%d},"t":1700000000000}`, token, ttlSeconds)
}

func TestEnsureTokenCachesWithinTTL(t *testing.T) {
	var tokenCalls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1.0/token", r.URL.Path)
		atomic.AddInt64(&tokenCalls, 1)
		fmt.Fprint(w, tokenResponse("tok-1", 7200))
	}))
	defer srv.Close()

	s := NewSession(srv.Client(), testCreds(srv.URL), zaptest.NewLogger(t))

	tok1, err := s.EnsureToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok1)

	tok2, err := s.EnsureToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok2)

	require.EqualValues(t, 1, atomic.LoadInt64(&tokenCalls), "second call within TTL must not hit the network")
}

func TestEnsureTokenRefreshesInsidePreExpiryMargin(t *testing.T) {
	var tokenCalls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&tokenCalls, 1)
		// ttl equal to the safety margin expires the token immediately.
		fmt.Fprint(w, tokenResponse(fmt.Sprintf("tok-%d", n), 60))
	}))
	defer srv.Close()

	s := NewSession(srv.Client(), testCreds(srv.URL), zaptest.NewLogger(t))

	tok1, err := s.EnsureToken(context.Background())
	require.NoError(t, err)
	tok2, err := s.EnsureToken(context.Background())
	require.NoError(t, err)

	require.NotEqual(t, tok1, tok2)
	require.EqualValues(t, 2, atomic.LoadInt64(&tokenCalls))
}

func TestEnsureTokenSurfacesVendorError(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		fmt.Fprint(w, `{"success":false,"code":1004,"msg":"sign invalid"}`)
	}))
	defer srv.Close()

	s := NewSession(srv.Client(), testCreds(srv.URL), zaptest.NewLogger(t))

	_, err := s.EnsureToken(context.Background())
	require.Error(t, err)

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, 1004, apiErr.Code)
	require.Contains(t, apiErr.Error(), "sign invalid")
	require.True(t, apiErr.IsAuth())
	require.False(t, apiErr.IsProvisioning())

	// An authentication rejection must never be retried.
	require.EqualValues(t, 1, atomic.LoadInt64(&calls))
	require.False(t, s.Status().Authenticated)
	require.NotEmpty(t, s.Status().LastError)
}

func TestAuthenticatedRequestHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1.0/token" {
			fmt.Fprint(w, tokenResponse("tok-9", 7200))
			return
		}

		require.Equal(t, "vaqfxw4cpkx5gwxg4jtu", r.Header.Get("client_id"))
		require.Equal(t, "tok-9", r.Header.Get("access_token"))
		require.Equal(t, "HMAC-SHA256", r.Header.Get("sign_method"))
		require.NotEmpty(t, r.Header.Get("t"))
		require.Len(t, r.Header.Get("sign"), 64)

		fmt.Fprint(w, `{"success":true,"result":{"ok":true}}`)
	}))
	defer srv.Close()

	s := NewSession(srv.Client(), testCreds(srv.URL), zaptest.NewLogger(t))

	raw, err := s.Get(context.Background(), "/v2.0/cloud/thing/bf0000000000000000rxqw")
	require.NoError(t, err)

	var payload map[string]bool
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.True(t, payload["ok"])
}

func TestTransientServerErrorIsRetried(t *testing.T) {
	var deviceCalls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1.0/token" {
			fmt.Fprint(w, tokenResponse("tok-1", 7200))
			return
		}
		if atomic.AddInt64(&deviceCalls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"success":true,"result":{}}`)
	}))
	defer srv.Close()

	s := NewSession(srv.Client(), testCreds(srv.URL), zaptest.NewLogger(t))

	_, err := s.Get(context.Background(), "/v2.0/cloud/thing/x")
	require.NoError(t, err)
	require.EqualValues(t, 3, atomic.LoadInt64(&deviceCalls))
}

func TestTransientServerErrorPostIsNotRetried(t *testing.T) {
	var postCalls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1.0/token" {
			fmt.Fprint(w, tokenResponse("tok-1", 7200))
			return
		}
		// Transient failure; a GET would be retried past it, a command
		// must not be.
		atomic.AddInt64(&postCalls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewSession(srv.Client(), testCreds(srv.URL), zaptest.NewLogger(t))

	_, err := s.Post(context.Background(), "/v2.0/cloud/thing/x/commands",
		map[string]string{"code": "screen_refresh"})
	require.Error(t, err)
	require.EqualValues(t, 1, atomic.LoadInt64(&postCalls), "commands must be sent at most once")
}

func TestProvisioningErrorIsDistinguished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1.0/token" {
			fmt.Fprint(w, tokenResponse("tok-1", 7200))
			return
		}
		fmt.Fprint(w, `{"success":false,"code":1106,"msg":"permission deny"}`)
	}))
	defer srv.Close()

	s := NewSession(srv.Client(), testCreds(srv.URL), zaptest.NewLogger(t))

	_, err := s.Get(context.Background(), "/v2.0/cloud/thing/x")
	require.Error(t, err)

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	require.True(t, apiErr.IsProvisioning())
	require.False(t, apiErr.IsAuth())
}
