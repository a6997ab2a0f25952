package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeIdentityFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestNewFederatedToken_Validation(t *testing.T) {
	_, err := NewFederatedToken("", "https://login/token", "scope")
	require.Error(t, err)
	_, err = NewFederatedToken("/var/run/token", "", "scope")
	require.Error(t, err)
}

func TestFederatedToken_ExchangeAndCache(t *testing.T) {
	var exchanges atomic.Int64
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		// Opaque access token; expiry comes from expires_in.
		json.NewEncoder(w).Encode(tokenExchangeResponse{AccessToken: "bearer-1", ExpiresIn: 3600})
	}))
	defer srv.Close()

	file := writeIdentityFile(t, "identity-jwt\n")
	f, err := NewFederatedToken(file, srv.URL, "https://cognitive/.default")
	require.NoError(t, err)

	cred, err := f.Credential(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Authorization", cred.Header)
	require.Equal(t, "Bearer bearer-1", cred.Value)
	require.Equal(t, "client_credentials", gotBody["grant_type"])
	require.Equal(t, "identity-jwt", gotBody["assertion"])
	require.Equal(t, "https://cognitive/.default", gotBody["scope"])

	// Second call is served from cache while the token is fresh.
	_, err = f.Credential(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, exchanges.Load())
}

func TestFederatedToken_RefreshesAfterExpiry(t *testing.T) {
	var exchanges atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		json.NewEncoder(w).Encode(tokenExchangeResponse{AccessToken: "bearer", ExpiresIn: 300})
	}))
	defer srv.Close()

	file := writeIdentityFile(t, "identity-jwt")
	f, err := NewFederatedToken(file, srv.URL, "scope")
	require.NoError(t, err)

	clock := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return clock }

	_, err = f.Credential(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, exchanges.Load())

	// expires_in 300s minus the slack leaves 3 minutes of freshness.
	clock = clock.Add(2 * time.Minute)
	_, err = f.Credential(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, exchanges.Load())

	clock = clock.Add(2 * time.Minute)
	_, err = f.Credential(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, exchanges.Load())
}

func TestFederatedToken_NoExpiryInfoRefreshesEveryCall(t *testing.T) {
	var exchanges atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		json.NewEncoder(w).Encode(tokenExchangeResponse{AccessToken: "bearer"})
	}))
	defer srv.Close()

	f, err := NewFederatedToken(writeIdentityFile(t, "id"), srv.URL, "scope")
	require.NoError(t, err)

	_, err = f.Credential(context.Background())
	require.NoError(t, err)
	_, err = f.Credential(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, exchanges.Load())
}

func TestFederatedToken_ExchangeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad assertion", http.StatusUnauthorized)
	}))
	defer srv.Close()

	f, err := NewFederatedToken(writeIdentityFile(t, "id"), srv.URL, "scope")
	require.NoError(t, err)
	_, err = f.Credential(context.Background())
	require.ErrorContains(t, err, "401")
}

func TestFederatedToken_MissingTokenFile(t *testing.T) {
	f, err := NewFederatedToken(filepath.Join(t.TempDir(), "absent"), "https://login/token", "scope")
	require.NoError(t, err)
	_, err = f.Credential(context.Background())
	require.Error(t, err)
}

func TestTokenExpiry_OpaqueToken(t *testing.T) {
	_, err := tokenExpiry("not-a-jwt")
	require.Error(t, err)
}
