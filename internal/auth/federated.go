package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expirySlack is subtracted from a token's exp claim so a token is refreshed
// before it actually lapses mid-request.
const expirySlack = 2 * time.Minute

// tokenExchangeResponse is the minimal response shape of the token endpoint.
type tokenExchangeResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// FederatedToken exchanges a web-identity token (read from a file the
// platform maintains) for a bearer token at a token endpoint, caching the
// result until shortly before expiry.
type FederatedToken struct {
	tokenFile string
	tokenURL  string
	scope     string
	http      *http.Client
	now       func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewFederatedToken configures the federated variant. tokenFile holds the
// web-identity JWT; tokenURL is the exchange endpoint.
func NewFederatedToken(tokenFile, tokenURL, scope string) (*FederatedToken, error) {
	if strings.TrimSpace(tokenFile) == "" {
		return nil, errors.New("auth: token file must not be empty")
	}
	if strings.TrimSpace(tokenURL) == "" {
		return nil, errors.New("auth: token url must not be empty")
	}
	return &FederatedToken{
		tokenFile: tokenFile,
		tokenURL:  tokenURL,
		scope:     scope,
		http:      &http.Client{Timeout: 10 * time.Second},
		now:       time.Now,
	}, nil
}

func (f *FederatedToken) Name() string { return "federated-token" }

func (f *FederatedToken) Credential(ctx context.Context) (Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.token != "" && f.now().Before(f.expiresAt) {
		return Credential{Header: "Authorization", Value: "Bearer " + f.token}, nil
	}

	token, expiresAt, err := f.exchange(ctx)
	if err != nil {
		return Credential{}, err
	}
	f.token = token
	f.expiresAt = expiresAt
	return Credential{Header: "Authorization", Value: "Bearer " + token}, nil
}

func (f *FederatedToken) exchange(ctx context.Context) (string, time.Time, error) {
	assertion, err := os.ReadFile(f.tokenFile)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: read web identity token: %w", err)
	}

	body, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"assertion":  strings.TrimSpace(string(assertion)),
		"scope":      f.scope,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: marshal exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: create exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := f.http.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: token exchange failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", time.Time{}, fmt.Errorf("auth: token exchange returned %d: %s", res.StatusCode, string(buf))
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: read exchange response: %w", err)
	}
	var payload tokenExchangeResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", time.Time{}, fmt.Errorf("auth: decode exchange response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", time.Time{}, errors.New("auth: exchange response missing access token")
	}

	return payload.AccessToken, f.expiryOf(payload), nil
}

// expiryOf prefers the token's own exp claim over the advertised expires_in,
// since the claim survives clock differences on the issuing side.
func (f *FederatedToken) expiryOf(payload tokenExchangeResponse) time.Time {
	if exp, err := tokenExpiry(payload.AccessToken); err == nil {
		return exp.Add(-expirySlack)
	}
	if payload.ExpiresIn > 0 {
		return f.now().Add(time.Duration(payload.ExpiresIn) * time.Second).Add(-expirySlack)
	}
	// No expiry information at all: refresh on every call.
	return f.now()
}

func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, errors.New("no exp claim")
	}
	return exp.Time, nil
}
