package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// apiKeyHeader is the header Azure-style endpoints expect for key auth.
const apiKeyHeader = "api-key"

// tokenPayload is the expected JSON shape stored in Parameter Store for the
// API key.
type tokenPayload struct {
	Token string `json:"token"`
}

// ParamGetter is the minimal Parameter Store surface the static provider
// needs. *paramstore.Client satisfies it.
type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// StaticKey serves a fixed API key. The key is either supplied directly
// (typically from an environment variable) or fetched once from Parameter
// Store and reused for the lifetime of the process.
type StaticKey struct {
	key       string
	getter    ParamGetter
	paramName string

	once     sync.Once
	resolved string
	err      error
}

// NewStaticKey wraps a literal API key.
func NewStaticKey(key string) *StaticKey {
	return &StaticKey{key: strings.TrimSpace(key)}
}

// NewStaticKeyFromParameterStore fetches the key from the named parameter on
// first use.
func NewStaticKeyFromParameterStore(getter ParamGetter, paramName string) (*StaticKey, error) {
	if getter == nil {
		return nil, errors.New("auth: param getter must not be nil")
	}
	paramName = strings.TrimSpace(paramName)
	if paramName == "" {
		return nil, errors.New("auth: parameter name must not be empty")
	}
	return &StaticKey{getter: getter, paramName: paramName}, nil
}

func (s *StaticKey) Name() string { return "static-key" }

func (s *StaticKey) Credential(ctx context.Context) (Credential, error) {
	s.once.Do(func() {
		if s.key != "" {
			s.resolved = s.key
			return
		}
		if s.getter == nil {
			s.err = errors.New("auth: no API key configured")
			return
		}
		s.resolved, s.err = fetchKeyFromParameterStore(ctx, s.getter, s.paramName)
	})
	if s.err != nil {
		return Credential{}, s.err
	}
	return Credential{Header: apiKeyHeader, Value: s.resolved}, nil
}

func fetchKeyFromParameterStore(ctx context.Context, getter ParamGetter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("auth: fetch key from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		// Plain-text parameters hold the key directly.
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return "", errors.New("auth: parameter value is empty")
		}
		return raw, nil
	}
	if tp.Token == "" {
		return "", errors.New("auth: API key is empty")
	}
	return tp.Token, nil
}
