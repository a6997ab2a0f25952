// Package auth resolves the credential used for every classification call.
// Two provider variants exist: a static API key (literal or fetched from
// Parameter Store) and a federated web-identity token exchanged for a
// bearer token. Providers are tried in the order declared by configuration
// and the first to succeed is used for the whole run.
package auth

import (
	"context"
	"errors"
	"fmt"
)

// Credential is a ready-to-send request header.
type Credential struct {
	Header string
	Value  string
}

// Provider yields the credential for outbound classification calls. A
// provider may cache internally (e.g. until a token expires); callers never
// re-resolve which provider to use mid-run.
type Provider interface {
	Name() string
	Credential(ctx context.Context) (Credential, error)
}

// Resolve tries each provider in order and returns the first one that
// produces a credential. The probe result is discarded; subsequent calls go
// through the provider's own cache.
func Resolve(ctx context.Context, providers ...Provider) (Provider, error) {
	var errs []error
	for _, p := range providers {
		if p == nil {
			continue
		}
		if _, err := p.Credential(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		return p, nil
	}
	if len(errs) == 0 {
		return nil, errors.New("auth: no providers configured")
	}
	return nil, fmt.Errorf("auth: no provider succeeded: %w", errors.Join(errs...))
}
