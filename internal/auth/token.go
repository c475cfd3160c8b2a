// Package auth provides the "current access token" capability the sync
// core consumes, backed by a cached OAuth token with automatic refresh.
// Token acquisition (the browser consent flow) is outside this package;
// it only loads and refreshes what that flow stored.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// TokenProvider yields the current access token. An empty token with a
// nil error means "not signed in": callers treat it as a silent no-op,
// never an error to surface.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// OAuthProvider implements TokenProvider over an oauth2 token source that
// refreshes expired access tokens with the stored refresh token.
type OAuthProvider struct {
	src oauth2.TokenSource
}

// NewOAuthProvider builds a provider from a client-secrets file and a
// previously stored token file.
func NewOAuthProvider(ctx context.Context, credentialsFile, tokenFile string) (*OAuthProvider, error) {
	secrets, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read client secrets %s: %w", credentialsFile, err)
	}

	cfg, err := google.ConfigFromJSON(secrets, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}

	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("read token %s: %w", tokenFile, err)
	}

	return &OAuthProvider{src: cfg.TokenSource(ctx, tok)}, nil
}

// AccessToken returns a valid access token, refreshing if needed. An
// unusable token reports ("", nil): not signed in.
func (p *OAuthProvider) AccessToken(ctx context.Context) (string, error) {
	tok, err := p.src.Token()
	if err != nil || !tok.Valid() {
		return "", nil
	}
	return tok.AccessToken, nil
}

// DriveService builds a Drive client from the provider's token source.
func (p *OAuthProvider) DriveService(ctx context.Context) (*drive.Service, error) {
	return drive.NewService(ctx, option.WithTokenSource(p.src))
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return tok, nil
}

// Static is a TokenProvider that always returns the same token. Used in
// tests and local development.
type Static string

// AccessToken implements TokenProvider.
func (s Static) AccessToken(ctx context.Context) (string, error) {
	return string(s), nil
}
