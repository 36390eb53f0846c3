package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
)

// Session is an authenticated, renewable credential.
// Implementations must be safe for concurrent use.
type Session interface {
	oauth2.TokenSource

	// Valid reports whether the current access token can be used.
	Valid() bool

	// Refresh obtains a new access token. An error means the session
	// cannot be renewed.
	Refresh(ctx context.Context) error
}

// OAuthSession is a Session backed by an OAuth2 refresh token.
type OAuthSession struct {
	mu        sync.Mutex
	config    *oauth2.Config
	token     *oauth2.Token
	tokenFile string
}

var _ Session = (*OAuthSession)(nil)

// NewOAuthSession creates a session from a client configuration and a token.
func NewOAuthSession(config *oauth2.Config, token *oauth2.Token) *OAuthSession {
	return &OAuthSession{config: config, token: token}
}

// LoadOAuthSession reads OAuth client credentials and a previously issued
// token from disk. Refreshed tokens are written back to tokenFile.
func LoadOAuthSession(credentialsFile, tokenFile string) (*OAuthSession, error) {
	creds, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	config, err := google.ConfigFromJSON(creds, drive.DriveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	raw, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	s := NewOAuthSession(config, &token)
	s.tokenFile = tokenFile
	return s, nil
}

// Token returns the current access token without refreshing it.
func (s *OAuthSession) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return nil, errors.New("no token")
	}
	return s.token, nil
}

// Valid reports whether the access token is present and unexpired.
func (s *OAuthSession) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token.Valid()
}

// Refresh exchanges the refresh token for a new access token.
func (s *OAuthSession) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == nil || s.token.RefreshToken == "" {
		return fmt.Errorf("%w: no refresh token", ErrCredentialsRevoked)
	}

	// A token without an access token forces the source to refresh
	src := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: s.token.RefreshToken})
	token, err := src.Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return fmt.Errorf("%w: %w", ErrCredentialsRevoked, err)
		}
		return err
	}
	s.token = token

	if s.tokenFile != "" {
		if err := writeToken(s.tokenFile, token); err != nil {
			return fmt.Errorf("persist refreshed token: %w", err)
		}
	}
	return nil
}

func writeToken(path string, token *oauth2.Token) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}
