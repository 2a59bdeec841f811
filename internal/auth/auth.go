// Package auth supplies per-account OAuth credentials for remote
// calendar access.
//
// Token material lives on the accounts table and is owned exclusively
// by this package: access tokens are refreshed transparently from the
// stored refresh token, rotated tokens are persisted back, and a
// failed refresh clears the stored material so the account is forced
// through re-authentication instead of retrying forever.
package auth

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"github.com/calbridge/calbridge/internal/store"
)

// CredentialProvider is the engine-consumed credential contract.
type CredentialProvider interface {
	// HasValidAuth reports whether the account holds usable credential
	// material (a refresh token, or an unexpired access token).
	HasValidAuth(ctx context.Context, accountID string) bool

	// GetValidAccessToken returns a currently-valid access token,
	// refreshing it transparently when expired.
	GetValidAccessToken(ctx context.Context, accountID string) (string, error)

	// HTTPClient returns an authenticated HTTP client for the account,
	// suitable for constructing provider API services.
	HTTPClient(ctx context.Context, accountID string) (*http.Client, error)
}

// Manager implements CredentialProvider against the store.
type Manager struct {
	store  *store.Store
	config *oauth2.Config
	logger *log.Logger
}

// NewManager builds a credential manager from the OAuth client
// secrets JSON (the downloaded credentials file). If logger is nil, a
// default stderr logger is used.
func NewManager(st *store.Store, clientSecretsJSON []byte, logger *log.Logger) (*Manager, error) {
	config, err := google.ConfigFromJSON(clientSecretsJSON,
		calendar.CalendarScope,
		calendar.CalendarEventsScope,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[auth] ", log.LstdFlags)
	}
	return &Manager{store: st, config: config, logger: logger}, nil
}

// NewManagerWithConfig builds a manager from an explicit oauth2.Config.
// Used by tests and by callers that assemble the config themselves.
func NewManagerWithConfig(st *store.Store, config *oauth2.Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[auth] ", log.LstdFlags)
	}
	return &Manager{store: st, config: config, logger: logger}
}

// HasValidAuth implements CredentialProvider.
func (m *Manager) HasValidAuth(ctx context.Context, accountID string) bool {
	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return false
	}
	if account.RefreshToken != "" {
		return true
	}
	if account.AccessToken == "" {
		return false
	}
	return account.TokenExpiry == nil || account.TokenExpiry.After(time.Now())
}

// GetValidAccessToken implements CredentialProvider.
func (m *Manager) GetValidAccessToken(ctx context.Context, accountID string) (string, error) {
	tok, err := m.token(ctx, accountID)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// HTTPClient implements CredentialProvider. The returned client
// refreshes tokens on its own; rotated material is persisted through
// the saving token source.
func (m *Manager) HTTPClient(ctx context.Context, accountID string) (*http.Client, error) {
	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	stored := storedToken(account)
	if stored.RefreshToken == "" && stored.AccessToken == "" {
		return nil, fmt.Errorf("account %s has no stored credentials", accountID)
	}

	src := &savingTokenSource{
		manager:   m,
		accountID: accountID,
		last:      stored,
		base:      m.config.TokenSource(ctx, stored),
	}
	return oauth2.NewClient(ctx, src), nil
}

// token returns a valid token for the account, refreshing and
// persisting as needed. A failed refresh clears the stored material.
func (m *Manager) token(ctx context.Context, accountID string) (*oauth2.Token, error) {
	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	stored := storedToken(account)
	if stored.RefreshToken == "" && stored.AccessToken == "" {
		return nil, fmt.Errorf("account %s has no stored credentials", accountID)
	}
	if stored.Valid() {
		return stored, nil
	}

	fresh, err := m.config.TokenSource(ctx, stored).Token()
	if err != nil {
		m.logger.Printf("Token refresh failed for account %s, clearing credentials: %v", accountID, err)
		if cerr := m.store.ClearCredentials(ctx, accountID); cerr != nil {
			m.logger.Printf("Failed to clear credentials for %s: %v", accountID, cerr)
		}
		return nil, fmt.Errorf("failed to refresh token for account %s: %w", accountID, err)
	}

	m.persist(ctx, accountID, stored, fresh)
	return fresh, nil
}

// persist saves rotated token material back to the store when it
// changed. The refresh token itself can rotate, so the whole token is
// compared, not just the access token.
func (m *Manager) persist(ctx context.Context, accountID string, old, fresh *oauth2.Token) {
	if fresh.AccessToken == old.AccessToken && fresh.RefreshToken == old.RefreshToken {
		return
	}
	refresh := fresh.RefreshToken
	if refresh == "" {
		refresh = old.RefreshToken
	}
	var expiry *time.Time
	if !fresh.Expiry.IsZero() {
		e := fresh.Expiry.UTC()
		expiry = &e
	}
	if err := m.store.UpdateCredentials(ctx, accountID, fresh.AccessToken, refresh, expiry); err != nil {
		m.logger.Printf("Failed to persist refreshed token for %s: %v", accountID, err)
	}
}

// savingTokenSource wraps the oauth2 token source so tokens refreshed
// inside an API client are written back to the store.
type savingTokenSource struct {
	manager   *Manager
	accountID string
	last      *oauth2.Token
	base      oauth2.TokenSource
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.manager.persist(context.Background(), s.accountID, s.last, tok)
	s.last = tok
	return tok, nil
}

func storedToken(account *store.Account) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
		TokenType:    "Bearer",
	}
	if account.TokenExpiry != nil {
		tok.Expiry = *account.TokenExpiry
	}
	return tok
}
