package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shenzihan666/search/conversations"
)

var (
	// ErrSessionsDisabled is returned by session calls on a Service built
	// without WithSessions.
	ErrSessionsDisabled = errors.New("session persistence is not enabled")

	// ErrAdminDisabled is returned by provider writes on a Service built
	// without WithProviderAdmin.
	ErrAdminDisabled = errors.New("provider administration is not enabled")
)

// CreateSession opens a new chat session.
func (s *Service) CreateSession(ctx context.Context, title, systemPrompt string) (*conversations.Session, error) {
	if s.sessions == nil {
		return nil, ErrSessionsDisabled
	}
	sess, err := s.sessions.CreateSession(ctx, title, systemPrompt)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("session_id", sess.ID).Msg("Session created")
	return sess, nil
}

// ListSessions returns sessions, most recently active first.
func (s *Service) ListSessions(ctx context.Context) ([]conversations.Session, error) {
	if s.sessions == nil {
		return nil, ErrSessionsDisabled
	}
	return s.sessions.ListSessions(ctx)
}

// SetSystemPrompt replaces a session's system prompt. Later turns in every
// provider column of the session see it first.
func (s *Service) SetSystemPrompt(ctx context.Context, sessionID, prompt string) error {
	if s.sessions == nil {
		return ErrSessionsDisabled
	}
	return s.sessions.SetSystemPrompt(ctx, sessionID, prompt)
}

// DeleteSession removes a session with all its messages.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if s.sessions == nil {
		return ErrSessionsDisabled
	}
	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info().Str("session_id", sessionID).Msg("Session deleted")
	return nil
}

// SetAPIKey stores a provider's key. A blank key clears it, which also takes
// the provider out of active resolution and probe sweeps. The provider's
// last probe result is dropped since it no longer describes the key.
func (s *Service) SetAPIKey(ctx context.Context, providerID, apiKey string) error {
	if s.admin == nil {
		return ErrAdminDisabled
	}
	if err := s.admin.SetAPIKey(ctx, providerID, strings.TrimSpace(apiKey)); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.lastProbes, providerID)
	s.mu.Unlock()

	s.logger.Info().
		Str("provider_id", providerID).
		Bool("cleared", strings.TrimSpace(apiKey) == "").
		Msg("API key updated")
	return nil
}

// SetActive enables or disables a provider for active resolution.
func (s *Service) SetActive(ctx context.Context, providerID string, active bool) error {
	if s.admin == nil {
		return ErrAdminDisabled
	}
	if err := s.admin.SetActive(ctx, providerID, active); err != nil {
		return err
	}
	s.logger.Info().Str("provider_id", providerID).Bool("active", active).Msg("Provider activation changed")
	return nil
}
