// Package service exposes the query entry points the launcher front ends
// call: stream from the active provider, ask one provider once, and stream
// one provider column into its own event channel. It also owns connection
// probing across every configured provider.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/shenzihan666/search/conversations"
	"github.com/shenzihan666/search/events"
	"github.com/shenzihan666/search/llm"
	"github.com/shenzihan666/search/query"
)

// DefaultProbeConcurrency bounds TestAll when no limit is configured.
const DefaultProbeConcurrency = 4

// SessionStore persists sessions and their per-provider chat columns.
// *conversations.Store implements it.
type SessionStore interface {
	CreateSession(ctx context.Context, title, systemPrompt string) (*conversations.Session, error)
	ListSessions(ctx context.Context) ([]conversations.Session, error)
	SetSystemPrompt(ctx context.Context, id, prompt string) error
	DeleteSession(ctx context.Context, id string) error

	History(ctx context.Context, sessionID, providerID string) ([]llm.ChatMessage, error)
	AppendMessage(ctx context.Context, sessionID, providerID string, role llm.MessageRole, content string, status conversations.Status) (*conversations.Message, error)
	UpdateMessage(ctx context.Context, id, content string, status conversations.Status) error
}

// ProviderAdmin writes provider settings. *providers.Store implements it.
type ProviderAdmin interface {
	SetAPIKey(ctx context.Context, id, apiKey string) error
	SetActive(ctx context.Context, id string, active bool) error
}

// ProbeRecord is the latest probe outcome for one provider.
type ProbeRecord struct {
	ProviderID string                   `json:"provider_id"`
	Result     llm.ConnectionTestResult `json:"result"`
	CheckedAt  time.Time                `json:"checked_at"`
}

// Service wires the query engine to the provider and session stores.
type Service struct {
	engine           *query.Engine
	providers        llm.ProviderStore
	sessions         SessionStore
	admin            ProviderAdmin
	logger           zerolog.Logger
	probeConcurrency int

	mu         sync.RWMutex
	lastProbes map[string]ProbeRecord
}

// Option configures a Service.
type Option func(*Service)

// WithSessions enables session persistence for QueryProviderStream.
func WithSessions(s SessionStore) Option {
	return func(svc *Service) {
		svc.sessions = s
	}
}

// WithProviderAdmin enables SetAPIKey and SetActive.
func WithProviderAdmin(a ProviderAdmin) Option {
	return func(svc *Service) {
		svc.admin = a
	}
}

// WithProbeConcurrency bounds how many providers TestAll probes at once.
func WithProbeConcurrency(n int) Option {
	return func(svc *Service) {
		if n > 0 {
			svc.probeConcurrency = n
		}
	}
}

// New creates a Service.
func New(engine *query.Engine, providers llm.ProviderStore, logger zerolog.Logger, opts ...Option) *Service {
	svc := &Service{
		engine:           engine,
		providers:        providers,
		logger:           logger.With().Str("component", "service").Logger(),
		probeConcurrency: DefaultProbeConcurrency,
		lastProbes:       make(map[string]ProbeRecord),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// ListProviders returns every configured provider in display order.
func (s *Service) ListProviders(ctx context.Context) ([]llm.ProviderView, error) {
	return s.providers.List(ctx)
}

// QueryActiveStream streams an answer from the active provider. Each delta
// is emitted as a query:chunk event; query:done follows a successful answer
// and query:error a failed one. A provider failure that produced no text
// emits a placeholder chunk first, as QueryProviderStream does. It returns
// the full text emitted.
func (s *Service) QueryActiveStream(ctx context.Context, em events.Emitter, prompt string, history []llm.ChatMessage) (string, error) {
	p, key, err := s.providers.GetActiveWithKey(ctx)
	if err != nil {
		s.emitError(em, events.QueryError, err)
		return "", err
	}

	text, err := s.stream(ctx, em, events.QueryChunk, query.Request{
		Provider: *p,
		APIKey:   key,
		History:  history,
		Prompt:   prompt,
	})
	if err != nil {
		text = s.fillPlaceholder(em, events.QueryChunk, p, text, err)
		s.emitError(em, events.QueryError, err)
		return text, err
	}
	return text, em.Emit(events.QueryDone, "")
}

// QueryOnce asks one provider for a complete answer without streaming.
func (s *Service) QueryOnce(ctx context.Context, providerID, prompt string, history []llm.ChatMessage) (string, error) {
	p, key, err := s.resolve(ctx, providerID)
	if err != nil {
		return "", err
	}
	return s.engine.Complete(ctx, query.Request{
		Provider: *p,
		APIKey:   key,
		History:  history,
		Prompt:   prompt,
	})
}

// QueryProviderStream streams one provider's answer into events namespaced
// by its id, so several columns can stream at once without cross-talk.
//
// With a session id and a session store, the provider's stored column is
// used as history instead of the history argument, and both the prompt and
// the answer are recorded. A failure that produced no text still emits a
// placeholder chunk so the column never stays blank.
func (s *Service) QueryProviderStream(ctx context.Context, em events.Emitter, providerID, prompt string, history []llm.ChatMessage, sessionID string) (string, error) {
	errorEvent := events.ErrorFor(providerID)

	p, key, err := s.resolve(ctx, providerID)
	if err != nil {
		s.emitError(em, errorEvent, err)
		return "", err
	}

	var rec *turn
	if sessionID != "" && s.sessions != nil {
		rec, history, err = s.beginTurn(ctx, sessionID, providerID, prompt)
		if err != nil {
			s.emitError(em, errorEvent, err)
			return "", err
		}
	}

	text, err := s.stream(ctx, em, events.ChunkFor(providerID), query.Request{
		Provider: *p,
		APIKey:   key,
		History:  history,
		Prompt:   prompt,
	})
	if err != nil {
		text = s.fillPlaceholder(em, events.ChunkFor(providerID), p, text, err)
		s.finishTurn(rec, text, conversations.StatusError)
		s.emitError(em, errorEvent, err)
		return text, err
	}

	s.finishTurn(rec, text, conversations.StatusDone)
	return text, em.Emit(events.DoneFor(providerID), "")
}

// Placeholder is the text shown in place of an answer that failed before
// producing anything.
func Placeholder(providerName string, err error) string {
	return fmt.Sprintf("[No response from %s: %v]", providerName, err)
}

// fillPlaceholder emits a placeholder chunk under name when a failed answer
// produced no text, and returns the text the column now shows.
func (s *Service) fillPlaceholder(em events.Emitter, name string, p *llm.Provider, text string, err error) string {
	if text != "" {
		return text
	}
	text = Placeholder(p.DisplayName(), err)
	if emitErr := em.Emit(name, text); emitErr != nil {
		s.logger.Debug().Err(emitErr).Msg("failed to emit placeholder")
	}
	return text
}

// stream runs one engine stream, forwarding every delta to em under name.
func (s *Service) stream(ctx context.Context, em events.Emitter, name string, req query.Request) (string, error) {
	st, err := s.engine.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer st.Close()

	var b strings.Builder
	for st.Next() {
		d := st.Delta()
		if err := em.Emit(name, d.Text); err != nil {
			return b.String(), fmt.Errorf("emit %s: %w", name, err)
		}
		b.WriteString(d.Text)
	}
	return b.String(), st.Err()
}

func (s *Service) resolve(ctx context.Context, providerID string) (*llm.Provider, string, error) {
	p, err := s.providers.Get(ctx, providerID)
	if err != nil {
		return nil, "", err
	}
	key, err := s.providers.APIKey(ctx, providerID)
	if err != nil {
		return nil, "", err
	}
	return p, key, nil
}

func (s *Service) emitError(em events.Emitter, name string, err error) {
	if emitErr := em.Emit(name, err.Error()); emitErr != nil {
		s.logger.Debug().Err(emitErr).Str("event", name).Msg("failed to emit error event")
	}
}

// turn is an in-flight exchange recorded in a session.
type turn struct {
	prompt      string
	userID      string
	assistantID string
}

// beginTurn loads the column's history, appends the prompt to it, and records
// both sides of the exchange as streaming.
func (s *Service) beginTurn(ctx context.Context, sessionID, providerID, prompt string) (*turn, []llm.ChatMessage, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, nil, llm.NewValidationError(llm.ErrEmptyPrompt)
	}

	history, err := s.sessions.History(ctx, sessionID, providerID)
	if err != nil {
		return nil, nil, fmt.Errorf("load history: %w", err)
	}
	history = append(history, llm.NewTextMessage(llm.RoleUser, prompt))

	user, err := s.sessions.AppendMessage(ctx, sessionID, providerID, llm.RoleUser, prompt, conversations.StatusStreaming)
	if err != nil {
		return nil, nil, fmt.Errorf("record prompt: %w", err)
	}
	assistant, err := s.sessions.AppendMessage(ctx, sessionID, providerID, llm.RoleAssistant, "", conversations.StatusStreaming)
	if err != nil {
		return nil, nil, fmt.Errorf("record answer: %w", err)
	}
	return &turn{prompt: prompt, userID: user.ID, assistantID: assistant.ID}, history, nil
}

// finishTurn settles a recorded exchange. Failures are logged only; the
// answer has already reached the caller.
func (s *Service) finishTurn(t *turn, text string, status conversations.Status) {
	if t == nil {
		return
	}
	ctx := context.Background()
	if err := s.sessions.UpdateMessage(ctx, t.userID, t.prompt, status); err != nil {
		s.logger.Warn().Err(err).Str("message", t.userID).Msg("failed to settle prompt")
	}
	if err := s.sessions.UpdateMessage(ctx, t.assistantID, text, status); err != nil {
		s.logger.Warn().Err(err).Str("message", t.assistantID).Msg("failed to settle answer")
	}
}

// TestProvider probes a stored provider and records the result.
func (s *Service) TestProvider(ctx context.Context, providerID string) llm.ConnectionTestResult {
	p, key, err := s.resolve(ctx, providerID)
	if err != nil {
		msg := "Connection failed: " + err.Error()
		if errors.Is(err, llm.ErrProviderNotFound) {
			msg = "Provider not found"
		}
		return llm.NewConnectionTestResult(false, msg, 0, 0)
	}
	res := s.engine.TestConnection(ctx, *p, key)
	s.record(providerID, res)
	return res
}

// TestProviderConfig probes an unsaved provider configuration.
func (s *Service) TestProviderConfig(ctx context.Context, p llm.Provider, apiKey string) llm.ConnectionTestResult {
	return s.engine.TestConnection(ctx, p, apiKey)
}

// TestAll probes every provider that has a key, a bounded number at a time,
// and returns the results by provider id.
func (s *Service) TestAll(ctx context.Context) (map[string]llm.ConnectionTestResult, error) {
	views, err := s.providers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	ids := lo.FilterMap(views, func(v llm.ProviderView, _ int) (string, bool) {
		return v.ID, v.HasAPIKey
	})

	var (
		mu      sync.Mutex
		results = make(map[string]llm.ConnectionTestResult, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.probeConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			res := s.TestProvider(gctx, id)
			mu.Lock()
			results[id] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	s.logger.Info().
		Int("probed", len(results)).
		Int("healthy", len(lo.PickBy(results, func(_ string, r llm.ConnectionTestResult) bool { return r.Success }))).
		Msg("provider probe sweep finished")
	return results, ctx.Err()
}

func (s *Service) record(providerID string, res llm.ConnectionTestResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastProbes[providerID] = ProbeRecord{ProviderID: providerID, Result: res, CheckedAt: time.Now()}
}

// LastProbes returns the most recent probe per provider, ordered by
// provider id.
func (s *Service) LastProbes() []ProbeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.Values(s.lastProbes)
	slices.SortFunc(out, func(a, b ProbeRecord) int {
		return strings.Compare(a.ProviderID, b.ProviderID)
	})
	return out
}
