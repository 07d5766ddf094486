// Package query drives vendor requests end to end: it streams deltas from a
// provider, falls back to a single non-streaming call when a stream produces
// nothing, and probes provider connectivity.
package query

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/shenzihan666/search/llm"
	"github.com/shenzihan666/search/llm/sse"
	"github.com/shenzihan666/search/llm/vendor"
)

const (
	DefaultStreamTimeout   = 120 * time.Second
	DefaultFallbackTimeout = 60 * time.Second
	DefaultProbeTimeout    = 15 * time.Second

	maxErrorBody    = 4096
	maxDocumentBody = 8 << 20
	readBufferSize  = 32 << 10
)

// Timeouts bounds each stage of a query.
type Timeouts struct {
	Stream   time.Duration
	Fallback time.Duration
	Probe    time.Duration
}

// DefaultTimeouts returns the stock stage deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Stream:   DefaultStreamTimeout,
		Fallback: DefaultFallbackTimeout,
		Probe:    DefaultProbeTimeout,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Stream <= 0 {
		t.Stream = d.Stream
	}
	if t.Fallback <= 0 {
		t.Fallback = d.Fallback
	}
	if t.Probe <= 0 {
		t.Probe = d.Probe
	}
	return t
}

// Request is one query against one provider.
type Request struct {
	Provider llm.Provider
	APIKey   string
	History  []llm.ChatMessage
	Prompt   string
}

// Engine executes queries. It holds no per-query state, so one Engine serves
// any number of concurrent streams.
type Engine struct {
	client   *http.Client
	logger   zerolog.Logger
	timeouts Timeouts
	metrics  *Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient sets the HTTP client used for vendor calls.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		if c != nil {
			e.client = c
		}
	}
}

// WithTimeouts overrides stage deadlines. Zero fields keep their defaults.
func WithTimeouts(t Timeouts) Option {
	return func(e *Engine) {
		e.timeouts = t.withDefaults()
	}
}

// WithMetrics records engine activity in m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an Engine.
func NewEngine(logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		client:   &http.Client{},
		logger:   logger.With().Str("component", "query").Logger(),
		timeouts: DefaultTimeouts(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Timeouts returns the engine's stage deadlines.
func (e *Engine) Timeouts() Timeouts {
	return e.timeouts
}

// Stream starts a streaming query. Validation failures are returned directly
// and nothing is sent. Otherwise the returned stream yields deltas in the
// order the vendor produced them; if the stream ends having produced no text
// it makes exactly one non-streaming call and yields that answer as a single
// delta.
//
// Cancelling ctx or closing the stream aborts the request.
func (e *Engine) Stream(ctx context.Context, req Request) (*Stream, error) {
	conv, err := llm.Normalize(req.History, req.Prompt)
	if err != nil {
		return nil, err
	}
	streamReq, err := vendor.BuildRequest(req.Provider, req.APIKey, conv, true)
	if err != nil {
		return nil, err
	}
	fallbackReq, err := vendor.BuildRequest(req.Provider, req.APIKey, conv, false)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := newStream(cancel)
	go e.run(ctx, s, req.Provider, streamReq, fallbackReq)
	return s, nil
}

// Complete performs a single non-streaming query and returns the trimmed
// answer.
func (e *Engine) Complete(ctx context.Context, req Request) (string, error) {
	conv, err := llm.Normalize(req.History, req.Prompt)
	if err != nil {
		return "", err
	}
	vreq, err := vendor.BuildRequest(req.Provider, req.APIKey, conv, false)
	if err != nil {
		return "", err
	}

	start := time.Now()
	text, err := e.complete(ctx, req.Provider, vreq)
	e.metrics.request(req.Provider.Type.String(), "once", outcome(err), time.Since(start))
	return text, err
}

func (e *Engine) run(ctx context.Context, s *Stream, p llm.Provider, streamReq, fallbackReq *vendor.Request) {
	defer s.finish()
	e.metrics.streamStarted()
	defer e.metrics.streamEnded()

	typ := p.Type.String()
	log := e.logger.With().
		Str("provider_type", typ).
		Str("model", p.ResolvedModel()).
		Logger()
	log.Debug().Str("url", streamReq.RedactedURL()).Msg("starting stream")

	start := time.Now()
	emitted, err := e.streamAttempt(ctx, s, p, streamReq)

	switch {
	case emitted > 0:
		if err != nil {
			log.Warn().Err(err).Int("emitted", emitted).Msg("stream interrupted after partial output")
			s.fail(err)
		}
		e.metrics.request(typ, "stream", outcome(err), time.Since(start))
		return
	case ctx.Err() != nil:
		s.fail(llm.NewTransportError("query canceled", ctx.Err()))
		e.metrics.request(typ, "stream", "canceled", time.Since(start))
		return
	case llm.IsHTTPStatusError(err):
		log.Warn().Int("status", llm.StatusCode(err)).Msg(err.Error())
		s.fail(err)
		e.metrics.request(typ, "stream", outcome(err), time.Since(start))
		return
	}

	if err != nil {
		log.Info().Err(err).Msg("stream failed before any text, falling back")
	} else {
		log.Info().Msg("stream produced no text, falling back")
	}
	e.metrics.request(typ, "stream", "empty", time.Since(start))
	e.metrics.fallback(typ)

	start = time.Now()
	text, err := e.complete(ctx, p, fallbackReq)
	e.metrics.request(typ, "fallback", outcome(err), time.Since(start))
	if err != nil {
		log.Warn().Err(err).Msg("fallback failed")
		s.fail(err)
		return
	}
	if err := s.send(ctx, text, true); err != nil {
		s.fail(llm.NewTransportError("query canceled", err))
		return
	}
	e.metrics.delta(typ)
}

// streamAttempt runs the streaming request and reports how many characters
// reached the subscriber.
func (e *Engine) streamAttempt(ctx context.Context, s *Stream, p llm.Provider, vreq *vendor.Request) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeouts.Stream)
	defer cancel()

	resp, err := e.do(ctx, vreq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode) {
		return 0, statusError(resp, p.ResolvedModel())
	}

	a := &attempt{ctx: ctx, stream: s, typ: p.Type, metrics: e.metrics}
	dec := sse.NewDecoder()
	buf := make([]byte, readBufferSize)

	for !dec.Done() {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if err := a.emit(dec.Feed(buf[:n])); err != nil {
				return a.emitted, err
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return a.emitted, transportError(ctx, "read stream", rerr)
		}
	}
	if err := a.emit(dec.Finish()); err != nil {
		return a.emitted, err
	}

	if a.emitted == 0 && !dec.Done() {
		if text, ok := lastChance(p.Type, dec); ok {
			if err := a.send(text); err != nil {
				return a.emitted, err
			}
		}
	}
	return a.emitted, nil
}

// lastChance parses what the decoder saw as one JSON document, for vendors
// that answer a streaming request with a complete body.
func lastChance(t llm.ProviderType, dec *sse.Decoder) (string, bool) {
	if dec.Mode() == sse.ModeSSE {
		return vendor.ParseDocument(t, dec.Remaining())
	}
	if dec.Truncated() {
		return "", false
	}
	return vendor.ParseDocument(t, dec.Body())
}

// attempt tracks one streaming attempt's output.
type attempt struct {
	ctx     context.Context
	stream  *Stream
	typ     llm.ProviderType
	metrics *Metrics
	emitted int
}

func (a *attempt) emit(frames []sse.Frame) error {
	for _, f := range frames {
		if f.Done {
			return nil
		}
		text, ok := vendor.ParseDelta(a.typ, []byte(f.Data))
		if !ok {
			continue
		}
		if err := a.send(text); err != nil {
			return err
		}
	}
	return nil
}

func (a *attempt) send(text string) error {
	if err := a.stream.send(a.ctx, text, false); err != nil {
		return transportError(a.ctx, "deliver delta", err)
	}
	a.emitted += utf8.RuneCountInString(text)
	a.metrics.delta(a.typ.String())
	return nil
}

// complete runs one non-streaming request under the fallback deadline.
func (e *Engine) complete(ctx context.Context, p llm.Provider, vreq *vendor.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeouts.Fallback)
	defer cancel()

	e.logger.Debug().
		Str("provider_type", p.Type.String()).
		Str("url", vreq.RedactedURL()).
		Msg("sending request")

	resp, err := e.do(ctx, vreq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode) {
		return "", statusError(resp, p.ResolvedModel())
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBody))
	if err != nil {
		return "", transportError(ctx, "read response", err)
	}
	text, ok := vendor.ParseDocument(p.Type, string(body))
	if !ok {
		return "", llm.NewParseError(llm.Excerpt(string(body)))
	}
	return text, nil
}

func (e *Engine) do(ctx context.Context, vreq *vendor.Request) (*http.Response, error) {
	req, err := vreq.HTTP(ctx)
	if err != nil {
		return nil, llm.NewTransportError("invalid request URL", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, "request failed", err)
	}
	return resp, nil
}

func success(status int) bool {
	return status >= 200 && status <= 299
}

func statusError(resp *http.Response, model string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return llm.NewHTTPStatusError(resp.StatusCode, model, llm.Excerpt(string(raw)))
}

// transportError classifies err as a transport failure, preferring the
// context's own error so deadline expiry reads as a timeout. Request URLs
// are redacted because Google carries the key in the query string.
func transportError(ctx context.Context, op string, err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		uerr.URL = vendor.RedactURL(uerr.URL)
	}
	switch cerr := ctx.Err(); {
	case errors.Is(cerr, context.DeadlineExceeded):
		return llm.NewTransportError(op+": request timed out", err)
	case errors.Is(cerr, context.Canceled):
		return llm.NewTransportError(op+": request canceled", err)
	default:
		return llm.NewTransportError(op, err)
	}
}

func outcome(err error) string {
	var llmErr *llm.Error
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &llmErr):
		return string(llmErr.Type)
	default:
		return "error"
	}
}
