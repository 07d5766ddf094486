package query

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"github.com/shenzihan666/search/llm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// vendorServer fakes a vendor endpoint. Streaming and non-streaming calls are
// told apart by the "stream" field of the request body.
type vendorServer struct {
	*httptest.Server
	streamCalls atomic.Int32
	onceCalls   atomic.Int32
}

func newVendorServer(t *testing.T, stream, once http.HandlerFunc) *vendorServer {
	t.Helper()
	vs := &vendorServer{}
	vs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		isStream := gjson.GetBytes(body, "stream").Bool() || r.URL.Query().Get("alt") == "sse" ||
			strings.Contains(r.URL.Path, "streamGenerateContent")
		if isStream {
			vs.streamCalls.Add(1)
			stream(w, r)
			return
		}
		vs.onceCalls.Add(1)
		once(w, r)
	}))
	t.Cleanup(vs.Close)
	return vs
}

func writeSSE(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, ev := range events {
		fmt.Fprint(w, ev)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func writeJSON(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}
}

func unexpected(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		t.Error("unexpected request")
		w.WriteHeader(http.StatusTeapot)
	}
}

func openAIProvider(base string) llm.Provider {
	return llm.Provider{ID: "p1", Name: "Test", Type: llm.ProviderOpenAI, BaseURL: base + "/v1", Model: "gpt-test"}
}

func newTestEngine(opts ...Option) *Engine {
	return NewEngine(zerolog.Nop(), opts...)
}

func collectDeltas(t *testing.T, st *Stream) ([]llm.StreamDelta, error) {
	t.Helper()
	defer st.Close()
	var out []llm.StreamDelta
	for st.Next() {
		out = append(out, st.Delta())
	}
	return out, st.Err()
}

func TestStream_OpenAIDeltasInOrder(t *testing.T) {
	vs := newVendorServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		writeSSE(w,
			`data: {"choices":[{"delta":{"role":"assistant"}}]}`+"\n\n",
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`+"\n\ndata: {\"choices\":[{\"delta\":",
			`{"content":"lo"}}]}`+"\n\n",
			`data: {"choices":[{"delta":{"content":" world"}}]}`+"\n\n",
			"data: [DONE]\n\n",
			`data: {"choices":[{"delta":{"content":"ignored"}}]}`+"\n\n",
		)
	}, unexpected(t))

	e := newTestEngine()
	st, err := e.Stream(context.Background(), Request{
		Provider: openAIProvider(vs.URL),
		APIKey:   "sk-test",
		Prompt:   "hi",
	})
	require.NoError(t, err)

	deltas, err := collectDeltas(t, st)
	require.NoError(t, err)
	require.Len(t, deltas, 3)
	for i, d := range deltas {
		assert.Equal(t, i, d.Index)
		assert.False(t, d.Fallback)
	}
	assert.Equal(t, "Hel", deltas[0].Text)
	assert.Equal(t, "lo", deltas[1].Text)
	assert.Equal(t, " world", deltas[2].Text)
	assert.Equal(t, int32(1), vs.streamCalls.Load())
	assert.Equal(t, int32(0), vs.onceCalls.Load())
}

func TestStream_FallsBackOnceWhenNothingEmitted(t *testing.T) {
	vs := newVendorServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeSSE(w,
			`data: {"choices":[{"delta":{"role":"assistant"}}]}`+"\n\n",
			"data: [DONE]\n\n",
		)
	}, writeJSON(http.StatusOK, `{"choices":[{"message":{"content":"  full answer  "}}]}`))

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	e := newTestEngine(WithMetrics(metrics))

	st, err := e.Stream(context.Background(), Request{Provider: openAIProvider(vs.URL), APIKey: "k", Prompt: "q"})
	require.NoError(t, err)

	deltas, err := collectDeltas(t, st)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, "full answer", deltas[0].Text)
	assert.True(t, deltas[0].Fallback)
	assert.Equal(t, int32(1), vs.streamCalls.Load())
	assert.Equal(t, int32(1), vs.onceCalls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FallbacksTotal.WithLabelValues("openai")))
}

func TestStream_FallbackFailureIsSurfaced(t *testing.T) {
	vs := newVendorServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeSSE(w, "data: [DONE]\n\n")
	}, writeJSON(http.StatusOK, `{"unexpected":true}`))

	st, err := newTestEngine().Stream(context.Background(), Request{Provider: openAIProvider(vs.URL), APIKey: "k", Prompt: "q"})
	require.NoError(t, err)

	deltas, err := collectDeltas(t, st)
	assert.Empty(t, deltas)
	require.Error(t, err)
	assert.True(t, llm.IsParseError(err))
	assert.Contains(t, err.Error(), "unexpected")
	assert.Equal(t, int32(1), vs.onceCalls.Load())
}

func TestStream_HTTPStatusIsTerminal(t *testing.T) {
	vs := newVendorServer(t,
		writeJSON(http.StatusUnauthorized, `{"error":{"message":"bad key"}}`),
		unexpected(t))

	st, err := newTestEngine().Stream(context.Background(), Request{Provider: openAIProvider(vs.URL), APIKey: "k", Prompt: "q"})
	require.NoError(t, err)

	_, err = collectDeltas(t, st)
	require.Error(t, err)
	assert.True(t, llm.IsHTTPStatusError(err))
	assert.Equal(t, 401, llm.StatusCode(err))
	assert.Contains(t, err.Error(), "Authentication failed")
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "gpt-test")
	assert.Contains(t, err.Error(), "bad key")
	assert.Equal(t, int32(0), vs.onceCalls.Load())
}

func TestStream_WholeJSONBodyOnStreamRequest(t *testing.T) {
	vs := newVendorServer(t,
		writeJSON(http.StatusOK, "{\n  \"choices\": [{\"message\": {\"content\": \"hi\"}}]\n}"),
		unexpected(t))

	st, err := newTestEngine().Stream(context.Background(), Request{Provider: openAIProvider(vs.URL), APIKey: "k", Prompt: "q"})
	require.NoError(t, err)

	deltas, err := collectDeltas(t, st)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, "hi", deltas[0].Text)
	assert.False(t, deltas[0].Fallback)
	assert.Equal(t, int32(0), vs.onceCalls.Load())
}

func TestStream_NDJSON(t *testing.T) {
	vs := newVendorServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprint(w, `{"choices":[{"delta":{"content":"a"}}]}`+"\n"+`{"choices":[{"delta":{"content":"b"}}]}`+"\n")
	}, unexpected(t))

	st, err := newTestEngine().Stream(context.Background(), Request{Provider: openAIProvider(vs.URL), APIKey: "k", Prompt: "q"})
	require.NoError(t, err)
	text, err := Collect(st)
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
}

func TestStream_Anthropic(t *testing.T) {
	vs := newVendorServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak", r.Header.Get("x-api-key"))
		writeSSE(w,
			"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{}}\n\n",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi\"}}\n\n",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\" there\"}}\n\n",
			"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
		)
	}, unexpected(t))

	p := llm.Provider{Type: llm.ProviderAnthropic, BaseURL: vs.URL + "/v1", Model: "claude-test"}
	st, err := newTestEngine().Stream(context.Background(), Request{Provider: p, APIKey: "ak", Prompt: "q"})
	require.NoError(t, err)
	text, err := Collect(st)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", text)
}

func TestStream_Google(t *testing.T) {
	vs := newVendorServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-test:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "gk", r.URL.Query().Get("key"))
		writeSSE(w,
			"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"One\"}],\"role\":\"model\"}}]}\r\n\r\n",
			"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\" two\"}],\"role\":\"model\"}}]}\r\n\r\n",
		)
	}, unexpected(t))

	p := llm.Provider{Type: llm.ProviderGoogle, BaseURL: vs.URL + "/v1beta", Model: "gemini-test"}
	st, err := newTestEngine().Stream(context.Background(), Request{Provider: p, APIKey: "gk", Prompt: "q"})
	require.NoError(t, err)
	text, err := Collect(st)
	require.NoError(t, err)
	assert.Equal(t, "One two", text)
}

func TestStream_ValidationFailsBeforeNetwork(t *testing.T) {
	vs := newVendorServer(t, unexpected(t), unexpected(t))
	e := newTestEngine()

	_, err := e.Stream(context.Background(), Request{Provider: openAIProvider(vs.URL), APIKey: "", Prompt: "q"})
	assert.ErrorIs(t, err, llm.ErrEmptyAPIKey)

	_, err = e.Stream(context.Background(), Request{Provider: openAIProvider(vs.URL), APIKey: "k", Prompt: "  "})
	assert.ErrorIs(t, err, llm.ErrEmptyPrompt)

	_, err = e.Stream(context.Background(), Request{Provider: llm.Provider{Type: llm.ProviderCustom, Model: "m"}, APIKey: "k", Prompt: "q"})
	assert.ErrorIs(t, err, llm.ErrEmptyBaseURL)
	assert.True(t, llm.IsValidationError(err))

	assert.Equal(t, int32(0), vs.streamCalls.Load()+vs.onceCalls.Load())
}

func TestStream_TimeoutFallsBack(t *testing.T) {
	vs := newVendorServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}, writeJSON(http.StatusOK, `{"choices":[{"message":{"content":"late but fine"}}]}`))

	e := newTestEngine(WithTimeouts(Timeouts{Stream: 100 * time.Millisecond, Fallback: 5 * time.Second}))
	st, err := e.Stream(context.Background(), Request{Provider: openAIProvider(vs.URL), APIKey: "k", Prompt: "q"})
	require.NoError(t, err)

	text, err := Collect(st)
	require.NoError(t, err)
	assert.Equal(t, "late but fine", text)
	assert.Equal(t, int32(1), vs.onceCalls.Load())
}

func TestStream_FallbackTimeoutIsTransportError(t *testing.T) {
	hang := func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}
	vs := newVendorServer(t, hang, hang)

	e := newTestEngine(WithTimeouts(Timeouts{Stream: 50 * time.Millisecond, Fallback: 50 * time.Millisecond}))
	st, err := e.Stream(context.Background(), Request{Provider: openAIProvider(vs.URL), APIKey: "k", Prompt: "q"})
	require.NoError(t, err)

	_, err = Collect(st)
	require.Error(t, err)
	assert.True(t, llm.IsTransportError(err))
	assert.Contains(t, err.Error(), "timed out")
}

func TestStream_CloseAbortsRequest(t *testing.T) {
	released := make(chan struct{})
	vs := newVendorServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, `data: {"choices":[{"delta":{"content":"first"}}]}`+"\n\n")
		<-r.Context().Done()
		close(released)
	}, unexpected(t))

	st, err := newTestEngine().Stream(context.Background(), Request{Provider: openAIProvider(vs.URL), APIKey: "k", Prompt: "q"})
	require.NoError(t, err)

	require.True(t, st.Next())
	assert.Equal(t, "first", st.Delta().Text)
	require.NoError(t, st.Close())
	assert.False(t, st.Next())

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("vendor request was not aborted")
	}
}

func TestStream_ParentCancelDoesNotFallBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	vs := newVendorServer(t, func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
	}, unexpected(t))

	st, err := newTestEngine().Stream(ctx, Request{Provider: openAIProvider(vs.URL), APIKey: "k", Prompt: "q"})
	require.NoError(t, err)

	_, err = Collect(st)
	require.Error(t, err)
	assert.True(t, llm.IsTransportError(err))
	assert.Equal(t, int32(0), vs.onceCalls.Load())
}

func TestComplete(t *testing.T) {
	vs := newVendorServer(t, unexpected(t),
		writeJSON(http.StatusOK, `{"choices":[{"message":{"content":"answer"}}]}`))

	text, err := newTestEngine().Complete(context.Background(), Request{
		Provider: openAIProvider(vs.URL),
		APIKey:   "k",
		History:  []llm.ChatMessage{{Role: llm.RoleUser, Content: "from history"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", text)
}

func TestComplete_ServerError(t *testing.T) {
	vs := newVendorServer(t, unexpected(t), writeJSON(http.StatusBadGateway, "upstream down"))

	_, err := newTestEngine().Complete(context.Background(), Request{Provider: openAIProvider(vs.URL), APIKey: "k", Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, 502, llm.StatusCode(err))
	assert.Contains(t, err.Error(), "Provider server error")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestComplete_ConnectionRefused(t *testing.T) {
	vs := newVendorServer(t, unexpected(t), unexpected(t))
	base := vs.URL
	vs.Close()

	_, err := newTestEngine().Complete(context.Background(), Request{Provider: openAIProvider(base), APIKey: "k", Prompt: "q"})
	require.Error(t, err)
	assert.True(t, llm.IsTransportError(err))
}
