package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"

	"github.com/shenzihan666/search/llm"
	"github.com/shenzihan666/search/llm/vendor"
)

// TestConnection sends the cheapest request that proves p is usable and
// measures its latency. It never returns an error: every failure becomes an
// unsuccessful result whose message can be shown as is. Missing key, base
// URL or model fail without touching the network.
func (e *Engine) TestConnection(ctx context.Context, p llm.Provider, apiKey string) llm.ConnectionTestResult {
	apiKey = strings.TrimSpace(apiKey)
	switch {
	case apiKey == "":
		return llm.NewConnectionTestResult(false, "API key is not configured", 0, 0)
	case p.ResolvedBaseURL() == "":
		return llm.NewConnectionTestResult(false, "Base URL is not configured", 0, 0)
	case p.ResolvedModel() == "":
		return llm.NewConnectionTestResult(false, "Model is not configured", 0, 0)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeouts.Probe)
	defer cancel()

	start := time.Now()
	var (
		status int
		err    error
	)
	switch p.Type {
	case llm.ProviderOpenAI, llm.ProviderCustom:
		status, err = e.probeModels(ctx, p, apiKey)
	case llm.ProviderAnthropic:
		if strings.HasSuffix(p.ResolvedBaseURL(), "/v1") {
			status, err = e.probeAnthropic(ctx, p, apiKey)
		} else {
			status, err = e.probeRaw(ctx, p, apiKey)
		}
	default:
		status, err = e.probeRaw(ctx, p, apiKey)
	}
	latency := time.Since(start)

	var res llm.ConnectionTestResult
	switch {
	case err == nil:
		res = llm.NewConnectionTestResult(true,
			fmt.Sprintf("Connected to %s (%s)", p.DisplayName(), p.ResolvedModel()),
			status, latency.Milliseconds())
	case llm.IsHTTPStatusError(err):
		res = llm.NewConnectionTestResult(false, err.Error(), llm.StatusCode(err), latency.Milliseconds())
	default:
		res = llm.NewConnectionTestResult(false, "Connection failed: "+err.Error(), 0, latency.Milliseconds())
	}

	e.logger.Debug().
		Str("provider", p.ID).
		Str("provider_type", p.Type.String()).
		Bool("success", res.Success).
		Int64("latency_ms", res.LatencyMS).
		Msg("connection probe finished")
	e.metrics.probe(p.Type.String(), res.StatusCode, latency)
	return res
}

// probeModels lists models on an OpenAI-compatible endpoint.
func (e *Engine) probeModels(ctx context.Context, p llm.Provider, apiKey string) (int, error) {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = p.ResolvedBaseURL()
	cfg.HTTPClient = e.client
	client := openai.NewClientWithConfig(cfg)

	if _, err := client.ListModels(ctx); err != nil {
		return 0, convertOpenAIError(ctx, p.ResolvedModel(), err)
	}
	return http.StatusOK, nil
}

func convertOpenAIError(ctx context.Context, model string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return llm.NewHTTPStatusError(apiErr.HTTPStatusCode, model, llm.Excerpt(apiErr.Message))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		excerpt := ""
		if reqErr.Err != nil {
			excerpt = llm.Excerpt(reqErr.Err.Error())
		}
		return llm.NewHTTPStatusError(reqErr.HTTPStatusCode, model, excerpt)
	}
	return transportError(ctx, "list models", err)
}

// probeAnthropic sends a one-token message through the SDK. The SDK appends
// v1/messages itself, so it is only used for bases ending in /v1; other
// bases (proxies) are probed with the same raw request chat uses.
func (e *Engine) probeAnthropic(ctx context.Context, p llm.Provider, apiKey string) (int, error) {
	base := strings.TrimSuffix(p.ResolvedBaseURL(), "/v1") + "/"
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(base),
		option.WithHTTPClient(e.client),
		option.WithMaxRetries(0),
	)

	_, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.ResolvedModel()),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return 0, llm.NewHTTPStatusError(apiErr.StatusCode, p.ResolvedModel(), llm.Excerpt(apiErr.RawJSON()))
		}
		return 0, transportError(ctx, "send message", err)
	}
	return http.StatusOK, nil
}

// probeRaw sends the family's probe request over plain HTTP.
func (e *Engine) probeRaw(ctx context.Context, p llm.Provider, apiKey string) (int, error) {
	vreq, err := vendor.BuildProbeRequest(p, apiKey)
	if err != nil {
		return 0, err
	}
	resp, err := e.do(ctx, vreq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode) {
		return 0, statusError(resp, p.ResolvedModel())
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return resp.StatusCode, nil
}
