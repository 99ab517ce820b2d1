package openai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/turnengine/turnengine/internal/domain/entity"
	"github.com/turnengine/turnengine/internal/domain/service"
	llm "github.com/turnengine/turnengine/internal/infrastructure/llm"
	"go.uber.org/zap"
)

func init() {
	llm.RegisterFactory("openai", func(cfg llm.ProviderConfig, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

// Provider is a Go-native OpenAI-compatible HTTP client.
// Compatible with: OpenAI, Bailian (Qwen), MiniMax, DeepSeek, Ollama, vLLM, etc.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	models  []string
	client  *http.Client
	logger  *zap.Logger

	connTimeout     time.Duration
	responseTimeout time.Duration
	maxRetries      int
	maxBackoffMs    int

	rateLimiter  *llm.RateLimiter
	backpressure *llm.BackpressureMonitor
	capture      *llm.CaptureRecorder
}

// New creates a Go-native OpenAI-compatible LLM provider.
func New(cfg llm.ProviderConfig, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	cfg.DefaultTimeouts()

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Provider{
		name:            cfg.Name,
		baseURL:         baseURL,
		apiKey:          cfg.APIKey,
		models:          cfg.Models,
		client:          &http.Client{Transport: transport},
		logger:          logger.With(zap.String("provider", cfg.Name), zap.String("type", "openai")),
		connTimeout:     cfg.ConnectionTimeout,
		responseTimeout: cfg.ResponseTimeout,
		maxRetries:      cfg.MaxRetries,
		maxBackoffMs:    cfg.MaxBackoffMs,
		rateLimiter:     llm.NewRateLimiter(60*time.Second, 3, 2*time.Second),
		backpressure:    llm.NewBackpressureMonitor(20, 3.0, 3),
		capture:         llm.NewCaptureRecorder(cfg.CaptureDir),
	}
}

// Compile-time interface check
var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Name() string     { return p.name }
func (p *Provider) Models() []string { return p.models }

func (p *Provider) SupportsModel(model string) bool {
	if len(p.models) == 0 {
		return true
	}
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

func (p *Provider) IsAvailable(ctx context.Context) bool {
	return p.apiKey != ""
}

// Generate implements service.LLMClient (non-streaming).
func (p *Provider) Generate(ctx context.Context, req *service.LLMRequest) (*service.LLMResponse, error) {
	body, err := p.marshalRequest(req, false)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			if err := p.waitBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		httpReq, err := p.newRequest(ctx, body)
		if err != nil {
			return nil, err
		}

		resp, cancel, firstByteErr, err := p.doWithTimeouts(httpReq)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		p.recordCapture(httpReq, req.Model, false, status, err, time.Since(start), attempt)

		if err != nil {
			cancel()
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			if firstByteErr {
				continue // connection-phase failure: retryable
			}
			return nil, lastErr
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		if readErr != nil {
			return nil, fmt.Errorf("read response: %w", readErr)
		}

		if resp.StatusCode == http.StatusServiceUnavailable {
			p.rateLimiter.Note503(time.Now())
			lastErr = fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
		}

		p.observeLatency(start)
		return p.parseAPIResponse(respBody)
	}
	return nil, fmt.Errorf("exhausted %d retries: %w", p.maxRetries, lastErr)
}

// GenerateStream implements service.LLMClient with SSE streaming.
func (p *Provider) GenerateStream(ctx context.Context, req *service.LLMRequest, deltaCh chan<- service.StreamChunk) (*service.LLMResponse, error) {
	body, err := p.marshalRequest(req, true)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			if err := p.waitBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		httpReq, err := p.newStreamRequest(ctx, body)
		if err != nil {
			return nil, err
		}

		resp, cancel, firstByteErr, err := p.doWithTimeouts(httpReq)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		p.recordCapture(httpReq, req.Model, true, status, err, time.Since(start), attempt)

		if err != nil {
			cancel()
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			if firstByteErr {
				continue
			}
			return nil, lastErr
		}

		if resp.StatusCode == http.StatusServiceUnavailable {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			cancel()
			p.rateLimiter.Note503(time.Now())
			lastErr = fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
		}

		// Context cancellation body-close watchdog. The response-timeout
		// clock (cancel) still bounds the whole stream, not just the time
		// to first byte: a stream that stalls mid-way is cut off too.
		streamDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.logger.Info("Context cancelled, force-closing SSE stream", zap.Error(ctx.Err()))
				resp.Body.Close()
			case <-streamDone:
			}
		}()

		result, err := ParseSSEStream(ctx, resp.Body, deltaCh, p.logger)
		close(streamDone)
		cancel()
		if err == nil {
			p.observeLatency(start)
		}
		return result, err
	}
	return nil, fmt.Errorf("exhausted %d retries: %w", p.maxRetries, lastErr)
}

// waitBackoff sleeps for the exponential-backoff delay plus any rate-limiter
// escalation from recent 503s, or returns ctx.Err() if ctx ends first.
func (p *Provider) waitBackoff(ctx context.Context, attempt int) error {
	delay := llm.BackoffDelay(attempt-1, 500*time.Millisecond, p.maxBackoffMs) + p.rateLimiter.ExtraDelay(time.Now())
	cap := time.Duration(p.maxBackoffMs) * time.Millisecond
	if cap > 0 && delay > cap {
		delay = cap
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// observeLatency feeds the backpressure monitor and warns once the latest
// call is disproportionately slower than the rolling average.
func (p *Provider) observeLatency(start time.Time) {
	warn, avg := p.backpressure.Observe(time.Since(start))
	if warn {
		p.logger.Warn("LLM call latency exceeds backpressure threshold",
			zap.Duration("latency", time.Since(start)), zap.Duration("rolling_avg", avg))
	}
}

func (p *Provider) recordCapture(req *http.Request, model string, streaming bool, status int, err error, latency time.Duration, attempt int) {
	if p.capture == nil {
		return
	}
	rec := llm.CaptureRecord{
		Time:      time.Now(),
		Provider:  p.name,
		Model:     model,
		Streaming: streaming,
		Headers:   llm.RecordHeaders(req.Header),
		Status:    status,
		LatencyMs: latency.Milliseconds(),
		Attempt:   attempt,
	}
	if err != nil {
		rec.Err = err.Error()
	}
	if writeErr := p.capture.Write(rec); writeErr != nil {
		p.logger.Warn("Failed to write capture record", zap.Error(writeErr))
	}
}

// doWithTimeouts runs req under two independent clocks: connTimeout bounds
// time-to-first-byte, responseTimeout bounds the whole call. firstByteErr
// reports whether the failure happened before any response byte arrived
// (and is therefore a connection-phase failure, retryable by the caller).
// The caller owns the returned cancel and must call it once done with resp
// (after reading/closing the body), on every exit path including success.
func (p *Provider) doWithTimeouts(req *http.Request) (resp *http.Response, cancel context.CancelFunc, firstByteErr bool, err error) {
	ctx, cancel := context.WithTimeout(req.Context(), p.responseTimeout)

	gotFirstByte := make(chan struct{})
	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() {
			close(gotFirstByte)
		},
	}
	ctx = httptrace.WithClientTrace(ctx, trace)
	req = req.WithContext(ctx)

	connTimer := time.NewTimer(p.connTimeout)
	connWatchDone := make(chan struct{})
	go func() {
		defer connTimer.Stop()
		select {
		case <-gotFirstByte:
		case <-connTimer.C:
			cancel()
		case <-connWatchDone:
		}
	}()

	resp, err = p.client.Do(req)
	close(connWatchDone)
	if err != nil {
		select {
		case <-gotFirstByte:
			return nil, cancel, false, err
		default:
			return nil, cancel, true, err
		}
	}
	return resp, cancel, false, nil
}

func (p *Provider) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	return httpReq, nil
}

func (p *Provider) newStreamRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := p.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	return httpReq, nil
}

// marshalRequest builds the API request body and sanitizes it at the JSON
// level (role renames, field renames, strict-flag stripping) before the
// bytes are sent over the wire.
func (p *Provider) marshalRequest(req *service.LLMRequest, streaming bool) ([]byte, error) {
	apiReq := p.buildAPIRequest(req)

	var raw interface{}
	if streaming {
		raw = StreamRequest{
			Request:       apiReq,
			Stream:        true,
			StreamOptions: map[string]interface{}{"include_usage": true},
		}
	} else {
		raw = apiReq
	}

	body, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("sanitize request: %w", err)
	}
	sanitizeRequestMap(m, streaming)

	sanitized, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal sanitized request: %w", err)
	}
	return sanitized, nil
}

// --- Internal conversion methods ---

func (p *Provider) buildAPIRequest(req *service.LLMRequest) *Request {
	// Strip provider prefix (e.g. "bailian/qwen3-max" → "qwen3-max")
	model := req.Model
	if idx := strings.Index(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}

	apiReq := &Request{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	for _, msg := range req.Messages {
		apiMsg := Message{
			Role:       sanitizeRole(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}

		for _, tc := range msg.ToolCalls {
			apiMsg.ToolCalls = append(apiMsg.ToolCalls, ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: ToolCallFunc{
					Name:      tc.Name,
					Arguments: MarshalToolCallArgs(tc.Arguments),
				},
			})
		}

		apiReq.Messages = append(apiReq.Messages, apiMsg)
	}

	for _, td := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  ConvertSchema(td.Parameters),
			},
		})
	}

	return apiReq
}

// sanitizeRole normalizes the OpenAI "developer" role (introduced for o1-style
// reasoning models) to "system", which every OpenAI-compatible backend in
// this fleet understands.
func sanitizeRole(role string) string {
	if role == "developer" {
		return "system"
	}
	return role
}

func (p *Provider) parseAPIResponse(body []byte) (*service.LLMResponse, error) {
	var apiResp Response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("empty response: no choices")
	}

	choice := apiResp.Choices[0]
	resp := &service.LLMResponse{
		Content:    choice.Message.Content,
		ModelUsed:  apiResp.Model,
		TokensUsed: apiResp.Usage.Total(),
	}

	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("parse tool call arguments for %s: %w", tc.Function.Name, err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, entity.ToolCallInfo{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return resp, nil
}
