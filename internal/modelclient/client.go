// Package modelclient implements the streaming client to the model
// provider: request construction, retry/backoff, and server-sent-event
// parsing into a normalized ResponseEvent sequence.
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/codex-core/codex/internal/codexerr"
	"github.com/codex-core/codex/internal/logging"
	"github.com/codex-core/codex/internal/protocol"
)

// ProviderConfig holds the per-provider knobs that govern retry and
// streaming behavior, mirroring the teacher's ProviderConfig shape.
type ProviderConfig struct {
	BaseURL          string
	APIKey           string
	WireAPI          WireAPI
	RequestMaxRetries int
	StreamIdleTimeout time.Duration
	BetaHeader        string
}

// WireAPI selects which upstream protocol variant a provider speaks.
type WireAPI string

const (
	WireResponses       WireAPI = "responses"
	WireChatCompletions WireAPI = "chat_completions"
)

func (c ProviderConfig) maxRetries() int {
	if c.RequestMaxRetries > 0 {
		return c.RequestMaxRetries
	}
	return 3
}

func (c ProviderConfig) idleTimeout() time.Duration {
	if c.StreamIdleTimeout > 0 {
		return c.StreamIdleTimeout
	}
	return 90 * time.Second
}

// TokenSource supplies the bearer token for outbound requests, backed by
// the auth manager.
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
}

// Client builds requests against the upstream model and streams back
// normalized ResponseEvents.
type Client struct {
	provider  ProviderConfig
	tokens    TokenSource
	sessionID string
	httpClient *http.Client
	model     string
}

func New(provider ProviderConfig, tokens TokenSource, model string) *Client {
	return &Client{
		provider:  provider,
		tokens:    tokens,
		sessionID: uuid.NewString(),
		model:     model,
		httpClient: &http.Client{
			Transport: &http.Transport{
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		},
	}
}

// responsesAPIRequest is the wire shape posted to the Responses endpoint.
type responsesAPIRequest struct {
	Model              string            `json:"model"`
	Instructions       string            `json:"instructions"`
	Input              []protocol.ResponseItem `json:"input"`
	Tools              []json.RawMessage `json:"tools,omitempty"`
	ToolChoice         string            `json:"tool_choice"`
	ParallelToolCalls  bool              `json:"parallel_tool_calls"`
	Reasoning          *reasoningParam   `json:"reasoning,omitempty"`
	Store              bool              `json:"store"`
	Stream             bool              `json:"stream"`
	Include            []string          `json:"include,omitempty"`
	PreviousResponseID string            `json:"previous_response_id,omitempty"`
}

type reasoningParam struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// ReasoningConfig mirrors client_common.rs's Reasoning type: a nil config
// disables reasoning entirely.
type ReasoningConfig struct {
	Effort  string // "low" | "medium" | "high"
	Summary string // "auto" | "concise" | "detailed"
}

// ModelSupportsReasoningSummaries mirrors the upstream heuristic: models
// whose id starts with "o" or "codex" are assumed to support reasoning
// summaries, unless a config override says otherwise.
func ModelSupportsReasoningSummaries(model string, forceEnabled, forceDisabled bool) bool {
	if forceDisabled {
		return false
	}
	if forceEnabled {
		return true
	}
	return hasPrefixFold(model, "o") || hasPrefixFold(model, "codex")
}

func hasPrefixFold(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		a, b := s[i], prefix[i]
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}
		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

// buildFullInstructions concatenates the caller-supplied base prompt, user
// instructions, and, for models whose id begins with "gpt-4.1", an
// apply_patch tool appendix. There is no built-in base prompt: an empty base
// is used as is.
func buildFullInstructions(base, userInstructions, model string) string {
	instructions := base
	if userInstructions != "" {
		instructions = instructions + "\n\n" + userInstructions
	}
	if hasPrefixFold(model, "gpt-4.1") {
		instructions += "\n\n" + applyPatchToolInstructions
	}
	return instructions
}

const applyPatchToolInstructions = `Use the apply_patch tool to edit files. Always provide a complete, valid unified diff.`

// Stream issues prompt against the configured provider and returns a
// channel of ResponseEvent (or error) terminated by exactly one Completed
// event or one error, matching client_common.rs's ResponseStream contract.
func (c *Client) Stream(ctx context.Context, prompt protocol.Prompt, base, userInstructions string, reasoning *ReasoningConfig, store bool) (<-chan Result, error) {
	if c.provider.WireAPI == WireChatCompletions {
		return c.streamChatCompletions(ctx, prompt, base, userInstructions)
	}
	return c.streamResponses(ctx, prompt, base, userInstructions, reasoning, store)
}

// Result is either a ResponseEvent or a terminal error; exactly one error
// (if any) is ever sent, always as the final value on the channel.
type Result struct {
	Event ResponseEvent
	Err   error
}

func (c *Client) streamResponses(ctx context.Context, prompt protocol.Prompt, base, userInstructions string, reasoning *ReasoningConfig, store bool) (<-chan Result, error) {
	var reasoningWire *reasoningParam
	if reasoning != nil && ModelSupportsReasoningSummaries(c.model, false, false) {
		reasoningWire = &reasoningParam{Effort: reasoning.Effort, Summary: reasoning.Summary}
	}

	include := []string(nil)
	if !store {
		include = []string{"reasoning.encrypted_content"}
	}

	payload := responsesAPIRequest{
		Model:              c.model,
		Instructions:       buildFullInstructions(base, userInstructions, c.model),
		Input:              prompt.Input,
		Tools:              prompt.Tools,
		ToolChoice:         "auto",
		ParallelToolCalls:  false,
		Reasoning:          reasoningWire,
		Store:              store,
		Stream:             true,
		Include:            include,
		PreviousResponseID: prompt.PreviousResponseID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal responses request: %w", err)
	}

	resp, err := c.sendWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}

	out := make(chan Result, 1600)
	go processSSE(ctx, resp.Body, out, c.provider.idleTimeout())
	return out, nil
}

// sendWithRetry implements the retry/backoff policy from spec §4.D: bounded
// by max_retries, honoring Retry-After on 429/5xx, exponential backoff
// otherwise, and treating any other non-2xx as fatal.
func (c *Client) sendWithRetry(ctx context.Context, body []byte) (*http.Response, error) {
	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		return nil, err
	}

	maxRetries := c.provider.maxRetries()

	endpoint := c.provider.BaseURL + "/responses"
	if c.provider.WireAPI == WireChatCompletions {
		endpoint = c.provider.BaseURL + "/chat/completions"
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("session_id", c.sessionID)
		req.Header.Set("Accept", "text/event-stream")
		if c.provider.BetaHeader != "" {
			req.Header.Set("OpenAI-Beta", c.provider.BetaHeader)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt >= maxRetries {
				return nil, err
			}
			logging.Debugf("model client transport error (attempt %d): %v", attempt, err)
			if !sleepCtx(ctx, backoff(attempt)) {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if !retryable {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, &codexerr.UnexpectedStatusError{Status: resp.StatusCode, Body: string(data)}
		}

		if attempt >= maxRetries {
			resp.Body.Close()
			return nil, &codexerr.RetryLimitError{Status: resp.StatusCode}
		}

		delay := backoff(attempt)
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if secs, err := strconv.Atoi(retryAfter); err == nil {
				delay = time.Duration(secs) * time.Second
			}
		}
		resp.Body.Close()
		if !sleepCtx(ctx, delay) {
			return nil, ctx.Err()
		}
	}
}

func backoff(attempt int) time.Duration {
	base := time.Second
	for i := 0; i < attempt; i++ {
		base *= 2
	}
	return base
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
