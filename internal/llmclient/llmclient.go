// Package llmclient refines or translates transcribed text through an
// external LLM backend. The only concrete implementation targets a locally
// hosted Ollama instance, keeping with the daemon's local-first posture; no
// retry/backoff library exists anywhere in the dependency pack for this
// concern, so the bounded exponential backoff below is hand-rolled.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/zarvent/v2m/internal/config"
	"github.com/zarvent/v2m/internal/logging"
)

// Service is the collaborator interface the daemon depends on for
// PROCESS_TEXT/TRANSLATE_TEXT.
type Service interface {
	Process(ctx context.Context, text string) (string, error)
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Ollama is a Service backed by a local Ollama server's /api/generate
// endpoint.
type Ollama struct {
	cfg    config.LLM
	client *http.Client
	warnRL *rate.Limiter
}

func NewOllama(cfg config.LLM) *Ollama {
	return &Ollama{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		warnRL: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

func (o *Ollama) Process(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf("Clean up and lightly correct the following dictated text, preserving its meaning exactly:\n\n%s", text)
	return o.generate(ctx, prompt)
}

func (o *Ollama) Translate(ctx context.Context, text, targetLang string) (string, error) {
	prompt := fmt.Sprintf("Translate the following text to %s, returning only the translation:\n\n%s", targetLang, text)
	return o.generate(ctx, prompt)
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

const (
	maxAttempts  = 3
	baseBackoff  = 500 * time.Millisecond
	maxBackoff   = 2 * time.Second
)

// generate posts to Ollama's generate endpoint with bounded exponential
// backoff on transient (5xx/network) failures.
func (o *Ollama) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: o.cfg.Model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("marshal llm request: %w", err)
	}

	var lastErr error
	backoff := baseBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := o.doRequest(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if o.warnRL.Allow() {
			logging.Warn(logging.CategoryLLM, "llm request failed (attempt %d/%d): %v", attempt, maxAttempts, err)
		}
		if errors.As(err, new(permanentError)) {
			return "", err
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return "", fmt.Errorf("llm request failed after %d attempts: %w", maxAttempts, lastErr)
}

func (o *Ollama) doRequest(ctx context.Context, body []byte) (string, error) {
	url := o.cfg.Endpoint + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("llm server error: %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return "", permanentError{fmt.Errorf("llm request rejected (%s): %s", resp.Status, string(data))}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", permanentError{fmt.Errorf("decode llm response: %w", err)}
	}
	return out.Response, nil
}

// permanentError marks a failure that a retry cannot fix (a 4xx rejection
// or an undecodable body); generate returns it without further attempts.
type permanentError struct{ error }

// Disabled is the Service used when cfg.LLM.Enabled is false; callers treat
// its error as "skip refinement", not a recording failure.
type Disabled struct{}

var ErrDisabled = fmt.Errorf("llmclient: LLM refinement disabled in configuration")

func (Disabled) Process(context.Context, string) (string, error)            { return "", ErrDisabled }
func (Disabled) Translate(context.Context, string, string) (string, error) { return "", ErrDisabled }
