// Package openaispeech provides a tts.Provider backed by an OpenAI-compatible
// speech endpoint (POST {base}/audio/speech).
//
// Requests ask for response_format=pcm, which the service delivers as raw
// 24 kHz 16-bit mono little-endian samples, exactly what the pipeline's
// carrier encoder expects.
package openaispeech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/centralino-ai/centralino/pkg/provider/tts"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "tts-1"
	defaultVoice   = "onyx"
	defaultSpeed   = 0.95
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL. Useful for proxies and test servers.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithModel sets the synthesis model. Defaults to "tts-1", which trades a
// little fidelity for phone-appropriate latency.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoice sets the default voice used when a request leaves Voice empty.
func WithVoice(voice string) Option {
	return func(p *Provider) {
		p.voice = voice
	}
}

// WithSpeed sets the default playback rate used when a request leaves Speed
// zero. Defaults to 0.95, slightly slower for clarity over the phone.
func WithSpeed(speed float64) Option {
	return func(p *Provider) {
		p.speed = speed
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider against an OpenAI-compatible endpoint.
// Safe for concurrent use.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	voice      string
	speed      float64
	httpClient *http.Client
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openaispeech: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		voice:      defaultVoice,
		speed:      defaultSpeed,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// speechRequest is the JSON body of a speech synthesis call.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, errors.New("openaispeech: empty text")
	}
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}
	speed := req.Speed
	if speed == 0 {
		speed = p.speed
	}

	body, err := json.Marshal(speechRequest{
		Model:          p.model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "pcm",
		Speed:          speed,
	})
	if err != nil {
		return nil, fmt.Errorf("openaispeech: encode request: %w", err)
	}

	endpoint := p.baseURL + "/audio/speech"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openaispeech: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openaispeech: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("openaispeech: server returned HTTP %d: %s", resp.StatusCode, msg)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openaispeech: read audio: %w", err)
	}
	return pcm, nil
}
