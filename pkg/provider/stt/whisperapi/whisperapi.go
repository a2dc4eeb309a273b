// Package whisperapi provides an stt.Provider backed by an OpenAI-compatible
// audio transcription endpoint (POST {base}/audio/transcriptions).
//
// Requests use multipart/form-data with response_format=verbose_json so the
// per-segment log-probabilities are available for confidence scoring. A
// lexical prompt biases recognition toward expected vocabulary.
//
// Usage:
//
//	p, err := whisperapi.New(apiKey,
//	    whisperapi.WithLanguage("it"),
//	    whisperapi.WithPrompt("Pronto, buongiorno, codice fiscale"),
//	)
//	res, err := p.Transcribe(ctx, wavBytes)
package whisperapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/centralino-ai/centralino/pkg/provider/stt"
)

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	defaultModel    = "whisper-1"
	defaultLanguage = "it"

	// retryBackoff is the pause before the single retry on a transient failure.
	retryBackoff = 500 * time.Millisecond

	// noSegmentConfidence is assigned when the service returns text but no
	// segment log-probabilities to score it with.
	noSegmentConfidence = 0.5
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (default "https://api.openai.com/v1").
// Useful for proxies and test servers.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithModel sets the transcription model identifier. Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the ISO 639-1 language hint. Defaults to "it".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithPrompt sets the lexical prompt sent with every request to bias
// recognition toward domain vocabulary. Empty disables the prompt.
func WithPrompt(prompt string) Option {
	return func(p *Provider) {
		p.prompt = prompt
	}
}

// WithHTTPClient replaces the HTTP client, e.g. to tighten transport timeouts.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider against an OpenAI-compatible endpoint.
// Safe for concurrent use.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	prompt     string
	httpClient *http.Client
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("whisperapi: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe submits the WAV utterance. Transient failures (transport errors,
// HTTP 429 and 5xx) are retried once after a short backoff; the result of a
// successful retry carries Retried=true.
func (p *Provider) Transcribe(ctx context.Context, wav []byte) (stt.Result, error) {
	if len(wav) == 0 {
		return stt.Result{}, errors.New("whisperapi: empty audio")
	}

	res, err := p.request(ctx, wav)
	if err == nil {
		return res, nil
	}
	if !isTransient(err) {
		return stt.Result{}, err
	}

	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return stt.Result{}, fmt.Errorf("whisperapi: %w", ctx.Err())
	}

	res, err = p.request(ctx, wav)
	if err != nil {
		return stt.Result{Retried: true}, err
	}
	res.Retried = true
	return res, nil
}

// statusError marks an HTTP-level failure so the retry logic can distinguish
// transient from permanent conditions.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("whisperapi: server returned HTTP %d: %s", e.code, e.body)
}

// isTransient reports whether err is worth a single retry.
func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	// Transport-level failures (connection reset, timeout) have no status.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// verboseResponse mirrors the fields of a verbose_json transcription reply
// that the pipeline consumes.
type verboseResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func (p *Provider) request(ctx context.Context, wav []byte) (stt.Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisperapi: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return stt.Result{}, fmt.Errorf("whisperapi: write wav data: %w", err)
	}
	fields := map[string]string{
		"model":           p.model,
		"language":        p.language,
		"response_format": "verbose_json",
	}
	if p.prompt != "" {
		fields["prompt"] = p.prompt
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return stt.Result{}, fmt.Errorf("whisperapi: write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("whisperapi: close multipart writer: %w", err)
	}

	endpoint := p.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisperapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisperapi: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisperapi: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return stt.Result{}, &statusError{code: resp.StatusCode, body: truncate(string(data), 200)}
	}

	var vr verboseResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return stt.Result{}, fmt.Errorf("whisperapi: parse JSON response: %w", err)
	}

	text := strings.TrimSpace(vr.Text)
	res := stt.Result{
		Text:          text,
		AudioDuration: time.Duration(vr.Duration * float64(time.Second)),
	}
	if text == "" {
		return res, nil
	}
	if len(vr.Segments) == 0 {
		res.Confidence = noSegmentConfidence
		return res, nil
	}
	var sum float64
	for _, seg := range vr.Segments {
		sum += seg.AvgLogprob
	}
	res.Confidence = stt.ConfidenceFromAvgLogprob(sum / float64(len(vr.Segments)))
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
