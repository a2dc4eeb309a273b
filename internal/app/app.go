// Package app wires all Centralino subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithCarrierClient,
// WithHub, ...). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/centralino-ai/centralino/internal/analytics"
	"github.com/centralino-ai/centralino/internal/call"
	"github.com/centralino-ai/centralino/internal/carrier"
	"github.com/centralino-ai/centralino/internal/config"
	"github.com/centralino-ai/centralino/internal/dashboard"
	"github.com/centralino-ai/centralino/internal/knowledge"
	"github.com/centralino-ai/centralino/internal/location"
	"github.com/centralino-ai/centralino/internal/observe"
	"github.com/centralino-ai/centralino/internal/sched"
	"github.com/centralino-ai/centralino/internal/transcripts"
	"github.com/centralino-ai/centralino/pkg/provider/llm"
	"github.com/centralino-ai/centralino/pkg/provider/stt"
	"github.com/centralino-ai/centralino/pkg/provider/tts"
)

// shutdownGrace bounds how long Run waits for in-flight HTTP requests after
// the context is cancelled.
const shutdownGrace = 10 * time.Second

// Providers holds one interface value per pipeline stage. Populated by
// main.go via the config registry.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
}

// CarrierClient is the out-of-band carrier surface the server needs: ending
// calls and sending the location SMS. Implemented by [carrier.RestClient].
type CarrierClient interface {
	Hangup(ctx context.Context, callSid string) error
	SendSMS(ctx context.Context, to, from, body string) (string, error)
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics     *observe.Metrics
	hub         *dashboard.Hub
	params      *config.ParamStore
	know        *knowledge.Store
	recorder    *analytics.Recorder
	calls       *analytics.Store
	transcripts *transcripts.Store
	scheduler   *sched.Scheduler
	flow        *location.Flow
	rest        CarrierClient
	handler     *call.Handler

	srv *http.Server

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCarrierClient injects a carrier client instead of building a REST
// client from the config.
func WithCarrierClient(c CarrierClient) Option {
	return func(a *App) { a.rest = c }
}

// WithHub injects a dashboard hub.
func WithHub(h *dashboard.Hub) Option {
	return func(a *App) { a.hub = h }
}

// WithMetrics injects a metrics bundle instead of creating one from the
// global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		m, err := observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("app: init metrics: %w", err)
		}
		a.metrics = m
	}

	params, err := config.NewParamStore(cfg.Paths.ParamsPath)
	if err != nil {
		return nil, fmt.Errorf("app: init param store: %w", err)
	}
	a.params = params

	know, err := knowledge.NewStore(cfg.Paths.KnowledgePath)
	if err != nil {
		return nil, fmt.Errorf("app: init knowledge: %w", err)
	}
	a.know = know

	if a.hub == nil {
		a.hub = dashboard.NewHub(dashboard.WithMetrics(a.metrics))
	}

	a.recorder = analytics.NewRecorder(cfg.Paths.AnalyticsRoot,
		analytics.WithBroadcaster(a.hub),
		analytics.WithThresholds(a.thresholds),
	)
	a.calls = analytics.NewStore(cfg.Paths.AnalyticsRoot)
	a.transcripts = transcripts.NewStore(cfg.Paths.TranscriptsRoot)

	a.scheduler = sched.New()
	a.closers = append(a.closers, func() error {
		a.scheduler.Stop()
		return nil
	})

	if a.rest == nil {
		if err := a.initCarrier(); err != nil {
			return nil, fmt.Errorf("app: init carrier: %w", err)
		}
	}

	var sender location.SMSSender
	if a.rest != nil {
		sender = a.rest
	}
	a.flow = location.NewFlow(a.scheduler, a.hub, sender, a.know.Snapshot, cfg.Carrier.SMSFrom)
	a.hub.SetLocationCommands(a.flow)

	deps := call.Deps{
		STT:         providers.STT,
		LLM:         providers.LLM,
		TTS:         providers.TTS,
		Knowledge:   a.know,
		Recorder:    a.recorder,
		Events:      a.hub,
		Transcripts: a.transcripts,
		Location:    a.flow,
		Metrics:     a.metrics,
		Params:      a.params.Params,
	}
	if a.rest != nil {
		deps.Hangup = a.rest
	}

	streamURL := ""
	if cfg.Server.PublicHost != "" {
		streamURL = "wss://" + cfg.Server.PublicHost + "/twilio/stream"
	}
	a.handler = call.NewHandler(deps, streamURL, cfg.Carrier.SMSFrom)

	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initCarrier builds the REST client from config with environment fallbacks.
// Missing credentials disable hangup and SMS rather than failing startup, so
// the server still answers calls in development.
func (a *App) initCarrier() error {
	sid := a.cfg.Carrier.AccountSID
	if sid == "" {
		sid = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	token := a.cfg.Carrier.AuthToken
	if token == "" {
		token = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if sid == "" || token == "" {
		slog.Warn("carrier credentials missing; hangup and location SMS disabled")
		return nil
	}

	var opts []carrier.Option
	if a.cfg.Carrier.BaseURL != "" {
		opts = append(opts, carrier.WithBaseURL(a.cfg.Carrier.BaseURL))
	}
	rest, err := carrier.NewRestClient(sid, token, opts...)
	if err != nil {
		return err
	}
	a.rest = rest
	return nil
}

// thresholds maps the live analytics parameters onto recorder thresholds.
func (a *App) thresholds() analytics.Thresholds {
	p := a.params.Params()
	return analytics.Thresholds{
		Confidence:     p.Analytics.ConfidenceThreshold,
		SlowResponseMs: p.Analytics.SlowResponseThresholdMs,
		Echo:           p.Analytics.EchoSimilarityThreshold,
		Repeat:         p.Analytics.RepeatSimilarityThreshold,
	}
}

// Params exposes the live parameter store, mainly for tests.
func (a *App) Params() *config.ParamStore { return a.params }

// Handler returns the fully routed HTTP handler. Used by tests to drive the
// server through httptest without binding a port.
func (a *App) Handler() http.Handler { return a.srv.Handler }

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", a.cfg.Server.ListenAddr)
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if cerr := a.Shutdown(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Shutdown tears down subsystems in order. Safe to call more than once.
func (a *App) Shutdown() error {
	var firstErr error
	a.stopOnce.Do(func() {
		for i, closer := range a.closers {
			if err := closer(); err != nil {
				slog.Warn("closer failed", "index", i, "err", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	})
	return firstErr
}
