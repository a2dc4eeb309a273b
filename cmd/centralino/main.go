// Command centralino is the phone-agent server: it answers carrier media
// streams, runs the transcribe/reply/synthesize turn pipeline, and serves
// the operator dashboard and APIs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/centralino-ai/centralino/internal/app"
	"github.com/centralino-ai/centralino/internal/config"
	"github.com/centralino-ai/centralino/internal/observe"
	"github.com/centralino-ai/centralino/internal/resilience"
	"github.com/centralino-ai/centralino/pkg/provider/llm"
	"github.com/centralino-ai/centralino/pkg/provider/llm/anyllm"
	oallm "github.com/centralino-ai/centralino/pkg/provider/llm/openai"
	"github.com/centralino-ai/centralino/pkg/provider/stt"
	"github.com/centralino-ai/centralino/pkg/provider/stt/whisperapi"
	"github.com/centralino-ai/centralino/pkg/provider/tts"
	"github.com/centralino-ai/centralino/pkg/provider/tts/elevenlabs"
	"github.com/centralino-ai/centralino/pkg/provider/tts/openaispeech"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// .env first, so config env fallbacks see the values.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "centralino: load .env: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "centralino: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "centralino: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("centralino starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "centralino",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// Hot reload: only the log level applies live. Everything else is
	// surfaced so the operator knows a restart is needed.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			slog.SetDefault(newLogger(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.ProvidersChanged || d.CarrierChanged || d.PathsChanged {
			slog.Warn("static config changed on disk, restart to apply",
				"providers", d.ProvidersChanged,
				"carrier", d.CarrierChanged,
				"paths", d.PathsChanged,
			)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// version is stamped by the build; "dev" for local builds.
var version = "dev"

// registerBuiltinProviders wires the provider factories that ship with
// Centralino into reg. Each factory receives a config.ProviderEntry and
// falls back to the provider's conventional environment variable when the
// entry carries no key.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("whisper-api", func(entry config.ProviderEntry) (stt.Provider, error) {
		key := entry.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		var opts []whisperapi.Option
		if entry.BaseURL != "" {
			opts = append(opts, whisperapi.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, whisperapi.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisperapi.WithLanguage(lang))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, whisperapi.WithPrompt(prompt))
		}
		return whisperapi.New(key, opts...)
	})

	reg.RegisterLLM("anthropic", func(entry config.ProviderEntry) (llm.Provider, error) {
		model := entry.Model
		if model == "" {
			model = config.DefaultParams().LLM.Model
		}
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewAnthropic(model, opts...)
	})

	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		if entry.Model == "" {
			return nil, fmt.Errorf("llm provider %q requires a model", entry.Name)
		}
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		key := entry.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		model := entry.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(key, model, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		key := entry.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		var opts []openaispeech.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaispeech.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, openaispeech.WithModel(entry.Model))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, openaispeech.WithVoice(voice))
		}
		return openaispeech.New(key, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		key := entry.APIKey
		if key == "" {
			key = os.Getenv("ELEVENLABS_API_KEY")
		}
		var opts []elevenlabs.Option
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		return elevenlabs.New(key, opts...)
	})
}

// buildProviders instantiates the three pipeline providers named in cfg.
// All three are required; the turn pipeline cannot degrade past a missing
// stage. Entries with fallbacks are wrapped in circuit-breaker failover.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	sttPrimary, err := createStage(cfg.Providers.STT, "stt", reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	ps.STT = sttPrimary
	if len(cfg.Providers.STT.Fallbacks) > 0 {
		group := resilience.NewSTTFallback(sttPrimary, cfg.Providers.STT.Name, resilience.FallbackConfig{})
		for _, fb := range cfg.Providers.STT.Fallbacks {
			p, err := createStage(fb, "stt fallback", reg.CreateSTT)
			if err != nil {
				return nil, err
			}
			group.AddFallback(fb.Name, p)
		}
		ps.STT = group
	}

	llmPrimary, err := createStage(cfg.Providers.LLM, "llm", reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	ps.LLM = llmPrimary
	if len(cfg.Providers.LLM.Fallbacks) > 0 {
		group := resilience.NewLLMFallback(llmPrimary, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		for _, fb := range cfg.Providers.LLM.Fallbacks {
			p, err := createStage(fb, "llm fallback", reg.CreateLLM)
			if err != nil {
				return nil, err
			}
			group.AddFallback(fb.Name, p)
		}
		ps.LLM = group
	}

	ttsPrimary, err := createStage(cfg.Providers.TTS, "tts", reg.CreateTTS)
	if err != nil {
		return nil, err
	}
	ps.TTS = ttsPrimary
	if len(cfg.Providers.TTS.Fallbacks) > 0 {
		group := resilience.NewTTSFallback(ttsPrimary, cfg.Providers.TTS.Name, resilience.FallbackConfig{})
		for _, fb := range cfg.Providers.TTS.Fallbacks {
			p, err := createStage(fb, "tts fallback", reg.CreateTTS)
			if err != nil {
				return nil, err
			}
			group.AddFallback(fb.Name, p)
		}
		ps.TTS = group
	}

	return ps, nil
}

// createStage resolves one provider entry through the registry with a
// uniform error shape.
func createStage[T any](entry config.ProviderEntry, kind string, create func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, fmt.Errorf("%s provider entry requires a name", kind)
	}
	p, err := create(entry)
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

func printStartupSummary(cfg *config.Config) {
	printProvider := func(kind string, entry config.ProviderEntry) {
		value := entry.Name
		if value == "" {
			value = "(not configured)"
		} else if entry.Model != "" {
			value = entry.Name + " / " + entry.Model
		}
		if n := len(entry.Fallbacks); n > 0 {
			value += fmt.Sprintf(" (+%d fallback)", n)
		}
		fmt.Printf("  %-12s %s\n", kind, value)
	}

	fmt.Println("centralino")
	printProvider("STT", cfg.Providers.STT)
	printProvider("LLM", cfg.Providers.LLM)
	printProvider("TTS", cfg.Providers.TTS)
	if cfg.Carrier.SMSFrom != "" {
		fmt.Printf("  %-12s %s\n", "SMS from", cfg.Carrier.SMSFrom)
	}
	fmt.Printf("  %-12s %s\n", "Listen", cfg.Server.ListenAddr)
	if cfg.Server.PublicHost != "" {
		fmt.Printf("  %-12s wss://%s/twilio/stream\n", "Stream", cfg.Server.PublicHost)
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
