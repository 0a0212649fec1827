// Command voxprep is the main entry point for the voxprep mock-interview
// voice engine server.
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
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxprep/voxprep/internal/config"
	"github.com/voxprep/voxprep/internal/health"
	"github.com/voxprep/voxprep/internal/httpserver"
	"github.com/voxprep/voxprep/internal/interview/pipeline"
	"github.com/voxprep/voxprep/internal/observe"
	"github.com/voxprep/voxprep/internal/resilience"
	"github.com/voxprep/voxprep/internal/session"
	"github.com/voxprep/voxprep/internal/speechctl"
	"github.com/voxprep/voxprep/internal/store"
	"github.com/voxprep/voxprep/pkg/provider/speech"
	"github.com/voxprep/voxprep/pkg/provider/speech/coqui"
	"github.com/voxprep/voxprep/pkg/provider/speech/deepgram"
	"github.com/voxprep/voxprep/pkg/provider/speech/elevenlabs"
	"github.com/voxprep/voxprep/pkg/provider/textgen"
	"github.com/voxprep/voxprep/pkg/provider/textgen/anyllm"
	oatextgen "github.com/voxprep/voxprep/pkg/provider/textgen/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxprep: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxprep: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxprep starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxprep"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if providers.textGen == nil {
		slog.Error("no text generation provider configured — set providers.textgen in the config")
		return 1
	}

	// ── Record store (optional) ───────────────────────────────────────────────
	var (
		recordStore store.Store
		checkers    []health.Checker
	)
	checkers = append(checkers, textGenChecker(providers.textGen))
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to create postgres pool", "err", err)
			return 1
		}
		defer pool.Close()

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate store schema", "err", err)
			return 1
		}
		recordStore = pg
		checkers = append(checkers, health.Checker{Name: "database", Check: pool.Ping})
		slog.Info("record store ready")
	} else {
		slog.Warn("no postgres_dsn configured — profiles and summaries will not be persisted")
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	// ── HTTP server ───────────────────────────────────────────────────────────
	srvCfg := httpserver.Config{ListenAddr: cfg.Server.ListenAddr}
	if cfg.Server.TLS != nil {
		srvCfg.TLSCertFile = cfg.Server.TLS.CertFile
		srvCfg.TLSKeyFile = cfg.Server.TLS.KeyFile
	}

	server, err := httpserver.New(srvCfg, httpserver.Deps{
		Provider:        providers.textGen,
		Recognizer:      providers.recognizer,
		Synthesizer:     providers.synthesizer,
		Store:           recordStore,
		RecentSummaries: cfg.Store.RecentSummaries,
		SessionConfig:   session.Config{SessionLength: cfg.Interview.SessionLength},
		SpeechConfig:    speechControllerConfig(cfg.Speech),
		PipelineOptions: pipelineOptions(cfg.Interview),
		Checkers:        checkers,
	}, httpserver.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Log level changes apply immediately; interview and speech tunables apply
	// to sessions started after the reload. Provider and server topology
	// changes still require a restart.
	watcher, err := config.NewWatcher(*configPath, func(oldCfg, newCfg *config.Config) {
		d := config.Diff(oldCfg, newCfg)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.InterviewChanged || d.SpeechChanged {
			server.UpdateTunables(
				session.Config{SessionLength: newCfg.Interview.SessionLength},
				speechControllerConfig(newCfg.Speech),
				pipelineOptions(newCfg.Interview),
			)
			slog.Info("interview and speech tunables updated for new sessions")
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with voxprep. Used for startup logging.
var builtinProviders = map[string][]string{
	"textgen":     {"openai", "anthropic", "gemini", "groq", "ollama"},
	"recognizer":  {"deepgram"},
	"synthesizer": {"elevenlabs", "coqui"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── TextGen ───────────────────────────────────────────────────────────────

	// openai uses the official SDK for structured JSON-mode output.
	reg.RegisterTextGen("openai", func(entry config.ProviderEntry) (textgen.Provider, error) {
		var opts []oatextgen.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatextgen.WithBaseURL(entry.BaseURL))
		}
		return oatextgen.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, and groq share the same pattern: optional APIKey +
	// optional BaseURL through the any-llm backend.
	for _, providerName := range []string{"anthropic", "gemini", "groq"} {
		reg.RegisterTextGen(providerName, func(entry config.ProviderEntry) (textgen.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterTextGen("ollama", func(entry config.ProviderEntry) (textgen.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── Recognizer ────────────────────────────────────────────────────────────

	reg.RegisterRecognizer("deepgram", func(entry config.ProviderEntry) (speech.Recognizer, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── Synthesizer ───────────────────────────────────────────────────────────

	reg.RegisterSynthesizer("elevenlabs", func(entry config.ProviderEntry) (speech.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterSynthesizer("coqui", func(entry config.ProviderEntry) (speech.Synthesizer, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// providers holds the instantiated external backends.
type providers struct {
	textGen     textgen.Provider
	recognizer  speech.Recognizer
	synthesizer speech.Synthesizer
}

// buildProviders instantiates all providers named in cfg using the registry.
// Configured fallbacks are wrapped around their primary with per-provider
// circuit breakers.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providers, error) {
	ps := &providers{}

	if name := cfg.Providers.TextGen.Name; name != "" {
		p, err := reg.CreateTextGen(cfg.Providers.TextGen)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "textgen", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create textgen provider %q: %w", name, err)
		} else {
			ps.textGen = p
			slog.Info("provider created", "kind", "textgen", "name", name)
		}
	}

	if name := cfg.Providers.TextGenFallback.Name; name != "" && ps.textGen != nil {
		p, err := reg.CreateTextGen(cfg.Providers.TextGenFallback)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "textgen_fallback", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create textgen fallback %q: %w", name, err)
		} else {
			group := resilience.NewTextGenFallback(ps.textGen, cfg.Providers.TextGen.Name, resilience.FallbackConfig{})
			group.AddFallback(name, p)
			ps.textGen = group
			slog.Info("provider created", "kind", "textgen_fallback", "name", name)
		}
	}

	if name := cfg.Providers.Recognizer.Name; name != "" {
		p, err := reg.CreateRecognizer(cfg.Providers.Recognizer)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "recognizer", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create recognizer %q: %w", name, err)
		} else {
			ps.recognizer = p
			slog.Info("provider created", "kind", "recognizer", "name", name)
		}
	}

	if name := cfg.Providers.Synthesizer.Name; name != "" {
		p, err := reg.CreateSynthesizer(cfg.Providers.Synthesizer)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "synthesizer", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create synthesizer %q: %w", name, err)
		} else {
			ps.synthesizer = p
			slog.Info("provider created", "kind", "synthesizer", "name", name)
		}
	}

	if name := cfg.Providers.SynthesizerFallback.Name; name != "" && ps.synthesizer != nil {
		p, err := reg.CreateSynthesizer(cfg.Providers.SynthesizerFallback)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "synthesizer_fallback", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create synthesizer fallback %q: %w", name, err)
		} else {
			group := resilience.NewSynthFallback(ps.synthesizer, cfg.Providers.Synthesizer.Name, resilience.FallbackConfig{})
			group.AddFallback(name, p)
			ps.synthesizer = group
			slog.Info("provider created", "kind", "synthesizer_fallback", "name", name)
		}
	}

	return ps, nil
}

// textGenChecker reports the text generation path unhealthy when every
// breaker in a fallback group is open. A bare provider is always considered
// ready; its first failing call degrades to stage fallbacks, not to downtime.
func textGenChecker(p textgen.Provider) health.Checker {
	return health.Checker{
		Name: "textgen",
		Check: func(context.Context) error {
			group, ok := p.(*resilience.TextGenFallback)
			if !ok {
				return nil
			}
			for _, state := range group.States() {
				if state != resilience.StateOpen {
					return nil
				}
			}
			return errors.New("all textgen circuit breakers are open")
		},
	}
}

// ── Config plumbing ───────────────────────────────────────────────────────────

// speechControllerConfig converts the YAML speech block into the controller's
// config. Zero values pass through and take the controller defaults.
func speechControllerConfig(sc config.SpeechConfig) speechctl.Config {
	return speechctl.Config{
		Language:           sc.Language,
		Voice:              speech.VoiceOptions{Voice: sc.Voice},
		DebounceWindow:     millis(sc.DebounceMS),
		QuietDelay:         millis(sc.QuietDelayMS),
		QuietDelayShort:    millis(sc.QuietDelayShortMS),
		RestartMaxAttempts: sc.RestartMaxAttempts,
		RestartDelay:       millis(sc.RestartDelayMS),
		ChunkMaxChars:      sc.ChunkMaxChars,
	}
}

// pipelineOptions converts the YAML interview block into pipeline options.
func pipelineOptions(ic config.InterviewConfig) []pipeline.Option {
	var opts []pipeline.Option
	if ic.FollowUpScoreThreshold > 0 || ic.FollowUpMinAnswerChars > 0 {
		opts = append(opts, pipeline.WithFollowUpThresholds(ic.FollowUpScoreThreshold, ic.FollowUpMinAnswerChars))
	}
	if ic.FollowUpProbability > 0 {
		opts = append(opts, pipeline.WithFollowUpProbability(ic.FollowUpProbability))
	}
	return opts
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxprep — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("TextGen", cfg.Providers.TextGen.Name, cfg.Providers.TextGen.Model)
	printProvider("TextGen FB", cfg.Providers.TextGenFallback.Name, cfg.Providers.TextGenFallback.Model)
	printProvider("Recognizer", cfg.Providers.Recognizer.Name, cfg.Providers.Recognizer.Model)
	printProvider("Synthesizer", cfg.Providers.Synthesizer.Name, cfg.Providers.Synthesizer.Model)
	printProvider("Synth FB", cfg.Providers.SynthesizerFallback.Name, cfg.Providers.SynthesizerFallback.Model)
	if cfg.Store.PostgresDSN != "" {
		fmt.Printf("║  Store           : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Store           : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger around a LevelVar so the config
// watcher can change verbosity without recreating the handler.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
