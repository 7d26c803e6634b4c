package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AltairaLabs/VoiceRelay/pkg/config"
	"github.com/AltairaLabs/VoiceRelay/runtime/audio"
	"github.com/AltairaLabs/VoiceRelay/runtime/events"
	"github.com/AltairaLabs/VoiceRelay/runtime/logger"
	"github.com/AltairaLabs/VoiceRelay/runtime/metrics/prometheus"
	"github.com/AltairaLabs/VoiceRelay/runtime/providers"
	_ "github.com/AltairaLabs/VoiceRelay/runtime/providers/all"
	"github.com/AltairaLabs/VoiceRelay/runtime/session"
	"github.com/AltairaLabs/VoiceRelay/runtime/stt"
	"github.com/AltairaLabs/VoiceRelay/runtime/telemetry"
	"github.com/AltairaLabs/VoiceRelay/runtime/tts"
	"github.com/AltairaLabs/VoiceRelay/runtime/version"
	"github.com/AltairaLabs/VoiceRelay/server"
)

// relay is the assembled process: providers, session manager and HTTP server.
type relay struct {
	cfg       *config.Config
	bus       *events.EventBus
	generator providers.Generator
	tracer    *sdktrace.TracerProvider
	manager   *session.Manager
	server    *server.Server
}

// newRelay wires every component from cfg. The caller owns the result and
// must call shutdown.
func newRelay(ctx context.Context, cfg *config.Config) (*relay, error) {
	r := &relay{cfg: cfg, bus: events.NewEventBus()}

	var serverOpts []server.Option
	if cfg.Metrics.Enabled {
		r.bus.SubscribeAll(prometheus.NewMetricsListener().Listener())
		exporter := prometheus.NewExporter("", cfg.Metrics.Path)
		serverOpts = append(serverOpts, server.WithMetricsHandler(exporter.Path(), exporter.Handler()))
	}

	var spans session.SpanStarter
	if cfg.Tracing.Enabled {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Tracing)
		if err != nil {
			r.bus.Close()
			return nil, err
		}
		telemetry.SetupPropagation()
		r.tracer = tp
		listener := telemetry.NewOTelEventListener(telemetry.Tracer(tp))
		r.bus.SubscribeAll(listener.OnEvent)
		spans = listener
	}

	recognizer := stt.NewDeepgram(cfg.Recognizer.APIKey,
		stt.WithDeepgramURL(cfg.Recognizer.URL),
		stt.WithKeepAliveInterval(cfg.Recognizer.KeepAliveInterval),
		stt.WithDecodeErrorHandler(func(err error) {
			logger.Warn("Dropped malformed recognizer message", "error", err)
			prometheus.RecordMalformedMessage("recognizer")
		}),
	)

	generator, err := providers.CreateGeneratorFromSpec(generatorSpec(cfg.Generator))
	if err != nil {
		_ = r.closeTelemetry(ctx)
		return nil, err
	}
	r.generator = generator

	synthURL, err := cfg.Synthesizer.SynthesizerURL()
	if err != nil {
		_ = r.closeTelemetry(ctx)
		_ = generator.Close()
		return nil, err
	}
	synthesizer := tts.NewKyutai(cfg.Synthesizer.APIKey,
		tts.WithKyutaiURL(synthURL),
		tts.WithKyutaiSampleRate(cfg.Synthesizer.SampleRate),
		tts.WithKyutaiDecodeErrorHandler(func(err error) {
			logger.Warn("Dropped malformed synthesizer message", "error", err)
			prometheus.RecordMalformedMessage("synthesizer")
		}),
	)

	r.manager = session.NewManager(session.ManagerConfig{
		MaxSessions: cfg.Server.MaxSessions,
		Session:     sessionConfig(cfg),
		Recognizer:  recognizer,
		Generator:   generator,
		Synthesizer: synthesizer,
		Bus:         r.bus,
		Tracer:      spans,
	})

	serverOpts = append(serverOpts,
		server.WithAddr(net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))),
		server.WithPublicURL(cfg.Server.PublicURL),
		server.WithStreamPath(cfg.Server.StreamPath),
	)
	r.server = server.New(r.manager, serverOpts...)
	return r, nil
}

func generatorSpec(g config.GeneratorConfig) providers.GeneratorSpec {
	spec := providers.GeneratorSpec{
		ID:      g.Provider,
		Type:    g.Provider,
		Model:   g.Model,
		BaseURL: g.BaseURL,
		APIKey:  g.APIKey,
		Timeout: g.Timeout,
		Defaults: providers.Defaults{
			Temperature: float32(g.Temperature),
			MaxTokens:   g.MaxTokens,
		},
	}
	if g.MockFile != "" {
		spec.AdditionalConfig = map[string]any{"file": g.MockFile}
	}
	return spec
}

// sessionConfig maps the process configuration onto per-call settings.
func sessionConfig(cfg *config.Config) session.Config {
	sc := session.DefaultConfig()

	sc.Recognition.Model = cfg.Recognizer.Model
	sc.Recognition.Language = cfg.Recognizer.Language
	sc.Recognition.Endpointing = cfg.Recognizer.Endpointing
	sc.Recognition.InterimResults = cfg.Recognizer.InterimResults
	sc.Recognition.SmartFormat = cfg.Recognizer.SmartFormat

	sc.SystemPrompt = cfg.Generator.SystemPrompt
	sc.GenerationTimeout = cfg.Generator.Timeout

	sc.Speaker.Voice = cfg.Synthesizer.Voice
	sc.Speaker.WordByWord = cfg.Synthesizer.WordByWord
	sc.Speaker.FirstAudioTimeout = cfg.Synthesizer.FirstAudioTimeout
	sc.Speaker.Timeout = cfg.Synthesizer.Timeout
	sc.Speaker.Mark = cfg.Telephony.MarkReplies
	sc.Speaker.Pacer.FrameSize = cfg.Telephony.FrameSize
	sc.Speaker.Pacer.FrameDuration = cfg.Telephony.FrameDuration
	sc.Speaker.Pacer.Pad = audio.MulawSilence
	if cfg.Telephony.CallerActivity {
		params := audio.DefaultActivityParams()
		sc.Activity = &params
	}

	sc.BusyPolicy = session.BusyPolicy(cfg.Turn.BusyPolicy)
	sc.IdleTimeout = cfg.Turn.IdleTimeout
	if cfg.Transcript.Enabled {
		sc.TranscriptDir = cfg.Transcript.Dir
	}
	return sc
}

// run serves on ln until ctx is done, then drains calls within the
// configured shutdown timeout.
func (r *relay) run(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- r.server.Serve(ln) }()

	attrs := append(version.Get().LogAttrs(),
		"public_url", r.cfg.Server.PublicURL,
		"generator", r.generator.ID(),
		"max_sessions", r.cfg.Server.MaxSessions)
	logger.Info("Relay ready", attrs...)

	var serveErr error
	select {
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	case <-ctx.Done():
		logger.Info("Shutting down", "active_sessions", r.manager.Active())
	}

	shutdownErr := r.shutdown()
	return errors.Join(serveErr, shutdownErr)
}

// shutdown stops the server, ends every call and flushes telemetry.
func (r *relay) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Server.ShutdownTimeout)
	defer cancel()

	err := r.server.Shutdown(ctx)
	if closeErr := r.generator.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return errors.Join(err, r.closeTelemetry(ctx))
}

func (r *relay) closeTelemetry(ctx context.Context) error {
	r.bus.Close()
	if r.tracer == nil {
		return nil
	}
	return r.tracer.Shutdown(ctx)
}
