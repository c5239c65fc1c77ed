package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/adit-kulkarni/languagepal-speech/internal/config"
	"github.com/adit-kulkarni/languagepal-speech/internal/gateway"
	"github.com/adit-kulkarni/languagepal-speech/internal/httpapi"
	"github.com/adit-kulkarni/languagepal-speech/internal/observability"
	"github.com/adit-kulkarni/languagepal-speech/internal/session"
	"github.com/adit-kulkarni/languagepal-speech/internal/synthesis"
)

// BackendInfo describes which speech backends were resolved at startup.
type BackendInfo struct {
	Backend   string
	Detail    string
	NativeSTT bool
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Cache    *synthesis.Cache
	Gateway  *gateway.Gateway
	Metrics  *observability.Metrics
	Backend  BackendInfo
}

// Build assembles the speech gateway: backends, synthesis cache,
// session manager, connection gateway and HTTP API. Background loops
// (cache sweep, session janitor) run until ctx is cancelled.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	setup, err := resolveBackends(cfg)
	if err != nil {
		return nil, err
	}
	// Handlers report the resolved backend, not the requested one.
	cfg.SpeechBackend = setup.resolvedBackend

	cache := synthesis.NewCache(setup.synthesizer, cfg.SynthesisCacheTTL, logger, metrics)
	cache.StartSweep(ctx, cfg.SynthesisCacheTTL/2)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})
	sessions.StartJanitor(ctx, cfg.SessionInactivityTimeout/2)

	gw := gateway.New(cfg, cache, setup.transcriber, setup.native, metrics)
	api := httpapi.New(cfg, sessions, gw, metrics)

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Cache:    cache,
		Gateway:  gw,
		Metrics:  metrics,
		Backend: BackendInfo{
			Backend:   setup.resolvedBackend,
			Detail:    setup.detail,
			NativeSTT: setup.native != nil,
		},
	}, nil
}
