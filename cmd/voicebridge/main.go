package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mkoren-dev/voicebridge/internal/config"
	"github.com/mkoren-dev/voicebridge/internal/httpapi"
	"github.com/mkoren-dev/voicebridge/internal/memory"
	"github.com/mkoren-dev/voicebridge/internal/observability"
	"github.com/mkoren-dev/voicebridge/internal/profile"
	"github.com/mkoren-dev/voicebridge/internal/session"
	"github.com/mkoren-dev/voicebridge/internal/tools"
	"github.com/mkoren-dev/voicebridge/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.UpstreamAPIKey == "" {
		log.Printf("warning: UPSTREAM_API_KEY is not set, upstream dials will fail")
	}

	log.Printf("starting %s v%s", cfg.ServiceName, cfg.ServiceVersion)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	archive, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("memory store init failed: %v", err)
	}
	defer archive.Close()

	profiles := profile.NewClient(profile.ClientConfig{
		DNAEngineURL:    cfg.DNAEngineURL,
		MemoryEngineURL: cfg.MemoryEngineURL,
		OrchestratorURL: cfg.OrchestratorURL,
	}, archive)

	dispatcher := tools.NewDispatcher(tools.DispatcherConfig{
		OrchestratorURL: cfg.OrchestratorURL,
		MemoryEngineURL: cfg.MemoryEngineURL,
		DNAEngineURL:    cfg.DNAEngineURL,
	}, metrics)

	dialer := upstream.NewWSDialer(upstream.WSDialerConfig{
		URL:    cfg.UpstreamWSURL,
		APIKey: cfg.UpstreamAPIKey,
	})

	sessions := session.NewManager(session.ManagerConfig{
		Dialer:   dialer,
		Executor: dispatcher,
		Context:  profiles,
		Archive:  archive,
		Metrics:  metrics,
		Defaults: session.Defaults{
			Voice:       cfg.UpstreamVoice,
			Language:    cfg.DefaultLanguage,
			AudioFormat: cfg.UpstreamAudioFormat,
			SampleRate:  cfg.UpstreamSampleRate,
			VAD: upstream.VADParams{
				Threshold:         cfg.VADThreshold,
				PrefixPaddingMS:   cfg.VADPrefixPaddingMS,
				SilenceDurationMS: cfg.VADSilenceDurationMS,
			},
		},
		MaxSessions: cfg.MaxConcurrentSessions,
		IdleTimeout: cfg.SessionIdleTimeout,
	})

	api := httpapi.New(cfg, sessions, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartEvictionLoop(runCtx, cfg.EvictionInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	sessions.CloseAll("server shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
