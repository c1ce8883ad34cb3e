package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Chorus/internal/adapters/http"
	wssignal "github.com/dkeye/Chorus/internal/adapters/signal"
	"github.com/dkeye/Chorus/internal/app"
	"github.com/dkeye/Chorus/internal/app/orch"
	"github.com/dkeye/Chorus/internal/config"
	"github.com/dkeye/Chorus/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to open storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close storage")
		}
	}()

	voiceSwitch, _ := app.ParseVoiceSwitch(cfg.VoiceSwitch)
	o := orch.New(store, orch.Options{
		HistoryLimit:  cfg.HistoryLimit,
		MaxMessageLen: cfg.MaxMessageLen,
		VoiceSwitch:   voiceSwitch,
		Policy:        app.SimplePolicy{},
		Limiter:       app.NewRateLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Interval),
	})

	ctl := wssignal.NewSignalWSController(o, wssignal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})
	r := router.SetupRouter(ctx, cfg, o, store, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Chorus server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// Websockets are hijacked, so srv.Shutdown does not wait for them. The
	// store stays open until every Disconnect has run.
	o.Shutdown()
	if err := ctl.Wait(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("connections did not drain")
	}
	log.Info().Msg("Server exited gracefully")
}
