package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	httpapi "github.com/novcord/server/internal/adapters/http"
	"github.com/novcord/server/internal/adapters/tcp"
	"github.com/novcord/server/internal/app"
	"github.com/novcord/server/internal/config"
	"github.com/novcord/server/internal/voice"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	relay, err := voice.Bind(cfg.VoiceAddr(), cfg.ReadBuffer)
	if err != nil {
		log.Fatal().Err(err).Msg("voice relay bind failed")
	}

	reg := app.NewRegistry()
	dispatch := app.NewDispatcher(reg)

	mux := app.NewMux()
	voiceCmds := &app.VoiceCommands{Voice: relay, Dispatch: dispatch}
	voiceCmds.RegisterOn(mux)
	// Business-logic actions (auth, messaging, storage) plug in here:
	// mux.SetFallback(yourProcessor)

	server, err := tcp.Listen(cfg.ControlAddr(), reg, dispatch, mux, relay)
	if err != nil {
		log.Fatal().Err(err).Msg("control channel bind failed")
	}

	router := httpapi.SetupRouter(cfg, reg, relay)
	statusSrv := &http.Server{Addr: cfg.HTTPAddr(), Handler: router}

	go relay.Serve(ctx)
	go server.Serve(ctx)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("status API started")
		if err := statusSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("status API error")
		}
	}()

	log.Info().Str("control", cfg.ControlAddr()).Str("voice", cfg.VoiceAddr()).Msg("NovCord core started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := statusSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status API forced to shutdown")
	}
	_ = server.Close()
	_ = relay.Close()
	log.Info().Msg("Server exited gracefully")
}
