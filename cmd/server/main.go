package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/huddlelabs/huddle/internal/adapters/http"
	"github.com/huddlelabs/huddle/internal/adapters/rtc"
	signaladapter "github.com/huddlelabs/huddle/internal/adapters/signal"
	"github.com/huddlelabs/huddle/internal/app"
	"github.com/huddlelabs/huddle/internal/app/coord"
	"github.com/huddlelabs/huddle/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	engine := rtc.NewEngine(rtc.Config{STUNURLs: cfg.STUNURLs})
	store := app.NewStore(engine, rtc.DefaultCodecs())
	co := coord.New(store, signaladapter.Pusher{}, app.KickSlowPeers{}, cfg.EngineCallTimeout)
	ctl := signaladapter.NewController(cfg, co)

	r := router.SetupRouter(ctx, cfg, ctl, store.Rooms)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Huddle server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
