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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/VoiceRelay/internal/adapters/http"
	signaladapter "github.com/dkeye/VoiceRelay/internal/adapters/signal"
	"github.com/dkeye/VoiceRelay/internal/app"
	"github.com/dkeye/VoiceRelay/internal/config"
	"github.com/dkeye/VoiceRelay/internal/metrics"
	"github.com/dkeye/VoiceRelay/internal/token"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	store := app.NewRoomStore()
	reg := app.NewRegistry()
	m := metrics.New(store.Stats)
	engine := app.NewEngine(store, reg, app.Options{
		HistorySnapshot: cfg.Rooms.HistorySnapshot,
		MicSlots:        cfg.Rooms.MicSlots,
		MaxMessageLen:   cfg.Rooms.MaxMessageLen,
		Policy:          app.SimplePolicy{Kick: cfg.Rooms.KickSlow},
		OnDropped:       m.Dropped,
	})

	limiter := signaladapter.NewConnRateLimiter(cfg.Rate.EventsPerSecond, cfg.Rate.Burst)
	ctl := signaladapter.NewSignalWSController(engine, m, limiter, signaladapter.Options{
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		PongWait:       cfg.PongWait,
		SendBuffer:     cfg.SendBuffer,
		AllowedOrigins: cfg.CORSOrigins,
	})

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Engine:  engine,
		Metrics: m,
		Signal:  ctl,
		Agora:   token.NewAgora(cfg.Agora.AppID, cfg.Agora.AppCertificate, cfg.Agora.TokenTTL),
		TRTC:    token.NewTRTC(cfg.TRTC.SDKAppID, cfg.TRTC.SecretKey, cfg.TRTC.Expire),
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           router.WithCORS(cfg.CORSOrigins, r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Voice relay started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogger(cfg *config.Config) {
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
