package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Dispatch/internal/adapters/backend"
	router "github.com/dkeye/Dispatch/internal/adapters/http"
	"github.com/dkeye/Dispatch/internal/adapters/realtime"
	"github.com/dkeye/Dispatch/internal/adapters/rtc"
	"github.com/dkeye/Dispatch/internal/adapters/voice"
	"github.com/dkeye/Dispatch/internal/app"
	"github.com/dkeye/Dispatch/internal/auth"
	"github.com/dkeye/Dispatch/internal/config"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			loader.Watch(func(next *config.Config) {
				zerolog.SetGlobalLevel(next.Level())
			})
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	transport, err := realtime.NewTransport(cfg.ChannelURL, realtime.Options{
		PingPeriod:   cfg.PingPeriod,
		WriteTimeout: cfg.WriteTimeout,
		ReadLimit:    cfg.ReadLimit,
	})
	if err != nil {
		return err
	}

	operator := auth.NewProvider()
	rtcCfg := rtc.Config{ICEServers: cfg.ICEServers, SampleInterval: cfg.AudioSampleInterval}
	dash := app.New(ctx, app.Deps{
		Transport: transport,
		Backend:   backend.NewClient(cfg.APIBaseURL, backend.WithAuth(operator)),
		Voice: voice.NewClient(cfg.VoiceURL, voice.Options{
			APIKey:       cfg.VoiceAPIKey,
			WriteTimeout: cfg.WriteTimeout,
			Media:        voice.RTCMedia(rtcCfg),
		}),
		Auth: operator,
	}, app.Settings{
		AlertCapacity:      cfg.AlertCapacity,
		TranscriptCapacity: cfg.TranscriptCapacity,
		CacheMaxAge:        cfg.CacheMaxAge,
		NotifyBuffer:       cfg.NotifyBuffer,
	})
	dash.Start(ctx)
	defer dash.Close()

	r := router.SetupRouter(ctx, cfg, dash)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Dispatch server started")
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
	log.Info().Msg("Server exited gracefully")
	return nil
}
