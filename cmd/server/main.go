package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/adapter/driven/media/devices"
	"github.com/Wyydra/yacall/internal/adapter/driven/media/pion"
	"github.com/Wyydra/yacall/internal/adapter/driven/presence/memory"
	handler "github.com/Wyydra/yacall/internal/adapter/driving/http"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "yacall.json", "path to the config file")
	flag.Parse()

	cfg, created, err := config.Ensure(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load config")
	}

	setupLogging(cfg.Log)
	if created {
		log.Info().Str("path", *configPath).Msg("Wrote default config")
	}

	selector, err := devices.NewCodecSelector(cfg.Media.VideoBitRate)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build codec selector")
	}
	factory, err := pion.NewFactory(pion.WithMediaEngineSetup(devices.MediaEngineSetup(selector)))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build peer connection factory")
	}

	header := http.Header{}
	if cfg.Signaling.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Signaling.Token)
	}
	signalingClient := ws.NewClient(ws.Config{
		URL:        cfg.Signaling.URL,
		Header:     header,
		MinBackoff: cfg.Signaling.MinBackoff(),
		MaxBackoff: cfg.Signaling.MaxBackoff(),
	})

	contacts := make([]domain.UserID, 0, len(cfg.Identity.Contacts))
	for _, c := range cfg.Identity.Contacts {
		contacts = append(contacts, domain.UserID(c))
	}
	directory := memory.NewDirectory(contacts...)

	mediaService := service.NewMediaService(devices.New(selector), service.MediaConfig{
		AudioDeviceID: cfg.Media.PreferredMic,
		VideoDeviceID: cfg.Media.PreferredCam,
		Width:         cfg.Media.Width,
		Height:        cfg.Media.Height,
		FrameRate:     cfg.Media.FrameRate,
		SampleRate:    cfg.Media.SampleRate,
	})
	connector := service.NewConnector(factory, iceConfig(cfg.ICE))
	notices := service.NewNoticeService()

	callService := service.NewCallService(service.Config{
		Self: domain.Participant{
			ID:          domain.UserID(cfg.Identity.UserID),
			DisplayName: cfg.Identity.DisplayName,
			Avatar:      cfg.Identity.Avatar,
		},
		NoAnswerTimeout:   cfg.Call.NoAnswerTimeout(),
		TrackPollInterval: cfg.Call.TrackPollInterval(),
		SendTimeout:       cfg.Call.SendTimeout(),
	}, signalingClient, directory, mediaService, connector, notices)

	h := handler.NewHandler(callService, notices, cfg.HTTP.StaticDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	presence, unsubscribe := signalingClient.Subscribe()
	go directory.Follow(ctx, presence)
	go notices.Run()
	go signalingClient.Run(ctx)
	go callService.Run()

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: h.NewRouter(),
	}

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// The engine hangs up over signaling, so it stops first.
	callService.Stop()
	unsubscribe()
	signalingClient.Stop()
	notices.Stop()
	log.Info().Msg("Server exited")
}

func setupLogging(cfg config.Log) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Console {
		w := zerolog.ConsoleWriter{Out: os.Stdout}
		log.Logger = zerolog.New(w).With().Timestamp().Caller().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
}

func iceConfig(cfg config.ICE) service.ICEConfig {
	turn := make([]domain.ICEServer, 0, len(cfg.TURN))
	for _, t := range cfg.TURN {
		turn = append(turn, domain.ICEServer{URLs: t.URLs, Username: t.Username, Credential: t.Credential})
	}
	return service.ICEConfig{
		STUN:          cfg.STUN,
		TURN:          turn,
		CandidatePool: uint8(cfg.CandidatePool),
		RelayOnly:     cfg.RelayOnly,
	}
}
