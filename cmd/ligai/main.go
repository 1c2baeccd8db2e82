// Command ligai runs the outbound voice agent: an AudioSocket server for
// call audio, an AMI client for origination, the conversation pipeline and
// the dashboard API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ligai-voice/ligai/src/ami"
	"github.com/ligai-voice/ligai/src/api"
	"github.com/ligai-voice/ligai/src/audiosocket"
	"github.com/ligai-voice/ligai/src/config"
	"github.com/ligai-voice/ligai/src/logger"
	"github.com/ligai-voice/ligai/src/manager"
	"github.com/ligai-voice/ligai/src/services"
	"github.com/ligai-voice/ligai/src/services/gemini"
	"github.com/ligai-voice/ligai/src/services/groq"
	"github.com/ligai-voice/ligai/src/services/murf"
	"github.com/ligai-voice/ligai/src/services/openrouter"
	"github.com/ligai-voice/ligai/src/store"
)

func main() {
	logger.Init()
	log := logger.WithPrefix("Main")

	cfg, err := config.Load()
	if err != nil {
		log.Error("configuration: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence. Without DATABASE_URL calls are kept in memory only.
	var st store.Store
	if cfg.DB.DSN != "" {
		pg, err := store.NewPostgres(ctx, cfg.DB.DSN)
		if err != nil {
			log.Error("database: %v", err)
			os.Exit(1)
		}
		st = pg
	} else {
		log.Warn("DATABASE_URL not set, call history will not survive restarts")
		st = store.NewMemory()
	}
	defer st.Close()

	// Speech pipeline.
	stt := groq.New(cfg.Groq.APIKey)
	var llm services.Conversationalist
	switch cfg.AI.Provider {
	case "gemini":
		llm, err = gemini.New(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			log.Error("gemini: %v", err)
			os.Exit(1)
		}
		log.Info("conversation provider: gemini (%s)", cfg.Gemini.Model)
	default:
		llm = openrouter.New(cfg.OpenRouter.APIKey, cfg.OpenRouter.Model)
		log.Info("conversation provider: openrouter (%s)", cfg.OpenRouter.Model)
	}
	tts := murf.New(murf.Config{
		APIKey:  cfg.Murf.APIKey,
		VoiceID: cfg.Murf.VoiceID,
		Style:   cfg.Murf.Style,
		Model:   cfg.Murf.Model,
	})

	// Switch link. A failed first connect is not fatal: origination is
	// rejected until the link is up, inbound audio still works.
	amiClient := ami.NewClient(ami.Config{
		Host:     cfg.AMI.Host,
		Port:     cfg.AMI.Port,
		Username: cfg.AMI.Username,
		Password: cfg.AMI.Password,
	})
	if err := amiClient.Connect(ctx); err != nil {
		log.Warn("AMI connect failed (%v), origination disabled until reachable", err)
	}
	go func() {
		for ev := range amiClient.Events() {
			log.Debug("AMI event %s", ev.Name)
		}
	}()

	// Audio transport.
	sockets := audiosocket.NewServer(audiosocket.Config{
		Host: cfg.AudioSocket.Host,
		Port: cfg.AudioSocket.Port,
	})
	if err := sockets.Start(); err != nil {
		log.Error("audiosocket: %v", err)
		os.Exit(1)
	}

	// Dashboard surface.
	auth, err := api.NewAuth(cfg.API.JWTSecret, cfg.API.AdminUser, cfg.API.AdminPassword)
	if err != nil {
		log.Error("auth: %v", err)
		os.Exit(1)
	}
	hub := api.NewHub(auth)
	go hub.Run()

	mgr := manager.New(manager.Config{
		GreetingPath:  cfg.Media.GreetingPath,
		RecordingsDir: cfg.Media.RecordingsDir,
	}, sockets, amiClient, st, stt, llm, tts, hub)
	go mgr.Run(ctx)

	srv := api.NewServer(cfg.API.Port, auth, hub, st, mgr, amiClient)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error("api: %v", err)
			cancel()
		}
	}()

	log.Info("ligai up: audiosocket :%d, api :%d", cfg.AudioSocket.Port, cfg.API.Port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info("received %s, shutting down", s)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown: %v", err)
	}
	sockets.Stop()
	amiClient.Disconnect()
	cancel()

	log.Info("goodbye")
}
