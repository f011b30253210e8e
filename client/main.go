package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"talkx/client/api"
	"talkx/client/connection"
	"talkx/client/eventloop"
	"talkx/client/store"
	"talkx/client/transport"
	"talkx/client/ui"
	"talkx/config"
)

func main() {
	configPath := flag.String("config", "", "config file (default ~/.talkx/client.toml)")
	apiURL := flag.String("api", "", "REST API base URL, e.g. http://localhost:3215/api")
	socketURL := flag.String("socket", "", "websocket URL, e.g. ws://localhost:3215/ws")
	dataDir := flag.String("data", "", "directory for the credential store and log")
	flag.Parse()

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *apiURL != "" {
		cfg.APIURL = *apiURL
	}
	if *socketURL != "" {
		cfg.SocketURL = *socketURL
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.ClientConfig) error {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// The terminal belongs to the UI, so logs go to a file.
	logFile, err := os.OpenFile(filepath.Join(cfg.DataDir, "client.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer logFile.Close()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(logFile).Level(level).With().Timestamp().Logger()

	st, err := store.Open(filepath.Join(cfg.DataDir, "client.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	loop := eventloop.New(eventloop.RealClock(), logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	wsConfig := transport.DefaultWebSocketConfig()
	wsConfig.HandshakeTimeout = cfg.DialTimeout
	tr := transport.NewWebSocket(wsConfig, logger)

	var app *ui.App
	notifier := connection.NotifierFunc(func(title, message string) {
		app.Notify(title, message)
	})
	conn := connection.New(loop, tr, notifier, logger)

	app = ui.New(ui.Deps{
		Loop:   loop,
		Conn:   conn,
		API:    api.New(cfg.APIURL, 15*time.Second, logger),
		Store:  st,
		Config: cfg,
		Logger: logger,
	})

	logger.Info().Str("api", cfg.APIURL).Str("socket", cfg.SocketURL).Msg("client started")
	runErr := app.Run()

	app.Close()
	loop.Stop()
	<-loop.Done()
	logger.Info().Msg("client stopped")
	return runErr
}
