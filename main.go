package main

import (
	"bufio"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"talkx/config"
	"talkx/db"
	"talkx/server"
)

const pruneInterval = time.Hour

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to initialize database")
	}
	defer database.Close()

	srv := server.New(database, &server.ServerConfig{
		Port:            cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		JWTSecret:       cfg.JWTSecret,
		TokenTTL:        cfg.TokenTTL,
		HistoryLimit:    cfg.HistoryLimit,
		FramesPerSecond: cfg.FramesPerSecond,
	}, logger)

	go startControlSocket(srv, cfg.ControlSocket, logger)
	go pruneTokens(database, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		srv.Shutdown("maintenance", time.Time{})
		os.Remove(cfg.ControlSocket)
		os.Exit(0)
	}()

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func pruneTokens(database *db.DB, logger zerolog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for range ticker.C {
		n, err := database.PruneRevokedTokens(time.Now())
		if err != nil {
			logger.Warn().Err(err).Msg("prune revoked tokens")
			continue
		}
		if n > 0 {
			logger.Debug().Int64("pruned", n).Msg("revoked tokens pruned")
		}
	}
}

// startControlSocket serves operator commands on a unix socket:
//
//	stats
//	shutdown|<reason>|<RFC3339 completion time>
func startControlSocket(srv *server.Server, path string, logger zerolog.Logger) {
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("failed to create control socket")
		return
	}
	defer listener.Close()
	defer os.Remove(path)

	logger.Info().Str("path", path).Msg("control socket listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}
		go handleControlCommand(srv, conn, path, logger)
	}
}

func handleControlCommand(srv *server.Server, conn net.Conn, path string, logger zerolog.Logger) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(line), "|", 3)

	switch parts[0] {
	case "stats":
		conn.Write([]byte("OK|" + srv.GetStats() + "\n"))

	case "shutdown":
		reason := "maintenance"
		var completionTime time.Time
		if len(parts) >= 2 && parts[1] != "" {
			reason = parts[1]
		}
		if len(parts) >= 3 && parts[2] != "" {
			completionTime, err = time.Parse(time.RFC3339, parts[2])
			if err != nil {
				conn.Write([]byte("ERROR|Invalid completion time\n"))
				return
			}
		}

		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		logger.Info().Str("reason", reason).Time("completion", completionTime).Msg("shutdown requested")
		srv.Shutdown(reason, completionTime)
		os.Remove(path)
		os.Exit(0)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
