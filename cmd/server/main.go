package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/roomchat/internal/server"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		port       = flag.String("port", "", "TCP chat port or address (default 8989)")
		httpAddr   = flag.String("http", "", "WebSocket/health listen address, empty disables")
		logLevel   = flag.String("log-level", "info", "log level (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "text", "log format (text, json)")
	)
	flag.Parse()

	logger := setupLogger(*logLevel, *logFormat)
	slog.SetDefault(logger)

	config, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		config.Port = *port
	}
	if *httpAddr != "" {
		config.HTTPAddr = *httpAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(*config, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, the optional YAML file and the environment.
func loadConfig(path string) (*server.Config, error) {
	config := server.NewConfig()
	if path != "" {
		loaded, err := server.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		config = loaded
	}
	server.ApplyEnv(config)
	return config, nil
}

func setupLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(level),
		AddSource: level == "debug",
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
