package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/sketchlab/inobridge/internal/bridge"
	"github.com/sketchlab/inobridge/internal/config"
	"github.com/sketchlab/inobridge/internal/logging"
)

var version = "0.1.0"

func main() {
	var (
		configPath string
		listen     string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:   "inobridge",
		Short: "WebSocket to stdio bridge for language servers",
		Long: `inobridge lets browser-based editors talk to locally installed language
servers. Each WebSocket connection on /lsp spawns one language-server process;
JSON-RPC messages cross the socket unframed, one per WebSocket text message,
and the bridge adds or strips the Content-Length framing the server's stdio
expects.

The socket and the process live and die together: closing the connection
kills the server, and a server exit closes the connection with an application
close code saying why.

Configuration is a TOML file plus INOBRIDGE_-prefixed environment variables;
the file is watched, so changing the launch command applies to the next
connection without a restart.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Flag overrides ride the env overlay so they survive
			// config reloads.
			if listen != "" {
				os.Setenv("INOBRIDGE_LISTEN", listen)
			}
			if logLevel != "" {
				os.Setenv("INOBRIDGE_LOG_LEVEL", logLevel)
			}
			return run(cmd.Context(), configPath)
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to TOML configuration file")
	rootCmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides config)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fang.Execute(ctx, rootCmd, fang.WithVersion(version)); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	store, err := config.NewStore(configPath, logging.New("info", "text"))
	if err != nil {
		return err
	}

	cfg := store.Current()
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	server := bridge.NewServer(cfg.Server.Listen, func() bridge.SessionSettings {
		cur := store.Current()
		return bridge.SessionSettings{
			Command:      cur.LSP.Command,
			ProjectsRoot: cur.LSP.ProjectsRoot,
		}
	}, log)

	go func() {
		if err := config.Watch(ctx, store, log); err != nil {
			log.WithError(err).Warn("config watcher stopped")
		}
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serveErr:
		return err
	}
}
