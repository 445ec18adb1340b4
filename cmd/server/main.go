package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/Pairline/internal/config"
	"github.com/BioHazard786/Pairline/internal/logging"
	"github.com/BioHazard786/Pairline/internal/server"
	"github.com/BioHazard786/Pairline/internal/version"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagAddr     string
	flagAnnounce bool
)

var rootCmd = &cobra.Command{
	Use:           "pairline-server",
	Short:         "Matchmaking and signaling server for Pairline",
	Version:       version.Version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and signaling relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServer(flagConfig, config.ServerOptions{
			Addr:     flagAddr,
			Announce: flagAnnounce,
		})
		if err != nil {
			return err
		}
		return server.New(cfg).Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "Path to a TOML config file")
	serveCmd.Flags().StringVarP(&flagAddr, "addr", "a", "", "Listen address (default :8080)")
	serveCmd.Flags().BoolVar(&flagAnnounce, "announce", false, "Announce the server on the local network via mDNS")
}

func main() {
	logging.Init(slog.LevelInfo)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("server stopped", "error", err)
		stop()
		os.Exit(1)
	}
}
