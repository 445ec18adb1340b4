// Package cli implements the pairline client commands.
package cli

import (
	"context"

	"github.com/BioHazard786/Pairline/internal/version"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	flagDomain   string
	flagInsecure bool
	flagDiscover bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pairline",
	Short: "Random peer-to-peer audio/video calls over WebRTC",
	Long: `Pairline pairs you with another anonymous participant and opens a direct
WebRTC audio/video call between you. The server only matches participants and
relays the connection handshake; media flows peer to peer.`,
	Version:       version.Version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command until ctx is done.
func Execute(ctx context.Context) error {
	return fang.Execute(ctx, rootCmd)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagDomain, "domain", "d", "", "Server domain (host[:port])")
	rootCmd.PersistentFlags().BoolVar(&flagInsecure, "insecure", false, "Use http/ws instead of https/wss")
	rootCmd.PersistentFlags().BoolVar(&flagDiscover, "discover", false, "Find a server on the local network via mDNS")
}
