package cli

import (
	"fmt"

	"github.com/BioHazard786/Pairline/internal/apiclient"
	"github.com/BioHazard786/Pairline/internal/ui"
	"github.com/spf13/cobra"
)

var onlineCmd = &cobra.Command{
	Use:   "online",
	Short: "Show how many participants are online",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context(), baseOptions())
		if err != nil {
			return err
		}

		n, err := apiclient.New(cfg.APIURL).Online(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read presence: %w", err)
		}
		ui.PrintInfof("%s %d online", ui.IconOnline, n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(onlineCmd)
}
