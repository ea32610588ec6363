package cli

import (
	"encoding/json"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"artifactd/internal/config"
	"artifactd/internal/device"
)

func init() {
	rootCmd.AddCommand(profileCmd)
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Print the host capability profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg config.Config
		applyDefaults(&cfg)
		p := device.New(thresholds(&cfg), zerolog.New(os.Stderr)).Detect()
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}
