package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strand-protocol/tensorbridge/pkg/protocol"
)

// version is set at build time via -ldflags "-X github.com/strand-protocol/tensorbridge/internal/cli.version=x.y.z"
var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show tensorbridge and protocol versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "tensorbridge version %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "protocol: %s\n", protocol.ServiceName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
