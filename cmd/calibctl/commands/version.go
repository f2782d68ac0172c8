package commands

import (
	"github.com/spf13/cobra"

	"github.com/banshee-data/colocate/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version and protocol revision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printf(cmd, "calibctl %s protocol %d\n", version.String(), version.Protocol)
			return nil
		},
	}
}
