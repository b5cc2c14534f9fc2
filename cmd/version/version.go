package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sidkik/ship/pkg/version"
)

// New creates a new `version` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of ship.",
		Long:  "Print the version of ship, as a git tag or commit hash.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ship version: %s\n", version.Version)
		},
	}
}
