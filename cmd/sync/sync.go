package sync

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sidkik/ship/cmd/util"
	"github.com/sidkik/ship/pkg/config"
	"github.com/sidkik/ship/pkg/deploy"
	"github.com/sidkik/ship/pkg/errors"
	shipsync "github.com/sidkik/ship/pkg/sync"
)

type runner interface {
	Run(ctx context.Context) (shipsync.Result, error)
}

// Mocked out for unit testing.
var newEngine = func(ctx context.Context, cfg config.Deploy) (runner, func()) {
	return deploy.New(ctx, cfg)
}

// New creates a new `sync` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Mirror the source tree onto the deployment target.",
		Long: "Stop the service, mirror the source tree onto the destination, and\n" +
			"start the service again.\n\n" +
			"The mirror outcome is printed to stdout as `MIRROR: <code> <classification>`.",
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			configPath, _ := cmd.Flags().GetString(util.ConfigFlag)
			cfg, err := config.Load(configPath)
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "load config"))
				return
			}

			if err := Run(cmd.Context(), cfg, os.Stdout); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

// Run runs the sync phase of a deployment, and reports the mirror outcome
// to `out`.
func Run(ctx context.Context, cfg config.Deploy, out io.Writer) error {
	engine, cleanup := newEngine(ctx, cfg)
	defer cleanup()

	result, err := engine.Run(ctx)
	var mirrorErr deploy.MirrorError
	if err == nil || errors.As(err, &mirrorErr) {
		fmt.Fprintf(out, "MIRROR: %s\n", result)
	}
	return err
}
