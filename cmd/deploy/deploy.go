package deploy

import (
	"context"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	syncCmd "github.com/sidkik/ship/cmd/sync"
	"github.com/sidkik/ship/cmd/util"
	verifyCmd "github.com/sidkik/ship/cmd/verify"
	"github.com/sidkik/ship/pkg/config"
	"github.com/sidkik/ship/pkg/errors"
)

// Mocked out for unit testing.
var (
	runSync   = syncCmd.Run
	runVerify = verifyCmd.Run
)

// New creates a new `deploy` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Sync the source tree onto the target, then verify it.",
		Long: "Run `ship sync` followed by `ship verify` with the same configuration.\n" +
			"Verification is skipped if the sync fails.",
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			configPath, _ := cmd.Flags().GetString(util.ConfigFlag)
			cfg, err := config.Load(configPath)
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "load config"))
				return
			}

			if err := run(cmd.Context(), cfg, os.Stdout); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func run(ctx context.Context, cfg config.Deploy, out io.Writer) error {
	if err := runSync(ctx, cfg, out); err != nil {
		return errors.WithContext(err, "sync")
	}

	log.Info("Sync finished. Verifying deployment..")
	if err := runVerify(ctx, verifyCmd.NewVerifier(cfg, out)); err != nil {
		return errors.WithContext(err, "verify")
	}
	return nil
}
