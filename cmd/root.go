package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	deployCmd "github.com/sidkik/ship/cmd/deploy"
	syncCmd "github.com/sidkik/ship/cmd/sync"
	"github.com/sidkik/ship/cmd/util"
	verifyCmd "github.com/sidkik/ship/cmd/verify"
	"github.com/sidkik/ship/cmd/version"
	"github.com/sidkik/ship/pkg/config"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "SHIP_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	// Logs go to stderr so that stdout only holds the status lines.
	log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.HandleFatalError(err)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "ship",
		Short:        "Deploy a source tree onto a service host.",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String(util.ConfigFlag, "",
		"Path to the deploy config file. Defaults to $"+config.ConfigPathEnv+".")
	rootCmd.AddCommand(
		deployCmd.New(),
		syncCmd.New(),
		verifyCmd.New(),
		version.New(),
	)
	return rootCmd
}
