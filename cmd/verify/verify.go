package verify

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sidkik/ship/cmd/util"
	"github.com/sidkik/ship/pkg/config"
	"github.com/sidkik/ship/pkg/errors"
	"github.com/sidkik/ship/pkg/verify"
)

// Mocked out for unit testing.
var newLoader = func(cfg config.Deploy) verify.Loader {
	return verify.SubprocessLoader{Interpreter: cfg.Interpreter}
}

// ErrLoadFailed is returned when the entry module fails to load.
var ErrLoadFailed = errors.New("entry module failed to load")

// New creates a new `verify` command.
func New() *cobra.Command {
	var root, module string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that the deployed entry module loads.",
		Long: "Load the entry module in a fresh interpreter process, with the\n" +
			"deployment root on its module search path.\n\n" +
			"Prints `OK: imported <module>` or `FAIL: exception importing <module>: <detail>`,\n" +
			"and exits non-zero on failure.",
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			configPath, _ := cmd.Flags().GetString(util.ConfigFlag)
			cfg, err := config.Load(configPath)
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "load config"))
				return
			}

			verifier := NewVerifier(cfg, os.Stdout)
			if root != "" {
				verifier.Root = root
			}
			if module != "" {
				verifier.Module = module
			}

			if err := Run(cmd.Context(), verifier); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&root, "root", "",
		"The directory to load the module from. Defaults to the configured verify root.")
	cmd.Flags().StringVar(&module, "module", "",
		"The entry module to load. Defaults to the configured entry module.")
	return cmd
}

// NewVerifier creates a Verifier for the configured deployment that reports
// to `out`.
func NewVerifier(cfg config.Deploy, out io.Writer) verify.Verifier {
	return verify.Verifier{
		Loader:  newLoader(cfg),
		Root:    cfg.VerifyPath(),
		Module:  cfg.EntryModule,
		Timeout: time.Duration(cfg.VerifyTimeout),
		Out:     out,
	}
}

// Run runs the verifier and converts a failed load into an error.
func Run(ctx context.Context, verifier verify.Verifier) error {
	if result := verifier.Verify(ctx); !result.OK {
		return ErrLoadFailed
	}
	return nil
}
