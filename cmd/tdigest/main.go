// Command tdigest builds, merges and inspects t-digests from the shell.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nicktill/tinydigest/pkg/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalOptions struct {
	logLevel string
	logger   *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:          "tdigest",
		Short:        "Approximate quantiles with t-digests",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.NewWithWriter(cmd.ErrOrStderr(), opts.logLevel, logging.FormatConsole)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = opts.logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug|info|warn|error)")

	root.AddCommand(
		newQuantileCommand(opts),
		newMergeCommand(opts),
		newInspectCommand(opts),
	)
	return root
}
