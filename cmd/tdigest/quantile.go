package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nicktill/tinydigest/pkg/config"
	"github.com/nicktill/tinydigest/pkg/parallel"
)

type quantileOptions struct {
	quantiles   []float64
	compression int
	shards      int
	asJSON      bool
	record      bool
}

func newQuantileCommand(g *globalOptions) *cobra.Command {
	opts := quantileOptions{}

	cmd := &cobra.Command{
		Use:   "quantile [file...]",
		Short: "Summarize numbers from files or stdin and print quantiles",
		Long: `Reads whitespace or comma separated numbers from the given files
(or stdin when none are given, or for "-"), builds a digest in parallel
shards and prints its statistics and the requested quantiles.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuantile(cmd, g.logger, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.Float64SliceVarP(&opts.quantiles, "quantile", "q", config.DefaultQuantiles, "quantiles to report")
	flags.IntVarP(&opts.compression, "compression", "c", config.DefaultCompression, "digest compression")
	flags.IntVar(&opts.shards, "shards", 0, "parallel shards (0 = one per CPU)")
	flags.BoolVar(&opts.asJSON, "json", false, "print the report as JSON")
	flags.BoolVar(&opts.record, "record", false, "print the digest record instead of a report")
	return cmd
}

func runQuantile(cmd *cobra.Command, logger *zap.Logger, opts quantileOptions, args []string) error {
	if err := validateQuantiles(opts.quantiles); err != nil {
		return err
	}

	var values []float64
	err := openInputs(cmd.InOrStdin(), args, func(name string, r io.Reader) error {
		var err error
		values, err = readValues(name, r, values)
		return err
	})
	if err != nil {
		return err
	}

	start := time.Now()
	d, err := parallel.Build(cmd.Context(), values, opts.shards, opts.compression)
	if err != nil {
		return fmt.Errorf("failed to build digest: %w", err)
	}
	logger.Debug("built digest",
		zap.Int("values", len(values)),
		zap.Int("centroids", d.Len()),
		zap.Duration("took", time.Since(start)))

	if opts.record {
		return writeRecord(cmd.OutOrStdout(), d, formatJSON)
	}
	return writeReport(cmd.OutOrStdout(), newReport(d, opts.quantiles), opts.asJSON)
}

func validateQuantiles(qs []float64) error {
	for _, q := range qs {
		if !(q >= 0 && q <= 1) {
			return fmt.Errorf("invalid quantile %v (want a number in [0, 1])", q)
		}
	}
	return nil
}
