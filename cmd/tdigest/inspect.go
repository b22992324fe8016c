package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nicktill/tinydigest/pkg/config"
	"github.com/nicktill/tinydigest/pkg/tdigest"
)

type inspectOptions struct {
	format    string
	quantiles []float64
	centroids bool
	asJSON    bool
}

func newInspectCommand(g *globalOptions) *cobra.Command {
	opts := inspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect [file]",
		Short: "Print statistics and centroids of a digest record",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateQuantiles(opts.quantiles); err != nil {
				return err
			}

			var digests []*tdigest.Digest
			err := openInputs(cmd.InOrStdin(), args, func(name string, r io.Reader) error {
				var err error
				digests, err = readDigests(name, r, opts.format)
				return err
			})
			if err != nil {
				return err
			}
			if len(digests) != 1 {
				return fmt.Errorf("expected one record, got %d", len(digests))
			}
			d := digests[0]

			out := cmd.OutOrStdout()
			if err := writeReport(out, newReport(d, opts.quantiles), opts.asJSON); err != nil {
				return err
			}
			if opts.centroids && !opts.asJSON {
				return writeCentroids(out, d.Centroids())
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.format, "format", formatJSON, "input encoding (json|msgpack)")
	flags.Float64SliceVarP(&opts.quantiles, "quantile", "q", config.DefaultQuantiles, "quantiles to report")
	flags.BoolVar(&opts.centroids, "centroids", false, "list every centroid")
	flags.BoolVar(&opts.asJSON, "json", false, "print the report as JSON")
	return cmd
}

func writeCentroids(w io.Writer, cs []tdigest.Centroid) error {
	if len(cs) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tmean\tweight\t")
	for i, c := range cs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t\n", i, formatFloat(c.Mean), formatFloat(c.Weight))
	}
	return tw.Flush()
}
