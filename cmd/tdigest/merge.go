package main

import (
	"errors"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nicktill/tinydigest/pkg/tdigest"
)

type mergeOptions struct {
	format string
	output string
}

func newMergeCommand(g *globalOptions) *cobra.Command {
	opts := mergeOptions{}

	cmd := &cobra.Command{
		Use:   "merge [file...]",
		Short: "Merge digest records and print the merged record",
		RunE: func(cmd *cobra.Command, args []string) error {
			var digests []*tdigest.Digest
			err := openInputs(cmd.InOrStdin(), args, func(name string, r io.Reader) error {
				ds, err := readDigests(name, r, opts.format)
				if err != nil {
					return err
				}
				digests = append(digests, ds...)
				return nil
			})
			if err != nil {
				return err
			}
			if len(digests) == 0 {
				return errors.New("no records to merge")
			}

			merged := tdigest.Merge(digests...)
			g.logger.Debug("merged digests",
				zap.Int("inputs", len(digests)),
				zap.Float64("count", merged.Count()),
				zap.Int("centroids", merged.Len()))

			return writeRecord(cmd.OutOrStdout(), merged, opts.output)
		},
	}

	cmd.Flags().StringVar(&opts.format, "format", formatJSON, "input encoding (json|msgpack)")
	cmd.Flags().StringVar(&opts.output, "output", formatJSON, "output encoding (json|msgpack)")
	return cmd
}
