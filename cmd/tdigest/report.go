package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/nicktill/tinydigest/pkg/compaction"
	"github.com/nicktill/tinydigest/pkg/tdigest"
)

type report struct {
	Count       float64                    `json:"count"`
	Sum         float64                    `json:"sum"`
	Mean        float64                    `json:"mean"`
	Min         float64                    `json:"min"`
	Max         float64                    `json:"max"`
	Compression int                        `json:"compression"`
	Centroids   int                        `json:"centroids"`
	Quantiles   []compaction.QuantileValue `json:"quantiles,omitempty"`
}

func newReport(d *tdigest.Digest, qs []float64) report {
	r := report{
		Count:       d.Count(),
		Sum:         d.Sum(),
		Mean:        d.Mean(),
		Min:         d.Min(),
		Max:         d.Max(),
		Compression: d.Compression(),
		Centroids:   d.Len(),
	}
	for i, v := range d.Quantiles(qs...) {
		r.Quantiles = append(r.Quantiles, compaction.QuantileValue{Q: qs[i], Value: v})
	}
	return r
}

func writeReport(w io.Writer, r report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "count\t%s\n", formatFloat(r.Count))
	fmt.Fprintf(tw, "sum\t%s\n", formatFloat(r.Sum))
	fmt.Fprintf(tw, "mean\t%s\n", formatFloat(r.Mean))
	fmt.Fprintf(tw, "min\t%s\n", formatFloat(r.Min))
	fmt.Fprintf(tw, "max\t%s\n", formatFloat(r.Max))
	fmt.Fprintf(tw, "compression\t%d\n", r.Compression)
	fmt.Fprintf(tw, "centroids\t%d\n", r.Centroids)
	for _, q := range r.Quantiles {
		fmt.Fprintf(tw, "q%s\t%s\n", formatFloat(q.Q), formatFloat(q.Value))
	}
	return tw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
