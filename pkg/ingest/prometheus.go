package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/nicktill/tinydigest/pkg/config"
	"github.com/nicktill/tinydigest/pkg/storage"
	"github.com/nicktill/tinydigest/pkg/tdigest"
)

// HandlePrometheusMetrics exports recent digests as Prometheus summaries
// so external tools (Grafana, Prometheus, etc.) can scrape them.
//
// Each series is the merge of its windows over the last BroadcastWindow:
//
//	name{labels,quantile="0.5"} value
//	name_sum{labels} sum
//	name_count{labels} count
//
// Format: https://prometheus.io/docs/instrumenting/exposition_formats/
func (h *Handler) HandlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.IngestStatsTimeout)
	defer cancel()

	now := h.now()
	results, err := h.storage.Query(ctx, storage.QueryRequest{
		Start: now.Add(-config.BroadcastWindow),
		End:   now,
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("Query failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	writePrometheusSummaries(w, results, config.DefaultQuantiles)
}

type seriesDigests struct {
	labels  map[string]string
	digests []*tdigest.Digest
}

// writePrometheusSummaries writes one summary family per series name
func writePrometheusSummaries(w io.Writer, windows []storage.Window, quantiles []float64) {
	// name -> series key -> digests
	grouped := make(map[string]map[string]*seriesDigests)
	for _, win := range windows {
		byKey := grouped[win.Name]
		if byKey == nil {
			byKey = make(map[string]*seriesDigests)
			grouped[win.Name] = byKey
		}
		key := win.SeriesKey()
		sd := byKey[key]
		if sd == nil {
			sd = &seriesDigests{labels: win.Labels}
			byKey[key] = sd
		}
		sd.digests = append(sd.digests, win.Digest)
	}

	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		metricName := sanitizeMetricName(name)
		fmt.Fprintf(w, "# HELP %s tinydigest summary\n", metricName)
		fmt.Fprintf(w, "# TYPE %s summary\n", metricName)

		byKey := grouped[name]
		keys := make([]string, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			sd := byKey[k]
			d := tdigest.Merge(sd.digests...)

			for _, q := range quantiles {
				fmt.Fprintf(w, "%s%s %s\n", metricName,
					formatPrometheusLabels(sd.labels, "quantile", strconv.FormatFloat(q, 'g', -1, 64)),
					formatValue(d.Quantile(q)))
			}
			fmt.Fprintf(w, "%s_sum%s %s\n", metricName, formatPrometheusLabels(sd.labels, "", ""), formatValue(d.Sum()))
			fmt.Fprintf(w, "%s_count%s %s\n", metricName, formatPrometheusLabels(sd.labels, "", ""), formatValue(d.Count()))
		}

		// Empty line between metric families
		fmt.Fprintf(w, "\n")
	}
}

// formatPrometheusLabels formats labels in Prometheus format:
// {key="value",key2="value2"}. extraKey is appended last when non-empty.
func formatPrometheusLabels(labels map[string]string, extraKey, extraValue string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf(`%s="%s"`, sanitizeMetricName(k), escapePrometheusValue(labels[k])))
	}
	if extraKey != "" {
		pairs = append(pairs, fmt.Sprintf(`%s="%s"`, extraKey, escapePrometheusValue(extraValue)))
	}

	if len(pairs) == 0 {
		return ""
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

// escapePrometheusValue escapes special characters in Prometheus label values.
// Backslash, double-quote, and line feed must be escaped.
func escapePrometheusValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

// sanitizeMetricName replaces characters Prometheus does not allow in names.
// A leading digit is kept behind a '_' prefix.
func sanitizeMetricName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
