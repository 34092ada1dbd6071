// Package report summarizes cumulative experiment reports across folds.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"text/tabwriter"

	"gonum.org/v1/gonum/stat"

	"github.com/signalnine/nilmbench/internal/result"
)

// Stat is the cross-fold mean and sample standard deviation of one metric
// over the N rows that recorded it.
type Stat struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	N    int     `json:"n"`
}

// Summary aggregates the rows of one experiment that share hyperparameters.
type Summary struct {
	result.Key
	Hparams    string          `json:"hparams"`
	Rows       int             `json:"rows"`
	MeanEpochs float64         `json:"mean_epochs"`
	Metrics    map[string]Stat `json:"metrics"`
}

// Generate reads every report in the store and writes one summary line per
// experiment and hyperparameter set.
func Generate(store *result.Store, format string, w io.Writer) error {
	summaries, err := Summarize(store)
	if err != nil {
		return err
	}
	switch format {
	case "markdown":
		return writeMarkdown(summaries, w)
	case "json":
		return writeJSON(summaries, w)
	default:
		return writeTable(summaries, w)
	}
}

func Summarize(store *result.Store) ([]Summary, error) {
	keys, err := store.Keys()
	if err != nil {
		return nil, err
	}
	var summaries []Summary
	for _, k := range keys {
		rows, err := store.ReadReport(k)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, aggregate(k, rows)...)
	}
	return summaries, nil
}

func aggregate(k result.Key, rows []result.Row) []Summary {
	groups := map[string][]result.Row{}
	var order []string
	for _, r := range rows {
		if _, ok := groups[r.Hparams]; !ok {
			order = append(order, r.Hparams)
		}
		groups[r.Hparams] = append(groups[r.Hparams], r)
	}

	out := make([]Summary, 0, len(order))
	for _, hp := range order {
		g := groups[hp]
		s := Summary{Key: k, Hparams: hp, Rows: len(g), Metrics: map[string]Stat{}}
		var epochs float64
		for _, r := range g {
			epochs += float64(r.Epochs)
		}
		s.MeanEpochs = epochs / float64(len(g))
		for _, col := range result.MetricColumns {
			var vals []float64
			for _, r := range g {
				if v, ok := r.Metric(col); ok && !math.IsNaN(v) {
					vals = append(vals, v)
				}
			}
			if len(vals) == 0 {
				continue
			}
			st := Stat{Mean: stat.Mean(vals, nil), N: len(vals)}
			if len(vals) > 1 {
				st.Std = stat.StdDev(vals, nil)
			}
			s.Metrics[col] = st
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

func formatStat(s Summary, col string) string {
	st, ok := s.Metrics[col]
	if !ok {
		return "-"
	}
	if st.N < 2 {
		return fmt.Sprintf("%.3f", st.Mean)
	}
	return fmt.Sprintf("%.3f±%.3f", st.Mean, st.Std)
}

func writeTable(summaries []Summary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "DEVICE\tMODEL\tEXPERIMENT\tROWS\tEPOCHS\t%s\n", strings.ToUpper(strings.Join(result.MetricColumns, "\t")))
	fmt.Fprintln(tw, strings.Repeat("-", 120))
	for _, s := range summaries {
		cells := make([]string, len(result.MetricColumns))
		for i, col := range result.MetricColumns {
			cells[i] = formatStat(s, col)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.1f\t%s\n",
			s.Device, s.Model, s.Experiment, s.Rows, s.MeanEpochs, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func writeMarkdown(summaries []Summary, w io.Writer) error {
	fmt.Fprintf(w, "| Device | Model | Experiment | Rows | Epochs | %s |\n", strings.Join(result.MetricColumns, " | "))
	fmt.Fprintln(w, "|---|---|---|---|---|"+strings.Repeat("---|", len(result.MetricColumns)))
	for _, s := range summaries {
		cells := make([]string, len(result.MetricColumns))
		for i, col := range result.MetricColumns {
			cells[i] = formatStat(s, col)
		}
		fmt.Fprintf(w, "| %s | %s | %s | %d | %.1f | %s |\n",
			s.Device, s.Model, s.Experiment, s.Rows, s.MeanEpochs, strings.Join(cells, " | "))
	}
	return nil
}

func writeJSON(summaries []Summary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summaries)
}
