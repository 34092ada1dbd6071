package report_test

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/signalnine/nilmbench/internal/report"
	"github.com/signalnine/nilmbench/internal/result"
)

func seedStore(t *testing.T) *result.Store {
	t.Helper()
	store := result.NewStore(afero.NewMemMapFs(), "root")
	kettle := result.Key{Device: "kettle", Model: "FNET", ExperimentType: "Single", Experiment: "kettle_Single_Train_UKDALE_test_1_UKDALE"}
	fridge := result.Key{Device: "fridge", Model: "SAED", ExperimentType: "Single", Experiment: "fridge_Single_Train_UKDALE_test_1_UKDALE"}
	rows := []struct {
		key  result.Key
		iter int
		row  result.Row
	}{
		{kettle, 1, result.Row{Metrics: map[string]float64{"f1": 0.8, "MAE": 10}, Epochs: 10, Hparams: `{"depth":4}`}},
		{kettle, 2, result.Row{Metrics: map[string]float64{"f1": 0.6, "MAE": 14}, Epochs: 20, Hparams: `{"depth":4}`}},
		{kettle, 1, result.Row{Metrics: map[string]float64{"f1": 0.5}, Epochs: 5, Hparams: `{"depth":2}`}},
		{fridge, 1, result.Row{Metrics: map[string]float64{"f1": 0.7}, Epochs: 8, Hparams: `{}`}},
	}
	for _, r := range rows {
		if err := store.AppendReport(r.key, r.iter, r.row, nil, nil); err != nil {
			t.Fatalf("AppendReport: %v", err)
		}
	}
	return store
}

func TestSummarize(t *testing.T) {
	summaries, err := report.Summarize(seedStore(t))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(summaries))
	}
	if summaries[0].Device != "fridge" {
		t.Errorf("expected fridge first, got %s", summaries[0].Device)
	}
	deep := summaries[1]
	if deep.Hparams != `{"depth":4}` || deep.Rows != 2 || deep.MeanEpochs != 15 {
		t.Fatalf("unexpected summary: %+v", deep)
	}
	f1 := deep.Metrics["f1"]
	if math.Abs(f1.Mean-0.7) > 1e-9 || math.Abs(f1.Std-math.Sqrt(0.02)) > 1e-9 || f1.N != 2 {
		t.Errorf("f1 stat: %+v", f1)
	}
	if _, ok := deep.Metrics["RETE"]; ok {
		t.Error("RETE was never recorded and should be absent")
	}
	if summaries[2].Metrics["f1"].Std != 0 {
		t.Errorf("single-row std should be 0, got %v", summaries[2].Metrics["f1"].Std)
	}
}

func TestGenerateFormats(t *testing.T) {
	store := seedStore(t)
	tests := []struct {
		format string
		want   string
	}{
		{"table", "kettle_Single_Train_UKDALE_test_1_UKDALE"},
		{"markdown", "| fridge | SAED |"},
		{"json", `"mean_epochs": 15`},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := report.Generate(store, tt.format, &buf); err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, buf.String())
			}
		})
	}
}

func TestGenerateJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := report.Generate(seedStore(t), "json", &buf); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	var got []report.Summary
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got) != 3 || got[1].Experiment == "" {
		t.Errorf("decoded: %+v", got)
	}
}

func TestGenerateEmptyStore(t *testing.T) {
	var buf bytes.Buffer
	if err := report.Generate(result.NewStore(afero.NewMemMapFs(), "none"), "table", &buf); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(buf.String(), "DEVICE") {
		t.Error("expected a header for an empty store")
	}
}
