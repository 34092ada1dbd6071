package result

import "fmt"

// Report columns, in file order.
const (
	ColRecall    = "recall"
	ColF1        = "f1"
	ColPrecision = "precision"
	ColAccuracy  = "accuracy"
	ColMAE       = "MAE"
	ColRETE      = "RETE"
	ColEpochs    = "epochs"
	ColHparams   = "hparams"
)

// Columns is the fixed schema of every REPORT_*.csv file.
var Columns = []string{ColRecall, ColF1, ColPrecision, ColAccuracy, ColMAE, ColRETE, ColEpochs, ColHparams}

// MetricColumns are the columns filled from evaluation metrics.
var MetricColumns = Columns[:6]

// Missing is written for absent values: an empty cell, which dataframe
// readers load as NaN.
const Missing = ""

// Row is one line of a cumulative report.
type Row struct {
	Metrics map[string]float64 `json:"metrics"`
	Epochs  int                `json:"epochs"`
	Hparams string             `json:"hparams"`
}

// Metric returns a metric value and whether it was recorded.
func (r Row) Metric(name string) (float64, bool) {
	v, ok := r.Metrics[name]
	return v, ok
}

// Sample is one ground truth / prediction pair.
type Sample struct {
	Ground float64 `json:"ground"`
	Pred   float64 `json:"preds"`
}

// Key identifies one experiment directory under the results tree.
type Key struct {
	Device         string `json:"device"`
	Model          string `json:"model"`
	ExperimentType string `json:"experiment_type"`
	Experiment     string `json:"experiment"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Device, k.Model, k.ExperimentType, k.Experiment)
}

// StorageError wraps a filesystem failure while reading or writing reports.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
