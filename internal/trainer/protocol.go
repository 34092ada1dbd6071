package trainer

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/signalnine/nilmbench/internal/dataset"
)

// Files exchanged with the external process. Paths inside a request are
// relative to the workspace root, which is also the process working
// directory.
const (
	RequestFile = "request.json"
	ResultFile  = "result.json"
	ModelDir    = "model"
	RequestEnv  = "NILMBENCH_REQUEST"
)

const (
	ActionTrain    = "train"
	ActionEvaluate = "evaluate"
)

const (
	StatusOK       = "ok"
	StatusDiverged = "diverged"
	StatusError    = "error"
)

// Request is what the process finds in request.json.
type Request struct {
	Action        string          `json:"action"`
	Device        string          `json:"device"`
	Model         string          `json:"model"`
	Hparams       json.RawMessage `json:"hparams"`
	Window        int             `json:"window"`
	Batch         int             `json:"batch"`
	Epochs        int             `json:"epochs,omitempty"`
	Rolling       bool            `json:"rolling"`
	SamplePeriodS float64         `json:"sample_period_s"`
	EarlyStopping *EarlyStopping  `json:"early_stopping,omitempty"`
	Stats         dataset.Stats   `json:"stats"`
	Segments      []string        `json:"segments"`
	TrainWindows  []dataset.Ref   `json:"train_windows,omitempty"`
	ValWindows    []dataset.Ref   `json:"val_windows,omitempty"`
	Windows       []dataset.Ref   `json:"windows,omitempty"`
	ModelDir      string          `json:"model_dir"`
	Result        string          `json:"result"`
}

// Result is what the process leaves in result.json.
type Result struct {
	Status  string             `json:"status"`
	Message string             `json:"message,omitempty"`
	Epochs  int                `json:"epochs,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Preds   []float64          `json:"preds,omitempty"`
}

// writeJob lays out a job under root/sub: one CSV per segment and the
// request itself. It returns the request path relative to root.
func writeJob(root, sub string, req *Request, d *dataset.Dataset) (string, error) {
	dir := filepath.Join(root, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating job dir: %w", err)
	}
	req.Segments = req.Segments[:0]
	for i, seg := range d.Segments {
		name := filepath.Join(sub, fmt.Sprintf("segment-%d.csv", i))
		if err := writeSegment(filepath.Join(root, name), seg); err != nil {
			return "", err
		}
		req.Segments = append(req.Segments, name)
	}
	req.Stats = d.Stats
	req.ModelDir = ModelDir
	req.Result = filepath.Join(sub, ResultFile)

	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}
	rel := filepath.Join(sub, RequestFile)
	if err := os.WriteFile(filepath.Join(root, rel), data, 0o644); err != nil {
		return "", fmt.Errorf("writing request: %w", err)
	}
	return rel, nil
}

func writeSegment(path string, seg dataset.Segment) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating segment file: %w", err)
	}
	w := csv.NewWriter(f)
	channels := 0
	if len(seg.Readings) > 0 {
		channels = len(seg.Readings[0].Inputs)
	}
	header := []string{"timestamp"}
	for c := 0; c < channels; c++ {
		header = append(header, fmt.Sprintf("input_%d", c))
	}
	header = append(header, "meter")
	w.Write(header)
	rec := make([]string, len(header))
	for _, r := range seg.Readings {
		rec[0] = strconv.FormatInt(r.Time.Unix(), 10)
		for c := 0; c < channels; c++ {
			v := 0.0
			if c < len(r.Inputs) {
				v = r.Inputs[c]
			}
			rec[1+c] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		rec[len(rec)-1] = strconv.FormatFloat(r.Meter, 'g', -1, 64)
		w.Write(rec)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func readResult(root string, req *Request) (*Result, error) {
	data, err := os.ReadFile(filepath.Join(root, req.Result))
	if err != nil {
		return nil, fmt.Errorf("reading result: %w", err)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parsing result: %w", err)
	}
	if res.Status == "" {
		res.Status = StatusOK
	}
	return &res, nil
}
