package trainer_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalnine/nilmbench/internal/dataset"
	"github.com/signalnine/nilmbench/internal/datasource"
	"github.com/signalnine/nilmbench/internal/folds"
	"github.com/signalnine/nilmbench/internal/model"
	"github.com/signalnine/nilmbench/internal/trainer"
)

// fakeLauncher plays the external process: it reads the request and writes
// a result according to the action.
type fakeLauncher struct {
	code     int
	timedOut bool
	train    trainer.Result
	eval     trainer.Result
	requests []trainer.Request
}

func (f *fakeLauncher) Launch(ctx context.Context, ws, rel string) (*trainer.Exit, error) {
	data, err := os.ReadFile(filepath.Join(ws, rel))
	if err != nil {
		return nil, err
	}
	var req trainer.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	f.requests = append(f.requests, req)
	for _, seg := range req.Segments {
		if _, err := os.Stat(filepath.Join(ws, seg)); err != nil {
			return nil, fmt.Errorf("segment missing: %w", err)
		}
	}
	res := f.train
	if req.Action == trainer.ActionEvaluate {
		res = f.eval
	}
	out, _ := json.Marshal(res)
	if err := os.WriteFile(filepath.Join(ws, req.Result), out, 0o644); err != nil {
		return nil, err
	}
	return &trainer.Exit{Code: f.code, TimedOut: f.timedOut}, nil
}

type memSource struct{ readings []datasource.Reading }

func (m *memSource) Name() string { return "UKDALE" }
func (m *memSource) Close() error { return nil }

func (m *memSource) Load(ctx context.Context, building int, device string, r folds.DateRange, period time.Duration) ([]datasource.Reading, error) {
	var out []datasource.Reading
	for _, rd := range m.readings {
		if r.Contains(rd.Time) {
			out = append(out, rd)
		}
	}
	return out, nil
}

type opener struct{ ds datasource.Datasource }

func (o opener) Open(ctx context.Context, name string) (datasource.Datasource, error) {
	return o.ds, nil
}

func testDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	src := &memSource{}
	base := time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		src.readings = append(src.readings, datasource.Reading{Time: base.AddDate(0, 0, i), Inputs: []float64{float64(i)}, Meter: 1})
	}
	r, _ := folds.NewDateRange(base, base.AddDate(0, 0, 9))
	d, err := dataset.Build(context.Background(), opener{src}, []dataset.SourceInfo{{Source: "UKDALE", Building: 1, Range: r}},
		dataset.Options{Device: "kettle", Window: 4, Rolling: true})
	if err != nil {
		t.Fatalf("dataset.Build: %v", err)
	}
	return d
}

func trainJob(t *testing.T) *trainer.TrainJob {
	d := testDataset(t)
	train, val := d.Split(0.8, 42)
	return &trainer.TrainJob{
		Device:        "kettle",
		Hparams:       (&model.FNETParams{Depth: 1, KernelSize: 5, CNNDim: 128, HiddenDim: 256}).ForWindow(4),
		Window:        4,
		Batch:         512,
		Epochs:        100,
		Rolling:       true,
		SamplePeriod:  6 * time.Second,
		EarlyStopping: trainer.DefaultEarlyStopping(),
		Data:          d,
		TrainIdx:      train,
		ValIdx:        val,
	}
}

func TestProcessTrainAndEvaluate(t *testing.T) {
	root := t.TempDir()
	l := &fakeLauncher{
		train: trainer.Result{Status: trainer.StatusOK, Epochs: 12},
		eval:  trainer.Result{Metrics: map[string]float64{"f1": 0.7, "MAE": 12.5}, Preds: []float64{1, 2, 3}},
	}
	p := trainer.NewProcess(l, root)
	job := trainJob(t)

	m, err := p.Train(context.Background(), job)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if m.Epochs() != 12 {
		t.Errorf("epochs: got %d, want 12", m.Epochs())
	}
	req := l.requests[0]
	if req.Action != trainer.ActionTrain || req.Model != "FNET" || req.Epochs != 100 {
		t.Errorf("train request: %+v", req)
	}
	if len(req.TrainWindows)+len(req.ValWindows) != job.Data.Len() {
		t.Errorf("train request carries %d+%d windows, dataset has %d", len(req.TrainWindows), len(req.ValWindows), job.Data.Len())
	}
	if req.EarlyStopping == nil || req.EarlyStopping.Monitor != "val_loss" {
		t.Errorf("early stopping: %+v", req.EarlyStopping)
	}
	var hp model.FNETParams
	if err := json.Unmarshal(req.Hparams, &hp); err != nil || hp.InputDim != 4 {
		t.Errorf("hparams: %s (%v)", req.Hparams, err)
	}

	ev, err := m.Evaluate(context.Background(), &trainer.EvalJob{Name: "test_1_UKDALE", Data: job.Data})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Metrics["f1"] != 0.7 || len(ev.Preds) != 3 {
		t.Errorf("evaluation: %+v", ev)
	}
	evReq := l.requests[1]
	if evReq.Action != trainer.ActionEvaluate || evReq.ModelDir != trainer.ModelDir || len(evReq.Windows) != job.Data.Len() {
		t.Errorf("eval request: %+v", evReq)
	}
	if evReq.Stats.MMax != job.Data.Stats.MMax {
		t.Errorf("eval request stats %+v, want training stats", evReq.Stats)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("expected workspace removed, found %d entries", len(entries))
	}
}

func TestProcessEpochsFallBackToBudget(t *testing.T) {
	p := trainer.NewProcess(&fakeLauncher{train: trainer.Result{Status: trainer.StatusOK}}, t.TempDir())
	m, err := p.Train(context.Background(), trainJob(t))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	defer m.Close()
	if m.Epochs() != 100 {
		t.Errorf("epochs: got %d, want budget 100", m.Epochs())
	}
}

func TestProcessTrainingFailure(t *testing.T) {
	tests := []struct {
		name   string
		l      *fakeLauncher
		reason string
	}{
		{"diverged status", &fakeLauncher{train: trainer.Result{Status: trainer.StatusDiverged, Message: "loss is nan"}}, "diverged"},
		{"crash without result status", &fakeLauncher{code: 1, train: trainer.Result{Status: trainer.StatusOK}}, "crashed"},
		{"timeout", &fakeLauncher{code: 124, timedOut: true, train: trainer.Result{Status: trainer.StatusOK}}, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			_, err := trainer.NewProcess(tt.l, root).Train(context.Background(), trainJob(t))
			var tf *trainer.TrainingFailure
			if !errors.As(err, &tf) {
				t.Fatalf("expected TrainingFailure, got %v", err)
			}
			if tf.Reason != tt.reason {
				t.Errorf("reason: got %q, want %q", tf.Reason, tt.reason)
			}
			if len(tt.l.requests[0].Segments) == 0 {
				t.Error("no segments were written")
			}
			entries, _ := os.ReadDir(root)
			if len(entries) != 0 {
				t.Error("failed workspace was not removed")
			}
		})
	}
}

func TestProcessEvaluationFailure(t *testing.T) {
	l := &fakeLauncher{
		train: trainer.Result{Status: trainer.StatusOK},
		eval:  trainer.Result{Status: trainer.StatusError, Message: "cuda out of memory"},
	}
	m, err := trainer.NewProcess(l, t.TempDir()).Train(context.Background(), trainJob(t))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	defer m.Close()
	_, err = m.Evaluate(context.Background(), &trainer.EvalJob{Name: "test_2_REFIT", Data: testDataset(t)})
	var ef *trainer.EvaluationFailure
	if !errors.As(err, &ef) || ef.Test != "test_2_REFIT" || ef.Reason != trainer.StatusError {
		t.Errorf("expected EvaluationFailure, got %v", err)
	}
}

func TestExitReason(t *testing.T) {
	tests := []struct {
		code     int
		timedOut bool
		want     string
	}{
		{0, false, "completed"},
		{1, false, "crashed"},
		{2, false, "diverged"},
		{124, true, "timeout"},
		{137, false, "killed"},
	}
	for _, tt := range tests {
		if got := trainer.ExitReason(tt.code, tt.timedOut); got != tt.want {
			t.Errorf("ExitReason(%d, %v) = %q, want %q", tt.code, tt.timedOut, got, tt.want)
		}
	}
}

func TestEarlyStoppingValidate(t *testing.T) {
	if err := trainer.DefaultEarlyStopping().Validate(); err != nil {
		t.Errorf("default policy: %v", err)
	}
	bad := []trainer.EarlyStopping{
		{Patience: 3, Mode: "min"},
		{Monitor: "val_loss", Patience: -1, Mode: "min"},
		{Monitor: "val_loss", Mode: "sideways"},
	}
	for _, es := range bad {
		if err := es.Validate(); err == nil {
			t.Errorf("expected error for %+v", es)
		}
	}
}

func TestExecLauncher(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	ws := t.TempDir()
	os.MkdirAll(filepath.Join(ws, "train"), 0o755)
	l := &trainer.ExecLauncher{Command: []string{"/bin/sh", "-c", `echo "$NILMBENCH_REQUEST" > out.txt; exit 3`}}
	exit, err := l.Launch(context.Background(), ws, "train/request.json")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if exit.Code != 3 || exit.TimedOut {
		t.Errorf("exit: %+v", exit)
	}
	out, _ := os.ReadFile(filepath.Join(ws, "out.txt"))
	if string(out) != "train/request.json\n" {
		t.Errorf("request env: got %q", out)
	}
}

func TestExecLauncherTimeout(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	l := &trainer.ExecLauncher{Command: []string{"/bin/sh", "-c", "sleep 30"}, Timeout: 200 * time.Millisecond}
	exit, err := l.Launch(context.Background(), t.TempDir(), "request.json")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if !exit.TimedOut || exit.Code != 124 {
		t.Errorf("exit: %+v", exit)
	}
}
