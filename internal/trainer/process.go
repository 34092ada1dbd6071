package trainer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/signalnine/nilmbench/internal/dataset"
)

// Process is a Trainer backed by an external process. Every trained model
// owns a workspace directory under Root holding its checkpoint; evaluation
// jobs are laid out inside it so the process finds the checkpoint at
// ModelDir.
type Process struct {
	Launcher Launcher
	Root     string
	// Keep leaves workspaces on disk after Close.
	Keep bool
}

func NewProcess(l Launcher, root string) *Process {
	return &Process{Launcher: l, Root: root}
}

func (p *Process) Train(ctx context.Context, job *TrainJob) (Model, error) {
	kind := job.Hparams.Kind()
	hparams, err := json.Marshal(job.Hparams)
	if err != nil {
		return nil, &TrainingFailure{Model: kind, Reason: "invalid hparams", Err: err}
	}
	if err := os.MkdirAll(p.Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating trainer workspace root: %w", err)
	}
	ws, err := os.MkdirTemp(p.Root, "job-")
	if err != nil {
		return nil, fmt.Errorf("creating trainer workspace: %w", err)
	}
	es := job.EarlyStopping
	req := &Request{
		Action:        ActionTrain,
		Device:        job.Device,
		Model:         string(kind),
		Hparams:       hparams,
		Window:        job.Window,
		Batch:         job.Batch,
		Epochs:        job.Epochs,
		Rolling:       job.Rolling,
		SamplePeriodS: job.SamplePeriod.Seconds(),
		EarlyStopping: &es,
		TrainWindows:  job.Data.Refs(job.TrainIdx),
		ValWindows:    job.Data.Refs(job.ValIdx),
	}
	if err := os.MkdirAll(filepath.Join(ws, ModelDir), 0o755); err != nil {
		os.RemoveAll(ws)
		return nil, fmt.Errorf("creating model dir: %w", err)
	}
	res, err := p.run(ctx, ws, "train", req, job.Data)
	if err != nil {
		p.cleanup(ws)
		return nil, &TrainingFailure{Model: kind, Reason: "launch", Err: err}
	}
	if res.Status != StatusOK {
		p.cleanup(ws)
		return nil, &TrainingFailure{Model: kind, Reason: res.Status, Err: res.err()}
	}
	epochs := res.Epochs
	if epochs == 0 {
		epochs = job.Epochs
	}
	return &processModel{p: p, ws: ws, base: *req, epochs: epochs}, nil
}

// run writes the job, launches the process and maps its exit onto a Result.
func (p *Process) run(ctx context.Context, ws, sub string, req *Request, d *dataset.Dataset) (*Result, error) {
	rel, err := writeJob(ws, sub, req, d)
	if err != nil {
		return nil, err
	}
	exit, err := p.Launcher.Launch(ctx, ws, rel)
	if err != nil {
		return nil, err
	}
	if exit.Code != 0 {
		res, rerr := readResult(ws, req)
		if rerr == nil && res.Status != StatusOK {
			return res, nil
		}
		return &Result{
			Status:  ExitReason(exit.Code, exit.TimedOut),
			Message: fmt.Sprintf("trainer exited with code %d after %s", exit.Code, exit.Duration),
		}, nil
	}
	return readResult(ws, req)
}

func (p *Process) cleanup(ws string) {
	if p.Keep {
		return
	}
	if err := os.RemoveAll(ws); err != nil {
		log.Printf("warning: removing trainer workspace %s: %v", ws, err)
	}
}

type processModel struct {
	p      *Process
	ws     string
	base   Request
	epochs int

	mu    sync.Mutex
	evals int
}

func (m *processModel) Epochs() int { return m.epochs }

func (m *processModel) Evaluate(ctx context.Context, job *EvalJob) (*Evaluation, error) {
	m.mu.Lock()
	sub := fmt.Sprintf("eval-%d", m.evals)
	m.evals++
	m.mu.Unlock()

	req := m.base
	req.Action = ActionEvaluate
	req.Epochs = 0
	req.EarlyStopping = nil
	req.TrainWindows, req.ValWindows = nil, nil
	req.Segments = nil
	if job.Batch > 0 {
		req.Batch = job.Batch
	}
	req.Windows = job.Data.Refs(allIndices(job.Data.Len()))

	res, err := m.p.run(ctx, m.ws, sub, &req, job.Data)
	if err != nil {
		return nil, &EvaluationFailure{Test: job.Name, Reason: "launch", Err: err}
	}
	if res.Status != StatusOK {
		return nil, &EvaluationFailure{Test: job.Name, Reason: res.Status, Err: res.err()}
	}
	if !m.p.Keep {
		if err := os.RemoveAll(filepath.Join(m.ws, sub)); err != nil {
			log.Printf("warning: removing %s: %v", sub, err)
		}
	}
	return &Evaluation{Metrics: res.Metrics, Preds: res.Preds}, nil
}

func (m *processModel) Close() error {
	m.p.cleanup(m.ws)
	return nil
}

func (r *Result) err() error {
	if r.Message == "" {
		return fmt.Errorf("trainer reported %s", r.Status)
	}
	return fmt.Errorf("%s", r.Message)
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
