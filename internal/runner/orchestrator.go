package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/signalnine/nilmbench/internal/catalog"
	"github.com/signalnine/nilmbench/internal/dataset"
	"github.com/signalnine/nilmbench/internal/datasource"
	"github.com/signalnine/nilmbench/internal/folds"
	"github.com/signalnine/nilmbench/internal/metrics"
	"github.com/signalnine/nilmbench/internal/model"
	"github.com/signalnine/nilmbench/internal/notify"
	"github.com/signalnine/nilmbench/internal/result"
	"github.com/signalnine/nilmbench/internal/trainer"
)

// TestSpec is one held-out evaluation slice.
type TestSpec struct {
	Building int             `json:"building"`
	Source   string          `json:"source"`
	Range    folds.DateRange `json:"range"`
}

// FoldJob trains one model and evaluates it on every test spec.
type FoldJob struct {
	RunID          string
	FoldID         string
	ExperimentType string
	// Iteration names the prediction files; the driver uses the fold index.
	Iteration int
	// BaseName is the experiment prefix; each test spec appends its own
	// suffix to it.
	BaseName string
	Train    trainer.TrainJob
	Tests    []TestSpec
}

type FoldOutcome struct {
	Epochs      int
	Experiments []string
	// Failed holds isolated evaluation failures.
	Failed []error
}

// Orchestrator runs the train-once, evaluate-many protocol of one fold.
type Orchestrator struct {
	Trainer  trainer.Trainer
	Opener   datasource.Opener
	Store    *result.Store
	Catalog  *catalog.Store
	Notifier notify.Notifier
	// IsolateFailures logs a failed evaluation and moves on to the next
	// test spec instead of aborting the fold.
	IsolateFailures bool
}

// ExperimentBase returns "<device>_<type>_Train_<trainSet>_".
func ExperimentBase(device, experimentType, trainSet string) string {
	return device + "_" + experimentType + "_Train_" + trainSet + "_"
}

// ExperimentName appends the test slice to a base name.
func ExperimentName(base string, spec TestSpec) string {
	return base + "test_" + strconv.Itoa(spec.Building) + "_" + spec.Source
}

func (o *Orchestrator) TrainAndEvaluate(ctx context.Context, job *FoldJob) (*FoldOutcome, error) {
	hp := job.Train.Hparams
	kind := hp.Kind()
	hparams, err := model.Marshal(hp)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	m, err := o.Trainer.Train(ctx, &job.Train)
	metrics.TrainingDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		var tf *trainer.TrainingFailure
		if !errors.As(err, &tf) {
			err = &trainer.TrainingFailure{Model: kind, Reason: "trainer", Err: err}
		}
		return nil, err
	}
	defer m.Close()

	out := &FoldOutcome{Epochs: m.Epochs()}
	for _, spec := range job.Tests {
		name := ExperimentName(job.BaseName, spec)
		fmt.Printf("  Evaluate house %d of %s for %s\n", spec.Building, spec.Source, spec.Range)
		err := o.evaluate(ctx, job, m, spec, name, hparams)
		if err == nil {
			out.Experiments = append(out.Experiments, name)
			continue
		}
		var ef *trainer.EvaluationFailure
		if o.IsolateFailures && errors.As(err, &ef) {
			log.Printf("warning: %v; continuing with the next test slice", err)
			out.Failed = append(out.Failed, err)
			continue
		}
		return out, err
	}
	return out, nil
}

// evaluate scores one spec and persists it. Only one evaluation dataset is
// alive at a time; it is dropped when this returns.
func (o *Orchestrator) evaluate(ctx context.Context, job *FoldJob, m trainer.Model, spec TestSpec, name, hparams string) error {
	device := job.Train.Device
	kind := string(job.Train.Hparams.Kind())
	start := time.Now()

	evalErr := func() error {
		data, err := dataset.BuildEval(ctx, o.Opener,
			dataset.SourceInfo{Source: spec.Source, Building: spec.Building, Range: spec.Range},
			dataset.Options{
				Device:       device,
				Window:       job.Train.Window,
				Rolling:      job.Train.Rolling,
				SamplePeriod: job.Train.SamplePeriod,
			},
			job.Train.Data.Stats)
		if err != nil {
			return &trainer.EvaluationFailure{Test: name, Reason: "dataset", Err: err}
		}
		ev, err := m.Evaluate(ctx, &trainer.EvalJob{Name: name, Data: data, Batch: job.Train.Batch})
		if err != nil {
			var ef *trainer.EvaluationFailure
			if !errors.As(err, &ef) {
				err = &trainer.EvaluationFailure{Test: name, Reason: "trainer", Err: err}
			}
			return err
		}
		key := result.Key{Device: device, Model: kind, ExperimentType: job.ExperimentType, Experiment: name}
		row := result.Row{Metrics: ev.Metrics, Epochs: m.Epochs(), Hparams: hparams}
		if err := o.Store.AppendReport(key, job.Iteration, row, data.Ground(), ev.Preds); err != nil {
			return err
		}
		metrics.ReportRowsWritten.Inc()
		o.notify(ctx, notify.Event{
			Kind: notify.Evaluated, RunID: job.RunID, Device: device, Model: kind, Window: job.Train.Window,
			Fold: job.Iteration, Experiment: name, Epochs: m.Epochs(), Metrics: ev.Metrics,
		})
		o.record(catalog.Evaluation{FoldID: job.FoldID, Experiment: name, Building: spec.Building,
			Source: spec.Source, Test: spec.Range.String(), Metrics: ev.Metrics})
		return nil
	}()

	metrics.EvaluationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	metrics.EvaluationsTotal.WithLabelValues(device, kind, metrics.Status(evalErr)).Inc()
	if evalErr != nil {
		o.record(catalog.Evaluation{FoldID: job.FoldID, Experiment: name, Building: spec.Building,
			Source: spec.Source, Test: spec.Range.String(), Err: evalErr})
	}
	return evalErr
}

func (o *Orchestrator) record(e catalog.Evaluation) {
	if o.Catalog == nil || e.FoldID == "" {
		return
	}
	if err := o.Catalog.RecordEvaluation(e); err != nil {
		log.Printf("warning: catalog: %v", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, e notify.Event) {
	if o.Notifier == nil {
		return
	}
	o.Notifier.Notify(ctx, e)
}
