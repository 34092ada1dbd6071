package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/spf13/afero"

	"github.com/signalnine/nilmbench/internal/catalog"
	"github.com/signalnine/nilmbench/internal/config"
	"github.com/signalnine/nilmbench/internal/dataset"
	"github.com/signalnine/nilmbench/internal/datasource"
	"github.com/signalnine/nilmbench/internal/descriptor"
	"github.com/signalnine/nilmbench/internal/folds"
	"github.com/signalnine/nilmbench/internal/metrics"
	"github.com/signalnine/nilmbench/internal/model"
	"github.com/signalnine/nilmbench/internal/notify"
	"github.com/signalnine/nilmbench/internal/result"
	"github.com/signalnine/nilmbench/internal/trainer"
	"github.com/signalnine/nilmbench/internal/tree"
)

// Deps are the collaborators a Driver needs besides its config. Catalog and
// Notifier are optional.
type Deps struct {
	Fs       afero.Fs
	Trainer  trainer.Trainer
	Opener   datasource.Opener
	Catalog  *catalog.Store
	Notifier notify.Notifier
	// TrainerRev is the revision of the trainer code, recorded with the run.
	TrainerRev string
}

// Driver walks the experiment grid. Its config is copied at construction
// and never changed afterwards.
type Driver struct {
	cfg  config.Config
	deps Deps
	orch *Orchestrator
	// Parallel is the number of devices run at once.
	Parallel int
}

func NewDriver(cfg config.Config, deps Deps) *Driver {
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	return &Driver{
		cfg:  cfg,
		deps: deps,
		orch: &Orchestrator{
			Trainer:         deps.Trainer,
			Opener:          deps.Opener,
			Store:           result.NewStore(deps.Fs, cfg.Root),
			Catalog:         deps.Catalog,
			Notifier:        deps.Notifier,
			IsolateFailures: cfg.Evaluation.IsolateFailures,
		},
		Parallel: 1,
	}
}

type runSummary struct {
	Devices        []string `json:"devices"`
	Models         []string `json:"models"`
	Windows        []int    `json:"windows"`
	Folds          int      `json:"folds"`
	Epochs         int      `json:"epochs"`
	ExperimentType string   `json:"experiment_type"`
	Backend        string   `json:"backend"`
}

// Run builds the results tree and trains every device, window, model and
// fold combination. The first failure stops a device; in sequential mode it
// stops the run.
func (d *Driver) Run(ctx context.Context) (err error) {
	root, err := tree.NewBuilder(d.deps.Fs).Build(d.cfg.TreeSpec(), d.cfg.Clean)
	if err != nil {
		return err
	}
	fmt.Printf("Results tree: %s\n", root)

	runID, err := d.startRun()
	if err != nil {
		return err
	}
	d.notify(ctx, notify.Event{Kind: notify.RunStarted, RunID: runID})
	defer func() {
		if d.deps.Catalog != nil {
			if cerr := d.deps.Catalog.FinishRun(runID, err); cerr != nil {
				log.Printf("warning: catalog: %v", cerr)
			}
		}
		ev := notify.Event{Kind: notify.RunFinished, RunID: runID}
		if err != nil {
			ev.Error = err.Error()
		}
		d.notify(context.WithoutCancel(ctx), ev)
	}()

	if d.Parallel <= 1 {
		for _, device := range d.cfg.Devices {
			if err := d.runDevice(ctx, runID, device); err != nil {
				return err
			}
		}
		return nil
	}

	jobs := make([]Job, len(d.cfg.Devices))
	for i, device := range d.cfg.Devices {
		jobs[i] = func(ctx context.Context) error {
			return d.runDevice(ctx, runID, device)
		}
	}
	return errors.Join(RunPool(ctx, d.Parallel, jobs)...)
}

func (d *Driver) startRun() (string, error) {
	if d.deps.Catalog == nil {
		return "", nil
	}
	s := runSummary{
		Devices:        d.cfg.Devices,
		Windows:        d.cfg.Windows,
		Folds:          d.cfg.Folds,
		Epochs:         d.cfg.Epochs,
		ExperimentType: d.cfg.ExperimentType,
		Backend:        d.cfg.Trainer.Backend,
	}
	for _, m := range d.cfg.Models {
		s.Models = append(s.Models, string(m.Kind))
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return d.deps.Catalog.StartRun(d.deps.TrainerRev, string(data))
}

func (d *Driver) runDevice(ctx context.Context, runID, device string) error {
	desc, err := descriptor.Load(d.cfg.TrainDir, d.cfg.ExperimentType, device)
	if err != nil {
		return fmt.Errorf("device %s: %w", device, err)
	}
	fs, err := folds.Make(desc.Range.Start, desc.Range.End, d.cfg.Folds, d.cfg.DropLast)
	if err != nil {
		return fmt.Errorf("device %s: %w", device, err)
	}
	// Reports of one device are only ever written from this goroutine.
	for _, window := range d.cfg.Windows {
		for _, spec := range d.cfg.Models {
			w, batch, rolling := spec.Kind.Windowing(window, d.cfg.Batch)
			if w < 1 {
				log.Printf("warning: %s: window %d is too short for %s, skipping", device, window, spec.Kind)
				continue
			}
			for _, hp := range spec.Hparams {
				hp = hp.ForWindow(w)
				for _, fold := range fs {
					if err := ctx.Err(); err != nil {
						return err
					}
					if err := d.runFold(ctx, runID, device, desc, hp, w, batch, rolling, fold); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func (d *Driver) runFold(ctx context.Context, runID, device string, desc *descriptor.Descriptor,
	hp model.Hparams, window, batch int, rolling bool, fold folds.Fold) (err error) {
	kind := string(hp.Kind())
	iteration := fold.Index + 1
	fmt.Printf("Running %s × %s window=%d fold %d/%d (test %s)...\n",
		device, kind, window, iteration, d.cfg.Folds, fold.Test)

	if len(fold.Train) == 0 {
		return &folds.InvalidRangeError{Reason: fmt.Sprintf("fold %d has no training ranges", iteration)}
	}
	infos := make([]dataset.SourceInfo, len(fold.Train))
	for i, r := range fold.Train {
		infos[i] = dataset.SourceInfo{Source: desc.TrainSet, Building: desc.TrainHouse, Range: r}
	}
	opts := dataset.Options{
		Device:       device,
		Window:       window,
		Rolling:      rolling,
		SamplePeriod: d.cfg.SamplePeriodDuration(),
	}
	data, err := dataset.Build(ctx, d.deps.Opener, infos, opts)
	if err != nil {
		return &trainer.TrainingFailure{Model: hp.Kind(), Reason: "dataset", Err: err}
	}
	trainIdx, valIdx := data.Split(d.cfg.TrainSplit, d.cfg.Seed)

	hparams, err := model.Marshal(hp)
	if err != nil {
		return err
	}
	foldID := d.startFold(catalog.Fold{
		RunID: runID, Device: device, Model: kind, Window: window,
		Hparams: hparams, Index: iteration, Test: fold.Test.String(),
	})
	d.notify(ctx, notify.Event{Kind: notify.FoldStarted, RunID: runID, Device: device, Model: kind, Window: window, Fold: iteration})

	job := &FoldJob{
		RunID:          runID,
		FoldID:         foldID,
		ExperimentType: d.cfg.ExperimentType,
		Iteration:      iteration,
		BaseName:       ExperimentBase(device, d.cfg.ExperimentType, desc.TrainSet),
		Train: trainer.TrainJob{
			Device:        device,
			Hparams:       hp,
			Window:        window,
			Batch:         batch,
			Epochs:        d.cfg.Epochs,
			Rolling:       rolling,
			SamplePeriod:  opts.SamplePeriod,
			EarlyStopping: d.cfg.EarlyStopping,
			Data:          data,
			TrainIdx:      trainIdx,
			ValIdx:        valIdx,
		},
		Tests: []TestSpec{{Building: desc.TrainHouse, Source: desc.TrainSet, Range: fold.Test}},
	}
	out, err := d.orch.TrainAndEvaluate(ctx, job)

	var epochs int
	if out != nil {
		epochs = out.Epochs
	}
	metrics.FoldsTotal.WithLabelValues(device, kind, metrics.Status(err)).Inc()
	if d.deps.Catalog != nil && foldID != "" {
		if cerr := d.deps.Catalog.FinishFold(foldID, epochs, err); cerr != nil {
			log.Printf("warning: catalog: %v", cerr)
		}
	}
	ev := notify.Event{Kind: notify.FoldFinished, RunID: runID, Device: device, Model: kind,
		Window: window, Fold: iteration, Epochs: epochs}
	if err != nil {
		ev.Error = err.Error()
	}
	d.notify(context.WithoutCancel(ctx), ev)

	if err != nil {
		return fmt.Errorf("%s %s window %d fold %d: %w", device, kind, window, iteration, err)
	}
	fmt.Printf("  Done: %d epochs, %d experiments\n", epochs, len(out.Experiments))
	return nil
}

func (d *Driver) startFold(f catalog.Fold) string {
	if d.deps.Catalog == nil || f.RunID == "" {
		return ""
	}
	id, err := d.deps.Catalog.StartFold(f)
	if err != nil {
		log.Printf("warning: catalog: %v", err)
		return ""
	}
	return id
}

func (d *Driver) notify(ctx context.Context, e notify.Event) {
	if d.deps.Notifier == nil {
		return
	}
	d.deps.Notifier.Notify(ctx, e)
}
