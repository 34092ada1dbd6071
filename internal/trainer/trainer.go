// Package trainer hands training and evaluation jobs to the external
// deep-learning process and reads back what it produced.
package trainer

import (
	"context"
	"fmt"
	"time"

	"github.com/signalnine/nilmbench/internal/dataset"
	"github.com/signalnine/nilmbench/internal/model"
)

// EarlyStopping is the policy the trainer applies between epochs.
type EarlyStopping struct {
	Monitor  string  `yaml:"monitor" json:"monitor"`
	Patience int     `yaml:"patience" json:"patience"`
	MinDelta float64 `yaml:"min_delta" json:"min_delta"`
	Mode     string  `yaml:"mode" json:"mode"`
}

// DefaultEarlyStopping watches validation loss for three epochs.
func DefaultEarlyStopping() EarlyStopping {
	return EarlyStopping{Monitor: "val_loss", Patience: 3, Mode: "min"}
}

func (e EarlyStopping) Validate() error {
	if e.Monitor == "" {
		return fmt.Errorf("early stopping: monitor is required")
	}
	if e.Patience < 0 {
		return fmt.Errorf("early stopping: negative patience %d", e.Patience)
	}
	if e.Mode != "min" && e.Mode != "max" {
		return fmt.Errorf("early stopping: mode must be min or max, got %q", e.Mode)
	}
	return nil
}

type TrainJob struct {
	Device        string
	Hparams       model.Hparams
	Window        int
	Batch         int
	Epochs        int
	Rolling       bool
	SamplePeriod  time.Duration
	EarlyStopping EarlyStopping
	Data          *dataset.Dataset
	TrainIdx      []int
	ValIdx        []int
}

// EvalJob scores one held-out slice. Data carries the training stats.
type EvalJob struct {
	Name  string
	Data  *dataset.Dataset
	Batch int
}

type Evaluation struct {
	Metrics map[string]float64
	Preds   []float64
}

// Trainer fits one model per call. Train blocks until the external process
// is done.
type Trainer interface {
	Train(ctx context.Context, job *TrainJob) (Model, error)
}

// Model is a trained network that can be evaluated any number of times.
type Model interface {
	Evaluate(ctx context.Context, job *EvalJob) (*Evaluation, error)
	// Epochs reports how many epochs ran before training stopped.
	Epochs() int
	Close() error
}

// TrainingFailure means no usable model was produced.
type TrainingFailure struct {
	Model  model.Kind
	Reason string
	Err    error
}

func (e *TrainingFailure) Error() string {
	return fmt.Sprintf("training %s failed (%s): %v", e.Model, e.Reason, e.Err)
}

func (e *TrainingFailure) Unwrap() error { return e.Err }

// EvaluationFailure reports a failed evaluation of one test slice.
type EvaluationFailure struct {
	Test   string
	Reason string
	Err    error
}

func (e *EvaluationFailure) Error() string {
	return fmt.Sprintf("evaluating %s failed (%s): %v", e.Test, e.Reason, e.Err)
}

func (e *EvaluationFailure) Unwrap() error { return e.Err }
