// Package notify publishes run progress events. Delivery is best effort: a
// failed publish is logged and never stops a run.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"time"
)

const (
	RunStarted   = "run_started"
	FoldStarted  = "fold_started"
	FoldFinished = "fold_finished"
	Evaluated    = "evaluated"
	RunFinished  = "run_finished"
)

type Event struct {
	Kind       string             `json:"event"`
	RunID      string             `json:"run_id,omitempty"`
	Device     string             `json:"device,omitempty"`
	Model      string             `json:"model,omitempty"`
	Window     int                `json:"window,omitempty"`
	Fold       int                `json:"fold"`
	Experiment string             `json:"experiment,omitempty"`
	Epochs     int                `json:"epochs,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Error      string             `json:"error,omitempty"`
	Time       time.Time          `json:"time"`
}

// Marshal renders the event as JSON, leaving out metrics JSON cannot hold.
func (e Event) Marshal() ([]byte, error) {
	if len(e.Metrics) > 0 {
		finite := make(map[string]float64, len(e.Metrics))
		for k, v := range e.Metrics {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				finite[k] = v
			}
		}
		e.Metrics = finite
	}
	return json.Marshal(e)
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
	Close() error
}

// Log writes events to the standard logger.
type Log struct{}

func (Log) Notify(ctx context.Context, e Event) error {
	switch {
	case e.Error != "":
		log.Printf("%s: %s %s window=%d fold=%d: %s", e.Kind, e.Device, e.Model, e.Window, e.Fold, e.Error)
	case e.Experiment != "":
		log.Printf("%s: %s fold=%d", e.Kind, e.Experiment, e.Fold)
	default:
		log.Printf("%s: run=%s %s %s window=%d fold=%d", e.Kind, e.RunID, e.Device, e.Model, e.Window, e.Fold)
	}
	return nil
}

func (Log) Close() error { return nil }

// Multi fans an event out to every notifier and logs individual failures.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			log.Printf("warning: notify %s: %v", e.Kind, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.Close())
	}
	return errors.Join(errs...)
}
