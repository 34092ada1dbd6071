// Package datasource loads raw meter readings for a building and date range
// from the configured stores.
package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalnine/nilmbench/internal/folds"
)

// Reading is one aggregate sample with the target appliance's meter value.
type Reading struct {
	Time   time.Time
	Inputs []float64
	Meter  float64
}

// Datasource exposes the readings of one dataset (UKDALE, REFIT, ...).
type Datasource interface {
	Name() string
	// Load returns readings of building for the given device within r,
	// resampled to period and ordered by time.
	Load(ctx context.Context, building int, device string, r folds.DateRange, period time.Duration) ([]Reading, error)
	Close() error
}

// Config describes how to reach one named dataset.
type Config struct {
	Name   string   `yaml:"name"`
	Driver string   `yaml:"driver"`
	Path   string   `yaml:"path"`
	DSNEnv string   `yaml:"dsn_env"`
	Table  string   `yaml:"table"`
	Inputs []string `yaml:"inputs"`
}

// Opener creates data sources by name.
type Opener interface {
	Open(ctx context.Context, name string) (Datasource, error)
}

// Registry opens data sources from their configs and caches them, so each
// dataset is connected once per run.
type Registry struct {
	mu      sync.Mutex
	configs map[string]Config
	open    map[string]Datasource
	lookup  func(string) string
}

// NewRegistry builds a registry; lookup resolves DSN environment variables.
func NewRegistry(configs []Config, lookup func(string) string) *Registry {
	r := &Registry{
		configs: make(map[string]Config, len(configs)),
		open:    map[string]Datasource{},
		lookup:  lookup,
	}
	for _, c := range configs {
		r.configs[c.Name] = c
	}
	return r
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.configs))
	for n := range r.configs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Open(ctx context.Context, name string) (Datasource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ds, ok := r.open[name]; ok {
		return ds, nil
	}
	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("unknown datasource %q", name)
	}
	var (
		ds  Datasource
		err error
	)
	switch cfg.Driver {
	case "csv", "":
		ds, err = NewCSV(cfg)
	case "postgres":
		dsn := ""
		if cfg.DSNEnv != "" && r.lookup != nil {
			dsn = r.lookup(cfg.DSNEnv)
		}
		if dsn == "" {
			return nil, fmt.Errorf("datasource %q: %s is not set", name, cfg.DSNEnv)
		}
		ds, err = NewPostgres(ctx, cfg, dsn)
	default:
		return nil, fmt.Errorf("datasource %q: unknown driver %q", name, cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening datasource %q: %w", name, err)
	}
	r.open[name] = ds
	return ds, nil
}

// Close closes every data source opened so far.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for name, ds := range r.open {
		if err := ds.Close(); err != nil && first == nil {
			first = fmt.Errorf("closing datasource %q: %w", name, err)
		}
		delete(r.open, name)
	}
	return first
}

// Resample averages readings into buckets of period, stamped with the bucket
// start. Input must be time ordered. Empty buckets are skipped.
func Resample(in []Reading, period time.Duration) []Reading {
	if period <= 0 || len(in) == 0 {
		return in
	}
	var (
		out   []Reading
		cur   Reading
		count int
	)
	flush := func() {
		if count == 0 {
			return
		}
		for i := range cur.Inputs {
			cur.Inputs[i] /= float64(count)
		}
		cur.Meter /= float64(count)
		out = append(out, cur)
		count = 0
	}
	for _, r := range in {
		bucket := r.Time.Truncate(period)
		if count > 0 && !bucket.Equal(cur.Time) {
			flush()
		}
		if count == 0 {
			cur = Reading{Time: bucket, Inputs: make([]float64, len(r.Inputs))}
		}
		for i, v := range r.Inputs {
			if i < len(cur.Inputs) {
				cur.Inputs[i] += v
			}
		}
		cur.Meter += r.Meter
		count++
	}
	flush()
	return out
}
