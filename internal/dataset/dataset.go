// Package dataset turns raw readings into fixed-length windows and computes
// the normalization statistics that travel from training to evaluation.
package dataset

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/signalnine/nilmbench/internal/datasource"
	"github.com/signalnine/nilmbench/internal/folds"
)

// SourceInfo selects the readings of one building over one date range.
type SourceInfo struct {
	Source   string          `json:"source"`
	Building int             `json:"building"`
	Range    folds.DateRange `json:"range"`
}

type Options struct {
	Device       string
	Window       int
	Rolling      bool
	SamplePeriod time.Duration
}

// Stats are computed on training data only and reused unchanged for every
// evaluation of the model trained on it.
type Stats struct {
	MMax       float64   `json:"mmax"`
	Means      []float64 `json:"means"`
	Stds       []float64 `json:"stds"`
	MeterMeans float64   `json:"meter_means"`
	MeterStds  float64   `json:"meter_stds"`
}

type Segment struct {
	Info     SourceInfo
	Readings []datasource.Reading
}

// Ref locates a window: it starts at Offset within Segment.
type Ref struct {
	Segment int `json:"segment"`
	Offset  int `json:"offset"`
}

type Dataset struct {
	Segments []Segment
	Opts     Options
	Stats    Stats
	refs     []Ref
}

// Build loads every source range, windows it and computes Stats over all of
// it. Windows never span two segments.
func Build(ctx context.Context, opener datasource.Opener, infos []SourceInfo, opts Options) (*Dataset, error) {
	d, err := load(ctx, opener, infos, opts)
	if err != nil {
		return nil, err
	}
	stats, err := computeStats(d.Segments)
	if err != nil {
		return nil, err
	}
	d.Stats = stats
	return d, nil
}

// BuildEval loads one evaluation slice, carrying the training stats.
func BuildEval(ctx context.Context, opener datasource.Opener, info SourceInfo, opts Options, stats Stats) (*Dataset, error) {
	d, err := load(ctx, opener, []SourceInfo{info}, opts)
	if err != nil {
		return nil, err
	}
	d.Stats = stats
	return d, nil
}

func load(ctx context.Context, opener datasource.Opener, infos []SourceInfo, opts Options) (*Dataset, error) {
	if opts.Window < 1 {
		return nil, fmt.Errorf("window must be positive, got %d", opts.Window)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("no source ranges")
	}
	d := &Dataset{Opts: opts}
	for _, info := range infos {
		ds, err := opener.Open(ctx, info.Source)
		if err != nil {
			return nil, err
		}
		readings, err := ds.Load(ctx, info.Building, opts.Device, info.Range, opts.SamplePeriod)
		if err != nil {
			return nil, fmt.Errorf("loading %s building %d %s: %w", info.Source, info.Building, info.Range, err)
		}
		seg := len(d.Segments)
		d.Segments = append(d.Segments, Segment{Info: info, Readings: readings})
		n := 0
		for off := 0; off+opts.Window <= len(readings); off += stride(opts) {
			d.refs = append(d.refs, Ref{Segment: seg, Offset: off})
			n++
		}
		if n == 0 {
			log.Printf("warning: %s building %d %s: %d readings, shorter than window %d",
				info.Source, info.Building, info.Range, len(readings), opts.Window)
		}
	}
	if len(d.refs) == 0 {
		return nil, fmt.Errorf("no %d-sample windows in %d source ranges", opts.Window, len(infos))
	}
	return d, nil
}

func stride(opts Options) int {
	if opts.Rolling {
		return 1
	}
	return opts.Window
}

func computeStats(segs []Segment) (Stats, error) {
	var channels int
	for _, s := range segs {
		if len(s.Readings) > 0 {
			channels = len(s.Readings[0].Inputs)
			break
		}
	}
	if channels == 0 {
		return Stats{}, fmt.Errorf("no input channels in training data")
	}
	inputs := make([][]float64, channels)
	var meter []float64
	for _, s := range segs {
		for _, r := range s.Readings {
			for c := 0; c < channels && c < len(r.Inputs); c++ {
				if finite(r.Inputs[c]) {
					inputs[c] = append(inputs[c], r.Inputs[c])
				}
			}
			if finite(r.Meter) {
				meter = append(meter, r.Meter)
			}
		}
	}
	st := Stats{Means: make([]float64, channels), Stds: make([]float64, channels)}
	var err error
	for c := range inputs {
		if st.Means[c], st.Stds[c], err = meanStd(inputs[c]); err != nil {
			return Stats{}, fmt.Errorf("input channel %d: %w", c, err)
		}
	}
	if st.MeterMeans, st.MeterStds, err = meanStd(meter); err != nil {
		return Stats{}, fmt.Errorf("meter: %w", err)
	}
	st.MMax = floats.Max(inputs[0])
	return st, nil
}

// meanStd is the sample mean and standard deviation; a lone value has std 0.
func meanStd(x []float64) (mean, std float64, err error) {
	switch len(x) {
	case 0:
		return 0, 0, fmt.Errorf("no finite readings")
	case 1:
		return x[0], 0, nil
	}
	mean, std = stat.MeanStdDev(x, nil)
	if !finite(mean) || !finite(std) {
		return 0, 0, fmt.Errorf("non-finite normalization stats (mean %v, std %v)", mean, std)
	}
	return mean, std, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func (d *Dataset) Len() int { return len(d.refs) }

func (d *Dataset) Ref(i int) Ref { return d.refs[i] }

func (d *Dataset) Refs(idx []int) []Ref {
	out := make([]Ref, len(idx))
	for i, j := range idx {
		out[i] = d.refs[j]
	}
	return out
}

// Ground returns the target meter values of every segment, in order.
func (d *Dataset) Ground() []float64 {
	var out []float64
	for _, s := range d.Segments {
		for _, r := range s.Readings {
			out = append(out, r.Meter)
		}
	}
	return out
}

// Split shuffles window indices with a seeded generator and cuts them at
// trainFrac. The same seed always yields the same split.
func (d *Dataset) Split(trainFrac float64, seed uint64) (train, val []int) {
	n := d.Len()
	perm := rand.New(rand.NewPCG(seed, seed)).Perm(n)
	cut := int(trainFrac * float64(n))
	return perm[:cut], perm[cut:]
}
