package datasource

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/signalnine/nilmbench/internal/folds"
)

// CSV reads <path>/building_<n>.csv files with a header of
// timestamp, the input channels, then one column per appliance.
type CSV struct {
	name   string
	dir    string
	inputs []string
}

func NewCSV(cfg Config) (*CSV, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("csv datasource %q: path is required", cfg.Name)
	}
	info, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("csv datasource %q: %w", cfg.Name, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("csv datasource %q: %s is not a directory", cfg.Name, cfg.Path)
	}
	inputs := cfg.Inputs
	if len(inputs) == 0 {
		inputs = []string{"mains"}
	}
	return &CSV{name: cfg.Name, dir: cfg.Path, inputs: inputs}, nil
}

func (c *CSV) Name() string { return c.name }

func (c *CSV) Close() error { return nil }

func (c *CSV) BuildingFile(building int) string {
	return filepath.Join(c.dir, fmt.Sprintf("building_%d.csv", building))
}

func (c *CSV) Load(ctx context.Context, building int, device string, r folds.DateRange, period time.Duration) ([]Reading, error) {
	path := c.BuildingFile(building)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	inputIdx := make([]int, len(c.inputs))
	for i, name := range c.inputs {
		idx, ok := cols[name]
		if !ok {
			return nil, fmt.Errorf("%s: no input column %q", path, name)
		}
		inputIdx[i] = idx
	}
	meterIdx, ok := cols[device]
	if !ok {
		return nil, fmt.Errorf("%s: building %d has no meter for %q", path, building, device)
	}

	from, to := r.Bounds()
	var out []Reading
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		ts, err := parseTimestamp(rec[0])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		if ts.Before(from) || !ts.Before(to) {
			continue
		}
		reading := Reading{Time: ts, Inputs: make([]float64, len(inputIdx))}
		for i, idx := range inputIdx {
			if reading.Inputs[i], err = parseValue(rec[idx]); err != nil {
				return nil, fmt.Errorf("%s line %d: %w", path, line, err)
			}
		}
		if reading.Meter, err = parseValue(rec[meterIdx]); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		out = append(out, reading)
	}
	return Resample(out, period), nil
}

// parseTimestamp accepts RFC 3339 or Unix seconds.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if sec, err := strconv.ParseFloat(s, 64); err == nil {
		whole, frac := math.Modf(sec)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t.UTC(), nil
}

// parseValue treats empty and non-finite cells as zero power.
func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid reading %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, nil
	}
	return v, nil
}
