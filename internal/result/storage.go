package result

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// Store reads and writes experiment reports below <root>/results.
type Store struct {
	fs   afero.Fs
	root string
}

func NewStore(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

func (s *Store) Root() string { return s.root }

// Dir returns <root>/results/<device>/<model>/<experiment_type>/<experiment>.
func (s *Store) Dir(k Key) string {
	return filepath.Join(s.root, "results", k.Device, k.Model, k.ExperimentType, k.Experiment)
}

func ReportFile(experiment string) string {
	return "REPORT_" + experiment + ".csv"
}

func PredictionFile(experiment string, iteration int) string {
	return experiment + "_iter_" + strconv.Itoa(iteration) + ".csv"
}

// AppendReport adds one row to the experiment's cumulative report and writes
// the iteration's ground/prediction pairs, replacing any previous file for
// the same iteration. Concurrent calls for the same key must be serialized
// by the caller.
func (s *Store) AppendReport(k Key, iteration int, row Row, ground, preds []float64) error {
	dir := s.Dir(k)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return &StorageError{Op: "mkdir", Path: dir, Err: err}
	}

	reportPath := filepath.Join(dir, ReportFile(k.Experiment))
	records, err := s.loadRecords(reportPath)
	if err != nil {
		return err
	}
	records = append(records, formatRow(row))
	if err := s.writeCSV(reportPath, Columns, records); err != nil {
		return err
	}

	if len(ground) != len(preds) {
		log.Printf("warning: %s iteration %d: %d ground values vs %d predictions, keeping %d pairs",
			k, iteration, len(ground), len(preds), min(len(ground), len(preds)))
	}
	n := min(len(ground), len(preds))
	pairs := make([][]string, n)
	for i := 0; i < n; i++ {
		pairs[i] = []string{formatFloat(ground[i]), formatFloat(preds[i])}
	}
	return s.writeCSV(filepath.Join(dir, PredictionFile(k.Experiment, iteration)), []string{"ground", "preds"}, pairs)
}

// ReadReport parses the experiment's cumulative report in file order.
func (s *Store) ReadReport(k Key) ([]Row, error) {
	path := filepath.Join(s.Dir(k), ReportFile(k.Experiment))
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return nil, &StorageError{Op: "stat", Path: path, Err: err}
	}
	if !exists {
		return nil, &StorageError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	records, err := s.loadRecords(path)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		row, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+1, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadPredictions parses the ground/prediction pairs of one iteration.
func (s *Store) ReadPredictions(k Key, iteration int) ([]Sample, error) {
	path := filepath.Join(s.Dir(k), PredictionFile(k.Experiment, iteration))
	header, records, err := s.readCSV(path)
	if err != nil {
		return nil, err
	}
	if len(header) != 2 || header[0] != "ground" || header[1] != "preds" {
		return nil, fmt.Errorf("%s: unexpected header %v", path, header)
	}
	samples := make([]Sample, 0, len(records))
	for i, rec := range records {
		if len(rec) < 2 {
			return nil, fmt.Errorf("%s line %d: want 2 fields, got %d", path, i+2, len(rec))
		}
		g, err := parseFloat(rec[0])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		p, err := parseFloat(rec[1])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		samples = append(samples, Sample{Ground: g, Pred: p})
	}
	return samples, nil
}

// Keys lists every experiment directory that holds a report, sorted.
func (s *Store) Keys() ([]Key, error) {
	base := filepath.Join(s.root, "results")
	exists, err := afero.DirExists(s.fs, base)
	if err != nil {
		return nil, &StorageError{Op: "stat", Path: base, Err: err}
	}
	if !exists {
		return nil, nil
	}
	var keys []Key
	err = afero.Walk(s.fs, base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasPrefix(info.Name(), "REPORT_") || !strings.HasSuffix(info.Name(), ".csv") {
			return nil
		}
		rel, err := filepath.Rel(base, filepath.Dir(path))
		if err != nil {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 4 {
			return nil
		}
		keys = append(keys, Key{Device: parts[0], Model: parts[1], ExperimentType: parts[2], Experiment: parts[3]})
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "walk", Path: base, Err: err}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

// loadRecords returns the data rows of an existing report realigned to
// Columns, or nothing when the file does not exist yet.
func (s *Store) loadRecords(path string) ([][]string, error) {
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return nil, &StorageError{Op: "stat", Path: path, Err: err}
	}
	if !exists {
		return nil, nil
	}
	header, records, err := s.readCSV(path)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for name := range index {
		if !isColumn(name) {
			log.Printf("warning: %s: dropping unknown column %q", path, name)
		}
	}
	aligned := make([][]string, len(records))
	for r, rec := range records {
		out := make([]string, len(Columns))
		for c, name := range Columns {
			if i, ok := index[name]; ok && i < len(rec) {
				out[c] = rec[i]
			} else {
				out[c] = Missing
			}
		}
		aligned[r] = out
	}
	return aligned, nil
}

func (s *Store) readCSV(path string) ([]string, [][]string, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("%s: empty file", path)
	}
	if err != nil {
		return nil, nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	return header, records, nil
}

// writeCSV replaces path with a complete table via a temporary file.
func (s *Store) writeCSV(path string, header []string, records [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, buf.Bytes(), 0o644); err != nil {
		return &StorageError{Op: "write", Path: tmp, Err: err}
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		return &StorageError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

func formatRow(row Row) []string {
	out := make([]string, len(Columns))
	for i, name := range MetricColumns {
		if v, ok := row.Metrics[name]; ok && !math.IsNaN(v) {
			out[i] = formatFloat(v)
		} else {
			out[i] = Missing
		}
	}
	for name := range row.Metrics {
		if !isMetricColumn(name) {
			log.Printf("warning: metric %q is not part of the report schema, ignoring", name)
		}
	}
	out[6] = strconv.Itoa(row.Epochs)
	out[7] = row.Hparams
	return out
}

func parseRow(rec []string) (Row, error) {
	row := Row{Metrics: map[string]float64{}}
	for i, name := range MetricColumns {
		if isMissing(rec[i]) {
			continue
		}
		v, err := strconv.ParseFloat(rec[i], 64)
		if err != nil {
			return Row{}, fmt.Errorf("column %s: %w", name, err)
		}
		row.Metrics[name] = v
	}
	if !isMissing(rec[6]) {
		// Epochs may have been rewritten as a float ("100.0") by other tools.
		v, err := strconv.ParseFloat(rec[6], 64)
		if err != nil {
			return Row{}, fmt.Errorf("column %s: %w", ColEpochs, err)
		}
		row.Epochs = int(v)
	}
	row.Hparams = rec[7]
	return row, nil
}

func isMissing(s string) bool {
	s = strings.TrimSpace(s)
	return s == Missing || strings.EqualFold(s, "nan")
}

func isColumn(name string) bool {
	for _, c := range Columns {
		if c == name {
			return true
		}
	}
	return false
}

func isMetricColumn(name string) bool {
	for _, c := range MetricColumns {
		if c == name {
			return true
		}
	}
	return false
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseFloat(s string) (float64, error) {
	if isMissing(s) {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
