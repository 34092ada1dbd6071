// Package descriptor reads the training-set descriptor files that name the
// dataset, house and date span a device is trained on.
package descriptor

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/signalnine/nilmbench/internal/folds"
)

// Descriptor is one "train_set,train_house,start_date,end_date" line.
type Descriptor struct {
	TrainSet   string          `json:"train_set"`
	TrainHouse int             `json:"train_house"`
	Range      folds.DateRange `json:"range"`
}

// Path returns <trainDir>/base<experimentType>TrainSetsInfo_<device>.
func Path(trainDir, experimentType, device string) string {
	return filepath.Join(trainDir, fmt.Sprintf("base%sTrainSetsInfo_%s", experimentType, device))
}

// Load reads the descriptor for a device. Only the first line is used; any
// further lines are reported and ignored.
func Load(trainDir, experimentType, device string) (*Descriptor, error) {
	path := Path(trainDir, experimentType, device)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening descriptor: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	var (
		first string
		found bool
		extra int
	)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !found {
			first, found = line, true
			continue
		}
		extra++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if !found {
		return nil, fmt.Errorf("%s: empty descriptor", path)
	}
	if extra > 0 {
		log.Printf("warning: %s: using the first line, ignoring %d more", path, extra)
	}
	d, err := Parse(first)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Parse decodes a single descriptor line.
func Parse(line string) (*Descriptor, error) {
	toks := strings.Split(strings.TrimRight(line, "\r\n"), ",")
	if len(toks) < 4 {
		return nil, fmt.Errorf("descriptor line %q: want 4 fields, got %d", line, len(toks))
	}
	for i := range toks {
		toks[i] = strings.TrimSpace(toks[i])
	}
	if toks[0] == "" {
		return nil, fmt.Errorf("descriptor line %q: empty train set", line)
	}
	house, err := strconv.Atoi(toks[1])
	if err != nil {
		return nil, fmt.Errorf("descriptor line %q: invalid house %q", line, toks[1])
	}
	start, err := folds.ParseDate(toks[2])
	if err != nil {
		return nil, err
	}
	end, err := folds.ParseDate(toks[3])
	if err != nil {
		return nil, err
	}
	r, err := folds.NewDateRange(start, end)
	if err != nil {
		return nil, err
	}
	return &Descriptor{TrainSet: toks[0], TrainHouse: house, Range: r}, nil
}
