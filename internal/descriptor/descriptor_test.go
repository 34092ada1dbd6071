package descriptor_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/signalnine/nilmbench/internal/descriptor"
	"github.com/signalnine/nilmbench/internal/folds"
)

func TestPath(t *testing.T) {
	got := descriptor.Path("benchmark/cv/train", "Single", "washing machine")
	want := filepath.Join("benchmark/cv/train", "baseSingleTrainSetsInfo_washing machine")
	if got != want {
		t.Errorf("Path: got %q, want %q", got, want)
	}
}

func TestLoadFirstLineOnly(t *testing.T) {
	dir := t.TempDir()
	content := "UKDALE,1,2014-01-01,2014-03-31\nREFIT,2,2015-01-01,2015-02-01\n"
	if err := os.WriteFile(descriptor.Path(dir, "Single", "kettle"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := descriptor.Load(dir, "Single", "kettle")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.TrainSet != "UKDALE" || d.TrainHouse != 1 {
		t.Errorf("got %+v", d)
	}
	if d.Range.String() != "2014-01-01..2014-03-31" {
		t.Errorf("range: got %s", d.Range)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(descriptor.Path(dir, "Single", "empty"), []byte("\n\n"), 0o644)

	if _, err := descriptor.Load(dir, "Single", "missing"); err == nil {
		t.Error("expected error for missing descriptor")
	}
	if _, err := descriptor.Load(dir, "Single", "empty"); err == nil {
		t.Error("expected error for empty descriptor")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr bool
	}{
		{"valid", "UKDALE,1,2014-01-01,2014-01-10", false},
		{"spaces and crlf", " UKDALE , 5 ,2014-01-01, 2014-01-10\r\n", false},
		{"too few fields", "UKDALE,1,2014-01-01", true},
		{"bad house", "UKDALE,one,2014-01-01,2014-01-10", true},
		{"bad date", "UKDALE,1,01/01/2014,2014-01-10", true},
		{"empty set", ",1,2014-01-01,2014-01-10", true},
		{"reversed", "UKDALE,1,2014-02-01,2014-01-10", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := descriptor.Parse(tt.line)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
		})
	}
}

func TestParseReversedIsInvalidRange(t *testing.T) {
	_, err := descriptor.Parse("UKDALE,1,2014-02-01,2014-01-10")
	var rangeErr *folds.InvalidRangeError
	if !errors.As(err, &rangeErr) {
		t.Errorf("expected InvalidRangeError, got %v", err)
	}
}
