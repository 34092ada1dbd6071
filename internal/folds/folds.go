package folds

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

const day = 24 * time.Hour

// DateRange is an inclusive span of calendar days.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange truncates both ends to UTC midnight and checks ordering.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: truncate(start), End: truncate(end)}
	if r.End.Before(r.Start) {
		return DateRange{}, &InvalidRangeError{Reason: fmt.Sprintf("end %s before start %s", r.End.Format(dateLayout), r.Start.Format(dateLayout))}
	}
	return r, nil
}

// ParseDate parses a YYYY-MM-DD date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}

// Days returns the number of calendar days covered, both ends included.
func (r DateRange) Days() int {
	return daysBetween(r.Start, r.End) + 1
}

func (r DateRange) Contains(t time.Time) bool {
	t = truncate(t)
	return !t.Before(r.Start) && !t.After(r.End)
}

func (r DateRange) Overlaps(o DateRange) bool {
	return !r.End.Before(o.Start) && !o.End.Before(r.Start)
}

// Bounds returns the half-open instant interval [Start, End+1day).
func (r DateRange) Bounds() (from, to time.Time) {
	return r.Start, r.End.Add(day)
}

func (r DateRange) String() string {
	return r.Start.Format(dateLayout) + ".." + r.End.Format(dateLayout)
}

// Fold is one cross-validation partition.
type Fold struct {
	Index int         `json:"index"`
	Test  DateRange   `json:"test"`
	Train []DateRange `json:"train"`
}

// InvalidRangeError reports unusable fold parameters.
type InvalidRangeError struct {
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return "invalid fold range: " + e.Reason
}

// Make splits [start, end] into count contiguous chronological folds. Each
// fold tests on one chunk and trains on the chunks before and after it. When
// the day count does not divide evenly, the residue goes to the last fold, or
// is left out of every range when dropLast is set.
func Make(start, end time.Time, count int, dropLast bool) ([]Fold, error) {
	if count < 1 {
		return nil, &InvalidRangeError{Reason: fmt.Sprintf("fold count %d < 1", count)}
	}
	span, err := NewDateRange(start, end)
	if err != nil {
		return nil, err
	}
	n := span.Days()
	if count > n {
		return nil, &InvalidRangeError{Reason: fmt.Sprintf("%d folds over %d days leaves empty folds", count, n)}
	}
	chunk := n / count
	residue := n % count

	last := span.End
	if dropLast {
		last = last.AddDate(0, 0, -residue)
	}

	folds := make([]Fold, 0, count)
	for i := 0; i < count; i++ {
		testStart := span.Start.AddDate(0, 0, i*chunk)
		testEnd := testStart.AddDate(0, 0, chunk-1)
		if i == count-1 {
			testEnd = last
		}
		f := Fold{Index: i, Test: DateRange{Start: testStart, End: testEnd}}
		if i > 0 {
			f.Train = append(f.Train, DateRange{Start: span.Start, End: testStart.AddDate(0, 0, -1)})
		}
		if testEnd.Before(last) {
			f.Train = append(f.Train, DateRange{Start: testEnd.AddDate(0, 0, 1), End: last})
		}
		folds = append(folds, f)
	}
	return folds, nil
}

func truncate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(a, b time.Time) int {
	return int(truncate(b).Sub(truncate(a)) / day)
}
