package result

import "fmt"

// RowForIteration picks the report row displayed next to an iteration's
// predictions: row i-1 for iteration i > 0, row 0 otherwise.
func RowForIteration(rows []Row, iteration int) (Row, error) {
	i := 0
	if iteration > 0 {
		i = iteration - 1
	}
	if i >= len(rows) {
		return Row{}, fmt.Errorf("iteration %d: report has %d rows", iteration, len(rows))
	}
	return rows[i], nil
}

// Slice returns samples[from:to]. Reversed limits are swapped and both are
// clamped to the sample range; to <= 0 means through the end.
func Slice(samples []Sample, from, to int) []Sample {
	if to <= 0 {
		to = len(samples)
	}
	if from > to {
		from, to = to, from
	}
	from = max(from, 0)
	to = min(to, len(samples))
	if from >= to {
		return nil
	}
	return samples[from:to]
}
