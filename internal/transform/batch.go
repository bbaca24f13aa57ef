package transform

import "fmt"

// Chunk splits rows into batches of at most size, preserving arrival order.
// The last batch may be short. Concatenating the result reconstructs rows
// exactly; len(batches) == ceil(len(rows)/size).
//
// size <= 0 is a configuration error. Registry validation rejects it before
// any I/O, so hitting this path means a caller bypassed validation.
func Chunk(rows []TargetRow, size int) ([][]TargetRow, error) {
	if size <= 0 {
		return nil, fmt.Errorf("transform: batch size must be positive (got %d)", size)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	batches := make([][]TargetRow, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, rows[start:end])
	}
	return batches, nil
}
