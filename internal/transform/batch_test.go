package transform

import (
	"fmt"
	"testing"
)

func rows(n int) []TargetRow {
	out := make([]TargetRow, n)
	for i := range out {
		out[i] = TargetRow{Names: []string{"ID"}, Values: []any{int64(i)}}
	}
	return out
}

func TestChunk_Shapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n, size     int
		wantBatches int
		wantLast    int
	}{
		{n: 0, size: 100, wantBatches: 0},
		{n: 1, size: 100, wantBatches: 1, wantLast: 1},
		{n: 100, size: 100, wantBatches: 1, wantLast: 100},
		{n: 101, size: 100, wantBatches: 2, wantLast: 1},
		{n: 250, size: 100, wantBatches: 3, wantLast: 50},
		{n: 5, size: 1, wantBatches: 5, wantLast: 1},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(fmt.Sprintf("n=%d_size=%d", tc.n, tc.size), func(t *testing.T) {
			t.Parallel()

			batches, err := Chunk(rows(tc.n), tc.size)
			if err != nil {
				t.Fatalf("Chunk: %v", err)
			}
			if len(batches) != tc.wantBatches {
				t.Fatalf("got %d batches, want %d", len(batches), tc.wantBatches)
			}
			if tc.wantBatches > 0 {
				last := batches[len(batches)-1]
				if len(last) != tc.wantLast {
					t.Fatalf("last batch has %d rows, want %d", len(last), tc.wantLast)
				}
			}

			// Concatenation must reconstruct the input in order.
			i := 0
			for _, b := range batches {
				for _, r := range b {
					if r.Values[0] != int64(i) {
						t.Fatalf("row %d out of order: got %v", i, r.Values[0])
					}
					i++
				}
			}
			if i != tc.n {
				t.Fatalf("reconstructed %d rows, want %d", i, tc.n)
			}
		})
	}
}

func TestChunk_InvalidSize(t *testing.T) {
	t.Parallel()

	for _, size := range []int{0, -1} {
		if _, err := Chunk(rows(3), size); err == nil {
			t.Fatalf("Chunk(size=%d) succeeded, want error", size)
		}
	}
}
