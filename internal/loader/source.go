package loader

import (
	"context"
	"strconv"
)

// Record is one row of a source. Columns and Values have the same length.
type Record struct {
	Columns []string
	Values  []string
}

// Source yields records until it returns io.EOF.
type Source interface {
	Next(ctx context.Context) (Record, error)
	// Name identifies the source in logs and progress output.
	Name() string
	Close() error
}

// columnNames names n columns after header, using c<i> for positions the
// header does not cover.
func columnNames(header []string, n int) []string {
	if len(header) >= n {
		return header[:n]
	}
	cols := make([]string, n)
	copy(cols, header)
	for i := len(header); i < n; i++ {
		cols[i] = "c" + strconv.Itoa(i)
	}
	return cols
}
