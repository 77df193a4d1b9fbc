package loader

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"

	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
)

// CSVOptions control how a CSV file is parsed. The zero value reads
// comma-separated rows without a header.
type CSVOptions struct {
	Header     bool
	Delimiter  rune
	Comment    rune
	LazyQuotes bool
}

// CSVSource reads records from a CSV file. Rows may have differing widths.
type CSVSource struct {
	path   string
	file   *os.File
	reader *csv.Reader
	header []string
	// names caches the column names per row width.
	names map[int][]string
}

// OpenCSV opens path and, with opts.Header, consumes the header row.
func OpenCSV(path string, opts CSVOptions) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.IO("opening", path, err)
	}
	r := csv.NewReader(bufio.NewReaderSize(f, 1<<20))
	if opts.Delimiter != 0 {
		r.Comma = opts.Delimiter
	}
	r.Comment = opts.Comment
	r.LazyQuotes = opts.LazyQuotes
	r.FieldsPerRecord = -1

	s := &CSVSource{path: path, file: f, reader: r, names: make(map[int][]string)}
	if opts.Header {
		header, err := r.Read()
		switch {
		case errors.Is(err, io.EOF):
		case err != nil:
			f.Close()
			return nil, apperrors.IO("reading header of", path, err)
		default:
			s.header = header
		}
	}
	return s, nil
}

func (s *CSVSource) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	values, err := s.reader.Read()
	if errors.Is(err, io.EOF) {
		return Record{}, io.EOF
	}
	if err != nil {
		return Record{}, apperrors.IO("reading", s.path, err)
	}
	names, ok := s.names[len(values)]
	if !ok {
		names = columnNames(s.header, len(values))
		s.names[len(values)] = names
	}
	return Record{Columns: names, Values: values}, nil
}

// Header returns the header row, or nil without one.
func (s *CSVSource) Header() []string {
	return s.header
}

func (s *CSVSource) Name() string {
	return s.path
}

func (s *CSVSource) Close() error {
	return s.file.Close()
}
