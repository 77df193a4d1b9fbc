package loader

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
)

// SQLSource streams the rows of a SELECT. Column names come from the result
// set and NULL values read as "".
type SQLSource struct {
	query   string
	rows    *sql.Rows
	columns []string
	scan    []any
	values  []sql.NullString
}

// Queryer is satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func OpenSQL(ctx context.Context, db Queryer, query string) (*SQLSource, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.IO("querying", "database", fmt.Errorf("%s: %w", query, err))
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, apperrors.IO("reading columns of", "query", err)
	}
	s := &SQLSource{
		query:   query,
		rows:    rows,
		columns: columns,
		scan:    make([]any, len(columns)),
		values:  make([]sql.NullString, len(columns)),
	}
	for i := range s.values {
		s.scan[i] = &s.values[i]
	}
	return s, nil
}

func (s *SQLSource) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return Record{}, apperrors.IO("reading rows of", "query", err)
		}
		return Record{}, io.EOF
	}
	if err := s.rows.Scan(s.scan...); err != nil {
		return Record{}, apperrors.IO("scanning row of", "query", err)
	}
	values := make([]string, len(s.values))
	for i, v := range s.values {
		if v.Valid {
			values[i] = v.String
		}
	}
	return Record{Columns: s.columns, Values: values}, nil
}

func (s *SQLSource) Name() string {
	return "sql: " + s.query
}

func (s *SQLSource) Close() error {
	return s.rows.Close()
}
