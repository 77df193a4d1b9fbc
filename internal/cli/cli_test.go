package cli

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
)

const peopleCSV = `ada,lovelace,analytical engine
charles,babbage,difference engine
grace,hopper,compiler
`

type runResult struct {
	stdout string
	stderr string
	code   int
}

func run(t *testing.T, args ...string) runResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, &stdout, &stderr)
	return runResult{stdout: stdout.String(), stderr: stderr.String(), code: code}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// indexPeople builds an index of peopleCSV and returns its directory.
func indexPeople(t *testing.T, extra ...string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "idx")
	csv := writeFile(t, "people.csv", peopleCSV)
	res := run(t, append([]string{"index", csv, "--index-dir", dir}, extra...)...)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)
	return dir
}

func lines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestIndexAndSearch(t *testing.T) {
	dir := indexPeople(t)

	res := run(t, "search", "engine", "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)
	assert.Equal(t, []string{
		"ada | lovelace | analytical engine",
		"charles | babbage | difference engine",
	}, lines(res.stdout))

	res = run(t, "search", `"analytical engine"`, "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)
	assert.Equal(t, []string{"ada | lovelace | analytical engine"}, lines(res.stdout))

	res = run(t, "search", "nobody", "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)
	assert.Empty(t, res.stdout)
}

func TestShorthandFlags(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	csv := writeFile(t, "people.csv", peopleCSV)

	res := run(t, "-i", csv, "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)
	assert.Equal(t, "Indexing "+csv+"\n", res.stdout)

	res = run(t, "-s", "hopper", "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)
	assert.Equal(t, "grace | hopper | compiler\n", res.stdout)

	res = run(t, "-i", csv, "-s", "hopper", "--index-dir", dir)
	assert.NotEqual(t, apperrors.ExitOK, res.code)
}

func TestNoArgumentsPrintsHelp(t *testing.T) {
	res := run(t, "--index-dir", t.TempDir())
	assert.Equal(t, apperrors.ExitOK, res.code)
	assert.Contains(t, res.stdout, "Usage:")
	assert.Contains(t, res.stdout, "--search")
}

func TestExitCodes(t *testing.T) {
	dir := indexPeople(t)
	missing := filepath.Join(t.TempDir(), "missing")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"missing csv", []string{"index", filepath.Join(missing, "nope.csv"), "--index-dir", missing}, apperrors.ExitIO},
		{"missing index", []string{"search", "ada", "--index-dir", missing}, apperrors.ExitIO},
		{"merge missing index", []string{"merge", "--index-dir", missing}, apperrors.ExitIO},
		{"unterminated quote", []string{"search", `"analytical`, "--index-dir", dir}, apperrors.ExitQuerySyntax},
		{"unknown field", []string{"search", "color:red", "--index-dir", dir}, apperrors.ExitQuerySyntax},
		{"index without input", []string{"index", "--index-dir", dir}, apperrors.ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, tt.args...)
			assert.Equal(t, tt.want, res.code, res.stderr)
			assert.True(t, strings.HasPrefix(res.stderr, "rowsearch: ") || strings.Contains(res.stderr, "\nrowsearch: "), res.stderr)
		})
	}
}

func TestIndexLockConflict(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	w, err := indexer.Open(context.Background(), dir, schema.Default(), indexer.ModeCreate, indexer.Options{})
	require.NoError(t, err)
	defer w.Close()

	csv := writeFile(t, "people.csv", peopleCSV)
	res := run(t, "index", csv, "--index-dir", dir)
	assert.Equal(t, apperrors.ExitLockConflict, res.code, res.stderr)
}

func TestSearchLimitAndJSON(t *testing.T) {
	dir := indexPeople(t)

	res := run(t, "search", "engine", "-n", "1", "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)
	assert.Equal(t, []string{"ada | lovelace | analytical engine"}, lines(res.stdout))

	res = run(t, "search", "engine compiler", "--json", "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)
	var result executor.SearchResult
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &result))
	assert.Equal(t, "engine compiler", result.Query)
	assert.Equal(t, 3, result.TotalHits)
	require.Len(t, result.Results, 3)
	assert.Equal(t, "grace | hopper | compiler", result.Results[0].Fields["row"], "the shortest row ranks first")
}

func TestIndexAppendContinuesIds(t *testing.T) {
	dir := indexPeople(t)
	more := writeFile(t, "more.csv", "alan,turing,universal engine\n")

	res := run(t, "index", more, "--append", "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)

	res = run(t, "search", "engine", "--json", "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)
	var result executor.SearchResult
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &result))
	require.Len(t, result.Results, 3)
	assert.EqualValues(t, 4, result.Results[2].DocID)
	assert.Equal(t, "alan | turing | universal engine", result.Results[2].Fields["row"])
}

func TestIndexHeaderAndDelimiter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	csv := writeFile(t, "people.tsv", "first\tlast\nada\tlovelace\n")

	res := run(t, "index", csv, "--header", "--delimiter", "\t", "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)

	res = run(t, "search", "first", "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)
	assert.Empty(t, res.stdout, "the header row is not indexed")

	res = run(t, "search", "lovelace", "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)
	assert.Equal(t, "ada | lovelace\n", res.stdout)
}

func TestIndexFromSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "people.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT, note TEXT)`,
		`INSERT INTO people (name, note) VALUES ('ada', 'analytical engine')`,
		`INSERT INTO people (name, note) VALUES ('grace', NULL)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	dir := filepath.Join(t.TempDir(), "idx")
	res := run(t, "index", "--sql", "SELECT name, note FROM people ORDER BY id", "--sqlite", dbPath, "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)

	res = run(t, "search", "grace analytical", "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)
	assert.ElementsMatch(t, []string{"ada | analytical engine", "grace | "}, lines(res.stdout))

	res = run(t, "index", "--sqlite", dbPath, "--index-dir", dir)
	assert.Equal(t, apperrors.ExitFailure, res.code)
}

func TestMergeAndStats(t *testing.T) {
	t.Setenv("RS_INDEX_SEGMENT_MAX_SIZE", "1")
	dir := indexPeople(t, "--no-merge")

	res := run(t, "stats", "--json", "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)
	var before indexer.Stats
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &before))
	assert.Equal(t, 3, before.Docs)
	assert.Len(t, before.Segments, 3)

	res = run(t, "merge", "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)

	res = run(t, "stats", "--json", "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)
	var after indexer.Stats
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &after))
	assert.Equal(t, 3, after.Docs)
	require.Len(t, after.Segments, 1)
	assert.EqualValues(t, 1, after.Segments[0].MinDocID)
	assert.EqualValues(t, 3, after.Segments[0].MaxDocID)
	assert.Greater(t, after.Generation, before.Generation)

	res = run(t, "search", "engine", "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)
	assert.Len(t, lines(res.stdout), 2)

	res = run(t, "stats", "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Documents:  3")
	assert.Contains(t, res.stdout, "SEGMENT")
	assert.Contains(t, res.stdout, "index, row")
}

func TestPrintFieldFallsBackToStoredFields(t *testing.T) {
	t.Setenv("RS_SEARCH_PRINT_FIELD", "missing")
	dir := indexPeople(t)

	res := run(t, "search", "hopper", "--index-dir", dir)
	require.Equal(t, apperrors.ExitOK, res.code, res.stderr)
	assert.Equal(t, "grace | hopper | compiler\n", res.stdout)
}
