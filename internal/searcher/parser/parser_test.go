package parser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
)

var testSchema = schema.Schema{Fields: []schema.FieldSpec{
	{Name: "index", Indexed: true},
	{Name: "title", Indexed: true, Stored: true},
	{Name: "row", Stored: true},
}}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []Clause
	}{
		{"single term", "fox", []Clause{{Field: "index", Terms: []string{"fox"}}}},
		{"lowercased", "FOX", []Clause{{Field: "index", Terms: []string{"fox"}}}},
		{"several terms", "quick  fox", []Clause{
			{Field: "index", Terms: []string{"quick"}},
			{Field: "index", Terms: []string{"fox"}},
		}},
		{"phrase", `"the lazy"`, []Clause{{Field: "index", Terms: []string{"the", "lazy"}}}},
		{"quoted single word", `"Fox"`, []Clause{{Field: "index", Terms: []string{"fox"}}}},
		{"hyphenated word becomes phrase", "brown-fox", []Clause{{Field: "index", Terms: []string{"brown", "fox"}}}},
		{"punctuation only is dropped", "fox --- dog", []Clause{
			{Field: "index", Terms: []string{"fox"}},
			{Field: "index", Terms: []string{"dog"}},
		}},
		{"field term", "title:Go", []Clause{{Field: "title", Terms: []string{"go"}}}},
		{"field phrase", `title:"hello world"`, []Clause{{Field: "title", Terms: []string{"hello", "world"}}}},
		{"reserved chars inside quotes", `"a*b (c)"`, []Clause{{Field: "index", Terms: []string{"a", "b", "c"}}}},
		{"mixed", `fox title:"big dog" cat`, []Clause{
			{Field: "index", Terms: []string{"fox"}},
			{Field: "title", Terms: []string{"big", "dog"}},
			{Field: "index", Terms: []string{"cat"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Parse(tt.query, testSchema)
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan.Clauses)
			assert.Equal(t, tt.query, plan.RawQuery)
		})
	}
}

func TestParse_EmptyQuery(t *testing.T) {
	for _, q := range []string{"", "   ", "\t\n", "!!!"} {
		plan, err := Parse(q, testSchema)
		require.NoError(t, err, q)
		assert.True(t, plan.Empty(), q)
	}
}

func TestParse_SyntaxErrors(t *testing.T) {
	tests := map[string]string{
		"unterminated quote":  `"the lazy`,
		"empty phrase":        `""`,
		"punctuation phrase":  `"!!"`,
		"wildcard":            "fo*",
		"fuzzy":               "fox~",
		"boost":               "fox^2",
		"grouping":            "(fox)",
		"range":               "[a TO b]",
		"braces":              "{a}",
		"question mark":       "f?x",
		"empty field":         ":fox",
		"unknown field":       "colour:red",
		"non-indexed field":   "row:fox",
		"missing field value": "title: fox",
	}
	for name, q := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(q, testSchema)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrQuerySyntax), err.Error())
			assert.Equal(t, apperrors.ExitQuerySyntax, apperrors.ExitCode(err))
		})
	}
}

func TestParse_ErrorNamesOffendingField(t *testing.T) {
	_, err := Parse("colour:red", testSchema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colour")
}

func TestQueryPlan_StringAndTerms(t *testing.T) {
	plan, err := Parse(`Fox "the fox" title:fox`, testSchema)
	require.NoError(t, err)
	assert.Equal(t, `index:fox index:"the fox" title:fox`, plan.String())
	assert.Equal(t, []Clause{
		{Field: "index", Terms: []string{"fox"}},
		{Field: "index", Terms: []string{"the"}},
		{Field: "title", Terms: []string{"fox"}},
	}, plan.Terms())

	same, err := Parse(`  fox   "THE  fox"  title:FOX `, testSchema)
	require.NoError(t, err)
	assert.Equal(t, plan.String(), same.String())
}

func BenchmarkParse(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Parse(`quick brown title:"lazy dog" fox`, testSchema)
	}
}
