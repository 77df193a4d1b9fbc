// Package parser turns a query string into a QueryPlan of term and phrase
// clauses. Clauses are OR-combined by the executor.
//
// Grammar:
//
//	query  = { clause }
//	clause = [ field ":" ] ( word | `"` text `"` )
//
// A word that tokenizes to several terms is a phrase; one that tokenizes to
// nothing is dropped.
package parser

import (
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
)

// reserved are operator characters of richer query syntaxes that this
// parser does not support outside of quotes.
const reserved = "*?~^()[]{}"

// Clause matches a single term, or a phrase when it has several terms.
type Clause struct {
	Field string   `json:"field"`
	Terms []string `json:"terms"`
}

// IsPhrase reports whether the clause needs positional matching.
func (c Clause) IsPhrase() bool {
	return len(c.Terms) > 1
}

func (c Clause) String() string {
	if c.IsPhrase() {
		return c.Field + `:"` + strings.Join(c.Terms, " ") + `"`
	}
	return c.Field + ":" + c.Terms[0]
}

type QueryPlan struct {
	Clauses  []Clause
	RawQuery string
}

// Empty reports a plan that matches nothing.
func (p *QueryPlan) Empty() bool {
	return len(p.Clauses) == 0
}

// String is the canonical form of the plan: equal strings evaluate to equal
// results on the same snapshot.
func (p *QueryPlan) String() string {
	parts := make([]string, len(p.Clauses))
	for i, c := range p.Clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}

// Terms returns every distinct (field, term) pair of the plan in first-use
// order.
func (p *QueryPlan) Terms() []Clause {
	seen := make(map[string]struct{})
	out := make([]Clause, 0)
	for _, c := range p.Clauses {
		for _, t := range c.Terms {
			key := c.Field + "\x00" + t
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, Clause{Field: c.Field, Terms: []string{t}})
		}
	}
	return out
}

// Parse parses query against the fields of s. Bare clauses search the
// schema's default field.
func Parse(query string, s schema.Schema) (*QueryPlan, error) {
	p := &parseState{input: []rune(query), schema: s, defaultField: s.DefaultField()}
	plan := &QueryPlan{RawQuery: query, Clauses: make([]Clause, 0)}
	for {
		p.skipSpace()
		if p.done() {
			break
		}
		clause, ok, err := p.clause()
		if err != nil {
			return nil, err
		}
		if ok {
			plan.Clauses = append(plan.Clauses, clause)
		}
	}
	if !plan.Empty() && p.defaultField == "" {
		for _, c := range plan.Clauses {
			if c.Field == "" {
				return nil, apperrors.QuerySyntax("schema has no indexed field for unqualified terms")
			}
		}
	}
	return plan, nil
}

type parseState struct {
	input        []rune
	pos          int
	schema       schema.Schema
	defaultField string
}

func (p *parseState) done() bool {
	return p.pos >= len(p.input)
}

func (p *parseState) skipSpace() {
	for !p.done() && unicode.IsSpace(p.input[p.pos]) {
		p.pos++
	}
}

func (p *parseState) clause() (Clause, bool, error) {
	start := p.pos
	if p.input[p.pos] == '"' {
		terms, err := p.quoted()
		if err != nil {
			return Clause{}, false, err
		}
		return Clause{Field: p.defaultField, Terms: terms}, true, nil
	}

	word, err := p.word()
	if err != nil {
		return Clause{}, false, err
	}
	field := p.defaultField
	if idx := strings.IndexRune(word, ':'); idx >= 0 {
		name := word[:idx]
		if name == "" {
			return Clause{}, false, apperrors.QuerySyntax("empty field name at offset %d", start)
		}
		if err := p.checkField(name); err != nil {
			return Clause{}, false, err
		}
		field = name
		word = word[idx+1:]
		if word == "" {
			if p.done() || p.input[p.pos] != '"' {
				return Clause{}, false, apperrors.QuerySyntax("missing value after field %q", name)
			}
			terms, err := p.quoted()
			if err != nil {
				return Clause{}, false, err
			}
			return Clause{Field: field, Terms: terms}, true, nil
		}
	}
	terms := tokenizer.Terms(word)
	if len(terms) == 0 {
		return Clause{}, false, nil
	}
	return Clause{Field: field, Terms: terms}, true, nil
}

// word reads up to the next space or quote.
func (p *parseState) word() (string, error) {
	start := p.pos
	for !p.done() {
		r := p.input[p.pos]
		if unicode.IsSpace(r) || r == '"' {
			break
		}
		if strings.ContainsRune(reserved, r) {
			return "", apperrors.QuerySyntax("unsupported character %q at offset %d", r, p.pos)
		}
		p.pos++
	}
	return string(p.input[start:p.pos]), nil
}

// quoted reads a phrase starting at an opening quote.
func (p *parseState) quoted() ([]string, error) {
	open := p.pos
	p.pos++
	start := p.pos
	for !p.done() && p.input[p.pos] != '"' {
		p.pos++
	}
	if p.done() {
		return nil, apperrors.QuerySyntax("unterminated quote at offset %d", open)
	}
	text := string(p.input[start:p.pos])
	p.pos++
	terms := tokenizer.Terms(text)
	if len(terms) == 0 {
		return nil, apperrors.QuerySyntax("empty phrase at offset %d", open)
	}
	return terms, nil
}

func (p *parseState) checkField(name string) error {
	spec, ok := p.schema.Lookup(name)
	if !ok {
		return apperrors.QuerySyntax("unknown field %q", name)
	}
	if !spec.Indexed {
		return apperrors.QuerySyntax("field %q is not indexed", name)
	}
	return nil
}
