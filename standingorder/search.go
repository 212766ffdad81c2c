// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package standingorder evaluates saved searches and automatically
// queues copies of any newly matching file to a configured destination
// librarian.
package standingorder

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kbase/librarian/catalog"
)

// Predicate matches a subset of the catalog's files. args are the
// colon-separated parameters that followed the predicate name in a
// StandingOrder's search string.
type Predicate func(ctx context.Context, db *catalog.DB, args []string) ([]catalog.File, error)

// Predicates is a small registry mapping a search string's leading
// predicate name to the query that implements it. There is
// deliberately no general expression evaluator here: a StandingOrder's
// search string names one registered predicate and supplies its
// arguments, so the set of possible searches is exactly the set of
// predicates an operator has registered, never free-form SQL or code.
type Predicates map[string]Predicate

// DefaultPredicates returns the predicate set built in: "empty", which
// matches nothing, and "recent-and-like", which generalizes the two
// fixed test searches this package's search evaluator is modeled on
// into a single parameterized predicate.
func DefaultPredicates() Predicates {
	return Predicates{
		"empty":           matchNothing,
		"recent-and-like": recentAndLike,
	}
}

// Evaluate parses search as "<predicate>:<arg1>:<arg2>..." and runs
// the named predicate against db.
func (p Predicates) Evaluate(ctx context.Context, db *catalog.DB, search string) ([]catalog.File, error) {
	parts := strings.Split(search, ":")
	name, args := parts[0], parts[1:]

	predicate, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("unknown standing order predicate %q", name)
	}
	return predicate(ctx, db, args)
}

func matchNothing(ctx context.Context, db *catalog.DB, args []string) ([]catalog.File, error) {
	return nil, nil
}

// recentAndLike matches files created within the last <days> days
// whose name matches the SQL LIKE pattern <pattern>.
func recentAndLike(ctx context.Context, db *catalog.DB, args []string) ([]catalog.File, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("recent-and-like wants 2 arguments, got %d", len(args))
	}
	days, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("recent-and-like: invalid day count %q: %w", args[0], err)
	}
	pattern, err := likePatternToRegexp(args[1])
	if err != nil {
		return nil, fmt.Errorf("recent-and-like: invalid pattern %q: %w", args[1], err)
	}

	files, err := db.AllFiles(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var matches []catalog.File
	for _, f := range files {
		if f.CreateTime.After(cutoff) && pattern.MatchString(f.Name) {
			matches = append(matches, f)
		}
	}
	return matches, nil
}

// likePatternToRegexp translates a SQL LIKE pattern (% = any run of
// characters, _ = any single character) into an anchored regexp.
func likePatternToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
