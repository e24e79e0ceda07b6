// Package index implements the prefix search index over countries and
// institutions.
//
// Every entity is identified by its position: countries first, then
// institutions, each in collection order. The index maps folded tokens to
// the sorted positions whose searchable text contains them. A query token
// matches every indexed token it is a prefix of.
package index

import (
	"cmp"
	"slices"
	"sort"
	"strings"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
)

const (
	scoreExact  = 2
	scorePrefix = 1
)

// Ref identifies an indexed entity independently of its position.
type Ref struct {
	Type core.EntityType `msgpack:"t"`
	ID   string          `msgpack:"id"`
}

// Index is immutable after Build or Load and safe for concurrent use.
type Index struct {
	tokens   []string
	postings [][]int32
	refs     []Ref
	entities []core.Entity
}

// Hit is a search result.
type Hit struct {
	Entity   core.Entity
	Score    int
	Position int
}

// Build indexes entities. Their order defines the position tie-break.
func Build(entities []core.Entity) *Index {
	byToken := make(map[string][]int32)
	refs := make([]Ref, len(entities))
	for i := range entities {
		e := &entities[i]
		refs[i] = Ref{Type: e.EntityType, ID: e.ID}
		for _, tok := range Tokenize(e.SearchText()) {
			byToken[tok] = append(byToken[tok], int32(i))
		}
	}

	tokens := make([]string, 0, len(byToken))
	for tok := range byToken {
		tokens = append(tokens, tok)
	}
	slices.Sort(tokens)

	postings := make([][]int32, len(tokens))
	for i, tok := range tokens {
		postings[i] = byToken[tok]
	}

	return &Index{
		tokens:   tokens,
		postings: postings,
		refs:     refs,
		entities: slices.Clone(entities),
	}
}

// Len returns the number of indexed entities.
func (ix *Index) Len() int { return len(ix.refs) }

// Tokens returns the number of distinct indexed tokens.
func (ix *Index) Tokens() int { return len(ix.tokens) }

// Search returns the entities matching every token of text, best first.
// Ties are broken by position. A limit <= 0 returns every match; empty or
// whitespace-only text returns nothing.
func (ix *Index) Search(text string, limit int) []Hit {
	terms := Tokenize(text)
	if len(terms) == 0 {
		return nil
	}

	var scores map[int32]int
	for _, term := range terms {
		termScores := ix.match(term)
		if scores == nil {
			scores = termScores
		} else {
			for pos, s := range scores {
				ts, ok := termScores[pos]
				if !ok {
					delete(scores, pos)
					continue
				}
				scores[pos] = s + ts
			}
		}
		if len(scores) == 0 {
			return nil
		}
	}

	hits := make([]Hit, 0, len(scores))
	for pos, score := range scores {
		hits = append(hits, Hit{Entity: ix.entities[pos].Clone(), Score: score, Position: int(pos)})
	}
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Position, b.Position)
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// match scores every position holding a token that starts with term. An
// exact token match beats a prefix-only match.
func (ix *Index) match(term string) map[int32]int {
	out := make(map[int32]int)
	start := sort.SearchStrings(ix.tokens, term)
	for i := start; i < len(ix.tokens) && strings.HasPrefix(ix.tokens[i], term); i++ {
		score := scorePrefix
		if ix.tokens[i] == term {
			score = scoreExact
		}
		for _, pos := range ix.postings[i] {
			out[pos] = max(out[pos], score)
		}
	}
	return out
}
