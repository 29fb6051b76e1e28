// Package search provides a small, deterministic, concurrency-safe in-memory
// index used to pick what goes into the AI prompt: the catalog products and
// store-knowledge snippets most related to the customer's message.
//
// Scoring is Jaccard similarity between the query token set and each
// document's token set: score = |Q ∩ D| / |Q ∪ D|. The index is immutable
// after construction and ties sort stably (shorter text first, then ID).
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Document is an indexable text with a caller-chosen ID.
type Document struct {
	ID   string
	Text string
}

// Result is a ranked document with its similarity score.
type Result struct {
	ID      string
	Snippet string
	Score   float64
}

// Index ranks documents against a query.
type Index interface {
	TopK(query string, k int) []Result
	Len() int
}

// Option customizes index construction.
type Option func(*options)

type options struct {
	minRunes  int
	stopwords map[string]struct{}
	maxDocs   int
}

// WithMinRunes drops documents shorter than n runes.
func WithMinRunes(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.minRunes = n
		}
	}
}

// WithStopwords replaces the default stop-word list.
func WithStopwords(words []string) Option {
	return func(o *options) {
		o.stopwords = toSet(words)
	}
}

// WithMaxDocs caps how many documents are kept.
func WithMaxDocs(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxDocs = n
		}
	}
}

// DefaultStopwords are filler words common in shopping chats.
var DefaultStopwords = []string{
	"a", "an", "and", "are", "can", "do", "for", "have", "hi", "hello", "i", "i'd",
	"in", "is", "it", "me", "my", "of", "on", "please", "the", "to", "want", "what",
	"you", "your", "with", "would", "like",
}

type doc struct {
	id     string
	text   string
	tokens map[string]struct{}
	runes  int
}

type index struct {
	stop map[string]struct{}
	docs []doc
}

// New builds an index over docs. Blank or too-short documents are skipped.
func New(docs []Document, opts ...Option) Index {
	o := options{stopwords: toSet(DefaultStopwords)}
	for _, fn := range opts {
		fn(&o)
	}
	idx := &index{stop: o.stopwords, docs: make([]doc, 0, len(docs))}
	for _, d := range docs {
		text := strings.TrimSpace(collapseSpaces(d.Text))
		if text == "" {
			continue
		}
		n := utf8.RuneCountInString(text)
		if o.minRunes > 0 && n < o.minRunes {
			continue
		}
		toks := tokenize(text, o.stopwords)
		if len(toks) == 0 {
			continue
		}
		idx.docs = append(idx.docs, doc{id: d.ID, text: text, tokens: toks, runes: n})
		if o.maxDocs > 0 && len(idx.docs) >= o.maxDocs {
			break
		}
	}
	return idx
}

// Len reports how many documents were indexed.
func (i *index) Len() int { return len(i.docs) }

// TopK returns up to k documents with a positive score, best first.
// k <= 0 means 3.
func (i *index) TopK(query string, k int) []Result {
	if len(i.docs) == 0 || strings.TrimSpace(query) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	q := tokenize(query, i.stop)
	if len(q) == 0 {
		return nil
	}

	type hit struct {
		d     *doc
		score float64
	}
	var hits []hit
	for n := range i.docs {
		d := &i.docs[n]
		over := overlap(q, d.tokens)
		if over == 0 {
			continue
		}
		hits = append(hits, hit{d: d, score: float64(over) / float64(len(q)+len(d.tokens)-over)})
	}
	if len(hits) == 0 {
		return nil
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].score != hits[b].score {
			return hits[a].score > hits[b].score
		}
		if hits[a].d.runes != hits[b].d.runes {
			return hits[a].d.runes < hits[b].d.runes
		}
		return hits[a].d.id < hits[b].d.id
	})
	if k > len(hits) {
		k = len(hits)
	}
	out := make([]Result, k)
	for n := 0; n < k; n++ {
		out[n] = Result{ID: hits[n].d.id, Snippet: hits[n].d.text, Score: hits[n].score}
	}
	return out
}

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(strings.ToLower(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := stop[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func toSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			m[w] = struct{}{}
		}
	}
	return m
}
