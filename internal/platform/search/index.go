package search

import (
	"bytes"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Document is one indexable unit: the owning row id plus the text to index.
type Document struct {
	ID   uuid.UUID
	Text string
}

// Index is an inverted index over documents keyed by row id. Reads are
// lock-free against an immutable snapshot; writers serialise on a mutex and
// publish a fresh snapshot, so a bulk Load and incremental Adds can coexist
// with concurrent Search calls.
type Index struct {
	mu   sync.Mutex
	snap atomic.Pointer[postings]
}

type postings struct {
	byToken map[string]map[uuid.UUID]struct{}
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	idx := &Index{}
	idx.snap.Store(&postings{byToken: map[string]map[uuid.UUID]struct{}{}})
	return idx
}

// Load replaces the whole index with the given documents in one swap.
func (idx *Index) Load(docs []Document) {
	next := &postings{byToken: make(map[string]map[uuid.UUID]struct{})}
	for _, doc := range docs {
		for _, tok := range Tokenize(doc.Text) {
			ids, ok := next.byToken[tok]
			if !ok {
				ids = make(map[uuid.UUID]struct{})
				next.byToken[tok] = ids
			}
			ids[doc.ID] = struct{}{}
		}
	}
	idx.mu.Lock()
	idx.snap.Store(next)
	idx.mu.Unlock()
}

// Add indexes one document incrementally. Posting lists not touched by the
// document stay shared with the previous snapshot; touched ones are cloned
// so in-flight Search calls never observe a partial write.
func (idx *Index) Add(id uuid.UUID, text string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	cur := idx.snap.Load()
	next := &postings{byToken: make(map[string]map[uuid.UUID]struct{}, len(cur.byToken))}
	for tok, ids := range cur.byToken {
		next.byToken[tok] = ids
	}
	for _, tok := range Tokenize(text) {
		clone := make(map[uuid.UUID]struct{}, len(next.byToken[tok])+1)
		for prev := range next.byToken[tok] {
			clone[prev] = struct{}{}
		}
		clone[id] = struct{}{}
		next.byToken[tok] = clone
	}
	idx.snap.Store(next)
}

// Search returns the ids of all documents containing every token of the
// candidate, sorted ascending. An empty candidate matches nothing.
func (idx *Index) Search(candidate string) []uuid.UUID {
	tokens := Tokenize(candidate)
	if len(tokens) == 0 {
		return nil
	}
	snap := idx.snap.Load()

	// Intersect starting from the rarest posting list.
	sort.Slice(tokens, func(i, j int) bool {
		return len(snap.byToken[tokens[i]]) < len(snap.byToken[tokens[j]])
	})
	first, ok := snap.byToken[tokens[0]]
	if !ok {
		return nil
	}
	matched := make(map[uuid.UUID]struct{}, len(first))
	for id := range first {
		matched[id] = struct{}{}
	}
	for _, tok := range tokens[1:] {
		ids, ok := snap.byToken[tok]
		if !ok {
			return nil
		}
		for id := range matched {
			if _, ok := ids[id]; !ok {
				delete(matched, id)
			}
		}
		if len(matched) == 0 {
			return nil
		}
	}
	out := make([]uuid.UUID, 0, len(matched))
	for id := range matched {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
