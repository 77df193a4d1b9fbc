// Package index holds the in-memory postings buffer of the index writer and
// the posting types shared by the segment codec and the query engine.
package index

import (
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/tokenizer"
)

// MemoryIndex accumulates postings, field lengths and stored values of the
// documents added since the last commit.
type MemoryIndex struct {
	mu    sync.RWMutex
	index map[TermKey]PostingList
	docs  []StoredDoc
	size  int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		index: make(map[TermKey]PostingList),
	}
}

// AddDocument tokenizes the indexed values and buffers the document. Callers
// must add documents in increasing id order.
func (m *MemoryIndex) AddDocument(docID DocID, indexed map[string]string, stored map[string]string) {
	fields := make([]string, 0, len(indexed))
	for field := range indexed {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	termData := make(map[TermKey]*Posting)
	lengths := make(map[string]int, len(indexed))
	for _, field := range fields {
		tokens := tokenizer.Tokenize(indexed[field], field)
		lengths[field] = len(tokens)
		for _, token := range tokens {
			key := TermKey{Field: token.Field, Term: token.Term}
			p, exists := termData[key]
			if !exists {
				p = &Posting{
					DocID:     docID,
					Positions: make([]int, 0, 4),
				}
				termData[key] = p
			}
			p.Frequency++
			p.Positions = append(p.Positions, token.Position)
		}
	}

	values := make(map[string]string, len(stored))
	var storedSize int64
	for name, value := range stored {
		values[name] = value
		storedSize += int64(len(name) + len(value))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, posting := range termData {
		m.index[key] = append(m.index[key], *posting)
		m.size += int64(len(key.Field) + len(key.Term) + len(posting.Positions)*8 + 64)
	}
	m.docs = append(m.docs, StoredDoc{
		DocID:   docID,
		Fields:  values,
		Lengths: lengths,
	})
	m.size += storedSize + 64
}

// Snapshot returns the buffered content as a segment batch.
func (m *MemoryIndex) Snapshot() Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]TermEntry, 0, len(m.index))
	for key, postings := range m.index {
		list := make(PostingList, len(postings))
		copy(list, postings)
		sort.Slice(list, func(i, j int) bool {
			return list[i].DocID < list[j].DocID
		})
		entries = append(entries, TermEntry{
			Field:    key.Field,
			Term:     key.Term,
			Postings: list,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return TermKey{entries[i].Field, entries[i].Term}.Less(TermKey{entries[j].Field, entries[j].Term})
	})
	docs := make([]StoredDoc, len(m.docs))
	copy(docs, m.docs)
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].DocID < docs[j].DocID
	})
	return Batch{Terms: entries, Docs: docs}
}

// Size is an estimate of the buffered bytes.
func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = make(map[TermKey]PostingList)
	m.docs = nil
	m.size = 0
}
