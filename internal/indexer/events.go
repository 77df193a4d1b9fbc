package indexer

import "time"

// IndexCompleteEvent announces that a bulk load or merge published new
// metadata. Query servers watching Dir reload their snapshot when it arrives.
type IndexCompleteEvent struct {
	Dir         string    `json:"dir"`
	Version     Version   `json:"version"`
	Operation   string    `json:"operation"`
	Docs        int       `json:"docs"`
	Segments    int       `json:"segments"`
	CompletedAt time.Time `json:"completed_at"`
}

// CompleteEvent describes the state w last published.
func (w *Writer) CompleteEvent(operation string) IndexCompleteEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return IndexCompleteEvent{
		Dir:         w.store.Dir(),
		Version:     Version{IndexID: w.meta.IndexID, Generation: w.meta.Generation},
		Operation:   operation,
		Docs:        w.meta.DocCount(),
		Segments:    len(w.meta.Segments),
		CompletedAt: time.Now().UTC(),
	}
}
