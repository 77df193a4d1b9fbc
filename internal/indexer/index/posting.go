package index

// DocID identifies a document across every segment of an index. Ids are
// assigned in increasing order starting at 1 and are never reused.
type DocID uint32

// Posting records the occurrences of one term of one field in one document.
type Posting struct {
	DocID     DocID
	Frequency int
	Positions []int
}

// PostingList is kept sorted by DocID.
type PostingList []Posting

// TermKey is a vocabulary key: a normalised term scoped to a field.
type TermKey struct {
	Field string
	Term  string
}

type TermEntry struct {
	Field    string
	Term     string
	Postings PostingList
}

// StoredDoc carries the per-document data of a segment: the verbatim stored
// values and the token count of every indexed field.
type StoredDoc struct {
	DocID   DocID
	Fields  map[string]string
	Lengths map[string]int
}

// Batch is the content of one segment, ready to be written: terms sorted by
// (field, term) and documents sorted by id.
type Batch struct {
	Terms []TermEntry
	Docs  []StoredDoc
}

// Less orders term keys by field, then term.
func (k TermKey) Less(other TermKey) bool {
	if k.Field != other.Field {
		return k.Field < other.Field
	}
	return k.Term < other.Term
}
