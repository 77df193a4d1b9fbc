package segment

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
)

// Reader serves one immutable segment. The vocabulary and the document table
// are held in memory; postings and stored records are read on demand.
type Reader struct {
	dir      string
	dict     []DictEntry
	postings *os.File
	stored   *os.File
	size     int64

	docIDs       []index.DocID
	offsets      []int64
	recordLens   []int
	lengthFields []string
	lengths      [][]uint32

	cache *lru.Cache[index.TermKey, index.PostingList]
}

// OpenReader opens the segment in dir. cacheSize bounds the number of decoded
// postings lists kept in memory; zero disables the cache.
func OpenReader(dir string, cacheSize int) (*Reader, error) {
	r := &Reader{dir: dir}
	if err := r.loadVocab(); err != nil {
		return nil, err
	}
	var err error
	r.postings, err = os.Open(filepath.Join(dir, PostingsFile))
	if err != nil {
		return nil, fmt.Errorf("opening postings: %w", err)
	}
	header := make([]byte, HeaderSize)
	if _, err := r.postings.ReadAt(header, 0); err != nil {
		r.Close()
		return nil, fmt.Errorf("reading postings header: %w", err)
	}
	if err := checkHeader(header, MagicPostings, PostingsFile); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.checkPostingsBounds(); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.loadStored(); err != nil {
		r.Close()
		return nil, err
	}
	if cacheSize > 0 {
		r.cache, _ = lru.New[index.TermKey, index.PostingList](cacheSize)
	}
	return r, nil
}

func (r *Reader) loadVocab() error {
	data, err := os.ReadFile(filepath.Join(r.dir, VocabFile))
	if err != nil {
		return fmt.Errorf("reading dictionary: %w", err)
	}
	if err := checkHeader(data, MagicVocab, VocabFile); err != nil {
		return err
	}
	if len(data) < HeaderSize+8 {
		return fmt.Errorf("%s: truncated: %w", VocabFile, errCorrupt)
	}
	count := binary.LittleEndian.Uint32(data[HeaderSize : HeaderSize+4])
	body := data[HeaderSize+4 : len(data)-4]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(data[len(data)-4:]) {
		return fmt.Errorf("%s: checksum mismatch: %w", VocabFile, errCorrupt)
	}
	if uint64(count) > uint64(len(body)) {
		return fmt.Errorf("%s: %d terms in %d bytes: %w", VocabFile, count, len(body), errCorrupt)
	}
	d := &decoder{buf: body}
	dict := make([]DictEntry, 0, count)
	for i := uint32(0); i < count && d.err == nil; i++ {
		dict = append(dict, DictEntry{
			Field:      d.string(),
			Term:       d.string(),
			DocFreq:    int(d.uvarint()),
			PostOffset: int64(d.uvarint()),
			PostLen:    int(d.uvarint()),
			PostCRC:    d.fixed32(),
		})
	}
	if d.err != nil {
		return fmt.Errorf("parsing dictionary: %w", d.err)
	}
	r.dict = dict
	r.size += int64(len(data))
	return nil
}

// checkPostingsBounds verifies every dictionary entry points inside
// postings.bin.
func (r *Reader) checkPostingsBounds() error {
	info, err := r.postings.Stat()
	if err != nil {
		return fmt.Errorf("stat postings: %w", err)
	}
	body := info.Size() - int64(HeaderSize)
	for _, e := range r.dict {
		if e.PostOffset < 0 || e.PostLen < 0 || e.PostOffset+int64(e.PostLen) > body {
			return fmt.Errorf("%s: postings of %s:%q out of range: %w", PostingsFile, e.Field, e.Term, errCorrupt)
		}
	}
	r.size += info.Size()
	return nil
}

func (r *Reader) loadStored() error {
	var err error
	r.stored, err = os.Open(filepath.Join(r.dir, StoredFile))
	if err != nil {
		return fmt.Errorf("opening stored fields: %w", err)
	}
	info, err := r.stored.Stat()
	if err != nil {
		return fmt.Errorf("stat stored fields: %w", err)
	}
	size := info.Size()
	if size < int64(HeaderSize+FooterSize) {
		return fmt.Errorf("%s: truncated: %w", StoredFile, errCorrupt)
	}
	header := make([]byte, HeaderSize)
	if _, err := r.stored.ReadAt(header, 0); err != nil {
		return fmt.Errorf("reading stored header: %w", err)
	}
	if err := checkHeader(header, MagicStored, StoredFile); err != nil {
		return err
	}
	footer := make([]byte, FooterSize)
	if _, err := r.stored.ReadAt(footer, size-int64(FooterSize)); err != nil {
		return fmt.Errorf("reading stored footer: %w", err)
	}
	docCount := int(binary.LittleEndian.Uint32(footer[0:4]))
	namesOffset := int64(binary.LittleEndian.Uint64(footer[4:12]))
	tableOffset := int64(binary.LittleEndian.Uint64(footer[12:20]))
	checksum := binary.LittleEndian.Uint32(footer[20:24])

	blockEnd := size - int64(FooterSize)
	if namesOffset < int64(HeaderSize) || tableOffset < namesOffset || tableOffset > blockEnd {
		return fmt.Errorf("%s: bad footer offsets: %w", StoredFile, errCorrupt)
	}
	block := make([]byte, blockEnd-namesOffset)
	if _, err := r.stored.ReadAt(block, namesOffset); err != nil {
		return fmt.Errorf("reading document table: %w", err)
	}
	if crc32.ChecksumIEEE(block) != checksum {
		return fmt.Errorf("%s: checksum mismatch: %w", StoredFile, errCorrupt)
	}

	d := &decoder{buf: block[:tableOffset-namesOffset]}
	n := d.uvarint()
	fields := make([]string, 0, n)
	for i := uint64(0); i < n && d.err == nil; i++ {
		fields = append(fields, d.string())
	}
	if d.err != nil {
		return fmt.Errorf("parsing length fields: %w", d.err)
	}

	table := block[tableOffset-namesOffset:]
	rowSize := 16 + 4*len(fields)
	if len(table) != docCount*rowSize {
		return fmt.Errorf("%s: document table size mismatch: %w", StoredFile, errCorrupt)
	}
	r.lengthFields = fields
	r.docIDs = make([]index.DocID, docCount)
	r.offsets = make([]int64, docCount)
	r.recordLens = make([]int, docCount)
	r.lengths = make([][]uint32, len(fields))
	for f := range fields {
		r.lengths[f] = make([]uint32, docCount)
	}
	for i := 0; i < docCount; i++ {
		row := table[i*rowSize:]
		r.docIDs[i] = index.DocID(binary.LittleEndian.Uint32(row[0:4]))
		r.offsets[i] = int64(binary.LittleEndian.Uint64(row[4:12]))
		r.recordLens[i] = int(binary.LittleEndian.Uint32(row[12:16]))
		for f := range fields {
			r.lengths[f][i] = binary.LittleEndian.Uint32(row[16+4*f:])
		}
	}
	r.size += size
	return nil
}

func (r *Reader) lookup(field, term string) (DictEntry, bool) {
	key := index.TermKey{Field: field, Term: term}
	idx := sort.Search(len(r.dict), func(i int) bool {
		return !(index.TermKey{Field: r.dict[i].Field, Term: r.dict[i].Term}).Less(key)
	})
	if idx >= len(r.dict) || r.dict[idx].Field != field || r.dict[idx].Term != term {
		return DictEntry{}, false
	}
	return r.dict[idx], true
}

// DocFreq returns the number of documents of this segment containing term in
// field, without touching the postings file.
func (r *Reader) DocFreq(field, term string) int {
	entry, ok := r.lookup(field, term)
	if !ok {
		return 0
	}
	return entry.DocFreq
}

// Search returns the postings of term in field. The returned list may be
// shared with the cache and must not be modified.
func (r *Reader) Search(field, term string) (index.PostingList, error) {
	key := index.TermKey{Field: field, Term: term}
	if r.cache != nil {
		if postings, ok := r.cache.Get(key); ok {
			return postings, nil
		}
	}
	entry, ok := r.lookup(field, term)
	if !ok {
		return nil, nil
	}
	postings, err := r.readPostings(entry)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Add(key, postings)
	}
	return postings, nil
}

func (r *Reader) readPostings(entry DictEntry) (index.PostingList, error) {
	path := filepath.Join(r.dir, PostingsFile)
	buf := make([]byte, entry.PostLen)
	if _, err := r.postings.ReadAt(buf, int64(HeaderSize)+entry.PostOffset); err != nil {
		return nil, apperrors.IO("reading postings", path, fmt.Errorf("term %s:%q: %w", entry.Field, entry.Term, err))
	}
	if crc32.ChecksumIEEE(buf) != entry.PostCRC {
		return nil, apperrors.IO("reading postings", path, fmt.Errorf("term %s:%q: checksum mismatch: %w", entry.Field, entry.Term, errCorrupt))
	}
	postings, err := decodePostings(buf)
	if err != nil {
		return nil, apperrors.IO("reading postings", path, fmt.Errorf("term %s:%q: %w", entry.Field, entry.Term, err))
	}
	return postings, nil
}

// ForEachTerm visits every term of the segment in (field, term) order with
// its decoded postings.
func (r *Reader) ForEachTerm(fn func(field, term string, postings index.PostingList) error) error {
	for _, entry := range r.dict {
		postings, err := r.readPostings(entry)
		if err != nil {
			return err
		}
		if err := fn(entry.Field, entry.Term, postings); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) ordinal(docID index.DocID) (int, bool) {
	i := sort.Search(len(r.docIDs), func(i int) bool {
		return r.docIDs[i] >= docID
	})
	if i >= len(r.docIDs) || r.docIDs[i] != docID {
		return 0, false
	}
	return i, true
}

// FieldLength returns the token count of field in docID, or zero.
func (r *Reader) FieldLength(docID index.DocID, field string) int {
	ord, ok := r.ordinal(docID)
	if !ok {
		return 0
	}
	for f, name := range r.lengthFields {
		if name == field {
			return int(r.lengths[f][ord])
		}
	}
	return 0
}

// Document returns the stored values of docID. The boolean is false when the
// document is not part of this segment.
func (r *Reader) Document(docID index.DocID) (map[string]string, bool, error) {
	ord, ok := r.ordinal(docID)
	if !ok {
		return nil, false, nil
	}
	fields, err := r.readRecord(ord)
	if err != nil {
		return nil, true, err
	}
	return fields, true, nil
}

func (r *Reader) readRecord(ord int) (map[string]string, error) {
	buf := make([]byte, r.recordLens[ord])
	if _, err := r.stored.ReadAt(buf, r.offsets[ord]); err != nil {
		return nil, fmt.Errorf("reading stored record of doc %d: %w", r.docIDs[ord], err)
	}
	raw, err := decompress(buf)
	if err != nil {
		return nil, err
	}
	return decodeFields(raw)
}

// Docs returns every document of the segment with its stored values and
// field lengths, in id order.
func (r *Reader) Docs() ([]index.StoredDoc, error) {
	docs := make([]index.StoredDoc, 0, len(r.docIDs))
	for ord, id := range r.docIDs {
		fields, err := r.readRecord(ord)
		if err != nil {
			return nil, err
		}
		lengths := make(map[string]int, len(r.lengthFields))
		for f, name := range r.lengthFields {
			if l := r.lengths[f][ord]; l > 0 {
				lengths[name] = int(l)
			}
		}
		docs = append(docs, index.StoredDoc{DocID: id, Fields: fields, Lengths: lengths})
	}
	return docs, nil
}

// DocIDs returns the ids of the segment's documents in ascending order.
func (r *Reader) DocIDs() []index.DocID {
	out := make([]index.DocID, len(r.docIDs))
	copy(out, r.docIDs)
	return out
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() int {
	return len(r.docIDs)
}

// SizeBytes is the on-disk size of the segment files.
func (r *Reader) SizeBytes() int64 {
	return r.size
}

func (r *Reader) Dir() string {
	return r.dir
}

func (r *Reader) Close() error {
	var firstErr error
	if r.postings != nil {
		if err := r.postings.Close(); err != nil {
			firstErr = err
		}
		r.postings = nil
	}
	if r.stored != nil {
		if err := r.stored.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.stored = nil
	}
	return firstErr
}
