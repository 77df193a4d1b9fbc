package segment

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/index"
)

// DictEntry maps a term of a field to its postings list in postings.bin.
// PostOffset is relative to the end of the postings file header; PostCRC is
// the crc32 of the encoded list.
type DictEntry struct {
	Field      string
	Term       string
	PostOffset int64
	PostLen    int
	PostCRC    uint32
	DocFreq    int
}

// Info summarises a written segment.
type Info struct {
	TermCount int
	DocCount  int
	MinDocID  index.DocID
	MaxDocID  index.DocID
	SizeBytes int64
	CreatedAt time.Time
}

// Writer serialises batches into new segment directories under dataDir.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Write atomically creates the segment directory name containing batch. The
// files are written into name.tmp, synced, and the directory is renamed on
// success, so a crash never leaves a partially written segment under name.
func (w *Writer) Write(name string, batch index.Batch) (Info, error) {
	if len(batch.Docs) == 0 {
		return Info{}, fmt.Errorf("cannot write empty segment")
	}
	finalDir := filepath.Join(w.dataDir, name)
	tmpDir := finalDir + ".tmp"

	if err := os.RemoveAll(tmpDir); err != nil {
		return Info{}, fmt.Errorf("clearing temp segment directory: %w", err)
	}
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return Info{}, fmt.Errorf("creating temp segment directory: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			os.RemoveAll(tmpDir)
		}
	}()

	dict, postingsSize, err := writePostings(filepath.Join(tmpDir, PostingsFile), batch.Terms)
	if err != nil {
		return Info{}, err
	}
	vocabSize, err := writeVocab(filepath.Join(tmpDir, VocabFile), dict)
	if err != nil {
		return Info{}, err
	}
	storedSize, err := writeStored(filepath.Join(tmpDir, StoredFile), batch.Docs)
	if err != nil {
		return Info{}, err
	}
	if err := os.Rename(tmpDir, finalDir); err != nil {
		return Info{}, fmt.Errorf("renaming segment directory: %w", err)
	}
	ok = true
	if err := SyncDir(w.dataDir); err != nil {
		return Info{}, err
	}
	return Info{
		TermCount: len(dict),
		DocCount:  len(batch.Docs),
		MinDocID:  batch.Docs[0].DocID,
		MaxDocID:  batch.Docs[len(batch.Docs)-1].DocID,
		SizeBytes: postingsSize + vocabSize + storedSize,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// SyncDir fsyncs a directory so that renames inside it are durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening directory for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing directory %s: %w", dir, err)
	}
	return nil
}

// countingWriter tracks the number of bytes written through a buffered file.
type countingWriter struct {
	f   *os.File
	bw  *bufio.Writer
	n   int64
	err error
}

func newCountingWriter(path string) (*countingWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	return &countingWriter{f: f, bw: bufio.NewWriterSize(f, 64*1024)}, nil
}

func (c *countingWriter) write(p []byte) {
	if c.err != nil {
		return
	}
	n, err := c.bw.Write(p)
	c.n += int64(n)
	c.err = err
}

// finish flushes, syncs and closes the file.
func (c *countingWriter) finish() (int64, error) {
	name := filepath.Base(c.f.Name())
	if c.err != nil {
		c.f.Close()
		return 0, fmt.Errorf("writing %s: %w", name, c.err)
	}
	if err := c.bw.Flush(); err != nil {
		c.f.Close()
		return 0, fmt.Errorf("flushing %s: %w", name, err)
	}
	if err := c.f.Sync(); err != nil {
		c.f.Close()
		return 0, fmt.Errorf("syncing %s: %w", name, err)
	}
	if err := c.f.Close(); err != nil {
		return 0, fmt.Errorf("closing %s: %w", name, err)
	}
	return c.n, nil
}

func writePostings(path string, entries []index.TermEntry) ([]DictEntry, int64, error) {
	out, err := newCountingWriter(path)
	if err != nil {
		return nil, 0, err
	}
	out.write(putHeader(MagicPostings))

	dict := make([]DictEntry, 0, len(entries))
	var buf []byte
	var offset int64
	for _, entry := range entries {
		buf = encodePostings(buf[:0], entry.Postings)
		out.write(buf)
		dict = append(dict, DictEntry{
			Field:      entry.Field,
			Term:       entry.Term,
			PostOffset: offset,
			PostLen:    len(buf),
			PostCRC:    crc32.ChecksumIEEE(buf),
			DocFreq:    len(entry.Postings),
		})
		offset += int64(len(buf))
	}
	size, err := out.finish()
	if err != nil {
		return nil, 0, err
	}
	sort.SliceStable(dict, func(i, j int) bool {
		return index.TermKey{Field: dict[i].Field, Term: dict[i].Term}.Less(index.TermKey{Field: dict[j].Field, Term: dict[j].Term})
	})
	return dict, size, nil
}

// encodePostings appends a delta-encoded postings list: the count, then per
// posting the doc id delta, the frequency and the position deltas.
func encodePostings(buf []byte, postings index.PostingList) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(postings)))
	var prevDoc index.DocID
	for _, p := range postings {
		buf = binary.AppendUvarint(buf, uint64(p.DocID-prevDoc))
		buf = binary.AppendUvarint(buf, uint64(len(p.Positions)))
		prevPos := 0
		for _, pos := range p.Positions {
			buf = binary.AppendUvarint(buf, uint64(pos-prevPos))
			prevPos = pos
		}
		prevDoc = p.DocID
	}
	return buf
}

// decodePostings reverses encodePostings. Counts are checked against the
// bytes left, since every posting takes at least two bytes and every
// position one.
func decodePostings(data []byte) (index.PostingList, error) {
	d := &decoder{buf: data}
	n := d.uvarint()
	if n > uint64(len(d.buf)/2) {
		return nil, fmt.Errorf("decoding postings: count %d exceeds %d bytes: %w", n, len(d.buf), errCorrupt)
	}
	postings := make(index.PostingList, 0, n)
	var doc index.DocID
	for i := uint64(0); i < n && d.err == nil; i++ {
		doc += index.DocID(d.uvarint())
		rawFreq := d.uvarint()
		if rawFreq > uint64(len(d.buf)) {
			d.err = errCorrupt
			break
		}
		freq := int(rawFreq)
		positions := make([]int, 0, freq)
		pos := 0
		for j := 0; j < freq && d.err == nil; j++ {
			pos += int(d.uvarint())
			positions = append(positions, pos)
		}
		postings = append(postings, index.Posting{
			DocID:     doc,
			Frequency: freq,
			Positions: positions,
		})
	}
	if d.err != nil {
		return nil, fmt.Errorf("decoding postings: %w", d.err)
	}
	return postings, nil
}

func writeVocab(path string, dict []DictEntry) (int64, error) {
	out, err := newCountingWriter(path)
	if err != nil {
		return 0, err
	}
	out.write(putHeader(MagicVocab))
	count := make([]byte, 4)
	binary.LittleEndian.PutUint32(count, uint32(len(dict)))
	out.write(count)

	var body []byte
	for _, e := range dict {
		body = appendString(body, e.Field)
		body = appendString(body, e.Term)
		body = binary.AppendUvarint(body, uint64(e.DocFreq))
		body = binary.AppendUvarint(body, uint64(e.PostOffset))
		body = binary.AppendUvarint(body, uint64(e.PostLen))
		body = binary.LittleEndian.AppendUint32(body, e.PostCRC)
	}
	out.write(body)
	checksum := make([]byte, 4)
	binary.LittleEndian.PutUint32(checksum, crc32.ChecksumIEEE(body))
	out.write(checksum)
	return out.finish()
}

// writeStored lays out stored.bin: header, one zstd record per document, the
// names of the length-tracked fields, the document table and the footer.
func writeStored(path string, docs []index.StoredDoc) (int64, error) {
	out, err := newCountingWriter(path)
	if err != nil {
		return 0, err
	}
	out.write(putHeader(MagicStored))

	lengthFields := make(map[string]struct{})
	for _, doc := range docs {
		for field := range doc.Lengths {
			lengthFields[field] = struct{}{}
		}
	}
	fieldNames := make([]string, 0, len(lengthFields))
	for field := range lengthFields {
		fieldNames = append(fieldNames, field)
	}
	sort.Strings(fieldNames)

	type row struct {
		docID  index.DocID
		offset int64
		length int
	}
	rows := make([]row, 0, len(docs))
	for _, doc := range docs {
		names := make([]string, 0, len(doc.Fields))
		for name := range doc.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		record := compress(encodeFields(names, doc.Fields))
		rows = append(rows, row{docID: doc.DocID, offset: out.n, length: len(record)})
		out.write(record)
	}

	namesOffset := out.n
	block := binary.AppendUvarint(nil, uint64(len(fieldNames)))
	for _, name := range fieldNames {
		block = appendString(block, name)
	}
	tableOffset := namesOffset + int64(len(block))
	for i, r := range rows {
		block = binary.LittleEndian.AppendUint32(block, uint32(r.docID))
		block = binary.LittleEndian.AppendUint64(block, uint64(r.offset))
		block = binary.LittleEndian.AppendUint32(block, uint32(r.length))
		for _, field := range fieldNames {
			block = binary.LittleEndian.AppendUint32(block, uint32(docs[i].Lengths[field]))
		}
	}
	out.write(block)

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], uint32(len(rows)))
	binary.LittleEndian.PutUint64(footer[4:12], uint64(namesOffset))
	binary.LittleEndian.PutUint64(footer[12:20], uint64(tableOffset))
	binary.LittleEndian.PutUint32(footer[20:24], crc32.ChecksumIEEE(block))
	out.write(footer)
	return out.finish()
}
