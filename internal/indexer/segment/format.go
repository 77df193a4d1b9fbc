package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// File names inside a segment directory.
const (
	VocabFile    = "vocab.bin"
	PostingsFile = "postings.bin"
	StoredFile   = "stored.bin"
)

// Magic numbers identify each segment file; FormatVersion is bumped on any
// incompatible layout change.
const (
	MagicVocab    uint32 = 0x52535643
	MagicPostings uint32 = 0x52535053
	MagicStored   uint32 = 0x52535344
	FormatVersion uint32 = 2
	HeaderSize    int    = 8
	FooterSize    int    = 24
)

var errCorrupt = errors.New("corrupt segment data")

func putHeader(magic uint32) []byte {
	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	return header
}

func checkHeader(header []byte, magic uint32, name string) error {
	if len(header) < HeaderSize {
		return fmt.Errorf("%s: short header: %w", name, errCorrupt)
	}
	if got := binary.LittleEndian.Uint32(header[0:4]); got != magic {
		return fmt.Errorf("%s: bad magic bytes %x: %w", name, got, errCorrupt)
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != FormatVersion {
		return fmt.Errorf("%s: unsupported format version %d", name, v)
	}
	return nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// decoder walks a byte slice of uvarints and length-prefixed strings,
// remembering the first error.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.err = errCorrupt
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) fixed32() uint32 {
	if d.err != nil {
		return 0
	}
	if len(d.buf) < 4 {
		d.err = errCorrupt
		return 0
	}
	v := binary.LittleEndian.Uint32(d.buf)
	d.buf = d.buf[4:]
	return v
}

func (d *decoder) string() string {
	n := d.uvarint()
	if d.err != nil {
		return ""
	}
	if uint64(len(d.buf)) < n {
		d.err = errCorrupt
		return ""
	}
	s := string(d.buf[:n])
	d.buf = d.buf[n:]
	return s
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func compress(data []byte) []byte {
	enc := getZstdEncoder()
	defer zstdEncoderPool.Put(enc)
	return enc.EncodeAll(data, nil)
}

func decompress(data []byte) ([]byte, error) {
	dec := getZstdDecoder()
	defer zstdDecoderPool.Put(dec)
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing stored record: %w", err)
	}
	return out, nil
}

// encodeFields serialises stored values byte-exactly, sorted by name.
func encodeFields(names []string, fields map[string]string) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(names)))
	for _, name := range names {
		buf = appendString(buf, name)
		buf = appendString(buf, fields[name])
	}
	return buf
}

func decodeFields(data []byte) (map[string]string, error) {
	d := &decoder{buf: data}
	n := d.uvarint()
	fields := make(map[string]string, n)
	for i := uint64(0); i < n && d.err == nil; i++ {
		name := d.string()
		fields[name] = d.string()
	}
	if d.err != nil {
		return nil, fmt.Errorf("decoding stored record: %w", d.err)
	}
	return fields, nil
}
