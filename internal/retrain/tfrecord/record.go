package tfrecord

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const maskDelta uint32 = 0xa282ead8

// MaxRecordSize bounds the payload length the Reader accepts from a record header.
const MaxRecordSize = 256 << 20

// ErrCorruptRecord is returned when a length or payload checksum does not match.
var ErrCorruptRecord = errors.New("tfrecord: corrupt record")

func maskedCRC(b []byte) uint32 {
	crc := crc32.Checksum(b, castagnoli)
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Writer frames records as
//
//	uint64 length | uint32 masked crc32c(length) | data | uint32 masked crc32c(data)
//
// all little endian.
type Writer struct {
	w     io.Writer
	count int
}

// NewWriter returns a Writer appending records to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write appends one framed record.
func (w *Writer) Write(data []byte) error {
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(header[8:], maskedCRC(header[:8]))
	if _, err := w.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(data); err != nil {
		return err
	}
	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(data))
	if _, err := w.w.Write(footer[:]); err != nil {
		return err
	}
	w.count++
	return nil
}

// WriteExample marshals e and writes it as one record.
func (w *Writer) WriteExample(e Example) error {
	return w.Write(e.Marshal())
}

// Count returns the number of records written so far.
func (w *Writer) Count() int {
	return w.count
}

// Reader reads records framed by Writer.
type Reader struct {
	r io.Reader
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next record payload, or io.EOF at a clean end of input.
func (r *Reader) Next() ([]byte, error) {
	var header [12]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated header", ErrCorruptRecord)
		}
		return nil, err
	}
	if binary.LittleEndian.Uint32(header[8:]) != maskedCRC(header[:8]) {
		return nil, fmt.Errorf("%w: length checksum mismatch", ErrCorruptRecord)
	}
	length := binary.LittleEndian.Uint64(header[:8])
	if length > MaxRecordSize {
		return nil, fmt.Errorf("%w: record length %d exceeds %d", ErrCorruptRecord, length, MaxRecordSize)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, fmt.Errorf("%w: truncated payload: %v", ErrCorruptRecord, err)
	}
	var footer [4]byte
	if _, err := io.ReadFull(r.r, footer[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated footer: %v", ErrCorruptRecord, err)
	}
	if binary.LittleEndian.Uint32(footer[:]) != maskedCRC(data) {
		return nil, fmt.Errorf("%w: payload checksum mismatch", ErrCorruptRecord)
	}
	return data, nil
}

// NextExample reads and decodes the next record.
func (r *Reader) NextExample() (Example, error) {
	data, err := r.Next()
	if err != nil {
		return Example{}, err
	}
	return UnmarshalExample(data)
}
