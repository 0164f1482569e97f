// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package recordio reads and writes RecordIO files (".rec"), their ".lst" listings, and implements
// ImageRecordIter, an iterator over batches of images stored in RecordIO files.
//
// A RecordIO file is a sequence of records, each framed by the 32-bit Magic number followed by a
// 32-bit word with a 3-bit continuation flag and a 29-bit length, and the payload padded to a multiple
// of 4 bytes. All integers are little endian. Payloads that contain the Magic number (at a 4-byte
// aligned position) are split in parts at those positions, and joined back by the Reader.
package recordio

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	// Magic number framing each record.
	Magic uint32 = 0xced7230a

	// MaxRecordLength is the maximum length of one part of a record.
	MaxRecordLength = 1<<29 - 1
)

// Continuation flags of the parts of a record.
const (
	flagFull   = 0
	flagStart  = 1
	flagMiddle = 2
	flagEnd    = 3
)

var magicBytes = binary.LittleEndian.AppendUint32(nil, Magic)

func encodeLRec(cflag uint32, length int) uint32 {
	return cflag<<29 | uint32(length)
}

func decodeLRec(lrec uint32) (cflag uint32, length int) {
	return lrec >> 29, int(lrec & MaxRecordLength)
}

func paddedLength(length int) int {
	return (length + 3) &^ 3
}

// Writer writes records to a RecordIO stream.
type Writer struct {
	w      *bufio.Writer
	offset int64
}

// NewWriter returns a Writer appending records to w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Tell returns the offset where the next record will be written, relative to the start of the writer.
func (w *Writer) Tell() int64 {
	return w.offset
}

// WriteRecord writes one record with the given payload.
func (w *Writer) WriteRecord(payload []byte) error {
	begin := 0
	for ii := 0; ii+4 <= len(payload); ii += 4 {
		if binary.LittleEndian.Uint32(payload[ii:]) != Magic {
			continue
		}
		cflag := uint32(flagMiddle)
		if begin == 0 {
			cflag = flagStart
		}
		if err := w.writePart(cflag, payload[begin:ii]); err != nil {
			return err
		}
		begin = ii + 4
	}
	cflag := uint32(flagEnd)
	if begin == 0 {
		cflag = flagFull
	}
	return w.writePart(cflag, payload[begin:])
}

func (w *Writer) writePart(cflag uint32, part []byte) error {
	if len(part) > MaxRecordLength {
		return errors.Errorf("recordio: record part of %d bytes exceeds the maximum %d", len(part), MaxRecordLength)
	}
	var header [8]byte
	binary.LittleEndian.PutUint32(header[:4], Magic)
	binary.LittleEndian.PutUint32(header[4:], encodeLRec(cflag, len(part)))
	var padding [4]byte
	numPadding := paddedLength(len(part)) - len(part)
	for _, b := range [][]byte{header[:], part, padding[:numPadding]} {
		n, err := w.w.Write(b)
		w.offset += int64(n)
		if err != nil {
			return errors.Wrap(err, "recordio: failed to write record")
		}
	}
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return errors.Wrap(w.w.Flush(), "recordio: failed to flush")
}

// Reader reads records from a RecordIO stream.
type Reader struct {
	r      io.ReadSeeker
	br     *bufio.Reader
	offset int64
}

// NewReader returns a Reader of the records in r, starting at its current position.
func NewReader(r io.ReadSeeker) (*Reader, error) {
	offset, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, errors.Wrap(err, "recordio: failed to get current position")
	}
	return &Reader{r: r, br: bufio.NewReader(r), offset: offset}, nil
}

// Tell returns the offset of the next record to be read.
func (r *Reader) Tell() int64 {
	return r.offset
}

// Seek moves the reader to the given offset, which must be the start of a record (see Tell).
func (r *Reader) Seek(offset int64) error {
	if _, err := r.r.Seek(offset, io.SeekStart); err != nil {
		return errors.Wrapf(err, "recordio: failed to seek to %d", offset)
	}
	r.br.Reset(r.r)
	r.offset = offset
	return nil
}

// Next returns the payload of the next record, or io.EOF if there are no more records.
func (r *Reader) Next() ([]byte, error) {
	payload := []byte{}
	for partIdx := 0; ; partIdx++ {
		cflag, part, err := r.readPart()
		if err == io.EOF && partIdx > 0 {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			if err == io.EOF {
				return nil, err
			}
			return nil, errors.WithMessagef(err, "recordio: reading record at offset %d", r.offset)
		}
		if partIdx > 0 {
			if cflag != flagMiddle && cflag != flagEnd {
				return nil, errors.Errorf("recordio: invalid continuation flag %d in the middle of a record at offset %d",
					cflag, r.offset)
			}
			payload = append(payload, magicBytes...)
		} else if cflag != flagFull && cflag != flagStart {
			return nil, errors.Errorf("recordio: invalid continuation flag %d at the start of a record at offset %d",
				cflag, r.offset)
		}
		payload = append(payload, part...)
		if cflag == flagFull || cflag == flagEnd {
			return payload, nil
		}
	}
}

func (r *Reader) readPart() (cflag uint32, part []byte, err error) {
	var header [8]byte
	n, err := io.ReadFull(r.br, header[:])
	if err != nil {
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			return 0, nil, io.EOF
		}
		return 0, nil, errors.Wrap(err, "truncated record header")
	}
	if magic := binary.LittleEndian.Uint32(header[:4]); magic != Magic {
		return 0, nil, errors.Errorf("invalid magic number 0x%08x", magic)
	}
	cflag, length := decodeLRec(binary.LittleEndian.Uint32(header[4:]))
	part = make([]byte, paddedLength(length))
	if _, err = io.ReadFull(r.br, part); err != nil {
		return 0, nil, errors.Wrap(err, "truncated record payload")
	}
	r.offset += int64(len(header) + len(part))
	return cflag, part[:length], nil
}

// Index returns the offsets of all records in the stream, and leaves the reader positioned
// at the first record.
func (r *Reader) Index() ([]int64, error) {
	start := r.offset
	var offsets []int64
	for {
		offset := r.offset
		_, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		offsets = append(offsets, offset)
	}
	return offsets, r.Seek(start)
}
