package patchdb

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
)

// NewReader returns a Reader that decodes records from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		src: bufio.NewReader(r),
	}
}

// Reader decodes records from a patch store one at a time.
//
// Reading stops at the first error. A stream that ends cleanly on a
// record boundary is not an error. A stream that ends inside a record,
// or fails to be read, produces an error wrapping ErrReadTruncated.
type Reader struct {
	src     *bufio.Reader
	header  [HeaderLen]byte
	current Record
	num     int
	err     error
	done    bool
}

// Next decodes the next record. It returns false when there are no
// more records or an error occurred. Call Err to tell the two apart.
func (o *Reader) Next() bool {
	if o.done {
		return false
	}

	record, err := o.read()
	if err != nil {
		o.done = true

		if !errors.Is(err, io.EOF) {
			o.err = fmt.Errorf("failed to read record %d - %w", o.num, err)
		}

		return false
	}

	o.current = record
	o.num++

	return true
}

// Record returns the record decoded by the last call to Next.
func (o *Reader) Record() Record {
	return o.current
}

// NumRead returns the number of records decoded so far.
func (o *Reader) NumRead() int {
	return o.num
}

// Err returns the error that stopped the Reader, if any.
func (o *Reader) Err() error {
	return o.err
}

func (o *Reader) read() (Record, error) {
	n, err := io.ReadFull(o.src, o.header[:])
	switch {
	case err == nil:
		// OK.
	case errors.Is(err, io.EOF):
		return Record{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return Record{}, fmt.Errorf("%w - got %d of %d header bytes",
			ErrReadTruncated, n, HeaderLen)
	default:
		return Record{}, fmt.Errorf("%w - failed to read header - %w", ErrReadTruncated, err)
	}

	record := Record{
		ProgramID:   binary.LittleEndian.Uint64(o.header[0:8]),
		Pattern:     make([]byte, o.header[8]),
		Replacement: make([]byte, o.header[9]),
		Offset:      int8(o.header[10]),
		Count:       int8(o.header[11]),
	}

	err = o.readField(record.Pattern, "pattern")
	if err != nil {
		return Record{}, err
	}

	err = o.readField(record.Replacement, "replacement")
	if err != nil {
		return Record{}, err
	}

	return record, nil
}

func (o *Reader) readField(field []byte, name string) error {
	n, err := io.ReadFull(o.src, field)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w - got %d of %d %s bytes",
			ErrReadTruncated, n, len(field), name)
	default:
		return fmt.Errorf("%w - failed to read %s - %w", ErrReadTruncated, name, err)
	}
}

// ReadAll decodes every record in r. Records decoded before an
// error are returned along with the error.
func ReadAll(r io.Reader) ([]Record, error) {
	reader := NewReader(r)

	var records []Record
	for reader.Next() {
		records = append(records, reader.Record())
	}

	return records, reader.Err()
}

// ReadFileOrExit calls ReadFile. It calls DefaultExitFn if an error occurs.
func ReadFileOrExit(fsys fs.FS, path string) []Record {
	records, err := ReadFile(fsys, path)
	if err != nil {
		DefaultExitFn(fmt.Errorf("patchdb: failed to read %q - %w", path, err))
	}

	return records
}

// ReadFile decodes every record in the file at path.
func ReadFile(fsys fs.FS, path string) ([]Record, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadAll(f)
}
