// Package patchdb reads and writes patch stores.
//
// A patch store is a flat stream of concatenated records with no header
// and no delimiter. Each record is laid out as follows (integers are
// little endian):
//
//	program id          8 bytes
//	pattern length      1 byte
//	replacement length  1 byte
//	offset              1 byte, signed
//	count               1 byte, signed
//	pattern             pattern length bytes
//	replacement         replacement length bytes
//
// The offset is added to the position of each pattern occurrence to
// find where the replacement is written. The count is the maximum
// number of occurrences to patch.
package patchdb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// HeaderLen is the size of the fixed-length part of a record.
	HeaderLen = 12

	// MaxFieldLen is the longest pattern or replacement that can
	// be stored in a record.
	MaxFieldLen = math.MaxUint8

	// DefaultPath is where the loader looks for the patch store.
	DefaultPath = "rei/patches/patches.dat"
)

var (
	ErrReadTruncated = errors.New("patch store ends in the middle of a record")
	ErrFieldTooLarge = fmt.Errorf("record field is larger than %d bytes", MaxFieldLen)
	ErrEmptyPattern  = errors.New("record pattern cannot be zero-length")
)

// Record is a single patch in a patch store.
type Record struct {
	ProgramID   uint64
	Pattern     []byte
	Replacement []byte
	Offset      int8
	Count       int8
}

func (o Record) String() string {
	return fmt.Sprintf("program 0x%016x: %d byte pattern 0x%x, offset %d, %d byte replacement 0x%x, count %d",
		o.ProgramID, len(o.Pattern), o.Pattern, o.Offset, len(o.Replacement), o.Replacement, o.Count)
}

// Validate checks that the record can be encoded.
func (o Record) Validate() error {
	if len(o.Pattern) == 0 {
		return ErrEmptyPattern
	}

	if len(o.Pattern) > MaxFieldLen {
		return fmt.Errorf("pattern: %w - it is %d bytes", ErrFieldTooLarge, len(o.Pattern))
	}

	if len(o.Replacement) > MaxFieldLen {
		return fmt.Errorf("replacement: %w - it is %d bytes", ErrFieldTooLarge, len(o.Replacement))
	}

	return nil
}

// MarshalBinary encodes the record in the patch store format.
func (o Record) MarshalBinary() ([]byte, error) {
	err := o.Validate()
	if err != nil {
		return nil, err
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderLen+len(o.Pattern)+len(o.Replacement)))

	id := make([]byte, 8)
	binary.LittleEndian.PutUint64(id, o.ProgramID)

	buf.Write(id)
	buf.WriteByte(uint8(len(o.Pattern)))
	buf.WriteByte(uint8(len(o.Replacement)))
	buf.WriteByte(uint8(o.Offset))
	buf.WriteByte(uint8(o.Count))
	buf.Write(o.Pattern)
	buf.Write(o.Replacement)

	return buf.Bytes(), nil
}
