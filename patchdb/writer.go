package patchdb

import (
	"fmt"
	"io"
)

// NewWriter returns a Writer that encodes records to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w: w,
	}
}

// Writer encodes records to a patch store.
type Writer struct {
	w   io.Writer
	num int
}

// Write validates and encodes a record.
func (o *Writer) Write(record Record) error {
	b, err := record.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode record %d (%s) - %w", o.num, record, err)
	}

	_, err = o.w.Write(b)
	if err != nil {
		return fmt.Errorf("failed to write record %d - %w", o.num, err)
	}

	o.num++

	return nil
}

// WriteAll calls Write for each record.
func (o *Writer) WriteAll(records []Record) error {
	for _, record := range records {
		err := o.Write(record)
		if err != nil {
			return err
		}
	}

	return nil
}

// NumWritten returns the number of records written so far.
func (o *Writer) NumWritten() int {
	return o.num
}
