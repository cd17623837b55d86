// Package patch provides functionality for overwriting bytes relative to
// occurrences of a literal byte pattern.
//
// A patch is described by a search pattern, a replacement, a signed offset
// and a maximum number of occurrences. For each non-overlapping occurrence
// of the pattern (scanning left to right), the replacement is copied to
// the match position plus the offset. The offset may be negative, in which
// case the replacement is written before the match.
//
// By default, every write is bounds checked. An out-of-range write stops
// the patch and returns a *BoundsError. Writes that were applied before
// the failure are kept.
package patch

import (
	"errors"
	"fmt"
	"log"

	"gitlab.com/reiloader/codepatch/search"
)

// MaxPatternLen is the maximum length of a pattern or a replacement.
const MaxPatternLen = 256

var (
	ErrEmptyPattern       = errors.New("pattern cannot be zero-length")
	ErrPatternTooLong     = fmt.Errorf("pattern cannot be longer than %d bytes", MaxPatternLen)
	ErrReplacementTooLong = fmt.Errorf("replacement cannot be longer than %d bytes", MaxPatternLen)
	ErrOutOfBounds        = errors.New("write is out of bounds")
)

// BoundsError is returned when a replacement would be written outside
// of the buffer. It wraps ErrOutOfBounds.
type BoundsError struct {
	// Occurrence is the zero-based number of the occurrence
	// that could not be patched.
	Occurrence int

	// Match is the absolute index of the pattern in the buffer.
	Match int

	// At is the absolute index the replacement would have
	// been written to.
	At int

	// Len is the length of the replacement.
	Len int

	// BufLen is the length of the buffer.
	BufLen int
}

func (o *BoundsError) Error() string {
	return fmt.Sprintf("occurrence %d at 0x%x: writing %d bytes at 0x%x exceeds buffer of %d bytes",
		o.Occurrence, o.Match, o.Len, o.At, o.BufLen)
}

func (o *BoundsError) Unwrap() error {
	return ErrOutOfBounds
}

// Write describes a single replacement that was applied to a buffer.
type Write struct {
	// Occurrence is the zero-based number of the occurrence.
	Occurrence int

	// Match is the absolute index of the pattern in the buffer.
	Match int

	// At is the absolute index the replacement was written to.
	At int

	// Old is a copy of the bytes that were overwritten.
	Old []byte

	// New is the data that was written. In unchecked mode,
	// this may be shorter than the replacement.
	New []byte
}

// Patcher applies patches to byte buffers. The zero value is ready
// to use and performs bounds-checked writes.
type Patcher struct {
	// Unchecked disables bounds checking of writes. Rather than
	// failing, a write that falls partially outside of the buffer
	// is clipped to the buffer and the patch continues.
	Unchecked bool

	// OptLogger logs each write if specified.
	OptLogger *log.Logger

	// OptHook is called after each write if specified.
	// The Write's byte slices must not be retained
	// without copying them.
	OptHook func(Write)
}

// Apply calls Patcher.Apply using the zero value of Patcher.
func Apply(buf []byte, pattern []byte, offset int, replacement []byte, maxOccurrences int) (int, error) {
	return (&Patcher{}).Apply(buf, pattern, offset, replacement, maxOccurrences)
}

// ApplyOrExit calls Apply. It calls DefaultExitFn if an error occurs.
func ApplyOrExit(buf []byte, pattern []byte, offset int, replacement []byte, maxOccurrences int) int {
	n, err := Apply(buf, pattern, offset, replacement, maxOccurrences)
	if err != nil {
		DefaultExitFn(fmt.Errorf("patch: failed to apply patch for pattern 0x%x after %d occurrences - %w",
			pattern, n, err))
	}

	return n
}

// Apply writes replacement at offset bytes from each non-overlapping
// occurrence of pattern in buf, up to maxOccurrences times. It returns
// the number of occurrences that were patched.
//
// Finding fewer occurrences than maxOccurrences is not an error.
// A maxOccurrences of zero or less leaves buf untouched.
func (o *Patcher) Apply(buf []byte, pattern []byte, offset int, replacement []byte, maxOccurrences int) (int, error) {
	if len(pattern) == 0 {
		return 0, ErrEmptyPattern
	}

	if len(pattern) > MaxPatternLen {
		return 0, fmt.Errorf("%w - it is %d bytes", ErrPatternTooLong, len(pattern))
	}

	if len(replacement) > MaxPatternLen {
		return 0, fmt.Errorf("%w - it is %d bytes", ErrReplacementTooLong, len(replacement))
	}

	if maxOccurrences <= 0 {
		return 0, nil
	}

	finder, err := search.NewFinder(pattern)
	if err != nil {
		return 0, err
	}

	start := 0
	applied := 0

	for applied < maxOccurrences {
		var window []byte
		if start < len(buf) {
			window = buf[start:]
		}

		i := finder.Index(window)
		if i == search.NotFound {
			break
		}

		match := start + i

		err := o.write(buf, applied, match, match+offset, replacement)
		if err != nil {
			return applied, err
		}

		applied++

		start = match + len(pattern)
	}

	return applied, nil
}

func (o *Patcher) write(buf []byte, occurrence int, match int, at int, replacement []byte) error {
	end := at + len(replacement)

	if at < 0 || end > len(buf) {
		if !o.Unchecked {
			return &BoundsError{
				Occurrence: occurrence,
				Match:      match,
				At:         at,
				Len:        len(replacement),
				BufLen:     len(buf),
			}
		}

		// Clip to whatever part of the buffer the write overlaps.
		if at < 0 {
			if -at >= len(replacement) {
				replacement = nil
			} else {
				replacement = replacement[-at:]
			}
			at = 0
		}

		if at > len(buf) {
			at = len(buf)
		}

		if at+len(replacement) > len(buf) {
			replacement = replacement[:len(buf)-at]
		}

		end = at + len(replacement)
	}

	var old []byte
	if o.OptHook != nil {
		old = make([]byte, end-at)
		copy(old, buf[at:end])
	}

	copy(buf[at:end], replacement)

	if o.OptLogger != nil {
		o.OptLogger.Printf("occurrence %d: pattern at 0x%x, wrote %d bytes at 0x%x",
			occurrence, match, end-at, at)
	}

	if o.OptHook != nil {
		o.OptHook(Write{
			Occurrence: occurrence,
			Match:      match,
			At:         at,
			Old:        old,
			New:        buf[at:end],
		})
	}

	return nil
}
