package armkit

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WordCondition matches a single word relative to a scan position.
// A word w satisfies the condition when w&Mask == Value.
type WordCondition struct {
	// Index is the position of the word relative to the
	// current scan position, in words. It may be negative.
	Index int

	Mask  uint32
	Value uint32
}

// WordScan finds the first position in code where all of
// its conditions hold.
type WordScan struct {
	// Start is the index of the first candidate position.
	Start int

	// Step is the distance between candidate positions.
	// It defaults to WordSize.
	Step int

	Conditions []WordCondition
}

// Find returns the index of the first candidate position where
// every condition matches, or NotFound. Candidates whose
// conditions would read outside of code are skipped.
func (o WordScan) Find(code []byte) (int, error) {
	if len(o.Conditions) == 0 {
		return NotFound, errors.New("word scan has no conditions")
	}

	step := o.Step
	if step == 0 {
		step = WordSize
	}

	if step < 0 {
		return NotFound, fmt.Errorf("word scan step must be positive - it is %d", step)
	}

	minIndex, maxIndex := 0, 0
	for _, cond := range o.Conditions {
		minIndex = min(minIndex, cond.Index)
		maxIndex = max(maxIndex, cond.Index)
	}

outer:
	for pos := o.Start; pos+(maxIndex+1)*WordSize <= len(code); pos += step {
		if pos+minIndex*WordSize < 0 {
			continue
		}

		for _, cond := range o.Conditions {
			w := binary.LittleEndian.Uint32(code[pos+cond.Index*WordSize:])

			if w&cond.Mask != cond.Value {
				continue outer
			}
		}

		return pos, nil
	}

	return NotFound, nil
}
