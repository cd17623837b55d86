// Package armkit provides helpers for inspecting and modifying 32-bit
// little-endian ARM machine code held in a []byte.
package armkit

import (
	"encoding/binary"
	"fmt"
)

const (
	// NotFound is returned when a search does not find anything.
	NotFound = -1

	// WordSize is the size of an ARM instruction in bytes.
	WordSize = 4

	// PushMarker is the upper half-word of "stmdb sp!, {...}"
	// (also known as "push {...}"), which is how most functions
	// save registers in their prologue.
	PushMarker uint16 = 0xe92d
)

// Commonly patched instruction words.
const (
	MovR0Imm0 uint32 = 0xe3a00000 // mov r0, #0
	MovR0Imm1 uint32 = 0xe3a00001 // mov r0, #1
	BxLR      uint32 = 0xe12fff1e // bx lr
	Nop       uint32 = 0xe320f000 // nop
)

// FindFunctionStart scans backwards from fromPosition in 4-byte steps
// for a word whose upper half-word is PushMarker. It returns the index
// of the first such word, or NotFound if the start of code is reached.
//
// fromPosition does not need to be word aligned. Each candidate is
// fromPosition minus a multiple of four. Candidates past the end of
// code are skipped.
func FindFunctionStart(code []byte, fromPosition int) int {
	pos := fromPosition
	if pos > len(code) {
		pos -= (pos - len(code) + WordSize - 1) / WordSize * WordSize
	}

	for pos >= WordSize {
		pos -= WordSize

		if binary.LittleEndian.Uint16(code[pos+2:]) == PushMarker {
			return pos
		}
	}

	return NotFound
}

// Word returns the little-endian 32-bit word at index i of code.
func Word(code []byte, i int) (uint32, error) {
	if i < 0 || i+WordSize > len(code) {
		return 0, fmt.Errorf("word at 0x%x is outside of %d bytes of code", i, len(code))
	}

	return binary.LittleEndian.Uint32(code[i:]), nil
}

// PutWords writes each word in little-endian byte order to code,
// starting at index i.
func PutWords(code []byte, i int, words ...uint32) error {
	if i < 0 || i+len(words)*WordSize > len(code) {
		return fmt.Errorf("%d words at 0x%x are outside of %d bytes of code",
			len(words), i, len(code))
	}

	for _, w := range words {
		binary.LittleEndian.PutUint32(code[i:], w)
		i += WordSize
	}

	return nil
}

// WordsToBytes encodes words in little-endian byte order.
func WordsToBytes(words ...uint32) []byte {
	b := make([]byte, len(words)*WordSize)

	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*WordSize:], w)
	}

	return b
}
