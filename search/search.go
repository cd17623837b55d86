// Package search provides exact-match substring search over raw
// byte buffers.
//
// The Finder type implements the Boyer-Moore algorithm using a
// bad-character table and a good-suffix table. Both tables are
// computed once per pattern, which makes a Finder cheap to reuse
// when the same pattern is searched for repeatedly (for example,
// while patching every occurrence of a pattern in a buffer).
//
// IndexSimple is a byte-by-byte fallback with the same leftmost-match
// semantics. It exists for one-off lookups where building the skip
// tables is not worth it.
package search

import (
	"errors"
)

const (
	// NotFound is returned by the Index family of functions and methods
	// when the pattern does not occur in the haystack.
	NotFound = -1

	alphabetLen = 256
)

// ErrEmptyPattern is returned when a Finder is created for
// a zero-length pattern.
var ErrEmptyPattern = errors.New("pattern cannot be zero-length")

// Index returns the index of the first occurrence of pattern in
// haystack, or NotFound if pattern is not present. A zero-length
// pattern is never found.
func Index(haystack []byte, pattern []byte) int {
	finder, err := NewFinder(pattern)
	if err != nil {
		return NotFound
	}

	return finder.Index(haystack)
}

// IndexSimple returns the index of the first occurrence of pattern
// in haystack, or NotFound if pattern is not present. Unlike Index,
// it compares the pattern at every position of haystack without
// precomputing any tables.
func IndexSimple(haystack []byte, pattern []byte) int {
	patLen := len(pattern)
	if patLen == 0 || patLen > len(haystack) {
		return NotFound
	}

	last := len(haystack) - patLen

outer:
	for i := 0; i <= last; i++ {
		for j := 0; j < patLen; j++ {
			if haystack[i+j] != pattern[j] {
				continue outer
			}
		}

		return i
	}

	return NotFound
}

// NewFinder precomputes the skip tables for pattern and returns
// a Finder that searches for it.
//
// The Finder keeps a private copy of pattern.
func NewFinder(pattern []byte) (*Finder, error) {
	if len(pattern) == 0 {
		return nil, ErrEmptyPattern
	}

	pat := make([]byte, len(pattern))
	copy(pat, pattern)

	finder := &Finder{
		pattern: pat,
		delta2:  make([]int, len(pat)),
	}

	finder.makeDelta1()
	finder.makeDelta2()

	return finder, nil
}

// Finder searches for a single pattern using the Boyer-Moore
// algorithm. A Finder is immutable after creation and may be
// reused for any number of haystacks.
type Finder struct {
	pattern []byte

	// delta1 is the bad-character table. delta1[c] is the distance
	// between the last byte of the pattern and the rightmost
	// occurrence of c in the pattern, ignoring the last byte.
	// If c does not occur, delta1[c] is the pattern length.
	delta1 [alphabetLen]int

	// delta2 is the good-suffix table. delta2[j] is how far the
	// haystack index is advanced after a mismatch at pattern[j],
	// given that pattern[j+1:] already matched.
	delta2 []int
}

// Pattern returns a copy of the pattern the Finder searches for.
func (o *Finder) Pattern() []byte {
	cp := make([]byte, len(o.pattern))
	copy(cp, o.pattern)

	return cp
}

// Len returns the length of the pattern.
func (o *Finder) Len() int {
	return len(o.pattern)
}

// Index returns the index of the first occurrence of the Finder's
// pattern in haystack, or NotFound if it is not present.
func (o *Finder) Index(haystack []byte) int {
	patLen := len(o.pattern)
	hayLen := len(haystack)

	i := patLen - 1

	for i < hayLen {
		j := patLen - 1

		for j >= 0 && haystack[i] == o.pattern[j] {
			i--
			j--
		}

		if j < 0 {
			return i + 1
		}

		i += max(o.delta1[haystack[i]], o.delta2[j])
	}

	return NotFound
}

func (o *Finder) makeDelta1() {
	patLen := len(o.pattern)

	for i := range o.delta1 {
		o.delta1[i] = patLen
	}

	for i := 0; i < patLen-1; i++ {
		o.delta1[o.pattern[i]] = patLen - 1 - i
	}
}

func (o *Finder) makeDelta2() {
	pat := o.pattern
	patLen := len(pat)
	lastPrefixIndex := patLen - 1

	// Mismatch at pat[p] where pat[p+1:] does not occur elsewhere
	// in the pattern. The next plausible alignment starts at the
	// longest suffix of pat[p+1:] that is also a prefix of pat.
	for p := patLen - 1; p >= 0; p-- {
		if isPrefix(pat, p+1) {
			lastPrefixIndex = p + 1
		}

		o.delta2[p] = lastPrefixIndex + (patLen - 1 - p)
	}

	// Mismatch at pat[p] where pat[p+1:] repeats inside the pattern.
	// suffixLen is not unique, so the smallest shift wins because
	// p increases.
	for p := 0; p < patLen-1; p++ {
		slen := suffixLen(pat, p)

		if pat[p-slen] != pat[patLen-1-slen] {
			o.delta2[patLen-1-slen] = patLen - 1 - p + slen
		}
	}
}

// isPrefix reports whether word[pos:] is a prefix of word.
func isPrefix(word []byte, pos int) bool {
	suffixLen := len(word) - pos

	for i := 0; i < suffixLen; i++ {
		if word[i] != word[pos+i] {
			return false
		}
	}

	return true
}

// suffixLen returns the length of the longest suffix of word that
// ends at word[pos].
//
// For example, suffixLen("dddbcabc", 4) is 2.
func suffixLen(word []byte, pos int) int {
	last := len(word) - 1

	i := 0
	for i < pos && word[pos-i] == word[last-i] {
		i++
	}

	return i
}
