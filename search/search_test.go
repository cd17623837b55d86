package search

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestIndex(t *testing.T) {
	type testCase struct {
		name     string
		haystack string
		pattern  string
		exp      int
	}

	testCases := []testCase{
		{name: "SingleByte", haystack: "abcdef", pattern: "d", exp: 3},
		{name: "SingleByteMissing", haystack: "abcdef", pattern: "z", exp: NotFound},
		{name: "Start", haystack: "findmeYY", pattern: "findme", exp: 0},
		{name: "End", haystack: "XXXXfindme", pattern: "findme", exp: 4},
		{name: "ExactlyEqual", haystack: "findme", pattern: "findme", exp: 0},
		{name: "Leftmost", haystack: "XXfindmeYYfindmeZZ", pattern: "findme", exp: 2},
		{name: "ShortHaystack", haystack: "abc", pattern: "abcd", exp: NotFound},
		{name: "EmptyHaystack", haystack: "", pattern: "a", exp: NotFound},
		{name: "EmptyPattern", haystack: "abc", pattern: "", exp: NotFound},
		{name: "RepeatedByte", haystack: "aaaa", pattern: "aa", exp: 0},
		{name: "GoodSuffix", haystack: ".....ABYXCDEYX", pattern: "ABYXCDEYX", exp: 5},
		{name: "PartialRepeat", haystack: "dddbcabcdddbcabc", pattern: "cabcd", exp: 4},
		{name: "NearMiss", haystack: "abcabdabcabcabe", pattern: "abcabe", exp: 9},
		{name: "Binary", haystack: "\x00\x0a\x0c\x00\x10\xff", pattern: "\x0a\x0c\x00\x10", exp: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			i := Index([]byte(tc.haystack), []byte(tc.pattern))
			if i != tc.exp {
				t.Fatalf("Index: expected %d - got %d", tc.exp, i)
			}

			i = IndexSimple([]byte(tc.haystack), []byte(tc.pattern))
			if i != tc.exp {
				t.Fatalf("IndexSimple: expected %d - got %d", tc.exp, i)
			}
		})
	}
}

func TestIndex_MatchesBytesIndex(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	// A small alphabet produces lots of partial matches and
	// repeated substrings, which is where the good-suffix
	// table matters.
	for _, alphabet := range []string{"ab", "abc", "\x00\x01\xff"} {
		for i := 0; i < 5000; i++ {
			haystack := randomBytes(rng, alphabet, rng.Intn(64))
			pattern := randomBytes(rng, alphabet, 1+rng.Intn(8))

			exp := bytes.Index(haystack, pattern)

			got := Index(haystack, pattern)
			if got != exp {
				t.Fatalf("Index(%q, %q): expected %d - got %d",
					haystack, pattern, exp, got)
			}

			got = IndexSimple(haystack, pattern)
			if got != exp {
				t.Fatalf("IndexSimple(%q, %q): expected %d - got %d",
					haystack, pattern, exp, got)
			}
		}
	}
}

func TestFinder_Reuse(t *testing.T) {
	finder, err := NewFinder([]byte("aa"))
	if err != nil {
		t.Fatal(err)
	}

	haystack := []byte("aaaa")

	first := finder.Index(haystack)
	if first != 0 {
		t.Fatalf("expected first match at 0 - got %d", first)
	}

	next := first + finder.Len()

	second := finder.Index(haystack[next:])
	if second != 0 {
		t.Fatalf("expected second match at relative 0 - got %d", second)
	}

	if next+second != 2 {
		t.Fatalf("expected second match at 2 - got %d", next+second)
	}

	third := finder.Index(haystack[next+second+finder.Len():])
	if third != NotFound {
		t.Fatalf("expected no third match - got %d", third)
	}
}

func TestFinder_PatternIsCopied(t *testing.T) {
	pattern := []byte("abc")

	finder, err := NewFinder(pattern)
	if err != nil {
		t.Fatal(err)
	}

	pattern[0] = 'z'

	if i := finder.Index([]byte("xxabc")); i != 2 {
		t.Fatalf("expected 2 - got %d", i)
	}

	if !bytes.Equal(finder.Pattern(), []byte("abc")) {
		t.Fatalf("expected pattern 'abc' - got %q", finder.Pattern())
	}
}

func TestNewFinder_EmptyPattern(t *testing.T) {
	_, err := NewFinder(nil)
	if err != ErrEmptyPattern {
		t.Fatalf("expected ErrEmptyPattern - got %v", err)
	}
}

func TestSuffixLen(t *testing.T) {
	i := suffixLen([]byte("dddbcabc"), 4)
	if i != 2 {
		t.Fatalf("expected 2 - got %d", i)
	}
}

func randomBytes(rng *rand.Rand, alphabet string, n int) []byte {
	b := make([]byte, n)

	for i := range b {
		b[i] = alphabet[rng.Intn(len(alphabet))]
	}

	return b
}

func BenchmarkFinder_Index(b *testing.B) {
	haystack := append(bytes.Repeat([]byte("\xe9\x2d\x40\x10"), 1<<16),
		[]byte("\x10\xd1\xe5\x08\x00\x8d")...)
	pattern := []byte("\x10\xd1\xe5\x08\x00\x8d")

	finder, err := NewFinder(pattern)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		finder.Index(haystack)
	}
}

func BenchmarkIndexSimple(b *testing.B) {
	haystack := append(bytes.Repeat([]byte("\xe9\x2d\x40\x10"), 1<<16),
		[]byte("\x10\xd1\xe5\x08\x00\x8d")...)
	pattern := []byte("\x10\xd1\xe5\x08\x00\x8d")

	for i := 0; i < b.N; i++ {
		IndexSimple(haystack, pattern)
	}
}
