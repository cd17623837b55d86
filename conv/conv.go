// Package conv converts human-written byte strings into raw bytes.
package conv

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// ParseHex calls HexToBytes on str.
func ParseHex(str string) ([]byte, error) {
	return HexToBytes(strings.NewReader(str))
}

// HexToBytes decodes hex-encoded bytes read from source.
//
// Bytes may be written as bare pairs ("0a0c"), with a "0x" prefix
// ("0x0a, 0x0c"), or as C escapes ("\x0a\x0c"). Whitespace, commas,
// quotes and braces separate bytes, and C comments are ignored.
// This allows a byte sequence to be copied straight out of a
// disassembly listing or a C array.
func HexToBytes(source io.Reader) ([]byte, error) {
	src := bufio.NewReader(source)
	out := bytes.NewBuffer(nil)
	pair := make([]byte, 0, 2)
	decoded := make([]byte, 1)
	offset := 0

	flush := func() error {
		if len(pair) == 1 {
			return fmt.Errorf("odd number of hex digits before offset %d", offset)
		}
		return nil
	}

	for {
		b, err := src.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read next byte - %w", err)
		}

		offset++

		switch {
		case b == '/':
			err := findComment(src)
			if err != nil {
				return nil, err
			}

			err = flush()
			if err != nil {
				return nil, err
			}
		case b == '\\' || (b == '0' && len(pair) == 0 && nextIs(src, 'x', 'X')):
			err := flush()
			if err != nil {
				return nil, err
			}

			x, err := src.ReadByte()
			if err != nil || (x != 'x' && x != 'X') {
				return nil, fmt.Errorf("expected 'x' after '%c' at offset %d", b, offset)
			}

			offset++
		case isHexChar(b):
			pair = append(pair, b)

			if len(pair) == 2 {
				_, err := hex.Decode(decoded, pair)
				if err != nil {
					return nil, fmt.Errorf("failed to hex-decode byte at offset %d - %w", offset, err)
				}

				out.WriteByte(decoded[0])

				pair = pair[:0]
			}
		case isSeparator(b):
			err := flush()
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", b, offset)
		}
	}

	err := flush()
	if err != nil {
		return nil, err
	}

	return out.Bytes(), nil
}

// FormatHex encodes b as space-separated hex pairs, the format
// accepted by ParseHex.
func FormatHex(b []byte) string {
	str := strings.Builder{}

	for i, c := range b {
		if i > 0 {
			str.WriteByte(' ')
		}

		str.WriteString(hex.EncodeToString([]byte{c}))
	}

	return str.String()
}

func nextIs(src *bufio.Reader, chars ...byte) bool {
	next, err := src.Peek(1)
	if err != nil {
		return false
	}

	for _, c := range chars {
		if next[0] == c {
			return true
		}
	}

	return false
}

// findComment discards the remaining C syntax comment. It assumes that
// the first comment character was already read.
func findComment(src *bufio.Reader) error {
	secondChar, err := src.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to read second start of comment char - %w", err)
	}

	switch secondChar {
	case '/':
		_, err := src.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to find newline char for line comment - %w", err)
		}

		return nil
	case '*':
		for {
			_, err := src.ReadBytes('*')
			if err != nil {
				return fmt.Errorf("failed to find corresponding '*/' end of comment - %w", err)
			}

			nextChar, err := src.ReadByte()
			if err != nil {
				return fmt.Errorf("failed to check if next byte is end of multi-line comment - %w", err)
			}

			if nextChar == '/' {
				return nil
			}

			if nextChar == '*' {
				err = src.UnreadByte()
				if err != nil {
					return fmt.Errorf("failed to unread byte - %w", err)
				}
			}
		}
	default:
		return fmt.Errorf("unknown second start of comment char '%c'", secondChar)
	}
}

func isSeparator(b byte) bool {
	switch b {
	case ',', '"', '\'', '{', '}', '[', ']', ';':
		return true
	default:
		return unicode.IsSpace(rune(b))
	}
}

func isHexChar(b byte) bool {
	return (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F') || (b >= '0' && b <= '9')
}
