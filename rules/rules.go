// Package rules provides the built-in patches that are applied to
// specific programs regardless of the contents of the patch store.
//
// Rules are data, not code. A Table is decoded from YAML and each Rule
// names the programs it targets, an optional minimum program version
// per target, the region of the code it searches, and exactly one
// action:
//
//   - replace: patch every occurrence of a pattern (see package patch)
//   - word_scan: find a sequence of masked instruction words and
//     overwrite them
//   - stub_function: find a pattern, walk back to the start of the
//     enclosing function and overwrite its prologue
//
// A critical rule that cannot find what it is looking for fails with
// ErrPatternAbsent. The default table is embedded in the package.
package rules

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strconv"

	"gitlab.com/reiloader/codepatch/conv"
	"gitlab.com/reiloader/codepatch/patch"
	"gitlab.com/reiloader/codepatch/patchdb"
	"golang.org/x/text/encoding/unicode"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultTable []byte

var (
	ErrInvalidRule   = errors.New("invalid rule")
	ErrPatternAbsent = errors.New("required pattern is absent")
)

const (
	// TextRegion limits a rule to the program's text section.
	TextRegion Region = "text"

	// ImageRegion lets a rule search the entire code buffer.
	ImageRegion Region = "image"
)

// Region is the part of the code buffer that a rule searches.
type Region string

// Table is an ordered list of rules.
type Table struct {
	Rules []Rule `yaml:"rules"`
}

// Rule is a single built-in patch.
type Rule struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Critical rules fail with ErrPatternAbsent when their
	// pattern is not found.
	Critical bool `yaml:"critical,omitempty"`

	// Cosmetic rules only change what the user sees. They are
	// skipped when the loader runs in silent mode.
	Cosmetic bool `yaml:"cosmetic,omitempty"`

	Region  Region   `yaml:"region"`
	Targets []Target `yaml:"targets"`

	Replace      *ReplaceAction      `yaml:"replace,omitempty"`
	WordScan     *WordScanAction     `yaml:"word_scan,omitempty"`
	StubFunction *StubFunctionAction `yaml:"stub_function,omitempty"`
}

// Target is a program that a rule applies to.
type Target struct {
	Program    patchdb.ProgramID `yaml:"program"`
	Label      string            `yaml:"label,omitempty"`
	MinVersion uint16            `yaml:"min_version,omitempty"`
}

// ReplaceAction patches up to Count occurrences of Pattern.
type ReplaceAction struct {
	Pattern     Payload `yaml:"pattern"`
	Offset      int     `yaml:"offset"`
	Replacement Payload `yaml:"replacement"`
	Count       int     `yaml:"count"`
}

// WordScanAction overwrites words at the first position where
// every condition in Match holds.
type WordScanAction struct {
	Start int                `yaml:"start"`
	Step  int                `yaml:"step"`
	Match []WordConditionDef `yaml:"match"`
	Write []Word             `yaml:"write"`
}

// WordConditionDef is the YAML form of armkit.WordCondition.
type WordConditionDef struct {
	Index int  `yaml:"index"`
	Mask  Word `yaml:"mask"`
	Value Word `yaml:"value"`
}

// StubFunctionAction overwrites the prologue of the function that
// contains the first occurrence of Locate.
type StubFunctionAction struct {
	Locate conv.HexBytes `yaml:"locate"`
	Write  []Word        `yaml:"write"`
}

// Word is a 32-bit instruction word. In YAML it may be written in
// any base accepted by strconv.ParseUint.
type Word uint32

func (o *Word) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a 32-bit word", node.Line)
	}

	w, err := strconv.ParseUint(node.Value, 0, 32)
	if err != nil {
		return fmt.Errorf("line %d: failed to parse word - %w", node.Line, err)
	}

	*o = Word(w)

	return nil
}

// Payload is a byte sequence written either as a hex string, or as
// a mapping with a single "utf16" key whose string value is encoded
// as UTF-16LE without a byte order mark:
//
//	pattern: "0a 0c 00 10"
//	pattern: {utf16: "Ver."}
//
// Once decoded, a Payload is an opaque sequence of bytes.
type Payload []byte

func (o *Payload) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var b conv.HexBytes

		err := node.Decode(&b)
		if err != nil {
			return err
		}

		*o = Payload(b)

		return nil
	case yaml.MappingNode:
		var text struct {
			UTF16 string `yaml:"utf16"`
		}

		err := node.Decode(&text)
		if err != nil {
			return fmt.Errorf("line %d: failed to decode text payload - %w", node.Line, err)
		}

		b, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).
			NewEncoder().
			Bytes([]byte(text.UTF16))
		if err != nil {
			return fmt.Errorf("line %d: failed to utf-16 encode %q - %w", node.Line, text.UTF16, err)
		}

		*o = b

		return nil
	default:
		return fmt.Errorf("line %d: expected a hex string or a {utf16: ...} mapping", node.Line)
	}
}

// DefaultOrExit calls Default. It calls DefaultExitFn if an error occurs.
func DefaultOrExit() Table {
	table, err := Default()
	if err != nil {
		DefaultExitFn(fmt.Errorf("rules: failed to load default table - %w", err))
	}

	return table
}

// Default returns the embedded rule table.
func Default() (Table, error) {
	return Parse(bytes.NewReader(defaultTable))
}

// Parse decodes and validates a rule table.
func Parse(r io.Reader) (Table, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var table Table

	err := decoder.Decode(&table)
	if err != nil {
		return Table{}, fmt.Errorf("failed to decode rule table - %w", err)
	}

	err = table.Validate()
	if err != nil {
		return Table{}, err
	}

	return table, nil
}

// Validate checks every rule in the table.
func (o Table) Validate() error {
	names := make(map[string]struct{}, len(o.Rules))

	for i, rule := range o.Rules {
		err := rule.Validate()
		if err != nil {
			return fmt.Errorf("rule %d (%q): %w", i, rule.Name, err)
		}

		if _, dup := names[rule.Name]; dup {
			return fmt.Errorf("rule %d: %w - name %q is used more than once",
				i, ErrInvalidRule, rule.Name)
		}

		names[rule.Name] = struct{}{}
	}

	return nil
}

// Validate checks that the rule is complete and has exactly one action.
func (o Rule) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("%w - name is empty", ErrInvalidRule)
	}

	switch o.Region {
	case TextRegion, ImageRegion:
	default:
		return fmt.Errorf("%w - unknown region %q", ErrInvalidRule, o.Region)
	}

	if len(o.Targets) == 0 {
		return fmt.Errorf("%w - no targets", ErrInvalidRule)
	}

	numActions := 0

	if o.Replace != nil {
		numActions++

		if len(o.Replace.Pattern) == 0 || len(o.Replace.Pattern) > patch.MaxPatternLen {
			return fmt.Errorf("%w - pattern must be 1 to %d bytes", ErrInvalidRule, patch.MaxPatternLen)
		}

		if len(o.Replace.Replacement) > patch.MaxPatternLen {
			return fmt.Errorf("%w - replacement cannot be longer than %d bytes",
				ErrInvalidRule, patch.MaxPatternLen)
		}

		if o.Replace.Count <= 0 {
			return fmt.Errorf("%w - count must be at least 1", ErrInvalidRule)
		}
	}

	if o.WordScan != nil {
		numActions++

		if len(o.WordScan.Match) == 0 || len(o.WordScan.Write) == 0 {
			return fmt.Errorf("%w - word scan needs match conditions and words to write", ErrInvalidRule)
		}

		if o.WordScan.Step < 0 {
			return fmt.Errorf("%w - word scan step cannot be negative", ErrInvalidRule)
		}
	}

	if o.StubFunction != nil {
		numActions++

		if len(o.StubFunction.Locate) == 0 || len(o.StubFunction.Write) == 0 {
			return fmt.Errorf("%w - stub function needs a pattern and words to write", ErrInvalidRule)
		}
	}

	if numActions != 1 {
		return fmt.Errorf("%w - expected exactly one action, got %d", ErrInvalidRule, numActions)
	}

	return nil
}

// Target returns the rule's target for a program, if any.
func (o Rule) Target(programID uint64) (Target, bool) {
	for _, target := range o.Targets {
		if uint64(target.Program) == programID {
			return target, true
		}
	}

	return Target{}, false
}

// Selection is the outcome of matching a Table against a program.
type Selection struct {
	// Apply lists the rules that should be applied, in table order.
	Apply []Rule

	// Gated lists the rules that target the program but were
	// skipped because its version is too low.
	Gated []Rule
}

// Select returns the rules that target programID, split by whether
// version satisfies each target's minimum version.
func (o Table) Select(programID uint64, version uint16) Selection {
	var selection Selection

	for _, rule := range o.Rules {
		target, ok := rule.Target(programID)
		if !ok {
			continue
		}

		if version < target.MinVersion {
			selection.Gated = append(selection.Gated, rule)
			continue
		}

		selection.Apply = append(selection.Apply, rule)
	}

	return selection
}
