package patchdb

import (
	"fmt"
	"io"
	"strconv"

	"gitlab.com/reiloader/codepatch/conv"
	"gopkg.in/yaml.v3"
)

// Source is a human-editable list of patches that compiles
// into patch store records.
//
//	patches:
//	  - description: Skip the update nag
//	    program: 0x0004003000008f02
//	    pattern: "0x0a, 0x0c, 0x00, 0x10"
//	    replacement: "00 f0 20 e3"
//	    offset: -4
//	    count: 1
type Source struct {
	Patches []SourcePatch `yaml:"patches"`
}

// SourcePatch is a single entry in a Source.
type SourcePatch struct {
	Description string        `yaml:"description,omitempty"`
	Disabled    bool          `yaml:"disabled,omitempty"`
	Program     ProgramID     `yaml:"program"`
	Pattern     conv.HexBytes `yaml:"pattern"`
	Replacement conv.HexBytes `yaml:"replacement"`
	Offset      int8          `yaml:"offset"`
	Count       int8          `yaml:"count"`
}

// ProgramID is a program identifier. In YAML it may be written
// in any base accepted by strconv.ParseUint.
type ProgramID uint64

func (o *ProgramID) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a program id", node.Line)
	}

	id, err := strconv.ParseUint(node.Value, 0, 64)
	if err != nil {
		return fmt.Errorf("line %d: failed to parse program id - %w", node.Line, err)
	}

	*o = ProgramID(id)

	return nil
}

func (o ProgramID) MarshalYAML() (interface{}, error) {
	return fmt.Sprintf("0x%016x", uint64(o)), nil
}

// ParseSource decodes a Source from r. Unknown fields are errors.
func ParseSource(r io.Reader) (*Source, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var source Source

	err := decoder.Decode(&source)
	if err != nil {
		return nil, fmt.Errorf("failed to decode patch source - %w", err)
	}

	return &source, nil
}

// Records converts each enabled patch into a Record.
func (o *Source) Records() ([]Record, error) {
	var records []Record

	for i, p := range o.Patches {
		if p.Disabled {
			continue
		}

		record := Record{
			ProgramID:   uint64(p.Program),
			Pattern:     p.Pattern,
			Replacement: p.Replacement,
			Offset:      p.Offset,
			Count:       p.Count,
		}

		err := record.Validate()
		if err != nil {
			return nil, fmt.Errorf("patch %d (%q) is invalid - %w", i, p.Description, err)
		}

		if p.Count <= 0 {
			return nil, fmt.Errorf("patch %d (%q) has a count of %d - it must be at least 1",
				i, p.Description, p.Count)
		}

		records = append(records, record)
	}

	return records, nil
}

// FromRecords converts records into a Source, for example to turn
// an existing patch store back into an editable document.
func FromRecords(records []Record) *Source {
	source := &Source{}

	for _, record := range records {
		source.Patches = append(source.Patches, SourcePatch{
			Program:     ProgramID(record.ProgramID),
			Pattern:     record.Pattern,
			Replacement: record.Replacement,
			Offset:      record.Offset,
			Count:       record.Count,
		})
	}

	return source
}
