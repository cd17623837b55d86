package conv

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// HexBytes is a []byte that is written in YAML documents as
// a hex string accepted by ParseHex.
type HexBytes []byte

func (o *HexBytes) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a hex string", node.Line)
	}

	b, err := ParseHex(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: failed to parse hex string - %w", node.Line, err)
	}

	*o = b

	return nil
}

func (o HexBytes) MarshalYAML() (interface{}, error) {
	return FormatHex(o), nil
}
