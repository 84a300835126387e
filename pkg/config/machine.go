package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Attribute is a single named machine attribute.
type Attribute struct {
	Key   string
	Value string
}

// Machine is a device under test: an ordered list of attributes as written
// in the config file.
type Machine []Attribute

// Compile-time interface check.
var _ yaml.Unmarshaler = (*Machine)(nil)

// UnmarshalYAML decodes a mapping of scalar values, keeping key order.
func (m *Machine) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: machine must be a mapping", node.Line)
	}

	attrs := make(Machine, 0, len(node.Content)/2)

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]

		if value.Kind != yaml.ScalarNode {
			return fmt.Errorf(
				"line %d: machine attribute %q must be a scalar", value.Line, key.Value,
			)
		}

		attrs = append(attrs, Attribute{Key: key.Value, Value: value.Value})
	}

	*m = attrs

	return nil
}

// Get returns the value of the named attribute.
func (m Machine) Get(key string) (string, bool) {
	for _, attr := range m {
		if attr.Key == key {
			return attr.Value, true
		}
	}

	return "", false
}
