package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Field is one key/value pair of an OrderedMap.
type Field struct {
	Key   string
	Value interface{}
}

// OrderedMap is a YAML mapping whose keys serialize in declaration
// order rather than whatever order a Go map iterates in. Every
// Wildland object builder (pkg/wlobject) produces one of these so
// that signing has a single canonical byte form to sign over, per
// spec.md §4.2's "keys in a stable order" requirement.
type OrderedMap struct {
	fields []Field
	index  map[string]int
}

// NewOrderedMap builds an OrderedMap from fields in the order given.
func NewOrderedMap(fields ...Field) *OrderedMap {
	om := &OrderedMap{index: make(map[string]int, len(fields))}
	for _, f := range fields {
		om.Set(f.Key, f.Value)
	}
	return om
}

// Set assigns key, appending it if new or updating in place if it
// already exists (preserving its original position).
func (om *OrderedMap) Set(key string, value interface{}) {
	if i, ok := om.index[key]; ok {
		om.fields[i].Value = value
		return
	}
	om.index[key] = len(om.fields)
	om.fields = append(om.fields, Field{Key: key, Value: value})
}

// Get returns the value for key and whether it was present.
func (om *OrderedMap) Get(key string) (interface{}, bool) {
	i, ok := om.index[key]
	if !ok {
		return nil, false
	}
	return om.fields[i].Value, true
}

// Keys returns field keys in declared order.
func (om *OrderedMap) Keys() []string {
	keys := make([]string, len(om.fields))
	for i, f := range om.fields {
		keys[i] = f.Key
	}
	return keys
}

// MarshalYAML implements yaml.Marshaler, emitting a mapping node with
// content in the OrderedMap's declared order.
func (om *OrderedMap) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range om.fields {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Key}
		valNode := &yaml.Node{}
		if err := valNode.Encode(f.Value); err != nil {
			return nil, fmt.Errorf("encoding field %q: %w", f.Key, err)
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node, nil
}

// CanonicalYAML serializes om to its canonical byte form: stable key
// order (by construction) and \n line endings.
func CanonicalYAML(om *OrderedMap) ([]byte, error) {
	out, err := yaml.Marshal(om)
	if err != nil {
		return nil, fmt.Errorf("marshaling canonical yaml: %w", err)
	}
	return out, nil
}

// ToGenericMap converts the OrderedMap into a plain
// map[string]interface{}, used where downstream code only needs
// field lookups, not serialization order (e.g. schema validation).
func (om *OrderedMap) ToGenericMap() map[string]interface{} {
	out := make(map[string]interface{}, len(om.fields))
	for _, f := range om.fields {
		out[f.Key] = f.Value
	}
	return out
}
