package specmodel

import (
	"strconv"

	"gopkg.in/yaml.v3"
)

// KV is one entry of an OrderedStringMap.
type KV struct {
	Key   string
	Value string
}

// OrderedStringMap is a string-to-string mapping that preserves the order in
// which keys appeared in the source document, required for
// pkg.local_override and for each scripts section, an ordered collection of
// shell script strings addressed by name.
type OrderedStringMap []KV

// Get returns the value for key and whether it was present.
func (m OrderedStringMap) Get(key string) (string, bool) {
	for _, kv := range m {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Keys returns the keys in document order.
func (m OrderedStringMap) Keys() []string {
	keys := make([]string, len(m))
	for i, kv := range m {
		keys[i] = kv.Key
	}
	return keys
}

// Set appends key/value, or overwrites the value in place if key already
// exists; used by Preprocess to materialize derived scripts.
func (m *OrderedStringMap) Set(key, value string) {
	for i, kv := range *m {
		if kv.Key == key {
			(*m)[i].Value = value
			return
		}
	}
	*m = append(*m, KV{Key: key, Value: value})
}

// UnmarshalYAML decodes a YAML mapping node into an OrderedStringMap,
// preserving key order (yaml.Node.Content lists mapping pairs in document
// order; a plain map[string]string would not).
func (m *OrderedStringMap) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return &yamlTypeError{node: value, want: "mapping"}
	}
	out := make(OrderedStringMap, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var k, v string
		if err := value.Content[i].Decode(&k); err != nil {
			return err
		}
		if err := value.Content[i+1].Decode(&v); err != nil {
			return err
		}
		out = append(out, KV{Key: k, Value: v})
	}
	*m = out
	return nil
}

// MarshalYAML re-encodes an OrderedStringMap as a YAML mapping, preserving
// order.
func (m OrderedStringMap) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, kv := range m {
		var kn, vn yaml.Node
		if err := kn.Encode(kv.Key); err != nil {
			return nil, err
		}
		if err := vn.Encode(kv.Value); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &kn, &vn)
	}
	return node, nil
}

// ShareList is an ordered sequence of (host, jail) path pairs, written in
// YAML as a sequence of single-entry mappings:
//
//	share:
//	  - /home/user/Downloads: /home/crate/Downloads
//	  - /home/user/.config/app: /home/crate/.config/app
type ShareList []SharePair

// UnmarshalYAML decodes a YAML sequence of one-pair mappings into a
// ShareList, preserving sequence order.
func (s *ShareList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return &yamlTypeError{node: value, want: "sequence"}
	}
	out := make(ShareList, 0, len(value.Content))
	for _, item := range value.Content {
		if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
			return &yamlTypeError{node: item, want: "single-entry mapping"}
		}
		var host, jail string
		if err := item.Content[0].Decode(&host); err != nil {
			return err
		}
		if err := item.Content[1].Decode(&jail); err != nil {
			return err
		}
		out = append(out, SharePair{Host: host, Jail: jail})
	}
	*s = out
	return nil
}

// MarshalYAML re-encodes a ShareList as a sequence of single-entry mappings.
func (s ShareList) MarshalYAML() (interface{}, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, pair := range s {
		item := &yaml.Node{Kind: yaml.MappingNode}
		var kn, vn yaml.Node
		if err := kn.Encode(pair.Host); err != nil {
			return nil, err
		}
		if err := vn.Encode(pair.Jail); err != nil {
			return nil, err
		}
		item.Content = append(item.Content, &kn, &vn)
		seq.Content = append(seq.Content, item)
	}
	return seq, nil
}

type yamlTypeError struct {
	node *yaml.Node
	want string
}

func (e *yamlTypeError) Error() string {
	return "line " + strconv.Itoa(e.node.Line) + ": expected " + e.want
}
