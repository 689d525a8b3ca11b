package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAML parses doc and binds its entries onto registered variables.
// Nested mapping keys flatten into dotted names, and every named level binds
// when registered, containers included - a variable registered under "a"
// receives the whole mapping below it while "a.b" receives the leaf.
//
// Unknown names are ignored. Keys failing name validation and entries
// failing to decode are skipped with an error-level log line, so one bad
// entry cannot block the rest of the document. The error return is reserved
// for an unparseable document.
func (r *Registry) LoadYAML(doc []byte) error {
	var root yaml.Node
	if err := yaml.Unmarshal(doc, &root); err != nil {
		return fmt.Errorf("config: parse yaml: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil
	}
	r.bindNode("", root.Content[0])
	return nil
}

// LoadFile reads path and loads it via LoadYAML.
func (r *Registry) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return r.LoadYAML(b)
}

func (r *Registry) bindNode(name string, node *yaml.Node) {
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}

	if name != "" {
		if base := r.Base(name); base != nil {
			if err := base.FromNode(node); err != nil {
				r.log.Err().
					Str("name", name).
					Err(err).
					Log("config value rejected")
			}
		}
	}

	if node.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if !ValidName(key) {
			r.log.Err().
				Str("key", key).
				Str("under", name).
				Log("config key skipped, invalid name")
			continue
		}
		child := key
		if name != "" {
			child = name + "." + key
		}
		r.bindNode(child, node.Content[i+1])
	}
}
