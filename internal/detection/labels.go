package detection

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Labels maps class ids to display names.
type Labels map[int]string

// Name returns the display name for id, or "class_{id}" when the id is unknown.
func (l Labels) Name(id int) string {
	if name, ok := l[id]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("class_%d", id)
}

// Resolve picks the label for d: the detector-supplied Label when present,
// otherwise the lookup by ClassID.
func (l Labels) Resolve(d RawDetection) string {
	if d.Label != "" {
		return d.Label
	}
	return l.Name(d.ClassID)
}

// labelFile accepts both shapes Ultralytics writes into data.yaml:
//
//	names: [person, bicycle]
//	names: {0: person, 1: bicycle}
type labelFile struct {
	Names yaml.Node `yaml:"names"`
}

// LoadLabels reads a YAML label file.
//
// The file may be an Ultralytics data.yaml (a top-level "names" key holding either
// a list or an id->name map) or a bare id->name map.
func LoadLabels(path string) (Labels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels file: %w", err)
	}
	return ParseLabels(data)
}

// ParseLabels decodes label YAML. See LoadLabels for the accepted shapes.
func ParseLabels(data []byte) (Labels, error) {
	var f labelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse labels: %w", err)
	}

	node := &f.Names
	if node.Kind == 0 {
		// No "names" key: the whole document is the map.
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse labels: %w", err)
		}
		if len(doc.Content) == 0 {
			return Labels{}, nil
		}
		node = doc.Content[0]
	}

	labels := make(Labels)
	switch node.Kind {
	case yaml.SequenceNode:
		for i, item := range node.Content {
			labels[i] = item.Value
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			id, err := strconv.Atoi(node.Content[i].Value)
			if err != nil {
				return nil, fmt.Errorf("invalid class id %q: %w", node.Content[i].Value, err)
			}
			labels[id] = node.Content[i+1].Value
		}
	default:
		return nil, fmt.Errorf("labels must be a list or a map, got %s", node.Tag)
	}
	return labels, nil
}
