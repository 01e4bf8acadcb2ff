package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader decodes configuration documents into RawConfig trees. It selects a
// decoder by file extension and performs no validation beyond syntax.
type Loader struct {
	cue      *CUELoader
	starlark *StarlarkEvaluator
}

// NewLoader creates a loader for YAML, JSON, CUE and Starlark sources.
func NewLoader() *Loader {
	return &Loader{
		cue:      NewCUELoader(),
		starlark: NewStarlarkEvaluator(30 * time.Second),
	}
}

// Load reads and decodes the file at path.
func (l *Loader) Load(ctx context.Context, path string) (*RawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}

	return l.LoadBytes(ctx, path, data, format)
}

// LoadBytes decodes data, which was read from source, in the given format.
func (l *Loader) LoadBytes(ctx context.Context, source string, data []byte, format Format) (*RawConfig, error) {
	var (
		root *Object
		err  error
	)

	switch format {
	case FormatYAML:
		root, err = decodeYAML(source, data)
	case FormatCUE:
		root, err = l.cue.Decode(source, data)
	case FormatStarlark:
		root, err = l.starlark.EvaluateConfig(ctx, source, string(data))
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}
	if err != nil {
		return nil, err
	}

	return &RawConfig{
		Source:   source,
		Format:   format,
		Root:     root,
		LoadedAt: time.Now(),
	}, nil
}

// FormatForPath infers the document format from the file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	case ".star", ".starlark":
		return FormatStarlark, nil
	default:
		return "", fmt.Errorf("cannot infer config format from %q (want .yaml, .yml, .json, .cue or .star)", path)
	}
}

// decodeYAML parses data through yaml.Node so that mapping order is kept.
func decodeYAML(source string, data []byte) (*Object, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &LoadError{File: source, Message: err.Error()}
	}

	// An empty document decodes to a zero node.
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return NewObject(), nil
	}

	value, err := convertYAMLNode(source, doc.Content[0])
	if err != nil {
		return nil, err
	}
	if value == nil {
		return NewObject(), nil
	}

	root, ok := value.(*Object)
	if !ok {
		return nil, &LoadError{
			File:    source,
			Line:    doc.Content[0].Line,
			Column:  doc.Content[0].Column,
			Message: fmt.Sprintf("top level must be a mapping, got %s", typeName(value)),
		}
	}
	return root, nil
}

func convertYAMLNode(source string, node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return convertYAMLNode(source, node.Content[0])

	case yaml.AliasNode:
		return convertYAMLNode(source, node.Alias)

	case yaml.MappingNode:
		obj := NewObject()
		for i := 0; i+1 < len(node.Content); i += 2 {
			keyNode, valNode := node.Content[i], node.Content[i+1]
			if keyNode.Kind != yaml.ScalarNode {
				return nil, &LoadError{
					File:    source,
					Line:    keyNode.Line,
					Column:  keyNode.Column,
					Message: "mapping keys must be scalars",
				}
			}
			if obj.Has(keyNode.Value) {
				return nil, &LoadError{
					File:    source,
					Line:    keyNode.Line,
					Column:  keyNode.Column,
					Message: fmt.Sprintf("mapping key %q already defined", keyNode.Value),
				}
			}
			val, err := convertYAMLNode(source, valNode)
			if err != nil {
				return nil, err
			}
			obj.Set(keyNode.Value, val)
		}
		return obj, nil

	case yaml.SequenceNode:
		list := make([]any, 0, len(node.Content))
		for _, item := range node.Content {
			val, err := convertYAMLNode(source, item)
			if err != nil {
				return nil, err
			}
			list = append(list, val)
		}
		return list, nil

	case yaml.ScalarNode:
		var v any
		if err := node.Decode(&v); err != nil {
			return nil, &LoadError{
				File:    source,
				Line:    node.Line,
				Column:  node.Column,
				Message: err.Error(),
			}
		}
		return v, nil

	default:
		return nil, &LoadError{
			File:    source,
			Line:    node.Line,
			Column:  node.Column,
			Message: fmt.Sprintf("unsupported YAML node kind %d", node.Kind),
		}
	}
}
