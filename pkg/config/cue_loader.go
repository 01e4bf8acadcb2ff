package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// configSchema closes the top level of a CUE configuration so that a
// misspelled key fails at load time with a source position. Value types
// are left open; Validate reports them with typed errors.
const configSchema = `
#Config: {
	proxy_manage?:     _
	proxy_class?:      _
	proxy_settings?:   _
	install_manage?:   _
	install_class?:    _
	install_settings?: _
	integrations?:     _
	config_dir?:       _
}
`

// CUELoader decodes CUE documents into RawConfig trees.
type CUELoader struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewCUELoader creates a CUE loader with the built-in #Config schema.
func NewCUELoader() *CUELoader {
	ctx := cuecontext.New()
	schema := ctx.CompileString(configSchema, cue.Filename("pabawi-schema.cue"))
	return &CUELoader{
		ctx:    ctx,
		schema: schema.LookupPath(cue.ParsePath("#Config")),
	}
}

// Decode compiles data, unifies it with #Config and converts the concrete
// result into an ordered tree.
func (l *CUELoader) Decode(source string, data []byte) (*Object, error) {
	// cue.Context is not safe for concurrent use.
	l.mu.Lock()
	defer l.mu.Unlock()

	val := l.ctx.CompileBytes(data, cue.Filename(source))
	if err := val.Err(); err != nil {
		return nil, convertCUEError(source, err)
	}

	unified := l.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEError(source, err)
	}

	// Convert the document itself so fields keep their source order rather
	// than the schema's.
	out, err := fromCUEValue(val)
	if err != nil {
		return nil, &LoadError{File: source, Message: err.Error()}
	}
	root, ok := out.(*Object)
	if !ok {
		return nil, &LoadError{File: source, Message: fmt.Sprintf("top level must be a struct, got %s", typeName(out))}
	}
	return root, nil
}

// fromCUEValue converts a concrete CUE value. Struct fields are visited in
// declaration order.
func fromCUEValue(v cue.Value) (any, error) {
	switch v.Kind() {
	case cue.StructKind:
		obj := NewObject()
		iter, err := v.Fields()
		if err != nil {
			return nil, err
		}
		for iter.Next() {
			item, err := fromCUEValue(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", iter.Selector(), err)
			}
			obj.Set(iter.Selector().Unquoted(), item)
		}
		return obj, nil

	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, err
		}
		list := make([]any, 0)
		for iter.Next() {
			item, err := fromCUEValue(iter.Value())
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		return list, nil

	case cue.BoolKind:
		return v.Bool()

	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, err
		}
		return int(i), nil

	case cue.FloatKind:
		return v.Float64()

	case cue.StringKind:
		return v.String()

	case cue.NullKind:
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported CUE value kind %s", v.Kind())
	}
}

// convertCUEError keeps the first positioned CUE error as a LoadError.
func convertCUEError(source string, err error) error {
	for _, e := range errors.Errors(err) {
		loadErr := &LoadError{
			File:    source,
			Message: errors.Details(e, nil),
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			loadErr.File = pos[0].Filename()
			loadErr.Line = pos[0].Line()
			loadErr.Column = pos[0].Column()
		}
		return loadErr
	}
	return &LoadError{File: source, Message: err.Error()}
}
