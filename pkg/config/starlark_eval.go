package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StarlarkEvaluator executes Starlark configuration scripts with a timeout.
type StarlarkEvaluator struct {
	timeout time.Duration
	environ func() []string
}

// StarlarkResult is the outcome of one script execution.
type StarlarkResult struct {
	// Globals are the script's exported top-level bindings in declaration order.
	Globals *Object

	// ExecutionTime is how long the script ran.
	ExecutionTime time.Duration
}

// NewStarlarkEvaluator creates an evaluator. A zero timeout means 30s.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkEvaluator{
		timeout: timeout,
		environ: os.Environ,
	}
}

// EvaluateConfig runs a configuration script and returns the dict bound to
// its top-level "config" variable.
func (se *StarlarkEvaluator) EvaluateConfig(ctx context.Context, source, script string) (*Object, error) {
	result, err := se.Evaluate(ctx, source, script, nil)
	if err != nil {
		return nil, &LoadError{File: source, Message: err.Error()}
	}

	cfg, ok := result.Globals.Get("config")
	if !ok {
		return nil, &LoadError{File: source, Message: "script must bind a top-level config dict"}
	}
	root, ok := cfg.(*Object)
	if !ok {
		return nil, &LoadError{File: source, Message: fmt.Sprintf("config must be a dict, got %s", typeName(cfg))}
	}
	return root, nil
}

// Evaluate executes script with input predeclared alongside env and struct.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, source, script string, input map[string]any) (*StarlarkResult, error) {
	startTime := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "pabawi-config",
		Print: func(_ *starlark.Thread, _ string) {
			// Scripts have no stdout.
		},
	}

	predeclared, err := se.predeclared(input)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		globals starlark.StringDict
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		globals, err := starlark.ExecFile(thread, source, script, predeclared)
		done <- outcome{globals: globals, err: err}
	}()

	var res outcome
	select {
	case <-evalCtx.Done():
		thread.Cancel(evalCtx.Err().Error())
		<-done
		return nil, fmt.Errorf("starlark execution timeout after %v", se.timeout)
	case res = <-done:
	}

	if res.err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", res.err)
	}

	globals := NewObject()
	for _, name := range orderedGlobals(res.globals) {
		if strings.HasPrefix(name, "_") {
			continue
		}
		val := res.globals[name]
		// Functions and other callables are helpers, not configuration.
		if _, callable := val.(starlark.Callable); callable {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert global %s: %w", name, err)
		}
		globals.Set(name, goVal)
	}

	return &StarlarkResult{
		Globals:       globals,
		ExecutionTime: time.Since(startTime),
	}, nil
}

func (se *StarlarkEvaluator) predeclared(input map[string]any) (starlark.StringDict, error) {
	env := starlark.NewDict(0)
	for _, kv := range se.environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if err := env.SetKey(starlark.String(k), starlark.String(v)); err != nil {
			return nil, err
		}
	}
	env.Freeze()

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"env":    env,
	}

	for key, val := range input {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = sv
	}
	return predeclared, nil
}

// orderedGlobals returns global names sorted by name. Order inside the
// config dict is what matters and dicts keep insertion order.
func orderedGlobals(globals starlark.StringDict) []string {
	return globals.Keys()
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case *Object:
		dict := starlark.NewDict(val.Len())
		for _, k := range val.Keys() {
			item, _ := val.Get(k)
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value into the RawConfig leaf and
// container types. Dict insertion order is preserved.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return int(i), nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]any, len(val))
		for i, elem := range val {
			item, err := fromStarlarkValue(elem)
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		obj := NewObject()
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			obj.Set(string(key), value)
		}
		return obj, nil
	case *starlarkstruct.Struct:
		obj := NewObject()
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			obj.Set(name, value)
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
