// Package config loads and validates Pabawi host configurations.
//
// # Overview
//
// Configuration flows through two steps. A Loader decodes a document into a
// RawConfig, an order-preserving tree of *Object, []any and scalar leaves.
// Validate then checks that tree and produces a typed Config that is
// threaded explicitly through the rest of the pipeline.
//
// # Formats
//
//   - YAML and JSON (.yaml, .yml, .json), decoded through yaml.Node so that
//     mapping order survives and duplicate keys are rejected
//   - CUE (.cue), unified with a closed #Config schema
//   - Starlark (.star), a script that binds a top-level config dict with
//     env and struct predeclared
//
// # Validation
//
// Validate never touches the filesystem, the network or the component
// registry. It collects every problem into one *ValidationError whose
// Unwrap method exposes the typed problems:
//
//   - InvalidIdentifierError for class names and integration names
//   - TypeMismatchError for flags that are not real booleans
//   - MissingDependentFieldError for SSL and authentication rules
//   - ConflictingDeclarationError for an integration declared twice with
//     different settings
//   - UnknownFieldError for unrecognized top-level keys
//
// # Usage Example
//
//	loader := config.NewLoader()
//	raw, err := loader.Load(ctx, "pabawi.yaml")
//	if err != nil {
//		return err
//	}
//	cfg, err := config.Validate(raw)
//	if err != nil {
//		var ve *config.ValidationError
//		if errors.As(err, &ve) {
//			for _, p := range ve.Problems {
//				fmt.Println(p)
//			}
//		}
//		return err
//	}
package config
