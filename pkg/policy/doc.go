// Package policy gates compiled catalogs with Open Policy Agent (OPA)
// policies written in Rego.
//
// # Architecture
//
// The Engine compiles each policy once and evaluates its deny set against
// the whole catalog. The Loader reads extra policies from .rego and .json
// files and can watch them for changes. Built-in policies are always
// loaded and cannot be shadowed by loaded ones.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger, policy.WithMetrics(metrics))
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/pabawi/policies"}); err != nil {
//	    return err
//	}
//	orch := engine.NewOrchestrator(registry, logger, engine.WithGate(eng))
//
// # Writing Policies
//
// A policy is a Rego module with a deny set. The input document is
//
//	{"catalog": {"resources": [{"id", "kind", "owner", "fatal", "after", "payload"}], "components": [...]}}
//
// where payload holds the kind's attributes under their JSON names. Each
// deny entry is either a message string or an object:
//
//	package pabawi.policies.custom
//
//	import rego.v1
//
//	deny contains violation if {
//	    some r in input.catalog.resources
//	    r.kind == "package"
//	    r.payload.ensure == "latest"
//	    violation := {
//	        "message": sprintf("package %s floats to latest", [r.payload.name]),
//	        "resource": r.id,
//	        "severity": "error",
//	    }
//	}
//
// Entries without a severity take the policy's. Policies loaded from .rego
// files default to warning.
//
// # Built-in Policies
//
//   - exec-requires-guard (error): exec resources must declare a guard.
//   - file-world-writable (error): no o+w bit on files or directories.
//   - container-pinned-image (warning): images need a tag other than latest.
//   - secret-in-content (warning): files embedding JWT_SECRET should not be
//     world-readable.
package policy
