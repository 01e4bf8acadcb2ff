// Package engine turns a validated configuration into a converged host.
//
// # Overview
//
// A run moves through five phases:
//
//  1. Instantiate - Bind each selected component to its parameters (Instantiate)
//  2. Graph - Order instances by kind rules, dependsOn and resource hints (BuildGraph)
//  3. Compile - Expand every instance once into a flat Catalog (Compiler)
//  4. Gate - Optionally check the catalog against policy (CatalogGate)
//  5. Apply - Converge resources strictly in order (Executor)
//
// The Orchestrator chains these phases for one explicit *config.Config.
//
// # Components
//
// A ComponentSpec names a component kind, its parameter schema and a pure
// build function returning resource declarations. Specs live in a Registry
// populated once at process start. A ComponentInstance binds a spec to
// parameter values; its build runs at most once per run and the result is
// shared by the graph builder and the compiler.
//
// # Resources
//
// Every ResourceDecl has a catalog-wide unique ID of the form kind:name and a
// typed payload validated with struct tags. Package, user, group, directory,
// repository and certificate resources are fatal by default: their failure
// halts the run. Other kinds fail softly unless marked Critical.
//
// # Ordering
//
// Edges are inserted by precedence: ordering rules first, then dependsOn,
// then cross-component After hints. Among ready nodes the lowest
// declaration index goes first, so order never depends on map iteration.
// Cycles are rejected with the full closed path before any resource is
// touched.
//
// # Error Classification
//
// Errors are classified for retry reporting:
//
//   - Transient: Temporary failures that may succeed on retry
//   - Throttled: Rate limiting that requires backoff
//   - Conflict: Resource conflicts requiring retry
//   - Permanent: Non-recoverable errors
//
// Compile errors are permanent EngineErrors carrying a code and wrapping a
// typed cause, so both HasCode and errors.As work:
//
//	var cycle *CycleError
//	if errors.As(err, &cycle) {
//	    fmt.Println(strings.Join(cycle.Path, " -> "))
//	}
//
// # Example Usage
//
//	reg := NewRegistry()
//	components.Register(reg)
//
//	orch := NewOrchestrator(reg, logger)
//	plan, err := orch.Compile(ctx, cfg)
//	report, err := orch.Apply(ctx, plan, applier, ApplyOptions{})
//
//	if report.Status == RunStatusFailed {
//	    // report.FirstFailure names the fatal resource
//	}
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Graphs and catalogs are immutable
// after construction. A RunReport is owned by the executor until Apply
// returns.
package engine
