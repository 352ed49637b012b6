// Package engine holds the types shared by every layer of the attribute engine.
//
// # Errors
//
// Every failure the engine reports is an *EngineError carrying a class (transient,
// conflict or permanent), a machine readable code and optional details. Callers test
// for a code with the predicates rather than by message:
//
//	v, err := attribute.FindValueForContext(dc, ctx, "", parentID)
//	if engine.IsNotFound(err) {
//	    // no value at this context yet
//	}
//
// Details travel with the error; an edit that fails part way records the last stage
// it completed under the "stage" key.
//
// # Function execution
//
// FunctionExecutor is the seam between the engine and the function backends. An
// ExecutionRequest names the function, its backend, entrypoint, code and JSON
// arguments; the backend answers with an ExecutionResult or an *ExecutionFailure.
// Bindings are memoized above this layer, so a backend runs at most once per
// distinct (function, arguments) pair.
//
// # Dependency graphs
//
// DAGBuilder orders units by their dependencies into levels with Kahn's algorithm and
// rejects cycles with the offending path. Components use it to run configuration
// parents before the components they configure, and the CLI renders it with ToDOT.
package engine
