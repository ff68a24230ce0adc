// Package runner executes a single pipeline step in an isolated environment.
//
// A step is addressed by a component locator. "builtin://<name>" dispatches to
// an in-process Handler registered in a Registry; any other locator is a
// directory holding a component.yaml manifest whose entry point is executed as
// a local process or, when the manifest asks for it, inside a container.
//
// Artifact references among the parameters are resolved through the artifact
// store before anything starts. Declared outputs are registered only after
// the step succeeds and only when every one of them was produced.
package runner
