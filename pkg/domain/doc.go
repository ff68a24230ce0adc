// Package domain defines the core types of the listing preparation pipeline.
//
// This package has ZERO dependencies outside the Go standard library. It holds:
//
// - Step identities and their canonical execution order
// - Artifact references and artifact metadata
// - The tabular Dataset exchanged between cleaning, checking and splitting
// - The error taxonomy shared by the driver, the runner and the CLIs
// - Run-tracking identities and the per-run Report
//
// Infrastructure packages (storage, runner, pipeline, tracking) depend on these
// types. The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
