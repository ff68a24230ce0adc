// Package telemetry wires OpenTelemetry exporters and meters for the pipeline.
//
// It centralises trace provider setup and the step-level instruments so every
// pipeline run reports executions and durations under the same names.
package telemetry
