// Package model defines the domain types and value objects used throughout
// the cibox CLI.
//
// This package contains the core entities of the build matrix domain:
//
//   - Leg: one concrete job produced by matrix expansion, with resolved
//     language, version, environment and step sequences
//   - EnvVar: an ordered KEY=VALUE environment variable
//   - StepResult, LegResult: execution outcomes produced by the runner
//   - RunRecord, LegRecord: persisted run summaries used by the history store
//   - LegStatus, RunStatus, StepPhase, ExecBackend: string enums with
//     String/IsValid/Parse helpers
//
// All types are pure data structures with no external dependencies, making
// them safe to use across all layers of the application.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that wraps errors with exit code information for consistent
// error handling across the CLI.
package model
