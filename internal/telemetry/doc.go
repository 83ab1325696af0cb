// Package telemetry provides the structured-logging setup shared by
// the reqqueue demo binaries.
//
// The queue library itself never reads the environment; SetupLogger
// is for cmd/queuedemo and for host applications that want the same
// log shape the demo uses.
package telemetry
