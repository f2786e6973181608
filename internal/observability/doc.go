// Package observability builds the logger, OpenTelemetry export and
// Prometheus collectors shared by the workflow, outbox relay and binary.
//
// Logs go to stderr as JSON (or console encoding). When an OTLP endpoint is
// configured, SetupTelemetry installs global trace and log providers and
// NewExportingLogger tees every record into the log provider through the
// otelzap bridge.
package observability
