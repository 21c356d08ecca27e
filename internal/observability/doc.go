// Package observability provides logging, metrics, and tracing for the
// diagnostic runtime.
//
// Logging is structured (slog) with automatic redaction of API keys and
// tokens, which matters because provider errors can echo auth material.
// Metrics are Prometheus collectors covering LLM requests, tool
// executions, provider fallbacks, and store health. Tracing is
// OpenTelemetry with an optional OTLP exporter; with no endpoint
// configured every span is a no-op.
//
// Correlation flows through context: AddSessionID tags a context so every
// log record for a diagnostic session carries its id.
package observability
