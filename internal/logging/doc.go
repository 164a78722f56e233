// Package logging builds slog loggers with lingopipe's console and JSON
// handlers and standardizes structured field keys across the daemon.
package logging
