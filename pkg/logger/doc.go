// Package logger builds the gateway's structured logger on log/slog. Every
// record carries the service name and deployment environment; production
// emits JSON, other environments emit human-readable text.
package logger
