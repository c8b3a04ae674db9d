// Package listener provides ready-made flake.Listener implementations:
// an in-memory counter, a plain-text printer, a slog logger, and JSON writers.
package listener
