// Package logging assembles the structured slog loggers used across
// subbatch.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes attribute helpers so batch and CLI code emit log
// lines with the same shape. A no-op logger is provided for tests and wiring
// code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup.
package logging
