// Package logging assembles structured slog loggers and formatting helpers
// used across vidkeep components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and defines the standardized field keys so workers tag log lines
// with job, video, and subscription identifiers consistently. The package also
// provides a no-op logger for tests, a progress sampler for bounded-rate
// download logging, and log retention pruning.
//
// Prefer these constructors over hand-rolled slog setup to ensure new
// components emit data with the same shape as the rest of the system.
package logging
