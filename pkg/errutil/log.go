// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 tracedeck Contributors

// Package errutil logs errors with their structured context.
package errutil

import (
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs an error at error level with structured context if it is
// an oops error: message, code and attached context. Standard errors log
// as their error string.
func LogError(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, attrs(err)...)
}

// LogWarn is LogError at warn level, for absorbed errors the bridge
// degrades around instead of failing.
func LogWarn(logger *slog.Logger, msg string, err error) {
	logger.Warn(msg, attrs(err)...)
}

func attrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}

	out := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != "" {
		out = append(out, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		out = append(out, "context", ctx)
	}
	return out
}
