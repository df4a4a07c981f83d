// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package logging

import (
	"context"

	"go.uber.org/zap"
)

type runCtxKey struct{}
type passCtxKey struct{}

// WithRunID stores the run identifier on ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext returns the run identifier, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runCtxKey{}).(string)
	return id
}

// WithPass stores the extraction pass on ctx.
func WithPass(ctx context.Context, pass int) context.Context {
	return context.WithValue(ctx, passCtxKey{}, pass)
}

// PassFromContext returns the extraction pass, or 0.
func PassFromContext(ctx context.Context) int {
	pass, _ := ctx.Value(passCtxKey{}).(int)
	return pass
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 2)
	if id := RunIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("run.id", id))
	}
	if pass := PassFromContext(ctx); pass > 0 {
		fields = append(fields, zap.Int("pass", pass))
	}
	return fields
}
