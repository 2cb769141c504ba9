package logging

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Context key types
type planCtxKey struct{}
type userCtxKey struct{}
type requestCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if planID := PlanIDFromContext(ctx); planID != uuid.Nil {
		fields = append(fields, zap.String("plan.id", planID.String()))
	}
	if userID := UserIDFromContext(ctx); userID != uuid.Nil {
		fields = append(fields, zap.String("user.id", userID.String()))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

// WithPlanID adds the plan ID to context.
func WithPlanID(ctx context.Context, planID uuid.UUID) context.Context {
	return context.WithValue(ctx, planCtxKey{}, planID)
}

// PlanIDFromContext extracts the plan ID from context.
func PlanIDFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(planCtxKey{}).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// WithUserID adds the user ID to context.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userCtxKey{}, userID)
}

// UserIDFromContext extracts the user ID from context.
func UserIDFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(userCtxKey{}).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// WithRequestID adds the request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}
