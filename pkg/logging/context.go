package logging

import (
	"context"
)

type contextKey string

const (
	RequestIDKey     contextKey = "request_id"
	CorrelationIDKey contextKey = "correlation_id"
	UserUUIDKey      contextKey = "user_uuid"
	ServiceNameKey   contextKey = "service_name"
)

func WithRequestID(ctx context.Context, requestID int64) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

func WithUserUUID(ctx context.Context, userUUID string) context.Context {
	return context.WithValue(ctx, UserUUIDKey, userUUID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func GetRequestID(ctx context.Context) (int64, bool) {
	requestID, ok := ctx.Value(RequestIDKey).(int64)
	return requestID, ok
}

func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return correlationID
	}
	return ""
}

func GetUserUUID(ctx context.Context) string {
	if userUUID, ok := ctx.Value(UserUUIDKey).(string); ok {
		return userUUID
	}
	return ""
}

func GetServiceName(ctx context.Context) string {
	if serviceName, ok := ctx.Value(ServiceNameKey).(string); ok {
		return serviceName
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	if requestID, ok := GetRequestID(ctx); ok {
		fields = append(fields, "request_id", requestID)
	}

	if correlationID := GetCorrelationID(ctx); correlationID != "" {
		fields = append(fields, "correlation_id", correlationID)
	}

	if userUUID := GetUserUUID(ctx); userUUID != "" {
		fields = append(fields, "user_uuid", userUUID)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, "service_name", serviceName)
	}

	return fields
}
