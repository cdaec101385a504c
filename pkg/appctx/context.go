// Package appctx carries request and work-item metadata on a context
package appctx

import "context"

type ContextKey string

var (
	RequestIDKey = ContextKey("X-Request-Id")
	MethodKey    = ContextKey("X-Method")
	RouteKey     = ContextKey("X-Route")
	RemoteIPKey  = ContextKey("X-Remote-Ip")
	UserIDKey    = ContextKey("X-User-Id")
	RecordIDKey  = ContextKey("X-Record-Id")
	AttemptKey   = ContextKey("X-Attempt")
)

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// SetUserID records the reviewer behind a manual link change
func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	return getString(ctx, UserIDKey)
}

func SetMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, MethodKey, method)
}

func GetMethod(ctx context.Context) string {
	return getString(ctx, MethodKey)
}

func SetRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	return getString(ctx, RouteKey)
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return context.WithValue(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	return getString(ctx, RemoteIPKey)
}

// SetRecordID tags work done on behalf of one incoming record
func SetRecordID(ctx context.Context, recordID string) context.Context {
	return context.WithValue(ctx, RecordIDKey, recordID)
}

func GetRecordID(ctx context.Context) string {
	return getString(ctx, RecordIDKey)
}

func SetAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, AttemptKey, attempt)
}

func GetAttempt(ctx context.Context) int {
	value, ok := ctx.Value(AttemptKey).(int)
	if !ok {
		return 0
	}
	return value
}

// Fields returns the populated metadata as log fields
func Fields(ctx context.Context) map[string]any {
	fields := map[string]any{}
	for key, name := range map[ContextKey]string{
		RequestIDKey: "request_id",
		MethodKey:    "method",
		RouteKey:     "route",
		RemoteIPKey:  "remote_ip",
		UserIDKey:    "user_id",
		RecordIDKey:  "record_id",
	} {
		if value := getString(ctx, key); value != "" {
			fields[name] = value
		}
	}
	if attempt := GetAttempt(ctx); attempt > 0 {
		fields["attempt"] = attempt
	}
	return fields
}

func getString(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}
