package appctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFields(t *testing.T) {
	assert.Empty(t, Fields(context.Background()))

	ctx := SetRequestID(context.Background(), "req-1")
	ctx = SetRecordID(ctx, "patient-7")
	ctx = SetUserID(ctx, "reviewer")
	ctx = SetAttempt(ctx, 2)

	assert.Equal(t, map[string]any{
		"request_id": "req-1",
		"record_id":  "patient-7",
		"user_id":    "reviewer",
		"attempt":    2,
	}, Fields(ctx))
}

func TestHTTPFields(t *testing.T) {
	ctx := SetMethod(context.Background(), "POST")
	ctx = SetRoute(ctx, "/operations/updateLink")
	ctx = SetRemoteIP(ctx, "10.0.0.1")

	assert.Equal(t, "POST", GetMethod(ctx))
	assert.Equal(t, "/operations/updateLink", GetRoute(ctx))
	assert.Equal(t, "10.0.0.1", GetRemoteIP(ctx))
	assert.Len(t, Fields(ctx), 3)
}
