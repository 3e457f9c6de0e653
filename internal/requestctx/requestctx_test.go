package requestctx

import (
	"context"
	"testing"
)

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	if got := RequestID(ctx); got != "" {
		t.Errorf("RequestID on empty context = %q, want empty", got)
	}

	ctx = WithRequestID(ctx, "req-1")
	if got := RequestID(ctx); got != "req-1" {
		t.Errorf("RequestID = %q, want req-1", got)
	}
}

func TestUserID(t *testing.T) {
	ctx := WithUserID(context.Background(), "user-42")
	if got := UserID(ctx); got != "user-42" {
		t.Errorf("UserID = %q, want user-42", got)
	}
	if got := RequestID(ctx); got != "" {
		t.Errorf("RequestID = %q, want empty", got)
	}
}
