// ABOUTME: Unit tests for authentication context functions
// ABOUTME: Tests context propagation helpers

package auth

import (
	"context"
	"testing"
)

func TestFromContext(t *testing.T) {
	ctx := context.Background()

	if got := FromContext(ctx); got != nil {
		t.Errorf("FromContext() on empty context = %+v, want nil", got)
	}
	if got := Subject(ctx); got != "" {
		t.Errorf("Subject() on empty context = %q, want empty", got)
	}

	ctx = WithAuth(ctx, &AuthContext{Subject: "alice"})

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("FromContext() = nil, want AuthContext")
	}
	if got.Subject != "alice" {
		t.Errorf("FromContext().Subject = %q, want %q", got.Subject, "alice")
	}
	if Subject(ctx) != "alice" {
		t.Errorf("Subject() = %q, want %q", Subject(ctx), "alice")
	}
}

func TestFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), authContextKey{}, "not an AuthContext")

	if got := FromContext(ctx); got != nil {
		t.Errorf("FromContext() = %+v, want nil for wrong value type", got)
	}
}
