package events

import (
	"context"
	"testing"
)

func TestCorrelationID_ScopedToChildContext(t *testing.T) {
	parent := context.Background()
	if got := CorrelationID(parent); got != "" {
		t.Fatalf("expected empty ambient id, got %q", got)
	}

	child := WithCorrelationID(parent, "abc-123")
	if got := CorrelationID(child); got != "abc-123" {
		t.Fatalf("expected abc-123 inside the scope, got %q", got)
	}

	// The parent must be untouched once the scope ends, even if the scoped
	// work failed; contexts being immutable guarantees it on every exit path.
	if got := CorrelationID(parent); got != "" {
		t.Fatalf("correlation id leaked into parent: %q", got)
	}
}

func TestCorrelationID_NestedScopesRestore(t *testing.T) {
	outer := WithCorrelationID(context.Background(), "outer")
	inner := WithCorrelationID(outer, "inner")

	if got := CorrelationID(inner); got != "inner" {
		t.Fatalf("expected inner, got %q", got)
	}
	if got := CorrelationID(outer); got != "outer" {
		t.Fatalf("expected outer restored, got %q", got)
	}
}

func TestEnsureCorrelationID(t *testing.T) {
	ctx, id := EnsureCorrelationID(context.Background())
	if id == "" {
		t.Fatal("expected a generated id")
	}
	if got := CorrelationID(ctx); got != id {
		t.Fatalf("context carries %q, want %q", got, id)
	}

	ctx2, id2 := EnsureCorrelationID(ctx)
	if id2 != id {
		t.Fatalf("existing id must be kept, got %q", id2)
	}
	if ctx2 != ctx {
		t.Fatal("context must not be rewrapped when an id exists")
	}
}
