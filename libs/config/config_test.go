package config

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	t.Setenv("FINAGG_TEST_STR", "value")
	if got := String("FINAGG_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("String = %q", got)
	}
	if got := String("FINAGG_TEST_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("String fallback = %q", got)
	}
}

func TestPort(t *testing.T) {
	t.Setenv("FINAGG_TEST_PORT", "8081")
	if got, err := Port("FINAGG_TEST_PORT", "80"); err != nil || got != "8081" {
		t.Fatalf("Port = %q, %v", got, err)
	}
	t.Setenv("FINAGG_TEST_PORT", "not-a-port")
	if _, err := Port("FINAGG_TEST_PORT", "80"); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("FINAGG_TEST_DUR", "250ms")
	if got, err := Duration("FINAGG_TEST_DUR", time.Second); err != nil || got != 250*time.Millisecond {
		t.Fatalf("Duration = %s, %v", got, err)
	}
	if got, err := Duration("FINAGG_TEST_DUR_MISSING", 2*time.Second); err != nil || got != 2*time.Second {
		t.Fatalf("Duration fallback = %s, %v", got, err)
	}
	t.Setenv("FINAGG_TEST_DUR", "soon")
	if _, err := Duration("FINAGG_TEST_DUR", time.Second); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestInt(t *testing.T) {
	t.Setenv("FINAGG_TEST_INT", "5")
	if got, err := Int("FINAGG_TEST_INT", 1); err != nil || got != 5 {
		t.Fatalf("Int = %d, %v", got, err)
	}
	t.Setenv("FINAGG_TEST_INT", "five")
	if _, err := Int("FINAGG_TEST_INT", 1); err == nil {
		t.Fatal("expected error for non-integer")
	}
}
