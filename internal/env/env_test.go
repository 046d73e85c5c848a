package env

import (
	"testing"
	"time"
)

func TestStrReturnsFallbackWhenUnset(t *testing.T) {
	t.Setenv("UNIVOICE_TEST_STR", "")
	if got := Str("UNIVOICE_TEST_STR", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestStrReturnsSetValue(t *testing.T) {
	t.Setenv("UNIVOICE_TEST_STR", "configured")
	if got := Str("UNIVOICE_TEST_STR", "fallback"); got != "configured" {
		t.Fatalf("expected configured value, got %q", got)
	}
}

func TestIntFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("UNIVOICE_TEST_INT", "not-a-number")
	if got := Int("UNIVOICE_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestIntParsesValidValue(t *testing.T) {
	t.Setenv("UNIVOICE_TEST_INT", "42")
	if got := Int("UNIVOICE_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestDurationParsesValidValue(t *testing.T) {
	t.Setenv("UNIVOICE_TEST_DURATION", "800ms")
	if got := Duration("UNIVOICE_TEST_DURATION", time.Second); got != 800*time.Millisecond {
		t.Fatalf("expected 800ms, got %v", got)
	}
}

func TestDurationFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("UNIVOICE_TEST_DURATION", "not-a-duration")
	if got := Duration("UNIVOICE_TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("expected fallback 1s, got %v", got)
	}
}

func TestBoolParsesValidValue(t *testing.T) {
	t.Setenv("UNIVOICE_TEST_BOOL", "true")
	if got := Bool("UNIVOICE_TEST_BOOL", false); got != true {
		t.Fatal("expected true")
	}
}

func TestBoolFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("UNIVOICE_TEST_BOOL", "maybe")
	if got := Bool("UNIVOICE_TEST_BOOL", true); got != true {
		t.Fatal("expected fallback true")
	}
}
