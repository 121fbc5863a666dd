package domain

import (
	"context"
	"errors"
	"testing"
)

func TestNewMalformed_UnwrapsToSentinel(t *testing.T) {
	err := NewMalformed("k", "must be between 1 and 20")
	if !errors.Is(err, ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest, got %v", err)
	}
	var me *MalformedError
	if !errors.As(err, &me) {
		t.Fatal("expected *MalformedError")
	}
	if me.Field != "k" {
		t.Errorf("expected field k, got %q", me.Field)
	}
}

func TestUpstream_KeepsCause(t *testing.T) {
	err := Upstream("moderation", context.DeadlineExceeded)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Error("expected ErrUpstreamUnavailable")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected cause to be preserved")
	}
}

func TestUpstream_Idempotent(t *testing.T) {
	first := Upstream("embed", errors.New("boom"))
	if got := Upstream("retrieve", first); got != first {
		t.Errorf("expected already-wrapped error to pass through, got %v", got)
	}
	if Upstream("noop", nil) != nil {
		t.Error("expected nil for nil error")
	}
}
