package domain_test

import (
	"testing"

	"github.com/novcord/server/internal/domain"
)

func TestParseUserID(t *testing.T) {
	id, err := domain.ParseUserID("42")
	if err != nil || id != 42 {
		t.Fatalf("ParseUserID(42) = %v, %v", id, err)
	}
	if _, err := domain.ParseUserID("4x"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := domain.ParseUserID(""); err == nil {
		t.Fatal("expected parse error for empty input")
	}
}

func TestPrivateChannelCanonicalOrder(t *testing.T) {
	a := domain.PrivateChannel(7, 3)
	b := domain.PrivateChannel(3, 7)
	if a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
	if a != "private_3_7" {
		t.Fatalf("key = %q", a)
	}
}
