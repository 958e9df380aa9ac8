package cas

import (
	"testing"

	"github.com/google/uuid"
)

func TestNowMs(t *testing.T) {
	// Just verify it returns a reasonable timestamp (after year 2024)
	ts := NowMs()
	if ts < 1704067200000 {
		t.Errorf("NowMs() returned %d, expected timestamp after 2024", ts)
	}
}

func TestBlake3Hash(t *testing.T) {
	a := Blake3Hash([]byte("hello"))
	b := Blake3Hash([]byte("hello"))
	c := Blake3Hash([]byte("world"))

	if len(a) != 32 {
		t.Fatalf("expected 32-byte digest, got %d", len(a))
	}
	if string(a) != string(b) {
		t.Error("hash is not deterministic")
	}
	if string(a) == string(c) {
		t.Error("different inputs produced the same hash")
	}
	if len(Blake3HashHex([]byte("hello"))) != 64 {
		t.Error("expected 64 hex characters")
	}
}

func TestNewBlake3Hasher_MatchesSum(t *testing.T) {
	h := NewBlake3Hasher()
	h.Write([]byte("hel"))
	h.Write([]byte("lo"))
	if string(h.Sum(nil)) != string(Blake3Hash([]byte("hello"))) {
		t.Error("streaming hash differs from one-shot hash")
	}
}

func TestNameUUID(t *testing.T) {
	a := NameUUID("project")
	b := NameUUID("project")
	c := NameUUID("other")

	if a != b {
		t.Errorf("expected stable uuid, got %s and %s", a, b)
	}
	if a == c {
		t.Error("different names produced the same uuid")
	}

	parsed, err := uuid.Parse(a)
	if err != nil {
		t.Fatalf("invalid uuid %q: %v", a, err)
	}
	if parsed.Version() != 5 {
		t.Errorf("expected version 5, got %d", parsed.Version())
	}
}
