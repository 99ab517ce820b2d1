package tool

import "testing"

func TestNormalizeExecSignatureEquivalence(t *testing.T) {
	a := NormalizeExecSignature("npm test -- --filter=X | tee /tmp/a")
	b := NormalizeExecSignature("npm test -- --filter=X | head -n 40")
	if a != b {
		t.Fatalf("expected equal signatures, got %q vs %q", a, b)
	}
}

func TestNormalizeExecSignaturePlainCommand(t *testing.T) {
	got := NormalizeExecSignature("ls -la | head")
	want := "ls -la"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestCanonicalSignatureFileReadBuckets(t *testing.T) {
	a := CanonicalSignature("file_read", map[string]interface{}{"path": "x", "offset": 1})
	b := CanonicalSignature("file_read", map[string]interface{}{"path": "x", "offset": 150})
	c := CanonicalSignature("file_read", map[string]interface{}{"path": "x", "offset": 201})
	if a != b {
		t.Fatalf("offsets in the same 200-wide bucket must share a signature: %q vs %q", a, b)
	}
	if a == c {
		t.Fatalf("offsets in different buckets must differ: %q vs %q", a, c)
	}
}

func TestNormalizeSearchPatternOrderInvariant(t *testing.T) {
	a := NormalizeSearchPattern("foo bar")
	b := NormalizeSearchPattern("Bar Foo")
	if a != b {
		t.Fatalf("pattern normalization must be order/case invariant: %q vs %q", a, b)
	}
}
