package crypto

import "testing"

func TestHKDFSHA256IsDeterministic(t *testing.T) {
	ikm := []byte("input key material")
	salt := []byte("salt")
	info := []byte("context")

	a, err := HKDFSHA256(ikm, salt, info, 32)
	if err != nil {
		t.Fatalf("HKDFSHA256: %v", err)
	}
	b, err := HKDFSHA256(ikm, salt, info, 32)
	if err != nil {
		t.Fatalf("HKDFSHA256: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("HKDFSHA256 is not deterministic for identical inputs")
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(a))
	}
}

func TestHKDFSHA256DiffersByInfo(t *testing.T) {
	ikm := []byte("input key material")
	salt := []byte("salt")

	a, err := HKDFSHA256(ikm, salt, []byte("info-a"), 32)
	if err != nil {
		t.Fatalf("HKDFSHA256: %v", err)
	}
	b, err := HKDFSHA256(ikm, salt, []byte("info-b"), 32)
	if err != nil {
		t.Fatalf("HKDFSHA256: %v", err)
	}
	if string(a) == string(b) {
		t.Fatalf("different info strings produced identical output")
	}
}
