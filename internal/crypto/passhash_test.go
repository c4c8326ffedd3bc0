package crypto

import (
	"bytes"
	"testing"
)

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal — looks non-random", n)
	}

	zero := make([]byte, n)
	if bytes.Equal(a, zero) {
		t.Fatalf("RandBytes returned all zeros")
	}
}

func TestHashPassword_DeterministicOnSameInput(t *testing.T) {
	t.Parallel()

	pw := []byte("p@ssw0rd")
	pepper := []byte("process-wide-pepper")
	salt := []byte("NaCl-16-bytes?")
	p := DefaultArgon2Params

	h1 := HashPassword(pw, pepper, salt, p)
	h2 := HashPassword(pw, pepper, salt, p)

	if len(h1) == 0 || len(h2) == 0 {
		t.Fatalf("empty hash")
	}
	if !bytes.Equal(h1, h2) {
		t.Fatalf("hash not deterministic for same input")
	}

	h3 := HashPassword(pw, pepper, []byte("another-salt----"), p)
	if bytes.Equal(h1, h3) {
		t.Fatalf("hash should differ when salt differs")
	}

	h4 := HashPassword([]byte("p@ssw0rd!"), pepper, salt, p)
	if bytes.Equal(h1, h4) {
		t.Fatalf("hash should differ when password differs")
	}

	h5 := HashPassword(pw, []byte("other-pepper"), salt, p)
	if bytes.Equal(h1, h5) {
		t.Fatalf("hash should differ when pepper differs")
	}
}

func TestVerifyPassword(t *testing.T) {
	t.Parallel()

	pw := []byte("correct horse battery staple")
	pepper := []byte("pepper")
	salt := []byte("salty-salt-123456")
	p := DefaultArgon2Params

	hash := HashPassword(pw, pepper, salt, p)

	if !VerifyPassword(pw, pepper, salt, hash, p) {
		t.Fatalf("VerifyPassword: expected true for correct password")
	}
	if VerifyPassword([]byte("wrong"), pepper, salt, hash, p) {
		t.Fatalf("VerifyPassword: expected false for wrong password")
	}
	if VerifyPassword(pw, pepper, []byte("wrong-salt"), hash, p) {
		t.Fatalf("VerifyPassword: expected false for wrong salt")
	}
	if VerifyPassword([]byte{}, pepper, salt, hash, p) {
		t.Fatalf("VerifyPassword: expected false for empty password")
	}
}
