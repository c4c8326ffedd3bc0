package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// Argon2Params configures the Argon2id KDF used for both password hashing
// and, through its own parameter set (clientcrypto.KEKParams), client KEK
// derivation.
type Argon2Params struct {
	MemoryKB    uint32
	Iterations  uint32
	Parallelism uint8
	KeyLen      uint32
}

// DefaultArgon2Params match the teacher's tuning: 3 iterations, 64MB, 1 lane.
var DefaultArgon2Params = Argon2Params{
	MemoryKB:    64 * 1024,
	Iterations:  3,
	Parallelism: 1,
	KeyLen:      32,
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPassword returns Argon2id(password||pepper, salt). The pepper is a
// process-wide secret distinct from the per-user salt; it is concatenated
// onto the password before hashing rather than mixed into the salt, so a
// pepper rotation does not require rehashing every user's salt.
func HashPassword(password, pepper, salt []byte, p Argon2Params) []byte {
	input := append(append([]byte{}, password...), pepper...)
	return argon2.IDKey(input, salt, p.Iterations, p.MemoryKB, p.Parallelism, p.KeyLen)
}

// VerifyPassword recomputes the hash and compares in constant time.
func VerifyPassword(password, pepper, salt, expected []byte, p Argon2Params) bool {
	got := HashPassword(password, pepper, salt, p)
	return subtle.ConstantTimeCompare(got, expected) == 1
}
