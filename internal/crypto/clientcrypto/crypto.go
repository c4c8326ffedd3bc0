// Package clientcrypto contains client-side primitives for password-derived
// key wrapping: deriving a KEK from a master password, and wrapping/unwrapping
// vault data keys under it. Payload encryption itself lives in the shared
// internal/crypto envelope, used identically by client and server.
package clientcrypto

import (
	"crypto/rand"

	"github.com/zann-project/zann/internal/crypto"
	"golang.org/x/crypto/argon2"
)

// VaultKeyLen is the size of a vault data key (XChaCha20-Poly1305 key size).
const VaultKeyLen = 32

// KEKLen is the size of the password-derived key-encryption key.
const KEKLen = 32

// KEKParams tunes the client-side Argon2id KEK derivation. It is a separate
// variable from crypto.DefaultArgon2Params, currently with the same values,
// so client unlock can be tuned independently of server-side login hashing.
var KEKParams = crypto.Argon2Params{
	MemoryKB:    64 * 1024,
	Iterations:  3,
	Parallelism: 1,
	KeyLen:      KEKLen,
}

// Rand returns n cryptographically secure random bytes.
func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveKEK derives a key-encryption key from the master password and a
// per-storage KDF salt using Argon2id.
func DeriveKEK(password, kdfSalt []byte) []byte {
	return argon2.IDKey(password, kdfSalt, KEKParams.Iterations, KEKParams.MemoryKB, KEKParams.Parallelism, KEKParams.KeyLen)
}

// WrapVaultKey wraps a vault data key under a KEK for storage in Vault.WrappedKey.
func WrapVaultKey(kek, vaultKey []byte) ([]byte, error) {
	return crypto.WrapKey(kek, vaultKey, "vault-key")
}

// UnwrapVaultKey reverses WrapVaultKey.
func UnwrapVaultKey(kek, wrapped []byte) ([]byte, error) {
	return crypto.UnwrapKey(kek, wrapped, "vault-key")
}

// EncryptItem seals an item payload under the vault's data key.
func EncryptItem(vaultKey []byte, itemID []byte, version int64, plaintext []byte) ([]byte, error) {
	return crypto.EncryptPayload(vaultKey, itemID, version, plaintext)
}

// DecryptItem opens an item payload sealed by EncryptItem.
func DecryptItem(vaultKey []byte, itemID []byte, version int64, envelope []byte) ([]byte, error) {
	return crypto.DecryptPayload(vaultKey, itemID, version, envelope)
}
