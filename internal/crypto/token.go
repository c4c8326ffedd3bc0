package crypto

import (
	"github.com/zeebo/blake3"
)

// peppKey derives a 32-byte BLAKE3 key from an arbitrary-length pepper, since
// NewKeyed requires an exact 32-byte key.
func peppKey(pepper []byte) [32]byte {
	return blake3.Sum256(pepper)
}

// HashToken returns a keyed BLAKE3 digest of a bearer token, keyed by the
// process-wide token pepper. Only this hash is persisted server-side;
// lookups compare against the indexed hash column, never the raw token.
func HashToken(pepper, token []byte) []byte {
	key := peppKey(pepper)
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic(err) // key is always exactly 32 bytes
	}
	h.Write(token)
	return h.Sum(nil)
}

// ServerFingerprint deterministically derives a server identity fingerprint
// from the token pepper and the server's identity bytes, surfaced to clients
// via system/info for pinning.
func ServerFingerprint(pepper, identity []byte) []byte {
	key := peppKey(pepper)
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic(err)
	}
	h.Write(identity)
	return h.Sum(nil)
}
