// Package crypto implements the shared encrypted-payload envelope, password
// hashing, token hashing, and server fingerprint derivation. Both the server
// (shared vaults) and the client (personal vaults, via clientcrypto) encrypt
// through this one envelope implementation so the associated-data binding is
// enforced in exactly one place.
package crypto

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/zann-project/zann/internal/errs"
	"golang.org/x/crypto/chacha20poly1305"
)

// Envelope wire format: [magic "ZAN"] [version=1] [nonce 24B] [ciphertext||tag 16B].
const (
	magicZ = 'Z'
	magicA = 'A'
	magicN = 'N'

	version1 byte = 1

	headerLen = 4 // magic(3) + version(1)
	nonceLen  = chacha20poly1305.NonceSizeX
)

// EncryptPayload seals plaintext under key using XChaCha20-Poly1305, binding
// itemID and version into the associated data, and returns a full envelope.
func EncryptPayload(key, itemID []byte, version int64, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ad := bindAD(itemID, version)

	out := make([]byte, 0, headerLen+nonceLen+len(plaintext)+aead.Overhead())
	out = append(out, magicZ, magicA, magicN, version1)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, ad)
	return out, nil
}

// DecryptPayload verifies and opens an envelope produced by EncryptPayload.
// itemID and version must match what was bound at encryption time or
// authentication fails.
func DecryptPayload(key, itemID []byte, version int64, envelope []byte) ([]byte, error) {
	if len(envelope) < headerLen+nonceLen {
		return nil, errs.New(errs.KindInvalidPayload, "envelope too short", errs.ErrFormatInvalid)
	}
	if envelope[0] != magicZ || envelope[1] != magicA || envelope[2] != magicN {
		return nil, errs.New(errs.KindInvalidPayload, "bad envelope magic", errs.ErrFormatInvalid)
	}
	if envelope[3] != version1 {
		return nil, errs.New(errs.KindInvalidPayload, "unsupported envelope version", errs.ErrUnsupportedVersion)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := envelope[headerLen : headerLen+nonceLen]
	ct := envelope[headerLen+nonceLen:]
	ad := bindAD(itemID, version)

	pt, err := aead.Open(nil, nonce, ct, ad)
	if err != nil {
		return nil, errs.New(errs.KindInvalidPayload, "authentication failed", errs.ErrAuthFail)
	}
	return pt, nil
}

func bindAD(itemID []byte, version int64) []byte {
	ad := make([]byte, 0, len(itemID)+8)
	ad = append(ad, itemID...)
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(version))
	return append(ad, v[:]...)
}

// WrapKey wraps a data key under kek, folding label into the associated data
// so a wrapped key cannot be reused under a different label (e.g. DEK vs.
// item key) without detection.
func WrapKey(kek, dataKey []byte, label string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, nonceLen+len(dataKey)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, dataKey, []byte(label))
	return out, nil
}

// UnwrapKey reverses WrapKey.
func UnwrapKey(kek, wrapped []byte, label string) ([]byte, error) {
	if len(wrapped) < nonceLen {
		return nil, errs.New(errs.KindInvalidPayload, "wrapped key too short", errs.ErrFormatInvalid)
	}
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, err
	}
	nonce := wrapped[:nonceLen]
	ct := wrapped[nonceLen:]
	key, err := aead.Open(nil, nonce, ct, []byte(label))
	if err != nil {
		return nil, errs.New(errs.KindInvalidPayload, "authentication failed", errs.ErrAuthFail)
	}
	return key, nil
}
