// Package keystore abstracts over the OS credential store used to hold a
// client's unlocked vault key material between process invocations, so a
// user is not forced to re-enter their master password on every command.
package keystore

import (
	"errors"

	"github.com/zalando/go-keyring"
)

// ErrNotFound is returned when no secret is stored under the given account.
var ErrNotFound = errors.New("keystore: secret not found")

// ErrUnavailable is returned when the platform credential store cannot be
// reached (e.g. no secret-service daemon running on Linux).
var ErrUnavailable = errors.New("keystore: backend unavailable")

// Store is the capability set a client offers for holding secrets outside of
// process memory: store, load, delete, and a check for whether biometry (or
// any interactive unlock prompt) gates access on this platform.
type Store interface {
	Store(account string, secret []byte) error
	Load(account string) ([]byte, error)
	Delete(account string) error
	BiometryGate() bool
}

const service = "zann"

// OSStore backs Store with the platform credential manager: macOS Keychain,
// Windows Credential Manager, or the Linux Secret Service, via go-keyring.
type OSStore struct{}

// New returns the platform-backed keystore.
func New() *OSStore { return &OSStore{} }

func (OSStore) Store(account string, secret []byte) error {
	if err := keyring.Set(service, account, string(secret)); err != nil {
		return translate(err)
	}
	return nil
}

func (OSStore) Load(account string) ([]byte, error) {
	s, err := keyring.Get(service, account)
	if err != nil {
		return nil, translate(err)
	}
	return []byte(s), nil
}

func (OSStore) Delete(account string) error {
	if err := keyring.Delete(service, account); err != nil {
		return translate(err)
	}
	return nil
}

// BiometryGate reports false: go-keyring's backends gate on OS session
// unlock, not on a separate biometric prompt this process can detect.
func (OSStore) BiometryGate() bool { return false }

func translate(err error) error {
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, keyring.ErrUnsupportedPlatform):
		return ErrUnavailable
	default:
		return err
	}
}

// MemStore is an in-memory Store used in tests and on platforms with no
// available credential backend, mirroring go-keyring's own MockInit.
type MemStore struct {
	secrets map[string][]byte
}

// NewMem returns an empty in-memory store.
func NewMem() *MemStore {
	return &MemStore{secrets: make(map[string][]byte)}
}

func (m *MemStore) Store(account string, secret []byte) error {
	cp := make([]byte, len(secret))
	copy(cp, secret)
	m.secrets[account] = cp
	return nil
}

func (m *MemStore) Load(account string) ([]byte, error) {
	s, ok := m.secrets[account]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(s))
	copy(cp, s)
	return cp, nil
}

func (m *MemStore) Delete(account string) error {
	if _, ok := m.secrets[account]; !ok {
		return ErrNotFound
	}
	delete(m.secrets, account)
	return nil
}

func (m *MemStore) BiometryGate() bool { return false }
