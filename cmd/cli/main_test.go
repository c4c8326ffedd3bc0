package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zann-project/zann/internal/errs"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "zann")
}

func Test_cfgDir_And_Paths(t *testing.T) {
	_ = withTmpConfig(t)
	got := cfgDir()
	base := os.Getenv("XDG_CONFIG_HOME") + "/zann"
	if got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if !strings.HasPrefix(tokenPath(), base) || !strings.HasSuffix(tokenPath(), "token.json") {
		t.Fatalf("tokenPath unexpected: %s", tokenPath())
	}
	if !strings.HasPrefix(saltPath(), base) || !strings.HasSuffix(saltPath(), "kek_salt.bin") {
		t.Fatalf("saltPath unexpected: %s", saltPath())
	}
}

func Test_tokenFile_SaveLoad(t *testing.T) {
	_ = withTmpConfig(t)

	if _, err := loadTokenFile(); err == nil {
		t.Fatalf("expected error when token file missing")
	}
	tf := tokenFile{
		AccessToken: "access", RefreshToken: "refresh",
		ExpiresAt: time.Now().Add(time.Minute), UserID: "u1", Email: "a@b.c",
	}
	if err := saveTokenFile(tf); err != nil {
		t.Fatalf("saveTokenFile: %v", err)
	}
	got, err := loadTokenFile()
	if err != nil {
		t.Fatalf("loadTokenFile: %v", err)
	}
	if got.AccessToken != tf.AccessToken || got.Email != tf.Email {
		t.Fatalf("loadTokenFile mismatch: %+v", got)
	}
}

func Test_loadOrCreateKEKSalt_PersistsAcrossCalls(t *testing.T) {
	_ = withTmpConfig(t)

	first, err := loadOrCreateKEKSalt()
	if err != nil {
		t.Fatalf("loadOrCreateKEKSalt: %v", err)
	}
	if len(first) != 16 {
		t.Fatalf("salt length = %d, want 16", len(first))
	}
	second, err := loadOrCreateKEKSalt()
	if err != nil {
		t.Fatalf("loadOrCreateKEKSalt (2nd): %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("salt not stable across calls")
	}
}

func Test_printJSON_WritesPretty(t *testing.T) {
	t.Parallel()

	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = old }()

	printJSON(map[string]any{"a": 1})
	_ = w.Close()
	out, _ := io.ReadAll(r)

	var m map[string]any
	if json.Unmarshal(out, &m) != nil || m["a"] != float64(1) {
		t.Fatalf("printJSON produced invalid json: %s", string(out))
	}
	if !bytes.Contains(out, []byte("\n")) {
		t.Fatalf("printJSON should indent")
	}
}

func Test_apiClient_ErrorEnvelope_RoundTrips(t *testing.T) {
	t.Parallel()

	env := envelope{OK: false, Error: &struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}{Kind: "not_found", Message: "missing"}}
	b, _ := json.Marshal(env)

	var got envelope
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("roundtrip envelope: %v", err)
	}
	if got.OK || got.Error.Kind != "not_found" {
		t.Fatalf("envelope roundtrip mismatch: %+v", got)
	}
}

// switchableSystemInfoServer serves GET /v1/system/info with whatever
// fingerprint is currently set, so a test can simulate the same address
// later answering from a different (impersonating) server identity.
func switchableSystemInfoServer(t *testing.T) (*httptest.Server, *string) {
	t.Helper()
	fingerprint := new(string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/system/info" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprintf(w, `{"ok":true,"data":{"server_fingerprint":%q,"api_version":"v1","auth_methods":["password"]}}`, *fingerprint)
	}))
	return srv, fingerprint
}

func Test_verifyServerFingerprint_PinsOnFirstContact(t *testing.T) {
	_ = withTmpConfig(t)
	srv, fingerprint := switchableSystemInfoServer(t)
	defer srv.Close()
	*fingerprint = "aabbcc"

	api := newAPIClient(srv.URL, false)
	if err := verifyServerFingerprint(context.Background(), api); err != nil {
		t.Fatalf("first contact should pin, not fail: %v", err)
	}
	got, err := loadPinnedFingerprint(api.base)
	if err != nil {
		t.Fatalf("loadPinnedFingerprint: %v", err)
	}
	if got != "aabbcc" {
		t.Fatalf("pinned fingerprint = %q, want aabbcc", got)
	}
}

func Test_verifyServerFingerprint_RejectsMismatchAfterPinning(t *testing.T) {
	_ = withTmpConfig(t)
	srv, fingerprint := switchableSystemInfoServer(t)
	defer srv.Close()
	*fingerprint = "aabbcc"

	api := newAPIClient(srv.URL, false)
	if err := verifyServerFingerprint(context.Background(), api); err != nil {
		t.Fatalf("first contact: %v", err)
	}

	// The address is unchanged, but the server behind it now reports a
	// different identity (e.g. MITM or silent replacement).
	*fingerprint = "ddeeff"

	err := verifyServerFingerprint(context.Background(), api)
	if err == nil {
		t.Fatalf("expected mismatch to be rejected")
	}
	var e *errs.Error
	if !asCLIErr(err, &e) || e.Kind != errs.KindServerIdentityInvalid {
		t.Fatalf("expected ServerIdentityInvalid, got %v", err)
	}
}

func asCLIErr(err error, target **errs.Error) bool {
	e, ok := err.(*errs.Error)
	if !ok {
		return false
	}
	*target = e
	return true
}

func Test_checksum_And_b64(t *testing.T) {
	t.Parallel()

	sum := checksum([]byte("hello world"))
	if len(sum) != 32 {
		t.Fatalf("checksum length = %d, want 32", len(sum))
	}
	if b64(sum) == "" {
		t.Fatalf("b64 produced empty string")
	}
}
