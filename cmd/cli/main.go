// Command zann is a CLI client for the Zann password-sync service.
package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/zann-project/zann/internal/crypto/clientcrypto"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/keystore"
)

// ---- local config/token store ----

type tokenFile struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "zann")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "zann")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }
func saltPath() string  { return filepath.Join(cfgDir(), "kek_salt.bin") }

// fingerprintPath returns where the pinned server fingerprint for a given
// server address is cached locally, keyed by address so the CLI can talk to
// more than one server without cross-pinning them.
func fingerprintPath(addr string) string {
	sum := blake3.Sum256([]byte(addr))
	return filepath.Join(cfgDir(), "fp_"+hex.EncodeToString(sum[:8])+".txt")
}

func saveTokenFile(tf tokenFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.Create(tokenPath())
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tf)
}

func loadTokenFile() (tokenFile, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return tokenFile{}, errors.New("no saved session (login required)")
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return tokenFile{}, err
	}
	if tf.AccessToken == "" {
		return tokenFile{}, errors.New("no saved session (login required)")
	}
	return tf, nil
}

// loadOrCreateKEKSalt persists the local-only salt used to derive a vault
// key-encryption key from the master password. The server never sees it:
// spec.md's vaults carry only the wrapped data key, not the wrapping secret.
func loadOrCreateKEKSalt() ([]byte, error) {
	if b, err := os.ReadFile(saltPath()); err == nil {
		return b, nil
	}
	salt, err := clientcrypto.Rand(16)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(saltPath(), salt, 0o600); err != nil {
		return nil, err
	}
	return salt, nil
}

// loadPinnedFingerprint returns the fingerprint previously pinned for addr,
// or "" if this is the first time the CLI has talked to it.
func loadPinnedFingerprint(addr string) (string, error) {
	b, err := os.ReadFile(fingerprintPath(addr))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func savePinnedFingerprint(addr, fingerprint string) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	return os.WriteFile(fingerprintPath(addr), []byte(fingerprint), 0o600)
}

// verifyServerFingerprint implements spec.md §8 scenario 6: before any
// credential is sent, the CLI fetches GET /v1/system/info and compares the
// server's reported fingerprint against the one pinned on first contact for
// this address. A mismatch means the server at this address is no longer
// the one the CLI previously trusted, and the call aborts without sending
// anything further.
func verifyServerFingerprint(ctx context.Context, api *apiClient) error {
	var info struct {
		ServerFingerprint string `json:"server_fingerprint"`
	}
	if err := api.do(ctx, http.MethodGet, "/v1/system/info", nil, &info); err != nil {
		return err
	}
	pinned, err := loadPinnedFingerprint(api.base)
	if err != nil {
		return err
	}
	if pinned == "" {
		return savePinnedFingerprint(api.base, info.ServerFingerprint)
	}
	if pinned != info.ServerFingerprint {
		return errs.New(errs.KindServerIdentityInvalid,
			fmt.Sprintf("server fingerprint for %s no longer matches the pinned value", api.base),
			errs.ErrServerIdentityInvalid)
	}
	return nil
}

// ---- HTTP API client ----

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// apiError wraps a server-reported error envelope.
type apiError struct {
	Kind    string
	Message string
}

func (e *apiError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

type apiClient struct {
	base  string
	hc    *http.Client
	token string
}

func newAPIClient(addr string, insecure bool) *apiClient {
	tr := &http.Transport{}
	if insecure {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &apiClient{base: strings.TrimRight(addr, "/"), hc: &http.Client{Transport: tr, Timeout: 30 * time.Second}}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.OK {
		if env.Error != nil {
			return &apiError{Kind: env.Error.Kind, Message: env.Error.Message}
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		fmt.Fprintf(os.Stderr, "api error: kind=%s msg=%s\n", ae.Kind, ae.Message)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `zann CLI
Usage:
  zann -addr URL [-insecure] <cmd> [args]

Commands:
  version
  register  -email <email> -password <pass>
  login     -email <email> -password <pass>          (saves session, provisions default vault)
  logout
  vaults
  sync      -vault <slug>
  rm        -vault <slug> -id <uuid> -base <seq>
  restore   -vault <slug> -id <uuid> -from <version>
  add-login, add-text, add-card, add-binary, add-otp, show   (see -h on each)
`)
	os.Exit(64)
}

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	addr := flag.String("addr", "https://localhost:8443", "server base URL")
	insecure := flag.Bool("insecure", false, "skip TLS cert verification (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	api := newAPIClient(*addr, *insecure)

	switch cmd {
	case "version":
		fmt.Printf("zann %s (%s)\n", version, buildDate)

	case "register":
		cmdRegister(ctx, api, args)
	case "login":
		cmdLogin(ctx, api, args)
	case "logout":
		cmdLogout(ctx, api)
	case "vaults":
		cmdVaults(ctx, api)
	case "sync":
		cmdSync(ctx, api, args)
	case "rm":
		cmdRemove(ctx, api, args)
	case "restore":
		cmdRestore(ctx, api, args)

	case "add-login":
		cmdAddLogin(ctx, api, args)
	case "add-text":
		cmdAddText(ctx, api, args)
	case "add-card":
		cmdAddCard(ctx, api, args)
	case "add-binary":
		cmdAddBinary(ctx, api, args)
	case "add-otp":
		cmdAddOTP(ctx, api, args)
	case "show":
		cmdShow(ctx, api, args)

	default:
		usage()
	}
}

// authedClient loads the saved session into a fresh apiClient.
func authedClient(addr string, insecure bool) (*apiClient, tokenFile, error) {
	tf, err := loadTokenFile()
	if err != nil {
		return nil, tokenFile{}, err
	}
	if time.Now().After(tf.ExpiresAt) {
		return nil, tokenFile{}, errors.New("session expired; login again")
	}
	c := newAPIClient(addr, insecure)
	c.token = tf.AccessToken
	return c, tf, nil
}

func cmdRegister(ctx context.Context, api *apiClient, args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	email := fs.String("email", "", "email")
	password := fs.String("password", "", "password")
	device := fs.String("device", "cli", "device name")
	_ = fs.Parse(args)
	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "need -email and -password")
		os.Exit(2)
	}
	if err := verifyServerFingerprint(ctx, api); err != nil {
		fail(err)
	}

	var out struct {
		UserID string `json:"user_id"`
	}
	err := api.do(ctx, http.MethodPost, "/v1/auth/register", map[string]any{
		"email": *email, "password": *password, "device_name": *device,
	}, &out)
	if err != nil {
		fail(err)
	}
	fmt.Println(out.UserID)
}

func cmdLogin(ctx context.Context, api *apiClient, args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "email")
	password := fs.String("password", "", "password")
	device := fs.String("device", "cli", "device name")
	_ = fs.Parse(args)
	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "need -email and -password")
		os.Exit(2)
	}
	if err := verifyServerFingerprint(ctx, api); err != nil {
		fail(err)
	}

	var out struct {
		AccessToken  string    `json:"access_token"`
		RefreshToken string    `json:"refresh_token"`
		ExpiresAt    time.Time `json:"expires_at"`
		UserID       string    `json:"user_id"`
		Email        string    `json:"email"`
	}
	err := api.do(ctx, http.MethodPost, "/v1/auth/login", map[string]any{
		"email": *email, "password": *password, "device_name": *device,
	}, &out)
	if err != nil {
		fail(err)
	}
	if err := saveTokenFile(tokenFile{
		AccessToken: out.AccessToken, RefreshToken: out.RefreshToken,
		ExpiresAt: out.ExpiresAt, UserID: out.UserID, Email: out.Email,
	}); err != nil {
		fail(err)
	}

	api.token = out.AccessToken
	if err := ensureDefaultVault(ctx, api, *password); err != nil {
		fail(err)
	}
	fmt.Println("ok")
}

func cmdLogout(ctx context.Context, api *apiClient) {
	tf, err := loadTokenFile()
	if err != nil {
		fail(err)
	}
	_ = api.do(ctx, http.MethodPost, "/v1/auth/logout", map[string]any{"refresh_token": tf.RefreshToken}, nil)
	_ = os.Remove(tokenPath())
	fmt.Println("ok")
}

type vaultInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Slug        string   `json:"slug"`
	Tags        []string `json:"tags"`
	Kind        string   `json:"kind"`
	Encryption  string   `json:"encryption"`
	CachePolicy string   `json:"cache_policy"`
	Default     bool     `json:"default"`
}

func cmdVaults(ctx context.Context, api *apiClient) {
	c, _, err := authedClient(api.base, false)
	if err != nil {
		fail(err)
	}
	var vaults []vaultInfo
	if err := c.do(ctx, http.MethodGet, "/v1/vaults", nil, &vaults); err != nil {
		fail(err)
	}
	printJSON(vaults)
}

// ensureDefaultVault creates a personal, client-encrypted vault on first
// login and stores its unwrapped data key in the OS keystore, keyed by
// vault id. Subsequent logins reuse the existing default vault.
func ensureDefaultVault(ctx context.Context, api *apiClient, password string) error {
	var vaults []vaultInfo
	if err := api.do(ctx, http.MethodGet, "/v1/vaults", nil, &vaults); err != nil {
		return err
	}
	for _, v := range vaults {
		if v.Default {
			return nil
		}
	}

	salt, err := loadOrCreateKEKSalt()
	if err != nil {
		return err
	}
	kek := clientcrypto.DeriveKEK([]byte(password), salt)

	vaultKey, err := clientcrypto.Rand(clientcrypto.VaultKeyLen)
	if err != nil {
		return err
	}
	wrapped, err := clientcrypto.WrapVaultKey(kek, vaultKey)
	if err != nil {
		return err
	}

	var created vaultInfo
	err = api.do(ctx, http.MethodPost, "/v1/vaults", map[string]any{
		"name": "Personal", "slug": "personal", "kind": "personal",
		"encryption": "client", "wrapped_key": b64(wrapped),
		"cache_policy": "full", "default": true,
	}, &created)
	if err != nil {
		return err
	}
	return keystore.New().Store(created.ID, vaultKey)
}

func resolveVault(ctx context.Context, api *apiClient, slug string) (vaultInfo, error) {
	var vaults []vaultInfo
	if err := api.do(ctx, http.MethodGet, "/v1/vaults", nil, &vaults); err != nil {
		return vaultInfo{}, err
	}
	for _, v := range vaults {
		if v.Slug == slug || v.ID == slug {
			return v, nil
		}
	}
	return vaultInfo{}, fmt.Errorf("vault %q not found", slug)
}

func vaultKeyFor(v vaultInfo) ([]byte, error) {
	key, err := keystore.New().Load(v.ID)
	if err != nil {
		return nil, fmt.Errorf("vault key unavailable for %s; login again: %w", v.Slug, err)
	}
	return key, nil
}

func cmdRemove(ctx context.Context, api *apiClient, args []string) {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	vaultSlug := fs.String("vault", "personal", "vault slug")
	id := fs.String("id", "", "item id")
	base := fs.Int64("base", -1, "base sequence")
	_ = fs.Parse(args)
	if *id == "" || *base < 0 {
		fmt.Fprintln(os.Stderr, "need -id and -base")
		os.Exit(2)
	}

	c, _, err := authedClient(api.base, false)
	if err != nil {
		fail(err)
	}
	v, err := resolveVault(ctx, c, *vaultSlug)
	if err != nil {
		fail(err)
	}
	var out map[string]any
	err = c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/vaults/%s/items/%s?base_seq=%d", v.ID, *id, *base), nil, &out)
	if err != nil {
		fail(err)
	}
	printJSON(out)
}

func cmdRestore(ctx context.Context, api *apiClient, args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	vaultSlug := fs.String("vault", "personal", "vault slug")
	id := fs.String("id", "", "item id")
	from := fs.Int64("from", -1, "source history version")
	_ = fs.Parse(args)
	if *id == "" || *from < 0 {
		fmt.Fprintln(os.Stderr, "need -id and -from")
		os.Exit(2)
	}

	c, _, err := authedClient(api.base, false)
	if err != nil {
		fail(err)
	}
	v, err := resolveVault(ctx, c, *vaultSlug)
	if err != nil {
		fail(err)
	}
	var out map[string]any
	err = c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/vaults/%s/items/%s/restore", v.ID, *id),
		map[string]any{"from_version": *from}, &out)
	if err != nil {
		fail(err)
	}
	printJSON(out)
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// checksum fingerprints a plaintext payload before encryption so the server
// can detect silent corruption without ever seeing the plaintext itself.
func checksum(b []byte) []byte {
	sum := blake3.Sum256(b)
	return sum[:]
}
