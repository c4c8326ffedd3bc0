package main

import (
	"context"
	"encoding/base32"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	u "github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/crypto/clientcrypto"
)

// ------- generic builders -------

// buildTypedPayload packs {type, meta, data} as JSON bytes, the envelope
// every typed item record (login/text/card/binary/otp) shares before
// client-side encryption.
func buildTypedPayload(typ string, meta any, data any) ([]byte, error) {
	w := map[string]any{"type": typ, "meta": meta, "data": data}
	return json.Marshal(w)
}

func pretty(b []byte) string {
	var out any
	if json.Unmarshal(b, &out) == nil {
		j, _ := json.MarshalIndent(out, "", "  ")
		return string(j)
	}
	return string(b)
}

// ------- validators -------

func autoUUID(id *string) {
	if *id == "" {
		v, _ := u.NewV4()
		*id = v.String()
	}
}

var reMMYY = regexp.MustCompile(`^\d{2}/\d{2}$`)

func validExp(mmyy string) bool { return reMMYY.MatchString(mmyy) }

func luhn(num string) bool {
	sum, alt := 0, false
	for i := len(num) - 1; i >= 0; i-- {
		c := int(num[i] - '0')
		if c < 0 || c > 9 {
			return false
		}
		if alt {
			c *= 2
			if c > 9 {
				c -= 9
			}
		}
		sum += c
		alt = !alt
	}
	return sum%10 == 0
}

func isBase32(s string) bool {
	_, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(s))
	return err == nil
}

// ------- shared push helper -------

// typedItemFlags are the flags common to every add-* command.
type typedItemFlags struct {
	id    *string
	vault *string
	base  *int64
}

func bindCommon(fs *flag.FlagSet) typedItemFlags {
	return typedItemFlags{
		id:    fs.String("id", "", "item id (uuid, optional; generated if omitted)"),
		vault: fs.String("vault", "personal", "vault slug"),
		base:  fs.Int64("base", 0, "base sequence (0 for create)"),
	}
}

// pushTypedItem encrypts plaintext under the resolved vault's data key and
// creates or updates the item over HTTP depending on base.
func pushTypedItem(ctx context.Context, addr string, insecure bool, vaultSlug, itemID, path, displayName, typeID string, base int64, plaintext []byte) {
	c, _, err := authedClient(addr, insecure)
	if err != nil {
		fail(err)
	}
	v, err := resolveVault(ctx, c, vaultSlug)
	if err != nil {
		fail(err)
	}
	vaultKey, err := vaultKeyFor(v)
	if err != nil {
		fail(err)
	}

	id, err := u.FromString(itemID)
	if err != nil {
		fail(err)
	}
	blob, err := clientcrypto.EncryptItem(vaultKey, id.Bytes(), base+1, plaintext)
	if err != nil {
		fail(err)
	}
	sum := checksum(plaintext)

	body := map[string]any{
		"id": itemID, "path": path, "display_name": displayName, "type_id": typeID,
		"base_seq": base, "payload_enc": base64.StdEncoding.EncodeToString(blob),
		"payload_checksum": base64.StdEncoding.EncodeToString(sum),
	}

	var out itemVersionInfo
	method, url := http.MethodPost, fmt.Sprintf("/v1/vaults/%s/items", v.ID)
	if base > 0 {
		method, url = http.MethodPut, fmt.Sprintf("/v1/vaults/%s/items/%s", v.ID, itemID)
	}
	if err := c.do(ctx, method, url, body, &out); err != nil {
		fail(err)
	}
	printJSON(out)
}

type itemVersionInfo struct {
	ID        string `json:"id"`
	NewVer    int64  `json:"new_version"`
	NewSeq    int64  `json:"new_sequence"`
	UpdatedAt string `json:"updated_at"`
}

// ------- commands -------

func cmdAddLogin(ctx context.Context, api *apiClient, args []string) {
	fs := flag.NewFlagSet("add-login", flag.ExitOnError)
	common := bindCommon(fs)
	title := fs.String("title", "", "title")
	url := fs.String("url", "", "url")
	user := fs.String("username", "", "username")
	pass := fs.String("password", "", "password")
	note := fs.String("note", "", "note")
	path := fs.String("path", "", "cache path (defaults to title)")
	_ = fs.Parse(args)

	autoUUID(common.id)
	if *user == "" || *pass == "" {
		fmt.Fprintln(os.Stderr, "username and password required")
		os.Exit(2)
	}
	meta := map[string]any{"title": *title, "url": *url, "username": *user, "note": *note}
	data := map[string]any{"password": *pass}
	pt, _ := buildTypedPayload("login", meta, data)
	pushTypedItem(ctx, api.base, false, *common.vault, *common.id, choose(*path, *title), *title, "login", *common.base, pt)
}

func cmdAddText(ctx context.Context, api *apiClient, args []string) {
	fs := flag.NewFlagSet("add-text", flag.ExitOnError)
	common := bindCommon(fs)
	title := fs.String("title", "", "title")
	text := fs.String("text", "", "text")
	note := fs.String("note", "", "note")
	path := fs.String("path", "", "cache path (defaults to title)")
	_ = fs.Parse(args)

	autoUUID(common.id)
	if *text == "" {
		fmt.Fprintln(os.Stderr, "text required")
		os.Exit(2)
	}
	meta := map[string]any{"title": *title, "note": *note}
	data := map[string]any{"text": *text}
	pt, _ := buildTypedPayload("text", meta, data)
	pushTypedItem(ctx, api.base, false, *common.vault, *common.id, choose(*path, *title), *title, "text", *common.base, pt)
}

func cmdAddCard(ctx context.Context, api *apiClient, args []string) {
	fs := flag.NewFlagSet("add-card", flag.ExitOnError)
	common := bindCommon(fs)
	title := fs.String("title", "", "title")
	name := fs.String("name", "", "cardholder")
	number := fs.String("number", "", "card number (digits)")
	exp := fs.String("exp", "", "MM/YY")
	cvc := fs.String("cvc", "", "CVC")
	note := fs.String("note", "", "note")
	path := fs.String("path", "", "cache path (defaults to title)")
	_ = fs.Parse(args)

	autoUUID(common.id)
	if *name == "" || *number == "" || *exp == "" || *cvc == "" {
		fmt.Fprintln(os.Stderr, "name, number, exp, cvc required")
		os.Exit(2)
	}
	if !luhn(*number) || !validExp(*exp) || len(*cvc) < 3 || len(*cvc) > 4 {
		fmt.Fprintln(os.Stderr, "invalid card fields")
		os.Exit(2)
	}
	meta := map[string]any{"title": *title, "name": *name, "number": *number, "exp": *exp, "cvc": *cvc, "note": *note}
	pt, _ := buildTypedPayload("card", meta, map[string]any{})
	pushTypedItem(ctx, api.base, false, *common.vault, *common.id, choose(*path, *title), *title, "card", *common.base, pt)
}

func cmdAddBinary(ctx context.Context, api *apiClient, args []string) {
	fs := flag.NewFlagSet("add-binary", flag.ExitOnError)
	common := bindCommon(fs)
	title := fs.String("title", "", "title")
	file := fs.String("file", "", "path to file")
	note := fs.String("note", "", "note")
	path := fs.String("path", "", "cache path (defaults to title)")
	_ = fs.Parse(args)

	autoUUID(common.id)
	if *file == "" {
		fmt.Fprintln(os.Stderr, "file required")
		os.Exit(2)
	}
	b, err := os.ReadFile(*file)
	if err != nil {
		fail(err)
	}
	fn := filepath.Base(*file)
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(fn)))
	meta := map[string]any{"title": *title, "filename": fn, "mime": mt, "note": *note}
	pt, _ := buildTypedPayload("binary", meta, b)
	pushTypedItem(ctx, api.base, false, *common.vault, *common.id, choose(*path, *title), *title, "binary", *common.base, pt)
}

func cmdAddOTP(ctx context.Context, api *apiClient, args []string) {
	fs := flag.NewFlagSet("add-otp", flag.ExitOnError)
	common := bindCommon(fs)
	title := fs.String("title", "", "title")
	secret := fs.String("secret", "", "base32 TOTP secret")
	issuer := fs.String("issuer", "", "issuer")
	digits := fs.Int("digits", 6, "digits (6 or 8)")
	period := fs.Int("period", 30, "period (seconds)")
	algo := fs.String("algo", "SHA1", "algo (SHA1/SHA256/SHA512)")
	note := fs.String("note", "", "note")
	path := fs.String("path", "", "cache path (defaults to title)")
	_ = fs.Parse(args)

	autoUUID(common.id)
	if *secret == "" || !isBase32(*secret) || (*digits != 6 && *digits != 8) || *period <= 0 {
		fmt.Fprintln(os.Stderr, "invalid otp params")
		os.Exit(2)
	}
	meta := map[string]any{"title": *title, "issuer": *issuer, "digits": *digits, "period": *period, "algo": strings.ToUpper(*algo), "note": *note}
	data := map[string]any{"secret": strings.ToUpper(*secret)}
	pt, _ := buildTypedPayload("otp", meta, data)
	pushTypedItem(ctx, api.base, false, *common.vault, *common.id, choose(*path, *title), *title, "otp", *common.base, pt)
}

// cmdShow fetches an item, decrypts its payload, and renders it; binary
// records can be written to a file instead of printed.
func cmdShow(ctx context.Context, api *apiClient, args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	id := fs.String("id", "", "item id (uuid)")
	vaultSlug := fs.String("vault", "personal", "vault slug")
	out := fs.String("out", "", "write binary data to file ('-'=stdout)")
	_ = fs.Parse(args)
	if *id == "" {
		fmt.Fprintln(os.Stderr, "need -id")
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
	vaultKey, err := vaultKeyFor(v)
	if err != nil {
		fail(err)
	}

	var item struct {
		ID              string `json:"id"`
		Version         int64  `json:"version"`
		PayloadEnc      string `json:"payload_enc"`
		Status          string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/vaults/%s/items/%s", v.ID, *id), nil, &item); err != nil {
		fail(err)
	}
	if item.Status == "tombstone" {
		fmt.Fprintln(os.Stderr, "item is deleted")
		os.Exit(1)
	}

	blob, err := base64.StdEncoding.DecodeString(item.PayloadEnc)
	if err != nil {
		fail(err)
	}
	itemID, err := u.FromString(*id)
	if err != nil {
		fail(err)
	}
	pt, err := clientcrypto.DecryptItem(vaultKey, itemID.Bytes(), item.Version, blob)
	if err != nil {
		fail(fmt.Errorf("decrypt: %w", err))
	}

	var obj struct {
		Type string          `json:"type"`
		Meta json.RawMessage `json:"meta"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(pt, &obj); err != nil {
		fail(err)
	}

	switch obj.Type {
	case "binary":
		var m struct{ Filename, Mime string }
		_ = json.Unmarshal(obj.Meta, &m)
		var data []byte
		_ = json.Unmarshal(obj.Data, &data)
		var w io.Writer = os.Stdout
		if *out != "" && *out != "-" {
			f, err := os.Create(*out)
			if err != nil {
				fail(err)
			}
			defer f.Close()
			w = f
		}
		if _, err := w.Write(data); err != nil {
			fail(err)
		}
		if *out != "-" {
			fmt.Printf("wrote %dB to %s\n", len(data), choose(*out, m.Filename))
		}
	default:
		fmt.Println(pretty(obj.Meta))
		fmt.Printf("data=%sB (use type-specific export if needed)\n", strconv.Itoa(len(obj.Data)))
	}
}

func choose(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
