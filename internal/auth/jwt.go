package auth

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
)

const (
	Issuer           = "cdp"
	Audience         = "cdp_service"
	DefaultExpiresIn = 120
	nonceDigits      = 16
)

// Now is the clock used for claim timestamps.
var Now = time.Now

// ClaimsBuilder produces the claim set for one token at the given instant.
type ClaimsBuilder func(now time.Time) (jwt.Claims, error)

// Sign is the shared claims signer behind both token kinds: build the claims,
// attach header fields, sign with the key's algorithm.
func Sign(key *Key, header map[string]any, build ClaimsBuilder) (string, error) {
	claims, err := build(Now().UTC().Truncate(time.Second))
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(key.SigningMethod(), claims)
	for k, v := range header {
		token.Header[k] = v
	}
	signed, err := token.SignedString(key.signer)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeAuth, "sign token", err)
	}
	return signed, nil
}

// RequestClaims is the claim set of the bearer token sent on every call.
type RequestClaims struct {
	URIs []string `json:"uris,omitempty"`
	jwt.RegisteredClaims
}

// RequestOptions describes one authenticated HTTP call.
type RequestOptions struct {
	KeyID     string
	KeySecret string
	Method    string
	Host      string
	Path      string
	// ExpiresIn is the token lifetime in seconds; zero means DefaultExpiresIn.
	ExpiresIn int64
}

// URI renders the "METHOD hostpath" binding carried in the uris claim.
func URI(method, host, path string) string {
	return fmt.Sprintf("%s %s%s", strings.ToUpper(method), host, path)
}

// BuildRequestJWT returns a short-lived bearer token bound to one method,
// host and path.
func BuildRequestJWT(opts RequestOptions) (string, error) {
	required := []struct{ name, value string }{
		{"key id", opts.KeyID},
		{"key secret", opts.KeySecret},
		{"method", opts.Method},
		{"host", opts.Host},
		{"path", opts.Path},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return "", clierr.Newf(clierr.CodeUsage, "%s is required", field.name)
		}
	}
	ttl := opts.ExpiresIn
	if ttl <= 0 {
		ttl = DefaultExpiresIn
	}

	key, err := ParseKey(opts.KeySecret)
	if err != nil {
		return "", err
	}
	nonce, err := numericNonce(nonceDigits)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeAuth, "generate nonce", err)
	}

	header := map[string]any{"kid": opts.KeyID, "nonce": nonce, "typ": "JWT"}
	uri := URI(opts.Method, opts.Host, opts.Path)
	return Sign(key, header, func(now time.Time) (jwt.Claims, error) {
		return RequestClaims{
			URIs: []string{uri},
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   opts.KeyID,
				Issuer:    Issuer,
				Audience:  jwt.ClaimStrings{Audience},
				NotBefore: jwt.NewNumericDate(now),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttl) * time.Second)),
			},
		}, nil
	})
}

// WalletClaims is the claim set of the X-Wallet-Auth token. ReqHash is the
// SHA-256 of the canonical request body, so the signature covers the payload.
type WalletClaims struct {
	URIs    []string `json:"uris"`
	ReqHash string   `json:"reqHash,omitempty"`
	jwt.RegisteredClaims
}

// WalletOptions describes one state-mutating wallet call.
type WalletOptions struct {
	WalletSecret string
	Method       string
	Host         string
	Path         string
	// Body is the decoded request body, if any.
	Body map[string]any
}

// BuildWalletJWT returns an ES256 token bound to the call and its body.
func BuildWalletJWT(opts WalletOptions) (string, error) {
	key, err := ParseWalletKey(opts.WalletSecret)
	if err != nil {
		return "", err
	}
	var reqHash string
	if len(opts.Body) > 0 {
		reqHash, err = BodyHash(opts.Body)
		if err != nil {
			return "", err
		}
	}
	uri := URI(opts.Method, opts.Host, opts.Path)
	return Sign(key, map[string]any{"typ": "JWT"}, func(now time.Time) (jwt.Claims, error) {
		return WalletClaims{
			URIs:    []string{uri},
			ReqHash: reqHash,
			RegisteredClaims: jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(now),
				NotBefore: jwt.NewNumericDate(now),
				ID:        uuid.NewString(),
			},
		}, nil
	})
}

// BodyHash returns the hex SHA-256 of body serialised with sorted keys.
func BodyHash(body map[string]any) (string, error) {
	encoded, err := CanonicalJSON(body)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalJSON serialises v with object keys sorted at every depth and big
// numbers rendered as decimal strings.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonicalize(v)); err != nil {
		return nil, clierr.Wrap(clierr.CodeAuth, "encode request body", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeBody parses a raw JSON object body, keeping numbers exact.
func DecodeBody(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "parse request body", err)
	}
	return body, nil
}

func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = canonicalize(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = canonicalize(t[i])
		}
		return out
	case *big.Int:
		if t == nil {
			return nil
		}
		return t.String()
	case *big.Float:
		if t == nil {
			return nil
		}
		return t.String()
	default:
		return v
	}
}

func numericNonce(digits int) (string, error) {
	var b strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}
