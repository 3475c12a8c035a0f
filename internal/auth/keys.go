package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
)

// KeyType identifies the curve family of a parsed signing key.
type KeyType int

const (
	KeyTypeEC KeyType = iota + 1
	KeyTypeEd25519
)

func (t KeyType) String() string {
	switch t {
	case KeyTypeEC:
		return "ec"
	case KeyTypeEd25519:
		return "ed25519"
	default:
		return "unknown"
	}
}

const ed25519BlobSize = 64

// Key is an immutable handle over a parsed private key. It never exposes the
// raw key material.
type Key struct {
	kind   KeyType
	signer crypto.Signer
}

func (k *Key) Type() KeyType { return k.kind }

// SigningMethod returns the JWT algorithm bound to the key type.
func (k *Key) SigningMethod() jwt.SigningMethod {
	if k.kind == KeyTypeEd25519 {
		return jwt.SigningMethodEdDSA
	}
	return jwt.SigningMethodES256
}

// Public returns the public half of the key.
func (k *Key) Public() crypto.PublicKey { return k.signer.Public() }

// ParseKey decodes an API key secret. A PEM EC private key is tried first;
// otherwise the secret must be base64 of exactly 64 bytes (seed followed by
// public key), of which the first 32 are used as the Ed25519 seed.
func ParseKey(secret string) (*Key, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, clierr.New(clierr.CodeUsage, "key secret is required")
	}
	if key, ok := parsePEMEC(secret); ok {
		return &Key{kind: KeyTypeEC, signer: key}, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnsupportedKey, "key must be a PEM EC key or a base64 Ed25519 key", err)
	}
	if len(decoded) != ed25519BlobSize {
		return nil, clierr.Newf(clierr.CodeUnsupportedKey, "base64 Ed25519 key must decode to %d bytes, got %d", ed25519BlobSize, len(decoded))
	}
	return &Key{kind: KeyTypeEd25519, signer: ed25519.NewKeyFromSeed(decoded[:ed25519.SeedSize])}, nil
}

// ParseWalletKey decodes a wallet secret: base64 DER (PKCS#8) holding an EC key.
func ParseWalletKey(derB64 string) (*Key, error) {
	derB64 = strings.TrimSpace(derB64)
	if derB64 == "" {
		return nil, clierr.New(clierr.CodeMissingCredential, "wallet secret is not configured")
	}
	der, err := base64.StdEncoding.DecodeString(derB64)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeAuth, "decode wallet secret", err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeAuth, "parse wallet secret", err)
	}
	ecKey, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, clierr.New(clierr.CodeUnsupportedKey, "wallet secret is not an EC key")
	}
	return &Key{kind: KeyTypeEC, signer: ecKey}, nil
}

func parsePEMEC(secret string) (*ecdsa.PrivateKey, bool) {
	block, _ := pem.Decode([]byte(secret))
	if block == nil {
		return nil, false
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, true
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, false
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	return key, ok
}
