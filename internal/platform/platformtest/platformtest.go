// Package platformtest builds Platform clients wired to test servers.
package platformtest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"testing"
	"time"

	"github.com/ggonzalez94/cdp-cli/internal/platform"
)

// Credentials returns a freshly generated API key secret (PEM EC) and wallet
// secret (base64 PKCS#8 DER).
func Credentials(t *testing.T) (apiKeySecret, walletSecret string) {
	t.Helper()
	apiKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate api key: %v", err)
	}
	der, err := x509.MarshalECPrivateKey(apiKey)
	if err != nil {
		t.Fatalf("marshal api key: %v", err)
	}
	apiKeySecret = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))

	walletKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate wallet key: %v", err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(walletKey)
	if err != nil {
		t.Fatalf("marshal wallet key: %v", err)
	}
	return apiKeySecret, base64.StdEncoding.EncodeToString(pkcs8)
}

// NewClient returns a client for baseURL with generated credentials and no
// retries.
func NewClient(t *testing.T, baseURL string) *platform.Client {
	t.Helper()
	secret, wallet := Credentials(t)
	client, err := platform.New(platform.Config{
		APIKeyID:     "test-key",
		APIKeySecret: secret,
		WalletSecret: wallet,
		BasePath:     baseURL,
		Timeout:      5 * time.Second,
		Retries:      0,
	})
	if err != nil {
		t.Fatalf("platform.New failed: %v", err)
	}
	return client
}

// WriteJSON encodes v as the response body.
func WriteJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
