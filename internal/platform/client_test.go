package platform_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ggonzalez94/cdp-cli/internal/auth"
	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/platform"
	"github.com/ggonzalez94/cdp-cli/internal/platform/platformtest"
)

type seenRequest struct {
	method, path, authz, wallet, idem, host string
	body                                    []byte
}

func recordingServer(t *testing.T, respond func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, func() []seenRequest) {
	t.Helper()
	var mu sync.Mutex
	var seen []seenRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, seenRequest{
			method: r.Method,
			path:   r.URL.Path,
			authz:  r.Header.Get(platform.HeaderAuthorization),
			wallet: r.Header.Get(platform.HeaderWalletAuth),
			idem:   r.Header.Get(platform.HeaderIdempotencyKey),
			host:   r.Host,
			body:   body,
		})
		mu.Unlock()
		respond(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []seenRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]seenRequest(nil), seen...)
	}
}

func unverifiedClaims(t *testing.T, token string) jwt.MapClaims {
	t.Helper()
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		t.Fatalf("parse token: %v", err)
	}
	return claims
}

func TestWalletAuthOnlyOnMutatingAccountCalls(t *testing.T) {
	srv, seen := recordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/sign/hash"):
			platformtest.WriteJSON(w, map[string]string{"signature": "0xsig"})
		case strings.Contains(r.URL.Path, "/token-balances/"):
			platformtest.WriteJSON(w, map[string]any{"balances": []any{}})
		default:
			platformtest.WriteJSON(w, map[string]string{"transactionHash": "0xtx"})
		}
	})
	client := platformtest.NewClient(t, srv.URL+"/platform")
	ctx := context.Background()

	if _, err := client.SignHash(ctx, "0xabc", "0x01", "idem-1"); err != nil {
		t.Fatalf("SignHash failed: %v", err)
	}
	if _, err := client.ListTokenBalances(ctx, "0xabc", "base", 0, ""); err != nil {
		t.Fatalf("ListTokenBalances failed: %v", err)
	}
	if _, err := client.RequestFaucet(ctx, "0xabc", "base-sepolia", "eth"); err != nil {
		t.Fatalf("RequestFaucet failed: %v", err)
	}

	reqs := seen()
	if len(reqs) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(reqs))
	}
	sign, balances, faucet := reqs[0], reqs[1], reqs[2]

	if sign.path != "/platform/v2/evm/accounts/0xabc/sign/hash" {
		t.Fatalf("unexpected path %s", sign.path)
	}
	if !strings.HasPrefix(sign.authz, "Bearer ") || sign.wallet == "" {
		t.Fatalf("expected bearer and wallet auth on sign call, got %q / %q", sign.authz, sign.wallet)
	}
	if sign.idem != "idem-1" {
		t.Fatalf("expected idempotency key, got %q", sign.idem)
	}
	if balances.wallet != "" || faucet.wallet != "" {
		t.Fatalf("wallet auth must not be sent on read or faucet calls")
	}
	if !strings.HasPrefix(balances.authz, "Bearer ") {
		t.Fatalf("missing bearer on balances call")
	}

	host := strings.TrimPrefix(srv.URL, "http://")
	reqClaims := unverifiedClaims(t, strings.TrimPrefix(sign.authz, "Bearer "))
	if uris, _ := reqClaims["uris"].([]any); len(uris) != 1 || uris[0] != "POST "+host+"/platform/v2/evm/accounts/0xabc/sign/hash" {
		t.Fatalf("unexpected uris claim %#v", reqClaims["uris"])
	}

	var body map[string]any
	if err := json.Unmarshal(sign.body, &body); err != nil {
		t.Fatalf("decode forwarded body: %v", err)
	}
	wantHash, err := auth.BodyHash(body)
	if err != nil {
		t.Fatalf("BodyHash failed: %v", err)
	}
	walletClaims := unverifiedClaims(t, sign.wallet)
	if walletClaims["reqHash"] != wantHash {
		t.Fatalf("wallet token not bound to forwarded body: %v vs %s", walletClaims["reqHash"], wantHash)
	}
}

func TestHostOverrideBindsTokens(t *testing.T) {
	srv, seen := recordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		platformtest.WriteJSON(w, map[string]any{"balances": []any{}})
	})
	secret, wallet := platformtest.Credentials(t)
	client, err := platform.New(platform.Config{
		APIKeyID:     "k",
		APIKeySecret: secret,
		WalletSecret: wallet,
		BasePath:     srv.URL,
		HostOverride: "api.cdp.example",
	})
	if err != nil {
		t.Fatalf("platform.New failed: %v", err)
	}
	if _, err := client.ListTokenBalances(context.Background(), "0x1", "base", 10, "next"); err != nil {
		t.Fatalf("ListTokenBalances failed: %v", err)
	}
	req := seen()[0]
	if req.host != "api.cdp.example" {
		t.Fatalf("expected overridden host, got %s", req.host)
	}
	claims := unverifiedClaims(t, strings.TrimPrefix(req.authz, "Bearer "))
	if uris, _ := claims["uris"].([]any); len(uris) != 1 || uris[0] != "GET api.cdp.example/v2/evm/token-balances/base/0x1" {
		t.Fatalf("unexpected uris claim %#v", claims["uris"])
	}
}

func TestMissingWalletSecretFailsMutatingCall(t *testing.T) {
	srv, seen := recordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		platformtest.WriteJSON(w, map[string]string{"transactionHash": "0x1"})
	})
	secret, _ := platformtest.Credentials(t)
	client, err := platform.New(platform.Config{APIKeyID: "k", APIKeySecret: secret, BasePath: srv.URL})
	if err != nil {
		t.Fatalf("platform.New failed: %v", err)
	}
	_, err = client.SendTransaction(context.Background(), "0x1", "base", "0x02", "")
	if !clierr.Is(err, clierr.CodeMissingCredential) {
		t.Fatalf("expected missing credential, got %v", err)
	}
	if len(seen()) != 0 {
		t.Fatalf("request must not be sent without wallet auth")
	}
}

func TestRequiresWalletAuth(t *testing.T) {
	cases := []struct {
		method, path string
		want         bool
	}{
		{http.MethodPost, "/platform/v2/evm/accounts", true},
		{http.MethodDelete, "/platform/v2/evm/accounts/0x1", true},
		{http.MethodGet, "/platform/v2/evm/accounts/0x1", false},
		{http.MethodPost, "/platform/v2/evm/smart-accounts/0x1/spend-permissions", true},
		{http.MethodPost, "/platform/v2/evm/smart-accounts/0x1/user-operations/prepare-and-send", true},
		{http.MethodPost, "/platform/v2/evm/smart-accounts/0x1/user-operations", false},
		{http.MethodPost, "/platform/v2/evm/swaps", false},
	}
	for _, tc := range cases {
		if got := platform.RequiresWalletAuth(tc.method, tc.path); got != tc.want {
			t.Fatalf("%s %s: expected %v, got %v", tc.method, tc.path, tc.want, got)
		}
	}
}

func TestDeriveIdempotencyKey(t *testing.T) {
	a := platform.DeriveIdempotencyKey("base-key", "prepare")
	b := platform.DeriveIdempotencyKey("base-key", "prepare")
	c := platform.DeriveIdempotencyKey("base-key", "send")
	if a != b {
		t.Fatalf("derivation must be stable: %s vs %s", a, b)
	}
	if a == c || a == "base-key" {
		t.Fatalf("derived keys must differ per step: %s %s", a, c)
	}
	if len(a) != 36 || a[14] != '4' {
		t.Fatalf("expected v4 uuid layout, got %s", a)
	}
	if platform.DeriveIdempotencyKey("", "prepare") != "" {
		t.Fatalf("empty base must stay empty")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := platform.New(platform.Config{})
	if !clierr.Is(err, clierr.CodeMissingCredential) {
		t.Fatalf("expected missing credential, got %v", err)
	}
}
