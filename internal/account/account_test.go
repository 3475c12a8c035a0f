package account

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/platform"
	"github.com/ggonzalez94/cdp-cli/internal/platform/platformtest"
	"github.com/ggonzalez94/cdp-cli/internal/registry"
)

const (
	testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"
	testAccount    = "0x1111111111111111111111111111111111111111"
	testSmart      = "0x2222222222222222222222222222222222222222"
	testUserOpHash = "0x3333333333333333333333333333333333333333333333333333333333333333"
)

func testOwner(t *testing.T) *LocalOwner {
	t.Helper()
	owner, err := NewLocalOwner(LocalOwnerConfig{PrivateKeyHex: testPrivateKey})
	if err != nil {
		t.Fatalf("NewLocalOwner failed: %v", err)
	}
	return owner
}

func mailTypedData() platform.TypedData {
	return platform.TypedData{
		Domain: map[string]any{
			"name":              "Ether Mail",
			"version":           "1",
			"chainId":           1,
			"verifyingContract": "0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC",
		},
		Types: map[string][]platform.TypedDataField{
			"Person": {{Name: "name", Type: "string"}, {Name: "wallet", Type: "address"}},
			"Mail":   {{Name: "from", Type: "Person"}, {Name: "to", Type: "Person"}, {Name: "contents", Type: "string"}},
		},
		PrimaryType: "Mail",
		Message: map[string]any{
			"from":     map[string]any{"name": "Cow", "wallet": "0xCD2a3d9F938E13CD947Ec05AbC7FE734Df8DD826"},
			"to":       map[string]any{"name": "Bob", "wallet": "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"},
			"contents": "Hello, Bob!",
		},
	}
}

func TestTypedDataHashMatchesReferenceVector(t *testing.T) {
	digest, err := TypedDataHash(mailTypedData())
	if err != nil {
		t.Fatalf("TypedDataHash failed: %v", err)
	}
	if got := hexutil.Encode(digest); got != "0xbe609aee343fb3c4b28e1df9e632fca64fcfaede20f02e86244efddf30957bd2" {
		t.Fatalf("unexpected digest %s", got)
	}
}

func TestLocalOwnerSignaturesRecover(t *testing.T) {
	owner := testOwner(t)
	sig, err := owner.SignTypedData(context.Background(), mailTypedData())
	if err != nil {
		t.Fatalf("SignTypedData failed: %v", err)
	}
	raw := hexutil.MustDecode(sig)
	if len(raw) != 65 || (raw[64] != 27 && raw[64] != 28) {
		t.Fatalf("unexpected signature shape %s", sig)
	}
	digest, _ := TypedDataHash(mailTypedData())
	raw[64] -= 27
	pub, err := crypto.SigToPub(digest, raw)
	if err != nil {
		t.Fatalf("SigToPub failed: %v", err)
	}
	if crypto.PubkeyToAddress(*pub).Hex() != owner.Address() {
		t.Fatalf("signature does not recover to owner")
	}

	if _, err := owner.SignHash(context.Background(), "0x1234", ""); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for short hash, got %v", err)
	}
}

func TestNewLocalOwnerFromEnv(t *testing.T) {
	t.Setenv(EnvOwnerPrivateKey, "0x"+testPrivateKey)
	owner, err := NewLocalOwnerFromEnv(KeySourceEnv)
	if err != nil {
		t.Fatalf("NewLocalOwnerFromEnv failed: %v", err)
	}
	if owner.Address() != testOwner(t).Address() {
		t.Fatalf("unexpected owner address %s", owner.Address())
	}
	if _, err := NewLocalOwnerFromEnv(KeySourceFile); err == nil {
		t.Fatal("expected file source to ignore the env key")
	}
	if _, err := NewLocalOwnerFromEnv("vault"); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected unsupported source error, got %v", err)
	}
}

func TestSendTransactionEncodesUnsignedEIP1559(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/evm/accounts/"+testAccount+"/send/transaction" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		platformtest.WriteJSON(w, map[string]string{"transactionHash": "0xabc"})
	}))
	defer srv.Close()

	acct, err := New(platformtest.NewClient(t, srv.URL), strings.ToLower(testAccount))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	transfer, err := BuildTransfer(TransferRequest{To: testSmart, Amount: common.Big2, Token: "usdc", Network: registry.Base})
	if err != nil {
		t.Fatalf("BuildTransfer failed: %v", err)
	}
	hash, err := acct.SendTransaction(context.Background(), transfer, registry.Base, "")
	if err != nil {
		t.Fatalf("SendTransaction failed: %v", err)
	}
	if hash != "0xabc" || body["network"] != registry.Base {
		t.Fatalf("unexpected result hash=%s body=%v", hash, body)
	}

	var tx types.Transaction
	if err := tx.UnmarshalBinary(hexutil.MustDecode(body["transaction"])); err != nil {
		t.Fatalf("decode forwarded tx: %v", err)
	}
	if tx.Type() != types.DynamicFeeTxType || tx.ChainId().Int64() != 8453 {
		t.Fatalf("unexpected tx type=%d chain=%s", tx.Type(), tx.ChainId())
	}
	if tx.To().Hex() != "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913" {
		t.Fatalf("expected usdc contract target, got %s", tx.To().Hex())
	}
	if hexutil.Encode(tx.Data()[:4]) != "0xa9059cbb" {
		t.Fatalf("expected erc20 transfer selector, got %x", tx.Data()[:4])
	}
}

func TestBuildTransferValidation(t *testing.T) {
	native, err := BuildTransfer(TransferRequest{To: testSmart, Amount: common.Big1, Token: "eth", Network: registry.Base})
	if err != nil || native.Value.Int64() != 1 || native.Data != "" {
		t.Fatalf("unexpected native transfer %+v err=%v", native, err)
	}
	if _, err := BuildTransfer(TransferRequest{To: "nope", Amount: common.Big1, Token: "eth"}); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected invalid recipient, got %v", err)
	}
	if _, err := BuildTransfer(TransferRequest{To: testSmart, Amount: common.Big1, Token: "dai", Network: registry.Polygon}); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected unknown token, got %v", err)
	}
}

func TestSmartAccountSendUserOperation(t *testing.T) {
	owner := testOwner(t)
	var mu sync.Mutex
	idemKeys := map[string]string{}
	var signature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		switch r.URL.Path {
		case "/v2/evm/smart-accounts/" + testSmart + "/user-operations":
			idemKeys["prepare"] = r.Header.Get(platform.HeaderIdempotencyKey)
			var req map[string]any
			_ = json.Unmarshal(body, &req)
			if req["network"] != "base" || req["paymasterUrl"] != "https://pm.example" {
				t.Errorf("unexpected prepare body %s", body)
			}
			platformtest.WriteJSON(w, platform.UserOperation{Network: "base", UserOpHash: testUserOpHash, Status: platform.UserOpPending})
		case "/v2/evm/smart-accounts/" + testSmart + "/user-operations/" + testUserOpHash + "/send":
			idemKeys["send"] = r.Header.Get(platform.HeaderIdempotencyKey)
			var req map[string]string
			_ = json.Unmarshal(body, &req)
			signature = req["signature"]
			platformtest.WriteJSON(w, platform.UserOperation{Network: "base", UserOpHash: testUserOpHash, Status: platform.UserOpBroadcast})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	smart, err := NewSmart(platformtest.NewClient(t, srv.URL), testSmart, owner)
	if err != nil {
		t.Fatalf("NewSmart failed: %v", err)
	}
	op, err := smart.SendUserOperation(context.Background(), UserOperationRequest{
		Calls:          []platform.EvmCall{{To: testAccount, Value: "0", Data: "0x"}},
		Network:        "base",
		PaymasterURL:   "https://pm.example",
		IdempotencyKey: "caller-key",
	})
	if err != nil {
		t.Fatalf("SendUserOperation failed: %v", err)
	}
	if op.UserOpHash != testUserOpHash || op.Status != platform.UserOpBroadcast {
		t.Fatalf("unexpected op %+v", op)
	}
	want, _ := owner.SignHash(context.Background(), testUserOpHash, "")
	if signature != want {
		t.Fatalf("expected owner signature over userOpHash")
	}
	if idemKeys["prepare"] == "" || idemKeys["prepare"] == idemKeys["send"] || idemKeys["prepare"] == "caller-key" {
		t.Fatalf("expected distinct derived idempotency keys, got %v", idemKeys)
	}
}

func TestWaitForUserOperation(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := platform.UserOpPending
		if atomic.AddInt32(&polls, 1) >= 3 {
			status = platform.UserOpComplete
		}
		platformtest.WriteJSON(w, platform.UserOperation{UserOpHash: testUserOpHash, Status: status, TransactionHash: "0xfeed"})
	}))
	defer srv.Close()

	smart, err := NewSmart(platformtest.NewClient(t, srv.URL), testSmart, testOwner(t))
	if err != nil {
		t.Fatalf("NewSmart failed: %v", err)
	}
	op, err := smart.WaitForUserOperation(context.Background(), testUserOpHash, WaitOptions{Timeout: 2 * time.Second, Interval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("WaitForUserOperation failed: %v", err)
	}
	if op.Status != platform.UserOpComplete || atomic.LoadInt32(&polls) != 3 {
		t.Fatalf("unexpected op %+v after %d polls", op, polls)
	}
}

func TestWaitForUserOperationTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		platformtest.WriteJSON(w, platform.UserOperation{UserOpHash: testUserOpHash, Status: platform.UserOpBroadcast})
	}))
	defer srv.Close()

	smart, err := NewSmart(platformtest.NewClient(t, srv.URL), testSmart, testOwner(t))
	if err != nil {
		t.Fatalf("NewSmart failed: %v", err)
	}
	op, err := smart.WaitForUserOperation(context.Background(), testUserOpHash, WaitOptions{Timeout: 80 * time.Millisecond, Interval: 10 * time.Millisecond})
	if !clierr.Is(err, clierr.CodeTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if op == nil || op.Status != platform.UserOpBroadcast {
		t.Fatalf("expected last observed op on timeout, got %+v", op)
	}
}

func TestFundPicksCardPaymentMethod(t *testing.T) {
	var transferBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/payments/payment-methods":
			platformtest.WriteJSON(w, map[string]any{"paymentMethods": []platform.PaymentMethod{
				{ID: "pm-bank", Type: "ach", Actions: []string{"source"}},
				{ID: "pm-card", Type: "card", Actions: []string{"source"}},
			}})
		case "/v2/payments/transfers":
			_ = json.NewDecoder(r.Body).Decode(&transferBody)
			platformtest.WriteJSON(w, platform.Transfer{ID: "tr-1", Status: platform.TransferPending})
		case "/v2/payments/transfers/tr-1":
			platformtest.WriteJSON(w, platform.Transfer{ID: "tr-1", Status: platform.TransferCompleted, TransactionHash: "0xfund"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	acct, err := New(platformtest.NewClient(t, srv.URL), testAccount)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	transfer, err := acct.Fund(context.Background(), FundOptions{Network: "base", Token: "usdc", Amount: common.Big3})
	if err != nil {
		t.Fatalf("Fund failed: %v", err)
	}
	if transfer.ID != "tr-1" {
		t.Fatalf("unexpected transfer %+v", transfer)
	}
	if src, _ := transferBody["source"].(map[string]any); src["id"] != "pm-card" {
		t.Fatalf("expected card payment method, got %v", transferBody["source"])
	}
	if transferBody["amount"] != "0.000003" || transferBody["execute"] != true {
		t.Fatalf("unexpected transfer body %v", transferBody)
	}

	settled, err := acct.WaitForFundOperation(context.Background(), "tr-1", WaitOptions{Timeout: time.Second, Interval: 10 * time.Millisecond})
	if err != nil || settled.Status != platform.TransferCompleted {
		t.Fatalf("unexpected settled transfer %+v err=%v", settled, err)
	}
}
