package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/platform"
	"github.com/ggonzalez94/cdp-cli/internal/swap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	tmp := t.TempDir()
	store, err := Open(filepath.Join(tmp, "cache.db"), filepath.Join(tmp, "cache.lock"))
	if err != nil {
		t.Fatalf("Open cache failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCacheSetGetFreshAndExpired(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "k1", []byte(`{"v":1}`), 1*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	res, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get fresh failed: %v", err)
	}
	if !res.Hit || res.Expired {
		t.Fatalf("expected fresh hit, got %+v", res)
	}

	time.Sleep(2100 * time.Millisecond)
	res, err = store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get expired failed: %v", err)
	}
	if !res.Hit || !res.Expired {
		t.Fatalf("expected expired hit, got %+v", res)
	}
}

func TestCacheMissAndDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	res, err := store.Get(ctx, "absent")
	if err != nil || res.Hit {
		t.Fatalf("expected clean miss, got %+v err=%v", res, err)
	}
	if err := store.Set(ctx, "k2", []byte("x"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Delete(ctx, "k2"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if res, _ := store.Get(ctx, "k2"); res.Hit {
		t.Fatalf("expected deleted key to miss, got %+v", res)
	}
}

func TestQuoteRoundTripKeepsPermit2Integers(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	q := &swap.Quote{
		QuoteID:    "abcdef0123456789",
		FromToken:  "0xfrom",
		ToToken:    "0xto",
		FromAmount: "1000",
		ToAmount:   "990",
		To:         "0x000000000022D473030F116dDEE9F6B43aC78BA3",
		Data:       "0xdeadbeef",
		Value:      "0",
		Network:    "base",
		Permit2: &swap.Permit2{
			Hash: "0x01",
			EIP712: &platform.TypedData{
				PrimaryType: "PermitTransferFrom",
				Message: map[string]any{
					"amount": json.Number("115792089237316195423570985008687907853269984665640564039457584007913129639935"),
				},
			},
		},
		RequiresSignature: true,
	}
	if err := store.PutQuote(ctx, q, time.Minute); err != nil {
		t.Fatalf("PutQuote failed: %v", err)
	}

	got, err := store.GetQuote(ctx, "ABCDEF0123456789")
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if got.To != q.To || got.Network != "base" || !got.RequiresSignature {
		t.Fatalf("unexpected quote: %+v", got)
	}
	amount, ok := got.Permit2.EIP712.Message["amount"].(json.Number)
	if !ok || amount.String() != "115792089237316195423570985008687907853269984665640564039457584007913129639935" {
		t.Fatalf("expected exact amount, got %#v", got.Permit2.EIP712.Message["amount"])
	}

	if err := store.DeleteQuote(ctx, q.QuoteID); err != nil {
		t.Fatalf("DeleteQuote failed: %v", err)
	}
	if _, err := store.GetQuote(ctx, q.QuoteID); !clierr.Is(err, clierr.CodeNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestGetQuoteRefusesExpired(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	q := &swap.Quote{QuoteID: "feedfacefeedface", To: "0x01", Network: "base"}
	if err := store.PutQuote(ctx, q, time.Second); err != nil {
		t.Fatalf("PutQuote failed: %v", err)
	}
	time.Sleep(2100 * time.Millisecond)
	if _, err := store.GetQuote(ctx, q.QuoteID); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for expired quote, got %v", err)
	}
}

func TestPutQuoteRequiresID(t *testing.T) {
	store := openTestStore(t)
	if err := store.PutQuote(context.Background(), &swap.Quote{}, time.Minute); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestCacheConcurrentOpenAndSet(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "cache.db")
	lockPath := filepath.Join(tmp, "cache.lock")

	const workers = 16
	const iterations = 40

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			ctx := context.Background()

			store, err := Open(dbPath, lockPath)
			if err != nil {
				errCh <- fmt.Errorf("worker %d open: %w", workerID, err)
				return
			}
			defer store.Close()

			for i := 0; i < iterations; i++ {
				key := fmt.Sprintf("worker-%d-key-%d", workerID, i)
				if err := store.Set(ctx, key, []byte(`{"ok":true}`), time.Minute); err != nil {
					errCh <- fmt.Errorf("worker %d set iter %d: %w", workerID, i, err)
					return
				}
				res, err := store.Get(ctx, key)
				if err != nil {
					errCh <- fmt.Errorf("worker %d get iter %d: %w", workerID, i, err)
					return
				}
				if !res.Hit {
					errCh <- fmt.Errorf("worker %d get iter %d: expected hit", workerID, i)
					return
				}
			}
		}(worker)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}
