package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/swap"
)

func quoteKey(id string) string {
	return "quote:" + strings.ToLower(strings.TrimSpace(id))
}

// PutQuote stores q under its quote ID so a later process can execute it.
func (s *Store) PutQuote(ctx context.Context, q *swap.Quote, ttl time.Duration) error {
	if q == nil || q.QuoteID == "" {
		return clierr.New(clierr.CodeUsage, "quote has no id")
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "encode quote", err)
	}
	return s.Set(ctx, quoteKey(q.QuoteID), raw, ttl)
}

// GetQuote loads a stored quote. Unknown IDs are CodeNotFound; quotes past
// their TTL are refused with CodeUsage.
func (s *Store) GetQuote(ctx context.Context, id string) (*swap.Quote, error) {
	entry, err := s.Get(ctx, quoteKey(id))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "read quote cache", err)
	}
	if !entry.Hit {
		return nil, clierr.Newf(clierr.CodeNotFound, "quote %s not found", id)
	}
	if entry.Expired {
		return nil, clierr.Newf(clierr.CodeUsage, "quote %s has expired (age %s); request a new quote", id, entry.Age.Round(time.Second))
	}
	return swap.DecodeQuote(entry.Value)
}

// DeleteQuote forgets a quote once it has been executed.
func (s *Store) DeleteQuote(ctx context.Context, id string) error {
	return s.Delete(ctx, quoteKey(id))
}
