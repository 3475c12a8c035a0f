// Package swap builds swap quotes and executes them from plain or smart
// accounts.
package swap

import (
	"context"
	"strings"

	"github.com/ggonzalez94/cdp-cli/internal/account"
	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/platform"
)

// InlineParams describes a swap to be quoted at send time.
type InlineParams struct {
	FromToken   string
	ToToken     string
	FromAmount  string
	Network     string
	Taker       string
	SlippageBps int
}

// Options carries exactly one of Inline or Quote.
type Options struct {
	Inline         *InlineParams
	Quote          *Quote
	IdempotencyKey string
	PaymasterURL   string
	// Wait bounds the user-operation wait of smart-account swaps.
	Wait account.WaitOptions
}

func (o Options) Validate() error {
	switch {
	case o.Inline == nil && o.Quote == nil:
		return clierr.New(clierr.CodeUsage, "swap needs either inline parameters or a quote")
	case o.Inline != nil && o.Quote != nil:
		return clierr.New(clierr.CodeUsage, "swap takes inline parameters or a quote, not both")
	}
	if o.Inline != nil && (o.Inline.SlippageBps < 0 || o.Inline.SlippageBps > MaxSlippageBps) {
		return clierr.Newf(clierr.CodeUsage, "slippage must be between 0 and %d bps", MaxSlippageBps)
	}
	if o.Quote != nil && strings.TrimSpace(o.Quote.To) == "" {
		return clierr.New(clierr.CodeUsage, "quote has no transaction target")
	}
	return nil
}

// Send quotes the swap when needed and executes it with strategy. Inline
// swaps default the taker to the executing account.
func Send(ctx context.Context, api QuoteAPI, strategy Strategy, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	quote := opts.Quote
	if quote == nil {
		taker := opts.Inline.Taker
		if taker == "" {
			taker = strategy.Address()
		}
		var err error
		quote, err = CreateQuote(ctx, api, QuoteRequest{
			FromToken:      opts.Inline.FromToken,
			ToToken:        opts.Inline.ToToken,
			FromAmount:     opts.Inline.FromAmount,
			Network:        opts.Inline.Network,
			Taker:          taker,
			SlippageBps:    opts.Inline.SlippageBps,
			IdempotencyKey: platform.DeriveIdempotencyKey(opts.IdempotencyKey, "quote"),
		})
		if err != nil {
			return nil, err
		}
	}
	return strategy.Execute(ctx, quote, ExecuteOptions{
		IdempotencyKey: opts.IdempotencyKey,
		PaymasterURL:   opts.PaymasterURL,
		Wait:           opts.Wait,
	})
}
