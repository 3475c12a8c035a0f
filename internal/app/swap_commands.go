package app

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/cdp-cli/internal/account"
	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/model"
	"github.com/ggonzalez94/cdp-cli/internal/platform"
	"github.com/ggonzalez94/cdp-cli/internal/store"
	"github.com/ggonzalez94/cdp-cli/internal/swap"
)

type swapRouteFlags struct {
	fromToken   string
	toToken     string
	fromAmount  string
	network     string
	slippageBps int
}

func (f *swapRouteFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.fromToken, "from-token", "", "Token address to sell")
	cmd.Flags().StringVar(&f.toToken, "to-token", "", "Token address to buy")
	cmd.Flags().StringVar(&f.fromAmount, "from-amount", "", "Amount to sell in base units")
	cmd.Flags().StringVar(&f.network, "network", "", "Network name (base|ethereum)")
	cmd.Flags().IntVar(&f.slippageBps, "slippage-bps", swap.DefaultSlippageBps, "Maximum slippage in basis points")
}

func (f *swapRouteFlags) set() bool {
	return f.fromToken != "" || f.toToken != "" || f.fromAmount != "" || f.network != ""
}

func (s *runtimeState) newSwapCommand() *cobra.Command {
	root := &cobra.Command{Use: "swap", Short: "Quote and execute token swaps"}
	root.AddCommand(s.newSwapQuoteCommand(), s.newSwapExecuteCommand())
	return root
}

func (s *runtimeState) newSwapQuoteCommand() *cobra.Command {
	var route swapRouteFlags
	var taker, idempotencyKey string
	var verify bool
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Request an executable swap quote",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := trimRootPath(cmd.CommandPath())
			api, err := s.platformClient()
			if err != nil {
				return err
			}
			s.lastNetwork = strings.ToLower(route.network)
			q, err := swap.CreateQuote(cmd.Context(), api, swap.QuoteRequest{
				FromToken:      route.fromToken,
				ToToken:        route.toToken,
				FromAmount:     route.fromAmount,
				Network:        route.network,
				Taker:          taker,
				SlippageBps:    route.slippageBps,
				IdempotencyKey: idempotencyKey,
			})
			if err != nil {
				return err
			}

			var warnings []string
			if verify {
				if q.Permit2 == nil {
					warnings = append(warnings, "quote carries no permit2 payload; nothing to verify")
				} else if err := swap.VerifyPermit2Hash(q.Permit2); err != nil {
					return err
				}
			}

			status := cacheMetaBypass()
			if s.cache != nil {
				if err := s.cache.PutQuote(cmd.Context(), q, s.settings.QuoteTTL); err != nil {
					s.log.WithError(err).Warn("quote not cached")
					warnings = append(warnings, "quote could not be cached; execute it inline instead")
				} else {
					status = model.CacheStatus{Status: "write"}
				}
			}
			return s.emitSuccess(path, q, warnings, status)
		},
	}
	route.register(cmd)
	cmd.Flags().StringVar(&taker, "taker", "", "Address that will execute the swap")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key for the quote request")
	cmd.Flags().BoolVar(&verify, "verify", false, "Recompute the Permit2 EIP-712 hash locally and compare")
	for _, name := range []string{"from-token", "to-token", "from-amount", "network", "taker"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (s *runtimeState) newSwapExecuteCommand() *cobra.Command {
	var route swapRouteFlags
	var quoteID, address, smartAddress, ownerKeySource, paymasterURL, idempotencyKey string
	var waitTimeout, waitInterval time.Duration
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute a cached quote or an inline swap",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := trimRootPath(cmd.CommandPath())
			if (quoteID == "") == !route.set() {
				return clierr.New(clierr.CodeUsage, "use either --quote-id or --from-token/--to-token/--from-amount/--network")
			}
			api, err := s.platformClient()
			if err != nil {
				return err
			}

			strategy, kind, err := s.swapStrategy(api, address, smartAddress, ownerKeySource)
			if err != nil {
				return err
			}

			opts := swap.Options{
				IdempotencyKey: idempotencyKey,
				PaymasterURL:   paymasterURL,
				Wait:           account.WaitOptions{Timeout: s.settings.WaitTimeout, Interval: s.settings.WaitInterval},
			}
			if waitTimeout > 0 {
				opts.Wait.Timeout = waitTimeout
			}
			if waitInterval > 0 {
				opts.Wait.Interval = waitInterval
			}
			if quoteID != "" {
				if s.cache == nil {
					return clierr.New(clierr.CodeUsage, "--quote-id needs the quote cache; drop --no-cache")
				}
				q, err := s.cache.GetQuote(ctx, quoteID)
				if err != nil {
					return err
				}
				if !strings.EqualFold(q.Taker, strategy.Address()) {
					return clierr.Newf(clierr.CodeUsage, "quote %s was issued for taker %s, not %s", q.QuoteID, q.Taker, strategy.Address())
				}
				opts.Quote = q
			} else {
				opts.Inline = &swap.InlineParams{
					FromToken:   route.fromToken,
					ToToken:     route.toToken,
					FromAmount:  route.fromAmount,
					Network:     route.network,
					SlippageBps: route.slippageBps,
				}
			}

			res, err := swap.Send(ctx, api, strategy, opts)
			if err != nil {
				return err
			}
			s.lastNetwork = res.Network
			if opts.Quote != nil {
				if err := s.cache.DeleteQuote(ctx, res.QuoteID); err != nil {
					s.log.WithError(err).WithField("quote_id", res.QuoteID).Warn("executed quote left in cache")
				}
			}

			rec := store.FromResult(res, strategy.Address(), kind)
			var warnings []string
			if rec.WaitTimedOut {
				warnings = append(warnings, "user operation did not finish within the wait; run `cdp swaps refresh "+rec.ID+"` later")
			}
			if err := s.swaps.Save(ctx, rec); err != nil {
				s.log.WithError(err).WithField("swap_id", rec.ID).Error("swap not recorded")
				warnings = append(warnings, "swap was submitted but could not be recorded locally")
			}
			s.log.WithFields(logrus.Fields{"swap_id": rec.ID, "status": rec.Status, "network": rec.Network}).Info("swap submitted")
			return s.emitSuccess(path, rec, warnings, cacheMetaBypass())
		},
	}
	route.register(cmd)
	cmd.Flags().StringVar(&quoteID, "quote-id", "", "Execute a quote cached by `swap quote`")
	cmd.Flags().StringVar(&address, "account", "", "Server account address to swap from")
	cmd.Flags().StringVar(&smartAddress, "smart-account", "", "Smart account address to swap from (owner key read from the environment)")
	cmd.Flags().StringVar(&ownerKeySource, "owner-key-source", account.KeySourceAuto, "Owner key source: auto|env|file|keystore")
	cmd.Flags().StringVar(&paymasterURL, "paymaster-url", "", "Paymaster for smart-account swaps")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key for the swap")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 0, "How long to wait for a smart-account user operation")
	cmd.Flags().DurationVar(&waitInterval, "wait-interval", 0, "User operation poll interval")
	cmd.MarkFlagsMutuallyExclusive("account", "smart-account")
	cmd.MarkFlagsOneRequired("account", "smart-account")
	cmd.MarkFlagsMutuallyExclusive("quote-id", "from-token")
	return cmd
}

func (s *runtimeState) swapStrategy(api *platform.Client, address, smartAddress, ownerKeySource string) (swap.Strategy, string, error) {
	if smartAddress != "" {
		owner, err := account.NewLocalOwnerFromEnv(ownerKeySource)
		if err != nil {
			return nil, "", err
		}
		smart, err := account.NewSmart(api, smartAddress, owner)
		if err != nil {
			return nil, "", err
		}
		return swap.NewSmartAccountStrategy(smart), store.KindSmartAccount, nil
	}
	acct, err := account.New(api, address)
	if err != nil {
		return nil, "", err
	}
	return swap.NewAccountStrategy(acct), store.KindAccount, nil
}

func (s *runtimeState) newSwapsCommand() *cobra.Command {
	root := &cobra.Command{Use: "swaps", Short: "Inspect locally recorded swaps"}

	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded swaps, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := s.swaps.List(cmd.Context(), strings.ToLower(strings.TrimSpace(status)), limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list swaps", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), records, nil, cacheMetaBypass())
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status (pending|completed|failed)")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum records to return")

	get := &cobra.Command{
		Use:   "get <swap-id>",
		Short: "Show one recorded swap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := s.swaps.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			s.lastNetwork = rec.Network
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), rec, nil, cacheMetaBypass())
		},
	}

	refresh := &cobra.Command{
		Use:   "refresh <swap-id>",
		Short: "Re-read the user operation of a pending smart-account swap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rec, err := s.swaps.Get(ctx, args[0])
			if err != nil {
				return err
			}
			s.lastNetwork = rec.Network
			if !rec.Refreshable() {
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), rec, []string{"swap is not a pending smart-account swap; nothing to refresh"}, cacheMetaBypass())
			}
			api, err := s.platformClient()
			if err != nil {
				return err
			}
			op, err := api.GetUserOperation(ctx, rec.Account, rec.UserOpHash)
			if err != nil {
				return err
			}
			rec.Status = swap.StatusFromUserOperation(op.Status)
			if op.TransactionHash != "" {
				rec.TxHash = op.TransactionHash
			}
			if err := s.swaps.Save(ctx, rec); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "update swap", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), rec, nil, cacheMetaBypass())
		},
	}

	root.AddCommand(list, get, refresh)
	return root
}
