package app

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/cdp-cli/internal/account"
	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/model"
	"github.com/ggonzalez94/cdp-cli/internal/network"
	"github.com/ggonzalez94/cdp-cli/internal/registry"
	"github.com/ggonzalez94/cdp-cli/internal/swap"
	"github.com/ggonzalez94/cdp-cli/internal/units"
)

func (s *runtimeState) newNetworkCommand() *cobra.Command {
	root := &cobra.Command{Use: "network", Short: "Network-scoped account operations"}
	root.AddCommand(
		s.newNetworkCapabilitiesCommand(),
		s.newNetworkSendCommand(),
		s.newNetworkBalancesCommand(),
		s.newNetworkFaucetCommand(),
	)
	return root
}

func (s *runtimeState) newNetworkCapabilitiesCommand() *cobra.Command {
	var networkArg string
	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "List the operations each network supports",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := registry.Networks()
			if networkArg != "" {
				name := strings.ToLower(strings.TrimSpace(networkArg))
				if !registry.IsKnownNetwork(name) {
					return clierr.Newf(clierr.CodeUsage, "unknown network %q", networkArg)
				}
				names = []string{name}
				s.lastNetwork = name
			}
			rows := make([]model.NetworkCapability, 0, len(names))
			for _, name := range names {
				chainID, _ := registry.ChainID(name)
				rows = append(rows, model.NetworkCapability{
					Network:  name,
					ChainID:  chainID,
					Methods:  network.AvailableMethods(name),
					Platform: registry.UsesPlatformForSends(name),
				})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), rows, nil, cacheMetaBypass())
		},
	}
	cmd.Flags().StringVar(&networkArg, "network", "", "Limit output to one network")
	return cmd
}

// scopedAccount resolves the server account and scopes it to networkArg,
// which may be a network name or an RPC URL.
func (s *runtimeState) scopedAccount(cmd *cobra.Command, address, networkArg string, fees network.FeeOptions) (*network.ScopedAccount, error) {
	api, err := s.platformClient()
	if err != nil {
		return nil, err
	}
	acct, err := account.New(api, address)
	if err != nil {
		return nil, err
	}
	scoped, err := network.New(cmd.Context(), acct, networkArg, network.WithFeeOptions(fees), network.WithLogger(s.log))
	if err != nil {
		return nil, err
	}
	s.lastNetwork = scoped.Network()
	return scoped, nil
}

func (s *runtimeState) newNetworkSendCommand() *cobra.Command {
	var address, networkArg, to, value, data, token, amountBase, amountDecimal, idempotencyKey string
	var fees network.FeeOptions
	var wait bool
	var waitTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a transaction or token transfer from a server account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scoped, err := s.scopedAccount(cmd, address, networkArg, fees)
			if err != nil {
				return err
			}
			defer scoped.Close()

			sent := model.SentTransaction{Network: scoped.Network(), From: scoped.Address(), To: to, Status: swap.StatusPending}
			var hash string
			if token != "" {
				decimals, ok := units.Decimals(token)
				if !ok {
					decimals = 18
				}
				amount, err := units.Parse(amountBase, amountDecimal, decimals)
				if err != nil {
					return err
				}
				hash, err = scoped.Transfer.Transfer(ctx, to, amount.BaseUnits, token)
				if err != nil {
					return err
				}
				sent.Value = amount.BaseUnits.String()
			} else {
				wei := new(big.Int)
				if strings.TrimSpace(value) != "" {
					if _, ok := wei.SetString(strings.TrimSpace(value), 10); !ok || wei.Sign() < 0 {
						return clierr.Newf(clierr.CodeUsage, "--value must be a non-negative integer in wei, got %q", value)
					}
				}
				hash, err = scoped.SendTransaction.SendTransaction(ctx, account.TransactionRequest{To: to, Data: data, Value: wei}, idempotencyKey)
				if err != nil {
					return err
				}
				sent.Value = wei.String()
			}
			sent.TransactionHash = hash

			if wait {
				receipt, err := scoped.WaitForTransactionReceipt.WaitForTransactionReceipt(ctx, hash, account.WaitOptions{Timeout: waitTimeout})
				if err != nil {
					return err
				}
				sent.Status = receiptStatus(receipt)
				if receipt.BlockNumber != nil {
					sent.BlockNumber = receipt.BlockNumber.Uint64()
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), sent, nil, cacheMetaBypass())
		},
	}
	cmd.Flags().StringVar(&address, "account", "", "Server account address")
	cmd.Flags().StringVar(&networkArg, "network", "", "Network name or RPC URL")
	cmd.Flags().StringVar(&to, "to", "", "Recipient or contract address")
	cmd.Flags().StringVar(&value, "value", "", "Native value in wei")
	cmd.Flags().StringVar(&data, "data", "", "Hex calldata")
	cmd.Flags().StringVar(&token, "token", "", "Transfer this token (eth, usdc, ...) instead of sending raw calldata")
	cmd.Flags().StringVar(&amountBase, "amount", "", "Transfer amount in base units")
	cmd.Flags().StringVar(&amountDecimal, "amount-decimal", "", "Transfer amount in decimal units")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key for Platform sends")
	cmd.Flags().Float64Var(&fees.GasMultiplier, "gas-multiplier", 1.2, "Gas estimate multiplier for RPC sends")
	cmd.Flags().StringVar(&fees.MaxFeeGwei, "max-fee-gwei", "", "EIP-1559 max fee override for RPC sends")
	cmd.Flags().StringVar(&fees.MaxPriorityFeeGwei, "max-priority-fee-gwei", "", "EIP-1559 priority fee override for RPC sends")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the transaction receipt")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", network.DefaultReceiptTimeout, "Receipt wait timeout")
	for _, name := range []string{"account", "network", "to"} {
		_ = cmd.MarkFlagRequired(name)
	}
	cmd.MarkFlagsMutuallyExclusive("token", "value")
	cmd.MarkFlagsMutuallyExclusive("token", "data")
	return cmd
}

func receiptStatus(r *types.Receipt) string {
	if r.Status == types.ReceiptStatusSuccessful {
		return swap.StatusCompleted
	}
	return swap.StatusFailed
}

func (s *runtimeState) newNetworkBalancesCommand() *cobra.Command {
	var address, networkArg, pageToken string
	var pageSize int
	cmd := &cobra.Command{
		Use:   "balances",
		Short: "List token balances of a server account",
		RunE: func(cmd *cobra.Command, args []string) error {
			scoped, err := s.scopedAccount(cmd, address, networkArg, network.FeeOptions{})
			if err != nil {
				return err
			}
			defer scoped.Close()
			impl, err := scoped.Capability(network.MethodListTokenBalances)
			if err != nil {
				return err
			}
			page, err := impl.(network.TokenBalanceLister).ListTokenBalances(cmd.Context(), pageSize, pageToken)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), page, nil, cacheMetaBypass())
		},
	}
	cmd.Flags().StringVar(&address, "account", "", "Server account address")
	cmd.Flags().StringVar(&networkArg, "network", "", "Network name or RPC URL")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Balances per page")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Continuation token from a previous page")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("network")
	return cmd
}

func (s *runtimeState) newNetworkFaucetCommand() *cobra.Command {
	var address, networkArg, token string
	cmd := &cobra.Command{
		Use:   "faucet",
		Short: "Request testnet funds for a server account",
		RunE: func(cmd *cobra.Command, args []string) error {
			scoped, err := s.scopedAccount(cmd, address, networkArg, network.FeeOptions{})
			if err != nil {
				return err
			}
			defer scoped.Close()
			impl, err := scoped.Capability(network.MethodRequestFaucet)
			if err != nil {
				return err
			}
			hash, err := impl.(network.FaucetRequester).RequestFaucet(cmd.Context(), token)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), map[string]string{
				"network":          scoped.Network(),
				"account":          scoped.Address(),
				"token":            token,
				"transaction_hash": hash,
			}, nil, cacheMetaBypass())
		},
	}
	cmd.Flags().StringVar(&address, "account", "", "Server account address")
	cmd.Flags().StringVar(&networkArg, "network", "", "Testnet name")
	cmd.Flags().StringVar(&token, "token", "eth", "Faucet token")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("network")
	return cmd
}
