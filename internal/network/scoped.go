// Package network scopes a Platform account to one network, exposing only
// the operations that network supports.
package network

import (
	"context"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/cdp-cli/internal/account"
	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/platform"
	"github.com/ggonzalez94/cdp-cli/internal/registry"
	"github.com/ggonzalez94/cdp-cli/internal/swap"
)

// ServerAccount is the Platform account a scoped account wraps.
// *account.Account satisfies it.
type ServerAccount interface {
	account.TransactionSender
	account.TransactionSigner
	account.TypedDataSigner
	RequestFaucet(ctx context.Context, network, token string) (string, error)
	ListTokenBalances(ctx context.Context, network string, pageSize int, pageToken string) (*platform.TokenBalancesPage, error)
	QuoteFund(ctx context.Context, opts account.FundOptions) (*platform.Transfer, error)
	Fund(ctx context.Context, opts account.FundOptions) (*platform.Transfer, error)
	WaitForFundOperation(ctx context.Context, transferID string, opts account.WaitOptions) (*platform.Transfer, error)
	API() *platform.Client
}

type TokenBalanceLister interface {
	ListTokenBalances(ctx context.Context, pageSize int, pageToken string) (*platform.TokenBalancesPage, error)
}

type FaucetRequester interface {
	RequestFaucet(ctx context.Context, token string) (string, error)
}

type FundQuoter interface {
	QuoteFund(ctx context.Context, amount *big.Int, token string) (*platform.Transfer, error)
}

type Funder interface {
	Fund(ctx context.Context, amount *big.Int, token string) (*platform.Transfer, error)
}

type FundWaiter interface {
	WaitForFundOperationReceipt(ctx context.Context, transferID string, opts account.WaitOptions) (*platform.Transfer, error)
}

type Transferrer interface {
	Transfer(ctx context.Context, to string, amount *big.Int, token string) (string, error)
}

type Sender interface {
	SendTransaction(ctx context.Context, req account.TransactionRequest, idempotencyKey string) (string, error)
}

type ReceiptWaiter interface {
	WaitForTransactionReceipt(ctx context.Context, txHash string, opts account.WaitOptions) (*types.Receipt, error)
}

// SwapQuoteParams is a swap quote request on the scoped network.
type SwapQuoteParams struct {
	FromToken      string
	ToToken        string
	FromAmount     string
	SlippageBps    int
	Taker          string
	IdempotencyKey string
}

type SwapQuoter interface {
	QuoteSwap(ctx context.Context, params SwapQuoteParams) (*swap.Quote, error)
}

type Swapper interface {
	Swap(ctx context.Context, opts swap.Options) (*swap.Result, error)
}

// Capabilities holds one entry per operation. Operations the network does
// not support are nil.
type Capabilities struct {
	ListTokenBalances           TokenBalanceLister
	RequestFaucet               FaucetRequester
	QuoteFund                   FundQuoter
	Fund                        Funder
	WaitForFundOperationReceipt FundWaiter
	Transfer                    Transferrer
	SendTransaction             Sender
	QuoteSwap                   SwapQuoter
	Swap                        Swapper
	WaitForTransactionReceipt   ReceiptWaiter
}

// ScopedAccount is a server account bound to one network, optionally
// reached through a caller-supplied RPC endpoint.
type ScopedAccount struct {
	Capabilities

	network string
	rpcURL  string
	ops     *operations
}

type Option func(*operations)

func WithFeeOptions(fees FeeOptions) Option {
	return func(o *operations) { o.fees = fees }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(o *operations) {
		if log != nil {
			o.log = log
		}
	}
}

// New scopes acct to networkOrRPC. An http(s) URL is resolved to a network
// name through its chain ID and kept as the RPC endpoint; unknown chains are
// named registry.Custom.
func New(ctx context.Context, acct ServerAccount, networkOrRPC string, opts ...Option) (*ScopedAccount, error) {
	if acct == nil {
		return nil, clierr.New(clierr.CodeUsage, "account is required")
	}
	target := strings.TrimSpace(networkOrRPC)
	if target == "" {
		return nil, clierr.New(clierr.CodeUsage, "network or rpc url is required")
	}

	ops := &operations{acct: acct, log: acct.API().Logger()}
	for _, opt := range opts {
		opt(ops)
	}

	if strings.HasPrefix(strings.ToLower(target), "http") {
		chainID, err := ResolveChainIDFromRPC(ctx, target)
		if err != nil {
			return nil, err
		}
		ops.network = registry.NetworkName(chainID)
		ops.rpcURL = target
	} else {
		ops.network = strings.ToLower(target)
		if !registry.IsKnownNetwork(ops.network) {
			return nil, clierr.Newf(clierr.CodeUsage, "unknown network %q (expected one of %s)", target, strings.Join(registry.Networks(), ", "))
		}
	}
	if ops.rpcURL != "" && !registry.UsesPlatformForSends(ops.network) {
		client, err := ethclient.DialContext(ctx, ops.rpcURL)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
		}
		ops.rpc = client
	}

	s := &ScopedAccount{network: ops.network, rpcURL: ops.rpcURL, ops: ops}
	s.Capabilities = Capabilities{
		SendTransaction:           ops,
		Transfer:                  ops,
		WaitForTransactionReceipt: ops,
	}
	if IsMethodSupported(MethodListTokenBalances, ops.network) {
		s.ListTokenBalances = ops
	}
	if IsMethodSupported(MethodRequestFaucet, ops.network) {
		s.RequestFaucet = ops
	}
	if IsMethodSupported(MethodQuoteFund, ops.network) {
		s.QuoteFund = ops
	}
	if IsMethodSupported(MethodFund, ops.network) {
		s.Fund = ops
		s.WaitForFundOperationReceipt = ops
	}
	if IsMethodSupported(MethodQuoteSwap, ops.network) {
		s.QuoteSwap = ops
	}
	if IsMethodSupported(MethodSwap, ops.network) {
		s.Swap = ops
	}
	return s, nil
}

func (s *ScopedAccount) Address() string { return s.ops.acct.Address() }

func (s *ScopedAccount) Network() string { return s.network }

// RPCURL is the caller-supplied endpoint, empty when none was given.
func (s *ScopedAccount) RPCURL() string { return s.rpcURL }

// Close releases the RPC connection, if any.
func (s *ScopedAccount) Close() {
	if s.ops.rpc != nil {
		s.ops.rpc.Close()
	}
}

// Supports reports whether method is available on this account.
func (s *ScopedAccount) Supports(method string) bool {
	_, err := s.Capability(method)
	return err == nil
}

// Capability returns the implementation of method, or CodeUnsupported when
// the network lacks it.
func (s *ScopedAccount) Capability(method string) (any, error) {
	var impl any
	switch method {
	case MethodListTokenBalances:
		impl = nilIfUnset(s.ListTokenBalances)
	case MethodRequestFaucet:
		impl = nilIfUnset(s.RequestFaucet)
	case MethodQuoteFund:
		impl = nilIfUnset(s.QuoteFund)
	case MethodFund:
		impl = nilIfUnset(s.Fund)
	case MethodWaitForFundOperationReceipt:
		impl = nilIfUnset(s.WaitForFundOperationReceipt)
	case MethodTransfer:
		impl = nilIfUnset(s.Transfer)
	case MethodSendTransaction:
		impl = nilIfUnset(s.SendTransaction)
	case MethodQuoteSwap:
		impl = nilIfUnset(s.QuoteSwap)
	case MethodSwap:
		impl = nilIfUnset(s.Swap)
	case MethodWaitForTransactionReceipt:
		impl = nilIfUnset(s.WaitForTransactionReceipt)
	}
	if impl == nil {
		return nil, clierr.Newf(clierr.CodeUnsupported, "%s is not supported on network %s", method, s.network)
	}
	return impl, nil
}

// Methods lists the available operations in sorted order.
func (s *ScopedAccount) Methods() []string {
	var out []string
	for _, m := range append(Methods(), MethodWaitForTransactionReceipt) {
		if s.Supports(m) {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// nilIfUnset turns a typed nil interface field into an untyped nil.
func nilIfUnset[T comparable](v T) any {
	var zero T
	if v == zero {
		return nil
	}
	return v
}

// operations implements every capability for one scoped account; which of
// them are reachable is decided in New.
type operations struct {
	acct    ServerAccount
	network string
	rpcURL  string
	rpc     *ethclient.Client
	fees    FeeOptions
	log     logrus.FieldLogger
}

func (o *operations) SendTransaction(ctx context.Context, req account.TransactionRequest, idempotencyKey string) (string, error) {
	var (
		hash string
		err  error
	)
	if o.rpc != nil {
		hash, err = o.sendViaRPC(ctx, req)
	} else {
		hash, err = o.acct.SendTransaction(ctx, req, o.network, idempotencyKey)
	}
	if err != nil {
		return "", err
	}
	o.logSent(hash)
	return hash, nil
}

func (o *operations) Transfer(ctx context.Context, to string, amount *big.Int, token string) (string, error) {
	req, err := account.BuildTransfer(account.TransferRequest{To: to, Amount: amount, Token: token, Network: o.network})
	if err != nil {
		return "", err
	}
	return o.SendTransaction(ctx, req, "")
}

// sendViaRPC assembles the transaction against the custom node, has the
// Platform sign it, then broadcasts the signed bytes itself.
func (o *operations) sendViaRPC(ctx context.Context, req account.TransactionRequest) (string, error) {
	from := common.HexToAddress(o.acct.Address())
	tx, err := fillTransaction(ctx, o.rpc, from, o.network, req, o.fees)
	if err != nil {
		return "", err
	}
	signed, err := o.acct.SignTransaction(ctx, tx)
	if err != nil {
		return "", err
	}
	if err := o.rpc.SendTransaction(ctx, signed); err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	return signed.Hash().Hex(), nil
}

func (o *operations) logSent(hash string) {
	rpc := o.rpcURL
	if rpc == "" {
		rpc = "default"
	}
	o.log.WithFields(logrus.Fields{"network": o.network, "rpc": rpc, "hash": hash}).Info("transaction sent")
}

// WaitForTransactionReceipt polls the custom RPC, or the network's default
// endpoint when none was given.
func (o *operations) WaitForTransactionReceipt(ctx context.Context, txHash string, opts account.WaitOptions) (*types.Receipt, error) {
	client := o.rpc
	if client == nil {
		url, err := registry.ResolveRPCURL(o.rpcURL, o.network)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnsupported, "wait for receipt", err)
		}
		dialed, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
		}
		defer dialed.Close()
		client = dialed
	}
	return waitForReceipt(ctx, client, common.HexToHash(txHash), opts)
}

func (o *operations) ListTokenBalances(ctx context.Context, pageSize int, pageToken string) (*platform.TokenBalancesPage, error) {
	return o.acct.ListTokenBalances(ctx, o.network, pageSize, pageToken)
}

func (o *operations) RequestFaucet(ctx context.Context, token string) (string, error) {
	return o.acct.RequestFaucet(ctx, o.network, token)
}

func (o *operations) QuoteFund(ctx context.Context, amount *big.Int, token string) (*platform.Transfer, error) {
	return o.acct.QuoteFund(ctx, account.FundOptions{Network: o.network, Token: token, Amount: amount})
}

func (o *operations) Fund(ctx context.Context, amount *big.Int, token string) (*platform.Transfer, error) {
	return o.acct.Fund(ctx, account.FundOptions{Network: o.network, Token: token, Amount: amount})
}

func (o *operations) WaitForFundOperationReceipt(ctx context.Context, transferID string, opts account.WaitOptions) (*platform.Transfer, error) {
	return o.acct.WaitForFundOperation(ctx, transferID, opts)
}

func (o *operations) QuoteSwap(ctx context.Context, params SwapQuoteParams) (*swap.Quote, error) {
	taker := params.Taker
	if taker == "" {
		taker = o.acct.Address()
	}
	q, err := swap.CreateQuote(ctx, o.acct.API(), swap.QuoteRequest{
		FromToken:      params.FromToken,
		ToToken:        params.ToToken,
		FromAmount:     params.FromAmount,
		Network:        o.network,
		Taker:          taker,
		SlippageBps:    params.SlippageBps,
		IdempotencyKey: params.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	return q.Bind(o.acct), nil
}

// Swap pins inline swaps to the scoped network and refuses quotes issued
// for another one.
func (o *operations) Swap(ctx context.Context, opts swap.Options) (*swap.Result, error) {
	if opts.Quote != nil && !strings.EqualFold(opts.Quote.Network, o.network) {
		return nil, clierr.Newf(clierr.CodeUsage, "quote %s is for network %s, account is scoped to %s", opts.Quote.QuoteID, opts.Quote.Network, o.network)
	}
	if opts.Inline != nil {
		inline := *opts.Inline
		inline.Network = o.network
		opts.Inline = &inline
	}
	return swap.Send(ctx, o.acct.API(), swap.NewAccountStrategy(o.acct), opts)
}
