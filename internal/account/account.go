package account

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/platform"
	"github.com/ggonzalez94/cdp-cli/internal/registry"
	"github.com/ggonzalez94/cdp-cli/internal/units"
)

// Account is an EVM server account whose key is held by the Platform.
type Account struct {
	address common.Address
	api     *platform.Client
}

func New(api *platform.Client, address string) (*Account, error) {
	if api == nil {
		return nil, clierr.New(clierr.CodeInternal, "missing platform client")
	}
	if !common.IsHexAddress(address) {
		return nil, clierr.Newf(clierr.CodeUsage, "invalid account address %q", address)
	}
	return &Account{address: common.HexToAddress(address), api: api}, nil
}

func (a *Account) Address() string { return a.address.Hex() }

func (a *Account) API() *platform.Client { return a.api }

func (a *Account) SignTypedData(ctx context.Context, data platform.TypedData) (string, error) {
	sig, err := a.api.SignTypedData(ctx, a.Address(), data, "")
	if err != nil {
		return "", clierr.Wrap(clierr.CodeSigner, "sign typed data", err)
	}
	return sig, nil
}

func (a *Account) SignHash(ctx context.Context, hash, idempotencyKey string) (string, error) {
	sig, err := a.api.SignHash(ctx, a.Address(), hash, idempotencyKey)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeSigner, "sign hash", err)
	}
	return sig, nil
}

// SignTransaction has the Platform sign a fully populated transaction and
// returns the signed form. The key never leaves custody.
func (a *Account) SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	unsigned, err := tx.MarshalBinary()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "encode transaction", err)
	}
	signedHex, err := a.api.SignTransaction(ctx, a.Address(), hexutil.Encode(unsigned), "")
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	raw, err := hexutil.Decode(ensure0x(signedHex))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeMalformedResponse, "decode signed transaction", err)
	}
	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(raw); err != nil {
		return nil, clierr.Wrap(clierr.CodeMalformedResponse, "decode signed transaction", err)
	}
	return signed, nil
}

// SendTransaction has the Platform sign and broadcast req on network.
// Unset gas, fee and nonce fields are filled in by the Platform.
func (a *Account) SendTransaction(ctx context.Context, req TransactionRequest, network, idempotencyKey string) (string, error) {
	chainID, ok := registry.ChainID(network)
	if !ok {
		return "", clierr.Newf(clierr.CodeUsage, "unknown network %q", network)
	}
	tx, err := req.Unsigned(big.NewInt(chainID))
	if err != nil {
		return "", err
	}
	encoded, err := tx.MarshalBinary()
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "encode transaction", err)
	}
	hash, err := a.api.SendTransaction(ctx, a.Address(), network, hexutil.Encode(encoded), idempotencyKey)
	if err != nil {
		return "", err
	}
	a.api.Logger().WithFields(logrus.Fields{"network": network, "hash": hash, "from": a.Address()}).Info("transaction sent")
	return hash, nil
}

// TransferRequest moves native currency or an ERC-20 token.
type TransferRequest struct {
	To      string
	Amount  *big.Int
	Token   string
	Network string
}

// BuildTransfer turns a transfer into a plain transaction request.
func BuildTransfer(req TransferRequest) (TransactionRequest, error) {
	if !common.IsHexAddress(req.To) {
		return TransactionRequest{}, clierr.Newf(clierr.CodeUsage, "invalid recipient %q", req.To)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return TransactionRequest{}, clierr.New(clierr.CodeUsage, "transfer amount must be positive")
	}
	if registry.IsNativeToken(req.Token) {
		return TransactionRequest{To: req.To, Value: new(big.Int).Set(req.Amount)}, nil
	}
	tokenAddr := registry.ERC20Address(req.Token, req.Network)
	if !common.IsHexAddress(tokenAddr) {
		return TransactionRequest{}, clierr.Newf(clierr.CodeUsage, "unknown token %q on %s", req.Token, req.Network)
	}
	data, err := registry.ERC20.Pack("transfer", common.HexToAddress(req.To), req.Amount)
	if err != nil {
		return TransactionRequest{}, clierr.Wrap(clierr.CodeInternal, "encode erc20 transfer", err)
	}
	return TransactionRequest{To: tokenAddr, Data: hexutil.Encode(data), Value: new(big.Int)}, nil
}

func (a *Account) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	tx, err := BuildTransfer(req)
	if err != nil {
		return "", err
	}
	return a.SendTransaction(ctx, tx, req.Network, "")
}

func (a *Account) RequestFaucet(ctx context.Context, network, token string) (string, error) {
	if token == "" {
		token = "eth"
	}
	return a.api.RequestFaucet(ctx, a.Address(), network, strings.ToLower(token))
}

func (a *Account) ListTokenBalances(ctx context.Context, network string, pageSize int, pageToken string) (*platform.TokenBalancesPage, error) {
	return a.api.ListTokenBalances(ctx, a.Address(), network, pageSize, pageToken)
}

// FundOptions describes a purchase delivered to the account.
type FundOptions struct {
	Network         string
	Token           string
	Amount          *big.Int
	PaymentMethodID string
	IdempotencyKey  string
}

func (a *Account) QuoteFund(ctx context.Context, opts FundOptions) (*platform.Transfer, error) {
	return a.createTransfer(ctx, opts, false)
}

func (a *Account) Fund(ctx context.Context, opts FundOptions) (*platform.Transfer, error) {
	return a.createTransfer(ctx, opts, true)
}

func (a *Account) createTransfer(ctx context.Context, opts FundOptions, execute bool) (*platform.Transfer, error) {
	decimals, ok := units.Decimals(opts.Token)
	if !ok {
		return nil, clierr.Newf(clierr.CodeUsage, "unsupported fund token %q (expected eth|usdc)", opts.Token)
	}
	if opts.Amount == nil || opts.Amount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "fund amount must be positive")
	}
	methodID := opts.PaymentMethodID
	if methodID == "" {
		var err error
		if methodID, err = a.defaultPaymentMethod(ctx); err != nil {
			return nil, err
		}
	}
	return a.api.CreateTransfer(ctx, platform.FundRequest{
		PaymentMethodID: methodID,
		Address:         a.Address(),
		Network:         opts.Network,
		Token:           opts.Token,
		Amount:          units.Format(opts.Amount, decimals),
		Execute:         execute,
	}, opts.IdempotencyKey)
}

func (a *Account) defaultPaymentMethod(ctx context.Context) (string, error) {
	methods, err := a.api.ListPaymentMethods(ctx)
	if err != nil {
		return "", err
	}
	for _, m := range methods {
		if m.Type != "card" {
			continue
		}
		for _, action := range m.Actions {
			if action == "source" {
				return m.ID, nil
			}
		}
	}
	return "", clierr.New(clierr.CodeUsage, "no card payment method available for funding")
}

// WaitForFundOperation polls a fund transfer until it settles.
func (a *Account) WaitForFundOperation(ctx context.Context, transferID string, opts WaitOptions) (*platform.Transfer, error) {
	opts = opts.withDefaults()
	var last *platform.Transfer
	err := poll(ctx, opts, func(ctx context.Context) (bool, error) {
		transfer, err := a.api.GetTransfer(ctx, transferID)
		if err != nil {
			return false, err
		}
		last = transfer
		return transfer.Status == platform.TransferCompleted || transfer.Status == platform.TransferFailed, nil
	})
	return last, err
}

// Unsigned builds the EIP-1559 transaction described by r.
func (r TransactionRequest) Unsigned(chainID *big.Int) (*types.Transaction, error) {
	if !common.IsHexAddress(r.To) {
		return nil, clierr.Newf(clierr.CodeUsage, "invalid transaction target %q", r.To)
	}
	data, err := DecodeHex(r.Data)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "decode calldata", err)
	}
	to := common.HexToAddress(r.To)
	var nonce uint64
	if r.Nonce != nil {
		nonce = *r.Nonce
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: r.MaxPriorityFeePerGas,
		GasFeeCap: r.MaxFeePerGas,
		Gas:       r.Gas,
		To:        &to,
		Value:     r.Value,
		Data:      data,
	}), nil
}

// poll calls check every interval until it reports done, fails, or the
// timeout elapses. A timeout yields a CodeTimeout error.
func poll(ctx context.Context, opts WaitOptions, check func(context.Context) (bool, error)) error {
	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for {
		done, err := check(waitCtx)
		if err == nil && done {
			return nil
		}
		if err != nil && waitCtx.Err() == nil {
			return err
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return clierr.Wrap(clierr.CodeUnavailable, "wait cancelled", ctx.Err())
			}
			return clierr.Wrap(clierr.CodeTimeout, "timed out waiting for operation", waitCtx.Err())
		case <-ticker.C:
		}
	}
}
