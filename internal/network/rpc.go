package network

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ggonzalez94/cdp-cli/internal/account"
	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/registry"
)

const (
	DefaultReceiptTimeout  = 20 * time.Second
	DefaultReceiptInterval = 200 * time.Millisecond
)

// FeeOptions override the locally assembled gas and fee fields.
type FeeOptions struct {
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
}

func (o FeeOptions) withDefaults() FeeOptions {
	if o.GasMultiplier <= 1 {
		o.GasMultiplier = 1.2
	}
	return o
}

// ResolveChainIDFromRPC asks the node behind rpcURL for its chain ID.
func ResolveChainIDFromRPC(ctx context.Context, rpcURL string) (int64, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	return chainID.Int64(), nil
}

// fillTransaction completes req against the node: chain ID, nonce, gas and
// EIP-1559 fees. Fields the caller already set are kept.
func fillTransaction(ctx context.Context, client *ethclient.Client, from common.Address, network string, req account.TransactionRequest, opts FeeOptions) (*types.Transaction, error) {
	opts = opts.withDefaults()
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if !common.IsHexAddress(req.To) {
		return nil, clierr.Newf(clierr.CodeUsage, "invalid transaction target %q", req.To)
	}
	target := common.HexToAddress(req.To)
	data, err := account.DecodeHex(req.Data)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "decode calldata", err)
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	var nonce uint64
	if req.Nonce != nil {
		nonce = *req.Nonce
	} else if nonce, err = client.PendingNonceAt(ctx, from); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	gasLimit := req.Gas
	if gasLimit == 0 {
		estimate, err := client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &target, Value: value, Data: data})
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "estimate gas", err)
		}
		gasLimit = uint64(float64(estimate) * opts.GasMultiplier)
	}

	tipCap := req.MaxPriorityFeePerGas
	if tipCap == nil {
		if tipCap, err = resolveTipCap(ctx, client, opts.MaxPriorityFeeGwei); err != nil {
			return nil, err
		}
	}
	feeCap := req.MaxFeePerGas
	if feeCap == nil {
		if feeCap, err = resolveFeeCap(ctx, client, network, tipCap, opts.MaxFeeGwei); err != nil {
			return nil, err
		}
	}

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &target,
		Value:     value,
		Data:      data,
	}), nil
}

func resolveTipCap(ctx context.Context, client *ethclient.Client, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

// resolveFeeCap prices against the latest base fee. Proof-of-authority
// chains are priced from eth_gasPrice instead.
func resolveFeeCap(ctx context.Context, client *ethclient.Client, network string, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	if registry.IsPoANetwork(network) {
		gasPrice, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch gas price", err)
		}
		return new(big.Int).Add(gasPrice, tipCap), nil
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	return feeCap.Add(feeCap, tipCap), nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}

// waitForReceipt polls until the receipt exists. A reverted receipt is
// returned as is; timing out yields CodeTimeout.
func waitForReceipt(ctx context.Context, client *ethclient.Client, hash common.Hash, opts account.WaitOptions) (*types.Receipt, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultReceiptTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultReceiptInterval
	}
	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for {
		// Not-found and transient polling errors are retried until the deadline.
		receipt, err := client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, clierr.Wrap(clierr.CodeUnavailable, "wait cancelled", ctx.Err())
			}
			return nil, clierr.Wrap(clierr.CodeTimeout, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}
