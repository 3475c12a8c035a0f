package account

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ggonzalez94/cdp-cli/internal/platform"
)

// Addressable is anything that acts on-chain from one address.
type Addressable interface {
	Address() string
}

// TypedDataSigner signs EIP-712 payloads and returns a 0x-prefixed signature.
type TypedDataSigner interface {
	Addressable
	SignTypedData(ctx context.Context, data platform.TypedData) (string, error)
}

// HashSigner signs a raw 32-byte digest.
type HashSigner interface {
	Addressable
	SignHash(ctx context.Context, hash, idempotencyKey string) (string, error)
}

// Owner is what a smart account needs from its controlling key.
type Owner interface {
	TypedDataSigner
	HashSigner
}

// TransactionSender submits a transaction on a named network.
type TransactionSender interface {
	Addressable
	SendTransaction(ctx context.Context, req TransactionRequest, network, idempotencyKey string) (string, error)
}

// TransactionSigner signs a fully populated transaction without broadcasting.
type TransactionSigner interface {
	Addressable
	SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
}

// UserOperationSender submits and tracks smart-account user operations.
type UserOperationSender interface {
	Addressable
	OwnerSigner() TypedDataSigner
	SendUserOperation(ctx context.Context, req UserOperationRequest) (*platform.UserOperation, error)
	WaitForUserOperation(ctx context.Context, userOpHash string, opts WaitOptions) (*platform.UserOperation, error)
}

// TransactionRequest is an EVM transaction as callers describe it. Zero
// values mean "let the sender fill it in".
type TransactionRequest struct {
	To                   string
	Data                 string
	Value                *big.Int
	Gas                  uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Nonce                *uint64
}

type UserOperationRequest struct {
	Calls          []platform.EvmCall
	Network        string
	PaymasterURL   string
	IdempotencyKey string
}

// WaitOptions bounds a polling loop.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

const (
	DefaultWaitTimeout  = 30 * time.Second
	DefaultWaitInterval = 200 * time.Millisecond
)

func (o WaitOptions) withDefaults() WaitOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultWaitTimeout
	}
	if o.Interval <= 0 {
		o.Interval = DefaultWaitInterval
	}
	return o
}
