package swap

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"

	"github.com/ggonzalez94/cdp-cli/internal/account"
	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/platform"
)

// Swap result statuses. Platform user-operation states are mapped onto
// these; "complete" never leaks through.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Sender is a plain account able to execute a quote.
type Sender interface {
	account.TransactionSender
	account.TypedDataSigner
}

// Strategy executes a quote from one account.
type Strategy interface {
	Address() string
	Execute(ctx context.Context, q *Quote, opts ExecuteOptions) (*Result, error)
}

type ExecuteOptions struct {
	IdempotencyKey string
	PaymasterURL   string
	Wait           account.WaitOptions
}

type Result struct {
	QuoteID         string `json:"quote_id"`
	TransactionHash string `json:"transaction_hash,omitempty"`
	UserOpHash      string `json:"user_op_hash,omitempty"`
	FromToken       string `json:"from_token"`
	ToToken         string `json:"to_token"`
	FromAmount      string `json:"from_amount"`
	ToAmount        string `json:"to_amount"`
	Network         string `json:"network"`
	Status          string `json:"status"`
	// WaitTimedOut marks a failed status that only means the user-operation
	// wait gave up; the operation may still land.
	WaitTimedOut    bool   `json:"wait_timed_out,omitempty"`
}

func resultFor(q *Quote) *Result {
	return &Result{
		QuoteID:    q.QuoteID,
		FromToken:  q.FromToken,
		ToToken:    q.ToToken,
		FromAmount: q.FromAmount,
		ToAmount:   q.ToAmount,
		Network:    q.Network,
	}
}

// AccountStrategy sends the swap as one transaction. It reports completed
// as soon as the Platform accepts the transaction; confirmation is left to
// the caller.
type AccountStrategy struct {
	acct Sender
}

func NewAccountStrategy(acct Sender) *AccountStrategy {
	return &AccountStrategy{acct: acct}
}

func (s *AccountStrategy) Address() string { return s.acct.Address() }

func (s *AccountStrategy) Execute(ctx context.Context, q *Quote, opts ExecuteOptions) (*Result, error) {
	calldata, err := ApplyPermit2(ctx, q, s.acct)
	if err != nil {
		return nil, err
	}
	req, err := transactionFor(q, calldata)
	if err != nil {
		return nil, err
	}
	hash, err := s.acct.SendTransaction(ctx, req, q.Network, opts.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	res := resultFor(q)
	res.TransactionHash = hash
	res.Status = StatusCompleted
	return res, nil
}

// SmartAccountStrategy sends the swap as a single-call user operation and
// blocks until it resolves or the wait times out. Permit2 is signed by the
// account's owner.
type SmartAccountStrategy struct {
	acct account.UserOperationSender
}

func NewSmartAccountStrategy(acct account.UserOperationSender) *SmartAccountStrategy {
	return &SmartAccountStrategy{acct: acct}
}

func (s *SmartAccountStrategy) Address() string { return s.acct.Address() }

func (s *SmartAccountStrategy) Execute(ctx context.Context, q *Quote, opts ExecuteOptions) (*Result, error) {
	calldata, err := ApplyPermit2(ctx, q, s.acct.OwnerSigner())
	if err != nil {
		return nil, err
	}
	value, ok := math.ParseBig256(q.Value)
	if !ok {
		return nil, clierr.Newf(clierr.CodeMalformedResponse, "invalid quote value %q", q.Value)
	}
	sent, err := s.acct.SendUserOperation(ctx, account.UserOperationRequest{
		Calls:          []platform.EvmCall{{To: q.To, Data: calldata, Value: value.String()}},
		Network:        q.Network,
		PaymasterURL:   opts.PaymasterURL,
		IdempotencyKey: opts.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	res := resultFor(q)
	res.UserOpHash = sent.UserOpHash

	op, err := s.acct.WaitForUserOperation(ctx, sent.UserOpHash, opts.Wait)
	switch {
	case clierr.Is(err, clierr.CodeTimeout):
		res.Status = StatusFailed
		res.WaitTimedOut = true
	case err != nil:
		return nil, err
	default:
		res.Status = StatusFromUserOperation(op.Status)
	}
	if op != nil {
		res.TransactionHash = op.TransactionHash
	}
	return res, nil
}

// StatusFromUserOperation maps a Platform user-operation status onto the
// swap status vocabulary.
func StatusFromUserOperation(status string) string {
	switch status {
	case platform.UserOpComplete:
		return StatusCompleted
	case platform.UserOpFailed:
		return StatusFailed
	default:
		return StatusPending
	}
}

func transactionFor(q *Quote, calldata string) (account.TransactionRequest, error) {
	req := account.TransactionRequest{To: q.To, Data: calldata, Gas: q.GasLimit}
	var err error
	if req.Value, err = parseQuoteInt("value", q.Value); err != nil {
		return req, err
	}
	if req.MaxFeePerGas, err = parseQuoteInt("maxFeePerGas", q.MaxFeePerGas); err != nil {
		return req, err
	}
	if req.MaxPriorityFeePerGas, err = parseQuoteInt("maxPriorityFeePerGas", q.MaxPriorityFeePerGas); err != nil {
		return req, err
	}
	return req, nil
}

// parseQuoteInt accepts decimal or 0x-hex; an empty field stays nil.
func parseQuoteInt(name, v string) (*big.Int, error) {
	if v == "" {
		return nil, nil
	}
	n, ok := math.ParseBig256(v)
	if !ok {
		return nil, clierr.Newf(clierr.CodeMalformedResponse, "invalid quote %s %q", name, v)
	}
	return n, nil
}
