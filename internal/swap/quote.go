package swap

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/platform"
)

const (
	DefaultSlippageBps = 100
	MaxSlippageBps     = 10000

	defaultPermit2PrimaryType = "PermitTransferFrom"
)

// QuoteAPI is the part of the Platform client the quote builder needs.
type QuoteAPI interface {
	CreateSwapQuote(ctx context.Context, req platform.SwapQuoteRequest, idempotencyKey string) ([]byte, error)
}

type QuoteRequest struct {
	FromToken  string
	ToToken    string
	FromAmount string
	Network    string
	Taker      string
	// SlippageBps of zero selects DefaultSlippageBps.
	SlippageBps    int
	IdempotencyKey string
}

// Permit2 is the typed-data approval a quote may require before its calldata
// is valid.
type Permit2 struct {
	EIP712 *platform.TypedData `json:"eip712"`
	Hash   string              `json:"hash"`
}

// Quote is an executable swap route. It is immutable once built; Bind only
// attaches the account that Execute will use.
type Quote struct {
	QuoteID              string   `json:"quote_id"`
	FromToken            string   `json:"from_token"`
	ToToken              string   `json:"to_token"`
	FromAmount           string   `json:"from_amount"`
	ToAmount             string   `json:"to_amount"`
	MinToAmount          string   `json:"min_to_amount"`
	To                   string   `json:"to"`
	Data                 string   `json:"data"`
	Value                string   `json:"value"`
	GasLimit             uint64   `json:"gas_limit,omitempty"`
	GasPrice             string   `json:"gas_price,omitempty"`
	MaxFeePerGas         string   `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas string   `json:"max_priority_fee_per_gas,omitempty"`
	Network              string   `json:"network"`
	Taker                string   `json:"taker"`
	SlippageBps          int      `json:"slippage_bps"`
	Permit2              *Permit2 `json:"permit2,omitempty"`
	RequiresSignature    bool     `json:"requires_signature"`

	actor    Sender
	executed bool
}

type wireQuote struct {
	LiquidityAvailable bool   `json:"liquidityAvailable"`
	ToAmount           string `json:"toAmount"`
	MinToAmount        string `json:"minToAmount"`
	Transaction        *struct {
		To                   string `json:"to"`
		Data                 string `json:"data"`
		Value                string `json:"value"`
		Gas                  string `json:"gas"`
		GasPrice             string `json:"gasPrice"`
		MaxFeePerGas         string `json:"maxFeePerGas"`
		MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	} `json:"transaction"`
	Permit2 *struct {
		EIP712 *platform.TypedData `json:"eip712"`
		Hash   string              `json:"hash"`
	} `json:"permit2"`
}

// CreateQuote asks the Platform for a swap route. A well-formed response
// without liquidity fails with CodeLiquidity; an empty or non-JSON body
// fails with CodeMalformedResponse.
func CreateQuote(ctx context.Context, api QuoteAPI, req QuoteRequest) (*Quote, error) {
	required := []struct{ name, value string }{
		{"from token", req.FromToken},
		{"to token", req.ToToken},
		{"from amount", req.FromAmount},
		{"network", req.Network},
		{"taker", req.Taker},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, clierr.New(clierr.CodeUsage, r.name+" is required")
		}
	}
	slippage := req.SlippageBps
	if slippage == 0 {
		slippage = DefaultSlippageBps
	}
	if slippage < 0 || slippage > MaxSlippageBps {
		return nil, clierr.Newf(clierr.CodeUsage, "slippage must be between 0 and %d bps", MaxSlippageBps)
	}

	fromToken := strings.ToLower(strings.TrimSpace(req.FromToken))
	toToken := strings.ToLower(strings.TrimSpace(req.ToToken))
	taker := strings.ToLower(strings.TrimSpace(req.Taker))
	fromAmount := strings.TrimSpace(req.FromAmount)
	network := strings.ToLower(strings.TrimSpace(req.Network))

	raw, err := api.CreateSwapQuote(ctx, platform.SwapQuoteRequest{
		Network:     network,
		ToToken:     toToken,
		FromToken:   fromToken,
		FromAmount:  fromAmount,
		Taker:       taker,
		SlippageBps: slippage,
	}, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, clierr.New(clierr.CodeMalformedResponse, "empty response from swap quote")
	}
	var wire wireQuote
	if err := decodeNumbers(raw, &wire); err != nil {
		return nil, clierr.Wrap(clierr.CodeMalformedResponse, "invalid json from swap quote", err)
	}
	if !wire.LiquidityAvailable {
		return nil, clierr.New(clierr.CodeLiquidity, "swap unavailable: insufficient liquidity")
	}
	if wire.Transaction == nil || wire.Transaction.To == "" {
		return nil, clierr.New(clierr.CodeMalformedResponse, "swap quote missing transaction")
	}

	tx := wire.Transaction
	quote := &Quote{
		QuoteID:              QuoteID(fromToken, toToken, fromAmount, wire.ToAmount, network),
		FromToken:            fromToken,
		ToToken:              toToken,
		FromAmount:           fromAmount,
		ToAmount:             wire.ToAmount,
		MinToAmount:          wire.MinToAmount,
		To:                   tx.To,
		Data:                 tx.Data,
		Value:                tx.Value,
		GasPrice:             tx.GasPrice,
		MaxFeePerGas:         tx.MaxFeePerGas,
		MaxPriorityFeePerGas: tx.MaxPriorityFeePerGas,
		Network:              network,
		Taker:                taker,
		SlippageBps:          slippage,
	}
	if quote.Value == "" {
		quote.Value = "0"
	}
	if tx.Gas != "" {
		gas, err := strconv.ParseUint(tx.Gas, 10, 64)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeMalformedResponse, "parse quote gas limit", err)
		}
		quote.GasLimit = gas
	}
	if wire.Permit2 != nil && wire.Permit2.EIP712 != nil {
		eip712 := wire.Permit2.EIP712
		if eip712.PrimaryType == "" {
			eip712.PrimaryType = defaultPermit2PrimaryType
		}
		quote.Permit2 = &Permit2{EIP712: eip712, Hash: wire.Permit2.Hash}
		quote.RequiresSignature = true
	}
	return quote, nil
}

// QuoteID is the first 16 hex characters of the SHA-256 of the colon-joined
// route tuple. Identical routes always share an ID. CreateQuote passes
// lowercased tokens and network, so case variants of one route share an ID
// too.
func QuoteID(fromToken, toToken, fromAmount, toAmount, network string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{fromToken, toToken, fromAmount, toAmount, network}, ":")))
	return hex.EncodeToString(sum[:])[:16]
}

// DecodeQuote restores a quote serialised with json.Marshal, keeping large
// typed-data integers exact.
func DecodeQuote(raw []byte) (*Quote, error) {
	var q Quote
	if err := decodeNumbers(raw, &q); err != nil {
		return nil, clierr.Wrap(clierr.CodeMalformedResponse, "decode quote", err)
	}
	if q.QuoteID == "" || q.To == "" {
		return nil, clierr.New(clierr.CodeMalformedResponse, "decoded quote is incomplete")
	}
	return &q, nil
}

// Bind attaches the account that Execute sends from.
func (q *Quote) Bind(actor Sender) *Quote {
	q.actor = actor
	return q
}

// Execute runs the quote through the plain-account strategy with the bound
// account. A quote executes at most once.
func (q *Quote) Execute(ctx context.Context) (*Result, error) {
	if q.actor == nil {
		return nil, clierr.New(clierr.CodeUsage, "quote is not bound to an account")
	}
	if q.executed {
		return nil, clierr.Newf(clierr.CodeUsage, "quote %s was already executed", q.QuoteID)
	}
	q.executed = true
	return NewAccountStrategy(q.actor).Execute(ctx, q, ExecuteOptions{})
}

func decodeNumbers(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}
