package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
)

// EvmCall is a single contract call inside a user operation.
type EvmCall struct {
	To    string `json:"to"`
	Value string `json:"value"`
	Data  string `json:"data"`
}

// TypedData is an EIP-712 payload as accepted by the typed-data signer.
type TypedData struct {
	Domain      map[string]any              `json:"domain"`
	Types       map[string][]TypedDataField `json:"types"`
	PrimaryType string                      `json:"primaryType"`
	Message     map[string]any              `json:"message"`
}

type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// UserOperation statuses reported by the Platform.
const (
	UserOpPending   = "pending"
	UserOpSigned    = "signed"
	UserOpBroadcast = "broadcast"
	UserOpComplete  = "complete"
	UserOpFailed    = "failed"
)

type UserOperation struct {
	Network         string    `json:"network"`
	UserOpHash      string    `json:"userOpHash"`
	Calls           []EvmCall `json:"calls"`
	Status          string    `json:"status"`
	TransactionHash string    `json:"transactionHash,omitempty"`
}

type TokenBalance struct {
	Amount struct {
		Amount   string `json:"amount"`
		Decimals int    `json:"decimals"`
	} `json:"amount"`
	Token struct {
		Network         string `json:"network"`
		Symbol          string `json:"symbol,omitempty"`
		Name            string `json:"name,omitempty"`
		ContractAddress string `json:"contractAddress"`
	} `json:"token"`
}

type TokenBalancesPage struct {
	Balances      []TokenBalance `json:"balances"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

// SwapQuoteRequest is the wire body of the swap quote call.
type SwapQuoteRequest struct {
	Network     string `json:"network"`
	ToToken     string `json:"toToken"`
	FromToken   string `json:"fromToken"`
	FromAmount  string `json:"fromAmount"`
	Taker       string `json:"taker"`
	SlippageBps int    `json:"slippageBps"`
}

func accountPath(address, suffix string) string {
	return "/v2/evm/accounts/" + url.PathEscape(address) + suffix
}

func smartAccountPath(address, suffix string) string {
	return "/v2/evm/smart-accounts/" + url.PathEscape(address) + suffix
}

// CreateSwapQuote returns the raw quote body so callers can classify
// empty or non-JSON responses themselves.
func (c *Client) CreateSwapQuote(ctx context.Context, req SwapQuoteRequest, idempotencyKey string) ([]byte, error) {
	return c.Do(ctx, http.MethodPost, "/v2/evm/swaps", req, idempotencyKey)
}

func (c *Client) SignTypedData(ctx context.Context, address string, data TypedData, idempotencyKey string) (string, error) {
	var out struct {
		Signature string `json:"signature"`
	}
	if err := c.DoJSON(ctx, http.MethodPost, accountPath(address, "/sign/typed-data"), data, idempotencyKey, &out); err != nil {
		return "", err
	}
	return requireField("signature", out.Signature)
}

func (c *Client) SignHash(ctx context.Context, address, hash, idempotencyKey string) (string, error) {
	var out struct {
		Signature string `json:"signature"`
	}
	body := map[string]string{"hash": hash}
	if err := c.DoJSON(ctx, http.MethodPost, accountPath(address, "/sign/hash"), body, idempotencyKey, &out); err != nil {
		return "", err
	}
	return requireField("signature", out.Signature)
}

// SignTransaction signs an RLP-encoded unsigned transaction and returns the
// signed encoding.
func (c *Client) SignTransaction(ctx context.Context, address, transaction, idempotencyKey string) (string, error) {
	var out struct {
		SignedTransaction string `json:"signedTransaction"`
	}
	body := map[string]string{"transaction": transaction}
	if err := c.DoJSON(ctx, http.MethodPost, accountPath(address, "/sign/transaction"), body, idempotencyKey, &out); err != nil {
		return "", err
	}
	return requireField("signedTransaction", out.SignedTransaction)
}

// SendTransaction signs and broadcasts an RLP-encoded transaction through
// the Platform's managed node for network.
func (c *Client) SendTransaction(ctx context.Context, address, network, transaction, idempotencyKey string) (string, error) {
	var out struct {
		TransactionHash string `json:"transactionHash"`
	}
	body := map[string]string{"network": network, "transaction": transaction}
	if err := c.DoJSON(ctx, http.MethodPost, accountPath(address, "/send/transaction"), body, idempotencyKey, &out); err != nil {
		return "", err
	}
	return requireField("transactionHash", out.TransactionHash)
}

func (c *Client) PrepareUserOperation(ctx context.Context, smartAccount, network string, calls []EvmCall, paymasterURL, idempotencyKey string) (*UserOperation, error) {
	body := map[string]any{"network": network, "calls": calls}
	if paymasterURL != "" {
		body["paymasterUrl"] = paymasterURL
	}
	var op UserOperation
	if err := c.DoJSON(ctx, http.MethodPost, smartAccountPath(smartAccount, "/user-operations"), body, idempotencyKey, &op); err != nil {
		return nil, err
	}
	if op.UserOpHash == "" {
		return nil, clierr.New(clierr.CodeMalformedResponse, "platform response missing userOpHash")
	}
	return &op, nil
}

func (c *Client) SendUserOperation(ctx context.Context, smartAccount, userOpHash, signature, idempotencyKey string) (*UserOperation, error) {
	var op UserOperation
	body := map[string]string{"signature": signature}
	path := smartAccountPath(smartAccount, "/user-operations/"+url.PathEscape(userOpHash)+"/send")
	if err := c.DoJSON(ctx, http.MethodPost, path, body, idempotencyKey, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

func (c *Client) GetUserOperation(ctx context.Context, smartAccount, userOpHash string) (*UserOperation, error) {
	var op UserOperation
	path := smartAccountPath(smartAccount, "/user-operations/"+url.PathEscape(userOpHash))
	if err := c.DoJSON(ctx, http.MethodGet, path, nil, "", &op); err != nil {
		return nil, err
	}
	return &op, nil
}

func (c *Client) RequestFaucet(ctx context.Context, address, network, token string) (string, error) {
	var out struct {
		TransactionHash string `json:"transactionHash"`
	}
	body := map[string]string{"address": address, "network": network, "token": token}
	if err := c.DoJSON(ctx, http.MethodPost, "/v2/evm/faucet", body, "", &out); err != nil {
		return "", err
	}
	return requireField("transactionHash", out.TransactionHash)
}

func (c *Client) ListTokenBalances(ctx context.Context, address, network string, pageSize int, pageToken string) (*TokenBalancesPage, error) {
	query := url.Values{}
	if pageSize > 0 {
		query.Set("pageSize", strconv.Itoa(pageSize))
	}
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}
	path := "/v2/evm/token-balances/" + url.PathEscape(network) + "/" + url.PathEscape(address)
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var page TokenBalancesPage
	if err := c.DoJSON(ctx, http.MethodGet, path, nil, "", &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func requireField(name, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", clierr.New(clierr.CodeMalformedResponse, fmt.Sprintf("platform response missing %s", name))
	}
	return value, nil
}
