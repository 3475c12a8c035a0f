package platform

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
)

// Transfer statuses reported by the payments API.
const (
	TransferQuoted    = "quoted"
	TransferPending   = "pending"
	TransferCompleted = "completed"
	TransferFailed    = "failed"
)

type PaymentMethod struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Currency string   `json:"currency"`
	Actions  []string `json:"actions"`
}

type TransferTarget struct {
	Network  string `json:"network"`
	Address  string `json:"address"`
	Currency string `json:"currency"`
}

type TransferFee struct {
	Type     string `json:"type"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type Transfer struct {
	ID              string         `json:"id"`
	Status          string         `json:"status"`
	SourceAmount    string         `json:"sourceAmount"`
	SourceCurrency  string         `json:"sourceCurrency"`
	TargetAmount    string         `json:"targetAmount"`
	TargetCurrency  string         `json:"targetCurrency"`
	Target          TransferTarget `json:"target"`
	Fees            []TransferFee  `json:"fees,omitempty"`
	TransactionHash string         `json:"transactionHash,omitempty"`
}

// FundRequest asks for crypto to be bought with a payment method and
// delivered to an address.
type FundRequest struct {
	PaymentMethodID string
	Address         string
	Network         string
	Token           string
	Amount          string
	Execute         bool
}

func (c *Client) ListPaymentMethods(ctx context.Context) ([]PaymentMethod, error) {
	var out struct {
		PaymentMethods []PaymentMethod `json:"paymentMethods"`
	}
	if err := c.DoJSON(ctx, http.MethodGet, "/v2/payments/payment-methods", nil, "", &out); err != nil {
		return nil, err
	}
	return out.PaymentMethods, nil
}

// CreateTransfer quotes a fund transfer, executing it immediately when
// req.Execute is set.
func (c *Client) CreateTransfer(ctx context.Context, req FundRequest, idempotencyKey string) (*Transfer, error) {
	if req.PaymentMethodID == "" {
		return nil, clierr.New(clierr.CodeUsage, "payment method id is required")
	}
	body := map[string]any{
		"sourceType": "payment_method",
		"source":     map[string]string{"id": req.PaymentMethodID},
		"targetType": "crypto_rail",
		"target": TransferTarget{
			Network:  req.Network,
			Address:  req.Address,
			Currency: strings.ToLower(req.Token),
		},
		"amount":   req.Amount,
		"currency": strings.ToLower(req.Token),
		"execute":  req.Execute,
	}
	var transfer Transfer
	if err := c.DoJSON(ctx, http.MethodPost, "/v2/payments/transfers", body, idempotencyKey, &transfer); err != nil {
		return nil, err
	}
	if transfer.ID == "" {
		return nil, clierr.New(clierr.CodeMalformedResponse, "platform response missing transfer id")
	}
	return &transfer, nil
}

func (c *Client) ExecuteTransfer(ctx context.Context, id, idempotencyKey string) (*Transfer, error) {
	var transfer Transfer
	path := "/v2/payments/transfers/" + url.PathEscape(id) + "/execute"
	if err := c.DoJSON(ctx, http.MethodPost, path, nil, idempotencyKey, &transfer); err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (c *Client) GetTransfer(ctx context.Context, id string) (*Transfer, error) {
	var transfer Transfer
	if err := c.DoJSON(ctx, http.MethodGet, "/v2/payments/transfers/"+url.PathEscape(id), nil, "", &transfer); err != nil {
		return nil, err
	}
	return &transfer, nil
}
