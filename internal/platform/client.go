package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/cdp-cli/internal/auth"
	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/httpx"
)

const (
	DefaultBasePath       = "https://api.cdp.coinbase.com/platform"
	HeaderAuthorization   = "Authorization"
	HeaderWalletAuth      = "X-Wallet-Auth"
	HeaderIdempotencyKey  = "X-Idempotency-Key"
	defaultTimeout        = 30 * time.Second
	defaultRequestRetries = 2
)

// walletPathMarkers select the calls that must carry a wallet token.
var walletPathMarkers = []string{"/accounts", "/spend-permissions", "/user-operations/prepare-and-send"}

type Config struct {
	APIKeyID     string
	APIKeySecret string
	WalletSecret string
	BasePath     string
	// HostOverride replaces the Host header and the host bound into tokens.
	HostOverride string
	ExpiresIn    int64
	Timeout      time.Duration
	Retries      int
	Logger       logrus.FieldLogger
	HTTPClient   *http.Client
}

// Client issues authenticated calls against the Platform REST API.
type Client struct {
	cfg  Config
	base *url.URL
	http *httpx.Client
	log  logrus.FieldLogger
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKeyID) == "" || strings.TrimSpace(cfg.APIKeySecret) == "" {
		return nil, clierr.New(clierr.CodeMissingCredential, "api key id and secret are required")
	}
	if cfg.BasePath == "" {
		cfg.BasePath = DefaultBasePath
	}
	base, err := url.Parse(strings.TrimRight(cfg.BasePath, "/"))
	if err != nil || base.Host == "" {
		return nil, clierr.Wrap(clierr.CodeUsage, "invalid base path", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = defaultRequestRetries
	}
	log := cfg.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	c := &Client{cfg: cfg, base: base, log: log}
	editors := []httpx.RequestEditor{}
	if cfg.HostOverride != "" {
		editors = append(editors, c.hostOverrideEditor)
	}
	editors = append(editors, c.apiKeyEditor, c.walletEditor)
	c.http = httpx.New(cfg.Timeout, cfg.Retries,
		httpx.WithEditors(editors...),
		httpx.WithLogger(log),
		httpx.WithHTTPClient(cfg.HTTPClient),
	)
	return c, nil
}

func (c *Client) Logger() logrus.FieldLogger { return c.log }

// HasWalletSecret reports whether mutating wallet calls can be authenticated.
func (c *Client) HasWalletSecret() bool { return strings.TrimSpace(c.cfg.WalletSecret) != "" }

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

func (c *Client) requestHost(req *http.Request) string {
	if c.cfg.HostOverride != "" {
		return c.cfg.HostOverride
	}
	if req.Host != "" {
		return req.Host
	}
	return req.URL.Host
}

func (c *Client) hostOverrideEditor(_ context.Context, req *http.Request) error {
	req.Host = c.cfg.HostOverride
	return nil
}

func (c *Client) apiKeyEditor(_ context.Context, req *http.Request) error {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	token, err := auth.BuildRequestJWT(auth.RequestOptions{
		KeyID:     c.cfg.APIKeyID,
		KeySecret: c.cfg.APIKeySecret,
		Method:    method,
		Host:      c.requestHost(req),
		Path:      req.URL.Path,
		ExpiresIn: c.cfg.ExpiresIn,
	})
	if err != nil {
		return clierr.Wrap(clierr.CodeAuth, "generate request token", err)
	}
	req.Header.Set(HeaderAuthorization, "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return nil
}

// RequiresWalletAuth reports whether a call must carry an X-Wallet-Auth token.
func RequiresWalletAuth(method, path string) bool {
	if method != http.MethodPost && method != http.MethodDelete {
		return false
	}
	for _, marker := range walletPathMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}

func (c *Client) walletEditor(_ context.Context, req *http.Request) error {
	if !RequiresWalletAuth(req.Method, req.URL.Path) {
		return nil
	}
	var raw []byte
	if req.Body != nil {
		var err error
		raw, err = io.ReadAll(req.Body)
		if err != nil {
			return clierr.Wrap(clierr.CodeInternal, "read request body", err)
		}
		_ = req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(raw))
	}
	body, err := auth.DecodeBody(raw)
	if err != nil {
		return err
	}
	token, err := auth.BuildWalletJWT(auth.WalletOptions{
		WalletSecret: c.cfg.WalletSecret,
		Method:       req.Method,
		Host:         c.requestHost(req),
		Path:         req.URL.Path,
		Body:         body,
	})
	if err != nil {
		if clierr.Is(err, clierr.CodeMissingCredential) {
			return err
		}
		return clierr.Wrap(clierr.CodeAuth, "generate wallet token", err)
	}
	req.Header.Set(HeaderWalletAuth, token)
	return nil
}

// Do sends one call and returns the raw response body.
func (c *Client) Do(ctx context.Context, method, path string, body any, idempotencyKey string) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "encode request body", err)
		}
	}
	req, err := httpx.NewRequest(ctx, method, c.endpoint(path), payload, map[string]string{
		HeaderIdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"method": method, "path": path}).Debug("platform request")
	buf, _, err := c.http.Do(ctx, req)
	return buf, err
}

// DoJSON sends one call and decodes the response into out.
func (c *Client) DoJSON(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	buf, err := c.Do(ctx, method, path, body, idempotencyKey)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return clierr.New(clierr.CodeMalformedResponse, "platform returned empty response")
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return clierr.Wrap(clierr.CodeMalformedResponse, "decode platform JSON", err)
	}
	return nil
}
