package app

import (
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/cdp-cli/internal/auth"
	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/model"
)

func (s *runtimeState) newAuthCommand() *cobra.Command {
	root := &cobra.Command{Use: "auth", Short: "Mint Platform bearer and wallet tokens"}

	var method, path, host string
	var expiresIn int64
	token := &cobra.Command{
		Use:   "token",
		Short: "Mint a request token bound to one method, host and path",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, p, err := s.resolveTarget(host, path)
			if err != nil {
				return err
			}
			ttl := s.settings.ExpiresIn
			if expiresIn > 0 {
				ttl = expiresIn
			}
			jwt, err := auth.BuildRequestJWT(auth.RequestOptions{
				KeyID:     s.settings.APIKeyID,
				KeySecret: s.settings.APIKeySecret,
				Method:    method,
				Host:      h,
				Path:      p,
				ExpiresIn: ttl,
			})
			if err != nil {
				return missingCredential(err, s.settings.APIKeyID == "" || s.settings.APIKeySecret == "", "CDP_API_KEY_ID and CDP_API_KEY_SECRET")
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), model.Token{
				Kind:      "request",
				Token:     jwt,
				URI:       auth.URI(method, h, p),
				ExpiresAt: s.runner.now().UTC().Add(time.Duration(ttl) * time.Second).Format(time.RFC3339),
			}, nil, cacheMetaBypass())
		},
	}
	token.Flags().StringVar(&method, "method", "GET", "HTTP method the token is bound to")
	token.Flags().StringVar(&path, "path", "", "Request path, relative to the base path or absolute")
	token.Flags().StringVar(&host, "host", "", "Host bound into the token (defaults to the base path host)")
	token.Flags().Int64Var(&expiresIn, "expires-in", 0, "Token lifetime in seconds")
	_ = token.MarkFlagRequired("path")

	var wMethod, wPath, wHost, body string
	wallet := &cobra.Command{
		Use:   "wallet-token",
		Short: "Mint an X-Wallet-Auth token bound to a call and its body",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(s.settings.WalletSecret) == "" {
				return clierr.New(clierr.CodeMissingCredential, "wallet secret is required (set CDP_WALLET_SECRET)")
			}
			h, p, err := s.resolveTarget(wHost, wPath)
			if err != nil {
				return err
			}
			var decoded map[string]any
			if strings.TrimSpace(body) != "" {
				if decoded, err = auth.DecodeBody([]byte(body)); err != nil {
					return clierr.Wrap(clierr.CodeUsage, "parse --body", err)
				}
			}
			jwt, err := auth.BuildWalletJWT(auth.WalletOptions{
				WalletSecret: s.settings.WalletSecret,
				Method:       wMethod,
				Host:         h,
				Path:         p,
				Body:         decoded,
			})
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), model.Token{
				Kind:  "wallet",
				Token: jwt,
				URI:   auth.URI(wMethod, h, p),
			}, nil, cacheMetaBypass())
		},
	}
	wallet.Flags().StringVar(&wMethod, "method", "POST", "HTTP method the token is bound to")
	wallet.Flags().StringVar(&wPath, "path", "", "Request path, relative to the base path or absolute")
	wallet.Flags().StringVar(&wHost, "host", "", "Host bound into the token (defaults to the base path host)")
	wallet.Flags().StringVar(&body, "body", "", "JSON request body the token covers")
	_ = wallet.MarkFlagRequired("path")

	root.AddCommand(token, wallet)
	return root
}

// resolveTarget fills the host from the base path and prefixes relative
// paths with the base path's own path.
func (s *runtimeState) resolveTarget(host, path string) (string, string, error) {
	base, err := url.Parse(s.settings.BasePath)
	if err != nil || base.Host == "" {
		return "", "", clierr.Wrap(clierr.CodeUsage, "invalid base path", err)
	}
	if strings.TrimSpace(host) == "" {
		host = base.Host
		if s.settings.HostOverride != "" {
			host = s.settings.HostOverride
		}
	}
	path = "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
	prefix := strings.TrimRight(base.Path, "/")
	if prefix != "" && !strings.HasPrefix(path, prefix+"/") {
		path = prefix + path
	}
	return host, path, nil
}

// missingCredential upgrades a usage error to CodeMissingCredential when the
// cause is an unset credential.
func missingCredential(err error, missing bool, names string) error {
	if missing && clierr.Is(err, clierr.CodeUsage) {
		return clierr.Newf(clierr.CodeMissingCredential, "api credentials are required (set %s)", names)
	}
	return err
}
