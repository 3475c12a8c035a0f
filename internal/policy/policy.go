// Package policy decides which CLI commands may run in the current session.
package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
)

// Policy restricts command execution. The zero value allows everything.
type Policy struct {
	// Allow lists permitted command paths. A path also permits its
	// subcommands, so "swaps" allows "swaps list".
	Allow []string
	// ReadOnly blocks every command that signs or moves funds.
	ReadOnly bool
}

// signingCommands produce signatures or submit transactions.
var signingCommands = []string{
	"auth wallet-token",
	"swap execute",
	"network send",
	"network faucet",
}

// IsSigning reports whether commandPath signs or moves funds.
func IsSigning(commandPath string) bool {
	return matchesAny(signingCommands, commandPath)
}

func (p Policy) Check(commandPath string) error {
	if p.ReadOnly && IsSigning(commandPath) {
		return clierr.Newf(clierr.CodeBlocked, "%s is blocked in read-only mode", normalize(commandPath))
	}
	if len(p.Allow) == 0 || matchesAny(p.Allow, commandPath) {
		return nil
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

func matchesAny(prefixes []string, commandPath string) bool {
	path := normalize(commandPath)
	for _, p := range prefixes {
		p = normalize(p)
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, p+" ") {
			return true
		}
	}
	return false
}

func normalize(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(v))), " ")
}
