package swap

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ggonzalez94/cdp-cli/internal/account"
	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
)

// ApplyPermit2 returns the calldata to submit for q. When the quote needs a
// Permit2 approval, signer signs it and the signature is appended to the
// calldata; otherwise the calldata is returned as is.
func ApplyPermit2(ctx context.Context, q *Quote, signer account.TypedDataSigner) (string, error) {
	if !q.RequiresSignature {
		return q.Data, nil
	}
	if q.Permit2 == nil || q.Permit2.EIP712 == nil {
		return "", clierr.New(clierr.CodeMalformedResponse, "quote requires a signature but has no permit2 payload")
	}
	if signer == nil {
		return "", clierr.New(clierr.CodeSigner, "permit2 signer is required")
	}
	typed := *q.Permit2.EIP712
	if typed.PrimaryType == "" {
		typed.PrimaryType = defaultPermit2PrimaryType
	}
	sig, err := signer.SignTypedData(ctx, typed)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeSigner, "sign permit2", err)
	}
	return SpliceSignature(q.Data, sig)
}

// SpliceSignature appends the signature to calldata preceded by its byte
// length as a 32-byte big-endian word.
func SpliceSignature(calldata, signature string) (string, error) {
	sig := strip0x(signature)
	if sig == "" || len(sig)%2 != 0 {
		return "", clierr.Newf(clierr.CodeSigner, "malformed signature %q", signature)
	}
	if _, err := hex.DecodeString(sig); err != nil {
		return "", clierr.Wrap(clierr.CodeSigner, "malformed signature", err)
	}
	return "0x" + strip0x(calldata) + fmt.Sprintf("%064x", len(sig)/2) + sig, nil
}

// VerifyPermit2Hash recomputes the EIP-712 digest of the permit and checks
// it against the hash the Platform reported.
func VerifyPermit2Hash(p *Permit2) error {
	if p == nil || p.EIP712 == nil {
		return clierr.New(clierr.CodeUsage, "no permit2 payload to verify")
	}
	typed := *p.EIP712
	if typed.PrimaryType == "" {
		typed.PrimaryType = defaultPermit2PrimaryType
	}
	digest, err := account.TypedDataHash(typed)
	if err != nil {
		return err
	}
	if got := hexutil.Encode(digest); !strings.EqualFold(got, "0x"+strip0x(p.Hash)) {
		return clierr.Newf(clierr.CodeMalformedResponse, "permit2 hash mismatch: computed %s, platform reported %s", got, p.Hash)
	}
	return nil
}

func strip0x(v string) string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
		return v[2:]
	}
	return v
}
