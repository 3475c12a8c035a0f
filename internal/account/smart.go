package account

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/platform"
)

// SmartAccount is a contract wallet controlled by one owner key and driven
// through user operations.
type SmartAccount struct {
	address common.Address
	owner   Owner
	api     *platform.Client
}

func NewSmart(api *platform.Client, address string, owner Owner) (*SmartAccount, error) {
	if api == nil {
		return nil, clierr.New(clierr.CodeInternal, "missing platform client")
	}
	if !common.IsHexAddress(address) {
		return nil, clierr.Newf(clierr.CodeUsage, "invalid smart account address %q", address)
	}
	if owner == nil {
		return nil, clierr.New(clierr.CodeUsage, "smart account owner is required")
	}
	return &SmartAccount{address: common.HexToAddress(address), owner: owner, api: api}, nil
}

func (s *SmartAccount) Address() string { return s.address.Hex() }

func (s *SmartAccount) Owner() Owner { return s.owner }

// OwnerSigner is the key that signs Permit2 payloads on the account's behalf.
func (s *SmartAccount) OwnerSigner() TypedDataSigner { return s.owner }

// SendUserOperation prepares the operation, has the owner sign its hash and
// submits it. The caller's idempotency key is split per step.
func (s *SmartAccount) SendUserOperation(ctx context.Context, req UserOperationRequest) (*platform.UserOperation, error) {
	if len(req.Calls) == 0 {
		return nil, clierr.New(clierr.CodeUsage, "user operation needs at least one call")
	}
	if req.Network == "" {
		return nil, clierr.New(clierr.CodeUsage, "network is required")
	}
	prepared, err := s.api.PrepareUserOperation(ctx, s.Address(), req.Network, req.Calls, req.PaymasterURL,
		platform.DeriveIdempotencyKey(req.IdempotencyKey, "prepare"))
	if err != nil {
		return nil, err
	}
	signature, err := s.owner.SignHash(ctx, prepared.UserOpHash, platform.DeriveIdempotencyKey(req.IdempotencyKey, "sign"))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "sign user operation", err)
	}
	sent, err := s.api.SendUserOperation(ctx, s.Address(), prepared.UserOpHash, signature,
		platform.DeriveIdempotencyKey(req.IdempotencyKey, "send"))
	if err != nil {
		return nil, err
	}
	if sent.UserOpHash == "" {
		sent.UserOpHash = prepared.UserOpHash
	}
	s.api.Logger().WithFields(logrus.Fields{
		"network":    req.Network,
		"userOpHash": sent.UserOpHash,
		"account":    s.Address(),
	}).Info("user operation sent")
	return sent, nil
}

// WaitForUserOperation polls until the operation is complete or failed. On
// timeout it returns the last observed operation and a CodeTimeout error;
// the operation itself may still land later.
func (s *SmartAccount) WaitForUserOperation(ctx context.Context, userOpHash string, opts WaitOptions) (*platform.UserOperation, error) {
	opts = opts.withDefaults()
	var last *platform.UserOperation
	err := poll(ctx, opts, func(ctx context.Context) (bool, error) {
		op, err := s.api.GetUserOperation(ctx, s.Address(), userOpHash)
		if err != nil {
			return false, err
		}
		last = op
		s.api.Logger().WithFields(logrus.Fields{"userOpHash": userOpHash, "status": op.Status}).Debug("polled user operation")
		return op.Status == platform.UserOpComplete || op.Status == platform.UserOpFailed, nil
	})
	return last, err
}
