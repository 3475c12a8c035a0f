package account

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
	"github.com/ggonzalez94/cdp-cli/internal/platform"
)

const (
	EnvOwnerPrivateKey           = "CDP_OWNER_PRIVATE_KEY"
	EnvOwnerPrivateKeyFile       = "CDP_OWNER_PRIVATE_KEY_FILE"
	EnvOwnerKeystorePath         = "CDP_OWNER_KEYSTORE_PATH"
	EnvOwnerKeystorePassword     = "CDP_OWNER_KEYSTORE_PASSWORD"
	EnvOwnerKeystorePasswordFile = "CDP_OWNER_KEYSTORE_PASSWORD_FILE"

	KeySourceAuto     = "auto"
	KeySourceEnv      = "env"
	KeySourceFile     = "file"
	KeySourceKeystore = "keystore"
)

// LocalOwner is a smart-account owner whose secp256k1 key is held in
// process. It signs user-operation hashes and EIP-712 payloads.
type LocalOwner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

type LocalOwnerConfig struct {
	PrivateKeyHex        string
	PrivateKeyFile       string
	KeystorePath         string
	KeystorePassword     string
	KeystorePasswordFile string
}

func NewLocalOwner(cfg LocalOwnerConfig) (*LocalOwner, error) {
	pk, err := loadPrivateKey(cfg)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "load owner key", err)
	}
	return &LocalOwner{privateKey: pk, address: crypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// NewLocalOwnerFromEnv reads the owner key from the environment, limited to
// one source unless source is auto.
func NewLocalOwnerFromEnv(source string) (*LocalOwner, error) {
	cfg := LocalOwnerConfig{
		PrivateKeyHex:        strings.TrimSpace(os.Getenv(EnvOwnerPrivateKey)),
		PrivateKeyFile:       strings.TrimSpace(os.Getenv(EnvOwnerPrivateKeyFile)),
		KeystorePath:         strings.TrimSpace(os.Getenv(EnvOwnerKeystorePath)),
		KeystorePassword:     strings.TrimSpace(os.Getenv(EnvOwnerKeystorePassword)),
		KeystorePasswordFile: strings.TrimSpace(os.Getenv(EnvOwnerKeystorePasswordFile)),
	}
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "", KeySourceAuto:
	case KeySourceEnv:
		cfg = LocalOwnerConfig{PrivateKeyHex: cfg.PrivateKeyHex}
	case KeySourceFile:
		cfg = LocalOwnerConfig{PrivateKeyFile: cfg.PrivateKeyFile}
	case KeySourceKeystore:
		cfg.PrivateKeyHex, cfg.PrivateKeyFile = "", ""
	default:
		return nil, clierr.Newf(clierr.CodeUsage, "unsupported key source %q (expected %s|%s|%s|%s)", source, KeySourceAuto, KeySourceEnv, KeySourceFile, KeySourceKeystore)
	}
	return NewLocalOwner(cfg)
}

func (o *LocalOwner) Address() string { return o.address.Hex() }

// SignHash signs a raw 32-byte digest with a 27/28 recovery id.
func (o *LocalOwner) SignHash(_ context.Context, hash, _ string) (string, error) {
	digest, err := hexutil.Decode(ensure0x(hash))
	if err != nil || len(digest) != 32 {
		return "", clierr.Newf(clierr.CodeUsage, "hash must be 32 bytes of hex, got %q", hash)
	}
	return o.sign(digest)
}

func (o *LocalOwner) SignTypedData(_ context.Context, data platform.TypedData) (string, error) {
	digest, err := TypedDataHash(data)
	if err != nil {
		return "", err
	}
	return o.sign(digest)
}

// SignTransaction signs tx for its own chain ID.
func (o *LocalOwner) SignTransaction(_ context.Context, tx *types.Transaction) (*types.Transaction, error) {
	chainID := tx.ChainId()
	if chainID == nil || chainID.Sign() == 0 {
		chainID = big.NewInt(1)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), o.privateKey)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	return signed, nil
}

func (o *LocalOwner) sign(digest []byte) (string, error) {
	sig, err := crypto.Sign(digest, o.privateKey)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeSigner, "sign digest", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

func loadPrivateKey(cfg LocalOwnerConfig) (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(cfg.PrivateKeyHex) != "" {
		return parseHexKey(cfg.PrivateKeyHex)
	}
	if strings.TrimSpace(cfg.PrivateKeyFile) != "" {
		buf, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key file: %w", err)
		}
		return parseHexKey(string(buf))
	}
	if strings.TrimSpace(cfg.KeystorePath) != "" {
		password := cfg.KeystorePassword
		if strings.TrimSpace(password) == "" && strings.TrimSpace(cfg.KeystorePasswordFile) != "" {
			buf, err := os.ReadFile(cfg.KeystorePasswordFile)
			if err != nil {
				return nil, fmt.Errorf("read keystore password file: %w", err)
			}
			password = strings.TrimSpace(string(buf))
		}
		if strings.TrimSpace(password) == "" {
			return nil, fmt.Errorf("keystore password is required")
		}
		buf, err := os.ReadFile(cfg.KeystorePath)
		if err != nil {
			return nil, fmt.Errorf("read keystore file: %w", err)
		}
		key, err := keystore.DecryptKey(buf, password)
		if err != nil {
			return nil, fmt.Errorf("decrypt keystore: %w", err)
		}
		return key.PrivateKey, nil
	}
	return nil, fmt.Errorf("missing owner key: set %s, %s or %s", EnvOwnerPrivateKey, EnvOwnerPrivateKeyFile, EnvOwnerKeystorePath)
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, fmt.Errorf("empty private key")
	}
	pk, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return pk, nil
}
