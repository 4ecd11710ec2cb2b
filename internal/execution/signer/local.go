package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	EnvPrivateKey           = "SEMI_PRIVATE_KEY"
	EnvPrivateKeyFile       = "SEMI_PRIVATE_KEY_FILE"
	EnvKeystorePath         = "SEMI_KEYSTORE_PATH"
	EnvKeystorePassword     = "SEMI_KEYSTORE_PASSWORD"
	EnvKeystorePasswordFile = "SEMI_KEYSTORE_PASSWORD_FILE"

	KeySourceAuto     = "auto"
	KeySourceEnv      = "env"
	KeySourceFile     = "file"
	KeySourceKeystore = "keystore"

	defaultPrivateKeyRelativePath = "semi/key.hex"
	defaultPrivateKeyHintPath     = "~/.config/semi/key.hex"
)

// LocalSigner holds the owner key in memory. It signs EOA transactions and
// the EIP-712 digests that authorise smart account operations.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("local signer is not initialized")
	}
	signer := types.LatestSignerForChainID(chainID)
	return types.SignTx(tx, signer, s.privateKey)
}

// SignHash returns a 65 byte [R || S || V] signature with V in {0, 1}.
func (s *LocalSigner) SignHash(hash []byte) ([]byte, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("local signer is not initialized")
	}
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	return crypto.Sign(hash, s.privateKey)
}

// NewLocalSignerFromEnv loads the owner key from the given key source.
// auto tries, in order, SEMI_PRIVATE_KEY, SEMI_PRIVATE_KEY_FILE (or the
// default key file) and SEMI_KEYSTORE_PATH.
func NewLocalSignerFromEnv(source string) (*LocalSigner, error) {
	cfg, err := configFromEnv(source)
	if err != nil {
		return nil, err
	}
	return NewLocalSigner(cfg)
}

type LocalSignerConfig struct {
	PrivateKeyHex        string
	PrivateKeyFile       string
	KeystorePath         string
	KeystorePassword     string
	KeystorePasswordFile string
}

func configFromEnv(source string) (LocalSignerConfig, error) {
	env := func(name string) string { return strings.TrimSpace(os.Getenv(name)) }
	keyFile := env(EnvPrivateKeyFile)
	if keyFile == "" {
		keyFile = existingDefaultKeyFile()
	}
	keystoreCfg := LocalSignerConfig{
		KeystorePath:         env(EnvKeystorePath),
		KeystorePassword:     env(EnvKeystorePassword),
		KeystorePasswordFile: env(EnvKeystorePasswordFile),
	}

	switch strings.ToLower(strings.TrimSpace(source)) {
	case "", KeySourceAuto:
		cfg := keystoreCfg
		cfg.PrivateKeyHex = env(EnvPrivateKey)
		cfg.PrivateKeyFile = keyFile
		return cfg, nil
	case KeySourceEnv:
		return LocalSignerConfig{PrivateKeyHex: env(EnvPrivateKey)}, nil
	case KeySourceFile:
		return LocalSignerConfig{PrivateKeyFile: keyFile}, nil
	case KeySourceKeystore:
		return keystoreCfg, nil
	}
	return LocalSignerConfig{}, fmt.Errorf("unsupported key source %q (expected %s|%s|%s|%s)", source, KeySourceAuto, KeySourceEnv, KeySourceFile, KeySourceKeystore)
}

func NewLocalSigner(cfg LocalSignerConfig) (*LocalSigner, error) {
	key, err := loadPrivateKey(cfg)
	if err != nil {
		return nil, err
	}
	return &LocalSigner{privateKey: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func loadPrivateKey(cfg LocalSignerConfig) (*ecdsa.PrivateKey, error) {
	switch {
	case cfg.PrivateKeyHex != "":
		return parseHexKey(cfg.PrivateKeyHex)
	case cfg.PrivateKeyFile != "":
		raw, err := readTrimmed(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key file: %w", err)
		}
		return parseHexKey(raw)
	case cfg.KeystorePath != "":
		return loadKeystore(cfg)
	}
	return nil, fmt.Errorf("no signing key found: set %s, %s or %s, or write the key to %s",
		EnvPrivateKey, EnvPrivateKeyFile, EnvKeystorePath, defaultPrivateKeyHintPath)
}

func loadKeystore(cfg LocalSignerConfig) (*ecdsa.PrivateKey, error) {
	password := cfg.KeystorePassword
	if password == "" && cfg.KeystorePasswordFile != "" {
		var err error
		if password, err = readTrimmed(cfg.KeystorePasswordFile); err != nil {
			return nil, fmt.Errorf("read keystore password file: %w", err)
		}
	}
	if password == "" {
		return nil, fmt.Errorf("keystore password is required (%s or %s)", EnvKeystorePassword, EnvKeystorePasswordFile)
	}
	blob, err := os.ReadFile(cfg.KeystorePath)
	if err != nil {
		return nil, fmt.Errorf("read keystore file: %w", err)
	}
	key, err := keystore.DecryptKey(blob, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return key.PrivateKey, nil
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	if clean == "" {
		return nil, errors.New("empty private key")
	}
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func readTrimmed(path string) (string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(buf)), nil
}

// defaultKeyFile is $XDG_CONFIG_HOME/semi/key.hex, falling back to ~/.config.
func defaultKeyFile() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, defaultPrivateKeyRelativePath)
}

func existingDefaultKeyFile() string {
	path := defaultKeyFile()
	if path == "" {
		return ""
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return ""
	}
	return path
}
