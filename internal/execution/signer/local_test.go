package signer

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

func TestNewLocalSignerFromEnvHex(t *testing.T) {
	t.Setenv(EnvPrivateKey, testPrivateKey)
	s, err := NewLocalSignerFromEnv(KeySourceEnv)
	if err != nil {
		t.Fatalf("NewLocalSignerFromEnv failed: %v", err)
	}
	if s.Address() == (common.Address{}) {
		t.Fatal("expected non-zero signer address")
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       ptrAddress(common.HexToAddress("0x0000000000000000000000000000000000000001")),
		Value:    big.NewInt(0),
		Gas:      21_000,
		GasPrice: big.NewInt(1),
	})
	if _, err := s.SignTx(common.Big1, tx); err != nil {
		t.Fatalf("SignTx failed: %v", err)
	}
}

func TestNewLocalSignerFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key.txt")
	if err := os.WriteFile(keyFile, []byte(testPrivateKey), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	t.Setenv(EnvPrivateKeyFile, keyFile)

	s, err := NewLocalSignerFromEnv(KeySourceFile)
	if err != nil {
		t.Fatalf("NewLocalSignerFromEnv failed: %v", err)
	}
	if s.Address() == (common.Address{}) {
		t.Fatal("expected non-zero signer address")
	}
}

func TestNewLocalSignerFromEnvFileAllowsNonStrictPermissions(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key.txt")
	if err := os.WriteFile(keyFile, []byte(testPrivateKey), 0o644); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	t.Setenv(EnvPrivateKeyFile, keyFile)
	if _, err := NewLocalSignerFromEnv(KeySourceFile); err != nil {
		t.Fatalf("expected non-strict permission key file to load: %v", err)
	}
}

func TestNewLocalSignerFromEnvAutoUsesDefaultKeyFile(t *testing.T) {
	cfgDir := t.TempDir()
	keyDir := filepath.Join(cfgDir, "semi")
	keyFile := filepath.Join(keyDir, "key.hex")
	if err := os.MkdirAll(keyDir, 0o755); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	if err := os.WriteFile(keyFile, []byte(testPrivateKey), 0o644); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	t.Setenv("XDG_CONFIG_HOME", cfgDir)
	t.Setenv(EnvPrivateKey, "")
	t.Setenv(EnvPrivateKeyFile, "")
	t.Setenv(EnvKeystorePath, "")

	s, err := NewLocalSignerFromEnv(KeySourceAuto)
	if err != nil {
		t.Fatalf("expected auto key-source to use default key path: %v", err)
	}
	if s.Address() == (common.Address{}) {
		t.Fatal("expected non-zero signer address")
	}
}

func clearKeyEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{EnvPrivateKey, EnvPrivateKeyFile, EnvKeystorePath, EnvKeystorePassword, EnvKeystorePasswordFile} {
		t.Setenv(name, "")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestKeySourceRestrictsLookup(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv(EnvPrivateKey, testPrivateKey)

	if _, err := NewLocalSignerFromEnv(KeySourceFile); err == nil {
		t.Fatal("file source must ignore the env key")
	}
	if _, err := NewLocalSignerFromEnv(KeySourceKeystore); err == nil {
		t.Fatal("keystore source must ignore the env key")
	}
	if _, err := NewLocalSignerFromEnv("ledger"); err == nil || !strings.Contains(err.Error(), "unsupported key source") {
		t.Fatalf("expected unsupported key source error, got %v", err)
	}
	if _, err := NewLocalSignerFromEnv(" AUTO "); err != nil {
		t.Fatalf("auto source must accept the env key: %v", err)
	}
}

func TestDefaultKeyFileUsesXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/semi-config-home")
	if got := defaultKeyFile(); got != "/tmp/semi-config-home/semi/key.hex" {
		t.Fatalf("unexpected default key path %q", got)
	}
}

func TestMissingKeyErrorNamesEverySource(t *testing.T) {
	clearKeyEnv(t)
	_, err := NewLocalSignerFromEnv(KeySourceAuto)
	if err == nil {
		t.Fatal("expected missing key error")
	}
	for _, want := range []string{defaultPrivateKeyHintPath, EnvPrivateKey, EnvKeystorePath} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestKeystoreRequiresPassword(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv(EnvKeystorePath, filepath.Join(t.TempDir(), "keystore.json"))
	_, err := NewLocalSignerFromEnv(KeySourceKeystore)
	if err == nil || !strings.Contains(err.Error(), "password is required") {
		t.Fatalf("expected missing password error, got %v", err)
	}
}

func TestSignHashRecoversSignerAddress(t *testing.T) {
	s, err := NewLocalSigner(LocalSignerConfig{PrivateKeyHex: "0x" + testPrivateKey})
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	hash := crypto.Keccak256([]byte("safe op"))
	sig, err := s.SignHash(hash)
	if err != nil {
		t.Fatalf("SignHash failed: %v", err)
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != s.Address() {
		t.Fatal("signature does not recover signer address")
	}
	if _, err := s.SignHash([]byte{0x01}); err == nil {
		t.Fatal("expected short hash to be rejected")
	}
}

func ptrAddress(v common.Address) *common.Address { return &v }
