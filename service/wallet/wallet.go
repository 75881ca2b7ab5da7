// Package wallet holds the local signing key that stands in for a browser
// wallet: it supplies the connected account and signs ledger transactions.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/brojonat/mintmarket/service/ledger"
	"github.com/brojonat/mintmarket/service/market"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"
)

// mnemonicKeyInfo domain-separates the signing key derived from a mnemonic.
// Derivation is HKDF-SHA256 over the BIP-39 seed, not a BIP-44 path, so the
// resulting address differs from the one other wallets derive.
const mnemonicKeyInfo = "mintmarket/ledger-signing-key/v1"

var (
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	ErrInvalidKey      = errors.New("invalid private key")
)

// Wallet is a single secp256k1 signing key.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

var (
	_ ledger.Signer          = (*Wallet)(nil)
	_ market.AccountProvider = (*Wallet)(nil)
)

func newWallet(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Generate creates a wallet with a fresh random key.
func Generate() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newWallet(key), nil
}

// FromPrivateKeyHex loads a hex-encoded private key, with or without 0x.
func FromPrivateKeyHex(s string) (*Wallet, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return newWallet(key), nil
}

// FromKeystore decrypts a Web3 Secret Storage (v3) key file.
func FromKeystore(path, passphrase string) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}
	return FromKeystoreJSON(data, passphrase)
}

// FromKeystoreJSON decrypts an encrypted key document.
func FromKeystoreJSON(data []byte, passphrase string) (*Wallet, error) {
	k, err := keystore.DecryptKey(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keystore: %w", err)
	}
	return newWallet(k.PrivateKey), nil
}

// NewMnemonic returns a fresh 12-word BIP-39 mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// FromMnemonic derives a wallet from a BIP-39 mnemonic and optional passphrase.
func FromMnemonic(mnemonic, passphrase string) (*Wallet, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, passphrase)

	reader := hkdf.New(sha256.New, seed, nil, []byte(mnemonicKeyInfo))
	raw := make([]byte, 32)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return nil, err
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: derived scalar out of range: %v", ErrInvalidKey, err)
	}
	return newWallet(key), nil
}

// Source selects where a wallet is loaded from. The first non-empty field of
// PrivateKey, KeystorePath and Mnemonic wins.
type Source struct {
	PrivateKey   string
	KeystorePath string
	Passphrase   string
	Mnemonic     string
}

// Load opens the wallet described by src. It returns market.ErrNoWallet when
// src names none.
func Load(src Source) (*Wallet, error) {
	switch {
	case src.PrivateKey != "":
		return FromPrivateKeyHex(src.PrivateKey)
	case src.KeystorePath != "":
		return FromKeystore(src.KeystorePath, src.Passphrase)
	case src.Mnemonic != "":
		return FromMnemonic(src.Mnemonic, src.Passphrase)
	default:
		return nil, market.ErrNoWallet
	}
}

// Address returns the wallet's ledger address.
func (w *Wallet) Address() common.Address {
	return w.address
}

// Account returns the address as a market account.
func (w *Wallet) Account() market.Account {
	return market.Account(w.address.Hex())
}

// RequestAccounts hands out the wallet's account. A local key never prompts,
// so it always grants access.
func (w *Wallet) RequestAccounts(ctx context.Context) (market.Account, error) {
	return w.Account(), nil
}

// SignTx signs tx for chainID with the latest signer rules.
func (w *Wallet) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key)
}

// PrivateKeyHex exports the raw key. Callers are expected to show it once.
func (w *Wallet) PrivateKeyHex() string {
	return hexutil.Encode(crypto.FromECDSA(w.key))
}

// EncryptKeystore encrypts the key into a v3 key document. light selects
// the cheap scrypt parameters, which suit tests and throwaway keys only.
func (w *Wallet) EncryptKeystore(passphrase string, light bool) ([]byte, error) {
	n, p := keystore.StandardScryptN, keystore.StandardScryptP
	if light {
		n, p = keystore.LightScryptN, keystore.LightScryptP
	}
	k := &keystore.Key{
		Id:         uuid.New(),
		Address:    w.address,
		PrivateKey: w.key,
	}
	return keystore.EncryptKey(k, passphrase, n, p)
}
