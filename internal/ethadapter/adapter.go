// Package ethadapter maps the submission engine onto EVM networks:
// it builds, signs, and submits value-transfer transactions and polls
// receipts for confirmation.
package ethadapter

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/chainbench/internal/rpc"
	"github.com/gateway-fm/chainbench/internal/submitter"
	"github.com/gateway-fm/chainbench/pkg/types"
)

// Key holds a signing key and its derived address.
type Key struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
}

// NewKeyFromHex builds a Key from a hex-encoded private key.
func NewKeyFromHex(hexKey string) (*Key, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &Key{
		PrivateKey: priv,
		Address:    crypto.PubkeyToAddress(priv.PublicKey),
	}, nil
}

// Keystore indexes signing keys by their lowercase hex address.
type Keystore struct {
	mu   sync.RWMutex
	keys map[string]*Key
}

// NewKeystore creates an empty keystore.
func NewKeystore() *Keystore {
	return &Keystore{keys: make(map[string]*Key)}
}

// Add registers a key under its derived address.
func (k *Keystore) Add(key *Key) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[strings.ToLower(key.Address.Hex())] = key
}

// AddHex parses and registers a hex private key, returning the address.
func (k *Keystore) AddHex(hexKey string) (string, error) {
	key, err := NewKeyFromHex(hexKey)
	if err != nil {
		return "", err
	}
	k.Add(key)
	return key.Address.Hex(), nil
}

// Get returns the key for an address, or an error if unknown.
func (k *Keystore) Get(address string) (*Key, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[strings.ToLower(address)]
	if !ok {
		return nil, fmt.Errorf("no key for address %s", address)
	}
	return key, nil
}

// Addresses returns every registered address.
func (k *Keystore) Addresses() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	addrs := make([]string, 0, len(k.keys))
	for _, key := range k.keys {
		addrs = append(addrs, key.Address.Hex())
	}
	return addrs
}

// Well-known test private keys (from Anvil/Hardhat default accounts).
var TestPrivateKeys = []string{
	"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", // Account 0
	"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d", // Account 1
	"5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a", // Account 2
	"7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6", // Account 3
	"47e179ec197488593b187f80a00eb0da91f1b9d0b13f8733639f19c30a34926a", // Account 4
	"8b3a350cf5c34c9194ca85829a2df0ec3153be0318b5e2d3348e872092edffba", // Account 5
	"92db14e403b83dfe3df233f83dfa3a0d7096f21ca9b0d6d6b8d88b2b4ec1564e", // Account 6
	"4bbbf85ce3377467afe5d46f804f221813b2bb87f24d81f60f1fcdbf7cbf4356", // Account 7
	"dbda1821b80551c9d65939329250298aa3472ba22feea921c0cf5d620ea67b97", // Account 8
	"2a871d0798f97d79848a013d4936a73bf4cc922c825d33c1cf7073dff6d409c6", // Account 9
}

// NewTestKeystore loads the standard dev-chain accounts.
func NewTestKeystore() (*Keystore, error) {
	ks := NewKeystore()
	for _, hexKey := range TestPrivateKeys {
		if _, err := ks.AddHex(hexKey); err != nil {
			return nil, err
		}
	}
	return ks, nil
}

// Config for creating an Adapter.
type Config struct {
	ChainID   *big.Int
	Keystore  *Keystore
	Recipient common.Address
	ValueWei  int64 // transfer amount per transaction (default 1 wei)
	Gas       types.GasPolicy
}

// Adapter builds, signs, and submits EVM value transfers.
type Adapter struct {
	chainID   *big.Int
	keystore  *Keystore
	recipient common.Address
	value     *big.Int
	gas       types.GasPolicy
	signer    ethtypes.Signer
}

var _ submitter.Adapter = (*Adapter)(nil)

// New creates an Adapter for one chain.
func New(cfg Config) (*Adapter, error) {
	if cfg.ChainID == nil || cfg.ChainID.Sign() == 0 {
		return nil, fmt.Errorf("chain ID must be non-nil and non-zero")
	}
	if cfg.Keystore == nil {
		return nil, fmt.Errorf("keystore is required")
	}
	value := cfg.ValueWei
	if value <= 0 {
		value = 1
	}
	if cfg.Gas.GasLimit == 0 {
		cfg.Gas.GasLimit = 21000
	}
	return &Adapter{
		chainID:   cfg.ChainID,
		keystore:  cfg.Keystore,
		recipient: cfg.Recipient,
		value:     big.NewInt(value),
		gas:       cfg.Gas,
		signer:    ethtypes.LatestSignerForChainID(cfg.ChainID),
	}, nil
}

// Submit builds and signs a transfer at the given sequence number and fee
// per gas, then submits the raw bytes.
func (a *Adapter) Submit(ctx context.Context, client rpc.Client, task *submitter.Task, seq uint64, feeWei int64) (string, error) {
	key, err := a.keystore.Get(task.Account)
	if err != nil {
		return "", err
	}

	tx := a.buildTx(seq, feeWei)
	signed, err := ethtypes.SignTx(tx, a.signer, key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction: %w", err)
	}

	return client.SendRawTransaction(ctx, raw)
}

func (a *Adapter) buildTx(seq uint64, feeWei int64) *ethtypes.Transaction {
	tip := big.NewInt(feeWei)
	feeCap := new(big.Int).Set(tip)
	if a.gas.FeeCapWei > 0 && a.gas.FeeCapWei > feeWei {
		feeCap = big.NewInt(a.gas.FeeCapWei)
	}

	if a.gas.UseLegacy {
		return ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    seq,
			GasPrice: tip,
			Gas:      a.gas.GasLimit,
			To:       &a.recipient,
			Value:    a.value,
		})
	}
	return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   a.chainID,
		Nonce:     seq,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       a.gas.GasLimit,
		To:        &a.recipient,
		Value:     a.value,
	})
}

// Confirm polls the receipt for a submitted hash. A nil Confirmation with
// nil error means the transaction is not yet included.
func (a *Adapter) Confirm(ctx context.Context, client rpc.Client, txHash string) (*submitter.Confirmation, error) {
	receipt, err := client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, nil
	}
	return &submitter.Confirmation{
		Included:          true,
		Reverted:          receipt.Status == 0,
		GasUsed:           receipt.GasUsed,
		EffectiveGasPrice: receipt.EffectiveGasPrice,
	}, nil
}
