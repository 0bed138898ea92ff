package ethadapter

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/chainbench/internal/rpc"
	"github.com/gateway-fm/chainbench/internal/submitter"
	"github.com/gateway-fm/chainbench/pkg/types"
)

// captureClient records the raw bytes handed to SendRawTransaction.
type captureClient struct {
	raw     []byte
	receipt *rpc.Receipt
}

var _ rpc.Client = (*captureClient)(nil)

func (c *captureClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	return nil, nil
}

func (c *captureClient) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1337), nil
}

func (c *captureClient) BlockNumber(ctx context.Context) (uint64, error) {
	return 1, nil
}

func (c *captureClient) SendRawTransaction(ctx context.Context, txRLP []byte) (string, error) {
	c.raw = txRLP
	return "0xsubmitted", nil
}

func (c *captureClient) PendingNonceAt(ctx context.Context, address string) (uint64, error) {
	return 0, nil
}

func (c *captureClient) ConfirmedNonceAt(ctx context.Context, address string) (uint64, error) {
	return 0, nil
}

func (c *captureClient) GasPrice(ctx context.Context) (uint64, error) {
	return 1_000_000_000, nil
}

func (c *captureClient) Balance(ctx context.Context, address string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (c *captureClient) TransactionReceipt(ctx context.Context, txHash string) (*rpc.Receipt, error) {
	return c.receipt, nil
}

func (c *captureClient) URL() string {
	return "http://test:8545"
}

func TestKeystoreRoundTrip(t *testing.T) {
	ks := NewKeystore()
	addr, err := ks.AddHex(TestPrivateKeys[0])
	if err != nil {
		t.Fatalf("AddHex: %v", err)
	}
	if addr != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
		t.Errorf("unexpected derived address: %s", addr)
	}

	// Lookup is case-insensitive.
	if _, err := ks.Get("0xF39FD6E51AAD88F6F4CE6AB8827279CFFFB92266"); err != nil {
		t.Errorf("uppercase lookup failed: %v", err)
	}
	if _, err := ks.Get("0x0000000000000000000000000000000000000001"); err == nil {
		t.Error("expected error for unknown address")
	}
}

func TestNewTestKeystore(t *testing.T) {
	ks, err := NewTestKeystore()
	if err != nil {
		t.Fatalf("NewTestKeystore: %v", err)
	}
	if got := len(ks.Addresses()); got != len(TestPrivateKeys) {
		t.Errorf("expected %d addresses, got %d", len(TestPrivateKeys), got)
	}
}

func TestSubmitSignsWithSequenceAndFee(t *testing.T) {
	ks, err := NewTestKeystore()
	if err != nil {
		t.Fatalf("NewTestKeystore: %v", err)
	}
	adapter, err := New(Config{
		ChainID:   big.NewInt(1337),
		Keystore:  ks,
		Recipient: common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
		Gas:       types.GasPolicy{GasLimit: 21000},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	client := &captureClient{}
	task := &submitter.Task{ID: 1, Account: ks.Addresses()[0], CreatedAt: time.Now()}

	hash, err := adapter.Submit(context.Background(), client, task, 42, 2_000_000_000)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if hash != "0xsubmitted" {
		t.Errorf("unexpected hash: %s", hash)
	}
	if client.raw == nil {
		t.Fatal("expected raw transaction bytes to be submitted")
	}

	var tx ethtypes.Transaction
	if err := tx.UnmarshalBinary(client.raw); err != nil {
		t.Fatalf("submitted bytes do not decode: %v", err)
	}
	if tx.Nonce() != 42 {
		t.Errorf("expected nonce 42, got %d", tx.Nonce())
	}
	if tx.GasTipCap().Int64() != 2_000_000_000 {
		t.Errorf("expected tip 2 gwei, got %s", tx.GasTipCap())
	}
	if tx.Type() != ethtypes.DynamicFeeTxType {
		t.Errorf("expected dynamic fee transaction, got type %d", tx.Type())
	}
}

func TestSubmitLegacyTx(t *testing.T) {
	ks, err := NewTestKeystore()
	if err != nil {
		t.Fatalf("NewTestKeystore: %v", err)
	}
	adapter, err := New(Config{
		ChainID:  big.NewInt(1337),
		Keystore: ks,
		Gas:      types.GasPolicy{GasLimit: 21000, UseLegacy: true},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	client := &captureClient{}
	task := &submitter.Task{ID: 1, Account: ks.Addresses()[0]}
	if _, err := adapter.Submit(context.Background(), client, task, 0, 1_000_000_000); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var tx ethtypes.Transaction
	if err := tx.UnmarshalBinary(client.raw); err != nil {
		t.Fatalf("submitted bytes do not decode: %v", err)
	}
	if tx.Type() != ethtypes.LegacyTxType {
		t.Errorf("expected legacy transaction, got type %d", tx.Type())
	}
	if tx.GasPrice().Int64() != 1_000_000_000 {
		t.Errorf("expected gas price 1 gwei, got %s", tx.GasPrice())
	}
}

func TestSubmitUnknownAccount(t *testing.T) {
	adapter, err := New(Config{
		ChainID:  big.NewInt(1337),
		Keystore: NewKeystore(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	task := &submitter.Task{ID: 1, Account: "0x0000000000000000000000000000000000000001"}
	if _, err := adapter.Submit(context.Background(), &captureClient{}, task, 0, 1); err == nil {
		t.Error("expected error for account with no key")
	}
}

func TestConfirmStates(t *testing.T) {
	ks, _ := NewTestKeystore()
	adapter, err := New(Config{ChainID: big.NewInt(1337), Keystore: ks})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Pending: no receipt yet.
	conf, err := adapter.Confirm(context.Background(), &captureClient{}, "0xabc")
	if err != nil || conf != nil {
		t.Errorf("expected (nil, nil) for pending, got (%v, %v)", conf, err)
	}

	// Included and successful.
	client := &captureClient{receipt: &rpc.Receipt{Status: 1, GasUsed: 21000}}
	conf, err = adapter.Confirm(context.Background(), client, "0xabc")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !conf.Included || conf.Reverted || conf.GasUsed != 21000 {
		t.Errorf("unexpected confirmation: %+v", conf)
	}

	// Included but reverted.
	client = &captureClient{receipt: &rpc.Receipt{Status: 0, GasUsed: 30000}}
	conf, err = adapter.Confirm(context.Background(), client, "0xabc")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !conf.Reverted {
		t.Error("expected reverted confirmation for status 0")
	}
}
