package integration

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// fakeNode is an in-process JSON-RPC node. It accepts signed transactions,
// recovers the sender, tracks per-sender sequence numbers, and serves
// immediate receipts so confirmation polling resolves on the first check.
type fakeNode struct {
	chainID *big.Int
	signer  ethtypes.Signer

	mu       sync.Mutex
	block    uint64
	counts   map[string]uint64   // sender -> accepted tx count
	nonceLog map[string][]uint64 // sender -> nonces in arrival order
	receipts map[string]bool     // tx hash -> known
	rejectN  int                 // reject the next N submissions with a fee error
}

func newFakeNode(chainID int64) *fakeNode {
	id := big.NewInt(chainID)
	return &fakeNode{
		chainID:  id,
		signer:   ethtypes.LatestSignerForChainID(id),
		block:    1,
		counts:   make(map[string]uint64),
		nonceLog: make(map[string][]uint64),
		receipts: make(map[string]bool),
	}
}

func (n *fakeNode) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(n.handle))
}

// rejectNext makes the node fail the next count submissions with a
// retryable underpriced error.
func (n *fakeNode) rejectNext(count int) {
	n.mu.Lock()
	n.rejectN = count
	n.mu.Unlock()
}

// noncesFor returns the nonces received from one sender in arrival order.
func (n *fakeNode) noncesFor(sender string) []uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := strings.ToLower(sender)
	out := make([]uint64, len(n.nonceLog[key]))
	copy(out, n.nonceLog[key])
	return out
}

func (n *fakeNode) senders() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for s := range n.nonceLog {
		out = append(out, s)
	}
	return out
}

func (n *fakeNode) handle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
		ID     int               `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var result interface{}
	var rpcErr map[string]interface{}

	switch req.Method {
	case "eth_chainId":
		result = hexutil.EncodeBig(n.chainID)

	case "eth_blockNumber":
		n.mu.Lock()
		n.block++
		result = hexutil.EncodeUint64(n.block)
		n.mu.Unlock()

	case "eth_getTransactionCount":
		var addr string
		json.Unmarshal(req.Params[0], &addr)
		n.mu.Lock()
		result = hexutil.EncodeUint64(n.counts[strings.ToLower(addr)])
		n.mu.Unlock()

	case "eth_sendRawTransaction":
		result, rpcErr = n.acceptTx(req.Params)

	case "eth_getTransactionReceipt":
		var hash string
		json.Unmarshal(req.Params[0], &hash)
		n.mu.Lock()
		known := n.receipts[hash]
		block := n.block
		n.mu.Unlock()
		if known {
			result = map[string]string{
				"status":            "0x1",
				"gasUsed":           "0x5208",
				"blockNumber":       hexutil.EncodeUint64(block),
				"effectiveGasPrice": "0x3b9aca00",
			}
		}

	default:
		rpcErr = map[string]interface{}{"code": -32601, "message": "method not found"}
	}

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	json.NewEncoder(w).Encode(resp)
}

func (n *fakeNode) acceptTx(params []json.RawMessage) (interface{}, map[string]interface{}) {
	var rawHex string
	json.Unmarshal(params[0], &rawHex)

	raw, err := hexutil.Decode(rawHex)
	if err != nil {
		return nil, map[string]interface{}{"code": -32602, "message": "invalid raw transaction"}
	}
	var tx ethtypes.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, map[string]interface{}{"code": -32602, "message": "malformed transaction"}
	}
	sender, err := ethtypes.Sender(n.signer, &tx)
	if err != nil {
		return nil, map[string]interface{}{"code": -32602, "message": "bad signature"}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.rejectN > 0 {
		n.rejectN--
		return nil, map[string]interface{}{"code": -32000, "message": "transaction underpriced"}
	}

	addr := strings.ToLower(sender.Hex())
	n.nonceLog[addr] = append(n.nonceLog[addr], tx.Nonce())
	n.counts[addr]++
	n.receipts[tx.Hash().Hex()] = true
	return tx.Hash().Hex(), nil
}
