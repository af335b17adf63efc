package btcp2p

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// FeeOracle resolves a transaction's fee by looking up its inputs'
// previous outputs via a full node's gettxout RPC, grounded on the
// teacher's internal/bitcoin/rpc.go RPCClient — same JSON-RPC-1.0-over-
// HTTP-with-basic-auth shape, repointed from getblocktemplate/submitblock
// (pool-operator-only, dropped — see DESIGN.md) to gettxout (needed by
// any fee-rate-aware mempool observer).
type FeeOracle struct {
	url      string
	user     string
	password string
	client   *http.Client
	idSeq    atomic.Int64
}

// NewFeeOracle builds a FeeOracle against a full node's RPC endpoint.
func NewFeeOracle(url, user, password string) *FeeOracle {
	return &FeeOracle{
		url:      url,
		user:     user,
		password: password,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (f *FeeOracle) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	id := f.idSeq.Add(1)
	body, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("btcp2p: marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", f.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("btcp2p: create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(f.user, f.password)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("btcp2p: rpc request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("btcp2p: read rpc response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("btcp2p: unmarshal rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// TxOut is the subset of gettxout's result needed for fee computation.
type TxOut struct {
	ValueSatoshis int64
	Confirmations int64
}

// GetTxOut looks up an unspent output by txid (hex, display order) and
// vout index. A nil result (no error) means the output is already
// spent or unknown — the caller should treat the fee as FeeKnown=false.
func (f *FeeOracle) GetTxOut(ctx context.Context, txidHex string, vout int) (*TxOut, error) {
	result, err := f.call(ctx, "gettxout", txidHex, vout, true)
	if err != nil {
		return nil, fmt.Errorf("btcp2p: gettxout: %w", err)
	}
	if string(result) == "null" {
		return nil, nil
	}

	var decoded struct {
		Value         float64 `json:"value"`
		Confirmations int64   `json:"confirmations"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		return nil, fmt.Errorf("btcp2p: decode gettxout result: %w", err)
	}
	return &TxOut{
		ValueSatoshis: int64(decoded.Value*1e8 + 0.5),
		Confirmations: decoded.Confirmations,
	}, nil
}

// ComputeFee sums a transaction's input values via GetTxOut and
// subtracts its output total. Per spec.md §9's resolved open question,
// any missing or failed prevout lookup makes the whole fee unknown
// (known=false, fee=0) rather than a partial/best-effort sum — a
// mempool consumer filtering on fee>0 must never mistake "couldn't
// price this" for "this pays nothing".
func (f *FeeOracle) ComputeFee(ctx context.Context, tx *Transaction) (fee int64, known bool) {
	var inTotal int64
	for _, in := range tx.Inputs {
		txidHex := fmt.Sprintf("%x", reverseTxid(in.PrevTxid))
		out, err := f.GetTxOut(ctx, txidHex, int(in.PrevIndex))
		if err != nil || out == nil {
			return 0, false
		}
		inTotal += out.ValueSatoshis
	}

	var outTotal int64
	for _, o := range tx.Outputs {
		outTotal += o.Value
	}

	return inTotal - outTotal, true
}

// reverseTxid converts a wire-order (internal, sha256d output order)
// txid into the byte order Bitcoin RPC interfaces display/accept hex in.
func reverseTxid(txid [32]byte) [32]byte {
	var out [32]byte
	for i := range txid {
		out[i] = txid[31-i]
	}
	return out
}
