package onchain_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alejandrodnm/yieldpilot/internal/adapters/onchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const txHash = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"

// rpcServer answers JSON-RPC calls with the result returned by handle.
func rpcServer(t *testing.T, handle func(method string, params []json.RawMessage) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  handle(req.Method, req.Params),
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestTransactionReceipt_Mined(t *testing.T) {
	srv := rpcServer(t, func(method string, params []json.RawMessage) any {
		assert.Equal(t, "eth_getTransactionReceipt", method)
		return map[string]any{
			"transactionHash": txHash,
			"status":          "0x1",
			"blockNumber":     "0x1b4",
			"gasUsed":         "0x5208",
		}
	})
	defer srv.Close()

	c, err := onchain.Dial(context.Background(), srv.URL, 250_000, 3000)
	require.NoError(t, err)
	defer c.Close()

	r, err := c.TransactionReceipt(context.Background(), txHash)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, uint64(1), r.Status)
	assert.Equal(t, uint64(436), r.BlockNumber)
	assert.Equal(t, uint64(21000), r.GasUsed)
}

func TestTransactionReceipt_Pending(t *testing.T) {
	srv := rpcServer(t, func(string, []json.RawMessage) any { return nil })
	defer srv.Close()

	c, err := onchain.Dial(context.Background(), srv.URL, 250_000, 3000)
	require.NoError(t, err)
	defer c.Close()

	r, err := c.TransactionReceipt(context.Background(), txHash)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestTransactionReceipt_InvalidHash(t *testing.T) {
	srv := rpcServer(t, func(string, []json.RawMessage) any { return nil })
	defer srv.Close()

	c, err := onchain.Dial(context.Background(), srv.URL, 250_000, 3000)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.TransactionReceipt(context.Background(), "0x1234")
	assert.Error(t, err)
}

func TestEstimateGasUSD_CachesGasPrice(t *testing.T) {
	var calls atomic.Int32
	srv := rpcServer(t, func(method string, _ []json.RawMessage) any {
		assert.Equal(t, "eth_gasPrice", method)
		calls.Add(1)
		return "0x3b9aca00" // 1 gwei
	})
	defer srv.Close()

	c, err := onchain.Dial(context.Background(), srv.URL, 250_000, 3000)
	require.NoError(t, err)
	defer c.Close()

	// 2 acciones × 250k gas × 1 gwei = 0.0005 ETH × $3000 = $1.50
	usd, err := c.EstimateGasUSD(context.Background(), 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, usd, 1e-9)

	_, err = c.EstimateGasUSD(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	zero, err := c.EstimateGasUSD(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, zero)
}
