package onchain

// client.go — lectura on-chain para el orquestador de jobs.
//
// This file handles:
//   - Receipt lookups for submitted rebalance transactions
//   - Cached gas price → USD estimate per plan action

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/alejandrodnm/yieldpilot/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	// Gas price update interval
	gasPriceUpdateInterval = 5 * time.Minute

	// Fallback gas price (wei) when the node is unreachable: 0.05 gwei, typical L2.
	fallbackGasPriceWei = 50_000_000
)

// Client implements ports.ReceiptFetcher and ports.GasEstimator.
type Client struct {
	rpc *rpc.Client
	eth *ethclient.Client

	gasPerAction   uint64
	nativePriceUSD float64

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// Dial connects to the given EVM JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string, gasPerAction uint64, nativePriceUSD float64) (*Client, error) {
	rc, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain.Dial: dial rpc %s: %w", rpcURL, err)
	}
	return &Client{
		rpc:            rc,
		eth:            ethclient.NewClient(rc),
		gasPerAction:   gasPerAction,
		nativePriceUSD: nativePriceUSD,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// rpcReceipt keeps only the receipt fields the orchestrator needs.
type rpcReceipt struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	Status          hexutil.Uint64 `json:"status"`
	BlockNumber     *hexutil.Big   `json:"blockNumber"`
	GasUsed         hexutil.Uint64 `json:"gasUsed"`
}

// TransactionReceipt returns nil, nil while the transaction is still pending.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*ports.Receipt, error) {
	if !isHexHash(txHash) {
		return nil, fmt.Errorf("onchain.TransactionReceipt: invalid hash %q", txHash)
	}

	var r *rpcReceipt
	if err := c.rpc.CallContext(ctx, &r, "eth_getTransactionReceipt", common.HexToHash(txHash)); err != nil {
		return nil, fmt.Errorf("onchain.TransactionReceipt: %w", err)
	}
	if r == nil || r.BlockNumber == nil {
		return nil, nil
	}

	return &ports.Receipt{
		TxHash:      r.TransactionHash.Hex(),
		Status:      uint64(r.Status),
		BlockNumber: r.BlockNumber.ToInt().Uint64(),
		GasUsed:     uint64(r.GasUsed),
	}, nil
}

// EstimateGasUSD returns the estimated USD cost of executing the given number of actions.
func (c *Client) EstimateGasUSD(ctx context.Context, actions int) (float64, error) {
	if actions <= 0 {
		return 0, nil
	}
	gasPrice := c.getGasPrice(ctx)

	gasUnits := new(big.Int).SetUint64(c.gasPerAction * uint64(actions))
	costWei := new(big.Float).SetInt(new(big.Int).Mul(gasPrice, gasUnits))
	costNative := new(big.Float).Quo(costWei, big.NewFloat(1e18))

	native, _ := costNative.Float64()
	return native * c.nativePriceUSD, nil
}

// getGasPrice returns the cached gas price, refreshing from the node if stale.
func (c *Client) getGasPrice(ctx context.Context) *big.Int {
	c.mu.RLock()
	cached := c.cachedGasWei
	updatedAt := c.gasUpdatedAt
	c.mu.RUnlock()

	if cached != nil && time.Since(updatedAt) < gasPriceUpdateInterval {
		return cached
	}

	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		slog.Warn("onchain: failed to fetch gas price, using fallback", "err", err)
		if cached != nil {
			return cached
		}
		return big.NewInt(fallbackGasPriceWei)
	}

	c.mu.Lock()
	c.cachedGasWei = price
	c.gasUpdatedAt = time.Now()
	c.mu.Unlock()

	slog.Debug("onchain: gas price updated", "gwei", new(big.Float).Quo(new(big.Float).SetInt(price), big.NewFloat(1e9)).String())
	return price
}

func isHexHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}
