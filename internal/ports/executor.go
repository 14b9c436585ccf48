package ports

import (
	"context"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
)

// RebalanceRequest es lo que se envía al servicio de ejecución.
type RebalanceRequest struct {
	JobID      string
	Deployment domain.Deployment
	Targets    domain.PositionSet
	Actions    []domain.Action
}

// Executor entrega un plan al servicio externo que firma y envía la transacción.
type Executor interface {
	// RebalancePosition devuelve el hash de la transacción enviada.
	RebalancePosition(ctx context.Context, req RebalanceRequest) (string, error)
}

// Receipt es el resultado on-chain de una transacción minada.
type Receipt struct {
	TxHash      string
	Status      uint64 // 1 = éxito
	BlockNumber uint64
	GasUsed     uint64
}

// ReceiptFetcher consulta recibos de transacción.
type ReceiptFetcher interface {
	// TransactionReceipt devuelve nil, nil si la transacción aún no está minada.
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
}

// GasEstimator estima el coste en USD de ejecutar un número de acciones.
type GasEstimator interface {
	EstimateGasUSD(ctx context.Context, actions int) (float64, error)
}
