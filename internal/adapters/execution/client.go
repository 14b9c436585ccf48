package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/alejandrodnm/yieldpilot/internal/ports"
	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
)

// Client envía planes de rebalanceo al servicio de ejecución (firma + envío).
// Implementa ports.Executor.
type Client struct {
	http      *http.Client
	baseURL   string
	maxTries  uint
	retryWait time.Duration
}

// NewClient crea un Client contra baseURL.
func NewClient(baseURL string, timeout time.Duration, maxTries int) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxTries <= 0 {
		maxTries = 3
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		baseURL:   strings.TrimRight(baseURL, "/"),
		maxTries:  uint(maxTries),
		retryWait: 500 * time.Millisecond,
	}
}

// SetRetryWait cambia la espera inicial entre reintentos (tests).
func (c *Client) SetRetryWait(d time.Duration) {
	c.retryWait = d
}

type rebalanceBody struct {
	JobID         string             `json:"jobId"`
	DeploymentID  string             `json:"deploymentId"`
	ChainID       int64              `json:"chainId"`
	SafeAddress   string             `json:"safeAddress"`
	WalletAddress string             `json:"walletAddress"`
	Targets       domain.PositionSet `json:"targets"`
	Actions       []domain.Action    `json:"actions"`
}

type rebalanceResponse struct {
	TxHash string `json:"txHash"`
	Error  string `json:"error,omitempty"`
}

// RebalancePosition envía el plan y devuelve el hash de la transacción.
// Los errores de transporte y 5xx se reintentan con backoff exponencial;
// un 4xx o una respuesta sin hash no.
func (c *Client) RebalancePosition(ctx context.Context, req ports.RebalanceRequest) (string, error) {
	payload, err := json.Marshal(rebalanceBody{
		JobID:         req.JobID,
		DeploymentID:  req.Deployment.ID,
		ChainID:       req.Deployment.ChainID,
		SafeAddress:   req.Deployment.SafeAddress,
		WalletAddress: req.Deployment.WalletAddress,
		Targets:       req.Targets,
		Actions:       req.Actions,
	})
	if err != nil {
		return "", fmt.Errorf("execution.RebalancePosition: marshal: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryWait
	policy.MaxInterval = c.retryWait * 10

	notify := func(err error, wait time.Duration) {
		slog.Warn("execution: submit failed, retrying", "job_id", req.JobID, "err", err, "backoff", wait)
	}

	op := func() (string, error) {
		return c.submit(ctx, payload)
	}

	txHash, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return "", fmt.Errorf("execution.RebalancePosition: %w", err)
	}
	return txHash, nil
}

func (c *Client) submit(ctx context.Context, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rebalance_position", bytes.NewReader(payload))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("server error %d: %s", resp.StatusCode, body)
	}
	if resp.StatusCode >= 400 {
		return "", backoff.Permanent(fmt.Errorf("client error %d: %s", resp.StatusCode, body))
	}

	var out rebalanceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if out.TxHash == "" {
		if out.Error != "" {
			return "", backoff.Permanent(fmt.Errorf("%w: %s", domain.ErrNoTxHash, out.Error))
		}
		return "", backoff.Permanent(domain.ErrNoTxHash)
	}
	if !isTxHash(out.TxHash) {
		return "", backoff.Permanent(fmt.Errorf("%w: malformed hash %q", domain.ErrNoTxHash, out.TxHash))
	}
	return common.HexToHash(out.TxHash).Hex(), nil
}

func isTxHash(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 2*common.HashLength {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}
