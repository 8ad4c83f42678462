package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	refundApp "github.com/cassiomorais/chainpay/internal/application/refund"
	domainErrors "github.com/cassiomorais/chainpay/internal/domain/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const transfersPath = "/v1/transfers"

// SignerClient submits refund transfers to the signer service, which holds
// the hot-wallet keys and broadcasts transactions.
type SignerClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewSignerClient(baseURL string, timeout time.Duration) *SignerClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SignerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type transferRequest struct {
	Reference string `json:"reference"`
	Network   string `json:"network"`
	Token     string `json:"token"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type transferResponse struct {
	Success              bool    `json:"success"`
	TxHash               string  `json:"tx_hash"`
	BlockNumber          *uint64 `json:"block_number"`
	PendingConfirmations int     `json:"pending_confirmations"`
	Error                string  `json:"error"`
}

func (c *SignerClient) ExecuteRefund(ctx context.Context, req refundApp.TransferRequest) (*refundApp.TransferResult, error) {
	body, err := json.Marshal(transferRequest{
		Reference: req.Reference,
		Network:   req.Network,
		Token:     req.Token,
		Recipient: req.RecipientAddress,
		Amount:    req.Amount.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal transfer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+transfersPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build transfer request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.Reference)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrExecutorUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domainErrors.ErrExecutorUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: signer returned %d", domainErrors.ErrExecutorUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		// Rejected outright; the transfer was never broadcast.
		var out transferResponse
		_ = json.Unmarshal(raw, &out)
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("signer rejected transfer with status %d", resp.StatusCode)
		}
		return &refundApp.TransferResult{Success: false, Error: msg}, nil
	}

	var out transferResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domainErrors.ErrExecutorUnavailable, err)
	}
	return &refundApp.TransferResult{
		Success:              out.Success,
		TxHash:               out.TxHash,
		BlockNumber:          out.BlockNumber,
		PendingConfirmations: out.PendingConfirmations,
		Error:                out.Error,
	}, nil
}
