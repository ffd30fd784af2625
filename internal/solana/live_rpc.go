package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Live RPC Client — real Solana JSON-RPC with rate limiting & retry
// ---------------------------------------------------------------------------

// LiveRPCClient connects to a real Solana RPC endpoint.
type LiveRPCClient struct {
	config     RPCConfig
	httpClient *http.Client

	// Rate limiter (token bucket).
	limiter       chan struct{}
	limiterCancel context.CancelFunc

	// Unique request ID generator.
	nextID atomic.Int64

	// Circuit breaker.
	consecutiveErrors atomic.Int64
	circuitOpen       atomic.Bool

	// Stats.
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

const (
	circuitBreakerThreshold = 10 // open after 10 consecutive errors
	circuitBreakerCooldown  = 30 * time.Second

	// signaturePageLimit is the hard cap getSignaturesForAddress accepts.
	signaturePageLimit = 1000
)

// NewLiveRPCClient creates a live Solana RPC client.
func NewLiveRPCClient(config RPCConfig) *LiveRPCClient {
	def := DefaultRPCConfig()
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = def.RateLimitRPS
	}

	bucketSize := int(config.RateLimitRPS)
	if bucketSize < 1 {
		bucketSize = 1
	}
	limiter := make(chan struct{}, bucketSize)
	for i := 0; i < bucketSize; i++ {
		limiter <- struct{}{}
	}

	limiterCtx, limiterCancel := context.WithCancel(context.Background())

	client := &LiveRPCClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:       limiter,
		limiterCancel: limiterCancel,
	}

	// Refill tokens at the configured RPS.
	go func() {
		interval := time.Duration(float64(time.Second) / config.RateLimitRPS)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-limiterCtx.Done():
				return
			case <-ticker.C:
				select {
				case client.limiter <- struct{}{}:
				default: // bucket full
				}
			}
		}
	}()

	return client
}

// Close shuts down the RPC client.
func (c *LiveRPCClient) Close() {
	c.limiterCancel()
}

// RPCStats is a snapshot of client counters.
type RPCStats struct {
	RequestCount int64 `json:"request_count"`
	ErrorCount   int64 `json:"error_count"`
}

// Stats returns request/error counters.
func (c *LiveRPCClient) Stats() RPCStats {
	return RPCStats{
		RequestCount: c.requestCount.Load(),
		ErrorCount:   c.errorCount.Load(),
	}
}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call makes a rate-limited, retried JSON-RPC call.
func (c *LiveRPCClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if c.circuitOpen.Load() {
		return nil, fmt.Errorf("rpc: circuit breaker open for %s (too many consecutive errors)", method)
	}

	// Acquire rate limit token.
	select {
	case <-c.limiter:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	var lastErr error
	rateLimited := false
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelay(attempt, rateLimited)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		rateLimited = false

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("rpc: create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("rpc: %s http error: %w", method, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("rpc: %s read response: %w", method, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		c.requestCount.Add(1)

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rpc: %s rate limited (429)", method)
			c.errorCount.Add(1)
			// Not a circuit-breaker error; the next loop iteration waits the
			// longer rate-limit delay instead of the generic backoff.
			rateLimited = true
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("rpc: %s HTTP %d: %s", method, resp.StatusCode, string(respBody))
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("rpc: %s unmarshal response: %w", method, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		if rpcResp.Error != nil {
			c.resetErrors()
			return nil, fmt.Errorf("rpc: %s error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
		}

		c.resetErrors()
		return rpcResp.Result, nil
	}

	return nil, fmt.Errorf("rpc: %s failed after %d attempts: %w", method, c.config.MaxRetries+1, lastErr)
}

// retryDelay returns how long to wait before the given retry attempt. A
// rate-limited previous attempt gets one longer wait that replaces the
// generic exponential backoff; the two never stack.
func retryDelay(attempt int, rateLimited bool) time.Duration {
	if rateLimited {
		return time.Duration(2<<uint(attempt)) * time.Second
	}
	return time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
}

// recordError increments consecutive errors and opens the circuit breaker
// past the threshold.
func (c *LiveRPCClient) recordError() {
	count := c.consecutiveErrors.Add(1)
	if count >= circuitBreakerThreshold {
		if c.circuitOpen.CompareAndSwap(false, true) {
			log.Error().Int64("errors", count).Msg("rpc: circuit breaker open, too many consecutive errors")
			go func() {
				time.Sleep(circuitBreakerCooldown)
				c.circuitOpen.Store(false)
				c.consecutiveErrors.Store(0)
				log.Info().Msg("rpc: circuit breaker reset")
			}()
		}
	}
}

func (c *LiveRPCClient) resetErrors() {
	c.consecutiveErrors.Store(0)
}

// ---------------------------------------------------------------------------
// RPCClient interface implementation
// ---------------------------------------------------------------------------

// GetMintInfo fetches mint state via getAccountInfo with jsonParsed encoding.
func (c *LiveRPCClient) GetMintInfo(ctx context.Context, mint Pubkey) (*MintInfo, error) {
	result, err := c.call(ctx, "getAccountInfo", []any{
		string(mint),
		map[string]any{"encoding": "jsonParsed"},
	})
	if err != nil {
		return nil, err
	}

	var accountResp struct {
		Value *struct {
			Data struct {
				Parsed struct {
					Type string `json:"type"`
					Info struct {
						Decimals        uint8  `json:"decimals"`
						Supply          string `json:"supply"`
						MintAuthority   string `json:"mintAuthority"`
						FreezeAuthority string `json:"freezeAuthority"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"value"`
	}

	if err := json.Unmarshal(result, &accountResp); err != nil {
		return nil, fmt.Errorf("rpc: parse mint info: %w", err)
	}
	if accountResp.Value == nil {
		return nil, fmt.Errorf("rpc: mint %s not found", mint)
	}
	if accountResp.Value.Data.Parsed.Type != "mint" {
		return nil, fmt.Errorf("rpc: account %s is not a mint", mint)
	}

	info := accountResp.Value.Data.Parsed.Info
	supply, _ := decimal.NewFromString(info.Supply)

	return &MintInfo{
		Mint:            mint,
		Decimals:        info.Decimals,
		Supply:          supply,
		MintAuthority:   Pubkey(info.MintAuthority),
		FreezeAuthority: Pubkey(info.FreezeAuthority),
	}, nil
}

// GetSignaturesForAddress lists signatures involving addr, newest first.
func (c *LiveRPCClient) GetSignaturesForAddress(ctx context.Context, addr Pubkey, limit int, before Signature) ([]SignatureInfo, error) {
	if limit <= 0 || limit > signaturePageLimit {
		limit = signaturePageLimit
	}

	opts := map[string]any{"limit": limit}
	if before != "" {
		opts["before"] = string(before)
	}

	result, err := c.call(ctx, "getSignaturesForAddress", []any{string(addr), opts})
	if err != nil {
		return nil, err
	}

	var entries []struct {
		Signature string          `json:"signature"`
		Slot      uint64          `json:"slot"`
		BlockTime *int64          `json:"blockTime"`
		Err       json.RawMessage `json:"err"`
	}
	if err := json.Unmarshal(result, &entries); err != nil {
		return nil, fmt.Errorf("rpc: parse signatures: %w", err)
	}

	out := make([]SignatureInfo, 0, len(entries))
	for _, e := range entries {
		info := SignatureInfo{
			Signature: Signature(e.Signature),
			Slot:      e.Slot,
			Failed:    string(e.Err) != "null" && len(e.Err) > 0,
		}
		if e.BlockTime != nil {
			info.BlockTime = time.Unix(*e.BlockTime, 0).UTC()
		}
		out = append(out, info)
	}
	return out, nil
}

// parsedInstruction is the jsonParsed wire shape for an instruction.
type parsedInstruction struct {
	ProgramID string   `json:"programId"`
	Program   string   `json:"program"`
	Accounts  []string `json:"accounts"`
	Parsed    *struct {
		Type string         `json:"type"`
		Info map[string]any `json:"info"`
	} `json:"parsed"`
}

func (p parsedInstruction) toInfo() InstructionInfo {
	info := InstructionInfo{
		ProgramID: Pubkey(p.ProgramID),
		Program:   p.Program,
	}
	for _, a := range p.Accounts {
		info.Accounts = append(info.Accounts, Pubkey(a))
	}
	if p.Parsed != nil {
		info.Type = p.Parsed.Type
		info.Info = p.Parsed.Info
	}
	return info
}

// GetTransaction fetches a confirmed transaction with parsed instructions.
// Inner (CPI) instructions are appended after the top-level ones, since
// launchpads initialize mints via CPI.
func (c *LiveRPCClient) GetTransaction(ctx context.Context, sig Signature) (*TransactionDetail, error) {
	result, err := c.call(ctx, "getTransaction", []any{
		string(sig),
		map[string]any{
			"encoding":                       "jsonParsed",
			"maxSupportedTransactionVersion": 0,
		},
	})
	if err != nil {
		return nil, err
	}

	var txResp struct {
		Slot        uint64 `json:"slot"`
		BlockTime   *int64 `json:"blockTime"`
		Transaction struct {
			Message struct {
				AccountKeys []struct {
					Pubkey string `json:"pubkey"`
					Signer bool   `json:"signer"`
				} `json:"accountKeys"`
				Instructions []parsedInstruction `json:"instructions"`
			} `json:"message"`
		} `json:"transaction"`
		Meta *struct {
			InnerInstructions []struct {
				Instructions []parsedInstruction `json:"instructions"`
			} `json:"innerInstructions"`
		} `json:"meta"`
	}

	if err := json.Unmarshal(result, &txResp); err != nil {
		return nil, fmt.Errorf("rpc: parse transaction %s: %w", sig, err)
	}
	if len(txResp.Transaction.Message.AccountKeys) == 0 {
		return nil, fmt.Errorf("rpc: transaction %s not found", sig)
	}

	detail := &TransactionDetail{
		Signature: sig,
		Slot:      txResp.Slot,
	}
	if txResp.BlockTime != nil {
		detail.BlockTime = time.Unix(*txResp.BlockTime, 0).UTC()
	}

	for _, key := range txResp.Transaction.Message.AccountKeys {
		if key.Signer {
			detail.Signers = append(detail.Signers, Pubkey(key.Pubkey))
		}
	}

	for _, inst := range txResp.Transaction.Message.Instructions {
		detail.Instructions = append(detail.Instructions, inst.toInfo())
	}
	if txResp.Meta != nil {
		for _, inner := range txResp.Meta.InnerInstructions {
			for _, inst := range inner.Instructions {
				detail.Instructions = append(detail.Instructions, inst.toInfo())
			}
		}
	}

	return detail, nil
}

// Health checks the RPC endpoint via getHealth.
func (c *LiveRPCClient) Health(ctx context.Context) error {
	result, err := c.call(ctx, "getHealth", nil)
	if err != nil {
		return err
	}

	var status string
	if err := json.Unmarshal(result, &status); err != nil {
		return fmt.Errorf("rpc: parse health: %w", err)
	}
	if status != "ok" {
		return fmt.Errorf("rpc: unhealthy endpoint: %s", status)
	}
	return nil
}
