package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/buydetector/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetParsedTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetParsedTransactionOpts,
	) (*rpc.GetParsedTransactionResult, error)

	GetTokenAccountsByOwner(
		ctx context.Context,
		owner solana.PublicKey,
		conf *rpc.GetTokenAccountsConfig,
		opts *rpc.GetTokenAccountsOpts,
	) (*rpc.GetTokenAccountsResult, error)
}

// Client is the ledger query service used by the detector.
// It wraps the RPC client with domain-specific operations.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", rpc host)
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// LatestSignature returns the most recent transaction signature involving
// address. ok is false when the address has no history.
func (c *Client) LatestSignature(ctx context.Context, address solana.PublicKey) (string, bool, error) {
	limit := 1
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit: &limit,
	}

	start := time.Now()
	signatures, err := c.rpc.GetSignaturesForAddress(ctx, address, opts)
	c.recordCall("GetSignaturesForAddress", err, start)
	if err != nil {
		return "", false, fmt.Errorf("failed to get signatures for %s: %w", address, err)
	}

	if len(signatures) == 0 || signatures[0] == nil {
		c.logger.DebugContext(ctx, "no signatures for address", "wallet", address.String())
		return "", false, nil
	}

	sig := signatures[0].Signature.String()
	c.logger.DebugContext(ctx, "fetched latest signature",
		"wallet", address.String(),
		"signature", sig,
		"slot", signatures[0].Slot,
	)
	return sig, true, nil
}

// FetchTransaction fetches a transaction in jsonParsed encoding and decodes it.
// ok is false when the node does not (yet) have the transaction.
func (c *Client) FetchTransaction(ctx context.Context, signature string) (*TransactionRecord, bool, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, false, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	opts := &rpc.GetParsedTransactionOpts{
		MaxSupportedTransactionVersion: &[]uint64{0}[0],
	}

	start := time.Now()
	result, err := c.rpc.GetParsedTransaction(ctx, sig, opts)
	if errors.Is(err, rpc.ErrNotFound) {
		c.recordCall("GetParsedTransaction", nil, start)
		c.logger.DebugContext(ctx, "transaction not available yet", "signature", signature)
		return nil, false, nil
	}
	c.recordCall("GetParsedTransaction", err, start)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get transaction %s: %w", signature, err)
	}
	if result == nil {
		return nil, false, nil
	}

	rec, err := decodeParsedTransaction(signature, result)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode transaction %s: %w", signature, err)
	}
	return rec, true, nil
}

// parsedTokenAccount is the jsonParsed layout of an SPL token account.
type parsedTokenAccount struct {
	Parsed struct {
		Info struct {
			TokenAmount *rpc.UiTokenAmount `json:"tokenAmount"`
		} `json:"info"`
	} `json:"parsed"`
}

// TokenBalance sums the balances of every token account of mint owned by owner.
// Accounts whose data cannot be read are logged and skipped.
func (c *Client) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (decimal.Decimal, error) {
	start := time.Now()
	out, err := c.rpc.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{Mint: &mint},
		&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingJSONParsed},
	)
	c.recordCall("GetTokenAccountsByOwner", err, start)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get token accounts for %s: %w", owner, err)
	}
	if out == nil {
		return decimal.Zero, nil
	}

	total := decimal.Zero
	for _, acc := range out.Value {
		if acc == nil || acc.Account.Data == nil {
			continue
		}
		var parsed parsedTokenAccount
		if err := json.Unmarshal(acc.Account.Data.GetRawJSON(), &parsed); err != nil {
			c.logger.WarnContext(ctx, "failed to parse token account",
				"account", acc.Pubkey.String(),
				"error", err,
			)
			continue
		}
		amount, ok := uiTokenAmount(parsed.Parsed.Info.TokenAmount)
		if !ok {
			c.logger.WarnContext(ctx, "token account has no amount", "account", acc.Pubkey.String())
			continue
		}
		total = total.Add(amount)
	}

	c.logger.DebugContext(ctx, "fetched token balance",
		"owner", owner.String(),
		"mint", mint.String(),
		"accounts", len(out.Value),
		"total", total.String(),
	)
	return total, nil
}

func (c *Client) recordCall(method string, err error, start time.Time) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}
