// Package detector watches one wallet for incoming transfers and notifies
// about each new one.
//
// Every poll cycle asks the ledger for the newest signature on the wallet,
// consults the wallet's DedupState, fetches and decodes the transaction,
// extracts the incoming transfer and, if there is one, renders and delivers
// a notification. Cycles run sequentially on one goroutine; a failed cycle is
// logged and retried on the next tick.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/brojonat/buydetector/service/metrics"
	natspkg "github.com/brojonat/buydetector/service/nats"
	"github.com/brojonat/buydetector/service/notify"
	"github.com/brojonat/buydetector/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger reads transaction history.
type Ledger interface {
	LatestSignature(ctx context.Context, address solanago.PublicKey) (string, bool, error)
	FetchTransaction(ctx context.Context, signature string) (*solana.TransactionRecord, bool, error)
}

// PriceOracle returns a USD spot price.
type PriceOracle interface {
	SpotPriceUSD(ctx context.Context, asset string) (decimal.Decimal, error)
}

// BalanceQuery returns a wallet's balance of a token.
type BalanceQuery interface {
	TokenBalance(ctx context.Context, owner, mint solanago.PublicKey) (decimal.Decimal, error)
}

// Sink delivers notifications.
type Sink interface {
	Deliver(ctx context.Context, msg notify.Message, recipients []string) error
}

// EventPublisher publishes detected transfers to downstream consumers.
type EventPublisher interface {
	PublishTransfer(ctx context.Context, event *natspkg.TransferEvent) error
}

// Outcome is how a detection cycle ended.
type Outcome string

const (
	OutcomeNoHistory   Outcome = "no_history"
	OutcomeAlreadySeen Outcome = "already_seen"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeNoTransfer  Outcome = "no_transfer"
	OutcomeNotified    Outcome = "notified"
	OutcomeError       Outcome = "error"
)

// Config configures a Detector.
type Config struct {
	Wallet       solanago.PublicKey
	Mint         solanago.PublicKey
	PollInterval time.Duration
	PriceAsset   string
	Recipients   []string
	Formatter    Formatter
}

// Dependencies are the Detector's collaborators. Ledger and Sink are
// required; a nil Price, Balance or Publisher disables that feature.
type Dependencies struct {
	Ledger    Ledger
	Sink      Sink
	Price     PriceOracle
	Balance   BalanceQuery
	Publisher EventPublisher
}

// Detector runs detection cycles for one wallet.
type Detector struct {
	cfg     Config
	deps    Dependencies
	target  Target
	metrics *metrics.Metrics
	logger  *slog.Logger

	lastCycle atomic.Int64 // unix nanos of the last finished cycle
}

// New creates a Detector.
func New(cfg Config, deps Dependencies, m *metrics.Metrics, logger *slog.Logger) (*Detector, error) {
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.Wallet.IsZero() {
		return nil, fmt.Errorf("wallet is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", cfg.PollInterval)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Detector{
		cfg:     cfg,
		deps:    deps,
		target:  NewTarget(cfg.Wallet, cfg.Mint),
		metrics: m,
		logger:  logger.With("wallet", cfg.Wallet.String()),
	}, nil
}

// Target returns what the detector counts as an incoming transfer.
func (d *Detector) Target() Target {
	return d.target
}

// LastCycleAt returns when the last cycle finished, zero before the first.
// Safe to call from other goroutines.
func (d *Detector) LastCycleAt() time.Time {
	ns := d.lastCycle.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// SelfTest sends the startup message through the sink.
func (d *Detector) SelfTest(ctx context.Context) error {
	if err := d.deps.Sink.Deliver(ctx, d.cfg.Formatter.StartupMessage(), d.cfg.Recipients); err != nil {
		return fmt.Errorf("failed to deliver startup message: %w", err)
	}
	d.logger.InfoContext(ctx, "startup message delivered", "recipients", len(d.cfg.Recipients))
	return nil
}

// Run polls until ctx is cancelled. The first cycle starts immediately and
// each following one starts PollInterval after the previous one finished.
func (d *Detector) Run(ctx context.Context, state *DedupState) error {
	d.logger.InfoContext(ctx, "detector started",
		"poll_interval", d.cfg.PollInterval,
		"mint", d.target.Mint,
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "detector stopped")
			return nil
		case <-timer.C:
		}

		// Errors are logged and counted inside RunCycle.
		_, _ = d.RunCycle(ctx, state)
		timer.Reset(d.cfg.PollInterval)
	}
}

// RunCycle performs one detection cycle against state. It never panics; a
// returned error has already been logged and only describes this cycle.
func (d *Detector) RunCycle(ctx context.Context, state *DedupState) (outcome Outcome, err error) {
	start := time.Now()
	logger := d.logger.With("cycle_id", uuid.NewString())

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in detection cycle: %v", r)
		}
		if err != nil {
			outcome = OutcomeError
			logger.ErrorContext(ctx, "detection cycle failed", "error", err)
		}
		if d.metrics != nil {
			d.metrics.RecordCycle(d.target.Wallet, string(outcome), time.Since(start).Seconds())
		}
		d.lastCycle.Store(time.Now().UnixNano())
	}()

	return d.runCycle(ctx, logger, state)
}

func (d *Detector) runCycle(ctx context.Context, logger *slog.Logger, state *DedupState) (Outcome, error) {
	signature, ok, err := d.deps.Ledger.LatestSignature(ctx, d.cfg.Wallet)
	if err != nil {
		return OutcomeError, fmt.Errorf("failed to get latest signature: %w", err)
	}
	if !ok {
		logger.DebugContext(ctx, "wallet has no transaction history")
		return OutcomeNoHistory, nil
	}

	logger = logger.With("signature", signature)
	if !state.ShouldProcess(signature) {
		logger.DebugContext(ctx, "no new transaction")
		return OutcomeAlreadySeen, nil
	}

	logger.InfoContext(ctx, "checking transaction")
	rec, ok, err := d.deps.Ledger.FetchTransaction(ctx, signature)
	if err != nil {
		return OutcomeError, fmt.Errorf("failed to fetch transaction %s: %w", signature, err)
	}
	if !ok {
		logger.WarnContext(ctx, "transaction not available yet")
		return OutcomeUnavailable, nil
	}

	// Advance before extracting so a transaction without a transfer is
	// not fetched again on every tick.
	state.Advance(signature)

	if rec.Err != nil {
		logger.InfoContext(ctx, "skipping failed transaction", "tx_error", *rec.Err)
		return OutcomeNoTransfer, nil
	}

	transfer, found := Extract(rec, d.target)
	if !found {
		logger.InfoContext(ctx, "no incoming transfer in transaction")
		return OutcomeNoTransfer, nil
	}

	logger.InfoContext(ctx, "incoming transfer detected",
		"amount_sol", transfer.Amount.String(),
		"source", transfer.Source,
		"strategy", string(transfer.Strategy),
	)
	if d.metrics != nil {
		d.metrics.RecordTransferDetected(d.target.Wallet, string(transfer.Strategy), transfer.Amount.InexactFloat64())
	}

	price := d.spotPrice(ctx, logger)
	balance := d.walletBalance(ctx, logger)

	msg := d.cfg.Formatter.Format(Notification{
		Signature:     signature,
		Transfer:      transfer,
		PriceUSD:      price,
		WalletBalance: balance,
	})
	if err := d.deps.Sink.Deliver(ctx, msg, d.cfg.Recipients); err != nil {
		// Per-recipient failures were logged by the sink.
		logger.WarnContext(ctx, "notification partially delivered", "error", err)
	} else {
		logger.InfoContext(ctx, "notification delivered")
	}

	d.publish(ctx, logger, signature, rec, transfer, price)
	return OutcomeNotified, nil
}

// spotPrice returns zero when the oracle is disabled or fails.
func (d *Detector) spotPrice(ctx context.Context, logger *slog.Logger) decimal.Decimal {
	if d.deps.Price == nil {
		return decimal.Zero
	}
	price, err := d.deps.Price.SpotPriceUSD(ctx, d.cfg.PriceAsset)
	if err != nil {
		logger.WarnContext(ctx, "price unavailable, using zero", "error", err)
		return decimal.Zero
	}
	return price
}

// walletBalance returns zero when the balance query is disabled or fails.
func (d *Detector) walletBalance(ctx context.Context, logger *slog.Logger) decimal.Decimal {
	if d.deps.Balance == nil {
		return decimal.Zero
	}
	balance, err := d.deps.Balance.TokenBalance(ctx, d.cfg.Wallet, d.cfg.Mint)
	if err != nil {
		logger.WarnContext(ctx, "wallet balance unavailable, using zero", "error", err)
		return decimal.Zero
	}
	return balance
}

func (d *Detector) publish(ctx context.Context, logger *slog.Logger, signature string, rec *solana.TransactionRecord, transfer TransferEvent, price decimal.Decimal) {
	if d.deps.Publisher == nil {
		return
	}

	event := natspkg.NewTransferEvent(signature, rec.Slot, d.target.Wallet, transfer.Source, transfer.Amount, string(transfer.Strategy))
	if price.IsPositive() {
		usd := transfer.Amount.Mul(price).Round(2)
		event.USDValue = &usd
	}
	if !rec.BlockTime.IsZero() {
		blockTime := rec.BlockTime.UTC()
		event.BlockTime = &blockTime
	}

	if err := d.deps.Publisher.PublishTransfer(ctx, event); err != nil {
		logger.ErrorContext(ctx, "failed to publish transfer event", "error", err)
		return
	}
	logger.DebugContext(ctx, "transfer event published", "event_id", event.EventID)
}
