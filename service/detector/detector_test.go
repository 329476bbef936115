package detector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/buydetector/service/metrics"
	natspkg "github.com/brojonat/buydetector/service/nats"
	"github.com/brojonat/buydetector/service/notify"
	"github.com/brojonat/buydetector/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLedger serves a fixed head signature and a set of transactions.
type mockLedger struct {
	mu           sync.Mutex
	head         string
	latestErr    error
	transactions map[string]*solana.TransactionRecord
	fetchErr     error
	fetchPanic   bool
	fetches      []string
}

func (m *mockLedger) setHead(sig string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = sig
}

func (m *mockLedger) LatestSignature(ctx context.Context, address solanago.PublicKey) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latestErr != nil {
		return "", false, m.latestErr
	}
	if m.head == "" {
		return "", false, nil
	}
	return m.head, true, nil
}

func (m *mockLedger) FetchTransaction(ctx context.Context, signature string) (*solana.TransactionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches = append(m.fetches, signature)
	if m.fetchPanic {
		panic("decoder exploded")
	}
	if m.fetchErr != nil {
		return nil, false, m.fetchErr
	}
	rec, ok := m.transactions[signature]
	return rec, ok, nil
}

func (m *mockLedger) put(sig string, rec *solana.TransactionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[sig] = rec
}

func (m *mockLedger) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fetches)
}

type mockPrice struct {
	price decimal.Decimal
	err   error
}

func (m *mockPrice) SpotPriceUSD(ctx context.Context, asset string) (decimal.Decimal, error) {
	return m.price, m.err
}

type mockBalance struct {
	balance decimal.Decimal
	err     error
}

func (m *mockBalance) TokenBalance(ctx context.Context, owner, mint solanago.PublicKey) (decimal.Decimal, error) {
	return m.balance, m.err
}

type detectorFixture struct {
	wallet    solanago.PublicKey
	sender    solanago.PublicKey
	ledger    *mockLedger
	sink      *notify.MockSink
	price     *mockPrice
	balance   *mockBalance
	publisher *natspkg.MockPublisher
	registry  *prometheus.Registry
	detector  *Detector
}

func newDetectorFixture(t *testing.T) *detectorFixture {
	t.Helper()
	f := &detectorFixture{
		wallet:    solanago.NewWallet().PublicKey(),
		sender:    solanago.NewWallet().PublicKey(),
		ledger:    &mockLedger{transactions: map[string]*solana.TransactionRecord{}},
		sink:      notify.NewMockSink(),
		price:     &mockPrice{price: d("150")},
		balance:   &mockBalance{balance: d("25")},
		publisher: natspkg.NewMockPublisher(),
		registry:  prometheus.NewRegistry(),
	}

	det, err := New(Config{
		Wallet:       f.wallet,
		Mint:         solanago.WrappedSol,
		PollInterval: 10 * time.Millisecond,
		PriceAsset:   "solana",
		Recipients:   []string{"-1001", "-1002"},
		Formatter:    Formatter{ProjectName: "Test", SoftCap: d("50")},
	}, Dependencies{
		Ledger:    f.ledger,
		Sink:      f.sink,
		Price:     f.price,
		Balance:   f.balance,
		Publisher: f.publisher,
	}, metrics.NewMetrics(f.registry), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	f.detector = det
	return f
}

// buy adds a transaction sending raw wrapped SOL units to the wallet.
func (f *detectorFixture) buy(sig string, raw uint64) {
	f.ledger.put(sig, &solana.TransactionRecord{
		Signature: sig,
		Slot:      42,
		BlockTime: time.Unix(1_700_000_000, 0),
		Instructions: []solana.Instruction{
			tokenTransferIx(f.sender.String(), f.wallet.String(), solanago.WrappedSol.String(), raw),
		},
	})
}

// cycles returns detector_cycles_total for outcome.
func (f *detectorFixture) cycles(t *testing.T, outcome Outcome) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "detector_cycles_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["wallet_address"] == f.wallet.String() && labels["outcome"] == string(outcome) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestRunCycle_EndToEnd(t *testing.T) {
	f := newDetectorFixture(t)
	f.buy("sig1", 2_000_000_000)
	f.ledger.setHead("sig1")

	outcome, err := f.detector.RunCycle(context.Background(), NewDedupState())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotified, outcome)

	require.Equal(t, 1, f.sink.DeliveryCount())
	delivery := f.sink.Deliveries()[0]
	assert.Equal(t, []string{"-1001", "-1002"}, delivery.Recipients)
	assert.Contains(t, delivery.Message.Text, "2.0000 SOL (~$300.00)")
	assert.Contains(t, delivery.Message.Text, f.sender.String())
	assert.Contains(t, delivery.Message.Text, "25.0000 SOL (~$3,750.00)")

	events := f.publisher.GetPublishedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "sig1", events[0].Signature)
	assert.Equal(t, uint64(42), events[0].Slot)
	assert.Equal(t, f.wallet.String(), events[0].WalletAddress)
	assert.Equal(t, f.sender.String(), events[0].Source)
	assert.Equal(t, "2", events[0].Amount.String())
	assert.Equal(t, string(StrategyTokenTransfer), events[0].Strategy)
	require.NotNil(t, events[0].USDValue)
	assert.Equal(t, "300", events[0].USDValue.String())
	require.NotNil(t, events[0].BlockTime)
	assert.NotEmpty(t, events[0].EventID)

	assert.Equal(t, 1.0, f.cycles(t, OutcomeNotified))
}

func TestRunCycle_DedupAcrossCycles(t *testing.T) {
	f := newDetectorFixture(t)
	f.buy("sig1", 1_000_000_000)
	f.buy("sig2", 3_000_000_000)
	state := NewDedupState()
	ctx := context.Background()

	f.ledger.setHead("sig1")
	for i := 0; i < 3; i++ {
		_, err := f.detector.RunCycle(ctx, state)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.sink.DeliveryCount())
	assert.Equal(t, 1, f.ledger.fetchCount())

	f.ledger.setHead("sig2")
	outcome, err := f.detector.RunCycle(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotified, outcome)

	outcome, err = f.detector.RunCycle(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadySeen, outcome)

	assert.Equal(t, 2, f.sink.DeliveryCount())
	assert.Equal(t, 3.0, f.cycles(t, OutcomeAlreadySeen))
}

func TestRunCycle_FirstCycleIgnoresResumedCursor(t *testing.T) {
	f := newDetectorFixture(t)
	f.buy("sig1", 1_000_000_000)
	f.ledger.setHead("sig1")
	state := ResumeDedupState("sig1")

	outcome, err := f.detector.RunCycle(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotified, outcome)

	outcome, err = f.detector.RunCycle(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadySeen, outcome)
	assert.Equal(t, 1, f.sink.DeliveryCount())
}

func TestRunCycle_NoHistory(t *testing.T) {
	f := newDetectorFixture(t)
	state := NewDedupState()

	outcome, err := f.detector.RunCycle(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoHistory, outcome)
	assert.False(t, state.HasProcessedAny())
	assert.Equal(t, 0, f.ledger.fetchCount())
}

func TestRunCycle_UnavailableLeavesCursor(t *testing.T) {
	f := newDetectorFixture(t)
	f.ledger.setHead("pending")
	state := NewDedupState()

	outcome, err := f.detector.RunCycle(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnavailable, outcome)
	assert.False(t, state.HasProcessedAny())

	// Retried next cycle once the node has it.
	f.buy("pending", 1_000_000_000)
	outcome, err = f.detector.RunCycle(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotified, outcome)
	assert.Equal(t, 2, f.ledger.fetchCount())
}

func TestRunCycle_NoTransferAdvancesCursor(t *testing.T) {
	f := newDetectorFixture(t)
	f.ledger.transactions["outgoing"] = &solana.TransactionRecord{
		Instructions: []solana.Instruction{
			nativeTransferIx(f.wallet.String(), f.sender.String(), 1_000_000_000),
		},
	}
	f.ledger.setHead("outgoing")
	state := NewDedupState()

	outcome, err := f.detector.RunCycle(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoTransfer, outcome)
	last, ok := state.LastSeen()
	require.True(t, ok)
	assert.Equal(t, "outgoing", last)

	outcome, err = f.detector.RunCycle(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadySeen, outcome)
	assert.Equal(t, 1, f.ledger.fetchCount())
	assert.Equal(t, 0, f.sink.DeliveryCount())
	assert.Equal(t, 0, f.publisher.GetPublishedEventCount())
}

func TestRunCycle_FailedTransactionIsNotATransfer(t *testing.T) {
	f := newDetectorFixture(t)
	f.buy("failed", 1_000_000_000)
	txErr := `{"InstructionError":[0,"Custom"]}`
	f.ledger.transactions["failed"].Err = &txErr
	f.ledger.setHead("failed")

	outcome, err := f.detector.RunCycle(context.Background(), NewDedupState())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoTransfer, outcome)
	assert.Equal(t, 0, f.sink.DeliveryCount())
}

func TestRunCycle_LedgerErrors(t *testing.T) {
	t.Run("latest signature", func(t *testing.T) {
		f := newDetectorFixture(t)
		f.ledger.latestErr = errors.New("connection refused")
		state := NewDedupState()

		outcome, err := f.detector.RunCycle(context.Background(), state)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		assert.Equal(t, OutcomeError, outcome)
		assert.False(t, state.HasProcessedAny())
		assert.Equal(t, 1.0, f.cycles(t, OutcomeError))
	})

	t.Run("fetch", func(t *testing.T) {
		f := newDetectorFixture(t)
		f.ledger.setHead("sig1")
		f.ledger.fetchErr = errors.New("429 too many requests")
		state := NewDedupState()

		outcome, err := f.detector.RunCycle(context.Background(), state)
		require.Error(t, err)
		assert.Equal(t, OutcomeError, outcome)
		assert.False(t, state.HasProcessedAny())
	})

	t.Run("panic", func(t *testing.T) {
		f := newDetectorFixture(t)
		f.ledger.setHead("sig1")
		f.ledger.fetchPanic = true

		outcome, err := f.detector.RunCycle(context.Background(), NewDedupState())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decoder exploded")
		assert.Equal(t, OutcomeError, outcome)
	})
}

func TestRunCycle_CollaboratorFailuresAreBestEffort(t *testing.T) {
	f := newDetectorFixture(t)
	f.buy("sig1", 2_000_000_000)
	f.ledger.setHead("sig1")
	f.price.err = errors.New("price API down")
	f.balance.err = errors.New("rpc down")
	f.sink.FailFor("-1001", errors.New("chat not found"))
	f.publisher.SetPublishError(errors.New("nats down"))

	outcome, err := f.detector.RunCycle(context.Background(), NewDedupState())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotified, outcome)

	require.Equal(t, 1, f.sink.DeliveryCount())
	text := f.sink.Deliveries()[0].Message.Text
	assert.Contains(t, text, "2.0000 SOL (~$0.00)")
	assert.Contains(t, text, "0.0000 SOL (~$0.00)")
	assert.True(t, strings.HasPrefix(text, "💸"))
}

func TestRunCycle_OptionalCollaboratorsDisabled(t *testing.T) {
	ledger := &mockLedger{transactions: map[string]*solana.TransactionRecord{}}
	sink := notify.NewMockSink()
	wallet := solanago.NewWallet().PublicKey()

	det, err := New(Config{
		Wallet:       wallet,
		Mint:         solanago.WrappedSol,
		PollInterval: time.Second,
		Recipients:   []string{"1"},
	}, Dependencies{Ledger: ledger, Sink: sink}, nil, nil)
	require.NoError(t, err)

	ledger.transactions["sig"] = &solana.TransactionRecord{
		PostTokenBalances: []solana.TokenBalance{balance(1, wallet.String(), solanago.WrappedSol.String(), "0.5")},
	}
	ledger.setHead("sig")

	outcome, err := det.RunCycle(context.Background(), NewDedupState())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotified, outcome)
	assert.Contains(t, sink.Deliveries()[0].Message.Text, "`unknown`")
}

func TestNew_Validation(t *testing.T) {
	wallet := solanago.NewWallet().PublicKey()
	ledger := &mockLedger{}
	sink := notify.NewMockSink()
	cfg := Config{Wallet: wallet, Mint: solanago.WrappedSol, PollInterval: time.Second}

	_, err := New(cfg, Dependencies{Sink: sink}, nil, nil)
	assert.ErrorContains(t, err, "ledger is required")

	_, err = New(cfg, Dependencies{Ledger: ledger}, nil, nil)
	assert.ErrorContains(t, err, "sink is required")

	bad := cfg
	bad.Wallet = solanago.PublicKey{}
	_, err = New(bad, Dependencies{Ledger: ledger, Sink: sink}, nil, nil)
	assert.ErrorContains(t, err, "wallet is required")

	bad = cfg
	bad.PollInterval = 0
	_, err = New(bad, Dependencies{Ledger: ledger, Sink: sink}, nil, nil)
	assert.ErrorContains(t, err, "poll interval")
}

func TestSelfTest(t *testing.T) {
	f := newDetectorFixture(t)

	require.NoError(t, f.detector.SelfTest(context.Background()))
	require.Equal(t, 1, f.sink.DeliveryCount())
	assert.Contains(t, f.sink.Deliveries()[0].Message.Text, "Test BuyDetector™ is live")

	f.sink.FailFor("-1002", errors.New("blocked"))
	err := f.detector.SelfTest(context.Background())
	assert.ErrorContains(t, err, "blocked")
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	f := newDetectorFixture(t)
	f.buy("sig1", 1_000_000_000)
	f.ledger.setHead("sig1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.detector.Run(ctx, NewDedupState())
	}()

	require.Eventually(t, func() bool {
		return f.sink.DeliveryCount() == 1
	}, time.Second, 5*time.Millisecond)

	f.buy("sig2", 1_000_000_000)
	f.ledger.setHead("sig2")
	require.Eventually(t, func() bool {
		return f.sink.DeliveryCount() == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 2, f.sink.DeliveryCount())
}

func TestLastCycleAt(t *testing.T) {
	f := newDetectorFixture(t)
	assert.True(t, f.detector.LastCycleAt().IsZero())

	before := time.Now()
	_, err := f.detector.RunCycle(context.Background(), NewDedupState())
	require.NoError(t, err)
	assert.False(t, f.detector.LastCycleAt().Before(before))
}
