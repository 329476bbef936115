package detector

import (
	"math/big"

	"github.com/brojonat/buydetector/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Strategy names the extraction step that produced a TransferEvent.
type Strategy string

const (
	StrategyTokenTransfer  Strategy = "token_transfer"
	StrategyNativeTransfer Strategy = "native_transfer"
	StrategyBalanceDelta   Strategy = "balance_delta"
)

// UnknownSource is the source of transfers inferred from balance changes.
const UnknownSource = "unknown"

// solDecimals is the raw unit scale of both lamports and wrapped SOL.
const solDecimals = 9

// TransferEvent is an incoming transfer to the watched wallet. Amount is in
// SOL and always positive.
type TransferEvent struct {
	Amount      decimal.Decimal
	Source      string
	Destination string
	Strategy    Strategy
}

// Target identifies what counts as an incoming transfer.
type Target struct {
	Wallet string
	Mint   string
	// WalletATA is the wallet's associated token account for Mint. Empty if
	// it could not be derived.
	WalletATA string
}

// NewTarget builds a Target for wallet receiving mint.
func NewTarget(wallet, mint solanago.PublicKey) Target {
	t := Target{Wallet: wallet.String(), Mint: mint.String()}
	if ata, _, err := solanago.FindAssociatedTokenAddress(wallet, mint); err == nil {
		t.WalletATA = ata.String()
	}
	return t
}

type extractStrategy func(rec *solana.TransactionRecord, target Target) (TransferEvent, bool)

// strategies run in order; the first positive amount wins.
var strategies = []extractStrategy{
	scanTokenTransfers,
	scanNativeTransfers,
	balanceDelta,
}

// Extract finds the incoming transfer to target in rec. It returns false
// when the transaction moved nothing to the wallet.
func Extract(rec *solana.TransactionRecord, target Target) (TransferEvent, bool) {
	if rec == nil {
		return TransferEvent{}, false
	}
	for _, strategy := range strategies {
		if ev, ok := strategy(rec, target); ok && ev.Amount.IsPositive() {
			return ev, true
		}
	}
	return TransferEvent{}, false
}

// scanTokenTransfers checks top-level instructions, then every inner group.
func scanTokenTransfers(rec *solana.TransactionRecord, target Target) (TransferEvent, bool) {
	if ev, ok := matchTokenTransfer(rec.Instructions, target); ok {
		return ev, true
	}
	for _, group := range rec.InnerInstructions {
		if ev, ok := matchTokenTransfer(group.Instructions, target); ok {
			return ev, true
		}
	}
	return TransferEvent{}, false
}

func matchTokenTransfer(instructions []solana.Instruction, target Target) (TransferEvent, bool) {
	for _, ix := range instructions {
		if ix.Kind != solana.InstructionTokenTransfer || ix.TokenTransfer == nil {
			continue
		}
		tt := ix.TokenTransfer
		if !tokenTransferTargets(tt, target) {
			continue
		}
		amount := fromRawUnits(tt.Amount)
		if !amount.IsPositive() {
			continue
		}
		return TransferEvent{
			Amount:      amount,
			Source:      tt.Source,
			Destination: tt.Destination,
			Strategy:    StrategyTokenTransfer,
		}, true
	}
	return TransferEvent{}, false
}

func tokenTransferTargets(tt *solana.TokenTransfer, target Target) bool {
	// The associated token account can only hold Mint.
	if target.WalletATA != "" && tt.Destination == target.WalletATA {
		return tt.Mint == "" || tt.Mint == target.Mint
	}
	if tt.Mint != target.Mint {
		return false
	}
	return tt.Destination == target.Wallet || tt.DestinationOwner == target.Wallet
}

// scanNativeTransfers checks top-level System Program transfers only.
func scanNativeTransfers(rec *solana.TransactionRecord, target Target) (TransferEvent, bool) {
	for _, ix := range rec.Instructions {
		if ix.Kind != solana.InstructionNativeTransfer || ix.NativeTransfer == nil {
			continue
		}
		nt := ix.NativeTransfer
		if nt.Destination != target.Wallet {
			continue
		}
		amount := fromRawUnits(nt.Lamports)
		if !amount.IsPositive() {
			continue
		}
		return TransferEvent{
			Amount:      amount,
			Source:      nt.Source,
			Destination: nt.Destination,
			Strategy:    StrategyNativeTransfer,
		}, true
	}
	return TransferEvent{}, false
}

// balanceDelta compares the wallet's token balances before and after the
// transaction. A missing pre balance means the account was created here.
func balanceDelta(rec *solana.TransactionRecord, target Target) (TransferEvent, bool) {
	for _, post := range rec.PostTokenBalances {
		if post.Owner != target.Wallet || post.Mint != target.Mint {
			continue
		}
		pre := decimal.Zero
		if b, ok := solana.TokenBalanceAt(rec.PreTokenBalances, post.AccountIndex); ok {
			pre = b.Amount
		}
		delta := post.Amount.Sub(pre)
		if !delta.IsPositive() {
			continue
		}
		return TransferEvent{
			Amount:      delta,
			Source:      UnknownSource,
			Destination: target.Wallet,
			Strategy:    StrategyBalanceDelta,
		}, true
	}
	return TransferEvent{}, false
}

func fromRawUnits(raw uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -solDecimals)
}
