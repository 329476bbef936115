package solana

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstructionKind tags the payload carried by an Instruction.
type InstructionKind int

const (
	InstructionOther InstructionKind = iota
	InstructionTokenTransfer
	InstructionNativeTransfer
)

func (k InstructionKind) String() string {
	switch k {
	case InstructionTokenTransfer:
		return "token_transfer"
	case InstructionNativeTransfer:
		return "native_transfer"
	default:
		return "other"
	}
}

// TransactionRecord is the decoded view of one transaction.
// This is our domain model, independent of the RPC response format.
type TransactionRecord struct {
	Signature         string
	Slot              uint64
	BlockTime         time.Time
	Err               *string // nil if transaction succeeded
	Instructions      []Instruction
	InnerInstructions []InnerInstructionGroup
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// InnerInstructionGroup holds the instructions executed on behalf of the
// top-level instruction at Index.
type InnerInstructionGroup struct {
	Index        uint64
	Instructions []Instruction
}

// Instruction is a closed variant: exactly one of TokenTransfer or
// NativeTransfer is set when Kind says so, neither for InstructionOther.
type Instruction struct {
	Kind           InstructionKind
	Program        string
	ProgramID      string
	TokenTransfer  *TokenTransfer
	NativeTransfer *NativeTransfer
}

// TokenTransfer is an SPL token transfer or transferChecked.
type TokenTransfer struct {
	Source           string
	Destination      string
	DestinationOwner string // owner of the destination token account, empty if unknown
	Authority        string
	Mint             string // empty if neither the payload nor balances name it
	Amount           uint64 // raw units
	Decimals         *uint8 // only present on transferChecked
}

// NativeTransfer is a System Program lamport transfer.
type NativeTransfer struct {
	Source      string
	Destination string
	Lamports    uint64
}

// TokenBalance is a pre- or post-transaction token balance snapshot entry.
type TokenBalance struct {
	AccountIndex uint16
	Owner        string
	Mint         string
	Amount       decimal.Decimal // UI amount, decimals applied
}

// TokenBalanceAt returns the entry for accountIndex, if any.
func TokenBalanceAt(balances []TokenBalance, accountIndex uint16) (TokenBalance, bool) {
	for _, b := range balances {
		if b.AccountIndex == accountIndex {
			return b, true
		}
	}
	return TokenBalance{}, false
}
