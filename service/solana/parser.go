package solana

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// Parsed program names as reported by the jsonParsed encoding.
const (
	ProgramSystem       = "system"
	ProgramSPLToken     = "spl-token"
	ProgramSPLToken2022 = "spl-token-2022"
)

// Parsed instruction types we care about.
const (
	instructionTypeTransfer        = "transfer"
	instructionTypeTransferChecked = "transferChecked"
)

// parsedInstruction mirrors the {"type": ..., "info": {...}} object of a
// jsonParsed instruction.
type parsedInstruction struct {
	Type string          `json:"type"`
	Info json.RawMessage `json:"info"`
}

type tokenTransferInfo struct {
	Source      string      `json:"source"`
	Destination string      `json:"destination"`
	Authority   string      `json:"authority"`
	Multisig    string      `json:"multisigAuthority"`
	Mint        string      `json:"mint"`
	Amount      json.Number `json:"amount"`
	TokenAmount *struct {
		Amount   json.Number `json:"amount"`
		Decimals uint8       `json:"decimals"`
	} `json:"tokenAmount"`
}

type systemTransferInfo struct {
	Source      string      `json:"source"`
	Destination string      `json:"destination"`
	Lamports    json.Number `json:"lamports"`
}

// tokenAccounts maps a token account address to its balance snapshot entry.
// It lets the decoder recover the mint and owner of accounts that a plain
// transfer instruction only names by address.
type tokenAccounts map[string]TokenBalance

// decodeParsedTransaction converts a jsonParsed getTransaction result into a
// TransactionRecord. Missing sections decode to empty ones; only a nil result
// is an error.
func decodeParsedTransaction(signature string, result *rpc.GetParsedTransactionResult) (*TransactionRecord, error) {
	if result == nil {
		return nil, fmt.Errorf("nil transaction result for %s", signature)
	}

	rec := &TransactionRecord{
		Signature: signature,
		Slot:      result.Slot,
	}
	if result.BlockTime != nil {
		rec.BlockTime = result.BlockTime.Time()
	} else {
		rec.BlockTime = time.Time{}
	}

	var accountKeys []solana.PublicKey
	if result.Transaction != nil {
		for _, acc := range result.Transaction.Message.AccountKeys {
			accountKeys = append(accountKeys, acc.PublicKey)
		}
	}

	accounts := tokenAccounts{}
	if meta := result.Meta; meta != nil {
		if meta.Err != nil {
			errMsg := fmt.Sprintf("transaction failed: %v", meta.Err)
			rec.Err = &errMsg
		}
		rec.PreTokenBalances = decodeTokenBalances(meta.PreTokenBalances)
		rec.PostTokenBalances = decodeTokenBalances(meta.PostTokenBalances)

		// Post balances win over pre balances for the same account.
		for _, b := range rec.PreTokenBalances {
			if int(b.AccountIndex) < len(accountKeys) {
				accounts[accountKeys[b.AccountIndex].String()] = b
			}
		}
		for _, b := range rec.PostTokenBalances {
			if int(b.AccountIndex) < len(accountKeys) {
				accounts[accountKeys[b.AccountIndex].String()] = b
			}
		}
	}

	if result.Transaction != nil {
		for _, ix := range result.Transaction.Message.Instructions {
			rec.Instructions = append(rec.Instructions, decodeInstruction(ix, accounts))
		}
	}

	if result.Meta != nil {
		for _, group := range result.Meta.InnerInstructions {
			decoded := InnerInstructionGroup{Index: group.Index}
			for _, ix := range group.Instructions {
				decoded.Instructions = append(decoded.Instructions, decodeInstruction(ix, accounts))
			}
			rec.InnerInstructions = append(rec.InnerInstructions, decoded)
		}
	}

	return rec, nil
}

// decodeInstruction tags a parsed instruction. Anything that is not a
// recognizable transfer, including malformed payloads, becomes InstructionOther.
func decodeInstruction(ix *rpc.ParsedInstruction, accounts tokenAccounts) Instruction {
	out := Instruction{Kind: InstructionOther}
	if ix == nil {
		return out
	}
	out.Program = ix.Program
	out.ProgramID = ix.ProgramId.String()

	if ix.Parsed == nil {
		return out
	}
	// The envelope keeps its contents unexported; a JSON round trip is the
	// only way to read them.
	raw, err := json.Marshal(ix.Parsed)
	if err != nil {
		return out
	}
	var parsed parsedInstruction
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Info) == 0 {
		return out
	}

	switch {
	case isTokenProgram(ix):
		if parsed.Type != instructionTypeTransfer && parsed.Type != instructionTypeTransferChecked {
			return out
		}
		if transfer, ok := decodeTokenTransfer(parsed.Info, accounts); ok {
			out.Kind = InstructionTokenTransfer
			out.TokenTransfer = transfer
		}
	case isSystemProgram(ix):
		if parsed.Type != instructionTypeTransfer {
			return out
		}
		if transfer, ok := decodeNativeTransfer(parsed.Info); ok {
			out.Kind = InstructionNativeTransfer
			out.NativeTransfer = transfer
		}
	}

	return out
}

func decodeTokenTransfer(raw json.RawMessage, accounts tokenAccounts) (*TokenTransfer, bool) {
	var info tokenTransferInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, false
	}

	// transfer carries "amount"; transferChecked carries "tokenAmount".
	amountStr := info.Amount
	var decimals *uint8
	if info.TokenAmount != nil {
		amountStr = info.TokenAmount.Amount
		d := info.TokenAmount.Decimals
		decimals = &d
	}
	amount, err := strconv.ParseUint(amountStr.String(), 10, 64)
	if err != nil {
		return nil, false
	}

	authority := info.Authority
	if authority == "" {
		authority = info.Multisig
	}

	transfer := &TokenTransfer{
		Source:      info.Source,
		Destination: info.Destination,
		Authority:   authority,
		Mint:        info.Mint,
		Amount:      amount,
		Decimals:    decimals,
	}

	if dest, ok := accounts[info.Destination]; ok {
		transfer.DestinationOwner = dest.Owner
		if transfer.Mint == "" {
			transfer.Mint = dest.Mint
		}
	}
	if transfer.Mint == "" {
		if src, ok := accounts[info.Source]; ok {
			transfer.Mint = src.Mint
		}
	}

	return transfer, true
}

func decodeNativeTransfer(raw json.RawMessage) (*NativeTransfer, bool) {
	var info systemTransferInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, false
	}
	lamports, err := strconv.ParseUint(info.Lamports.String(), 10, 64)
	if err != nil {
		return nil, false
	}
	return &NativeTransfer{
		Source:      info.Source,
		Destination: info.Destination,
		Lamports:    lamports,
	}, true
}

// decodeTokenBalances converts RPC token balances, using the raw integer
// amount and decimals so no float rounding leaks into the domain.
func decodeTokenBalances(in []rpc.TokenBalance) []TokenBalance {
	if len(in) == 0 {
		return nil
	}
	out := make([]TokenBalance, 0, len(in))
	for _, b := range in {
		tb := TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint.String(),
			Amount:       decimal.Zero,
		}
		if b.Owner != nil {
			tb.Owner = b.Owner.String()
		}
		if amount, ok := uiTokenAmount(b.UiTokenAmount); ok {
			tb.Amount = amount
		}
		out = append(out, tb)
	}
	return out
}

// uiTokenAmount reads a token amount, preferring the raw integer string and
// falling back to the UI string.
func uiTokenAmount(amt *rpc.UiTokenAmount) (decimal.Decimal, bool) {
	if amt == nil {
		return decimal.Zero, false
	}
	if amt.Amount != "" {
		if raw, err := decimal.NewFromString(amt.Amount); err == nil {
			return raw.Shift(-int32(amt.Decimals)), true
		}
	}
	if amt.UiAmountString != "" {
		if ui, err := decimal.NewFromString(amt.UiAmountString); err == nil {
			return ui, true
		}
	}
	if amt.UiAmount != nil {
		return decimal.NewFromFloat(*amt.UiAmount), true
	}
	return decimal.Zero, false
}

func isTokenProgram(ix *rpc.ParsedInstruction) bool {
	switch ix.Program {
	case ProgramSPLToken, ProgramSPLToken2022:
		return true
	case "":
		return ix.ProgramId.Equals(solana.TokenProgramID) || ix.ProgramId.Equals(solana.Token2022ProgramID)
	}
	return false
}

func isSystemProgram(ix *rpc.ParsedInstruction) bool {
	switch ix.Program {
	case ProgramSystem:
		return true
	case "":
		// The zero key is also the System Program ID, so an instruction with
		// neither field set is treated as system.
		return ix.ProgramId.Equals(solana.SystemProgramID)
	}
	return false
}
