package nats

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferEvent represents a detected incoming transfer published to NATS.
// This is published to the subject "transfers.{wallet_address}" in JetStream.
type TransferEvent struct {
	EventID string `json:"event_id"`

	// Transaction identifiers
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`

	// Wallet information
	WalletAddress string `json:"wallet_address"` // Watched wallet that received the funds
	Source        string `json:"source"`         // "unknown" when inferred from balances

	// Transfer details, amounts in SOL
	Amount   decimal.Decimal  `json:"amount"`
	Strategy string           `json:"strategy"`
	USDValue *decimal.Decimal `json:"usd_value,omitempty"`

	// Timing information
	BlockTime   *time.Time `json:"block_time,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
}

// NewTransferEvent builds an event with a fresh ID and publish timestamp.
func NewTransferEvent(signature string, slot uint64, wallet, source string, amount decimal.Decimal, strategy string) *TransferEvent {
	return &TransferEvent{
		EventID:       uuid.NewString(),
		Signature:     signature,
		Slot:          slot,
		WalletAddress: wallet,
		Source:        source,
		Amount:        amount,
		Strategy:      strategy,
		PublishedAt:   time.Now().UTC(),
	}
}

// Subject returns the subject the event is published to.
func (e *TransferEvent) Subject() string {
	return SubjectPrefix + e.WalletAddress
}
