package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// EventType discriminates the two contract events the settler records.
type EventType string

const (
	EventBetPlaced  EventType = "BetPlaced"
	EventBetSettled EventType = "BetSettled"
)

// BigThreshold is the hash value at which a dice outcome counts as "big".
// The contract emits an 8-bit value in [0,9]; 5–9 is big, 0–4 is small.
var BigThreshold = uint8(5)

// IsBigHash reports whether a settled hash value falls on the "big" side.
func IsBigHash(v uint8) bool {
	return v >= BigThreshold
}

// ──────────────────────────────────────────────────────────────────────────────
// EventRecord
// ──────────────────────────────────────────────────────────────────────────────

// EventRecord is the durable row written for every decoded contract event.
// BetPlaced and BetSettled share the common columns; the variant columns of
// the other type stay NULL.  A settled record is linked to its originating
// commit through RelatedEventID; both sides carry Processed = true once the
// link is set.
type EventRecord struct {
	ID             uuid.UUID `json:"id"              db:"id"`
	EventType      EventType `json:"event_type"      db:"event_type"`
	RoomID         uint32    `json:"room_id"         db:"room_id"`
	Player         string    `json:"player"          db:"player"`
	BlockNumber    uint64    `json:"block_number"    db:"block_number"`
	BlockTimestamp time.Time `json:"block_timestamp" db:"block_timestamp"`
	LogIndex       uint      `json:"log_index"       db:"log_index"`
	TxHash         string    `json:"tx_hash"         db:"tx_hash"`

	// BetPlaced-only
	AmountWei   *decimal.Decimal `json:"amount_wei,omitempty"   db:"amount_wei"`
	BetBig      *bool            `json:"bet_big,omitempty"      db:"bet_big"`
	CommitBlock *uint64          `json:"commit_block,omitempty" db:"commit_block"`
	RevealBlock *uint64          `json:"reveal_block,omitempty" db:"reveal_block"`

	// BetSettled-only
	RewardWei   *decimal.Decimal `json:"reward_wei,omitempty"   db:"reward_wei"`
	Won         *bool            `json:"won,omitempty"          db:"won"`
	HashValue   *uint8           `json:"hash_value,omitempty"   db:"hash_value"`
	BlockHash   *string          `json:"block_hash,omitempty"   db:"block_hash"`
	ResultBlock *uint64          `json:"result_block,omitempty" db:"result_block"`
	BetID       *uint64          `json:"bet_id,omitempty"       db:"bet_id"`

	// Correlation
	RelatedEventID *uuid.UUID `json:"related_event_id,omitempty" db:"related_event_id"`
	Processed      bool       `json:"processed"                  db:"processed"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Key returns the (roomId, player) pair the record belongs to.
func (e *EventRecord) Key() string {
	return fmt.Sprintf("%d-%s", e.RoomID, e.Player)
}

// NormalizePlayer lowercases a hex address so lookups are case-insensitive.
// The chain layer emits checksummed addresses; the store keys on lowercase.
func NormalizePlayer(addr string) string {
	return strings.ToLower(addr)
}

// ──────────────────────────────────────────────────────────────────────────────
// API response forms
// ──────────────────────────────────────────────────────────────────────────────

// BetHistoryEntry is the read-only projection served by the query API: a
// settled record joined to its originating commit via RelatedEventID.
type BetHistoryEntry struct {
	RoomID      uint32           `json:"room_id"`
	Player      string           `json:"player"`
	AmountWei   *decimal.Decimal `json:"amount_wei,omitempty"`
	AmountEther string           `json:"amount_ether,omitempty"`
	BetBig      *bool            `json:"bet_big,omitempty"`
	Won         *bool            `json:"won,omitempty"`
	RewardWei   *decimal.Decimal `json:"reward_wei,omitempty"`
	RewardEther string           `json:"reward_ether,omitempty"`
	HashValue   *uint8           `json:"hash_value,omitempty"`
	BetID       *uint64          `json:"bet_id,omitempty"`
	CommitBlock *uint64          `json:"commit_block,omitempty"`
	ResultBlock *uint64          `json:"result_block,omitempty"`
	TxHash      string           `json:"tx_hash"`
	SettledAt   time.Time        `json:"settled_at"`
}

// ToHistoryEntry builds a BetHistoryEntry from a settled record and its
// (possibly nil) linked commit.
func ToHistoryEntry(settled *EventRecord, placed *EventRecord) BetHistoryEntry {
	entry := BetHistoryEntry{
		RoomID:      settled.RoomID,
		Player:      settled.Player,
		Won:         settled.Won,
		RewardWei:   settled.RewardWei,
		HashValue:   settled.HashValue,
		BetID:       settled.BetID,
		ResultBlock: settled.ResultBlock,
		TxHash:      settled.TxHash,
		SettledAt:   settled.BlockTimestamp,
	}
	if settled.RewardWei != nil {
		entry.RewardEther = FormatEther(*settled.RewardWei)
	}
	if placed != nil {
		entry.AmountWei = placed.AmountWei
		entry.BetBig = placed.BetBig
		entry.CommitBlock = placed.CommitBlock
		if placed.AmountWei != nil {
			entry.AmountEther = FormatEther(*placed.AmountWei)
		}
	}
	return entry
}
