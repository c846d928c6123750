// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs broadcast to connected clients.
package ws

import (
	"time"

	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeBetPlaced  MsgType = "bet_placed"
	MsgTypeBetSettled MsgType = "bet_settled"
)

// ──────────────────────────────────────────────────────────────────────────────
// BetPlacedMessage — broadcast when a new commitment lands on-chain.
// ──────────────────────────────────────────────────────────────────────────────

// BetPlacedMessage carries the freshly observed commitment.  RevealBlock is
// the block at which the bet becomes settleable.
type BetPlacedMessage struct {
	Type        MsgType         `json:"type"`
	RoomID      uint32          `json:"room_id"`
	Player      string          `json:"player"`
	AmountWei   decimal.Decimal `json:"amount_wei"`
	AmountEther string          `json:"amount_ether"`
	BetBig      bool            `json:"bet_big"`
	CommitBlock uint64          `json:"commit_block"`
	RevealBlock uint64          `json:"reveal_block"`
	TxHash      string          `json:"tx_hash"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// BetSettledMessage — broadcast when a commitment is resolved.
// ──────────────────────────────────────────────────────────────────────────────

// BetSettledMessage tells clients how a bet resolved.  RewardWei is zero on a
// loss; HashValue is the 0–9 outcome the contract derived from the reveal
// block hash.
type BetSettledMessage struct {
	Type        MsgType         `json:"type"`
	RoomID      uint32          `json:"room_id"`
	Player      string          `json:"player"`
	Won         bool            `json:"won"`
	RewardWei   decimal.Decimal `json:"reward_wei"`
	RewardEther string          `json:"reward_ether"`
	HashValue   uint8           `json:"hash_value"`
	HashIsBig   bool            `json:"hash_is_big"`
	BetID       uint64          `json:"bet_id"`
	TxHash      string          `json:"tx_hash"`
	Timestamp   time.Time       `json:"timestamp"`
}
