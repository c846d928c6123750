package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ──────────────────────────────────────────────────────────────────────────────
// BetKey
// ──────────────────────────────────────────────────────────────────────────────

// BetKey identifies an open commitment.  The contract enforces at most one
// open bet per (roomId, player) pair, so the pair is a natural map key.
type BetKey struct {
	RoomID uint32
	Player common.Address
}

// String renders the key as "roomId-0xplayer" for logs.
func (k BetKey) String() string {
	return fmt.Sprintf("%d-%s", k.RoomID, NormalizePlayer(k.Player.Hex()))
}

// ──────────────────────────────────────────────────────────────────────────────
// PendingBet
// ──────────────────────────────────────────────────────────────────────────────

// PendingBet is a commitment awaiting its reveal block.  Created on
// BetPlaced, removed on settlement (ours or anyone else's) or on a terminal
// "already settled / not found" response from the contract.
//
// RevealBlock is the locally computed value (observed block + reveal delay),
// not the value carried in the event; the reconciler waits on the local one.
type PendingBet struct {
	Key         BetKey
	AmountWei   *big.Int
	BetBig      bool
	CommitBlock uint64
	RevealBlock uint64
	TxHash      common.Hash
	ObservedAt  time.Time
}

// Due reports whether the reveal block has been reached at currentBlock.
func (p *PendingBet) Due(currentBlock uint64) bool {
	return currentBlock >= p.RevealBlock
}
