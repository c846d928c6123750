package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// diceABIJSON is the minimal ABI fragment for the dice contract: the two
// events the settler ingests and the three methods it calls.  Declared inline
// to avoid depending on an external ABI file.
const diceABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "name": "roomId",      "type": "uint32"},
      {"indexed": true,  "name": "player",      "type": "address"},
      {"indexed": false, "name": "amount",      "type": "uint256"},
      {"indexed": false, "name": "betBig",      "type": "bool"},
      {"indexed": false, "name": "commitBlock", "type": "uint256"},
      {"indexed": false, "name": "revealBlock", "type": "uint256"}
    ],
    "name": "BetPlaced",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "name": "roomId",    "type": "uint32"},
      {"indexed": true,  "name": "player",    "type": "address"},
      {"indexed": false, "name": "amount",    "type": "uint256"},
      {"indexed": false, "name": "won",       "type": "bool"},
      {"indexed": false, "name": "hashValue", "type": "uint8"},
      {"indexed": false, "name": "blockHash", "type": "bytes32"},
      {"indexed": false, "name": "betId",     "type": "uint256"}
    ],
    "name": "BetSettled",
    "type": "event"
  },
  {
    "inputs": [
      {"name": "roomId", "type": "uint32"},
      {"name": "player", "type": "address"}
    ],
    "name": "settleBet",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "revealDelay",
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"name": "roomId", "type": "uint32"},
      {"name": "player", "type": "address"}
    ],
    "name": "playerBets",
    "outputs": [
      {"name": "amount",      "type": "uint256"},
      {"name": "betBig",      "type": "bool"},
      {"name": "commitBlock", "type": "uint256"},
      {"name": "settled",     "type": "bool"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

// mustParseABI parses the inline fragment at init time; a malformed constant
// is a programming error, not a runtime condition.
func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(diceABIJSON))
	if err != nil {
		panic(fmt.Sprintf("chain: parse dice ABI: %v", err))
	}
	return parsed
}

var diceABI = mustParseABI()

// ──────────────────────────────────────────────────────────────────────────────
// Decoded events
// ──────────────────────────────────────────────────────────────────────────────

// BetPlacedEvent is the decoded form of the BetPlaced log.  CommitBlock and
// RevealBlock are the values the contract emitted; the reconciler computes
// its own reveal block from the observed chain position.
type BetPlacedEvent struct {
	RoomID      uint32
	Player      common.Address
	Amount      *big.Int
	BetBig      bool
	CommitBlock *big.Int
	RevealBlock *big.Int
	Raw         types.Log
}

// BetSettledEvent is the decoded form of the BetSettled log.  Amount is the
// reward paid when Won, zero otherwise; the stake lives on the prior commit.
type BetSettledEvent struct {
	RoomID    uint32
	Player    common.Address
	Amount    *big.Int
	Won       bool
	HashValue uint8
	BlockHash [32]byte
	BetId     *big.Int
	Raw       types.Log
}

// PlayerBetView is the on-chain playerBets(roomId, player) mapping entry,
// used to double-check reveal-block mismatches against the contract itself.
type PlayerBetView struct {
	Amount      *big.Int
	BetBig      bool
	CommitBlock *big.Int
	Settled     bool
}

// BetPlacedTopic returns the topic0 hash of the BetPlaced event.
func BetPlacedTopic() common.Hash { return diceABI.Events["BetPlaced"].ID }

// BetSettledTopic returns the topic0 hash of the BetSettled event.
func BetSettledTopic() common.Hash { return diceABI.Events["BetSettled"].ID }

// ParseBetPlaced decodes a BetPlaced log: indexed fields from topics,
// the rest from the data segment.
func ParseBetPlaced(l types.Log) (*BetPlacedEvent, error) {
	if len(l.Topics) < 3 {
		return nil, fmt.Errorf("chain.ParseBetPlaced: expected 3 topics, got %d", len(l.Topics))
	}
	ev := &BetPlacedEvent{
		RoomID: uint32(new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64()),
		Player: common.BytesToAddress(l.Topics[2].Bytes()),
		Raw:    l,
	}
	if err := diceABI.UnpackIntoInterface(ev, "BetPlaced", l.Data); err != nil {
		return nil, fmt.Errorf("chain.ParseBetPlaced: unpack data: %w", err)
	}
	return ev, nil
}

// ParseBetSettled decodes a BetSettled log.
func ParseBetSettled(l types.Log) (*BetSettledEvent, error) {
	if len(l.Topics) < 3 {
		return nil, fmt.Errorf("chain.ParseBetSettled: expected 3 topics, got %d", len(l.Topics))
	}
	ev := &BetSettledEvent{
		RoomID: uint32(new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64()),
		Player: common.BytesToAddress(l.Topics[2].Bytes()),
		Raw:    l,
	}
	if err := diceABI.UnpackIntoInterface(ev, "BetSettled", l.Data); err != nil {
		return nil, fmt.Errorf("chain.ParseBetSettled: unpack data: %w", err)
	}
	return ev, nil
}
