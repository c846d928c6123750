package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func placedLog(t *testing.T, roomID int64, player common.Address, amount *big.Int, betBig bool, commit, reveal *big.Int) types.Log {
	t.Helper()
	data, err := diceABI.Events["BetPlaced"].Inputs.NonIndexed().Pack(amount, betBig, commit, reveal)
	if err != nil {
		t.Fatalf("pack BetPlaced: %v", err)
	}
	return types.Log{
		Topics: []common.Hash{
			BetPlacedTopic(),
			common.BigToHash(big.NewInt(roomID)),
			common.BytesToHash(player.Bytes()),
		},
		Data:        data,
		BlockNumber: 1000,
		TxHash:      common.HexToHash("0xaa"),
		Index:       2,
	}
}

func settledLog(t *testing.T, roomID int64, player common.Address, reward *big.Int, won bool, hashValue uint8, betID *big.Int) types.Log {
	t.Helper()
	var blockHash [32]byte
	blockHash[31] = 0x7f
	data, err := diceABI.Events["BetSettled"].Inputs.NonIndexed().Pack(reward, won, hashValue, blockHash, betID)
	if err != nil {
		t.Fatalf("pack BetSettled: %v", err)
	}
	return types.Log{
		Topics: []common.Hash{
			BetSettledTopic(),
			common.BigToHash(big.NewInt(roomID)),
			common.BytesToHash(player.Bytes()),
		},
		Data:        data,
		BlockNumber: 1003,
		TxHash:      common.HexToHash("0xbb"),
		Index:       0,
	}
}

func TestParseBetPlaced(t *testing.T) {
	player := common.HexToAddress("0x1111111111111111111111111111111111111111")
	amount := big.NewInt(1e18)

	ev, err := ParseBetPlaced(placedLog(t, 7, player, amount, true, big.NewInt(1000), big.NewInt(1003)))
	if err != nil {
		t.Fatalf("ParseBetPlaced: %v", err)
	}

	if ev.RoomID != 7 {
		t.Errorf("RoomID: got %d, want 7", ev.RoomID)
	}
	if ev.Player != player {
		t.Errorf("Player: got %s", ev.Player.Hex())
	}
	if ev.Amount.Cmp(amount) != 0 {
		t.Errorf("Amount: got %s", ev.Amount)
	}
	if !ev.BetBig {
		t.Error("BetBig: got false, want true")
	}
	if ev.CommitBlock.Uint64() != 1000 || ev.RevealBlock.Uint64() != 1003 {
		t.Errorf("blocks: got commit %s reveal %s", ev.CommitBlock, ev.RevealBlock)
	}
	if ev.Raw.BlockNumber != 1000 || ev.Raw.Index != 2 {
		t.Errorf("raw log not carried through")
	}
}

func TestParseBetSettled(t *testing.T) {
	player := common.HexToAddress("0x2222222222222222222222222222222222222222")
	reward := big.NewInt(195e16)

	ev, err := ParseBetSettled(settledLog(t, 9, player, reward, true, 8, big.NewInt(41)))
	if err != nil {
		t.Fatalf("ParseBetSettled: %v", err)
	}

	if ev.RoomID != 9 {
		t.Errorf("RoomID: got %d, want 9", ev.RoomID)
	}
	if ev.Player != player {
		t.Errorf("Player: got %s", ev.Player.Hex())
	}
	if ev.Amount.Cmp(reward) != 0 {
		t.Errorf("Amount: got %s", ev.Amount)
	}
	if !ev.Won {
		t.Error("Won: got false, want true")
	}
	if ev.HashValue != 8 {
		t.Errorf("HashValue: got %d, want 8", ev.HashValue)
	}
	if ev.BetId.Uint64() != 41 {
		t.Errorf("BetId: got %s, want 41", ev.BetId)
	}
	if ev.BlockHash[31] != 0x7f {
		t.Error("BlockHash not decoded")
	}
}

func TestParseRejectsShortTopics(t *testing.T) {
	l := types.Log{Topics: []common.Hash{BetPlacedTopic()}}
	if _, err := ParseBetPlaced(l); err == nil {
		t.Error("ParseBetPlaced accepted a log without indexed topics")
	}
	l.Topics = []common.Hash{BetSettledTopic()}
	if _, err := ParseBetSettled(l); err == nil {
		t.Error("ParseBetSettled accepted a log without indexed topics")
	}
}

func TestEventTopicsDiffer(t *testing.T) {
	if BetPlacedTopic() == BetSettledTopic() {
		t.Fatal("event topics collide")
	}
	if BetPlacedTopic() == (common.Hash{}) {
		t.Fatal("BetPlaced topic is zero")
	}
}
