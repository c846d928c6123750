package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestIsBigHash(t *testing.T) {
	for v := uint8(0); v <= 9; v++ {
		want := v >= 5
		if got := IsBigHash(v); got != want {
			t.Errorf("IsBigHash(%d) = %v, want %v", v, got, want)
		}
	}
}

func TestNormalizePlayer(t *testing.T) {
	checksummed := "0xAbCd000000000000000000000000000000001234"
	if got := NormalizePlayer(checksummed); got != "0xabcd000000000000000000000000000000001234" {
		t.Errorf("NormalizePlayer: got %s", got)
	}
}

func TestBetKeyString(t *testing.T) {
	key := BetKey{
		RoomID: 12,
		Player: common.HexToAddress("0xAbCd000000000000000000000000000000001234"),
	}
	if got := key.String(); got != "12-0xabcd000000000000000000000000000000001234" {
		t.Errorf("BetKey.String() = %s", got)
	}
}

func TestPendingBetDue(t *testing.T) {
	bet := PendingBet{RevealBlock: 1003}
	if bet.Due(1002) {
		t.Error("due before reveal block")
	}
	if !bet.Due(1003) {
		t.Error("not due at reveal block")
	}
	if !bet.Due(5000) {
		t.Error("not due past reveal block")
	}
}

func TestIsAlreadySettled(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("execution reverted: No valid bet found"), true},
		{errors.New("execution reverted: ALREADY PROCESSED"), true},
		{errors.New("execution reverted: bet executed"), true},
		{fmt.Errorf("rpc: %w", errors.New("No valid bet found")), true},
		{errors.New("insufficient funds for gas"), false},
		{errors.New("nonce too low"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsAlreadySettled(tt.err); got != tt.want {
			t.Errorf("IsAlreadySettled(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("repo: %w", ErrEventNotFound)) {
		t.Error("wrapped ErrEventNotFound not recognized")
	}
	if IsNotFound(errors.New("boom")) {
		t.Error("arbitrary error misclassified as not found")
	}
}
