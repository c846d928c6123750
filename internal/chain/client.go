// Package chain provides the dual-provider transport for the dice contract:
// a request/response client for reads and transaction submission, and a
// streaming client for head and log subscriptions.  The streaming side is
// owned by the Supervisor, which redials it on failure; the request side is
// always served over HTTP so reads and settlements keep working while the
// stream reconnects.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Mmmuuieddd/gamblefi-backend/internal/config"
)

// Client is the chain transport.  Safe for concurrent use; the streaming
// handle is swapped under stmu by DialStream during reconnects.
type Client struct {
	cfg    *config.ChainConfig
	logger *slog.Logger

	contractAddr common.Address
	key          *ecdsa.PrivateKey
	from         common.Address
	chainID      *big.Int

	http  *ethclient.Client
	bound *bind.BoundContract

	stmu   sync.RWMutex
	stream *ethclient.Client
}

// NewClient parses the signing key, dials the request/response endpoint, and
// reads the chain id.  The streaming endpoint is NOT dialed here — the
// Supervisor calls DialStream so reconnect logic lives in one place.
func NewClient(ctx context.Context, cfg *config.ChainConfig, logger *slog.Logger) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SignerKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain.NewClient: parse signing key: %w", err)
	}

	httpClient, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain.NewClient: dial %s: %w", cfg.RPCURL, err)
	}

	chainID, err := httpClient.ChainID(ctx)
	if err != nil {
		httpClient.Close()
		return nil, fmt.Errorf("chain.NewClient: chain id: %w", err)
	}

	contractAddr := common.HexToAddress(cfg.ContractAddress)

	c := &Client{
		cfg:          cfg,
		logger:       logger,
		contractAddr: contractAddr,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		chainID:      chainID,
		http:         httpClient,
		bound:        bind.NewBoundContract(contractAddr, diceABI, httpClient, httpClient, httpClient),
	}

	logger.Info("chain client ready",
		"chain_id", chainID, "contract", contractAddr.Hex(), "signer", c.from.Hex())
	return c, nil
}

// SignerAddress returns the address funding settlements.
func (c *Client) SignerAddress() common.Address {
	return c.from
}

// ContractAddress returns the target dice contract.
func (c *Client) ContractAddress() common.Address {
	return c.contractAddr
}

// Close tears down both providers.
func (c *Client) Close() {
	c.CloseStream()
	c.http.Close()
}

// callCtx applies the configured per-RPC deadline.
func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

// ──────────────────────────────────────────────────────────────────────────────
// Read path (request/response provider)
// ──────────────────────────────────────────────────────────────────────────────

// BlockNumber returns the current head height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	n, err := c.http.BlockNumber(ctx)
	if err != nil {
		return 0, wrapRPC("BlockNumber", err)
	}
	return n, nil
}

// HeaderByNumber fetches the header of block n for its timestamp and hash.
func (c *Client) HeaderByNumber(ctx context.Context, n uint64) (*types.Header, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	header, err := c.http.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return nil, wrapRPC("HeaderByNumber", err)
	}
	return header, nil
}

// SignerBalance returns the settler account's balance in wei.
func (c *Client) SignerBalance(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	balance, err := c.http.BalanceAt(ctx, c.from, nil)
	if err != nil {
		return nil, wrapRPC("SignerBalance", err)
	}
	return balance, nil
}

// RevealDelay reads the contract's revealDelay() parameter.
func (c *Client) RevealDelay(ctx context.Context) (uint64, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, "revealDelay"); err != nil {
		return 0, wrapRPC("RevealDelay", err)
	}
	if len(out) == 0 {
		return 0, wrapRPC("RevealDelay", fmt.Errorf("empty result"))
	}
	delay, ok := out[0].(*big.Int)
	if !ok {
		return 0, wrapRPC("RevealDelay", fmt.Errorf("unexpected result type %T", out[0]))
	}
	return delay.Uint64(), nil
}

// PlayerBet reads the playerBets(roomId, player) mapping entry.
func (c *Client) PlayerBet(ctx context.Context, roomID uint32, player common.Address) (*PlayerBetView, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, "playerBets", roomID, player); err != nil {
		return nil, wrapRPC("PlayerBet", err)
	}
	if len(out) < 4 {
		return nil, wrapRPC("PlayerBet", fmt.Errorf("short result: %d fields", len(out)))
	}

	view := &PlayerBetView{}
	var ok bool
	if view.Amount, ok = out[0].(*big.Int); !ok {
		return nil, wrapRPC("PlayerBet", fmt.Errorf("unexpected amount type %T", out[0]))
	}
	if view.BetBig, ok = out[1].(bool); !ok {
		return nil, wrapRPC("PlayerBet", fmt.Errorf("unexpected betBig type %T", out[1]))
	}
	if view.CommitBlock, ok = out[2].(*big.Int); !ok {
		return nil, wrapRPC("PlayerBet", fmt.Errorf("unexpected commitBlock type %T", out[2]))
	}
	if view.Settled, ok = out[3].(bool); !ok {
		return nil, wrapRPC("PlayerBet", fmt.Errorf("unexpected settled type %T", out[3]))
	}
	return view, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Write path
// ──────────────────────────────────────────────────────────────────────────────

// SettleBet signs and submits settleBet(roomId, player) and returns the
// pending transaction.  Nonce and gas are resolved by the bound contract.
func (c *Client) SettleBet(ctx context.Context, roomID uint32, player common.Address) (*types.Transaction, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	auth, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, wrapRPC("SettleBet", err)
	}
	auth.Context = ctx

	tx, err := c.bound.Transact(auth, "settleBet", roomID, player)
	if err != nil {
		return nil, wrapRPC("SettleBet", err)
	}
	return tx, nil
}

// WaitReceipt blocks until the transaction is mined or the deadline expires.
func (c *Client) WaitReceipt(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	receipt, err := bind.WaitMined(ctx, c.http, tx)
	if err != nil {
		return nil, wrapRPC("WaitReceipt", err)
	}
	return receipt, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Streaming provider
// ──────────────────────────────────────────────────────────────────────────────

// DialStream (re)establishes the WebSocket connection, closing any previous
// one.  Called by the Supervisor on connect and on every reconnect.
func (c *Client) DialStream(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	ws, err := ethclient.DialContext(dialCtx, c.cfg.WSSURL)
	if err != nil {
		return wrapRPC("DialStream", err)
	}

	c.stmu.Lock()
	if c.stream != nil {
		c.stream.Close()
	}
	c.stream = ws
	c.stmu.Unlock()
	return nil
}

// CloseStream drops the WebSocket connection, if any.
func (c *Client) CloseStream() {
	c.stmu.Lock()
	defer c.stmu.Unlock()
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
}

func (c *Client) streamClient() (*ethclient.Client, error) {
	c.stmu.RLock()
	defer c.stmu.RUnlock()
	if c.stream == nil {
		return nil, &TransportError{Op: "stream", Retryable: true, Err: fmt.Errorf("stream not connected")}
	}
	return c.stream, nil
}

// SubscribeHeads subscribes to new block headers on the streaming provider.
// The headers double as the liveness heartbeat.
func (c *Client) SubscribeHeads(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	ws, err := c.streamClient()
	if err != nil {
		return nil, err
	}
	sub, err := ws.SubscribeNewHead(ctx, ch)
	if err != nil {
		return nil, wrapRPC("SubscribeHeads", err)
	}
	return sub, nil
}

// SubscribeBetLogs subscribes to BetPlaced and BetSettled logs on the target
// contract.  The filter matches either event in topic0.
func (c *Client) SubscribeBetLogs(ctx context.Context, ch chan<- types.Log) (ethereum.Subscription, error) {
	ws, err := c.streamClient()
	if err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.contractAddr},
		Topics: [][]common.Hash{
			{BetPlacedTopic(), BetSettledTopic()},
		},
	}
	sub, err := ws.SubscribeFilterLogs(ctx, query, ch)
	if err != nil {
		return nil, wrapRPC("SubscribeBetLogs", err)
	}
	return sub, nil
}
