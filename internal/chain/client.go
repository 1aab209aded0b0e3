package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// SeedSize is the length of the seed returned by Client.Seed.
const SeedSize = common.HashLength

type headerReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Client wraps go-ethereum RPC. It serves as the clock and randomness
// source for the giveaway service and as an eth_call backend.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	headers   headerReader

	mu     sync.Mutex
	lastTs uint64
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	ethClient := ethclient.NewClient(rpcClient)
	return &Client{
		rpcClient: rpcClient,
		ethClient: ethClient,
		headers:   ethClient,
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// GetChainID returns the chain ID.
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// Now returns the latest block timestamp. Readings never go backwards even
// when a lagging node serves an older head.
func (c *Client) Now(ctx context.Context) (uint64, error) {
	header, err := c.headers.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("latest header: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if header.Time > c.lastTs {
		c.lastTs = header.Time
	}
	return c.lastTs, nil
}

// Seed returns SeedSize bytes of beacon randomness from the latest header. Chains
// without a mix digest fall back to the header hash.
func (c *Client) Seed(ctx context.Context) ([]byte, error) {
	header, err := c.headers.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	if header.MixDigest != (common.Hash{}) {
		return header.MixDigest.Bytes(), nil
	}
	return header.Hash().Bytes(), nil
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}
