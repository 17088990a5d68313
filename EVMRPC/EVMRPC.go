package EVMRPC

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"gobridgetracker/types"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

var ErrNoEndpoints = errors.New("no rpc endpoints configured")

// Client dials the endpoints of a chain in order until one answers.
type Client struct {
	endpoints map[int][]string
	logger    zerolog.Logger
}

func NewClient(chains []types.ChainDescriptor, logger zerolog.Logger) *Client {
	c := &Client{
		endpoints: make(map[int][]string, len(chains)),
		logger:    logger.With().Str("component", "evmrpc").Logger(),
	}
	for _, chain := range chains {
		c.endpoints[chain.ID] = chain.Endpoints()
	}
	return c
}

// WithClient runs f against the first endpoint of chainID that succeeds.
// The last error is returned when every endpoint fails.
func WithClient[T any](ctx context.Context, c *Client, chainID int, f func(client *ethclient.Client) (T, error)) (res T, err error) {
	urls := c.endpoints[chainID]
	if len(urls) == 0 {
		return res, fmt.Errorf("chain %d: %w", chainID, ErrNoEndpoints)
	}
	for _, url := range urls {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		var client *ethclient.Client
		client, err = ethclient.DialContext(ctx, url)
		if err != nil {
			c.logger.Warn().Err(err).Str("url", url).Msg("error connecting")
			continue
		}

		res, err = f(client)
		client.Close()
		if err == nil {
			return
		}
		c.logger.Debug().Err(err).Str("url", url).Int("chain", chainID).Msg("rpc call failed")
	}
	return
}

func (c *Client) SuggestGasPrice(ctx context.Context, chainID int) (*big.Int, error) {
	return WithClient(ctx, c, chainID, func(client *ethclient.Client) (*big.Int, error) {
		return client.SuggestGasPrice(ctx)
	})
}

// HeadTime is the timestamp of the latest block of chainID.
func (c *Client) HeadTime(ctx context.Context, chainID int) (time.Time, error) {
	return WithClient(ctx, c, chainID, func(client *ethclient.Client) (time.Time, error) {
		header, err := client.HeaderByNumber(ctx, nil)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(int64(header.Time), 0), nil
	})
}
