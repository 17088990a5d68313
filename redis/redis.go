package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gobridgetracker/types"

	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog"
)

const DEFAULT_PREFIX = "bridgetx"

// Client persists bridge transactions as JSON records.
//
//	<prefix>:<id>               record
//	<prefix>:active             SET of non-terminal ids
//	<prefix>:history:<owner>    LIST of ids, most recent first, trimmed to the history limit
type Client struct {
	pool   *redis.Pool
	prefix string
	logger zerolog.Logger
}

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

func New(addr, prefix string, logger zerolog.Logger) *Client {
	if prefix == "" {
		prefix = DEFAULT_PREFIX
	}
	return &Client{
		pool: &redis.Pool{
			MaxIdle:     5,
			IdleTimeout: 4 * time.Minute,
			DialContext: func(ctx context.Context) (redis.Conn, error) {
				return redis.DialContext(ctx, "tcp", addr, timeoutDialOptions()...)
			},
		},
		prefix: prefix,
		logger: logger.With().Str("component", "redis").Logger(),
	}
}

func (c *Client) Close() error {
	return c.pool.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("PING")
	return err
}

func (c *Client) recordKey(id string) string {
	return fmt.Sprintf("%s:%s", c.prefix, id)
}

func (c *Client) activeKey() string {
	return c.prefix + ":active"
}

func (c *Client) historyKey(owner string) string {
	return fmt.Sprintf("%s:history:%s", c.prefix, owner)
}

// Create stores a new record, marks it active and pushes it onto the owner's
// history. Ids falling off the history are deleted unless still active.
func (c *Client) Create(ctx context.Context, tx *types.BridgeTransaction, historyLimit int) error {
	if tx == nil {
		return errors.New("null object to store")
	}
	if tx.ID == "" || tx.OwnerAddress == "" {
		return errors.New("bridge transaction needs an id and an owner")
	}
	if historyLimit < 1 {
		historyLimit = 1
	}

	recJSON, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("cannot marshal bridge transaction to JSON: %s", err.Error())
	}

	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	hk := c.historyKey(tx.OwnerAddress)
	// after the push these are beyond the limit
	evicted, err := redis.Strings(conn.Do("LRANGE", hk, historyLimit-1, -1))
	if err != nil {
		c.logger.Error().Err(err).Msg("error Redis LRANGE")
		return err
	}

	var drop []string
	for _, id := range evicted {
		active, err := redis.Bool(conn.Do("SISMEMBER", c.activeKey(), id))
		if err == nil && !active {
			drop = append(drop, id)
		}
	}

	conn.Send("MULTI")
	conn.Send("SET", c.recordKey(tx.ID), recJSON)
	conn.Send("SADD", c.activeKey(), tx.ID)
	conn.Send("LPUSH", hk, tx.ID)
	conn.Send("LTRIM", hk, 0, historyLimit-1)
	for _, id := range drop {
		conn.Send("DEL", c.recordKey(id))
	}
	if _, err := conn.Do("EXEC"); err != nil {
		c.logger.Error().Err(err).Str("id", tx.ID).Msg("error Redis EXEC")
		return err
	}
	return nil
}

// Put overwrites the record and keeps the active set in line with its status.
func (c *Client) Put(ctx context.Context, tx *types.BridgeTransaction) error {
	if tx == nil {
		return errors.New("null object to store")
	}
	if !tx.Status.Valid() {
		return fmt.Errorf("bridge transaction %s has invalid status %q", tx.ID, tx.Status)
	}

	recJSON, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("cannot marshal bridge transaction to JSON: %s", err.Error())
	}

	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	// a terminal record trimmed from the history while active goes away now
	evicted := false
	if tx.Status.Terminal() {
		ids, err := redis.Strings(conn.Do("LRANGE", c.historyKey(tx.OwnerAddress), 0, -1))
		if err != nil {
			c.logger.Error().Err(err).Msg("error Redis LRANGE")
			return err
		}
		evicted = !contains(ids, tx.ID)
	}

	conn.Send("MULTI")
	switch {
	case evicted:
		conn.Send("DEL", c.recordKey(tx.ID))
		conn.Send("SREM", c.activeKey(), tx.ID)
	case tx.Status.Terminal():
		conn.Send("SET", c.recordKey(tx.ID), recJSON)
		conn.Send("SREM", c.activeKey(), tx.ID)
	default:
		conn.Send("SET", c.recordKey(tx.ID), recJSON)
		conn.Send("SADD", c.activeKey(), tx.ID)
	}
	if _, err := conn.Do("EXEC"); err != nil {
		c.logger.Error().Err(err).Str("id", tx.ID).Msg("error Redis EXEC")
		return err
	}
	return nil
}

// Get returns types.ErrNotFound when the record does not exist.
func (c *Client) Get(ctx context.Context, id string) (*types.BridgeTransaction, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rec, err := redis.Bytes(conn.Do("GET", c.recordKey(id)))
	if errors.Is(err, redis.ErrNil) {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	if err != nil {
		c.logger.Error().Err(err).Str("id", id).Msg("error Redis GET")
		return nil, err
	}

	var tx types.BridgeTransaction
	if err := json.Unmarshal(rec, &tx); err != nil {
		return nil, fmt.Errorf("record %s: %w", id, err)
	}
	return &tx, nil
}

// Active loads every record in the active set.
func (c *Client) Active(ctx context.Context) ([]*types.BridgeTransaction, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var (
		cursor int64
		ids    []string
	)
	for {
		values, err := redis.Values(conn.Do("SSCAN", c.activeKey(), cursor))
		if err != nil {
			return nil, err
		}

		var page []string
		if _, err := redis.Scan(values, &cursor, &page); err != nil {
			return nil, err
		}
		ids = append(ids, page...)

		if cursor == 0 {
			break
		}
	}

	return c.load(conn, ids)
}

// History returns up to limit records of owner, most recent first.
func (c *Client) History(ctx context.Context, owner string, limit int) ([]*types.BridgeTransaction, error) {
	if limit < 1 {
		return nil, nil
	}
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ids, err := redis.Strings(conn.Do("LRANGE", c.historyKey(owner), 0, limit-1))
	if err != nil {
		c.logger.Error().Err(err).Str("owner", owner).Msg("error Redis LRANGE")
		return nil, err
	}
	return c.load(conn, ids)
}

// load fetches records by id, skipping missing ones and duplicates.
func (c *Client) load(conn redis.Conn, ids []string) ([]*types.BridgeTransaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]interface{}, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		args = append(args, c.recordKey(id))
	}

	recs, err := redis.ByteSlices(conn.Do("MGET", args...))
	if err != nil {
		c.logger.Error().Err(err).Msg("error Redis MGET")
		return nil, err
	}

	txs := make([]*types.BridgeTransaction, 0, len(recs))
	for i, rec := range recs {
		if rec == nil {
			c.logger.Warn().Interface("key", args[i]).Msg("record missing")
			continue
		}
		var tx types.BridgeTransaction
		if err := json.Unmarshal(rec, &tx); err != nil {
			c.logger.Warn().Err(err).Interface("key", args[i]).Msg("skipping unreadable record")
			continue
		}
		txs = append(txs, &tx)
	}
	return txs, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
