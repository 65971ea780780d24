// Package stream owns the durable append-only session stream and its
// consumer group (spec §4.6). Redis Streams is the chosen backing log —
// spec.md §9 says the consumer-group contract is "implemented atop any
// durable append-only log with group-read semantics"; XADD (with
// MAXLEN ~)/XGROUP CREATE/XREADGROUP/XACK/XAUTOCLAIM map directly onto the
// unread/claimed/processed/acked state machine via Redis' per-group
// pending-entries list (PEL).
//
// Client construction is grounded on zamorofthat-elida's
// internal/session/redis_store.go (go-redis/v9, context-timeout ping on
// connect, slog logging).
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures the stream client (spec §6 configuration keys).
type Config struct {
	Addr          string
	Password      string
	DB            int
	Stream        string
	ConsumerGroup string
	ConsumerName  string
	// MaxLen bounds stream retention via XADD's MAXLEN ~ option (spec §4.6, default 100000).
	MaxLen int64
	// ClaimIdle is the minimum idle time before an unacked entry is
	// eligible for XAUTOCLAIM redelivery to this consumer.
	ClaimIdle time.Duration
}

// DefaultMaxLen is spec §4.6's default bounded retention.
const DefaultMaxLen = 100000

// DefaultClaimIdle is a conservative redelivery threshold: long enough
// that a live consumer mid-batch isn't starved of its own entries.
const DefaultClaimIdle = 30 * time.Second

// Entry is one claimed stream record: the raw published JSON plus the
// stream ID needed to XACK it after successful persistence.
type Entry struct {
	ID   string
	Data []byte
}

// Client wraps a Redis Streams consumer group.
type Client struct {
	rdb *redis.Client
	cfg Config
	log *slog.Logger
}

// Dial connects to Redis and verifies reachability with a bounded ping
// (spec §6 exit code 2: "stream backend unreachable at startup").
func Dial(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = DefaultMaxLen
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = DefaultClaimIdle
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("stream backend unreachable: %w", err)
	}

	c := &Client{rdb: rdb, cfg: cfg, log: log}
	if err := c.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// ensureGroup creates the consumer group if absent (spec §4.6 "create
// group if absent (idempotent)"). MkStream so the group can be created
// before any entry has ever been published.
func (c *Client) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.ConsumerGroup, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Publish appends one raw session JSON to the stream (spec §4.7: "each
// element is published as one stream entry"). The write deadline (spec §5,
// default 2s) is enforced by the caller's context.
func (c *Client) Publish(ctx context.Context, data []byte) (string, error) {
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		MaxLen: c.cfg.MaxLen,
		Approx: true,
		Values: map[string]any{"data": data},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	return id, nil
}

// ReadBatch blocks up to block for up to count new entries for this
// consumer (spec §4.6: "block-read up to BATCH_SIZE entries with a
// timeout"). A nil, nil result means the read timed out with nothing
// available — not an error.
func (c *Client) ReadBatch(ctx context.Context, count int64, block time.Duration) ([]Entry, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.ConsumerGroup,
		Consumer: c.cfg.ConsumerName,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	return toEntries(res), nil
}

// ReclaimIdle finds entries idle longer than cfg.ClaimIdle in this group
// and claims them for this consumer (spec §4.6 redelivery: "failed
// entries are left unacknowledged for redelivery").
func (c *Client) ReclaimIdle(ctx context.Context, count int64) ([]Entry, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.ConsumerGroup,
		Consumer: c.cfg.ConsumerName,
		MinIdle:  c.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reclaim idle: %w", err)
	}
	return toEntriesFromMessages(msgs), nil
}

// Ack acknowledges one entry after successful persistence (spec §4.6:
// "acknowledge the entry only after successful persistence").
func (c *Client) Ack(ctx context.Context, id string) error {
	return c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.ConsumerGroup, id).Err()
}

// Len returns the current stream length, for GET /stats (spec §4.7).
func (c *Client) Len(ctx context.Context) (int64, error) {
	return c.rdb.XLen(ctx, c.cfg.Stream).Result()
}

// GroupCount returns the number of consumer groups on the stream, for
// GET /stats (spec §4.7).
func (c *Client) GroupCount(ctx context.Context) (int, error) {
	groups, err := c.rdb.XInfoGroups(ctx, c.cfg.Stream).Result()
	if err != nil {
		return 0, err
	}
	return len(groups), nil
}

// Ping reports stream-backend reachability, for GET /health (spec §4.7).
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying Redis client.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func toEntries(streams []redis.XStream) []Entry {
	var out []Entry
	for _, s := range streams {
		out = append(out, toEntriesFromMessages(s.Messages)...)
	}
	return out
}

func toEntriesFromMessages(msgs []redis.XMessage) []Entry {
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["data"]
		if !ok {
			continue
		}
		var data []byte
		switch v := raw.(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			data = b
		}
		out = append(out, Entry{ID: m.ID, Data: data})
	}
	return out
}
