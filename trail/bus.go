package trail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	streamKeyFormat   = "workflow:%s:trail"
	defaultBlock      = 5 * time.Second
	defaultBatchCount = 50
)

// Entry is the typed form of one interaction-trail record.
type Entry struct {
	ID        string         `json:"ID"`
	Stream    string         `json:"Stream"`
	SessionID string         `json:"SessionID"`
	Stage     string         `json:"Stage"`
	Values    map[string]any `json:"Values"`
}

// Bus is the append-only interaction trail, one Redis stream per workflow
// session. Appends are XADD-only so concurrent writers never read-modify-write.
type Bus struct {
	client *redis.Client
}

// NewBus creates a trail bus for the given redis client.
func NewBus(client *redis.Client) *Bus {
	return &Bus{client: client}
}

// StreamKey returns the canonical trail stream key for a session.
func StreamKey(sessionID string) string {
	return fmt.Sprintf(streamKeyFormat, sessionID)
}

// Append writes one entry to the session's trail, attaching a ts if missing.
func (b *Bus) Append(ctx context.Context, sessionID, stage string, values map[string]any) (string, error) {
	if b == nil || b.client == nil {
		return "", fmt.Errorf("trail bus not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("session id is required")
	}

	if values == nil {
		values = make(map[string]any)
	}
	if _, ok := values["ts"]; !ok {
		values["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if stage != "" {
		values["stage"] = stage
	}

	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(sessionID),
		Values: values,
	}).Result()
}

// Tail blocks for new entries after afterID and returns them with the latest
// ID observed. afterID "" or "0" reads from the start on the first call.
func (b *Bus) Tail(ctx context.Context, sessionID, afterID string) ([]Entry, string, error) {
	if b == nil || b.client == nil {
		return nil, afterID, fmt.Errorf("trail bus not configured")
	}

	if strings.TrimSpace(afterID) == "" {
		afterID = "$"
	}

	res, err := b.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{StreamKey(sessionID), afterID},
		Count:   defaultBatchCount,
		Block:   defaultBlock,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, afterID, nil
		}
		return nil, afterID, err
	}

	entries := make([]Entry, 0)
	nextID := afterID

	for _, stream := range res {
		for _, msg := range stream.Messages {
			values := make(map[string]any, len(msg.Values))
			for k, v := range msg.Values {
				values[k] = v
			}
			entries = append(entries, Entry{
				ID:        msg.ID,
				Stream:    stream.Stream,
				SessionID: sessionID,
				Stage:     stringVal(values["stage"]),
				Values:    values,
			})
			nextID = msg.ID
		}
	}

	return entries, nextID, nil
}

// Recent returns up to count most recent entries without blocking, oldest
// first. Used by the status surface for failure post-mortems.
func (b *Bus) Recent(ctx context.Context, sessionID string, count int64) ([]Entry, error) {
	if b == nil || b.client == nil {
		return nil, fmt.Errorf("trail bus not configured")
	}

	msgs, err := b.client.XRevRangeN(ctx, StreamKey(sessionID), "+", "-", count).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		values := make(map[string]any, len(msg.Values))
		for k, v := range msg.Values {
			values[k] = v
		}
		entries = append(entries, Entry{
			ID:        msg.ID,
			Stream:    StreamKey(sessionID),
			SessionID: sessionID,
			Stage:     stringVal(values["stage"]),
			Values:    values,
		})
	}
	return entries, nil
}

func stringVal(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case []byte:
		return string(val)
	default:
		return ""
	}
}
