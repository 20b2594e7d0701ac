package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists sessions in Redis so workflow state survives restarts.
// One hash per session: "data" holds the JSON document, "version" the version
// counter checked under WATCH for optimistic concurrency.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "workflow:sess",
		ttl:    30 * 24 * time.Hour,
	}
}

func (s *RedisStore) key(sessionID string) string {
	return strings.Join([]string{s.prefix, strings.TrimSpace(sessionID)}, ":")
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":index"
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.client.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	var sess Session
	if err := json.Unmarshal([]byte(fields["data"]), &sess); err != nil {
		return nil, err
	}
	if v, err := strconv.Atoi(fields["version"]); err == nil {
		sess.Version = v
	}
	return &sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	key := s.key(sess.ID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		stored := 0
		raw, err := tx.HGet(ctx, key, "version").Result()
		switch {
		case err == nil:
			if stored, err = strconv.Atoi(raw); err != nil {
				return err
			}
		case errors.Is(err, redis.Nil):
			// First save of a new session.
		default:
			return err
		}
		if sess.Version != stored+1 {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, map[string]any{
				"data":    string(data),
				"version": strconv.Itoa(sess.Version),
			})
			pipe.SAdd(ctx, s.indexKey(), sess.ID)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		// Another writer touched the key between WATCH and EXEC.
		return ErrConflict
	}
	return err
}

func (s *RedisStore) List(ctx context.Context) ([]*Session, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Session hash expired but the index entry lingered.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}
