package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/haneulab/deepresearch/internal/metrics"
	"github.com/haneulab/deepresearch/internal/research"
)

const (
	sessionKeyPrefix = "sessions/"
	reportKeySuffix  = "/report"
)

// redisStore keeps each session as one JSON document under sessions/{id}.
// Updates run inside a WATCH transaction so a concurrent writer aborts the
// commit instead of losing it.
type redisStore struct {
	client *redis.Client
	locks  *idLocks
	logger *zap.Logger
}

func newRedisStore(url string, logger *zap.Logger) (*redisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("session: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("session: connect redis: %w", err)
	}
	logger.Info("session store ready", zap.String("backend", "redis"), zap.String("addr", opts.Addr))
	return &redisStore{client: client, locks: newIDLocks(), logger: logger}, nil
}

func sessionKey(id string) string { return sessionKeyPrefix + id }
func reportKey(id string) string  { return sessionKeyPrefix + id + reportKeySuffix }

func (s *redisStore) Create(ctx context.Context, spec research.Spec) (*research.Session, error) {
	sess := newSession(spec)
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("session: marshal: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.ID), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("session: set: %w", err)
	}
	return sess, nil
}

func (s *redisStore) Load(ctx context.Context, id string) (*research.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, research.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	var sess research.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session: unmarshal: %w", err)
	}
	return &sess, nil
}

func (s *redisStore) Update(ctx context.Context, id string, mutate func(*research.Session) error) (*research.Session, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	key := sessionKey(id)
	var updated *research.Session

	for attempt := 0; attempt < updateRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return research.ErrNotFound
			}
			if err != nil {
				return err
			}
			var sess research.Session
			if err := json.Unmarshal(data, &sess); err != nil {
				return fmt.Errorf("session: unmarshal: %w", err)
			}
			if err := mutate(&sess); err != nil {
				return err
			}
			sess.Version++
			sess.UpdatedAt = time.Now().UTC()

			out, err := json.Marshal(&sess)
			if err != nil {
				return fmt.Errorf("session: marshal: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, out, 0)
				return nil
			})
			if err == nil {
				updated = &sess
			}
			return err
		}, key)

		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			metrics.StoreUpdateConflicts.Inc()
			continue
		}
		return nil, err
	}
	return nil, conflictErr(id)
}

func (s *redisStore) List(ctx context.Context, f Filter) ([]*research.Session, int, error) {
	var sessions []*research.Session
	iter := s.client.Scan(ctx, 0, sessionKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if len(key) > len(reportKeySuffix) && key[len(key)-len(reportKeySuffix):] == reportKeySuffix {
			continue
		}
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var sess research.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			s.logger.Warn("skipping corrupt session document", zap.String("key", key), zap.Error(err))
			continue
		}
		if f.Stage != "" && sess.Stage != f.Stage {
			continue
		}
		sessions = append(sessions, &sess)
	}
	if err := iter.Err(); err != nil {
		return nil, 0, fmt.Errorf("session: scan: %w", err)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Spec.CreatedAt.After(sessions[j].Spec.CreatedAt)
	})
	total := len(sessions)
	if f.Offset > 0 {
		if f.Offset >= len(sessions) {
			sessions = nil
		} else {
			sessions = sessions[f.Offset:]
		}
	}
	if f.Limit > 0 && len(sessions) > f.Limit {
		sessions = sessions[:f.Limit]
	}
	return sessions, total, nil
}

func (s *redisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, sessionKey(id), reportKey(id)).Result()
	if err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	if n == 0 {
		return research.ErrNotFound
	}
	s.locks.forget(id)
	return nil
}

func (s *redisStore) SaveReport(ctx context.Context, id string, markdown string) error {
	exists, err := s.client.Exists(ctx, sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("session: save report: %w", err)
	}
	if exists == 0 {
		return research.ErrNotFound
	}
	return s.client.Set(ctx, reportKey(id), markdown, 0).Err()
}

func (s *redisStore) Close() error { return s.client.Close() }
