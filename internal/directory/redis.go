package directory

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	activeSetKey     = "capsa:active_sessions"
	sessionKeyPrefix = "capsa:session:"

	// claimRetries bounds optimistic transaction retries before the
	// conflict is surfaced to the caller.
	claimRetries = 3
)

// RedisConfig holds the connection settings for the shared cache
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
}

// Redis is a Directory backed by a shared Redis instance
type Redis struct {
	client *redis.Client
	logger *log.Logger
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(ctx context.Context, cfg RedisConfig, logger *log.Logger) (*Redis, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	return &Redis{
		client: client,
		logger: logger.WithPrefix("directory"),
	}, nil
}

// Close releases the underlying connection pool
func (r *Redis) Close() error {
	return r.client.Close()
}

// Enabled reports that this directory is backed by shared storage
func (r *Redis) Enabled() bool { return true }

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// Publish writes or overwrites a session's entry
func (r *Redis) Publish(ctx context.Context, e Entry) error {
	names, err := json.Marshal(e.SeatNames)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(e.SessionID), map[string]interface{}{
		"session_name": e.SessionName,
		"creator_name": e.CreatorName,
		"created_at":   e.CreatedAt.Format(time.RFC3339),
		"player_count": e.PlayerCount,
		"status":       e.Status,
		"seat_names":   string(names),
	})
	pipe.SAdd(ctx, activeSetKey, e.SessionID)
	_, err = pipe.Exec(ctx)
	return err
}

// List returns every active session's entry, pruning dangling set
// members whose hashes have expired.
func (r *Redis) List(ctx context.Context) ([]Entry, error) {
	ids, err := r.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		fields, err := r.client.HGetAll(ctx, sessionKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			r.client.SRem(ctx, activeSetKey, id)
			continue
		}
		entries = append(entries, entryFromFields(id, fields))
	}
	return entries, nil
}

func entryFromFields(id string, fields map[string]string) Entry {
	e := Entry{
		SessionID:   id,
		SessionName: fields["session_name"],
		CreatorName: fields["creator_name"],
		Status:      fields["status"],
	}
	e.PlayerCount, _ = strconv.Atoi(fields["player_count"])
	e.CreatedAt, _ = time.Parse(time.RFC3339, fields["created_at"])
	_ = json.Unmarshal([]byte(fields["seat_names"]), &e.SeatNames)
	return e
}

// ClaimSeat claims one seat with an optimistic WATCH/MULTI transaction.
// The watched key covers the whole session hash, so any concurrent
// seat change aborts the transaction and the claim retries.
func (r *Redis) ClaimSeat(ctx context.Context, sessionID string, seat int, name string) error {
	key := sessionKey(sessionID)

	claim := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return ErrNotFound
		}

		var names [4]string
		if err := json.Unmarshal([]byte(fields["seat_names"]), &names); err != nil {
			return err
		}
		if seat < 0 || seat >= len(names) {
			return fmt.Errorf("seat index %d out of range", seat)
		}
		if names[seat] != "" {
			return ErrSeatConflict
		}
		names[seat] = name
		updated, err := json.Marshal(names)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HIncrBy(ctx, key, "player_count", 1)
			pipe.HSet(ctx, key, "seat_names", string(updated))
			return nil
		})
		return err
	}

	for i := 0; i < claimRetries; i++ {
		err := r.client.Watch(ctx, claim, key)
		if err == redis.TxFailedErr {
			r.logger.Debug("seat claim retry after watch conflict", "session", sessionID, "seat", seat)
			continue
		}
		return err
	}
	return ErrSeatConflict
}

// ReleaseSeat clears a seat and decrements the player count; an empty
// session is removed from the directory entirely.
func (r *Redis) ReleaseSeat(ctx context.Context, sessionID string, seat int) error {
	key := sessionKey(sessionID)

	release := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return nil
		}

		var names [4]string
		if err := json.Unmarshal([]byte(fields["seat_names"]), &names); err != nil {
			return err
		}
		if seat >= 0 && seat < len(names) {
			names[seat] = ""
		}
		updated, err := json.Marshal(names)
		if err != nil {
			return err
		}

		count, _ := strconv.Atoi(fields["player_count"])
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if count <= 1 {
				pipe.SRem(ctx, activeSetKey, sessionID)
				pipe.Del(ctx, key)
				return nil
			}
			pipe.HIncrBy(ctx, key, "player_count", -1)
			pipe.HSet(ctx, key, "seat_names", string(updated))
			return nil
		})
		return err
	}

	for i := 0; i < claimRetries; i++ {
		err := r.client.Watch(ctx, release, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return ErrSeatConflict
}

// SetStatus updates the mirrored lifecycle status
func (r *Redis) SetStatus(ctx context.Context, sessionID, status string) error {
	return r.client.HSet(ctx, sessionKey(sessionID), "status", status).Err()
}

// SetSeatNames overwrites the mirrored seat names
func (r *Redis) SetSeatNames(ctx context.Context, sessionID string, names [4]string) error {
	encoded, err := json.Marshal(names)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, sessionKey(sessionID), "seat_names", string(encoded)).Err()
}

// MarkFinished flags the session finished and bounds its lifetime so
// abandoned sessions age out of the cache.
func (r *Redis) MarkFinished(ctx context.Context, sessionID string, ttl time.Duration) error {
	key := sessionKey(sessionID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, "status", "finished")
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Reactivate clears a finished session's expiry after auto-restart
func (r *Redis) Reactivate(ctx context.Context, sessionID string) error {
	key := sessionKey(sessionID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, "status", "waiting")
	pipe.Persist(ctx, key)
	pipe.SAdd(ctx, activeSetKey, sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// Remove deletes a session's entry entirely
func (r *Redis) Remove(ctx context.Context, sessionID string) error {
	pipe := r.client.TxPipeline()
	pipe.SRem(ctx, activeSetKey, sessionID)
	pipe.Del(ctx, sessionKey(sessionID))
	_, err := pipe.Exec(ctx)
	return err
}
