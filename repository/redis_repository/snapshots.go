package redis_repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mohammad-safakhou/slackersnooze/internal/snapshot"
)

const (
	snapshotKey     = "snooze:snapshot:current"
	snapshotChannel = "snooze:snapshot:published"
)

// redisSnapshotRelay hands the latest snapshot from the refresher process to the
// serving processes: the encoded snapshot lives under one key and its id is
// announced on a channel.
type redisSnapshotRelay struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisSnapshotRelay(client *redis.Client, log zerolog.Logger) *redisSnapshotRelay {
	return &redisSnapshotRelay{client: client, log: log}
}

func (r *redisSnapshotRelay) Publish(ctx context.Context, s *snapshot.Snapshot) error {
	data, err := snapshot.Encode(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, snapshotKey, data, 0).Err(); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	if err := r.client.Publish(ctx, snapshotChannel, s.ID()).Err(); err != nil {
		return fmt.Errorf("announce snapshot: %w", err)
	}
	return nil
}

// Latest returns the stored snapshot, or nil when none has been published yet.
func (r *redisSnapshotRelay) Latest(ctx context.Context) (*snapshot.Snapshot, error) {
	data, err := r.client.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snapshot.Decode(data)
}

// Follow keeps h in sync with published snapshots until ctx is cancelled.
// A snapshot that fails to load leaves the current one in place.
func (r *redisSnapshotRelay) Follow(ctx context.Context, h *snapshot.Holder) error {
	sub := r.client.Subscribe(ctx, snapshotChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", snapshotChannel, err)
	}

	r.refresh(ctx, h, "")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.refresh(ctx, h, msg.Payload)
		}
	}
}

func (r *redisSnapshotRelay) refresh(ctx context.Context, h *snapshot.Holder, announced string) {
	if announced != "" && announced == h.Load().ID() {
		return
	}
	s, err := r.Latest(ctx)
	if err != nil {
		r.log.Warn().Err(err).Str("announced", announced).Msg("keeping previous snapshot")
		return
	}
	if s == nil || s.ID() == h.Load().ID() {
		return
	}
	h.Swap(s)
	r.log.Info().Str("snapshot", s.ID()).Int("docs", s.Len()).Msg("snapshot received")
}
