package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohammad-safakhou/slackersnooze/config"
	"github.com/mohammad-safakhou/slackersnooze/internal/snapshot"
	"github.com/mohammad-safakhou/slackersnooze/repository/redis_repository"
)

// SnapshotRelay moves snapshots between processes.
type SnapshotRelay interface {
	snapshot.Sink
	Latest(ctx context.Context) (*snapshot.Snapshot, error)
	Follow(ctx context.Context, h *snapshot.Holder) error
}

// RefreshLock keeps refreshers in different processes from running concurrently.
type RefreshLock interface {
	TryAcquire(ctx context.Context) (release func(), acquired bool, err error)
}

type Repositories struct {
	Relay SnapshotRelay
	Lock  RefreshLock
	Close func() error
}

type RepoType string

const (
	RepoTypeRedis RepoType = "redis"
)

func New(ctx context.Context, t RepoType, cfg config.Config, log zerolog.Logger) (*Repositories, error) {
	switch t {
	case RepoTypeRedis:
		rc := cfg.Storage.Redis
		timeout := rc.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		c, err := redis_repository.Conn(ctx, rc.Host, rc.Port, rc.Password, rc.DB, timeout)
		if err != nil {
			return nil, err
		}
		return &Repositories{
			Relay: redis_repository.NewRedisSnapshotRelay(c, log),
			Lock:  redis_repository.NewRedisRefreshLock(c, cfg.Refresh.LockTTL),
			Close: c.Close,
		}, nil
	}
	return nil, fmt.Errorf("invalid repository type: %s", t)
}
