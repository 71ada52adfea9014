package factsync

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
)

var ErrVenueLocked = errors.New("venue is being synced by another run")

// VenueLocker hands out a per-venue lease. Runs are safe without it since
// upserts are idempotent; the lease only avoids duplicate work.
type VenueLocker interface {
	Lock(ctx context.Context, venueId string) (VenueLease, error)
}

// VenueLease is held while a venue's days are synced. Refresh must be called
// often enough that the lease outlives the work.
type VenueLease interface {
	Refresh(ctx context.Context) error
	Release()
}

type redisVenueLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

// NewRedisVenueLocker leases "fact-sync:venue:<id>" for ttl. It does not wait
// for a held lease.
func NewRedisVenueLocker(client *redislock.Client, ttl time.Duration) VenueLocker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &redisVenueLocker{client: client, ttl: ttl}
}

func (l *redisVenueLocker) Lock(ctx context.Context, venueId string) (VenueLease, error) {
	lock, err := l.client.Obtain(ctx, "fact-sync:venue:"+venueId, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrVenueLocked
	}
	if err != nil {
		return nil, err
	}
	return &redisVenueLease{lock: lock, ttl: l.ttl}, nil
}

type redisVenueLease struct {
	lock *redislock.Lock
	ttl  time.Duration
}

// Refresh extends the lease by a full ttl. A lease that already expired
// cannot be refreshed and reports ErrVenueLocked.
func (l *redisVenueLease) Refresh(ctx context.Context) error {
	err := l.lock.Refresh(ctx, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrVenueLocked
	}
	return err
}

func (l *redisVenueLease) Release() {
	_ = l.lock.Release(context.Background())
}
