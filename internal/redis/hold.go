package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrHoldTaken  = errors.New("slot is held by another client")
	ErrNoHolderID = errors.New("holder id is required")
)

// HoldCache keeps short-lived reservation holds on slot numbers. Holds are
// advisory: they narrow the race between listing slots and booking one,
// the bookings table remains the only binding check.
type HoldCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewHoldCache(client *redis.Client, ttl time.Duration) *HoldCache {
	return &HoldCache{client: client, ttl: ttl}
}

func HoldKey(scheduleID uuid.UUID, date time.Time, number int) string {
	return fmt.Sprintf("hold:%s:%s:%d", scheduleID, date.Format(time.DateOnly), number)
}

// Acquire places a hold for holderID. Re-acquiring an existing hold with
// the same holder succeeds and leaves its expiry untouched; there is no
// renewal.
func (h *HoldCache) Acquire(ctx context.Context, scheduleID uuid.UUID, date time.Time, number int, holderID string) error {
	if holderID == "" {
		return ErrNoHolderID
	}
	key := HoldKey(scheduleID, date, number)

	ok, err := h.client.SetNX(ctx, key, holderID, h.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire hold: %w", err)
	}
	if ok {
		return nil
	}

	current, err := h.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		ok, err = h.client.SetNX(ctx, key, holderID, h.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire hold: %w", err)
		}
		if ok {
			return nil
		}
		return ErrHoldTaken
	}
	if err != nil {
		return fmt.Errorf("read hold: %w", err)
	}
	if current != holderID {
		return ErrHoldTaken
	}
	return nil
}

// Holder returns the current holder of a slot, "" if it is not held.
func (h *HoldCache) Holder(ctx context.Context, scheduleID uuid.UUID, date time.Time, number int) (string, error) {
	v, err := h.client.Get(ctx, HoldKey(scheduleID, date, number)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read hold: %w", err)
	}
	return v, nil
}

// Lookup reports whether the slot is held. With a holderID it only
// matches holds owned by that holder.
func (h *HoldCache) Lookup(ctx context.Context, scheduleID uuid.UUID, date time.Time, number int, holderID string) (bool, error) {
	current, err := h.Holder(ctx, scheduleID, date, number)
	if err != nil {
		return false, err
	}
	if current == "" {
		return false, nil
	}
	return holderID == "" || current == holderID, nil
}

// HeldNumbers lists the held numbers of a schedule day, scanning by key
// prefix.
func (h *HoldCache) HeldNumbers(ctx context.Context, scheduleID uuid.UUID, date time.Time) (map[int]string, error) {
	prefix := fmt.Sprintf("hold:%s:%s:", scheduleID, date.Format(time.DateOnly))
	out := map[int]string{}

	iter := h.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		var number int
		if _, err := fmt.Sscanf(key[len(prefix):], "%d", &number); err != nil {
			continue
		}
		v, err := h.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read hold: %w", err)
		}
		out[number] = v
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan holds: %w", err)
	}
	return out, nil
}
