// README: Surge signals: destination keyword placeholder and a Redis demand counter.
package fare

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ridehail/internal/modules/ride"
	"ridehail/internal/types"
)

type SurgeQuery struct {
	Category           ride.Category
	DestinationAddress string
	DestinationCoords  types.Point
}

type SurgeSignal interface {
	Active(ctx context.Context, q SurgeQuery) (bool, error)
}

// KeywordSurge flags surge when the destination mentions a keyword.
// It is a stand-in until a demand signal is configured.
type KeywordSurge struct {
	keywords []string
}

func NewKeywordSurge(keywords []string) *KeywordSurge {
	lower := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lower = append(lower, k)
		}
	}
	return &KeywordSurge{keywords: lower}
}

func (s *KeywordSurge) Active(_ context.Context, q SurgeQuery) (bool, error) {
	dest := strings.ToLower(q.DestinationAddress)
	for _, k := range s.keywords {
		if strings.Contains(dest, k) {
			return true, nil
		}
	}
	return false, nil
}

const (
	pendingDemandKey = "surge:pending_rides"
	surgeFlagKey     = "surge:flag"
)

// RedisSurge is active while the number of pending rides reaches the
// threshold, or while an operator flag is set. It tracks pending rides
// from ride events.
type RedisSurge struct {
	client    *redis.Client
	threshold int64
}

func NewRedisSurge(client *redis.Client, threshold int64) *RedisSurge {
	return &RedisSurge{client: client, threshold: threshold}
}

func (s *RedisSurge) Active(ctx context.Context, _ SurgeQuery) (bool, error) {
	pipe := s.client.Pipeline()
	pending := pipe.SCard(ctx, pendingDemandKey)
	flag := pipe.Exists(ctx, surgeFlagKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	if flag.Val() > 0 {
		return true, nil
	}
	return s.threshold > 0 && pending.Val() >= s.threshold, nil
}

// HandleRideEvent keeps the pending set in step with the ride store.
func (s *RedisSurge) HandleRideEvent(ctx context.Context, e ride.Event) error {
	if e.Status == ride.StatusPending {
		return s.client.SAdd(ctx, pendingDemandKey, string(e.RideID)).Err()
	}
	return s.client.SRem(ctx, pendingDemandKey, string(e.RideID)).Err()
}

// SetFlag forces surge on for ttl; a zero ttl clears it.
func (s *RedisSurge) SetFlag(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		return s.client.Del(ctx, surgeFlagKey).Err()
	}
	return s.client.Set(ctx, surgeFlagKey, "1", ttl).Err()
}

// AnySurge is active when any of its signals is. A failing signal only
// matters if no other signal reports surge.
type AnySurge []SurgeSignal

func (a AnySurge) Active(ctx context.Context, q SurgeQuery) (bool, error) {
	var errs []error
	for _, s := range a {
		on, err := s.Active(ctx, q)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if on {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}
