package stats

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// followerLookback bounds how far back RecordFollowers searches for the
// previous snapshot.
const followerLookback = MaxWindowDays + 1

// RecordFollowers stores count as the playlist's follower total for today.
// The signed difference against the most recent earlier snapshot, skipped
// days included, is added to gained or lost; the other side is left
// untouched. The first snapshot ever only sets the total.
func (s *Service) RecordFollowers(ctx context.Context, playlistID string, count int64) error {
	if count < 0 {
		return ErrInvalidCount
	}
	today := s.clock.Today()
	todayKey := BucketKey{ID: playlistID, Variant: VariantPlaylist, Day: today}

	last, known, err := s.latestFollowers(ctx, playlistID, today, followerLookback)
	if err != nil {
		s.metrics.StoreError("followers")
		s.logger.Warn("dropped follower snapshot", "playlist_id", playlistID, "error", err)
		return nil
	}

	values := map[string]int64{fieldFollowers: count}
	var gained, lost *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if known {
			switch d := count - last; {
			case d > 0:
				gained = p.HIncrBy(ctx, todayKey.redisKey(), fieldGained, d)
			case d < 0:
				lost = p.HIncrBy(ctx, todayKey.redisKey(), fieldLost, -d)
			}
		}
		p.HSet(ctx, todayKey.redisKey(), fieldFollowers, count)
		return nil
	})
	if err != nil {
		s.metrics.StoreError("followers")
		s.logger.Warn("dropped follower snapshot", "playlist_id", playlistID, "error", err)
		return nil
	}
	if gained != nil {
		values[fieldGained] = gained.Val()
	}
	if lost != nil {
		values[fieldLost] = lost.Val()
	}

	s.metrics.StatEvent("followers")
	s.emit(todayKey, values)
	return nil
}

type FollowerSummary struct {
	Days      int    `json:"days"`
	From      string `json:"from"`
	To        string `json:"to"`
	Followers int64  `json:"followers"`
	Gained    Window `json:"gained"`
	Lost      Window `json:"lost"`
	Net       Window `json:"net"`
	Degraded  bool   `json:"degraded,omitempty"`
}

// AggregateFollowers sums gained and lost over the trailing window and the
// one before it. Followers is the most recent total found in either window.
func (s *Service) AggregateFollowers(ctx context.Context, playlistID string, days int) (FollowerSummary, error) {
	days, err := clampWindow(days)
	if err != nil {
		return FollowerSummary{}, err
	}
	today := s.clock.Today()
	summary := FollowerSummary{
		Days: days,
		From: today.AddDays(-days + 1).String(),
		To:   today.String(),
	}

	cur, prev, err := s.sumWindows(ctx, []string{playlistID}, VariantPlaylist, today, days, fieldGained, fieldLost)
	if err == nil {
		summary.Followers, _, err = s.latestFollowers(ctx, playlistID, today, 2*days)
	}
	if err != nil {
		s.metrics.StoreError("aggregate_followers")
		s.logger.Warn("follower read degraded", "playlist_id", playlistID, "error", err)
		summary.Degraded = true
		return summary, nil
	}

	summary.Gained = newWindow(cur[fieldGained], prev[fieldGained])
	summary.Lost = newWindow(cur[fieldLost], prev[fieldLost])
	summary.Net = newWindow(cur[fieldGained]-cur[fieldLost], prev[fieldGained]-prev[fieldLost])
	return summary, nil
}

// latestFollowers returns the newest follower total within lookback days
// ending at today. known is false when no snapshot exists in that range.
func (s *Service) latestFollowers(ctx context.Context, playlistID string, today Day, lookback int) (int64, bool, error) {
	cmds := make([]*redis.StringCmd, 0, lookback)
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i := 0; i < lookback; i++ {
			key := BucketKey{ID: playlistID, Variant: VariantPlaylist, Day: today.AddDays(-i)}
			cmds = append(cmds, p.HGet(ctx, key.redisKey(), fieldFollowers))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, false, fmt.Errorf("read follower totals: %w", err)
	}
	// Pipelined reports only the first failure, which is usually a miss.
	for _, c := range cmds {
		v, err := c.Result()
		switch {
		case err == nil:
			return parseCounter(v), true, nil
		case errors.Is(err, redis.Nil):
			continue
		default:
			return 0, false, fmt.Errorf("read follower totals: %w", err)
		}
	}
	return 0, false, nil
}
