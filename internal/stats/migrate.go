package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ErrLinkNotFound marks a bucket whose link no longer exists in the
// relational store. Migration surfaces it to the operator.
var ErrLinkNotFound = errors.New("link not found")

// LinkChecker reports whether a link id exists. *store.LinkStore satisfies it.
type LinkChecker interface {
	Exists(id string) (bool, error)
}

// maxMergeAttempts bounds the optimistic retries of one bucket merge.
const maxMergeAttempts = 5

// Migrator runs operator-driven maintenance over the counter store. It is
// the only code that enumerates keys or deletes buckets. Merges WATCH the
// source bucket, so it is safe to run while the service keeps counting.
type Migrator struct {
	rdb    redis.UniversalClient
	links  LinkChecker
	logger *slog.Logger
}

func NewMigrator(rdb redis.UniversalClient, links LinkChecker, logger *slog.Logger) *Migrator {
	return &Migrator{rdb: rdb, links: links, logger: logger}
}

// AuditReport summarises one pass over every bucket.
type AuditReport struct {
	Keys      int      `json:"keys"`
	Links     int      `json:"links"`
	Playlists int      `json:"playlists"`
	Malformed []string `json:"malformed,omitempty"`
	Missing   []string `json:"missing,omitempty"`
}

// Audit walks every stats key and checks each link id against the link
// store. The report is always returned; the error wraps ErrLinkNotFound
// when any bucket points at a missing link.
func (m *Migrator) Audit(ctx context.Context) (AuditReport, error) {
	var report AuditReport
	linkIDs := map[string]struct{}{}
	playlistIDs := map[string]struct{}{}

	err := m.scan(ctx, scanPattern(""), func(raw string) error {
		report.Keys++
		key, err := parseBucketKey(raw)
		if err != nil {
			report.Malformed = append(report.Malformed, raw)
			return nil
		}
		switch key.Variant {
		case VariantLink:
			linkIDs[key.ID] = struct{}{}
		case VariantPlaylist:
			playlistIDs[key.ID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	report.Links = len(linkIDs)
	report.Playlists = len(playlistIDs)

	for id := range linkIDs {
		ok, err := m.links.Exists(id)
		if err != nil {
			return report, fmt.Errorf("check link %s: %w", id, err)
		}
		if !ok {
			report.Missing = append(report.Missing, id)
		}
	}
	sort.Strings(report.Missing)
	sort.Strings(report.Malformed)

	if len(report.Missing) > 0 {
		return report, fmt.Errorf("%w: %s", ErrLinkNotFound, strings.Join(report.Missing, ", "))
	}
	return report, nil
}

// Rename merges every link bucket of from into to and deletes the source
// keys. Counters are summed; a follower total is overwritten. The
// destination link must exist. It returns the number of buckets moved.
func (m *Migrator) Rename(ctx context.Context, from, to string) (int, error) {
	if from == "" || to == "" || from == to {
		return 0, fmt.Errorf("rename %q -> %q: ids must be distinct and non-empty", from, to)
	}
	ok, err := m.links.Exists(to)
	if err != nil {
		return 0, fmt.Errorf("check link %s: %w", to, err)
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrLinkNotFound, to)
	}

	var sources []BucketKey
	err = m.scan(ctx, scanPattern(from), func(raw string) error {
		key, err := parseBucketKey(raw)
		if err != nil || key.ID != from {
			return nil
		}
		sources = append(sources, key)
		return nil
	})
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, src := range sources {
		if err := m.mergeBucket(ctx, src, BucketKey{ID: to, Variant: src.Variant, Day: src.Day}); err != nil {
			return moved, err
		}
		moved++
	}
	m.logger.Info("renamed link buckets", "from", from, "to", to, "buckets", moved)
	return moved, nil
}

// mergeBucket moves src into dst in one transaction. A write to src between
// the read and EXEC aborts the transaction and the merge is retried.
func (m *Migrator) mergeBucket(ctx context.Context, src, dst BucketKey) error {
	merge := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, src.redisKey()).Result()
		if err != nil {
			return fmt.Errorf("read %s: %w", src.redisKey(), err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for field, raw := range vals {
				n := parseCounter(raw)
				if field == fieldFollowers {
					p.HSet(ctx, dst.redisKey(), field, n)
					continue
				}
				p.HIncrBy(ctx, dst.redisKey(), field, n)
			}
			p.Del(ctx, src.redisKey())
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		err := m.rdb.Watch(ctx, merge, src.redisKey())
		if errors.Is(err, redis.TxFailedErr) {
			m.logger.Debug("bucket changed during merge, retrying", "key", src.redisKey(), "attempt", attempt+1)
			continue
		}
		if err != nil {
			return fmt.Errorf("merge %s into %s: %w", src.redisKey(), dst.redisKey(), err)
		}
		return nil
	}
	return fmt.Errorf("merge %s into %s: source kept changing after %d attempts", src.redisKey(), dst.redisKey(), maxMergeAttempts)
}

func (m *Migrator) scan(ctx context.Context, pattern string, fn func(key string) error) error {
	iter := m.rdb.Scan(ctx, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", pattern, err)
	}
	return nil
}
