// Package stats keeps per-link daily visit/click counters and per-playlist
// follower snapshots in Redis hashes, and rolls them up into windowed
// comparisons for the dashboard.
//
// Writes are at-most-once: a failed increment is logged and dropped. Reads
// never fail because of the store; they return zeros flagged Degraded.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/smartsavvy/internal/metrics"
)

// MaxWindowDays caps the aggregation window.
const MaxWindowDays = 365

var (
	ErrInvalidWindow = errors.New("window must be at least one day")
	ErrInvalidAction = errors.New("unknown link action")
	ErrInvalidCount  = errors.New("follower count must be non-negative")
)

// Action is a tracked interaction with a SmartLink.
type Action string

const (
	ActionVisit Action = "visit"
	ActionClick Action = "click"
)

func (a Action) field() (string, error) {
	switch a {
	case ActionVisit:
		return fieldVisits, nil
	case ActionClick:
		return fieldClicks, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, string(a))
	}
}

// Update is emitted after every successful write.
type Update struct {
	ID      string           `json:"id"`
	Variant Variant          `json:"variant"`
	Day     string           `json:"day"`
	Values  map[string]int64 `json:"values"`
}

type Option func(*Service)

// WithNotifier registers fn to receive an Update after each write.
func WithNotifier(fn func(Update)) Option {
	return func(s *Service) {
		s.notify = fn
	}
}

// WithMetrics records write counts and store failures on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

type Service struct {
	rdb     redis.Cmdable
	clock   Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	notify  func(Update)
}

func NewService(rdb redis.Cmdable, clock Clock, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		rdb:    rdb,
		clock:  clock,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record increments today's counter for action on linkID. Only an invalid
// action is reported; store failures drop the increment.
func (s *Service) Record(ctx context.Context, linkID string, action Action) error {
	field, err := action.field()
	if err != nil {
		return err
	}
	key := BucketKey{ID: linkID, Variant: VariantLink, Day: s.clock.Today()}

	n, err := s.rdb.HIncrBy(ctx, key.redisKey(), field, 1).Result()
	if err != nil {
		s.metrics.StoreError("record")
		s.logger.Warn("dropped link event", "link_id", linkID, "action", action, "error", err)
		return nil
	}
	s.metrics.StatEvent(string(action))
	s.emit(key, map[string]int64{field: n})
	return nil
}

// Window compares the trailing window against the one before it.
type Window struct {
	Current  int64 `json:"current"`
	Previous int64 `json:"previous"`
	Delta    int64 `json:"delta"`
}

func newWindow(cur, prev int64) Window {
	return Window{Current: cur, Previous: prev, Delta: cur - prev}
}

// Rate is a ratio for the current and previous windows.
type Rate struct {
	Current  float64 `json:"current"`
	Previous float64 `json:"previous"`
}

type LinkSummary struct {
	Days           int    `json:"days"`
	From           string `json:"from"`
	To             string `json:"to"`
	Visits         Window `json:"visits"`
	Clicks         Window `json:"clicks"`
	ConversionRate Rate   `json:"conversion_rate"`
	Degraded       bool   `json:"degraded,omitempty"`
}

// ConversionRate returns clicks/visits, or 0 when there were no visits.
func ConversionRate(visits, clicks int64) float64 {
	if visits <= 0 {
		return 0
	}
	return float64(clicks) / float64(visits)
}

// clampWindow validates days and caps it at MaxWindowDays.
func clampWindow(days int) (int, error) {
	if days < 1 {
		return 0, ErrInvalidWindow
	}
	if days > MaxWindowDays {
		days = MaxWindowDays
	}
	return days, nil
}

// Aggregate sums the link buckets of every id over the last days days
// (today included) and over the days before that.
func (s *Service) Aggregate(ctx context.Context, linkIDs []string, days int) (LinkSummary, error) {
	days, err := clampWindow(days)
	if err != nil {
		return LinkSummary{}, err
	}
	today := s.clock.Today()
	summary := LinkSummary{
		Days: days,
		From: today.AddDays(-days + 1).String(),
		To:   today.String(),
	}

	cur, prev, err := s.sumWindows(ctx, linkIDs, VariantLink, today, days, fieldVisits, fieldClicks)
	if err != nil {
		s.metrics.StoreError("aggregate")
		s.logger.Warn("stats read degraded", "links", len(linkIDs), "error", err)
		summary.Degraded = true
		return summary, nil
	}

	summary.Visits = newWindow(cur[fieldVisits], prev[fieldVisits])
	summary.Clicks = newWindow(cur[fieldClicks], prev[fieldClicks])
	summary.ConversionRate = Rate{
		Current:  ConversionRate(cur[fieldVisits], cur[fieldClicks]),
		Previous: ConversionRate(prev[fieldVisits], prev[fieldClicks]),
	}
	return summary, nil
}

// sumWindows reads 2*days buckets per id in one pipeline and returns the
// per-field sums for the current and previous windows.
func (s *Service) sumWindows(ctx context.Context, ids []string, v Variant, today Day, days int, fields ...string) (cur, prev map[string]int64, err error) {
	cur = make(map[string]int64, len(fields))
	prev = make(map[string]int64, len(fields))
	if len(ids) == 0 {
		return cur, prev, nil
	}

	type read struct {
		current bool
		cmd     *redis.MapStringStringCmd
	}
	reads := make([]read, 0, len(ids)*days*2)
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range ids {
			for i := 0; i < 2*days; i++ {
				key := BucketKey{ID: id, Variant: v, Day: today.AddDays(-i)}
				reads = append(reads, read{current: i < days, cmd: p.HGetAll(ctx, key.redisKey())})
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("read buckets: %w", err)
	}

	for _, r := range reads {
		vals := r.cmd.Val()
		target := prev
		if r.current {
			target = cur
		}
		for _, f := range fields {
			target[f] += parseCounter(vals[f])
		}
	}
	return cur, prev, nil
}

// parseCounter reads a hash field as a non-negative integer; absent or
// garbled values count as zero.
func parseCounter(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (s *Service) emit(key BucketKey, values map[string]int64) {
	if s.notify == nil {
		return
	}
	s.notify(Update{ID: key.ID, Variant: key.Variant, Day: key.Day.String(), Values: values})
}
