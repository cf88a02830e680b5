package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const playlist = "37i9dQZF1DXcBWIGoYBM5M"

func TestRecordFollowersDailyDeltas(t *testing.T) {
	svc, mr, tc := setupStats(t)
	ctx := context.Background()

	start := fixedNow.AddDate(0, 0, -3)
	for i, count := range []int64{100, 110, 105, 120} {
		tc.now = start.AddDate(0, 0, i)
		require.NoError(t, svc.RecordFollowers(ctx, playlist, count))
	}

	got, err := svc.AggregateFollowers(ctx, playlist, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(25), got.Gained.Current)
	assert.Equal(t, int64(5), got.Lost.Current)
	assert.Equal(t, int64(20), got.Net.Current)
	assert.Equal(t, int64(120), got.Followers)

	first := BucketKey{ID: playlist, Variant: VariantPlaylist, Day: DayOf(start, time.UTC)}.redisKey()
	assert.Equal(t, "100", mr.HGet(first, fieldFollowers))
	assert.Equal(t, "", mr.HGet(first, fieldGained), "first snapshot has no delta")
	assert.Equal(t, "", mr.HGet(first, fieldLost))
}

func TestRecordFollowersSameDayAccumulatesBothDirections(t *testing.T) {
	svc, mr, _ := setupStats(t)
	ctx := context.Background()

	for _, count := range []int64{50, 60, 55, 58} {
		require.NoError(t, svc.RecordFollowers(ctx, playlist, count))
	}

	key := BucketKey{ID: playlist, Variant: VariantPlaylist, Day: DayOf(fixedNow, time.UTC)}.redisKey()
	assert.Equal(t, "58", mr.HGet(key, fieldFollowers))
	assert.Equal(t, "13", mr.HGet(key, fieldGained))
	assert.Equal(t, "5", mr.HGet(key, fieldLost))
}

func TestRecordFollowersRepeatedCountIsNoDelta(t *testing.T) {
	svc, mr, _ := setupStats(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordFollowers(ctx, playlist, 70))
	require.NoError(t, svc.RecordFollowers(ctx, playlist, 70))

	key := BucketKey{ID: playlist, Variant: VariantPlaylist, Day: DayOf(fixedNow, time.UTC)}.redisKey()
	assert.Equal(t, "", mr.HGet(key, fieldGained))
	assert.Equal(t, "", mr.HGet(key, fieldLost))
}

func TestRecordFollowersResultIndependentOfReads(t *testing.T) {
	svc, _, tc := setupStats(t)
	ctx := context.Background()

	start := fixedNow.AddDate(0, 0, -3)
	for i, count := range []int64{100, 110, 105, 120} {
		tc.now = start.AddDate(0, 0, i)
		require.NoError(t, svc.RecordFollowers(ctx, playlist, count))
		_, err := svc.AggregateFollowers(ctx, playlist, 7)
		require.NoError(t, err)
	}

	first, _ := svc.AggregateFollowers(ctx, playlist, 7)
	second, _ := svc.AggregateFollowers(ctx, playlist, 7)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(25), first.Gained.Current)
	assert.Equal(t, int64(5), first.Lost.Current)
}

func TestAggregateFollowersPreviousWindow(t *testing.T) {
	svc, _, tc := setupStats(t)
	ctx := context.Background()

	// Days -3..0 with a 2-day window: current covers days -1..0, previous -3..-2.
	start := fixedNow.AddDate(0, 0, -3)
	for i, count := range []int64{100, 110, 105, 120} {
		tc.now = start.AddDate(0, 0, i)
		require.NoError(t, svc.RecordFollowers(ctx, playlist, count))
	}

	got, err := svc.AggregateFollowers(ctx, playlist, 2)
	require.NoError(t, err)
	assert.Equal(t, Window{Current: 15, Previous: 10, Delta: 5}, got.Gained)
	assert.Equal(t, Window{Current: 5, Previous: 0, Delta: 5}, got.Lost)
}

func TestRecordFollowersRejectsNegative(t *testing.T) {
	svc, _, _ := setupStats(t)

	err := svc.RecordFollowers(context.Background(), playlist, -1)
	assert.ErrorIs(t, err, ErrInvalidCount)
}

func TestFollowersStoreDown(t *testing.T) {
	svc, mr, _ := setupStats(t)
	mr.Close()
	ctx := context.Background()

	assert.NoError(t, svc.RecordFollowers(ctx, playlist, 10))

	got, err := svc.AggregateFollowers(ctx, playlist, 7)
	require.NoError(t, err)
	assert.True(t, got.Degraded)
	assert.Equal(t, int64(0), got.Followers)
}

func TestAggregateFollowersUnknownPlaylist(t *testing.T) {
	svc, _, _ := setupStats(t)

	got, err := svc.AggregateFollowers(context.Background(), "nope", 7)
	require.NoError(t, err)
	assert.False(t, got.Degraded)
	assert.Equal(t, int64(0), got.Followers)
	assert.Equal(t, Window{}, got.Gained)
}

func TestRecordFollowersAcrossSkippedDay(t *testing.T) {
	svc, mr, tc := setupStats(t)
	ctx := context.Background()

	start := fixedNow.AddDate(0, 0, -3)
	snapshots := []struct {
		offset int
		count  int64
	}{
		{0, 100},
		{2, 130},
		{3, 120},
	}
	for _, s := range snapshots {
		tc.now = start.AddDate(0, 0, s.offset)
		require.NoError(t, svc.RecordFollowers(ctx, playlist, s.count))
	}

	resumed := BucketKey{ID: playlist, Variant: VariantPlaylist, Day: DayOf(start.AddDate(0, 0, 2), time.UTC)}.redisKey()
	assert.Equal(t, "30", mr.HGet(resumed, fieldGained))

	got, err := svc.AggregateFollowers(ctx, playlist, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(30), got.Gained.Current)
	assert.Equal(t, int64(10), got.Lost.Current)
	assert.Equal(t, int64(120), got.Followers)
}

func TestRecordFollowersLongGap(t *testing.T) {
	svc, mr, tc := setupStats(t)
	ctx := context.Background()

	tc.now = fixedNow.AddDate(0, 0, -90)
	require.NoError(t, svc.RecordFollowers(ctx, playlist, 40))
	tc.now = fixedNow
	require.NoError(t, svc.RecordFollowers(ctx, playlist, 25))

	key := BucketKey{ID: playlist, Variant: VariantPlaylist, Day: DayOf(fixedNow, time.UTC)}.redisKey()
	assert.Equal(t, "15", mr.HGet(key, fieldLost))
	assert.Equal(t, "", mr.HGet(key, fieldGained))
}

func TestLatestFollowersReportsErrorAfterMiss(t *testing.T) {
	svc, mr, _ := setupStats(t)
	today := DayOf(fixedNow, time.UTC)

	// Today has no bucket; yesterday's key holds the wrong type.
	yesterday := BucketKey{ID: playlist, Variant: VariantPlaylist, Day: today.AddDays(-1)}.redisKey()
	require.NoError(t, mr.Set(yesterday, "garbage"))

	_, _, err := svc.latestFollowers(context.Background(), playlist, today, 3)
	assert.Error(t, err)
}

func TestRecordFollowersDropsOnUnreadableHistory(t *testing.T) {
	svc, mr, _ := setupStats(t)
	today := DayOf(fixedNow, time.UTC)

	yesterday := BucketKey{ID: playlist, Variant: VariantPlaylist, Day: today.AddDays(-1)}.redisKey()
	require.NoError(t, mr.Set(yesterday, "garbage"))

	require.NoError(t, svc.RecordFollowers(context.Background(), playlist, 10))

	key := BucketKey{ID: playlist, Variant: VariantPlaylist, Day: today}.redisKey()
	assert.False(t, mr.Exists(key), "snapshot should be dropped, not recorded as a first snapshot")
}
