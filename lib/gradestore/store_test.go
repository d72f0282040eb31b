package gradestore

import (
	"context"
	"testing"
	"time"

	"graderade/lib/timezone"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestPushPull(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	day1 := time.Date(2025, 5, 1, 16, 0, 0, 0, timezone.Location)
	day2 := day1.AddDate(0, 0, 1)

	err := store.Push(ctx, PushRequest{
		Time: day1,
		User: "student",
		Courses: []CourseSnapshot{
			{Course: "Algebra II", Value: 91.25},
			{Course: "Chemistry", Value: 88.4},
		},
	})
	require.NoError(t, err)

	err = store.Push(ctx, PushRequest{
		Time: day2,
		User: "student",
		Courses: []CourseSnapshot{
			{Course: "Algebra II", Value: 92.0},
		},
	})
	require.NoError(t, err)

	series, err := store.Pull(ctx, "student")
	require.NoError(t, err)
	require.Len(t, series, 2)

	require.Equal(t, "Algebra II", series[0].Course)
	require.Len(t, series[0].Snapshots, 2)
	require.Equal(t, day1.Unix(), series[0].Snapshots[0].Time.Unix())
	require.InDelta(t, 91.25, series[0].Snapshots[0].Value, 0.001)
	require.Equal(t, day2.Unix(), series[0].Snapshots[1].Time.Unix())
	require.InDelta(t, 92.0, series[0].Snapshots[1].Value, 0.001)

	require.Equal(t, "Chemistry", series[1].Course)
	require.Len(t, series[1].Snapshots, 1)
}

func TestPushSameDayReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	morning := time.Date(2025, 5, 1, 8, 0, 0, 0, timezone.Location)
	evening := time.Date(2025, 5, 1, 21, 30, 0, 0, timezone.Location)

	err := store.Push(ctx, PushRequest{
		Time:    morning,
		User:    "student",
		Courses: []CourseSnapshot{{Course: "Algebra II", Value: 90.0}},
	})
	require.NoError(t, err)

	err = store.Push(ctx, PushRequest{
		Time:    evening,
		User:    "student",
		Courses: []CourseSnapshot{{Course: "Algebra II", Value: 91.5}},
	})
	require.NoError(t, err)

	series, err := store.Pull(ctx, "student")
	require.NoError(t, err)
	require.Len(t, series, 1)
	// one point per day: the later push for the same day wins
	require.Len(t, series[0].Snapshots, 1)
	require.InDelta(t, 91.5, series[0].Snapshots[0].Value, 0.001)
	require.Equal(t, evening.Unix(), series[0].Snapshots[0].Time.Unix())
}

func TestPushIsolatedPerUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	when := time.Date(2025, 5, 1, 12, 0, 0, 0, timezone.Location)

	err := store.Push(ctx, PushRequest{
		Time:    when,
		User:    "alice",
		Courses: []CourseSnapshot{{Course: "Algebra II", Value: 95.0}},
	})
	require.NoError(t, err)
	err = store.Push(ctx, PushRequest{
		Time:    when,
		User:    "bob",
		Courses: []CourseSnapshot{{Course: "Algebra II", Value: 70.0}},
	})
	require.NoError(t, err)

	alice, err := store.Pull(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, alice, 1)
	require.InDelta(t, 95.0, alice[0].Snapshots[0].Value, 0.001)

	bob, err := store.Pull(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bob, 1)
	require.InDelta(t, 70.0, bob[0].Snapshots[0].Value, 0.001)
}

func TestPullUnknownUser(t *testing.T) {
	store := newTestStore(t)

	series, err := store.Pull(context.Background(), "nobody")
	require.NoError(t, err)
	require.Empty(t, series)
}
