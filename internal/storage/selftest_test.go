package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfTestStore_RecordAndGet(t *testing.T) {
	store := NewSelfTestStore(newTestDB(t))
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &SelfTestRecord{
		RunID:      "run-1",
		MachineID:  4242,
		OfferID:    900,
		InstanceID: 31337,
		GPUName:    "RTX 4090",
		Passed:     true,
		Duration:   95 * time.Second,
		StartedAt:  started,
	}
	require.NoError(t, store.Record(ctx, rec))
	assert.NotEmpty(t, rec.ID)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 4242, got.MachineID)
	assert.Equal(t, 31337, got.InstanceID)
	assert.Equal(t, "RTX 4090", got.GPUName)
	assert.True(t, got.Passed)
	assert.Empty(t, got.Reason)
	assert.Equal(t, 95*time.Second, got.Duration)
	assert.True(t, started.Equal(got.StartedAt))
}

func TestSelfTestStore_RecordValidation(t *testing.T) {
	store := NewSelfTestStore(newTestDB(t))
	ctx := context.Background()

	err := store.Record(ctx, &SelfTestRecord{MachineID: 1})
	assert.ErrorIs(t, err, ErrIncompleteResult)
	err = store.Record(ctx, &SelfTestRecord{RunID: "r"})
	assert.ErrorIs(t, err, ErrIncompleteResult)

	rec := &SelfTestRecord{ID: "fixed", RunID: "r", MachineID: 1}
	require.NoError(t, store.Record(ctx, rec))
	dup := &SelfTestRecord{ID: "fixed", RunID: "r", MachineID: 1}
	assert.ErrorIs(t, store.Record(ctx, dup), ErrDuplicateResult)
}

func TestSelfTestStore_GetNotFound(t *testing.T) {
	store := NewSelfTestStore(newTestDB(t))
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func seedHistory(t *testing.T, store *SelfTestStore) time.Time {
	t.Helper()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rows := []SelfTestRecord{
		{RunID: "a", MachineID: 10, Passed: true, StartedAt: base},
		{RunID: "a", MachineID: 20, Passed: false, Reason: "no offer", StartedAt: base.Add(time.Minute)},
		{RunID: "b", MachineID: 10, Passed: false, Reason: "timeout", StartedAt: base.Add(time.Hour)},
		{RunID: "c", MachineID: 10, Passed: true, StartedAt: base.Add(2 * time.Hour)},
	}
	for i := range rows {
		require.NoError(t, store.Record(context.Background(), &rows[i]))
	}
	return base
}

func TestSelfTestStore_History(t *testing.T) {
	store := NewSelfTestStore(newTestDB(t))
	ctx := context.Background()
	base := seedHistory(t, store)

	all, err := store.History(ctx, SelfTestFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "c", all[0].RunID, "newest first")

	tests := []struct {
		name   string
		filter SelfTestFilter
		want   int
	}{
		{"by machine", SelfTestFilter{MachineID: 10}, 3},
		{"by run", SelfTestFilter{RunID: "a"}, 2},
		{"failed only", SelfTestFilter{FailedOnly: true}, 2},
		{"since", SelfTestFilter{Since: base.Add(30 * time.Minute)}, 2},
		{"limit", SelfTestFilter{Limit: 1}, 1},
		{"no match", SelfTestFilter{MachineID: 99}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.History(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestSelfTestStore_Summaries(t *testing.T) {
	store := NewSelfTestStore(newTestDB(t))
	seedHistory(t, store)

	sums, err := store.Summaries(context.Background())
	require.NoError(t, err)
	require.Len(t, sums, 2)

	assert.Equal(t, 10, sums[0].MachineID)
	assert.Equal(t, 3, sums[0].Runs)
	assert.Equal(t, 2, sums[0].Passed)
	assert.True(t, sums[0].LastPassed)
	assert.InDelta(t, 2.0/3.0, sums[0].PassRate(), 0.0001)

	assert.Equal(t, 20, sums[1].MachineID)
	assert.False(t, sums[1].LastPassed)
	assert.Zero(t, MachineSummary{}.PassRate())
}

func TestSelfTestStore_Prune(t *testing.T) {
	store := NewSelfTestStore(newTestDB(t))
	ctx := context.Background()
	base := seedHistory(t, store)

	n, err := store.Prune(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := store.History(ctx, SelfTestFilter{})
	require.NoError(t, err)
	assert.Len(t, left, 2)
}
