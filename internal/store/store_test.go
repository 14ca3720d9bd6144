package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Floozutter/stowjar/internal/chain"
	"github.com/Floozutter/stowjar/internal/keylog"
	"github.com/Floozutter/stowjar/internal/keystate"
	"github.com/Floozutter/stowjar/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "stowjar.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return s
}

func sampleCounter() *chain.Counter {
	c := chain.NewCounter()
	c.Process([]keylog.Event{
		{Timestamp: 10, Key: "A", Push: true},
		{Timestamp: 15, Key: "B", Push: true},
		{Timestamp: 20, Key: "A", Push: false},
		{Timestamp: 28, Key: "B", Push: false},
	})
	c.Process([]keylog.Event{
		{Timestamp: 3, Key: "A", Push: true},
		{Timestamp: 8, Key: "A", Push: false},
	})
	return c
}

func sampleRun(id string, finished time.Time) model.RunSummary {
	return model.RunSummary{
		ID:           id,
		StartedAt:    finished.Add(-time.Second),
		FinishedAt:   finished,
		ChainPath:    "chain.json",
		Format:       "json",
		SinkDuration: 0,
		SinkWeight:   1,
		Streams:      2,
		Events:       6,
		Transitions:  6,
		States:       4,
	}
}

func TestInsertAndLoadRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	counter := sampleCounter()
	run := sampleRun(NewRunID(), time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	streams := []model.StreamSummary{
		{Path: "b.log", Digest: "bb", Events: 4, Transitions: 4},
		{Path: "a.log", Digest: "aa", Events: 2, Transitions: 2, Skipped: 0},
	}

	require.NoError(t, s.InsertRun(ctx, run, streams, counter))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.True(t, run.FinishedAt.Equal(got.FinishedAt))
	assert.Equal(t, run.SinkWeight, got.SinkWeight)
	assert.Equal(t, run.States, got.States)

	gotStreams, err := s.ListStreams(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, streams, gotStreams)

	loaded, err := s.LoadCounter(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, counter.Equal(loaded), "stored counter differs")
	assert.Equal(t, int64(2), loaded.Count(keystate.Empty(), keystate.Of("A"), 0))
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ids := []string{"run-old", "run-new", "run-mid"}
	offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
	for i, id := range ids {
		require.NoError(t, s.InsertRun(ctx, sampleRun(id, base.Add(offsets[i])), nil, chain.NewCounter()))
	}

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-new", runs[0].ID)
	assert.Equal(t, "run-mid", runs[1].ID)
	assert.Equal(t, "run-old", runs[2].ID)

	runs, err = s.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-new", runs[0].ID)
}

func TestListRunsSubSecondOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertRun(ctx, sampleRun("run-whole", base), nil, chain.NewCounter()))
	require.NoError(t, s.InsertRun(ctx, sampleRun("run-tenth", base.Add(100*time.Millisecond)), nil, chain.NewCounter()))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-tenth", runs[0].ID)
	assert.Equal(t, "run-whole", runs[1].ID)
	assert.True(t, runs[0].FinishedAt.Equal(base.Add(100*time.Millisecond)))
}

func TestUnknownRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.GetRun(ctx, "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound), "got %v", err)
	_, err = s.LoadCounter(ctx, "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound), "got %v", err)
}

func TestDuplicateRunRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run := sampleRun("dup", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.InsertRun(ctx, run, nil, sampleCounter()))
	assert.Error(t, s.InsertRun(ctx, run, nil, sampleCounter()))

	loaded, err := s.LoadCounter(ctx, "dup")
	require.NoError(t, err)
	assert.True(t, sampleCounter().Equal(loaded))
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		in         string
		driver     string
		dataSource string
	}{
		{in: "runs.db", driver: "sqlite", dataSource: "runs.db"},
		{in: "sqlite:///var/lib/stowjar.db", driver: "sqlite", dataSource: "/var/lib/stowjar.db"},
		{in: "sqlite://runs.db", driver: "sqlite", dataSource: "runs.db"},
		{in: "postgres://u:p@localhost/stowjar", driver: "postgres", dataSource: "postgres://u:p@localhost/stowjar"},
	}
	for _, tt := range tests {
		driver, ds, err := resolveURL(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.driver, driver, tt.in)
		assert.Equal(t, tt.dataSource, ds, tt.in)
	}
	_, _, err := resolveURL("mysql://localhost/db")
	assert.Error(t, err)
	_, _, err = resolveURL("")
	assert.Error(t, err)
}

func TestNewRunIDIsUnique(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
