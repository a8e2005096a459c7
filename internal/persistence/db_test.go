package persistence

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/yardsale/internal/economy"
	"github.com/talgya/yardsale/internal/engine"
	"github.com/talgya/yardsale/internal/entropy"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "yardsale.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testController(t *testing.T, seed uint64) *engine.Controller {
	t.Helper()
	p := engine.DefaultParams()
	p.People = 12
	p.PlaysPerTick = 5
	c, err := engine.NewController(p, entropy.NewSeeded(seed))
	require.NoError(t, err)
	return c
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctl := testController(t, 1)
	for i := 0; i < 3; i++ {
		_, err := ctl.Tick()
		require.NoError(t, err)
	}
	id, snap := ctl.Snapshot()

	require.NoError(t, db.SaveSnapshot(id, snap))
	got, err := db.LatestSnapshot(id)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	last, err := db.LastRunID()
	require.NoError(t, err)
	assert.Equal(t, id, last)
}

func TestSaveSnapshotReplacesPrevious(t *testing.T) {
	db := openTestDB(t)
	ctl := testController(t, 2)
	require.NoError(t, db.SaveState(ctl))
	_, err := ctl.Tick()
	require.NoError(t, err)
	require.NoError(t, db.SaveState(ctl))

	runs, err := db.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 5, runs[0].Iterations)
	assert.Equal(t, 12, runs[0].Params.People)
	assert.Equal(t, ctl.RunID().String(), runs[0].ID)
}

func TestRestoreLast(t *testing.T) {
	db := openTestDB(t)
	fresh := testController(t, 3)
	require.ErrorIs(t, db.RestoreLast(fresh), ErrNoSnapshot)

	src := testController(t, 4)
	_, err := src.Tick()
	require.NoError(t, err)
	require.NoError(t, db.SaveState(src))

	require.NoError(t, db.RestoreLast(fresh))
	assert.Equal(t, src.Frame(), fresh.Frame())
}

func TestListRunsIncludesUnsavedRuns(t *testing.T) {
	db := openTestDB(t)
	id := uuid.New()
	require.NoError(t, db.SaveRun(id, engine.DefaultParams()))
	require.NoError(t, db.SaveRun(id, engine.DefaultParams()))

	runs, err := db.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Zero(t, runs[0].Iterations)
	assert.Equal(t, engine.DefaultParams(), runs[0].Params)

	_, err = db.LatestSnapshot(id)
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestMeta(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.SaveMeta("k", "v1"))
	require.NoError(t, db.SaveMeta("k", "v2"))
	v, err := db.GetMeta("k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestTrackRunsListsRunsBeforeSnapshot(t *testing.T) {
	db := openTestDB(t)
	ctl := testController(t, 5)
	require.NoError(t, db.TrackRuns(ctl))
	first := ctl.RunID()

	p := ctl.Params()
	p.People = 4
	require.NoError(t, ctl.Reset(p))

	runs, err := db.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	ids := []string{runs[0].ID, runs[1].ID}
	assert.ElementsMatch(t, []string{first.String(), ctl.RunID().String()}, ids)
	for _, r := range runs {
		assert.Zero(t, r.Iterations)
		if r.ID == ctl.RunID().String() {
			assert.Equal(t, 4, r.Params.People)
		}
	}
}

func TestSnapshotKeepsStartingWealth(t *testing.T) {
	db := openTestDB(t)
	p := engine.DefaultParams()
	p.People = 8
	p.Distribution = economy.DistUniform
	ctl, err := engine.NewController(p, entropy.NewSeeded(6))
	require.NoError(t, err)
	start := ctl.Frame().Wealth
	_, err = ctl.Tick()
	require.NoError(t, err)
	require.NoError(t, db.SaveState(ctl))

	got, err := db.LatestSnapshot(ctl.RunID())
	require.NoError(t, err)
	assert.Equal(t, start, got.Start)
}

func TestSaveSnapshotRejectsUnencodableState(t *testing.T) {
	db := openTestDB(t)
	ctl := testController(t, 8)
	id, snap := ctl.Snapshot()
	snap.TraceY = append(snap.TraceY, math.NaN())

	err := db.SaveSnapshot(id, snap)
	require.ErrorContains(t, err, "encode snapshot")
	_, err = db.LatestSnapshot(id)
	assert.ErrorIs(t, err, ErrNoSnapshot)
}
