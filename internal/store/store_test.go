package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSaveAndQueryRuns(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	for i, scenario := range []string{"baseline", "thin_book", "price_shock"} {
		id, err := st.SaveRun(RunRecord{
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
			Seed:         uint32(40 + i),
			Scenario:     scenario,
			Engine:       "HYBRID",
			Orders:       100 + i,
			FilledQty:    "512.25",
			FillRatio:    "0.85",
			MeanSlippage: "0.0125",
			ProfitLoss:   "-3.5",
		})
		require.NoError(t, err)
		assert.Positive(t, id)
	}

	runs, err := st.RecentRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first.
	assert.Equal(t, "price_shock", runs[0].Scenario)
	assert.Equal(t, "thin_book", runs[1].Scenario)
	assert.Equal(t, uint32(42), runs[0].Seed)
	assert.Equal(t, "512.25", runs[0].FilledQty)
	assert.Equal(t, "0.85", runs[0].FillRatio)
	assert.Equal(t, "-3.5", runs[0].ProfitLoss)
}

func TestRecentRunsEmpty(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	runs, err := st.RecentRuns(10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "runs.db")

	st, err := Open(path)
	require.NoError(t, err)
	_, err = st.SaveRun(RunRecord{CreatedAt: time.Now(), Scenario: "baseline", Engine: "CLOB"})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	// Re-opening applies the schema without clobbering data.
	st2, err := Open(path)
	require.NoError(t, err)
	defer st2.Close()
	runs, err := st2.RecentRuns(10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
