package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, slaves ...uint8) *Store {
	t.Helper()
	if len(slaves) == 0 {
		slaves = []uint8{1, 2, 3}
	}
	return New(slaves, Range{Min: 0, Max: 28000}, DefaultHistoryCap, time.UTC)
}

func TestUpdateAcceptedReading(t *testing.T) {
	s := newTestStore(t)

	accepted := s.Update(1, 14000, nil)
	require.True(t, accepted)

	snap := s.Snapshot()
	st := snap[1]
	require.NotNil(t, st.Value)
	require.NotNil(t, st.Percent)
	assert.Equal(t, uint16(14000), *st.Value)
	assert.Equal(t, 50, *st.Percent)
	assert.True(t, st.Online)
	assert.NotEmpty(t, st.LastOK)
	assert.Empty(t, st.LastError)
	assert.Equal(t, uint64(1), st.TotalReads)
	assert.Equal(t, uint64(0), st.ErrorCount)
	assert.Equal(t, 1.0, st.SuccessRate)
}

func TestUpdateReadError(t *testing.T) {
	s := newTestStore(t)

	accepted := s.Update(2, 0, errors.New("transport read: timeout"))
	require.False(t, accepted)

	st := s.Snapshot()[2]
	assert.False(t, st.Online)
	assert.Nil(t, st.Value)
	assert.Equal(t, "transport read: timeout", st.LastError)
	assert.Equal(t, uint64(1), st.ErrorCount)
	assert.Equal(t, uint64(1), st.TotalReads)
	assert.Equal(t, 0.0, st.SuccessRate)
}

func TestUpdateOutOfRangeValue(t *testing.T) {
	s := newTestStore(t)

	accepted := s.Update(1, 30000, nil)
	require.False(t, accepted)

	st := s.Snapshot()[1]
	assert.False(t, st.Online)
	assert.Contains(t, st.LastError, "out of range")
	assert.Equal(t, uint64(1), st.ErrorCount)

	// A later error does not clear the last accepted value.
	require.True(t, s.Update(1, 14000, nil))
	require.False(t, s.Update(1, 30000, nil))
	st = s.Snapshot()[1]
	require.NotNil(t, st.Value)
	assert.Equal(t, uint16(14000), *st.Value)
	assert.False(t, st.Online)
}

func TestErrorCountNeverExceedsTotalReads(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 20; i++ {
		if i%3 == 0 {
			s.Update(1, 0, errors.New("timeout"))
		} else {
			s.Update(1, uint16(i*100), nil)
		}
		st := s.Snapshot()[1]
		assert.LessOrEqual(t, st.ErrorCount, st.TotalReads)
	}
}

func TestUpdateUnknownSlaveIgnored(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.Update(99, 100, nil))
	_, ok := s.Snapshot()[99]
	assert.False(t, ok)
}

func TestHistoryOnlyAcceptedSamples(t *testing.T) {
	s := newTestStore(t)

	s.Update(1, 1000, nil)
	s.Update(1, 0, errors.New("timeout"))
	s.Update(1, 30000, nil) // out of range
	s.Update(1, 2000, nil)

	h, err := s.History(1, 0)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, uint16(1000), h[0].Value)
	assert.Equal(t, uint16(2000), h[1].Value)
	assert.LessOrEqual(t, h[0].Timestamp, h[1].Timestamp)
}

func TestHistoryRingEviction(t *testing.T) {
	s := New([]uint8{1}, Range{Max: 28000}, 5, time.UTC)
	for i := 0; i < 12; i++ {
		require.True(t, s.Update(1, uint16(i), nil))
	}
	h, err := s.History(1, 0)
	require.NoError(t, err)
	require.Len(t, h, 5)
	assert.Equal(t, uint16(7), h[0].Value)
	assert.Equal(t, uint16(11), h[4].Value)
}

func TestHistoryTruncation(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 10; i++ {
		s.Update(1, uint16(i), nil)
	}
	h, err := s.History(1, 3)
	require.NoError(t, err)
	require.Len(t, h, 3)
	assert.Equal(t, uint16(9), h[2].Value)
}

func TestHistoryUnknownSlave(t *testing.T) {
	s := newTestStore(t)
	_, err := s.History(42, 0)
	assert.Error(t, err)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := newTestStore(t)
	s.Update(1, 14000, nil)

	snap := s.Snapshot()
	*snap[1].Value = 9999

	again := s.Snapshot()
	assert.Equal(t, uint16(14000), *again[1].Value)
}

func TestSnapshotIdempotentWithoutUpdates(t *testing.T) {
	s := newTestStore(t)
	s.Update(1, 14000, nil)
	s.Update(2, 0, errors.New("timeout"))

	assert.Equal(t, s.Snapshot(), s.Snapshot())
}

func TestStatsUptimeFollowsClock(t *testing.T) {
	s := newTestStore(t)
	base := s.startTime
	s.now = func() time.Time { return base.Add(90 * time.Second) }

	st := s.Stats()
	assert.Equal(t, 90.0, st.UptimeSeconds)
	assert.Equal(t, base.In(time.UTC).Format(TimeFormat), st.StartTime)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)

	s.BeginCycle()
	s.Update(1, 14000, nil)
	s.Update(2, 28000, nil)
	s.Update(3, 0, errors.New("timeout"))

	st := s.Stats()
	assert.Equal(t, uint64(1), st.TotalPolls)
	assert.Equal(t, uint64(2), st.SuccessfulPolls)
	assert.Equal(t, uint64(3), st.TotalReads)
	assert.Equal(t, uint64(1), st.TotalErrors)
	assert.Equal(t, 2, st.OnlineSlaves)
	assert.Equal(t, 3, st.TotalSlaves)
	assert.NotEmpty(t, st.LastPoll)
	assert.GreaterOrEqual(t, st.UptimeSeconds, 0.0)
}
