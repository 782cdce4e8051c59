package main

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AbsentReadsAreZero(t *testing.T) {
	s := NewStore()

	assert.Zero(t, s.ThreadTotal("2099-01-01", "C1:1.0"))
	assert.Zero(t, s.DayTotal("2099-01-01"))
	assert.Zero(t, s.UserTotal("2099-01-01", "UA"))
	assert.Zero(t, s.RangeTotal("2099-01-01", "2099-01-31"))
	assert.Zero(t, s.UserTotalOverRange("2099-01-01", "2099-01-31", "UA"))
	assert.Empty(t, s.Threads("2099-01-01"))
}

func TestStore_Totals(t *testing.T) {
	s := NewStore()
	t1 := ThreadID("C1:100.0")
	t2 := ThreadID("C1:200.0")

	s.Upsert("2024-05-01", t1, "1", "UA", 3)
	s.Upsert("2024-05-01", t1, "2", "UB", 4.5)
	s.Upsert("2024-05-01", t2, "3", "UA", -1)
	s.Upsert("2024-05-02", t2, "4", "UA", 10)
	s.Upsert("2024-05-04", t1, "5", "UB", 1)

	assert.InDelta(t, 7.5, s.ThreadTotal("2024-05-01", t1), 1e-9)
	assert.InDelta(t, -1.0, s.ThreadTotal("2024-05-01", t2), 1e-9)
	assert.InDelta(t, 6.5, s.DayTotal("2024-05-01"), 1e-9)
	assert.InDelta(t, 2.0, s.UserTotal("2024-05-01", "UA"), 1e-9)
	assert.InDelta(t, 4.5, s.UserTotal("2024-05-01", "UB"), 1e-9)

	// 2024-05-03 is absent and contributes zero
	assert.InDelta(t, 17.5, s.RangeTotal("2024-05-01", "2024-05-04"), 1e-9)
	assert.InDelta(t, 12.0, s.UserTotalOverRange("2024-05-01", "2024-05-04", "UA"), 1e-9)
	assert.InDelta(t, 10.0, s.UserTotalOverRange("2024-05-02", "2024-05-02", "UA"), 1e-9)
	assert.Zero(t, s.RangeTotal("2024-05-04", "2024-05-01"))

	assert.Equal(t, []ThreadID{t1, t2}, s.Threads("2024-05-01"))
}

func TestStore_WideRangeOnlyVisitsStoredDays(t *testing.T) {
	s := NewStore()
	s.Upsert("2024-05-01", "C1:1.0", "1", "UA", 3)
	s.Upsert("1999-12-31", "C1:2.0", "2", "UB", 2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.InDelta(t, 5.0, s.RangeTotal("0001-01-01", "9999-12-31"), 1e-9)
		assert.InDelta(t, 3.0, s.UserTotalOverRange("0001-01-01", "9999-12-31", "UA"), 1e-9)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("range total over the whole calendar did not return promptly")
	}
}

func TestStore_UpsertPreservesAcknowledged(t *testing.T) {
	s := NewStore()
	thread := ThreadID("C1:1.0")

	_, inserted := s.Upsert("2024-05-01", thread, "m", "UA", 1)
	require.True(t, inserted)
	require.True(t, s.Acknowledge("2024-05-01", thread, "m"))

	entry, inserted := s.Upsert("2024-05-01", thread, "m", "UA", 2)
	assert.False(t, inserted)
	assert.True(t, entry.Acknowledged)
	assert.InDelta(t, 2.0, entry.Value, 1e-9)
	assert.InDelta(t, 2.0, s.ThreadTotal("2024-05-01", thread), 1e-9)
}

func TestStore_AcknowledgeOnlyOnce(t *testing.T) {
	s := NewStore()
	thread := ThreadID("C1:1.0")

	assert.False(t, s.Acknowledge("2024-05-01", thread, "missing"))

	s.Upsert("2024-05-01", thread, "m", "UA", 1)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Acknowledge("2024-05-01", thread, "m") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestStore_SeedNeverOverwrites(t *testing.T) {
	s := NewStore()
	thread := ThreadID("C1:1.0")

	s.Upsert("2024-05-01", thread, "m", "UA", 10)
	assert.False(t, s.Seed("2024-05-01", thread, "m", "UA", 5, false))
	assert.True(t, s.Seed("2024-05-01", thread, "n", "UB", 5, true))

	entry, ok := s.Get("2024-05-01", thread, "m")
	require.True(t, ok)
	assert.InDelta(t, 10.0, entry.Value, 1e-9)

	seeded, ok := s.Get("2024-05-01", thread, "n")
	require.True(t, ok)
	assert.True(t, seeded.Acknowledged)
	assert.InDelta(t, 15.0, s.ThreadTotal("2024-05-01", thread), 1e-9)
}

func TestStore_Remove(t *testing.T) {
	s := NewStore()
	thread := ThreadID("C1:1.0")

	_, ok := s.Remove("2024-05-01", thread, "m")
	assert.False(t, ok)

	s.Upsert("2024-05-01", thread, "m", "UA", 3)
	s.Upsert("2024-05-01", thread, "n", "UA", 4)

	entry, ok := s.Remove("2024-05-01", thread, "m")
	require.True(t, ok)
	assert.InDelta(t, 3.0, entry.Value, 1e-9)
	assert.InDelta(t, 4.0, s.ThreadTotal("2024-05-01", thread), 1e-9)
	assert.Equal(t, 1, s.EntryCount("2024-05-01", thread))

	_, ok = s.Remove("2024-05-01", thread, "m")
	assert.False(t, ok)
}

func TestStore_EnsureThread(t *testing.T) {
	s := NewStore()
	s.EnsureThread("2024-05-01", "C1:1.0")

	assert.Equal(t, []ThreadID{"C1:1.0"}, s.Threads("2024-05-01"))
	assert.Zero(t, s.ThreadTotal("2024-05-01", "C1:1.0"))
}
