package track

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupSetMarkOnce(t *testing.T) {
	dedup := NewDedupSet(time.Minute)

	assert.True(t, dedup.Mark("m1:t1"))
	assert.False(t, dedup.Mark("m1:t1"))
	assert.True(t, dedup.Contains("m1:t1"))

	// A different work key is unaffected.
	assert.True(t, dedup.Mark("m1:t2"))
}

func TestDedupSetUnmarkAllowsRetry(t *testing.T) {
	dedup := NewDedupSet(time.Minute)

	require.True(t, dedup.Mark("m1:t1"))
	dedup.Unmark("m1:t1")

	assert.False(t, dedup.Contains("m1:t1"))
	assert.True(t, dedup.Mark("m1:t1"))
}

func TestDedupSetExpiry(t *testing.T) {
	dedup := NewDedupSet(10 * time.Minute)

	now := time.Now()
	dedup.store.now = func() time.Time { return now }
	require.True(t, dedup.Mark("m1:t1"))

	// Just inside the TTL the mark still holds.
	dedup.store.now = func() time.Time { return now.Add(9 * time.Minute) }
	assert.False(t, dedup.Mark("m1:t1"))

	// An expired entry is logically absent even before eviction.
	dedup.store.now = func() time.Time { return now.Add(10 * time.Minute) }
	assert.False(t, dedup.Contains("m1:t1"))
	assert.True(t, dedup.Mark("m1:t1"))
}

func TestDedupSetConcurrentMarkSingleWinner(t *testing.T) {
	dedup := NewDedupSet(time.Minute)

	const goroutines = 64
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if dedup.Mark("m1:t1") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestEvictionOnInsert(t *testing.T) {
	dedup := NewDedupSet(10 * time.Minute)

	now := time.Now()
	dedup.store.now = func() time.Time { return now }
	for _, key := range []string{"a", "b", "c"} {
		require.True(t, dedup.Mark(key))
	}

	// A later insert sweeps everything stale out of the map.
	dedup.store.now = func() time.Time { return now.Add(11 * time.Minute) }
	require.True(t, dedup.Mark("d"))

	dedup.store.mu.Lock()
	defer dedup.store.mu.Unlock()
	assert.Len(t, dedup.store.entries, 1)
}

func TestExecutionTracker(t *testing.T) {
	tracker := NewExecutionTracker(time.Minute)

	rec := ExecutionRecord{
		ExecutionID:  "m1-t1-1700000000",
		JobExecution: "analysis-job-abc123",
		DispatchedAt: time.Now(),
	}
	tracker.Put(rec)

	got, ok := tracker.Get(rec.ExecutionID)
	require.True(t, ok)
	assert.Equal(t, rec.JobExecution, got.JobExecution)

	tracker.Remove(rec.ExecutionID)
	_, ok = tracker.Get(rec.ExecutionID)
	assert.False(t, ok)
}

func TestExecutionTrackerExpiry(t *testing.T) {
	tracker := NewExecutionTracker(2 * time.Hour)

	now := time.Now()
	tracker.store.now = func() time.Time { return now }
	tracker.Put(ExecutionRecord{ExecutionID: "e1", JobExecution: "j1"})

	tracker.store.now = func() time.Time { return now.Add(2*time.Hour + time.Second) }
	_, ok := tracker.Get("e1")
	assert.False(t, ok)
}

func TestCancelMarks(t *testing.T) {
	marks := NewCancelMarks(time.Minute)

	assert.False(t, marks.IsMarked("e1"))
	marks.Mark("e1")
	assert.True(t, marks.IsMarked("e1"))

	// Marking twice is fine; the mark just refreshes.
	marks.Mark("e1")
	assert.True(t, marks.IsMarked("e1"))
}
