// Package track owns the three in-memory TTL stores of the orchestration
// pipeline: the dedup set, the execution tracker and the cancellation marks.
//
// All three are deliberately instance-local. Across horizontally scaled
// instances duplicate dispatch is a known, accepted residual risk, bounded
// by the queue's redelivery window; a shared store is the extension point if
// that ever stops being acceptable.
package track

import "time"

// Default TTLs. The execution TTL must exceed the longest plausible job
// runtime; the dedup TTL must exceed the queue's redelivery window.
const (
	DefaultDedupTTL      = 10 * time.Minute
	DefaultExecutionTTL  = 2 * time.Hour
	DefaultCancelMarkTTL = 30 * time.Minute
)

// DedupSet records which work keys are in flight or recently finished.
type DedupSet struct {
	store *ttlStore[struct{}]
}

func NewDedupSet(ttl time.Duration) *DedupSet {
	return &DedupSet{store: newTTLStore[struct{}](ttl)}
}

// Mark claims workKey. Returns false if a fresh mark already exists, in
// which case the caller holds a duplicate delivery. Exactly one of any set
// of concurrent Mark calls for the same key returns true.
func (d *DedupSet) Mark(workKey string) bool {
	return d.store.setIfAbsent(workKey, struct{}{})
}

// Unmark releases workKey so a redelivered message can be dispatched again.
// Called when dispatch fails after the mark was taken.
func (d *DedupSet) Unmark(workKey string) {
	d.store.delete(workKey)
}

// Contains reports whether workKey holds a fresh mark.
func (d *DedupSet) Contains(workKey string) bool {
	_, ok := d.store.get(workKey)
	return ok
}

// ExecutionRecord maps a dispatcher-generated execution ID to the platform
// handle needed to locate and stop the concrete job later.
type ExecutionRecord struct {
	ExecutionID  string
	JobExecution string
	DispatchedAt time.Time
}

// ExecutionTracker is the time-bounded executionID -> ExecutionRecord map.
type ExecutionTracker struct {
	store *ttlStore[ExecutionRecord]
}

func NewExecutionTracker(ttl time.Duration) *ExecutionTracker {
	return &ExecutionTracker{store: newTTLStore[ExecutionRecord](ttl)}
}

func (t *ExecutionTracker) Put(rec ExecutionRecord) {
	t.store.set(rec.ExecutionID, rec)
}

func (t *ExecutionTracker) Get(executionID string) (ExecutionRecord, bool) {
	return t.store.get(executionID)
}

func (t *ExecutionTracker) Remove(executionID string) {
	t.store.delete(executionID)
}

// CancelMarks records which execution IDs were told to stop, independent of
// whether the stop succeeded. A running job polls this through the
// checkCancelled endpoint to self-terminate.
type CancelMarks struct {
	store *ttlStore[struct{}]
}

func NewCancelMarks(ttl time.Duration) *CancelMarks {
	return &CancelMarks{store: newTTLStore[struct{}](ttl)}
}

func (c *CancelMarks) Mark(executionID string) {
	c.store.set(executionID, struct{}{})
}

func (c *CancelMarks) IsMarked(executionID string) bool {
	_, ok := c.store.get(executionID)
	return ok
}
