package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hexi/data-portal/generic"
)

type ItemID string

func NewItemID() ItemID {
	return ItemID(generic.Unwrap(uuid.NewRandom()).String())
}

type ItemStatus string

const (
	StatusQueued    ItemStatus = "queued"
	StatusActive    ItemStatus = "active"
	StatusCompleted ItemStatus = "completed"
	StatusFailed    ItemStatus = "failed"
	StatusCancelled ItemStatus = "cancelled"
)

var terminalStatuses = generic.NewSet(
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
)

// Terminal returns true if no further transition can leave this status.
func (s ItemStatus) Terminal() bool {
	return terminalStatuses.Contains(s)
}

// ItemSpec identifies one remote file to download. Size comes from the
// directory listing; 0 means unknown, so progress is indeterminate until the
// stream reports a length.
type ItemSpec struct {
	Path string
	Name string
	Size int64
}

// ItemState is a copy of an item's current state, safe to hold across
// concurrent progress updates.
type ItemState struct {
	ID       ItemID
	Path     string
	Name     string
	Size     int64
	Status   ItemStatus
	Received int64
	Percent  int
	SpeedBps float64
	Err      error
}

// An Item is one file within a Batch. Its identity fields are immutable once
// enqueued; the mutable state is only ever written by the transfer goroutine
// that owns the item (plus Cancel), guarded by the mutex so snapshots merge by
// item rather than racing.
type Item struct {
	id   ItemID
	path string
	name string
	size int64

	sampleInterval time.Duration

	mu          sync.Mutex
	status      ItemStatus
	received    int64
	percent     int
	speedBps    float64
	err         error
	sampleTime  time.Time
	sampleBytes int64
	startedAt   time.Time
	finishedAt  time.Time
}

func newItem(spec ItemSpec, sampleInterval time.Duration) *Item {
	return &Item{
		id:             NewItemID(),
		path:           spec.Path,
		name:           spec.Name,
		size:           spec.Size,
		sampleInterval: sampleInterval,
		status:         StatusQueued,
	}
}

func (it *Item) ID() ItemID {
	return it.id
}

func (it *Item) Path() string {
	return it.path
}

func (it *Item) Name() string {
	return it.name
}

// State returns a copy of the item's current state.
func (it *Item) State() ItemState {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.stateLocked()
}

func (it *Item) stateLocked() ItemState {
	return ItemState{
		ID:       it.id,
		Path:     it.path,
		Name:     it.name,
		Size:     it.size,
		Status:   it.status,
		Received: it.received,
		Percent:  it.percent,
		SpeedBps: it.speedBps,
		Err:      it.err,
	}
}

// markActive transitions Queued -> Active; false if the item already left
// Queued (e.g. cancelled before admission).
func (it *Item) markActive(now time.Time) bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.status != StatusQueued {
		return false
	}
	it.status = StatusActive
	it.startedAt = now
	it.sampleTime = now
	it.sampleBytes = 0
	return true
}

// activeDuration is how long the item spent (or has spent) in Active; zero if
// it was never admitted.
func (it *Item) activeDuration() time.Duration {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.startedAt.IsZero() {
		return 0
	}
	if it.finishedAt.IsZero() {
		return time.Since(it.startedAt)
	}
	return it.finishedAt.Sub(it.startedAt)
}

// ensureSize fills in the expected size when the listing didn't know it but
// the stream does. Never shrinks a known size.
func (it *Item) ensureSize(n int64) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.size == 0 && n > 0 {
		it.size = n
	}
}

// setReceived records the cumulative received byte count. Monotonic:
// regressions are ignored, and the count is clamped to the known size.
// Instantaneous speed is only resampled when at least sampleInterval has
// passed, to avoid noisy per-chunk updates; sampled reports true for those
// updates so the caller can throttle progress events on the same cadence.
func (it *Item) setReceived(n int64, now time.Time) (sampled bool, state ItemState) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.status.Terminal() {
		return false, it.stateLocked()
	}
	if n < it.received {
		return false, it.stateLocked()
	}
	if it.size > 0 && n > it.size {
		n = it.size
	}
	it.received = n
	if it.size > 0 {
		it.percent = int(it.received * 100 / it.size)
	}
	if elapsed := now.Sub(it.sampleTime); elapsed >= it.sampleInterval {
		it.speedBps = float64(it.received-it.sampleBytes) / elapsed.Seconds()
		it.sampleTime = now
		it.sampleBytes = it.received
		sampled = true
	}
	return sampled, it.stateLocked()
}

// finish moves the item to a terminal status. Terminal states are final:
// finishing an already-terminal item is a no-op and reports changed=false.
func (it *Item) finish(status ItemStatus, err error) (changed bool, state ItemState) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.status.Terminal() {
		return false, it.stateLocked()
	}
	it.status = status
	it.err = err
	it.speedBps = 0
	it.finishedAt = time.Now()
	if status == StatusCompleted {
		it.percent = 100
		if it.size > 0 {
			it.received = it.size
		}
	}
	return true, it.stateLocked()
}
