package syncer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Phase is the overall sync state machine: Idle -> Syncing -> {Success, Error} -> Idle.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseSyncing Phase = "syncing"
	PhaseSuccess Phase = "success"
	PhaseError   Phase = "error"
)

// SyncState is an immutable snapshot of sync activity. Counters are
// cumulative for the life of the process; Progress covers the current
// batch, which starts when work arrives on an idle system.
type SyncState struct {
	Phase          Phase     `json:"phase"`
	IsSyncing      bool      `json:"isSyncing"`
	PendingCount   int       `json:"pendingCount"`
	ActiveCount    int       `json:"activeCount"`
	SucceededCount int       `json:"succeededCount"`
	SkippedCount   int       `json:"skippedCount"`
	FailedCount    int       `json:"failedCount"`
	PurgedCount    int       `json:"purgedCount"`
	Restoring      int       `json:"restoring"`
	LastError      string    `json:"lastError,omitempty"`
	Progress       float64   `json:"progress"`
	UpdatedAt      time.Time `json:"updatedAt"`

	batchTotal  int
	batchDone   int
	batchFailed bool
}

func (s SyncState) busy() bool {
	return s.PendingCount > 0 || s.ActiveCount > 0 || s.Restoring > 0
}

// StateHolder owns the current SyncState. Writers build a new snapshot and
// swap it in with compare-and-swap; readers never block.
type StateHolder struct {
	current atomic.Pointer[SyncState]
	now     func() time.Time

	obsMu     sync.RWMutex
	observers map[uint64]func(SyncState)
	nextObs   uint64
}

func NewStateHolder() *StateHolder {
	h := &StateHolder{now: time.Now, observers: make(map[uint64]func(SyncState))}
	h.current.Store(&SyncState{Phase: PhaseIdle, UpdatedAt: h.now()})
	return h
}

// Snapshot returns the current state.
func (h *StateHolder) Snapshot() SyncState {
	return *h.current.Load()
}

// Observe registers fn to be called with every new snapshot and returns a
// function removing it. Observers run on the writer's goroutine and must
// not block.
func (h *StateHolder) Observe(fn func(SyncState)) func() {
	h.obsMu.Lock()
	defer h.obsMu.Unlock()
	id := h.nextObs
	h.nextObs++
	h.observers[id] = fn
	return func() {
		h.obsMu.Lock()
		defer h.obsMu.Unlock()
		delete(h.observers, id)
	}
}

// Subscribe returns a channel carrying the latest snapshot. Slow readers
// skip intermediate states but always see the most recent one.
func (h *StateHolder) Subscribe() (<-chan SyncState, func()) {
	ch := make(chan SyncState, 1)
	var mu sync.Mutex
	closed := false

	// Concurrent writers may notify out of order, so always push the
	// current snapshot rather than the one handed to the observer.
	push := func(SyncState) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case <-ch:
		default:
		}
		ch <- h.Snapshot()
	}
	remove := h.Observe(push)
	push(SyncState{})

	return ch, func() {
		remove()
		mu.Lock()
		defer mu.Unlock()
		closed = true
	}
}

// update applies fn to a copy of the current state until the swap wins.
func (h *StateHolder) update(fn func(s *SyncState)) SyncState {
	for {
		old := h.current.Load()
		next := *old
		fn(&next)
		next.IsSyncing = next.Phase == PhaseSyncing
		if next.batchTotal > 0 {
			next.Progress = float64(next.batchDone) / float64(next.batchTotal)
		}
		next.UpdatedAt = h.now()
		if h.current.CompareAndSwap(old, &next) {
			h.notify(next)
			return next
		}
	}
}

func (h *StateHolder) notify(s SyncState) {
	h.obsMu.RLock()
	defer h.obsMu.RUnlock()
	for _, fn := range h.observers {
		fn(s)
	}
}

// begin moves a settled system through Idle into Syncing and starts a new batch.
func (h *StateHolder) begin(fn func(s *SyncState)) {
	settled := h.Snapshot()
	if settled.Phase == PhaseSuccess || settled.Phase == PhaseError {
		h.update(func(s *SyncState) {
			if !s.busy() && (s.Phase == PhaseSuccess || s.Phase == PhaseError) {
				s.Phase = PhaseIdle
			}
		})
	}
	h.update(func(s *SyncState) {
		if !s.busy() {
			s.batchTotal, s.batchDone, s.batchFailed = 0, 0, false
			s.Progress = 0
		}
		s.Phase = PhaseSyncing
		fn(s)
	})
}

// settle closes the batch once nothing is pending, active or restoring.
func settle(s *SyncState) {
	if s.busy() {
		return
	}
	if s.batchFailed {
		s.Phase = PhaseError
	} else {
		s.Phase = PhaseSuccess
	}
}

func (h *StateHolder) taskQueued() {
	h.begin(func(s *SyncState) {
		s.PendingCount++
		s.batchTotal++
	})
}

func (h *StateHolder) taskStarted() {
	h.update(func(s *SyncState) {
		s.PendingCount--
		s.ActiveCount++
	})
}

// taskFinished records a terminal task state. wasActive tells whether the
// task left the active or the pending set.
func (h *StateHolder) taskFinished(state TaskState, wasActive bool, err error) {
	h.update(func(s *SyncState) {
		if wasActive {
			s.ActiveCount--
		} else {
			s.PendingCount--
		}
		switch state {
		case TaskSucceeded:
			s.SucceededCount++
		case TaskSkippedPrecondition:
			s.SkippedCount++
		case TaskFailed:
			s.FailedCount++
			s.batchFailed = true
		case TaskPurged:
			s.PurgedCount++
		}
		if err != nil && state != TaskPurged {
			s.LastError = err.Error()
		}
		s.batchDone++
		settle(s)
	})
}

func (h *StateHolder) restoreStarted() {
	h.begin(func(s *SyncState) {
		s.Restoring++
		s.batchTotal++
	})
}

func (h *StateHolder) restoreFinished(err error) {
	h.update(func(s *SyncState) {
		s.Restoring--
		if err != nil {
			s.LastError = err.Error()
			s.batchFailed = true
		}
		s.batchDone++
		settle(s)
	})
}
