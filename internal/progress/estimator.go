package progress

import (
	"math/rand"
	"sync"
	"time"
)

// The transport gives no byte-level progress signal, so the value climbs
// by random increments and is capped below 100 until the upload settles.
const ceiling = 95

// Estimator produces a monotonically increasing synthetic progress value
// while an upload is in flight. The value snaps to 100 only on Finish and
// resets to 0 on Fail; after either, or after Stop, no further updates
// occur.
type Estimator struct {
	interval time.Duration
	onChange func(int)

	mu      sync.Mutex
	value   int
	stopped bool

	// cbMu serializes callback delivery. A tick value computed before a
	// settle must never reach the callback after the settled value did,
	// so every delivery re-checks stopped while holding cbMu.
	cbMu sync.Mutex

	done chan struct{}
	once sync.Once
}

// NewEstimator creates an estimator ticking at the given interval. The
// onChange callback, if set, runs on the ticker goroutine for ticks and on
// the caller's goroutine for Finish/Fail. Deliveries are serialized; the
// callback must not call Finish or Fail.
func NewEstimator(interval time.Duration, onChange func(int)) *Estimator {
	return &Estimator{
		interval: interval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
}

// Start begins ticking. It must be called at most once.
func (e *Estimator) Start() {
	go e.run()
}

func (e *Estimator) run() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.bump()
		}
	}
}

func (e *Estimator) bump() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.value += 3 + rand.Intn(10)
	if e.value > ceiling {
		e.value = ceiling
	}
	v := e.value
	e.mu.Unlock()

	if e.onChange == nil {
		return
	}
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if !stopped {
		e.onChange(v)
	}
}

// Value returns the current progress in [0, 100].
func (e *Estimator) Value() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Finish stops the ticker and snaps the value to 100. No-op if the
// estimator already settled.
func (e *Estimator) Finish() {
	e.settle(100)
}

// Fail stops the ticker and resets the value to 0. No-op if the estimator
// already settled.
func (e *Estimator) Fail() {
	e.settle(0)
}

// Stop halts ticking without touching the value, for reset paths where the
// attempt is discarded entirely.
func (e *Estimator) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.once.Do(func() { close(e.done) })
}

func (e *Estimator) settle(final int) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.value = final
	e.mu.Unlock()

	e.once.Do(func() { close(e.done) })

	if e.onChange != nil {
		e.cbMu.Lock()
		e.onChange(final)
		e.cbMu.Unlock()
	}
}
