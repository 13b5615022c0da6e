package scan

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/filegate/filegate/internal/observability"
)

// StatusChecker fetches the scan status for an uploaded file.
type StatusChecker interface {
	Check(ctx context.Context, fileID string) (string, error)
}

// Recognized terminal statuses. Matching is case-sensitive; the backend
// emits these exact markers. Everything else counts as in progress.
const (
	StatusClean  = "NO_THREATS_FOUND"
	StatusFailed = "FAILED"
	StatusThreat = "MOVED_TO_MALWARE_BUCKET"
)

type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictClean
	VerdictThreat
	VerdictFailed
	VerdictTimedOut
	VerdictErrored
	VerdictCanceled
)

func (v Verdict) String() string {
	switch v {
	case VerdictClean:
		return "clean"
	case VerdictThreat:
		return "threat"
	case VerdictFailed:
		return "failed"
	case VerdictTimedOut:
		return "timed_out"
	case VerdictErrored:
		return "errored"
	case VerdictCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result is the terminal outcome of one polling run.
type Result struct {
	Verdict Verdict
	Status  string // last status string received, if any
	Err     error
}

type State int32

const (
	StateNotStarted State = iota
	StatePolling
	StateTerminal
)

var errAlreadyRan = errors.New("poller already ran")

// Poller repeatedly queries scan status until a terminal verdict, a
// status-check error, or the time ceiling. A Poller runs at most once; the
// lifecycle controller creates a fresh one per upload attempt, so a reset
// can never leave a previous poller ticking.
type Poller struct {
	log      *zap.Logger
	status   StatusChecker
	interval time.Duration
	ceiling  time.Duration

	metrics  *observability.Metrics
	onStatus func(string)
	state    atomic.Int32
}

func NewPoller(logger *zap.Logger, status StatusChecker, interval, ceiling time.Duration) *Poller {
	return &Poller{
		log:      logger,
		status:   status,
		interval: interval,
		ceiling:  ceiling,
	}
}

// SetOnStatus registers a callback invoked with every received status.
func (p *Poller) SetOnStatus(fn func(string)) { p.onStatus = fn }

func (p *Poller) SetMetrics(m *observability.Metrics) { p.metrics = m }

func (p *Poller) State() State { return State(p.state.Load()) }

// Run blocks until a terminal result. There are no retries: the first
// failed status check ends the run with VerdictErrored.
func (p *Poller) Run(ctx context.Context, fileID string) Result {
	if !p.state.CompareAndSwap(int32(StateNotStarted), int32(StatePolling)) {
		return Result{Verdict: VerdictErrored, Err: errAlreadyRan}
	}
	defer p.state.Store(int32(StateTerminal))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var elapsed time.Duration
	for {
		res, done := p.tick(ctx, fileID)
		if done {
			return res
		}

		elapsed += p.interval
		if elapsed >= p.ceiling {
			p.log.Warn("scan polling reached time ceiling",
				zap.String("file_id", fileID),
				zap.Duration("elapsed", elapsed),
			)
			return Result{Verdict: VerdictTimedOut, Status: res.Status}
		}

		select {
		case <-ctx.Done():
			return Result{Verdict: VerdictCanceled, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

func (p *Poller) tick(ctx context.Context, fileID string) (Result, bool) {
	p.metrics.IncPollTick()

	status, err := p.status.Check(ctx, fileID)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Verdict: VerdictCanceled, Err: ctx.Err()}, true
		}
		p.log.Error("scan status check failed", zap.String("file_id", fileID), zap.Error(err))
		return Result{Verdict: VerdictErrored, Err: err}, true
	}

	if p.onStatus != nil {
		p.onStatus(status)
	}

	switch status {
	case StatusClean:
		return Result{Verdict: VerdictClean, Status: status}, true
	case StatusFailed:
		return Result{Verdict: VerdictFailed, Status: status}, true
	case StatusThreat:
		return Result{Verdict: VerdictThreat, Status: status}, true
	}

	p.log.Debug("scan in progress", zap.String("file_id", fileID), zap.String("status", status))
	return Result{Status: status}, false
}
