package scan_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/filegate/filegate/internal/scan"
)

// scriptedChecker replays a fixed status sequence; the last entry repeats.
type scriptedChecker struct {
	mu       sync.Mutex
	statuses []string
	err      error
	calls    int
}

func (s *scriptedChecker) Check(ctx context.Context, fileID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	idx := s.calls - 1
	if idx >= len(s.statuses) {
		idx = len(s.statuses) - 1
	}
	return s.statuses[idx], nil
}

func (s *scriptedChecker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestPoller(checker scan.StatusChecker, ceiling time.Duration) *scan.Poller {
	return scan.NewPoller(zap.NewNop(), checker, 2*time.Millisecond, ceiling)
}

func TestPollerStopsOnCleanVerdict(t *testing.T) {
	checker := &scriptedChecker{statuses: []string{"PENDING", "PENDING", scan.StatusClean}}
	poller := newTestPoller(checker, time.Second)

	var seen []string
	poller.SetOnStatus(func(status string) { seen = append(seen, status) })

	res := poller.Run(context.Background(), "f-1")

	assert.Equal(t, scan.VerdictClean, res.Verdict)
	assert.Equal(t, scan.StatusClean, res.Status)
	assert.Equal(t, 3, checker.callCount(), "polling must stop after the terminal response")
	assert.Equal(t, []string{"PENDING", "PENDING", scan.StatusClean}, seen)
	assert.Equal(t, scan.StateTerminal, poller.State())
}

func TestPollerReportsThreat(t *testing.T) {
	checker := &scriptedChecker{statuses: []string{scan.StatusThreat}}
	poller := newTestPoller(checker, time.Second)

	res := poller.Run(context.Background(), "f-1")

	assert.Equal(t, scan.VerdictThreat, res.Verdict)
	assert.Equal(t, 1, checker.callCount())
}

func TestPollerReportsScanFailure(t *testing.T) {
	checker := &scriptedChecker{statuses: []string{"PENDING", scan.StatusFailed}}
	poller := newTestPoller(checker, time.Second)

	res := poller.Run(context.Background(), "f-1")

	assert.Equal(t, scan.VerdictFailed, res.Verdict)
	assert.Equal(t, 2, checker.callCount())
}

func TestPollerTimesOutAtCeiling(t *testing.T) {
	checker := &scriptedChecker{statuses: []string{"PENDING"}}
	poller := newTestPoller(checker, 20*time.Millisecond)

	res := poller.Run(context.Background(), "f-1")

	assert.Equal(t, scan.VerdictTimedOut, res.Verdict)
	// interval 2ms, ceiling 20ms: exactly ceiling/interval checks.
	assert.Equal(t, 10, checker.callCount())
}

func TestPollerErrorsOnFirstFailedCheck(t *testing.T) {
	boom := errors.New("connection reset")
	checker := &scriptedChecker{err: boom}
	poller := newTestPoller(checker, time.Second)

	res := poller.Run(context.Background(), "f-1")

	assert.Equal(t, scan.VerdictErrored, res.Verdict)
	require.ErrorIs(t, res.Err, boom)
	assert.Equal(t, 1, checker.callCount(), "no retries on a failed tick")
}

func TestPollerStopsOnContextCancel(t *testing.T) {
	checker := &scriptedChecker{statuses: []string{"PENDING"}}
	poller := newTestPoller(checker, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan scan.Result, 1)
	go func() { done <- poller.Run(ctx, "f-1") }()

	require.Eventually(t, func() bool { return checker.callCount() > 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.Equal(t, scan.VerdictCanceled, res.Verdict)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancellation")
	}

	calls := checker.callCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, checker.callCount(), "no checks after cancellation")
}

func TestPollerRunsAtMostOnce(t *testing.T) {
	checker := &scriptedChecker{statuses: []string{scan.StatusClean}}
	poller := newTestPoller(checker, time.Second)

	first := poller.Run(context.Background(), "f-1")
	require.Equal(t, scan.VerdictClean, first.Verdict)

	second := poller.Run(context.Background(), "f-1")
	assert.Equal(t, scan.VerdictErrored, second.Verdict)
	assert.Equal(t, 1, checker.callCount())
}
