package lifecycle_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/filegate/filegate/internal/errs"
	"github.com/filegate/filegate/internal/gateway"
	"github.com/filegate/filegate/internal/lifecycle"
)

// fakeGateway scripts the three backend calls.
type fakeGateway struct {
	mu sync.Mutex

	presignErr   error
	presignCalls int
	presignCtx   context.Context

	uploadErr   error
	uploadCalls int

	statuses    []string
	statusErr   error
	statusCalls int
	statusDelay time.Duration
	statusCtx   context.Context
}

func (f *fakeGateway) Presign(ctx context.Context, filename string) (*gateway.UploadDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presignCalls++
	f.presignCtx = ctx
	if f.presignErr != nil {
		return nil, f.presignErr
	}
	return &gateway.UploadDescriptor{
		FileID:   "f-1",
		URL:      "http://storage.local/put/f-1",
		Bucket:   "inbox",
		Filename: filename,
	}, nil
}

func (f *fakeGateway) Upload(ctx context.Context, desc *gateway.UploadDescriptor, body io.Reader, size int64) (*gateway.UploadResult, error) {
	io.Copy(io.Discard, body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &gateway.UploadResult{Synthetic: true}, nil
}

func (f *fakeGateway) Check(ctx context.Context, fileID string) (string, error) {
	f.mu.Lock()
	delay := f.statusDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	f.statusCtx = ctx
	if f.statusErr != nil {
		return "", f.statusErr
	}
	idx := f.statusCalls - 1
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	return f.statuses[idx], nil
}

func (f *fakeGateway) counts() (presign, upload, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presignCalls, f.uploadCalls, f.statusCalls
}

func (f *fakeGateway) contexts() (presign, status context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presignCtx, f.statusCtx
}

// recorder captures every observer notification in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) PhaseChanged(phase lifecycle.Phase, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "phase:"+phase.String())
}

func (r *recorder) Progress(value int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("progress:%d", value))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func fastSettings() lifecycle.Settings {
	return lifecycle.Settings{
		MaxFileSize:    1 << 20,
		ProgressTick:   2 * time.Millisecond,
		ScanStartDelay: 5 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		PollCeiling:    time.Second,
	}
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestController(gw lifecycle.Gateway, settings lifecycle.Settings) (*lifecycle.Controller, *recorder) {
	ctl := lifecycle.NewController(zap.NewNop(), settings, gw)
	rec := &recorder{}
	ctl.SetObserver(rec)
	return ctl, rec
}

func indexOf(events []string, want string) int {
	for i, e := range events {
		if e == want {
			return i
		}
	}
	return -1
}

func TestHappyPathReachesCompletedClean(t *testing.T) {
	gw := &fakeGateway{statuses: []string{"PENDING", "PENDING", "NO_THREATS_FOUND"}}
	ctl, rec := newTestController(gw, fastSettings())

	path := writeTempFile(t, "clean.txt", "hello scan")
	require.NoError(t, ctl.Select(context.Background(), path))
	require.Equal(t, lifecycle.PhaseReadyToUpload, ctl.Phase())
	require.NotNil(t, ctl.Descriptor())

	require.NoError(t, ctl.Upload(context.Background()))
	assert.Equal(t, lifecycle.PhaseCompletedClean, ctl.Phase())
	assert.Equal(t, "NO_THREATS_FOUND", ctl.ScanStatus())

	_, uploads, statuses := gw.counts()
	assert.Equal(t, 1, uploads)
	assert.Equal(t, 3, statuses, "polling stops on the terminal response")

	events := rec.snapshot()
	for _, want := range []string{
		"phase:awaiting_presign",
		"phase:ready_to_upload",
		"phase:uploading",
		"phase:awaiting_scan_start",
		"phase:scanning",
		"phase:completed_clean",
	} {
		assert.Contains(t, events, want)
	}
}

func TestProgressReaches100BeforeScanStart(t *testing.T) {
	gw := &fakeGateway{statuses: []string{"NO_THREATS_FOUND"}}
	ctl, rec := newTestController(gw, fastSettings())

	path := writeTempFile(t, "a.bin", "payload")
	require.NoError(t, ctl.Select(context.Background(), path))
	require.NoError(t, ctl.Upload(context.Background()))

	events := rec.snapshot()
	full := indexOf(events, "progress:100")
	scanStart := indexOf(events, "phase:awaiting_scan_start")
	require.GreaterOrEqual(t, full, 0, "progress must reach exactly 100")
	require.GreaterOrEqual(t, scanStart, 0)
	assert.Less(t, full, scanStart, "full progress must be observed before the scan phase begins")
	assert.Equal(t, 100, ctl.ProgressValue())
}

func TestPresignFailureMakesUploadingUnreachable(t *testing.T) {
	gw := &fakeGateway{presignErr: &errs.NetworkError{Op: "presign", StatusCode: 502}}
	ctl, rec := newTestController(gw, fastSettings())

	path := writeTempFile(t, "a.txt", "x")
	err := ctl.Select(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, lifecycle.PhaseErrored, ctl.Phase())
	assert.NotEmpty(t, ctl.Message())

	require.ErrorIs(t, ctl.Upload(context.Background()), lifecycle.ErrNotReady)

	_, uploads, _ := gw.counts()
	assert.Zero(t, uploads)
	assert.NotContains(t, rec.snapshot(), "phase:uploading")
}

func TestOversizeFileFailsValidationAfterPresign(t *testing.T) {
	gw := &fakeGateway{statuses: []string{"NO_THREATS_FOUND"}}
	settings := fastSettings()
	settings.MaxFileSize = 4

	ctl, _ := newTestController(gw, settings)

	path := writeTempFile(t, "big.txt", "more than four bytes")
	err := ctl.Select(context.Background(), path)

	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, lifecycle.PhaseErrored, ctl.Phase())

	presigns, uploads, _ := gw.counts()
	assert.Equal(t, 1, presigns, "the presign round trip happens before validation")
	assert.Zero(t, uploads, "upload must never be enabled for an oversize file")
}

func TestUploadFailureResetsProgressAndErrors(t *testing.T) {
	gw := &fakeGateway{uploadErr: &errs.NetworkError{Op: "upload", StatusCode: 500}}
	ctl, _ := newTestController(gw, fastSettings())

	path := writeTempFile(t, "a.txt", "x")
	require.NoError(t, ctl.Select(context.Background(), path))

	err := ctl.Upload(context.Background())
	require.Error(t, err)
	assert.Equal(t, lifecycle.PhaseErrored, ctl.Phase())
	assert.Equal(t, 0, ctl.ProgressValue(), "progress resets to 0 on upload failure")
}

func TestThreatVerdictQuarantines(t *testing.T) {
	gw := &fakeGateway{statuses: []string{"PENDING", "MOVED_TO_MALWARE_BUCKET"}}
	ctl, _ := newTestController(gw, fastSettings())

	path := writeTempFile(t, "sus.bin", "x")
	require.NoError(t, ctl.Select(context.Background(), path))

	err := ctl.Upload(context.Background())
	require.ErrorIs(t, err, errs.ErrThreatDetected)
	assert.Equal(t, lifecycle.PhaseCompletedThreat, ctl.Phase())
}

func TestScanFailureVerdict(t *testing.T) {
	gw := &fakeGateway{statuses: []string{"FAILED"}}
	ctl, _ := newTestController(gw, fastSettings())

	path := writeTempFile(t, "a.txt", "x")
	require.NoError(t, ctl.Select(context.Background(), path))

	err := ctl.Upload(context.Background())
	require.ErrorIs(t, err, errs.ErrScanFailed)
	assert.Equal(t, lifecycle.PhaseCompletedFailed, ctl.Phase())
}

func TestNeverTerminalScanTimesOut(t *testing.T) {
	gw := &fakeGateway{statuses: []string{"PENDING"}}
	settings := fastSettings()
	settings.PollCeiling = 30 * time.Millisecond

	ctl, _ := newTestController(gw, settings)

	path := writeTempFile(t, "slow.txt", "x")
	require.NoError(t, ctl.Select(context.Background(), path))

	err := ctl.Upload(context.Background())
	require.ErrorIs(t, err, errs.ErrScanTimeout)
	assert.Equal(t, lifecycle.PhaseTimedOut, ctl.Phase())

	_, _, statuses := gw.counts()
	checks := statuses
	time.Sleep(30 * time.Millisecond)
	_, _, statuses = gw.counts()
	assert.Equal(t, checks, statuses, "polling stops after the timeout")
}

func TestStatusCheckErrorEndsAttempt(t *testing.T) {
	gw := &fakeGateway{statusErr: errors.New("boom")}
	ctl, _ := newTestController(gw, fastSettings())

	path := writeTempFile(t, "a.txt", "x")
	require.NoError(t, ctl.Select(context.Background(), path))

	err := ctl.Upload(context.Background())
	require.Error(t, err)
	assert.Equal(t, lifecycle.PhaseErrored, ctl.Phase())

	_, _, statuses := gw.counts()
	assert.Equal(t, 1, statuses, "a failed poll tick ends the attempt, no retry")
}

func TestResetDuringScanClearsStateAndStopsTimers(t *testing.T) {
	gw := &fakeGateway{statuses: []string{"PENDING"}, statusDelay: 2 * time.Millisecond}
	ctl, rec := newTestController(gw, fastSettings())

	path := writeTempFile(t, "a.txt", "x")
	require.NoError(t, ctl.Select(context.Background(), path))

	done := make(chan error, 1)
	go func() { done <- ctl.Upload(context.Background()) }()

	require.Eventually(t, func() bool {
		return ctl.Phase() == lifecycle.PhaseScanning
	}, 2*time.Second, time.Millisecond)

	ctl.Reset()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("upload did not abort after reset")
	}

	assert.Equal(t, lifecycle.PhaseIdle, ctl.Phase())
	assert.Nil(t, ctl.File())
	assert.Nil(t, ctl.Descriptor())
	assert.Empty(t, ctl.ScanStatus())
	assert.Zero(t, ctl.ProgressValue())

	seen := rec.count()
	_, _, statuses := gw.counts()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, seen, rec.count(), "no notifications after reset")
	_, _, after := gw.counts()
	assert.Equal(t, statuses, after, "no status checks after reset")
}

func TestNewSelectionReplacesPreviousAttempt(t *testing.T) {
	gw := &fakeGateway{statuses: []string{"NO_THREATS_FOUND"}}
	ctl, _ := newTestController(gw, fastSettings())

	first := writeTempFile(t, "first.txt", "one")
	require.NoError(t, ctl.Select(context.Background(), first))
	firstDesc := ctl.Descriptor()
	require.NotNil(t, firstDesc)

	second := writeTempFile(t, "second.txt", "two")
	require.NoError(t, ctl.Select(context.Background(), second))

	require.Equal(t, lifecycle.PhaseReadyToUpload, ctl.Phase())
	assert.Equal(t, "second.txt", ctl.File().Name)

	presigns, _, _ := gw.counts()
	assert.Equal(t, 2, presigns)
}

func TestAttemptContextsReleasedOnReturn(t *testing.T) {
	gw := &fakeGateway{statuses: []string{"NO_THREATS_FOUND"}}
	ctl, _ := newTestController(gw, fastSettings())

	path := writeTempFile(t, "a.txt", "x")
	require.NoError(t, ctl.Select(context.Background(), path))

	presignCtx, _ := gw.contexts()
	require.NotNil(t, presignCtx)
	assert.ErrorIs(t, presignCtx.Err(), context.Canceled,
		"the selection's context must be released once Select returns")

	require.NoError(t, ctl.Upload(context.Background()))

	_, statusCtx := gw.contexts()
	require.NotNil(t, statusCtx)
	assert.ErrorIs(t, statusCtx.Err(), context.Canceled,
		"the attempt's context must be released once Upload returns")
}

func TestUploadRequiresReadyPhase(t *testing.T) {
	gw := &fakeGateway{}
	ctl, _ := newTestController(gw, fastSettings())

	require.ErrorIs(t, ctl.Upload(context.Background()), lifecycle.ErrNotReady)
}
