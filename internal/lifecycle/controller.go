package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/filegate/filegate/internal/errs"
	"github.com/filegate/filegate/internal/fileinfo"
	"github.com/filegate/filegate/internal/gateway"
	"github.com/filegate/filegate/internal/history"
	"github.com/filegate/filegate/internal/observability"
	"github.com/filegate/filegate/internal/preview"
	"github.com/filegate/filegate/internal/progress"
	"github.com/filegate/filegate/internal/scan"
)

// ErrNotReady is returned by Upload when no file and matching descriptor
// are staged in the ReadyToUpload phase.
var ErrNotReady = errors.New("no file and upload descriptor ready")

// Gateway bundles the three backend calls the lifecycle makes.
type Gateway interface {
	Presign(ctx context.Context, filename string) (*gateway.UploadDescriptor, error)
	Upload(ctx context.Context, desc *gateway.UploadDescriptor, body io.Reader, size int64) (*gateway.UploadResult, error)
	Check(ctx context.Context, fileID string) (string, error)
}

// Journal persists terminal upload outcomes.
type Journal interface {
	Append(rec history.Record) error
}

// Observer receives phase and progress notifications. Progress callbacks
// may arrive from the estimator's timer goroutine, so implementations must
// be safe for concurrent use and must not call back into the controller.
type Observer interface {
	PhaseChanged(phase Phase, message string)
	Progress(value int)
}

// Settings are the lifecycle's timing and size knobs. Zero fields fall
// back to the defaults the backend was designed around.
type Settings struct {
	MaxFileSize    int64
	ProgressTick   time.Duration
	ScanStartDelay time.Duration
	PollInterval   time.Duration
	PollCeiling    time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		MaxFileSize:    50 * 1024 * 1024,
		ProgressTick:   300 * time.Millisecond,
		ScanStartDelay: 5 * time.Second,
		PollInterval:   10 * time.Second,
		PollCeiling:    2 * time.Minute,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.MaxFileSize == 0 {
		s.MaxFileSize = def.MaxFileSize
	}
	if s.ProgressTick == 0 {
		s.ProgressTick = def.ProgressTick
	}
	if s.ScanStartDelay == 0 {
		s.ScanStartDelay = def.ScanStartDelay
	}
	if s.PollInterval == 0 {
		s.PollInterval = def.PollInterval
	}
	if s.PollCeiling == 0 {
		s.PollCeiling = def.PollCeiling
	}
	return s
}

// Controller owns all mutable lifecycle state: the phase, the selected
// file, the presign descriptor, the scan status and the two timers
// (progress ticker, scan poller). Timers are owned handles canceled on
// every exit path; nothing mutates state after Reset.
type Controller struct {
	log      *zap.Logger
	settings Settings
	gw       Gateway
	tracer   oteltrace.Tracer

	metrics   *observability.Metrics
	journal   Journal
	previewer *preview.Generator

	mu            sync.Mutex
	gen           uint64
	phase         Phase
	message       string
	file          *fileinfo.SelectedFile
	desc          *gateway.UploadDescriptor
	scanStatus    string
	progressValue int
	est           *progress.Estimator
	cancel        context.CancelFunc
	observer      Observer
	startedAt     time.Time
}

func NewController(logger *zap.Logger, settings Settings, gw Gateway) *Controller {
	return &Controller{
		log:      logger,
		settings: settings.withDefaults(),
		gw:       gw,
		tracer:   observability.Tracer(),
		phase:    PhaseIdle,
	}
}

func (c *Controller) SetMetrics(m *observability.Metrics) { c.metrics = m }

func (c *Controller) SetJournal(j Journal) { c.journal = j }

func (c *Controller) SetPreviewer(g *preview.Generator) { c.previewer = g }

func (c *Controller) SetObserver(o Observer) {
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) Message() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message
}

func (c *Controller) File() *fileinfo.SelectedFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file
}

func (c *Controller) Descriptor() *gateway.UploadDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desc
}

func (c *Controller) ScanStatus() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanStatus
}

func (c *Controller) ProgressValue() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressValue
}

// Select registers a file and immediately requests a pre-signed upload
// descriptor for it. Any previous attempt, in whatever phase, is discarded
// first. Size validation deliberately runs after the presign round trip to
// keep the backend's filename reservation behavior.
func (c *Controller) Select(ctx context.Context, path string) error {
	file, err := fileinfo.Select(path)
	if err != nil {
		return fmt.Errorf("select file: %w", err)
	}

	c.mu.Lock()
	c.resetLocked()
	gen := c.gen
	actx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.file = file
	c.startedAt = time.Now()
	c.mu.Unlock()

	// Stored so Reset can abort an in-flight presign; released on every
	// return so the child context never outlives the call.
	defer cancel()

	c.log.Info("file selected",
		zap.String("name", file.Name),
		zap.Int64("size", file.Size),
		zap.String("mime_type", file.MIMEType),
	)
	c.setPhase(gen, PhaseAwaitingPresign, fmt.Sprintf("requesting upload URL for %s", file.Name))

	if c.previewer != nil && file.IsImage() {
		// Best effort, off the lifecycle path.
		go func() {
			if _, err := c.previewer.Generate(file); err != nil {
				c.log.Debug("preview generation failed", zap.Error(err))
			}
		}()
	}

	sctx, span := c.tracer.Start(actx, "lifecycle.presign",
		oteltrace.WithAttributes(attribute.String("filename", file.Name)))
	desc, err := c.gw.Presign(sctx, file.Name)
	span.End()
	if err != nil {
		c.fail(gen, StagePresign, err)
		return err
	}

	if err := file.Validate(c.settings.MaxFileSize); err != nil {
		c.fail(gen, StageValidate, err)
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return context.Canceled
	}
	c.desc = desc
	c.mu.Unlock()

	c.setPhase(gen, PhaseReadyToUpload, fmt.Sprintf("%s ready to upload", file.Name))
	return nil
}

// Upload transmits the staged file and then follows the malware scan to
// its verdict. It blocks until a terminal phase is reached; Reset from
// another goroutine aborts it. The returned error is nil only for a clean
// verdict.
func (c *Controller) Upload(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseReadyToUpload || c.file == nil || c.desc == nil {
		c.mu.Unlock()
		return ErrNotReady
	}
	gen := c.gen
	file := c.file
	desc := c.desc
	started := c.startedAt
	obs := c.observer
	prev := c.cancel
	actx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	est := progress.NewEstimator(c.settings.ProgressTick, func(v int) {
		c.mu.Lock()
		current := gen == c.gen
		if current {
			c.progressValue = v
		}
		c.mu.Unlock()
		if current && obs != nil {
			obs.Progress(v)
		}
	})
	c.est = est
	c.mu.Unlock()

	// The selection's context is done with; release it before the new
	// one takes over, and release the new one on every return.
	if prev != nil {
		prev()
	}
	defer cancel()

	c.metrics.MarkUploadStarted()
	c.setPhase(gen, PhaseUploading, fmt.Sprintf("uploading %s", file.Name))
	est.Start()

	body, err := file.Open()
	if err != nil {
		c.fail(gen, StageUpload, err)
		return err
	}

	uctx, span := c.tracer.Start(actx, "lifecycle.upload", oteltrace.WithAttributes(
		attribute.String("file_id", desc.FileID),
		attribute.Int64("size", file.Size),
	))
	_, err = c.gw.Upload(uctx, desc, body, file.Size)
	span.End()
	body.Close()
	if err != nil {
		c.fail(gen, StageUpload, err)
		return err
	}

	// Progress reaches exactly 100 before the phase moves on.
	est.Finish()
	if !c.setPhase(gen, PhaseAwaitingScanStart, "upload complete, scan starting shortly") {
		return context.Canceled
	}

	// The scan start delay is an owned timer so reset can cancel it.
	delay := time.NewTimer(c.settings.ScanStartDelay)
	select {
	case <-actx.Done():
		delay.Stop()
		return actx.Err()
	case <-delay.C:
	}

	if !c.setPhase(gen, PhaseScanning, "scanning for threats") {
		return context.Canceled
	}

	poller := scan.NewPoller(c.log, c.gw, c.settings.PollInterval, c.settings.PollCeiling)
	poller.SetMetrics(c.metrics)
	poller.SetOnStatus(func(status string) {
		c.mu.Lock()
		if gen == c.gen {
			c.scanStatus = status
		}
		c.mu.Unlock()
	})

	pctx, span := c.tracer.Start(actx, "lifecycle.scan",
		oteltrace.WithAttributes(attribute.String("file_id", desc.FileID)))
	result := poller.Run(pctx, desc.FileID)
	span.End()

	return c.finishScan(gen, file, desc, started, result)
}

// Reset returns the lifecycle to Idle from any phase, canceling in-flight
// calls and timers and discarding the selected file, descriptor and scan
// status. Pending timer callbacks scheduled before the reset change
// nothing afterwards.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.resetLocked()
	obs := c.observer
	c.mu.Unlock()
	if obs != nil {
		obs.PhaseChanged(PhaseIdle, "")
	}
}

func (c *Controller) resetLocked() {
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.est != nil {
		c.est.Stop()
		c.est = nil
	}
	c.file = nil
	c.desc = nil
	c.scanStatus = ""
	c.progressValue = 0
	c.phase = PhaseIdle
	c.message = ""
}

// setPhase applies a transition unless the attempt was reset in the
// meantime. Returns false for a stale generation.
func (c *Controller) setPhase(gen uint64, phase Phase, message string) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.phase = phase
	c.message = message
	obs := c.observer
	c.mu.Unlock()

	c.log.Debug("phase transition", zap.Stringer("phase", phase))
	if obs != nil {
		obs.PhaseChanged(phase, message)
	}
	return true
}

func (c *Controller) fail(gen uint64, stage Stage, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	est := c.est
	c.est = nil
	c.phase = PhaseErrored
	c.message = messageFor(stage, err)
	msg := c.message
	obs := c.observer
	file := c.file
	desc := c.desc
	started := c.startedAt
	c.mu.Unlock()

	if est != nil {
		est.Fail()
	}

	c.log.Error("upload lifecycle failed", zap.String("stage", string(stage)), zap.Error(err))
	c.metrics.MarkUploadOutcome("errored_" + string(stage))
	if obs != nil {
		obs.PhaseChanged(PhaseErrored, msg)
	}
	c.journalRecord(file, desc, started, "errored:"+string(stage), msg)
}

func (c *Controller) finishScan(gen uint64, file *fileinfo.SelectedFile, desc *gateway.UploadDescriptor, started time.Time, res scan.Result) error {
	switch res.Verdict {
	case scan.VerdictClean:
		msg := fmt.Sprintf("%s uploaded, no threats found", file.Name)
		if c.setPhase(gen, PhaseCompletedClean, msg) {
			c.metrics.MarkScanVerdict(res.Verdict.String())
			c.metrics.MarkUploadOutcome("clean")
			c.journalRecord(file, desc, started, "clean", msg)
		}
		return nil

	case scan.VerdictThreat:
		msg := fmt.Sprintf("threat detected in %s, file quarantined", file.Name)
		if c.setPhase(gen, PhaseCompletedThreat, msg) {
			c.metrics.MarkScanVerdict(res.Verdict.String())
			c.metrics.MarkUploadOutcome("threat")
			c.journalRecord(file, desc, started, "threat", msg)
		}
		return errs.ErrThreatDetected

	case scan.VerdictFailed:
		msg := fmt.Sprintf("malware scan failed for %s", file.Name)
		if c.setPhase(gen, PhaseCompletedFailed, msg) {
			c.metrics.MarkScanVerdict(res.Verdict.String())
			c.metrics.MarkUploadOutcome("scan_failed")
			c.journalRecord(file, desc, started, "scan_failed", msg)
		}
		return errs.ErrScanFailed

	case scan.VerdictTimedOut:
		msg := fmt.Sprintf("no scan verdict for %s within the time ceiling", file.Name)
		if c.setPhase(gen, PhaseTimedOut, msg) {
			c.metrics.MarkScanVerdict(res.Verdict.String())
			c.metrics.MarkUploadOutcome("timed_out")
			c.journalRecord(file, desc, started, "timed_out", msg)
		}
		return errs.ErrScanTimeout

	case scan.VerdictCanceled:
		return res.Err

	default:
		c.fail(gen, StageScan, res.Err)
		return res.Err
	}
}

func (c *Controller) journalRecord(file *fileinfo.SelectedFile, desc *gateway.UploadDescriptor, started time.Time, outcome, message string) {
	if c.journal == nil || file == nil {
		return
	}
	rec := history.Record{
		Filename:   file.Name,
		Size:       file.Size,
		Outcome:    outcome,
		Message:    message,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if desc != nil {
		rec.FileID = desc.FileID
	}
	if err := c.journal.Append(rec); err != nil {
		c.log.Warn("journal append failed", zap.Error(err))
	}
}

// messageFor converts an error into the user-facing text stored on the
// errored phase; raw error detail stays in the logs.
func messageFor(stage Stage, err error) string {
	var verr *errs.ValidationError
	var nerr *errs.NetworkError
	var perr *errs.ParseError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.As(err, &perr):
		return fmt.Sprintf("the %s response could not be understood", stage)
	case errors.As(err, &nerr):
		return fmt.Sprintf("%s failed: could not reach the server", stage)
	default:
		return fmt.Sprintf("%s failed: %v", stage, err)
	}
}
