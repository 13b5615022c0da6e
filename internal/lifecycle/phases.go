package lifecycle

import "github.com/samber/lo"

// Phase is the single active state of the upload lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingPresign
	PhaseReadyToUpload
	PhaseUploading
	PhaseAwaitingScanStart
	PhaseScanning
	PhaseCompletedClean
	PhaseCompletedThreat
	PhaseCompletedFailed
	PhaseTimedOut
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingPresign:
		return "awaiting_presign"
	case PhaseReadyToUpload:
		return "ready_to_upload"
	case PhaseUploading:
		return "uploading"
	case PhaseAwaitingScanStart:
		return "awaiting_scan_start"
	case PhaseScanning:
		return "scanning"
	case PhaseCompletedClean:
		return "completed_clean"
	case PhaseCompletedThreat:
		return "completed_threat"
	case PhaseCompletedFailed:
		return "completed_failed"
	case PhaseTimedOut:
		return "timed_out"
	case PhaseErrored:
		return "errored"
	default:
		return "unknown"
	}
}

var terminalPhases = []Phase{
	PhaseCompletedClean,
	PhaseCompletedThreat,
	PhaseCompletedFailed,
	PhaseTimedOut,
	PhaseErrored,
}

// IsTerminal reports whether the attempt has finished, one way or another.
func (p Phase) IsTerminal() bool {
	return lo.Contains(terminalPhases, p)
}

// Stage identifies where a failed attempt went wrong.
type Stage string

const (
	StagePresign  Stage = "presign"
	StageValidate Stage = "validate"
	StageUpload   Stage = "upload"
	StageScan     Stage = "scan"
)
