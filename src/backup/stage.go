package backup

import (
	"fmt"

	"compose-backup/src/resolve"
)

// Stage is a state of a backup run.
type Stage string

const (
	StageInit              Stage = "INIT"
	StageConfigLoaded      Stage = "CONFIG_LOADED"
	StageInventoryResolved Stage = "INVENTORY_RESOLVED"
	StageArchived          Stage = "ARCHIVED"
	StagePackaged          Stage = "PACKAGED"
	StageSynced            Stage = "SYNCED"
	StageDone              Stage = "DONE"
	StageFailed            Stage = "FAILED"
	StageCleaned           Stage = "CLEANED"
)

// StageError wraps the failure that stopped a run. Stage is the state the
// run was trying to reach.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Status is the aggregate outcome of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// RunResult summarizes a finished run.
type RunResult struct {
	Status Status
	// Stage is the last state reached before the run ended: DONE on success,
	// the failing stage otherwise.
	Stage Stage
	// Err is the first error encountered, a *StageError.
	Err     error
	RunID   string
	RunTag  string
	Targets []resolve.Target
	Skipped []resolve.Skip
	// Destination is the remote path the artifact was (or would be) sent to.
	Destination string
	DryRun      bool
	// Cleaned reports that staging cleanup ran to completion.
	Cleaned bool
}

// State is the terminal state of the run. FAILED and CLEANED are not kept
// in Stage, which names where the run stopped; they follow from Status and
// Cleaned: CLEANED once staging was removed, otherwise FAILED or DONE.
func (r RunResult) State() Stage {
	switch {
	case r.Cleaned:
		return StageCleaned
	case r.Failed():
		return StageFailed
	}
	return StageDone
}

// Failed reports whether the run did not succeed.
func (r RunResult) Failed() bool { return r.Status != StatusSuccess }
