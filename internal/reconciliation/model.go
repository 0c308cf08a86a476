package reconciliation

import (
	"errors"
	"time"
)

type GapKind string

const (
	GapTaskApproved GapKind = "task_approved"
	GapPayment      GapKind = "payment"
	GapCompletion   GapKind = "completion"
)

const (
	GapStatusDryRun     = "dry_run"
	GapStatusBackfilled = "backfilled"
	GapStatusUnchanged  = "unchanged"
	GapStatusFailed     = "failed"
)

var (
	ErrAlreadyRunning = errors.New("reconciliation_already_running")
	ErrRunNotFound    = errors.New("reconciliation_run_not_found")
)

type Options struct {
	// ProjectIDs limits the run; empty scans every project.
	ProjectIDs []string
	// Since skips projects not updated since then. Zero scans all.
	Since      time.Time
	DryRun     bool
	BatchSize  int
	BatchPause time.Duration
}

// Gap is one missing notification and what the run did about it.
type Gap struct {
	Kind          GapKind `json:"kind"`
	ProjectID     string  `json:"projectId"`
	TaskID        string  `json:"taskId,omitempty"`
	InvoiceNumber string  `json:"invoiceNumber,omitempty"`
	Key           string  `json:"key"`
	Status        string  `json:"status"`
	Reason        string  `json:"reason,omitempty"`
}

type Report struct {
	RunID           string    `json:"runId"`
	DryRun          bool      `json:"dryRun"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
	ProjectsScanned int       `json:"projectsScanned"`
	GapsFound       int       `json:"gapsFound"`
	Backfilled      int       `json:"backfilled"`
	Gaps            []Gap     `json:"gaps"`
	Errors          []string  `json:"errors,omitempty"`
}

func (r *Report) add(g Gap) {
	r.Gaps = append(r.Gaps, g)
	r.GapsFound++
	if g.Status == GapStatusBackfilled {
		r.Backfilled++
	}
}
