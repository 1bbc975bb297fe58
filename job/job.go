// Package job defines the data model for bulk provisioning jobs: the
// Job record, progress counters, per-item outcomes, log entries, and
// the Store contract every backend implements.
package job

import (
	"time"

	"github.com/rickicode/bulkpanel/id"
)

// Kind distinguishes the workflow a job runs. It selects which stage
// sequence executes per item; the engine itself is kind-agnostic.
type Kind string

const (
	// KindCreate provisions a panel account, DNS record, and remote
	// configuration for each domain.
	KindCreate Kind = "create"
	// KindDelete tears down the panel account and DNS records for each
	// domain.
	KindDelete Kind = "delete"
	// KindWPAdmin rotates the WordPress admin credentials on each
	// domain's machine.
	KindWPAdmin Kind = "wpadmin"
)

// Status is the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job record exists but execution has not begun.
	StatusPending Status = "pending"
	// StatusRunning means item workflows are executing.
	StatusRunning Status = "running"
	// StatusCompleted means all items settled (including a stop observed
	// by the delete/wpadmin kinds, which complete with partial results).
	StatusCompleted Status = "completed"
	// StatusFailed means a setup error prevented processing any item.
	StatusFailed Status = "failed"
	// StatusCancelled means a stop request was observed by the create
	// kind, which uses a dedicated terminal status.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a sink: no transition ever
// leaves completed, failed, or cancelled.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Item is one unit of work within a job: a domain name plus optional
// metadata consumed by individual stages. Items are set at job creation
// and never mutated.
type Item struct {
	Key  string            `json:"key"`
	Meta map[string]string `json:"meta,omitempty"`
}

// Progress tracks item-level counters for a job. Total is fixed at
// creation; the other counters only grow until the job is terminal.
type Progress struct {
	Processed   int    `json:"processed"`
	Successful  int    `json:"successful"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
	Total       int    `json:"total"`
	CurrentItem string `json:"current_item,omitempty"`
}

// Percent returns the rounded completion percentage, or 0 when the job
// has no items.
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}

	return int(float64(p.Processed)/float64(p.Total)*100 + 0.5)
}

// Outcome records how one item's workflow settled. Exactly one Outcome
// is produced per submitted item, regardless of retry count.
type Outcome struct {
	ItemKey string `json:"item_key"`
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped"`
	// Error is the final attempt's failure reason, or the stop reason
	// for items skipped due to a stop request.
	Error string `json:"error,omitempty"`
	// StageFailed names the stage the final attempt failed in.
	StageFailed string `json:"stage_failed,omitempty"`
	// Payload merges each stage's contribution on full-sequence success
	// (generated credentials, account identifiers, record IDs).
	Payload map[string]string `json:"payload,omitempty"`
}

// Job is one bulk operation over an ordered list of items. The record
// is exclusively owned by the process store; engine components mutate
// it only through Store operations.
type Job struct {
	ID          id.JobID   `json:"id"`
	Kind        Kind       `json:"kind"`
	Status      Status     `json:"status"`
	Items       []Item     `json:"items"`
	Progress    Progress   `json:"progress"`
	Results     []Outcome  `json:"results,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Snapshot is the read-only projection served to polling clients. It
// omits the raw log sequence, which has its own paginated feed.
type Snapshot struct {
	ID          id.JobID   `json:"id"`
	Kind        Kind       `json:"kind"`
	Status      Status     `json:"status"`
	Progress    Progress   `json:"progress"`
	Percent     int        `json:"percent"`
	Results     []Outcome  `json:"results,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Credentials carries the collaborator access details supplied with a
// submission. The engine passes them opaquely to the workflow kind's
// builder; it never persists or inspects them.
type Credentials struct {
	PanelURL   string `json:"panel_url,omitempty"`
	PanelUser  string `json:"panel_user,omitempty"`
	PanelToken string `json:"panel_token,omitempty"`

	DNSToken string `json:"dns_token,omitempty"`
	DNSZone  string `json:"dns_zone,omitempty"`

	SSHHost     string `json:"ssh_host,omitempty"`
	SSHPort     int    `json:"ssh_port,omitempty"`
	SSHUser     string `json:"ssh_user,omitempty"`
	SSHPassword string `json:"ssh_password,omitempty"`
}
