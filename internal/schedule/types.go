// Package schedule fires recurring delegations. Jobs persist in a JSON
// file and run through a pluggable handler, normally pointed at the
// delegation engine by the serve wiring.
//
// Three schedule kinds are supported:
//
//	"at"    one-shot dispatch at an absolute timestamp
//	"every" fixed interval in milliseconds
//	"cron"  five-field cron expression, parsed by gronx
package schedule

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Schedule kinds.
const (
	KindAt    = "at"
	KindEvery = "every"
	KindCron  = "cron"
)

// Run outcomes recorded on job state and in the run log.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Schedule says when a job fires.
type Schedule struct {
	Kind    string `json:"kind"`
	AtMS    *int64 `json:"at_ms,omitempty"`
	EveryMS *int64 `json:"every_ms,omitempty"`
	Expr    string `json:"expr,omitempty"`
	// TZ names the location cron expressions are evaluated in. Empty
	// means the process local time.
	TZ string `json:"tz,omitempty"`
}

// Dispatch is the delegation a job performs when it fires.
type Dispatch struct {
	// FromAgent is the delegating identity. Empty lets the handler use
	// its configured default.
	FromAgent    string `json:"from_agent,omitempty"`
	TargetAgent  string `json:"target_agent"`
	Task         string `json:"task"`
	Expectations string `json:"expectations,omitempty"`
	// Model overrides the target profile's model for this job.
	Model string `json:"model,omitempty"`
	// TimeoutMS bounds the dispatched run. Zero uses the engine default.
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
}

// JobState is the mutable runtime side of a job.
type JobState struct {
	NextRunAtMS *int64 `json:"next_run_at_ms,omitempty"`
	LastRunAtMS *int64 `json:"last_run_at_ms,omitempty"`
	LastStatus  string `json:"last_status,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// Job is one scheduled delegation.
type Job struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Enabled     bool     `json:"enabled"`
	Schedule    Schedule `json:"schedule"`
	Dispatch    Dispatch `json:"dispatch"`
	State       JobState `json:"state"`
	CreatedAtMS int64    `json:"created_at_ms"`
	UpdatedAtMS int64    `json:"updated_at_ms"`
	// DeleteAfterRun drops the job once it has fired. Always set for
	// "at" schedules.
	DeleteAfterRun bool `json:"delete_after_run,omitempty"`
}

// Store is the on-disk shape of the job file.
type Store struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

// JobPatch updates a job in place. Pointer fields distinguish "clear"
// from "leave alone"; Name and Task treat empty as leave alone.
type JobPatch struct {
	Name           string    `json:"name,omitempty"`
	Enabled        *bool     `json:"enabled,omitempty"`
	Schedule       *Schedule `json:"schedule,omitempty"`
	Task           string    `json:"task,omitempty"`
	Expectations   *string   `json:"expectations,omitempty"`
	TargetAgent    *string   `json:"target_agent,omitempty"`
	FromAgent      *string   `json:"from_agent,omitempty"`
	Model          *string   `json:"model,omitempty"`
	DeleteAfterRun *bool     `json:"delete_after_run,omitempty"`
}

// RunLogEntry records one job execution. The log is kept in memory only.
type RunLogEntry struct {
	Ts      int64  `json:"ts"`
	JobID   string `json:"job_id"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// JobHandler performs the job's dispatch and returns the delegate's
// report. The context ends when the scheduler stops.
type JobHandler func(ctx context.Context, job *Job) (string, error)

func newJobID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}
