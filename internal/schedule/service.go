package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

const (
	defaultTick   = time.Second
	runLogLimit   = 200
	summaryLimit  = 16 * 1024
	eventErrLimit = 200
)

// Config assembles a scheduler.
type Config struct {
	// Path is the JSON file backing the job set.
	Path string
	// Handler runs a due job. May be set later via SetHandler, once the
	// delegation engine exists.
	Handler JobHandler
	// Bus, when set, receives a protocol.EventScheduleRun per run.
	Bus *bus.EventBus
	// Retry overrides the default backoff for failing jobs.
	Retry *RetryConfig
	// TickInterval is how often due jobs are polled. Zero means one
	// second.
	TickInterval time.Duration
}

// Service owns the job set: persistence, the due-job loop, and
// execution.
type Service struct {
	path string
	bus  *bus.EventBus
	tick time.Duration
	wg   sync.WaitGroup

	mu      sync.Mutex
	jobs    Store
	handler JobHandler
	retry   RetryConfig
	runLog  []RunLogEntry
	running bool
	cancel  context.CancelFunc
}

func New(cfg Config) *Service {
	s := &Service{
		path:    cfg.Path,
		bus:     cfg.Bus,
		tick:    cfg.TickInterval,
		jobs:    Store{Version: 1},
		handler: cfg.Handler,
		retry:   DefaultRetryConfig(),
	}
	if cfg.Retry != nil {
		s.retry = *cfg.Retry
	}
	if s.tick <= 0 {
		s.tick = defaultTick
	}
	return s
}

// SetHandler points the scheduler at its dispatch target.
func (s *Service) SetHandler(h JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Start loads persisted jobs and begins polling for due ones.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if err := s.load(); err != nil {
		slog.Warn("schedule: job file unreadable, starting empty", "path", s.path, "error", err)
		s.jobs = Store{Version: 1}
	}

	now := nowMS()
	for i := range s.jobs.Jobs {
		job := &s.jobs.Jobs[i]
		if job.Enabled && job.State.NextRunAtMS == nil {
			job.State.NextRunAtMS = nextRun(&job.Schedule, now)
		}
	}
	s.save()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	go s.loop(ctx)

	slog.Info("scheduler started", "jobs", len(s.jobs.Jobs), "path", s.path)
	return nil
}

// Stop halts polling, cancels in-flight handlers, and waits for them.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("scheduler stopped")
}

// AddJob validates and registers a job. "at" jobs are one-shot and
// removed after they run.
func (s *Service) AddJob(name string, sched Schedule, dispatch Dispatch) (*Job, error) {
	if err := validateSchedule(&sched); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}
	if err := validateDispatch(&dispatch); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMS()
	job := Job{
		ID:             newJobID(),
		Name:           name,
		Enabled:        true,
		Schedule:       sched,
		Dispatch:       dispatch,
		CreatedAtMS:    now,
		UpdatedAtMS:    now,
		DeleteAfterRun: sched.Kind == KindAt,
	}
	job.State.NextRunAtMS = nextRun(&job.Schedule, now)

	s.jobs.Jobs = append(s.jobs.Jobs, job)
	s.save()

	slog.Info("schedule job added",
		"job_id", job.ID,
		"name", name,
		"kind", sched.Kind,
		"target", dispatch.TargetAgent)
	return &job, nil
}

// RemoveJob deletes a job by ID.
func (s *Service) RemoveJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.jobs.Jobs {
		if job.ID == jobID {
			s.jobs.Jobs = append(s.jobs.Jobs[:i], s.jobs.Jobs[i+1:]...)
			s.save()
			slog.Info("schedule job removed", "job_id", jobID)
			return nil
		}
	}
	return fmt.Errorf("job %s not found", jobID)
}

// EnableJob toggles a job. Enabling recomputes the next run; disabling
// clears it.
func (s *Service) EnableJob(jobID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs.Jobs {
		job := &s.jobs.Jobs[i]
		if job.ID != jobID {
			continue
		}
		job.Enabled = enabled
		job.UpdatedAtMS = nowMS()
		if enabled {
			job.State.NextRunAtMS = nextRun(&job.Schedule, nowMS())
		} else {
			job.State.NextRunAtMS = nil
		}
		s.save()
		slog.Info("schedule job toggled", "job_id", jobID, "enabled", enabled)
		return nil
	}
	return fmt.Errorf("job %s not found", jobID)
}

// ListJobs returns copies of all jobs, skipping disabled ones unless
// asked.
func (s *Service) ListJobs(includeDisabled bool) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs.Jobs))
	for _, job := range s.jobs.Jobs {
		if !includeDisabled && !job.Enabled {
			continue
		}
		out = append(out, job)
	}
	return out
}

// GetJob returns a copy of one job.
func (s *Service) GetJob(jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs.Jobs {
		if job.ID == jobID {
			j := job
			return &j, nil
		}
	}
	return nil, fmt.Errorf("job %s not found", jobID)
}

// UpdateJob applies the set fields of patch and recomputes the next run.
func (s *Service) UpdateJob(jobID string, patch JobPatch) (*Job, error) {
	if patch.Schedule != nil {
		if err := validateSchedule(patch.Schedule); err != nil {
			return nil, fmt.Errorf("invalid schedule: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs.Jobs {
		job := &s.jobs.Jobs[i]
		if job.ID != jobID {
			continue
		}
		if patch.Name != "" {
			job.Name = patch.Name
		}
		if patch.Enabled != nil {
			job.Enabled = *patch.Enabled
		}
		if patch.Schedule != nil {
			job.Schedule = *patch.Schedule
			job.DeleteAfterRun = patch.Schedule.Kind == KindAt
		}
		if patch.Task != "" {
			job.Dispatch.Task = patch.Task
		}
		if patch.Expectations != nil {
			job.Dispatch.Expectations = *patch.Expectations
		}
		if patch.TargetAgent != nil {
			job.Dispatch.TargetAgent = *patch.TargetAgent
		}
		if patch.FromAgent != nil {
			job.Dispatch.FromAgent = *patch.FromAgent
		}
		if patch.Model != nil {
			job.Dispatch.Model = *patch.Model
		}
		if patch.DeleteAfterRun != nil {
			job.DeleteAfterRun = *patch.DeleteAfterRun
		}
		job.UpdatedAtMS = nowMS()

		if job.Enabled {
			job.State.NextRunAtMS = nextRun(&job.Schedule, nowMS())
		} else {
			job.State.NextRunAtMS = nil
		}

		s.save()
		slog.Info("schedule job updated", "job_id", jobID)
		out := *job
		return &out, nil
	}
	return nil, fmt.Errorf("job %s not found", jobID)
}

// RunJob fires one job now. Without force it only runs when due,
// returning ran=false otherwise.
func (s *Service) RunJob(ctx context.Context, jobID string, force bool) (bool, string, error) {
	s.mu.Lock()
	var job *Job
	for i := range s.jobs.Jobs {
		if s.jobs.Jobs[i].ID == jobID {
			j := s.jobs.Jobs[i]
			job = &j
			break
		}
	}
	s.mu.Unlock()

	if job == nil {
		return false, "", fmt.Errorf("job %s not found", jobID)
	}
	if !force && (job.State.NextRunAtMS == nil || *job.State.NextRunAtMS > nowMS()) {
		return false, "", nil
	}

	slog.Info("schedule manual run", "job_id", job.ID, "name", job.Name, "force", force)
	result, err := s.execute(ctx, job)
	if err != nil {
		return true, "", err
	}
	return true, result, nil
}

// RunLog returns the most recent run entries, newest first. An empty
// jobID matches every job.
func (s *Service) RunLog(jobID string, limit int) []RunLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	var out []RunLogEntry
	for i := len(s.runLog) - 1; i >= 0 && len(out) < limit; i-- {
		if jobID == "" || s.runLog[i].JobID == jobID {
			out = append(out, s.runLog[i])
		}
	}
	return out
}

// Status reports loop state for the operational API.
func (s *Service) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := map[string]interface{}{
		"running": s.running,
		"jobs":    len(s.jobs.Jobs),
	}
	var earliest *int64
	for _, job := range s.jobs.Jobs {
		if job.Enabled && job.State.NextRunAtMS != nil {
			if earliest == nil || *job.State.NextRunAtMS < *earliest {
				earliest = job.State.NextRunAtMS
			}
		}
	}
	if earliest != nil {
		st["next_wake_at_ms"] = *earliest
	}
	return st
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue claims every due job, then runs each in its own goroutine.
// Claiming clears NextRunAtMS so a slow delegation cannot double-fire.
func (s *Service) dispatchDue(ctx context.Context) {
	s.mu.Lock()
	now := nowMS()
	var due []Job
	for i := range s.jobs.Jobs {
		job := &s.jobs.Jobs[i]
		if job.Enabled && job.State.NextRunAtMS != nil && *job.State.NextRunAtMS <= now {
			job.State.NextRunAtMS = nil
			due = append(due, *job)
		}
	}
	if len(due) > 0 {
		s.save()
	}
	s.mu.Unlock()

	for i := range due {
		job := due[i]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.execute(ctx, &job)
		}()
	}
}

// execute runs one job through the handler with retry and folds the
// outcome back into job state.
func (s *Service) execute(ctx context.Context, job *Job) (string, error) {
	s.mu.Lock()
	handler := s.handler
	retry := s.retry
	s.mu.Unlock()

	if handler == nil {
		err := fmt.Errorf("no job handler configured")
		s.finishRun(job.ID, "", err)
		return "", err
	}

	slog.Info("schedule job firing",
		"job_id", job.ID,
		"name", job.Name,
		"target", job.Dispatch.TargetAgent)

	result, attempts, err := runWithRetry(ctx, func() (string, error) {
		return handler(ctx, job)
	}, retry)
	if attempts > 1 {
		slog.Info("schedule job retried", "job_id", job.ID, "attempts", attempts, "ok", err == nil)
	}

	s.finishRun(job.ID, result, err)
	return result, err
}

// finishRun updates job state, reschedules or deletes the job, and
// appends the run log entry. The entry is recorded even when the job was
// removed while it ran.
func (s *Service) finishRun(jobID, result string, runErr error) {
	s.mu.Lock()

	var name, target string
	for i := range s.jobs.Jobs {
		job := &s.jobs.Jobs[i]
		if job.ID != jobID {
			continue
		}
		name, target = job.Name, job.Dispatch.TargetAgent

		now := nowMS()
		job.State.LastRunAtMS = &now
		if runErr != nil {
			job.State.LastStatus = StatusError
			job.State.LastError = runErr.Error()
			slog.Error("schedule job failed", "job_id", jobID, "error", runErr)
		} else {
			job.State.LastStatus = StatusOK
			job.State.LastError = ""
			slog.Info("schedule job completed", "job_id", jobID)
		}

		if job.DeleteAfterRun {
			s.jobs.Jobs = append(s.jobs.Jobs[:i], s.jobs.Jobs[i+1:]...)
		} else {
			job.State.NextRunAtMS = nextRun(&job.Schedule, now)
			if job.State.NextRunAtMS == nil {
				job.Enabled = false
			}
		}
		s.save()
		break
	}

	entry := RunLogEntry{Ts: nowMS(), JobID: jobID}
	if runErr != nil {
		entry.Status = StatusError
		entry.Error = runErr.Error()
	} else {
		entry.Status = StatusOK
		entry.Summary = clip(result, summaryLimit)
	}
	s.runLog = append(s.runLog, entry)
	if len(s.runLog) > runLogLimit {
		s.runLog = s.runLog[len(s.runLog)-runLogLimit:]
	}
	s.mu.Unlock()

	s.emitRun(jobID, name, target, entry)
}

func (s *Service) emitRun(jobID, name, target string, entry RunLogEntry) {
	if s.bus == nil {
		return
	}
	payload := map[string]interface{}{
		"job_id": jobID,
		"name":   name,
		"agent":  target,
		"status": entry.Status,
	}
	if entry.Error != "" {
		payload["error"] = clip(entry.Error, eventErrLimit)
	}
	s.bus.Publish(protocol.EventScheduleRun, payload)
}

// nextRun computes the next fire time in unix milliseconds, or nil when
// the schedule has no future run.
func nextRun(sched *Schedule, now int64) *int64 {
	switch sched.Kind {
	case KindAt:
		if sched.AtMS != nil && *sched.AtMS > now {
			return sched.AtMS
		}
		return nil

	case KindEvery:
		if sched.EveryMS == nil || *sched.EveryMS <= 0 {
			return nil
		}
		next := now + *sched.EveryMS
		return &next

	case KindCron:
		if sched.Expr == "" {
			return nil
		}
		from := time.UnixMilli(now)
		if sched.TZ != "" {
			if loc, err := time.LoadLocation(sched.TZ); err == nil {
				from = from.In(loc)
			}
		}
		tick, err := gronx.NextTickAfter(sched.Expr, from, false)
		if err != nil {
			slog.Error("schedule: next cron tick failed", "expr", sched.Expr, "error", err)
			return nil
		}
		ms := tick.UnixMilli()
		return &ms

	default:
		return nil
	}
}

func validateSchedule(sched *Schedule) error {
	switch sched.Kind {
	case KindAt:
		if sched.AtMS == nil {
			return fmt.Errorf("at schedule requires at_ms")
		}
	case KindEvery:
		if sched.EveryMS == nil || *sched.EveryMS <= 0 {
			return fmt.Errorf("every schedule requires a positive every_ms")
		}
	case KindCron:
		if sched.Expr == "" {
			return fmt.Errorf("cron schedule requires expr")
		}
		if !gronx.New().IsValid(sched.Expr) {
			return fmt.Errorf("invalid cron expression %q", sched.Expr)
		}
		if sched.TZ != "" {
			if _, err := time.LoadLocation(sched.TZ); err != nil {
				return fmt.Errorf("invalid timezone %q", sched.TZ)
			}
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", sched.Kind)
	}
	return nil
}

func validateDispatch(d *Dispatch) error {
	if strings.TrimSpace(d.TargetAgent) == "" {
		return fmt.Errorf("job dispatch requires a target agent")
	}
	if strings.TrimSpace(d.Task) == "" {
		return fmt.Errorf("job dispatch requires a task")
	}
	return nil
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &s.jobs)
}

// save persists under the held lock. Failures are logged, not returned:
// the in-memory set stays authoritative.
func (s *Service) save() {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		slog.Error("schedule: create store dir", "path", s.path, "error", err)
		return
	}
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		slog.Error("schedule: encode job file", "error", err)
		return
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		slog.Error("schedule: write job file", "path", s.path, "error", err)
	}
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
