package poller

import (
	"context"
	"sync"
	"time"

	"github.com/opentranslator/client/internal/apperrors"
	"github.com/opentranslator/client/internal/document"
	"github.com/opentranslator/client/internal/logger"
	"github.com/opentranslator/client/internal/metrics"
)

const (
	DefaultFailureCeiling  = 15
	DefaultStallWarnAfter  = 30 * time.Second
	DefaultStallStuckAfter = 2 * time.Minute
	DefaultSimulateEvery   = 3 * time.Second
	DefaultWatchdogEvery   = 1 * time.Second

	simulatedStartProgress = 5
	simulatedStepProgress  = 2
	simulatedMaxProgress   = 90
)

// DocumentAPI is the slice of the document service the poll loop drives
type DocumentAPI interface {
	Submit(ctx context.Context, up document.Upload) (*document.SubmitReceipt, error)
	CheckStatus(ctx context.Context, processID string) (document.StatusSnapshot, error)
	FetchResult(ctx context.Context, processID string) (*document.Result, error)
}

// Config tunes the poll loop. The failure ceiling and backoff constants vary
// across deployments, so they are configuration rather than contract.
type Config struct {
	FailureCeiling  int
	Backoff         *apperrors.BackoffConfig
	StallWarnAfter  time.Duration
	StallStuckAfter time.Duration
	SimulateEvery   time.Duration
	WatchdogEvery   time.Duration

	PendingInterval time.Duration
	EarlyInterval   time.Duration
	MidInterval     time.Duration
	LateInterval    time.Duration
	StalledInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.FailureCeiling <= 0 {
		c.FailureCeiling = DefaultFailureCeiling
	}
	if c.Backoff == nil {
		c.Backoff = apperrors.DefaultBackoffConfig()
	}
	if c.StallWarnAfter <= 0 {
		c.StallWarnAfter = DefaultStallWarnAfter
	}
	if c.StallStuckAfter <= 0 {
		c.StallStuckAfter = DefaultStallStuckAfter
	}
	if c.SimulateEvery <= 0 {
		c.SimulateEvery = DefaultSimulateEvery
	}
	if c.WatchdogEvery <= 0 {
		c.WatchdogEvery = DefaultWatchdogEvery
	}
	if c.PendingInterval <= 0 {
		c.PendingInterval = DefaultPendingInterval
	}
	if c.EarlyInterval <= 0 {
		c.EarlyInterval = DefaultEarlyInterval
	}
	if c.MidInterval <= 0 {
		c.MidInterval = DefaultMidInterval
	}
	if c.LateInterval <= 0 {
		c.LateInterval = DefaultLateInterval
	}
	if c.StalledInterval <= 0 {
		c.StalledInterval = DefaultStalledInterval
	}
}

// Poller drives one translation job from submission to a terminal state:
// scheduled status checks with adaptive cadence, a stall watchdog that
// synthesizes liveness progress, a give-up ceiling, and the completion
// hand-off to the result fetch.
type Poller struct {
	svc    DocumentAPI
	cfg    Config
	log    *logger.Logger
	events chan Event

	mu                  sync.Mutex
	job                 *Job
	consecutiveFailures int
	stalled             bool
	stuckWarned         bool
	lastSimulated       time.Time
	gen                 int
	active              bool
	starting            bool
	cancel              context.CancelFunc
	kick                chan struct{}
	done                chan struct{}
}

// New creates a poller over the given document API
func New(svc DocumentAPI, cfg Config) *Poller {
	cfg.withDefaults()
	return &Poller{
		svc:    svc,
		cfg:    cfg,
		log:    logger.Default().WithComponent("poller"),
		events: make(chan Event, 64),
	}
}

// Events delivers job notifications. The channel is buffered; events are
// dropped, not blocked on, when no one is draining it.
func (p *Poller) Events() <-chan Event {
	return p.events
}

// Snapshot returns a copy of the current job state, or false when no job has
// ever been started.
func (p *Poller) Snapshot() (Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.job == nil {
		return Job{}, false
	}
	return *p.job, true
}

// Done returns a channel closed when the active job reaches a terminal
// state. Returns nil when no job is active.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Start submits a document and begins polling it. Rejected while another job
// is still active. The previous terminal job's state is reset to zero.
func (p *Poller) Start(ctx context.Context, up document.Upload) (Job, error) {
	if err := p.reserve(); err != nil {
		return Job{}, err
	}

	receipt, err := p.svc.Submit(ctx, up)
	if err != nil {
		p.unreserve()
		return Job{}, err
	}

	job := &Job{
		ProcessID:   receipt.ProcessID,
		FileName:    up.FileName,
		SourceLang:  up.SourceLang,
		TargetLang:  up.TargetLang,
		Direction:   document.DirectionForTarget(up.TargetLang),
		Status:      document.StatusPending,
		SubmittedAt: time.Now(),
	}

	return p.begin(ctx, job, EventSubmitted, "translation submitted")
}

// Attach resumes polling a process submitted earlier, e.g. by a previous run
// whose job outlived the session.
func (p *Poller) Attach(ctx context.Context, processID, fileName, sourceLang, targetLang string) (Job, error) {
	if processID == "" {
		return Job{}, apperrors.ValidationError("process id is required")
	}

	if err := p.reserve(); err != nil {
		return Job{}, err
	}

	job := &Job{
		ProcessID:   processID,
		FileName:    fileName,
		SourceLang:  sourceLang,
		TargetLang:  targetLang,
		Direction:   document.DirectionForTarget(targetLang),
		Status:      document.StatusPending,
		SubmittedAt: time.Now(),
	}

	return p.begin(ctx, job, EventStatus, "re-attached to running translation")
}

// reserve claims the single job slot before any work that must not run
// twice, like the document upload. begin or unreserve releases it.
func (p *Poller) reserve() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active || p.starting {
		return apperrors.JobInProgress()
	}
	p.starting = true
	return nil
}

func (p *Poller) unreserve() {
	p.mu.Lock()
	p.starting = false
	p.mu.Unlock()
}

// begin installs the job and launches the poll loop and watchdog. The caller
// holds the reservation taken by reserve.
func (p *Poller) begin(ctx context.Context, job *Job, evt EventType, msg string) (Job, error) {
	runCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.starting = false
	if p.active {
		p.mu.Unlock()
		cancel()
		return Job{}, apperrors.JobInProgress()
	}
	p.gen++
	gen := p.gen
	p.job = job
	p.consecutiveFailures = 0
	p.stalled = false
	p.stuckWarned = false
	p.lastSimulated = time.Time{}
	p.active = true
	p.cancel = cancel
	p.kick = make(chan struct{}, 1)
	p.done = make(chan struct{})
	kick := p.kick
	snapshot := *job
	p.emitLocked(evt, msg)
	p.mu.Unlock()

	go p.run(runCtx, gen, job.ProcessID, kick)
	go p.watchdog(runCtx, gen)

	return snapshot, nil
}

// Cancel stops the active job. Idempotent: cancelling a terminal or already
// cancelled job changes nothing and schedules nothing.
func (p *Poller) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active || p.job == nil || p.job.IsTerminal() {
		return
	}

	p.job.Status = document.StatusCancelled
	p.job.Error = "cancelled by user"
	p.job.Estimated = false
	p.finishLocked(EventCancelled, "translation cancelled")
}

// RetryNow resets the failure counters and triggers an immediate status
// check. Offered to the user alongside the "likely stuck" warning.
func (p *Poller) RetryNow() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return
	}
	p.consecutiveFailures = 0
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// run is the poll loop: sleep an adaptive interval, check status, apply
func (p *Poller) run(ctx context.Context, gen int, processID string, kick chan struct{}) {
	for {
		p.mu.Lock()
		if p.gen != gen || !p.active {
			p.mu.Unlock()
			return
		}
		status := p.job.Status
		progress := p.job.Progress
		stalled := p.stalled
		failures := p.consecutiveFailures
		p.mu.Unlock()

		interval := p.cfg.nextInterval(status, progress, stalled, failures)
		timer := time.NewTimer(interval)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-kick:
			timer.Stop()
		case <-timer.C:
		}

		snap, err := p.svc.CheckStatus(ctx, processID)

		// A stale timer firing after cancel or restart must not act.
		if ctx.Err() != nil || p.stale(gen) {
			return
		}

		if err != nil {
			p.failJob(gen, err)
			return
		}

		if snap.Fallback {
			if p.recordFailure(gen) {
				return
			}
			continue
		}

		switch snap.Status {
		case document.StatusFailed:
			p.failJob(gen, apperrors.InternalError("the server reported the translation as failed"))
			return
		case document.StatusCompleted:
			p.applyConfirmed(gen, snap)
			if p.handleCompletion(ctx, gen, processID) {
				return
			}
			// Result was not ready yet; demoted back to in_progress.
		default:
			p.applyConfirmed(gen, snap)
		}
	}
}

// handleCompletion fetches the result exactly once per completed signal.
// Returns false when the fetch reports "not yet complete", in which case the
// job is demoted and polling resumes.
func (p *Poller) handleCompletion(ctx context.Context, gen int, processID string) bool {
	res, err := p.svc.FetchResult(ctx, processID)

	if ctx.Err() != nil || p.stale(gen) {
		return true
	}

	if apperrors.IsNotReady(err) {
		p.mu.Lock()
		if p.gen == gen && p.active {
			p.job.Status = document.StatusInProgress
			p.emitLocked(EventStatus, "result not ready yet, resuming polling")
		}
		p.mu.Unlock()
		return false
	}

	if err != nil {
		p.failJob(gen, err)
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen || !p.active {
		return true
	}

	p.job.Status = document.StatusCompleted
	p.job.Progress = 100
	p.job.Estimated = false
	p.job.TranslatedText = res.TranslatedText
	if res.Direction != "" {
		p.job.Direction = res.Direction
	}
	if res.Metadata.TotalPages > 0 {
		p.job.CurrentPage = res.Metadata.TotalPages
		p.job.TotalPages = res.Metadata.TotalPages
	}
	p.finishLocked(EventCompleted, "translation completed")
	return true
}

// applyConfirmed folds a confirmed (non-fallback) snapshot into the job.
// Displayed progress never regresses; a confirmed value clears the
// estimated tag even when simulation had raced ahead of it.
func (p *Poller) applyConfirmed(gen int, snap document.StatusSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gen != gen || !p.active {
		return
	}

	p.consecutiveFailures = 0
	metrics.Default().SetConsecutiveFailures(0)
	p.stalled = false
	p.stuckWarned = false
	p.job.LastConfirmed = time.Now()
	p.job.Estimated = false

	switch snap.Status {
	case document.StatusPending:
		p.job.Status = document.StatusPending
	case document.StatusCompleted:
		p.job.Status = document.StatusCompleted
	default:
		p.job.Status = document.StatusInProgress
	}

	if snap.Progress > p.job.Progress {
		p.job.Progress = snap.Progress
	}
	if snap.CurrentPage > 0 {
		p.job.CurrentPage = snap.CurrentPage
	}
	if snap.TotalPages > 0 {
		p.job.TotalPages = snap.TotalPages
	}

	p.emitLocked(EventStatus, "")
}

// recordFailure counts a fallback response and gives up at the ceiling.
// Returns true when polling must stop.
func (p *Poller) recordFailure(gen int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gen != gen || !p.active {
		return true
	}

	p.consecutiveFailures++
	metrics.Default().SetConsecutiveFailures(int64(p.consecutiveFailures))
	if p.consecutiveFailures < p.cfg.FailureCeiling {
		p.emitLocked(EventStatus, "")
		return false
	}

	// Fail visible, not silent: the backend job is not ours and may still
	// be running after we stop watching it.
	p.job.Status = document.StatusUnknown
	p.job.Error = "lost connection to the server; the translation may still be processing"
	p.job.Estimated = false
	p.finishLocked(EventConnectionLost, p.job.Error)
	return true
}

// failJob marks the job failed with a user-facing message
func (p *Poller) failJob(gen int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gen != gen || !p.active {
		return
	}

	p.job.Status = document.StatusFailed
	p.job.Error = err.Error()
	if appErr, ok := err.(*apperrors.AppError); ok {
		p.job.Error = appErr.Message
	}
	p.job.Estimated = false
	p.finishLocked(EventFailed, p.job.Error)
}

// watchdog flags stalls and synthesizes slow liveness progress while no
// confirmed update is arriving.
func (p *Poller) watchdog(ctx context.Context, gen int) {
	ticker := time.NewTicker(p.cfg.WatchdogEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		if p.gen != gen || !p.active || p.job.IsTerminal() {
			p.mu.Unlock()
			return
		}

		last := p.job.LastConfirmed
		if last.IsZero() {
			last = p.job.SubmittedAt
		}
		elapsed := time.Since(last)

		if elapsed >= p.cfg.StallWarnAfter && !p.stalled {
			p.stalled = true
			p.lastSimulated = time.Now()
			p.emitLocked(EventStallWarning, "the server is taking longer than usual to report progress")
		}

		if p.stalled && time.Since(p.lastSimulated) >= p.cfg.SimulateEvery {
			p.lastSimulated = time.Now()
			p.simulateLocked()
		}

		if elapsed >= p.cfg.StallStuckAfter && !p.stuckWarned {
			p.stuckWarned = true
			p.emitLocked(EventStuckWarning, "no progress for a while; the translation may be stuck, retry the status check or keep waiting")
		}

		p.mu.Unlock()
	}
}

// simulateLocked advances the estimated progress to signal liveness: starts
// at 5%, climbs in small steps, never past 90%, and never past a value the
// server will later have to walk back.
func (p *Poller) simulateLocked() {
	if p.job.Status == document.StatusPending {
		p.job.Status = document.StatusInProgress
	}

	progress := p.job.Progress
	if progress < simulatedStartProgress {
		progress = simulatedStartProgress
	} else {
		progress += simulatedStepProgress
	}
	if progress > simulatedMaxProgress {
		progress = simulatedMaxProgress
	}
	if progress <= p.job.Progress {
		return
	}

	p.job.Progress = progress
	p.job.Estimated = true
	if p.job.TotalPages > 0 {
		estimatedPage := progress * p.job.TotalPages / 100
		if estimatedPage > p.job.CurrentPage {
			p.job.CurrentPage = estimatedPage
		}
	}
	p.emitLocked(EventStatus, "")
}

// finishLocked ends the active job: stops both loops, closes Done, emits.
// Callers hold p.mu and have already set the terminal status and error.
func (p *Poller) finishLocked(evt EventType, msg string) {
	p.active = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.done != nil {
		close(p.done)
	}
	p.emitLocked(evt, msg)
}

// stale reports whether the generation has moved on (cancel or new job)
func (p *Poller) stale(gen int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen != gen || !p.active
}

// emitLocked sends an event without blocking; a full buffer drops it
func (p *Poller) emitLocked(evt EventType, msg string) {
	event := Event{Type: evt, Job: *p.job, Message: msg}
	select {
	case p.events <- event:
	default:
		p.log.Debug(context.Background(), "event buffer full, dropping event", map[string]interface{}{
			"type": string(evt),
		})
	}
}
