package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/jonathan/resume-analyzer/internal/types"
)

// updateBuffer holds every status one run can emit, so a run never blocks on a
// caller that stopped reading.
const updateBuffer = 8

// Session identifies the caller submitting a run
type Session struct {
	Subject string
}

// Authenticated reports whether the session belongs to a signed-in user
func (s Session) Authenticated() bool {
	return s.Subject != ""
}

// Runner executes the stage sequence. *Orchestrator implements it.
type Runner interface {
	NewID() string
	Run(ctx context.Context, id string, sub *types.AnalysisSubmission, report ProgressCallback) (string, error)
}

// ControllerOption configures a Controller
type ControllerOption func(*Controller)

// WithTracker records the latest status of every run in t
func WithTracker(t *Tracker) ControllerOption {
	return func(c *Controller) {
		c.tracker = t
	}
}

// WithMaxUploadBytes rejects documents larger than n bytes
func WithMaxUploadBytes(n int64) ControllerOption {
	return func(c *Controller) {
		c.maxBytes = n
	}
}

// Controller accepts submissions and exposes their progress
type Controller struct {
	runner   Runner
	session  Session
	tracker  *Tracker
	maxBytes int64
}

// NewController creates a Controller that runs submissions for session
func NewController(runner Runner, session Session, opts ...ControllerOption) *Controller {
	c := &Controller{runner: runner, session: session}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit validates sub and starts a run in the background. The run is not
// cancelled when ctx is; it always proceeds to Complete or Failed.
func (c *Controller) Submit(ctx context.Context, sub *types.AnalysisSubmission) (*Run, error) {
	if !c.session.Authenticated() {
		return nil, types.NewError(types.KindUnauthenticated, "sign in to analyze a resume", nil)
	}
	if sub == nil {
		return nil, types.NewError(types.KindInvalidSubmission, "no submission", nil)
	}
	if err := sub.Validate(c.maxBytes); err != nil {
		return nil, err
	}

	run := newRun(c.runner.NewID(), c.tracker)

	runCtx := context.WithoutCancel(ctx)
	go func() {
		id, err := c.runner.Run(runCtx, run.id, sub, run.publish)
		run.finish(id, err)
	}()
	return run, nil
}

// Run is the handle of one in-flight or finished analysis
type Run struct {
	id      string
	tracker *Tracker
	updates chan StageStatus
	done    chan struct{}

	mu       sync.Mutex
	last     StageStatus
	terminal bool
	result   string
	err      error
}

// newRun starts at Idle. Idle is the initial state, not a transition, so it is
// tracked but never sent on Updates.
func newRun(id string, tracker *Tracker) *Run {
	r := &Run{
		id:      id,
		tracker: tracker,
		updates: make(chan StageStatus, updateBuffer),
		done:    make(chan struct{}),
		last:    statusAt(StageIdle, nowUTC()),
	}
	if tracker != nil {
		tracker.set(id, r.last)
	}
	return r
}

// ID returns the id the record will be stored under
func (r *Run) ID() string {
	return r.id
}

// Updates streams every status transition. The channel is closed after the
// terminal status.
func (r *Run) Updates() <-chan StageStatus {
	return r.updates
}

// Done is closed once the run has reached a terminal status
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Status returns the latest status of the run
func (r *Run) Status() StageStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Wait blocks until the run is terminal and returns the record id or the failure
func (r *Run) Wait() (string, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

// publish forwards status if it moves the run forward. Backward, repeated and
// post-terminal transitions are dropped.
func (r *Run) publish(status StageStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal || status.Stage <= r.last.Stage {
		return
	}
	r.last = status
	r.terminal = status.Stage.Terminal()

	if r.tracker != nil {
		r.tracker.set(r.id, status)
	}
	select {
	case r.updates <- status:
	default:
	}
	if r.terminal {
		close(r.updates)
	}
}

// finish guarantees exactly one terminal status and releases waiters
func (r *Run) finish(id string, err error) {
	if err == nil && id == "" {
		err = types.NewError(types.KindPersistenceFailed, "run finished without a record id", nil)
	}

	if err != nil {
		r.publish(failedStatus(err, nowUTC()))
	} else {
		done := statusAt(StageComplete, nowUTC())
		done.RecordID = id
		r.publish(done)
	}

	r.mu.Lock()
	if err != nil {
		r.err = err
	} else {
		r.result = id
	}
	r.mu.Unlock()
	close(r.done)
}

// DefaultTrackerTTL is how long a finished run stays answerable
const DefaultTrackerTTL = time.Hour

// trackedRun is the latest status of one run. finishedAt is set once the
// status is terminal.
type trackedRun struct {
	status     StageStatus
	finishedAt time.Time
}

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithTrackerTTL keeps finished runs for ttl. A non-positive ttl uses DefaultTrackerTTL.
func WithTrackerTTL(ttl time.Duration) TrackerOption {
	return func(t *Tracker) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// Tracker keeps the latest status of every run started by a Controller.
// Finished runs are dropped once they are older than the TTL.
type Tracker struct {
	mu   sync.RWMutex
	runs map[string]trackedRun
	ttl  time.Duration
	now  func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
}

// NewTracker creates an empty Tracker
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		runs: make(map[string]trackedRun),
		ttl:  DefaultTrackerTTL,
		now:  time.Now,
		stop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Get returns the latest status for run id
func (t *Tracker) Get(id string) (StageStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.runs[id]
	return r.status, ok
}

// Len returns the number of tracked runs
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.runs)
}

func (t *Tracker) set(id string, s StageStatus) {
	r := trackedRun{status: s}
	if s.Stage.Terminal() {
		r.finishedAt = t.now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[id] = r
}

// StartCleanup evicts expired runs every interval until Stop is called.
// Calls after the first are no-ops.
func (t *Tracker) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t.startOnce.Do(func() {
		go t.cleanup(interval)
	})
}

// Stop ends the cleanup goroutine
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Tracker) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.evictFinished(t.now())
		case <-t.stop:
			return
		}
	}
}

// evictFinished drops terminal runs that finished more than ttl before now.
// Runs still in progress are kept.
func (t *Tracker) evictFinished(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := 0
	for id, r := range t.runs {
		if !r.finishedAt.IsZero() && now.Sub(r.finishedAt) > t.ttl {
			delete(t.runs, id)
			evicted++
		}
	}
	return evicted
}
