package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amelia-dev/amelia/checkpoint"
	"github.com/amelia-dev/amelia/contracts"
	"github.com/amelia-dev/amelia/events"
	"github.com/amelia-dev/amelia/pipeline"
	"github.com/amelia-dev/amelia/repo"
	"github.com/amelia-dev/amelia/telemetry"
	"github.com/amelia-dev/amelia/workflow"
)

// DefaultMaxConcurrentWorkflows is MAX_CONCURRENT_WORKFLOWS's default
// (spec.md §4.4 "default 5").
const DefaultMaxConcurrentWorkflows = 5

// DefaultCancelGracePeriod is how long Cancel waits for a supervised task to
// acknowledge before transitioning the workflow to cancelled anyway
// (spec.md §4.4 "e.g., 5 s").
const DefaultCancelGracePeriod = 5 * time.Second

// Options configures a Service.
type Options struct {
	Workflows   repo.WorkflowRepository
	Events      repo.EventRepository
	TokenUsage  repo.TokenUsageRepository
	Checkpoints checkpoint.Store
	Engine      pipeline.Engine
	Bus         events.Bus
	Tracker     contracts.Tracker
	Profiles    workflow.ProfileStore
	Logger      telemetry.Logger

	// MaxConcurrentWorkflows caps the number of simultaneously non-terminal
	// workflows. Zero uses DefaultMaxConcurrentWorkflows.
	MaxConcurrentWorkflows int
	// CancelGracePeriod bounds how long Cancel waits for cooperative
	// shutdown. Zero uses DefaultCancelGracePeriod.
	CancelGracePeriod time.Duration
}

// runningTask is the bookkeeping entry for one workflow's supervised task
// (spec.md §5 "Running-tasks map"): a cancellation token plus a channel the
// task closes on exit, so Cancel can wait for acknowledgement within the
// grace period.
type runningTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	// kind records whether this is a planning or an execution task. Nothing
	// reads it: acquireTask rejects a second task of either kind, which is
	// what rules out a replan while planning is running.
	kind taskKind
}

type taskKind int

const (
	taskKindPlanning taskKind = iota
	taskKindExecution
)

// Service is the orchestrator singleton (spec.md §9 "the orchestrator
// itself is a singleton created at startup and passed by reference"). All
// exported methods are safe for concurrent use.
type Service struct {
	workflows   repo.WorkflowRepository
	eventsRepo  repo.EventRepository
	tokenUsage  repo.TokenUsageRepository
	checkpoints checkpoint.Store
	engine      pipeline.Engine
	bus         events.Bus
	tracker     contracts.Tracker
	profiles    workflow.ProfileStore
	logger      telemetry.Logger

	maxConcurrent int
	cancelGrace   time.Duration

	// mu guards tasks, the one piece of process-global mutable state
	// (spec.md §9 "Global mutable state").
	mu    sync.Mutex
	tasks map[string]*runningTask
}

// New constructs a Service and scans the workflow repository for non-
// terminal workflows left over from a previous process. Per this
// repository's Open Question decision (spec.md §9, decision recorded in
// DESIGN.md), such workflows are left quiescent: logged, but not
// auto-resumed, since there is no crash-safe record of which in-flight
// agent call was abandoned.
func New(ctx context.Context, opts Options) (*Service, error) {
	maxConcurrent := opts.MaxConcurrentWorkflows
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentWorkflows
	}
	grace := opts.CancelGracePeriod
	if grace <= 0 {
		grace = DefaultCancelGracePeriod
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}

	s := &Service{
		workflows:     opts.Workflows,
		eventsRepo:    opts.Events,
		tokenUsage:    opts.TokenUsage,
		checkpoints:   opts.Checkpoints,
		engine:        opts.Engine,
		bus:           opts.Bus,
		tracker:       opts.Tracker,
		profiles:      opts.Profiles,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		cancelGrace:   grace,
		tasks:         make(map[string]*runningTask),
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: scan active workflows at startup: %w", err)
	}
	for _, w := range active {
		s.logger.Warn(ctx, "workflow left quiescent at startup, no supervised task resumed",
			"workflow_id", w.WorkflowID, "status", string(w.Status))
	}
	return s, nil
}

// ListActive returns every non-terminal workflow (spec.md §4.2
// "list_active").
func (s *Service) ListActive(ctx context.Context) ([]workflow.Workflow, error) {
	var out []workflow.Workflow
	cursor := ""
	for {
		page, err := s.workflows.List(ctx, repo.ListFilter{Cursor: cursor, Limit: 200})
		if err != nil {
			return nil, err
		}
		for _, w := range page.Workflows {
			if w.Status.Active() {
				out = append(out, w)
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}

// Get returns one workflow by ID (spec.md §4.2 "get(id)").
func (s *Service) Get(ctx context.Context, workflowID string) (workflow.Workflow, error) {
	return s.workflows.Get(ctx, workflowID)
}

// List returns a cursor-paginated page of workflows matching filter,
// unrestricted by status (spec.md §4.5 "GET /workflows ... with cursor
// pagination and status/worktree filters"). Unlike ListActive, this does not
// filter to non-terminal statuses — that restriction is what distinguishes
// GET /workflows/active from a status=pending&...&status=blocked query here.
func (s *Service) List(ctx context.Context, filter repo.ListFilter) (repo.ListPage, error) {
	return s.workflows.List(ctx, filter)
}

// RecentEvents returns the most recent persisted events for workflowID, used
// by the workflow detail endpoint (spec.md §4.5 "GET /workflows/{id} —
// detail including ... recent events").
func (s *Service) RecentEvents(ctx context.Context, workflowID string, limit int) ([]events.Event, error) {
	return s.eventsRepo.GetRecent(ctx, workflowID, limit)
}

// EventsSince returns persisted events with sequence > afterSequence for
// workflowID, used for both the GET .../events backfill endpoint and
// WebSocket replay-on-subscribe (spec.md §4.5).
func (s *Service) EventsSince(ctx context.Context, workflowID string, afterSequence int64) ([]events.Event, error) {
	return s.eventsRepo.GetSince(ctx, workflowID, afterSequence)
}

// TokenUsage returns the running per-agent token/cost sums for workflowID
// (spec.md §4.5 "detail including ... token usage").
func (s *Service) TokenUsage(ctx context.Context, workflowID string) (map[workflow.Agent]workflow.TokenUsage, error) {
	return s.tokenUsage.Get(ctx, workflowID)
}

func (s *Service) emit(ctx context.Context, workflowID string, eventType events.Type, agent, message string) {
	s.bus.Emit(ctx, events.New(workflowID, eventType, agent, message, nil))
}

// checkConcurrencyInvariants is used by Create/Queue/QueueAndPlan to
// enforce spec.md §4.4's concurrency invariants 1 and 2 before the new
// workflow row is inserted. Both invariants are checked
// under s.mu so a burst of concurrent creates cannot both observe room
// under the cap (invariant 2 is therefore only as strong as serializing
// create calls through this lock; the repository-level unique constraint
// on worktree_path combined with status is left to the implementer per
// spec.md §5's "contention is expected to be low" note. Here, the lock
// around the whole check-then-insert sequence is the chosen implementation).
func (s *Service) checkConcurrencyInvariants(ctx context.Context, worktreePath string) error {
	active, err := s.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: check concurrency invariants: %w", err)
	}
	if len(active) >= s.maxConcurrent {
		return &ConcurrencyLimitError{Limit: s.maxConcurrent}
	}
	for _, w := range active {
		if w.WorktreePath == worktreePath {
			return &ConflictError{IncumbentWorkflowID: w.WorkflowID, Reason: "worktree already in use"}
		}
	}
	return nil
}
