package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/amelia-dev/amelia/events"
	"github.com/amelia-dev/amelia/workflow"
)

// TestServiceProperty_ConcurrentCreatesNeverExceedCapOrShareAWorktree
// verifies spec.md §8 invariants 3 and 4: for any number of concurrent
// Queue calls racing against a fixed concurrency cap and a fixed pool of
// worktree paths, the number of non-terminal workflows never exceeds the
// cap, and no two non-terminal workflows ever share a worktree path.
func TestServiceProperty_ConcurrentCreatesNeverExceedCapOrShareAWorktree(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("cap and worktree-exclusion invariants hold under concurrent creates", prop.ForAll(
		func(numAttempts, cap_, numWorktrees int) bool {
			wfs := newFakeWorkflows()
			svc, err := New(context.Background(), Options{
				Workflows:              wfs,
				Checkpoints:            &fakeCheckpoints{},
				Engine:                 &fakeEngine{},
				Bus:                    events.New(nil),
				Tracker:                fakeTracker{},
				Profiles:               fakeProfiles{},
				MaxConcurrentWorkflows: cap_,
			})
			if err != nil {
				return false
			}

			var wg sync.WaitGroup
			for i := 0; i < numAttempts; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					worktree := fmt.Sprintf("/tmp/prop-worktree-%d", i%numWorktrees)
					_, _ = svc.Queue(context.Background(), CreateRequest{
						IssueID:      fmt.Sprintf("ISSUE-%d", i),
						WorktreePath: worktree,
					})
				}(i)
			}
			wg.Wait()

			active, err := svc.ListActive(context.Background())
			if err != nil {
				return false
			}

			if len(active) > cap_ {
				return false
			}

			seen := make(map[string]bool)
			for _, w := range active {
				if seen[w.WorktreePath] {
					return false
				}
				seen[w.WorktreePath] = true
			}
			return true
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 5),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

// TestServiceProperty_AtMostOneSupervisedTaskPerWorkflow verifies spec.md
// §8 invariant 5: for any number of concurrent attempts to acquire a
// supervised task slot for the same workflow ID, at most one succeeds.
func TestServiceProperty_AtMostOneSupervisedTaskPerWorkflow(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("only one acquireTask call wins per workflow ID", prop.ForAll(
		func(numAttempts int) bool {
			wfs := newFakeWorkflows()
			svc, err := New(context.Background(), Options{
				Workflows:   wfs,
				Checkpoints: &fakeCheckpoints{},
				Engine:      &fakeEngine{},
				Bus:         events.New(nil),
				Tracker:     fakeTracker{},
				Profiles:    fakeProfiles{},
			})
			if err != nil {
				return false
			}

			const workflowID = "shared-workflow"
			var wg sync.WaitGroup
			var mu sync.Mutex
			successes := 0
			for i := 0; i < numAttempts; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := svc.acquireTask(context.Background(), workflowID, taskKindExecution); err == nil {
						mu.Lock()
						successes++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			return successes == 1
		},
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

// TestServiceProperty_TerminalStatusesAreSticky verifies spec.md §8
// invariant 6: once a workflow reaches a terminal status, further Cancel
// attempts never change it.
func TestServiceProperty_TerminalStatusesAreSticky(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("cancel on a terminal workflow never changes its status", prop.ForAll(
		func(numCancelAttempts int) bool {
			svc, wfs := newTestService(t, &fakeEngine{})
			id, err := svc.Queue(context.Background(), CreateRequest{IssueID: "ISSUE-1", WorktreePath: fmt.Sprintf("/tmp/sticky-%d", numCancelAttempts)})
			if err != nil {
				return false
			}
			if err := svc.Cancel(context.Background(), id); err != nil {
				return false
			}
			if wfs.status(id) != workflow.StatusCancelled {
				return false
			}

			var wg sync.WaitGroup
			for i := 0; i < numCancelAttempts; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = svc.Cancel(context.Background(), id)
				}()
			}
			wg.Wait()

			return wfs.status(id) == workflow.StatusCancelled
		},
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
