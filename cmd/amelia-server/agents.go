package main

import (
	"context"
	"fmt"

	"github.com/amelia-dev/amelia/contracts"
	"github.com/amelia-dev/amelia/workflow"
)

// unconfiguredAgent is the default contracts.AgentFunc used until a real
// driver/prompting integration is wired in. Agent prompting and output
// parsing are explicitly out of scope for this repository (spec.md §1:
// "agents... out of scope as external collaborators") — this stub exists
// only so the pipeline graph has something to call, and fails loudly rather
// than silently no-opping if a workflow is actually started without one
// configured.
func unconfiguredAgent(name string) contracts.AgentFunc {
	return func(_ context.Context, _ workflow.State, _ any) (workflow.Delta, error) {
		return workflow.Delta{}, fmt.Errorf("amelia-server: no %s driver configured", name)
	}
}

// unconfiguredTracker mirrors unconfiguredAgent for contracts.Tracker: issue
// tracker integration is likewise an external collaborator (spec.md §1),
// not something this repository implements.
type unconfiguredTracker struct{}

func (unconfiguredTracker) GetIssue(_ context.Context, id string) (workflow.Issue, error) {
	return workflow.Issue{}, fmt.Errorf("amelia-server: no issue tracker configured (requested %q)", id)
}
