package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/amelia-dev/amelia/events"
	"github.com/amelia-dev/amelia/orchestrator"
	"github.com/amelia-dev/amelia/repo"
	"github.com/amelia-dev/amelia/workflow"
)

const defaultRecentEventsLimit = 50

type handlers struct {
	svc *orchestrator.Service
	val *validator.Validate
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &validationError{msg: "malformed JSON body: " + err.Error()}
	}
	return nil
}

func (h *handlers) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validate(h.val, req); err != nil {
		writeError(w, err)
		return
	}

	cmdReq := orchestrator.CreateRequest{
		IssueID:      req.IssueID,
		WorktreePath: req.WorktreePath,
		WorktreeName: req.WorktreeName,
		ProfileName:  req.ProfileName,
		PlanNow:      req.PlanNow,
		SkipApproval: req.SkipApproval,
	}

	var (
		id  string
		err error
	)
	switch {
	case req.SkipApproval:
		id, err = h.svc.Create(r.Context(), cmdReq)
	case req.PlanNow:
		id, err = h.svc.QueueAndPlan(r.Context(), cmdReq)
	default:
		id, err = h.svc.Queue(r.Context(), cmdReq)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createWorkflowResponse{WorkflowID: id})
}

func (h *handlers) listWorkflows(w http.ResponseWriter, r *http.Request) {
	filter := repo.ListFilter{Cursor: r.URL.Query().Get("cursor"), Limit: 50}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := workflow.Status(raw)
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("worktree_path"); raw != "" {
		filter.WorktreePath = &raw
	}

	page, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(page))
}

func (h *handlers) listActiveWorkflows(w http.ResponseWriter, r *http.Request) {
	active, err := h.svc.ListActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]workflowResponse, 0, len(active))
	for _, wf := range active {
		resp = append(resp, toWorkflowResponse(wf))
	}
	writeJSON(w, http.StatusOK, listWorkflowsResponse{Workflows: resp})
}

func (h *handlers) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wf, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	recent, err := h.svc.RecentEvents(r.Context(), id, defaultRecentEventsLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	tokens, err := h.svc.TokenUsage(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	detail := workflowDetailResponse{
		workflowResponse: toWorkflowResponse(wf),
		LastReview:       wf.PipelineState.LastReview,
		TokenUsage:       tokens,
		Iteration:        wf.PipelineState.Iteration,
		MaxIteration:     wf.PipelineState.MaxIteration,
		Events:           toEventResponses(recent),
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *handlers) getWorkflowEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var after int64
	if raw := r.URL.Query().Get("after_sequence"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, &validationError{msg: "after_sequence must be an integer"})
			return
		}
		after = n
	}
	evs, err := h.svc.EventsSince(r.Context(), id, after)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Events []eventResponse `json:"events"`
	}{Events: toEventResponses(evs)})
}

func (h *handlers) approveWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Approve(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) rejectWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req rejectWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validate(h.val, req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.Reject(r.Context(), id, req.Feedback); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) cancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) replanWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Replan(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) setPlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req setPlanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validate(h.val, req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.SetPlan(r.Context(), id, req.PlanMarkdown); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toListResponse(page repo.ListPage) listWorkflowsResponse {
	resp := listWorkflowsResponse{NextCursor: page.NextCursor, HasMore: page.HasMore, Total: page.Total}
	resp.Workflows = make([]workflowResponse, 0, len(page.Workflows))
	for _, wf := range page.Workflows {
		resp.Workflows = append(resp.Workflows, toWorkflowResponse(wf))
	}
	return resp
}

func toEventResponses(evs []events.Event) []eventResponse {
	out := make([]eventResponse, 0, len(evs))
	for _, e := range evs {
		out = append(out, eventResponse{
			EventID:   e.EventID.String(),
			Sequence:  e.Sequence,
			Timestamp: e.Timestamp,
			EventType: string(e.EventType),
			Agent:     e.Agent,
			Message:   e.Message,
		})
	}
	return out
}
