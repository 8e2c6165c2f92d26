package v1

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/quantor/quantor/pkg/server/api"
	"github.com/quantor/quantor/pkg/task"
)

// DTO Evolution Policy
// The request/response payloads handled in this file are part of the public API
// contract. To evolve them safely without breaking existing clients:
//
// 1) Additive-only changes
//    - You MAY add new optional fields
//    - You MAY NOT remove or rename existing fields
//    - Breaking changes require a new API version (v2)
//
// 2) Zero-value semantics
//    - New fields MUST have safe zero-value behavior
//    - Prefer `omitempty` for optional JSON fields to preserve old behavior

// StartJobRequest is the optional body of POST /api/v1/jobs/{kind}/start.
type StartJobRequest struct {
	// JobID pins the job id; one is generated when empty.
	JobID string `json:"job_id,omitempty"`

	// Params are extra worker flags merged over the kind's configured ones.
	Params map[string]string `json:"params,omitempty"`
}

// StartJobHandler handles POST /api/v1/jobs/{kind}/start
//
// Admits a new job of the given kind if the global slot is free. The caller
// identity comes from the trusted identity header.
//
// Responses:
//   - 202 with {"job_id": "..."} on admission
//   - 409 LOCK_CONFLICT naming the current holder when the slot is held
//   - 404 KIND_NOT_FOUND for an unregistered kind
func StartJobHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := r.PathValue("kind")
		if kind == "" {
			api.WriteJSONError(w, http.StatusBadRequest, "Bad Request", "KIND_REQUIRED", "job kind is required")
			return
		}

		var req StartJobRequest
		if err := decodeBody(r, deps.Config.MaxBodyBytes, &req); err != nil {
			api.WriteJSONError(w, http.StatusBadRequest, "Bad Request", "INVALID_BODY", err.Error())
			return
		}

		owner := deps.Config.User(r)
		// The run outlives this request; it is bound to the server's base
		// context, not the request's.
		accepted, err := deps.Jobs.TryStart(deps.Base(), kind, owner, req.JobID, req.Params)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}

		api.WriteJSON(w, http.StatusAccepted, accepted)
	}
}

// CancelJobHandler handles POST /api/v1/jobs/{id}/cancel
//
// Cancels the currently held job. Only the job's owner may cancel it; the
// admin override lives under /api/v1/admin.
//
// Responses:
//   - 200 with {"cancelled": true} when the cancel was accepted
//   - 409 CANCEL_REJECTED when the job is not held by the caller
func CancelJobHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			api.WriteJSONError(w, http.StatusBadRequest, "Bad Request", "JOB_ID_REQUIRED", "job id is required")
			return
		}

		requester := deps.Config.User(r)
		if !deps.Jobs.Cancel(id, requester) {
			api.WriteJSONError(w, http.StatusConflict, "Conflict", "CANCEL_REJECTED",
				"job is not running, or you are not its owner")
			return
		}

		api.WriteJSON(w, http.StatusOK, map[string]any{"cancelled": true})
	}
}

// GetJobHandler handles GET /api/v1/jobs/{id}
//
// Returns the point-in-time snapshot of a job: state, progress, counters,
// buffered log lines and, for completed jobs, the final result.
//
// Returns 404 JOB_NOT_FOUND for an unknown job id.
func GetJobHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			api.WriteJSONError(w, http.StatusBadRequest, "Bad Request", "JOB_ID_REQUIRED", "job id is required")
			return
		}

		snap, ok := deps.Status.Snapshot(id)
		if !ok {
			api.WriteError(w, r, task.ErrNotFound)
			return
		}

		api.WriteJSON(w, http.StatusOK, snap)
	}
}

// decodeBody reads a bounded JSON body into dst. An empty body is valid and
// leaves dst zero-valued.
func decodeBody(r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = api.DefaultConfig().MaxBodyBytes
	}
	body := http.MaxBytesReader(nil, r.Body, maxBytes)
	err := json.NewDecoder(body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
