package v1

import (
	"net/http"

	"github.com/quantor/quantor/pkg/coordinator"
	"github.com/quantor/quantor/pkg/server/api"
)

// ActiveJobsResponse is the body of GET /api/v1/admin/jobs.
type ActiveJobsResponse struct {
	// Jobs lists every non-terminal job, each probed for OS-level process
	// liveness. A Running job with alive=false is a zombie slot holder.
	Jobs []coordinator.JobSummary `json:"jobs"`

	// Holder identifies the current admission slot occupant, if any.
	Holder *coordinator.HoldInfo `json:"holder,omitempty"`
}

// ListActiveJobsHandler handles GET /api/v1/admin/jobs
//
// Returns the cross-kind dashboard view: all non-terminal jobs with
// liveness probes, plus the current slot holder.
func ListActiveJobsHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := ActiveJobsResponse{Jobs: deps.Jobs.ListActive()}
		if resp.Jobs == nil {
			resp.Jobs = []coordinator.JobSummary{}
		}
		if info, held := deps.Jobs.CurrentInfo(); held {
			resp.Holder = &info
		}

		api.WriteJSON(w, http.StatusOK, resp)
	}
}

// ForceKillJobHandler handles POST /api/v1/admin/jobs/{id}/kill
//
// Terminates a job regardless of who owns it, failing the record and
// releasing the admission slot. This is the administrative override for
// stuck or zombie jobs.
//
// Returns 404 when the job is unknown or already terminal.
func ForceKillJobHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			api.WriteJSONError(w, http.StatusBadRequest, "Bad Request", "JOB_ID_REQUIRED", "job id is required")
			return
		}

		if !deps.Jobs.ForceKill(id) {
			api.WriteJSONError(w, http.StatusNotFound, "Not Found", "JOB_NOT_FOUND",
				"no active job with that id")
			return
		}

		api.WriteJSON(w, http.StatusOK, map[string]any{"killed": true})
	}
}
