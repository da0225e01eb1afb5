package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/incident-sync/internal/job"
)

// EnqueueRequest is the body of a manual dispatch
type EnqueueRequest struct {
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	JobID        string          `json:"jobId,omitempty"`
	DelaySeconds *int            `json:"delaySeconds,omitempty"`
}

// EnqueueResponse reports the job and whether it was newly created
type EnqueueResponse struct {
	Job     *job.Job `json:"job"`
	Created bool     `json:"created"`
}

// handleQueueStats handles GET /api/v1/queues
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.AllStats(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"queues": stats})
}

// handleGetJob handles GET /api/v1/queues/{queue}/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	queue := vars["queue"]

	if _, ok := s.queue.Policies().Get(queue); !ok {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Unknown queue", map[string]interface{}{"queue": queue})
		return
	}

	j, err := s.queue.GetJob(r.Context(), queue, vars["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

// handleEnqueue handles POST /api/v1/queues/{queue}/jobs. open-incidents is
// fed by discovery only and refuses manual jobs.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	queue := mux.Vars(r)["queue"]

	if _, ok := s.queue.Policies().Get(queue); !ok {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Unknown queue", map[string]interface{}{"queue": queue})
		return
	}
	if queue == job.QueueOpenIncidents {
		respondError(w, http.StatusForbidden, ErrCodeForbidden, "Incident refreshes are scheduled by discovery only", map[string]interface{}{"queue": queue})
		return
	}

	var req EnqueueRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{"reason": err.Error()})
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Job name is required", nil)
		return
	}

	opts := job.Options{JobID: strings.TrimSpace(req.JobID)}
	if req.DelaySeconds != nil {
		if *req.DelaySeconds < 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "delaySeconds must not be negative", nil)
			return
		}
		delay := time.Duration(*req.DelaySeconds) * time.Second
		opts.Delay = &delay
	}

	var payload interface{}
	if len(req.Payload) > 0 && string(req.Payload) != "null" {
		payload = req.Payload
	}

	j, created, err := s.queue.Enqueue(r.Context(), queue, req.Name, payload, opts)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		s.logger.WithFields(map[string]interface{}{
			"queue": queue,
			"jobId": j.ID,
			"name":  j.Name,
		}).Info("Job dispatched manually")
	}
	respondJSON(w, status, EnqueueResponse{Job: j, Created: created})
}
