package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "inkpost-api",
	})
}

// handleJobs returns all jobs.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}

	jobs := s.jobManager.ListJobs()
	activeJob := s.jobManager.GetActiveJob()

	activeJobID := ""
	if activeJob != nil {
		activeJobID = activeJob.JobID
	}

	s.writeJSON(w, http.StatusOK, JobListResponse{
		Jobs:      jobs,
		ActiveJob: activeJobID,
	})
}

// handleActiveJob returns the currently active job.
func (s *Server) handleActiveJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}

	job := s.jobManager.GetActiveJob()
	if job == nil {
		s.writeJSON(w, http.StatusOK, nil)
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

// handleJob handles GET /api/jobs/{id}, DELETE /api/jobs/{id} and
// POST /api/jobs/{id}/cancel.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_path", "Job ID required")
		return
	}

	jobID := parts[0]
	isCancel := len(parts) > 1 && parts[1] == "cancel"

	switch r.Method {
	case http.MethodGet:
		job, err := s.jobManager.GetJob(jobID)
		if err != nil {
			s.writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, job)

	case http.MethodDelete:
		if err := s.jobManager.CancelJob(jobID); err != nil {
			s.writeError(w, http.StatusBadRequest, "cancel_failed", err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Job %s cancellation requested", jobID),
		})

	case http.MethodPost:
		if !isCancel {
			s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use POST /api/jobs/{id}/cancel to cancel")
			return
		}
		if err := s.jobManager.CancelJob(jobID); err != nil {
			s.writeError(w, http.StatusBadRequest, "cancel_failed", err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Job %s cancellation requested", jobID),
		})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET, DELETE, or POST to /cancel allowed")
	}
}

// handleDevice returns the connection snapshot.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}
	if s.deviceProvider == nil {
		s.writeError(w, http.StatusNotImplemented, "not_implemented", "Device provider not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.deviceProvider())
}

// handleDeviceStatus asks the device firmware for its status report.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}
	if s.deviceStatusFunc == nil {
		s.writeError(w, http.StatusNotImplemented, "not_implemented", "Device status not configured")
		return
	}

	status, err := s.deviceStatusFunc(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "status_failed", err.Error())
		return
	}
	// Dialects without a status endpoint return null.
	s.writeJSON(w, http.StatusOK, status)
}

// handleDiscover runs a discovery sweep.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
		return
	}
	if s.discoverFunc == nil {
		s.writeError(w, http.StatusNotImplemented, "not_implemented", "Discovery not configured")
		return
	}

	info, err := s.discoverFunc(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "discover_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// handleDisconnect detaches the device session.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
		return
	}
	if s.disconnectFunc == nil {
		s.writeError(w, http.StatusNotImplemented, "not_implemented", "Disconnect not configured")
		return
	}

	if err := s.disconnectFunc(); err != nil {
		s.writeError(w, http.StatusConflict, "disconnect_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Disconnected"})
}

// handleDeviceFiles lists a device folder: GET /api/device/files?path=/Articles
func (s *Server) handleDeviceFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}
	if s.listFilesFunc == nil {
		s.writeError(w, http.StatusNotImplemented, "not_implemented", "File listing not configured")
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}
	entries, err := s.listFilesFunc(r.Context(), path)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "list_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// handleQueue handles GET /api/queue (list) and DELETE /api/queue (clear).
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.queueListFunc == nil {
			s.writeError(w, http.StatusNotImplemented, "not_implemented", "Queue not configured")
			return
		}
		items, err := s.queueListFunc()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "queue_failed", err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, items)

	case http.MethodDelete:
		if s.clearQueueFunc == nil {
			s.writeError(w, http.StatusNotImplemented, "not_implemented", "Queue not configured")
			return
		}
		if err := s.clearQueueFunc(); err != nil {
			s.writeError(w, http.StatusInternalServerError, "clear_failed", err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"message": "Queue cleared"})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET or DELETE allowed")
	}
}

// handleQueueEstimate returns the advisory batch duration estimate.
func (s *Server) handleQueueEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}
	if s.queueEstimateFunc == nil {
		s.writeError(w, http.StatusNotImplemented, "not_implemented", "Estimator not configured")
		return
	}

	estimate, err := s.queueEstimateFunc()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "estimate_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, estimate)
}

// handleSendAll starts the batch send job.
func (s *Server) handleSendAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
		return
	}
	if s.sendAllFunc == nil {
		s.writeError(w, http.StatusNotImplemented, "not_implemented", "Send not configured")
		return
	}

	jobID, err := s.sendAllFunc()
	if err != nil {
		s.writeError(w, http.StatusConflict, "sendall_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, JobStartedResponse{
		JobID:   jobID,
		Message: "Batch send started",
	})
}

// handleQueueItem handles DELETE /api/queue/{id} and POST /api/queue/{id}/send.
func (s *Server) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_path", "Item ID required")
		return
	}

	itemID := parts[0]
	isSend := len(parts) > 1 && parts[1] == "send"

	switch {
	case r.Method == http.MethodDelete && !isSend:
		if s.removeItemFunc == nil {
			s.writeError(w, http.StatusNotImplemented, "not_implemented", "Queue not configured")
			return
		}
		if err := s.removeItemFunc(itemID); err != nil {
			s.writeError(w, http.StatusInternalServerError, "remove_failed", err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"message": "Item removed"})

	case r.Method == http.MethodPost && isSend:
		if s.sendOneFunc == nil {
			s.writeError(w, http.StatusNotImplemented, "not_implemented", "Send not configured")
			return
		}
		if err := s.sendOneFunc(itemID); err != nil {
			s.writeError(w, http.StatusConflict, "send_failed", err.Error())
			return
		}
		s.writeJSON(w, http.StatusAccepted, map[string]string{"message": "Send scheduled"})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use DELETE /api/queue/{id} or POST /api/queue/{id}/send")
	}
}

// handleDelete starts a recursive delete job: POST /api/delete {"path": "/Articles"}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
		return
	}
	if s.deleteTreeFunc == nil {
		s.writeError(w, http.StatusNotImplemented, "not_implemented", "Delete not configured")
		return
	}

	var req DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "Body must be {\"path\": \"/folder\"}")
		return
	}

	jobID, err := s.deleteTreeFunc(req.Path)
	if err != nil {
		s.writeError(w, http.StatusConflict, "delete_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, JobStartedResponse{
		JobID:   jobID,
		Message: fmt.Sprintf("Delete of %s started", req.Path),
	})
}

// handleDeleteCount runs the non-mutating count pass: GET /api/delete/count?path=...
func (s *Server) handleDeleteCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}
	if s.deleteCountFunc == nil {
		s.writeError(w, http.StatusNotImplemented, "not_implemented", "Delete not configured")
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "path query parameter required")
		return
	}

	count, err := s.deleteCountFunc(r.Context(), path)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "count_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// handleConfig returns the current configuration.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}
	if s.configProvider == nil {
		s.writeError(w, http.StatusNotImplemented, "not_implemented", "Config provider not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.configProvider())
}

// handleLogs returns recent events: GET /api/logs?limit=50&category=queue
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}
	if s.logsProvider == nil {
		s.writeError(w, http.StatusNotImplemented, "not_implemented", "Logs provider not configured")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	category := r.URL.Query().Get("category")

	s.writeJSON(w, http.StatusOK, s.logsProvider(limit, category))
}
