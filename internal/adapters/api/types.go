// Package api provides the local HTTP adapter: REST endpoints plus SSE
// event streaming so other programs on the machine can drive the daemon.
package api

import "inkpost/internal/core"

// APIResponse wraps all API responses with a consistent structure.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JobListResponse contains a list of jobs.
type JobListResponse struct {
	Jobs      []*core.JobSnapshot `json:"jobs"`
	ActiveJob string              `json:"activeJob,omitempty"`
}

// DeleteRequest is the request body for starting a recursive delete.
type DeleteRequest struct {
	Path string `json:"path"`
}

// JobStartedResponse acknowledges an accepted background job.
type JobStartedResponse struct {
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}
