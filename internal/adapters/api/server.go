package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"inkpost/internal/core"
)

// Server is the local HTTP API server. Operations are injected as options
// so the adapter never imports the service layer.
type Server struct {
	port       int
	logger     *log.Logger
	jobManager *core.JobManager
	server     *http.Server
	mux        *http.ServeMux

	// SSE clients
	sseClients   map[chan core.JobUpdateEvent]struct{}
	sseClientsMu sync.Mutex

	// Injected operations (set via options)
	deviceProvider func() interface{}
	configProvider func() interface{}
	logsProvider   func(limit int, category string) interface{}

	discoverFunc     func(ctx context.Context) (interface{}, error)
	disconnectFunc   func() error
	deviceStatusFunc func(ctx context.Context) (interface{}, error)
	listFilesFunc    func(ctx context.Context, path string) (interface{}, error)

	queueListFunc     func() (interface{}, error)
	queueEstimateFunc func() (interface{}, error)
	sendAllFunc       func() (string, error)
	sendOneFunc       func(id string) error
	removeItemFunc    func(id string) error
	clearQueueFunc    func() error

	deleteCountFunc func(ctx context.Context, path string) (int, error)
	deleteTreeFunc  func(path string) (string, error)
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithDeviceProvider sets the function returning the connection snapshot.
func WithDeviceProvider(fn func() interface{}) ServerOption {
	return func(s *Server) { s.deviceProvider = fn }
}

// WithConfigProvider sets the function returning the configuration.
func WithConfigProvider(fn func() interface{}) ServerOption {
	return func(s *Server) { s.configProvider = fn }
}

// WithLogsProvider sets the function returning recent events.
func WithLogsProvider(fn func(limit int, category string) interface{}) ServerOption {
	return func(s *Server) { s.logsProvider = fn }
}

// WithDeviceOps sets the device lifecycle operations.
func WithDeviceOps(
	discover func(ctx context.Context) (interface{}, error),
	disconnect func() error,
	status func(ctx context.Context) (interface{}, error),
	listFiles func(ctx context.Context, path string) (interface{}, error),
) ServerOption {
	return func(s *Server) {
		s.discoverFunc = discover
		s.disconnectFunc = disconnect
		s.deviceStatusFunc = status
		s.listFilesFunc = listFiles
	}
}

// WithQueueOps sets the send-queue operations.
func WithQueueOps(
	list func() (interface{}, error),
	estimate func() (interface{}, error),
	sendAll func() (string, error),
	sendOne func(id string) error,
	remove func(id string) error,
	clear func() error,
) ServerOption {
	return func(s *Server) {
		s.queueListFunc = list
		s.queueEstimateFunc = estimate
		s.sendAllFunc = sendAll
		s.sendOneFunc = sendOne
		s.removeItemFunc = remove
		s.clearQueueFunc = clear
	}
}

// WithDeleteOps sets the recursive-delete operations.
func WithDeleteOps(
	count func(ctx context.Context, path string) (int, error),
	deleteTree func(path string) (string, error),
) ServerOption {
	return func(s *Server) {
		s.deleteCountFunc = count
		s.deleteTreeFunc = deleteTree
	}
}

// NewServer creates a new API server.
func NewServer(port int, logger *log.Logger, jobManager *core.JobManager, opts ...ServerOption) *Server {
	s := &Server{
		port:       port,
		logger:     logger,
		jobManager: jobManager,
		sseClients: make(map[chan core.JobUpdateEvent]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() {
	s.mux = http.NewServeMux()

	// Health check
	s.mux.HandleFunc("/api/health", s.handleHealth)

	// Jobs API
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/active", s.handleActiveJob)
	s.mux.HandleFunc("/api/jobs/", s.handleJob) // /api/jobs/{id} and /api/jobs/{id}/cancel

	// SSE events
	s.mux.HandleFunc("/api/events", s.handleSSE)

	// Device
	s.mux.HandleFunc("/api/device", s.handleDevice)
	s.mux.HandleFunc("/api/device/status", s.handleDeviceStatus)
	s.mux.HandleFunc("/api/device/discover", s.handleDiscover)
	s.mux.HandleFunc("/api/device/disconnect", s.handleDisconnect)
	s.mux.HandleFunc("/api/device/files", s.handleDeviceFiles)

	// Queue
	s.mux.HandleFunc("/api/queue", s.handleQueue)
	s.mux.HandleFunc("/api/queue/estimate", s.handleQueueEstimate)
	s.mux.HandleFunc("/api/queue/sendall", s.handleSendAll)
	s.mux.HandleFunc("/api/queue/", s.handleQueueItem) // /api/queue/{id} and /api/queue/{id}/send

	// Recursive delete
	s.mux.HandleFunc("/api/delete", s.handleDelete)
	s.mux.HandleFunc("/api/delete/count", s.handleDeleteCount)

	// Config and logs
	s.mux.HandleFunc("/api/config", s.handleConfig)
	s.mux.HandleFunc("/api/logs", s.handleLogs)
}

// Start starts the HTTP server on localhost only; the API carries no
// authentication, so it must never bind a routable interface.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler: s.loggingMiddleware(s.mux),
	}

	s.logger.Printf("[API] Starting HTTP server on port %d", s.port)
	return s.server.ListenAndServe()
}

// StartBackground starts the server in a goroutine and shuts it down when
// ctx is cancelled.
func (s *Server) StartBackground(ctx context.Context) {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("[API] Server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.logger.Printf("[API] Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Printf("[API] Shutdown error: %v", err)
		}
	}()
}

// loggingMiddleware logs all requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Printf("[API] %s %s (took %v)", r.Method, r.URL.Path, time.Since(start))
	})
}

// EmitJobUpdate implements core.JobEventEmitter to broadcast events to SSE clients.
func (s *Server) EmitJobUpdate(event core.JobUpdateEvent) {
	s.sseClientsMu.Lock()
	defer s.sseClientsMu.Unlock()

	for clientChan := range s.sseClients {
		select {
		case clientChan <- event:
		default:
			// Client is slow, skip this event
			s.logger.Printf("[API] SSE client slow, skipping event")
		}
	}
}

// addSSEClient registers a new SSE client.
func (s *Server) addSSEClient(ch chan core.JobUpdateEvent) {
	s.sseClientsMu.Lock()
	defer s.sseClientsMu.Unlock()
	s.sseClients[ch] = struct{}{}
	s.logger.Printf("[API] SSE client connected (total: %d)", len(s.sseClients))
}

// removeSSEClient unregisters an SSE client.
func (s *Server) removeSSEClient(ch chan core.JobUpdateEvent) {
	s.sseClientsMu.Lock()
	defer s.sseClientsMu.Unlock()
	delete(s.sseClients, ch)
	close(ch)
	s.logger.Printf("[API] SSE client disconnected (total: %d)", len(s.sseClients))
}

// Helper functions for responses

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: true,
		Data:    data,
	})
}

func (s *Server) writeError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}
