package services

import (
	"log"
	"sync"
	"time"
)

// Event categories. Every event names the subsystem it came from so the
// CLI and API can filter without parsing messages.
const (
	CategoryDevice = "device"
	CategoryQueue  = "queue"
	CategoryDelete = "delete"
)

// LogEntry is one user-facing event.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // "info", "warn", "error"
	Category  string    `json:"category"`
	Message   string    `json:"message"`
}

// logRingCapacity bounds the in-memory event history.
const logRingCapacity = 500

// LogService is the user-facing event sink. Services push leveled,
// categorized events into it; the API and CLI read the recent history.
// Raw protocol chatter stays on the *log.Logger, never here.
type LogService struct {
	logger *log.Logger

	mu     sync.Mutex
	events []LogEntry
}

// NewLogService creates a LogService.
func NewLogService(logger *log.Logger) *LogService {
	return &LogService{
		logger: logger,
		events: make([]LogEntry, 0, logRingCapacity),
	}
}

// Info records an informational event.
func (s *LogService) Info(category, message string) {
	s.append("info", category, message)
}

// Warn records a warning event.
func (s *LogService) Warn(category, message string) {
	s.append("warn", category, message)
}

// Error records an error event.
func (s *LogService) Error(category, message string) {
	s.append("error", category, message)
}

func (s *LogService) append(level, category, message string) {
	s.logger.Printf("[Events] %s/%s: %s", level, category, message)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Category:  category,
		Message:   message,
	})
	if len(s.events) > logRingCapacity {
		s.events = s.events[len(s.events)-logRingCapacity:]
	}
}

// Recent returns up to limit most recent events, oldest first. An empty
// category returns all categories.
func (s *LogService) Recent(limit int, category string) []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]LogEntry, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if category != "" && s.events[i].Category != category {
			continue
		}
		out = append(out, s.events[i])
	}
	// Reverse back into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
