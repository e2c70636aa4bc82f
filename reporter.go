package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"inkpost/internal/core"
	"inkpost/pkg/queue"
)

// Reporter is the CLI output surface: job events plus direct lines.
// The console variant prints for humans, the JSON variant emits one
// machine-readable event per line for scripting.
type Reporter interface {
	core.JobEventEmitter
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	QueueTable(items []queue.Item)
}

// ConsoleReporter outputs human-readable progress to the terminal.
type ConsoleReporter struct{}

func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{}
}

func (r *ConsoleReporter) Info(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}

func (r *ConsoleReporter) Warn(format string, args ...interface{}) {
	color.Yellow(format, args...)
}

func (r *ConsoleReporter) Error(format string, args ...interface{}) {
	color.Red(format, args...)
}

// EmitJobUpdate prints job progress as overwritable status lines and
// terminal states as colored summaries.
func (r *ConsoleReporter) EmitJobUpdate(event core.JobUpdateEvent) {
	switch event.State {
	case core.JobRunning:
		if event.Progress.Total > 0 {
			fmt.Printf("\r[%d/%d] %s", event.Progress.Processed, event.Progress.Total, event.Message)
		}
	case core.JobSucceeded:
		fmt.Println()
		color.Green("%s", event.Message)
	case core.JobFailed:
		fmt.Println()
		if event.Error != nil {
			color.Red("%s", event.Error.Message)
			if event.Error.Sent > 0 || event.Error.Failed > 0 {
				fmt.Printf("  sent: %d  failed: %d\n", event.Error.Sent, event.Error.Failed)
			}
		} else {
			color.Red("%s", event.Message)
		}
	case core.JobCanceled:
		fmt.Println()
		color.Yellow("%s", event.Message)
	}
}

// QueueTable prints the queue listing.
func (r *ConsoleReporter) QueueTable(items []queue.Item) {
	if len(items) == 0 {
		fmt.Println("Queue is empty.")
		return
	}
	bold := color.New(color.Bold)
	bold.Printf("%-36s  %-9s  %-19s  %s\n", "ID", "SIZE", "QUEUED", "TITLE")
	for _, item := range items {
		fmt.Printf("%-36s  %-9s  %-19s  %s\n",
			item.ID,
			humanize.Bytes(uint64(item.Size)),
			item.CreatedAt.Format("2006-01-02 15:04:05"),
			item.Title,
		)
	}
}

// JSONEvent is the structured event format for machine-readable output.
type JSONEvent struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// JSONReporter outputs machine-readable JSON lines for scripting.
type JSONReporter struct {
	encoder *json.Encoder
}

func NewJSONReporter() *JSONReporter {
	return &JSONReporter{
		encoder: json.NewEncoder(os.Stdout),
	}
}

func (r *JSONReporter) emit(eventType string, data interface{}) {
	event := JSONEvent{
		Type:      eventType,
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Data:      data,
	}
	r.encoder.Encode(event)
}

func (r *JSONReporter) Info(format string, args ...interface{}) {
	r.emit("log", map[string]string{"level": "info", "message": fmt.Sprintf(format, args...)})
}

func (r *JSONReporter) Warn(format string, args ...interface{}) {
	r.emit("log", map[string]string{"level": "warn", "message": fmt.Sprintf(format, args...)})
}

func (r *JSONReporter) Error(format string, args ...interface{}) {
	r.emit("error", map[string]string{"message": fmt.Sprintf(format, args...)})
}

func (r *JSONReporter) EmitJobUpdate(event core.JobUpdateEvent) {
	eventType := "job:update"
	switch event.State {
	case core.JobSucceeded:
		eventType = "job:completed"
	case core.JobFailed:
		eventType = "job:failed"
	case core.JobCanceled:
		eventType = "job:canceled"
	}
	r.emit(eventType, event)
}

func (r *JSONReporter) QueueTable(items []queue.Item) {
	r.emit("queue", items)
}
