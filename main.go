package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"inkpost/app"
	"inkpost/internal/core"
)

// jobPollInterval paces the CLI wait loop on background jobs.
const jobPollInterval = 200 * time.Millisecond

var (
	jsonOutput bool
	folder     string
	port       int
	assumeYes  bool
)

func init() {
	flag.BoolVar(&jsonOutput, "json", false, "Output machine-readable JSON (one event per line)")
	flag.StringVar(&folder, "folder", "", "Destination folder on the device (default from config)")
	flag.IntVar(&port, "port", 0, "API port for 'serve' (default from config)")
	flag.BoolVar(&assumeYes, "yes", false, "Skip confirmation prompts")
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [flags] <command> [args]

Commands:
  serve              Run the daemon with the local HTTP API
  discover           Find the device and report what answered
  status             Show connection, device and queue status
  queue              List queued items
  add <file>...      Queue local files for sending
  send <id>          Send one queued item now
  sendall            Send every queued item
  remove <id>        Remove one queued item
  clear              Empty the queue
  estimate           Predict how long 'sendall' would take
  delete <path>      Recursively delete a device folder

Flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "[inkpost] ", log.LstdFlags)
	if !jsonOutput && os.Getenv("INKPOST_DEBUG") == "" {
		// Keep protocol chatter off the terminal unless asked for.
		logger.SetOutput(io.Discard)
	}

	var reporter Reporter
	if jsonOutput {
		reporter = NewJSONReporter()
	} else {
		reporter = NewConsoleReporter()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		reporter.Warn("Shutdown signal received, finishing current operation...")
		cancel()
	}()

	a, err := app.New(ctx, logger)
	if err != nil {
		reporter.Error("Startup failed: %v", err)
		os.Exit(1)
	}
	defer a.Close()
	a.Jobs.AddEmitter(reporter)

	command := flag.Arg(0)
	args := flag.Args()[1:]

	exitCode := 0
	if err := run(ctx, a, reporter, command, args); err != nil {
		if !errors.Is(err, context.Canceled) {
			reporter.Error("%v", err)
		}
		exitCode = 1
	}
	os.Exit(exitCode)
}

func run(ctx context.Context, a *app.App, reporter Reporter, command string, args []string) error {
	switch command {
	case "serve":
		return runServe(ctx, a, reporter)
	case "discover":
		return runDiscover(ctx, a, reporter)
	case "status":
		return runStatus(ctx, a, reporter)
	case "queue":
		items, err := a.Queue.Items()
		if err != nil {
			return err
		}
		reporter.QueueTable(items)
		return nil
	case "add":
		return runAdd(a, reporter, args)
	case "send":
		return runSend(ctx, a, reporter, args)
	case "sendall":
		return runSendAll(ctx, a, reporter)
	case "remove":
		if len(args) != 1 {
			return fmt.Errorf("usage: remove <id>")
		}
		return a.Queue.Remove(args[0])
	case "clear":
		return a.Queue.Clear()
	case "estimate":
		return runEstimate(a, reporter)
	case "delete":
		return runDelete(ctx, a, reporter, args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func runServe(ctx context.Context, a *app.App, reporter Reporter) error {
	apiPort := port
	if apiPort == 0 {
		apiPort = a.Config.GetConfig().APIPort
	}

	server := a.APIServer(apiPort)
	server.StartBackground(ctx)
	reporter.Info("inkpost daemon listening on 127.0.0.1:%d", apiPort)

	// First connection attempt is opportunistic; the API can retry later.
	if _, err := a.Device.Discover(ctx); err != nil {
		reporter.Warn("No device yet: %v", err)
	}

	<-ctx.Done()
	return nil
}

func runDiscover(ctx context.Context, a *app.App, reporter Reporter) error {
	info, err := a.Device.Discover(ctx)
	if err != nil {
		return err
	}
	reporter.Info("Connected to %s (%s) at %s", info.Label, info.Dialect, info.BaseURL)
	return nil
}

func runStatus(ctx context.Context, a *app.App, reporter Reporter) error {
	info := a.Device.Status()
	if !info.Connected {
		if _, err := a.Device.Discover(ctx); err != nil {
			reporter.Warn("Device: not connected (%v)", err)
		}
		info = a.Device.Status()
	}

	if info.Connected {
		reporter.Info("Device: %s (%s) at %s", info.Label, info.Dialect, info.BaseURL)
		if status, err := a.Device.FetchDeviceStatus(ctx); err == nil && status != nil {
			reporter.Info("  firmware %s, mode %s, rssi %d dBm, up %s",
				status.Firmware, status.Mode, status.SignalStrength, status.Uptime.Round(time.Second))
		}
	} else {
		reporter.Warn("Device: not connected")
	}

	count, err := a.Queue.Count()
	if err != nil {
		return err
	}
	reporter.Info("Queue: %d items", count)
	return nil
}

func runAdd(a *app.App, reporter Reporter, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: add <file>...")
	}
	for _, path := range args {
		item, err := a.Queue.EnqueueFile(path, folder)
		if err != nil {
			return err
		}
		reporter.Info("Queued %s (id %s)", item.Filename, item.ID)
	}
	return nil
}

func runSend(ctx context.Context, a *app.App, reporter Reporter, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: send <id>")
	}
	if err := connect(ctx, a, reporter); err != nil {
		return err
	}
	if err := a.Queue.SendOne(args[0]); err != nil {
		return err
	}

	// The drain loop runs in the background; wait for it so the CLI can
	// report the outcome.
	for a.Queue.Sending() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jobPollInterval):
		}
	}

	item, err := a.Queue.Get(args[0])
	if err != nil {
		return err
	}
	if item != nil {
		return fmt.Errorf("item %s is still queued; see 'status' for the recorded error", args[0])
	}
	reporter.Info("Sent.")
	return nil
}

func runSendAll(ctx context.Context, a *app.App, reporter Reporter) error {
	if err := connect(ctx, a, reporter); err != nil {
		return err
	}

	estimate, err := a.Queue.EstimateAll()
	if err != nil {
		return err
	}
	if estimate.Large {
		reporter.Warn("Sending %d items, estimated %s", estimate.Items, estimate.Display)
		if !confirm(fmt.Sprintf("Send all %d items?", estimate.Items)) {
			return fmt.Errorf("aborted")
		}
	}

	jobID, err := a.Queue.SendAll()
	if err != nil {
		return err
	}
	return waitForJob(ctx, a, jobID)
}

func runEstimate(a *app.App, reporter Reporter) error {
	estimate, err := a.Queue.EstimateAll()
	if err != nil {
		return err
	}
	reporter.Info("%d items, estimated %s", estimate.Items, estimate.Display)
	return nil
}

func runDelete(ctx context.Context, a *app.App, reporter Reporter, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: delete <device-path>")
	}
	folderPath := args[0]

	if err := connect(ctx, a, reporter); err != nil {
		return err
	}

	count, err := a.Delete.CountItems(ctx, folderPath)
	if err != nil {
		return fmt.Errorf("failed to count %s: %w", folderPath, err)
	}
	reporter.Info("%s holds %d items (files, subfolders and the folder itself)", folderPath, count)
	if !confirm(fmt.Sprintf("Delete all %d items?", count)) {
		return fmt.Errorf("aborted")
	}

	jobID, err := a.Delete.DeleteTree(folderPath)
	if err != nil {
		return err
	}
	return waitForJob(ctx, a, jobID)
}

// connect ensures a device session, discovering when necessary.
func connect(ctx context.Context, a *app.App, reporter Reporter) error {
	if a.Device.Status().Connected {
		return nil
	}
	info, err := a.Device.Discover(ctx)
	if err != nil {
		return err
	}
	reporter.Info("Connected to %s at %s", info.Label, info.BaseURL)
	return nil
}

// waitForJob polls the job until it reaches a terminal state. Progress
// arrives through the reporter's emitter registration.
func waitForJob(ctx context.Context, a *app.App, jobID string) error {
	for {
		select {
		case <-ctx.Done():
			a.Jobs.CancelJob(jobID)
			return ctx.Err()
		case <-time.After(jobPollInterval):
		}

		job, err := a.Jobs.GetJob(jobID)
		if err != nil {
			return err
		}
		switch job.State {
		case core.JobSucceeded:
			return nil
		case core.JobFailed:
			if job.Error != nil {
				return fmt.Errorf("%s", job.Error.Message)
			}
			return fmt.Errorf("job failed")
		case core.JobCanceled:
			return fmt.Errorf("job canceled")
		}
	}
}

// confirm asks on the terminal; -yes and -json skip the prompt.
func confirm(prompt string) bool {
	if assumeYes || jsonOutput {
		return true
	}
	fmt.Printf("%s [y/N] ", prompt)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}
