package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/inksight/inksync/internal/device"
	"github.com/inksight/inksync/internal/document"
)

const (
	eventLogPath        = "/tmp/inksync-events.log"
	streamTailInterval  = time.Second
	producerStopTimeout = 5 * time.Second
)

// streamBackend runs inotifywait on the device as a detached producer that
// appends one formatted line per event to a log file, then tails that file
// by byte offset on a fixed cadence. The transport is command/response only,
// so this is pull, not push; the cadence just sets the event latency.
type streamBackend struct {
	transport device.Transport
	remoteDir string
	filter    *document.PathFilter
	observe   func(document.Change)
	interval  time.Duration
}

func newStreamBackend(transport device.Transport, remoteDir string, filter *document.PathFilter, observe func(document.Change)) *streamBackend {
	return &streamBackend{
		transport: transport,
		remoteDir: remoteDir,
		filter:    filter,
		observe:   observe,
		interval:  streamTailInterval,
	}
}

func (s *streamBackend) state() State { return Streaming }

func (s *streamBackend) run(ctx context.Context) error {
	pid, err := s.startProducer(ctx)
	if err != nil {
		return fmt.Errorf("start event producer: %w", err)
	}
	defer s.stopProducer(pid)
	slog.Info("event producer running", "pid", pid, "log", eventLogPath)

	// tail -c +N is 1-based
	offset := int64(1)
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		chunk, err := s.transport.ExecuteCommand(ctx, fmt.Sprintf("tail -c +%d %s", offset, eventLogPath))
		if err != nil {
			return fmt.Errorf("tail event log: %w", err)
		}
		offset += s.consume(chunk)
		timer.Reset(s.interval)
	}
}

// startProducer launches the detached inotifywait and returns its PID. The
// log file is truncated first so a stale file from a dead session cannot
// replay old events.
func (s *streamBackend) startProducer(ctx context.Context) (int, error) {
	cmd := fmt.Sprintf(
		"rm -f %[1]s; nohup inotifywait -m -r -q --format '%%e|%%w%%f' "+
			"-e close_write -e create -e delete -e moved_to -e moved_from %[2]s > %[1]s 2>/dev/null & echo $!",
		eventLogPath, s.remoteDir)

	out, err := s.transport.ExecuteCommand(ctx, cmd)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("producer pid %q: %w", strings.TrimSpace(out), err)
	}
	return pid, nil
}

// stopProducer kills the remote inotifywait and removes its log. It runs
// with its own deadline because the session context is usually already
// cancelled when we get here.
func (s *streamBackend) stopProducer(pid int) {
	ctx, cancel := context.WithTimeout(context.Background(), producerStopTimeout)
	defer cancel()

	cmd := fmt.Sprintf("kill %d 2>/dev/null; rm -f %s", pid, eventLogPath)
	if _, err := s.transport.ExecuteCommand(ctx, cmd); err != nil {
		slog.Debug("event producer cleanup failed", "pid", pid, "error", err)
	}
}

// consume parses the complete lines of a tail chunk and reports how many
// bytes were consumed. A trailing partial line stays unconsumed and is read
// again whole on the next tick.
func (s *streamBackend) consume(chunk string) int64 {
	end := strings.LastIndexByte(chunk, '\n')
	if end < 0 {
		return 0
	}

	now := time.Now().UTC()
	for _, line := range strings.Split(chunk[:end], "\n") {
		change, ok := parseEventLine(s.remoteDir, line, now)
		if !ok {
			continue
		}
		if s.excluded(change) {
			continue
		}
		s.observe(change)
	}
	return int64(end + 1)
}

func (s *streamBackend) excluded(ch document.Change) bool {
	for _, rel := range ch.Files.ToSlice() {
		if s.filter.Excluded(rel) {
			return true
		}
	}
	return false
}

// parseEventLine turns one "TAGS|/abs/path" line into a Change. Directory
// events, paths without a document UUID and unknown tags are all noise from
// the device and are dropped without comment.
func parseEventLine(remoteDir, line string, at time.Time) (document.Change, bool) {
	line = strings.TrimSpace(line)
	tags, path, ok := strings.Cut(line, "|")
	if !ok || path == "" {
		return document.Change{}, false
	}
	if strings.Contains(tags, "ISDIR") {
		return document.Change{}, false
	}

	docID, ok := document.ExtractID(path)
	if !ok {
		return document.Change{}, false
	}
	typ, ok := changeTypeForTags(tags)
	if !ok {
		return document.Change{}, false
	}

	ch := document.NewChange(docID, typ, at)
	ch.Files.Add(storeRelative(remoteDir, path))
	return ch, true
}

// changeTypeForTags maps inotify tag lists to change types. Removal tags
// take precedence so "DELETE,DELETE_SELF" style combinations never read as
// anything else.
func changeTypeForTags(tags string) (document.ChangeType, bool) {
	switch {
	case strings.Contains(tags, "DELETE"), strings.Contains(tags, "MOVED_FROM"):
		return document.Deleted, true
	case strings.Contains(tags, "CREATE"), strings.Contains(tags, "MOVED_TO"):
		return document.Created, true
	case strings.Contains(tags, "CLOSE_WRITE"):
		return document.Modified, true
	default:
		return "", false
	}
}

func storeRelative(remoteDir, path string) string {
	rel := strings.TrimPrefix(path, strings.TrimSuffix(remoteDir, "/")+"/")
	return rel
}
