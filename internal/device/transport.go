package device

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConnected is returned when a transport method is called before
	// Connect, or after the session went away.
	ErrNotConnected = errors.New("device: not connected")
)

// RemoteFile describes one file in the device document store. Path is
// relative to the listed directory, slash-separated.
type RemoteFile struct {
	Path       string
	Size       int64
	ModifiedAt time.Time
}

// CommandError is returned by ExecuteCommand when the remote command exits
// non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("device: command %q exited %d: %s", e.Command, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("device: command %q exited %d", e.Command, e.ExitCode)
}

// Transport is the command/response session to the appliance. Implementations
// must be safe for concurrent use; every method may be called from the monitor
// and the sync engine at the same time.
type Transport interface {
	// Connect establishes (or re-establishes) the session. Safe to call on a
	// live transport; the old session is torn down first.
	Connect(ctx context.Context) error

	// ExecuteCommand runs a short-lived command on the device and returns its
	// stdout. A non-zero exit yields a *CommandError.
	ExecuteCommand(ctx context.Context, command string) (string, error)

	// ListFiles enumerates all files under dir recursively.
	ListFiles(ctx context.Context, dir string) ([]RemoteFile, error)

	// DownloadDocument fetches the named files of one document from srcDir
	// into dstDir, preserving their relative layout.
	DownloadDocument(ctx context.Context, docID string, files []string, srcDir, dstDir string) error

	// Close tears down the session. The transport can be reused after a
	// subsequent Connect.
	Close() error
}
