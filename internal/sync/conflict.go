package sync

import (
	"fmt"
	"time"
)

// Strategy selects which replica wins when a document changed on the device
// while its local copy was edited.
type Strategy string

const (
	// DeviceWins always takes the device replica.
	DeviceWins Strategy = "device-wins"
	// LocalWins always keeps the local replica.
	LocalWins Strategy = "local-wins"
	// NewestWins takes whichever replica has the later modification time.
	// On an exact tie the device replica wins, so resolution stays
	// deterministic.
	NewestWins Strategy = "newest-wins"
)

// ParseStrategy validates a config string.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case DeviceWins, LocalWins, NewestWins:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown conflict strategy %q", s)
	}
}

// Resolution is the verdict for one diverged document.
type Resolution int

const (
	// NoConflict means both replicas have identical content.
	NoConflict Resolution = iota
	// UseDevice promotes the device replica over the local copy.
	UseDevice
	// UseLocal keeps the local copy untouched.
	UseLocal
)

func (r Resolution) String() string {
	switch r {
	case NoConflict:
		return "no-conflict"
	case UseDevice:
		return "use-device"
	case UseLocal:
		return "use-local"
	default:
		return fmt.Sprintf("resolution(%d)", int(r))
	}
}

// VersionInfo describes one replica of a document at resolution time.
type VersionInfo struct {
	ModifiedAt time.Time
	Hash       string
}

// Resolver decides between the device and local replicas of a document. It
// performs no I/O; callers supply both sides.
type Resolver struct {
	strategy Strategy
}

func NewResolver(strategy Strategy) (*Resolver, error) {
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	return &Resolver{strategy: strategy}, nil
}

func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// Resolve compares the two replicas. Identical hashes are never a conflict,
// whatever the timestamps say.
func (r *Resolver) Resolve(device, local VersionInfo) Resolution {
	if device.Hash == local.Hash {
		return NoConflict
	}

	switch r.strategy {
	case DeviceWins:
		return UseDevice
	case LocalWins:
		return UseLocal
	case NewestWins:
		if local.ModifiedAt.After(device.ModifiedAt) {
			return UseLocal
		}
		return UseDevice
	default:
		// NewResolver rejects unknown strategies; keep the safe default.
		return UseDevice
	}
}
