package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	for _, s := range []string{"device-wins", "local-wins", "newest-wins"} {
		got, err := ParseStrategy(s)
		require.NoError(t, err)
		assert.Equal(t, Strategy(s), got)
	}

	_, err := ParseStrategy("remote-wins")
	assert.Error(t, err)

	_, err = NewResolver("")
	assert.Error(t, err)
}

func TestResolveEqualHashesNeverConflict(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)

	for _, strategy := range []Strategy{DeviceWins, LocalWins, NewestWins} {
		r, err := NewResolver(strategy)
		require.NoError(t, err)

		got := r.Resolve(
			VersionInfo{ModifiedAt: newer, Hash: "aaaa"},
			VersionInfo{ModifiedAt: older, Hash: "aaaa"},
		)
		assert.Equal(t, NoConflict, got, "strategy %s", strategy)
	}
}

func TestResolveDivergedReplicas(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		strategy Strategy
		device   VersionInfo
		local    VersionInfo
		want     Resolution
	}{
		{
			name:     "device-wins ignores timestamps",
			strategy: DeviceWins,
			device:   VersionInfo{ModifiedAt: base, Hash: "aaaa"},
			local:    VersionInfo{ModifiedAt: base.Add(time.Hour), Hash: "bbbb"},
			want:     UseDevice,
		},
		{
			name:     "local-wins ignores timestamps",
			strategy: LocalWins,
			device:   VersionInfo{ModifiedAt: base.Add(time.Hour), Hash: "aaaa"},
			local:    VersionInfo{ModifiedAt: base, Hash: "bbbb"},
			want:     UseLocal,
		},
		{
			name:     "newest-wins device newer",
			strategy: NewestWins,
			device:   VersionInfo{ModifiedAt: base.Add(time.Minute), Hash: "aaaa"},
			local:    VersionInfo{ModifiedAt: base, Hash: "bbbb"},
			want:     UseDevice,
		},
		{
			name:     "newest-wins local newer",
			strategy: NewestWins,
			device:   VersionInfo{ModifiedAt: base, Hash: "aaaa"},
			local:    VersionInfo{ModifiedAt: base.Add(time.Minute), Hash: "bbbb"},
			want:     UseLocal,
		},
		{
			name:     "newest-wins exact tie goes to device",
			strategy: NewestWins,
			device:   VersionInfo{ModifiedAt: base, Hash: "aaaa"},
			local:    VersionInfo{ModifiedAt: base, Hash: "bbbb"},
			want:     UseDevice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewResolver(tt.strategy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Resolve(tt.device, tt.local))
		})
	}
}

func TestResolutionString(t *testing.T) {
	assert.Equal(t, "no-conflict", NoConflict.String())
	assert.Equal(t, "use-device", UseDevice.String())
	assert.Equal(t, "use-local", UseLocal.String())
	assert.Equal(t, "resolution(9)", Resolution(9).String())
}
