package document

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inksight/inksync/internal/device"
)

const docA = "f47ac10b-58cc-4372-a567-0e02b2c3d479"
const docB = "9b2c8c2e-1f6a-4d0b-8f0e-3c1d2e3f4a5b"

func TestExtractID(t *testing.T) {
	tests := []struct {
		path   string
		wantID string
		wantOK bool
	}{
		{docA + ".metadata", docA, true},
		{docA + "/0d1c3f9a-58cc-4372-a567-0e02b2c3d479.rm", docA, true},
		{"F47AC10B-58CC-4372-A567-0E02B2C3D479.content", docA, true},
		{".tree", "", false},
		{"templates/basic.png", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		id, ok := ExtractID(tt.path)
		assert.Equal(t, tt.wantOK, ok, "path %q", tt.path)
		if tt.wantOK {
			assert.Equal(t, tt.wantID, id, "path %q", tt.path)
		}
	}
}

func TestRepresentativeFile(t *testing.T) {
	files := []string{
		docA + "/page1.rm",
		docA + ".content",
		docA + ".metadata",
	}
	assert.Equal(t, docA+".metadata", RepresentativeFile(docA, files))

	// no metadata file: stable first-in-sorted-order pick
	noMeta := []string{docA + "/page1.rm", docA + ".content"}
	assert.Equal(t, docA+".content", RepresentativeFile(docA, noMeta))

	assert.Equal(t, "", RepresentativeFile(docA, nil))
}

func TestGroupRemote(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	files := []device.RemoteFile{
		{Path: docA + ".metadata", Size: 100, ModifiedAt: t0},
		{Path: docA + ".content", Size: 2000, ModifiedAt: t1},
		{Path: docB + ".metadata", Size: 90, ModifiedAt: t0},
		{Path: ".tree", Size: 10, ModifiedAt: t1},
	}

	docs := GroupRemote(files)
	require.Len(t, docs, 2)

	a := docs[docA]
	require.NotNil(t, a)
	assert.Len(t, a.Files, 2)
	assert.Equal(t, t1, a.ModifiedAt, "remote clock is the max mtime")
	assert.Equal(t, []string{docA + ".content", docA + ".metadata"}, a.RelPaths())

	b := docs[docB]
	require.NotNil(t, b)
	assert.Equal(t, t0, b.ModifiedAt)
}

func TestPathFilter(t *testing.T) {
	filter, err := NewPathFilter([]string{"**/*.tmp", "**/.cache/**"})
	require.NoError(t, err)

	assert.True(t, filter.Excluded("a/b/x.tmp"))
	assert.True(t, filter.Excluded("foo/.cache/thumb.png"))
	assert.False(t, filter.Excluded(docA+".metadata"))

	files := []device.RemoteFile{
		{Path: docA + ".metadata"},
		{Path: "junk/x.tmp"},
	}
	kept := filter.Apply(files)
	require.Len(t, kept, 1)
	assert.Equal(t, docA+".metadata", kept[0].Path)

	_, err = NewPathFilter([]string{"[broken"})
	assert.Error(t, err)
}

func TestPathFilterNilIsPassthrough(t *testing.T) {
	var filter *PathFilter
	assert.False(t, filter.Excluded("anything"))
}

func TestNamesDisplayName(t *testing.T) {
	tmp := t.TempDir()
	metaPath := filepath.Join(tmp, MetadataPath(docA))
	require.NoError(t, os.WriteFile(metaPath, []byte(`{"visibleName":"Meeting notes","type":"DocumentType"}`), 0o644))

	names, err := NewNames(tmp, 16)
	require.NoError(t, err)

	assert.Equal(t, "Meeting notes", names.DisplayName(docA))
	// cached on second lookup
	assert.Equal(t, "Meeting notes", names.DisplayName(docA))
	// unknown doc falls back to the id
	assert.Equal(t, docB, names.DisplayName(docB))

	// rename with a bumped mtime invalidates the entry
	require.NoError(t, os.WriteFile(metaPath, []byte(`{"visibleName":"Renamed"}`), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(metaPath, future, future))
	assert.Equal(t, "Renamed", names.DisplayName(docA))
}

func TestParseMetadata(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, MetadataPath(docA))
	body := `{"visibleName":"Journal","type":"DocumentType","parent":"trash","version":7,"lastModified":"1719830000000","pinned":true}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	meta, err := ParseMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, "Journal", meta.VisibleName)
	assert.Equal(t, "trash", meta.Parent)
	assert.Equal(t, 7, meta.Version)
	assert.True(t, meta.Pinned)

	_, err = ParseMetadata(filepath.Join(tmp, "missing.metadata"))
	assert.Error(t, err)
}
