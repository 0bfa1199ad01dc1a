package document

import (
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var idPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// ExtractID returns the document UUID embedded in a store-relative path.
// Paths without a valid UUID (xochitl keeps a few bookkeeping files around)
// report ok=false.
func ExtractID(path string) (string, bool) {
	match := idPattern.FindString(path)
	if match == "" {
		return "", false
	}
	id, err := uuid.Parse(match)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// MetadataPath is the store-relative path of a document's metadata file.
func MetadataPath(docID string) string {
	return docID + ".metadata"
}

// RepresentativeFile picks the file whose content hash stands for the whole
// document: the metadata file when present, else the first path in sorted
// order so the choice is stable across syncs.
func RepresentativeFile(docID string, files []string) string {
	if len(files) == 0 {
		return ""
	}
	meta := MetadataPath(docID)
	for _, f := range files {
		if f == meta || strings.HasSuffix(f, "/"+meta) {
			return f
		}
	}
	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Strings(sorted)
	return sorted[0]
}
