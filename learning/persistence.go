package learning

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const snapshotVersion = 1

// document is the on-disk layout of the learning snapshot. The whole file
// is rewritten on every flush; there is no append log.
type document struct {
	Queries        map[string]*QueryRecord `json:"queries"`
	Corrections    []CorrectionRecord      `json:"corrections"`
	IntentExamples map[string][]string     `json:"intentExamples"`
	Version        int                     `json:"version"`
	Created        time.Time               `json:"created"`
}

// snapshotFile performs whole-file JSON persistence with rename-after-write
// so a crash mid-flush never leaves a truncated document behind.
type snapshotFile struct {
	path string
}

// load reads the snapshot. A missing file returns (nil, nil).
func (f *snapshotFile) load() (*document, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read learning snapshot")
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode learning snapshot")
	}
	return &doc, nil
}

// save writes the snapshot atomically: temp file in the same directory,
// then rename into place.
func (f *snapshotFile) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode learning snapshot")
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create snapshot directory")
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write snapshot temp file")
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return errors.Wrap(err, "rename snapshot into place")
	}
	return nil
}
