package nodes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/ipnet-mesh/meshweb/common"
)

// snapshotDocument the on-disk snapshot file format
type snapshotDocument struct {
	LastUpdated string       `json:"lastUpdated"`
	Nodes       []NodeRecord `json:"nodes"`
}

// SnapshotStore last-resort persistence of the node inventory.
//
// The snapshot is replaced after every successful upstream fetch and read
// back only when both the memory cache and the upstream have failed. No age
// limit is enforced on read.
type SnapshotStore interface {
	// Save replace the snapshot with the given records
	Save(records []NodeRecord) error
	// Load read the snapshot back. An absent snapshot yields an empty slice.
	Load() ([]NodeRecord, error)
}

// fileSnapshotStoreImpl implements SnapshotStore on a single JSON file
type fileSnapshotStoreImpl struct {
	common.Component
	path string
}

// GetFileSnapshotStore define a new file backed snapshot store
func GetFileSnapshotStore(path string) (SnapshotStore, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot file path is required")
	}
	logTags := log.Fields{
		"module":    "nodes",
		"component": "snapshot-store",
		"instance":  path,
	}
	return &fileSnapshotStoreImpl{
		Component: common.Component{LogTags: logTags},
		path:      path,
	}, nil
}

// Save replace the snapshot with the given records.
//
// Writes to a temp file in the target directory and renames it over the
// snapshot, so a crashed writer can't leave a truncated file behind.
func (s *fileSnapshotStoreImpl) Save(records []NodeRecord) error {
	document := snapshotDocument{
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
		Nodes:       records,
	}
	serialized, err := json.MarshalIndent(&document, "", "  ")
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Unable to serialize snapshot")
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Unable to create snapshot directory")
		return err
	}
	tmpFile, err := os.CreateTemp(filepath.Dir(s.path), ".nodes-*.json")
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Unable to create snapshot temp file")
		return err
	}
	tmpName := tmpFile.Name()
	if _, err := tmpFile.Write(serialized); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpName)
		log.WithError(err).WithFields(s.LogTags).Error("Unable to write snapshot")
		return err
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		log.WithError(err).WithFields(s.LogTags).Error("Unable to finalize snapshot")
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		log.WithError(err).WithFields(s.LogTags).Error("Unable to install snapshot")
		return err
	}
	log.WithFields(s.LogTags).Infof("Snapshot saved with %d nodes", len(records))
	return nil
}

// Load read the snapshot back
func (s *fileSnapshotStoreImpl) Load() ([]NodeRecord, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithFields(s.LogTags).Debug("No snapshot present")
			return []NodeRecord{}, nil
		}
		log.WithError(err).WithFields(s.LogTags).Warn("Unable to read snapshot")
		return nil, err
	}
	var document snapshotDocument
	if err := json.Unmarshal(content, &document); err != nil {
		log.WithError(err).WithFields(s.LogTags).Warn("Malformed snapshot")
		return nil, err
	}
	log.WithFields(s.LogTags).Infof("Loaded %d nodes from snapshot", len(document.Nodes))
	return document.Nodes, nil
}
