package controller

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// #region file-sink
// FileSink writes each snapshot as a JSON file under a directory, named by
// iteration so the history is inspectable and sorts naturally.
type FileSink struct {
	dir string
}

// NewFileSink creates the checkpoint directory if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Commit writes the snapshot atomically via a temp file rename.
func (s *FileSink) Commit(snapshot Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	final := filepath.Join(s.dir, fmt.Sprintf("checkpoint-%08d.json", snapshot.Iteration))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// #endregion file-sink
