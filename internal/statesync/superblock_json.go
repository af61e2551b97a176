package statesync

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
)

// storedSuperblock is the on-disk representation of a completed sync
// attempt's result: the newly installed target, its checksum-identified
// predecessor, the log prepare it corresponds to, and the three trailer
// payloads that were just assembled.
type storedSuperblock struct {
	CheckpointID         Checksum128 `json:"checkpoint_id"`
	CheckpointOp         Op          `json:"checkpoint_op"`
	PreviousCheckpointID Checksum128 `json:"previous_checkpoint_id"`
	CheckpointOpChecksum Checksum128 `json:"checkpoint_op_checksum"`
	Manifest             []byte      `json:"manifest"`
	FreeSet              []byte      `json:"free_set"`
	ClientSessions       []byte      `json:"client_sessions"`
}

// JSONSuperblockWriter is a concrete SuperblockWriter that persists each
// completed sync attempt as a single JSON file in a local directory,
// written atomically the same way JSONStorage persists Raft hard state:
// write to a temp file, fsync it, rename over the target, then fsync the
// parent directory.
//
// Write never blocks the caller: the actual I/O runs on its own
// goroutine, and completion is reported back through notify, matching
// the core's expectation that a collaborator's effect is observed later
// via a callback rather than by Write's return value.
type JSONSuperblockWriter struct {
	dir    string
	logger Logger
	notify func(ctx context.Context, target Target, err error)
}

// NewJSONSuperblockWriter returns a SuperblockWriter rooted at dir. notify
// is invoked on a background goroutine once a write finishes; a typical
// caller forwards it directly into Replica.OnSuperblockWritten.
func NewJSONSuperblockWriter(dir string, logger Logger, notify func(ctx context.Context, target Target, err error)) *JSONSuperblockWriter {
	return &JSONSuperblockWriter{dir: dir, logger: logger, notify: notify}
}

func (w *JSONSuperblockWriter) Write(ctx context.Context, rec SuperblockRecord) error {
	go w.writeAsync(ctx, rec)
	return nil
}

func (w *JSONSuperblockWriter) writeAsync(ctx context.Context, rec SuperblockRecord) {
	record := storedSuperblock{
		CheckpointID:         rec.Target.CheckpointID,
		CheckpointOp:         rec.Target.CheckpointOp,
		PreviousCheckpointID: rec.PreviousCheckpointID,
		CheckpointOpChecksum: rec.CheckpointOpChecksum,
		Manifest:             rec.Manifest,
		FreeSet:              rec.FreeSet,
		ClientSessions:       rec.ClientSessions,
	}

	err := writeJSONAtomically(w.path(), record)
	if err != nil {
		w.logger.Error("statesync: superblock write failed", "path", w.path(), "err", err)
	}
	w.notify(ctx, rec.Target, err)
}

func (w *JSONSuperblockWriter) path() string {
	return filepath.Join(w.dir, "superblock.json")
}

func writeJSONAtomically(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	dirFile, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = dirFile.Close() }()

	return dirFile.Sync()
}
