package statesync

import "context"

// SuperblockRecord is everything a completed sync attempt hands to the
// superblock writer: the newly installed target, its three assembled
// trailer buffers, and the two identity fields that tie it to the
// checkpoint chain and the log.
type SuperblockRecord struct {
	Target Target

	Manifest       []byte
	FreeSet        []byte
	ClientSessions []byte

	PreviousCheckpointID CheckpointID
	CheckpointOpChecksum Checksum128
}

// CommitPipeline is the commit/apply pipeline collaborator. The core only
// ever observes whether it is in an interruptible phase and requests that
// it be cancelled; it never drives the pipeline itself.
type CommitPipeline interface {
	// RequestCancel asks the pipeline to abort at its next interruptible
	// point. Completion is observed later via Replica.OnCommitInterruptible.
	RequestCancel(ctx context.Context) error
}

// GridIO is the block-storage substrate collaborator. The core only
// observes its cancel completion.
type GridIO interface {
	// RequestQuiesce asks the grid to stop issuing new I/O. Completion is
	// observed later via Replica.OnGridQuiesced.
	RequestQuiesce(ctx context.Context) error
}

// ChunkRequester is the transport-facing collaborator used to re-ask for
// trailer chunks while in request_trailers.
type ChunkRequester interface {
	// RequestChunk asks the current sync source for the next chunk of
	// trailer kind at offset, for the named target.
	RequestChunk(ctx context.Context, kind TrailerKind, target Target, offset uint64) error
}

// SuperblockWriter is the replica's root persistent record. The core only
// hands it a validated target and trailer contents; it never reads the
// superblock itself.
type SuperblockWriter interface {
	// Write persists rec. Completion is observed later via
	// Replica.OnSuperblockWritten.
	Write(ctx context.Context, rec SuperblockRecord) error
}
