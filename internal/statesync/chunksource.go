package statesync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ChunkSource answers a peer's pull for one chunk of one trailer of a
// target this replica already holds. It is the server side of the wire
// protocol whose client side is ChunkRequester.
type ChunkSource interface {
	ReadChunk(kind TrailerKind, target Target, offset uint64, maxLen uint64) (TrailerChunk, error)
}

// TrailerChunk is one slice of a trailer as served by a ChunkSource. Final
// is set on the chunk that reaches the end of the trailer; PreviousCheckpointID
// and CheckpointOpChecksum are populated on that same final chunk for the
// free_set and client_sessions trailers respectively, matching the optional
// fields Replica.OnFreeSetChunk / OnClientSessionsChunk expect.
type TrailerChunk struct {
	Size                 uint64
	Checksum             Checksum128
	Offset               uint64
	Bytes                []byte
	Final                bool
	PreviousCheckpointID *CheckpointID
	CheckpointOpChecksum *Checksum128
}

// LocalChunkSource serves chunks out of the single most recently written
// superblock record on disk, the same file JSONSuperblockWriter produces.
type LocalChunkSource struct {
	dir    string
	hasher Hasher
}

// NewLocalChunkSource returns a ChunkSource rooted at the same directory a
// JSONSuperblockWriter writes into.
func NewLocalChunkSource(dir string, hasher Hasher) *LocalChunkSource {
	return &LocalChunkSource{dir: dir, hasher: hasher}
}

var errNoSuchTarget = fmt.Errorf("statesync: no local trailer data for requested target")

func (s *LocalChunkSource) ReadChunk(kind TrailerKind, target Target, offset uint64, maxLen uint64) (TrailerChunk, error) {
	rec, err := s.load()
	if err != nil {
		return TrailerChunk{}, err
	}
	if rec.CheckpointID != target.CheckpointID || rec.CheckpointOp != target.CheckpointOp {
		return TrailerChunk{}, errNoSuchTarget
	}

	var payload []byte
	switch kind {
	case TrailerManifest:
		payload = rec.Manifest
	case TrailerFreeSet:
		payload = rec.FreeSet
	case TrailerClientSessions:
		payload = rec.ClientSessions
	default:
		return TrailerChunk{}, fmt.Errorf("statesync: unknown trailer kind %s", kind)
	}

	total := uint64(len(payload))
	if offset > total {
		return TrailerChunk{}, fmt.Errorf("statesync: chunk offset %d past end of trailer (size %d)", offset, total)
	}

	end := offset + maxLen
	if end > total {
		end = total
	}
	chunk := TrailerChunk{
		Size:     total,
		Checksum: s.hasher.Sum128(payload),
		Offset:   offset,
		Bytes:    append([]byte(nil), payload[offset:end]...),
		Final:    end == total,
	}
	if chunk.Final {
		switch kind {
		case TrailerFreeSet:
			id := rec.PreviousCheckpointID
			chunk.PreviousCheckpointID = &id
		case TrailerClientSessions:
			sum := rec.CheckpointOpChecksum
			chunk.CheckpointOpChecksum = &sum
		}
	}
	return chunk, nil
}

func (s *LocalChunkSource) load() (storedSuperblock, error) {
	return loadLocalSuperblock(s.dir)
}

func loadLocalSuperblock(dir string) (storedSuperblock, error) {
	data, err := os.ReadFile(filepath.Join(dir, "superblock.json"))
	if err != nil {
		return storedSuperblock{}, err
	}
	var rec storedSuperblock
	if err := json.Unmarshal(data, &rec); err != nil {
		return storedSuperblock{}, err
	}
	return rec, nil
}

// LatestLocalTarget reports the Target named by the most recently written
// superblock record in dir, for use as this replica's own advertised
// candidate. ok is false if no superblock has been written yet.
func LatestLocalTarget(dir string) (candidate TargetCandidate, ok bool) {
	rec, err := loadLocalSuperblock(dir)
	if err != nil {
		return TargetCandidate{}, false
	}
	return TargetCandidate{CheckpointID: rec.CheckpointID, CheckpointOp: rec.CheckpointOp}, true
}
