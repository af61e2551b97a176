// Package statesync implements the state-sync coordination core of a
// replica: target-discovery quorum, chunked trailer assembly, and the
// Stage lifecycle machine that ties them together.
//
// The package deliberately does not own transport, grid storage, the
// superblock, or the checksum primitive; those are consumed through the
// interfaces in collaborators.go.
package statesync

import "fmt"

// Checksum128 is a 128-bit digest over a byte sequence. Its computation is
// delegated to a Hasher; Trailer only compares values for equality.
type Checksum128 struct {
	Hi uint64
	Lo uint64
}

func (c Checksum128) String() string {
	return fmt.Sprintf("%016x%016x", c.Hi, c.Lo)
}

// CheckpointID is a 128-bit digest identifying a checkpointed state.
type CheckpointID = Checksum128

// Op is a monotonic log position (the prepare number a checkpoint was
// taken at).
type Op uint64

// TargetCandidate is structurally identical to Target but nominally
// distinct: it has not yet been shown canonical by TargetQuorum. The only
// bridge between the two types is Promote.
type TargetCandidate struct {
	CheckpointID CheckpointID
	CheckpointOp Op
}

// Target is a canonical checkpoint the replica intends to install, as
// confirmed by a quorum of peer advertisements. Immutable once constructed.
type Target struct {
	CheckpointID CheckpointID
	CheckpointOp Op
}

// Equal reports whether two TargetCandidates name the same checkpoint.
func (c TargetCandidate) Equal(other TargetCandidate) bool {
	return c.CheckpointID == other.CheckpointID && c.CheckpointOp == other.CheckpointOp
}

// Equal reports whether two Targets name the same checkpoint.
func (t Target) Equal(other Target) bool {
	return t.CheckpointID == other.CheckpointID && t.CheckpointOp == other.CheckpointOp
}

// Promote converts a quorum-confirmed TargetCandidate into a canonical
// Target. It is the only way to obtain a Target from a candidate; callers
// must have already verified the candidate crossed the quorum threshold.
func Promote(c TargetCandidate) Target {
	return Target{CheckpointID: c.CheckpointID, CheckpointOp: c.CheckpointOp}
}

// asCandidate views a Target as the candidate it was promoted from, for
// comparison against freshly advertised candidates.
func (t Target) asCandidate() TargetCandidate {
	return TargetCandidate{CheckpointID: t.CheckpointID, CheckpointOp: t.CheckpointOp}
}
