package syncsrv

import (
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/i-melnichenko/consensus-lab/internal/consensus/raft"
	"github.com/i-melnichenko/consensus-lab/internal/statesync"
)

// --- Raft RPC wire messages ---

type voteRequestDTO struct {
	Term         int64
	CandidateID  string
	LastLogIndex int64
	LastLogTerm  int64
}

type voteResponseDTO struct {
	Term        int64
	VoteGranted bool
}

type logEntryDTO struct {
	Term    int64
	Command []byte
}

type appendEntriesRequestDTO struct {
	Term         int64
	LeaderID     string
	PrevLogIndex int64
	PrevLogTerm  int64
	Entries      []logEntryDTO
	LeaderCommit int64
}

type appendEntriesResponseDTO struct {
	Term          int64
	Success       bool
	ConflictTerm  int64
	ConflictIndex int64
}

type clusterConfigDTO struct {
	Members []string
}

type installSnapshotRequestDTO struct {
	Term              int64
	LeaderID          string
	LastIncludedIndex int64
	LastIncludedTerm  int64
	Config            clusterConfigDTO
	Data              []byte
}

type installSnapshotResponseDTO struct {
	Term int64
}

func voteRequestToDTO(r *raft.RequestVoteRequest) *voteRequestDTO {
	return &voteRequestDTO{
		Term:         r.Term,
		CandidateID:  r.CandidateID,
		LastLogIndex: r.LastLogIndex,
		LastLogTerm:  r.LastLogTerm,
	}
}

func voteRequestFromDTO(d *voteRequestDTO) *raft.RequestVoteRequest {
	return &raft.RequestVoteRequest{
		Term:         d.Term,
		CandidateID:  d.CandidateID,
		LastLogIndex: d.LastLogIndex,
		LastLogTerm:  d.LastLogTerm,
	}
}

func voteResponseToDTO(r *raft.RequestVoteResponse) *voteResponseDTO {
	return &voteResponseDTO{Term: r.Term, VoteGranted: r.VoteGranted}
}

func voteResponseFromDTO(d *voteResponseDTO) *raft.RequestVoteResponse {
	return &raft.RequestVoteResponse{Term: d.Term, VoteGranted: d.VoteGranted}
}

func appendEntriesRequestToDTO(r *raft.AppendEntriesRequest) *appendEntriesRequestDTO {
	entries := make([]logEntryDTO, len(r.Entries))
	for i, e := range r.Entries {
		entries[i] = logEntryDTO{Term: e.Term, Command: e.Command}
	}
	return &appendEntriesRequestDTO{
		Term:         r.Term,
		LeaderID:     r.LeaderID,
		PrevLogIndex: r.PrevLogIndex,
		PrevLogTerm:  r.PrevLogTerm,
		Entries:      entries,
		LeaderCommit: r.LeaderCommit,
	}
}

func appendEntriesRequestFromDTO(d *appendEntriesRequestDTO) *raft.AppendEntriesRequest {
	entries := make([]raft.LogEntry, len(d.Entries))
	for i, e := range d.Entries {
		entries[i] = raft.LogEntry{Term: e.Term, Command: e.Command}
	}
	return &raft.AppendEntriesRequest{
		Term:         d.Term,
		LeaderID:     d.LeaderID,
		PrevLogIndex: d.PrevLogIndex,
		PrevLogTerm:  d.PrevLogTerm,
		Entries:      entries,
		LeaderCommit: d.LeaderCommit,
	}
}

func appendEntriesResponseToDTO(r *raft.AppendEntriesResponse) *appendEntriesResponseDTO {
	return &appendEntriesResponseDTO{
		Term:          r.Term,
		Success:       r.Success,
		ConflictTerm:  r.ConflictTerm,
		ConflictIndex: r.ConflictIndex,
	}
}

func appendEntriesResponseFromDTO(d *appendEntriesResponseDTO) *raft.AppendEntriesResponse {
	return &raft.AppendEntriesResponse{
		Term:          d.Term,
		Success:       d.Success,
		ConflictTerm:  d.ConflictTerm,
		ConflictIndex: d.ConflictIndex,
	}
}

func installSnapshotRequestToDTO(r *raft.InstallSnapshotRequest) *installSnapshotRequestDTO {
	return &installSnapshotRequestDTO{
		Term:              r.Term,
		LeaderID:          r.LeaderID,
		LastIncludedIndex: r.LastIncludedIndex,
		LastIncludedTerm:  r.LastIncludedTerm,
		Config:            clusterConfigDTO{Members: append([]string(nil), r.Config.Members...)},
		Data:              append([]byte(nil), r.Data...),
	}
}

func installSnapshotRequestFromDTO(d *installSnapshotRequestDTO) *raft.InstallSnapshotRequest {
	return &raft.InstallSnapshotRequest{
		Term:              d.Term,
		LeaderID:          d.LeaderID,
		LastIncludedIndex: d.LastIncludedIndex,
		LastIncludedTerm:  d.LastIncludedTerm,
		Config:            raft.ClusterConfig{Members: append([]string(nil), d.Config.Members...)},
		Data:              append([]byte(nil), d.Data...),
	}
}

func installSnapshotResponseToDTO(r *raft.InstallSnapshotResponse) *installSnapshotResponseDTO {
	return &installSnapshotResponseDTO{Term: r.Term}
}

func installSnapshotResponseFromDTO(d *installSnapshotResponseDTO) *raft.InstallSnapshotResponse {
	return &raft.InstallSnapshotResponse{Term: d.Term}
}

// --- state-sync peer protocol wire messages ---

type checksum128DTO struct {
	Hi uint64
	Lo uint64
}

func checksumToDTO(c statesync.Checksum128) checksum128DTO {
	return checksum128DTO{Hi: c.Hi, Lo: c.Lo}
}

func checksumFromDTO(d checksum128DTO) statesync.Checksum128 {
	return statesync.Checksum128{Hi: d.Hi, Lo: d.Lo}
}

type targetDTO struct {
	CheckpointID checksum128DTO
	CheckpointOp uint64
}

func targetCandidateToDTO(c statesync.TargetCandidate) targetDTO {
	return targetDTO{CheckpointID: checksumToDTO(c.CheckpointID), CheckpointOp: uint64(c.CheckpointOp)}
}

func targetCandidateFromDTO(d targetDTO) statesync.TargetCandidate {
	return statesync.TargetCandidate{CheckpointID: checksumFromDTO(d.CheckpointID), CheckpointOp: statesync.Op(d.CheckpointOp)}
}

func targetToDTO(t statesync.Target) targetDTO {
	return targetDTO{CheckpointID: checksumToDTO(t.CheckpointID), CheckpointOp: uint64(t.CheckpointOp)}
}

func targetFromDTO(d targetDTO) statesync.Target {
	return statesync.Target{CheckpointID: checksumFromDTO(d.CheckpointID), CheckpointOp: statesync.Op(d.CheckpointOp)}
}

type advertiseTargetRequestDTO struct {
	ReplicaIndex int
	Candidate    targetDTO
}

type advertiseTargetResponseDTO struct{}

type requestChunkRequestDTO struct {
	Kind   int
	Target targetDTO
	Offset uint64
	MaxLen uint64
}

type requestChunkResponseDTO struct {
	Found                   bool
	Size                    uint64
	Checksum                checksum128DTO
	Offset                  uint64
	Bytes                   []byte
	Final                   bool
	HasPreviousCheckpointID bool
	PreviousCheckpointID    checksum128DTO
	HasCheckpointOpChecksum bool
	CheckpointOpChecksum    checksum128DTO
}

type getStatusRequestDTO struct{}

type trailerProgressDTO struct {
	Kind       int
	NextOffset uint64
	Size       uint64
	SizeKnown  bool
	Done       bool
}

// raftStateDTO carries the subset of raft.AdminState relevant to diagnosing
// why a replica is mid-sync: a leader change or a commit freeze upstream of
// CommitPipeline is a common trigger for BeginSync.
type raftStateDTO struct {
	LeaderID    string
	Role        int
	Term        int64
	CommitIndex int64
	LastApplied int64
}

func raftStateToDTO(s raft.AdminState) raftStateDTO {
	return raftStateDTO{
		LeaderID:    s.LeaderID,
		Role:        int(s.Role),
		Term:        s.Term,
		CommitIndex: s.CommitIndex,
		LastApplied: s.LastApplied,
	}
}

func raftStateFromDTO(d raftStateDTO) RaftState {
	return RaftState{
		LeaderID:    d.LeaderID,
		Role:        raft.Role(d.Role),
		Term:        d.Term,
		CommitIndex: d.CommitIndex,
		LastApplied: d.LastApplied,
	}
}

type getStatusResponseDTO struct {
	Stage                int
	Target               targetDTO
	HasTarget            bool
	Trailers             []trailerProgressDTO
	HasLastTransitionAt  bool
	LastTransitionAtUnix int64
	HasLastAdvertisedAt  bool
	LastAdvertisedAtUnix int64
	Raft                 raftStateDTO
}

func statusSnapshotToDTO(s statesync.StatusSnapshot) *getStatusResponseDTO {
	trailers := make([]trailerProgressDTO, len(s.Trailers))
	for i, t := range s.Trailers {
		trailers[i] = trailerProgressDTO{
			Kind:       int(t.Kind),
			NextOffset: t.NextOffset,
			Size:       t.Size,
			SizeKnown:  t.SizeKnown,
			Done:       t.Done,
		}
	}
	out := &getStatusResponseDTO{
		Stage:     int(s.Stage),
		Target:    targetToDTO(s.Target),
		HasTarget: s.HasTarget,
		Trailers:  trailers,
	}
	if s.LastTransitionAt != nil {
		out.HasLastTransitionAt = true
		out.LastTransitionAtUnix = s.LastTransitionAt.AsTime().UnixNano()
	}
	if s.LastAdvertisedAt != nil {
		out.HasLastAdvertisedAt = true
		out.LastAdvertisedAtUnix = s.LastAdvertisedAt.AsTime().UnixNano()
	}
	return out
}

func statusSnapshotFromDTO(d *getStatusResponseDTO) statesync.StatusSnapshot {
	trailers := make([]statesync.TrailerProgress, len(d.Trailers))
	for i, t := range d.Trailers {
		trailers[i] = statesync.TrailerProgress{
			Kind:       statesync.TrailerKind(t.Kind),
			NextOffset: t.NextOffset,
			Size:       t.Size,
			SizeKnown:  t.SizeKnown,
			Done:       t.Done,
		}
	}
	out := statesync.StatusSnapshot{
		Stage:     statesync.StageTag(d.Stage),
		Target:    targetFromDTO(d.Target),
		HasTarget: d.HasTarget,
		Trailers:  trailers,
	}
	if d.HasLastTransitionAt {
		out.LastTransitionAt = timestamppb.New(time.Unix(0, d.LastTransitionAtUnix))
	}
	if d.HasLastAdvertisedAt {
		out.LastAdvertisedAt = timestamppb.New(time.Unix(0, d.LastAdvertisedAtUnix))
	}
	return out
}
