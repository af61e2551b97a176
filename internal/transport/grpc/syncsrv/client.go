package syncsrv

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/i-melnichenko/consensus-lab/internal/consensus/raft"
	"github.com/i-melnichenko/consensus-lab/internal/statesync"
)

// PeerClient implements both raft.PeerClient and the client side of the
// state-sync peer protocol over one gRPC connection.
type PeerClient struct {
	conn *grpc.ClientConn
}

// Dial connects to a remote replica. The connection is established lazily
// on the first RPC.
func Dial(target string, opts ...grpc.DialOption) (*PeerClient, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &PeerClient{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *PeerClient) Close() error {
	return c.conn.Close()
}

func (c *PeerClient) invoke(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, method, in, out, grpc.CallContentSubtype(codecName))
}

// --- raft.PeerClient ---

func (c *PeerClient) RequestVote(ctx context.Context, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	out := new(voteResponseDTO)
	if err := c.invoke(ctx, methodRequestVote, voteRequestToDTO(req), out); err != nil {
		return nil, err
	}
	return voteResponseFromDTO(out), nil
}

func (c *PeerClient) AppendEntries(ctx context.Context, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	out := new(appendEntriesResponseDTO)
	if err := c.invoke(ctx, methodAppendEntries, appendEntriesRequestToDTO(req), out); err != nil {
		return nil, err
	}
	return appendEntriesResponseFromDTO(out), nil
}

func (c *PeerClient) InstallSnapshot(ctx context.Context, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	out := new(installSnapshotResponseDTO)
	if err := c.invoke(ctx, methodInstallSnapshot, installSnapshotRequestToDTO(req), out); err != nil {
		return nil, err
	}
	return installSnapshotResponseFromDTO(out), nil
}

// --- state-sync peer protocol ---

// AdvertiseTarget pushes this replica's own candidate to a peer, to be
// folded into the peer's TargetQuorum keyed at replicaIndex (this
// replica's index as the peer sees it).
func (c *PeerClient) AdvertiseTarget(ctx context.Context, replicaIndex int, candidate statesync.TargetCandidate) error {
	out := new(advertiseTargetResponseDTO)
	in := &advertiseTargetRequestDTO{ReplicaIndex: replicaIndex, Candidate: targetCandidateToDTO(candidate)}
	return c.invoke(ctx, methodAdvertiseTarget, in, out)
}

// ChunkPullResult is one trailer chunk pulled from a peer, shaped to feed
// directly into Replica.OnManifestChunk / OnFreeSetChunk / OnClientSessionsChunk.
type ChunkPullResult struct {
	Found                bool
	Size                 uint64
	Checksum             statesync.Checksum128
	Offset               uint64
	Bytes                []byte
	Final                bool
	PreviousCheckpointID *statesync.CheckpointID
	CheckpointOpChecksum *statesync.Checksum128
}

// RequestChunk pulls one chunk of a trailer from a peer, starting at
// offset and bounded by maxLen.
func (c *PeerClient) RequestChunk(ctx context.Context, kind statesync.TrailerKind, target statesync.Target, offset, maxLen uint64) (ChunkPullResult, error) {
	out := new(requestChunkResponseDTO)
	in := &requestChunkRequestDTO{Kind: int(kind), Target: targetToDTO(target), Offset: offset, MaxLen: maxLen}
	if err := c.invoke(ctx, methodRequestChunk, in, out); err != nil {
		return ChunkPullResult{}, fmt.Errorf("syncsrv: request chunk: %w", err)
	}
	if !out.Found {
		return ChunkPullResult{Found: false}, nil
	}

	result := ChunkPullResult{
		Found:    true,
		Size:     out.Size,
		Checksum: checksumFromDTO(out.Checksum),
		Offset:   out.Offset,
		Bytes:    out.Bytes,
		Final:    out.Final,
	}
	if out.HasPreviousCheckpointID {
		id := checksumFromDTO(out.PreviousCheckpointID)
		result.PreviousCheckpointID = &id
	}
	if out.HasCheckpointOpChecksum {
		sum := checksumFromDTO(out.CheckpointOpChecksum)
		result.CheckpointOpChecksum = &sum
	}
	return result, nil
}

// RaftState is the subset of raft.AdminState surfaced alongside a replica's
// sync status, for diagnosing whether a leader change or commit freeze
// triggered the sync attempt.
type RaftState struct {
	LeaderID    string
	Role        raft.Role
	Term        int64
	CommitIndex int64
	LastApplied int64
}

// ReplicaStatus combines a replica's sync-stage snapshot with the Raft
// state observed on the same node at the same instant.
type ReplicaStatus struct {
	statesync.StatusSnapshot
	Raft RaftState
}

// GetStatus polls a peer's current sync stage, trailer progress, and
// underlying Raft state.
func (c *PeerClient) GetStatus(ctx context.Context) (ReplicaStatus, error) {
	out := new(getStatusResponseDTO)
	if err := c.invoke(ctx, methodGetStatus, &getStatusRequestDTO{}, out); err != nil {
		return ReplicaStatus{}, fmt.Errorf("syncsrv: get status: %w", err)
	}
	return ReplicaStatus{
		StatusSnapshot: statusSnapshotFromDTO(out),
		Raft:           raftStateFromDTO(out.Raft),
	}, nil
}

// DialPeers dials all peers and returns a map of PeerClient keyed by peer ID.
// On any dial failure the already-opened connections are closed.
func DialPeers(addresses map[string]string, opts ...grpc.DialOption) (map[string]*PeerClient, error) {
	peers := make(map[string]*PeerClient, len(addresses))
	for id, addr := range addresses {
		pc, err := Dial(addr, opts...)
		if err != nil {
			for _, p := range peers {
				_ = p.Close()
			}
			return nil, fmt.Errorf("dial peer %s at %s: %w", id, addr, err)
		}
		peers[id] = pc
	}
	return peers, nil
}
