package syncsrv

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/i-melnichenko/consensus-lab/internal/consensus/raft"
	"github.com/i-melnichenko/consensus-lab/internal/statesync"
)

// RaftHandler is the subset of *raft.Node the server delegates Raft RPCs
// to. *raft.Node satisfies it.
type RaftHandler interface {
	HandleRequestVote(ctx context.Context, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error)
	HandleAppendEntries(ctx context.Context, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error)
	HandleInstallSnapshot(ctx context.Context, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error)
	AdminState() raft.AdminState
}

// SyncDispatcher is the subset of *statesync.Replica the server delegates
// inbound target advertisements to. *statesync.Replica satisfies it.
type SyncDispatcher interface {
	OnTargetAdvertised(ctx context.Context, replicaIndex int, candidate statesync.TargetCandidate) error
	Status() statesync.StatusSnapshot
}

// Server implements the syncsrv.Peer service by delegating Raft RPCs to a
// raft.Node, target advertisements to a statesync.Replica, and trailer
// chunk pulls to a local ChunkSource.
type Server struct {
	raft   RaftHandler
	sync   SyncDispatcher
	chunks statesync.ChunkSource
	tracer oteltrace.Tracer
}

// NewServer builds a Server. tracer may be nil, in which case spans are
// dropped.
func NewServer(raftHandler RaftHandler, dispatcher SyncDispatcher, chunks statesync.ChunkSource, tracer oteltrace.Tracer) *Server {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("syncsrv")
	}
	return &Server{raft: raftHandler, sync: dispatcher, chunks: chunks, tracer: tracer}
}

func (s *Server) requestVote(ctx context.Context, in *voteRequestDTO) (*voteResponseDTO, error) {
	ctx, span := s.tracer.Start(ctx, "syncsrv.server.RequestVote",
		oteltrace.WithAttributes(attribute.Int64("raft.term", in.Term), attribute.String("raft.candidate_id", in.CandidateID)))
	defer span.End()

	resp, err := s.raft.HandleRequestVote(ctx, voteRequestFromDTO(in))
	if err != nil {
		recordSpanError(span, err)
		return nil, toGRPCStatus(err)
	}
	return voteResponseToDTO(resp), nil
}

func (s *Server) appendEntries(ctx context.Context, in *appendEntriesRequestDTO) (*appendEntriesResponseDTO, error) {
	ctx, span := s.tracer.Start(ctx, "syncsrv.server.AppendEntries",
		oteltrace.WithAttributes(attribute.Int64("raft.term", in.Term), attribute.Int("raft.entries_count", len(in.Entries))))
	defer span.End()

	resp, err := s.raft.HandleAppendEntries(ctx, appendEntriesRequestFromDTO(in))
	if err != nil {
		recordSpanError(span, err)
		return nil, toGRPCStatus(err)
	}
	return appendEntriesResponseToDTO(resp), nil
}

func (s *Server) installSnapshot(ctx context.Context, in *installSnapshotRequestDTO) (*installSnapshotResponseDTO, error) {
	ctx, span := s.tracer.Start(ctx, "syncsrv.server.InstallSnapshot",
		oteltrace.WithAttributes(attribute.Int64("raft.snapshot.index", in.LastIncludedIndex)))
	defer span.End()

	resp, err := s.raft.HandleInstallSnapshot(ctx, installSnapshotRequestFromDTO(in))
	if err != nil {
		recordSpanError(span, err)
		return nil, toGRPCStatus(err)
	}
	return installSnapshotResponseToDTO(resp), nil
}

func (s *Server) advertiseTarget(ctx context.Context, in *advertiseTargetRequestDTO) (*advertiseTargetResponseDTO, error) {
	ctx, span := s.tracer.Start(ctx, "syncsrv.server.AdvertiseTarget",
		oteltrace.WithAttributes(attribute.Int("statesync.replica_index", in.ReplicaIndex)))
	defer span.End()

	err := s.sync.OnTargetAdvertised(ctx, in.ReplicaIndex, targetCandidateFromDTO(in.Candidate))
	if err != nil {
		recordSpanError(span, err)
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &advertiseTargetResponseDTO{}, nil
}

func (s *Server) requestChunk(ctx context.Context, in *requestChunkRequestDTO) (*requestChunkResponseDTO, error) {
	_, span := s.tracer.Start(ctx, "syncsrv.server.RequestChunk",
		oteltrace.WithAttributes(attribute.Int("statesync.trailer_kind", in.Kind), attribute.Int64("statesync.offset", int64(in.Offset))))
	defer span.End()

	chunk, err := s.chunks.ReadChunk(statesync.TrailerKind(in.Kind), targetFromDTO(in.Target), in.Offset, in.MaxLen)
	if err != nil {
		recordSpanError(span, err)
		return &requestChunkResponseDTO{Found: false}, nil
	}

	resp := &requestChunkResponseDTO{
		Found:    true,
		Size:     chunk.Size,
		Checksum: checksumToDTO(chunk.Checksum),
		Offset:   chunk.Offset,
		Bytes:    chunk.Bytes,
		Final:    chunk.Final,
	}
	if chunk.PreviousCheckpointID != nil {
		resp.HasPreviousCheckpointID = true
		resp.PreviousCheckpointID = checksumToDTO(*chunk.PreviousCheckpointID)
	}
	if chunk.CheckpointOpChecksum != nil {
		resp.HasCheckpointOpChecksum = true
		resp.CheckpointOpChecksum = checksumToDTO(*chunk.CheckpointOpChecksum)
	}
	return resp, nil
}

func (s *Server) getStatus(ctx context.Context, _ *getStatusRequestDTO) (*getStatusResponseDTO, error) {
	_, span := s.tracer.Start(ctx, "syncsrv.server.GetStatus")
	defer span.End()
	out := statusSnapshotToDTO(s.sync.Status())
	out.Raft = raftStateToDTO(s.raft.AdminState())
	return out, nil
}

func recordSpanError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}

func toGRPCStatus(err error) error {
	if errors.Is(err, raft.ErrNodeDegraded) {
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
