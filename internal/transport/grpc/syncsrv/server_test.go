package syncsrv

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/i-melnichenko/consensus-lab/internal/consensus/raft"
	"github.com/i-melnichenko/consensus-lab/internal/statesync"
)

type fakeRaftHandler struct{}

func (fakeRaftHandler) HandleRequestVote(context.Context, *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	return &raft.RequestVoteResponse{}, nil
}

func (fakeRaftHandler) HandleAppendEntries(context.Context, *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	return &raft.AppendEntriesResponse{}, nil
}

func (fakeRaftHandler) HandleInstallSnapshot(context.Context, *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	return &raft.InstallSnapshotResponse{}, nil
}

func (fakeRaftHandler) AdminState() raft.AdminState {
	return raft.AdminState{NodeID: "n1", Role: raft.Leader, LeaderID: "n1", Term: 7, CommitIndex: 3, LastApplied: 3}
}

type fakeSyncDispatcher struct {
	status statesync.StatusSnapshot
}

func (f fakeSyncDispatcher) OnTargetAdvertised(context.Context, int, statesync.TargetCandidate) error {
	return nil
}

func (f fakeSyncDispatcher) Status() statesync.StatusSnapshot {
	return f.status
}

func TestServer_GetStatus_RoundTripsStageAndTrailers(t *testing.T) {
	want := statesync.StatusSnapshot{
		Stage:     statesync.StageRequestTrailers,
		Target:    statesync.Target{CheckpointID: statesync.Checksum128{Hi: 9, Lo: 1}, CheckpointOp: 42},
		HasTarget: true,
		Trailers: []statesync.TrailerProgress{
			{Kind: statesync.TrailerManifest, NextOffset: 10, Size: 100, SizeKnown: true, Done: false},
			{Kind: statesync.TrailerFreeSet, NextOffset: 0, Done: false},
		},
	}

	srv := NewServer(fakeRaftHandler{}, fakeSyncDispatcher{status: want}, nil, noop.NewTracerProvider().Tracer("test"))

	resp, err := srv.getStatus(context.Background(), &getStatusRequestDTO{})
	if err != nil {
		t.Fatalf("getStatus: %v", err)
	}

	got := statusSnapshotFromDTO(resp)
	if got.Stage != want.Stage {
		t.Fatalf("stage = %v, want %v", got.Stage, want.Stage)
	}
	if !got.HasTarget || got.Target != want.Target {
		t.Fatalf("target = %+v (has=%v), want %+v", got.Target, got.HasTarget, want.Target)
	}
	if len(got.Trailers) != len(want.Trailers) {
		t.Fatalf("len(Trailers) = %d, want %d", len(got.Trailers), len(want.Trailers))
	}
	for i := range want.Trailers {
		if got.Trailers[i] != want.Trailers[i] {
			t.Fatalf("trailer[%d] = %+v, want %+v", i, got.Trailers[i], want.Trailers[i])
		}
	}
	if got.LastTransitionAt != nil || got.LastAdvertisedAt != nil {
		t.Fatalf("unexpected timestamps round-tripped from a zero-value snapshot")
	}

	raftState := raftStateFromDTO(resp.Raft)
	if raftState.LeaderID != "n1" || raftState.Term != 7 || raftState.Role != raft.Leader {
		t.Fatalf("raft state = %+v, want leader n1 term 7 role Leader", raftState)
	}
}
