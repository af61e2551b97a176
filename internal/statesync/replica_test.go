package statesync

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
)

type replicaHarness struct {
	replica        *Replica
	commitPipeline *MockCommitPipeline
	gridIO         *fakeGridIO
	chunkRequester *fakeChunkRequester
	superblock     *fakeSuperblockWriter
}

func newReplicaHarness(t *testing.T, replicaCount, threshold int) *replicaHarness {
	t.Helper()
	ctrl := gomock.NewController(t)

	h := &replicaHarness{
		commitPipeline: NewMockCommitPipeline(ctrl),
		gridIO:         &fakeGridIO{},
		chunkRequester: &fakeChunkRequester{},
		superblock:     &fakeSuperblockWriter{},
	}

	r, err := NewReplica(ReplicaConfig{
		ReplicaCount:     replicaCount,
		QuorumThreshold:  threshold,
		CommitPipeline:   h.commitPipeline,
		GridIO:           h.gridIO,
		ChunkRequester:   h.chunkRequester,
		SuperblockWriter: h.superblock,
		Hasher:           fakeHasher{},
		Logger:           testLogger(t),
		Tracer:           testTracer(),
	})
	if err != nil {
		t.Fatalf("NewReplica: %v", err)
	}
	h.replica = r
	return h
}

func TestReplica_BeginSync_UninterruptibleCommit(t *testing.T) {
	h := newReplicaHarness(t, 4, 3)
	h.commitPipeline.EXPECT().RequestCancel(gomock.Any()).Return(nil)

	if err := h.replica.BeginSync(context.Background(), true, true); err != nil {
		t.Fatalf("BeginSync: %v", err)
	}
	if got := h.replica.Stage().Tag(); got != StageCancellingCommit {
		t.Fatalf("stage = %s, want cancelling_commit", got)
	}
}

func TestReplica_BeginSync_GridOutstandingOnly(t *testing.T) {
	h := newReplicaHarness(t, 4, 3)

	if err := h.replica.BeginSync(context.Background(), false, true); err != nil {
		t.Fatalf("BeginSync: %v", err)
	}
	if got := h.replica.Stage().Tag(); got != StageCancellingGrid {
		t.Fatalf("stage = %s, want cancelling_grid", got)
	}
	if h.gridIO.quiesceCalls != 1 {
		t.Fatalf("quiesceCalls = %d, want 1", h.gridIO.quiesceCalls)
	}
}

func TestReplica_BeginSync_Direct(t *testing.T) {
	h := newReplicaHarness(t, 4, 3)

	if err := h.replica.BeginSync(context.Background(), false, false); err != nil {
		t.Fatalf("BeginSync: %v", err)
	}
	if got := h.replica.Stage().Tag(); got != StageRequestingTarget {
		t.Fatalf("stage = %s, want requesting_target", got)
	}
}

func TestReplica_CancelWalk(t *testing.T) {
	h := newReplicaHarness(t, 4, 3)
	h.commitPipeline.EXPECT().RequestCancel(gomock.Any()).Return(nil)

	ctx := context.Background()
	if err := h.replica.BeginSync(ctx, true, true); err != nil {
		t.Fatalf("BeginSync: %v", err)
	}
	if err := h.replica.OnCommitInterruptible(ctx); err != nil {
		t.Fatalf("OnCommitInterruptible: %v", err)
	}
	if got := h.replica.Stage().Tag(); got != StageCancellingGrid {
		t.Fatalf("stage = %s, want cancelling_grid", got)
	}
	if h.gridIO.quiesceCalls != 1 {
		t.Fatalf("quiesceCalls = %d, want 1", h.gridIO.quiesceCalls)
	}
	if err := h.replica.OnGridQuiesced(ctx); err != nil {
		t.Fatalf("OnGridQuiesced: %v", err)
	}
	if got := h.replica.Stage().Tag(); got != StageRequestingTarget {
		t.Fatalf("stage = %s, want requesting_target", got)
	}
}

func TestReplica_QuorumPromotionEntersRequestTrailers(t *testing.T) {
	h := newReplicaHarness(t, 4, 2)
	ctx := context.Background()
	if err := h.replica.BeginSync(ctx, false, false); err != nil {
		t.Fatalf("BeginSync: %v", err)
	}

	candidate := TargetCandidate{CheckpointID: Checksum128{Hi: 42}, CheckpointOp: 10}
	if err := h.replica.OnTargetAdvertised(ctx, 0, candidate); err != nil {
		t.Fatalf("OnTargetAdvertised: %v", err)
	}
	if got := h.replica.Stage().Tag(); got != StageRequestingTarget {
		t.Fatalf("stage after one advertisement = %s, want requesting_target", got)
	}

	if err := h.replica.OnTargetAdvertised(ctx, 1, candidate); err != nil {
		t.Fatalf("OnTargetAdvertised: %v", err)
	}
	if got := h.replica.Stage().Tag(); got != StageRequestTrailers {
		t.Fatalf("stage after quorum = %s, want request_trailers", got)
	}

	target, ok := TargetOf(h.replica.Stage())
	if !ok || !target.Equal(Promote(candidate)) {
		t.Fatalf("TargetOf = %v, %v; want %v, true", target, ok, Promote(candidate))
	}

	if len(h.chunkRequester.requests) != 3 {
		t.Fatalf("initial chunk requests = %d, want 3", len(h.chunkRequester.requests))
	}
	for _, req := range h.chunkRequester.requests {
		if req.offset != 0 {
			t.Errorf("request for %s at offset %d, want 0", req.kind, req.offset)
		}
	}
}

func TestReplica_FullSyncFlow(t *testing.T) {
	h := newReplicaHarness(t, 3, 2)
	ctx := context.Background()
	if err := h.replica.BeginSync(ctx, false, false); err != nil {
		t.Fatalf("BeginSync: %v", err)
	}

	candidate := TargetCandidate{CheckpointID: Checksum128{Hi: 1}, CheckpointOp: 10}
	if err := h.replica.OnTargetAdvertised(ctx, 0, candidate); err != nil {
		t.Fatalf("OnTargetAdvertised(0): %v", err)
	}
	if err := h.replica.OnTargetAdvertised(ctx, 1, candidate); err != nil {
		t.Fatalf("OnTargetAdvertised(1): %v", err)
	}
	target := Promote(candidate)

	manifest := []byte("manifest-bytes")
	freeSet := []byte("free-set-bytes")
	clientSessions := []byte("client-sessions-bytes")
	prevID := Checksum128{Hi: 99}
	opChecksum := Checksum128{Hi: 100}

	if err := h.replica.OnManifestChunk(ctx, target, uint64(len(manifest)), fakeHasher{}.Sum128(manifest), 0, manifest); err != nil {
		t.Fatalf("OnManifestChunk: %v", err)
	}
	if err := h.replica.OnFreeSetChunk(ctx, target, uint64(len(freeSet)), fakeHasher{}.Sum128(freeSet), 0, freeSet, &prevID); err != nil {
		t.Fatalf("OnFreeSetChunk: %v", err)
	}
	if got := h.replica.Stage().Tag(); got != StageRequestTrailers {
		t.Fatalf("stage before client-sessions chunk = %s, want request_trailers", got)
	}
	if err := h.replica.OnClientSessionsChunk(ctx, target, uint64(len(clientSessions)), fakeHasher{}.Sum128(clientSessions), 0, clientSessions, &opChecksum); err != nil {
		t.Fatalf("OnClientSessionsChunk: %v", err)
	}

	if got := h.replica.Stage().Tag(); got != StageUpdatingSuperblock {
		t.Fatalf("stage after all trailers done = %s, want updating_superblock", got)
	}
	if len(h.superblock.writes) != 1 {
		t.Fatalf("superblock writes = %d, want 1", len(h.superblock.writes))
	}
	rec := h.superblock.writes[0]
	if string(rec.Manifest) != string(manifest) || string(rec.FreeSet) != string(freeSet) || string(rec.ClientSessions) != string(clientSessions) {
		t.Fatalf("superblock record payloads mismatch: %+v", rec)
	}
	if rec.PreviousCheckpointID != prevID || rec.CheckpointOpChecksum != opChecksum {
		t.Fatalf("superblock record identity fields mismatch: %+v", rec)
	}

	if err := h.replica.OnSuperblockWritten(ctx, target, nil); err != nil {
		t.Fatalf("OnSuperblockWritten: %v", err)
	}
	if got := h.replica.Stage().Tag(); got != StageNotSyncing {
		t.Fatalf("stage after successful write = %s, want not_syncing", got)
	}
}

func TestReplica_ChunkForSupersededTargetDiscarded(t *testing.T) {
	h := newReplicaHarness(t, 3, 2)
	ctx := context.Background()
	_ = h.replica.BeginSync(ctx, false, false)

	candidate := TargetCandidate{CheckpointID: Checksum128{Hi: 1}, CheckpointOp: 10}
	_ = h.replica.OnTargetAdvertised(ctx, 0, candidate)
	_ = h.replica.OnTargetAdvertised(ctx, 1, candidate)
	target := Promote(candidate)

	oldTarget := Target{CheckpointID: Checksum128{Hi: 999}, CheckpointOp: 1}
	if err := h.replica.OnManifestChunk(ctx, oldTarget, 4, Checksum128{}, 0, []byte("xxxx")); err != nil {
		t.Fatalf("OnManifestChunk: %v", err)
	}
	cur, ok := h.replica.Stage().(RequestTrailers)
	if !ok || !cur.Target.Equal(target) {
		t.Fatalf("stage target changed by discarded chunk: %+v", h.replica.Stage())
	}
	if cur.Manifest.NextOffset() != 0 {
		t.Fatalf("manifest trailer advanced by discarded chunk: NextOffset = %d", cur.Manifest.NextOffset())
	}
}

func TestReplica_NewerTargetSupersedesInFlightTrailers(t *testing.T) {
	h := newReplicaHarness(t, 3, 2)
	ctx := context.Background()
	_ = h.replica.BeginSync(ctx, false, false)

	c1 := TargetCandidate{CheckpointID: Checksum128{Hi: 1}, CheckpointOp: 10}
	_ = h.replica.OnTargetAdvertised(ctx, 0, c1)
	_ = h.replica.OnTargetAdvertised(ctx, 1, c1)
	target1 := Promote(c1)

	partial := []byte("partial-manifest-bytes")
	if err := h.replica.OnManifestChunk(ctx, target1, uint64(len(partial)), fakeHasher{}.Sum128(partial), 0, partial[:4]); err != nil {
		t.Fatalf("OnManifestChunk: %v", err)
	}

	c2 := TargetCandidate{CheckpointID: Checksum128{Hi: 2}, CheckpointOp: 20}
	_ = h.replica.OnTargetAdvertised(ctx, 0, c2)
	_ = h.replica.OnTargetAdvertised(ctx, 1, c2)
	target2 := Promote(c2)

	cur, ok := h.replica.Stage().(RequestTrailers)
	if !ok || !cur.Target.Equal(target2) {
		t.Fatalf("stage did not adopt newer target: %+v", h.replica.Stage())
	}
	if cur.Manifest.NextOffset() != 0 {
		t.Fatalf("fresh manifest trailer should start at offset 0, got %d", cur.Manifest.NextOffset())
	}

	// Stale chunk for the superseded target is discarded.
	if err := h.replica.OnManifestChunk(ctx, target1, uint64(len(partial)), fakeHasher{}.Sum128(partial), 4, partial[4:]); err != nil {
		t.Fatalf("OnManifestChunk(stale): %v", err)
	}
	cur, _ = h.replica.Stage().(RequestTrailers)
	if cur.Manifest.NextOffset() != 0 {
		t.Fatalf("stale chunk advanced the fresh trailer: NextOffset = %d", cur.Manifest.NextOffset())
	}
}

func TestReplica_AuthFailureAbortsToRequestingTarget(t *testing.T) {
	h := newReplicaHarness(t, 3, 2)
	ctx := context.Background()
	_ = h.replica.BeginSync(ctx, false, false)

	candidate := TargetCandidate{CheckpointID: Checksum128{Hi: 1}, CheckpointOp: 10}
	_ = h.replica.OnTargetAdvertised(ctx, 0, candidate)
	_ = h.replica.OnTargetAdvertised(ctx, 1, candidate)
	target := Promote(candidate)

	data := []byte("manifest-bytes-here")
	wrongChecksum := fakeHasher{}.Sum128([]byte("totally-different"))
	if err := h.replica.OnManifestChunk(ctx, target, uint64(len(data)), wrongChecksum, 0, data); err != nil {
		t.Fatalf("OnManifestChunk: %v", err)
	}
	if got := h.replica.Stage().Tag(); got != StageRequestingTarget {
		t.Fatalf("stage after auth failure = %s, want requesting_target", got)
	}
}

func TestReplica_SuperblockWriteAbandonedOnSupersededTarget(t *testing.T) {
	h := newReplicaHarness(t, 3, 2)
	ctx := context.Background()
	_ = h.replica.BeginSync(ctx, false, false)

	c1 := TargetCandidate{CheckpointID: Checksum128{Hi: 1}, CheckpointOp: 10}
	_ = h.replica.OnTargetAdvertised(ctx, 0, c1)
	_ = h.replica.OnTargetAdvertised(ctx, 1, c1)
	target1 := Promote(c1)

	manifest := []byte("m")
	freeSet := []byte("f")
	clientSessions := []byte("c")
	prevID := Checksum128{Hi: 5}
	opChecksum := Checksum128{Hi: 6}
	_ = h.replica.OnManifestChunk(ctx, target1, uint64(len(manifest)), fakeHasher{}.Sum128(manifest), 0, manifest)
	_ = h.replica.OnFreeSetChunk(ctx, target1, uint64(len(freeSet)), fakeHasher{}.Sum128(freeSet), 0, freeSet, &prevID)
	_ = h.replica.OnClientSessionsChunk(ctx, target1, uint64(len(clientSessions)), fakeHasher{}.Sum128(clientSessions), 0, clientSessions, &opChecksum)

	if got := h.replica.Stage().Tag(); got != StageUpdatingSuperblock {
		t.Fatalf("stage = %s, want updating_superblock", got)
	}

	c2 := TargetCandidate{CheckpointID: Checksum128{Hi: 2}, CheckpointOp: 20}
	_ = h.replica.OnTargetAdvertised(ctx, 0, c2)
	_ = h.replica.OnTargetAdvertised(ctx, 1, c2)

	if got := h.replica.Stage().Tag(); got != StageRequestTrailers {
		t.Fatalf("stage after newer target during write = %s, want request_trailers", got)
	}

	// The abandoned write's completion carries the old target and must be
	// ignored: the stage must remain request_trailers for target2.
	if err := h.replica.OnSuperblockWritten(ctx, target1, nil); err != nil {
		t.Fatalf("OnSuperblockWritten: %v", err)
	}
	if got := h.replica.Stage().Tag(); got != StageRequestTrailers {
		t.Fatalf("stage after abandoned write completion = %s, want request_trailers", got)
	}
}

func TestReplica_Status_NotSyncing(t *testing.T) {
	h := newReplicaHarness(t, 4, 3)

	snap := h.replica.Status()
	if snap.Stage != StageNotSyncing {
		t.Fatalf("stage = %s, want not_syncing", snap.Stage)
	}
	if snap.HasTarget {
		t.Fatalf("HasTarget = true before any sync attempt")
	}
	if len(snap.Trailers) != 0 {
		t.Fatalf("Trailers = %v, want empty outside request_trailers", snap.Trailers)
	}
	if snap.LastTransitionAt != nil {
		t.Fatalf("LastTransitionAt set before any transition")
	}
}

func TestReplica_Status_RequestTrailersReportsProgress(t *testing.T) {
	h := newReplicaHarness(t, 3, 2)
	ctx := context.Background()
	_ = h.replica.BeginSync(ctx, false, false)

	candidate := TargetCandidate{CheckpointID: Checksum128{Hi: 1}, CheckpointOp: 10}
	_ = h.replica.OnTargetAdvertised(ctx, 0, candidate)
	_ = h.replica.OnTargetAdvertised(ctx, 1, candidate)
	target := Promote(candidate)

	manifest := []byte("manifest-bytes")
	partial := manifest[:5]
	_ = h.replica.OnManifestChunk(ctx, target, uint64(len(manifest)), fakeHasher{}.Sum128(manifest), 0, partial)

	snap := h.replica.Status()
	if snap.Stage != StageRequestTrailers {
		t.Fatalf("stage = %s, want request_trailers", snap.Stage)
	}
	if !snap.HasTarget || snap.Target != target {
		t.Fatalf("target = %+v (has=%v), want %+v", snap.Target, snap.HasTarget, target)
	}
	if len(snap.Trailers) != 3 {
		t.Fatalf("len(Trailers) = %d, want 3", len(snap.Trailers))
	}
	if snap.LastTransitionAt == nil {
		t.Fatalf("LastTransitionAt not set after a transition")
	}
	if snap.LastAdvertisedAt == nil {
		t.Fatalf("LastAdvertisedAt not set after an advertisement")
	}

	var manifestProgress TrailerProgress
	for _, p := range snap.Trailers {
		if p.Kind == TrailerManifest {
			manifestProgress = p
		}
	}
	if manifestProgress.Done {
		t.Fatalf("manifest reported done after a single non-terminal chunk")
	}
	if manifestProgress.NextOffset != uint64(len(partial)) {
		t.Fatalf("manifest NextOffset = %d, want %d", manifestProgress.NextOffset, len(partial))
	}
	if !manifestProgress.SizeKnown || manifestProgress.Size != uint64(len(manifest)) {
		t.Fatalf("manifest size = %d (known=%v), want %d", manifestProgress.Size, manifestProgress.SizeKnown, len(manifest))
	}
}

func TestReplica_OnManifestChunk_RerequestsNextOffsetUntilDone(t *testing.T) {
	h := newReplicaHarness(t, 3, 2)
	ctx := context.Background()
	_ = h.replica.BeginSync(ctx, false, false)

	candidate := TargetCandidate{CheckpointID: Checksum128{Hi: 1}, CheckpointOp: 10}
	_ = h.replica.OnTargetAdvertised(ctx, 0, candidate)
	_ = h.replica.OnTargetAdvertised(ctx, 1, candidate)
	target := Promote(candidate)

	// The initial request_trailers entry issues one chunk request per
	// trailer at offset 0; reset so only chunk-feed-driven requests remain.
	h.chunkRequester.requests = nil

	manifest := []byte("manifest-bytes-long-enough-to-split")
	checksum := fakeHasher{}.Sum128(manifest)
	first := manifest[:10]
	if err := h.replica.OnManifestChunk(ctx, target, uint64(len(manifest)), checksum, 0, first); err != nil {
		t.Fatalf("OnManifestChunk (first): %v", err)
	}

	if len(h.chunkRequester.requests) != 1 {
		t.Fatalf("requests after first partial chunk = %d, want 1 (re-request)", len(h.chunkRequester.requests))
	}
	got := h.chunkRequester.requests[0]
	if got.kind != TrailerManifest || got.offset != uint64(len(first)) || !got.target.Equal(target) {
		t.Fatalf("re-request = %+v, want kind=manifest offset=%d target=%+v", got, len(first), target)
	}

	rest := manifest[len(first):]
	if err := h.replica.OnManifestChunk(ctx, target, uint64(len(manifest)), checksum, uint64(len(first)), rest); err != nil {
		t.Fatalf("OnManifestChunk (final): %v", err)
	}

	if len(h.chunkRequester.requests) != 1 {
		t.Fatalf("requests after terminal chunk = %d, want still 1 (no re-request once done)", len(h.chunkRequester.requests))
	}
}
