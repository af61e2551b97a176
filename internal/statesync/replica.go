package statesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// ReplicaConfig groups the collaborators and tunables a Replica needs.
// Logger, Hasher, and all four collaborator interfaces are required;
// Tracer and Metrics default to no-ops.
type ReplicaConfig struct {
	ReplicaCount    int
	QuorumThreshold int

	CommitPipeline   CommitPipeline
	GridIO           GridIO
	ChunkRequester   ChunkRequester
	SuperblockWriter SuperblockWriter
	Hasher           Hasher

	Logger  Logger
	Tracer  oteltrace.Tracer
	Metrics Metrics
}

// Replica is the cooperative orchestrator tying the Trailer, TargetQuorum,
// and Stage machine together. Its On*/Begin* entry points are each a
// finite, bounded amount of work and block on nothing themselves — every
// collaborator call (CommitPipeline, GridIO, ChunkRequester,
// SuperblockWriter) hands off to its own goroutine and reports completion
// later through a callback, so an entry point never re-enters Replica
// before returning. Concurrent callers (gRPC handlers, peer-pull
// goroutines, the advertisement ticker) are still free to call those entry
// points at the same time, so Replica serializes them itself with mu,
// mirroring how raft.Node guards its RPC handlers.
type Replica struct {
	mu sync.Mutex

	logger  Logger
	tracer  oteltrace.Tracer
	metrics Metrics
	hasher  Hasher

	machine         *Machine
	quorum          *TargetQuorum
	quorumThreshold int

	commitPipeline   CommitPipeline
	gridIO           GridIO
	chunkRequester   ChunkRequester
	superblockWriter SuperblockWriter

	// Destination buffers for the in-flight request_trailers attempt.
	// Owned here, not in the Stage payload, and borrowed by the Trailer
	// for the duration of each WriteChunk call; reset whenever a fresh
	// target is adopted.
	manifestBuf       []byte
	freeSetBuf        []byte
	clientSessionsBuf []byte

	superblockWriteStartedAt time.Time

	lastTransitionAt time.Time
	lastAdvertisedAt time.Time
}

// NewReplica constructs a Replica in the not_syncing stage.
func NewReplica(cfg ReplicaConfig) (*Replica, error) {
	if cfg.Logger == nil {
		return nil, ErrNilLogger
	}
	if cfg.Hasher == nil {
		return nil, ErrNilHasher
	}
	if cfg.CommitPipeline == nil || cfg.GridIO == nil || cfg.ChunkRequester == nil || cfg.SuperblockWriter == nil {
		return nil, fmt.Errorf("statesync: all collaborators are required")
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("internal/statesync")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	threshold := cfg.QuorumThreshold
	if threshold <= 0 {
		threshold = cfg.ReplicaCount/2 + 1
	}

	return &Replica{
		logger:           cfg.Logger,
		tracer:           tracer,
		metrics:          metrics,
		hasher:           cfg.Hasher,
		machine:          NewMachine(),
		quorum:           NewTargetQuorum(cfg.ReplicaCount),
		quorumThreshold:  threshold,
		commitPipeline:   cfg.CommitPipeline,
		gridIO:           cfg.GridIO,
		chunkRequester:   cfg.ChunkRequester,
		superblockWriter: cfg.SuperblockWriter,
	}, nil
}

// Stage returns the replica's current Stage.
func (r *Replica) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machine.Current()
}

// ReplicaCount reports the number of replicas the quorum was sized for.
func (r *Replica) ReplicaCount() int {
	return r.quorum.Len()
}

// QuorumThreshold reports the number of matching advertisements required
// to promote a candidate to canonical.
func (r *Replica) QuorumThreshold() int {
	return r.quorumThreshold
}

// TrailerProgress is a read-only snapshot of one trailer's assembly
// progress, for status reporting.
type TrailerProgress struct {
	Kind       TrailerKind
	NextOffset uint64
	Size       uint64
	SizeKnown  bool
	Done       bool
}

// StatusSnapshot is a read-only snapshot of a Replica's current stage,
// for status reporting over the wire. Trailers is non-empty only while
// Stage is request_trailers. LastTransitionAt and LastAdvertisedAt are
// carried as protobuf well-known timestamps, matching the teacher's habit
// of stamping internal status structs destined for the wire with
// timestamppb rather than time.Time directly.
type StatusSnapshot struct {
	Stage            StageTag
	Target           Target
	HasTarget        bool
	Trailers         []TrailerProgress
	LastTransitionAt *timestamppb.Timestamp
	LastAdvertisedAt *timestamppb.Timestamp
}

// Status returns a snapshot of the replica's current stage and, if it is
// mid-sync, its target and per-trailer progress.
func (r *Replica) Status() StatusSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	stage := r.machine.Current()
	snap := StatusSnapshot{Stage: stage.Tag()}
	if target, ok := TargetOf(stage); ok {
		snap.Target = target
		snap.HasTarget = true
	}
	if !r.lastTransitionAt.IsZero() {
		snap.LastTransitionAt = timestamppb.New(r.lastTransitionAt)
	}
	if !r.lastAdvertisedAt.IsZero() {
		snap.LastAdvertisedAt = timestamppb.New(r.lastAdvertisedAt)
	}

	rt, ok := stage.(RequestTrailers)
	if !ok {
		return snap
	}
	snap.Trailers = []TrailerProgress{
		trailerProgress(TrailerManifest, rt.Manifest),
		trailerProgress(TrailerFreeSet, rt.FreeSet),
		trailerProgress(TrailerClientSessions, rt.ClientSessions),
	}
	return snap
}

func trailerProgress(kind TrailerKind, t *Trailer) TrailerProgress {
	p := TrailerProgress{Kind: kind, NextOffset: t.NextOffset(), Done: t.Done()}
	if size, ok := t.Size(); ok {
		p.Size = size
		p.SizeKnown = true
	}
	return p
}

// transition is the one path through which the machine's stage changes
// under normal operation; it reports metrics and logs alongside the
// guarded assignment. Caller must hold r.mu.
func (r *Replica) transition(to Stage) error {
	from := r.machine.Current().Tag()
	if err := r.machine.Transition(to); err != nil {
		return err
	}
	r.metrics.IncSyncStageTransition(from.String(), to.Tag().String())
	r.metrics.SetSyncStageActive(from.String(), false)
	r.metrics.SetSyncStageActive(to.Tag().String(), true)
	r.lastTransitionAt = time.Now()
	r.logger.Debug("statesync: stage transition", "from", from.String(), "to", to.Tag().String())
	return nil
}

// BeginSync starts a sync attempt from not_syncing. commitUninterruptible
// and gridOutstanding reflect the caller's current observation of the
// commit pipeline and the grid; BeginSync fans out to whichever first
// stage the entry conditions call for.
func (r *Replica) BeginSync(ctx context.Context, commitUninterruptible, gridOutstanding bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := r.startSpan(ctx, "statesync.BeginSync",
		attribute.Bool("statesync.commit_uninterruptible", commitUninterruptible),
		attribute.Bool("statesync.grid_outstanding", gridOutstanding))
	defer span.End()

	var err error
	switch {
	case commitUninterruptible:
		if err = r.transition(CancellingCommit{}); err == nil {
			err = r.commitPipeline.RequestCancel(ctx)
		}
	case gridOutstanding:
		if err = r.transition(CancellingGrid{}); err == nil {
			err = r.gridIO.RequestQuiesce(ctx)
		}
	default:
		err = r.transition(RequestingTarget{})
	}
	spanRecordError(span, err)
	return err
}

// OnCommitInterruptible observes that the commit-cancellation requested
// on entry to cancelling_commit has completed.
func (r *Replica) OnCommitInterruptible(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := r.startSpan(ctx, "statesync.OnCommitInterruptible")
	defer span.End()

	if r.machine.Current().Tag() != StageCancellingCommit {
		r.logger.Debug("statesync: stale commit-interruptible callback")
		return nil
	}
	if err := r.transition(CancellingGrid{}); err != nil {
		spanRecordError(span, err)
		return err
	}
	err := r.gridIO.RequestQuiesce(ctx)
	spanRecordError(span, err)
	return err
}

// OnGridQuiesced observes that the grid has stopped issuing I/O.
func (r *Replica) OnGridQuiesced(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := r.startSpan(ctx, "statesync.OnGridQuiesced")
	defer span.End()

	if r.machine.Current().Tag() != StageCancellingGrid {
		r.logger.Debug("statesync: stale grid-quiesced callback")
		return nil
	}
	err := r.transition(RequestingTarget{})
	spanRecordError(span, err)
	return err
}

// OnTargetAdvertised records a peer's advertised checkpoint candidate and,
// once it crosses the quorum threshold, promotes it to the canonical
// Target and advances the Stage — entering request_trailers for the first
// time, or superseding the trailers already in flight for an older
// target.
func (r *Replica) OnTargetAdvertised(ctx context.Context, replicaIndex int, candidate TargetCandidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := r.startSpan(ctx, "statesync.OnTargetAdvertised",
		attribute.Int("statesync.replica_index", replicaIndex),
		attribute.Int64("statesync.checkpoint_op", int64(candidate.CheckpointOp)))
	defer span.End()

	if !r.quorum.Replace(replicaIndex, candidate) {
		r.logger.Debug("statesync: rejected target advertisement", "replica_index", replicaIndex)
		return nil
	}
	r.lastAdvertisedAt = time.Now()

	count := r.quorum.Count(candidate)
	r.metrics.SetSyncQuorumCandidateCount(uint64(candidate.CheckpointOp), count)
	if count < r.quorumThreshold {
		return nil
	}

	target := Promote(candidate)

	var err error
	switch cur := r.machine.Current().(type) {
	case RequestingTarget:
		err = r.beginRequestTrailers(ctx, target)
	case RequestTrailers:
		if !cur.Target.Equal(target) {
			err = r.beginRequestTrailers(ctx, target)
		}
	case UpdatingSuperblock:
		if !cur.Target.Equal(target) {
			// The in-flight write is abandoned; its completion will be
			// ignored on arrival since it will carry the old Target.
			err = r.beginRequestTrailers(ctx, target)
		}
	default:
		// Quorum reached before the grid/commit are quiesced; the target
		// will be re-discovered once requesting_target is reached.
	}
	spanRecordError(span, err)
	return err
}

// beginRequestTrailers (re)enters request_trailers for target, discarding
// any trailers and buffers from a superseded attempt, and issues the
// first chunk request for each of the three trailers. Caller must hold r.mu.
func (r *Replica) beginRequestTrailers(ctx context.Context, target Target) error {
	manifest, err := NewTrailer(r.hasher)
	if err != nil {
		return err
	}
	freeSet, err := NewTrailer(r.hasher)
	if err != nil {
		return err
	}
	clientSessions, err := NewTrailer(r.hasher)
	if err != nil {
		return err
	}

	r.manifestBuf = nil
	r.freeSetBuf = nil
	r.clientSessionsBuf = nil

	r.metrics.IncSyncTargetPromoted()

	if err := r.transition(RequestTrailers{
		Target:         target,
		Manifest:       manifest,
		FreeSet:        freeSet,
		ClientSessions: clientSessions,
	}); err != nil {
		return err
	}

	for _, kind := range []TrailerKind{TrailerManifest, TrailerFreeSet, TrailerClientSessions} {
		if err := r.chunkRequester.RequestChunk(ctx, kind, target, 0); err != nil {
			return fmt.Errorf("statesync: request initial %s chunk: %w", kind, err)
		}
	}
	return nil
}

func (r *Replica) bufSlot(kind TrailerKind) *[]byte {
	switch kind {
	case TrailerManifest:
		return &r.manifestBuf
	case TrailerFreeSet:
		return &r.freeSetBuf
	case TrailerClientSessions:
		return &r.clientSessionsBuf
	default:
		return nil
	}
}

func trailerFor(rt *RequestTrailers, kind TrailerKind) *Trailer {
	switch kind {
	case TrailerManifest:
		return rt.Manifest
	case TrailerFreeSet:
		return rt.FreeSet
	case TrailerClientSessions:
		return rt.ClientSessions
	default:
		return nil
	}
}

// OnManifestChunk feeds one chunk of the manifest trailer.
func (r *Replica) OnManifestChunk(ctx context.Context, target Target, size uint64, checksum Checksum128, offset uint64, bytes []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := r.startSpan(ctx, "statesync.OnManifestChunk", attribute.String("statesync.trailer", TrailerManifest.String()))
	defer span.End()
	err := r.onTrailerChunk(ctx, TrailerManifest, target, size, checksum, offset, bytes, nil)
	spanRecordError(span, err)
	return err
}

// OnFreeSetChunk feeds one chunk of the free-set trailer. previousCheckpointID
// is non-nil only on the terminating chunk, per the wire contract.
func (r *Replica) OnFreeSetChunk(ctx context.Context, target Target, size uint64, checksum Checksum128, offset uint64, bytes []byte, previousCheckpointID *CheckpointID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := r.startSpan(ctx, "statesync.OnFreeSetChunk", attribute.String("statesync.trailer", TrailerFreeSet.String()))
	defer span.End()
	err := r.onTrailerChunk(ctx, TrailerFreeSet, target, size, checksum, offset, bytes, func(rt *RequestTrailers) {
		if previousCheckpointID != nil {
			id := *previousCheckpointID
			rt.PreviousCheckpointID = &id
		}
	})
	spanRecordError(span, err)
	return err
}

// OnClientSessionsChunk feeds one chunk of the client-sessions trailer.
// checkpointOpChecksum is non-nil only on the terminating chunk.
func (r *Replica) OnClientSessionsChunk(ctx context.Context, target Target, size uint64, checksum Checksum128, offset uint64, bytes []byte, checkpointOpChecksum *Checksum128) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := r.startSpan(ctx, "statesync.OnClientSessionsChunk", attribute.String("statesync.trailer", TrailerClientSessions.String()))
	defer span.End()
	err := r.onTrailerChunk(ctx, TrailerClientSessions, target, size, checksum, offset, bytes, func(rt *RequestTrailers) {
		if checkpointOpChecksum != nil {
			sum := *checkpointOpChecksum
			rt.CheckpointOpChecksum = &sum
		}
	})
	spanRecordError(span, err)
	return err
}

// onTrailerChunk is the common path for all three chunk kinds: discard if
// stale, write through the Trailer, apply the terminal-chunk extra field
// if provided, persist the (possibly updated) payload via the
// request_trailers self-loop, and check whether all three trailers are
// now ready to advance. Caller must hold r.mu.
func (r *Replica) onTrailerChunk(ctx context.Context, kind TrailerKind, target Target, size uint64, checksum Checksum128, offset uint64, bytes []byte, terminalExtra func(*RequestTrailers)) error {
	cur, ok := r.machine.Current().(RequestTrailers)
	if !ok || !cur.Target.Equal(target) {
		r.logger.Debug("statesync: discarding chunk for superseded target", "kind", kind.String())
		return nil
	}

	trailer := trailerFor(&cur, kind)
	bufSlot := r.bufSlot(kind)
	if !trailer.Latched() {
		*bufSlot = make([]byte, size)
	}

	before := trailer.NextOffset()
	assembled, err := trailer.WriteChunk(
		Destination{Buffer: *bufSlot, Size: size, Checksum: checksum},
		Chunk{Bytes: bytes, ChunkOffset: offset},
	)
	if err != nil {
		r.metrics.IncSyncTrailerAuthFailure(kind.String())
		r.logger.Error("statesync: trailer authentication failed, aborting sync attempt",
			"kind", kind.String(), "err", err)
		return r.abortToRequestingTarget()
	}

	if assembled != nil {
		r.metrics.IncSyncTrailerChunk(kind.String(), "completed")
		if terminalExtra != nil {
			terminalExtra(&cur)
		}
	} else {
		r.metrics.IncSyncTrailerChunk(kind.String(), "accepted")
	}
	r.metrics.AddSyncTrailerBytesAssembled(kind.String(), int(trailer.NextOffset()-before))

	// request_trailers self-loops to itself so the (possibly updated)
	// payload becomes the stored stage.
	if err := r.transition(cur); err != nil {
		return err
	}

	if !trailer.Done() {
		if err := r.chunkRequester.RequestChunk(ctx, kind, target, trailer.NextOffset()); err != nil {
			return fmt.Errorf("statesync: request next %s chunk: %w", kind, err)
		}
	}

	return r.maybeAdvanceToSuperblock(ctx, cur)
}

// abortToRequestingTarget implements §7's chunk-authentication-failure
// recovery: the sync attempt is abandoned and the replica returns to
// requesting_target. This edge is outside the normal transition graph
// (see Machine.Reset) because it is a crash-recovery path, not a protocol
// step. Caller must hold r.mu.
func (r *Replica) abortToRequestingTarget() error {
	from := r.machine.Current().Tag()
	r.machine.Reset(RequestingTarget{})
	r.manifestBuf = nil
	r.freeSetBuf = nil
	r.clientSessionsBuf = nil
	r.metrics.IncSyncStageTransition(from.String(), StageRequestingTarget.String())
	r.metrics.SetSyncStageActive(from.String(), false)
	r.metrics.SetSyncStageActive(StageRequestingTarget.String(), true)
	r.logger.Warn("statesync: aborted sync attempt after trailer authentication failure")
	return nil
}

// maybeAdvanceToSuperblock checks whether cur has all three trailers done
// and both auxiliary identity fields present; if so it hands the
// assembled buffers to the superblock writer and enters
// updating_superblock. Caller must hold r.mu.
func (r *Replica) maybeAdvanceToSuperblock(ctx context.Context, cur RequestTrailers) error {
	if !cur.ready() {
		return nil
	}

	manifestSize, _ := cur.Manifest.Size()
	freeSetSize, _ := cur.FreeSet.Size()
	clientSessionsSize, _ := cur.ClientSessions.Size()

	rec := SuperblockRecord{
		Target:               cur.Target,
		Manifest:             r.manifestBuf[:manifestSize],
		FreeSet:              r.freeSetBuf[:freeSetSize],
		ClientSessions:       r.clientSessionsBuf[:clientSessionsSize],
		PreviousCheckpointID: *cur.PreviousCheckpointID,
		CheckpointOpChecksum: *cur.CheckpointOpChecksum,
	}

	if err := r.transition(UpdatingSuperblock{
		Target:               cur.Target,
		PreviousCheckpointID: rec.PreviousCheckpointID,
		CheckpointOpChecksum: rec.CheckpointOpChecksum,
	}); err != nil {
		return err
	}
	r.superblockWriteStartedAt = time.Now()

	if err := r.superblockWriter.Write(ctx, rec); err != nil {
		r.metrics.IncSyncSuperblockWrite("request_error")
		return fmt.Errorf("statesync: request superblock write: %w", err)
	}
	return nil
}

// OnSuperblockWritten observes the completion of a superblock write
// previously requested on entry to updating_superblock. A result whose
// target no longer matches the current stage's target is an abandoned
// write from a superseded attempt and is discarded.
func (r *Replica) OnSuperblockWritten(ctx context.Context, target Target, writeErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, span := r.startSpan(ctx, "statesync.OnSuperblockWritten")
	defer span.End()

	cur, ok := r.machine.Current().(UpdatingSuperblock)
	if !ok || !cur.Target.Equal(target) {
		r.logger.Debug("statesync: discarding superblock-write result for superseded target")
		return nil
	}

	if !r.superblockWriteStartedAt.IsZero() {
		r.metrics.ObserveSyncSuperblockWriteDuration(time.Since(r.superblockWriteStartedAt))
	}

	if writeErr != nil {
		r.metrics.IncSyncSuperblockWrite("error")
		r.logger.Error("statesync: superblock write failed", "err", writeErr)
		spanRecordError(span, writeErr)
		return fmt.Errorf("statesync: superblock write: %w", writeErr)
	}

	r.metrics.IncSyncSuperblockWrite("success")
	err := r.transition(NotSyncing{})
	spanRecordError(span, err)
	return err
}
