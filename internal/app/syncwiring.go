package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/i-melnichenko/consensus-lab/internal/statesync"
	"github.com/i-melnichenko/consensus-lab/internal/transport/grpc/syncsrv"
)

// raftCommitPipeline adapts a *raft.Node to statesync.CommitPipeline.
//
// raft.Node has no notion of an uninterruptible commit phase: log entries
// are appended and applied without a window where cancellation must wait.
// RequestCancel therefore reports completion immediately, on its own
// goroutine, matching the collaborator contract that completion is always
// observed asynchronously through the callback rather than the call's
// return value.
type raftCommitPipeline struct {
	notify func(ctx context.Context)
}

func newRaftCommitPipeline(notify func(ctx context.Context)) *raftCommitPipeline {
	return &raftCommitPipeline{notify: notify}
}

func (p *raftCommitPipeline) RequestCancel(ctx context.Context) error {
	go p.notify(ctx)
	return nil
}

// noGridIO adapts the absence of a grid/block-storage substrate to
// statesync.GridIO. This repository does not implement grid block
// replication (a stated non-goal); there is accordingly nothing to
// quiesce, so completion is reported immediately.
type noGridIO struct {
	notify func(ctx context.Context)
}

func newNoGridIO(notify func(ctx context.Context)) *noGridIO {
	return &noGridIO{notify: notify}
}

func (g *noGridIO) RequestQuiesce(ctx context.Context) error {
	go g.notify(ctx)
	return nil
}

// peerChunkRequester adapts a set of syncsrv.PeerClient connections,
// keyed by replica index, to statesync.ChunkRequester. RequestChunk pulls
// the chunk on its own goroutine and feeds the result back into Replica
// through the matching On*Chunk callback, mirroring how raft's
// sendAppendEntries issues an RPC on a goroutine and folds the result back
// under the node's own lock.
type peerChunkRequester struct {
	mu         sync.RWMutex
	peers      map[int]*syncsrv.PeerClient
	chunkSize  uint64
	logger     Logger
	onManifest func(ctx context.Context, target statesync.Target, size uint64, checksum statesync.Checksum128, offset uint64, bytes []byte) error
	onFreeSet  func(ctx context.Context, target statesync.Target, size uint64, checksum statesync.Checksum128, offset uint64, bytes []byte, previousCheckpointID *statesync.CheckpointID) error
	onSessions func(ctx context.Context, target statesync.Target, size uint64, checksum statesync.Checksum128, offset uint64, bytes []byte, checkpointOpChecksum *statesync.Checksum128) error
}

func newPeerChunkRequester(chunkSize uint64, logger Logger) *peerChunkRequester {
	return &peerChunkRequester{
		peers:     make(map[int]*syncsrv.PeerClient),
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// bind wires the Replica callbacks once it exists. Replica itself requires
// a ChunkRequester at construction time, so the requester is built first
// and bound to its Replica right after.
func (r *peerChunkRequester) bind(replica *statesync.Replica) {
	r.onManifest = replica.OnManifestChunk
	r.onFreeSet = replica.OnFreeSetChunk
	r.onSessions = replica.OnClientSessionsChunk
}

// setPeer registers (or replaces) the connection used to reach replicaIndex.
func (r *peerChunkRequester) setPeer(replicaIndex int, client *syncsrv.PeerClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[replicaIndex] = client
}

// currentSource picks the peer this replica is currently pulling a target's
// trailers from. With no richer source-selection policy implemented (a
// stated non-goal boundary), the lowest-indexed connected peer is used.
func (r *peerChunkRequester) currentSource() (*syncsrv.PeerClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best, found := 0, false
	for idx := range r.peers {
		if !found || idx < best {
			best, found = idx, true
		}
	}
	if !found {
		return nil, false
	}
	return r.peers[best], true
}

func (r *peerChunkRequester) RequestChunk(ctx context.Context, kind statesync.TrailerKind, target statesync.Target, offset uint64) error {
	client, ok := r.currentSource()
	if !ok {
		return fmt.Errorf("app: no sync peer available to request %s chunk", kind)
	}
	go r.pull(client, kind, target, offset)
	return nil
}

func (r *peerChunkRequester) pull(client *syncsrv.PeerClient, kind statesync.TrailerKind, target statesync.Target, offset uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := client.RequestChunk(ctx, kind, target, offset, r.chunkSize)
	if err != nil {
		r.logger.Warn("statesync: chunk pull failed", "kind", kind.String(), "offset", offset, "err", err)
		return
	}
	if !result.Found {
		r.logger.Debug("statesync: peer has no data for target yet", "kind", kind.String())
		return
	}

	var cbErr error
	switch kind {
	case statesync.TrailerManifest:
		cbErr = r.onManifest(ctx, target, result.Size, result.Checksum, result.Offset, result.Bytes)
	case statesync.TrailerFreeSet:
		cbErr = r.onFreeSet(ctx, target, result.Size, result.Checksum, result.Offset, result.Bytes, result.PreviousCheckpointID)
	case statesync.TrailerClientSessions:
		cbErr = r.onSessions(ctx, target, result.Size, result.Checksum, result.Offset, result.Bytes, result.CheckpointOpChecksum)
	}
	if cbErr != nil {
		r.logger.Warn("statesync: chunk delivery rejected", "kind", kind.String(), "err", cbErr)
	}
}

// targetAdvertiser periodically re-broadcasts this replica's own candidate,
// read from the last superblock it persisted, to every configured peer and
// to the local Replica itself. A freshly started replica with no
// superblock on disk yet has nothing to advertise and stays silent until
// it completes its own first sync.
type targetAdvertiser struct {
	selfIndex int
	superDir  string
	logger    Logger
	peers     map[int]*syncsrv.PeerClient
	onLocal   func(ctx context.Context, replicaIndex int, candidate statesync.TargetCandidate) error
}

func newTargetAdvertiser(selfIndex int, superDir string, logger Logger, peers map[int]*syncsrv.PeerClient) *targetAdvertiser {
	return &targetAdvertiser{
		selfIndex: selfIndex,
		superDir:  superDir,
		logger:    logger,
		peers:     peers,
	}
}

// bind wires the Replica callback once it exists, for the same reason
// peerChunkRequester.bind does.
func (a *targetAdvertiser) bind(replica *statesync.Replica) {
	a.onLocal = replica.OnTargetAdvertised
}

// run broadcasts on every tick until ctx is canceled.
func (a *targetAdvertiser) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.broadcastOnce(ctx)
		}
	}
}

func (a *targetAdvertiser) broadcastOnce(ctx context.Context) {
	candidate, ok := statesync.LatestLocalTarget(a.superDir)
	if !ok {
		return
	}

	if err := a.onLocal(ctx, a.selfIndex, candidate); err != nil {
		a.logger.Warn("statesync: self-advertisement rejected", "err", err)
	}
	for idx, client := range a.peers {
		if err := client.AdvertiseTarget(ctx, a.selfIndex, candidate); err != nil {
			a.logger.Debug("statesync: advertise to peer failed", "peer_index", idx, "err", err)
		}
	}
}
