package app

import (
	"time"

	"github.com/i-melnichenko/consensus-lab/internal/observability/metrics"
	"github.com/i-melnichenko/consensus-lab/internal/statesync"
)

// syncMetrics adapts a *metrics.Prometheus, bound to this node's ID, to
// statesync.Metrics. statesync's Metrics interface omits node_id since a
// Replica belongs to exactly one node; the Prometheus sink still needs it
// as a label, so it is baked in here.
type syncMetrics struct {
	nodeID string
	prom   *metrics.Prometheus
}

func (s syncMetrics) IncSyncStageTransition(from, to string) {
	s.prom.IncSyncStageTransition(s.nodeID, from, to)
}

// SetSyncStageActive updates the single node_id-scoped "replica is syncing"
// gauge. transition() calls this once for the stage being left and once for
// the stage being entered, both against that one gauge; the entered stage's
// name, not the literal active argument, is what decides the gauge's final
// value, so entering not_syncing must force it back to 0 even though the
// call site passes active=true.
func (s syncMetrics) SetSyncStageActive(stage string, active bool) {
	if stage == statesync.StageNotSyncing.String() {
		active = false
	}
	s.prom.SetSyncStageActive(s.nodeID, active)
}

func (s syncMetrics) IncSyncTargetPromoted() {
	s.prom.IncSyncTargetPromoted(s.nodeID)
}

func (s syncMetrics) SetSyncQuorumCandidateCount(_ uint64, n int) {
	s.prom.SetSyncQuorumCandidateCount(s.nodeID, n)
}

func (s syncMetrics) IncSyncTrailerChunk(kind, result string) {
	s.prom.IncSyncTrailerChunk(s.nodeID, kind, result)
}

func (s syncMetrics) AddSyncTrailerBytesAssembled(kind string, n int) {
	s.prom.AddSyncTrailerBytesAssembled(s.nodeID, kind, n)
}

func (s syncMetrics) IncSyncTrailerAuthFailure(kind string) {
	s.prom.IncSyncTrailerAuthFailure(s.nodeID, kind)
}

func (s syncMetrics) ObserveSyncSuperblockWriteDuration(d time.Duration) {
	s.prom.ObserveSyncSuperblockWriteDuration(s.nodeID, d)
}

func (s syncMetrics) IncSyncSuperblockWrite(result string) {
	s.prom.IncSyncSuperblockWrite(s.nodeID, result)
}
