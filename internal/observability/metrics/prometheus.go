//revive:disable:var-naming
//revive:disable:exported
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exposes application metrics and can be injected into the
// statesync/raft layers. It implements internal/consensus/raft.Metrics
// through method set compatibility, without importing that package. Its
// sync methods take a node id that internal/statesync.Metrics lacks, so the
// statesync layer reaches them through the adapter in internal/app that
// binds the node id.
type Prometheus struct {
	syncStageTransitionTotal     *prometheus.CounterVec
	syncStageActive              *prometheus.GaugeVec
	syncTargetPromotedTotal      *prometheus.CounterVec
	syncQuorumCandidateCount     *prometheus.GaugeVec
	syncTrailerChunkTotal        *prometheus.CounterVec
	syncTrailerBytesAssembled    *prometheus.CounterVec
	syncTrailerAuthFailureTotal  *prometheus.CounterVec
	syncSuperblockWriteDuration  *prometheus.HistogramVec
	syncSuperblockWriteTotal     *prometheus.CounterVec
	raftAppendEntriesRPCDuration *prometheus.HistogramVec
	raftAppendEntriesRejectTotal *prometheus.CounterVec
	raftAppendEntriesRPCError    *prometheus.CounterVec
	raftInstallSnapshotRPCDur    *prometheus.HistogramVec
	raftInstallSnapshotSendBytes *prometheus.HistogramVec
	raftInstallSnapshotSendTotal *prometheus.CounterVec
	raftElectionStartedTotal     *prometheus.CounterVec
	raftElectionWonTotal         *prometheus.CounterVec
	raftElectionLostTotal        *prometheus.CounterVec
	raftStorageErrorTotal        *prometheus.CounterVec
	raftApplyLag                 *prometheus.GaugeVec
	raftIsLeader                 *prometheus.GaugeVec
	raftStartToCommitDuration    *prometheus.HistogramVec
	raftCommitToApplyDuration    *prometheus.HistogramVec
}

func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Prometheus{
		syncStageTransitionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "consensuslab",
				Subsystem: "sync",
				Name:      "stage_transition_total",
				Help:      "Sync lifecycle Stage transitions by source and destination tag.",
			},
			[]string{"node_id", "from", "to"},
		),
		syncStageActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "consensuslab",
				Subsystem: "sync",
				Name:      "stage_active",
				Help:      "1 if the replica's current Stage is not not_syncing, otherwise 0.",
			},
			[]string{"node_id"},
		),
		syncTargetPromotedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "consensuslab",
				Subsystem: "sync",
				Name:      "target_promoted_total",
				Help:      "Number of TargetCandidates promoted to canonical Target after crossing quorum.",
			},
			[]string{"node_id"},
		),
		syncQuorumCandidateCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "consensuslab",
				Subsystem: "sync",
				Name:      "quorum_candidate_count",
				Help:      "Most recent TargetQuorum.count() observed for the currently advertised candidate.",
			},
			[]string{"node_id"},
		),
		syncTrailerChunkTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "consensuslab",
				Subsystem: "sync",
				Name:      "trailer_chunk_total",
				Help:      "Trailer.write_chunk outcomes by trailer kind and result.",
			},
			[]string{"node_id", "trailer", "result"},
		),
		syncTrailerBytesAssembled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "consensuslab",
				Subsystem: "sync",
				Name:      "trailer_bytes_assembled_total",
				Help:      "Bytes accepted into a trailer's destination buffer by in-order chunk writes.",
			},
			[]string{"node_id", "trailer"},
		),
		syncTrailerAuthFailureTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "consensuslab",
				Subsystem: "sync",
				Name:      "trailer_auth_failure_total",
				Help:      "Chunk authentication failures (digest mismatch or final contradiction) by trailer kind.",
			},
			[]string{"node_id", "trailer"},
		),
		syncSuperblockWriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "consensuslab",
				Subsystem: "sync",
				Name:      "superblock_write_duration_seconds",
				Help:      "Duration of the superblock write issued on entry to updating_superblock.",
				Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2},
			},
			[]string{"node_id"},
		),
		syncSuperblockWriteTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "consensuslab",
				Subsystem: "sync",
				Name:      "superblock_write_total",
				Help:      "Superblock write attempts by result (success, error, request_error).",
			},
			[]string{"node_id", "result"},
		),
		raftAppendEntriesRPCDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "consensuslab",
				Subsystem: "raft",
				Name:      "appendentries_rpc_duration_seconds",
				Help:      "Duration of outbound AppendEntries RPC calls from a leader to a peer.",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"node_id", "peer_id", "heartbeat"},
		),
		raftAppendEntriesRejectTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "consensuslab",
				Subsystem: "raft",
				Name:      "appendentries_reject_total",
				Help:      "Number of AppendEntries rejections received from peers.",
			},
			[]string{"node_id", "peer_id", "heartbeat"},
		),
		raftAppendEntriesRPCError: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "consensuslab",
				Subsystem: "raft",
				Name:      "appendentries_rpc_error_total",
				Help:      "Outbound AppendEntries RPC errors by kind.",
			},
			[]string{"node_id", "peer_id", "heartbeat", "kind"},
		),
		raftInstallSnapshotRPCDur: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "consensuslab",
				Subsystem: "raft",
				Name:      "installsnapshot_rpc_duration_seconds",
				Help:      "Duration of outbound InstallSnapshot RPC calls.",
				Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2},
			},
			[]string{"node_id", "peer_id"},
		),
		raftInstallSnapshotSendBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "consensuslab",
				Subsystem: "raft",
				Name:      "installsnapshot_send_bytes",
				Help:      "InstallSnapshot payload size sent to a peer in bytes.",
				Buckets:   []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216},
			},
			[]string{"node_id", "peer_id"},
		),
		raftInstallSnapshotSendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "consensuslab",
				Subsystem: "raft",
				Name:      "installsnapshot_send_total",
				Help:      "InstallSnapshot send attempts by result.",
			},
			[]string{"node_id", "peer_id", "result"},
		),
		raftElectionStartedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "consensuslab",
				Subsystem: "raft",
				Name:      "election_started_total",
				Help:      "Number of times a node started an election as candidate.",
			},
			[]string{"node_id"},
		),
		raftElectionWonTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "consensuslab",
				Subsystem: "raft",
				Name:      "election_won_total",
				Help:      "Number of elections won by a node.",
			},
			[]string{"node_id"},
		),
		raftElectionLostTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "consensuslab",
				Subsystem: "raft",
				Name:      "election_lost_total",
				Help:      "Number of elections lost/aborted by reason.",
			},
			[]string{"node_id", "reason"},
		),
		raftStorageErrorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "consensuslab",
				Subsystem: "raft",
				Name:      "storage_error_total",
				Help:      "Raft storage persistence errors by operation.",
			},
			[]string{"node_id", "op"},
		),
		raftApplyLag: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "consensuslab",
				Subsystem: "raft",
				Name:      "apply_lag",
				Help:      "Difference between commitIndex and lastApplied on a node.",
			},
			[]string{"node_id"},
		),
		raftIsLeader: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "consensuslab",
				Subsystem: "raft",
				Name:      "is_leader",
				Help:      "1 if node currently believes it is leader, otherwise 0.",
			},
			[]string{"node_id"},
		),
		raftStartToCommitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "consensuslab",
				Subsystem: "raft",
				Name:      "start_to_commit_duration_seconds",
				Help:      "Time from leader accepting a command (StartCommand) to commitIndex covering that entry.",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"node_id"},
		),
		raftCommitToApplyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "consensuslab",
				Subsystem: "raft",
				Name:      "commit_to_apply_duration_seconds",
				Help:      "Time from commitIndex advancing over an entry to that entry being applied.",
				Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1},
			},
			[]string{"node_id"},
		),
	}

	if err := m.register(reg); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Prometheus) register(reg prometheus.Registerer) error {
	if err := registerOrReuseCounterVec(reg, &m.syncStageTransitionTotal); err != nil {
		return fmt.Errorf("register sync stage transition counter: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.syncStageActive); err != nil {
		return fmt.Errorf("register sync stage active gauge: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.syncTargetPromotedTotal); err != nil {
		return fmt.Errorf("register sync target promoted counter: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.syncQuorumCandidateCount); err != nil {
		return fmt.Errorf("register sync quorum candidate count gauge: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.syncTrailerChunkTotal); err != nil {
		return fmt.Errorf("register sync trailer chunk counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.syncTrailerBytesAssembled); err != nil {
		return fmt.Errorf("register sync trailer bytes assembled counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.syncTrailerAuthFailureTotal); err != nil {
		return fmt.Errorf("register sync trailer auth failure counter: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.syncSuperblockWriteDuration); err != nil {
		return fmt.Errorf("register sync superblock write duration histogram: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.syncSuperblockWriteTotal); err != nil {
		return fmt.Errorf("register sync superblock write counter: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.raftAppendEntriesRPCDuration); err != nil {
		return fmt.Errorf("register raft appendentries rpc histogram: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.raftAppendEntriesRejectTotal); err != nil {
		return fmt.Errorf("register raft appendentries reject counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.raftAppendEntriesRPCError); err != nil {
		return fmt.Errorf("register raft appendentries rpc error counter: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.raftInstallSnapshotRPCDur); err != nil {
		return fmt.Errorf("register raft installsnapshot rpc duration histogram: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.raftInstallSnapshotSendBytes); err != nil {
		return fmt.Errorf("register raft installsnapshot bytes histogram: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.raftInstallSnapshotSendTotal); err != nil {
		return fmt.Errorf("register raft installsnapshot counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.raftElectionStartedTotal); err != nil {
		return fmt.Errorf("register raft election started counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.raftElectionWonTotal); err != nil {
		return fmt.Errorf("register raft election won counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.raftElectionLostTotal); err != nil {
		return fmt.Errorf("register raft election lost counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.raftStorageErrorTotal); err != nil {
		return fmt.Errorf("register raft storage error counter: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.raftApplyLag); err != nil {
		return fmt.Errorf("register raft apply lag gauge: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.raftIsLeader); err != nil {
		return fmt.Errorf("register raft is_leader gauge: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.raftStartToCommitDuration); err != nil {
		return fmt.Errorf("register raft start->commit histogram: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.raftCommitToApplyDuration); err != nil {
		return fmt.Errorf("register raft commit->apply histogram: %w", err)
	}
	return nil
}

func registerOrReuseHistogramVec(reg prometheus.Registerer, c **prometheus.HistogramVec) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return fmt.Errorf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

func registerOrReuseCounterVec(reg prometheus.Registerer, c **prometheus.CounterVec) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return fmt.Errorf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

func registerOrReuseGaugeVec(reg prometheus.Registerer, c **prometheus.GaugeVec) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.GaugeVec)
		if !ok {
			return fmt.Errorf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

func (m *Prometheus) IncSyncStageTransition(nodeID, from, to string) {
	m.syncStageTransitionTotal.WithLabelValues(nodeID, from, to).Inc()
}

func (m *Prometheus) SetSyncStageActive(nodeID string, active bool) {
	if active {
		m.syncStageActive.WithLabelValues(nodeID).Set(1)
		return
	}
	m.syncStageActive.WithLabelValues(nodeID).Set(0)
}

func (m *Prometheus) IncSyncTargetPromoted(nodeID string) {
	m.syncTargetPromotedTotal.WithLabelValues(nodeID).Inc()
}

func (m *Prometheus) SetSyncQuorumCandidateCount(nodeID string, n int) {
	if n < 0 {
		n = 0
	}
	m.syncQuorumCandidateCount.WithLabelValues(nodeID).Set(float64(n))
}

func (m *Prometheus) IncSyncTrailerChunk(nodeID, trailer, result string) {
	m.syncTrailerChunkTotal.WithLabelValues(nodeID, trailer, result).Inc()
}

func (m *Prometheus) AddSyncTrailerBytesAssembled(nodeID, trailer string, n int) {
	if n <= 0 {
		return
	}
	m.syncTrailerBytesAssembled.WithLabelValues(nodeID, trailer).Add(float64(n))
}

func (m *Prometheus) IncSyncTrailerAuthFailure(nodeID, trailer string) {
	m.syncTrailerAuthFailureTotal.WithLabelValues(nodeID, trailer).Inc()
}

func (m *Prometheus) ObserveSyncSuperblockWriteDuration(nodeID string, d time.Duration) {
	m.syncSuperblockWriteDuration.WithLabelValues(nodeID).Observe(d.Seconds())
}

func (m *Prometheus) IncSyncSuperblockWrite(nodeID, result string) {
	m.syncSuperblockWriteTotal.WithLabelValues(nodeID, result).Inc()
}

func (m *Prometheus) ObserveRaftAppendEntriesRPCDuration(nodeID, peerID string, heartbeat bool, d time.Duration) {
	m.raftAppendEntriesRPCDuration.WithLabelValues(nodeID, peerID, boolString(heartbeat)).Observe(d.Seconds())
}

func (m *Prometheus) IncRaftAppendEntriesReject(nodeID, peerID string, heartbeat bool) {
	m.raftAppendEntriesRejectTotal.WithLabelValues(nodeID, peerID, boolString(heartbeat)).Inc()
}

func (m *Prometheus) IncRaftAppendEntriesRPCError(nodeID, peerID string, heartbeat bool, kind string) {
	m.raftAppendEntriesRPCError.WithLabelValues(nodeID, peerID, boolString(heartbeat), kind).Inc()
}

func (m *Prometheus) ObserveRaftInstallSnapshotRPCDuration(nodeID, peerID string, d time.Duration) {
	m.raftInstallSnapshotRPCDur.WithLabelValues(nodeID, peerID).Observe(d.Seconds())
}

func (m *Prometheus) ObserveRaftInstallSnapshotSendBytes(nodeID, peerID string, n int) {
	if n < 0 {
		n = 0
	}
	m.raftInstallSnapshotSendBytes.WithLabelValues(nodeID, peerID).Observe(float64(n))
}

func (m *Prometheus) IncRaftInstallSnapshotSend(nodeID, peerID, result string) {
	m.raftInstallSnapshotSendTotal.WithLabelValues(nodeID, peerID, result).Inc()
}

func (m *Prometheus) IncRaftElectionStarted(nodeID string) {
	m.raftElectionStartedTotal.WithLabelValues(nodeID).Inc()
}

func (m *Prometheus) IncRaftElectionWon(nodeID string) {
	m.raftElectionWonTotal.WithLabelValues(nodeID).Inc()
}

func (m *Prometheus) IncRaftElectionLost(nodeID, reason string) {
	m.raftElectionLostTotal.WithLabelValues(nodeID, reason).Inc()
}

func (m *Prometheus) IncRaftStorageError(nodeID, op string) {
	m.raftStorageErrorTotal.WithLabelValues(nodeID, op).Inc()
}

func (m *Prometheus) SetRaftApplyLag(nodeID string, lag int64) {
	if lag < 0 {
		lag = 0
	}
	m.raftApplyLag.WithLabelValues(nodeID).Set(float64(lag))
}

func (m *Prometheus) SetRaftIsLeader(nodeID string, isLeader bool) {
	if isLeader {
		m.raftIsLeader.WithLabelValues(nodeID).Set(1)
		return
	}
	m.raftIsLeader.WithLabelValues(nodeID).Set(0)
}

func (m *Prometheus) ObserveRaftCommitToApplyDuration(nodeID string, d time.Duration) {
	m.raftCommitToApplyDuration.WithLabelValues(nodeID).Observe(d.Seconds())
}

func (m *Prometheus) ObserveRaftStartToCommitDuration(nodeID string, d time.Duration) {
	m.raftStartToCommitDuration.WithLabelValues(nodeID).Observe(d.Seconds())
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
