package app

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/i-melnichenko/consensus-lab/internal/observability/metrics"
	"github.com/i-melnichenko/consensus-lab/internal/statesync"
)

var _ statesync.Metrics = syncMetrics{}

func TestSyncMetrics_BindsNodeIDToUnderlyingCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	prom, err := metrics.NewPrometheus(reg)
	if err != nil {
		t.Fatalf("NewPrometheus: %v", err)
	}

	sm := syncMetrics{nodeID: "node-7", prom: prom}
	sm.IncSyncStageTransition("requesting_target", "request_trailers")
	sm.SetSyncQuorumCandidateCount(0, 3)
	sm.IncSyncTrailerChunk("manifest", "accepted")
	sm.ObserveSyncSuperblockWriteDuration(10 * time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	found := map[string]bool{}
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			if !hasLabel(m, "node_id", "node-7") {
				continue
			}
			found[fam.GetName()] = true
		}
	}

	for _, name := range []string{
		"consensuslab_sync_stage_transition_total",
		"consensuslab_sync_quorum_candidate_count",
		"consensuslab_sync_trailer_chunk_total",
		"consensuslab_sync_superblock_write_duration_seconds",
	} {
		if !found[name] {
			t.Errorf("metric %q not recorded with node_id=node-7; recorded: %v", name, found)
		}
	}
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
