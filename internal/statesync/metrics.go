package statesync

import "time"

// Metrics is the observability sink a Replica reports through. Satisfied
// by an adapter over internal/observability/metrics.Prometheus; a noop
// implementation is used when none is supplied.
type Metrics interface {
	IncSyncStageTransition(from, to string)
	SetSyncStageActive(stage string, active bool)
	IncSyncTargetPromoted()
	SetSyncQuorumCandidateCount(op uint64, n int)
	IncSyncTrailerChunk(kind string, result string)
	AddSyncTrailerBytesAssembled(kind string, n int)
	IncSyncTrailerAuthFailure(kind string)
	ObserveSyncSuperblockWriteDuration(d time.Duration)
	IncSyncSuperblockWrite(result string)
}

type noopMetrics struct{}

func (noopMetrics) IncSyncStageTransition(string, string)            {}
func (noopMetrics) SetSyncStageActive(string, bool)                  {}
func (noopMetrics) IncSyncTargetPromoted()                           {}
func (noopMetrics) SetSyncQuorumCandidateCount(uint64, int)          {}
func (noopMetrics) IncSyncTrailerChunk(string, string)               {}
func (noopMetrics) AddSyncTrailerBytesAssembled(string, int)         {}
func (noopMetrics) IncSyncTrailerAuthFailure(string)                 {}
func (noopMetrics) ObserveSyncSuperblockWriteDuration(time.Duration) {}
func (noopMetrics) IncSyncSuperblockWrite(string)                    {}
