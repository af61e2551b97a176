package statesync

// Machine owns the current Stage and enforces the transition graph: every
// write goes through Transition, which rejects any edge not present in
// validTransition.
type Machine struct {
	current Stage
}

// NewMachine returns a Machine starting in NotSyncing.
func NewMachine() *Machine {
	return &Machine{current: NotSyncing{}}
}

// Current returns the machine's current Stage.
func (m *Machine) Current() Stage {
	return m.current
}

// Transition moves the machine to to, returning ErrInvalidTransition if
// the edge from the current stage to to's tag is not in the graph.
func (m *Machine) Transition(to Stage) error {
	if !validTransition(m.current.Tag(), to.Tag()) {
		return ErrInvalidTransition
	}
	m.current = to
	return nil
}

// Reset forces the machine into to without checking validTransition.
//
// This exists for exactly one caller: aborting a sync attempt on chunk
// authentication failure. §7 classifies that as a recoverable condition
// that sends the replica back to requesting_target, but requesting_target
// has no inbound edge from request_trailers in the transition graph — the
// graph describes the happy-path protocol, not crash recovery. Reset is
// the deliberate escape hatch for that one exceptional path; it must
// never be used for ordinary stage advancement, which always goes
// through Transition.
func (m *Machine) Reset(to Stage) {
	m.current = to
}

// validTransition is a total function over tag pairs, matching the exact
// graph:
//
//	not_syncing         -> cancelling_commit | cancelling_grid | requesting_target
//	cancelling_commit   -> cancelling_grid
//	cancelling_grid     -> requesting_target
//	requesting_target   -> requesting_target | request_trailers
//	request_trailers    -> request_trailers | updating_superblock
//	updating_superblock -> request_trailers | not_syncing
func validTransition(from, to StageTag) bool {
	switch from {
	case StageNotSyncing:
		switch to {
		case StageCancellingCommit, StageCancellingGrid, StageRequestingTarget:
			return true
		}
	case StageCancellingCommit:
		return to == StageCancellingGrid
	case StageCancellingGrid:
		return to == StageRequestingTarget
	case StageRequestingTarget:
		switch to {
		case StageRequestingTarget, StageRequestTrailers:
			return true
		}
	case StageRequestTrailers:
		switch to {
		case StageRequestTrailers, StageUpdatingSuperblock:
			return true
		}
	case StageUpdatingSuperblock:
		switch to {
		case StageRequestTrailers, StageNotSyncing:
			return true
		}
	}
	return false
}
