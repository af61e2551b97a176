package statesync

// TargetQuorum tracks each peer's most recently advertised checkpoint
// candidate and answers "how many peers currently advertise exactly this
// candidate?". Slotting one candidate per replica index keeps a single
// chatty peer from contributing more than one vote.
type TargetQuorum struct {
	slots []*TargetCandidate
}

// NewTargetQuorum returns an empty quorum table sized for replicaCount
// other replicas.
func NewTargetQuorum(replicaCount int) *TargetQuorum {
	return &TargetQuorum{slots: make([]*TargetCandidate, replicaCount)}
}

// Replace records candidate as replicaIndex's latest advertisement.
//
// An empty slot always accepts. Otherwise: a candidate with a smaller op
// than the one stored is a stale advertisement and is rejected; a
// candidate identical in both op and checkpoint id to the one stored is a
// duplicate and is rejected; any other candidate — including one with the
// same op but a different checkpoint id — overwrites the slot. The
// same-op-different-id case is intentional: it signals a peer that has
// diverged or corrected itself, and the newest claim is kept so the
// quorum count reflects current state. Safety is not derived from this
// policy alone; it comes from requiring a full quorum of matching
// (op, id) pairs before a candidate is ever promoted.
func (q *TargetQuorum) Replace(replicaIndex int, candidate TargetCandidate) bool {
	existing := q.slots[replicaIndex]
	if existing == nil {
		q.slots[replicaIndex] = &candidate
		return true
	}
	if candidate.CheckpointOp < existing.CheckpointOp {
		return false
	}
	if candidate.CheckpointOp == existing.CheckpointOp && candidate.CheckpointID == existing.CheckpointID {
		return false
	}
	q.slots[replicaIndex] = &candidate
	return true
}

// Count reports how many slots currently hold exactly candidate.
func (q *TargetQuorum) Count(candidate TargetCandidate) int {
	n := 0
	for _, s := range q.slots {
		if s != nil && s.Equal(candidate) {
			n++
		}
	}
	return n
}

// Len reports the number of replica slots the table was sized for.
func (q *TargetQuorum) Len() int {
	return len(q.slots)
}
