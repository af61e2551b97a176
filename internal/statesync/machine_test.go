package statesync

import "testing"

func allStageTags() []StageTag {
	return []StageTag{
		StageNotSyncing,
		StageCancellingCommit,
		StageCancellingGrid,
		StageRequestingTarget,
		StageRequestTrailers,
		StageUpdatingSuperblock,
	}
}

func TestValidTransition_Closure(t *testing.T) {
	allowed := map[StageTag]map[StageTag]bool{
		StageNotSyncing: {
			StageCancellingCommit: true,
			StageCancellingGrid:   true,
			StageRequestingTarget: true,
		},
		StageCancellingCommit: {
			StageCancellingGrid: true,
		},
		StageCancellingGrid: {
			StageRequestingTarget: true,
		},
		StageRequestingTarget: {
			StageRequestingTarget: true,
			StageRequestTrailers:  true,
		},
		StageRequestTrailers: {
			StageRequestTrailers:    true,
			StageUpdatingSuperblock: true,
		},
		StageUpdatingSuperblock: {
			StageRequestTrailers: true,
			StageNotSyncing:      true,
		},
	}

	for _, from := range allStageTags() {
		for _, to := range allStageTags() {
			want := allowed[from][to]
			got := validTransition(from, to)
			if got != want {
				t.Errorf("validTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestMachine_TransitionRejectsIllegalEdge(t *testing.T) {
	m := NewMachine()
	if err := m.Transition(RequestTrailers{}); err != ErrInvalidTransition {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestMachine_StageWalk(t *testing.T) {
	m := NewMachine()
	target := Target{CheckpointID: Checksum128{Hi: 1}, CheckpointOp: 10}
	targetPrime := Target{CheckpointID: Checksum128{Hi: 2}, CheckpointOp: 20}

	steps := []Stage{
		CancellingCommit{},
		CancellingGrid{},
		RequestingTarget{},
		RequestTrailers{Target: target},
		RequestTrailers{Target: targetPrime},
		UpdatingSuperblock{Target: targetPrime},
		NotSyncing{},
	}

	for i, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("step %d (-> %s): unexpected error: %v", i, s.Tag(), err)
		}
	}

	// From not_syncing, every edge except the three legal ones is rejected.
	for _, to := range []StageTag{StageNotSyncing, StageRequestTrailers, StageUpdatingSuperblock} {
		if err := m.Transition(stageForTag(to)); err != ErrInvalidTransition {
			t.Errorf("Transition(%s) from not_syncing: err = %v, want ErrInvalidTransition", to, err)
		}
	}
}

func stageForTag(tag StageTag) Stage {
	switch tag {
	case StageNotSyncing:
		return NotSyncing{}
	case StageCancellingCommit:
		return CancellingCommit{}
	case StageCancellingGrid:
		return CancellingGrid{}
	case StageRequestingTarget:
		return RequestingTarget{}
	case StageRequestTrailers:
		return RequestTrailers{}
	case StageUpdatingSuperblock:
		return UpdatingSuperblock{}
	default:
		panic("unknown stage tag")
	}
}

func TestTargetOf_Visibility(t *testing.T) {
	target := Target{CheckpointID: Checksum128{Hi: 1}, CheckpointOp: 10}

	cases := []struct {
		stage    Stage
		wantSome bool
	}{
		{NotSyncing{}, false},
		{CancellingCommit{}, false},
		{CancellingGrid{}, false},
		{RequestingTarget{}, false},
		{RequestTrailers{Target: target}, true},
		{UpdatingSuperblock{Target: target}, true},
	}

	for _, c := range cases {
		got, ok := TargetOf(c.stage)
		if ok != c.wantSome {
			t.Errorf("TargetOf(%s): ok = %v, want %v", c.stage.Tag(), ok, c.wantSome)
		}
		if ok && got != target {
			t.Errorf("TargetOf(%s) = %v, want %v", c.stage.Tag(), got, target)
		}
	}
}
