package core

import (
	"math/big"
	"testing"
)

func TestInactivityTrackerInactiveBeforeActivationThreshold(t *testing.T) {
	tr := NewInactivityTracker(4, 1, 1, map[uint64]uint64{1: 1000})
	for i := 0; i < 4; i++ {
		applied := tr.Tick([]uint64{1})
		if len(applied) != 0 {
			t.Fatalf("tick %d: expected no leak before the activation threshold, got %v", i, applied)
		}
	}
	if tr.Active() {
		t.Fatal("expected the leak to be inactive at exactly the activation threshold")
	}
}

func TestInactivityTrackerLeaksQuadratically(t *testing.T) {
	tr := NewInactivityTracker(2, 0, 1, map[uint64]uint64{1: 1000})
	tr.Tick(nil) // epoch 1: below threshold
	tr.Tick(nil) // epoch 2: at threshold

	first := tr.Tick([]uint64{1})[1]  // epoch 3: epochs_inactive=1, penalty=1
	second := tr.Tick([]uint64{1})[1] // epoch 4: epochs_inactive=2, penalty=4

	if first == nil || first.Sign() <= 0 {
		t.Fatalf("expected a positive leak once past the activation threshold, got %v", first)
	}
	if second.Cmp(first) <= 0 {
		t.Fatalf("expected the leak to grow quadratically (second=%s must exceed first=%s)", second, first)
	}
	if got := tr.EpochsInactive(1); got != 2 {
		t.Fatalf("expected epochs_inactive=2 after two consecutive absences past the threshold, got %d", got)
	}
	if !tr.Active() {
		t.Fatal("expected the tracker to report active once leaking")
	}
}

func TestInactivityTrackerParticipationResetsStreak(t *testing.T) {
	tr := NewInactivityTracker(0, 0, 1, map[uint64]uint64{1: 1000})
	tr.Tick([]uint64{1})
	if got := tr.EpochsInactive(1); got != 1 {
		t.Fatalf("expected epochs_inactive=1 after one absence, got %d", got)
	}
	tr.Tick(nil) // validator 1 participates this epoch
	if got := tr.EpochsInactive(1); got != 0 {
		t.Fatalf("expected participation to reset epochs_inactive to 0, got %d", got)
	}
}

func TestInactivityTrackerBasePenaltyScalesWithStake(t *testing.T) {
	tr := NewInactivityTracker(0, 100, 0, map[uint64]uint64{1: 1000, 2: 2000})
	applied := tr.Tick([]uint64{1, 2})
	if applied[2].Cmp(applied[1]) <= 0 {
		t.Fatalf("expected validator 2's double stake to leak a larger base penalty, got v1=%s v2=%s", applied[1], applied[2])
	}
}

func TestInactivityTrackerResetClearsState(t *testing.T) {
	tr := NewInactivityTracker(1, 0, 1, map[uint64]uint64{7: 500})
	tr.Tick(nil)
	tr.Tick([]uint64{7})
	if tr.LeakedStake(7).Sign() == 0 {
		t.Fatal("expected a nonzero leak before reset")
	}

	tr.Reset()
	if tr.LeakedStake(7).Sign() != 0 {
		t.Fatal("expected Reset to clear cumulative leak state")
	}
	if tr.Active() {
		t.Fatal("expected Reset to clear epochs-since-finality")
	}
}

func TestInactivityTrackerSaturatesAtU128Max(t *testing.T) {
	hugeStake := ^uint64(0)
	hugeBps := ^uint64(0)
	tr := NewInactivityTracker(0, hugeBps, 0, map[uint64]uint64{1: hugeStake})
	tr.Tick([]uint64{1})
	tr.Tick([]uint64{1})
	tr.Tick([]uint64{1})
	if got := tr.LeakedStake(1); got.Cmp(maxLeakUnits) != 0 {
		t.Fatalf("expected cumulative leak to saturate at the u128 max, got %s", got.String())
	}
}

func TestInactivityTrackerPenaltyNeverNegative(t *testing.T) {
	tr := NewInactivityTracker(0, 1, 1, map[uint64]uint64{1: 1})
	applied := tr.Tick([]uint64{1})
	if applied[1].Cmp(new(big.Int)) < 0 {
		t.Fatal("penalty must be non-negative")
	}
}
