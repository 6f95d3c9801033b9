package stepper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForwardSequenceMovesHalfTrackPerStep(t *testing.T) {
	var h HeadTracker
	seq := []uint8{0b0001, 0b0010, 0b0100, 0b1000, 0b0001, 0b0010, 0b0100, 0b1000}
	want := []uint8{0, 2, 4, 6, 8, 10, 12, 14}
	for i, phase := range seq {
		h.Step(phase)
		require.Equal(t, want[i], h.PhysTrack(), "step %d", i)
	}
	require.Equal(t, uint8(3), h.Track())
}

func TestReverseSequenceMovesBackHalfTrackPerStep(t *testing.T) {
	h := HeadTracker{physTrack: 8, lastPhase: 0b0001}
	seq := []uint8{0b1000, 0b0100, 0b0010, 0b0001}
	want := []uint8{6, 4, 2, 0}
	for i, phase := range seq {
		h.Step(phase)
		require.Equal(t, want[i], h.PhysTrack(), "step %d", i)
	}
}

func TestRepeatedPhaseIsIgnored(t *testing.T) {
	var h HeadTracker
	h.Step(0b0001)
	h.Step(0b0010)
	require.Equal(t, uint8(2), h.PhysTrack())
	h.Step(0b0010) // same phase again: no-op
	require.Equal(t, uint8(2), h.PhysTrack())
}

func TestSkippedPhaseIsSpuriousAndIgnored(t *testing.T) {
	var h HeadTracker
	h.Step(0b0001)
	h.Step(0b0100) // skips phase 1: opposite phase, spurious
	require.Equal(t, uint8(0), h.PhysTrack())
}

func TestMultiBitPhaseIsIgnored(t *testing.T) {
	var h HeadTracker
	h.Step(0b0001)
	h.Step(0b0011) // two phases asserted at once: no single phase, ignored
	require.Equal(t, uint8(0), h.PhysTrack())
}

func TestClampsToMaxTrack(t *testing.T) {
	var h HeadTracker
	seq := []uint8{0b0001, 0b0010, 0b0100, 0b1000}
	// The forward cycle advances the head by 2 quarter-tracks per step
	// after the first (which only establishes lastPhase). The first 70
	// steps reach 2*69 = 138, and the 71st pushes past the 139 ceiling.
	for i := 0; i < 71; i++ {
		h.Step(seq[i%len(seq)])
	}
	require.Equal(t, uint8(139), h.PhysTrack())
}
