package board

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimSignalRoundTrip(t *testing.T) {
	s := NewSim(nil)

	s.SetPhases(0b0101)
	require.Equal(t, uint8(0b0101), s.Phases())

	s.SetDriveEnabled(true)
	require.True(t, s.DriveEnabled())

	require.True(t, s.CardPresent())
	s.Eject()
	require.False(t, s.CardPresent())
	s.Reinsert()
	require.True(t, s.CardPresent())

	s.SetLED(true)
	require.True(t, s.LED())
	s.SetWriteProtect(true)
	require.True(t, s.WriteProtect())
}

func TestSimWriteByteQueueFIFO(t *testing.T) {
	s := NewSim(nil)

	_, ok := s.ReadWriteByte()
	require.False(t, ok, "no bytes queued yet")

	s.WriteByte(0xD5)
	s.WriteByte(0xAA)
	require.True(t, s.WriteRequested())

	b, ok := s.ReadWriteByte()
	require.True(t, ok)
	require.Equal(t, byte(0xD5), b)

	b, ok = s.ReadWriteByte()
	require.True(t, ok)
	require.Equal(t, byte(0xAA), b)

	_, ok = s.ReadWriteByte()
	require.False(t, ok)

	s.EndWrite()
	require.False(t, s.WriteRequested())
}

func TestSimPulseRecording(t *testing.T) {
	s := NewSim(nil)
	s.PulseRead(true)
	s.PulseRead(false)
	s.PulseRead(true)
	require.Equal(t, []bool{true, false, true}, s.Pulses())
}
