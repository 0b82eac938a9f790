package tools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrameSamples(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		rate     int
		channels int
		expected int
	}{
		{
			name:     "stereo at 48kHz for 120ms",
			duration: 120 * time.Millisecond,
			rate:     48000,
			channels: 2,
			expected: 11520,
		},
		{
			name:     "mono at 48kHz for 20ms",
			duration: 20 * time.Millisecond,
			rate:     48000,
			channels: 1,
			expected: 960,
		},
		{
			name:     "zero duration",
			duration: 0,
			rate:     48000,
			channels: 2,
			expected: 0,
		},
		{
			name:     "zero channels",
			duration: time.Second,
			rate:     48000,
			channels: 0,
			expected: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FrameSamples(tt.duration, tt.rate, tt.channels))
			assert.Equal(t, tt.expected*2, FrameBytes(tt.duration, tt.rate, tt.channels))
		})
	}
}

func TestAudioBufferDropsOldest(t *testing.T) {
	ab := NewAudioBuffer(4)
	assert.Equal(t, 0, ab.Write([]byte{1, 2, 3, 4}))
	assert.Equal(t, 2, ab.Write([]byte{5, 6}), "writing past capacity drops the oldest bytes")

	out := make([]byte, 8)
	n, err := ab.Read(out)
	assert.NoError(t, err)
	assert.Equal(t, []byte{3, 4, 5, 6}, out[:n])
}
