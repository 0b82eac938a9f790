package tools

import "time"

// FrameSamples is the number of interleaved PCM samples covering duration.
func FrameSamples(duration time.Duration, rate, channels int) int {
	return int(duration.Seconds() * float64(channels) * float64(rate))
}

// FrameBytes is FrameSamples in bytes for 16-bit samples.
func FrameBytes(duration time.Duration, rate, channels int) int {
	return FrameSamples(duration, rate, channels) * 2
}
