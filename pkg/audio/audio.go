// Package audio defines the PCM frame format shared by the whole playback
// pipeline and small helpers for working with interleaved signed 16-bit
// little-endian samples.
//
// Every component — the cache, the transcoder, the mixer and the Discord
// voice adapter — speaks the same fixed format described by [DefaultFormat].
// The mixer emits one [Format.FrameBytes]-sized frame per tick; the voice
// adapter consumes frames at the same cadence.
//
// This package lives under pkg/ because platform adapters outside this
// repository are expected to consume [FrameSource].
package audio

import "time"

// Default deployment format: what Discord voice expects.
const (
	// DefaultSampleRate is the sample rate in Hz.
	DefaultSampleRate = 48000

	// DefaultChannels is the channel count (stereo).
	DefaultChannels = 2

	// FrameDuration is the wall-clock length of one mixer frame.
	FrameDuration = 20 * time.Millisecond

	// BytesPerSample is the width of one sample (16-bit PCM).
	BytesPerSample = 2
)

// Clipping bounds for 16-bit signed PCM.
const (
	MinSample = -32768
	MaxSample = 32767
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat returns the deployment-wide PCM format.
func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, Channels: DefaultChannels}
}

// FrameSamples returns the number of int16 samples in one frame across all
// channels (sampleRate × channels × frameDuration).
func (f Format) FrameSamples() int {
	return int(int64(f.SampleRate) * int64(f.Channels) * int64(FrameDuration) / int64(time.Second))
}

// FrameBytes returns the byte length of one frame.
func (f Format) FrameBytes() int {
	return f.FrameSamples() * BytesPerSample
}

// FrameSource is a pull-based producer of fixed-size PCM frames. Read is
// called once per [FrameDuration] by the platform's audio sink and must
// never block on I/O. A nil or all-zero return means silence for that tick.
type FrameSource interface {
	Read() []byte
}
