package audio

import (
	"encoding/binary"
	"fmt"
)

// BytesToSamples decodes little-endian interleaved 16-bit PCM into int16
// samples. A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
	}
	return samples
}

// SamplesToBytes encodes int16 samples as little-endian interleaved 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*BytesPerSample:], uint16(s))
	}
	return data
}

// Clip clamps an accumulated 32-bit sample sum into the representable
// 16-bit range. Sums are clipped, never wrapped.
func Clip(v int32) int16 {
	if v > MaxSample {
		return MaxSample
	}
	if v < MinSample {
		return MinSample
	}
	return int16(v)
}

// FormatDuration renders a duration in whole seconds as MM:SS, or HH:MM:SS
// once it reaches an hour.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
