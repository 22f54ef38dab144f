package discord

import (
	"fmt"

	"github.com/wildjames/BalaamBot/pkg/audio"
	"layeh.com/gopus"
)

// Discord voice uses 48 kHz stereo Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960

	// opusFrameBytes is the exact PCM input size for one Opus frame:
	// 960 samples/channel × 2 channels × 2 bytes/sample.
	opusFrameBytes = opusFrameSize * opusChannels * 2
)

// opusEncoder wraps a gopus Opus encoder for the outgoing voice stream.
type opusEncoder struct {
	enc *gopus.Encoder
}

// newOpusEncoder creates an Opus encoder configured for Discord audio.
func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode encodes one frame of interleaved little-endian PCM into an Opus
// packet. pcm must be exactly opusFrameBytes long.
func (e *opusEncoder) encode(pcm []byte) ([]byte, error) {
	if len(pcm) != opusFrameBytes {
		return nil, fmt.Errorf("discord: opus encode: frame is %d bytes, want %d", len(pcm), opusFrameBytes)
	}
	pkt, err := e.enc.Encode(audio.BytesToSamples(pcm), opusFrameSize, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return pkt, nil
}
