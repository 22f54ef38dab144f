// Package mixer provides the per-session real-time PCM mixer. It holds the
// active music tracks and sound effects for one voice session and produces
// one fixed-size frame per [audio.FrameDuration] tick by summing all active
// tracks into a 32-bit accumulator and clipping the result.
//
// All exported methods are safe for concurrent use. [Mixer.Read] and every
// mutating operation serialise on the same lock; critical sections contain
// no I/O so Read always returns well within the tick interval.
package mixer

import (
	"math"

	"github.com/google/uuid"
	"github.com/wildjames/BalaamBot/pkg/audio"
)

// Track is one in-flight audio item owned by a single [Mixer]. The zero
// value is not usable; tracks are created by the enqueue methods.
type Track struct {
	id   uuid.UUID
	name string

	samples []int16
	pos     int // next unread sample index; 0 ≤ pos ≤ len(samples)

	// Optional hooks. beforePlay fires once on the tick that first reads the
	// track, afterPlay fires exactly once when pos reaches the end (or on
	// skip). Hooks run under the mixer lock and must not call back into the
	// mixer or block; post to a channel instead.
	beforePlay func()
	afterPlay  func()

	started  bool
	finished bool

	// norm is the per-sample gain applied during mixing. 1 when
	// normalisation is disabled or could not be computed.
	norm float64
}

// ID returns the track's unique identifier.
func (t *Track) ID() uuid.UUID { return t.id }

// Name returns the human-readable label the track was enqueued with.
func (t *Track) Name() string { return t.name }

// NormApproach selects how the per-track normalisation gain is derived.
type NormApproach string

const (
	// NormMax scales so the loudest sample lands at the target volume.
	NormMax NormApproach = "max"

	// NormStdDev scales so the three-sigma amplitude lands at the target
	// volume. Less sensitive to single loud transients than [NormMax].
	NormStdDev NormApproach = "std_dev"
)

// targetVolume is the fraction of full scale normalised tracks aim for.
// The goal is only to keep quiet and loud sources comparable, not to
// improve perceived quality.
const targetVolume = 0.997

// normFactor computes the gain that brings samples to the target volume
// under the given approach. Returns 1 for empty or silent input.
func normFactor(samples []int16, approach NormApproach) float64 {
	if len(samples) == 0 {
		return 1
	}

	var ref float64
	switch approach {
	case NormMax:
		var peak int32
		for _, s := range samples {
			a := int32(s)
			if a < 0 {
				a = -a
			}
			if a > peak {
				peak = a
			}
		}
		ref = float64(peak)
	case NormStdDev:
		var sum float64
		for _, s := range samples {
			sum += float64(s)
		}
		mean := sum / float64(len(samples))
		var sq float64
		for _, s := range samples {
			d := float64(s) - mean
			sq += d * d
		}
		ref = 3 * math.Sqrt(sq/float64(len(samples)))
	default:
		return 1
	}

	if ref == 0 {
		return 1
	}
	return targetVolume * float64(audio.MaxSample) / ref
}
