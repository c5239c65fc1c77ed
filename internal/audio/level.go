package audio

import (
	"encoding/binary"
	"math"
)

// SilenceFloorDB is the level reported for an empty or all-zero frame.
const SilenceFloorDB = -100.0

// LevelDB computes the approximate level of a PCM16LE frame in dBFS.
// It uses the mean absolute sample magnitude, which is monotonic with
// loudness; 0 dBFS corresponds to a full-scale signal.
func LevelDB(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return SilenceFloorDB
	}

	var sum float64
	for i := 0; i < samples; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		v := float64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}

	mean := sum / float64(samples)
	if mean <= 0 {
		return SilenceFloorDB
	}

	db := 20 * math.Log10(mean/math.MaxInt16)
	if db < SilenceFloorDB {
		return SilenceFloorDB
	}
	return db
}
