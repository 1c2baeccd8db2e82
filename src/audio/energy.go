package audio

import (
	"encoding/binary"
	"math"
)

// RMS returns the root-mean-square energy of a frame of little-endian
// 16-bit PCM samples. A trailing odd byte is ignored. Returns 0 for an
// empty frame.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n*2; i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(n))
}
